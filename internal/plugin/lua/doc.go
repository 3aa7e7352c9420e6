// Package lua runs vtlock plugins written in Lua.
//
// A plugin is a single file, or the main file of a directory plugin. It
// declares its relations in global string tables and its hooks as global
// functions:
//
//	after = { "vt" }
//	requires = { "vt" }
//
//	function lock()
//	    vtlock.log("console locked")
//	end
//
//	function authenticate(user)
//	    return false, "not today"
//	end
//
// Only the hooks the file defines are bound. authenticate returns true to
// accept; false or nil, optionally followed by a message, denies. A Lua
// error in any hook fails that hook.
//
// # Sandbox
//
// States open only the base, table, string and math libraries and remove
// dofile, loadfile, load and loadstring. Every call runs under a context with
// the state's execution timeout.
package lua

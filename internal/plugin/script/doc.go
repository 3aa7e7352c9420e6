// Package script runs external executables as plugins.
//
// A script plugin is any executable file without an extension in a plugin
// directory. It is run once as
//
//	script deps
//
// and must print its relations, one per line:
//
//	before: nosysrq
//	requires: vt, all
//
// On load the script is started again as "script hooks" with its standard
// input on a pipe and its output discarded. Each hook is delivered as the
// hook name followed by a newline. Closing the pipe tells the script to
// exit; a script that does not is terminated.
//
// Scripts cannot authenticate.
package script

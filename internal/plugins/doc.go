// Package plugins holds the plugins compiled into vtlock.
//
//	vt       take over console switching while locked
//	all      refuse every console switch (requires vt)
//	nosysrq  disable the SysRq key while locked (requires all)
//	auth     authenticate against the system password database
//
// Register adds them to a plugin.Registry.
package plugins

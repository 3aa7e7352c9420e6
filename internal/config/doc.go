// Package config loads vtlock's configuration.
//
// Settings are read in three layers, each overriding the one before:
//
//  1. built-in defaults (Default)
//  2. a TOML or YAML file, chosen by extension (.toml, .yaml, .yml)
//  3. VTLOCK_* environment variables
//
// An example file:
//
//	plugins = ["vt", "all", "auth"]
//	plugin_dirs = ["/etc/vtlock/plugins"]
//	lock_all = true
//	auth_timeout = "30s"
//	prompt = "This console is locked."
//	log_level = "warn"
//
// Environment variables use the upper-cased key: VTLOCK_LOCK_ALL=1,
// VTLOCK_PLUGINS=vt,all,auth. Lists are comma separated.
package config

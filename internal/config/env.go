package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "VTLOCK_"

// envSetters apply one environment variable, keyed by the part after
// EnvPrefix.
var envSetters = map[string]func(c *Config, v string) error{
	"PLUGINS":        func(c *Config, v string) error { c.Plugins = splitList(v); return nil },
	"PLUGIN_DIRS":    func(c *Config, v string) error { c.PluginDirs = splitList(v); return nil },
	"LOCK_ALL":       func(c *Config, v string) (err error) { c.LockAll, err = parseBool(v); return err },
	"AUTH_TIMEOUT":   func(c *Config, v string) error { return c.AuthTimeout.UnmarshalText([]byte(v)) },
	"PLUGIN_TIMEOUT": func(c *Config, v string) error { return c.PluginTimeout.UnmarshalText([]byte(v)) },
	"PROMPT":         func(c *Config, v string) error { c.Prompt = v; return nil },
	"USER":           func(c *Config, v string) error { c.User = v; return nil },
	"CONSOLE":        func(c *Config, v string) error { c.Console = v; return nil },
	"SHADOW_PATH":    func(c *Config, v string) error { c.ShadowPath = v; return nil },
	"SYSRQ_PATH":     func(c *Config, v string) error { c.SysrqPath = v; return nil },
	"LOG_LEVEL":      func(c *Config, v string) error { c.LogLevel = v; return nil },
}

// EnvVars lists the recognised environment variables.
func EnvVars() []string {
	names := make([]string, 0, len(envSetters))
	for k := range envSetters {
		names = append(names, EnvPrefix+k)
	}
	sort.Strings(names)
	return names
}

// applyEnv applies every set VTLOCK_* variable. Empty string values are
// treated as set.
func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for key, set := range envSetters {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		if err := set(c, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		}
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(parts) == 0 {
		return nil
	}
	return parts
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

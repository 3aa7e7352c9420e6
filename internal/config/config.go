package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/vtlock/internal/logging"
	"github.com/dshills/vtlock/internal/plugin"
)

// Config holds every vtlock setting.
type Config struct {
	// Plugins are loaded in this order before dependency resolution.
	Plugins []string `toml:"plugins" yaml:"plugins"`

	// PluginDirs are searched for Lua and script plugins. Empty means
	// plugin.DefaultPluginPaths.
	PluginDirs []string `toml:"plugin_dirs" yaml:"plugin_dirs"`

	// LockAll refuses every console switch, not just the ones away from
	// the locked console. Same as loading the "all" plugin.
	LockAll bool `toml:"lock_all" yaml:"lock_all"`

	// AuthTimeout bounds each authentication attempt. Zero waits forever.
	AuthTimeout Duration `toml:"auth_timeout" yaml:"auth_timeout"`

	// PluginTimeout bounds each call into a Lua plugin.
	PluginTimeout Duration `toml:"plugin_timeout" yaml:"plugin_timeout"`

	// Prompt is shown above the password prompt.
	Prompt string `toml:"prompt" yaml:"prompt"`

	// User to authenticate. Empty means the user running vtlock.
	User string `toml:"user" yaml:"user"`

	// Console device. Empty means /dev/tty.
	Console string `toml:"console" yaml:"console"`

	// ShadowPath is read by the authentication helper.
	ShadowPath string `toml:"shadow_path" yaml:"shadow_path"`

	// SysrqPath is written by the nosysrq plugin.
	SysrqPath string `toml:"sysrq_path" yaml:"sysrq_path"`

	LogLevel string `toml:"log_level" yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Plugins:       []string{"vt", "auth"},
		AuthTimeout:   Duration(30 * time.Second),
		PluginTimeout: Duration(5 * time.Second),
		LogLevel:      "warn",
	}
}

// DefaultPaths are tried in order when no file is given.
func DefaultPaths() []string {
	var paths []string
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths,
			filepath.Join(dir, "vtlock", "config.toml"),
			filepath.Join(dir, "vtlock", "config.yaml"),
		)
	}
	return append(paths, "/etc/vtlock/config.toml", "/etc/vtlock/config.yaml")
}

// Load builds the configuration. When path is empty the first existing file
// of DefaultPaths is used, and none existing is fine. An explicit path must
// exist.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		for _, p := range DefaultPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks every setting.
func (c Config) Validate() error {
	var errs []error
	for _, name := range c.Plugins {
		if !plugin.ValidName(name) {
			errs = append(errs, &ValidationError{Key: "plugins", Message: "invalid plugin name", Value: name})
		}
	}
	if c.AuthTimeout < 0 {
		errs = append(errs, &ValidationError{Key: "auth_timeout", Message: "must not be negative", Value: c.AuthTimeout})
	}
	if c.PluginTimeout < 0 {
		errs = append(errs, &ValidationError{Key: "plugin_timeout", Message: "must not be negative", Value: c.PluginTimeout})
	}
	if c.LogLevel != "" && !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, &ValidationError{Key: "log_level", Message: "unknown level", Value: c.LogLevel})
	}
	return errors.Join(errs...)
}

// HasPlugin reports whether name is configured.
func (c Config) HasPlugin(name string) bool {
	for _, p := range c.Plugins {
		if p == name {
			return true
		}
	}
	return false
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

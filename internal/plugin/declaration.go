package plugin

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Declaration is what a plugin states about itself: its name and its
// relationships to other plugins.
type Declaration struct {
	// Name identifies the plugin. It is the name plugins are loaded by.
	Name string `json:"name"`

	// Before lists plugins whose hooks must run after this one's.
	Before []string `json:"before,omitempty"`

	// After lists plugins whose hooks must run before this one's.
	After []string `json:"after,omitempty"`

	// Requires lists plugins that must be loaded along with this one.
	Requires []string `json:"requires,omitempty"`

	// Conflicts lists plugins that must not be loaded along with this one.
	Conflicts []string `json:"conflicts,omitempty"`
}

// Declaration validation errors.
var (
	ErrInvalidName      = errors.New("invalid plugin name")
	ErrSelfReference    = errors.New("plugin refers to itself")
	ErrInvalidDirective = errors.New("invalid declaration directive")
)

// namePattern validates plugin names: lowercase alphanumeric, dashes,
// underscores and dots, starting with a letter or digit.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ValidName reports whether name can name a plugin.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Validate checks the name and every referenced name.
func (d Declaration) Validate() error {
	if !ValidName(d.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, d.Name)
	}
	for _, list := range [][]string{d.Before, d.After, d.Requires, d.Conflicts} {
		for _, ref := range list {
			if ref == d.Name {
				return fmt.Errorf("%w: %s", ErrSelfReference, d.Name)
			}
			if !ValidName(ref) {
				return fmt.Errorf("%w: %q referenced by %s", ErrInvalidName, ref, d.Name)
			}
		}
	}
	return nil
}

// String returns a one-line summary.
func (d Declaration) String() string {
	var b strings.Builder
	b.WriteString(d.Name)
	for _, f := range []struct {
		key  string
		vals []string
	}{
		{"before", d.Before},
		{"after", d.After},
		{"requires", d.Requires},
		{"conflicts", d.Conflicts},
	} {
		if len(f.vals) > 0 {
			fmt.Fprintf(&b, " %s=%s", f.key, strings.Join(f.vals, ","))
		}
	}
	return b.String()
}

// ParseDeclaration reads dependency directives, one per line:
//
//	before: vt nosysrq
//	after: all
//	requires: all
//	conflicts: other
//
// Names are separated by spaces or commas. Blank lines and lines starting
// with '#' are skipped. A directive may repeat; its names accumulate.
func ParseDeclaration(name string, r io.Reader) (Declaration, error) {
	d := Declaration{Name: name}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, ":")
		if !ok {
			return Declaration{}, fmt.Errorf("%w: line %d: %q", ErrInvalidDirective, line, text)
		}
		names := strings.FieldsFunc(value, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "before":
			d.Before = append(d.Before, names...)
		case "after":
			d.After = append(d.After, names...)
		case "requires":
			d.Requires = append(d.Requires, names...)
		case "conflicts":
			d.Conflicts = append(d.Conflicts, names...)
		default:
			return Declaration{}, fmt.Errorf("%w: line %d: unknown key %q", ErrInvalidDirective, line, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return Declaration{}, fmt.Errorf("read declaration: %w", err)
	}
	return d, d.Validate()
}

// Manifest describes a directory plugin. It lives in plugin.json next to the
// plugin's entry point.
type Manifest struct {
	Declaration

	// Main is the entry point relative to the directory.
	Main string `json:"main,omitempty"`

	dir string
}

// ManifestFile is the manifest's file name inside a plugin directory.
const ManifestFile = "plugin.json"

// LoadManifest reads and validates dir/plugin.json. A manifest without a
// name takes the directory's name. A directory without a manifest but with
// an init.lua gets a minimal one.
func LoadManifest(dir string) (*Manifest, error) {
	m := Manifest{dir: dir}
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if _, statErr := os.Stat(filepath.Join(dir, "init.lua")); statErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrNoEntryPoint, dir)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
	}
	if m.Name == "" {
		m.Name = filepath.Base(dir)
	}
	if m.Main == "" {
		m.Main = "init.lua"
	}
	if filepath.IsAbs(m.Main) || strings.Contains(m.Main, "..") {
		return nil, fmt.Errorf("%w: main %q escapes the plugin directory", ErrInvalidPlugin, m.Main)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// MainPath returns the full path of the entry point.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.dir, m.Main)
}

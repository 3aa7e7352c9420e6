package plugin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Opener turns a file on disk into a plugin. Each plugin flavour (Lua,
// external script) provides one.
type Opener interface {
	// Kind names the flavour in logs.
	Kind() string

	// Match reports whether the file at path is a plugin this opener can
	// handle, and which plugin name it provides.
	Match(path string, info fs.FileInfo) (name string, ok bool)

	// Open instantiates the plugin. base carries the name and any relations
	// already known from a manifest; the opener adds what the file itself
	// declares.
	Open(ctx context.Context, base Declaration, path string) (Plugin, error)
}

// Loader finds plugins in a list of directories.
type Loader struct {
	// Search paths for plugins (checked in order)
	paths []string

	openers []Opener
}

// Candidate is a plugin found on disk but not yet opened.
type Candidate struct {
	Name   string
	Path   string
	Kind   string
	Base   Declaration
	opener Opener
}

// Open instantiates the candidate.
func (c *Candidate) Open(ctx context.Context) (Plugin, error) {
	return c.opener.Open(ctx, c.Base, c.Path)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the plugin search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// WithOpeners sets the plugin flavours the loader recognises, in order of
// preference.
func WithOpeners(openers ...Opener) LoaderOption {
	return func(l *Loader) {
		l.openers = openers
	}
}

// NewLoader creates a new plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{paths: DefaultPluginPaths()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultPluginPaths returns the default plugin search paths.
func DefaultPluginPaths() []string {
	paths := []string{
		"/usr/local/lib/vtlock/plugins",
		"/usr/lib/vtlock/plugins",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "vtlock", "plugins"))
	}
	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	return l.paths
}

// AddPath adds a search path.
func (l *Loader) AddPath(path string) {
	l.paths = append(l.paths, path)
}

// Find searches for plugin name. Earlier paths win; within one path a
// directory plugin wins over single files, and earlier openers over later
// ones.
func (l *Loader) Find(name string) (*Candidate, error) {
	for _, basePath := range l.paths {
		if c, err := l.findInPath(basePath, name); err != nil {
			return nil, err
		} else if c != nil {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
}

func (l *Loader) findInPath(basePath, name string) (*Candidate, error) {
	dir := filepath.Join(basePath, name)
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		return l.inspectDir(dir)
	}

	entries, err := os.ReadDir(basePath)
	if err != nil {
		return nil, nil // missing paths are not errors
	}
	for _, o := range l.openers {
		for _, entry := range entries {
			if c := l.matchFile(o, basePath, entry); c != nil && c.Name == name {
				return c, nil
			}
		}
	}
	return nil, nil
}

// inspectDir reads a directory plugin's manifest and picks the opener for
// its entry point.
func (l *Loader) inspectDir(dir string) (*Candidate, error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", filepath.Base(dir), err)
	}
	main := m.MainPath()
	info, err := os.Stat(main)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w: %s", m.Name, ErrNoEntryPoint, m.Main)
	}
	for _, o := range l.openers {
		if _, ok := o.Match(main, info); ok {
			return &Candidate{Name: m.Name, Path: main, Kind: o.Kind(), Base: m.Declaration, opener: o}, nil
		}
	}
	return nil, fmt.Errorf("plugin %s: %w: no opener for %s", m.Name, ErrNoEntryPoint, m.Main)
}

func (l *Loader) matchFile(o Opener, basePath string, entry fs.DirEntry) *Candidate {
	if entry.IsDir() {
		return nil
	}
	path := filepath.Join(basePath, entry.Name())
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	name, ok := o.Match(path, info)
	if !ok {
		return nil
	}
	return &Candidate{Name: name, Path: path, Kind: o.Kind(), Base: Declaration{Name: name}, opener: o}
}

// Discover lists every plugin in the search paths, sorted by name. Broken
// directory plugins are skipped.
func (l *Loader) Discover() []*Candidate {
	found := make(map[string]*Candidate)
	for _, basePath := range l.paths {
		entries, err := os.ReadDir(basePath)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			var c *Candidate
			if entry.IsDir() {
				c, _ = l.inspectDir(filepath.Join(basePath, entry.Name()))
			} else {
				for _, o := range l.openers {
					if c = l.matchFile(o, basePath, entry); c != nil {
						break
					}
				}
			}
			// Don't override earlier discoveries (first path wins)
			if c != nil && found[c.Name] == nil {
				found[c.Name] = c
			}
		}
	}

	result := make([]*Candidate, 0, len(found))
	for _, c := range found {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

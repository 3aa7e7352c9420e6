package auth

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultShadowPath is the system shadow database.
const DefaultShadowPath = "/etc/shadow"

// ShadowEntry is one line of a shadow file. Only the fields vtlock needs are
// kept.
type ShadowEntry struct {
	Name string
	Hash string
}

// Locked reports whether the account cannot log in with a password.
func (e ShadowEntry) Locked() bool {
	return e.Hash == "" || strings.HasPrefix(e.Hash, "!") || strings.HasPrefix(e.Hash, "*")
}

// ShadowFile is a parsed shadow database.
type ShadowFile struct {
	entries []ShadowEntry
}

// LoadShadow reads and parses the shadow file at path.
func LoadShadow(path string) (*ShadowFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseShadow(f)
}

// ParseShadow parses shadow lines from r. Comments, blank lines and lines
// with fewer than two fields are skipped.
func ParseShadow(r io.Reader) (*ShadowFile, error) {
	var sf ShadowFile
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 2 {
			continue
		}
		sf.entries = append(sf.entries, ShadowEntry{Name: parts[0], Hash: parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read shadow: %w", err)
	}
	return &sf, nil
}

// Find returns the entry for name, or nil.
func (f *ShadowFile) Find(name string) *ShadowEntry {
	for i := range f.entries {
		if f.entries[i].Name == name {
			return &f.entries[i]
		}
	}
	return nil
}

// Len returns the number of entries.
func (f *ShadowFile) Len() int { return len(f.entries) }

// Package state persists debugger state that outlives a session.
// Breakpoints are keyed by source URL rather than source id, since ids
// are assigned per recording; preferred sources keep their ids because
// the state file is scoped to one recording.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Version is the current state document format.
const Version = 1

// Breakpoint is one persisted breakpoint.
type Breakpoint struct {
	URL       string `yaml:"url"`
	Line      int    `yaml:"line"`
	Column    int    `yaml:"column,omitempty"`
	Condition string `yaml:"condition,omitempty"`
}

// Document is the persisted debugger state.
type Document struct {
	Version          int          `yaml:"version"`
	Breakpoints      []Breakpoint `yaml:"breakpoints,omitempty"`
	PreferredSources []string     `yaml:"preferred_sources,omitempty"`
}

// NewDocument returns an empty current-version document.
func NewDocument() *Document {
	return &Document{Version: Version}
}

// AddBreakpoint records a breakpoint, ignoring exact duplicates.
func (d *Document) AddBreakpoint(bp Breakpoint) {
	if slices.Contains(d.Breakpoints, bp) {
		return
	}
	d.Breakpoints = append(d.Breakpoints, bp)
}

// RemoveBreakpoint drops every breakpoint at url:line:column regardless
// of condition. It reports whether anything was removed.
func (d *Document) RemoveBreakpoint(url string, line, column int) bool {
	kept := d.Breakpoints[:0]
	for _, bp := range d.Breakpoints {
		if bp.URL == url && bp.Line == line && bp.Column == column {
			continue
		}
		kept = append(kept, bp)
	}
	removed := len(kept) != len(d.Breakpoints)
	d.Breakpoints = kept
	return removed
}

// SetPreferred adds or removes a source id from the preferred set.
func (d *Document) SetPreferred(sourceID string, preferred bool) {
	i := slices.Index(d.PreferredSources, sourceID)
	switch {
	case preferred && i < 0:
		d.PreferredSources = append(d.PreferredSources, sourceID)
	case !preferred && i >= 0:
		d.PreferredSources = slices.Delete(d.PreferredSources, i, i+1)
	}
}

// Store reads and writes one state file.
type Store struct {
	path string
}

// NewStore creates a store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file path.
func (s *Store) Path() string { return s.path }

// Load reads the state document. A missing file yields an empty
// document, not an error.
func (s *Store) Load() (*Document, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("state file %s has version %d, want %d", s.path, doc.Version, Version)
	}
	return &doc, nil
}

// Save writes the document atomically via a temp file and rename, so a
// crash mid-write never truncates existing state.
func (s *Store) Save(doc *Document) error {
	doc.Version = Version

	content, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

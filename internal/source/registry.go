// Package source tracks the sources reported by a recording and picks
// which variant of a piece of code to show when the same code exists as
// generated, source-mapped and pretty-printed sources.
package source

import (
	"sort"
	"sync"

	"github.com/dshills/retrace/internal/protocol"
)

// Source describes one source registered by the recording.
type Source struct {
	ID   protocol.SourceID
	Kind protocol.SourceKind
	URL  string

	// GeneratedIDs lists the generated sources this source was derived
	// from. For a pretty-printed source the first entry is its minified
	// twin.
	GeneratedIDs []protocol.SourceID
}

// Registry indexes every source reported by the recording.
type Registry struct {
	mu        sync.RWMutex
	sources   map[protocol.SourceID]*Source
	byURL     map[string][]protocol.SourceID
	originals map[protocol.SourceID][]protocol.SourceID
	prettyOf  map[protocol.SourceID]protocol.SourceID
	preferred map[protocol.SourceID]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources:   make(map[protocol.SourceID]*Source),
		byURL:     make(map[string][]protocol.SourceID),
		originals: make(map[protocol.SourceID][]protocol.SourceID),
		prettyOf:  make(map[protocol.SourceID]protocol.SourceID),
		preferred: make(map[protocol.SourceID]bool),
	}
}

// Add registers a source reported by the recording.
func (r *Registry) Add(s protocol.NewSource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sources[s.SourceID]; ok {
		return
	}

	src := &Source{
		ID:           s.SourceID,
		Kind:         s.Kind,
		URL:          s.URL,
		GeneratedIDs: append([]protocol.SourceID{}, s.GeneratedIDs...),
	}
	r.sources[src.ID] = src

	if src.URL != "" {
		r.byURL[src.URL] = append(r.byURL[src.URL], src.ID)
	}
	for _, gen := range src.GeneratedIDs {
		r.originals[gen] = append(r.originals[gen], src.ID)
	}
	if src.Kind == protocol.SourceKindPrettyPrinted && len(src.GeneratedIDs) > 0 {
		r.prettyOf[src.GeneratedIDs[0]] = src.ID
	}
}

// Get returns a source by id.
func (r *Registry) Get(id protocol.SourceID) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[id]
	return src, ok
}

// URL returns the URL of a source, or "" if unknown.
func (r *Registry) URL(id protocol.SourceID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if src, ok := r.sources[id]; ok {
		return src.URL
	}
	return ""
}

// All returns every registered source, ordered by id.
func (r *Registry) All() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Prefer marks a generated source as preferred over its original
// counterpart, or clears the preference.
func (r *Registry) Prefer(id protocol.SourceID, preferred bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if preferred {
		r.preferred[id] = true
	} else {
		delete(r.preferred, id)
	}
}

// IsPreferred reports whether a generated source is preferred over its
// original counterpart.
func (r *Registry) IsPreferred(id protocol.SourceID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.preferred[id]
}

// PreferredIDs returns the preferred generated source ids, ordered.
func (r *Registry) PreferredIDs() []protocol.SourceID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.SourceID, 0, len(r.preferred))
	for id := range r.preferred {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CorrespondingIDs resolves a URL to its deduplicated group of concrete
// source ids. Pretty-printed twins collapse onto their minified source
// so that operations like breakpoint placement target concrete
// generated sources.
func (r *Registry) CorrespondingIDs(url string) []protocol.SourceID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []protocol.SourceID
	seen := make(map[protocol.SourceID]bool)
	for _, id := range r.byURL[url] {
		concrete := id
		if src := r.sources[id]; src != nil &&
			src.Kind == protocol.SourceKindPrettyPrinted && len(src.GeneratedIDs) > 0 {
			concrete = src.GeneratedIDs[0]
		}
		if !seen[concrete] {
			seen[concrete] = true
			out = append(out, concrete)
		}
	}
	return out
}

// effectiveKindLocked resolves a pretty-printed source to its minified
// twin's kind. Caller must hold r.mu.
func (r *Registry) effectiveKindLocked(id protocol.SourceID) protocol.SourceKind {
	src := r.sources[id]
	if src == nil {
		return protocol.SourceKindOther
	}
	if src.Kind == protocol.SourceKindPrettyPrinted && len(src.GeneratedIDs) > 0 {
		if twin := r.sources[src.GeneratedIDs[0]]; twin != nil {
			return twin.Kind
		}
	}
	return src.Kind
}

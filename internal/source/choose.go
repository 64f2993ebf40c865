package source

import (
	"fmt"

	"github.com/dshills/retrace/internal/protocol"
)

// Choice is the outcome of preferred-source selection for one piece of
// code. Alternate carries the candidate that lost when both a generated
// and an original source exist, so callers can offer a toggle.
type Choice struct {
	SourceID  protocol.SourceID
	Alternate protocol.SourceID
}

// Choose picks the source to display among ids that all describe the
// same code. Inline scripts give way to their HTML container, minified
// sources give way to their pretty-printed twin, and an original
// source wins over the generated one unless the generated source was
// explicitly preferred.
//
// The filtered set must contain at most one generated and one original
// candidate. Anything else means the caller grouped unrelated sources
// and is a programming error.
func (r *Registry) Choose(ids []protocol.SourceID) Choice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.chooseLocked(ids)
}

func (r *Registry) chooseLocked(ids []protocol.SourceID) Choice {
	filtered := dedupe(ids)

	hasHTML := false
	for _, id := range filtered {
		if src := r.sources[id]; src != nil && src.Kind == protocol.SourceKindHTML {
			hasHTML = true
			break
		}
	}
	if hasHTML {
		filtered = discard(filtered, func(id protocol.SourceID) bool {
			src := r.sources[id]
			return src != nil && src.Kind == protocol.SourceKindInlineScript
		})
	}

	filtered = discard(filtered, func(id protocol.SourceID) bool {
		_, hasPretty := r.prettyOf[id]
		return hasPretty
	})

	var generated, original []protocol.SourceID
	for _, id := range filtered {
		if r.effectiveKindLocked(id) == protocol.SourceKindSourceMapped {
			original = append(original, id)
		} else {
			generated = append(generated, id)
		}
	}
	if len(generated) > 1 || len(original) > 1 {
		panic(fmt.Sprintf("source: ambiguous candidates %v: %d generated, %d original",
			ids, len(generated), len(original)))
	}

	switch {
	case len(original) == 1 && len(generated) == 1:
		if r.preferred[generated[0]] {
			return Choice{SourceID: generated[0], Alternate: original[0]}
		}
		return Choice{SourceID: original[0], Alternate: generated[0]}
	case len(original) == 1:
		return Choice{SourceID: original[0]}
	case len(generated) == 1:
		return Choice{SourceID: generated[0]}
	default:
		return Choice{}
	}
}

// ChooseAll partitions ids into clusters of sources connected through
// generated/original relationships and picks a choice per cluster.
// Clusters come back in the order their first member appeared.
func (r *Registry) ChooseAll(ids []protocol.SourceID) []Choice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	input := make(map[protocol.SourceID]bool, len(ids))
	for _, id := range ids {
		input[id] = true
	}

	visited := make(map[protocol.SourceID]bool)
	var choices []Choice
	for _, id := range dedupe(ids) {
		if visited[id] {
			continue
		}
		var cluster []protocol.SourceID
		stack := []protocol.SourceID{id}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[cur] {
				continue
			}
			visited[cur] = true
			if input[cur] {
				cluster = append(cluster, cur)
			}
			stack = append(stack, r.neighborsLocked(cur)...)
		}
		if len(cluster) > 0 {
			choices = append(choices, r.chooseLocked(cluster))
		}
	}
	return choices
}

// neighborsLocked returns the sources directly related to id: the
// generated sources it derives from and the sources derived from it.
// Caller must hold r.mu.
func (r *Registry) neighborsLocked(id protocol.SourceID) []protocol.SourceID {
	var out []protocol.SourceID
	if src := r.sources[id]; src != nil {
		out = append(out, src.GeneratedIDs...)
	}
	out = append(out, r.originals[id]...)
	return out
}

// PreferredLocation picks the location whose source wins selection
// among locations that all describe the same spot. The second return
// is false when the list is empty or no location matches the choice.
func (r *Registry) PreferredLocation(locs []protocol.Location) (protocol.Location, bool) {
	choice := r.Choose(locationIDs(locs))
	return findLocation(locs, choice.SourceID)
}

// AlternateLocation picks the location for the source that lost
// selection, when one exists.
func (r *Registry) AlternateLocation(locs []protocol.Location) (protocol.Location, bool) {
	choice := r.Choose(locationIDs(locs))
	if choice.Alternate == "" {
		return protocol.Location{}, false
	}
	return findLocation(locs, choice.Alternate)
}

func locationIDs(locs []protocol.Location) []protocol.SourceID {
	ids := make([]protocol.SourceID, 0, len(locs))
	for _, loc := range locs {
		ids = append(ids, loc.SourceID)
	}
	return ids
}

func findLocation(locs []protocol.Location, id protocol.SourceID) (protocol.Location, bool) {
	if id == "" {
		return protocol.Location{}, false
	}
	for _, loc := range locs {
		if loc.SourceID == id {
			return loc, true
		}
	}
	return protocol.Location{}, false
}

func dedupe(ids []protocol.SourceID) []protocol.SourceID {
	seen := make(map[protocol.SourceID]bool, len(ids))
	out := make([]protocol.SourceID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func discard(ids []protocol.SourceID, drop func(protocol.SourceID) bool) []protocol.SourceID {
	out := ids[:0]
	for _, id := range ids {
		if !drop(id) {
			out = append(out, id)
		}
	}
	return out
}

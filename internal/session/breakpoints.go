package session

import (
	"context"

	"github.com/dshills/retrace/internal/event"
	"github.com/dshills/retrace/internal/protocol"
)

// SetBreakpoint installs a breakpoint at a concrete source location.
// Placement failures are swallowed: when several same-URL inline
// sources share a line, the service rejects the sources the line does
// not exist in and there is no way to tell that apart from a real
// error. The rejection is logged at debug level and nothing else
// happens.
func (c *Coordinator) SetBreakpoint(ctx context.Context, loc protocol.Location, condition string) {
	err := c.targets.Invalidate(ctx, func(ctx context.Context) error {
		id, err := c.client.SetBreakpoint(ctx, loc, condition)
		if err != nil {
			return err
		}
		if id == "" {
			return nil
		}
		c.mu.Lock()
		c.breakpoints[id] = loc
		c.mu.Unlock()
		c.publish(event.TopicBreakpointAdded, event.BreakpointAdded{
			BreakpointID: string(id),
			SourceID:     string(loc.SourceID),
			Line:         loc.Line,
			Column:       loc.Column,
			Condition:    condition,
		})
		return nil
	})
	if err != nil {
		breakpointFailuresTotal.Inc()
		c.logger.Debug("set breakpoint %s:%d:%d: %v", loc.SourceID, loc.Line, loc.Column, err)
	}
}

// SetBreakpointByURL installs a breakpoint in every source registered
// under url. Pretty-printed twins were already collapsed onto their
// minified source by the registry, so each member gets one placement.
func (c *Coordinator) SetBreakpointByURL(ctx context.Context, url string, line, column int, condition string) {
	for _, id := range c.sources.CorrespondingIDs(url) {
		c.SetBreakpoint(ctx, protocol.Location{SourceID: id, Line: line, Column: column}, condition)
	}
}

// RemoveBreakpoint removes one installed breakpoint by id.
func (c *Coordinator) RemoveBreakpoint(ctx context.Context, id protocol.BreakpointID) {
	c.mu.Lock()
	loc, known := c.breakpoints[id]
	delete(c.breakpoints, id)
	c.mu.Unlock()

	err := c.targets.Invalidate(ctx, func(ctx context.Context) error {
		return c.client.RemoveBreakpoint(ctx, id)
	})
	if err != nil {
		breakpointFailuresTotal.Inc()
		c.logger.Debug("remove breakpoint %s: %v", id, err)
		return
	}
	if known {
		c.publish(event.TopicBreakpointRemoved, event.BreakpointRemoved{
			BreakpointID: string(id),
			SourceID:     string(loc.SourceID),
			Line:         loc.Line,
			Column:       loc.Column,
		})
	}
}

// RemoveBreakpointsAt removes every installed breakpoint matching a
// location. Several ids can share one location when same-URL inline
// sources are multiplexed; each removal is its own invalidating call.
func (c *Coordinator) RemoveBreakpointsAt(ctx context.Context, loc protocol.Location) {
	c.mu.Lock()
	var matches []protocol.BreakpointID
	for id, installed := range c.breakpoints {
		if installed == loc {
			matches = append(matches, id)
		}
	}
	c.mu.Unlock()

	for _, id := range matches {
		c.RemoveBreakpoint(ctx, id)
	}
}

// RemoveBreakpointsByURL removes installed breakpoints at line/column
// in every source registered under url.
func (c *Coordinator) RemoveBreakpointsByURL(ctx context.Context, url string, line, column int) {
	for _, id := range c.sources.CorrespondingIDs(url) {
		c.RemoveBreakpointsAt(ctx, protocol.Location{SourceID: id, Line: line, Column: column})
	}
}

// Breakpoints returns the installed breakpoints by id.
func (c *Coordinator) Breakpoints() map[protocol.BreakpointID]protocol.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[protocol.BreakpointID]protocol.Location, len(c.breakpoints))
	for id, loc := range c.breakpoints {
		out[id] = loc
	}
	return out
}

// BlackboxedRange is one span of a source excluded from stepping.
// Nil Begin and End cover the whole source.
type BlackboxedRange struct {
	Begin *protocol.SourcePosition
	End   *protocol.SourcePosition
}

// BlackboxSource marks a source range as uninteresting so stepping
// skips it. A nil range covers the whole source.
func (c *Coordinator) BlackboxSource(ctx context.Context, id protocol.SourceID, begin, end *protocol.SourcePosition) error {
	err := c.targets.Invalidate(ctx, func(ctx context.Context) error {
		return c.client.BlackboxSource(ctx, id, begin, end)
	})
	if err != nil {
		return err
	}

	r := BlackboxedRange{Begin: begin, End: end}
	c.mu.Lock()
	if !containsRange(c.blackboxed[id], r) {
		c.blackboxed[id] = append(c.blackboxed[id], r)
	}
	c.mu.Unlock()

	c.publish(event.TopicBlackboxChanged, event.BlackboxChanged{SourceID: string(id), Blackboxed: true})
	return nil
}

// UnblackboxSource reverses BlackboxSource for the same range. A nil
// range clears every recorded span of the source.
func (c *Coordinator) UnblackboxSource(ctx context.Context, id protocol.SourceID, begin, end *protocol.SourcePosition) error {
	err := c.targets.Invalidate(ctx, func(ctx context.Context) error {
		return c.client.UnblackboxSource(ctx, id, begin, end)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if begin == nil && end == nil {
		delete(c.blackboxed, id)
	} else {
		r := BlackboxedRange{Begin: begin, End: end}
		kept := c.blackboxed[id][:0]
		for _, have := range c.blackboxed[id] {
			if !sameRange(have, r) {
				kept = append(kept, have)
			}
		}
		if len(kept) == 0 {
			delete(c.blackboxed, id)
		} else {
			c.blackboxed[id] = kept
		}
	}
	c.mu.Unlock()

	c.publish(event.TopicBlackboxChanged, event.BlackboxChanged{SourceID: string(id), Blackboxed: false})
	return nil
}

// IsBlackboxed reports whether any range of the source is blackboxed.
func (c *Coordinator) IsBlackboxed(id protocol.SourceID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blackboxed[id]) > 0
}

// BlackboxedRanges returns the blackboxed spans of a source.
func (c *Coordinator) BlackboxedRanges(id protocol.SourceID) []BlackboxedRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]BlackboxedRange(nil), c.blackboxed[id]...)
}

func containsRange(rs []BlackboxedRange, r BlackboxedRange) bool {
	for _, have := range rs {
		if sameRange(have, r) {
			return true
		}
	}
	return false
}

func sameRange(a, b BlackboxedRange) bool {
	return samePosition(a.Begin, b.Begin) && samePosition(a.End, b.End)
}

func samePosition(a, b *protocol.SourcePosition) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

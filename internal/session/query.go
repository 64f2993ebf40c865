package session

import (
	"context"
	"fmt"

	"github.com/dshills/retrace/internal/pause"
	"github.com/dshills/retrace/internal/protocol"
	"github.com/dshills/retrace/internal/value"
)

// GetFrames returns the call stack at the current position, or nothing
// when the position has no frame data.
func (c *Coordinator) GetFrames(ctx context.Context) ([]protocol.Frame, error) {
	p := c.currentPause()
	if p == nil || !p.HasFrames() {
		return nil, nil
	}
	return p.Frames(ctx)
}

// GetScopes returns the scope chain of a frame. asyncIndex 0 addresses
// the current pause; n > 0 addresses the (n-1)th async parent.
func (c *Coordinator) GetScopes(ctx context.Context, asyncIndex int, frameID protocol.FrameID) ([]protocol.Scope, error) {
	p, err := c.pauseAt(asyncIndex)
	if err != nil {
		return nil, err
	}
	return p.Scopes(ctx, frameID)
}

// Evaluate runs an expression in a frame and wraps the outcome,
// including a thrown exception, as a value front. Only transport
// failures surface as errors.
func (c *Coordinator) Evaluate(ctx context.Context, asyncIndex int, frameID protocol.FrameID, text string) (*value.Front, error) {
	p, err := c.pauseAt(asyncIndex)
	if err != nil {
		return nil, err
	}
	result, err := p.Evaluate(ctx, frameID, text)
	if err != nil {
		return nil, err
	}
	return value.NewFront(result), nil
}

// GetFrameSteps returns the points executed within a frame.
func (c *Coordinator) GetFrameSteps(ctx context.Context, asyncIndex int, frameID protocol.FrameID) ([]protocol.PointDescription, error) {
	p, err := c.pauseAt(asyncIndex)
	if err != nil {
		return nil, err
	}
	return p.FrameSteps(ctx, frameID)
}

// LoadAsyncParentFrames extends the async chain by one level: it finds
// the point that scheduled the deepest known pause, materializes a
// pause there, appends it, and returns its frames. If the chain moved
// while a fetch was in flight the result would describe a stale chain,
// so the call returns empty instead.
func (c *Coordinator) LoadAsyncParentFrames(ctx context.Context) ([]protocol.Frame, error) {
	base := c.deepestPause()
	if base == nil {
		return nil, nil
	}

	frame, err := base.LastFrame(ctx)
	if err != nil {
		return nil, err
	}
	if frame == nil || c.deepestPause() != base {
		return nil, nil
	}

	steps, err := base.FrameSteps(ctx, frame.FrameID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 || c.deepestPause() != base {
		return nil, nil
	}

	entry := steps[0]
	parent := c.pauses.Ensure(entry.Point, entry.Time, entry.HasFrame())

	c.mu.Lock()
	if c.deepestLocked() != base {
		c.mu.Unlock()
		return nil, nil
	}
	c.asyncChain = append(c.asyncChain, parent)
	c.mu.Unlock()

	return parent.Frames(ctx)
}

// AsyncChainLen reports how many async parents are loaded.
func (c *Coordinator) AsyncChainLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.asyncChain)
}

// pauseAt resolves an async index to its pause.
func (c *Coordinator) pauseAt(asyncIndex int) (*pause.Pause, error) {
	if asyncIndex == 0 {
		p := c.currentPause()
		if p == nil {
			return nil, fmt.Errorf("session: no current pause")
		}
		return p, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if asyncIndex < 0 || asyncIndex > len(c.asyncChain) {
		return nil, fmt.Errorf("session: async index %d out of range", asyncIndex)
	}
	return c.asyncChain[asyncIndex-1], nil
}

// deepestPause returns the tail of the async chain, or the current
// pause when no parents are loaded.
func (c *Coordinator) deepestPause() *pause.Pause {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil && c.position.Point != "" {
		c.current = c.pauses.Ensure(c.position.Point, c.position.Time, c.position.HasFrames)
	}
	return c.deepestLocked()
}

// deepestLocked is deepestPause for callers already holding c.mu.
func (c *Coordinator) deepestLocked() *pause.Pause {
	if n := len(c.asyncChain); n > 0 {
		return c.asyncChain[n-1]
	}
	return c.current
}

// GetPreferredLocation picks the location to report among equivalent
// locations, per source selection.
func (c *Coordinator) GetPreferredLocation(locs []protocol.Location) (protocol.Location, bool) {
	return c.sources.PreferredLocation(locs)
}

// GetAlternateLocation picks the location the user could switch to.
func (c *Coordinator) GetAlternateLocation(locs []protocol.Location) (protocol.Location, bool) {
	return c.sources.AlternateLocation(locs)
}

// PreferSource overrides source selection to surface a generated
// source over its original.
func (c *Coordinator) PreferSource(id protocol.SourceID, preferred bool) {
	c.sources.Prefer(id, preferred)
}

// SourceContents returns the text of a source through the contents
// cache.
func (c *Coordinator) SourceContents(ctx context.Context, id protocol.SourceID) (*protocol.SourceContents, error) {
	return c.contents.Get(ctx, id)
}

// PossibleBreakpoints lists the positions breakpoints can bind to in a
// source range.
func (c *Coordinator) PossibleBreakpoints(ctx context.Context, id protocol.SourceID, begin, end *protocol.SourcePosition) ([]protocol.LineLocations, error) {
	return c.client.GetPossibleBreakpoints(ctx, id, begin, end)
}

// Package pause materializes execution-point state on demand.
//
// A Pause represents one visited execution point. Its stack frames,
// per-frame scopes and per-frame steps are fetched from the recording
// service the first time they are asked for and cached for the life of
// the pause. The recording never changes, so cached pause state never
// expires.
package pause

import (
	"context"
	"sync"

	"github.com/dshills/retrace/internal/protocol"
)

// Pause holds the lazily-loaded state at one execution point.
type Pause struct {
	point  protocol.Point
	time   float64
	client *protocol.Client

	mu           sync.Mutex
	hasFrames    bool
	frames       []protocol.Frame
	framesLoaded bool
	scopes       map[protocol.FrameID][]protocol.Scope
	steps        map[protocol.FrameID][]protocol.PointDescription
}

// New creates a pause for a point. hasFrames is the caller's knowledge
// of whether frame data exists there; loading frames refines it.
func New(client *protocol.Client, point protocol.Point, time float64, hasFrames bool) *Pause {
	return &Pause{
		point:     point,
		time:      time,
		client:    client,
		hasFrames: hasFrames,
		scopes:    make(map[protocol.FrameID][]protocol.Scope),
		steps:     make(map[protocol.FrameID][]protocol.PointDescription),
	}
}

// Point returns the pause's execution point.
func (p *Pause) Point() protocol.Point {
	return p.point
}

// Time returns the pause's elapsed-time offset in milliseconds.
func (p *Pause) Time() float64 {
	return p.time
}

// HasFrames reports whether frame data exists at the point.
func (p *Pause) HasFrames() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasFrames
}

// Frames returns the stack frames at the point, fetching them on first
// use. The innermost frame is first. The returned slice is shared;
// callers must not mutate it.
func (p *Pause) Frames(ctx context.Context) ([]protocol.Frame, error) {
	p.mu.Lock()
	if p.framesLoaded {
		frames := p.frames
		p.mu.Unlock()
		return frames, nil
	}
	p.mu.Unlock()

	// The fetch happens outside the lock; a concurrent duplicate fetch
	// is harmless because results for the same point are identical.
	frames, err := p.client.GetAllFrames(ctx, p.point)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if !p.framesLoaded {
		p.frames = frames
		p.framesLoaded = true
		p.hasFrames = len(frames) > 0
	}
	frames = p.frames
	p.mu.Unlock()
	return frames, nil
}

// Scopes returns the scope chain of a frame, fetching it on first use.
func (p *Pause) Scopes(ctx context.Context, frameID protocol.FrameID) ([]protocol.Scope, error) {
	p.mu.Lock()
	if scopes, ok := p.scopes[frameID]; ok {
		p.mu.Unlock()
		return scopes, nil
	}
	p.mu.Unlock()

	scopes, err := p.client.GetScopes(ctx, p.point, frameID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if cached, ok := p.scopes[frameID]; ok {
		scopes = cached
	} else {
		p.scopes[frameID] = scopes
	}
	p.mu.Unlock()
	return scopes, nil
}

// FrameSteps returns the execution points a frame passes through,
// fetching them on first use.
func (p *Pause) FrameSteps(ctx context.Context, frameID protocol.FrameID) ([]protocol.PointDescription, error) {
	p.mu.Lock()
	if steps, ok := p.steps[frameID]; ok {
		p.mu.Unlock()
		return steps, nil
	}
	p.mu.Unlock()

	steps, err := p.client.GetFrameSteps(ctx, p.point, frameID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if cached, ok := p.steps[frameID]; ok {
		steps = cached
	} else {
		p.steps[frameID] = steps
	}
	p.mu.Unlock()
	return steps, nil
}

// Evaluate evaluates an expression in a frame at this point. Results
// are not cached; a thrown exception is reported inside the result.
func (p *Pause) Evaluate(ctx context.Context, frameID protocol.FrameID, expression string) (*protocol.EvalResult, error) {
	return p.client.Evaluate(ctx, p.point, frameID, expression)
}

// LastFrame returns the outermost stack frame at the point, or nil if
// the point has no frames.
func (p *Pause) LastFrame(ctx context.Context) (*protocol.Frame, error) {
	frames, err := p.Frames(ctx)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, nil
	}
	return &frames[len(frames)-1], nil
}

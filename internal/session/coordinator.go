// Package session coordinates a debugging session against a recording.
//
// The Coordinator owns the current position in the recording, turns the
// point-query protocol into conventional stepping commands, caches
// resume targets with generation-stamped invalidation, and speculatively
// warms the cache around the current position. Position changes and
// breakpoint mutations surface as events on the session bus.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/retrace/internal/event"
	"github.com/dshills/retrace/internal/logging"
	"github.com/dshills/retrace/internal/pause"
	"github.com/dshills/retrace/internal/protocol"
	"github.com/dshills/retrace/internal/source"
)

const releaseTimeout = 5 * time.Second

// Position is where the debugger currently sits in the recording. Point
// is authoritative for identity; Time is a display offset.
type Position struct {
	Point     protocol.Point
	Time      float64
	HasFrames bool
}

// WarpAdjuster may substitute a nearby, more meaningful destination for
// a requested warp, such as snapping to the closest statement boundary.
type WarpAdjuster interface {
	// AdjustWarp returns the replacement destination and true, or false
	// to keep the requested one.
	AdjustWarp(pos Position) (Position, bool)
}

// Coordinator drives one debugging session.
type Coordinator struct {
	client   *protocol.Client
	bus      *event.Bus
	logger   *logging.Logger
	adjuster WarpAdjuster

	precacheOn    bool
	precacheDepth int

	sources  *source.Registry
	contents *source.Contents
	store    *source.Store
	pauses   *pause.Manager
	targets  *targetCache

	mu          sync.Mutex
	position    Position
	current     *pause.Pause
	asyncChain  []*pause.Pause
	breakpoints map[protocol.BreakpointID]protocol.Location
	blackboxed  map[protocol.SourceID][]BlackboxedRange

	initialized chan struct{}
	initOnce    sync.Once
	ctx         context.Context
	cancel      context.CancelFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAdjuster installs the warp adjustment hook.
func WithAdjuster(a WarpAdjuster) Option {
	return func(c *Coordinator) { c.adjuster = a }
}

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithContentsStore backs the source contents cache with an on-disk
// store.
func WithContentsStore(s *source.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithPrecache tunes speculative target warming after each warp.
// Depth values outside 1..4 keep the default.
func WithPrecache(enabled bool, depth int) Option {
	return func(c *Coordinator) {
		c.precacheOn = enabled
		if depth >= 1 && depth <= 4 {
			c.precacheDepth = depth
		}
	}
}

// New creates a coordinator speaking through client and publishing on
// bus. The coordinator is inert until Initialize runs.
func New(client *protocol.Client, bus *event.Bus, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		client:        client,
		bus:           bus,
		logger:        logging.Null,
		precacheOn:    true,
		precacheDepth: defaultPrecacheDepth,
		sources:       source.NewRegistry(),
		pauses:        pause.NewManager(client),
		breakpoints:   make(map[protocol.BreakpointID]protocol.Location),
		blackboxed:    make(map[protocol.SourceID][]BlackboxedRange),
		initialized:   make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.contents = source.NewContents(client, c.store)
	c.targets = newTargetCache(client, c.logger, c.initialized)
	c.targets.onSettled = func() {
		c.publish(event.TopicInvalidationSettled, event.InvalidationSettled{})
		c.precache()
	}
	return c
}

// Initialize creates the remote session, wires notification handlers,
// and performs the first warp to the recording's endpoint. Stepping
// commands block until this completes.
func (c *Coordinator) Initialize(ctx context.Context, recordingID string) error {
	c.client.OnNewSource(func(s protocol.NewSource) {
		c.sources.Add(s)
		c.publish(event.TopicSourceAdded, event.SourceAdded{
			SourceID: string(s.SourceID),
			Kind:     string(s.Kind),
			URL:      s.URL,
		})
	})
	c.client.OnConsoleMessage(func(m protocol.ConsoleMessage) {
		if m.Point.Point != "" {
			c.pauses.Ensure(m.Point.Point, m.Point.Time, m.Point.HasFrame())
		}
		c.publish(event.TopicConsoleMessage, event.ConsoleMessage{
			Point: string(m.Point.Point),
			Time:  m.Point.Time,
			Level: m.Level,
			Text:  m.Text,
		})
	})
	c.client.OnSessionError(func(re protocol.RequestError) {
		c.logger.Error("session error from service: code=%d message=%s", re.Code, re.Message)
	})

	if _, err := c.client.CreateSession(ctx, recordingID); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	endpoint, err := c.client.GetEndpoint(ctx)
	if err != nil {
		return fmt.Errorf("get endpoint: %w", err)
	}

	c.TimeWarp(endpoint.Point, endpoint.Time, endpoint.HasFrame(), false)
	c.initOnce.Do(func() { close(c.initialized) })
	return nil
}

// Close stops background work and releases the remote session.
func (c *Coordinator) Close() error {
	c.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := c.client.ReleaseSession(ctx); err != nil {
		c.logger.Debug("release session: %v", err)
	}
	return c.client.Close()
}

// Position returns the current position.
func (c *Coordinator) Position() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// CurrentPoint returns the point of the current position.
func (c *Coordinator) CurrentPoint() protocol.Point {
	return c.Position().Point
}

// CurrentTime returns the current position's offset into the
// recording, in milliseconds.
func (c *Coordinator) CurrentTime() float64 {
	return c.Position().Time
}

// HasFrames reports whether the current point carries frame data.
func (c *Coordinator) HasFrames() bool {
	return c.Position().HasFrames
}

// SetAdjuster replaces the warp adjustment hook. Nil removes it.
func (c *Coordinator) SetAdjuster(a WarpAdjuster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adjuster = a
}

// Sources exposes the session's source registry.
func (c *Coordinator) Sources() *source.Registry { return c.sources }

// Bus exposes the session's event bus.
func (c *Coordinator) Bus() *event.Bus { return c.bus }

// TimeWarp moves the current position. Unless force is set, the warp
// adjuster may substitute a different destination. The current pause
// and the async chain reset, a paused event fires, and target
// pre-caching kicks off. Never fails and never blocks on the service.
func (c *Coordinator) TimeWarp(point protocol.Point, time float64, hasFrames bool, force bool) {
	pos := Position{Point: point, Time: time, HasFrames: hasFrames}
	c.mu.Lock()
	adjuster := c.adjuster
	c.mu.Unlock()
	if !force && adjuster != nil {
		if adjusted, ok := adjuster.AdjustWarp(pos); ok {
			pos = adjusted
		}
	}
	c.warpTo(pos, nil)
}

// TimeWarpToPause moves to a destination whose pause is already
// materialized, keeping it instead of discarding it. The pause must
// carry a point; anything else is a programming error.
func (c *Coordinator) TimeWarpToPause(p *pause.Pause) {
	if p == nil || p.Point() == "" {
		panic("session: time warp to pause without a point")
	}
	c.warpTo(Position{Point: p.Point(), Time: p.Time(), HasFrames: p.HasFrames()}, p)
}

func (c *Coordinator) warpTo(pos Position, p *pause.Pause) {
	c.mu.Lock()
	c.position = pos
	c.current = p
	c.asyncChain = nil
	c.mu.Unlock()

	warpsTotal.Inc()
	c.publish(event.TopicPaused, event.Paused{
		Point:     string(pos.Point),
		Time:      pos.Time,
		HasFrames: pos.HasFrames,
	})
	c.precache()
}

// currentPause returns the pause for the current position, creating it
// lazily after a warp discarded the previous one.
func (c *Coordinator) currentPause() *pause.Pause {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil && c.position.Point != "" {
		c.current = c.pauses.Ensure(c.position.Point, c.position.Time, c.position.HasFrames)
	}
	return c.current
}

func (c *Coordinator) awaitInitialized(ctx context.Context) error {
	select {
	case <-c.initialized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForInvalidations blocks until no cache-invalidating mutation is
// in flight. Quiescence barrier only, never needed on the hot path.
func (c *Coordinator) WaitForInvalidations(ctx context.Context) error {
	return c.targets.WaitSettled(ctx)
}

func (c *Coordinator) publish(topic event.Topic, payload any) {
	if err := c.bus.Publish(c.ctx, topic, payload); err != nil {
		c.logger.Warn("publish %s: %v", topic, err)
	}
}

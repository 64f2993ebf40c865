package session

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/retrace/internal/protocol"
)

// defaultPrecacheDepth bounds the speculative fan-out. Depth 1 resolves
// the four step directions from the current point; each further level
// resolves a fixed set of follow-up directions from the landing points.
const defaultPrecacheDepth = 2

var precacheKinds = []protocol.StepKind{
	protocol.StepReverseOver,
	protocol.StepOver,
	protocol.StepIn,
	protocol.StepOut,
}

// followUps maps a step direction to the directions a user is likely to
// issue next from its landing point.
var followUps = map[protocol.StepKind][]protocol.StepKind{
	protocol.StepOver:        {protocol.StepOver, protocol.StepIn},
	protocol.StepIn:          {protocol.StepOver, protocol.StepIn},
	protocol.StepReverseOver: {protocol.StepReverseOver, protocol.StepIn},
	protocol.StepOut:         {protocol.StepReverseOver, protocol.StepOver, protocol.StepIn, protocol.StepOut},
}

// precache speculatively resolves likely next targets from the current
// position. Fire and forget: results only ever surface as later cache
// hits, so staleness just stops a branch.
func (c *Coordinator) precache() {
	if !c.precacheOn {
		return
	}
	origin := c.Position().Point
	if origin == "" {
		return
	}
	gen := c.targets.Generation()
	go func() {
		g := new(errgroup.Group)
		for _, kind := range precacheKinds {
			kind := kind
			g.Go(func() error {
				c.precacheStep(c.ctx, gen, origin, origin, kind, 1)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

// precacheStep resolves one direction from one point, materializes the
// landing pause, and chains one level deeper. Every step re-checks the
// cache generation and that the session still sits at origin, so a
// stale chain terminates instead of fanning out.
func (c *Coordinator) precacheStep(ctx context.Context, gen uint64, origin, from protocol.Point, kind protocol.StepKind, depth int) {
	if c.precacheStale(gen, origin) {
		return
	}
	target, err := c.targets.Find(ctx, kind, from)
	if err != nil {
		c.logger.Debug("precache %s from %s: %v", kind, from, err)
		return
	}
	if c.precacheStale(gen, origin) {
		return
	}
	if !target.HasFrame() {
		return
	}
	c.pauses.Ensure(target.Point, target.Time, true)
	precachedTotal.Inc()

	if depth >= c.precacheDepth {
		return
	}
	for _, next := range followUps[kind] {
		c.precacheStep(ctx, gen, origin, target.Point, next, depth+1)
	}
}

func (c *Coordinator) precacheStale(gen uint64, origin protocol.Point) bool {
	return c.targets.Generation() != gen || c.Position().Point != origin
}

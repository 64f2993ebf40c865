package session

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/retrace/internal/event"
	"github.com/dshills/retrace/internal/protocol"
)

var tracer = otel.Tracer("retrace/session")

// Resume continues forward to the next stop from point, or from the
// current position when point is empty.
func (c *Coordinator) Resume(point protocol.Point) { c.startResume(protocol.StepResume, point) }

// Rewind continues backward to the previous stop.
func (c *Coordinator) Rewind(point protocol.Point) { c.startResume(protocol.StepRewind, point) }

// StepOver advances past the current statement.
func (c *Coordinator) StepOver(point protocol.Point) { c.startResume(protocol.StepOver, point) }

// StepIn advances into the next call.
func (c *Coordinator) StepIn(point protocol.Point) { c.startResume(protocol.StepIn, point) }

// StepOut advances to the caller.
func (c *Coordinator) StepOut(point protocol.Point) { c.startResume(protocol.StepOut, point) }

// ReverseStepOver steps backward past the previous statement.
func (c *Coordinator) ReverseStepOver(point protocol.Point) {
	c.startResume(protocol.StepReverseOver, point)
}

// startResume runs a stepping command in the background. The caller
// gets no completion signal; a resumed event fires once the command is
// under way and the matching paused event fires when the target
// resolves. Resumed always precedes that paused event because the
// target resolution, however fast, is only awaited after the resumed
// event has been delivered. Remote failures are logged, not returned;
// the session simply stays where it is.
func (c *Coordinator) startResume(kind protocol.StepKind, point protocol.Point) {
	resumeOpsTotal.WithLabelValues(string(kind)).Inc()
	go func() {
		if err := c.awaitInitialized(c.ctx); err != nil {
			return
		}
		if point == "" {
			point = c.Position().Point
		}

		ctx, span := tracer.Start(c.ctx, "session.resume",
			trace.WithAttributes(
				attribute.String("step.kind", string(kind)),
				attribute.String("point", string(point)),
			))
		defer span.End()

		type outcome struct {
			target *protocol.PointDescription
			err    error
		}
		resolved := make(chan outcome, 1)
		go func() {
			target, err := c.targets.Find(ctx, kind, point)
			resolved <- outcome{target: target, err: err}
		}()

		c.publish(event.TopicResumed, event.Resumed{})

		out := <-resolved
		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, "target resolution failed")
			c.logger.Warn("%s from %s failed: %v", kind, point, out.err)
			return
		}
		c.TimeWarp(out.target.Point, out.target.Time, out.target.HasFrame(), false)
	}()
}

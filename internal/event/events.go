package event

// Debugger event topics.
const (
	// TopicPaused is published every time the debugger lands on a point,
	// including the initial warp and every completed resume operation.
	TopicPaused Topic = "session.paused"

	// TopicResumed is published when a resume operation begins, strictly
	// before the TopicPaused event for the same operation.
	TopicResumed Topic = "session.resumed"

	// TopicBreakpointAdded is published when a breakpoint is installed.
	TopicBreakpointAdded Topic = "session.breakpoint.added"

	// TopicBreakpointRemoved is published when a breakpoint is removed.
	TopicBreakpointRemoved Topic = "session.breakpoint.removed"

	// TopicBlackboxChanged is published when a source's blackboxed state changes.
	TopicBlackboxChanged Topic = "session.blackbox.changed"

	// TopicInvalidationSettled is published when all pending invalidating
	// commands have completed and the target cache is warm again.
	TopicInvalidationSettled Topic = "session.invalidation.settled"

	// TopicSourceAdded is published when the recording reports a new source.
	TopicSourceAdded Topic = "source.added"

	// TopicConsoleMessage is published for each console message in the recording.
	TopicConsoleMessage Topic = "console.message"
)

// Paused is the payload for TopicPaused.
type Paused struct {
	// Point is the execution point the debugger is now paused at.
	Point string

	// Time is the point's elapsed-time offset in milliseconds.
	Time float64

	// HasFrames reports whether frame data exists at this point.
	HasFrames bool
}

// Resumed is the payload for TopicResumed.
type Resumed struct{}

// BreakpointAdded is the payload for TopicBreakpointAdded.
type BreakpointAdded struct {
	// BreakpointID is the server-assigned breakpoint id.
	BreakpointID string

	// SourceID is the concrete source the breakpoint was installed in.
	SourceID string

	// Line is the 1-based line number.
	Line int

	// Column is the 0-based column number.
	Column int

	// Condition is the conditional expression, if any.
	Condition string
}

// BreakpointRemoved is the payload for TopicBreakpointRemoved.
type BreakpointRemoved struct {
	BreakpointID string
	SourceID     string
	Line         int
	Column       int
}

// BlackboxChanged is the payload for TopicBlackboxChanged.
type BlackboxChanged struct {
	SourceID   string
	Blackboxed bool
}

// InvalidationSettled is the payload for TopicInvalidationSettled.
type InvalidationSettled struct{}

// SourceAdded is the payload for TopicSourceAdded.
type SourceAdded struct {
	SourceID string
	Kind     string
	URL      string
}

// ConsoleMessage is the payload for TopicConsoleMessage.
type ConsoleMessage struct {
	// Point is the execution point the message was logged at.
	Point string

	// Time is the point's elapsed-time offset in milliseconds.
	Time float64

	// Level is the message severity ("info", "warning", "error", ...).
	Level string

	// Text is the message text.
	Text string
}

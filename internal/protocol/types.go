package protocol

import "encoding/json"

// Point is an opaque execution point identifier within a recording.
// Points are ordered by the recording service; clients treat them as
// opaque keys and never compare them numerically.
type Point string

// SessionID identifies a live session against a recording.
type SessionID string

// SourceID identifies a source registered by the recording.
type SourceID string

// BreakpointID is a server-assigned breakpoint identifier.
type BreakpointID string

// FrameID identifies a stack frame within a pause.
type FrameID string

// ScopeID identifies a scope within a frame.
type ScopeID string

// StepKind names a resume-target query direction.
type StepKind string

// Resume-target kinds.
const (
	StepResume      StepKind = "resume"
	StepRewind      StepKind = "rewind"
	StepOver        StepKind = "stepOver"
	StepIn          StepKind = "stepIn"
	StepOut         StepKind = "stepOut"
	StepReverseOver StepKind = "reverseStepOver"
)

// method returns the wire method name for a resume-target query.
func (k StepKind) method() string {
	switch k {
	case StepResume:
		return "Debugger.findResumeTarget"
	case StepRewind:
		return "Debugger.findRewindTarget"
	case StepOver:
		return "Debugger.findStepOverTarget"
	case StepIn:
		return "Debugger.findStepInTarget"
	case StepOut:
		return "Debugger.findStepOutTarget"
	case StepReverseOver:
		return "Debugger.findReverseStepOverTarget"
	default:
		return ""
	}
}

// Valid reports whether the kind is one of the known directions.
func (k StepKind) Valid() bool {
	return k.method() != ""
}

// Location is a position within a concrete source.
type Location struct {
	SourceID SourceID `json:"sourceId"`
	Line     int      `json:"line"`
	Column   int      `json:"column"`
}

// SourcePosition is a line/column position without a source id,
// used for ranges within a single known source.
type SourcePosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// PointDescription describes an execution point returned by the service.
// Frame holds the point's location in every equivalent source (generated,
// source-mapped, pretty-printed); it is empty for points without frames,
// such as the recording endpoint.
type PointDescription struct {
	Point Point      `json:"point"`
	Time  float64    `json:"time"`
	Frame []Location `json:"frame,omitempty"`
}

// HasFrame reports whether frame data exists at the point.
func (d *PointDescription) HasFrame() bool {
	return len(d.Frame) > 0
}

// SourceKind classifies a source reported by the recording.
type SourceKind string

// Source kinds.
const (
	SourceKindScript        SourceKind = "scriptSource"
	SourceKindInlineScript  SourceKind = "inlineScript"
	SourceKindHTML          SourceKind = "html"
	SourceKindSourceMapped  SourceKind = "sourceMapped"
	SourceKindPrettyPrinted SourceKind = "prettyPrinted"
	SourceKindOther         SourceKind = "other"
)

// NewSource is the notification body for a source registered by the recording.
type NewSource struct {
	SourceID SourceID   `json:"sourceId"`
	Kind     SourceKind `json:"kind"`
	URL      string     `json:"url,omitempty"`

	// GeneratedIDs lists the generated sources this source was derived
	// from. For a pretty-printed source the first entry is its minified
	// twin; for a source-mapped source the entries are the bundle
	// sources it maps onto.
	GeneratedIDs []SourceID `json:"generatedSourceIds,omitempty"`
}

// ConsoleMessage is the notification body for a console message in the recording.
type ConsoleMessage struct {
	Point    PointDescription `json:"point"`
	Level    string           `json:"level"`
	Text     string           `json:"text"`
	URL      string           `json:"url,omitempty"`
	SourceID SourceID         `json:"sourceId,omitempty"`
	Line     int              `json:"line,omitempty"`
	Column   int              `json:"column,omitempty"`
}

// Frame describes one stack frame at a pause.
// Location holds the frame's position in every equivalent source.
type Frame struct {
	FrameID      FrameID    `json:"frameId"`
	Type         string     `json:"type,omitempty"`
	FunctionName string     `json:"functionName,omitempty"`
	Location     []Location `json:"location"`
}

// Scope describes one scope in a frame's scope chain.
type Scope struct {
	ScopeID      ScopeID         `json:"scopeId"`
	Type         string          `json:"type"`
	FunctionName string          `json:"functionName,omitempty"`
	Bindings     []NamedValue    `json:"bindings,omitempty"`
	Object       json.RawMessage `json:"object,omitempty"`
}

// NamedValue is a named binding with its raw remote value.
type NamedValue struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// EvalResult is the outcome of an expression evaluation. Exactly one of
// Returned or Exception is set; a thrown exception is a successful
// evaluation whose result is the thrown value.
type EvalResult struct {
	Returned  json.RawMessage `json:"returned,omitempty"`
	Exception json.RawMessage `json:"exception,omitempty"`
}

// SourceContents is the text of a source.
type SourceContents struct {
	Contents    string `json:"contents"`
	ContentType string `json:"contentType"`
}

// LineLocations lists the breakable columns on one line.
type LineLocations struct {
	Line    int   `json:"line"`
	Columns []int `json:"columns"`
}

// Wire envelope types. Requests carry an id; notifications do not.

type wireRequest struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type wireMessage struct {
	ID     *int            `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RequestError   `json:"error,omitempty"`
}

// isNotification reports whether the message is a server-initiated notification.
func (m *wireMessage) isNotification() bool {
	return m.ID == nil && m.Method != ""
}

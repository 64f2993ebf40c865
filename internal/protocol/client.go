package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer instruments every request round-trip.
var tracer = otel.Tracer("retrace/protocol")

// Client is a recording-service client. It correlates responses with
// requests by id and dispatches server notifications to registered
// handlers. All methods are safe for concurrent use.
type Client struct {
	transport Transport
	seq       int64
	pending   map[int]*pendingRequest
	pendingMu sync.RWMutex
	handlers  notificationHandlers
	handlerMu sync.RWMutex
	sessionID SessionID
	sessionMu sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once
	err       error
	errMu     sync.RWMutex
}

// pendingRequest tracks a request awaiting its response.
type pendingRequest struct {
	done      chan struct{}
	closeOnce sync.Once
	result    json.RawMessage
	err       error
}

// close safely closes the done channel.
func (p *pendingRequest) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// notificationHandlers stores server-notification handler functions.
type notificationHandlers struct {
	onNewSource      func(NewSource)
	onConsoleMessage func(ConsoleMessage)
	onSessionError   func(RequestError)
	onAny            func(method string, params json.RawMessage)
}

// NewClient creates a client over the given transport and starts its
// receive loop.
func NewClient(transport Transport) *Client {
	c := &Client{
		transport: transport,
		pending:   make(map[int]*pendingRequest),
		done:      make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// Close closes the client and the underlying transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.transport.Close()
}

// Error returns any error that terminated the receive loop.
func (c *Client) Error() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

// SessionID returns the session id attached to outgoing requests.
func (c *Client) SessionID() SessionID {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.sessionID
}

// receiveLoop continuously receives messages from the transport.
func (c *Client) receiveLoop() {
	for {
		payload, err := c.transport.Receive()
		if err != nil {
			// Check if we're shutting down
			select {
			case <-c.done:
				return
			default:
			}

			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()

			// Cancel all pending requests
			c.pendingMu.Lock()
			for _, req := range c.pending {
				req.err = err
				req.close()
			}
			c.pending = make(map[int]*pendingRequest)
			c.pendingMu.Unlock()
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		c.handleMessage(payload)
	}
}

// handleMessage dispatches a received message.
func (c *Client) handleMessage(payload []byte) {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}

	if msg.isNotification() {
		c.handleNotification(msg.Method, msg.Params)
		return
	}
	if msg.ID != nil {
		c.handleResponse(&msg)
	}
}

// handleResponse resolves the pending request matching the response id.
func (c *Client) handleResponse(msg *wireMessage) {
	c.pendingMu.Lock()
	req, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		return
	}

	if msg.Error != nil {
		req.err = msg.Error
	} else {
		req.result = msg.Result
	}
	req.close()
}

// handleNotification dispatches a server notification.
func (c *Client) handleNotification(method string, params json.RawMessage) {
	notificationsTotal.WithLabelValues(method).Inc()

	c.handlerMu.RLock()
	handlers := c.handlers
	c.handlerMu.RUnlock()

	switch method {
	case "Debugger.newSource":
		if handlers.onNewSource != nil {
			var body NewSource
			if err := json.Unmarshal(params, &body); err == nil {
				handlers.onNewSource(body)
			}
		}
	case "Console.newMessage":
		if handlers.onConsoleMessage != nil {
			var body ConsoleMessage
			if err := json.Unmarshal(params, &body); err == nil {
				handlers.onConsoleMessage(body)
			}
		}
	case "Session.error":
		if handlers.onSessionError != nil {
			var body RequestError
			if err := json.Unmarshal(params, &body); err == nil {
				handlers.onSessionError(body)
			}
		}
	}

	// Always call onAny if set
	if handlers.onAny != nil {
		handlers.onAny(method, params)
	}
}

// sendRequest sends a request and waits for the response result.
func (c *Client) sendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, ErrClientClosed
	default:
	}

	seq := int(atomic.AddInt64(&c.seq, 1))

	ctx, span := tracer.Start(ctx, method,
		trace.WithAttributes(attribute.Int("request.id", seq)))
	defer span.End()

	requestsTotal.WithLabelValues(method).Inc()

	result, err := c.roundTrip(ctx, seq, method, params)
	if err != nil {
		requestFailures.WithLabelValues(method).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

// roundTrip performs the request/response exchange for sendRequest.
func (c *Client) roundTrip(ctx context.Context, seq int, method string, params any) (json.RawMessage, error) {
	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
	}

	// Attach the session id to every request once a session exists.
	// Injecting into the marshaled payload keeps param structs free of
	// a sessionId field.
	if sid := c.SessionID(); sid != "" {
		if paramsJSON == nil {
			paramsJSON = json.RawMessage("{}")
		}
		injected, err := sjson.SetBytes(paramsJSON, "sessionId", string(sid))
		if err != nil {
			return nil, fmt.Errorf("inject session id: %w", err)
		}
		paramsJSON = injected
	}

	payload, err := json.Marshal(wireRequest{
		ID:     seq,
		Method: method,
		Params: paramsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	pending := &pendingRequest{
		done: make(chan struct{}),
	}

	c.pendingMu.Lock()
	c.pending[seq] = pending
	c.pendingMu.Unlock()

	if err := c.transport.Send(payload); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-pending.done:
		if pending.err != nil {
			return nil, pending.err
		}
		return pending.result, nil
	}
}

// Notification handler setters

// OnNewSource sets the handler for source registration notifications.
func (c *Client) OnNewSource(handler func(NewSource)) {
	c.handlerMu.Lock()
	c.handlers.onNewSource = handler
	c.handlerMu.Unlock()
}

// OnConsoleMessage sets the handler for console message notifications.
func (c *Client) OnConsoleMessage(handler func(ConsoleMessage)) {
	c.handlerMu.Lock()
	c.handlers.onConsoleMessage = handler
	c.handlerMu.Unlock()
}

// OnSessionError sets the handler for asynchronous session errors.
func (c *Client) OnSessionError(handler func(RequestError)) {
	c.handlerMu.Lock()
	c.handlers.onSessionError = handler
	c.handlerMu.Unlock()
}

// OnAnyNotification sets a handler for all notifications.
func (c *Client) OnAnyNotification(handler func(method string, params json.RawMessage)) {
	c.handlerMu.Lock()
	c.handlers.onAny = handler
	c.handlerMu.Unlock()
}

// Request methods

// CreateSession creates a session for a recording and retains its id
// for all subsequent requests.
func (c *Client) CreateSession(ctx context.Context, recordingID string) (SessionID, error) {
	result, err := c.sendRequest(ctx, "Session.create", map[string]string{"recordingId": recordingID})
	if err != nil {
		return "", err
	}

	var body struct {
		SessionID SessionID `json:"sessionId"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return "", fmt.Errorf("unmarshal session id: %w", err)
	}

	c.sessionMu.Lock()
	c.sessionID = body.SessionID
	c.sessionMu.Unlock()

	return body.SessionID, nil
}

// ReleaseSession releases the current session.
func (c *Client) ReleaseSession(ctx context.Context) error {
	if _, err := c.sendRequest(ctx, "Session.release", nil); err != nil {
		return err
	}

	c.sessionMu.Lock()
	c.sessionID = ""
	c.sessionMu.Unlock()
	return nil
}

// GetEndpoint returns the last point of the recording.
func (c *Client) GetEndpoint(ctx context.Context) (*PointDescription, error) {
	result, err := c.sendRequest(ctx, "Session.getEndpoint", nil)
	if err != nil {
		return nil, err
	}

	var body struct {
		Endpoint PointDescription `json:"endpoint"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("unmarshal endpoint: %w", err)
	}
	return &body.Endpoint, nil
}

// FindTarget asks the service where a resume operation starting at the
// given point would land.
func (c *Client) FindTarget(ctx context.Context, kind StepKind, point Point) (*PointDescription, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown step kind %q", kind)
	}

	result, err := c.sendRequest(ctx, kind.method(), map[string]any{"point": point})
	if err != nil {
		return nil, err
	}

	var body struct {
		Target PointDescription `json:"target"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("unmarshal target: %w", err)
	}
	return &body.Target, nil
}

// SetBreakpoint installs a breakpoint and returns its server id.
func (c *Client) SetBreakpoint(ctx context.Context, loc Location, condition string) (BreakpointID, error) {
	params := map[string]any{"location": loc}
	if condition != "" {
		params["condition"] = condition
	}

	result, err := c.sendRequest(ctx, "Debugger.setBreakpoint", params)
	if err != nil {
		return "", err
	}

	var body struct {
		BreakpointID BreakpointID `json:"breakpointId"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return "", fmt.Errorf("unmarshal breakpoint id: %w", err)
	}
	return body.BreakpointID, nil
}

// RemoveBreakpoint removes a breakpoint by server id.
func (c *Client) RemoveBreakpoint(ctx context.Context, id BreakpointID) error {
	_, err := c.sendRequest(ctx, "Debugger.removeBreakpoint", map[string]any{"breakpointId": id})
	return err
}

// BlackboxSource marks a source (or a range within it) as blackboxed.
func (c *Client) BlackboxSource(ctx context.Context, sourceID SourceID, begin, end *SourcePosition) error {
	params := map[string]any{"sourceId": sourceID}
	if begin != nil {
		params["begin"] = begin
	}
	if end != nil {
		params["end"] = end
	}

	_, err := c.sendRequest(ctx, "Debugger.blackboxSource", params)
	return err
}

// UnblackboxSource clears a blackboxed source or range.
func (c *Client) UnblackboxSource(ctx context.Context, sourceID SourceID, begin, end *SourcePosition) error {
	params := map[string]any{"sourceId": sourceID}
	if begin != nil {
		params["begin"] = begin
	}
	if end != nil {
		params["end"] = end
	}

	_, err := c.sendRequest(ctx, "Debugger.unblackboxSource", params)
	return err
}

// GetSourceContents fetches the text of a source.
func (c *Client) GetSourceContents(ctx context.Context, sourceID SourceID) (*SourceContents, error) {
	result, err := c.sendRequest(ctx, "Debugger.getSourceContents", map[string]any{"sourceId": sourceID})
	if err != nil {
		return nil, err
	}

	var body SourceContents
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("unmarshal source contents: %w", err)
	}
	return &body, nil
}

// GetPossibleBreakpoints lists the breakable positions in a source,
// optionally restricted to a range.
func (c *Client) GetPossibleBreakpoints(ctx context.Context, sourceID SourceID, begin, end *SourcePosition) ([]LineLocations, error) {
	params := map[string]any{"sourceId": sourceID}
	if begin != nil {
		params["begin"] = begin
	}
	if end != nil {
		params["end"] = end
	}

	result, err := c.sendRequest(ctx, "Debugger.getPossibleBreakpoints", params)
	if err != nil {
		return nil, err
	}

	var body struct {
		LineLocations []LineLocations `json:"lineLocations"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("unmarshal line locations: %w", err)
	}
	return body.LineLocations, nil
}

// GetAllFrames returns the stack frames at a point.
func (c *Client) GetAllFrames(ctx context.Context, point Point) ([]Frame, error) {
	result, err := c.sendRequest(ctx, "Pause.getAllFrames", map[string]any{"point": point})
	if err != nil {
		return nil, err
	}

	var body struct {
		Frames []Frame `json:"frames"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("unmarshal frames: %w", err)
	}
	return body.Frames, nil
}

// GetScopes returns the scope chain of a frame at a point.
func (c *Client) GetScopes(ctx context.Context, point Point, frameID FrameID) ([]Scope, error) {
	result, err := c.sendRequest(ctx, "Pause.getScopes", map[string]any{
		"point":   point,
		"frameId": frameID,
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		Scopes []Scope `json:"scopes"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return body.Scopes, nil
}

// Evaluate evaluates an expression in a frame at a point. A thrown
// exception is reported inside the result, not as an error.
func (c *Client) Evaluate(ctx context.Context, point Point, frameID FrameID, expression string) (*EvalResult, error) {
	result, err := c.sendRequest(ctx, "Pause.evaluateInFrame", map[string]any{
		"point":      point,
		"frameId":    frameID,
		"expression": expression,
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		Result EvalResult `json:"result"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("unmarshal eval result: %w", err)
	}
	return &body.Result, nil
}

// GetFrameSteps returns the execution points a frame passes through.
func (c *Client) GetFrameSteps(ctx context.Context, point Point, frameID FrameID) ([]PointDescription, error) {
	result, err := c.sendRequest(ctx, "Debugger.getFrameSteps", map[string]any{
		"point":   point,
		"frameId": frameID,
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		Steps []PointDescription `json:"steps"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return body.Steps, nil
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/retrace/internal/event"
	"github.com/dshills/retrace/internal/protocol"
)

type mockTransport struct {
	mu       sync.Mutex
	recvChan chan []byte
	closed   bool
	onSend   func(data []byte)
}

func newMockTransport() *mockTransport {
	return &mockTransport{recvChan: make(chan []byte, 64)}
}

func (m *mockTransport) Send(data []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return io.ErrClosedPipe
	}
	onSend := m.onSend
	m.mu.Unlock()
	if onSend != nil {
		onSend(data)
	}
	return nil
}

func (m *mockTransport) Receive() ([]byte, error) {
	data, ok := <-m.recvChan
	if !ok {
		return nil, io.EOF
	}
	return data, nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.recvChan)
	}
	return nil
}

func (m *mockTransport) deliver(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.recvChan <- data
	}
}

// newTestClient wires a client to an auto-responder. Returning an error
// from respond produces a request failure; returning nil produces an
// empty result.
func newTestClient(t *testing.T, respond func(method string, params gjson.Result) any) (*protocol.Client, *mockTransport) {
	t.Helper()
	mt := newMockTransport()
	mt.onSend = func(data []byte) {
		msg := gjson.ParseBytes(data)
		id := msg.Get("id").Int()
		result := respond(msg.Get("method").String(), msg.Get("params"))
		if err, ok := result.(error); ok {
			mt.deliver([]byte(fmt.Sprintf(
				`{"id":%d,"error":{"code":55,"message":%q}}`, id, err.Error())))
			return
		}
		if result == nil {
			result = map[string]any{}
		}
		resultJSON, err := json.Marshal(result)
		if err != nil {
			t.Errorf("marshal mock result: %v", err)
			return
		}
		mt.deliver([]byte(fmt.Sprintf(`{"id":%d,"result":%s}`, id, resultJSON)))
	}
	client := protocol.NewClient(mt)
	t.Cleanup(func() { client.Close() })
	return client, mt
}

// newClientForTransport wraps a hand-scripted transport.
func newClientForTransport(t *testing.T, mt *mockTransport) *protocol.Client {
	t.Helper()
	client := protocol.NewClient(mt)
	t.Cleanup(func() { client.Close() })
	return client
}

// target builds a findTarget response body.
func target(point string, ts float64, hasFrame bool) map[string]any {
	desc := map[string]any{"point": point, "time": ts}
	if hasFrame {
		desc["frame"] = []any{map[string]any{"sourceId": "s1", "line": 1, "column": 0}}
	}
	return map[string]any{"target": desc}
}

// initResponder layers session bootstrap answers over a test-specific
// responder. The endpoint sits at point "1000", time 100, with frames.
func initResponder(next func(method string, params gjson.Result) any) func(string, gjson.Result) any {
	return func(method string, params gjson.Result) any {
		switch method {
		case "Session.create":
			return map[string]any{"sessionId": "sess-1"}
		case "Session.getEndpoint":
			return map[string]any{"endpoint": map[string]any{
				"point": "1000",
				"time":  100.0,
				"frame": []any{map[string]any{"sourceId": "s1", "line": 1, "column": 0}},
			}}
		case "Session.release":
			return map[string]any{}
		}
		if next != nil {
			return next(method, params)
		}
		return map[string]any{}
	}
}

// newTestCoordinator builds an initialized coordinator over a scripted
// service.
func newTestCoordinator(t *testing.T, respond func(method string, params gjson.Result) any, opts ...Option) (*Coordinator, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	client, _ := newTestClient(t, initResponder(respond))
	c := New(client, bus, opts...)
	t.Cleanup(func() { c.Close() })
	if err := c.Initialize(testCtx(t), "rec-1"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return c, bus
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// recordEvents captures bus events on the given topics in delivery
// order.
type recordedEvent struct {
	topic   event.Topic
	payload any
}

func recordEvents(t *testing.T, bus *event.Bus, topics ...event.Topic) func() []recordedEvent {
	t.Helper()
	var mu sync.Mutex
	var events []recordedEvent
	for _, topic := range topics {
		_, err := bus.SubscribeFunc(topic, func(ctx context.Context, ev event.Event) error {
			mu.Lock()
			events = append(events, recordedEvent{topic: ev.Topic, payload: ev.Payload})
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", topic, err)
		}
	}
	return func() []recordedEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedEvent{}, events...)
	}
}

// pausedSignal subscribes immediately and returns a waiter for a
// paused event landing on point. Subscribe before issuing the step so
// a fast resolution cannot slip past.
func pausedSignal(t *testing.T, bus *event.Bus, point string) func() {
	t.Helper()
	done := make(chan struct{}, 4)
	_, err := bus.SubscribeFunc(event.TopicPaused, func(ctx context.Context, ev event.Event) error {
		if p, ok := ev.Payload.(event.Paused); ok && p.Point == point {
			done <- struct{}{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe paused: %v", err)
	}
	return func() {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for pause at %s", point)
		}
	}
}

func TestCoordinator_InitializeWarpsToEndpoint(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	pos := c.Position()
	if pos.Point != "1000" || pos.Time != 100 || !pos.HasFrames {
		t.Errorf("Position() = %+v, want endpoint 1000/100 with frames", pos)
	}
}

func TestCoordinator_TimeWarpUpdatesPosition(t *testing.T) {
	c, bus := newTestCoordinator(t, nil)
	events := recordEvents(t, bus, event.TopicPaused)

	c.TimeWarp("2000", 200, false, false)

	pos := c.Position()
	if pos.Point != "2000" || pos.Time != 200 || pos.HasFrames {
		t.Errorf("Position() = %+v", pos)
	}
	if c.CurrentPoint() != "2000" || c.CurrentTime() != 200 || c.HasFrames() {
		t.Errorf("getters = %s/%v/%v, want 2000/200/false",
			c.CurrentPoint(), c.CurrentTime(), c.HasFrames())
	}
	if n := c.AsyncChainLen(); n != 0 {
		t.Errorf("AsyncChainLen() = %d, want 0", n)
	}
	got := events()
	if len(got) != 1 {
		t.Fatalf("paused events = %d, want 1", len(got))
	}
	paused := got[0].payload.(event.Paused)
	if paused.Point != "2000" || paused.Time != 200 || paused.HasFrames {
		t.Errorf("paused payload = %+v", paused)
	}
}

type adjusterFunc func(Position) (Position, bool)

func (f adjusterFunc) AdjustWarp(pos Position) (Position, bool) { return f(pos) }

func TestCoordinator_TimeWarpConsultsAdjuster(t *testing.T) {
	adjust := adjusterFunc(func(pos Position) (Position, bool) {
		if pos.Point == "2000" {
			return Position{Point: "2048", Time: 205, HasFrames: true}, true
		}
		return Position{}, false
	})
	c, _ := newTestCoordinator(t, nil, WithAdjuster(adjust))

	c.TimeWarp("2000", 200, false, false)
	if pos := c.Position(); pos.Point != "2048" || pos.Time != 205 || !pos.HasFrames {
		t.Errorf("adjusted Position() = %+v, want substitution", pos)
	}

	c.TimeWarp("2000", 200, false, true)
	if pos := c.Position(); pos.Point != "2000" {
		t.Errorf("forced Position() = %+v, want adjuster bypassed", pos)
	}

	c.TimeWarp("3000", 300, false, false)
	if pos := c.Position(); pos.Point != "3000" {
		t.Errorf("Position() = %+v, want declined adjustment kept", pos)
	}
}

func TestCoordinator_SetAdjusterReplacesAtRuntime(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	c.TimeWarp("2000", 200, false, false)
	if pos := c.Position(); pos.Point != "2000" {
		t.Fatalf("Position() = %+v, want unadjusted warp", pos)
	}

	c.SetAdjuster(adjusterFunc(func(pos Position) (Position, bool) {
		return Position{Point: "2048", Time: 205, HasFrames: true}, true
	}))
	c.TimeWarp("3000", 300, false, false)
	if pos := c.Position(); pos.Point != "2048" || pos.Time != 205 || !pos.HasFrames {
		t.Errorf("Position() = %+v, want substituted destination", pos)
	}

	c.SetAdjuster(nil)
	c.TimeWarp("4000", 400, false, false)
	if pos := c.Position(); pos.Point != "4000" {
		t.Errorf("Position() = %+v, want adjuster removed", pos)
	}
}

func TestCoordinator_TimeWarpToPauseKeepsPause(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)
	p := c.pauses.Ensure("4000", 400, true)

	c.TimeWarpToPause(p)

	if pos := c.Position(); pos.Point != "4000" || pos.Time != 400 || !pos.HasFrames {
		t.Errorf("Position() = %+v", pos)
	}
	if c.currentPause() != p {
		t.Error("current pause was discarded instead of reused")
	}
}

func TestCoordinator_TimeWarpToPausePanicsWithoutPoint(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil pause")
		}
	}()
	c.TimeWarpToPause(nil)
}

func TestCoordinator_StepOverEndsAtResolvedTarget(t *testing.T) {
	c, bus := newTestCoordinator(t, func(method string, params gjson.Result) any {
		if method == "Debugger.findStepOverTarget" && params.Get("point").String() == "10" {
			return target("20", 200, true)
		}
		return nil
	})
	events := recordEvents(t, bus, event.TopicResumed, event.TopicPaused)
	wait := pausedSignal(t, bus, "20")

	c.StepOver("10")
	wait()

	if pos := c.Position(); pos.Point != "20" || pos.Time != 200 || !pos.HasFrames {
		t.Errorf("Position() = %+v, want 20/200 with frames", pos)
	}
	assertResumedBeforePaused(t, events(), "20")
}

func TestCoordinator_ResumedPrecedesPausedWhenResolutionIsSlow(t *testing.T) {
	// Delayed delivery needs a hand-rolled responder instead of the
	// synchronous helper.
	slow := newMockTransport()
	slow.onSend = func(data []byte) {
		msg := gjson.ParseBytes(data)
		id := msg.Get("id").Int()
		method := msg.Get("method").String()
		if method == "Debugger.findResumeTarget" {
			go func() {
				time.Sleep(30 * time.Millisecond)
				slow.deliver([]byte(fmt.Sprintf(
					`{"id":%d,"result":{"target":{"point":"30","time":300}}}`, id)))
			}()
			return
		}
		resultJSON, _ := json.Marshal(initResponder(nil)(method, msg.Get("params")))
		slow.deliver([]byte(fmt.Sprintf(`{"id":%d,"result":%s}`, id, resultJSON)))
	}
	client := protocol.NewClient(slow)
	t.Cleanup(func() { client.Close() })
	bus := event.NewBus()
	c := New(client, bus)
	t.Cleanup(func() { c.Close() })
	if err := c.Initialize(testCtx(t), "rec-1"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	events := recordEvents(t, bus, event.TopicResumed, event.TopicPaused)
	wait := pausedSignal(t, bus, "30")

	c.Resume("")
	wait()

	if pos := c.Position(); pos.Point != "30" || pos.Time != 300 || pos.HasFrames {
		t.Errorf("Position() = %+v, want 30/300 without frames", pos)
	}
	assertResumedBeforePaused(t, events(), "30")
}

// assertResumedBeforePaused verifies that a resumed event was observed
// strictly before the paused event landing on point.
func assertResumedBeforePaused(t *testing.T, events []recordedEvent, point string) {
	t.Helper()
	resumedAt := -1
	pausedAt := -1
	for i, ev := range events {
		switch payload := ev.payload.(type) {
		case event.Resumed:
			if resumedAt == -1 {
				resumedAt = i
			}
		case event.Paused:
			if payload.Point == point && pausedAt == -1 {
				pausedAt = i
			}
		}
	}
	if resumedAt == -1 {
		t.Fatal("no resumed event observed")
	}
	if pausedAt == -1 {
		t.Fatalf("no paused event at %s observed", point)
	}
	if resumedAt >= pausedAt {
		t.Errorf("resumed at index %d, paused at index %d; want resumed first", resumedAt, pausedAt)
	}
}

func TestCoordinator_ResumeWaitsForInitialization(t *testing.T) {
	var mu sync.Mutex
	calls := make(map[string]int)
	bus := event.NewBus()
	client, _ := newTestClient(t, initResponder(func(method string, params gjson.Result) any {
		mu.Lock()
		calls[method+"|"+params.Get("point").String()]++
		mu.Unlock()
		if method == "Debugger.findStepOverTarget" && params.Get("point").String() == "5" {
			return target("6", 60, false)
		}
		return nil
	}))
	c := New(client, bus)
	t.Cleanup(func() { c.Close() })
	wait := pausedSignal(t, bus, "6")

	c.StepOver("5")
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	early := calls["Debugger.findStepOverTarget|5"]
	mu.Unlock()
	if early != 0 {
		t.Fatalf("step issued %d lookups before initialization", early)
	}

	if err := c.Initialize(testCtx(t), "rec-1"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	wait()
	mu.Lock()
	late := calls["Debugger.findStepOverTarget|5"]
	mu.Unlock()
	if late != 1 {
		t.Errorf("lookups after initialization = %d, want 1", late)
	}
}

func TestCoordinator_ResumeFailureKeepsPosition(t *testing.T) {
	c, bus := newTestCoordinator(t, func(method string, params gjson.Result) any {
		if method == "Debugger.findResumeTarget" {
			return fmt.Errorf("unknown point")
		}
		return nil
	})

	resumed := make(chan struct{}, 1)
	if _, err := bus.SubscribeFunc(event.TopicResumed, func(ctx context.Context, ev event.Event) error {
		resumed <- struct{}{}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	events := recordEvents(t, bus, event.TopicPaused)

	c.Resume("")
	select {
	case <-resumed:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for resumed event")
	}
	time.Sleep(50 * time.Millisecond)

	if pos := c.Position(); pos.Point != "1000" {
		t.Errorf("Position() = %+v, want unchanged endpoint", pos)
	}
	if got := events(); len(got) != 0 {
		t.Errorf("paused events after failed resume = %d, want 0", len(got))
	}
}

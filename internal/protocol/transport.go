// Package protocol implements the recording-service wire protocol client.
package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport carries opaque JSON payloads to and from the recording service.
type Transport interface {
	// Send sends one message to the service.
	Send(payload []byte) error

	// Receive blocks until the next message arrives.
	Receive() ([]byte, error)

	// Close closes the transport.
	Close() error
}

// MaxMessageSize is the maximum allowed message size (10MB).
const MaxMessageSize = 10 * 1024 * 1024

// WebSocketTransport implements Transport over a websocket connection.
// The websocket's own framing delimits messages.
type WebSocketTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// DialWebSocket connects to the recording service at the given URL.
func DialWebSocket(ctx context.Context, url string) (*WebSocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(MaxMessageSize)
	return &WebSocketTransport{conn: conn}, nil
}

// NewWebSocketTransport wraps an existing websocket connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	conn.SetReadLimit(MaxMessageSize)
	return &WebSocketTransport{conn: conn}
}

// Send sends one message. The websocket allows a single concurrent
// writer, so sends are serialized.
func (t *WebSocketTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

// Receive blocks until the next data message arrives.
func (t *WebSocketTransport) Receive() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close closes the websocket connection.
func (t *WebSocketTransport) Close() error {
	return t.conn.Close()
}

// SocketTransport implements Transport over a TCP socket using
// Content-Length framing.
type SocketTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewSocketTransport dials a TCP address.
func NewSocketTransport(address string) (*SocketTransport, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	return &SocketTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

// NewSocketTransportFromConn creates a socket transport from an existing connection.
func NewSocketTransportFromConn(conn net.Conn) *SocketTransport {
	return &SocketTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// Send sends one framed message.
func (t *SocketTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return writeFrame(t.conn, payload)
}

// Receive blocks until the next framed message arrives.
func (t *SocketTransport) Receive() ([]byte, error) {
	return readFrame(t.reader)
}

// Close closes the socket connection.
func (t *SocketTransport) Close() error {
	return t.conn.Close()
}

// RawTransport wraps any io.ReadWriteCloser as a Transport using
// Content-Length framing. Used for pipes and in tests.
type RawTransport struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewRawTransport creates a transport from any ReadWriteCloser.
func NewRawTransport(rwc io.ReadWriteCloser) *RawTransport {
	return &RawTransport{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
	}
}

// Send sends one framed message.
func (t *RawTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return writeFrame(t.rwc, payload)
}

// Receive blocks until the next framed message arrives.
func (t *RawTransport) Receive() ([]byte, error) {
	return readFrame(t.reader)
}

// Close closes the underlying connection.
func (t *RawTransport) Close() error {
	return t.rwc.Close()
}

// writeFrame writes one Content-Length framed message.
func writeFrame(w io.Writer, payload []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))

	if _, err := w.Write([]byte(header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// readFrame reads one Content-Length framed message.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var contentLength int

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break // End of headers
		}

		parts := strings.SplitN(line, ": ", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid header: %s", line)
		}

		if strings.EqualFold(parts[0], "content-length") {
			length, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("invalid content-length: %w", err)
			}
			if length < 0 || length > MaxMessageSize {
				return nil, fmt.Errorf("content-length %d exceeds maximum allowed %d", length, MaxMessageSize)
			}
			contentLength = length
		}
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}

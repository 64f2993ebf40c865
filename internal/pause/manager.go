package pause

import (
	"sync"

	"github.com/dshills/retrace/internal/protocol"
)

// Manager caches every pause created during a session, keyed by point.
// Entries are never evicted: the map is bounded by the points actually
// visited while exploring one recording, and pause state stays valid
// forever because the recording is immutable.
type Manager struct {
	mu      sync.Mutex
	client  *protocol.Client
	byPoint map[protocol.Point]*Pause
}

// NewManager creates an empty pause manager.
func NewManager(client *protocol.Client) *Manager {
	return &Manager{
		client:  client,
		byPoint: make(map[protocol.Point]*Pause),
	}
}

// Ensure returns the pause for a point, creating it on first use.
// Repeated calls for the same point return the same instance; the
// first registration's time and hasFrames are kept.
func (m *Manager) Ensure(point protocol.Point, time float64, hasFrames bool) *Pause {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.byPoint[point]; ok {
		return p
	}
	p := New(m.client, point, time, hasFrames)
	m.byPoint[point] = p
	return p
}

// Get returns the pause for a point if one has been created.
func (m *Manager) Get(point protocol.Point) (*Pause, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byPoint[point]
	return p, ok
}

// Len returns the number of cached pauses.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byPoint)
}

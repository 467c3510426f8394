package peer

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// sessions hands out process-unique connection numbers.
var sessions atomic.Uint64

// Connection is one peer's transport handle.
type Connection struct {
	id      string
	role    Role
	session uint64

	pc *webrtc.PeerConnection // nil until bound by the factory

	mu        sync.Mutex
	state     State
	described bool
	closeOnce sync.Once
}

// NewConnection creates an unbound connection in StateCreated with a fresh
// session number.
func NewConnection(id string, role Role) *Connection {
	return &Connection{
		id:      id,
		role:    role,
		session: sessions.Add(1),
		state:   StateCreated,
	}
}

func (c *Connection) ID() string      { return c.id }
func (c *Connection) Role() Role      { return c.role }
func (c *Connection) Session() uint64 { return c.session }

// State returns the current connectivity state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition moves the connection forward to next and reports whether the
// state changed. Backward moves and anything after Disconnected are ignored,
// so each state is entered at most once.
func (c *Connection) transition(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if next <= c.state {
		return false
	}
	c.state = next
	return true
}

// claimDescriptor reports whether the caller may generate the local
// descriptor. It returns true exactly once.
func (c *Connection) claimDescriptor() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.described {
		return false
	}
	c.described = true
	return true
}

// RemoteDescription returns the applied remote descriptor, if any.
func (c *Connection) RemoteDescription() *webrtc.SessionDescription {
	if c.pc == nil {
		return nil
	}
	return c.pc.RemoteDescription()
}

// Close marks the connection disconnected without notifying and releases
// the underlying PeerConnection. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		if c.pc != nil {
			err = c.pc.Close()
		}
	})
	return err
}

package peer

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/1ureka/lanracer/internal/util"
)

// entry is one registered peer: its connection and, once known, its tunnel.
type entry struct {
	conn *Connection
	ch   Channel
}

// Info is a point-in-time view of one registered peer.
type Info struct {
	ID      string
	Role    Role
	State   State
	Session uint64
	Tunnel  bool
}

// Registry maps peer names to connections and tunnel channels.
//
// Has and Insert take the lock separately, so two callers racing on the same
// name can both pass the duplicate check; the later Insert wins and the
// earlier connection is displaced. Displaced connections stop receiving
// events (IsCurrent is false for their session) and are closed by Close.
type Registry struct {
	mu        sync.RWMutex
	peers     map[string]*entry
	displaced []*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[string]*entry),
	}
}

// Has reports whether a peer is registered under id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[id]
	return ok
}

// Insert registers c under its id, replacing any existing entry. The
// replaced connection is returned (nil if there was none).
func (r *Registry) Insert(c *Connection) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.peers[c.ID()]
	r.peers[c.ID()] = &entry{conn: c}
	if !ok {
		return nil
	}
	r.displaced = append(r.displaced, prev.conn)
	return prev.conn
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// IsCurrent reports whether session is the connection registered under id.
func (r *Registry) IsCurrent(id string, session uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[id]
	return ok && e.conn.Session() == session
}

// RegisterChannel attaches ch to the peer. It is ignored (false) when session
// is not the currently registered connection for id.
func (r *Registry) RegisterChannel(id string, session uint64, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok || e.conn.Session() != session {
		return false
	}
	e.ch = ch
	return true
}

// Channel returns the tunnel channel registered for id.
func (r *Registry) Channel(id string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[id]
	if !ok || e.ch == nil {
		return nil, false
	}
	return e.ch, true
}

// Broadcast sends frame to every registered tunnel channel. Each delivery is
// independent: failures are logged and joined into the returned error, and
// never stop delivery to the remaining peers. delivered counts successes.
func (r *Registry) Broadcast(frame []byte) (delivered int, err error) {
	type target struct {
		id string
		ch Channel
	}

	r.mu.RLock()
	targets := make([]target, 0, len(r.peers))
	for id, e := range r.peers {
		if e.ch != nil {
			targets = append(targets, target{id: id, ch: e.ch})
		}
	}
	r.mu.RUnlock()

	var errs []error
	for _, t := range targets {
		if sendErr := t.ch.Send(frame); sendErr != nil {
			errs = append(errs, fmt.Errorf("%w %q: %w", ErrSendFailed, t.id, sendErr))
			if errors.Is(sendErr, ErrChannelNotOpen) || errors.Is(sendErr, ErrCongested) {
				util.LogDebug("[%s] frame dropped: %v", t.id, sendErr)
			} else {
				util.LogWarning("[%s] failed to send frame: %v", t.id, sendErr)
			}
			continue
		}
		delivered++
		util.Stats.AddUp(len(frame))
	}

	return delivered, errors.Join(errs...)
}

// Remove purges the peer if session is still the registered connection, and
// closes its channel and connection.
func (r *Registry) Remove(id string, session uint64) bool {
	r.mu.Lock()
	e, ok := r.peers[id]
	if !ok || e.conn.Session() != session {
		r.mu.Unlock()
		return false
	}
	delete(r.peers, id)
	r.mu.Unlock()

	if err := closeEntry(e); err != nil {
		util.LogDebug("[%s] close after removal: %v", id, err)
	}
	return true
}

// Peers returns a snapshot of every registered peer, sorted by name.
func (r *Registry) Peers() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.peers))
	for _, e := range r.peers {
		infos = append(infos, Info{
			ID:      e.conn.ID(),
			Role:    e.conn.Role(),
			State:   e.conn.State(),
			Session: e.conn.Session(),
			Tunnel:  e.ch != nil,
		})
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Close closes every registered and displaced connection and empties the
// registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.peers))
	for _, e := range r.peers {
		entries = append(entries, e)
	}
	displaced := r.displaced
	r.peers = make(map[string]*entry)
	r.displaced = nil
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		errs = append(errs, closeEntry(e))
	}
	for _, c := range displaced {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func closeEntry(e *entry) error {
	var chErr error
	if e.ch != nil {
		chErr = e.ch.Close()
	}
	return errors.Join(chErr, e.conn.Close())
}

package peer

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel records every frame it is asked to send.
type fakeChannel struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	closed bool
}

func (c *fakeChannel) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return c.err
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func register(t *testing.T, r *Registry, id string, ch Channel) *Connection {
	t.Helper()
	c := NewConnection(id, RoleInitiator)
	require.Nil(t, r.Insert(c))
	if ch != nil {
		require.True(t, r.RegisterChannel(id, c.Session(), ch))
	}
	return c
}

func TestRegistryHasInsertGet(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Has("alpha"))

	c := register(t, r, "alpha", nil)
	assert.True(t, r.Has("alpha"))

	got, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = r.Get("beta")
	assert.False(t, ok)

	_, ok = r.Channel("alpha")
	assert.False(t, ok, "no channel until one is registered")
}

func TestRegistryUniquenessUnderSerialRegistration(t *testing.T) {
	r := NewRegistry()
	names := []string{"a", "b", "c", "a", "b", "d"}

	accepted := 0
	for _, name := range names {
		if r.Has(name) {
			continue
		}
		r.Insert(NewConnection(name, RoleResponder))
		accepted++

		seen := make(map[string]bool)
		for _, info := range r.Peers() {
			require.False(t, seen[info.ID], "duplicate peer %q", info.ID)
			seen[info.ID] = true
		}
	}

	assert.Equal(t, 4, accepted)
	assert.Equal(t, 4, r.Len())
}

// TestRegistryOverwriteOrphansPrevious documents the check-then-insert race:
// a second registration under the same name replaces the first, whose
// events and channel are from then on ignored.
func TestRegistryOverwriteOrphansPrevious(t *testing.T) {
	r := NewRegistry()

	first := NewConnection("peer", RoleResponder)
	second := NewConnection("peer", RoleResponder)

	// Both callers passed the duplicate check before either inserted.
	require.False(t, r.Has("peer"))
	require.Nil(t, r.Insert(first))
	assert.Same(t, first, r.Insert(second))

	got, ok := r.Get("peer")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.False(t, r.IsCurrent("peer", first.Session()))
	assert.True(t, r.IsCurrent("peer", second.Session()))

	orphanCh := &fakeChannel{}
	assert.False(t, r.RegisterChannel("peer", first.Session(), orphanCh))
	assert.False(t, r.Remove("peer", first.Session()), "orphan must not purge its replacement")
	assert.True(t, r.Has("peer"))

	require.NoError(t, r.Close())
	assert.Equal(t, StateDisconnected, first.State(), "displaced connection closed on shutdown")
	assert.Equal(t, StateDisconnected, second.State())
	assert.Equal(t, 0, r.Len())
}

func TestRegistryBroadcastCompleteness(t *testing.T) {
	const n, k = 6, 2
	r := NewRegistry()

	channels := make([]*fakeChannel, n)
	for i := range channels {
		channels[i] = &fakeChannel{}
		if i < k {
			channels[i].err = errors.New("boom")
		}
		register(t, r, fmt.Sprintf("peer-%d", i), channels[i])
	}
	// A peer without a channel yet is not a delivery target.
	register(t, r, "pending", nil)

	frame := []byte{0x45, 0x00, 0x00, 0x14}
	delivered, err := r.Broadcast(frame)

	assert.Equal(t, n-k, delivered)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSendFailed)

	for i, ch := range channels {
		assert.Equal(t, 1, ch.attempts(), "peer-%d must get exactly one attempt", i)
		assert.Equal(t, frame, ch.frames[0])
	}
}

func TestRegistryBroadcastNoPeers(t *testing.T) {
	delivered, err := NewRegistry().Broadcast([]byte{1})
	assert.Zero(t, delivered)
	assert.NoError(t, err)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	ch := &fakeChannel{}
	c := register(t, r, "gone", ch)

	assert.False(t, r.Remove("gone", c.Session()+1000))
	assert.True(t, r.Remove("gone", c.Session()))
	assert.False(t, r.Has("gone"))
	assert.True(t, ch.closed)
	assert.Equal(t, StateDisconnected, c.State())

	assert.False(t, r.Remove("gone", c.Session()), "second removal is a no-op")
}

func TestRegistryPeersSnapshot(t *testing.T) {
	r := NewRegistry()
	register(t, r, "zulu", nil)
	c := register(t, r, "alpha", &fakeChannel{})
	c.transition(StateConnected)

	infos := r.Peers()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].ID)
	assert.Equal(t, StateConnected, infos[0].State)
	assert.True(t, infos[0].Tunnel)
	assert.Equal(t, "zulu", infos[1].ID)
	assert.False(t, infos[1].Tunnel)
}

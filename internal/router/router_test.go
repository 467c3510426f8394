package router

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/lanracer/internal/event"
	"github.com/1ureka/lanracer/internal/peer"
	"github.com/1ureka/lanracer/internal/signaling"
)

type readResult struct {
	frame []byte
	err   error
}

// fakeDevice serves queued reads and records writes.
type fakeDevice struct {
	reads chan readResult

	mu         sync.Mutex
	written    [][]byte
	failWrites int

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		reads:  make(chan readResult, 16),
		closed: make(chan struct{}),
	}
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	select {
	case r := <-d.reads:
		if r.err != nil {
			return 0, r.err
		}
		return copy(p, r.frame), nil
	case <-d.closed:
		return 0, os.ErrClosed
	}
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWrites > 0 {
		d.failWrites--
		return 0, errors.New("device busy")
	}
	d.written = append(d.written, append([]byte(nil), p...))
	return len(p), nil
}

func (d *fakeDevice) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDevice) writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.written...)
}

type fakeChannel struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeChannel) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type harness struct {
	router   *Router
	dev      *fakeDevice
	registry *peer.Registry
	bus      *event.Bus
	cancel   context.CancelFunc
	done     chan error
}

func startRouter(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		dev:      newFakeDevice(),
		registry: peer.NewRegistry(),
		bus:      event.NewBus(8),
		done:     make(chan error, 1),
	}
	h.router = New(h.dev, h.registry, h.bus, Options{MTU: 1500})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.router.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("router did not stop")
		}
		h.registry.Close()
	})
	return h
}

// connect registers a connection with a fake channel under id.
func (h *harness) connect(id string) (*peer.Connection, *fakeChannel) {
	c := peer.NewConnection(id, peer.RoleInitiator)
	h.registry.Insert(c)
	ch := &fakeChannel{}
	h.router.OnTunnelOpen(id, c.Session(), ch)
	return c, ch
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestUplinkBroadcastsToEveryPeer(t *testing.T) {
	h := startRouter(t)
	_, chB := h.connect("B")
	_, chC := h.connect("C")

	frame := []byte{0x45, 0x00, 0x00, 0x14, 0x01, 0x02}
	h.dev.reads <- readResult{frame: frame}

	for _, ch := range []*fakeChannel{chB, chC} {
		require.Eventually(t, func() bool { return len(ch.received()) == 1 }, waitFor, tick)
		assert.Equal(t, frame, ch.received()[0])
	}
}

func TestZeroLengthReadIsSkipped(t *testing.T) {
	h := startRouter(t)
	_, ch := h.connect("B")

	h.dev.reads <- readResult{frame: []byte{}}
	h.dev.reads <- readResult{frame: []byte{0x45, 0x01}}

	require.Eventually(t, func() bool { return len(ch.received()) > 0 }, waitFor, tick)
	assert.Equal(t, [][]byte{{0x45, 0x01}}, ch.received())
}

func TestReadErrorDoesNotStopUplink(t *testing.T) {
	h := startRouter(t)
	_, ch := h.connect("B")

	h.dev.reads <- readResult{err: errors.New("transient")}
	h.dev.reads <- readResult{frame: []byte{0x45, 0x02}}

	require.Eventually(t, func() bool { return len(ch.received()) == 1 }, waitFor, tick)
}

func TestDownlinkWritesVerbatim(t *testing.T) {
	h := startRouter(t)
	c, _ := h.connect("B")

	frame := []byte{0x45, 0x00, 0xaa, 0xbb}
	h.router.OnData("B", c.Session(), frame)
	frame[2] = 0 // the router owns a copy

	require.Eventually(t, func() bool { return len(h.dev.writes()) == 1 }, waitFor, tick)
	assert.Equal(t, []byte{0x45, 0x00, 0xaa, 0xbb}, h.dev.writes()[0])
}

func TestWriteFailureDoesNotStopLoop(t *testing.T) {
	h := startRouter(t)
	c, _ := h.connect("B")
	h.dev.mu.Lock()
	h.dev.failWrites = 1
	h.dev.mu.Unlock()

	h.router.OnData("B", c.Session(), []byte{1})
	h.router.OnData("B", c.Session(), []byte{2})

	require.Eventually(t, func() bool { return len(h.dev.writes()) == 1 }, waitFor, tick)
	assert.Equal(t, []byte{2}, h.dev.writes()[0])
}

func TestDisconnectPurgesPeer(t *testing.T) {
	h := startRouter(t)
	c, ch := h.connect("B")

	h.router.OnStateChange("B", c.Session(), peer.StateConnected)
	h.router.OnStateChange("B", c.Session(), peer.StateDisconnected)

	require.Eventually(t, func() bool { return !h.registry.Has("B") }, waitFor, tick)
	assert.True(t, ch.isClosed())
}

func TestReplacedConnectionIsIgnored(t *testing.T) {
	h := startRouter(t)
	old, oldCh := h.connect("B")
	current, currentCh := h.connect("B")

	// The channel registered for the replaced connection no longer receives
	// broadcasts.
	h.dev.reads <- readResult{frame: []byte{0x45, 0x10}}
	require.Eventually(t, func() bool { return len(currentCh.received()) == 1 }, waitFor, tick)
	assert.Empty(t, oldCh.received())

	// Its packets and state changes are dropped.
	h.router.OnData("B", old.Session(), []byte{0xde, 0xad})
	h.router.OnStateChange("B", old.Session(), peer.StateDisconnected)
	h.router.OnData("B", current.Session(), []byte{0xbe, 0xef})

	require.Eventually(t, func() bool { return len(h.dev.writes()) == 1 }, waitFor, tick)
	assert.Equal(t, []byte{0xbe, 0xef}, h.dev.writes()[0])
	assert.True(t, h.registry.IsCurrent("B", current.Session()))
}

func TestLateChannelFromReplacedConnectionIsClosed(t *testing.T) {
	h := startRouter(t)
	old := peer.NewConnection("B", peer.RoleResponder)
	h.registry.Insert(old)
	h.connect("B")

	late := &fakeChannel{}
	h.router.OnTunnelOpen("B", old.Session(), late)
	assert.True(t, late.isClosed())
}

func TestAnswerRejectsMalformedOffer(t *testing.T) {
	h := startRouter(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	_, err := h.router.Answer(ctx, "B", "not a descriptor")
	assert.ErrorIs(t, err, signaling.ErrMalformedDescriptor)
	assert.False(t, h.registry.Has("B"))
}

func TestOperationsReportPeerErrors(t *testing.T) {
	h := startRouter(t)
	h.connect("B")

	assert.ErrorIs(t, h.router.Complete("nobody", "x"), peer.ErrPeerNotFound)
	assert.ErrorIs(t, h.router.Drop("nobody"), peer.ErrPeerNotFound)

	_, err := h.router.Offer(context.Background(), "B")
	assert.ErrorIs(t, err, peer.ErrDuplicatePeer)

	peers := h.router.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "B", peers[0].ID)
	assert.True(t, peers[0].Tunnel)

	require.NoError(t, h.router.Drop("B"))
	assert.Empty(t, h.router.Peers())
}

func TestRunStopsOnCancel(t *testing.T) {
	h := startRouter(t)
	h.cancel()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("router did not stop")
	}
	// The cleanup expects a result on done.
	h.done <- nil

	assert.ErrorIs(t, h.bus.Publish(event.Connected("B", 1)), event.ErrClosed)
	_, err := h.router.Answer(context.Background(), "B", "x")
	assert.ErrorIs(t, err, event.ErrClosed)

	_, err = h.dev.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrClosed)
}

// Package router moves IP frames between the local tunnel interface and every
// connected peer, and applies connection lifecycle events to the registry.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/lanracer/internal/event"
	"github.com/1ureka/lanracer/internal/peer"
	"github.com/1ureka/lanracer/internal/util"
)

// ErrInterfaceIO marks a failed read from or write to the local interface.
var ErrInterfaceIO = errors.New("local interface I/O failure")

// readRetryDelay paces the uplink after a failed read.
const readRetryDelay = 10 * time.Millisecond

// Options configures a Router.
type Options struct {
	// MTU is the largest frame read from the device.
	MTU  int
	Peer peer.Options
}

// Router fans frames read from the device out to all peers, writes frames
// received from peers to the device, and is the sole consumer of the event
// bus. It implements peer.Handler for the connections its factory builds.
type Router struct {
	dev      io.ReadWriteCloser
	registry *peer.Registry
	bus      *event.Bus
	factory  *peer.Factory
	mtu      int
}

var _ peer.Handler = (*Router)(nil)

// New creates a router over dev. Connections are registered into registry and
// report through bus.
func New(dev io.ReadWriteCloser, registry *peer.Registry, bus *event.Bus, opts Options) *Router {
	mtu := opts.MTU
	if mtu <= 0 {
		mtu = 1500
	}
	r := &Router{
		dev:      dev,
		registry: registry,
		bus:      bus,
		mtu:      mtu,
	}
	r.factory = peer.NewFactory(opts.Peer, registry, r)
	return r
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Offer starts an outbound connection to id and returns the descriptor to
// hand to the remote operator.
func (r *Router) Offer(ctx context.Context, id string) (string, error) {
	return r.factory.CreateOffer(ctx, id)
}

// Complete applies the remote answer for an outbound connection to id.
func (r *Router) Complete(id, descriptor string) error {
	return r.factory.ApplyAnswer(id, descriptor)
}

// Answer accepts a remote offer from id and returns the answer descriptor.
// The offer is handed to the coordination loop, so Run must be active.
func (r *Router) Answer(ctx context.Context, id, descriptor string) (string, error) {
	reply := make(chan event.Answer, 1)
	if err := r.bus.Publish(event.Offer(id, descriptor, reply)); err != nil {
		return "", err
	}

	select {
	case ans := <-reply:
		return ans.Descriptor, ans.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Drop forgets id and closes its connection.
func (r *Router) Drop(id string) error {
	return r.factory.Discard(id)
}

// Peers lists the registered peers.
func (r *Router) Peers() []peer.Info {
	return r.registry.Peers()
}

// ---------------------------------------------------------------------------
// peer.Handler
// ---------------------------------------------------------------------------

func (r *Router) OnStateChange(id string, session uint64, state peer.State) {
	var ev event.Event
	switch state {
	case peer.StateConnected:
		ev = event.Connected(id, session)
	case peer.StateDisconnected:
		ev = event.Disconnected(id, session)
	default:
		util.LogDebug("[%s] #%d %s", id, session, state)
		return
	}
	r.publish(ev)
}

func (r *Router) OnTunnelOpen(id string, session uint64, ch peer.Channel) {
	if !r.registry.RegisterChannel(id, session, ch) {
		util.LogDebug("[%s] #%d is no longer registered, closing its channel", id, session)
		ch.Close()
	}
}

func (r *Router) OnData(id string, session uint64, frame []byte) {
	r.publish(event.Packet(id, session, append([]byte(nil), frame...)))
}

func (r *Router) publish(ev event.Event) {
	if err := r.bus.Publish(ev); err != nil {
		util.LogDebug("[%s] %s dropped: %v", ev.Peer, ev.Kind, err)
	}
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

// Run forwards traffic and processes events until ctx is cancelled. On
// return the bus and the device are closed.
func (r *Router) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		r.bus.Close()
		if err := r.dev.Close(); err != nil {
			util.LogDebug("close interface: %v", err)
		}
		return nil
	})
	g.Go(func() error { return r.uplink(ctx) })
	g.Go(func() error { return r.coordinate(ctx, g) })

	return g.Wait()
}

// uplink reads frames from the device and broadcasts each non-empty one.
func (r *Router) uplink(ctx context.Context) error {
	buf := make([]byte, r.mtu)

	for {
		n, err := r.dev.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			util.LogWarning("%v", fmt.Errorf("%w: read: %w", ErrInterfaceIO, err))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readRetryDelay):
			}
			continue
		}
		if n == 0 {
			continue
		}

		frame := append([]byte(nil), buf[:n]...)
		if util.DebugEnabled() {
			util.LogDebug("↑ %s", describeFrame(frame))
		}
		// Per-peer failures are already logged by the registry.
		r.registry.Broadcast(frame)
	}
}

// coordinate is the single consumer of the bus.
func (r *Router) coordinate(ctx context.Context, g *errgroup.Group) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.bus.Events():
			r.handle(ctx, g, ev)
		}
	}
}

func (r *Router) handle(ctx context.Context, g *errgroup.Group, ev event.Event) {
	if ev.Kind != event.InboundOfferReceived && !r.registry.IsCurrent(ev.Peer, ev.Session) {
		util.LogDebug("[%s] ignoring %s from replaced connection #%d", ev.Peer, ev.Kind, ev.Session)
		return
	}

	switch ev.Kind {
	case event.PacketFromPeer:
		if util.DebugEnabled() {
			util.LogDebug("[%s] ↓ %s", ev.Peer, describeFrame(ev.Packet))
		}
		n, err := r.dev.Write(ev.Packet)
		if err != nil {
			util.LogWarning("[%s] %v", ev.Peer, fmt.Errorf("%w: write: %w", ErrInterfaceIO, err))
			return
		}
		util.Stats.AddDown(n)

	case event.PeerConnected:
		util.Stats.AddJoined()
		util.LogSuccess("peer %s connected", ev.Peer)

	case event.PeerDisconnected:
		util.Stats.AddLeft()
		util.LogWarning("peer %s disconnected", ev.Peer)
		r.registry.Remove(ev.Peer, ev.Session)

	case event.InboundOfferReceived:
		util.LogInfo("received offer from %s", ev.Peer)
		g.Go(func() error {
			descriptor, err := r.factory.AcceptOffer(ctx, ev.Peer, ev.Descriptor)
			ev.Reply <- event.Answer{Descriptor: descriptor, Err: err}
			return nil
		})

	default:
		util.LogDebug("[%s] unknown event %s", ev.Peer, ev.Kind)
	}
}

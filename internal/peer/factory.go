package peer

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/lanracer/internal/signaling"
	"github.com/1ureka/lanracer/internal/util"
)

// Options configures a Factory.
type Options struct {
	STUNServers []string
	// GatherTimeout bounds the wait for candidate discovery. Zero waits for
	// as long as the caller's context allows.
	GatherTimeout time.Duration
	// Loopback includes loopback host candidates.
	Loopback bool
}

// Factory builds initiator and responder connections, registers them, and
// drives the manual offer/answer exchange. Descriptors are only returned
// after candidate discovery completes, so a single copy/paste round trip
// carries everything the remote side needs.
type Factory struct {
	api           *webrtc.API
	iceServers    []webrtc.ICEServer
	gatherTimeout time.Duration

	registry *Registry
	handler  Handler
}

// NewFactory creates a factory registering into registry and reporting to
// handler.
func NewFactory(opts Options, registry *Registry, handler Handler) *Factory {
	settingEngine := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}
	settingEngine.SetIncludeLoopbackCandidate(opts.Loopback)

	var iceServers []webrtc.ICEServer
	if len(opts.STUNServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: slices.Clone(opts.STUNServers)}}
	}

	return &Factory{
		api:           webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		iceServers:    iceServers,
		gatherTimeout: opts.GatherTimeout,
		registry:      registry,
		handler:       handler,
	}
}

// ---------------------------------------------------------------------------
// Initiator
// ---------------------------------------------------------------------------

// CreateOffer creates an initiator connection for id, opens its tunnel
// channel, and returns the encoded offer once candidate discovery finishes.
func (f *Factory) CreateOffer(ctx context.Context, id string) (string, error) {
	if err := f.checkNew(id); err != nil {
		return "", err
	}

	c, err := f.newConnection(id, RoleInitiator)
	if err != nil {
		return "", err
	}

	raw, err := createTunnelChannel(c.pc)
	if err != nil {
		c.Close()
		return "", fmt.Errorf("%w: create tunnel channel: %w", ErrNegotiation, err)
	}

	f.insert(c)
	f.attachChannel(c, newTunnelChannel(raw))

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("%w: create offer: %w", ErrNegotiation, err)
	}

	local, err := f.describe(ctx, c, offer)
	if err != nil {
		return "", err
	}
	f.transition(c, StateAwaitingRemoteDescriptor)

	return signaling.Encode(local)
}

// ApplyAnswer applies the responder's answer to the initiator connection
// registered under id. A malformed answer leaves the connection waiting, so
// the operator can paste again.
func (f *Factory) ApplyAnswer(id, descriptor string) error {
	c, ok := f.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrPeerNotFound, id)
	}
	if c.Role() != RoleInitiator {
		return fmt.Errorf("%w: peer %q did not originate an offer", ErrNegotiation, id)
	}

	answer, err := signaling.Decode(descriptor)
	if err != nil {
		return err
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: expected an answer, got %s", signaling.ErrMalformedDescriptor, answer.Type)
	}

	if state := c.State(); state != StateAwaitingRemoteDescriptor {
		return fmt.Errorf("%w: peer %q is %s, not awaiting an answer", ErrNegotiation, id, state)
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: set remote description: %w", ErrNegotiation, err)
	}
	f.transition(c, StateNegotiating)

	return nil
}

// ---------------------------------------------------------------------------
// Responder
// ---------------------------------------------------------------------------

// AcceptOffer creates a responder connection for id from the remote offer and
// returns the encoded answer once candidate discovery finishes. The tunnel
// channel is registered when the initiator opens it.
func (f *Factory) AcceptOffer(ctx context.Context, id, descriptor string) (string, error) {
	if err := f.checkNew(id); err != nil {
		return "", err
	}

	offer, err := signaling.Decode(descriptor)
	if err != nil {
		return "", err
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return "", fmt.Errorf("%w: expected an offer, got %s", signaling.ErrMalformedDescriptor, offer.Type)
	}

	c, err := f.newConnection(id, RoleResponder)
	if err != nil {
		return "", err
	}

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			util.LogWarning("[%s] ignoring unexpected data channel %q", id, dc.Label())
			return
		}
		f.attachChannel(c, newTunnelChannel(dc))
	})

	f.insert(c)

	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("%w: set remote description: %w", ErrNegotiation, err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("%w: create answer: %w", ErrNegotiation, err)
	}

	local, err := f.describe(ctx, c, answer)
	if err != nil {
		return "", err
	}
	f.transition(c, StateNegotiating)

	return signaling.Encode(local)
}

// Discard removes the peer registered under id and closes its connection,
// so a failed negotiation can be retried under the same name.
func (f *Factory) Discard(id string) error {
	c, ok := f.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrPeerNotFound, id)
	}
	f.registry.Remove(id, c.Session())
	return nil
}

// ---------------------------------------------------------------------------
// Shared plumbing
// ---------------------------------------------------------------------------

func (f *Factory) checkNew(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidPeer)
	}
	if f.registry.Has(id) {
		return fmt.Errorf("%w: %q", ErrDuplicatePeer, id)
	}
	return nil
}

// newConnection creates the pion PeerConnection and wires the state-change
// callback shared by both roles.
func (f *Factory) newConnection(id string, role Role) (*Connection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
	if err != nil {
		return nil, fmt.Errorf("%w: new peer connection: %w", ErrNegotiation, err)
	}

	c := NewConnection(id, role)
	c.pc = pc

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		util.LogDebug("[%s] PeerConnection state: %s", id, s)

		switch s {
		case webrtc.PeerConnectionStateConnecting:
			f.transition(c, StateNegotiating)
		case webrtc.PeerConnectionStateConnected:
			f.transition(c, StateConnected)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			f.transition(c, StateDisconnected)
		case webrtc.PeerConnectionStateDisconnected:
			util.LogWarning("[%s] connection interrupted, waiting for ICE to recover", id)
		}
	})

	return c, nil
}

// transition moves c forward and notifies the handler only on a change.
func (f *Factory) transition(c *Connection, next State) {
	if c.transition(next) {
		f.handler.OnStateChange(c.id, c.session, next)
	}
}

func (f *Factory) insert(c *Connection) {
	if prev := f.registry.Insert(c); prev != nil {
		util.LogWarning("[%s] registered twice; connection #%d replaced by #%d", c.id, prev.Session(), c.session)
	}
}

// attachChannel wires inbound frames to the handler and hands the channel
// over for registration.
func (f *Factory) attachChannel(c *Connection, ch *TunnelChannel) {
	ch.OnFrame(func(frame []byte) {
		f.handler.OnData(c.id, c.session, frame)
	})
	ch.OnOpen(func() {
		util.LogDebug("[%s] tunnel channel open", c.id)
	})
	ch.OnClose(func() {
		util.LogDebug("[%s] tunnel channel closed", c.id)
	})
	f.handler.OnTunnelOpen(c.id, c.session, ch)
}

// describe sets local as the local description and waits for candidate
// discovery, returning the complete description.
func (f *Factory) describe(ctx context.Context, c *Connection, local webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if !c.claimDescriptor() {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: local descriptor for %q already generated", ErrNegotiation, c.id)
	}

	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(local); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local description: %w", ErrNegotiation, err)
	}
	if err := f.waitGathered(ctx, gathered); err != nil {
		return webrtc.SessionDescription{}, err
	}

	desc := c.pc.LocalDescription()
	if desc == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: no local description after gathering", ErrNegotiation)
	}
	return *desc, nil
}

func (f *Factory) waitGathered(ctx context.Context, gathered <-chan struct{}) error {
	var timeout <-chan time.Time
	if f.gatherTimeout > 0 {
		timer := time.NewTimer(f.gatherTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-gathered:
		return nil
	case <-timeout:
		return fmt.Errorf("%w: candidate discovery timed out after %s", ErrNegotiation, f.gatherTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrNegotiation, ctx.Err())
	}
}

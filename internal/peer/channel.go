package peer

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// ChannelLabel names the DataChannel that carries IP frames.
const ChannelLabel = "lanracer"

const (
	highWaterMark = 1024 * 1024 // start dropping frames above this bufferedAmount
	lowWaterMark  = 256 * 1024  // stop dropping once bufferedAmount falls below this
)

// Channel is the registry's view of a tunnel: something frames can be sent
// through.
type Channel interface {
	Send(frame []byte) error
	Close() error
}

// TunnelChannel wraps the pion DataChannel carrying one IP frame per
// message. Send never blocks: once bufferedAmount passes the high water mark
// frames are dropped until the buffer drains below the low water mark.
type TunnelChannel struct {
	raw       *webrtc.DataChannel
	congested atomic.Bool
}

var _ Channel = (*TunnelChannel)(nil)

// newTunnelChannel wraps raw and wires the drain callback.
func newTunnelChannel(raw *webrtc.DataChannel) *TunnelChannel {
	ch := &TunnelChannel{raw: raw}

	raw.SetBufferedAmountLowThreshold(lowWaterMark)
	raw.OnBufferedAmountLow(func() {
		ch.congested.Store(false)
	})

	return ch
}

// createTunnelChannel opens the tunnel channel on the initiator side.
// Unordered with no retransmits: the channel behaves like a datagram link.
func createTunnelChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	maxRetransmits := uint16(0)

	return pc.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
}

// Send transmits one frame, or drops it with ErrChannelNotOpen / ErrCongested.
func (c *TunnelChannel) Send(frame []byte) error {
	if c.raw.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	if c.congested.Load() {
		return ErrCongested
	}
	if c.raw.BufferedAmount() > highWaterMark {
		c.congested.Store(true)
		return ErrCongested
	}
	return c.raw.Send(frame)
}

// OnFrame registers the callback for every inbound message.
func (c *TunnelChannel) OnFrame(fn func([]byte)) {
	c.raw.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

// OnOpen / OnClose / Label / Close proxy the underlying DataChannel.
func (c *TunnelChannel) OnOpen(fn func())  { c.raw.OnOpen(fn) }
func (c *TunnelChannel) OnClose(fn func()) { c.raw.OnClose(fn) }
func (c *TunnelChannel) Label() string     { return c.raw.Label() }
func (c *TunnelChannel) Close() error      { return c.raw.Close() }

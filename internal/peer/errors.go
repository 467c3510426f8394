package peer

import "errors"

var (
	// ErrDuplicatePeer is returned when a peer name is already registered.
	ErrDuplicatePeer = errors.New("peer already exists")
	// ErrPeerNotFound is returned when a follow-up call names an unknown peer.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrInvalidPeer is returned for an empty peer name.
	ErrInvalidPeer = errors.New("invalid peer name")
	// ErrNegotiation wraps every transport-level failure during signaling.
	// The affected connection is left as is; start over with a new name or
	// after it is purged.
	ErrNegotiation = errors.New("transport negotiation failed")
	// ErrSendFailed wraps a failed delivery to one peer during broadcast.
	ErrSendFailed = errors.New("send to peer failed")
	// ErrChannelNotOpen means the tunnel channel is not open yet (or anymore).
	ErrChannelNotOpen = errors.New("tunnel channel not open")
	// ErrCongested means the channel's send buffer is above the high water
	// mark and the frame was dropped.
	ErrCongested = errors.New("tunnel channel congested")
)

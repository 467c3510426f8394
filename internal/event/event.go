// Package event carries asynchronous notifications from peer transport
// callbacks to the single coordination loop.
package event

import "fmt"

// Kind tags an Event.
type Kind uint8

const (
	PacketFromPeer Kind = iota + 1
	PeerConnected
	PeerDisconnected
	InboundOfferReceived
)

func (k Kind) String() string {
	switch k {
	case PacketFromPeer:
		return "PacketFromPeer"
	case PeerConnected:
		return "PeerConnected"
	case PeerDisconnected:
		return "PeerDisconnected"
	case InboundOfferReceived:
		return "InboundOfferReceived"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Answer is the outcome of accepting an inbound offer.
type Answer struct {
	Descriptor string
	Err        error
}

// Event is one notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind Kind
	Peer string
	// Session identifies the connection instance that produced the event,
	// so events from a replaced connection can be told apart.
	Session uint64

	Packet     []byte        // PacketFromPeer
	Descriptor string        // InboundOfferReceived
	Reply      chan<- Answer // InboundOfferReceived; buffered by the sender
}

func Packet(peer string, session uint64, frame []byte) Event {
	return Event{Kind: PacketFromPeer, Peer: peer, Session: session, Packet: frame}
}

func Connected(peer string, session uint64) Event {
	return Event{Kind: PeerConnected, Peer: peer, Session: session}
}

func Disconnected(peer string, session uint64) Event {
	return Event{Kind: PeerDisconnected, Peer: peer, Session: session}
}

func Offer(peer, descriptor string, reply chan<- Answer) Event {
	return Event{Kind: InboundOfferReceived, Peer: peer, Descriptor: descriptor, Reply: reply}
}

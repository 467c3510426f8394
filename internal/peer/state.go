// Package peer owns the per-peer WebRTC connections: creating them for either
// signaling role, tracking their connectivity state, and fanning frames out
// to every registered tunnel channel.
package peer

import "fmt"

// Role is the side a connection plays in the offer/answer exchange.
type Role uint8

const (
	RoleInitiator Role = iota + 1
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// State is the connectivity state of a Connection. States only move forward;
// StateDisconnected is terminal.
type State uint8

const (
	StateCreated State = iota
	StateAwaitingRemoteDescriptor
	StateNegotiating
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingRemoteDescriptor:
		return "awaiting-answer"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Handler receives the asynchronous notifications of every connection built
// by a Factory. Methods are called from pion's goroutines and must not block
// for long; implementations enqueue and return.
type Handler interface {
	OnStateChange(id string, session uint64, state State)
	OnTunnelOpen(id string, session uint64, ch Channel)
	OnData(id string, session uint64, frame []byte)
}

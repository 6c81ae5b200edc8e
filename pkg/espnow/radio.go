// Package espnow is the peer link between nodes: a connectionless
// point-to-multipoint radio addressed by station MAC.
package espnow

import (
	"errors"
	"fmt"
)

// MaxPayload is the largest payload a single ESP-NOW frame can carry
const MaxPayload = 250

// MaxPeers is the size of the radio's peer table
const MaxPeers = 20

var (
	ErrPeerTableFull    = errors.New("peer table full")
	ErrDuplicateAddress = errors.New("peer already registered")
	ErrPeerNotFound     = errors.New("peer not registered")
	ErrInvalidPayload   = errors.New("invalid payload size")
	ErrLinkInit         = errors.New("link initialisation failed")
	ErrSendFailed       = errors.New("send failed")
	ErrClosed           = errors.New("link closed")
)

// PeerRegistrationError is returned when a destination could not be added to
// the peer table ahead of a send. The send is aborted, nothing is retried.
type PeerRegistrationError struct {
	Addr Address
	Err  error
}

func (e *PeerRegistrationError) Error() string {
	return fmt.Sprintf("register peer %v: %v", e.Addr, e.Err)
}

func (e *PeerRegistrationError) Unwrap() error { return e.Err }

// Packet is a frame received from a remote node
type Packet struct {
	From    Address
	Payload []byte
}

// SendStatus is the asynchronous outcome of a Send, keyed by destination
type SendStatus struct {
	To Address
	OK bool
}

// Radio is the link-layer collaborator. Send only enqueues; the outcome of
// each send is reported later on Status(). Unicast destinations must be in
// the peer table.
type Radio interface {
	AddPeer(addr Address) error
	DelPeer(addr Address) error
	Send(addr Address, payload []byte) error
	Receive() <-chan Packet
	Status() <-chan SendStatus
	LocalAddress() (Address, error)
	Close() error
}

package espnow

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

const airQueueLen = 64

// Air is an in-memory radio medium. Every radio attached to it hears
// broadcasts; unicast frames reach the radio owning the destination address.
// It stands in for the real link in simulations and tests.
type Air struct {
	mu     sync.Mutex
	radios map[Address]*AirRadio
}

// NewAir creates an empty medium
func NewAir() *Air {
	return &Air{radios: make(map[Address]*AirRadio)}
}

// Radio attaches a new radio with the given station address
func (a *Air) Radio(addr Address) *AirRadio {
	r := &AirRadio{
		air:    a,
		addr:   addr,
		peers:  make(map[Address]bool),
		rx:     make(chan Packet, airQueueLen),
		status: make(chan SendStatus, airQueueLen),
	}
	a.mu.Lock()
	a.radios[addr] = r
	a.mu.Unlock()
	return r
}

func (a *Air) deliver(from, to Address, payload []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	delivered := false
	for addr, r := range a.radios {
		if addr == from {
			continue
		}
		if !to.IsBroadcast() && addr != to {
			continue
		}
		b := make([]byte, len(payload))
		copy(b, payload)
		if r.push(Packet{From: from, Payload: b}) {
			delivered = true
		}
	}
	return delivered
}

func (a *Air) detach(addr Address) {
	a.mu.Lock()
	delete(a.radios, addr)
	a.mu.Unlock()
}

// AirRadio is one station on an Air
type AirRadio struct {
	air  *Air
	addr Address

	mu     sync.Mutex
	peers  map[Address]bool
	closed bool
	sent   [][]byte

	rx     chan Packet
	status chan SendStatus
}

func (r *AirRadio) push(p Packet) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.rx <- p:
		return true
	default:
		log.Warnf("Air: receive queue of %v full", r.addr)
		return false
	}
}

func (r *AirRadio) AddPeer(addr Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.peers[addr] {
		return ErrDuplicateAddress
	}
	if len(r.peers) >= MaxPeers {
		return ErrPeerTableFull
	}
	r.peers[addr] = true
	return nil
}

func (r *AirRadio) DelPeer(addr Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.peers[addr] {
		return ErrPeerNotFound
	}
	delete(r.peers, addr)
	return nil
}

// Peers returns the number of registered peers
func (r *AirRadio) Peers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *AirRadio) Send(addr Address, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return ErrInvalidPayload
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if !r.peers[addr] {
		r.mu.Unlock()
		return ErrPeerNotFound
	}
	b := make([]byte, len(payload))
	copy(b, payload)
	r.sent = append(r.sent, b)
	r.mu.Unlock()

	ok := r.air.deliver(r.addr, addr, payload)
	// broadcasts are not acknowledged by anyone, the radio reports success
	if addr.IsBroadcast() {
		ok = true
	}
	select {
	case r.status <- SendStatus{To: addr, OK: ok}:
	default:
	}
	return nil
}

// Sent returns a copy of every payload handed to Send
func (r *AirRadio) Sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]byte, len(r.sent))
	for i, b := range r.sent {
		out[i] = append([]byte(nil), b...)
	}
	return out
}

func (r *AirRadio) Receive() <-chan Packet { return r.rx }

func (r *AirRadio) Status() <-chan SendStatus { return r.status }

func (r *AirRadio) LocalAddress() (Address, error) { return r.addr, nil }

func (r *AirRadio) Close() error {
	r.air.detach(r.addr)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.rx)
	return nil
}

package espnow

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// packetQueueLen bounds the receive queue between the radio and the node task
const packetQueueLen = 10

// Link wraps a Radio with the peer lifecycle used by the nodes: standing
// peers registered once, and ephemeral peers registered around a single send.
type Link struct {
	radio Radio

	mu       sync.Mutex
	standing map[Address]bool
	waiters  map[Address][]chan bool

	packets chan Packet
}

// NewLink creates a Link on top of an initialised radio
func NewLink(r Radio) *Link {
	return &Link{
		radio:    r,
		standing: make(map[Address]bool),
		waiters:  make(map[Address][]chan bool),
		packets:  make(chan Packet, packetQueueLen),
	}
}

// Register adds addr as a standing peer for the lifetime of the link
func (l *Link) Register(addr Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.standing[addr] {
		return nil
	}
	if err := l.radio.AddPeer(addr); err != nil {
		return &PeerRegistrationError{Addr: addr, Err: err}
	}
	l.standing[addr] = true
	log.Debugf("Standing peer %v registered", addr)
	return nil
}

// Restore registers every standing peer with the radio again, e.g. after a
// dongle reconnect emptied its peer table. Peers the radio still knows are
// left alone.
func (l *Link) Restore() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for addr := range l.standing {
		err := l.radio.AddPeer(addr)
		switch {
		case err == nil:
			log.Debugf("Standing peer %v restored", addr)
		case errors.Is(err, ErrDuplicateAddress):
		default:
			errs = append(errs, &PeerRegistrationError{Addr: addr, Err: err})
		}
	}
	return errors.Join(errs...)
}

// SendTo sends payload to addr. If addr is not a standing peer it is
// registered for this send only and always unregistered afterwards.
// A nil error means the frame was handed to the radio; delivery is
// reported asynchronously.
func (l *Link) SendTo(addr Address, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return ErrInvalidPayload
	}

	l.mu.Lock()
	standing := l.standing[addr]
	l.mu.Unlock()

	if standing {
		return l.send(addr, payload)
	}

	if err := l.radio.AddPeer(addr); err != nil {
		log.Warnf("Could not register peer %v: %v", addr, err)
		return &PeerRegistrationError{Addr: addr, Err: err}
	}
	defer func() {
		if err := l.radio.DelPeer(addr); err != nil {
			log.Errorf("Could not unregister peer %v: %v", addr, err)
		}
	}()
	return l.send(addr, payload)
}

func (l *Link) send(addr Address, payload []byte) error {
	log.Debugf("Send to %v: '%s'", addr, payload)
	if err := l.radio.Send(addr, payload); err != nil {
		log.Errorf("Send to %v failed: %v", addr, err)
		return err
	}
	return nil
}

// SendConfirmed sends payload and waits up to window for the send status of
// addr. Statuses are correlated by address only, so a concurrent send to the
// same address may satisfy the wait.
func (l *Link) SendConfirmed(ctx context.Context, addr Address, payload []byte, window time.Duration) error {
	c := make(chan bool, 1)
	l.mu.Lock()
	l.waiters[addr] = append(l.waiters[addr], c)
	l.mu.Unlock()
	defer l.dropWaiter(addr, c)

	if err := l.SendTo(addr, payload); err != nil {
		return err
	}

	select {
	case ok := <-c:
		if !ok {
			return ErrSendFailed
		}
		return nil
	case <-time.After(window):
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Link) dropWaiter(addr Address, c chan bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ws := l.waiters[addr]
	for i, w := range ws {
		if w == c {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(l.waiters, addr)
	} else {
		l.waiters[addr] = ws
	}
}

func (l *Link) notify(st SendStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range l.waiters[st.To] {
		select {
		case c <- st.OK:
		default:
		}
	}
}

// Packets delivers received frames to the node task
func (l *Link) Packets() <-chan Packet {
	return l.packets
}

// Run pumps the radio's receive and status channels until ctx is done or the
// radio closes its receive channel. It never blocks on a slow consumer: when
// the packet queue is full the frame is dropped.
func (l *Link) Run(ctx context.Context) error {
	defer close(l.packets)

	rx := l.radio.Receive()
	st := l.radio.Status()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-rx:
			if !ok {
				return ErrClosed
			}
			select {
			case l.packets <- p:
			default:
				log.Warnf("Receive queue full, dropping frame from %v", p.From)
			}
		case s, ok := <-st:
			if !ok {
				st = nil
				continue
			}
			if s.OK {
				log.Debugf("Sent to %v: success", s.To)
			} else {
				log.Errorf("Sent to %v: %v", s.To, ErrSendFailed)
			}
			l.notify(s)
		}
	}
}

// Close releases standing peers and closes the radio
func (l *Link) Close() error {
	l.mu.Lock()
	for addr := range l.standing {
		if err := l.radio.DelPeer(addr); err != nil && !errors.Is(err, ErrPeerNotFound) {
			log.Warnf("Could not unregister peer %v: %v", addr, err)
		}
	}
	l.standing = make(map[Address]bool)
	l.mu.Unlock()
	return l.radio.Close()
}

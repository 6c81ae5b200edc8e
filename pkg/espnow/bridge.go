package espnow

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// DefaultBaud is the UART speed of the bridge dongle
const DefaultBaud = 115200

const (
	replyTimeout = 500 * time.Millisecond
	eventQueue   = 32
)

// Bridge is a Radio backed by an ESP-NOW dongle attached via serial port or
// a TCP socket (e.g. ser2net). The dongle owns the radio, the host drives it
// with the framed protocol in bridge_fsm.go. Done is closed when the
// connection is closed or lost.
type Bridge struct {
	conn      io.ReadWriteCloser
	wlock     sync.Mutex
	link      string
	baud      int
	connected bool
	Done      chan struct{}

	cmdLock sync.Mutex
	seq     byte
	resChan chan bridgeFrame

	rx     chan Packet
	status chan SendStatus
}

// NewBridge is the factory method to create a new Bridge
func NewBridge() *Bridge {
	return &Bridge{
		baud:    DefaultBaud,
		resChan: make(chan bridgeFrame, 1),
		rx:      make(chan Packet, eventQueue),
		status:  make(chan SendStatus, eventQueue),
	}
}

// SetBaud changes the serial speed used by the next Connect
func (o *Bridge) SetBaud(baud int) {
	if baud > 0 {
		o.baud = baud
	}
}

// Connect attaches to the dongle via serial device or a tcp socket and checks
// that it answers. Failure is an ErrLinkInit.
func (o *Bridge) Connect(link string) error {
	if err := o.open(link); err != nil {
		return fmt.Errorf("%w: %v", ErrLinkInit, err)
	}
	o.link = link
	if _, err := o.rawCmd(reqPing, nil); err != nil {
		o.Close()
		return fmt.Errorf("%w: dongle does not answer: %v", ErrLinkInit, err)
	}
	log.Infof("Bridge connected via %v", link)
	return nil
}

func (o *Bridge) open(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return err
	}

	var conn io.ReadWriteCloser
	if (u.Scheme == "socket") || (u.Scheme == "tcp") {
		// Connect via network
		c, err := net.Dial("tcp", u.Host)
		if err != nil {
			return err
		}
		c.(*net.TCPConn).SetKeepAlive(true)
		c.(*net.TCPConn).SetKeepAlivePeriod(30 * time.Second)
		conn = c
	} else if (u.Scheme == "file") || (u.Scheme == "") {
		// Connect via serial
		conn, err = serial.OpenPort(&serial.Config{Name: u.Path, Baud: o.baud, Size: 8, Parity: serial.ParityNone, StopBits: serial.Stop1})
		if err != nil {
			return err
		}
	} else {
		return fmt.Errorf("Can not find a valid connection string in \"%v\"", link)
	}

	o.attach(conn)
	return nil
}

// attach starts a frame reader on an already opened connection. The reader
// owns its bufio.Reader, so a reader left over from a previous connection
// never consumes bytes of this one.
func (o *Bridge) attach(conn io.ReadWriteCloser) {
	o.wlock.Lock()
	defer o.wlock.Unlock()

	done := make(chan struct{})
	o.conn = conn
	o.connected = true
	o.Done = done

	go o.bridgeFsm(bufio.NewReader(conn), done)
}

// Close closes the Bridge, closing the underlying connection
func (o *Bridge) Close() error {
	o.wlock.Lock()
	defer o.wlock.Unlock()

	if !o.connected {
		return nil
	}
	close(o.Done)
	o.connected = false
	return o.conn.Close()
}

// lost tears down the connection whose reader failed. It is a no-op when
// that connection was already closed or replaced.
func (o *Bridge) lost(done chan struct{}, err error) {
	o.wlock.Lock()
	defer o.wlock.Unlock()

	if !o.connected || o.Done != done {
		return
	}
	log.Errorf("Bridge connection lost: %v", err)
	close(done)
	o.connected = false
	o.conn.Close()
}

// Reconnect closes and re-opens the link used by the last Connect
func (o *Bridge) Reconnect() error {
	o.Close()
	return o.Connect(o.link)
}

func (o *Bridge) Write(b []byte) (int, error) {
	o.wlock.Lock()
	defer o.wlock.Unlock()

	if !o.connected {
		return 0, io.EOF
	}
	n, err := o.conn.Write(b)
	log.Debugf("Write b='%# x', n=%v, err=%v", b, n, err)
	return n, err
}

// rawCmd writes one request frame and waits for the matching reply
func (o *Bridge) rawCmd(t frameType, body []byte) (bridgeFrame, error) {
	o.cmdLock.Lock()
	defer o.cmdLock.Unlock()

	o.seq++
	req := bridgeFrame{Type: t, Seq: o.seq, Body: body}
	b, err := encodeBridgeFrame(req)
	if err != nil {
		return bridgeFrame{}, err
	}
	if _, err := o.Write(b); err != nil {
		return bridgeFrame{}, err
	}

	deadline := time.After(replyTimeout)
	for {
		select {
		case res := <-o.resChan:
			if res.Seq != req.Seq {
				log.Debugf("Discarding stale reply seq=%v (want %v)", res.Seq, req.Seq)
				continue
			}
			return res, res.err()
		case <-deadline:
			return bridgeFrame{}, fmt.Errorf("no reply to %v (seq=%v) within %v", t, req.Seq, replyTimeout)
		}
	}
}

func (o *Bridge) AddPeer(addr Address) error {
	_, err := o.rawCmd(reqAddPeer, addr[:])
	return err
}

func (o *Bridge) DelPeer(addr Address) error {
	_, err := o.rawCmd(reqDelPeer, addr[:])
	return err
}

func (o *Bridge) Send(addr Address, payload []byte) error {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return ErrInvalidPayload
	}
	body := make([]byte, 0, AddressLen+len(payload))
	body = append(body, addr[:]...)
	body = append(body, payload...)
	_, err := o.rawCmd(reqSend, body)
	return err
}

// LocalAddress asks the dongle for its own station address
func (o *Bridge) LocalAddress() (Address, error) {
	var a Address
	res, err := o.rawCmd(reqMAC, nil)
	if err != nil {
		return a, err
	}
	if len(res.Body) < 2+AddressLen {
		return a, fmt.Errorf("short MAC reply '%# x'", res.Body)
	}
	copy(a[:], res.Body[2:2+AddressLen])
	return a, nil
}

func (o *Bridge) Receive() <-chan Packet { return o.rx }

func (o *Bridge) Status() <-chan SendStatus { return o.status }

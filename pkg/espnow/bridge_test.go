package espnow

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sigurn/crc8"
)

// fakeDongle answers bridge requests on one end of a connection. Sends to
// addresses in unreachable are reported as failed.
type fakeDongle struct {
	conn io.ReadWriteCloser
	mac  Address

	mu          sync.Mutex
	peers       map[Address]bool
	unreachable map[Address]bool
	requests    []frameType
}

func newFakeDongle(conn io.ReadWriteCloser, mac Address) *fakeDongle {
	return &fakeDongle{
		conn:        conn,
		mac:         mac,
		peers:       make(map[Address]bool),
		unreachable: make(map[Address]bool),
	}
}

func (d *fakeDongle) write(f bridgeFrame) {
	b, _ := encodeBridgeFrame(f)
	d.conn.Write(b)
}

func (d *fakeDongle) reply(req bridgeFrame, code byte, data ...byte) {
	d.write(bridgeFrame{Type: rspResult, Seq: req.Seq, Body: append([]byte{byte(req.Type), code}, data...)})
}

func (d *fakeDongle) readFrame(r *bufio.Reader) (bridgeFrame, error) {
	var f bridgeFrame
	hdr := make([]byte, bridgeHeaderLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return f, err
	}
	if hdr[0] != STX {
		return f, errors.New("no STX")
	}
	f.Type, f.Seq = frameType(hdr[1]), hdr[2]
	rest := make([]byte, int(binary.BigEndian.Uint16(hdr[3:]))+1)
	if _, err := io.ReadFull(r, rest); err != nil {
		return f, err
	}
	f.Body = rest[:len(rest)-1]
	if crc8.Checksum(append(hdr[1:], f.Body...), crcTable) != rest[len(rest)-1] {
		return f, errors.New("bad crc")
	}
	return f, nil
}

func (d *fakeDongle) serve() {
	r := bufio.NewReader(d.conn)
	for {
		req, err := d.readFrame(r)
		if err != nil {
			return
		}
		d.mu.Lock()
		d.requests = append(d.requests, req.Type)
		d.mu.Unlock()

		switch req.Type {
		case reqPing:
			d.reply(req, codeOK)
		case reqMAC:
			d.reply(req, codeOK, d.mac[:]...)
		case reqAddPeer, reqDelPeer:
			var a Address
			copy(a[:], req.Body)
			d.mu.Lock()
			code := codeOK
			switch {
			case req.Type == reqAddPeer && d.peers[a]:
				code = codeExists
			case req.Type == reqAddPeer && len(d.peers) >= MaxPeers:
				code = codeFull
			case req.Type == reqAddPeer:
				d.peers[a] = true
			case !d.peers[a]:
				code = codeNotFound
			default:
				delete(d.peers, a)
			}
			d.mu.Unlock()
			d.reply(req, code)
		case reqSend:
			var a Address
			copy(a[:], req.Body)
			d.mu.Lock()
			known, lost := d.peers[a], d.unreachable[a]
			d.mu.Unlock()
			if !known {
				d.reply(req, codeNotFound)
				continue
			}
			d.reply(req, codeOK)
			status := codeOK
			if lost {
				status = codeFail
			}
			d.write(bridgeFrame{Type: evtStatus, Body: append(a[:], status)})
		default:
			d.reply(req, codeArg)
		}
	}
}

func (d *fakeDongle) receive(from Address, payload string) {
	d.write(bridgeFrame{Type: evtRecv, Body: append(from[:], payload...)})
}

func newPipeBridge(t *testing.T) (*Bridge, *fakeDongle) {
	t.Helper()
	host, dev := net.Pipe()
	d := newFakeDongle(dev, addrA)
	go d.serve()

	b := NewBridge()
	b.attach(host)
	t.Cleanup(func() {
		b.Close()
		dev.Close()
	})
	return b, d
}

func TestBridgeFrameCRC(t *testing.T) {
	b, err := encodeBridgeFrame(bridgeFrame{Type: reqPing, Seq: 7})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b[:bridgeHeaderLen], []byte{STX, 'P', 7, 0, 0}) || len(b) != bridgeHeaderLen+1 {
		t.Errorf("ping frame % x", b)
	}
	if b[5] != crc8.Checksum([]byte{'P', 7, 0, 0}, crcTable) {
		t.Errorf("crc %#x", b[5])
	}

	b, err = encodeBridgeFrame(bridgeFrame{Type: reqSend, Body: make([]byte, maxBridgeBody)})
	if err != nil {
		t.Fatal(err)
	}
	if b[3] != 0x01 || b[4] != 0x00 {
		t.Errorf("length field % x, want 01 00", b[3:5])
	}
	if _, err := encodeBridgeFrame(bridgeFrame{Type: reqSend, Body: make([]byte, maxBridgeBody+1)}); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("oversized body err = %v", err)
	}
}

func TestBridgePeerTable(t *testing.T) {
	b, _ := newPipeBridge(t)

	if err := b.AddPeer(addrB); err != nil {
		t.Fatal(err)
	}
	if err := b.AddPeer(addrB); !errors.Is(err, ErrDuplicateAddress) {
		t.Errorf("duplicate AddPeer err = %v", err)
	}
	if err := b.DelPeer(addrB); err != nil {
		t.Fatal(err)
	}
	if err := b.DelPeer(addrB); !errors.Is(err, ErrPeerNotFound) {
		t.Errorf("DelPeer of unknown peer err = %v", err)
	}
	if err := b.Send(addrB, []byte("START")); !errors.Is(err, ErrPeerNotFound) {
		t.Errorf("Send to unknown peer err = %v", err)
	}
}

func TestBridgeLocalAddress(t *testing.T) {
	b, _ := newPipeBridge(t)
	a, err := b.LocalAddress()
	if err != nil {
		t.Fatal(err)
	}
	if a != addrA {
		t.Errorf("LocalAddress = %v", a)
	}
}

func TestBridgeEvents(t *testing.T) {
	b, d := newPipeBridge(t)
	d.mu.Lock()
	d.unreachable[addrC] = true
	d.mu.Unlock()

	l := NewLink(b)
	if err := l.SendTo(addrB, []byte("START")); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-b.Status():
		if s.To != addrB || !s.OK {
			t.Errorf("status %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no send status")
	}

	if err := l.SendTo(addrC, []byte("START")); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-b.Status():
		if s.To != addrC || s.OK {
			t.Errorf("status %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no send status")
	}

	go d.receive(addrB, "Litros:517.29 L")
	p := recv(t, b.Receive())
	if p.From != addrB || string(p.Payload) != "Litros:517.29 L" {
		t.Errorf("received %v %q", p.From, p.Payload)
	}
}

func TestBridgeSkipsCorruptFrames(t *testing.T) {
	b, d := newPipeBridge(t)

	go func() {
		good, _ := encodeBridgeFrame(bridgeFrame{Type: evtRecv, Body: append(addrB[:], "hola"...)})
		bad := append([]byte(nil), good...)
		bad[len(bad)-1] ^= 0xFF
		d.conn.Write(append([]byte{0x00, 0x55}, bad...))
		d.conn.Write(good)
	}()

	p := recv(t, b.Receive())
	if string(p.Payload) != "hola" {
		t.Errorf("received %q", p.Payload)
	}
	select {
	case p := <-b.Receive():
		t.Errorf("corrupt frame delivered: %q", p.Payload)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBridgeConnectTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		newFakeDongle(c, addrA).serve()
	}()

	b := NewBridge()
	if err := b.Connect("tcp://" + ln.Addr().String()); err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if a, err := b.LocalAddress(); err != nil || a != addrA {
		t.Errorf("LocalAddress = %v, %v", a, err)
	}
}

func TestBridgeConnectErrors(t *testing.T) {
	b := NewBridge()
	err := b.Connect("ftp://example.invalid/dongle")
	if !errors.Is(err, ErrLinkInit) {
		t.Errorf("Connect with unknown scheme err = %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "ftp://") {
		t.Errorf("error does not name the link: %v", err)
	}
}

func TestBridgeSendFullPayload(t *testing.T) {
	b, _ := newPipeBridge(t)
	if err := b.AddPeer(addrB); err != nil {
		t.Fatal(err)
	}
	if err := b.Send(addrB, bytes.Repeat([]byte{'x'}, MaxPayload)); err != nil {
		t.Errorf("Send of %d bytes: %v", MaxPayload, err)
	}
	if err := b.Send(addrB, make([]byte, MaxPayload+1)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("oversized Send err = %v", err)
	}
}

func TestBridgeConnectionLost(t *testing.T) {
	b, d := newPipeBridge(t)
	l := NewLink(b)
	if err := l.Register(addrB); err != nil {
		t.Fatal(err)
	}

	d.conn.Close()
	select {
	case <-b.Done:
	case <-time.After(time.Second):
		t.Fatal("Done still open after the dongle went away")
	}
	if err := b.AddPeer(addrC); err == nil {
		t.Error("AddPeer succeeded on a lost connection")
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close after loss: %v", err)
	}

	// a fresh dongle with an empty peer table
	host, dev := net.Pipe()
	t.Cleanup(func() { dev.Close() })
	d2 := newFakeDongle(dev, addrA)
	go d2.serve()
	b.attach(host)

	if err := l.Restore(); err != nil {
		t.Fatal(err)
	}
	d2.mu.Lock()
	restored := d2.peers[addrB]
	d2.mu.Unlock()
	if !restored {
		t.Error("standing peer not registered with the new dongle")
	}
	if err := l.SendTo(addrB, []byte("Litros:517.29 L")); err != nil {
		t.Errorf("send after reconnect: %v", err)
	}
	select {
	case <-b.Done:
		t.Error("Done closed on the new connection")
	default:
	}
}

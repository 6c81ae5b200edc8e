package espnow

import (
	"encoding/binary"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/sigurn/crc8"
)

// Bridge UART framing:
//
//	+-----+------+-----+-----+----------+------+
//	| STX | Type | Seq | Len |   Body   | CRC8 |
//	+-----+------+-----+-----+----------+------+
//	|  1  |  1   |  1  |  2  |  0..256  |  1   |
//	+-----+------+-----+-----+----------+------+
//
// Len is big endian. CRC8 (Maxim) covers Type..Body. Replies echo the
// request Seq, events use 0. The largest body is a send: address plus a
// full ESP-NOW payload.
const (
	STX byte = 0x02

	bridgeHeaderLen = 5
	maxBridgeBody   = AddressLen + MaxPayload
)

type frameType byte

func (t frameType) String() string {
	return fmt.Sprintf("'%c'", byte(t))
}

const (
	reqPing    frameType = 'P'
	reqAddPeer frameType = 'A' // body: mac
	reqDelPeer frameType = 'D' // body: mac
	reqSend    frameType = 'S' // body: mac | payload
	reqMAC     frameType = 'M'

	rspResult frameType = 'K' // body: request type | code | data
	evtRecv   frameType = 'R' // body: mac | payload
	evtStatus frameType = 'T' // body: mac | status (0 = delivered)
)

// Result codes as reported by the dongle firmware
const (
	codeOK       byte = 0x00
	codeFail     byte = 0x01
	codeFull     byte = 0x02
	codeExists   byte = 0x03
	codeNotFound byte = 0x04
	codeNotInit  byte = 0x05
	codeArg      byte = 0x06
)

var crcTable = crc8.MakeTable(crc8.CRC8_MAXIM)

type bridgeFrame struct {
	Type frameType
	Seq  byte
	Body []byte
}

// err maps the result code of a reply frame
func (f bridgeFrame) err() error {
	if f.Type != rspResult || len(f.Body) < 2 {
		return fmt.Errorf("malformed reply '%# x'", f.Body)
	}
	switch f.Body[1] {
	case codeOK:
		return nil
	case codeFull:
		return ErrPeerTableFull
	case codeExists:
		return ErrDuplicateAddress
	case codeNotFound:
		return ErrPeerNotFound
	case codeNotInit:
		return ErrLinkInit
	case codeArg:
		return ErrInvalidPayload
	default:
		return fmt.Errorf("%w: dongle code %#x", ErrSendFailed, f.Body[1])
	}
}

func encodeBridgeFrame(f bridgeFrame) ([]byte, error) {
	if len(f.Body) > maxBridgeBody {
		return nil, ErrInvalidPayload
	}
	b := make([]byte, 0, bridgeHeaderLen+len(f.Body)+1)
	b = append(b, STX, byte(f.Type), f.Seq)
	b = binary.BigEndian.AppendUint16(b, uint16(len(f.Body)))
	b = append(b, f.Body...)
	return append(b, crc8.Checksum(b[1:], crcTable)), nil
}

type bridgeState byte

const (
	huntSTX bridgeState = iota
	readType
	readSeq
	readLenHi
	readLenLo
	readBody
	readCRC
)

var bridgeStateNames = [...]string{"huntSTX", "readType", "readSeq", "readLenHi", "readLenLo", "readBody", "readCRC"}

func (s bridgeState) String() string {
	if int(s) < len(bridgeStateNames) {
		return bridgeStateNames[s]
	}
	return fmt.Sprintf("bridgeState(%d)", byte(s))
}

// bridgeFsm reads the byte stream of one connection, reassembles frames and
// dispatches them: replies to rawCmd, received packets and send statuses to
// the Radio channels. Events never block the reader. A read error on a
// connection that was not closed on purpose marks it lost.
func (o *Bridge) bridgeFsm(r io.Reader, done chan struct{}) {
	var state, prevstate bridgeState
	var f bridgeFrame
	var n int
	buf := make([]byte, 512)

	defer func() {
		log.Debugf("Exiting bridgeFsm")
	}()

	for {
		select {
		case <-done:
			return
		default:
		}

		m, err := r.Read(buf)
		log.Debugf("Read b='%# x', n=%v, err=%v", buf[:m], m, err)
		if err != nil {
			select {
			case <-done:
			default:
				o.lost(done, err)
			}
			return
		}

		for _, c := range buf[:m] {
			if prevstate != state {
				log.Debugf("State changed: %v --> %v", prevstate, state)
			}
			prevstate = state

			switch state {
			case huntSTX:
				if c == STX {
					f = bridgeFrame{}
					state = readType
				}
			case readType:
				f.Type = frameType(c)
				state = readSeq
			case readSeq:
				f.Seq = c
				state = readLenHi
			case readLenHi:
				n = int(c) << 8
				state = readLenLo
			case readLenLo:
				n |= int(c)
				if n > maxBridgeBody {
					log.Warnf("Frame length %v exceeds %v, resyncing", n, maxBridgeBody)
					state = huntSTX
					break
				}
				f.Body = make([]byte, 0, n)
				if n == 0 {
					state = readCRC
				} else {
					state = readBody
				}
			case readBody:
				f.Body = append(f.Body, c)
				if len(f.Body) == n {
					state = readCRC
				}
			case readCRC:
				state = huntSTX
				covered := []byte{byte(f.Type), f.Seq, byte(n >> 8), byte(n)}
				covered = append(covered, f.Body...)
				crc := crc8.Checksum(covered, crcTable)
				if crc != c {
					log.Warnf("CRC verification failed (calculated %x, received %x)", crc, c)
					break
				}
				o.dispatch(f)
			default:
				panic("Should not reach default state")
			}
		}
	}
}

func (o *Bridge) dispatch(f bridgeFrame) {
	switch f.Type {
	case rspResult:
		select {
		case o.resChan <- f:
		default:
			log.Warnf("Unexpected reply seq=%v, nobody waiting", f.Seq)
		}
	case evtRecv:
		if len(f.Body) < AddressLen {
			log.Warnf("Short receive event '%# x'", f.Body)
			return
		}
		var p Packet
		copy(p.From[:], f.Body[:AddressLen])
		p.Payload = append([]byte(nil), f.Body[AddressLen:]...)
		select {
		case o.rx <- p:
		default:
			log.Warnf("Receive queue full, dropping frame from %v", p.From)
		}
	case evtStatus:
		if len(f.Body) < AddressLen+1 {
			log.Warnf("Short status event '%# x'", f.Body)
			return
		}
		var s SendStatus
		copy(s.To[:], f.Body[:AddressLen])
		s.OK = f.Body[AddressLen] == codeOK
		select {
		case o.status <- s:
		default:
			log.Warnf("Status queue full, dropping status for %v", s.To)
		}
	default:
		log.Warnf("Unknown frame type %#x", byte(f.Type))
	}
}

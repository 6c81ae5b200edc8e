// Package command implements the ASCII command vocabulary exchanged between
// nodes: start/stop/toggle verbs, tank geometry updates and free telemetry
// text.
package command

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Receive buffer sizes of the nodes, including the terminator
const (
	ControllerFrame = 32
	SensorFrame     = 50
	SwitchFrame     = 10
)

const tankPrefix = "TANK:"

// ErrDecode reports a TANK frame whose suffix is not two integers
var ErrDecode = errors.New("malformed TANK frame")

// Kind tags a Frame
type Kind byte

const (
	Telemetry Kind = iota
	Start
	Stop
	Toggle
	SetTank
)

var kindNames = [...]string{"Telemetry", "Start", "Stop", "Toggle", "SetTank"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}

// Frame is one decoded command. Verb holds the token a verb frame was sent
// as, Diameter/Height are set for SetTank, Text for Telemetry.
type Frame struct {
	Kind     Kind
	Verb     string
	Diameter int32
	Height   int32
	Text     string
}

func (f Frame) String() string {
	return string(Encode(f))
}

// Verb builds a Start, Stop or Toggle frame sent as token
func Verb(k Kind, token string) Frame {
	return Frame{Kind: k, Verb: token}
}

// Tank builds a SetTank frame
func Tank(diameter, height int32) Frame {
	return Frame{Kind: SetTank, Diameter: diameter, Height: height}
}

// Text builds a Telemetry frame
func Text(s string) Frame {
	return Frame{Kind: Telemetry, Text: s}
}

// Litres formats a volume reading the way the sensor nodes report it
func Litres(v float64) Frame {
	return Text(fmt.Sprintf("Litros:%.2f L", v))
}

// Encode returns the wire form of f, without terminator
func Encode(f Frame) []byte {
	switch f.Kind {
	case Start, Stop, Toggle:
		if f.Verb != "" {
			return []byte(f.Verb)
		}
		return []byte(defaultVerb(f.Kind))
	case SetTank:
		return []byte(fmt.Sprintf("%s%d,%d", tankPrefix, f.Diameter, f.Height))
	default:
		return []byte(f.Text)
	}
}

func defaultVerb(k Kind) string {
	switch k {
	case Start:
		return "START"
	case Stop:
		return "STOP"
	default:
		return "DATO"
	}
}

// Vocabulary lists the verbs a node understands
type Vocabulary struct {
	Start  []string
	Stop   []string
	Toggle []string
}

// DefaultVocabulary is understood by every node
var DefaultVocabulary = Vocabulary{
	Start:  []string{"START", "DELE"},
	Stop:   []string{"STOP", "NAA"},
	Toggle: []string{"DATO"},
}

func (v Vocabulary) kind(token string) (Kind, bool) {
	for _, s := range v.Start {
		if s == token {
			return Start, true
		}
	}
	for _, s := range v.Stop {
		if s == token {
			return Stop, true
		}
	}
	for _, s := range v.Toggle {
		if s == token {
			return Toggle, true
		}
	}
	return Telemetry, false
}

// Clip returns the text a receive buffer of maxLen bytes holds: at most
// maxLen-1 bytes, up to the first NUL. maxLen <= 0 means no limit.
func Clip(b []byte, maxLen int) string {
	if maxLen > 0 && len(b) > maxLen-1 {
		b = b[:maxLen-1]
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Decode classifies a received payload. At most maxLen-1 bytes are
// considered and the payload ends at the first NUL. Anything that is
// neither a known verb nor a TANK frame is returned as Telemetry. Only a
// TANK frame with a malformed suffix or a value outside int32 fails, with
// ErrDecode.
func (v Vocabulary) Decode(b []byte, maxLen int) (Frame, error) {
	s := Clip(b, maxLen)

	if k, ok := v.kind(s); ok {
		return Verb(k, s), nil
	}

	if strings.HasPrefix(s, tankPrefix) {
		var d, h int32
		if n, err := fmt.Sscanf(s[len(tankPrefix):], "%d,%d", &d, &h); n != 2 {
			return Frame{}, fmt.Errorf("%w %q: %v", ErrDecode, s, err)
		}
		return Tank(d, h), nil
	}

	return Text(s), nil
}

// Decode uses DefaultVocabulary
func Decode(b []byte, maxLen int) (Frame, error) {
	return DefaultVocabulary.Decode(b, maxLen)
}

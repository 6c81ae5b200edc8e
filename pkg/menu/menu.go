// Package menu implements the controller's single-button target selection.
//
// A short press while browsing stops the selected target and moves to the
// next one. A press of at least EnterView starts the selected target and
// shows its data; a press of at least LeaveView while viewing stops it and
// returns to browsing. Short presses while viewing are ignored.
package menu

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/speters/nowtank/pkg/command"
	"github.com/speters/nowtank/pkg/espnow"
)

// Press thresholds
const (
	EnterView = 500 * time.Millisecond
	LeaveView = 1000 * time.Millisecond
)

var (
	ErrNoTargets = errors.New("menu needs at least one target")
	ErrNoTarget  = errors.New("no such target")
)

type Mode byte

const (
	Browsing Mode = iota
	Viewing
)

func (m Mode) String() string {
	switch m {
	case Browsing:
		return "Browsing"
	case Viewing:
		return "Viewing"
	}
	return fmt.Sprintf("Mode(%d)", byte(m))
}

// Target is one selectable peer node
type Target struct {
	Label   string
	Address espnow.Address
}

// Sender delivers a payload to a node, see espnow.Link.SendTo
type Sender interface {
	SendTo(addr espnow.Address, payload []byte) error
}

// Pusher queues a display message, see display.Queue
type Pusher interface {
	Push(text string)
}

// Button is sampled by Run
type Button interface {
	Pressed() bool
}

// Status is a snapshot of the menu
type Status struct {
	Index   int
	Mode    Mode
	Label   string
	Targets []Target
}

// Menu holds the selection state. After Run has started, the state belongs to
// the Run goroutine; other goroutines go through Snapshot, Command and Press.
type Menu struct {
	targets []Target
	send    Sender
	display Pusher

	// Verbs sent when entering and leaving a target's view
	Start command.Frame
	Stop  command.Frame

	index int
	mode  Mode

	requests chan func()
}

func New(targets []Target, send Sender, display Pusher) (*Menu, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	return &Menu{
		targets:  append([]Target(nil), targets...),
		send:     send,
		display:  display,
		Start:    command.Verb(command.Start, "START"),
		Stop:     command.Verb(command.Stop, "STOP"),
		requests: make(chan func()),
	}, nil
}

func (m *Menu) Index() int { return m.index }

func (m *Menu) Mode() Mode { return m.mode }

func (m *Menu) current() Target { return m.targets[m.index] }

func (m *Menu) setMode(mode Mode) {
	if mode != m.mode {
		log.Debugf("State changed: %v --> %v", m.mode, mode)
	}
	m.mode = mode
}

func (m *Menu) sendTo(t Target, f command.Frame) error {
	log.Infof("Sending %v to %v (%v)", f, t.Label, t.Address)
	if err := m.send.SendTo(t.Address, command.Encode(f)); err != nil {
		log.Errorf("Sending %v to %v: %v", f, t.Label, err)
		return err
	}
	return nil
}

// Init announces the initial selection: the first target is told to stop
// and its label is shown
func (m *Menu) Init() {
	m.sendTo(m.current(), m.Stop)
	m.display.Push(m.current().Label)
}

// HandlePress applies one classified press of duration d
func (m *Menu) HandlePress(d time.Duration) {
	switch {
	case m.mode == Browsing && d >= EnterView:
		log.Infof("Long press (%v): viewing %v", d, m.current().Label)
		m.setMode(Viewing)
		m.sendTo(m.current(), m.Start)
	case m.mode == Viewing && d >= LeaveView:
		log.Infof("Long press (%v): leaving %v", d, m.current().Label)
		m.setMode(Browsing)
		m.sendTo(m.current(), m.Stop)
		m.display.Push(m.current().Label)
	case m.mode == Browsing:
		m.sendTo(m.current(), m.Stop)
		m.index = (m.index + 1) % len(m.targets)
		log.Infof("Short press (%v): selected %v", d, m.current().Label)
		m.display.Push(m.current().Label)
	default:
		log.Debugf("Short press (%v) while viewing ignored", d)
	}
}

// Run samples button every PollInterval and serves requests until ctx is
// done
func (m *Menu) Run(ctx context.Context, button Button) error {
	var db Debouncer
	t := time.NewTicker(PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-m.requests:
			fn()
		case now := <-t.C:
			if d, ok := db.Sample(button.Pressed(), now); ok {
				m.HandlePress(d)
			}
		}
	}
}

// do runs fn on the Run goroutine
func (m *Menu) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case m.requests <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current selection
func (m *Menu) Snapshot(ctx context.Context) (Status, error) {
	var s Status
	err := m.do(ctx, func() {
		s = Status{
			Index:   m.index,
			Mode:    m.mode,
			Label:   m.current().Label,
			Targets: append([]Target(nil), m.targets...),
		}
	})
	return s, err
}

// Command sends f to target idx without changing the selection
func (m *Menu) Command(ctx context.Context, idx int, f command.Frame) error {
	if idx < 0 || idx >= len(m.targets) {
		return fmt.Errorf("%w: %d", ErrNoTarget, idx)
	}
	var err error
	if derr := m.do(ctx, func() { err = m.sendTo(m.targets[idx], f) }); derr != nil {
		return derr
	}
	return err
}

// Press injects a press of duration d as if read from the button
func (m *Menu) Press(ctx context.Context, d time.Duration) error {
	return m.do(ctx, func() { m.HandlePress(d) })
}

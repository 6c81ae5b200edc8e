package node

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/speters/nowtank/pkg/command"
	"github.com/speters/nowtank/pkg/espnow"
	"github.com/speters/nowtank/pkg/menu"
	"github.com/speters/nowtank/pkg/store"
)

// DefaultSwitchPoll is the wall switch sampling period
const DefaultSwitchPoll = 50 * time.Millisecond

type SwitchConfig struct {
	Vocabulary command.Vocabulary
	Poll       time.Duration
}

// Switch drives an output that is toggled by a toggle verb or by flipping
// the local wall switch. The state survives restarts.
type Switch struct {
	cfg    SwitchConfig
	link   Link
	out    Output
	button menu.Button
	store  store.Store

	on      bool
	last    bool
	pending bool
}

// NewSwitch restores the persisted output state
func NewSwitch(link Link, out Output, button menu.Button, st store.Store, cfg SwitchConfig) *Switch {
	if cfg.Vocabulary.Toggle == nil {
		cfg.Vocabulary = command.DefaultVocabulary
	}
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultSwitchPoll
	}
	s := &Switch{cfg: cfg, link: link, out: out, button: button, store: st}

	on, err := store.LoadOutput(st)
	if err != nil {
		log.Errorf("Loading output state: %v", err)
	}
	s.on = on
	if err := out.Set(on); err != nil {
		log.Errorf("Setting output: %v", err)
	}
	s.last = button.Pressed()
	log.Infof("Output restored: %v", onOff(on))
	return s
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func (s *Switch) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Poll)
	defer t.Stop()

	packets := s.link.Packets()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-packets:
			if !ok {
				return espnow.ErrClosed
			}
			s.dispatch(p)
		case <-t.C:
			s.poll()
		}
	}
}

func (s *Switch) dispatch(p espnow.Packet) {
	f, err := s.cfg.Vocabulary.Decode(p.Payload, command.SwitchFrame)
	if err != nil {
		log.Errorf("Command from %v dropped: %v", p.From, err)
		return
	}
	log.Infof("Command from %v: %v", p.From, f)
	if f.Kind == command.Toggle {
		s.toggle()
	}
}

// poll accepts a switch position change once the following sample
// confirms it
func (s *Switch) poll() {
	level := s.button.Pressed()
	if level == s.last {
		s.pending = false
		return
	}
	if !s.pending {
		s.pending = true
		return
	}
	s.pending = false
	s.last = level
	s.toggle()
}

func (s *Switch) toggle() {
	s.on = !s.on
	if err := s.out.Set(s.on); err != nil {
		log.Errorf("Setting output: %v", err)
	}
	if err := store.SaveOutput(s.store, s.on); err != nil {
		log.Errorf("Saving output state: %v", err)
	}
	log.Infof("Output switched %v", onOff(s.on))
}

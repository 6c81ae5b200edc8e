package node

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/speters/nowtank/pkg/command"
	"github.com/speters/nowtank/pkg/espnow"
	"github.com/speters/nowtank/pkg/hw"
	"github.com/speters/nowtank/pkg/store"
	"github.com/speters/nowtank/pkg/tank"
)

// Sensor defaults
const (
	DefaultPeriod      = time.Second
	DefaultMinDistance = 20.0
)

type SensorConfig struct {
	Controller espnow.Address
	Vocabulary command.Vocabulary

	Period      time.Duration
	EchoTimeout time.Duration
	// Readings at or below MinDistance cm are treated as sensor faults
	MinDistance float64

	// AckGeometry echoes every stored TANK update back to the controller
	AckGeometry bool
	// ToggleGate lets toggle verbs flip the telemetry gate
	ToggleGate bool
}

func (c *SensorConfig) setDefaults() {
	if c.Vocabulary.Start == nil && c.Vocabulary.Stop == nil && c.Vocabulary.Toggle == nil {
		c.Vocabulary = command.DefaultVocabulary
	}
	if c.Period <= 0 {
		c.Period = DefaultPeriod
	}
	if c.EchoTimeout <= 0 {
		c.EchoTimeout = hw.DefaultEchoTimeout
	}
	if c.MinDistance == 0 {
		c.MinDistance = DefaultMinDistance
	}
}

// Sensor reports the tank volume to the controller while its gate is open.
// The gate and the geometry belong to the Run goroutine.
type Sensor struct {
	cfg    SensorConfig
	link   Link
	ranger hw.Ranger
	store  store.Store

	geometry tank.Geometry
	gate     bool
}

// NewSensor loads the tank geometry and registers the controller as a
// standing peer. Neither failure stops the node: the defaults are used and
// each send registers the controller on its own.
func NewSensor(link Link, ranger hw.Ranger, st store.Store, cfg SensorConfig) *Sensor {
	cfg.setDefaults()
	s := &Sensor{cfg: cfg, link: link, ranger: ranger, store: st}

	g, err := store.LoadGeometry(st)
	if err != nil {
		log.Errorf("Loading tank geometry: %v", err)
	}
	s.geometry = g

	if err := link.Register(cfg.Controller); err != nil {
		log.Warnf("Controller %v not registered: %v", cfg.Controller, err)
	}
	return s
}

// Run serves received commands and, while the gate is open, measures and
// reports once per period
func (s *Sensor) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Period)
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
			s.tick()
		}
	}
}

func (s *Sensor) setGate(open bool) {
	if open != s.gate {
		if open {
			log.Infof("Telemetry started")
		} else {
			log.Infof("Telemetry stopped")
		}
	}
	s.gate = open
}

func (s *Sensor) dispatch(p espnow.Packet) {
	f, err := s.cfg.Vocabulary.Decode(p.Payload, command.SensorFrame)
	if err != nil {
		log.Errorf("Command from %v dropped: %v", p.From, err)
		return
	}
	log.Infof("Command from %v: %v", p.From, f)

	switch f.Kind {
	case command.Start:
		s.setGate(true)
	case command.Stop:
		s.setGate(false)
	case command.Toggle:
		if s.cfg.ToggleGate {
			s.setGate(!s.gate)
		}
	case command.SetTank:
		s.setTank(tank.Geometry{DiameterCM: f.Diameter, HeightCM: f.Height})
	default:
		log.Debugf("Ignoring %q", f.Text)
	}
}

func (s *Sensor) setTank(g tank.Geometry) {
	s.geometry = g
	if err := store.SaveGeometry(s.store, g); err != nil {
		log.Errorf("Saving tank geometry: %v", err)
		return
	}
	log.Infof("Tank geometry updated: diameter=%v cm, height=%v cm", g.DiameterCM, g.HeightCM)

	if !s.cfg.AckGeometry {
		return
	}
	ack := command.Tank(g.DiameterCM, g.HeightCM)
	if err := s.link.SendTo(s.cfg.Controller, command.Encode(ack)); err != nil {
		log.Errorf("Sending %v: %v", ack, err)
	}
}

func (s *Sensor) tick() {
	if !s.gate {
		return
	}

	cm, err := s.ranger.Measure(s.cfg.EchoTimeout)
	if err != nil {
		if errors.Is(err, hw.ErrTimeout) {
			log.Warnf("Range sensor: %v", err)
		} else {
			log.Errorf("Range sensor: %v", err)
		}
		return
	}
	if cm <= s.cfg.MinDistance {
		log.Warnf("Distance %.1f cm too short, skipping", cm)
		return
	}

	f := command.Litres(tank.Volume(cm, s.geometry))
	log.Infof("Sending %v", f)
	if err := s.link.SendTo(s.cfg.Controller, command.Encode(f)); err != nil {
		log.Errorf("Sending %v: %v", f, err)
	}
}

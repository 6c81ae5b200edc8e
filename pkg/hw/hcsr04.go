// Package hw drives the node's GPIO peripherals: the HC-SR04 ultrasonic range
// sensor, push buttons and an output pin.
package hw

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// SoundSpeed in cm/µs
const SoundSpeed = 0.034

// DefaultEchoTimeout bounds each of the two echo edge waits
const DefaultEchoTimeout = 100 * time.Millisecond

// ErrTimeout is returned when the echo does not start or end in time
var ErrTimeout = errors.New("no echo")

// Ranger measures the distance to the water surface in cm
type Ranger interface {
	Measure(timeout time.Duration) (float64, error)
}

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

func pinByName(name string) (gpio.PinIO, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no GPIO pin named: %s", name)
	}
	return p, nil
}

// EchoToCM converts the echo pulse width into the one-way distance
func EchoToCM(d time.Duration) float64 {
	return float64(d.Microseconds()) * SoundSpeed / 2
}

// HCSR04 is an ultrasonic ranging module on two GPIO pins
type HCSR04 struct {
	trigger gpio.PinOut
	echo    gpio.PinIn
}

// OpenHCSR04 looks up the trigger and echo pins by name, in the format
// understood by gpioreg.ByName
func OpenHCSR04(trigger, echo string) (*HCSR04, error) {
	t, err := pinByName(trigger)
	if err != nil {
		return nil, err
	}
	e, err := pinByName(echo)
	if err != nil {
		return nil, err
	}
	return NewHCSR04(t, e)
}

func NewHCSR04(trigger gpio.PinOut, echo gpio.PinIn) (*HCSR04, error) {
	if err := trigger.Out(gpio.Low); err != nil {
		return nil, err
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, err
	}
	return &HCSR04{trigger: trigger, echo: echo}, nil
}

// Measure fires one pulse and times the echo. Each edge is awaited for at
// most timeout; a missing edge is ErrTimeout.
func (s *HCSR04) Measure(timeout time.Duration) (float64, error) {
	if err := s.echo.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return 0, err
	}

	if err := s.trigger.Out(gpio.High); err != nil {
		return 0, err
	}
	time.Sleep(10 * time.Microsecond)
	if err := s.trigger.Out(gpio.Low); err != nil {
		return 0, err
	}

	if !s.echo.WaitForEdge(timeout) {
		return 0, fmt.Errorf("%w: echo did not start within %v", ErrTimeout, timeout)
	}
	start := time.Now()

	if err := s.echo.In(gpio.PullDown, gpio.FallingEdge); err != nil {
		return 0, err
	}
	if !s.echo.WaitForEdge(timeout) {
		return 0, fmt.Errorf("%w: echo did not end within %v", ErrTimeout, timeout)
	}
	d := time.Since(start)

	cm := EchoToCM(d)
	log.Debugf("Echo %v -> %.1f cm", d, cm)
	return cm, nil
}

// Fixed always measures the same distance
type Fixed float64

func (f Fixed) Measure(time.Duration) (float64, error) {
	return float64(f), nil
}

// Reading is one scripted measurement
type Reading struct {
	CM  float64
	Err error
}

// Scripted replays a list of readings, repeating the last one
type Scripted struct {
	mu       sync.Mutex
	readings []Reading
	calls    int
}

func NewScripted(readings ...Reading) *Scripted {
	return &Scripted{readings: readings}
}

func (s *Scripted) Measure(time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.readings) == 0 {
		return 0, ErrTimeout
	}
	r := s.readings[0]
	if len(s.readings) > 1 {
		s.readings = s.readings[1:]
	}
	return r.CM, r.Err
}

// Calls returns how often Measure was invoked
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

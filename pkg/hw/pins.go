package hw

import (
	"sync/atomic"

	"periph.io/x/periph/conn/gpio"
)

// Button is a level input. ActiveLow buttons are wired against ground with a
// pull-up, the others against VCC with a pull-down.
type Button struct {
	pin       gpio.PinIn
	activeLow bool
}

// OpenButton looks up the pin by name
func OpenButton(name string, activeLow bool) (*Button, error) {
	p, err := pinByName(name)
	if err != nil {
		return nil, err
	}
	return NewButton(p, activeLow)
}

func NewButton(pin gpio.PinIn, activeLow bool) (*Button, error) {
	pull := gpio.PullDown
	if activeLow {
		pull = gpio.PullUp
	}
	if err := pin.In(pull, gpio.NoEdge); err != nil {
		return nil, err
	}
	return &Button{pin: pin, activeLow: activeLow}, nil
}

// Pressed samples the pin once
func (b *Button) Pressed() bool {
	return (b.pin.Read() == gpio.Low) == b.activeLow
}

// Output drives a pin, e.g. a LED or relay
type Output struct {
	pin gpio.PinOut
	on  bool
}

// OpenOutput looks up the pin by name
func OpenOutput(name string) (*Output, error) {
	p, err := pinByName(name)
	if err != nil {
		return nil, err
	}
	return NewOutput(p)
}

func NewOutput(pin gpio.PinOut) (*Output, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, err
	}
	return &Output{pin: pin}, nil
}

func (o *Output) Set(on bool) error {
	if err := o.pin.Out(gpio.Level(on)); err != nil {
		return err
	}
	o.on = on
	return nil
}

func (o *Output) On() bool {
	return o.on
}

// VirtualButton is a button without hardware, pressed from software
type VirtualButton struct {
	down atomic.Bool
}

func (b *VirtualButton) Set(pressed bool) {
	b.down.Store(pressed)
}

func (b *VirtualButton) Pressed() bool {
	return b.down.Load()
}

// VirtualOutput records the last level set
type VirtualOutput struct {
	on atomic.Bool
}

func (o *VirtualOutput) Set(on bool) error {
	o.on.Store(on)
	return nil
}

func (o *VirtualOutput) On() bool {
	return o.on.Load()
}

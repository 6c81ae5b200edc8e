package menu

import "time"

// PollInterval is the button sampling period
const PollInterval = 10 * time.Millisecond

// Debouncer turns raw button samples into press durations. A level change
// is accepted only when the next sample confirms it; the edge time is the
// sample that first saw the change.
type Debouncer struct {
	stable    bool
	candidate bool
	since     time.Time
	pressedAt time.Time
}

// Sample feeds one reading taken at now. It reports the press duration when
// a release is accepted.
func (d *Debouncer) Sample(pressed bool, now time.Time) (time.Duration, bool) {
	if pressed == d.stable {
		d.candidate = false
		return 0, false
	}
	if !d.candidate {
		d.candidate = true
		d.since = now
		return 0, false
	}

	d.candidate = false
	d.stable = pressed
	if pressed {
		d.pressedAt = d.since
		return 0, false
	}
	return d.since.Sub(d.pressedAt), true
}

// Pressed returns the accepted level
func (d *Debouncer) Pressed() bool {
	return d.stable
}

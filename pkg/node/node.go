// Package node ties the radio link, codec, store and GPIO together into the
// three node roles: the menu-driven controller, the tank sensor and the
// output switch.
package node

import (
	"github.com/speters/nowtank/pkg/espnow"
)

// Link is the part of espnow.Link the nodes use
type Link interface {
	Register(addr espnow.Address) error
	SendTo(addr espnow.Address, payload []byte) error
	Packets() <-chan espnow.Packet
}

// Output is a binary actuator, see hw.Output
type Output interface {
	Set(on bool) error
}

package espnow

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLen is the length of a station MAC address
const AddressLen = 6

// Address is the fixed hardware identifier of a node
type Address [AddressLen]byte

// Broadcast reaches every listener in range
var Broadcast = Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// IsBroadcast reports whether a is the all-ones address
func (a Address) IsBroadcast() bool {
	return a == Broadcast
}

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// MarshalText makes Address usable as a json value and map key
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the form produced by MarshalText
func (a *Address) UnmarshalText(b []byte) error {
	p, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = p
	return nil
}

// ParseAddress accepts "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff" and "aabbccddeeff"
func ParseAddress(s string) (Address, error) {
	var a Address

	h := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(h) != 2*AddressLen {
		return a, fmt.Errorf("invalid address %q: need %d bytes", s, AddressLen)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	copy(a[:], b)
	return a, nil
}

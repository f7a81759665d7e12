package core

import "github.com/signalsfoundry/omn-routing/model"

// NetworkInterface is the short-range radio a host uses for contacts.
// Two hosts can be in contact only if their interfaces share a Type and
// the distance between them is within both ranges.
type NetworkInterface struct {
	Type string `yaml:"type"`
	// Range in metres. Zero disables range-based contacts for the host; it
	// can still take part in scheduled contacts.
	Range float64 `yaml:"range"`
	// Speed in bytes per second.
	Speed float64 `yaml:"speed"`
}

// Compatible reports whether two interfaces can talk to each other.
func (ni NetworkInterface) Compatible(other NetworkInterface) bool {
	return ni.Type == other.Type
}

// InRange reports whether two hosts at a and b are close enough for both
// interfaces.
func (ni NetworkInterface) InRange(other NetworkInterface, a, b model.Coord) bool {
	if ni.Range <= 0 || other.Range <= 0 {
		return false
	}
	return a.DistanceTo(b) <= min(ni.Range, other.Range)
}

// linkSpeed is the transfer rate over a contact between the two
// interfaces. A zero speed on either side falls back to the other.
func linkSpeed(a, b NetworkInterface) float64 {
	switch {
	case a.Speed <= 0:
		return b.Speed
	case b.Speed <= 0:
		return a.Speed
	}
	return min(a.Speed, b.Speed)
}

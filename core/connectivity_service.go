// core/connectivity_service.go
package core

import (
	"cmp"
	"slices"

	"github.com/signalsfoundry/omn-routing/model"
)

// ScheduledContact forces a contact between two named hosts for the
// interval [Start, End) in simulated seconds, regardless of range.
type ScheduledContact struct {
	A     string  `yaml:"a"`
	B     string  `yaml:"b"`
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
}

type resolvedContact struct {
	key        linkKey
	start, end float64
}

// ConnectivityService decides which host pairs are in contact at a given
// instant. Range-based contacts need compatible interfaces within range of
// each other; satellite links can additionally require line of sight past
// the Earth and a minimum elevation over the ground end.
type ConnectivityService struct {
	// LineOfSight rejects contacts whose chord passes through the Earth.
	LineOfSight bool

	// MinElevationDeg is the minimum elevation angle (degrees) required for
	// links between an orbiting host and one that is not. Zero disables the
	// check.
	MinElevationDeg float64

	schedule []resolvedContact
}

// NewConnectivityService returns a service with geometry checks disabled,
// which is what planar scenarios want.
func NewConnectivityService() *ConnectivityService {
	return &ConnectivityService{}
}

// contactChange is a pair whose state must flip this tick.
type contactChange struct {
	key linkKey
	up  bool
}

func (cs *ConnectivityService) addScheduled(a, b model.Address, start, end float64) {
	cs.schedule = append(cs.schedule, resolvedContact{key: keyFor(a, b), start: start, end: end})
}

// scheduled reports whether a scheduled contact covers key at now.
func (cs *ConnectivityService) scheduled(key linkKey, now float64) bool {
	for _, c := range cs.schedule {
		if c.key == key && c.start <= now && now < c.end {
			return true
		}
	}
	return false
}

// inContact applies the range and geometry rules to a host pair.
func (cs *ConnectivityService) inContact(a, b *Host) bool {
	if !a.iface.Compatible(b.iface) {
		return false
	}
	pa, pb := a.Location(), b.Location()
	if !a.iface.InRange(b.iface, pa, pb) {
		return false
	}
	if cs.LineOfSight && !hasLineOfSight(pa, pb) {
		return false
	}
	if cs.MinElevationDeg > 0 {
		orbitA := a.def.MotionSource == model.MotionSourceSpacetrack
		orbitB := b.def.MotionSource == model.MotionSourceSpacetrack
		switch {
		case orbitA && !orbitB:
			return ElevationDegrees(pb, pa) >= cs.MinElevationDeg
		case orbitB && !orbitA:
			return ElevationDegrees(pa, pb) >= cs.MinElevationDeg
		}
	}
	return true
}

// changes compares the wanted contact set with the links that are up and
// returns the pairs to bring up or down, ordered by pair so every run
// applies them in the same sequence. Pinned pairs stay up regardless of
// geometry. hosts must be sorted by address.
func (cs *ConnectivityService) changes(hosts []*Host, links map[linkKey]*NetworkLink, pinned map[linkKey]bool, now float64) []contactChange {
	wanted := make(map[linkKey]bool, len(pinned))
	for key := range pinned {
		wanted[key] = true
	}
	for i, a := range hosts {
		for _, b := range hosts[i+1:] {
			key := keyFor(a.Address(), b.Address())
			if cs.scheduled(key, now) || cs.inContact(a, b) {
				wanted[key] = true
			}
		}
	}

	var out []contactChange
	for key := range links {
		if !wanted[key] {
			out = append(out, contactChange{key: key, up: false})
		}
	}
	for key := range wanted {
		if _, ok := links[key]; !ok {
			out = append(out, contactChange{key: key, up: true})
		}
	}
	slices.SortFunc(out, func(x, y contactChange) int {
		if c := cmp.Compare(x.key.a, y.key.a); c != 0 {
			return c
		}
		return cmp.Compare(x.key.b, y.key.b)
	})
	return out
}

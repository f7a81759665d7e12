package model

import (
	"maps"
	"math"
	"slices"
)

// Message is a bundle carried hop by hop through the network. Its identity
// (ID, endpoints, size, creation time, TTL) never changes; the hop list and
// the property bag are mutated as replicas travel.
type Message struct {
	ID        string
	From      Address
	To        Address
	Size      int
	CreatedAt float64 // simulated seconds
	TTL       float64 // initial time-to-live in seconds; zero means unlimited

	// ReceivedAt is when the current holder buffered this replica.
	ReceivedAt float64

	hops  []Address
	props map[string]any
}

// NewMessage constructs a message created by from at simulated time now.
func NewMessage(id string, from, to Address, size int, now, ttl float64) *Message {
	return &Message{
		ID:         id,
		From:       from,
		To:         to,
		Size:       size,
		CreatedAt:  now,
		TTL:        ttl,
		ReceivedAt: now,
		hops:       []Address{from},
	}
}

// Hops returns a copy of the hosts this replica has visited, source first.
func (m *Message) Hops() []Address {
	return slices.Clone(m.hops)
}

// HopCount is the number of transfers this replica has gone through.
func (m *Message) HopCount() int {
	if len(m.hops) == 0 {
		return 0
	}
	return len(m.hops) - 1
}

// AddHop appends the host that just received this replica.
func (m *Message) AddHop(a Address) {
	m.hops = append(m.hops, a)
}

// Visited reports whether the replica has already passed through a.
func (m *Message) Visited(a Address) bool {
	return slices.Contains(m.hops, a)
}

// Age returns the seconds elapsed since creation.
func (m *Message) Age(now float64) float64 {
	return now - m.CreatedAt
}

// ResidualTTL returns the remaining lifetime in seconds. Messages without a
// TTL report +Inf.
func (m *Message) ResidualTTL(now float64) float64 {
	if m.TTL <= 0 {
		return math.Inf(1)
	}
	return m.TTL - m.Age(now)
}

// Expired reports whether the TTL has run out at now.
func (m *Message) Expired(now float64) bool {
	return m.ResidualTTL(now) <= 0
}

// Property returns the raw value stored under key.
func (m *Message) Property(key string) (any, bool) {
	v, ok := m.props[key]
	return v, ok
}

// HasProperty reports whether key is present in the bag.
func (m *Message) HasProperty(key string) bool {
	_, ok := m.props[key]
	return ok
}

// SetProperty adds or replaces key.
func (m *Message) SetProperty(key string, value any) {
	if m.props == nil {
		m.props = make(map[string]any)
	}
	m.props[key] = value
}

// RemoveProperty deletes key; missing keys are ignored.
func (m *Message) RemoveProperty(key string) {
	delete(m.props, key)
}

// PropertyKeys lists the keys currently in the bag in sorted order.
func (m *Message) PropertyKeys() []string {
	return slices.Sorted(maps.Keys(m.props))
}

// Int returns an integer property. A present value of another type reports
// false, the same as a missing one.
func (m *Message) Int(key string) (int, bool) {
	v, ok := m.props[key].(int)
	return v, ok
}

// Float returns a float64 property.
func (m *Message) Float(key string) (float64, bool) {
	v, ok := m.props[key].(float64)
	return v, ok
}

// Coord returns a position property.
func (m *Message) Coord(key string) (Coord, bool) {
	v, ok := m.props[key].(Coord)
	return v, ok
}

// Replicate returns an independent copy for handing to another host. Bag
// values are plain values (ints, floats, coordinates), so a shallow copy of
// the map is a deep copy of the bag.
func (m *Message) Replicate() *Message {
	c := *m
	c.hops = slices.Clone(m.hops)
	if m.props != nil {
		c.props = maps.Clone(m.props)
	}
	return &c
}

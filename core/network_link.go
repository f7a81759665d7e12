package core

import (
	"fmt"

	"github.com/signalsfoundry/omn-routing/model"
	"github.com/signalsfoundry/omn-routing/routing"
)

// LinkStatus is the state of a contact between two hosts.
type LinkStatus int

const (
	LinkStatusDown LinkStatus = iota
	LinkStatusUp
)

func (s LinkStatus) String() string {
	if s == LinkStatusUp {
		return "up"
	}
	return "down"
}

// linkKey identifies an unordered host pair with the lower address first.
type linkKey struct {
	a, b model.Address
}

func keyFor(x, y model.Address) linkKey {
	if y < x {
		x, y = y, x
	}
	return linkKey{a: x, b: y}
}

func (k linkKey) String() string {
	return fmt.Sprintf("%v-%v", k.a, k.b)
}

// NetworkLink is a contact between two hosts. It exists from contact start
// to contact end and carries at most one transfer at a time.
type NetworkLink struct {
	A, B    *Host
	Status  LinkStatus
	UpSince float64
	// Speed is the transfer rate in bytes per second.
	Speed float64

	transfer *transfer
	ends     [2]*linkEnd
}

func newNetworkLink(a, b *Host, now float64) *NetworkLink {
	l := &NetworkLink{
		A:       a,
		B:       b,
		Status:  LinkStatusUp,
		UpSince: now,
		Speed:   linkSpeed(a.iface, b.iface),
	}
	l.ends[0] = &linkEnd{link: l, side: 0}
	l.ends[1] = &linkEnd{link: l, side: 1}
	return l
}

func (l *NetworkLink) key() linkKey {
	return keyFor(l.A.Address(), l.B.Address())
}

// IsUp reports whether the contact is active.
func (l *NetworkLink) IsUp() bool { return l.Status == LinkStatusUp }

// IsTransferring reports whether a transfer is in flight on the link.
func (l *NetworkLink) IsTransferring() bool { return l.transfer != nil }

// endFor returns h's view of the link.
func (l *NetworkLink) endFor(h *Host) *linkEnd {
	if h == l.A {
		return l.ends[0]
	}
	return l.ends[1]
}

// Other returns the host on the far side from h.
func (l *NetworkLink) Other(h *Host) *Host {
	if h == l.A {
		return l.B
	}
	return l.A
}

// linkEnd is one host's view of a link. It is what routers see as a
// routing.Connection.
type linkEnd struct {
	link *NetworkLink
	side int
}

func (e *linkEnd) self() *Host {
	if e.side == 0 {
		return e.link.A
	}
	return e.link.B
}

func (e *linkEnd) peer() *Host {
	return e.link.Other(e.self())
}

func (e *linkEnd) Peer() *routing.Router { return e.peer().router }
func (e *linkEnd) IsUp() bool            { return e.link.IsUp() }
func (e *linkEnd) IsTransferring() bool  { return e.link.IsTransferring() }

// transfer is a message in flight from one end of a link to the other.
type transfer struct {
	from, to *Host
	// msg is the sender's buffered copy; replica is what the receiver gets.
	msg     *model.Message
	replica *model.Message
	started float64
	done    float64
}

package core

import (
	"cmp"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/signalsfoundry/omn-routing/model"
	"github.com/signalsfoundry/omn-routing/routing"
)

// defaultDeliveredMemory bounds how many delivered message ids a host
// remembers to reject re-deliveries.
const defaultDeliveredMemory = 4096

// Host is a simulated node: its definition in the registry, a radio, a
// buffer, the links currently up and the router deciding what to send.
type Host struct {
	def    *model.HostDefinition
	iface  NetworkInterface
	buffer *Buffer
	router *routing.Router
	motion MotionModel
	clock  func() float64

	links     []*NetworkLink
	delivered *lru.Cache[string, struct{}]
}

func newHost(def *model.HostDefinition, iface NetworkInterface, bufferSize, memory int, clock func() float64) (*Host, error) {
	if memory <= 0 {
		memory = defaultDeliveredMemory
	}
	delivered, err := lru.New[string, struct{}](memory)
	if err != nil {
		return nil, err
	}
	return &Host{
		def:       def,
		iface:     iface,
		buffer:    NewBuffer(bufferSize),
		motion:    &StaticMotionModel{},
		clock:     clock,
		delivered: delivered,
	}, nil
}

// Address implements routing.Node.
func (h *Host) Address() model.Address { return h.def.Address }

func (h *Host) Name() string { return h.def.Name }

// Location implements routing.Node.
func (h *Host) Location() model.Coord { return h.def.Coordinates }

// Now implements routing.Node.
func (h *Host) Now() float64 { return h.clock() }

// Router returns the host's router.
func (h *Host) Router() *routing.Router { return h.router }

// Buffer exposes the host's message store.
func (h *Host) Buffer() *Buffer { return h.buffer }

// Messages implements routing.Node.
func (h *Host) Messages() []*model.Message { return h.buffer.Messages() }

// Message implements routing.Node.
func (h *Host) Message(id string) (*model.Message, bool) { return h.buffer.Get(id) }

// HasMessage implements routing.Node.
func (h *Host) HasMessage(id string) bool { return h.buffer.Has(id) }

// Connections implements routing.Node. Links are kept sorted by peer
// address so routers see a stable order.
func (h *Host) Connections() []routing.Connection {
	out := make([]routing.Connection, 0, len(h.links))
	for _, l := range h.links {
		out = append(out, l.endFor(h))
	}
	return out
}

// IsTransferring implements routing.Node.
func (h *Host) IsTransferring() bool {
	for _, l := range h.links {
		if l.IsTransferring() {
			return true
		}
	}
	return false
}

// Delivered reports whether id has already reached this host as its
// destination.
func (h *Host) Delivered(id string) bool {
	return h.delivered.Contains(id)
}

func (h *Host) markDelivered(id string) {
	h.delivered.Add(id, struct{}{})
}

// inTransit reports whether id is being sent or received on any link.
func (h *Host) inTransit(id string) bool {
	for _, l := range h.links {
		if t := l.transfer; t != nil && t.msg.ID == id {
			return true
		}
	}
	return false
}

func (h *Host) addLink(l *NetworkLink) {
	h.links = append(h.links, l)
	slices.SortFunc(h.links, func(a, b *NetworkLink) int {
		return cmp.Compare(a.Other(h).Address(), b.Other(h).Address())
	})
}

func (h *Host) removeLink(l *NetworkLink) {
	h.links = slices.DeleteFunc(h.links, func(x *NetworkLink) bool { return x == l })
}

func (h *Host) reset() {
	h.buffer.Clear()
	h.links = nil
	h.delivered.Purge()
	h.router.Reset()
}

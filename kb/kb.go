package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/omn-routing/model"
)

var (
	// ErrHostExists is returned when a host address or name is already registered.
	ErrHostExists = errors.New("host already exists")
	// ErrHostNotFound is returned for operations on an unknown address.
	ErrHostNotFound = errors.New("host not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventHostAdded EventType = iota
	EventHostMoved
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	Host model.HostDefinition
}

// KnowledgeBase is an in-memory, thread-safe registry of the hosts of a run.
type KnowledgeBase struct {
	mu sync.RWMutex

	hosts  map[model.Address]*model.HostDefinition
	byName map[string]model.Address

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		hosts:  make(map[model.Address]*model.HostDefinition),
		byName: make(map[string]model.Address),
	}
}

// AddHost registers a host. Addresses and non-empty names must be unique.
func (kb *KnowledgeBase) AddHost(h *model.HostDefinition) error {
	kb.mu.Lock()
	if _, exists := kb.hosts[h.Address]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: address %v", ErrHostExists, h.Address)
	}
	if h.Name != "" {
		if _, exists := kb.byName[h.Name]; exists {
			kb.mu.Unlock()
			return fmt.Errorf("%w: name %q", ErrHostExists, h.Name)
		}
		kb.byName[h.Name] = h.Address
	}
	// store pointer so that motion models can update in-place
	kb.hosts[h.Address] = h
	event := Event{Type: EventHostAdded, Host: *h}
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// GetHost returns the host with the given address, or nil if not found.
func (kb *KnowledgeBase) GetHost(addr model.Address) *model.HostDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.hosts[addr]
}

// HostByName resolves a host name to its definition.
func (kb *KnowledgeBase) HostByName(name string) (*model.HostDefinition, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	addr, ok := kb.byName[name]
	if !ok {
		return nil, false
	}
	return kb.hosts[addr], true
}

// ListHosts returns a snapshot slice of all hosts ordered by address.
func (kb *KnowledgeBase) ListHosts() []*model.HostDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.HostDefinition, 0, len(kb.hosts))
	for _, h := range kb.hosts {
		res = append(res, h)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Address < res[j].Address })
	return res
}

// Len returns the number of registered hosts.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.hosts)
}

// Position returns a host's current coordinates.
func (kb *KnowledgeBase) Position(addr model.Address) (model.Coord, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	h, ok := kb.hosts[addr]
	if !ok {
		return model.Coord{}, fmt.Errorf("%w: %v", ErrHostNotFound, addr)
	}
	return h.Coordinates, nil
}

// UpdateHostPosition updates a host's coordinates and notifies subscribers.
func (kb *KnowledgeBase) UpdateHostPosition(addr model.Address, pos model.Coord) error {
	kb.mu.Lock()
	h, ok := kb.hosts[addr]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrHostNotFound, addr)
	}
	if h.Coordinates == pos {
		kb.mu.Unlock()
		return nil
	}
	h.Coordinates = pos
	event := Event{
		Type: EventHostMoved,
		Host: *h, // copy for safety
	}
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Clear removes every host. Subscribers stay registered.
func (kb *KnowledgeBase) Clear() {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	clear(kb.hosts)
	clear(kb.byName)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}

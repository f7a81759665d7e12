package core

import (
	"errors"
	"slices"

	"github.com/signalsfoundry/omn-routing/model"
)

// ErrBufferFull is returned when a message cannot fit even after dropping
// everything that may be dropped.
var ErrBufferFull = errors.New("buffer full")

// Buffer is a host's message store. Messages keep insertion order, which
// is the FIFO order routers see. Capacity is in bytes; zero means
// unlimited.
type Buffer struct {
	capacity int
	used     int
	order    []*model.Message
	byID     map[string]*model.Message
}

// NewBuffer returns an empty buffer holding up to capacity bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{capacity: capacity, byID: make(map[string]*model.Message)}
}

func (b *Buffer) Capacity() int { return b.capacity }
func (b *Buffer) Used() int     { return b.used }
func (b *Buffer) Len() int      { return len(b.order) }

// Free returns the remaining bytes, or -1 for an unlimited buffer.
func (b *Buffer) Free() int {
	if b.capacity <= 0 {
		return -1
	}
	return b.capacity - b.used
}

// Messages returns the buffered messages in insertion order. The slice is
// a copy; the messages are not.
func (b *Buffer) Messages() []*model.Message {
	return slices.Clone(b.order)
}

func (b *Buffer) Get(id string) (*model.Message, bool) {
	m, ok := b.byID[id]
	return m, ok
}

func (b *Buffer) Has(id string) bool {
	_, ok := b.byID[id]
	return ok
}

// Add appends m. Callers make room first; Add itself never drops.
func (b *Buffer) Add(m *model.Message) error {
	if b.Has(m.ID) {
		return nil
	}
	if b.capacity > 0 && b.used+m.Size > b.capacity {
		return ErrBufferFull
	}
	b.order = append(b.order, m)
	b.byID[m.ID] = m
	b.used += m.Size
	return nil
}

// Remove deletes id and returns the removed message.
func (b *Buffer) Remove(id string) (*model.Message, bool) {
	m, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	delete(b.byID, id)
	b.used -= m.Size
	b.order = slices.DeleteFunc(b.order, func(x *model.Message) bool { return x == m })
	return m, true
}

// MakeRoom drops the oldest messages until size bytes fit. Messages for
// which pinned returns true (those in transit) are never dropped. The
// dropped messages are returned; ErrBufferFull means size cannot fit.
func (b *Buffer) MakeRoom(size int, pinned func(id string) bool) ([]*model.Message, error) {
	if b.capacity <= 0 {
		return nil, nil
	}
	if size > b.capacity {
		return nil, ErrBufferFull
	}
	var dropped []*model.Message
	for b.used+size > b.capacity {
		victim := b.oldestDroppable(pinned)
		if victim == nil {
			return dropped, ErrBufferFull
		}
		b.Remove(victim.ID)
		dropped = append(dropped, victim)
	}
	return dropped, nil
}

// oldestDroppable picks the message received earliest, breaking ties by
// buffer position.
func (b *Buffer) oldestDroppable(pinned func(id string) bool) *model.Message {
	var victim *model.Message
	for _, m := range b.order {
		if pinned != nil && pinned(m.ID) {
			continue
		}
		if victim == nil || m.ReceivedAt < victim.ReceivedAt {
			victim = m
		}
	}
	return victim
}

// ExpireOlder removes messages whose TTL has run out at now and returns
// them, skipping pinned ones.
func (b *Buffer) ExpireOlder(now float64, pinned func(id string) bool) []*model.Message {
	var expired []*model.Message
	for _, m := range b.order {
		if m.Expired(now) && (pinned == nil || !pinned(m.ID)) {
			expired = append(expired, m)
		}
	}
	for _, m := range expired {
		b.Remove(m.ID)
	}
	return expired
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.order = nil
	b.used = 0
	clear(b.byID)
}

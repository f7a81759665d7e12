package routing

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/omn-routing/model"
)

// ErrUnknownProtocol is returned when a protocol name cannot be parsed.
var ErrUnknownProtocol = errors.New("unknown routing protocol")

// Protocol tags the concrete forwarding protocol a router runs. Routers
// decide how to treat a peer from its tag alone, resolved once per peer
// through a PeerProtocolCache.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolProphet
	ProtocolSprayAndWait
	ProtocolProphetPTU
	ProtocolSprayAndWaitPTU
	ProtocolSprayAndWaitUtility
	ProtocolLucidSource
	ProtocolLucid
	ProtocolSeer
	ProtocolHumanIntelligence
)

var protocolNames = map[Protocol]string{
	ProtocolUnknown:             "unknown",
	ProtocolProphet:             "prophet",
	ProtocolSprayAndWait:        "snw",
	ProtocolProphetPTU:          "prophet-ptu",
	ProtocolSprayAndWaitPTU:     "snw-ptu",
	ProtocolSprayAndWaitUtility: "snw-utility",
	ProtocolLucidSource:         "lucid-source",
	ProtocolLucid:               "lucid",
	ProtocolSeer:                "seer",
	ProtocolHumanIntelligence:   "human-intelligence",
}

// Protocols lists every concrete protocol, in tag order.
func Protocols() []Protocol {
	return []Protocol{
		ProtocolProphet,
		ProtocolSprayAndWait,
		ProtocolProphetPTU,
		ProtocolSprayAndWaitPTU,
		ProtocolSprayAndWaitUtility,
		ProtocolLucidSource,
		ProtocolLucid,
		ProtocolSeer,
		ProtocolHumanIntelligence,
	}
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// ParseProtocol maps a configuration name to its tag.
func ParseProtocol(s string) (Protocol, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range protocolNames {
		if p != ProtocolUnknown && name == s {
			return p, nil
		}
	}
	return ProtocolUnknown, fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
}

// UnmarshalYAML accepts protocol names in configuration files.
func (p *Protocol) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseProtocol(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalYAML writes the protocol name.
func (p Protocol) MarshalYAML() (any, error) {
	return p.String(), nil
}

// BearsPredictability reports whether routers of this protocol keep a
// delivery-predictability table other routers may read.
func (p Protocol) BearsPredictability() bool {
	switch p {
	case ProtocolProphet, ProtocolProphetPTU, ProtocolSprayAndWaitPTU:
		return true
	}
	return false
}

// KeepsReplicaAccounting reports whether a router of this protocol applies
// Spray-and-Wait bookkeeping to messages it receives.
func (p Protocol) KeepsReplicaAccounting() bool {
	switch p {
	case ProtocolSprayAndWait, ProtocolProphetPTU, ProtocolSprayAndWaitPTU, ProtocolSprayAndWaitUtility:
		return true
	}
	return false
}

// BudgetBased reports whether the protocol forwards purely on replica budget.
func (p Protocol) BudgetBased() bool {
	return p == ProtocolSprayAndWait
}

// Translates reports whether the protocol is a translation unit able to
// bridge predictability-based and budget-based peers.
func (p Protocol) Translates() bool {
	return p == ProtocolProphetPTU || p == ProtocolSprayAndWaitPTU
}

func (p Protocol) family() string {
	switch p {
	case ProtocolProphet, ProtocolSprayAndWait, ProtocolProphetPTU, ProtocolSprayAndWaitPTU:
		return "prophet-snw"
	case ProtocolLucidSource, ProtocolLucid:
		return "lucid"
	case ProtocolSeer:
		return "seer"
	case ProtocolSprayAndWaitUtility:
		return "snw-utility"
	case ProtocolHumanIntelligence:
		return "epidemic"
	}
	return ""
}

// compatible reports whether a router running self may exchange messages
// with a peer running peer. Plain PRoPHET and plain Spray-and-Wait never
// talk to each other directly; a translation unit bridges them.
func compatible(self, peer Protocol) bool {
	if self == ProtocolUnknown || peer == ProtocolUnknown {
		return false
	}
	if self.family() != peer.family() {
		return false
	}
	if (self == ProtocolProphet && peer == ProtocolSprayAndWait) ||
		(self == ProtocolSprayAndWait && peer == ProtocolProphet) {
		return false
	}
	return true
}

// PeerProtocolCache memoises the protocol of every peer address seen so far.
// It has one slot per address and each slot is written at most once: the
// first contact with an address decides its tag for the rest of the run.
type PeerProtocolCache struct {
	slots []Protocol
}

// NewPeerProtocolCache sizes the cache for hostCount addresses.
func NewPeerProtocolCache(hostCount int) *PeerProtocolCache {
	if hostCount < 0 {
		hostCount = 0
	}
	return &PeerProtocolCache{slots: make([]Protocol, hostCount)}
}

// ProtocolOf returns the cached tag, or ProtocolUnknown before first contact.
func (c *PeerProtocolCache) ProtocolOf(addr model.Address) Protocol {
	if c == nil || int(addr) < 0 || int(addr) >= len(c.slots) {
		return ProtocolUnknown
	}
	return c.slots[addr]
}

// Resolve returns the cached tag for addr, calling probe and caching its
// answer on the first lookup. Addresses outside the cache range are probed
// every time and never stored.
func (c *PeerProtocolCache) Resolve(addr model.Address, probe func() Protocol) Protocol {
	if c == nil || int(addr) < 0 || int(addr) >= len(c.slots) {
		return probe()
	}
	if tag := c.slots[addr]; tag != ProtocolUnknown {
		return tag
	}
	tag := probe()
	c.slots[addr] = tag
	return tag
}

// Known returns how many addresses have a cached tag.
func (c *PeerProtocolCache) Known() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, tag := range c.slots {
		if tag != ProtocolUnknown {
			n++
		}
	}
	return n
}

// Clear forgets every cached tag.
func (c *PeerProtocolCache) Clear() {
	if c == nil {
		return
	}
	clear(c.slots)
}

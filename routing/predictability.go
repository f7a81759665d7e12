package routing

import (
	"math"
	"slices"

	"github.com/signalsfoundry/omn-routing/model"
)

// Predictability is a PRoPHET delivery-predictability table. Every read or
// update by the owner first ages the table to the supplied time; other
// routers only ever see aged copies through View and Snapshot.
type Predictability struct {
	cfg ProphetConfig

	preds     map[model.Address]float64
	lastAging float64
}

// PeerPrediction is one entry of an aged predictability view.
type PeerPrediction struct {
	Peer        model.Address
	Probability float64
}

// NewPredictability returns an empty table.
func NewPredictability(cfg ProphetConfig) *Predictability {
	return &Predictability{
		cfg:   cfg,
		preds: make(map[model.Address]float64),
	}
}

// agingFactor is GAMMA^k for the time elapsed since the last aging.
func (p *Predictability) agingFactor(now float64) float64 {
	k := (now - p.lastAging) / float64(p.cfg.SecondsInTimeUnit)
	if k <= 0 || math.IsNaN(k) {
		return 1
	}
	return math.Pow(p.cfg.Gamma, k)
}

// Age decays every entry to now. Calling it twice at the same time is a
// no-op the second time.
func (p *Predictability) Age(now float64) {
	if now == p.lastAging {
		return
	}
	mult := p.agingFactor(now)
	if mult != 1 {
		for peer, v := range p.preds {
			p.preds[peer] = clampProbability(v * mult)
		}
	}
	if now > p.lastAging {
		p.lastAging = now
	}
}

// PredFor returns the aged probability for peer; unknown peers read 0.
func (p *Predictability) PredFor(peer model.Address, now float64) float64 {
	p.Age(now)
	return p.preds[peer]
}

// View returns the probability for peer as of now without mutating the
// table. Used by routers reading a peer's table across a connection.
func (p *Predictability) View(peer model.Address, now float64) float64 {
	v, ok := p.preds[peer]
	if !ok {
		return 0
	}
	return clampProbability(v * p.agingFactor(now))
}

// OnContactUp applies the direct update P = P + (1-P)*P_INIT for peer.
func (p *Predictability) OnContactUp(peer model.Address, now float64) {
	old := p.PredFor(peer, now)
	p.preds[peer] = clampProbability(old + (1-old)*p.cfg.InitialPredictability())
}

// MergeTransitive applies P(c) = P(c) + (1-P(c))*P(peer)*Ppeer(c)*BETA for
// every host c in the peer's aged table, skipping self.
func (p *Predictability) MergeTransitive(self, peer model.Address, peerTable []PeerPrediction, now float64) {
	pForPeer := p.PredFor(peer, now)
	for _, e := range peerTable {
		if e.Peer == self {
			continue
		}
		old := p.preds[e.Peer]
		p.preds[e.Peer] = clampProbability(old + (1-old)*pForPeer*e.Probability*p.cfg.TransitivityScale())
	}
}

// Snapshot returns the table aged to now, sorted by address, without
// mutating it.
func (p *Predictability) Snapshot(now float64) []PeerPrediction {
	mult := p.agingFactor(now)
	out := make([]PeerPrediction, 0, len(p.preds))
	for peer, v := range p.preds {
		out = append(out, PeerPrediction{Peer: peer, Probability: clampProbability(v * mult)})
	}
	slices.SortFunc(out, func(a, b PeerPrediction) int {
		return int(a.Peer) - int(b.Peer)
	})
	return out
}

// Len returns the number of hosts with an entry.
func (p *Predictability) Len() int {
	return len(p.preds)
}

// Reset drops every entry and rewinds the aging timestamp.
func (p *Predictability) Reset() {
	clear(p.preds)
	p.lastAging = 0
}

func clampProbability(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

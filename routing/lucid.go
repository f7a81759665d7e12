package routing

import (
	"math"

	"github.com/signalsfoundry/omn-routing/model"
)

// Message properties used by LUCID.
const (
	// InitLocationProperty is where the current replication decision is
	// anchored: the creator's position, then the last accepting carrier's.
	InitLocationProperty = "initLocation"
	// OriginLocationProperty is the creator's position, kept for deviation
	// reporting only.
	OriginLocationProperty = "origLocation"
)

// Lucid is locality-bounded dissemination. With sourceOnly set only the
// creator replicates (variant A); otherwise every holder may, gated by hop
// count and a distance-dependent probability (variant B).
type Lucid struct {
	cfg        LucidConfig
	sourceOnly bool
}

func NewLucid(cfg LucidConfig, sourceOnly bool) *Lucid {
	return &Lucid{cfg: cfg, sourceOnly: sourceOnly}
}

func (l *Lucid) SourceOnly() bool { return l.sourceOnly }

// ReplicationProbability maps a holder's distance from the message's init
// location to an acceptance probability:
//
//	d >= R          0
//	d <  0.75 R     1
//	otherwise       0.99^(d²/R) for R < 300, else 0.992^(d²/R)
//
// A non-positive range or NaN distance yields 0.
func (l *Lucid) ReplicationProbability(d float64) float64 {
	r := l.cfg.LocalityRange
	if !(r > 0) || math.IsNaN(d) {
		return 0
	}
	if d < 0 {
		d = -d
	}
	switch {
	case d >= r:
		return 0
	case d < 0.75*r:
		return 1
	}
	base := 0.99
	if r >= 300 {
		base = 0.992
	}
	return clampProbability(math.Pow(base, d*d/r))
}

// OnCreate anchors both location properties at the creator's position.
func (l *Lucid) OnCreate(m *model.Message, loc model.Coord) {
	m.SetProperty(InitLocationProperty, loc)
	m.SetProperty(OriginLocationProperty, loc)
}

// OnReceive recentres the message on the receiver. It returns the
// receiver's distance from the origin and whether that lies inside the
// locality range; ok is false for messages without an origin.
func (l *Lucid) OnReceive(m *model.Message, loc model.Coord) (deviation float64, inside bool, ok bool) {
	m.SetProperty(InitLocationProperty, loc)
	orig, ok := m.Coord(OriginLocationProperty)
	if !ok {
		return 0, false, false
	}
	deviation = loc.DistanceTo(orig)
	return deviation, deviation < l.cfg.LocalityRange, true
}

// offer decides whether the holder at self, currently at loc, should
// replicate m. Variant B consumes exactly one value from draw per call so
// the generator sequence does not depend on hop counts.
func (l *Lucid) offer(m *model.Message, self model.Address, loc model.Coord, draw func() float64) bool {
	init, ok := m.Coord(InitLocationProperty)
	if !ok {
		return false
	}
	d := loc.DistanceTo(init)
	if l.sourceOnly {
		return m.From == self && d < l.cfg.LocalityRange
	}
	accept := draw() < l.ReplicationProbability(d)
	return accept && m.HopCount() <= l.cfg.MaxHopCount
}

package routing

import (
	"math"
	"math/rand/v2"

	"github.com/signalsfoundry/omn-routing/model"
)

// TemperatureProperty carries a message's annealing temperature.
const TemperatureProperty = "temperature"

// ictWeight is the smoothing weight given to a new inter-contact sample.
const ictWeight = 0.6

// Seer is the annealing forwarder state of one router: a smoothed
// inter-contact time, the contact-down times awaiting a re-pairing and the
// ids of messages this router received and may still be routing.
type Seer struct {
	cfg SeerConfig

	ict         float64
	contactDown map[model.Address]float64
	seen        *SeenCache
	nextReset   float64
}

func NewSeer(cfg SeerConfig) *Seer {
	s := &Seer{
		cfg:         cfg,
		contactDown: make(map[model.Address]float64),
		seen:        NewSeenCache(),
	}
	s.Reset()
	return s
}

// ICT is the current inter-contact time estimate in seconds.
func (s *Seer) ICT() float64 { return s.ict }

// NextReset is the simulated time after which counters are next cleared.
func (s *Seer) NextReset() float64 { return s.nextReset }

// SeenLen returns the size of the seen-message cache.
func (s *Seer) SeenLen() int { return s.seen.Len() }

// PendingContacts returns how many peers have a recorded contact-down.
func (s *Seer) PendingContacts() int { return len(s.contactDown) }

func (s *Seer) Reset() {
	s.ict = s.cfg.InitialICT
	clear(s.contactDown)
	s.seen.Clear()
	s.nextReset = -1
}

// Temperature returns m's temperature.
func Temperature(m *model.Message) (float64, bool) {
	return m.Float(TemperatureProperty)
}

func (s *Seer) OnCreate(m *model.Message) {
	m.SetProperty(TemperatureProperty, s.cfg.InitialTemperature)
}

// Cool multiplies the temperature of every non-frozen message by the cooling
// coefficient. Frozen messages and messages without a temperature are left
// alone.
func (s *Seer) Cool(msgs []*model.Message) {
	for _, m := range msgs {
		t, ok := Temperature(m)
		if !ok || t < s.cfg.FrozenTemperature {
			continue
		}
		m.SetProperty(TemperatureProperty, clampTemperature(t*s.cfg.CoolingCoefficient))
	}
}

// OnContactUp cools the buffer and folds the down-time of a re-paired peer
// into the inter-contact estimate.
func (s *Seer) OnContactUp(peer model.Address, now float64, msgs []*model.Message) {
	s.Cool(msgs)
	downAt, ok := s.contactDown[peer]
	if !ok {
		return
	}
	delete(s.contactDown, peer)
	if delta := now - downAt; delta > 1 {
		s.ict = ictWeight*delta + (1-ictWeight)*s.ict
	}
}

// OnContactDown records when the contact with peer ended. An earlier
// unmatched record is kept.
func (s *Seer) OnContactDown(peer model.Address, now float64) {
	if _, ok := s.contactDown[peer]; !ok {
		s.contactDown[peer] = now
	}
}

// OnReceive remembers m until its residual lifetime runs out.
func (s *Seer) OnReceive(m *model.Message, now float64) {
	residual := m.ResidualTTL(now)
	if residual > 0 {
		s.seen.Add(m.ID, now+residual)
	}
}

// MaybeReset clears the contact-down records and prunes expired seen
// entries once the reset time has passed. Nothing happens while the router
// is transferring; the reset is retried on the next call.
func (s *Seer) MaybeReset(now float64, transferring bool, rng *rand.Rand) bool {
	if now <= s.nextReset || transferring {
		return false
	}
	s.seen.Prune(now)
	clear(s.contactDown)
	span := s.cfg.ResetIntervalHigh - s.cfg.ResetIntervalLow
	s.nextReset += s.cfg.ResetIntervalLow + rng.Float64()*span
	return true
}

// offer runs the annealing test for handing m to a peer whose SeeR state is
// peer. draw is consulted only when the peer is not strictly better.
func (s *Seer) offer(m *model.Message, peer *Seer, now float64, draw func() float64) bool {
	if slack(m, now) < peer.ict {
		return false
	}
	if peer.seen.Has(m.ID) {
		return false
	}
	t, ok := Temperature(m)
	if !ok || t < s.cfg.FrozenTemperature {
		return false
	}
	hops := float64(m.HopCount())
	local := s.ict * (1 + hops)
	remote := peer.ict * (2 + hops)
	delta := remote - local
	if delta <= 0 {
		return true
	}
	return draw() < math.Exp(-delta/(s.cfg.BoltzmannConstant*t))
}

// slack is the initial lifetime minus twice the age: the time a peer would
// have left if it took as long again to forward the message.
func slack(m *model.Message, now float64) float64 {
	if m.TTL <= 0 {
		return math.Inf(1)
	}
	return m.TTL - 2*m.Age(now)
}

func clampTemperature(t float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	return t
}

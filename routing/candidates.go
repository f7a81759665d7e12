package routing

import (
	"github.com/signalsfoundry/omn-routing/model"
)

// Candidates proposes (message, connection) transfers in the order the
// engine should try them. It returns nothing while the host is transferring.
// Connections that are busy, lead to a transferring peer or to a peer whose
// protocol cannot interoperate are skipped, as are messages the peer
// already holds.
func (r *Router) Candidates() []Candidate {
	if r.node == nil || r.node.IsTransferring() {
		return nil
	}
	msgs := r.node.Messages()
	if len(msgs) == 0 {
		return nil
	}
	now := r.node.Now()

	var out []Candidate
	for _, c := range r.node.Connections() {
		if !c.IsUp() || c.IsTransferring() {
			continue
		}
		peer := c.Peer()
		if peer == nil || peer.IsTransferring() {
			continue
		}
		tag := r.peerProtocol(c)
		if !compatible(r.cfg.Protocol, tag) {
			continue
		}
		for _, m := range msgs {
			if peer.HasMessage(m.ID) {
				continue
			}
			if score, ok := r.evaluate(m, peer, tag, now); ok {
				out = append(out, Candidate{Message: m, Conn: c, Score: score})
			}
		}
	}
	r.sortCandidates(out)
	if len(out) > 0 {
		r.rec.CandidatesProposed(r.cfg.Protocol, len(out))
	}
	return out
}

// evaluate decides whether m should be offered to peer and with which
// score.
func (r *Router) evaluate(m *model.Message, peer *Router, tag Protocol, now float64) (float64, bool) {
	switch r.cfg.Protocol {
	case ProtocolProphet:
		return r.prophetRule(m, peer, now)
	case ProtocolSprayAndWait:
		return 0, r.budget.HasBudget(m)
	case ProtocolProphetPTU, ProtocolSprayAndWaitPTU:
		return r.translate(m, peer, tag, now)
	case ProtocolSprayAndWaitUtility:
		if !r.budget.HasBudget(m) {
			return 0, false
		}
		theirs := peer.Utility(m.To)
		return theirs, theirs > r.utility.Utility(m.To)
	case ProtocolLucidSource, ProtocolLucid:
		return 0, r.lucid.offer(m, r.Address(), r.node.Location(), r.rng.Float64)
	case ProtocolSeer:
		if peer.seer == nil {
			return 0, false
		}
		return 0, r.seer.offer(m, peer.seer, now, r.rng.Float64)
	case ProtocolHumanIntelligence:
		return 0, !m.Visited(peer.Address())
	}
	return 0, false
}

// prophetRule offers m when the peer's predictability for the destination
// beats ours. The score is the peer's value.
func (r *Router) prophetRule(m *model.Message, peer *Router, now float64) (float64, bool) {
	if r.preds == nil || peer.preds == nil {
		return 0, false
	}
	theirs := peer.preds.View(m.To, now)
	return theirs, theirs > r.preds.PredFor(m.To, now)
}

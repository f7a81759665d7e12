package routing

import (
	"github.com/signalsfoundry/omn-routing/model"
)

// budgetPeerScore ranks offers to pure Spray-and-Wait peers. Those peers
// have no predictability to compare, so every offer to them ties at the top.
const budgetPeerScore = 1.0

// translate applies the translation-unit rules. The regime is picked per
// message by whether it carries a replica count, and per peer by the
// peer's cached tag:
//
//   - peers without replica accounting get every message with budget left,
//     and a plain PRoPHET comparison for messages without a count;
//   - pure budget peers get every message with budget left, and messages
//     without a count are given the full budget first;
//   - other translation units get count-bearing messages with budget left
//     and PRoPHET comparison for the rest.
func (r *Router) translate(m *model.Message, peer *Router, tag Protocol, now float64) (float64, bool) {
	switch {
	case !tag.KeepsReplicaAccounting():
		if r.budget.HasBudget(m) {
			return r.peerScore(m, peer, now), true
		}
		if _, counted := Copies(m); counted {
			return 0, false
		}
		return r.prophetRule(m, peer, now)

	case tag.BudgetBased():
		r.budget.EnsureInitialized(m)
		return budgetPeerScore, r.budget.HasBudget(m)

	default:
		if _, counted := Copies(m); counted {
			if !r.budget.HasBudget(m) {
				return 0, false
			}
			return r.peerScore(m, peer, now), true
		}
		return r.prophetRule(m, peer, now)
	}
}

// peerScore is the peer's predictability for m's destination, if it keeps
// one.
func (r *Router) peerScore(m *model.Message, peer *Router, now float64) float64 {
	if peer.preds == nil {
		return 0
	}
	return peer.preds.View(m.To, now)
}

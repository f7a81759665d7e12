package routing

import (
	"cmp"
	"slices"

	"github.com/signalsfoundry/omn-routing/model"
)

// Candidate is a proposed transfer of a buffered message over a connection.
// Score is the protocol's peer-side utility for the message (higher is
// better); protocols that do not rank leave it at zero.
type Candidate struct {
	Message *model.Message
	Conn    Connection
	Score   float64

	queueKey uint64
}

// Peer returns the address on the far side of the candidate's connection.
func (c Candidate) Peer() model.Address {
	return c.Conn.Peer().Address()
}

// queueComparator is the base ordering over messages that decides between
// candidates of equal score.
type queueComparator func(a, b Candidate) int

func fifoOrder(a, b Candidate) int {
	return cmp.Compare(a.Message.ReceivedAt, b.Message.ReceivedAt)
}

func randomOrder(a, b Candidate) int {
	return cmp.Compare(a.queueKey, b.queueKey)
}

// compareCandidates is the shared total order: higher score first, then
// queue mode, then message id, then peer address. It never depends on the
// order candidates were collected in.
func compareCandidates(queue queueComparator) func(a, b Candidate) int {
	return func(a, b Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := queue(a, b); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Message.ID, b.Message.ID); c != 0 {
			return c
		}
		return cmp.Compare(a.Peer(), b.Peer())
	}
}

// sortCandidates orders cs in place. In random queue mode each distinct
// message draws one key from the router's generator, so repeated runs with
// the same seed produce the same order.
func (r *Router) sortCandidates(cs []Candidate) {
	if len(cs) < 2 {
		return
	}
	queue := queueComparator(fifoOrder)
	if r.cfg.QueueMode == QueueRandom {
		keys := make(map[string]uint64, len(cs))
		for i := range cs {
			id := cs[i].Message.ID
			k, ok := keys[id]
			if !ok {
				k = r.rng.Uint64()
				keys[id] = k
			}
			cs[i].queueKey = k
		}
		queue = randomOrder
	}
	slices.SortStableFunc(cs, compareCandidates(queue))
}

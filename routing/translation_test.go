package routing

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/omn-routing/model"
)

func TestTranslationInitialisesCountForBudgetPeer(t *testing.T) {
	w := newWorld(t, ProtocolProphetPTU, ProtocolSprayAndWait, ProtocolSprayAndWait)
	m := w.create(0, "m1", 2, 0)
	assert.False(t, m.HasProperty(CopiesProperty))

	w.connect(0, 1)
	cs := w.routers[0].Candidates()
	require.Len(t, cs, 1)
	assert.Equal(t, budgetPeerScore, cs[0].Score)
	assert.Equal(t, 6, copiesOf(t, m))

	replica := w.transfer(t, 0, 1, "m1")
	require.NotNil(t, replica)
	assert.Equal(t, 3, copiesOf(t, m))
	assert.Equal(t, 3, copiesOf(t, replica))
	assert.Zero(t, w.rec.repaired)
}

func TestTranslationAcceptsBudgetMessages(t *testing.T) {
	w := newWorld(t, ProtocolSprayAndWait, ProtocolProphetPTU)
	m := w.create(0, "m1", 1, 0)
	w.connect(0, 1)

	replica := w.transfer(t, 0, 1, "m1")
	require.NotNil(t, replica)
	assert.Equal(t, 3, copiesOf(t, m))
	assert.Equal(t, 3, copiesOf(t, replica))
}

func TestTranslationStripsCountForPredictabilityPeer(t *testing.T) {
	w := newWorld(t, ProtocolSprayAndWait, ProtocolProphetPTU, ProtocolProphet)
	w.create(0, "m1", 2, 0)
	w.connect(0, 1)
	atPTU := w.transfer(t, 0, 1, "m1")
	require.NotNil(t, atPTU)

	w.connect(1, 2)
	atProphet := w.transfer(t, 1, 2, "m1")
	require.NotNil(t, atProphet)
	assert.False(t, atProphet.HasProperty(CopiesProperty))
	assert.Equal(t, 3, copiesOf(t, atPTU), "no budget is spent on a plain PRoPHET copy")
}

func TestTranslationSpraysCountedMessagesToPredictabilityPeer(t *testing.T) {
	w := newWorld(t, ProtocolSprayAndWait, ProtocolProphetPTU, ProtocolProphet, ProtocolProphet)
	w.create(0, "m1", 3, 0)
	w.connect(0, 1)
	atPTU := w.transfer(t, 0, 1, "m1")
	require.NotNil(t, atPTU)
	require.Equal(t, 3, copiesOf(t, atPTU))

	// Host 3 is unknown to everyone, so only the spray rule can pick it.
	w.connect(1, 2)
	assert.Zero(t, w.routers[1].PredFor(3))
	cs := w.routers[1].Candidates()
	require.Len(t, cs, 1)
	assert.Equal(t, "m1", cs[0].Message.ID)
	assert.Equal(t, model.Address(2), cs[0].Peer())

	atProphet := w.transfer(t, 1, 2, "m1")
	require.NotNil(t, atProphet)
	assert.False(t, atProphet.HasProperty(CopiesProperty))
	assert.Equal(t, 3, copiesOf(t, atPTU))
}

func TestTranslationHoldsLastCopyFromPredictabilityPeer(t *testing.T) {
	w := newWorld(t, ProtocolProphetPTU, ProtocolProphet, ProtocolProphet)
	m := w.create(0, "m1", 2, 0)
	m.SetProperty(CopiesProperty, 1)

	// The peer knows the destination, but a last copy waits for it.
	w.connect(1, 2)
	w.disconnect(1, 2)
	w.connect(0, 1)
	assert.Empty(t, w.routers[0].Candidates())
}

func TestTranslationUsesPredictabilityWithPredictabilityPeers(t *testing.T) {
	w := newWorld(t, ProtocolProphetPTU, ProtocolProphet, ProtocolProphet)
	w.create(0, "m1", 2, 0)
	w.connect(0, 1)

	// Nobody knows host 2 yet.
	assert.Empty(t, w.routers[0].Candidates())

	w.disconnect(0, 1)
	w.connect(1, 2)
	w.disconnect(1, 2)
	w.connect(0, 1)
	cs := w.routers[0].Candidates()
	require.Len(t, cs, 1)
	assert.Greater(t, cs[0].Score, 0.0)
}

func TestTranslationBetweenUnits(t *testing.T) {
	w := newWorld(t, ProtocolSprayAndWaitPTU, ProtocolProphetPTU)
	m := w.create(0, "m1", 1, 0)
	assert.Equal(t, 6, copiesOf(t, m))
	w.connect(0, 1)

	require.Len(t, w.routers[0].Candidates(), 1)
	replica := w.transfer(t, 0, 1, "m1")
	require.NotNil(t, replica)
	assert.Equal(t, 3, copiesOf(t, m))
	assert.Equal(t, 3, copiesOf(t, replica))
}

// A run mixing every protocol of the PRoPHET / Spray-and-Wait family must
// finish without invariant violations, and every replica must sit in one
// accounting regime: plain PRoPHET hosts never hold a count and plain
// Spray-and-Wait hosts always do.
func TestMixedFamilyRunStaysCoherent(t *testing.T) {
	protos := []Protocol{
		ProtocolProphet, ProtocolSprayAndWait, ProtocolProphetPTU, ProtocolSprayAndWaitPTU,
		ProtocolProphet, ProtocolSprayAndWait, ProtocolProphetPTU, ProtocolSprayAndWaitPTU,
		ProtocolProphet, ProtocolSprayAndWait, ProtocolProphetPTU, ProtocolSprayAndWaitPTU,
	}
	w := newWorld(t, protos...)
	rng := rand.New(rand.NewPCG(3, 5))
	n := len(protos)

	transfers := 0
	for round := 0; round < 600; round++ {
		w.now = float64(round * 10)
		if round%10 == 0 {
			src := rng.IntN(n)
			dst := (src + 1 + rng.IntN(n-1)) % n
			w.create(src, fmt.Sprintf("m%d", round), dst, 0)
		}
		a := rng.IntN(n)
		b := (a + 1 + rng.IntN(n-1)) % n
		w.connect(a, b)
		for _, side := range [][2]int{{a, b}, {b, a}} {
			w.routers[side[0]].Update()
			cs := w.routers[side[0]].Candidates()
			if len(cs) == 0 {
				continue
			}
			if w.transfer(t, side[0], side[1], cs[0].Message.ID) != nil {
				transfers++
			}
		}
		w.disconnect(a, b)
	}

	require.Greater(t, transfers, 20)
	assert.Zero(t, w.rec.violated)
	assert.Zero(t, w.rec.repaired)
	for i, node := range w.nodes {
		for _, m := range node.msgs {
			n, counted := Copies(m)
			switch protos[i] {
			case ProtocolProphet:
				assert.False(t, counted, "prophet host %d holds counted %s", i, m.ID)
			case ProtocolSprayAndWait:
				assert.True(t, counted, "snw host %d holds uncounted %s", i, m.ID)
			}
			if counted {
				assert.GreaterOrEqual(t, n, 0)
			}
		}
	}
}

func TestPeerProtocolResolvedOncePerPeer(t *testing.T) {
	w := newWorld(t, ProtocolProphetPTU, ProtocolSprayAndWait)
	w.connect(0, 1)
	assert.Equal(t, ProtocolSprayAndWait, w.routers[0].PeerProtocols().ProtocolOf(1))

	// A later contact reads the cached tag even if the peer changed.
	w.disconnect(0, 1)
	w.routers[1].cfg.Protocol = ProtocolProphet
	w.connect(0, 1)
	assert.Equal(t, ProtocolSprayAndWait, w.routers[0].PeerProtocols().ProtocolOf(1))
	assert.Zero(t, w.routers[0].PredFor(1))
}

func TestBudgetRouterSkipsUncountedMessages(t *testing.T) {
	w := newWorld(t, ProtocolSprayAndWait, ProtocolSprayAndWait)
	w.nodes[0].msgs = append(w.nodes[0].msgs, model.NewMessage("foreign", 0, 1, 1, 0, 0))
	w.connect(0, 1)

	assert.Empty(t, w.routers[0].Candidates())
}

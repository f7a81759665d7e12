package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/omn-routing/model"
)

func landmarkWorld(t *testing.T, static ...bool) *world {
	t.Helper()
	cfgs := make([]Config, len(static))
	for i, s := range static {
		cfgs[i] = DefaultConfig(ProtocolHumanIntelligence)
		cfgs[i].Landmarks.Static = s
		cfgs[i].StrictInvariants = true
	}
	return newWorldWith(t, cfgs...)
}

func TestHumanIntelligenceFloodsUnvisitedPeers(t *testing.T) {
	w := landmarkWorld(t, false, false, false)
	w.create(0, "m1", 2, 0)
	w.connect(0, 1)

	cs := w.routers[0].Candidates()
	require.Len(t, cs, 1)
	replica := w.transfer(t, 0, 1, "m1")
	require.NotNil(t, replica)

	assert.False(t, w.routers[0].Accepts(replica), "replica already passed through host 0")
	assert.True(t, w.routers[2].Accepts(replica))

	// Host 0 lost its copy; host 1 must still not hand it back.
	w.nodes[0].msgs = nil
	assert.Empty(t, w.routers[1].Candidates())

	w.connect(1, 2)
	cs = w.routers[1].Candidates()
	require.Len(t, cs, 1)
	assert.Equal(t, model.Address(2), cs[0].Peer())
}

func TestHumanIntelligenceAnnouncesStaticHosts(t *testing.T) {
	w := landmarkWorld(t, false, false, true)
	site := model.Coord{X: 100, Y: 200}
	w.nodes[2].loc = site

	w.connect(0, 2)
	assert.Equal(t, []model.Coord{site}, w.routers[0].Landmarks())
	assert.Empty(t, w.routers[2].Landmarks(), "static hosts do not collect landmarks")

	ann := w.routers[0].Announcements()
	require.Len(t, ann, 2)
	for _, m := range ann {
		assert.Equal(t, model.Address(0), m.From)
		assert.NotEqual(t, model.Address(0), m.To)
		loc, ok := m.Coord(LandmarkProperty)
		require.True(t, ok)
		assert.Equal(t, site, loc)
	}
	assert.Empty(t, w.routers[0].Announcements(), "announcements are drained")

	// Meeting the same landmark again announces nothing.
	w.disconnect(0, 2)
	w.connect(0, 2)
	assert.Empty(t, w.routers[0].Announcements())

	for _, m := range ann {
		if m.To == 1 {
			w.nodes[0].msgs = append(w.nodes[0].msgs, m)
		}
	}
	w.connect(0, 1)
	require.NotNil(t, w.transfer(t, 0, 1, ann[0].ID))
	assert.Equal(t, []model.Coord{site}, w.routers[1].Landmarks())
	assert.Empty(t, w.routers[1].Announcements(), "relayed landmarks are not announced again")

	w.routers[1].Reset()
	assert.Empty(t, w.routers[1].Landmarks())
}

func TestNonLandmarkProtocolsAcceptEverything(t *testing.T) {
	w := newWorld(t, ProtocolProphet, ProtocolProphet)
	m := w.create(0, "m1", 1, 0)
	assert.True(t, w.routers[0].Accepts(m))
	assert.Nil(t, w.routers[0].Announcements())
	assert.Nil(t, w.routers[0].Landmarks())
}

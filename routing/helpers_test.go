package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/omn-routing/model"
)

type fakeNode struct {
	w            *world
	addr         model.Address
	loc          model.Coord
	msgs         []*model.Message
	conns        []Connection
	transferring bool
}

func (n *fakeNode) Address() model.Address     { return n.addr }
func (n *fakeNode) Location() model.Coord      { return n.loc }
func (n *fakeNode) Now() float64               { return n.w.now }
func (n *fakeNode) Messages() []*model.Message { return n.msgs }
func (n *fakeNode) Connections() []Connection  { return n.conns }
func (n *fakeNode) IsTransferring() bool       { return n.transferring }

func (n *fakeNode) Message(id string) (*model.Message, bool) {
	for _, m := range n.msgs {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

func (n *fakeNode) HasMessage(id string) bool {
	_, ok := n.Message(id)
	return ok
}

type fakeConn struct {
	peer *Router
	up   bool
	busy bool
}

func (c *fakeConn) Peer() *Router        { return c.peer }
func (c *fakeConn) IsUp() bool           { return c.up }
func (c *fakeConn) IsTransferring() bool { return c.busy }

type pair struct{ a, b int }

// world is a minimal hand-driven engine: contacts, instant transfers and a
// shared clock.
type world struct {
	now     float64
	nodes   []*fakeNode
	routers []*Router
	conns   map[pair]*fakeConn
	rec     *countingRecorder
}

func newWorld(t *testing.T, protos ...Protocol) *world {
	t.Helper()
	cfgs := make([]Config, len(protos))
	for i, p := range protos {
		cfgs[i] = DefaultConfig(p)
		cfgs[i].StrictInvariants = true
	}
	return newWorldWith(t, cfgs...)
}

func newWorldWith(t *testing.T, cfgs ...Config) *world {
	t.Helper()
	w := &world{conns: make(map[pair]*fakeConn), rec: &countingRecorder{}}
	env := Environment{HostCount: len(cfgs), Seed: 42, Recorder: w.rec}
	for i, cfg := range cfgs {
		r, err := New(cfg, env)
		require.NoError(t, err)
		n := &fakeNode{w: w, addr: model.Address(i)}
		r.Attach(n)
		w.nodes = append(w.nodes, n)
		w.routers = append(w.routers, r)
	}
	return w
}

func (w *world) conn(from, to int) *fakeConn {
	return w.conns[pair{from, to}]
}

func (w *world) connect(a, b int) {
	ab, ok := w.conns[pair{a, b}]
	if !ok {
		ab = &fakeConn{peer: w.routers[b]}
		ba := &fakeConn{peer: w.routers[a]}
		w.conns[pair{a, b}] = ab
		w.conns[pair{b, a}] = ba
		w.nodes[a].conns = append(w.nodes[a].conns, ab)
		w.nodes[b].conns = append(w.nodes[b].conns, ba)
	}
	ab.up = true
	w.conns[pair{b, a}].up = true
	w.routers[a].ConnectionChanged(ab)
	w.routers[b].ConnectionChanged(w.conns[pair{b, a}])
}

func (w *world) disconnect(a, b int) {
	ab, ba := w.conns[pair{a, b}], w.conns[pair{b, a}]
	if ab == nil {
		return
	}
	ab.up, ba.up = false, false
	w.routers[a].ConnectionChanged(ab)
	w.routers[b].ConnectionChanged(ba)
	w.nodes[a].conns = dropConn(w.nodes[a].conns, ab)
	w.nodes[b].conns = dropConn(w.nodes[b].conns, ba)
	delete(w.conns, pair{a, b})
	delete(w.conns, pair{b, a})
}

func dropConn(cs []Connection, c Connection) []Connection {
	out := cs[:0]
	for _, x := range cs {
		if x != c {
			out = append(out, x)
		}
	}
	return out
}

func (w *world) create(i int, id string, to int, ttl float64) *model.Message {
	m := model.NewMessage(id, model.Address(i), model.Address(to), 100, w.now, ttl)
	w.routers[i].CreateMessage(m)
	w.nodes[i].msgs = append(w.nodes[i].msgs, m)
	return m
}

// transfer runs a complete transfer of id from one host to another and
// returns the receiver's replica, or nil if the sender refused.
func (w *world) transfer(t *testing.T, from, to int, id string) *model.Message {
	t.Helper()
	m, ok := w.nodes[from].Message(id)
	require.True(t, ok, "host %d does not hold %s", from, id)
	c := w.conn(from, to)
	require.NotNil(t, c, "hosts %d and %d are not connected", from, to)

	replica, ok := w.routers[from].StartTransfer(m, c)
	if !ok {
		return nil
	}
	replica.AddHop(model.Address(to))
	replica.ReceivedAt = w.now
	w.routers[to].MessageTransferred(replica, w.conn(to, from))
	w.nodes[to].msgs = append(w.nodes[to].msgs, replica)
	w.routers[from].TransferDone(c, m)
	return replica
}

func copiesOf(t *testing.T, m *model.Message) int {
	t.Helper()
	n, ok := Copies(m)
	require.True(t, ok, "message %s carries no replica count", m.ID)
	return n
}

type countingRecorder struct {
	proposed  int
	repaired  int
	violated  int
	inside    int
	outside   int
	deviation []float64
}

func (c *countingRecorder) CandidatesProposed(_ Protocol, n int) { c.proposed += n }
func (c *countingRecorder) ReplicaCountRepaired(Protocol)        { c.repaired++ }
func (c *countingRecorder) InvariantViolated(Protocol)           { c.violated++ }

func (c *countingRecorder) LucidReception(inside bool, deviation float64) {
	if inside {
		c.inside++
	} else {
		c.outside++
	}
	c.deviation = append(c.deviation, deviation)
}

package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/omn-routing/model"
	"github.com/signalsfoundry/omn-routing/routing"
)

type countingMetrics struct {
	created, delivered, started, completed, aborted int
	dropped                                         map[DropReason]int
	contactsUp, contactsDown                        int
	contactSites, receptionSites                    []model.Coord
}

func (c *countingMetrics) MessageCreated(routing.Protocol)                 { c.created++ }
func (c *countingMetrics) MessageDelivered(routing.Protocol, float64, int) { c.delivered++ }
func (c *countingMetrics) TransferStarted(routing.Protocol)                { c.started++ }
func (c *countingMetrics) TransferCompleted(routing.Protocol)              { c.completed++ }
func (c *countingMetrics) TransferAborted(routing.Protocol)                { c.aborted++ }

func (c *countingMetrics) MessageDropped(r DropReason) {
	if c.dropped == nil {
		c.dropped = make(map[DropReason]int)
	}
	c.dropped[r]++
}

func (c *countingMetrics) MessageReceived(at model.Coord) {
	c.receptionSites = append(c.receptionSites, at)
}

func (c *countingMetrics) ContactLocated(a, b model.Coord) {
	c.contactSites = append(c.contactSites, a, b)
}

func (c *countingMetrics) ContactChanged(up bool) {
	if up {
		c.contactsUp++
	} else {
		c.contactsDown++
	}
}

// hostSpec places a strict router of protocol p at x. A zero radio range
// means the host only meets others through Connect.
func hostSpec(name string, x, radioRange float64, p routing.Protocol) HostSpec {
	return HostSpec{
		Name:      name,
		Position:  model.Coord{X: x},
		Interface: NetworkInterface{Type: "wifi", Range: radioRange, Speed: 1000},
		Routing:   routing.Config{Protocol: p, StrictInvariants: true},
	}
}

func newSim(t *testing.T, opts Options, specs ...HostSpec) *Simulation {
	t.Helper()
	sim, err := NewSimulation(opts, specs)
	require.NoError(t, err)
	return sim
}

func create(t *testing.T, sim *Simulation, id string, from, to model.Address, size int, ttl float64) *model.Message {
	t.Helper()
	m := model.NewMessage(id, from, to, size, sim.Now(), ttl)
	require.NoError(t, sim.CreateMessage(m))
	return m
}

func TestDirectDelivery(t *testing.T) {
	metrics := &countingMetrics{}
	sim := newSim(t, Options{Metrics: metrics},
		hostSpec("a", 0, 0, routing.ProtocolProphet),
		hostSpec("b", 0, 0, routing.ProtocolProphet),
	)
	create(t, sim, "m1", 0, 1, 10, 0)
	require.NoError(t, sim.Connect(0, 1))

	sim.Step()
	link, ok := sim.Link(0, 1)
	require.True(t, ok)
	assert.True(t, link.IsTransferring(), "deliverable message should start on the first tick")

	sim.Step()
	stats := sim.Stats()
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Started)
	assert.Equal(t, 1, stats.Relayed)
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, 1.0, stats.DeliveryProbability())
	assert.Equal(t, 2.0, stats.MeanLatency())
	assert.Equal(t, 1.0, stats.MeanHopCount())
	assert.Equal(t, 0.0, stats.OverheadRatio())

	b, err := sim.Host(1)
	require.NoError(t, err)
	assert.True(t, b.Delivered("m1"))
	assert.False(t, b.HasMessage("m1"), "destinations do not buffer delivered messages")

	assert.Equal(t, 1, metrics.created)
	assert.Equal(t, 1, metrics.delivered)
	assert.Equal(t, 1, metrics.completed)
	assert.Equal(t, 1, metrics.contactsUp)
}

func TestLandmarkAnnouncementsReachMobileHosts(t *testing.T) {
	metrics := &countingMetrics{}
	landmark := hostSpec("landmark", 300, 0, routing.ProtocolHumanIntelligence)
	landmark.Routing.Landmarks.Static = true
	sim := newSim(t, Options{Metrics: metrics},
		hostSpec("scout", 0, 0, routing.ProtocolHumanIntelligence),
		hostSpec("walker", 10, 0, routing.ProtocolHumanIntelligence),
		landmark,
	)

	require.NoError(t, sim.Connect(0, 2))
	sim.Step()
	assert.Equal(t, 2, sim.Stats().Created, "one announcement per other host")

	require.NoError(t, sim.Connect(0, 1))
	for i := 0; i < 5; i++ {
		sim.Step()
	}
	walker, err := sim.Host(1)
	require.NoError(t, err)
	assert.Equal(t, []model.Coord{{X: 300}}, walker.Router().Landmarks())
	assert.Equal(t, 2, sim.Stats().Created, "relayed landmarks are not announced again")

	assert.Contains(t, metrics.contactSites, model.Coord{X: 300})
	assert.Contains(t, metrics.receptionSites, model.Coord{X: 10})
}

func TestSprayAndWaitRelaysThroughRange(t *testing.T) {
	sim := newSim(t, Options{},
		hostSpec("a", 0, 100, routing.ProtocolSprayAndWait),
		hostSpec("b", 50, 100, routing.ProtocolSprayAndWait),
		hostSpec("c", 150, 100, routing.ProtocolSprayAndWait),
	)
	m := create(t, sim, "m1", 0, 2, 10, 0)

	sim.Step() // contacts a-b and b-c come up, a sprays to b
	_, ok := sim.Link(0, 2)
	assert.False(t, ok, "a and c are out of range")

	sim.Step() // b receives, then hands the message to its destination
	b, _ := sim.Host(1)
	relay, ok := b.Message("m1")
	require.True(t, ok)
	copies, _ := relay.Int(routing.CopiesProperty)
	assert.Equal(t, 3, copies)
	kept, _ := m.Int(routing.CopiesProperty)
	assert.Equal(t, 3, kept)

	sim.Step()
	stats := sim.Stats()
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, 2, stats.Relayed)
	assert.Equal(t, 2.0, stats.MeanHopCount())
}

func TestContactLossAbortsTransfer(t *testing.T) {
	metrics := &countingMetrics{}
	sim := newSim(t, Options{Metrics: metrics},
		hostSpec("a", 0, 0, routing.ProtocolProphet),
		hostSpec("b", 0, 0, routing.ProtocolProphet),
	)
	create(t, sim, "big", 0, 1, 50_000, 0) // 50 s at 1000 B/s
	require.NoError(t, sim.Connect(0, 1))
	sim.Step()
	sim.Step()

	require.NoError(t, sim.Disconnect(0, 1))
	stats := sim.Stats()
	assert.Equal(t, 1, stats.Started)
	assert.Equal(t, 1, stats.Aborted)
	assert.Equal(t, 0, stats.Relayed)
	assert.Equal(t, 1, metrics.aborted)
	assert.Equal(t, 1, metrics.contactsDown)

	a, _ := sim.Host(0)
	assert.True(t, a.HasMessage("big"), "sender keeps its copy")
	assert.False(t, a.IsTransferring())
}

func TestIncompatiblePeersNeverExchange(t *testing.T) {
	sim := newSim(t, Options{},
		hostSpec("prophet", 0, 0, routing.ProtocolProphet),
		hostSpec("snw", 0, 0, routing.ProtocolSprayAndWait),
	)
	create(t, sim, "m1", 0, 1, 10, 0)
	require.NoError(t, sim.Connect(0, 1))
	for i := 0; i < 5; i++ {
		sim.Step()
	}
	stats := sim.Stats()
	assert.Zero(t, stats.Started)
	assert.Zero(t, stats.Delivered)
	assert.Positive(t, stats.Refused)
}

func TestBufferOverflowAndExpiry(t *testing.T) {
	metrics := &countingMetrics{}
	small := hostSpec("a", 0, 0, routing.ProtocolProphet)
	small.BufferSize = 100
	sim := newSim(t, Options{Metrics: metrics}, small, hostSpec("b", 0, 0, routing.ProtocolProphet))

	create(t, sim, "first", 0, 1, 60, 5)
	sim.Step()
	create(t, sim, "second", 0, 1, 60, 0)

	a, _ := sim.Host(0)
	assert.False(t, a.HasMessage("first"), "oldest message makes room")
	assert.True(t, a.HasMessage("second"))

	err := sim.CreateMessage(model.NewMessage("huge", 0, 1, 500, sim.Now(), 0))
	assert.ErrorIs(t, err, ErrBufferFull)

	create(t, sim, "ttl", 1, 0, 1, 3)
	for i := 0; i < 4; i++ {
		sim.Step()
	}
	b, _ := sim.Host(1)
	assert.False(t, b.HasMessage("ttl"))

	assert.Equal(t, 1, metrics.dropped[DropExpired])
	assert.Equal(t, 2, metrics.dropped[DropBufferFull])
	assert.Equal(t, 3, sim.Stats().Dropped)
}

func TestCreateMessageErrors(t *testing.T) {
	sim := newSim(t, Options{}, hostSpec("a", 0, 0, routing.ProtocolProphet), hostSpec("b", 0, 0, routing.ProtocolProphet))

	assert.ErrorIs(t, sim.CreateMessage(model.NewMessage("x", 7, 0, 1, 0, 0)), ErrHostNotFound)
	assert.ErrorIs(t, sim.CreateMessage(model.NewMessage("x", 0, 9, 1, 0, 0)), ErrHostNotFound)
	create(t, sim, "dup", 0, 1, 1, 0)
	assert.ErrorIs(t, sim.CreateMessage(model.NewMessage("dup", 0, 1, 1, 0, 0)), ErrDuplicateMessage)
	assert.ErrorIs(t, sim.Connect(0, 5), ErrHostNotFound)
	_, err := sim.HostByName("nobody")
	assert.ErrorIs(t, err, ErrHostNotFound)
}

func TestDeliveredMessagesAreNotDeliveredTwice(t *testing.T) {
	opts := Options{DeleteDelivered: true}
	sim := newSim(t, opts,
		hostSpec("a", 0, 0, routing.ProtocolSprayAndWait),
		hostSpec("b", 0, 0, routing.ProtocolSprayAndWait),
		hostSpec("c", 0, 0, routing.ProtocolSprayAndWait),
	)
	m := create(t, sim, "m1", 0, 1, 10, 0)
	c, _ := sim.Host(2)
	require.NoError(t, c.Buffer().Add(m.Replicate()))

	require.NoError(t, sim.Connect(0, 1))
	sim.Step()
	sim.Step()
	require.Equal(t, 1, sim.Stats().Delivered)
	a, _ := sim.Host(0)
	assert.False(t, a.HasMessage("m1"), "delete-delivered removes the sender's copy")
	assert.Equal(t, 1, sim.Stats().Removed)

	require.NoError(t, sim.Connect(2, 1))
	sim.Step()
	sim.Step()
	assert.Equal(t, 1, sim.Stats().Relayed, "the destination refuses a second copy")
}

func TestScheduledContacts(t *testing.T) {
	opts := Options{Schedule: []ScheduledContact{{A: "a", B: "b", Start: 2, End: 4}}}
	sim := newSim(t, opts, hostSpec("a", 0, 0, routing.ProtocolProphet), hostSpec("b", 1e6, 0, routing.ProtocolProphet))

	sim.Step()
	_, up := sim.Link(0, 1)
	assert.False(t, up)
	sim.Step()
	_, up = sim.Link(0, 1)
	assert.True(t, up)
	sim.Step()
	sim.Step()
	_, up = sim.Link(0, 1)
	assert.False(t, up)

	_, err := NewSimulation(Options{Schedule: []ScheduledContact{{A: "a", B: "zz"}}}, []HostSpec{hostSpec("a", 0, 0, routing.ProtocolProphet)})
	assert.ErrorIs(t, err, ErrHostNotFound)
}

func TestHostWithoutProtocolRejected(t *testing.T) {
	_, err := NewSimulation(Options{}, []HostSpec{{Name: "x"}})
	assert.ErrorIs(t, err, routing.ErrInvalidConfig)
}

func mixedWorld(t *testing.T, opts Options) *Simulation {
	t.Helper()
	protos := []routing.Protocol{
		routing.ProtocolProphet,
		routing.ProtocolSprayAndWait,
		routing.ProtocolProphetPTU,
		routing.ProtocolSprayAndWaitPTU,
	}
	var specs []HostSpec
	for i := 0; i < 12; i++ {
		s := hostSpec(fmt.Sprintf("n%d", i), 0, 80, protos[i%len(protos)])
		s.Motion = MotionSpec{Kind: "waypoint", Area: model.Coord{X: 250, Y: 250}, MinSpeed: 1, MaxSpeed: 4, MaxPause: 20}
		s.Position = model.Coord{X: float64(i * 20), Y: float64(i * 20)}
		s.BufferSize = 2000
		specs = append(specs, s)
	}
	opts.Seed = 99
	opts.Traffic = []TrafficConfig{{
		Prefix:       "M",
		Interval:     [2]float64{5, 15},
		Size:         [2]int{50, 200},
		Sources:      [2]int{0, 11},
		Destinations: [2]int{0, 11},
		TTL:          600,
	}}
	return newSim(t, opts, specs...)
}

func TestMixedProtocolRunIsReproducible(t *testing.T) {
	sim := mixedWorld(t, Options{})
	first, err := sim.Run(context.Background(), 1200*time.Second)
	require.NoError(t, err)

	assert.Positive(t, first.Created)
	assert.Positive(t, first.Delivered)
	assert.LessOrEqual(t, first.Delivered, first.Created)
	assert.Equal(t, 1200.0, sim.Now())

	sim.Reset()
	assert.Zero(t, sim.Now())
	second, err := sim.Run(context.Background(), 1200*time.Second)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same seed, same run")

	other := mixedWorld(t, Options{})
	third, err := other.Run(context.Background(), 1200*time.Second)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestRunHonoursCancellation(t *testing.T) {
	sim := mixedWorld(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Run(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, sim.Now(), 3600.0)
}

func TestRunRecordsSpans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	sim := mixedWorld(t, Options{
		Tracer:         provider.Tracer("test"),
		ReportInterval: 100 * time.Second,
	})
	_, err := sim.Run(context.Background(), 300*time.Second)
	require.NoError(t, err)

	var runs, windows int
	for _, s := range spans.Ended() {
		switch s.Name() {
		case "simulation.run":
			runs++
		case "simulation.window":
			windows++
		}
	}
	assert.Equal(t, 1, runs)
	assert.GreaterOrEqual(t, windows, 3)
}

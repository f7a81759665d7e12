package core

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/omn-routing/internal/logging"
	"github.com/signalsfoundry/omn-routing/kb"
	"github.com/signalsfoundry/omn-routing/model"
	"github.com/signalsfoundry/omn-routing/routing"
	"github.com/signalsfoundry/omn-routing/timectrl"
)

var (
	// ErrHostNotFound is returned for addresses or names outside the run.
	ErrHostNotFound = errors.New("host not found")
	// ErrDuplicateMessage is returned when a source already buffers the id.
	ErrDuplicateMessage = errors.New("duplicate message id")
)

const tracerName = "github.com/signalsfoundry/omn-routing/core"

// completion slack for float drift between tick arithmetic and transfer
// deadlines.
const timeEpsilon = 1e-9

// MetricsRecorder receives engine-level events. Protocol labels are the
// sending host's protocol for transfers and the source's for messages.
// ContactLocated reports where both hosts stood when a contact came up and
// MessageReceived where a replica arrived.
type MetricsRecorder interface {
	MessageCreated(p routing.Protocol)
	MessageDelivered(p routing.Protocol, latency float64, hops int)
	MessageDropped(reason DropReason)
	MessageReceived(at model.Coord)
	TransferStarted(p routing.Protocol)
	TransferCompleted(p routing.Protocol)
	TransferAborted(p routing.Protocol)
	ContactChanged(up bool)
	ContactLocated(a, b model.Coord)
}

type nopMetrics struct{}

func (nopMetrics) MessageCreated(routing.Protocol)                 {}
func (nopMetrics) MessageDelivered(routing.Protocol, float64, int) {}
func (nopMetrics) MessageDropped(DropReason)                       {}
func (nopMetrics) MessageReceived(model.Coord)                     {}
func (nopMetrics) TransferStarted(routing.Protocol)                {}
func (nopMetrics) TransferCompleted(routing.Protocol)              {}
func (nopMetrics) TransferAborted(routing.Protocol)                {}
func (nopMetrics) ContactChanged(bool)                             {}
func (nopMetrics) ContactLocated(model.Coord, model.Coord)         {}

// HostSpec describes one host of a run.
type HostSpec struct {
	Name       string
	Group      string
	Position   model.Coord
	Interface  NetworkInterface
	BufferSize int
	Routing    routing.Config
	Motion     MotionSpec
}

// Options configures a Simulation. Zero values take defaults.
type Options struct {
	Seed  uint64
	Start time.Time
	Tick  time.Duration
	// RealTime paces ticks on the wall clock instead of running flat out.
	RealTime bool

	DeleteDelivered bool
	LineOfSight     bool
	MinElevationDeg float64
	DeliveredMemory int

	Schedule []ScheduledContact
	Traffic  []TrafficConfig

	// ReportInterval is the length of the tracing window spans.
	ReportInterval time.Duration

	Logger   logging.Logger
	Metrics  MetricsRecorder
	Recorder routing.Recorder
	Tracer   trace.Tracer
}

func (o Options) withDefaults() Options {
	if o.Start.IsZero() {
		o.Start = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	if o.ReportInterval <= 0 {
		o.ReportInterval = time.Hour
	}
	if o.Logger == nil {
		o.Logger = logging.Noop()
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	return o
}

// Simulation is the reference engine: hosts in the registry, a clock and
// the tick loop that drives routers. It is not safe for concurrent use;
// only the registry and the clock may be read from other goroutines.
type Simulation struct {
	opts    Options
	log     logging.Logger
	metrics MetricsRecorder

	kb           *kb.KnowledgeBase
	clock        *timectrl.TimeController
	connectivity *ConnectivityService

	specs   []HostSpec
	hosts   []*Host
	links   map[linkKey]*NetworkLink
	pinned  map[linkKey]bool
	traffic []*TrafficGenerator
	stats   Stats

	runCtx    context.Context
	window    trace.Span
	windowEnd float64
	windowAt  Stats
}

// NewSimulation builds every host, router and generator for a run. Host
// addresses follow the order of specs.
func NewSimulation(opts Options, specs []HostSpec) (*Simulation, error) {
	opts = opts.withDefaults()
	mode := timectrl.Accelerated
	if opts.RealTime {
		mode = timectrl.RealTime
	}

	s := &Simulation{
		opts:         opts,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		kb:           kb.NewKnowledgeBase(),
		clock:        timectrl.NewTimeController(opts.Start, opts.Tick, mode),
		connectivity: NewConnectivityService(),
		specs:        slices.Clone(specs),
		links:        make(map[linkKey]*NetworkLink),
		pinned:       make(map[linkKey]bool),
		runCtx:       context.Background(),
	}
	s.connectivity.LineOfSight = opts.LineOfSight
	s.connectivity.MinElevationDeg = opts.MinElevationDeg
	s.clock.AddListener(s.tick)

	env := routing.Environment{
		HostCount: len(specs),
		Seed:      opts.Seed,
		Logger:    opts.Logger,
		Recorder:  opts.Recorder,
	}
	for i, spec := range specs {
		h, err := s.buildHost(model.Address(i), spec, env)
		if err != nil {
			return nil, err
		}
		s.hosts = append(s.hosts, h)
	}

	for _, c := range opts.Schedule {
		a, ok := s.kb.HostByName(c.A)
		if !ok {
			return nil, fmt.Errorf("scheduled contact: %w: %q", ErrHostNotFound, c.A)
		}
		b, ok := s.kb.HostByName(c.B)
		if !ok {
			return nil, fmt.Errorf("scheduled contact: %w: %q", ErrHostNotFound, c.B)
		}
		s.connectivity.addScheduled(a.Address, b.Address, c.Start, c.End)
	}

	for i, cfg := range opts.Traffic {
		for _, r := range [][2]int{cfg.Sources, cfg.Destinations} {
			if r[0] < 0 || r[1] >= len(specs) {
				return nil, fmt.Errorf("traffic %d: %w: range %v", i, ErrHostNotFound, r)
			}
		}
		g, err := NewTrafficGenerator(cfg, opts.Seed+uint64(i))
		if err != nil {
			return nil, err
		}
		s.traffic = append(s.traffic, g)
	}

	s.moveHosts(s.clock.Now())
	return s, nil
}

func (s *Simulation) buildHost(addr model.Address, spec HostSpec, env routing.Environment) (*Host, error) {
	source, err := spec.Motion.Source()
	if err != nil {
		return nil, fmt.Errorf("host %v: %w", addr, err)
	}
	name := spec.Name
	if name == "" {
		name = addr.String()
	}
	def := &model.HostDefinition{
		Address:      addr,
		Name:         name,
		Group:        spec.Group,
		Coordinates:  spec.Position,
		MotionSource: source,
	}
	if err := s.kb.AddHost(def); err != nil {
		return nil, err
	}

	h, err := newHost(def, spec.Interface, spec.BufferSize, s.opts.DeliveredMemory, s.clock.Seconds)
	if err != nil {
		return nil, fmt.Errorf("host %s: %w", name, err)
	}
	router, err := routing.New(spec.Routing, env)
	if err != nil {
		return nil, fmt.Errorf("host %s: %w", name, err)
	}
	router.Attach(h)
	h.router = router
	h.motion = NewMotionModel(def, spec.Motion, s.motionRand(addr))
	return h, nil
}

// motionRand is the generator for one host's mobility, a stream separate
// from the router's.
func (s *Simulation) motionRand(addr model.Address) *rand.Rand {
	return rand.New(rand.NewPCG(s.opts.Seed^0x9e3779b97f4a7c15, uint64(addr)))
}

// KnowledgeBase returns the host registry.
func (s *Simulation) KnowledgeBase() *kb.KnowledgeBase { return s.kb }

// Clock returns the simulation clock.
func (s *Simulation) Clock() *timectrl.TimeController { return s.clock }

// Now returns the simulated seconds since the start.
func (s *Simulation) Now() float64 { return s.clock.Seconds() }

// Stats returns the counters accumulated so far.
func (s *Simulation) Stats() Stats { return s.stats }

// Hosts returns the hosts in address order.
func (s *Simulation) Hosts() []*Host { return slices.Clone(s.hosts) }

// Host returns the host at addr.
func (s *Simulation) Host(addr model.Address) (*Host, error) {
	if int(addr) < 0 || int(addr) >= len(s.hosts) {
		return nil, fmt.Errorf("%w: %v", ErrHostNotFound, addr)
	}
	return s.hosts[addr], nil
}

// HostByName resolves a host by its scenario name.
func (s *Simulation) HostByName(name string) (*Host, error) {
	def, ok := s.kb.HostByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrHostNotFound, name)
	}
	return s.hosts[def.Address], nil
}

// Link returns the live link between a and b, if any.
func (s *Simulation) Link(a, b model.Address) (*NetworkLink, bool) {
	l, ok := s.links[keyFor(a, b)]
	return l, ok
}

// CreateMessage injects m at its source host. The source's router attaches
// its protocol metadata before the message is buffered.
func (s *Simulation) CreateMessage(m *model.Message) error {
	src, err := s.Host(m.From)
	if err != nil {
		return fmt.Errorf("create %s: %w", m.ID, err)
	}
	if _, err := s.Host(m.To); err != nil {
		return fmt.Errorf("create %s: destination: %w", m.ID, err)
	}
	if src.HasMessage(m.ID) {
		return fmt.Errorf("create %s: %w", m.ID, ErrDuplicateMessage)
	}

	src.router.CreateMessage(m)
	s.stats.Created++
	s.metrics.MessageCreated(src.router.Protocol())
	if err := s.admit(src, m); err != nil {
		s.drop(src, m, DropBufferFull)
		return fmt.Errorf("create %s: %w", m.ID, err)
	}
	return nil
}

// Connect forces a contact between a and b until Disconnect is called.
func (s *Simulation) Connect(a, b model.Address) error {
	if _, err := s.Host(a); err != nil {
		return err
	}
	if _, err := s.Host(b); err != nil {
		return err
	}
	key := keyFor(a, b)
	s.pinned[key] = true
	if _, ok := s.links[key]; !ok {
		s.linkUp(key, s.Now())
	}
	return nil
}

// Disconnect ends a contact started with Connect. A transfer in flight is
// aborted.
func (s *Simulation) Disconnect(a, b model.Address) error {
	if _, err := s.Host(a); err != nil {
		return err
	}
	if _, err := s.Host(b); err != nil {
		return err
	}
	key := keyFor(a, b)
	delete(s.pinned, key)
	if _, ok := s.links[key]; ok {
		s.linkDown(key, s.Now())
	}
	return nil
}

// Step advances the clock by one tick and runs it.
func (s *Simulation) Step() float64 {
	s.clock.Step()
	return s.Now()
}

// Run drives the clock for duration, or until ctx is cancelled when
// duration is not positive. It records one span for the run and one per
// reporting window.
func (s *Simulation) Run(ctx context.Context, duration time.Duration) (Stats, error) {
	ctx, log := logging.WithRunLogger(ctx, s.log)
	ctx, span := s.opts.Tracer.Start(ctx, "simulation.run",
		trace.WithAttributes(
			attribute.String("run.id", logging.RunIDFromContext(ctx)),
			attribute.Int("hosts", len(s.hosts)),
			attribute.Int64("seed", int64(s.opts.Seed)),
			attribute.Float64("duration_s", duration.Seconds()),
		))
	defer span.End()

	prevLog := s.log
	s.log = log
	s.runCtx = ctx
	defer func() {
		s.log = prevLog
		s.runCtx = context.Background()
	}()

	log.Info(ctx, "simulation started",
		logging.Int("hosts", len(s.hosts)),
		logging.Float("duration_s", duration.Seconds()))

	s.openWindow()
	<-s.clock.Start(ctx, duration)
	s.closeWindow()

	span.SetAttributes(
		attribute.Int("messages.created", s.stats.Created),
		attribute.Int("messages.delivered", s.stats.Delivered),
		attribute.Int("transfers.relayed", s.stats.Relayed),
	)
	log.Info(ctx, "simulation finished",
		logging.Float("sim_time_s", s.Now()),
		logging.Int("created", s.stats.Created),
		logging.Int("delivered", s.stats.Delivered),
		logging.Float("delivery_prob", s.stats.DeliveryProbability()))

	if err := ctx.Err(); err != nil && duration > 0 {
		return s.stats, fmt.Errorf("simulation interrupted at %.1fs: %w", s.Now(), err)
	}
	return s.stats, nil
}

// Reset returns every host, router, generator and the clock to their
// initial state so the same scenario can run again.
func (s *Simulation) Reset() {
	clear(s.links)
	clear(s.pinned)
	s.clock.Reset()
	for i, h := range s.hosts {
		h.reset()
		spec := s.specs[i]
		if err := s.kb.UpdateHostPosition(h.Address(), spec.Position); err != nil {
			s.log.Warn(s.runCtx, "reset position", logging.Any("error", err))
		}
		h.motion = NewMotionModel(h.def, spec.Motion, s.motionRand(h.Address()))
	}
	for i, g := range s.traffic {
		g.reset(s.opts.Seed + uint64(i))
	}
	s.stats = Stats{}
	s.moveHosts(s.clock.Now())
}

// tick runs one simulation step at the clock's new time.
func (s *Simulation) tick(t time.Time) {
	now := t.Sub(s.opts.Start).Seconds()
	s.moveHosts(t)
	s.updateContacts(now)
	s.completeTransfers(now)
	s.expire(now)
	s.generate(now)
	s.exchange(now)
	s.rollWindow(now)
}

func (s *Simulation) moveHosts(t time.Time) {
	for _, h := range s.hosts {
		if h.def.MotionSource == model.MotionSourceStatic {
			continue
		}
		pos := h.motion.UpdatePosition(t, h.def)
		if err := s.kb.UpdateHostPosition(h.Address(), pos); err != nil {
			s.log.Warn(s.runCtx, "position update failed",
				logging.Int("host", int(h.Address())),
				logging.Any("error", err))
		}
	}
}

func (s *Simulation) updateContacts(now float64) {
	for _, c := range s.connectivity.changes(s.hosts, s.links, s.pinned, now) {
		if c.up {
			s.linkUp(c.key, now)
		} else {
			s.linkDown(c.key, now)
		}
	}
}

func (s *Simulation) linkUp(key linkKey, now float64) {
	a, b := s.hosts[key.a], s.hosts[key.b]
	l := newNetworkLink(a, b, now)
	s.links[key] = l
	a.addLink(l)
	b.addLink(l)
	a.router.ConnectionChanged(l.endFor(a))
	b.router.ConnectionChanged(l.endFor(b))
	s.metrics.ContactChanged(true)
	s.metrics.ContactLocated(a.Location(), b.Location())
	s.log.Debug(s.runCtx, "contact up", logging.String("link", key.String()), logging.Float("t", now))
}

func (s *Simulation) linkDown(key linkKey, now float64) {
	l := s.links[key]
	if t := l.transfer; t != nil {
		l.transfer = nil
		t.from.router.TransferAborted(l.endFor(t.from), t.msg)
		t.to.router.TransferAborted(l.endFor(t.to), t.replica)
		s.stats.Aborted++
		s.metrics.TransferAborted(t.from.router.Protocol())
	}
	l.Status = LinkStatusDown
	delete(s.links, key)
	l.A.removeLink(l)
	l.B.removeLink(l)
	l.A.router.ConnectionChanged(l.endFor(l.A))
	l.B.router.ConnectionChanged(l.endFor(l.B))
	s.metrics.ContactChanged(false)
	s.log.Debug(s.runCtx, "contact down", logging.String("link", key.String()), logging.Float("t", now))
}

// sortedLinks returns the live links in pair order.
func (s *Simulation) sortedLinks() []*NetworkLink {
	keys := slices.SortedFunc(maps.Keys(s.links), func(x, y linkKey) int {
		if c := cmp.Compare(x.a, y.a); c != 0 {
			return c
		}
		return cmp.Compare(x.b, y.b)
	})
	out := make([]*NetworkLink, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.links[k])
	}
	return out
}

func (s *Simulation) completeTransfers(now float64) {
	for _, l := range s.sortedLinks() {
		if t := l.transfer; t != nil && t.done <= now+timeEpsilon {
			s.finishTransfer(l, t, now)
		}
	}
}

func (s *Simulation) finishTransfer(l *NetworkLink, t *transfer, now float64) {
	l.transfer = nil
	from, to := t.from, t.to
	m := t.replica
	m.AddHop(to.Address())
	m.ReceivedAt = now

	to.router.MessageTransferred(m, l.endFor(to))
	s.stats.Relayed++
	s.metrics.TransferCompleted(from.router.Protocol())
	s.metrics.MessageReceived(to.Location())

	delivered := m.To == to.Address()
	if delivered {
		if !to.Delivered(m.ID) {
			to.markDelivered(m.ID)
			s.stats.recordDelivery(now-m.CreatedAt, m.HopCount())
			s.metrics.MessageDelivered(s.hosts[m.From].router.Protocol(), now-m.CreatedAt, m.HopCount())
			s.log.Debug(s.runCtx, "message delivered",
				logging.String("message_id", m.ID),
				logging.Int("hops", m.HopCount()),
				logging.Float("latency_s", now-m.CreatedAt))
		}
	} else if err := s.admit(to, m); err != nil {
		s.drop(to, m, DropBufferFull)
	}

	from.router.TransferDone(l.endFor(from), t.msg)
	if delivered && s.opts.DeleteDelivered {
		if _, ok := from.buffer.Remove(t.msg.ID); ok {
			s.stats.Removed++
		}
	}
}

// admit buffers m at h, dropping the oldest messages not in transit to
// make room.
func (s *Simulation) admit(h *Host, m *model.Message) error {
	dropped, err := h.buffer.MakeRoom(m.Size, h.inTransit)
	for _, d := range dropped {
		s.drop(h, d, DropBufferFull)
	}
	if err != nil {
		return err
	}
	return h.buffer.Add(m)
}

func (s *Simulation) drop(h *Host, m *model.Message, reason DropReason) {
	s.stats.Dropped++
	s.metrics.MessageDropped(reason)
	s.log.Debug(s.runCtx, "message dropped",
		logging.String("message_id", m.ID),
		logging.Int("host", int(h.Address())),
		logging.String("reason", string(reason)))
}

func (s *Simulation) expire(now float64) {
	for _, h := range s.hosts {
		for _, m := range h.buffer.ExpireOlder(now, h.inTransit) {
			s.drop(h, m, DropExpired)
		}
	}
}

func (s *Simulation) generate(now float64) {
	for _, g := range s.traffic {
		for _, m := range g.Due(now) {
			if err := s.CreateMessage(m); err != nil {
				s.log.Warn(s.runCtx, "generated message rejected",
					logging.String("message_id", m.ID),
					logging.Any("error", err))
			}
		}
	}
}

// exchange lets every host, in address order, start at most one transfer:
// messages for a connected destination first, then the router's
// candidates in its order.
func (s *Simulation) exchange(now float64) {
	for _, h := range s.hosts {
		h.router.Update()
		s.announce(h)
		if h.IsTransferring() {
			continue
		}
		if s.tryDeliverables(h, now) {
			continue
		}
		for _, c := range h.router.Candidates() {
			end, ok := c.Conn.(*linkEnd)
			if !ok {
				continue
			}
			if s.startTransfer(h, end, c.Message, now) {
				break
			}
		}
	}
}

// announce injects the messages h's router asked to originate.
func (s *Simulation) announce(h *Host) {
	for _, m := range h.router.Announcements() {
		if err := s.CreateMessage(m); err != nil {
			s.log.Warn(s.runCtx, "announcement rejected",
				logging.String("message_id", m.ID),
				logging.Any("error", err))
		}
	}
}

func (s *Simulation) tryDeliverables(h *Host, now float64) bool {
	msgs := h.Messages()
	for _, l := range h.links {
		peer := l.Other(h)
		for _, m := range msgs {
			if m.To != peer.Address() {
				continue
			}
			if s.startTransfer(h, l.endFor(h), m, now) {
				return true
			}
		}
	}
	return false
}

// startTransfer checks that the link and receiver can take m and asks the
// sender's router for the replica to send.
func (s *Simulation) startTransfer(h *Host, end *linkEnd, m *model.Message, now float64) bool {
	l := end.link
	peer := end.peer()
	switch {
	case !l.IsUp(), l.IsTransferring(), h.IsTransferring(), peer.IsTransferring():
		return false
	case peer.HasMessage(m.ID), peer.Delivered(m.ID), m.Expired(now):
		return false
	case !peer.router.Accepts(m):
		return false
	case m.To != peer.Address() && peer.buffer.Capacity() > 0 && m.Size > peer.buffer.Capacity():
		return false
	}

	replica, ok := h.router.StartTransfer(m, end)
	if !ok {
		s.stats.Refused++
		return false
	}

	duration := s.opts.Tick.Seconds()
	if l.Speed > 0 {
		duration = max(duration, float64(m.Size)/l.Speed)
	}
	l.transfer = &transfer{
		from:    h,
		to:      peer,
		msg:     m,
		replica: replica,
		started: now,
		done:    now + duration,
	}
	s.stats.Started++
	s.metrics.TransferStarted(h.router.Protocol())
	return true
}

func (s *Simulation) openWindow() {
	_, s.window = s.opts.Tracer.Start(s.runCtx, "simulation.window",
		trace.WithAttributes(attribute.Float64("window.start_s", s.Now())))
	s.windowEnd = s.Now() + s.opts.ReportInterval.Seconds()
	s.windowAt = s.stats
}

func (s *Simulation) closeWindow() {
	if s.window == nil {
		return
	}
	s.window.SetAttributes(
		attribute.Float64("window.end_s", s.Now()),
		attribute.Int("messages.created", s.stats.Created-s.windowAt.Created),
		attribute.Int("messages.delivered", s.stats.Delivered-s.windowAt.Delivered),
		attribute.Int("transfers.started", s.stats.Started-s.windowAt.Started),
		attribute.Int("transfers.aborted", s.stats.Aborted-s.windowAt.Aborted),
	)
	s.window.End()
	s.window = nil
}

func (s *Simulation) rollWindow(now float64) {
	if s.window == nil || now < s.windowEnd {
		return
	}
	s.closeWindow()
	s.openWindow()
}

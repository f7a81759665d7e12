package routing

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/signalsfoundry/omn-routing/internal/logging"
	"github.com/signalsfoundry/omn-routing/model"
)

// Node is the engine-side view of the host a Router is attached to.
type Node interface {
	Address() model.Address
	Location() model.Coord
	// Now returns the current simulated time in seconds.
	Now() float64
	// Messages returns the buffered messages in buffer order.
	Messages() []*model.Message
	Message(id string) (*model.Message, bool)
	HasMessage(id string) bool
	// Connections returns the host's connections in a stable order.
	Connections() []Connection
	// IsTransferring reports whether any connection of the host has a
	// transfer in flight.
	IsTransferring() bool
}

// Connection is one host's view of a contact with a peer.
type Connection interface {
	Peer() *Router
	IsUp() bool
	IsTransferring() bool
}

// Recorder receives protocol-level events for metrics. Implementations must
// tolerate being called from every router of a run.
type Recorder interface {
	CandidatesProposed(p Protocol, n int)
	ReplicaCountRepaired(p Protocol)
	InvariantViolated(p Protocol)
	LucidReception(inside bool, deviation float64)
}

type nopRecorder struct{}

func (nopRecorder) CandidatesProposed(Protocol, int) {}
func (nopRecorder) ReplicaCountRepaired(Protocol)    {}
func (nopRecorder) InvariantViolated(Protocol)       {}
func (nopRecorder) LucidReception(bool, float64)     {}

// Environment is the run-wide context shared by every router of a
// simulation. It is resolved once at setup and never mutated by routers.
type Environment struct {
	// HostCount sizes per-peer tables such as the peer protocol cache.
	HostCount int
	// Seed drives every router's generator together with its address.
	Seed     uint64
	Logger   logging.Logger
	Recorder Recorder
}

// Router makes forwarding decisions for one host. Which bookkeeping
// components are active depends on the configured protocol; peers are
// handled according to their cached protocol tag, never their Go type.
type Router struct {
	cfg Config
	env Environment
	log logging.Logger
	rec Recorder
	rng *rand.Rand

	node Node

	peers     *PeerProtocolCache
	preds     *Predictability
	budget    *ReplicaBudget
	lucid     *Lucid
	seer      *Seer
	utility   *ContactUtility
	landmarks *Landmarks
}

// New assembles a router for cfg.Protocol. The router is not usable until
// Attach binds it to a host.
func New(cfg Config, env Environment) (*Router, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if env.Logger == nil {
		env.Logger = logging.Noop()
	}
	if env.Recorder == nil {
		env.Recorder = nopRecorder{}
	}

	r := &Router{
		cfg:   cfg,
		env:   env,
		log:   env.Logger.With(logging.String("protocol", cfg.Protocol.String())),
		rec:   env.Recorder,
		peers: NewPeerProtocolCache(env.HostCount),
	}

	switch cfg.Protocol {
	case ProtocolProphet:
		r.preds = NewPredictability(cfg.Prophet)
	case ProtocolSprayAndWait:
		r.budget = NewReplicaBudget(cfg.SprayAndWait)
	case ProtocolProphetPTU, ProtocolSprayAndWaitPTU:
		r.preds = NewPredictability(cfg.Prophet)
		r.budget = NewReplicaBudget(cfg.SprayAndWait)
	case ProtocolSprayAndWaitUtility:
		r.budget = NewReplicaBudget(cfg.SprayAndWait)
		r.utility = NewContactUtility()
	case ProtocolLucidSource:
		r.lucid = NewLucid(cfg.Lucid, true)
	case ProtocolLucid:
		r.lucid = NewLucid(cfg.Lucid, false)
	case ProtocolSeer:
		r.seer = NewSeer(cfg.Seer)
	case ProtocolHumanIntelligence:
		r.landmarks = NewLandmarks(cfg.Landmarks)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownProtocol, cfg.Protocol)
	}
	return r, nil
}

// Attach binds the router to its host and seeds its generator from the run
// seed and the host address.
func (r *Router) Attach(node Node) {
	r.node = node
	r.log = r.log.With(logging.Int("host", int(node.Address())))
	r.reseed()
}

func (r *Router) reseed() {
	var addr uint64
	if r.node != nil {
		addr = uint64(r.node.Address())
	}
	r.rng = rand.New(rand.NewPCG(r.env.Seed, addr+1))
}

// Reset returns the router to its freshly attached state for another run.
func (r *Router) Reset() {
	r.peers.Clear()
	if r.preds != nil {
		r.preds.Reset()
	}
	if r.seer != nil {
		r.seer.Reset()
	}
	if r.utility != nil {
		r.utility.Reset()
	}
	if r.landmarks != nil {
		r.landmarks.Reset()
	}
	r.reseed()
}

// Protocol returns the router's protocol tag.
func (r *Router) Protocol() Protocol { return r.cfg.Protocol }

// Config returns the effective configuration.
func (r *Router) Config() Config { return r.cfg }

// Address returns the address of the attached host.
func (r *Router) Address() model.Address {
	if r.node == nil {
		return model.NoAddress
	}
	return r.node.Address()
}

// IsTransferring reports whether the attached host has a transfer in flight.
func (r *Router) IsTransferring() bool {
	return r.node != nil && r.node.IsTransferring()
}

// HasMessage reports whether the attached host buffers id.
func (r *Router) HasMessage(id string) bool {
	return r.node != nil && r.node.HasMessage(id)
}

// PeerProtocols exposes the router's peer protocol cache.
func (r *Router) PeerProtocols() *PeerProtocolCache { return r.peers }

// PredFor returns the router's aged delivery predictability for host.
// Routers without a predictability table report 0.
func (r *Router) PredFor(host model.Address) float64 {
	if r.preds == nil {
		return 0
	}
	return r.preds.PredFor(host, r.node.Now())
}

// DeliveryPreds returns an aged, sorted copy of the predictability table.
func (r *Router) DeliveryPreds() []PeerPrediction {
	if r.preds == nil {
		return nil
	}
	return r.preds.Snapshot(r.node.Now())
}

// ICT returns the SeeR inter-contact time estimate, or 0 for other
// protocols.
func (r *Router) ICT() float64 {
	if r.seer == nil {
		return 0
	}
	return r.seer.ICT()
}

// HasSeen reports whether a SeeR router has recorded id in its seen cache.
func (r *Router) HasSeen(id string) bool {
	return r.seer != nil && r.seer.seen.Has(id)
}

// Utility returns the contact utility for dest, or 0 for other protocols.
func (r *Router) Utility(dest model.Address) float64 {
	if r.utility == nil {
		return 0
	}
	return r.utility.Utility(dest)
}

// Landmarks returns the static-host locations a human-intelligence router
// has learned, in learning order.
func (r *Router) Landmarks() []model.Coord {
	if r.landmarks == nil {
		return nil
	}
	return r.landmarks.Known()
}

// Accepts reports whether the host would take m from a peer. A
// human-intelligence router refuses replicas that already passed through
// its host.
func (r *Router) Accepts(m *model.Message) bool {
	return r.landmarks == nil || !m.Visited(r.Address())
}

// Announcements returns the messages the router wants the engine to inject
// at its host: one per other host for every landmark met since the last
// call. Other protocols announce nothing.
func (r *Router) Announcements() []*model.Message {
	if r.landmarks == nil || r.node == nil {
		return nil
	}
	return r.landmarks.announce(r.Address(), r.env.HostCount, r.node.Now())
}

// peerProtocol resolves the protocol of the host behind c, probing the peer
// router only on first contact with its address.
func (r *Router) peerProtocol(c Connection) Protocol {
	peer := c.Peer()
	if peer == nil {
		return ProtocolUnknown
	}
	return r.peers.Resolve(peer.Address(), peer.Protocol)
}

// CreateMessage attaches the protocol metadata to a message originating at
// this host.
func (r *Router) CreateMessage(m *model.Message) {
	if r.budget != nil && r.cfg.Protocol != ProtocolProphetPTU {
		r.budget.Initialize(m)
	}
	if r.lucid != nil {
		r.lucid.OnCreate(m, r.node.Location())
	}
	if r.seer != nil {
		r.seer.OnCreate(m)
	}
}

// ConnectionChanged updates the estimators when a contact comes up or goes
// down.
func (r *Router) ConnectionChanged(c Connection) {
	peer := c.Peer()
	if peer == nil {
		return
	}
	tag := r.peerProtocol(c)
	now := r.node.Now()
	addr := peer.Address()

	if !c.IsUp() {
		if r.seer != nil {
			r.seer.OnContactDown(addr, now)
		}
		return
	}

	if r.preds != nil && tag.BearsPredictability() && peer.preds != nil {
		r.preds.OnContactUp(addr, now)
		r.preds.MergeTransitive(r.Address(), addr, peer.preds.Snapshot(now), now)
	}
	if r.utility != nil && compatible(r.cfg.Protocol, tag) {
		r.utility.OnContact(addr)
	}
	if r.seer != nil {
		r.seer.OnContactUp(addr, now, r.node.Messages())
	}
	if r.landmarks != nil && !r.landmarks.Static() && tag == ProtocolHumanIntelligence &&
		peer.landmarks != nil && peer.landmarks.Static() && peer.node != nil {
		r.landmarks.OnMeetStatic(peer.node.Location())
	}
}

// Update runs periodic maintenance. It is called once per tick before the
// engine asks for candidates.
func (r *Router) Update() {
	if r.seer != nil {
		if r.seer.MaybeReset(r.node.Now(), r.node.IsTransferring(), r.rng) {
			r.log.Debug(context.Background(), "seer counters reset",
				logging.Any("next_reset", r.seer.NextReset()))
		}
	}
	if r.cfg.Protocol == ProtocolSprayAndWaitPTU {
		for _, m := range r.node.Messages() {
			r.budget.EnsureInitialized(m)
		}
	}
}

// StartTransfer is called by the engine before m is handed to the peer
// behind c. It returns the replica to transfer, or false when the peer runs
// a protocol this router cannot exchange messages with.
func (r *Router) StartTransfer(m *model.Message, c Connection) (*model.Message, bool) {
	tag := r.peerProtocol(c)
	if !compatible(r.cfg.Protocol, tag) {
		return nil, false
	}
	if r.cfg.Protocol.Translates() {
		if tag.BudgetBased() {
			r.budget.EnsureInitialized(m)
		}
	}
	replica := m.Replicate()
	if r.budget != nil && !tag.KeepsReplicaAccounting() {
		r.budget.Strip(replica)
	}
	return replica, true
}

// TransferDone is called on the sending side once the peer behind c has
// received m. m is the sender's own buffered copy.
func (r *Router) TransferDone(c Connection, m *model.Message) {
	if r.budget == nil || m == nil {
		return
	}
	tag := r.peerProtocol(c)
	if !tag.KeepsReplicaAccounting() {
		return
	}
	if !r.budget.OnSend(m) && !r.cfg.Protocol.Translates() {
		r.violate("sent message %s without a replica count", m.ID)
	}
}

// MessageTransferred is called on the receiving side with the new replica
// before the engine buffers or delivers it.
func (r *Router) MessageTransferred(m *model.Message, c Connection) {
	now := r.node.Now()
	if r.budget != nil {
		r.receiveBudget(m, c)
	}
	if r.lucid != nil {
		if deviation, inside, ok := r.lucid.OnReceive(m, r.node.Location()); ok {
			r.rec.LucidReception(inside, deviation)
		}
	}
	if r.seer != nil {
		r.seer.OnReceive(m, now)
	}
	if r.landmarks != nil {
		r.landmarks.OnReceive(m)
	}
}

func (r *Router) receiveBudget(m *model.Message, c Connection) {
	tag := r.peerProtocol(c)
	if !tag.KeepsReplicaAccounting() {
		// Replicas from peers without replica accounting are plain PRoPHET
		// messages here too.
		r.budget.Strip(m)
		return
	}
	if r.budget.OnReceive(m) {
		return
	}
	if r.cfg.Protocol.Translates() {
		return
	}
	// Compatibility repair: a budget-only router got a message that lost its
	// count somewhere upstream. Assume half the initial budget reached us.
	if r.violate("received message %s from %v without a replica count", m.ID, tag) {
		m.SetProperty(CopiesProperty, r.budget.InitialCopies()/2)
		r.budget.OnReceive(m)
		r.rec.ReplicaCountRepaired(r.cfg.Protocol)
	}
}

// TransferAborted is called on both sides when a contact breaks mid-transfer.
// No bookkeeping has happened yet, so nothing needs undoing.
func (r *Router) TransferAborted(c Connection, m *model.Message) {
	if m == nil {
		return
	}
	r.log.Debug(context.Background(), "transfer aborted",
		logging.String("message_id", m.ID),
		logging.Int("peer", int(c.Peer().Address())))
}

// InvariantError describes internal bookkeeping that should never happen.
type InvariantError struct {
	Protocol Protocol
	Host     model.Address
	Detail   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("routing invariant violated (%v at %v): %s", e.Protocol, e.Host, e.Detail)
}

// violate reports an invariant violation. Strict routers panic; others log,
// count it and return true so the caller can fall back.
func (r *Router) violate(format string, args ...any) bool {
	err := &InvariantError{
		Protocol: r.cfg.Protocol,
		Host:     r.Address(),
		Detail:   fmt.Sprintf(format, args...),
	}
	if r.cfg.StrictInvariants {
		panic(err)
	}
	r.rec.InvariantViolated(r.cfg.Protocol)
	r.log.Warn(context.Background(), "routing invariant violated", logging.String("error", err.Error()))
	return true
}

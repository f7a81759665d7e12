package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/omn-routing/core"
	"github.com/signalsfoundry/omn-routing/model"
	"github.com/signalsfoundry/omn-routing/routing"
)

// DefaultZoneSize is the side in metres of the grid cells that contact and
// reception locations are counted in.
const DefaultZoneSize = 500.0

// RoutingCollector bundles Prometheus metrics for a simulation run. It
// receives engine events as a core.MetricsRecorder and protocol events as a
// routing.Recorder.
type RoutingCollector struct {
	gatherer prometheus.Gatherer
	zoneSize float64

	MessagesCreated   *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	Transfers         *prometheus.CounterVec
	Contacts          *prometheus.CounterVec
	ActiveContacts    prometheus.Gauge
	Hosts             prometheus.Gauge

	DeliveryLatency *prometheus.HistogramVec
	DeliveryHops    *prometheus.HistogramVec

	ContactZones   *prometheus.CounterVec
	ReceptionZones *prometheus.CounterVec

	Candidates        *prometheus.CounterVec
	CountRepairs      *prometheus.CounterVec
	InvariantFailures *prometheus.CounterVec
	LucidReceptions   *prometheus.CounterVec
	LucidDeviation    prometheus.Histogram
}

// NewRoutingCollector registers the run metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing
// collectors.
func NewRoutingCollector(reg prometheus.Registerer) (*RoutingCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &RoutingCollector{gatherer: gatherer, zoneSize: DefaultZoneSize}

	var err error
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		if err != nil {
			return nil
		}
		var vec *prometheus.CounterVec
		vec, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels), name)
		return vec
	}
	c.MessagesCreated = counter("omn_messages_created_total",
		"Messages created at their source, labeled by the source's protocol.", "protocol")
	c.MessagesDelivered = counter("omn_messages_delivered_total",
		"Messages delivered to their destination for the first time, labeled by the source's protocol.", "protocol")
	c.MessagesDropped = counter("omn_messages_dropped_total",
		"Messages removed from a buffer without delivery, labeled by reason.", "reason")
	c.Transfers = counter("omn_transfers_total",
		"Message transfers between hosts, labeled by the sender's protocol and outcome.", "protocol", "outcome")
	c.Contacts = counter("omn_contacts_total",
		"Contact state changes, labeled by event (up or down).", "event")
	c.Candidates = counter("omn_candidates_proposed_total",
		"Forwarding candidates proposed by routers, labeled by protocol.", "protocol")
	c.CountRepairs = counter("omn_replica_count_repairs_total",
		"Received messages that lacked a replica count and were assigned one.", "protocol")
	c.InvariantFailures = counter("omn_invariant_violations_total",
		"Routing bookkeeping violations tolerated in non-strict mode.", "protocol")
	c.LucidReceptions = counter("omn_lucid_receptions_total",
		"Messages received by LUCID routers, labeled by whether the receiver lies inside the locality.", "locality")
	c.ContactZones = counter("omn_contact_locations_total",
		"Hosts coming into contact, labeled by the grid zone each stood in.", "zone")
	c.ReceptionZones = counter("omn_message_reception_locations_total",
		"Replicas received, labeled by the grid zone of the receiver.", "zone")
	if err != nil {
		return nil, err
	}

	c.DeliveryLatency, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omn_delivery_latency_seconds",
		Help:    "Simulated time from creation to first delivery.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 14),
	}, []string{"protocol"}), "omn_delivery_latency_seconds")
	if err != nil {
		return nil, err
	}
	c.DeliveryHops, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omn_delivery_hops",
		Help:    "Hop count of delivered messages.",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	}, []string{"protocol"}), "omn_delivery_hops")
	if err != nil {
		return nil, err
	}
	c.LucidDeviation, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "omn_lucid_origin_deviation_meters",
		Help:    "Distance between a LUCID receiver and the message's origin location.",
		Buckets: prometheus.LinearBuckets(50, 50, 12),
	}), "omn_lucid_origin_deviation_meters")
	if err != nil {
		return nil, err
	}

	c.ActiveContacts, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omn_contacts_active",
		Help: "Contacts currently up.",
	}), "omn_contacts_active")
	if err != nil {
		return nil, err
	}
	c.Hosts, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omn_hosts",
		Help: "Hosts in the running scenario.",
	}), "omn_hosts")
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RoutingCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetZoneSize sets the grid used for location counters. Non-positive
// sizes are ignored.
func (c *RoutingCollector) SetZoneSize(meters float64) {
	if meters > 0 {
		c.zoneSize = meters
	}
}

// SetHosts records the size of the scenario.
func (c *RoutingCollector) SetHosts(n int) {
	if c == nil {
		return
	}
	c.Hosts.Set(float64(n))
}

func (c *RoutingCollector) MessageCreated(p routing.Protocol) {
	c.MessagesCreated.WithLabelValues(p.String()).Inc()
}

func (c *RoutingCollector) MessageDelivered(p routing.Protocol, latency float64, hops int) {
	c.MessagesDelivered.WithLabelValues(p.String()).Inc()
	c.DeliveryLatency.WithLabelValues(p.String()).Observe(latency)
	c.DeliveryHops.WithLabelValues(p.String()).Observe(float64(hops))
}

func (c *RoutingCollector) MessageDropped(reason core.DropReason) {
	c.MessagesDropped.WithLabelValues(string(reason)).Inc()
}

func (c *RoutingCollector) TransferStarted(p routing.Protocol) {
	c.Transfers.WithLabelValues(p.String(), "started").Inc()
}

func (c *RoutingCollector) TransferCompleted(p routing.Protocol) {
	c.Transfers.WithLabelValues(p.String(), "completed").Inc()
}

func (c *RoutingCollector) TransferAborted(p routing.Protocol) {
	c.Transfers.WithLabelValues(p.String(), "aborted").Inc()
}

func (c *RoutingCollector) ContactChanged(up bool) {
	if up {
		c.Contacts.WithLabelValues("up").Inc()
		c.ActiveContacts.Inc()
		return
	}
	c.Contacts.WithLabelValues("down").Inc()
	c.ActiveContacts.Dec()
}

func (c *RoutingCollector) ContactLocated(a, b model.Coord) {
	c.ContactZones.WithLabelValues(model.ZoneOf(a, c.zoneSize).String()).Inc()
	c.ContactZones.WithLabelValues(model.ZoneOf(b, c.zoneSize).String()).Inc()
}

func (c *RoutingCollector) MessageReceived(at model.Coord) {
	c.ReceptionZones.WithLabelValues(model.ZoneOf(at, c.zoneSize).String()).Inc()
}

func (c *RoutingCollector) CandidatesProposed(p routing.Protocol, n int) {
	c.Candidates.WithLabelValues(p.String()).Add(float64(n))
}

func (c *RoutingCollector) ReplicaCountRepaired(p routing.Protocol) {
	c.CountRepairs.WithLabelValues(p.String()).Inc()
}

func (c *RoutingCollector) InvariantViolated(p routing.Protocol) {
	c.InvariantFailures.WithLabelValues(p.String()).Inc()
}

func (c *RoutingCollector) LucidReception(inside bool, deviation float64) {
	locality := "outside"
	if inside {
		locality = "inside"
	}
	c.LucidReceptions.WithLabelValues(locality).Inc()
	c.LucidDeviation.Observe(deviation)
}

var (
	_ core.MetricsRecorder = (*RoutingCollector)(nil)
	_ routing.Recorder     = (*RoutingCollector)(nil)
)

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

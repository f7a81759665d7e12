package routing

import (
	"fmt"
	"slices"

	"github.com/signalsfoundry/omn-routing/model"
)

// LandmarkProperty carries the location of a static host announced by a
// human-intelligence router.
const LandmarkProperty = "HumanIntelligence.location"

// landmarkMessageSize is the announcement size in bytes.
const landmarkMessageSize = 1

// LandmarkConfig configures the human-intelligence router.
type LandmarkConfig struct {
	// Static marks hosts that serve as landmarks. Mobile hosts announce the
	// location of every static host they meet.
	Static bool `yaml:"static"`
	// TTL of announcement messages in seconds; 0 never expires.
	TTL float64 `yaml:"ttl"`
}

// Landmarks is the location database of a human-intelligence router:
// static-host locations learned by direct contact or from announcements,
// in the order they were learned.
type Landmarks struct {
	cfg LandmarkConfig

	known   map[model.Coord]bool
	order   []model.Coord
	pending []model.Coord
	seq     int
}

// NewLandmarks returns an empty database.
func NewLandmarks(cfg LandmarkConfig) *Landmarks {
	return &Landmarks{cfg: cfg, known: make(map[model.Coord]bool)}
}

// Static reports whether the owning host is a landmark.
func (l *Landmarks) Static() bool { return l.cfg.Static }

// learn records loc and reports whether it was new.
func (l *Landmarks) learn(loc model.Coord) bool {
	if l.known[loc] {
		return false
	}
	l.known[loc] = true
	l.order = append(l.order, loc)
	return true
}

// OnMeetStatic records the location of a static host met directly and
// queues it for announcement when it is new.
func (l *Landmarks) OnMeetStatic(loc model.Coord) {
	if l.learn(loc) {
		l.pending = append(l.pending, loc)
	}
}

// OnReceive records the landmark an announcement carries. Locations
// learned this way are not announced again.
func (l *Landmarks) OnReceive(m *model.Message) {
	if loc, ok := m.Coord(LandmarkProperty); ok {
		l.learn(loc)
	}
}

// Known returns the learned locations in learning order.
func (l *Landmarks) Known() []model.Coord {
	return slices.Clone(l.order)
}

// announce turns the pending locations into one message per other host.
func (l *Landmarks) announce(self model.Address, hostCount int, now float64) []*model.Message {
	if len(l.pending) == 0 {
		return nil
	}
	var out []*model.Message
	for _, loc := range l.pending {
		l.seq++
		for i := 0; i < hostCount; i++ {
			to := model.Address(i)
			if to == self {
				continue
			}
			m := model.NewMessage(fmt.Sprintf("landmark-%v-%d-%v", self, l.seq, to), self, to, landmarkMessageSize, now, l.cfg.TTL)
			m.SetProperty(LandmarkProperty, loc)
			out = append(out, m)
		}
	}
	l.pending = l.pending[:0]
	return out
}

// Reset forgets every location.
func (l *Landmarks) Reset() {
	clear(l.known)
	l.order = nil
	l.pending = nil
	l.seq = 0
}

package core

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/omn-routing/model"
)

// DefaultMinSeparation is the spacing of separated placement when the
// scenario sets none.
const DefaultMinSeparation = 600.0

// ErrPlacement is returned when separated placement cannot fit a group.
var ErrPlacement = errors.New("cannot place hosts")

const (
	placementRestartAfter = 1000
	placementMaxDraws     = 1_000_000
)

// MotionSpec configures a host's movement.
type MotionSpec struct {
	// Kind is static, separated, waypoint or sgp4. Empty means static.
	// Separated hosts are static too, placed at random in Area at least
	// MinSeparation apart.
	Kind string `yaml:"kind"`

	// Waypoint and separated settings: area is the rectangle's far corner.
	Area          model.Coord `yaml:"area"`
	MinSpeed      float64     `yaml:"minSpeed"`
	MaxSpeed      float64     `yaml:"maxSpeed"`
	MaxPause      float64     `yaml:"maxPause"`
	MinSeparation float64     `yaml:"minSeparation"`

	// SGP4 settings.
	TLE1 string `yaml:"tle1"`
	TLE2 string `yaml:"tle2"`
}

// Source maps Kind to the host's motion source.
func (s MotionSpec) Source() (model.MotionSource, error) {
	switch s.Kind {
	case "", "static":
		return model.MotionSourceStatic, nil
	case "separated":
		if s.Area.X <= 0 || s.Area.Y <= 0 {
			return 0, fmt.Errorf("separated placement needs a positive area, got %v", s.Area)
		}
		if s.MinSeparation < 0 {
			return 0, fmt.Errorf("separated placement needs a non-negative minSeparation, got %v", s.MinSeparation)
		}
		return model.MotionSourceStatic, nil
	case "waypoint":
		if s.Area.X <= 0 || s.Area.Y <= 0 {
			return 0, fmt.Errorf("waypoint motion needs a positive area, got %v", s.Area)
		}
		return model.MotionSourceWaypoint, nil
	case "sgp4":
		if s.TLE1 == "" || s.TLE2 == "" {
			return 0, fmt.Errorf("sgp4 motion needs both TLE lines")
		}
		return model.MotionSourceSpacetrack, nil
	}
	return 0, fmt.Errorf("unknown motion kind %q", s.Kind)
}

// SeparatedPositions draws n points in the rectangle from the origin to
// area, every pair at least minSep apart. After a run of rejected draws the
// layout restarts from scratch; the search gives up after a fixed number of
// draws.
func SeparatedPositions(n int, area model.Coord, minSep float64, rng *rand.Rand) ([]model.Coord, error) {
	placed := make([]model.Coord, 0, max(n, 0))
	misses := 0
	for draws := 0; len(placed) < n; draws++ {
		if draws == placementMaxDraws {
			return nil, fmt.Errorf("%w: %d hosts %.0f m apart in %v", ErrPlacement, n, minSep, area)
		}
		c := model.Coord{X: rng.Float64() * area.X, Y: rng.Float64() * area.Y}
		if separated(c, placed, minSep) {
			placed = append(placed, c)
			misses = 0
			continue
		}
		if misses++; misses == placementRestartAfter {
			placed = placed[:0]
			misses = 0
		}
	}
	return placed, nil
}

func separated(c model.Coord, placed []model.Coord, minSep float64) bool {
	for _, p := range placed {
		if c.DistanceTo(p) < minSep {
			return false
		}
	}
	return true
}

// MotionModel computes a host's position for a given simulation time.
type MotionModel interface {
	UpdatePosition(simTime time.Time, h *model.HostDefinition) model.Coord
}

// StaticMotionModel leaves the host's position unchanged.
type StaticMotionModel struct{}

// UpdatePosition for static motion returns the current coordinates.
func (m *StaticMotionModel) UpdatePosition(_ time.Time, h *model.HostDefinition) model.Coord {
	return h.Coordinates
}

// WaypointMotionModel implements random waypoint movement inside a
// rectangle: pick a point, travel to it at a random speed, pause, repeat.
type WaypointMotionModel struct {
	area     model.Coord // width, height; origin at (0,0)
	minSpeed float64
	maxSpeed float64
	maxPause float64
	rng      *rand.Rand

	last       time.Time
	target     model.Coord
	speed      float64
	pauseUntil float64
	elapsed    float64
	started    bool
}

// NewWaypointModel constructs a random-waypoint model. Speeds are metres per
// second, pauses seconds. rng must be owned by the model.
func NewWaypointModel(area model.Coord, minSpeed, maxSpeed, maxPause float64, rng *rand.Rand) *WaypointMotionModel {
	return &WaypointMotionModel{
		area:     area,
		minSpeed: minSpeed,
		maxSpeed: max(minSpeed, maxSpeed),
		maxPause: maxPause,
		rng:      rng,
	}
}

func (m *WaypointMotionModel) pick() {
	m.target = model.Coord{X: m.rng.Float64() * m.area.X, Y: m.rng.Float64() * m.area.Y}
	m.speed = m.minSpeed + m.rng.Float64()*(m.maxSpeed-m.minSpeed)
}

// UpdatePosition moves the host towards its current waypoint for the time
// elapsed since the previous call.
func (m *WaypointMotionModel) UpdatePosition(simTime time.Time, h *model.HostDefinition) model.Coord {
	pos := h.Coordinates
	if !m.started {
		m.started = true
		m.last = simTime
		m.pick()
		return pos
	}
	dt := simTime.Sub(m.last).Seconds()
	m.last = simTime
	if dt <= 0 {
		return pos
	}

	for dt > 0 {
		if m.elapsed < m.pauseUntil {
			wait := min(dt, m.pauseUntil-m.elapsed)
			m.elapsed += wait
			dt -= wait
			continue
		}
		if m.speed <= 0 {
			m.elapsed += dt
			break
		}
		d := pos.DistanceTo(m.target)
		step := m.speed * dt
		if step < d {
			f := step / d
			pos = model.Coord{
				X: pos.X + (m.target.X-pos.X)*f,
				Y: pos.Y + (m.target.Y-pos.Y)*f,
				Z: pos.Z,
			}
			m.elapsed += dt
			break
		}
		travel := d / m.speed
		pos = model.Coord{X: m.target.X, Y: m.target.Y, Z: pos.Z}
		m.elapsed += travel
		dt -= travel
		m.pauseUntil = m.elapsed + m.rng.Float64()*m.maxPause
		m.pick()
		if d == 0 && m.maxPause == 0 {
			// Degenerate target on top of us with no pause: avoid spinning.
			m.elapsed += dt
			break
		}
	}
	return pos
}

// OrbitalSGP4MotionModel uses a TLE and SGP4 to update host position.
type OrbitalSGP4MotionModel struct {
	sat satellite.Satellite
}

// NewOrbitalModelFromTLE constructs an orbital model from TLE lines.
func NewOrbitalModelFromTLE(line1, line2 string) *OrbitalSGP4MotionModel {
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &OrbitalSGP4MotionModel{sat: sat}
}

// UpdatePosition propagates the satellite to the given simulation time.
// go-satellite works in kilometres; hosts use metres.
func (m *OrbitalSGP4MotionModel) UpdatePosition(simTime time.Time, h *model.HostDefinition) model.Coord {
	year, month, day := simTime.Date()
	hour, min, sec := simTime.Clock()

	posECI, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	const kmToM = 1000.0
	pos := model.Coord{
		X: posECEF.X * kmToM,
		Y: posECEF.Y * kmToM,
		Z: posECEF.Z * kmToM,
	}
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) {
		return h.Coordinates
	}
	return pos
}

// NewMotionModel chooses an appropriate MotionModel for the host.
func NewMotionModel(h *model.HostDefinition, spec MotionSpec, rng *rand.Rand) MotionModel {
	switch h.MotionSource {
	case model.MotionSourceSpacetrack:
		if spec.TLE1 != "" && spec.TLE2 != "" {
			return NewOrbitalModelFromTLE(spec.TLE1, spec.TLE2)
		}
	case model.MotionSourceWaypoint:
		return NewWaypointModel(spec.Area, spec.MinSpeed, spec.MaxSpeed, spec.MaxPause, rng)
	}
	return &StaticMotionModel{}
}

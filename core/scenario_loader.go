// core/scenario_loader.go
package core

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/omn-routing/model"
	"github.com/signalsfoundry/omn-routing/routing"
)

// ErrInvalidScenario wraps structural problems in a scenario file.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is the YAML description of a run.
type Scenario struct {
	Seed           uint64        `yaml:"seed"`
	Start          time.Time     `yaml:"start"`
	Tick           time.Duration `yaml:"tick"`
	Duration       time.Duration `yaml:"duration"`
	ReportInterval time.Duration `yaml:"reportInterval"`
	RealTime       bool          `yaml:"realTime"`

	DeleteDelivered bool    `yaml:"deleteDelivered"`
	LineOfSight     bool    `yaml:"lineOfSight"`
	MinElevationDeg float64 `yaml:"minElevationDeg"`
	DeliveredMemory int     `yaml:"deliveredMemory"`

	Groups   []GroupSpec        `yaml:"groups"`
	Contacts []ScheduledContact `yaml:"contacts"`
	Traffic  []TrafficConfig    `yaml:"traffic"`
}

// GroupSpec declares Count hosts sharing a radio, buffer, router and motion
// configuration. Hosts are named after the group, with an index suffix when
// Count is above one.
type GroupSpec struct {
	Name       string           `yaml:"name"`
	Count      int              `yaml:"count"`
	Interface  NetworkInterface `yaml:"interface"`
	BufferSize int              `yaml:"bufferSize"`
	Routing    routing.Config   `yaml:"routing"`
	Motion     MotionSpec       `yaml:"motion"`
	// Positions places hosts in order. Hosts beyond the list start at a
	// random point of the waypoint area, at a separated point of the
	// placement area, or at the origin.
	Positions []model.Coord `yaml:"positions"`
}

// LoadScenario decodes a YAML scenario from r. Unknown keys are rejected so
// typos in parameter names do not silently fall back to defaults.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}
	if len(sc.Groups) == 0 {
		return nil, fmt.Errorf("LoadScenario: %w: no host groups", ErrInvalidScenario)
	}
	for i, g := range sc.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("LoadScenario: %w: group %d has no name", ErrInvalidScenario, i)
		}
		if g.Count <= 0 {
			return nil, fmt.Errorf("LoadScenario: %w: group %q needs a positive count", ErrInvalidScenario, g.Name)
		}
	}
	return &sc, nil
}

// HostSpecs expands the groups into one spec per host, in address order.
func (sc *Scenario) HostSpecs() ([]HostSpec, error) {
	rng := rand.New(rand.NewPCG(sc.Seed, 0))
	var specs []HostSpec
	for _, g := range sc.Groups {
		var spread []model.Coord
		if g.Motion.Kind == "separated" && g.Count > len(g.Positions) {
			if _, err := g.Motion.Source(); err != nil {
				return nil, fmt.Errorf("group %q: %w", g.Name, err)
			}
			minSep := g.Motion.MinSeparation
			if minSep == 0 {
				minSep = DefaultMinSeparation
			}
			var err error
			spread, err = SeparatedPositions(g.Count-len(g.Positions), g.Motion.Area, minSep, rng)
			if err != nil {
				return nil, fmt.Errorf("group %q: %w", g.Name, err)
			}
		}
		for i := 0; i < g.Count; i++ {
			name := g.Name
			if g.Count > 1 {
				name = fmt.Sprintf("%s%d", g.Name, i)
			}
			var pos model.Coord
			switch {
			case i < len(g.Positions):
				pos = g.Positions[i]
			case g.Motion.Kind == "waypoint":
				pos = model.Coord{X: rng.Float64() * g.Motion.Area.X, Y: rng.Float64() * g.Motion.Area.Y}
			case len(spread) > 0:
				pos = spread[i-len(g.Positions)]
			}
			specs = append(specs, HostSpec{
				Name:       name,
				Group:      g.Name,
				Position:   pos,
				Interface:  g.Interface,
				BufferSize: g.BufferSize,
				Routing:    g.Routing,
				Motion:     g.Motion,
			})
		}
	}
	return specs, nil
}

// Build creates a Simulation for the scenario. base supplies the run's
// logger, metrics, recorder and tracer; every other field comes from the
// scenario.
func (sc *Scenario) Build(base Options) (*Simulation, error) {
	opts := base
	opts.Seed = sc.Seed
	opts.Start = sc.Start
	opts.Tick = sc.Tick
	opts.RealTime = sc.RealTime
	opts.ReportInterval = sc.ReportInterval
	opts.DeleteDelivered = sc.DeleteDelivered
	opts.LineOfSight = sc.LineOfSight
	opts.MinElevationDeg = sc.MinElevationDeg
	opts.DeliveredMemory = sc.DeliveredMemory
	opts.Schedule = sc.Contacts
	opts.Traffic = sc.Traffic
	specs, err := sc.HostSpecs()
	if err != nil {
		return nil, fmt.Errorf("build scenario: %w", err)
	}
	return NewSimulation(opts, specs)
}

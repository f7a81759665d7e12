package core

import (
	"fmt"
	"math/rand/v2"

	"github.com/signalsfoundry/omn-routing/model"
)

// TrafficConfig describes a message generator. Ranges are inclusive for
// addresses and sizes, half-open for intervals.
type TrafficConfig struct {
	Prefix       string     `yaml:"prefix"`
	Interval     [2]float64 `yaml:"interval"`
	Size         [2]int     `yaml:"size"`
	Sources      [2]int     `yaml:"sources"`
	Destinations [2]int     `yaml:"destinations"`
	TTL          float64    `yaml:"ttl"`
}

// maxPairDraws bounds destination redraws when it keeps hitting the source.
const maxPairDraws = 16

// TrafficGenerator creates messages between random host pairs at random
// intervals. It owns its generator so runs with the same seed repeat.
type TrafficGenerator struct {
	cfg  TrafficConfig
	rng  *rand.Rand
	next float64
	seq  int
}

// NewTrafficGenerator validates cfg and schedules the first message.
func NewTrafficGenerator(cfg TrafficConfig, seed uint64) (*TrafficGenerator, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "M"
	}
	if cfg.Interval[1] < cfg.Interval[0] || cfg.Interval[0] < 0 {
		return nil, fmt.Errorf("traffic %q: invalid interval %v", cfg.Prefix, cfg.Interval)
	}
	if cfg.Size[1] < cfg.Size[0] || cfg.Size[0] <= 0 {
		return nil, fmt.Errorf("traffic %q: invalid size %v", cfg.Prefix, cfg.Size)
	}
	if cfg.Sources[1] < cfg.Sources[0] || cfg.Destinations[1] < cfg.Destinations[0] {
		return nil, fmt.Errorf("traffic %q: invalid host range", cfg.Prefix)
	}
	if cfg.Sources == cfg.Destinations && cfg.Sources[0] == cfg.Sources[1] {
		return nil, fmt.Errorf("traffic %q: source and destination ranges are a single host", cfg.Prefix)
	}
	g := &TrafficGenerator{cfg: cfg}
	g.reset(seed)
	return g, nil
}

func (g *TrafficGenerator) reset(seed uint64) {
	g.rng = rand.New(rand.NewPCG(seed, uint64(len(g.cfg.Prefix))))
	g.seq = 0
	g.next = g.interval()
}

func (g *TrafficGenerator) interval() float64 {
	lo, hi := g.cfg.Interval[0], g.cfg.Interval[1]
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *TrafficGenerator) between(lo, hi int) int {
	return lo + g.rng.IntN(hi-lo+1)
}

// Due returns the messages whose creation time has come by now.
func (g *TrafficGenerator) Due(now float64) []*model.Message {
	var out []*model.Message
	for g.next <= now {
		from := model.Address(g.between(g.cfg.Sources[0], g.cfg.Sources[1]))
		to := model.Address(g.between(g.cfg.Destinations[0], g.cfg.Destinations[1]))
		for try := 0; to == from && try < maxPairDraws; try++ {
			to = model.Address(g.between(g.cfg.Destinations[0], g.cfg.Destinations[1]))
		}
		size := g.between(g.cfg.Size[0], g.cfg.Size[1])
		if to != from {
			g.seq++
			out = append(out, model.NewMessage(fmt.Sprintf("%s%d", g.cfg.Prefix, g.seq), from, to, size, now, g.cfg.TTL))
		}
		step := g.interval()
		if step <= 0 {
			step = 1
		}
		g.next += step
	}
	return out
}

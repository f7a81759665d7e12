package core

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/signalsfoundry/omn-routing/model"
)

func TestStaticMotionModel_NoChange(t *testing.T) {
	m := &StaticMotionModel{}
	h := &model.HostDefinition{
		Coordinates: model.Coord{X: 1, Y: 2, Z: 3},
	}

	t1 := time.Now().UTC()
	if got := m.UpdatePosition(t1, h); got != (model.Coord{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("static motion should not change coordinates, got %#v", got)
	}
	if got := m.UpdatePosition(t1.Add(time.Hour), h); got != h.Coordinates {
		t.Fatalf("static motion should not change coordinates after second update, got %#v", got)
	}
}

// We don't assert exact orbital values (those belong to go-satellite);
// we just ensure that positions differ at distinct times and are in metres.
func TestOrbitalSGP4MotionModel_ChangesOverTime(t *testing.T) {
	// ISS sample TLE
	tle1 := "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	tle2 := "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"

	m := NewOrbitalModelFromTLE(tle1, tle2)
	h := &model.HostDefinition{}

	t1 := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	first := m.UpdatePosition(t1, h)
	second := m.UpdatePosition(t1.Add(5*time.Minute), h)

	if first == second {
		t.Fatalf("expected orbital position to change over time, got %+v at both times", first)
	}
	alt := first.DistanceTo(model.Coord{}) - EarthRadiusM
	if alt < 300e3 || alt > 500e3 {
		t.Fatalf("ISS altitude = %.0f m, want low Earth orbit", alt)
	}
}

func TestWaypointMotionStaysInsideArea(t *testing.T) {
	area := model.Coord{X: 500, Y: 300}
	m := NewWaypointModel(area, 1, 5, 10, rand.New(rand.NewPCG(1, 2)))
	h := &model.HostDefinition{Coordinates: model.Coord{X: 250, Y: 150}}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	moved := false
	for i := 0; i <= 2000; i++ {
		pos := m.UpdatePosition(start.Add(time.Duration(i)*time.Second), h)
		if pos.X < 0 || pos.X > area.X || pos.Y < 0 || pos.Y > area.Y {
			t.Fatalf("step %d: position %v outside area %v", i, pos, area)
		}
		if pos != h.Coordinates {
			moved = true
		}
		h.Coordinates = pos
	}
	if !moved {
		t.Fatalf("waypoint host never moved")
	}
}

func TestWaypointMotionRespectsSpeed(t *testing.T) {
	m := NewWaypointModel(model.Coord{X: 1000, Y: 1000}, 2, 2, 0, rand.New(rand.NewPCG(7, 7)))
	h := &model.HostDefinition{Coordinates: model.Coord{X: 500, Y: 500}}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.UpdatePosition(start, h)
	for i := 1; i <= 100; i++ {
		pos := m.UpdatePosition(start.Add(time.Duration(i)*time.Second), h)
		if d := pos.DistanceTo(h.Coordinates); d > 2+1e-9 {
			t.Fatalf("step %d moved %.3f m in one second at speed 2", i, d)
		}
		h.Coordinates = pos
	}
}

func TestWaypointMotionIsReproducible(t *testing.T) {
	run := func() model.Coord {
		m := NewWaypointModel(model.Coord{X: 800, Y: 800}, 0.5, 3, 30, rand.New(rand.NewPCG(42, 3)))
		h := &model.HostDefinition{}
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i <= 500; i++ {
			h.Coordinates = m.UpdatePosition(start.Add(time.Duration(i)*time.Second), h)
		}
		return h.Coordinates
	}
	a, b := run(), run()
	if math.Abs(a.X-b.X) > 0 || math.Abs(a.Y-b.Y) > 0 {
		t.Fatalf("same seed gave %v and %v", a, b)
	}
}

func TestMotionSpecSource(t *testing.T) {
	cases := []struct {
		spec    MotionSpec
		want    model.MotionSource
		wantErr bool
	}{
		{spec: MotionSpec{}, want: model.MotionSourceStatic},
		{spec: MotionSpec{Kind: "waypoint", Area: model.Coord{X: 10, Y: 10}}, want: model.MotionSourceWaypoint},
		{spec: MotionSpec{Kind: "waypoint"}, wantErr: true},
		{spec: MotionSpec{Kind: "sgp4", TLE1: "a", TLE2: "b"}, want: model.MotionSourceSpacetrack},
		{spec: MotionSpec{Kind: "sgp4"}, wantErr: true},
		{spec: MotionSpec{Kind: "separated", Area: model.Coord{X: 10, Y: 10}}, want: model.MotionSourceStatic},
		{spec: MotionSpec{Kind: "separated"}, wantErr: true},
		{spec: MotionSpec{Kind: "separated", Area: model.Coord{X: 10, Y: 10}, MinSeparation: -1}, wantErr: true},
		{spec: MotionSpec{Kind: "teleport"}, wantErr: true},
	}
	for _, tc := range cases {
		got, err := tc.spec.Source()
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%+v: expected error", tc.spec)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%+v: got %v, %v; want %v", tc.spec, got, err, tc.want)
		}
	}
}

func TestSeparatedPositionsKeepDistance(t *testing.T) {
	area := model.Coord{X: 5000, Y: 5000}
	pts, err := SeparatedPositions(12, area, 600, rand.New(rand.NewPCG(3, 9)))
	if err != nil {
		t.Fatalf("SeparatedPositions: %v", err)
	}
	if len(pts) != 12 {
		t.Fatalf("placed %d hosts, want 12", len(pts))
	}
	for i, a := range pts {
		if a.X < 0 || a.X > area.X || a.Y < 0 || a.Y > area.Y {
			t.Fatalf("point %d %v outside area", i, a)
		}
		for j, b := range pts[i+1:] {
			if d := a.DistanceTo(b); d < 600 {
				t.Fatalf("points %d and %d only %.1f m apart", i, i+1+j, d)
			}
		}
	}

	again, err := SeparatedPositions(12, area, 600, rand.New(rand.NewPCG(3, 9)))
	if err != nil || again[5] != pts[5] {
		t.Fatalf("same seed gave a different layout: %v vs %v (%v)", again[5], pts[5], err)
	}
}

func TestSeparatedPositionsGivesUp(t *testing.T) {
	_, err := SeparatedPositions(3, model.Coord{X: 100, Y: 100}, 600, rand.New(rand.NewPCG(1, 1)))
	if !errors.Is(err, ErrPlacement) {
		t.Fatalf("expected ErrPlacement, got %v", err)
	}
}

package core

import (
	"math"

	"github.com/signalsfoundry/omn-routing/model"
)

// EarthRadiusM is the mean Earth radius used for occlusion and elevation
// checks between orbital and ground hosts (metres).
const EarthRadiusM = 6371.0e3

func dot(a, b model.Coord) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}

func sub(a, b model.Coord) model.Coord {
	return model.Coord{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}

func norm(v model.Coord) float64 {
	return math.Sqrt(dot(v, v))
}

// hasLineOfSight checks whether the straight segment between p1 and p2
// intersects the Earth sphere. If it does, the Earth blocks the line-of-sight
// and the function returns false.
//
// All positions are ECEF in metres.
func hasLineOfSight(p1, p2 model.Coord) bool {
	v := sub(p2, p1)
	a := dot(v, v)
	if a == 0 {
		// Same point: visible only if it is above the surface.
		return dot(p1, p1) > EarthRadiusM*EarthRadiusM
	}

	// t minimises |p1 + t v|^2, clamped to the segment.
	t := -dot(p1, v) / a
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	closest := model.Coord{
		X: p1.X + v.X*t,
		Y: p1.Y + v.Y*t,
		Z: p1.Z + v.Z*t,
	}
	return dot(closest, closest) > EarthRadiusM*EarthRadiusM
}

// ElevationDegrees returns the elevation angle of the target as seen from
// the observer, in degrees. 0° = geometric horizon, 90° = overhead.
func ElevationDegrees(observer, target model.Coord) float64 {
	v := sub(target, observer)
	vNorm := norm(v)
	if vNorm == 0 {
		return 90
	}

	r := norm(observer)
	if r == 0 {
		return 90
	}
	zenith := model.Coord{X: observer.X / r, Y: observer.Y / r, Z: observer.Z / r}

	cosGamma := dot(v, zenith) / vNorm
	if cosGamma > 1 {
		cosGamma = 1
	} else if cosGamma < -1 {
		cosGamma = -1
	}
	gammaDeg := math.Acos(cosGamma) * 180.0 / math.Pi

	return 90.0 - gammaDeg
}

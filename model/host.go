package model

import (
	"fmt"
	"math"
)

// Address identifies a host for the lifetime of a run. Addresses are dense,
// starting at zero, so per-peer tables can be indexed by them.
type Address int

// NoAddress marks an unset address.
const NoAddress Address = -1

func (a Address) String() string {
	return fmt.Sprintf("h%d", int(a))
}

// MotionSource indicates how a host's position is determined.
type MotionSource int

const (
	MotionSourceStatic    MotionSource = iota
	MotionSourceWaypoint               // random waypoint inside a rectangle
	MotionSourceSpacetrack             // TLE-based orbit propagation
)

// Coord is a position in metres. Planar scenarios leave Z at zero.
type Coord struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// DistanceTo returns the straight-line distance between two points.
func (c Coord) DistanceTo(other Coord) float64 {
	dx := c.X - other.X
	dy := c.Y - other.Y
	dz := c.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func (c Coord) String() string {
	return fmt.Sprintf("(%.2f,%.2f,%.2f)", c.X, c.Y, c.Z)
}

// HostDefinition represents a node of the opportunistic network: its
// identity and where it currently is. Routers read it, the engine writes it.
type HostDefinition struct {
	Address Address
	Name    string
	Group   string

	Coordinates  Coord
	MotionSource MotionSource
}

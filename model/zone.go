package model

import (
	"fmt"
	"math"
)

// Zone is a cell of a square grid laid over the XY plane, indexed from the
// origin.
type Zone struct {
	X, Y int
}

// ZoneOf returns the cell of side size that contains c. A non-positive size
// puts everything in the origin cell.
func ZoneOf(c Coord, size float64) Zone {
	if !(size > 0) {
		return Zone{}
	}
	return Zone{X: int(math.Floor(c.X / size)), Y: int(math.Floor(c.Y / size))}
}

func (z Zone) String() string {
	return fmt.Sprintf("%d:%d", z.X, z.Y)
}

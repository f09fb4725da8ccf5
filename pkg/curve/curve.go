// Package curve holds ordered x/y lookup tables such as calibration maps.
package curve

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roffe/canman/pkg/config"
)

var (
	ErrEmpty    = errors.New("curve: no points")
	ErrUnsorted = errors.New("curve: x values are not increasing")
)

// Record is one input row as read from JSON or a config file.
type Record struct {
	X float64 `json:"x" mapstructure:"x"`
	Y float64 `json:"y" mapstructure:"y"`
}

type Point struct {
	X, Y float64
}

func (p Point) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

type Curve struct {
	Name   string
	Points []Point
}

// Load converts records into points, keeping their order. An empty input
// gives a curve with an empty, non-nil Points slice.
func Load(records []Record) Curve {
	pts := make([]Point, len(records))
	for i, r := range records {
		pts[i] = Point{X: r.X, Y: r.Y}
	}
	return Curve{Points: pts}
}

// FromConfig loads the records stored under key.
func FromConfig(l *config.Loader, key string) (Curve, error) {
	var records []Record
	if err := l.Unmarshal(key, &records); err != nil {
		return Curve{}, err
	}
	c := Load(records)
	c.Name = key
	return c, nil
}

func (c Curve) Len() int {
	return len(c.Points)
}

// Sorted reports whether x strictly increases along the curve.
func (c Curve) Sorted() bool {
	for i := 1; i < len(c.Points); i++ {
		if c.Points[i].X <= c.Points[i-1].X {
			return false
		}
	}
	return true
}

// Interpolate returns y at x by linear interpolation between neighbouring
// points. Outside the curve the nearest end point's y is returned.
func (c Curve) Interpolate(x float64) (float64, error) {
	n := len(c.Points)
	if n == 0 {
		return 0, ErrEmpty
	}
	if !c.Sorted() {
		return 0, ErrUnsorted
	}
	if x <= c.Points[0].X {
		return c.Points[0].Y, nil
	}
	if x >= c.Points[n-1].X {
		return c.Points[n-1].Y, nil
	}
	i := sort.Search(n, func(i int) bool { return c.Points[i].X >= x })
	lo, hi := c.Points[i-1], c.Points[i]
	t := (x - lo.X) / (hi.X - lo.X)
	return lo.Y + t*(hi.Y-lo.Y), nil
}

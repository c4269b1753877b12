package cloud

import (
	"fmt"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
)

// View is the axis a preview looks along
type View string

const (
	ViewTop   View = "top"   // looking down -z, x right, y up
	ViewFront View = "front" // looking along +y, x right, z up
	ViewSide  View = "side"  // looking along -x, y right, z up
)

// ParseView parses a view name; empty means top
func ParseView(s string) (View, error) {
	switch View(s) {
	case "", ViewTop:
		return ViewTop, nil
	case ViewFront:
		return ViewFront, nil
	case ViewSide:
		return ViewSide, nil
	}
	return "", fmt.Errorf("%w: unknown view %q (want top, front or side)", ErrInvalidInput, s)
}

// project maps a point onto the view plane. depth grows toward the viewer so
// points drawn in ascending depth order end up with the nearest on top.
func (v View) project(p r3.Vector) (orb.Point, float64) {
	switch v {
	case ViewFront:
		return orb.Point{p.X, p.Z}, -p.Y
	case ViewSide:
		return orb.Point{p.Y, p.Z}, p.X
	default:
		return orb.Point{p.X, p.Y}, p.Z
	}
}

// projected is a point on the view plane with its color
type projected struct {
	pt    orb.Point
	depth float64
	color Color3
}

// maxPreviewPoints caps how many points a preview draws
const maxPreviewPoints = 50000

// decimate keeps every k-th point, starting with the first, so that at most
// limit points remain.
func decimate(c ColoredCloud, limit int) ColoredCloud {
	n := c.Len()
	if limit <= 0 || n <= limit {
		return c
	}
	stride := (n + limit - 1) / limit
	out := ColoredCloud{
		Points: make([]r3.Vector, 0, n/stride+1),
		Colors: make([]Color3, 0, n/stride+1),
	}
	for i := 0; i < n; i += stride {
		out.Points = append(out.Points, c.Points[i])
		out.Colors = append(out.Colors, c.Colors[i])
	}
	return out
}

// projectCloud projects a sample of at most maxPreviewPoints points and sorts
// them back to front. The bound covers every point of c.
func projectCloud(c ColoredCloud, v View) ([]projected, orb.Bound) {
	sample := decimate(c, maxPreviewPoints)
	out := make([]projected, len(sample.Points))
	for i, p := range sample.Points {
		pt, depth := v.project(p)
		out[i] = projected{pt: pt, depth: depth, color: sample.Colors[i]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].depth < out[j].depth
	})
	return out, Footprint(c, v)
}

// Footprint returns the 2D extent of the cloud as seen from the view
func Footprint(c ColoredCloud, v View) orb.Bound {
	mp := make(orb.MultiPoint, len(c.Points))
	for i, p := range c.Points {
		mp[i], _ = v.project(p)
	}
	return mp.Bound()
}

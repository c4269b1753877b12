package cloud

import (
	"fmt"
	"strings"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the extent and statistics of a point cloud
type Summary struct {
	PointCount int       `json:"pointCount"`
	Min        r3.Vector `json:"min"`
	Max        r3.Vector `json:"max"`
	Centroid   r3.Vector `json:"centroid"`
	StdDev     r3.Vector `json:"stdDev"`
	HasColors  bool      `json:"hasColors"`
}

// Size returns the extent of the bounding box along each axis
func (s Summary) Size() r3.Vector {
	return s.Max.Sub(s.Min)
}

// Summarize computes bounds, centroid and per-axis standard deviation.
// An empty cloud yields a zero summary.
func Summarize(pc PointCloud) Summary {
	s := Summary{PointCount: pc.Len(), HasColors: pc.HasColors()}
	if pc.Len() == 0 {
		return s
	}

	xs, ys, zs := splitAxes(pc.Points)
	s.Min = r3.Vector{X: floats.Min(xs), Y: floats.Min(ys), Z: floats.Min(zs)}
	s.Max = r3.Vector{X: floats.Max(xs), Y: floats.Max(ys), Z: floats.Max(zs)}

	var sd r3.Vector
	s.Centroid.X, sd.X = meanStdDev(xs)
	s.Centroid.Y, sd.Y = meanStdDev(ys)
	s.Centroid.Z, sd.Z = meanStdDev(zs)
	s.StdDev = sd
	return s
}

func meanStdDev(v []float64) (mean, std float64) {
	if len(v) < 2 {
		return stat.Mean(v, nil), 0
	}
	return stat.MeanStdDev(v, nil)
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "points:   %d\n", s.PointCount)
	fmt.Fprintf(&b, "colors:   %t\n", s.HasColors)
	fmt.Fprintf(&b, "min:      %s\n", formatVec(s.Min))
	fmt.Fprintf(&b, "max:      %s\n", formatVec(s.Max))
	fmt.Fprintf(&b, "size:     %s\n", formatVec(s.Size()))
	fmt.Fprintf(&b, "centroid: %s\n", formatVec(s.Centroid))
	fmt.Fprintf(&b, "stddev:   %s\n", formatVec(s.StdDev))
	return b.String()
}

func formatVec(v r3.Vector) string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f)", v.X, v.Y, v.Z)
}

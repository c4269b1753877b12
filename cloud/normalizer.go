package cloud

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"
)

// Centroid returns the componentwise arithmetic mean of the points
func Centroid(points []r3.Vector) r3.Vector {
	xs, ys, zs := splitAxes(points)
	return r3.Vector{
		X: stat.Mean(xs, nil),
		Y: stat.Mean(ys, nil),
		Z: stat.Mean(zs, nil),
	}
}

// Normalize recenters the cloud on its centroid. The input is left untouched;
// a new cloud is returned together with the centroid that was subtracted so
// callers can place the result back in world coordinates.
func Normalize(pc PointCloud) (PointCloud, r3.Vector, error) {
	if err := pc.Validate(); err != nil {
		return PointCloud{}, r3.Vector{}, err
	}

	centroid := Centroid(pc.Points)
	out := pc.Clone()
	for i, p := range out.Points {
		out.Points[i] = p.Sub(centroid)
	}
	return out, centroid, nil
}

// splitAxes copies point coordinates into one slice per axis
func splitAxes(points []r3.Vector) (xs, ys, zs []float64) {
	xs = make([]float64, len(points))
	ys = make([]float64, len(points))
	zs = make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
		zs[i] = p.Z
	}
	return xs, ys, zs
}

package cloud

import (
	"gonum.org/v1/gonum/floats"
)

// HeightRange returns the minimum and maximum z of the points
func HeightRange(c UncoloredCloud) (zmin, zmax float64) {
	_, _, zs := splitAxes(c.Points)
	return floats.Min(zs), floats.Max(zs)
}

// AssignHeightColors derives a color for every point by remapping its z into
// [0,1] over the cloud's height range and looking it up in the viridis map.
// A flat cloud (zmin == zmax, including a single point) gets MidpointColor
// everywhere.
func AssignHeightColors(c UncoloredCloud) ColoredCloud {
	colors := make([]Color3, len(c.Points))
	if len(c.Points) == 0 {
		return ColoredCloud{Points: c.Points, Colors: colors}
	}

	zmin, zmax := HeightRange(c)
	span := zmax - zmin
	for i, p := range c.Points {
		if span == 0 {
			colors[i] = MidpointColor
			continue
		}
		colors[i] = Viridis((p.Z - zmin) / span)
	}
	return ColoredCloud{Points: c.Points, Colors: colors}
}

// Colorize returns the colored form of the cloud. Existing colors are kept as
// they are; height colors are only computed when the cloud has none.
func Colorize(pc PointCloud) (ColoredCloud, error) {
	if err := pc.Validate(); err != nil {
		return ColoredCloud{}, err
	}
	colored, uncolored := pc.Variant()
	if colored != nil {
		return *colored, nil
	}
	return AssignHeightColors(*uncolored), nil
}

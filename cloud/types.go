package cloud

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Color3 is an RGB color with channels in [0,1]
type Color3 struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// PointCloud is an ordered set of positions with an optional parallel color slice.
// Colors is nil when the source supplied no colors.
type PointCloud struct {
	Points []r3.Vector
	Colors []Color3
}

// Len returns the number of points
func (pc PointCloud) Len() int {
	return len(pc.Points)
}

// HasColors reports whether a color sequence is present
func (pc PointCloud) HasColors() bool {
	return pc.Colors != nil
}

// Validate checks the structural invariants of the cloud: at least one point,
// finite coordinates, and a color slice (when present) matching the point count.
func (pc PointCloud) Validate() error {
	if len(pc.Points) == 0 {
		return fmt.Errorf("%w: point cloud is empty", ErrInvalidInput)
	}
	if pc.Colors != nil && len(pc.Colors) != len(pc.Points) {
		return fmt.Errorf("%w: %d colors for %d points", ErrInvalidInput, len(pc.Colors), len(pc.Points))
	}
	for i, p := range pc.Points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return fmt.Errorf("%w: point %d has non-finite coordinate %v", ErrInvalidInput, i, p)
		}
	}
	return nil
}

// Clone returns a deep copy of the cloud
func (pc PointCloud) Clone() PointCloud {
	out := PointCloud{Points: make([]r3.Vector, len(pc.Points))}
	copy(out.Points, pc.Points)
	if pc.Colors != nil {
		out.Colors = make([]Color3, len(pc.Colors))
		copy(out.Colors, pc.Colors)
	}
	return out
}

// Variant splits the cloud into its colored or uncolored form. Exactly one of
// the returned pointers is non-nil.
func (pc PointCloud) Variant() (*ColoredCloud, *UncoloredCloud) {
	if pc.HasColors() {
		return &ColoredCloud{Points: pc.Points, Colors: pc.Colors}, nil
	}
	return nil, &UncoloredCloud{Points: pc.Points}
}

// UncoloredCloud is a point cloud known to carry no colors
type UncoloredCloud struct {
	Points []r3.Vector
}

// ColoredCloud is a point cloud whose color slice is guaranteed to be present
// and aligned with Points. It is the only input the encoder accepts.
type ColoredCloud struct {
	Points []r3.Vector
	Colors []Color3
}

// Len returns the number of points
func (c ColoredCloud) Len() int {
	return len(c.Points)
}

// Cloud converts back to the general representation
func (c ColoredCloud) Cloud() PointCloud {
	return PointCloud{Points: c.Points, Colors: c.Colors}
}

const (
	// DefaultScale is the fixed-point unit: stored integers are 1/100 of a world unit
	DefaultScale = 0.01

	// PointFormatRGB selects the record layout with positions followed by 16-bit RGB
	PointFormatRGB uint8 = 2

	defaultSystemID = "lodmesh"
	defaultSoftware = "lodmesh encoder"
)

// EncodingHeader holds the fixed-point parameters and format identification
// written at the start of every encoded file.
type EncodingHeader struct {
	Scale        r3.Vector
	Offset       r3.Vector
	PointFormat  uint8
	VersionMajor uint8
	VersionMinor uint8
	SystemID     string
	Software     string
}

// DefaultHeader returns the header used when no scale/offset is configured
func DefaultHeader() EncodingHeader {
	return EncodingHeader{
		Scale:        r3.Vector{X: DefaultScale, Y: DefaultScale, Z: DefaultScale},
		PointFormat:  PointFormatRGB,
		VersionMajor: 1,
		VersionMinor: 2,
		SystemID:     defaultSystemID,
		Software:     defaultSoftware,
	}
}

// Validate rejects zero, negative, or non-finite scales and non-finite offsets
func (h EncodingHeader) Validate() error {
	for axis, s := range [3]float64{h.Scale.X, h.Scale.Y, h.Scale.Z} {
		if !finite(s) || s <= 0 {
			return fmt.Errorf("%w: scale %s must be positive, got %g", ErrInvalidInput, axisName(axis), s)
		}
	}
	for axis, o := range [3]float64{h.Offset.X, h.Offset.Y, h.Offset.Z} {
		if !finite(o) {
			return fmt.Errorf("%w: offset %s must be finite, got %g", ErrInvalidInput, axisName(axis), o)
		}
	}
	if h.PointFormat != PointFormatRGB {
		return fmt.Errorf("%w: unsupported point format %d", ErrInvalidInput, h.PointFormat)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func axisName(axis int) string {
	switch axis {
	case 0:
		return "x"
	case 1:
		return "y"
	default:
		return "z"
	}
}

package cloud

import (
	"errors"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boxCloud() ColoredCloud {
	pts := []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 10, Y: 5, Z: 2},
		{X: 4, Y: 1, Z: 1},
	}
	return AssignHeightColors(UncoloredCloud{Points: pts})
}

func TestParseView(t *testing.T) {
	tests := []struct {
		in   string
		want View
	}{
		{"", ViewTop},
		{"top", ViewTop},
		{"front", ViewFront},
		{"side", ViewSide},
	}
	for _, tt := range tests {
		got, err := ParseView(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseView("iso")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestFootprint(t *testing.T) {
	c := boxCloud()

	tests := []struct {
		view View
		want orb.Bound
	}{
		{ViewTop, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 5}}},
		{ViewFront, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 2}}},
		{ViewSide, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{5, 2}}},
	}
	for _, tt := range tests {
		t.Run(string(tt.view), func(t *testing.T) {
			assert.Equal(t, tt.want, Footprint(c, tt.view))
		})
	}
}

func TestProjectCloud_BackToFront(t *testing.T) {
	c := boxCloud()
	pts, _ := projectCloud(c, ViewTop)
	require.Len(t, pts, 3)
	for i := 1; i < len(pts); i++ {
		assert.LessOrEqual(t, pts[i-1].depth, pts[i].depth)
	}
	// highest point is drawn last and keeps its color
	assert.Equal(t, c.Colors[1], pts[2].color)
}

// gridCloud lays n points on a 1000-wide grid, height-colored
func gridCloud(n int) ColoredCloud {
	pts := make([]r3.Vector, n)
	for i := range pts {
		pts[i] = r3.Vector{X: float64(i % 1000), Y: float64(i / 1000), Z: float64(i % 7)}
	}
	return AssignHeightColors(UncoloredCloud{Points: pts})
}

func TestDecimate(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		limit int
		want  int
	}{
		{"under limit", 10, 20, 10},
		{"at limit", 20, 20, 20},
		{"just over", 21, 20, 11},
		{"triple", 60, 20, 20},
		{"no limit", 30, 0, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := gridCloud(tt.n)
			got := decimate(c, tt.limit)
			assert.Equal(t, tt.want, got.Len())
			assert.Len(t, got.Colors, got.Len())
			assert.Equal(t, c.Points[0], got.Points[0])
		})
	}
}

func TestProjectCloud_CapsLargeClouds(t *testing.T) {
	c := gridCloud(2*maxPreviewPoints + 1)
	// make the last point an outlier that the stride skips
	c.Points[len(c.Points)-1] = r3.Vector{X: 5000, Y: 5000}

	pts, bound := projectCloud(c, ViewTop)
	assert.LessOrEqual(t, len(pts), maxPreviewPoints)
	assert.Equal(t, orb.Point{5000, 5000}, bound.Max)
}

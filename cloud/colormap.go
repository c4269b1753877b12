package cloud

import (
	"image/color"
	"math"
	"sort"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// viridisStop is one sample of the 256-entry viridis table at index/255
type viridisStop struct {
	t float64
	c colorful.Color
}

// viridisStops samples every 32nd entry of the viridis table plus the last one.
var viridisStops = []viridisStop{
	{0.0 / 255, colorful.Color{R: 0.267004, G: 0.004874, B: 0.329415}},
	{32.0 / 255, colorful.Color{R: 0.282623, G: 0.140926, B: 0.457517}},
	{64.0 / 255, colorful.Color{R: 0.229739, G: 0.322361, B: 0.545706}},
	{96.0 / 255, colorful.Color{R: 0.172719, G: 0.448791, B: 0.557885}},
	{128.0 / 255, colorful.Color{R: 0.127568, G: 0.566949, B: 0.550556}},
	{160.0 / 255, colorful.Color{R: 0.134692, G: 0.658636, B: 0.517649}},
	{192.0 / 255, colorful.Color{R: 0.266941, G: 0.748751, B: 0.440573}},
	{224.0 / 255, colorful.Color{R: 0.477504, G: 0.821444, B: 0.318195}},
	{255.0 / 255, colorful.Color{R: 0.993248, G: 0.906157, B: 0.143936}},
}

// Viridis maps t in [0,1] to the perceptually uniform viridis colormap.
// Values outside the range are clamped; NaN maps to the midpoint.
func Viridis(t float64) Color3 {
	if math.IsNaN(t) {
		t = 0.5
	}
	t = math.Max(0, math.Min(1, t))

	// first stop whose position is >= t
	i := sort.Search(len(viridisStops), func(i int) bool {
		return viridisStops[i].t >= t
	})
	if i == 0 {
		return fromColorful(viridisStops[0].c)
	}
	lo, hi := viridisStops[i-1], viridisStops[i]
	frac := (t - lo.t) / (hi.t - lo.t)
	return fromColorful(lo.c.BlendRgb(hi.c, frac).Clamped())
}

// MidpointColor is assigned to every point of a cloud with no height range
var MidpointColor = Viridis(0.5)

func fromColorful(c colorful.Color) Color3 {
	return Color3{R: c.R, G: c.G, B: c.B}
}

func (c Color3) toColorful() colorful.Color {
	return colorful.Color{R: c.R, G: c.G, B: c.B}
}

// Hex formats the color as #rrggbb
func (c Color3) Hex() string {
	return c.toColorful().Clamped().Hex()
}

// toRGBA converts to an opaque 8-bit color for image output
func (c Color3) toRGBA() color.RGBA {
	r, g, b := c.toColorful().Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

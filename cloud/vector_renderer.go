package cloud

import (
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

const (
	// vectorSize is the longest side of a vector preview in millimeters
	vectorSize = 200.0

	// vectorPadding is the margin around the cloud in millimeters
	vectorPadding = 5.0
)

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// vectorLayout maps view-plane coordinates onto the canvas in millimeters
type vectorLayout struct {
	bound         orb.Bound
	scale         float64
	width, height float64
}

func newVectorLayout(b orb.Bound) vectorLayout {
	spanX := b.Right() - b.Left()
	spanY := b.Top() - b.Bottom()
	span := math.Max(spanX, spanY)
	if span <= 0 || math.IsNaN(span) {
		span = 1
	}
	scale := (vectorSize - 2*vectorPadding) / span
	return vectorLayout{
		bound:  b,
		scale:  scale,
		width:  spanX*scale + 2*vectorPadding,
		height: spanY*scale + 2*vectorPadding,
	}
}

// toCanvas converts a view-plane point to canvas coordinates (y up)
func (l vectorLayout) toCanvas(p orb.Point) (float64, float64) {
	return (p[0]-l.bound.Left())*l.scale + vectorPadding, (p[1]-l.bound.Bottom())*l.scale + vectorPadding
}

func (r *PreviewRenderer) vectorLayout(c ColoredCloud) ([]projected, vectorLayout) {
	pts, bound := projectCloud(c, r.View)
	if len(pts) == 0 {
		bound = orb.Bound{}
	}
	return pts, newVectorLayout(bound)
}

// RenderToSVG writes the preview as an SVG to the provided writer
func (r *PreviewRenderer) RenderToSVG(w io.Writer, c ColoredCloud) error {
	pts, l := r.vectorLayout(c)

	svgRenderer := svg.New(w, l.width, l.height, nil)
	r.renderToCanvas(svgRenderer, pts, l)

	// Close writes the closing tags
	return svgRenderer.Close()
}

// RenderToVectorPNG rasterizes the vector preview at the given resolution
func (r *PreviewRenderer) RenderToVectorPNG(w io.Writer, c ColoredCloud, resolution canvas.Resolution) error {
	pts, l := r.vectorLayout(c)

	rast := rasterizer.New(l.width, l.height, resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, pts, l)

	return png.Encode(w, rast)
}

// renderToCanvas draws background and points (shared by SVG and PNG output)
func (r *PreviewRenderer) renderToCanvas(renderer canvasRenderer, pts []projected, l vectorLayout) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: r.Background}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(l.width, l.height), bgStyle, canvas.Identity)

	// radius in millimeters, at least a visible dot
	radius := math.Max(0.3, float64(r.PointRadius)*0.3)

	for _, p := range pts {
		cx, cy := l.toCanvas(p.pt)
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: p.color.toRGBA()}
		style.Stroke = canvas.Paint{Color: canvas.Transparent}

		dot := canvas.Circle(radius)
		dot = dot.Translate(cx, cy)
		renderer.RenderPath(dot, style, canvas.Identity)
	}
}

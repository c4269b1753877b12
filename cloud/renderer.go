package cloud

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PreviewRenderer draws an orthographic preview of a colored cloud
type PreviewRenderer struct {
	View        View
	MaxSize     int // Longest image side in pixels
	Padding     int
	PointRadius int
	Background  color.RGBA
	Legend      bool
}

// NewPreviewRenderer creates a renderer with default settings
func NewPreviewRenderer(view View) *PreviewRenderer {
	return &PreviewRenderer{
		View:        view,
		MaxSize:     1024,
		Padding:     30,
		PointRadius: 1,
		Background:  color.RGBA{240, 240, 240, 255},
		Legend:      true,
	}
}

// layout scales the projected bound into the image. Degenerate extents get a
// unit span so a single point or a flat line still lands in the middle.
type layout struct {
	bound         orb.Bound
	scale         float64
	width, height int
	padding       int
}

func (r *PreviewRenderer) layout(b orb.Bound) layout {
	maxSize := r.MaxSize
	if maxSize <= 0 {
		maxSize = 1024
	}
	spanX := b.Right() - b.Left()
	spanY := b.Top() - b.Bottom()
	span := math.Max(spanX, spanY)
	if span <= 0 || math.IsNaN(span) {
		span = 1
	}
	inner := maxSize - 2*r.Padding
	if inner < 1 {
		inner = 1
	}
	scale := float64(inner) / span

	width := int(math.Ceil(spanX*scale)) + 2*r.Padding + 1
	height := int(math.Ceil(spanY*scale)) + 2*r.Padding + 1
	return layout{bound: b, scale: scale, width: width, height: height, padding: r.Padding}
}

// toImage converts a view-plane point to pixel coordinates with y pointing down
func (l layout) toImage(p orb.Point) (int, int) {
	x := int(math.Round((p[0]-l.bound.Left())*l.scale)) + l.padding
	y := l.height - 1 - (int(math.Round((p[1]-l.bound.Bottom())*l.scale)) + l.padding)
	return x, y
}

// Render draws the cloud into a new image
func (r *PreviewRenderer) Render(c ColoredCloud) *image.RGBA {
	pts, bound := projectCloud(c, r.View)
	if len(pts) == 0 {
		bound = orb.Bound{}
	}
	l := r.layout(bound)

	img := image.NewRGBA(image.Rect(0, 0, l.width, l.height))
	for y := 0; y < l.height; y++ {
		for x := 0; x < l.width; x++ {
			img.SetRGBA(x, y, r.Background)
		}
	}

	for _, p := range pts {
		ix, iy := l.toImage(p.pt)
		drawCircle(img, ix, iy, r.PointRadius, p.color.toRGBA())
	}

	if r.Legend {
		r.drawLegend(img, c)
	}
	return img
}

// WritePNG renders the cloud and encodes it as PNG
func (r *PreviewRenderer) WritePNG(w io.Writer, c ColoredCloud) error {
	if err := png.Encode(w, r.Render(c)); err != nil {
		return fmt.Errorf("encoding preview PNG: %w", err)
	}
	return nil
}

// SavePNG saves the preview image to a file
func (r *PreviewRenderer) SavePNG(path string, c ColoredCloud) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return r.WritePNG(f, c)
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	bounds := img.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if x >= bounds.Min.X && x < bounds.Max.X && y >= bounds.Min.Y && y < bounds.Max.Y {
					img.SetRGBA(x, y, c)
				}
			}
		}
	}
}

// drawLegend adds the view name, point count and a viridis ramp in the top-left corner
func (r *PreviewRenderer) drawLegend(img *image.RGBA, c ColoredCloud) {
	black := color.RGBA{0, 0, 0, 255}
	drawText(img, 10, 15, fmt.Sprintf("%s view, %d points", r.View, c.Len()), black)

	const rampWidth, rampHeight = 100, 8
	for dx := 0; dx < rampWidth; dx++ {
		col := Viridis(float64(dx) / float64(rampWidth-1)).toRGBA()
		for dy := 0; dy < rampHeight; dy++ {
			if img.Bounds().Max.X > 10+dx && img.Bounds().Max.Y > 22+dy {
				img.SetRGBA(10+dx, 22+dy, col)
			}
		}
	}
	drawText(img, 10+rampWidth+6, 30, "low to high", black)
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

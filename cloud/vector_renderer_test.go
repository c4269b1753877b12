package cloud

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdewolff/canvas"
)

func TestRenderToSVG(t *testing.T) {
	r := NewPreviewRenderer(ViewTop)
	var buf bytes.Buffer
	require.NoError(t, r.RenderToSVG(&buf, boxCloud()))

	svg := buf.String()
	assert.Contains(t, svg, "<svg")
	assert.Contains(t, svg, "</svg>")
	assert.Contains(t, svg, "path")
}

func TestRenderToSVG_Empty(t *testing.T) {
	r := NewPreviewRenderer(ViewTop)
	var buf bytes.Buffer
	require.NoError(t, r.RenderToSVG(&buf, ColoredCloud{}))
	assert.Contains(t, buf.String(), "</svg>")
}

func TestRenderToVectorPNG(t *testing.T) {
	r := NewPreviewRenderer(ViewTop)
	var buf bytes.Buffer
	require.NoError(t, r.RenderToVectorPNG(&buf, boxCloud(), canvas.DPMM(2)))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	// 200mm long side at 2 dots per mm
	assert.InDelta(t, 400, img.Bounds().Dx(), 1)
}

func TestNewVectorLayout(t *testing.T) {
	l := newVectorLayout(Footprint(boxCloud(), ViewTop))
	assert.InDelta(t, vectorSize, l.width, 1e-9)
	assert.InDelta(t, 105, l.height, 1e-9)

	x, y := l.toCanvas([2]float64{10, 5})
	assert.InDelta(t, vectorSize-vectorPadding, x, 1e-9)
	assert.InDelta(t, l.height-vectorPadding, y, 1e-9)
}

func TestRenderToSVG_LargeCloudIsBounded(t *testing.T) {
	if testing.Short() {
		t.Skip("renders a large cloud")
	}
	r := NewPreviewRenderer(ViewTop)

	var capped, large bytes.Buffer
	require.NoError(t, r.RenderToSVG(&capped, gridCloud(maxPreviewPoints)))
	require.NoError(t, r.RenderToSVG(&large, gridCloud(3*maxPreviewPoints)))

	// three times the points must not mean three times the markup
	assert.Less(t, large.Len(), capped.Len()*5/4)
}

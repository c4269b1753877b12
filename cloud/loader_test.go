package cloud

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseXYZ(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantPoints []r3.Vector
		wantColors []Color3
		wantErr    bool
	}{
		{
			name:       "positions only",
			input:      "0 0 0\n1 2 3\n",
			wantPoints: []r3.Vector{{}, {X: 1, Y: 2, Z: 3}},
		},
		{
			name:       "comments header and commas",
			input:      "x,y,z\n# scanner export\n\n1.5,2.5,3.5\n// trailing\n",
			wantPoints: []r3.Vector{{X: 1.5, Y: 2.5, Z: 3.5}},
		},
		{
			name:       "8-bit colors",
			input:      "0 0 0 255 0 51\n1 1 1 0 255 0\n",
			wantPoints: []r3.Vector{{}, {X: 1, Y: 1, Z: 1}},
			wantColors: []Color3{{R: 1, G: 0, B: 0.2}, {G: 1}},
		},
		{
			name:       "unit colors",
			input:      "0 0 0 1 0 0.5\n1 1 1 0 1 0\n",
			wantPoints: []r3.Vector{{}, {X: 1, Y: 1, Z: 1}},
			wantColors: []Color3{{R: 1, B: 0.5}, {G: 1}},
		},
		{name: "too few values", input: "1 2\n", wantErr: true},
		{name: "mixed color presence", input: "0 0 0 1 1 1\n1 1 1\n", wantErr: true},
		{name: "color appears late", input: "0 0 0\n1 1 1 1 1 1\n", wantErr: true},
		{name: "garbage after data", input: "0 0 0\nfoo bar baz\n", wantErr: true},
		{name: "negative color", input: "0 0 0 -1 0 0\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := ParseXYZ(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPoints, pc.Points)
			if tt.wantColors == nil {
				assert.Nil(t, pc.Colors)
				return
			}
			require.Len(t, pc.Colors, len(tt.wantColors))
			for i, c := range tt.wantColors {
				assertColorInDelta(t, c, pc.Colors[i], 1e-12)
			}
		})
	}
}

func TestLoadFile_XYZ(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.xyz")
	require.NoError(t, os.WriteFile(path, []byte("1 2 3\n4 5 6\n"), 0o644))

	pc, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, pc.Len())
	assert.False(t, pc.HasColors())
}

func TestLoadFile_UnknownExtension(t *testing.T) {
	_, err := LoadFile("scan.ply")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoadFile_LASRoundTrip(t *testing.T) {
	c := randomColoredCloud(11, 50)
	path, err := EncodeToTempFile(c, DefaultHeader(), t.TempDir())
	require.NoError(t, err)

	pc, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, len(c.Points), pc.Len())
	require.True(t, pc.HasColors())

	for i, p := range c.Points {
		assert.InDelta(t, p.X, pc.Points[i].X, 0.005+1e-9, "point %d", i)
		assert.InDelta(t, p.Y, pc.Points[i].Y, 0.005+1e-9, "point %d", i)
		assert.InDelta(t, p.Z, pc.Points[i].Z, 0.005+1e-9, "point %d", i)
		assertColorInDelta(t, c.Colors[i], pc.Colors[i], 1e-9)
	}
}

package cloud

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
)

// LoadFile reads a point cloud from disk. The format is chosen by extension:
// .las through lidario, and .xyz/.asc/.txt/.csv as whitespace or comma
// separated "x y z [r g b]" lines.
func LoadFile(path string) (PointCloud, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".las":
		return loadLAS(path)
	case ".xyz", ".asc", ".txt", ".csv":
		f, err := os.Open(path)
		if err != nil {
			return PointCloud{}, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		pc, err := ParseXYZ(f)
		if err != nil {
			return PointCloud{}, fmt.Errorf("parsing %s: %w", path, err)
		}
		return pc, nil
	default:
		return PointCloud{}, fmt.Errorf("%w: do not know how to read file %q", ErrInvalidInput, path)
	}
}

func loadLAS(path string) (pc PointCloud, err error) {
	lf, err := lidario.NewLasFile(path, "r")
	if err != nil {
		return PointCloud{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() {
		err = multierr.Append(err, lf.Close())
	}()

	n := lf.Header.NumberPoints
	hasRGB := lf.Header.PointFormatID == 2 || lf.Header.PointFormatID == 3
	pc.Points = make([]r3.Vector, 0, n)
	if hasRGB {
		pc.Colors = make([]Color3, 0, n)
	}

	for i := 0; i < n; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return PointCloud{}, fmt.Errorf("reading point %d of %s: %w", i, path, err)
		}
		data := p.PointData()
		pc.Points = append(pc.Points, r3.Vector{X: data.X, Y: data.Y, Z: data.Z})

		if !hasRGB {
			continue
		}
		var c Color3
		if rgb := p.RgbData(); rgb != nil {
			c = Color3{
				R: float64(rgb.Red) / 65535,
				G: float64(rgb.Green) / 65535,
				B: float64(rgb.Blue) / 65535,
			}
		}
		pc.Colors = append(pc.Colors, c)
	}
	return pc, nil
}

// ParseXYZ reads "x y z" or "x y z r g b" lines. Blank lines and lines starting
// with '#' or '//' are skipped, as is a single non-numeric header line.
// Colors are read as 0-255 unless every channel in the file lies in [0,1].
// Either every line carries a color or none does.
func ParseXYZ(r io.Reader) (PointCloud, error) {
	var (
		points   []r3.Vector
		rawColor [][3]float64
		maxChan  float64
		header   bool
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ',' || r == ';'
		})

		vals := make([]float64, len(fields))
		numeric := true
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				numeric = false
				break
			}
			vals[i] = v
		}
		if !numeric {
			if !header && len(points) == 0 {
				header = true
				continue
			}
			return PointCloud{}, fmt.Errorf("line %d: non-numeric value in %q", lineNo, line)
		}

		switch {
		case len(vals) >= 6:
			if len(points) > 0 && rawColor == nil {
				return PointCloud{}, fmt.Errorf("line %d: color present but earlier lines had none", lineNo)
			}
			c := [3]float64{vals[3], vals[4], vals[5]}
			for _, ch := range c {
				if ch < 0 {
					return PointCloud{}, fmt.Errorf("line %d: negative color channel %g", lineNo, ch)
				}
				if ch > maxChan {
					maxChan = ch
				}
			}
			rawColor = append(rawColor, c)
		case len(vals) >= 3:
			if rawColor != nil {
				return PointCloud{}, fmt.Errorf("line %d: missing color after colored lines", lineNo)
			}
		default:
			return PointCloud{}, fmt.Errorf("line %d: need at least 3 values, got %d", lineNo, len(vals))
		}
		points = append(points, r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]})
	}
	if err := scanner.Err(); err != nil {
		return PointCloud{}, fmt.Errorf("reading points: %w", err)
	}

	pc := PointCloud{Points: points}
	if rawColor != nil {
		div := 255.0
		if maxChan <= 1 {
			div = 1
		}
		pc.Colors = make([]Color3, len(rawColor))
		for i, c := range rawColor {
			pc.Colors[i] = Color3{
				R: clamp01(c[0] / div),
				G: clamp01(c[1] / div),
				B: clamp01(c[2] / div),
			}
		}
	}
	return pc, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

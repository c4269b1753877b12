package cloud

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/golang/geo/r3"
)

// DecodedFile is the content of an encoded point file read back into world units
type DecodedFile struct {
	Header     EncodingHeader
	PointCount int
	Min        r3.Vector
	Max        r3.Vector
	Points     []r3.Vector
	// RGB holds the raw 16-bit channels; nil for formats without color
	RGB    [][3]uint16
	Colors []Color3
}

// Cloud returns the decoded points and colors as a PointCloud
func (d *DecodedFile) Cloud() PointCloud {
	return PointCloud{Points: d.Points, Colors: d.Colors}
}

// IsLAS checks if data starts with the LASF signature
func IsLAS(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == "LASF"
}

// rgbOffset returns where the RGB triple starts inside a record of the given
// point format, or -1 when the format carries no color.
func rgbOffset(format uint8) int {
	switch format {
	case 2:
		return 20
	case 3:
		return 28
	default:
		return -1
	}
}

// Decode parses an encoded point file. Point formats 0-3 are accepted; color
// is read for formats 2 and 3.
func Decode(data []byte) (*DecodedFile, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}
	if !IsLAS(data) {
		return nil, fmt.Errorf("not a LAS file: missing LASF signature")
	}
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("truncated header: %d bytes, need %d", len(data), HeaderSize)
	}

	var hdr lasHeader
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if hdr.PointFormat > 3 {
		return nil, fmt.Errorf("unsupported point format %d", hdr.PointFormat)
	}
	recLen := int(hdr.RecordLength)
	if recLen < 20 {
		return nil, fmt.Errorf("invalid record length %d", recLen)
	}
	start := int(hdr.OffsetToPoints)
	if start < HeaderSize || start > len(data) {
		return nil, fmt.Errorf("invalid offset to point data %d", start)
	}

	// The header count is authoritative; fall back to the file length when it is zero.
	count := int(hdr.PointCount)
	available := (len(data) - start) / recLen
	if count == 0 {
		count = available
	}
	if count > available {
		return nil, fmt.Errorf("truncated point data: header declares %d points, file holds %d", count, available)
	}

	d := &DecodedFile{
		Header: EncodingHeader{
			Scale:        r3.Vector{X: hdr.XScale, Y: hdr.YScale, Z: hdr.ZScale},
			Offset:       r3.Vector{X: hdr.XOffset, Y: hdr.YOffset, Z: hdr.ZOffset},
			PointFormat:  hdr.PointFormat,
			VersionMajor: hdr.VersionMajor,
			VersionMinor: hdr.VersionMinor,
			SystemID:     trimNUL(hdr.SystemID[:]),
			Software:     trimNUL(hdr.Software[:]),
		},
		PointCount: count,
		Min:        r3.Vector{X: hdr.MinX, Y: hdr.MinY, Z: hdr.MinZ},
		Max:        r3.Vector{X: hdr.MaxX, Y: hdr.MaxY, Z: hdr.MaxZ},
		Points:     make([]r3.Vector, count),
	}

	colorAt := rgbOffset(hdr.PointFormat)
	if colorAt >= 0 && colorAt+6 > recLen {
		return nil, fmt.Errorf("record length %d too short for color in format %d", recLen, hdr.PointFormat)
	}
	if colorAt >= 0 {
		d.RGB = make([][3]uint16, count)
		d.Colors = make([]Color3, count)
	}

	le := binary.LittleEndian
	for i := 0; i < count; i++ {
		rec := data[start+i*recLen : start+(i+1)*recLen]
		x := int32(le.Uint32(rec[0:4]))
		y := int32(le.Uint32(rec[4:8]))
		z := int32(le.Uint32(rec[8:12]))
		d.Points[i] = r3.Vector{
			X: float64(x)*hdr.XScale + hdr.XOffset,
			Y: float64(y)*hdr.YScale + hdr.YOffset,
			Z: float64(z)*hdr.ZScale + hdr.ZOffset,
		}

		if colorAt >= 0 {
			rgb := [3]uint16{
				le.Uint16(rec[colorAt : colorAt+2]),
				le.Uint16(rec[colorAt+2 : colorAt+4]),
				le.Uint16(rec[colorAt+4 : colorAt+6]),
			}
			d.RGB[i] = rgb
			d.Colors[i] = Color3{
				R: float64(rgb[0]) / 65535,
				G: float64(rgb[1]) / 65535,
				B: float64(rgb[2]) / 65535,
			}
		}
	}

	return d, nil
}

// DecodeFile reads and decodes an encoded point file from disk
func DecodeFile(path string) (*DecodedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	d, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return d, nil
}

func trimNUL(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

package cloud

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
)

const (
	// HeaderSize is the length of the public header block
	HeaderSize = 227

	// RecordSize is the length of one point record (positions, attributes, RGB)
	RecordSize = 26

	// returnBits encodes "return 1 of 1" in the record's return bit field
	returnBits = 0x09
)

// lasHeader mirrors the on-disk public header block byte for byte
type lasHeader struct {
	Signature      [4]byte
	FileSourceID   uint16
	GlobalEncoding uint16
	GUID1          uint32
	GUID2          uint16
	GUID3          uint16
	GUID4          [8]byte
	VersionMajor   uint8
	VersionMinor   uint8
	SystemID       [32]byte
	Software       [32]byte
	CreationDay    uint16
	CreationYear   uint16
	HeaderSize     uint16
	OffsetToPoints uint32
	NumVLRs        uint32
	PointFormat    uint8
	RecordLength   uint16
	PointCount     uint32
	PointsByReturn [5]uint32
	XScale         float64
	YScale         float64
	ZScale         float64
	XOffset        float64
	YOffset        float64
	ZOffset        float64
	MaxX, MinX     float64
	MaxY, MinY     float64
	MaxZ, MinZ     float64
}

// lasRecord mirrors one point record
type lasRecord struct {
	X, Y, Z        int32
	Intensity      uint16
	ReturnBits     uint8
	Classification uint8
	ScanAngle      int8
	UserData       uint8
	PointSourceID  uint16
	R, G, B        uint16
}

// Marshal encodes the colored cloud into a complete file image. Nothing is
// returned unless every point converts cleanly.
func Marshal(c ColoredCloud, h EncodingHeader) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if len(c.Points) == 0 {
		return nil, fmt.Errorf("%w: point cloud is empty", ErrInvalidInput)
	}
	if len(c.Colors) != len(c.Points) {
		return nil, fmt.Errorf("%w: %d colors for %d points", ErrInvalidInput, len(c.Colors), len(c.Points))
	}
	if uint64(len(c.Points)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d points exceed the format's point count field", ErrInvalidInput, len(c.Points))
	}

	records := make([]lasRecord, len(c.Points))
	lo := r3.Vector{X: math.MaxInt32, Y: math.MaxInt32, Z: math.MaxInt32}
	hi := r3.Vector{X: math.MinInt32, Y: math.MinInt32, Z: math.MinInt32}
	for i, p := range c.Points {
		x, err := quantize(i, "x", p.X, h.Scale.X, h.Offset.X)
		if err != nil {
			return nil, err
		}
		y, err := quantize(i, "y", p.Y, h.Scale.Y, h.Offset.Y)
		if err != nil {
			return nil, err
		}
		z, err := quantize(i, "z", p.Z, h.Scale.Z, h.Offset.Z)
		if err != nil {
			return nil, err
		}

		col := c.Colors[i]
		records[i] = lasRecord{
			X:          x,
			Y:          y,
			Z:          z,
			ReturnBits: returnBits,
			R:          channelTo16(col.R),
			G:          channelTo16(col.G),
			B:          channelTo16(col.B),
		}

		lo.X, hi.X = math.Min(lo.X, float64(x)), math.Max(hi.X, float64(x))
		lo.Y, hi.Y = math.Min(lo.Y, float64(y)), math.Max(hi.Y, float64(y))
		lo.Z, hi.Z = math.Min(lo.Z, float64(z)), math.Max(hi.Z, float64(z))
	}

	hdr := newLASHeader(h, uint32(len(records)))
	hdr.MinX, hdr.MaxX = lo.X*h.Scale.X+h.Offset.X, hi.X*h.Scale.X+h.Offset.X
	hdr.MinY, hdr.MaxY = lo.Y*h.Scale.Y+h.Offset.Y, hi.Y*h.Scale.Y+h.Offset.Y
	hdr.MinZ, hdr.MaxZ = lo.Z*h.Scale.Z+h.Offset.Z, hi.Z*h.Scale.Z+h.Offset.Z

	var buf bytes.Buffer
	buf.Grow(HeaderSize + RecordSize*len(records))
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, records); err != nil {
		return nil, fmt.Errorf("writing point records: %w", err)
	}
	return buf.Bytes(), nil
}

// Encode writes the encoded cloud to w
func Encode(w io.Writer, c ColoredCloud, h EncodingHeader) error {
	data, err := Marshal(c, h)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing encoded cloud: %w", err)
	}
	return nil
}

// EncodeToTempFile encodes the cloud into a new file under dir (os.TempDir()
// when empty) and returns its path. The caller owns the file. On error no
// file is left behind.
func EncodeToTempFile(c ColoredCloud, h EncodingHeader, dir string) (path string, err error) {
	data, err := Marshal(c, h)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(dir, "lodmesh-*.las")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	path = f.Name()
	defer func() {
		err = multierr.Append(err, f.Close())
		if err != nil {
			_ = os.Remove(path)
			path = ""
		}
	}()

	if _, err = f.Write(data); err != nil {
		return path, fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func newLASHeader(h EncodingHeader, count uint32) lasHeader {
	hdr := lasHeader{
		Signature:      [4]byte{'L', 'A', 'S', 'F'},
		VersionMajor:   h.VersionMajor,
		VersionMinor:   h.VersionMinor,
		HeaderSize:     HeaderSize,
		OffsetToPoints: HeaderSize,
		PointFormat:    h.PointFormat,
		RecordLength:   RecordSize,
		PointCount:     count,
		XScale:         h.Scale.X,
		YScale:         h.Scale.Y,
		ZScale:         h.Scale.Z,
		XOffset:        h.Offset.X,
		YOffset:        h.Offset.Y,
		ZOffset:        h.Offset.Z,
	}
	hdr.PointsByReturn[0] = count
	copy(hdr.SystemID[:], h.SystemID)
	copy(hdr.Software[:], h.Software)
	return hdr
}

// quantize converts a world coordinate to its fixed-point integer
func quantize(index int, axis string, value, scale, offset float64) (int32, error) {
	v := math.Round((value - offset) / scale)
	if math.IsNaN(v) || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, &OverflowError{Index: index, Axis: axis, Value: value, Scale: scale}
	}
	return int32(v), nil
}

// channelTo16 converts a [0,1] channel to the full 16-bit range
func channelTo16(c float64) uint16 {
	v := math.Round(c * 65535)
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 65535:
		return 65535
	}
	return uint16(v)
}

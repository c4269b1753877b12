package cloud

import (
	"context"
	"fmt"
	"os"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultMinPoints is the smallest cloud the converter accepts
const DefaultMinPoints = 1

// ConvertResult is the outcome of a full conversion
type ConvertResult struct {
	BuildResult
	PointCount int       `json:"pointCount"`
	Centroid   r3.Vector `json:"centroid"`
	// Colored is the normalized, colored cloud that was encoded
	Colored ColoredCloud `json:"-"`
}

// Converter runs the whole pipeline: normalize, colorize, encode to a
// temporary file, build the pyramid, and remove the temporary file.
type Converter struct {
	Builder Builder
	Header  EncodingHeader
	// TempDir holds encoded files while the builder runs; os.TempDir() when empty
	TempDir   string
	MinPoints int
	Logger    *zap.SugaredLogger
	// OnTransition is forwarded to the orchestrator
	OnTransition TransitionFunc
}

// NewConverter creates a converter with the default header
func NewConverter(builder Builder, logger *zap.SugaredLogger) *Converter {
	return &Converter{
		Builder:   builder,
		Header:    DefaultHeader(),
		MinPoints: DefaultMinPoints,
		Logger:    orNop(logger),
	}
}

// Prepare normalizes and colorizes the cloud without touching the filesystem
func (c *Converter) Prepare(pc PointCloud) (ColoredCloud, r3.Vector, error) {
	minPoints := c.MinPoints
	if minPoints < 1 {
		minPoints = DefaultMinPoints
	}
	if pc.Len() < minPoints {
		return ColoredCloud{}, r3.Vector{}, fmt.Errorf("%w: %d points, need at least %d", ErrInvalidInput, pc.Len(), minPoints)
	}

	normalized, centroid, err := Normalize(pc)
	if err != nil {
		return ColoredCloud{}, r3.Vector{}, err
	}
	colored, err := Colorize(normalized)
	if err != nil {
		return ColoredCloud{}, r3.Vector{}, err
	}
	return colored, centroid, nil
}

// Convert turns pc into an LOD pyramid at destination. Any previous content of
// destination is replaced. The caller's cloud is not modified.
//
// The temporary encoded file is removed on every path. A failure to remove it
// is combined with the primary error when the build failed, or reported in
// the result's CleanupErr when it succeeded.
func (c *Converter) Convert(ctx context.Context, pc PointCloud, destination string) (res ConvertResult, err error) {
	logger := orNop(c.Logger)
	res.State = StateIdle
	res.Destination = destination
	res.PointCount = pc.Len()

	colored, centroid, err := c.Prepare(pc)
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	res.Centroid = centroid
	res.Colored = colored

	header := c.Header
	if header == (EncodingHeader{}) {
		header = DefaultHeader()
	}
	encoded, err := EncodeToTempFile(colored, header, c.TempDir)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("encoding point cloud: %w", err)
	}
	logger.Debugw("encoded point cloud", "path", encoded, "points", colored.Len(), "centroid", centroid)

	defer func() {
		cleanupErr := removeTemp(encoded)
		if cleanupErr == nil {
			return
		}
		logger.Warnw("could not remove encoded file", "path", encoded, "error", cleanupErr)
		if err != nil {
			err = multierr.Append(err, cleanupErr)
			return
		}
		res.CleanupErr = cleanupErr
	}()

	orch := &Orchestrator{Builder: c.Builder, Logger: logger, OnTransition: c.OnTransition}
	build, err := orch.Build(ctx, encoded, destination)
	res.BuildResult = build
	return res, err
}

func removeTemp(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &CleanupError{Path: path, Err: err}
	}
	return nil
}

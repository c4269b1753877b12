package cloud

import (
	"fmt"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Viewer defaults
const (
	DefaultPointSize     = 1.0
	DefaultViewerHeight  = 600
	DefaultFOV           = 75.0
	DefaultFaceColor     = "#00ff00"
	DefaultLineColor     = "#ffffff"
	DefaultBoxOpacity    = 0.3
	DefaultGridDivisions = 10

	CameraPerspective  = "perspective"
	CameraOrthographic = "orthographic"

	ControlsOrbit   = "orbit"
	ControlsArcball = "arcball"

	PlacementOrigin = "origin"
	PlacementCenter = "center"
	PlacementNone   = "none"
)

// DefaultBackground is sky blue
var DefaultBackground = [3]float64{0.529, 0.808, 0.922}

// CameraConfig positions the viewer camera
type CameraConfig struct {
	Position      *[3]float64 `json:"position,omitempty" yaml:"position,omitempty"`
	LookAt        *[3]float64 `json:"look_at,omitempty" yaml:"lookAt,omitempty"`
	Up            *[3]float64 `json:"up,omitempty" yaml:"up,omitempty"`
	FOV           float64     `json:"fov,omitempty" yaml:"fov,omitempty"`
	Type          string      `json:"type,omitempty" yaml:"type,omitempty"`
	Controls      string      `json:"controls,omitempty" yaml:"controls,omitempty"`
	ViewportGizmo *bool       `json:"viewport_gizmo,omitempty" yaml:"viewportGizmo,omitempty"`
	ArcballGizmo  *bool       `json:"arcball_gizmo,omitempty" yaml:"arcballGizmo,omitempty"`
}

// BoxStyle is the appearance of an overlay box
type BoxStyle struct {
	FaceColor string   `json:"face_color,omitempty" yaml:"faceColor,omitempty"`
	LineColor string   `json:"line_color,omitempty" yaml:"lineColor,omitempty"`
	Opacity   *float64 `json:"opacity,omitempty" yaml:"opacity,omitempty"`
}

// Box is an axis-aligned overlay box in viewer coordinates
type Box struct {
	BoxStyle `yaml:",inline"`

	Min [3]float64 `json:"min" yaml:"min"`
	Max [3]float64 `json:"max" yaml:"max"`
}

// GridStyle extends BoxStyle with the number of grid divisions per face
type GridStyle struct {
	BoxStyle `yaml:",inline"`

	Divisions int `json:"divisions,omitempty" yaml:"divisions,omitempty"`
}

// GridBox is a box drawn with grid lines on its faces
type GridBox struct {
	Min   [3]float64 `json:"min" yaml:"min"`
	Max   [3]float64 `json:"max" yaml:"max"`
	Style GridStyle  `json:"style" yaml:"style"`
}

// ViewerConfig is the payload handed to the browser viewer. Zero fields mean
// "use the default"; Resolve fills them in.
type ViewerConfig struct {
	BaseURL    string       `json:"base_url" yaml:"baseUrl,omitempty"`
	PointSize  float64      `json:"point_size,omitempty" yaml:"pointSize,omitempty"`
	Height     int          `json:"height,omitempty" yaml:"height,omitempty"`
	Camera     CameraConfig `json:"camera" yaml:"camera,omitempty"`
	Background *[3]float64  `json:"background,omitempty" yaml:"background,omitempty"`
	Boxes      []Box        `json:"boxes,omitempty" yaml:"boxes,omitempty"`
	GridBox    *GridBox     `json:"grid_box,omitempty" yaml:"gridBox,omitempty"`
	Placement  string       `json:"placement,omitempty" yaml:"placement,omitempty"`
}

// Resolve returns a copy with every absent field set to its default
func (v ViewerConfig) Resolve() ViewerConfig {
	out := v
	if out.PointSize == 0 {
		out.PointSize = DefaultPointSize
	}
	if out.Height == 0 {
		out.Height = DefaultViewerHeight
	}
	if out.Placement == "" {
		out.Placement = PlacementOrigin
	}
	out.Background = vec3Or(v.Background, DefaultBackground)

	cam := v.Camera
	cam.Position = vec3Or(cam.Position, [3]float64{0, 0, 5})
	cam.LookAt = vec3Or(cam.LookAt, [3]float64{0, 0, 0})
	cam.Up = vec3Or(cam.Up, [3]float64{0, 1, 0})
	if cam.FOV == 0 {
		cam.FOV = DefaultFOV
	}
	if cam.Type == "" {
		cam.Type = CameraPerspective
	}
	if cam.Controls == "" {
		cam.Controls = ControlsOrbit
	}
	cam.ViewportGizmo = boolOr(cam.ViewportGizmo, false)
	cam.ArcballGizmo = boolOr(cam.ArcballGizmo, false)
	out.Camera = cam

	if v.Boxes != nil {
		out.Boxes = make([]Box, len(v.Boxes))
		for i, b := range v.Boxes {
			b.BoxStyle = b.BoxStyle.resolve()
			out.Boxes[i] = b
		}
	}
	if v.GridBox != nil {
		g := *v.GridBox
		g.Style.BoxStyle = g.Style.BoxStyle.resolve()
		if g.Style.Divisions == 0 {
			g.Style.Divisions = DefaultGridDivisions
		}
		out.GridBox = &g
	}
	return out
}

func (s BoxStyle) resolve() BoxStyle {
	if s.FaceColor == "" {
		s.FaceColor = DefaultFaceColor
	}
	if s.LineColor == "" {
		s.LineColor = DefaultLineColor
	}
	if s.Opacity == nil {
		o := DefaultBoxOpacity
		s.Opacity = &o
	}
	return s
}

// Validate checks enums, colors, ranges, and box extents. Absent fields are
// accepted since Resolve supplies them.
func (v ViewerConfig) Validate() error {
	if v.PointSize < 0 {
		return fmt.Errorf("%w: point_size must be positive, got %g", ErrInvalidInput, v.PointSize)
	}
	if v.Height < 0 {
		return fmt.Errorf("%w: height must be positive, got %d", ErrInvalidInput, v.Height)
	}
	if v.Camera.FOV < 0 || v.Camera.FOV >= 180 {
		return fmt.Errorf("%w: camera fov must be in (0,180), got %g", ErrInvalidInput, v.Camera.FOV)
	}
	switch v.Camera.Type {
	case "", CameraPerspective, CameraOrthographic:
	default:
		return fmt.Errorf("%w: unknown camera type %q", ErrInvalidInput, v.Camera.Type)
	}
	switch v.Camera.Controls {
	case "", ControlsOrbit, ControlsArcball:
	default:
		return fmt.Errorf("%w: unknown camera controls %q", ErrInvalidInput, v.Camera.Controls)
	}
	switch v.Placement {
	case "", PlacementOrigin, PlacementCenter, PlacementNone:
	default:
		return fmt.Errorf("%w: unknown placement %q", ErrInvalidInput, v.Placement)
	}
	if bg := v.Background; bg != nil {
		for _, c := range bg {
			if c < 0 || c > 1 {
				return fmt.Errorf("%w: background channels must be in [0,1], got %v", ErrInvalidInput, *bg)
			}
		}
	}

	for i, b := range v.Boxes {
		if err := validateExtent(b.Min, b.Max); err != nil {
			return fmt.Errorf("boxes[%d]: %w", i, err)
		}
		if err := b.BoxStyle.validate(); err != nil {
			return fmt.Errorf("boxes[%d]: %w", i, err)
		}
	}
	if g := v.GridBox; g != nil {
		if err := validateExtent(g.Min, g.Max); err != nil {
			return fmt.Errorf("grid_box: %w", err)
		}
		if err := g.Style.BoxStyle.validate(); err != nil {
			return fmt.Errorf("grid_box: %w", err)
		}
		if g.Style.Divisions < 0 {
			return fmt.Errorf("grid_box: %w: divisions must be positive, got %d", ErrInvalidInput, g.Style.Divisions)
		}
	}
	return nil
}

func (s BoxStyle) validate() error {
	for _, c := range []string{s.FaceColor, s.LineColor} {
		if c == "" {
			continue
		}
		if _, err := colorful.Hex(c); err != nil {
			return fmt.Errorf("%w: color %q is not #rrggbb", ErrInvalidInput, c)
		}
	}
	if s.Opacity != nil && (*s.Opacity < 0 || *s.Opacity > 1) {
		return fmt.Errorf("%w: opacity must be in [0,1], got %g", ErrInvalidInput, *s.Opacity)
	}
	return nil
}

func validateExtent(lo, hi [3]float64) error {
	for axis := range lo {
		if lo[axis] > hi[axis] {
			return fmt.Errorf("%w: min %s %g exceeds max %g", ErrInvalidInput, axisName(axis), lo[axis], hi[axis])
		}
	}
	return nil
}

func vec3Or(v *[3]float64, def [3]float64) *[3]float64 {
	if v != nil {
		c := *v
		return &c
	}
	return &def
}

func boolOr(b *bool, def bool) *bool {
	if b != nil {
		c := *b
		return &c
	}
	return &def
}

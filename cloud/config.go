package cloud

import (
	"github.com/golang/geo/r3"
)

// Config is the on-disk configuration (config.yaml)
type Config struct {
	Builder  BuilderConfig  `yaml:"builder" json:"builder"`
	Encoding EncodingConfig `yaml:"encoding" json:"encoding"`
	Output   OutputConfig   `yaml:"output" json:"output"`
	HTTP     HTTPConfig     `yaml:"http" json:"http"`
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Viewer   ViewerConfig   `yaml:"viewer,omitempty" json:"viewer,omitempty"`
}

// BuilderConfig selects the external pyramid builder
type BuilderConfig struct {
	Path      string   `yaml:"path" json:"path"`
	ExtraArgs []string `yaml:"extraArgs,omitempty" json:"extraArgs,omitempty"`
}

// EncodingConfig holds fixed-point encoding parameters
type EncodingConfig struct {
	Scale     *[3]float64 `yaml:"scale,flow,omitempty" json:"scale,omitempty"`
	Offset    [3]float64  `yaml:"offset,flow" json:"offset"`
	MinPoints int         `yaml:"minPoints" json:"minPoints"`
	TempDir   string      `yaml:"tempDir,omitempty" json:"tempDir,omitempty"`
}

// OutputConfig is where named pyramids are written and served from
type OutputConfig struct {
	Root string `yaml:"root" json:"root"`
}

// HTTPConfig holds the service listener settings
type HTTPConfig struct {
	Port           int      `yaml:"port" json:"port"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty" json:"allowedOrigins,omitempty"`
}

// MQTTConfig holds MQTT connection settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
}

// Defaults for fields left out of config.yaml
const (
	DefaultOutputRoot    = "./pointclouds"
	DefaultHTTPPort      = 8080
	DefaultPublishPrefix = "lodmesh"
	DefaultClientID      = "lodmesh"
)

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Builder.Path == "" {
		c.Builder.Path = DefaultBuilderPath
	}
	if c.Encoding.Scale == nil {
		c.Encoding.Scale = &[3]float64{DefaultScale, DefaultScale, DefaultScale}
	}
	if c.Encoding.MinPoints == 0 {
		c.Encoding.MinPoints = DefaultMinPoints
	}
	if c.Output.Root == "" {
		c.Output.Root = DefaultOutputRoot
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"*"}
	}
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = DefaultPublishPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
}

// Header returns the encoding header described by the configuration
func (c *Config) Header() EncodingHeader {
	h := DefaultHeader()
	if s := c.Encoding.Scale; s != nil {
		h.Scale = r3.Vector{X: s[0], Y: s[1], Z: s[2]}
	}
	h.Offset = r3.Vector{X: c.Encoding.Offset[0], Y: c.Encoding.Offset[1], Z: c.Encoding.Offset[2]}
	return h
}

package cloud

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the configuration from a YAML file, fills in defaults,
// applies environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.applyDefaults()
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides configuration values from the environment:
// LODMESH_BUILDER, LODMESH_OUTPUT_ROOT, LODMESH_HTTP_PORT, LODMESH_TEMP_DIR,
// MQTT_BROKER, MQTT_CLIENT_ID, MQTT_USERNAME, MQTT_PASSWORD and
// MQTT_PUBLISH_PREFIX.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("LODMESH_BUILDER", &c.Builder.Path)
	str("LODMESH_OUTPUT_ROOT", &c.Output.Root)
	str("LODMESH_TEMP_DIR", &c.Encoding.TempDir)
	str("MQTT_BROKER", &c.MQTT.Broker)
	str("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	str("MQTT_USERNAME", &c.MQTT.Username)
	str("MQTT_PASSWORD", &c.MQTT.Password)
	str("MQTT_PUBLISH_PREFIX", &c.MQTT.PublishPrefix)

	if v, ok := lookup("LODMESH_HTTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LODMESH_HTTP_PORT: %w", err)
		}
		c.HTTP.Port = port
	}
	return nil
}

// Validate checks the configuration after defaults are applied
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Builder.Path) == "" {
		return fmt.Errorf("builder.path is required")
	}
	if err := c.Header().Validate(); err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	if c.Encoding.MinPoints < 1 {
		return fmt.Errorf("encoding.minPoints must be at least 1, got %d", c.Encoding.MinPoints)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be in 1-65535, got %d", c.HTTP.Port)
	}
	if c.MQTT.Broker != "" && strings.ContainsAny(c.MQTT.PublishPrefix, "+#") {
		return fmt.Errorf("mqtt.publishPrefix must not contain wildcards: %q", c.MQTT.PublishPrefix)
	}
	if err := c.Viewer.Validate(); err != nil {
		return fmt.Errorf("viewer: %w", err)
	}
	return nil
}

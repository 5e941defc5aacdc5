package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig is the content of runtime.yaml.
type RuntimeConfig struct {
	Version int `yaml:"version"`
	Package struct {
		ID      string `yaml:"id"`
		Name    string `yaml:"name"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"package"`
	SceneService struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"scene_service"`
	Runtime struct {
		Workers         int           `yaml:"workers"`
		StreamingPeriod time.Duration `yaml:"streaming_period"`
		StartPaused     bool          `yaml:"start_paused"`
		Breakpoints     []string      `yaml:"breakpoints"`
	} `yaml:"runtime"`
	Control struct {
		Stdin bool `yaml:"stdin"`
		MQTT  bool `yaml:"mqtt"`
	} `yaml:"control"`
	Telemetry struct {
		MQTT bool `yaml:"mqtt"`
	} `yaml:"telemetry"`
	MQTT struct {
		Broker   string `yaml:"broker"`
		ClientID string `yaml:"client_id"`
	} `yaml:"mqtt"`
	Storage struct {
		// Driver is "postgres", "sqlite" or empty for no journal.
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
	} `yaml:"storage"`
	API struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"api"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *RuntimeConfig {
	var c RuntimeConfig
	c.Version = 1
	c.Package.DataDir = "."
	c.SceneService.URL = "http://0.0.0.0:5013"
	c.SceneService.Timeout = 10 * time.Second
	c.Runtime.StreamingPeriod = 100 * time.Millisecond
	c.Control.Stdin = true
	c.API.Port = 8080
	c.Logging.Level = "info"
	c.Logging.Format = "text"
	return &c
}

// APIPort returns the configured API port, defaulting to 8080 if not set.
func (c *RuntimeConfig) APIPort() int {
	if c.API.Port == 0 {
		return 8080
	}
	return c.API.Port
}

// LoadRuntimeConfig reads path over the defaults. An empty path yields
// the defaults. Environment overrides are applied in both cases.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, err
		}
		if cfg.Version != 1 {
			return nil, fmt.Errorf("unsupported runtime.yaml version: %d", cfg.Version)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides values from ARCOR2_SCENE_SERVICE_URL,
// ARCOR2_STREAMING_PERIOD (seconds or a duration) and MQTT_URL.
func (c *RuntimeConfig) ApplyEnv() error {
	if v := os.Getenv("ARCOR2_SCENE_SERVICE_URL"); v != "" {
		c.SceneService.URL = v
	}
	if v := os.Getenv("ARCOR2_STREAMING_PERIOD"); v != "" {
		d, err := parsePeriod(v)
		if err != nil {
			return fmt.Errorf("invalid ARCOR2_STREAMING_PERIOD: %w", err)
		}
		c.Runtime.StreamingPeriod = d
	}
	if v := os.Getenv("MQTT_URL"); v != "" {
		c.MQTT.Broker = v
	}
	return nil
}

func parsePeriod(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// Validate checks value ranges.
func (c *RuntimeConfig) Validate() error {
	switch c.Storage.Driver {
	case "", "postgres":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging format: %q", c.Logging.Format)
	}
	if c.Runtime.Workers < 0 {
		return fmt.Errorf("runtime.workers must not be negative")
	}
	if c.Runtime.StreamingPeriod < 0 {
		return fmt.Errorf("runtime.streaming_period must not be negative")
	}
	if (c.Control.MQTT || c.Telemetry.MQTT) && c.Package.ID == "" {
		return fmt.Errorf("package.id is required for mqtt topics")
	}
	return nil
}

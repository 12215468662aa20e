// Package config loads the iap2accessoryd daemon's YAML configuration.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's top-level configuration.
type Config struct {
	Link        LinkConfig        `yaml:"link"`
	Transports  []TransportEntry  `yaml:"transports"`
	Coprocessor CoprocessorConfig `yaml:"coprocessor"`
	Trace       TraceConfig       `yaml:"trace"`
	Data        DataConfig        `yaml:"data"`
	Server      ServerConfig      `yaml:"server"`
}

// TransportEntry statically configures one accessory link slot; entries
// can also be added at runtime through transportregistry.
type TransportEntry struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"` // device path or address
	Kind string `yaml:"kind"` // "serial", "usb", "bluetooth"
}

// LinkConfig tunes the link-layer engine shared by every session.
type LinkConfig struct {
	MaxOutgoing     byte          `yaml:"max_outgoing"`
	HealthCheckIdle time.Duration `yaml:"health_check_idle"`
}

// CoprocessorConfig selects where the MFi authentication coprocessor is
// attached. An empty DevicePath means identification runs against a
// coprocessor.Mock instead of real hardware.
type CoprocessorConfig struct {
	DevicePath string `yaml:"device_path"`
	Address    int    `yaml:"address"`
}

// TraceConfig controls control-session trace-log persistence.
type TraceConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// DataConfig is where analytics and the transport cache persist state.
type DataConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the diagnostic HTTP API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Load reads and parses path, applying defaults for anything the file
// leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Link: LinkConfig{
			MaxOutgoing:     4,
			HealthCheckIdle: 90 * time.Second,
		},
		Trace: TraceConfig{
			Path:          "/data/trace",
			RetentionDays: 30,
		},
		Data: DataConfig{
			Path: "/data",
		},
		Server: ServerConfig{
			Port: 8080,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

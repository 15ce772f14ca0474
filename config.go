package mqtt

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Note: struct fields must be public in order for unmarshal to
// correctly populate the data.
type Config struct {
	Server struct {
		// Options contains configurable options for the server.
		Options `yaml:"options"`
	} `yaml:"server"`
}

// Load reads and validates broker options from a YAML config file. An
// empty path returns nil, nil so callers can fall back to New's defaults.
func Load(p string) (*Options, error) {
	if p == "" {
		slog.Default().Debug("no file path provided")
		return nil, nil
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}

	config := new(Config)
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	opts := &config.Server.Options
	opts.ensureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return opts, nil
}

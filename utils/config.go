package utils

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	ResolutionModeDatetime = "datetime"
	ResolutionModePriority = "priority"
)

// DefaultAreaEpsilon is the minimum area a geometry fragment must have to
// survive; anything smaller is treated as a sliver and discarded.
const DefaultAreaEpsilon = 1e-9

// Config carries the externally supplied resolution parameters. The two
// resolution modes are mutually exclusive; the mode field selects one.
type Config struct {
	ResolutionMode string `yaml:"resolution_mode" json:"resolution_mode"`
	// DatetimeFields maps source layer name to the attribute holding the
	// survey timestamp. Layers missing from the map get field auto-detection.
	DatetimeFields map[string]string `yaml:"datetime_fields" json:"datetime_fields"`
	// PriorityOrder lists source layers most authoritative first.
	PriorityOrder []string `yaml:"priority_order" json:"priority_order"`
	AreaEpsilon   float64  `yaml:"area_epsilon" json:"area_epsilon"`
	// Precision is the coordinate decimal precision applied to geometry the
	// pass produces. Untouched input geometry is never re-quantized.
	Precision int `yaml:"precision" json:"precision"`
	// OutputFormat selects the export encoding: "geojson" or "shapefile".
	OutputFormat string `yaml:"output_format" json:"output_format"`
}

// ConfigurationError is fatal and raised before any index construction.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// LoadConfig reads a YAML config file and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML config bytes and validates them.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid config: %v", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies defaults and rejects configs the engine cannot run with.
func (c *Config) Validate() error {
	switch c.ResolutionMode {
	case ResolutionModeDatetime:
		// Field mapping is optional, auto-detection covers unmapped layers
	case ResolutionModePriority:
		if len(c.PriorityOrder) == 0 {
			return &ConfigurationError{Reason: "priority mode requires a non-empty priority_order"}
		}
		seen := make(map[string]bool)
		for _, layer := range c.PriorityOrder {
			if layer == "" {
				return &ConfigurationError{Reason: "priority_order contains an empty layer name"}
			}
			if seen[layer] {
				return &ConfigurationError{Reason: fmt.Sprintf("priority_order lists layer %q twice", layer)}
			}
			seen[layer] = true
		}
	case "":
		return &ConfigurationError{Reason: "resolution_mode is required"}
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown resolution_mode %q", c.ResolutionMode)}
	}

	if c.AreaEpsilon < 0 {
		return &ConfigurationError{Reason: "area_epsilon must not be negative"}
	}
	if c.AreaEpsilon == 0 {
		c.AreaEpsilon = DefaultAreaEpsilon
	}

	if c.Precision < 0 {
		return &ConfigurationError{Reason: "precision must not be negative"}
	}
	if c.Precision == 0 {
		c.Precision = DefaultPrecision
	}

	switch c.OutputFormat {
	case "":
		c.OutputFormat = "geojson"
	case "geojson", "shapefile":
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown output_format %q", c.OutputFormat)}
	}

	return nil
}

// LayerPriority returns a layer's rank in the priority order, lower is more
// authoritative. Layers absent from the order rank after all listed layers.
func (c *Config) LayerPriority(layer string) int {
	for i, name := range c.PriorityOrder {
		if name == layer {
			return i
		}
	}
	return len(c.PriorityOrder)
}

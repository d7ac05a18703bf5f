package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("resolution_mode: datetime\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.AreaEpsilon != DefaultAreaEpsilon {
		t.Errorf("AreaEpsilon = %v, want default %v", cfg.AreaEpsilon, DefaultAreaEpsilon)
	}
	if cfg.Precision != DefaultPrecision {
		t.Errorf("Precision = %d, want default %d", cfg.Precision, DefaultPrecision)
	}
	if cfg.OutputFormat != "geojson" {
		t.Errorf("OutputFormat = %q, want geojson", cfg.OutputFormat)
	}
}

func TestParseConfigAcceptsJSON(t *testing.T) {
	// JSON is valid YAML, so JSON configs go through the same parser
	data := []byte(`{"resolution_mode": "priority", "priority_order": ["roads", "parcels"]}`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig failed on JSON input: %v", err)
	}
	if cfg.ResolutionMode != ResolutionModePriority {
		t.Errorf("ResolutionMode = %q, want priority", cfg.ResolutionMode)
	}
	if len(cfg.PriorityOrder) != 2 || cfg.PriorityOrder[0] != "roads" {
		t.Errorf("PriorityOrder = %v, want [roads parcels]", cfg.PriorityOrder)
	}
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing mode", "area_epsilon: 0.1\n", "resolution_mode is required"},
		{"unknown mode", "resolution_mode: newest\n", "unknown resolution_mode"},
		{"priority without order", "resolution_mode: priority\n", "non-empty priority_order"},
		{"duplicate priority layer", "resolution_mode: priority\npriority_order: [a, b, a]\n", "twice"},
		{"empty priority layer", "resolution_mode: priority\npriority_order: [a, \"\"]\n", "empty layer name"},
		{"negative epsilon", "resolution_mode: datetime\narea_epsilon: -1\n", "must not be negative"},
		{"negative precision", "resolution_mode: datetime\nprecision: -2\n", "must not be negative"},
		{"unknown output format", "resolution_mode: datetime\noutput_format: kml\n", "unknown output_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected a configuration error")
			}
			if _, ok := err.(*ConfigurationError); !ok {
				t.Fatalf("error type %T, want *ConfigurationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolve.yaml")
	data := []byte("resolution_mode: priority\npriority_order: [cadastre, legacy]\narea_epsilon: 0.001\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing config fixture failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.ResolutionMode != ResolutionModePriority {
		t.Errorf("ResolutionMode = %q, want priority", cfg.ResolutionMode)
	}
	if cfg.AreaEpsilon != 0.001 {
		t.Errorf("AreaEpsilon = %v, want 0.001", cfg.AreaEpsilon)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadConfig on a missing file should fail")
	}
}

func TestLayerPriority(t *testing.T) {
	cfg := &Config{
		ResolutionMode: ResolutionModePriority,
		PriorityOrder:  []string{"cadastre", "survey", "legacy"},
	}

	if got := cfg.LayerPriority("cadastre"); got != 0 {
		t.Errorf("LayerPriority(cadastre) = %d, want 0", got)
	}
	if got := cfg.LayerPriority("legacy"); got != 2 {
		t.Errorf("LayerPriority(legacy) = %d, want 2", got)
	}
	// Layers missing from the order rank after every listed layer
	if got := cfg.LayerPriority("unlisted"); got != 3 {
		t.Errorf("LayerPriority(unlisted) = %d, want 3", got)
	}
}

func TestDatetimeFieldsMappingIsOptional(t *testing.T) {
	data := []byte("resolution_mode: datetime\ndatetime_fields:\n  parcels: survey_date\n")
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.DatetimeFields["parcels"] != "survey_date" {
		t.Errorf("DatetimeFields[parcels] = %q, want survey_date", cfg.DatetimeFields["parcels"])
	}
	// Unmapped layers fall through to auto-detection, so no error here
	if _, ok := cfg.DatetimeFields["roads"]; ok {
		t.Error("unexpected mapping for unmapped layer")
	}
}

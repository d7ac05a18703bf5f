package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twpayne/go-geos"
)

// Feature is one polygon feature normalized from an input layer.
// Identity is (SourceLayer, ID); IDs are only unique within their layer.
type Feature struct {
	SourceLayer string
	ID          string
	Geom        *geos.Geom
	// RawGeometry keeps the original GeoJSON geometry bytes so features that
	// come out of the pass untouched can be re-emitted byte-identical.
	RawGeometry json.RawMessage
	Attributes  map[string]interface{}
	// When is the parsed resolution timestamp (datetime mode only).
	When    time.Time
	HasWhen bool
	// Priority is the layer's rank in the configured priority order,
	// lower is more authoritative. Layers missing from the order rank last.
	Priority int
	// Trimmed is set when resolution replaced the geometry with a difference.
	Trimmed bool
}

// Key returns the global identity used for lookups and messages.
func (f *Feature) Key() string {
	return f.SourceLayer + "/" + f.ID
}

// Before orders features by source layer, then feature ID. Winner
// tie-breaking and loser emission use this order; it is not the same as
// comparing Key() strings, since a layer name can be a prefix of another.
func (f *Feature) Before(other *Feature) bool {
	if f.SourceLayer != other.SourceLayer {
		return f.SourceLayer < other.SourceLayer
	}
	return f.ID < other.ID
}

// FeatureStore holds all input features in load order. Entries are never
// removed; resolution replaces geometry on the entry for trimmed losers.
type FeatureStore struct {
	features []*Feature
	byKey    map[string]int
	// schemas preserves per-layer attribute field order, layers in load order.
	layerOrder []string
	schemas    map[string][]string
}

func NewFeatureStore() *FeatureStore {
	return &FeatureStore{
		features: make([]*Feature, 0),
		byKey:    make(map[string]int),
		schemas:  make(map[string][]string),
	}
}

// Add appends a feature and returns its store index. Duplicate
// (SourceLayer, ID) pairs are rejected so identity stays unambiguous.
func (fs *FeatureStore) Add(feature *Feature) (int, error) {
	key := feature.Key()
	if _, exists := fs.byKey[key]; exists {
		return -1, fmt.Errorf("duplicate feature identity %s", key)
	}

	index := len(fs.features)
	fs.features = append(fs.features, feature)
	fs.byKey[key] = index
	return index, nil
}

// RegisterSchema records a layer's attribute field order. First registration
// wins; layer order follows registration order.
func (fs *FeatureStore) RegisterSchema(layer string, fields []string) {
	if _, exists := fs.schemas[layer]; exists {
		return
	}
	fs.layerOrder = append(fs.layerOrder, layer)
	fs.schemas[layer] = fields
}

// Schema returns a layer's registered attribute field order.
func (fs *FeatureStore) Schema(layer string) []string {
	return fs.schemas[layer]
}

func (fs *FeatureStore) Len() int {
	return len(fs.features)
}

func (fs *FeatureStore) Feature(index int) *Feature {
	return fs.features[index]
}

func (fs *FeatureStore) Features() []*Feature {
	return fs.features
}

// SchemaUnion returns the union of all layer schemas, ordered by layer load
// order and field declaration order within each layer.
func (fs *FeatureStore) SchemaUnion() []string {
	seen := make(map[string]bool)
	union := make([]string, 0)

	for _, layer := range fs.layerOrder {
		for _, field := range fs.schemas[layer] {
			if !seen[field] {
				seen[field] = true
				union = append(union, field)
			}
		}
	}

	return union
}

// PropertyKeysInOrder extracts the attribute field names of a raw GeoJSON
// properties object in their literal declaration order. encoding/json maps
// lose key order, so the schema is recovered from the token stream.
func PropertyKeysInOrder(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	token, err := decoder.Token()
	if err != nil || token != json.Delim('{') {
		return nil
	}

	keys := make([]string, 0)
	for decoder.More() {
		token, err = decoder.Token()
		if err != nil {
			break
		}
		key, ok := token.(string)
		if !ok {
			break
		}
		keys = append(keys, key)

		// Decode and discard the value so nested object keys are skipped
		var skip json.RawMessage
		if err := decoder.Decode(&skip); err != nil {
			break
		}
	}

	return keys
}

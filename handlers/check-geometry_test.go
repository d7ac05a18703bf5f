package handlers

import (
	"testing"

	"github.com/bsaid97/go-overlap-resolver/utils"
)

func TestCheckGeometryReportsInvalidFeatures(t *testing.T) {
	bowtie := `{"type":"Polygon","coordinates":[[[0,0],[2,2],[2,0],[0,2],[0,0]]]}`

	layers := []utils.RawLayer{
		{Name: "clean", Data: layerJSON(featureJSON("1", squareA, `{}`))},
		{Name: "broken", Data: layerJSON(featureJSON("9", bowtie, `{}`))},
	}

	// The pre-flight loads without repair so invalid inputs stay visible
	store, _, err := LoadLayers(layers, nil, false, utils.NewResolutionController(nil))
	if err != nil {
		t.Fatalf("LoadLayers failed: %v", err)
	}

	issues := CheckGeometry(store)
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	if issues[0].SourceLayer != "broken" || issues[0].FeatureID != "9" {
		t.Errorf("issue identity = %s/%s, want broken/9", issues[0].SourceLayer, issues[0].FeatureID)
	}
	if issues[0].Reason == "" {
		t.Error("issue is missing the validity reason")
	}
}

func TestCheckGeometryReportsUnparseableGeometry(t *testing.T) {
	line := `{"type":"LineString","coordinates":[[0,0],[1,1]]}`

	layers := []utils.RawLayer{
		{Name: "mixed", Data: layerJSON(
			featureJSON("1", squareA, `{}`),
			featureJSON("2", line, `{}`),
		)},
	}

	// Without repair, features that fail to parse keep their identity in the
	// store so the report can name them
	store, _, err := LoadLayers(layers, nil, false, utils.NewResolutionController(nil))
	if err != nil {
		t.Fatalf("LoadLayers failed: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("store has %d features, want 2 (unparseable one kept)", store.Len())
	}

	issues := CheckGeometry(store)
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}
	if issues[0].SourceLayer != "mixed" || issues[0].FeatureID != "2" {
		t.Errorf("issue identity = %s/%s, want mixed/2", issues[0].SourceLayer, issues[0].FeatureID)
	}
}

func TestCheckGeometryCleanStore(t *testing.T) {
	layers := []utils.RawLayer{
		{Name: "clean", Data: layerJSON(featureJSON("1", squareA, `{}`), featureJSON("2", squareB, `{}`))},
	}

	store, _, err := LoadLayers(layers, nil, false, utils.NewResolutionController(nil))
	if err != nil {
		t.Fatalf("LoadLayers failed: %v", err)
	}

	if issues := CheckGeometry(store); len(issues) != 0 {
		t.Errorf("clean store reported issues: %v", issues)
	}
}

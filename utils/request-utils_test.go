package utils

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"testing"
)

func TestReadResolutionForm(t *testing.T) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for _, layer := range []struct{ filename, data string }{
		{"parcels_2021.geojson", `{"type":"FeatureCollection","features":[]}`},
		{"roads.json", `{"type":"FeatureCollection","features":[]}`},
	} {
		part, err := writer.CreateFormFile("layers", layer.filename)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		part.Write([]byte(layer.data))
	}

	writer.WriteField("config", "resolution_mode: datetime\n")
	writer.WriteField("filepath", "/tmp/out.zip")
	writer.WriteField("saveFile", "true")
	writer.Close()

	r := httptest.NewRequest("POST", "/resolve-overlaps", &body)
	r.Header.Set("Content-Type", writer.FormDataContentType())

	result, err := ReadResolutionForm(r)
	if err != nil {
		t.Fatalf("ReadResolutionForm failed: %v", err)
	}

	if len(result.Layers) != 2 {
		t.Fatalf("got %d layers, want 2", len(result.Layers))
	}
	// Layer names come from the filenames with the GeoJSON extension stripped
	if result.Layers[0].Name != "parcels_2021" {
		t.Errorf("first layer name = %q, want parcels_2021", result.Layers[0].Name)
	}
	if result.Layers[1].Name != "roads" {
		t.Errorf("second layer name = %q, want roads", result.Layers[1].Name)
	}

	if string(result.ConfigData) != "resolution_mode: datetime\n" {
		t.Errorf("config data = %q", result.ConfigData)
	}
	if result.Properties.FilePath != "/tmp/out.zip" || !result.Properties.SaveFile {
		t.Errorf("properties = %+v", result.Properties)
	}
}

func TestReadResolutionFormConfigFilePart(t *testing.T) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("config", "resolve.yaml")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	part.Write([]byte("resolution_mode: priority\npriority_order: [a]\n"))
	writer.Close()

	r := httptest.NewRequest("POST", "/resolve-overlaps", &body)
	r.Header.Set("Content-Type", writer.FormDataContentType())

	result, err := ReadResolutionForm(r)
	if err != nil {
		t.Fatalf("ReadResolutionForm failed: %v", err)
	}
	if !bytes.Contains(result.ConfigData, []byte("priority_order")) {
		t.Errorf("config file part was not read: %q", result.ConfigData)
	}
}

func TestLayerNameFromFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"parcels.geojson", "parcels"},
		{"roads.JSON", "roads"},
		{"surveys/2021.geojson", "2021"},
		{"plain", "plain"},
		{"data.csv", "data.csv"},
	}
	for _, tt := range tests {
		if got := layerNameFromFilename(tt.filename); got != tt.want {
			t.Errorf("layerNameFromFilename(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

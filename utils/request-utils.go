package utils

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"
)

// RawLayer is one uploaded layer: the GeoJSON payload plus the source layer
// name derived from the part's filename.
type RawLayer struct {
	Name string
	Data []byte
}

// MultipartResult carries everything a resolution request can supply through
// a multipart form: the layer files, the YAML config part, and save options.
type MultipartResult struct {
	Layers     []RawLayer
	ConfigData []byte
	Properties Properties
}

type Properties struct {
	FilePath string
	SaveFile bool
}

// ReadResolutionForm parses a multipart resolution request. Layer files are
// uploaded under the "layers" key (one part per source layer); the config is
// either a "config" file part or a "config" value.
func ReadResolutionForm(r *http.Request) (*MultipartResult, error) {
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		return nil, err
	}

	result := &MultipartResult{
		Layers: make([]RawLayer, 0),
	}

	for _, header := range r.MultipartForm.File["layers"] {
		file, err := header.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, err
		}

		result.Layers = append(result.Layers, RawLayer{
			Name: layerNameFromFilename(header.Filename),
			Data: data,
		})
	}

	for _, header := range r.MultipartForm.File["config"] {
		file, err := header.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, err
		}
		result.ConfigData = data
		break
	}

	for key, value := range r.MultipartForm.Value {
		if len(value) == 0 {
			continue
		}

		if key == "config" && len(result.ConfigData) == 0 {
			result.ConfigData = []byte(value[0])
		}

		if key == "filepath" {
			result.Properties.FilePath = value[0]
		}

		if key == "saveFile" {
			result.Properties.SaveFile = value[0] == "true"
		}
	}

	return result, nil
}

// layerNameFromFilename strips directory and extension so "surveys/2021.geojson"
// becomes the source layer identifier "2021".
func layerNameFromFilename(filename string) string {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	if strings.EqualFold(ext, ".json") || strings.EqualFold(ext, ".geojson") {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

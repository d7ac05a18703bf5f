package utils

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
)

// ExportFeature is one resolved feature ready for export. Geometry is GeoJSON
// bytes; attributes follow the declared schema union with missing fields
// null-filled at write time.
type ExportFeature struct {
	SourceLayer string
	ID          string
	Geometry    json.RawMessage
	Attributes  map[string]interface{}
}

// GeometryFromGeoJSON represents a simplified geometry structure for conversion
type GeometryFromGeoJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// sourceLayerField is the exported attribute carrying feature provenance,
// kept within the 10-character DBF field name limit.
const sourceLayerField = "src_layer"

// GenerateShapefileZip creates a zip holding the resolved set as both GeoJSON
// and an ESRI Shapefile. The schema is the ordered union of all input layer
// schemas; the provenance field is appended last.
func GenerateShapefileZip(jsonData []byte, features []ExportFeature, schema []string) ([]byte, error) {
	var zipBuffer bytes.Buffer
	zipWriter := zip.NewWriter(&zipBuffer)

	jsonFile, err := zipWriter.Create("resolved_overlaps.json")
	if err != nil {
		return nil, fmt.Errorf("failed to create JSON file in zip: %v", err)
	}
	if _, err = jsonFile.Write(jsonData); err != nil {
		return nil, fmt.Errorf("failed to write JSON data to zip: %v", err)
	}

	if err = addShapefileToZip(zipWriter, features, schema); err != nil {
		return nil, fmt.Errorf("failed to add shapefile to zip: %v", err)
	}

	if err = zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip writer: %v", err)
	}

	return zipBuffer.Bytes(), nil
}

// addShapefileToZip creates shapefile components and adds them to the zip
func addShapefileToZip(zipWriter *zip.Writer, features []ExportFeature, schema []string) error {
	tempDir, err := os.MkdirTemp("", "shapefile_")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	shapefilePath := filepath.Join(tempDir, "resolved_overlaps.shp")

	if err = GenerateShapefile(shapefilePath, features, schema); err != nil {
		return fmt.Errorf("failed to generate shapefile: %v", err)
	}

	extensions := []string{".shp", ".shx", ".dbf"}
	for _, ext := range extensions {
		filePath := strings.TrimSuffix(shapefilePath, ".shp") + ext

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			continue
		}

		fileContent, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read shapefile component %s: %v", ext, err)
		}

		zipFile, err := zipWriter.Create("resolved_overlaps" + ext)
		if err != nil {
			return fmt.Errorf("failed to create %s file in zip: %v", ext, err)
		}

		if _, err = zipFile.Write(fileContent); err != nil {
			return fmt.Errorf("failed to write %s data to zip: %v", ext, err)
		}
	}

	return nil
}

// GenerateShapefile writes the resolved polygon set to an ESRI Shapefile.
func GenerateShapefile(shapefilePath string, features []ExportFeature, schema []string) error {
	if len(features) == 0 {
		return fmt.Errorf("no features to write to shapefile")
	}

	shape, err := shp.Create(shapefilePath, shp.POLYGON)
	if err != nil {
		return fmt.Errorf("failed to create shapefile: %v", err)
	}
	defer shape.Close()

	fields := createFieldsFromSchema(features, schema)
	shape.SetFields(fields)

	fieldNames := append(append([]string{}, schema...), sourceLayerField)

	for i, feature := range features {
		var geom GeometryFromGeoJSON
		if err := json.Unmarshal(feature.Geometry, &geom); err != nil {
			fmt.Printf("Warning: failed to unmarshal geometry for feature %s/%s: %v\n",
				feature.SourceLayer, feature.ID, err)
			continue
		}

		if err := writeGeometryToShapefile(shape, &geom); err != nil {
			fmt.Printf("Warning: failed to write geometry for feature %s/%s: %v\n",
				feature.SourceLayer, feature.ID, err)
			continue
		}

		writeAttributesToShapefile(shape, feature, fields, fieldNames, i)
	}

	return nil
}

// createFieldsFromSchema builds DBF fields in declared schema order. Field
// types come from the first non-nil value seen for each field; fields with no
// values anywhere fall back to strings.
func createFieldsFromSchema(features []ExportFeature, schema []string) []shp.Field {
	fields := make([]shp.Field, 0, len(schema)+1)

	for _, name := range schema {
		var sample interface{}
		for _, feature := range features {
			if v, ok := feature.Attributes[name]; ok && v != nil {
				sample = v
				break
			}
		}

		// Limit field name to 10 characters (DBF limitation)
		fieldName := name
		if len(fieldName) > 10 {
			fieldName = fieldName[:10]
		}

		switch v := sample.(type) {
		case string:
			length := len(v)
			if length < 50 {
				length = 50
			}
			if length > 254 {
				length = 254
			}
			fields = append(fields, shp.StringField(fieldName, uint8(length)))
		case float64:
			fields = append(fields, shp.FloatField(fieldName, 15, 5))
		case int, int32, int64:
			fields = append(fields, shp.NumberField(fieldName, 15))
		case bool:
			fields = append(fields, shp.StringField(fieldName, 5))
		default:
			fields = append(fields, shp.StringField(fieldName, 100))
		}
	}

	fields = append(fields, shp.StringField(sourceLayerField, 100))
	return fields
}

// writeGeometryToShapefile converts GeoJSON geometry to shapefile format and writes it
func writeGeometryToShapefile(shape *shp.Writer, geom *GeometryFromGeoJSON) error {
	switch geom.Type {
	case "Polygon":
		return writePolygonGeometry(shape, geom)
	case "MultiPolygon":
		return writeMultiPolygonGeometry(shape, geom)
	default:
		return fmt.Errorf("unsupported geometry type: %s", geom.Type)
	}
}

// writePolygonGeometry writes a polygon geometry to shapefile
func writePolygonGeometry(shape *shp.Writer, geom *GeometryFromGeoJSON) error {
	var coords [][][]float64
	err := json.Unmarshal(geom.Coordinates, &coords)
	if err != nil {
		return fmt.Errorf("failed to unmarshal polygon coordinates: %v", err)
	}

	polygon := &shp.Polygon{}
	partIndex := int32(0)

	for _, ring := range coords {
		var points []shp.Point
		for _, coord := range ring {
			if len(coord) >= 2 {
				points = append(points, shp.Point{X: coord[0], Y: coord[1]})
			}
		}
		if len(points) > 0 {
			polygon.Parts = append(polygon.Parts, partIndex)
			polygon.Points = append(polygon.Points, points...)
			partIndex += int32(len(points))
		}
	}

	shape.Write(polygon)
	return nil
}

// writeMultiPolygonGeometry writes a multipolygon geometry to shapefile
func writeMultiPolygonGeometry(shape *shp.Writer, geom *GeometryFromGeoJSON) error {
	var coords [][][][]float64
	err := json.Unmarshal(geom.Coordinates, &coords)
	if err != nil {
		return fmt.Errorf("failed to unmarshal multipolygon coordinates: %v", err)
	}

	polygon := &shp.Polygon{}
	partIndex := int32(0)

	for _, poly := range coords {
		for _, ring := range poly {
			var points []shp.Point
			for _, coord := range ring {
				if len(coord) >= 2 {
					points = append(points, shp.Point{X: coord[0], Y: coord[1]})
				}
			}
			if len(points) > 0 {
				polygon.Parts = append(polygon.Parts, partIndex)
				polygon.Points = append(polygon.Points, points...)
				partIndex += int32(len(points))
			}
		}
	}

	shape.Write(polygon)
	return nil
}

// writeAttributesToShapefile writes the schema-union attributes of one
// feature. Missing fields are null-filled per the output contract.
func writeAttributesToShapefile(shape *shp.Writer, feature ExportFeature, fields []shp.Field, fieldNames []string, recordIndex int) {
	for i, field := range fields {
		name := fieldNames[i]

		var value interface{}
		if name == sourceLayerField {
			value = feature.SourceLayer
		} else {
			value = feature.Attributes[name]
		}

		if value == nil {
			switch field.Fieldtype {
			case 'N', 'F':
				shape.WriteAttribute(recordIndex, i, 0)
			default:
				shape.WriteAttribute(recordIndex, i, "")
			}
			continue
		}

		switch field.Fieldtype {
		case 'C':
			shape.WriteAttribute(recordIndex, i, fmt.Sprintf("%v", value))
		case 'N':
			if numVal, ok := value.(float64); ok {
				shape.WriteAttribute(recordIndex, i, int(numVal))
			} else if intVal, ok := value.(int); ok {
				shape.WriteAttribute(recordIndex, i, intVal)
			} else if strVal, ok := value.(string); ok {
				if parsedInt, err := strconv.Atoi(strVal); err == nil {
					shape.WriteAttribute(recordIndex, i, parsedInt)
				} else {
					shape.WriteAttribute(recordIndex, i, 0)
				}
			} else {
				shape.WriteAttribute(recordIndex, i, 0)
			}
		case 'F':
			if numVal, ok := value.(float64); ok {
				shape.WriteAttribute(recordIndex, i, numVal)
			} else if intVal, ok := value.(int); ok {
				shape.WriteAttribute(recordIndex, i, float64(intVal))
			} else if strVal, ok := value.(string); ok {
				if parsedFloat, err := strconv.ParseFloat(strVal, 64); err == nil {
					shape.WriteAttribute(recordIndex, i, parsedFloat)
				} else {
					shape.WriteAttribute(recordIndex, i, 0.0)
				}
			} else {
				shape.WriteAttribute(recordIndex, i, 0.0)
			}
		default:
			shape.WriteAttribute(recordIndex, i, fmt.Sprintf("%v", value))
		}
	}
}

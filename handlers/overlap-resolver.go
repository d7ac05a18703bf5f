package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"runtime"
	"strconv"

	"github.com/bsaid97/go-overlap-resolver/utils"
	"github.com/golang/geo/r2"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geos"
)

// Outcome is the terminal status of a resolution pass. Cancelled is a normal
// outcome, not an error.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// GroupFailure records one overlap group that had to be skipped. Its features
// are left untouched in the output.
type GroupFailure struct {
	Group  int    `json:"group"`
	Reason string `json:"reason"`
}

// ResolveReport summarizes a pass for the caller.
type ResolveReport struct {
	Outcome         Outcome        `json:"outcome"`
	FailureReason   string         `json:"failureReason,omitempty"`
	TotalFeatures   int            `json:"totalFeatures"`
	GroupsTotal     int            `json:"groupsTotal"`
	GroupsResolved  int            `json:"groupsResolved"`
	FeaturesTrimmed int            `json:"featuresTrimmed"`
	Skipped         []GroupFailure `json:"skipped,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// FailureReport describes a pass that could not run at all; per-group
// failures report as Skipped on a completed pass instead.
func FailureReport(err error) ResolveReport {
	return ResolveReport{Outcome: OutcomeFailed, FailureReason: err.Error()}
}

// OutputFeature carries geometry and properties as raw JSON so untouched
// features round-trip byte-identical and attribute order follows the
// declared schema.
type OutputFeature struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

type OutputCollection struct {
	Type     string          `json:"type"`
	Features []OutputFeature `json:"features"`
}

// ResolveResult is the materialized resolved feature set plus the report.
type ResolveResult struct {
	Collection OutputCollection
	Features   []utils.ExportFeature
	Schema     []string
	Report     ResolveReport
}

// rawFeature/rawCollection mirror just enough GeoJSON to keep geometry and
// properties as raw bytes; exact geometry decoding goes through go-geom.
type rawFeature struct {
	Type       string          `json:"type"`
	ID         interface{}     `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties json.RawMessage `json:"properties"`
}

type rawCollection struct {
	Type     string       `json:"type"`
	Features []rawFeature `json:"features"`
}

// ResolveOverlaps runs the full pass: load layers, build the spatial index,
// detect overlap groups, resolve each group, and assemble the resolved
// feature set. The controller receives progress and may cancel between
// groups; at most the current group's work is wasted.
func ResolveOverlaps(layers []utils.RawLayer, cfg *utils.Config, ctrl *utils.ResolutionController) (*ResolveResult, error) {
	if cfg == nil {
		return nil, &utils.ConfigurationError{Reason: "config is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return nil, &utils.ConfigurationError{Reason: "no input layers supplied"}
	}

	log.Printf("=== Overlap resolution started: %d layers, mode %s ===", len(layers), cfg.ResolutionMode)

	store, warnings, err := LoadLayers(layers, cfg, true, ctrl)
	if err != nil {
		return nil, err
	}

	report := ResolveReport{
		Outcome:       OutcomeCompleted,
		TotalFeatures: store.Len(),
		Warnings:      warnings,
	}

	// Index construction: bulk load of every feature envelope. The index is
	// read-only from here on.
	index := buildIndex(store)
	log.Printf("Indexed %d features (grid cells sized from median envelope)", index.Len())

	groups, cancelled := DetectOverlapGroups(store, index, cfg.AreaEpsilon, ctrl)
	report.GroupsTotal = len(groups)
	log.Printf("Detected %d overlap groups", len(groups))

	if cancelled {
		report.Outcome = OutcomeCancelled
		result := assembleResult(store, report)
		return result, nil
	}

	tracker := utils.NewProgressTracker(int64(len(groups)), "Resolving overlap groups", ctrl)
	for gi, group := range groups {
		if ctrl.IsCancelled() {
			report.Outcome = OutcomeCancelled
			break
		}

		results, err := ResolveGroup(store, group, cfg)
		if err != nil {
			// The group's features stay untouched; the pass continues
			log.Printf("Skipping group %d: %v", gi, err)
			report.Skipped = append(report.Skipped, GroupFailure{Group: gi, Reason: err.Error()})
			tracker.Increment()
			continue
		}

		applyResults(store, results)
		report.GroupsResolved++
		tracker.Increment()
	}

	result := assembleResult(store, report)
	log.Printf("=== Overlap resolution %s: %d/%d groups resolved, %d skipped ===",
		report.Outcome, report.GroupsResolved, report.GroupsTotal, len(report.Skipped))
	return result, nil
}

// ResolveOverlapsWithShapefile runs the pass and packages the resolved set as
// a zip holding both GeoJSON and an ESRI Shapefile.
func ResolveOverlapsWithShapefile(layers []utils.RawLayer, cfg *utils.Config, ctrl *utils.ResolutionController) ([]byte, *ResolveReport, error) {
	result, err := ResolveOverlaps(layers, cfg, ctrl)
	if err != nil {
		return nil, nil, err
	}

	jsonData, err := json.Marshal(result.Collection)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal resolved collection: %v", err)
	}

	zipData, err := utils.GenerateShapefileZip(jsonData, result.Features, result.Schema)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate shapefile zip: %v", err)
	}

	return zipData, &result.Report, nil
}

// ParsingJob carries one feature's geometry bytes into the worker pool.
type ParsingJob struct {
	GlobalIndex int
	SourceLayer string
	FeatureID   string
	Geometry    json.RawMessage
}

// ParsingResult is the parsed GEOS geometry or the reason it was rejected.
type ParsingResult struct {
	GlobalIndex int
	Geom        *geos.Geom
	WasRepaired bool
	Error       error
}

// LoadLayers normalizes all input layers into a FeatureStore: geometry
// decoded and validated, attributes kept as loaded, and the resolution key
// parsed according to the config. With repairInvalid set, invalid inputs are
// repaired and unrepairable ones dropped with a warning; without it invalid
// geometry is kept as-is so the pre-flight check can report it. A nil config
// loads geometry and attributes only.
func LoadLayers(layers []utils.RawLayer, cfg *utils.Config, repairInvalid bool, ctrl *utils.ResolutionController) (*utils.FeatureStore, []string, error) {
	store := utils.NewFeatureStore()
	warnings := make([]string, 0)

	type pendingFeature struct {
		sourceLayer string
		id          string
		rawGeometry json.RawMessage
		attributes  map[string]interface{}
	}

	pending := make([]pendingFeature, 0)
	datetimeField := make(map[string]string)

	for _, layer := range layers {
		var collection rawCollection
		if err := json.Unmarshal(layer.Data, &collection); err != nil {
			return nil, nil, fmt.Errorf("failed to parse layer %q: %v", layer.Name, err)
		}

		// Attributes can vary per feature within a layer; the schema is the
		// ordered union across all of them
		schema := make([]string, 0)
		seenField := make(map[string]bool)
		for _, feature := range collection.Features {
			for _, field := range utils.PropertyKeysInOrder(feature.Properties) {
				if !seenField[field] {
					seenField[field] = true
					schema = append(schema, field)
				}
			}
		}
		store.RegisterSchema(layer.Name, schema)

		attributesByFeature := make([]map[string]interface{}, len(collection.Features))
		for i, feature := range collection.Features {
			attributes := make(map[string]interface{})
			if len(feature.Properties) > 0 {
				if err := json.Unmarshal(feature.Properties, &attributes); err != nil {
					return nil, nil, fmt.Errorf("failed to parse properties of feature %d in layer %q: %v", i, layer.Name, err)
				}
			}
			attributesByFeature[i] = attributes
		}

		if cfg != nil && cfg.ResolutionMode == utils.ResolutionModeDatetime {
			field, ok := resolveDatetimeField(layer.Name, cfg, store, attributesByFeature)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("layer %q: no datetime field found, its features cannot win", layer.Name))
			} else {
				datetimeField[layer.Name] = field
			}
		}

		for i, feature := range collection.Features {
			pending = append(pending, pendingFeature{
				sourceLayer: layer.Name,
				id:          featureID(feature.ID, i),
				rawGeometry: feature.Geometry,
				attributes:  attributesByFeature[i],
			})
		}
	}

	// Decode and validate geometries in parallel
	processor := utils.NewParallelProcessor(runtime.NumCPU())
	jobs := make([]interface{}, len(pending))
	for i, p := range pending {
		jobs[i] = ParsingJob{
			GlobalIndex: i,
			SourceLayer: p.sourceLayer,
			FeatureID:   p.id,
			Geometry:    p.rawGeometry,
		}
	}

	areaEpsilon := utils.DefaultAreaEpsilon
	precision := utils.DefaultPrecision
	if cfg != nil {
		if cfg.AreaEpsilon > 0 {
			areaEpsilon = cfg.AreaEpsilon
		}
		if cfg.Precision > 0 {
			precision = cfg.Precision
		}
	}

	results, err := processor.ProcessBatch(jobs, func(job interface{}) interface{} {
		parsingJob := job.(ParsingJob)
		return parseFeatureGeometry(parsingJob, repairInvalid, areaEpsilon, precision)
	}, "Parsing geometries", ctrl)
	if err != nil {
		return nil, nil, err
	}

	parsed := make([]*ParsingResult, len(pending))
	for _, result := range results {
		parsingResult := result.(*ParsingResult)
		parsed[parsingResult.GlobalIndex] = parsingResult
	}

	// Assemble the store in load order so feature ordering is reproducible
	for i, p := range pending {
		result := parsed[i]
		if result == nil || result.Error != nil {
			reason := "no parse result"
			if result != nil && result.Error != nil {
				reason = result.Error.Error()
			}
			if repairInvalid {
				warnings = append(warnings, fmt.Sprintf("dropped feature %s/%s: %s", p.sourceLayer, p.id, reason))
				continue
			}
			// Pre-flight mode keeps the identity with no geometry so the
			// check can report it instead of silently dropping it
			unparsed := &utils.Feature{
				SourceLayer: p.sourceLayer,
				ID:          p.id,
				Attributes:  p.attributes,
			}
			if _, err := store.Add(unparsed); err != nil {
				return nil, nil, err
			}
			continue
		}

		feature := &utils.Feature{
			SourceLayer: p.sourceLayer,
			ID:          p.id,
			Geom:        result.Geom,
			Attributes:  p.attributes,
		}
		if !result.WasRepaired {
			feature.RawGeometry = p.rawGeometry
		}

		if cfg != nil {
			switch cfg.ResolutionMode {
			case utils.ResolutionModeDatetime:
				field, ok := datetimeField[p.sourceLayer]
				if ok {
					value, present := p.attributes[field]
					if !present || value == nil {
						warnings = append(warnings, (&utils.UnparseableDatetimeError{
							SourceLayer: p.sourceLayer, FeatureID: p.id, Value: "",
						}).Error())
					} else if when, _, err := utils.ParseDatetime(value); err != nil {
						warnings = append(warnings, (&utils.UnparseableDatetimeError{
							SourceLayer: p.sourceLayer, FeatureID: p.id, Value: fmt.Sprintf("%v", value),
						}).Error())
					} else {
						feature.When = when
						feature.HasWhen = true
					}
				}
			case utils.ResolutionModePriority:
				feature.Priority = cfg.LayerPriority(p.sourceLayer)
			}
		}

		if _, err := store.Add(feature); err != nil {
			return nil, nil, err
		}
	}

	return store, warnings, nil
}

// parseFeatureGeometry decodes one GeoJSON geometry through go-geom into
// GEOS, rejecting non-polygonal input and, when asked, repairing invalid
// rings.
func parseFeatureGeometry(job ParsingJob, repairInvalid bool, areaEpsilon float64, precision int) *ParsingResult {
	if len(job.Geometry) == 0 {
		return &ParsingResult{GlobalIndex: job.GlobalIndex, Error: fmt.Errorf("missing geometry")}
	}

	var decoded geom.T
	if err := geojson.Unmarshal(job.Geometry, &decoded); err != nil {
		return &ParsingResult{GlobalIndex: job.GlobalIndex, Error: fmt.Errorf("invalid GeoJSON geometry: %v", err)}
	}

	wkbData, err := wkb.Marshal(decoded, wkb.NDR)
	if err != nil {
		return &ParsingResult{GlobalIndex: job.GlobalIndex, Error: fmt.Errorf("failed to encode geometry: %v", err)}
	}

	g, err := geos.NewGeomFromWKB(wkbData)
	if err != nil {
		return &ParsingResult{GlobalIndex: job.GlobalIndex, Error: fmt.Errorf("failed to build geometry: %v", err)}
	}

	if typeID := g.TypeID(); typeID != 3 && typeID != 6 { // Polygon or MultiPolygon
		g.Destroy()
		return &ParsingResult{GlobalIndex: job.GlobalIndex, Error: fmt.Errorf("non-polygon geometry (type %d)", typeID)}
	}
	if g.IsEmpty() {
		g.Destroy()
		return &ParsingResult{GlobalIndex: job.GlobalIndex, Error: fmt.Errorf("empty geometry")}
	}

	if g.IsValid() || !repairInvalid {
		return &ParsingResult{GlobalIndex: job.GlobalIndex, Geom: g}
	}

	repaired, err := Repair(g, areaEpsilon, precision)
	if err != nil || repaired == nil {
		g.Destroy()
		reason := "geometry collapsed during repair"
		if err != nil {
			reason = err.Error()
		}
		return &ParsingResult{GlobalIndex: job.GlobalIndex, Error: fmt.Errorf("%s", reason)}
	}
	if repaired != g {
		g.Destroy()
	}

	return &ParsingResult{GlobalIndex: job.GlobalIndex, Geom: repaired, WasRepaired: true}
}

// resolveDatetimeField picks the layer's resolution-key field: the configured
// mapping when present, field auto-detection otherwise.
func resolveDatetimeField(layerName string, cfg *utils.Config, store *utils.FeatureStore, attributes []map[string]interface{}) (string, bool) {
	if field, ok := cfg.DatetimeFields[layerName]; ok && field != "" {
		return field, true
	}

	schema := store.Schema(layerName)
	field, _, ok := utils.DetectDatetimeField(schema, func(field string) []string {
		samples := make([]string, 0, 10)
		for _, attrs := range attributes {
			if value, ok := attrs[field]; ok && value != nil {
				samples = append(samples, utils.CleanDatetimeValue(value))
			}
			if len(samples) >= 10 {
				break
			}
		}
		return samples
	})
	return field, ok
}

func featureID(raw interface{}, index int) string {
	switch v := raw.(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.Itoa(index)
}

// buildIndex bulk-loads every feature envelope into a grid sized from the
// dataset itself.
func buildIndex(store *utils.FeatureStore) *utils.SpatialIndex {
	bounds := make([]r2.Rect, 0, store.Len())
	for _, feature := range store.Features() {
		if rect, ok := utils.GeomBounds(feature.Geom); ok {
			bounds = append(bounds, rect)
		}
	}

	index := utils.NewSpatialIndex(utils.SuggestCellSize(bounds))
	for i, feature := range store.Features() {
		index.AddGeometry(feature.Geom, i, feature.Key())
	}
	return index
}

// applyResults folds a group's resolution into the store. The winner keeps
// its geometry; losers get their trimmed remainder, or are marked subsumed
// when nothing remains. Attributes are never touched.
func applyResults(store *utils.FeatureStore, results []*ResolutionResult) {
	for _, result := range results {
		for _, loser := range result.Losers {
			feature := store.Feature(loser.Index)
			if feature.Geom != nil && feature.Geom != loser.Geom {
				feature.Geom.Destroy()
			}
			feature.Geom = loser.Geom
			feature.Trimmed = true
			feature.RawGeometry = nil
		}
	}
}

// assembleResult materializes the resolved feature set in store order.
// Untouched features re-emit their original geometry bytes; trimmed features
// are re-encoded from GEOS.
func assembleResult(store *utils.FeatureStore, report ResolveReport) *ResolveResult {
	schema := store.SchemaUnion()

	collection := OutputCollection{
		Type:     "FeatureCollection",
		Features: make([]OutputFeature, 0, store.Len()),
	}
	exportFeatures := make([]utils.ExportFeature, 0, store.Len())

	for _, feature := range store.Features() {
		if feature.Trimmed {
			report.FeaturesTrimmed++
		}
		if feature.Geom == nil {
			// Fully subsumed loser: no output fragment
			continue
		}

		var geometry json.RawMessage
		if feature.RawGeometry != nil {
			geometry = feature.RawGeometry
		} else {
			geometry = json.RawMessage(feature.Geom.ToGeoJSON(-1))
		}

		properties := buildOrderedProperties(feature, schema)

		collection.Features = append(collection.Features, OutputFeature{
			Type:       "Feature",
			ID:         feature.ID,
			Geometry:   geometry,
			Properties: properties,
		})
		exportFeatures = append(exportFeatures, utils.ExportFeature{
			SourceLayer: feature.SourceLayer,
			ID:          feature.ID,
			Geometry:    geometry,
			Attributes:  feature.Attributes,
		})
	}

	return &ResolveResult{
		Collection: collection,
		Features:   exportFeatures,
		Schema:     schema,
		Report:     report,
	}
}

// buildOrderedProperties serializes attributes in declared schema order with
// missing fields null-filled, then appends the provenance field. Plain maps
// would randomize key order and break output reproducibility.
func buildOrderedProperties(feature *utils.Feature, schema []string) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for _, field := range schema {
		writePropertyKey(&buf, field)
		value, ok := feature.Attributes[field]
		if !ok || value == nil {
			buf.WriteString("null")
		} else if encoded, err := json.Marshal(value); err == nil {
			buf.Write(encoded)
		} else {
			buf.WriteString("null")
		}
	}

	writePropertyKey(&buf, "source_layer")
	encoded, _ := json.Marshal(feature.SourceLayer)
	buf.Write(encoded)

	buf.WriteByte('}')
	return json.RawMessage(buf.Bytes())
}

func writePropertyKey(buf *bytes.Buffer, field string) {
	if buf.Len() > 1 {
		buf.WriteByte(',')
	}
	encoded, _ := json.Marshal(field)
	buf.Write(encoded)
	buf.WriteByte(':')
}

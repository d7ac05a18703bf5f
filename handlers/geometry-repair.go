package handlers

import (
	"fmt"

	"github.com/bsaid97/go-overlap-resolver/utils"
	"github.com/twpayne/go-geos"
)

// InvalidGeometryError marks a geometry that survived no repair attempt. The
// owning group is skipped; the rest of the pass continues.
type InvalidGeometryError struct {
	SourceLayer string
	FeatureID   string
	Reason      string
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("unrepairable geometry on feature %s/%s: %s", e.SourceLayer, e.FeatureID, e.Reason)
}

// Repair validates and normalizes a geometry produced by an overlap
// operation. Attempts, in order: keep as-is, MakeValid linework, buffer by
// zero, coordinate truncation plus MakeValid. After the first attempt that
// yields a valid polygonal geometry, sub-polygons below areaEpsilon are
// dropped as slivers.
//
// Returns (nil, nil) when nothing with area survives (fully collapsed or
// subsumed). Idempotent: repairing an already repaired geometry returns an
// equal geometry via the first attempt.
func Repair(geom *geos.Geom, areaEpsilon float64, precision int) (*geos.Geom, error) {
	if geom == nil || geom.IsEmpty() {
		return nil, nil
	}

	if geom.IsValid() {
		return dropSlivers(geom, areaEpsilon), nil
	}

	reason := geom.IsValidReason()

	// Attempt 1: structural MakeValid
	repaired := geom.MakeValidWithParams(geos.MakeValidLinework, geos.MakeValidDiscardCollapsed)
	if repaired != nil && repaired.IsValid() {
		return finishRepair(repaired, areaEpsilon), nil
	}
	if repaired != nil {
		repaired.Destroy()
	}

	// Attempt 2: buffer-by-zero self-intersection removal
	buffered := geom.Buffer(0, 8)
	if buffered != nil && buffered.IsValid() && !buffered.IsEmpty() {
		return finishRepair(buffered, areaEpsilon), nil
	}
	if buffered != nil {
		buffered.Destroy()
	}

	// Attempt 3: quantize coordinates, then MakeValid once more
	truncated, err := utils.TruncateFullGeometry(geom, precision)
	if err == nil && truncated != nil {
		if truncated.IsValid() {
			return finishRepair(truncated, areaEpsilon), nil
		}
		final := truncated.MakeValidWithParams(geos.MakeValidLinework, geos.MakeValidDiscardCollapsed)
		truncated.Destroy()
		if final != nil && final.IsValid() {
			return finishRepair(final, areaEpsilon), nil
		}
		if final != nil {
			final.Destroy()
		}
	}

	return nil, fmt.Errorf("no repair attempt produced a valid geometry: %s", reason)
}

// dropSlivers keeps only polygonal parts with at least areaEpsilon of area.
// Intersection and difference results can carry line or point fragments and
// degenerate slivers; none of those belong in the resolved output.
//
// When every part survives the input pointer is returned unchanged, so
// callers can tell whether they received a replacement they own: destroy the
// input only when the returned pointer differs.
func dropSlivers(geom *geos.Geom, areaEpsilon float64) *geos.Geom {
	parts := collectPolygons(geom, areaEpsilon, nil)

	if len(parts) == 0 {
		return nil
	}

	if len(parts) == countPolygons(geom) && (geom.TypeID() == 3 || geom.TypeID() == 6) {
		return geom
	}

	cloned := make([]*geos.Geom, len(parts))
	for i, part := range parts {
		cloned[i] = part.Clone()
	}
	if len(cloned) == 1 {
		return cloned[0]
	}
	return geos.NewCollection(geos.TypeIDMultiPolygon, cloned)
}

// finishRepair applies sliver removal to an intermediate the repair pipeline
// owns, releasing it when a replacement was built.
func finishRepair(intermediate *geos.Geom, areaEpsilon float64) *geos.Geom {
	out := dropSlivers(intermediate, areaEpsilon)
	if out != intermediate {
		intermediate.Destroy()
	}
	return out
}

func countPolygons(geom *geos.Geom) int {
	switch geom.TypeID() {
	case 3:
		return 1
	case 6, 7:
		count := 0
		for i := range geom.NumGeometries() {
			count += countPolygons(geom.Geometry(i))
		}
		return count
	}
	return 0
}

func collectPolygons(geom *geos.Geom, areaEpsilon float64, parts []*geos.Geom) []*geos.Geom {
	if geom == nil {
		return parts
	}

	switch geom.TypeID() {
	case 3: // Polygon
		if geom.Area() >= areaEpsilon {
			parts = append(parts, geom)
		}
	case 6, 7: // MultiPolygon, GeometryCollection
		for i := range geom.NumGeometries() {
			parts = collectPolygons(geom.Geometry(i), areaEpsilon, parts)
		}
	}

	return parts
}

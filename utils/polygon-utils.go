package utils

import (
	"fmt"
	"math"
	"sort"

	"github.com/twpayne/go-geos"
)

// DefaultPrecision is the coordinate decimal precision applied to geometry
// produced by resolution. Seven decimals is sub-centimeter in WGS84.
const DefaultPrecision = 7

type routineResult struct {
	Result *geos.Geom
	Index  int
}

// TruncateFullGeometry rounds every coordinate of a polygon or multi-polygon
// to the given decimal precision. Parts are processed concurrently and
// reassembled in their original order.
func TruncateFullGeometry(feature *geos.Geom, precision int) (*geos.Geom, error) {
	if feature == nil {
		return nil, fmt.Errorf("geometry is nil")
	}
	if precision <= 0 {
		precision = DefaultPrecision
	}

	polygons := make(chan routineResult, feature.NumGeometries())
	count := 0
	for i := range feature.NumGeometries() {
		geometry := feature.Geometry(i)
		if geometry.TypeID() == 3 {
			count++
			go func(polygon *geos.Geom, index int) {
				polygons <- routineResult{Result: TruncateSinglePolygon(polygon, precision), Index: index}
			}(geometry, i)
		}

		if geometry.TypeID() == 6 {
			count++
			go func(multi *geos.Geom, index int) {
				parts := make([]*geos.Geom, 0, multi.NumGeometries())
				for j := range multi.NumGeometries() {
					if part := TruncateSinglePolygon(multi.Geometry(j), precision); part != nil {
						parts = append(parts, part)
					}
				}
				polygons <- routineResult{Result: geos.NewCollection(geos.TypeIDMultiPolygon, parts), Index: index}
			}(geometry, i)
		}
	}

	if count == 0 {
		return nil, fmt.Errorf("geometry has no polygon parts (type %d)", feature.TypeID())
	}

	newPolygons := make([]*geos.Geom, 0, count)
	byIndex := make(map[int]*geos.Geom, count)
	order := make([]int, 0, count)
	for i := 0; i < count; i++ {
		res := <-polygons
		byIndex[res.Index] = res.Result
		order = append(order, res.Index)
	}
	sort.Ints(order)
	for _, index := range order {
		if byIndex[index] != nil {
			newPolygons = append(newPolygons, byIndex[index])
		}
	}

	if len(newPolygons) == 0 {
		return nil, fmt.Errorf("all polygon parts collapsed during truncation")
	}
	if len(newPolygons) == 1 {
		return newPolygons[0], nil
	}

	return geos.NewCollection(geos.TypeIDMultiPolygon, newPolygons), nil
}

// TruncateSinglePolygon rounds one polygon's rings. Rings that collapse below
// four coordinates, and interior rings that no longer form a valid polygon,
// are dropped.
func TruncateSinglePolygon(polygon *geos.Geom, precision int) *geos.Geom {
	if polygon == nil || polygon.ExteriorRing() == nil {
		return nil
	}
	if polygon.ExteriorRing().CoordSeq().Size() <= 3 {
		return nil
	}

	var rings [][][]float64
	var outerRing [][]float64
	for j := range polygon.ExteriorRing().CoordSeq().Size() {
		x := polygon.ExteriorRing().CoordSeq().X(j)
		y := polygon.ExteriorRing().CoordSeq().Y(j)

		newX, newY := truncateCoordinates(x, y, precision)
		outerRing = append(outerRing, []float64{newX, newY})
	}
	rings = append(rings, outerRing)

	for r := range polygon.NumInteriorRings() {
		ring := polygon.InteriorRing(r)
		if ring.CoordSeq().Size() <= 3 {
			continue
		}

		var ringCoords [][]float64
		for k := range ring.CoordSeq().Size() {
			x := ring.CoordSeq().X(k)
			y := ring.CoordSeq().Y(k)

			newX, newY := truncateCoordinates(x, y, precision)
			ringCoords = append(ringCoords, []float64{newX, newY})
		}

		testPolygon := geos.NewPolygon([][][]float64{ringCoords})
		if len(ringCoords) > 0 && testPolygon.IsValid() {
			rings = append(rings, ringCoords)
		}
		testPolygon.Destroy()
	}

	return geos.NewPolygon(rings)
}

func truncateCoordinates(x float64, y float64, precision int) (float64, float64) {
	return roundFloat(x, uint(precision)), roundFloat(y, uint(precision))
}

func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

package utils

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/twpayne/go-geos"
)

// SpatialIndex is a uniform grid over feature bounding boxes. Envelopes are
// only used for candidate pruning; exact predicates run on the full geometry.
type SpatialIndex struct {
	entries  []*IndexedGeometry
	cellSize float64
	grid     map[string][]*IndexedGeometry
}

type IndexedGeometry struct {
	Bounds r2.Rect
	Index  int
	Key    string
}

func NewSpatialIndex(cellSize float64) *SpatialIndex {
	if cellSize <= 0 {
		cellSize = 1.0
	}
	return &SpatialIndex{
		entries:  make([]*IndexedGeometry, 0),
		cellSize: cellSize,
		grid:     make(map[string][]*IndexedGeometry),
	}
}

// GeomBounds converts a GEOS envelope into the r2.Rect the index works with.
func GeomBounds(geom *geos.Geom) (r2.Rect, bool) {
	if geom == nil {
		return r2.EmptyRect(), false
	}
	bounds := geom.Bounds()
	if bounds == nil {
		return r2.EmptyRect(), false
	}
	return r2.RectFromPoints(
		r2.Point{X: bounds.MinX, Y: bounds.MinY},
		r2.Point{X: bounds.MaxX, Y: bounds.MaxY},
	), true
}

// AddGeometry indexes a feature's bounding box under its store index.
func (si *SpatialIndex) AddGeometry(geom *geos.Geom, index int, key string) {
	bounds, ok := GeomBounds(geom)
	if !ok {
		fmt.Printf("Warning: nil geometry or bounds passed to AddGeometry for %s\n", key)
		return
	}
	si.AddBounds(bounds, index, key)
}

// AddBounds indexes a precomputed bounding box.
func (si *SpatialIndex) AddBounds(bounds r2.Rect, index int, key string) {
	entry := &IndexedGeometry{
		Bounds: bounds,
		Index:  index,
		Key:    key,
	}

	si.entries = append(si.entries, entry)
	si.addToGrid(entry)
}

func (si *SpatialIndex) addToGrid(entry *IndexedGeometry) {
	minCellX, minCellY, maxCellX, maxCellY := si.cellRange(entry.Bounds)

	for x := minCellX; x <= maxCellX; x++ {
		for y := minCellY; y <= maxCellY; y++ {
			cellKey := getCellKey(x, y)
			si.grid[cellKey] = append(si.grid[cellKey], entry)
		}
	}
}

func (si *SpatialIndex) cellRange(bounds r2.Rect) (int, int, int, int) {
	minCellX := int(math.Floor(bounds.X.Lo / si.cellSize))
	minCellY := int(math.Floor(bounds.Y.Lo / si.cellSize))
	maxCellX := int(math.Floor(bounds.X.Hi / si.cellSize))
	maxCellY := int(math.Floor(bounds.Y.Hi / si.cellSize))
	return minCellX, minCellY, maxCellX, maxCellY
}

// Query returns the store indices of all entries whose bounding box intersects
// the query rect. False positives are expected, false negatives are not.
// Results are deduplicated and sorted ascending so traversal order is stable.
func (si *SpatialIndex) Query(rect r2.Rect) []int {
	minCellX, minCellY, maxCellX, maxCellY := si.cellRange(rect)

	candidates := make(map[int]bool)
	for x := minCellX; x <= maxCellX; x++ {
		for y := minCellY; y <= maxCellY; y++ {
			cellKey := getCellKey(x, y)
			for _, entry := range si.grid[cellKey] {
				if entry.Bounds.Intersects(rect) {
					candidates[entry.Index] = true
				}
			}
		}
	}

	result := make([]int, 0, len(candidates))
	for index := range candidates {
		result = append(result, index)
	}
	sort.Ints(result)

	return result
}

func (si *SpatialIndex) Len() int {
	return len(si.entries)
}

func getCellKey(x, y int) string {
	return fmt.Sprintf("%d,%d", x, y)
}

// SuggestCellSize derives a grid cell size from the median envelope diagonal
// so cell occupancy stays reasonable across datasets of very different scale.
func SuggestCellSize(bounds []r2.Rect) float64 {
	if len(bounds) == 0 {
		return 1.0
	}

	diagonals := make([]float64, 0, len(bounds))
	for _, b := range bounds {
		diagonals = append(diagonals, math.Hypot(b.X.Length(), b.Y.Length()))
	}
	sort.Float64s(diagonals)

	median := diagonals[len(diagonals)/2]
	if median <= 0 {
		return 1.0
	}

	// A couple of features per cell on average
	return median * 2
}

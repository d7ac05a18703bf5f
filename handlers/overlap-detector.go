package handlers

import (
	"sort"

	"github.com/bsaid97/go-overlap-resolver/utils"
	"github.com/twpayne/go-geos"
)

// OverlapGroup is a maximal set of features whose geometries intersect
// directly or through a chain of pairwise intersections. Members are store
// indices in store order; Edges holds the confirmed-overlap adjacency.
type OverlapGroup struct {
	Members []int
	Edges   map[int][]int
	// First is the store index of the first-discovered member; groups are
	// emitted in ascending First order so runs are reproducible.
	First int
}

// DetectOverlapGroups walks the feature store in load order and grows each
// group breadth-first over index candidates confirmed by an exact
// intersection test. Bounding boxes only prune; membership is decided on the
// full geometry. Returns the groups plus whether the walk was cancelled.
func DetectOverlapGroups(store *utils.FeatureStore, index *utils.SpatialIndex, areaEpsilon float64, ctrl *utils.ResolutionController) ([]*OverlapGroup, bool) {
	visited := make([]bool, store.Len())
	groups := make([]*OverlapGroup, 0)

	tracker := utils.NewProgressTracker(int64(store.Len()), "Detecting overlaps", ctrl)

	for i := 0; i < store.Len(); i++ {
		tracker.Increment()
		if visited[i] {
			continue
		}
		if ctrl.IsCancelled() {
			return groups, true
		}

		visited[i] = true
		members := []int{i}
		edges := make(map[int][]int)
		queue := []int{i}

		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]

			currentGeom := store.Feature(current).Geom
			bounds, ok := utils.GeomBounds(currentGeom)
			if !ok {
				continue
			}

			// Candidates arrive in ascending store order from the index, so
			// the traversal is deterministic for identical input.
			for _, candidate := range index.Query(bounds) {
				if candidate == current {
					continue
				}
				if !confirmOverlap(currentGeom, store.Feature(candidate).Geom, areaEpsilon) {
					continue
				}

				edges[current] = append(edges[current], candidate)

				if !visited[candidate] {
					visited[candidate] = true
					members = append(members, candidate)
					queue = append(queue, candidate)
				}
			}
		}

		// Isolated features form no group and stay untouched
		if len(members) < 2 {
			continue
		}

		sort.Ints(members)
		groups = append(groups, &OverlapGroup{
			Members: members,
			Edges:   edges,
			First:   i,
		})
	}

	return groups, false
}

// confirmOverlap is the exact test behind the bounding-box prune: geometries
// overlap only when their intersection has real area. Box false positives and
// mere edge or point touches are rejected here.
func confirmOverlap(a, b *geos.Geom, areaEpsilon float64) bool {
	if a == nil || b == nil {
		return false
	}
	if !a.Intersects(b) {
		return false
	}

	intersection := a.Intersection(b)
	if intersection == nil {
		return false
	}
	defer intersection.Destroy()

	return intersection.Area() > areaEpsilon
}

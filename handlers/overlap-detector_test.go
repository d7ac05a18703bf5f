package handlers

import (
	"reflect"
	"testing"

	"github.com/bsaid97/go-overlap-resolver/utils"
)

// buildStore loads WKT fixtures as features of one layer per entry, in order.
func buildStore(t *testing.T, fixtures [][2]string) *utils.FeatureStore {
	t.Helper()
	store := utils.NewFeatureStore()
	for _, fixture := range fixtures {
		layer, id := splitKey(fixture[0])
		feature := &utils.Feature{
			SourceLayer: layer,
			ID:          id,
			Geom:        mustGeomFromWKT(t, fixture[1]),
		}
		if _, err := store.Add(feature); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	t.Cleanup(func() {
		for _, feature := range store.Features() {
			if feature.Geom != nil {
				feature.Geom.Destroy()
			}
		}
	})
	return store
}

func splitKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, key
}

func indexStore(store *utils.FeatureStore) *utils.SpatialIndex {
	index := utils.NewSpatialIndex(2.0)
	for i, feature := range store.Features() {
		index.AddGeometry(feature.Geom, i, feature.Key())
	}
	return index
}

func TestDetectOverlapGroupsTransitiveChain(t *testing.T) {
	// A overlaps B, B overlaps C, A and C are disjoint: one group of three
	store := buildStore(t, [][2]string{
		{"a/1", "POLYGON((0 0, 2 0, 2 2, 0 2, 0 0))"},
		{"a/2", "POLYGON((1 1, 3 1, 3 3, 1 3, 1 1))"},
		{"a/3", "POLYGON((2.5 1.5, 4.5 1.5, 4.5 3.5, 2.5 3.5, 2.5 1.5))"},
		{"a/4", "POLYGON((20 20, 21 20, 21 21, 20 21, 20 20))"},
	})

	groups, cancelled := DetectOverlapGroups(store, indexStore(store), utils.DefaultAreaEpsilon, utils.NewResolutionController(nil))
	if cancelled {
		t.Fatal("detection reported cancelled without a cancel request")
	}

	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if !reflect.DeepEqual(groups[0].Members, []int{0, 1, 2}) {
		t.Errorf("group members = %v, want [0 1 2]", groups[0].Members)
	}
	if groups[0].First != 0 {
		t.Errorf("group First = %d, want 0", groups[0].First)
	}
}

func TestDetectOverlapGroupsIgnoresEdgeTouches(t *testing.T) {
	// Squares sharing only an edge intersect with zero area: no group
	store := buildStore(t, [][2]string{
		{"a/1", "POLYGON((0 0, 2 0, 2 2, 0 2, 0 0))"},
		{"a/2", "POLYGON((2 0, 4 0, 4 2, 2 2, 2 0))"},
	})

	groups, _ := DetectOverlapGroups(store, indexStore(store), utils.DefaultAreaEpsilon, utils.NewResolutionController(nil))
	if len(groups) != 0 {
		t.Errorf("edge-touching squares formed %d groups, want 0", len(groups))
	}
}

func TestDetectOverlapGroupsSeparateGroups(t *testing.T) {
	store := buildStore(t, [][2]string{
		{"a/1", "POLYGON((0 0, 2 0, 2 2, 0 2, 0 0))"},
		{"a/2", "POLYGON((1 1, 3 1, 3 3, 1 3, 1 1))"},
		{"b/1", "POLYGON((10 10, 12 10, 12 12, 10 12, 10 10))"},
		{"b/2", "POLYGON((11 11, 13 11, 13 13, 11 13, 11 11))"},
	})

	groups, _ := DetectOverlapGroups(store, indexStore(store), utils.DefaultAreaEpsilon, utils.NewResolutionController(nil))
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if !reflect.DeepEqual(groups[0].Members, []int{0, 1}) {
		t.Errorf("first group members = %v, want [0 1]", groups[0].Members)
	}
	if !reflect.DeepEqual(groups[1].Members, []int{2, 3}) {
		t.Errorf("second group members = %v, want [2 3]", groups[1].Members)
	}
}

func TestDetectOverlapGroupsCancellation(t *testing.T) {
	store := buildStore(t, [][2]string{
		{"a/1", "POLYGON((0 0, 2 0, 2 2, 0 2, 0 0))"},
		{"a/2", "POLYGON((1 1, 3 1, 3 3, 1 3, 1 1))"},
	})

	ctrl := utils.NewResolutionController(nil)
	ctrl.Cancel()

	groups, cancelled := DetectOverlapGroups(store, indexStore(store), utils.DefaultAreaEpsilon, ctrl)
	if !cancelled {
		t.Error("detection did not report cancellation")
	}
	if len(groups) != 0 {
		t.Errorf("cancelled detection returned %d groups, want 0", len(groups))
	}
}

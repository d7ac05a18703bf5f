package handlers

import (
	"fmt"
	"sort"

	"github.com/bsaid97/go-overlap-resolver/utils"
	"github.com/twpayne/go-geos"
)

// TrimmedLoser pairs a losing feature with its remaining geometry. A nil
// geometry means the loser was fully subsumed and contributes no fragment.
type TrimmedLoser struct {
	Index int
	Geom  *geos.Geom
}

// ResolutionResult resolves one connected overlap region: the winner keeps
// its geometry unchanged, every loser is cut down to what no better-ranked
// member claims. Losers are ordered by (SourceLayer, ID).
type ResolutionResult struct {
	Winner     int
	WinnerGeom *geos.Geom
	Losers     []TrimmedLoser
}

// ResolveGroup computes the resolution for one overlap group. Groups arriving
// from the detector are connected, but a group whose adjacency falls apart
// into disjoint sub-regions is split and each sub-region resolved
// independently rather than forcing one winner across disjoint geometry.
//
// The group's features are not modified; the caller applies the results once
// the whole group succeeded. On error nothing is retained.
func ResolveGroup(store *utils.FeatureStore, group *OverlapGroup, cfg *utils.Config) ([]*ResolutionResult, error) {
	results := make([]*ResolutionResult, 0)

	for _, component := range splitConnected(group) {
		result, err := resolveComponent(store, component, cfg)
		if err != nil {
			releaseResults(results)
			return nil, err
		}
		results = append(results, result)
	}

	return results, nil
}

// resolveComponent ranks the members best-first and trims each member by the
// union of everything ranked above it. That keeps the winner whole, leaves
// loser area outside the overlaps untouched, and guarantees the outputs
// partition the component's combined extent.
func resolveComponent(store *utils.FeatureStore, members []int, cfg *utils.Config) (*ResolutionResult, error) {
	ranked, err := rankMembers(store, members, cfg)
	if err != nil {
		return nil, err
	}

	winner := ranked[0]
	result := &ResolutionResult{
		Winner:     winner,
		WinnerGeom: store.Feature(winner).Geom,
	}

	for k := 1; k < len(ranked); k++ {
		loser := store.Feature(ranked[k])

		// Union of the original geometries of every better-ranked member.
		// CascadedUnion consumes its inputs, so it gets clones.
		claimed := make([]*geos.Geom, k)
		for j := 0; j < k; j++ {
			claimed[j] = store.Feature(ranked[j]).Geom.Clone()
		}
		footprint, err := CascadedUnion(claimed)
		if err != nil {
			releaseLosers(result.Losers)
			return nil, err
		}

		diff := loser.Geom.Difference(footprint)
		footprint.Destroy()
		if diff == nil {
			releaseLosers(result.Losers)
			return nil, &InvalidGeometryError{
				SourceLayer: loser.SourceLayer,
				FeatureID:   loser.ID,
				Reason:      "difference operation failed",
			}
		}

		repaired, repairErr := Repair(diff, cfg.AreaEpsilon, cfg.Precision)
		if repairErr != nil {
			diff.Destroy()
			releaseLosers(result.Losers)
			return nil, &InvalidGeometryError{
				SourceLayer: loser.SourceLayer,
				FeatureID:   loser.ID,
				Reason:      repairErr.Error(),
			}
		}
		if repaired != diff {
			diff.Destroy()
		}

		result.Losers = append(result.Losers, TrimmedLoser{Index: ranked[k], Geom: repaired})
	}

	// Emission order is source layer then ID, independent of rank order
	sort.Slice(result.Losers, func(i, j int) bool {
		return store.Feature(result.Losers[i].Index).Before(store.Feature(result.Losers[j].Index))
	})

	return result, nil
}

// rankMembers orders a component's members most-authoritative first.
// Datetime mode ranks by latest parsed timestamp with unparseable members
// excluded from candidacy (they sort below every dated member); priority mode
// ranks by the configured layer order. Ties fall back to the (SourceLayer, ID)
// tuple order in both modes.
func rankMembers(store *utils.FeatureStore, members []int, cfg *utils.Config) ([]int, error) {
	ranked := append([]int{}, members...)

	if cfg.ResolutionMode == utils.ResolutionModeDatetime {
		anyDated := false
		for _, m := range members {
			if store.Feature(m).HasWhen {
				anyDated = true
				break
			}
		}
		if !anyDated {
			return nil, fmt.Errorf("no member of the group has a parseable datetime")
		}

		sort.SliceStable(ranked, func(i, j int) bool {
			return moreAuthoritativeByDatetime(store.Feature(ranked[i]), store.Feature(ranked[j]))
		})
		return ranked, nil
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return moreAuthoritativeByPriority(store.Feature(ranked[i]), store.Feature(ranked[j]))
	})
	return ranked, nil
}

func moreAuthoritativeByDatetime(a, b *utils.Feature) bool {
	if a.HasWhen != b.HasWhen {
		return a.HasWhen
	}
	if a.HasWhen && !a.When.Equal(b.When) {
		return a.When.After(b.When)
	}
	return a.Before(b)
}

func moreAuthoritativeByPriority(a, b *utils.Feature) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Before(b)
}

// splitConnected returns the connected components of the group's adjacency,
// each sorted by store index, components ordered by their smallest member.
func splitConnected(group *OverlapGroup) [][]int {
	inGroup := make(map[int]bool, len(group.Members))
	for _, m := range group.Members {
		inGroup[m] = true
	}

	visited := make(map[int]bool, len(group.Members))
	components := make([][]int, 0, 1)

	for _, start := range group.Members {
		if visited[start] {
			continue
		}

		visited[start] = true
		component := []int{start}
		queue := []int{start}

		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]

			for _, next := range group.Edges[current] {
				if !inGroup[next] || visited[next] {
					continue
				}
				visited[next] = true
				component = append(component, next)
				queue = append(queue, next)
			}
		}

		sort.Ints(component)
		components = append(components, component)
	}

	return components
}

func releaseLosers(losers []TrimmedLoser) {
	for _, loser := range losers {
		if loser.Geom != nil {
			loser.Geom.Destroy()
		}
	}
}

func releaseResults(results []*ResolutionResult) {
	for _, result := range results {
		releaseLosers(result.Losers)
	}
}

package handlers

import (
	"fmt"

	"github.com/bsaid97/go-overlap-resolver/utils"
)

// GeometryIssue reports one invalid input geometry by feature identity so the
// caller can surface actionable feedback.
type GeometryIssue struct {
	SourceLayer string `json:"sourceLayer"`
	FeatureID   string `json:"featureId"`
	Reason      string `json:"reason"`
}

// CheckGeometry validates every feature in the store and reports the invalid
// ones. Used as the pre-flight behind /check-geometry; the resolution pass
// itself repairs invalid inputs at load instead.
func CheckGeometry(store *utils.FeatureStore) []GeometryIssue {
	var issues []GeometryIssue

	fmt.Println("Checking geometries:", store.Len())
	for _, feature := range store.Features() {
		if feature.Geom == nil {
			issues = append(issues, GeometryIssue{
				SourceLayer: feature.SourceLayer,
				FeatureID:   feature.ID,
				Reason:      "geometry missing or unparseable",
			})
			continue
		}

		if !feature.Geom.IsValid() {
			issues = append(issues, GeometryIssue{
				SourceLayer: feature.SourceLayer,
				FeatureID:   feature.ID,
				Reason:      feature.Geom.IsValidReason(),
			})
		}
	}

	return issues
}

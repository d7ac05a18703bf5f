package handlers

import (
	"fmt"

	"github.com/twpayne/go-geos"
)

// CascadedUnion merges geometries pairwise, divide and conquer. It takes
// ownership of the inputs: everything except the returned geometry is
// destroyed, so pass clones when the originals must survive. Used both by the
// /dissolve endpoint and by the resolution engine to build the footprint a
// loser gets trimmed against.
func CascadedUnion(geometries []*geos.Geom) (*geos.Geom, error) {
	if len(geometries) == 0 {
		return nil, fmt.Errorf("no geometries to union")
	}

	// Base case: if there is only one geometry, return it
	if len(geometries) == 1 {
		return geometries[0], nil
	}

	// Divide the array into two halves
	mid := len(geometries) / 2
	left, err := CascadedUnion(geometries[:mid])
	if err != nil {
		return nil, err
	}
	right, err := CascadedUnion(geometries[mid:])
	if err != nil {
		left.Destroy()
		return nil, err
	}

	// Union the results of the left and right halves
	result := left.Union(right)

	// Clean up to free memory
	left.Destroy()
	right.Destroy()

	if result == nil {
		return nil, fmt.Errorf("union operation failed")
	}

	return result, nil
}

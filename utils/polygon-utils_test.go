package utils

import (
	"math"
	"testing"

	"github.com/twpayne/go-geos"
)

func wktGeom(t *testing.T, wkt string) *geos.Geom {
	t.Helper()
	g, err := geos.NewGeomFromWKT(wkt)
	if err != nil {
		t.Fatalf("bad WKT fixture %q: %v", wkt, err)
	}
	return g
}

func TestTruncateFullGeometryRoundsCoordinates(t *testing.T) {
	square := wktGeom(t, "POLYGON((0.123456789 0, 1.000000049 0, 1 1, 0.123456789 1, 0.123456789 0))")
	defer square.Destroy()

	truncated, err := TruncateFullGeometry(square, 7)
	if err != nil {
		t.Fatalf("TruncateFullGeometry failed: %v", err)
	}
	defer truncated.Destroy()

	seq := truncated.ExteriorRing().CoordSeq()
	if got := seq.X(0); got != 0.1234568 {
		t.Errorf("X(0) = %v, want 0.1234568", got)
	}
	if got := seq.X(1); got != 1.0 {
		t.Errorf("X(1) = %v, want 1.0", got)
	}
}

func TestTruncateFullGeometryMultiPolygonKeepsPartOrder(t *testing.T) {
	multi := wktGeom(t, "MULTIPOLYGON(((0 0, 1 0, 1 1, 0 1, 0 0)), ((10 10, 12 10, 12 12, 10 12, 10 10)))")
	defer multi.Destroy()

	truncated, err := TruncateFullGeometry(multi, 7)
	if err != nil {
		t.Fatalf("TruncateFullGeometry failed: %v", err)
	}
	defer truncated.Destroy()

	if truncated.NumGeometries() != 2 {
		t.Fatalf("got %d parts, want 2", truncated.NumGeometries())
	}
	// Parts are truncated concurrently but reassembled in input order
	if area := truncated.Geometry(0).Area(); math.Abs(area-1.0) > 1e-9 {
		t.Errorf("first part area = %v, want 1.0", area)
	}
	if area := truncated.Geometry(1).Area(); math.Abs(area-4.0) > 1e-9 {
		t.Errorf("second part area = %v, want 4.0", area)
	}
}

func TestTruncateFullGeometryRejectsNonPolygons(t *testing.T) {
	if _, err := TruncateFullGeometry(nil, 7); err == nil {
		t.Error("nil geometry accepted")
	}

	line := wktGeom(t, "LINESTRING(0 0, 1 1)")
	defer line.Destroy()
	if _, err := TruncateFullGeometry(line, 7); err == nil {
		t.Error("linestring accepted")
	}
}

func TestTruncateSinglePolygonDropsCollapsedRings(t *testing.T) {
	// The interior ring collapses to a point at precision 1
	donut := wktGeom(t, "POLYGON((0 0, 10 0, 10 10, 0 10, 0 0), (5.01 5.01, 5.02 5.01, 5.02 5.02, 5.01 5.02, 5.01 5.01))")
	defer donut.Destroy()

	truncated := TruncateSinglePolygon(donut, 1)
	if truncated == nil {
		t.Fatal("TruncateSinglePolygon returned nil")
	}
	defer truncated.Destroy()

	if truncated.NumInteriorRings() != 0 {
		t.Errorf("got %d interior rings, want 0 (collapsed hole dropped)", truncated.NumInteriorRings())
	}
	if area := truncated.Area(); math.Abs(area-100.0) > 1e-9 {
		t.Errorf("area = %v, want 100.0", area)
	}
}

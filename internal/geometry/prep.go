package geometry

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/rpattn/sitepolygons/internal/domain"
)

// HectareSquareMeters converts hectares to square meters.
const HectareSquareMeters = 10000.0

// AreaCalculator computes hectare areas for many polygons in one round trip.
type AreaCalculator interface {
	Areas(ctx context.Context, polygons []orb.Polygon) ([]float64, error)
}

// Prepared is one polygon ready for insertion.
type Prepared struct {
	UUID    uuid.UUID
	Polygon orb.Polygon
	Area    float64 // hectares
	Source  int     // index of the boundary it was expanded from
}

// Expand splits every MultiPolygon into its parts. The returned sources slice
// maps each polygon back to the index of the boundary it came from.
func Expand(boundaries []orb.Geometry) ([]orb.Polygon, []int, error) {
	polygons := make([]orb.Polygon, 0, len(boundaries))
	sources := make([]int, 0, len(boundaries))
	for i, boundary := range boundaries {
		switch g := boundary.(type) {
		case orb.Polygon:
			polygons = append(polygons, g)
			sources = append(sources, i)
		case orb.MultiPolygon:
			for _, part := range g {
				polygons = append(polygons, part)
				sources = append(sources, i)
			}
		default:
			return nil, nil, domain.NewValidationError("geometry", "boundary %d has unsupported type %T", i, boundary)
		}
	}
	return polygons, sources, nil
}

// Prepare expands boundaries, assigns identities and computes areas with a
// single call to calc. Results keep input order.
func Prepare(ctx context.Context, calc AreaCalculator, boundaries []orb.Geometry) ([]Prepared, error) {
	polygons, sources, err := Expand(boundaries)
	if err != nil {
		return nil, err
	}
	if len(polygons) == 0 {
		return []Prepared{}, nil
	}

	areas, err := calc.Areas(ctx, polygons)
	if err != nil {
		return nil, fmt.Errorf("failed to compute polygon areas: %w", err)
	}
	if len(areas) != len(polygons) {
		return nil, fmt.Errorf("area calculator returned %d areas for %d polygons: %w", len(areas), len(polygons), domain.ErrSpatialStoreUnavailable)
	}

	prepared := make([]Prepared, len(polygons))
	for i, polygon := range polygons {
		area := areas[i]
		if area < 0 {
			area = 0
		}
		prepared[i] = Prepared{
			UUID:    uuid.New(),
			Polygon: polygon,
			Area:    area,
			Source:  sources[i],
		}
	}
	return prepared, nil
}

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// GeometryKind groups uploaded features by the ingestion path they take.
type GeometryKind string

const (
	GeometryKindPoint   GeometryKind = "point"
	GeometryKindPolygon GeometryKind = "polygon"
)

// KindOf returns the ingestion kind of an uploaded geometry. MultiPolygons
// travel with Polygons; anything else is unsupported.
func KindOf(g orb.Geometry) (GeometryKind, bool) {
	switch g.(type) {
	case orb.Point:
		return GeometryKindPoint, true
	case orb.Polygon, orb.MultiPolygon:
		return GeometryKindPolygon, true
	default:
		return "", false
	}
}

// PolygonGeometry is an immutable polygon shape. Several SitePolygon versions
// may reference the same geometry when only attributes changed.
type PolygonGeometry struct {
	UUID      uuid.UUID
	Polygon   orb.Polygon
	CreatedBy *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPolygonGeometry creates a geometry record with a fresh identity.
func NewPolygonGeometry(id uuid.UUID, polygon orb.Polygon, createdBy *uuid.UUID) PolygonGeometry {
	now := time.Now().UTC()
	return PolygonGeometry{
		UUID:      id,
		Polygon:   polygon,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PointGeometry is an uploaded bare point and the area it should cover.
type PointGeometry struct {
	UUID      uuid.UUID
	Point     orb.Point
	EstArea   float64 // hectares
	CreatedBy *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPointGeometry creates a point record with a fresh identity.
func NewPointGeometry(point orb.Point, estArea float64, createdBy *uuid.UUID) PointGeometry {
	now := time.Now().UTC()
	return PointGeometry{
		UUID:      uuid.New(),
		Point:     point,
		EstArea:   estArea,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

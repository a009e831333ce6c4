package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/rpattn/sitepolygons/internal/domain"
)

// SiteRepository reads the sites polygons are uploaded to.
type SiteRepository interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Site, error)
	// ProjectID returns the project of a site; nil when the site has none.
	ProjectID(ctx context.Context, siteID uuid.UUID) (*uuid.UUID, error)
}

// PolygonGeometryRepository stores immutable polygon shapes.
type PolygonGeometryRepository interface {
	InsertMany(ctx context.Context, geometries []domain.PolygonGeometry) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.PolygonGeometry, error)
}

// PointGeometryRepository stores uploaded bare points.
type PointGeometryRepository interface {
	InsertMany(ctx context.Context, points []domain.PointGeometry) error
	ExistingIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
}

// SitePolygonRepository stores polygon versions.
type SitePolygonRepository interface {
	InsertMany(ctx context.Context, polygons []domain.SitePolygon) error
	GetByUUID(ctx context.Context, id uuid.UUID) (domain.SitePolygon, error)
	GetActiveByPrimaryUUID(ctx context.Context, primaryUUID uuid.UUID) (domain.SitePolygon, error)
	ListByPrimaryUUID(ctx context.Context, primaryUUID uuid.UUID) ([]domain.SitePolygon, error)
	ListActiveByPolyIDs(ctx context.Context, polyIDs []uuid.UUID) ([]domain.SitePolygon, error)
	ListActiveByPointIDs(ctx context.Context, pointIDs []uuid.UUID) ([]domain.SitePolygon, error)

	// State transitions. These are the only mutations a version ever sees.
	DeactivateLineage(ctx context.Context, primaryUUID uuid.UUID) error
	Activate(ctx context.Context, id uuid.UUID) error
	UpdateStatus(ctx context.Context, ids []uuid.UUID, status string) error
}

// SitePolygonDataRepository stores unrecognized upload properties.
type SitePolygonDataRepository interface {
	InsertMany(ctx context.Context, data []domain.SitePolygonData) error
	GetBySitePolygonUUID(ctx context.Context, id uuid.UUID) (map[string]any, error)
}

// PolygonUpdateRepository is the append-only audit log.
type PolygonUpdateRepository interface {
	Append(ctx context.Context, updates []domain.PolygonUpdate) error
	ListByPrimaryUUID(ctx context.Context, primaryUUID uuid.UUID) ([]domain.PolygonUpdate, error)
}

// CandidateMatch pairs an uploaded candidate (by index) with an existing geometry.
type CandidateMatch struct {
	Index        int
	ExistingUUID uuid.UUID
}

// SpatialRepository runs set-oriented spatial queries. Every method is a
// single round trip regardless of input size.
type SpatialRepository interface {
	// Areas returns hectare areas in input order.
	Areas(ctx context.Context, polygons []orb.Polygon) ([]float64, error)
	// BoundingBoxCandidates matches candidates whose envelope intersects an
	// active geometry of the project.
	BoundingBoxCandidates(ctx context.Context, projectID uuid.UUID, candidates []orb.Polygon) ([]CandidateMatch, error)
	// ExactMatches keeps the pairs whose geometries are exactly equal.
	ExactMatches(ctx context.Context, candidates []orb.Polygon, pairs []CandidateMatch) ([]CandidateMatch, error)
	// PointMatches finds active points of the project equal to the candidates.
	PointMatches(ctx context.Context, projectID uuid.UUID, candidates []orb.Point) ([]CandidateMatch, error)

	RecomputeCentroids(ctx context.Context, polyIDs []uuid.UUID) error
	RecomputeAreas(ctx context.Context, polyIDs []uuid.UUID) error
	RecomputeProjectCentroids(ctx context.Context, polyIDs []uuid.UUID) error
}

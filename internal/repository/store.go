package repository

import (
	"context"

	"github.com/google/uuid"
)

// Store exposes every repository bound to one transaction.
type Store interface {
	Sites() SiteRepository
	PolygonGeometries() PolygonGeometryRepository
	PointGeometries() PointGeometryRepository
	SitePolygons() SitePolygonRepository
	SitePolygonData() SitePolygonDataRepository
	PolygonUpdates() PolygonUpdateRepository
	Spatial() SpatialRepository

	// LockLineage serializes version operations on one lineage until the
	// transaction ends.
	LockLineage(ctx context.Context, primaryUUID uuid.UUID) error

	// Savepoint runs fn in a nested transaction. A failure inside fn is rolled
	// back to the savepoint and leaves the outer transaction usable.
	Savepoint(ctx context.Context, fn func(Store) error) error
}

// UnitOfWork runs fn inside one transaction: committed when fn returns nil,
// rolled back (and the rollback awaited) otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(Store) error) error
}

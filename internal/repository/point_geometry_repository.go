package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"

	"github.com/rpattn/sitepolygons/internal/domain"
)

type pointGeometryRepository struct {
	tx pgx.Tx
}

func (r *pointGeometryRepository) InsertMany(ctx context.Context, points []domain.PointGeometry) error {
	if len(points) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(points))
	coords := make([]orb.Point, len(points))
	estAreas := make([]float64, len(points))
	createdBy := make([]*uuid.UUID, len(points))
	createdAt := make([]time.Time, len(points))
	for i, p := range points {
		ids[i] = p.UUID
		coords[i] = p.Point
		estAreas[i] = p.EstArea
		createdBy[i] = p.CreatedBy
		createdAt[i] = p.CreatedAt
	}
	encoded, err := encodePoints(coords)
	if err != nil {
		return err
	}

	_, err = r.tx.Exec(ctx, `
		INSERT INTO point_geometry (uuid, geom, est_area, created_by, created_at, updated_at)
		SELECT t.id, ST_SetSRID(ST_GeomFromWKB(t.wkb), 4326), t.est_area, t.created_by, t.created_at, t.created_at
		FROM unnest($1::uuid[], $2::bytea[], $3::float8[], $4::uuid[], $5::timestamptz[])
			AS t(id, wkb, est_area, created_by, created_at)`,
		ids, encoded, estAreas, createdBy, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert point geometries: %w", err)
	}
	return nil
}

// ExistingIDs reports which of ids name a stored point.
func (r *pointGeometryRepository) ExistingIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	found := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	rows, err := r.tx.Query(ctx, `SELECT uuid FROM point_geometry WHERE uuid = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to look up point geometries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan point geometry: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to look up point geometries: %w", err)
	}
	return found, nil
}

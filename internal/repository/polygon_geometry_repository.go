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

type polygonGeometryRepository struct {
	tx pgx.Tx
}

func (r *polygonGeometryRepository) InsertMany(ctx context.Context, geometries []domain.PolygonGeometry) error {
	if len(geometries) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(geometries))
	polygons := make([]orb.Polygon, len(geometries))
	createdBy := make([]*uuid.UUID, len(geometries))
	createdAt := make([]time.Time, len(geometries))
	for i, g := range geometries {
		ids[i] = g.UUID
		polygons[i] = g.Polygon
		createdBy[i] = g.CreatedBy
		createdAt[i] = g.CreatedAt
	}
	encoded, err := encodePolygons(polygons)
	if err != nil {
		return err
	}

	_, err = r.tx.Exec(ctx, `
		INSERT INTO polygon_geometry (uuid, geom, created_by, created_at, updated_at)
		SELECT t.id, ST_SetSRID(ST_GeomFromWKB(t.wkb), 4326), t.created_by, t.created_at, t.created_at
		FROM unnest($1::uuid[], $2::bytea[], $3::uuid[], $4::timestamptz[]) AS t(id, wkb, created_by, created_at)`,
		ids, encoded, createdBy, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert polygon geometries: %w", err)
	}
	return nil
}

func (r *polygonGeometryRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.PolygonGeometry, error) {
	var (
		g   domain.PolygonGeometry
		raw []byte
	)
	err := r.tx.QueryRow(ctx, `
		SELECT uuid, ST_AsBinary(geom), created_by, created_at, updated_at
		FROM polygon_geometry WHERE uuid = $1`, id,
	).Scan(&g.UUID, &raw, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return domain.PolygonGeometry{}, handleNotFound(err, "polygon geometry %s", id)
	}

	g.Polygon, err = decodePolygon(raw)
	if err != nil {
		return domain.PolygonGeometry{}, err
	}
	return g, nil
}

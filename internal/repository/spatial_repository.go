package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
)

type spatialRepository struct {
	tx pgx.Tx
}

func (r *spatialRepository) Areas(ctx context.Context, polygons []orb.Polygon) ([]float64, error) {
	if len(polygons) == 0 {
		return []float64{}, nil
	}
	encoded, err := encodePolygons(polygons)
	if err != nil {
		return nil, err
	}

	rows, err := r.tx.Query(ctx, `
		SELECT COALESCE(ST_Area(ST_SetSRID(ST_GeomFromWKB(t.wkb), 4326)::geography), 0) / 10000.0
		FROM unnest($1::bytea[]) WITH ORDINALITY AS t(wkb, ord)
		ORDER BY t.ord`, encoded)
	if err != nil {
		return nil, spatialError("failed to compute areas", err)
	}
	defer rows.Close()

	areas := make([]float64, 0, len(polygons))
	for rows.Next() {
		var area float64
		if err := rows.Scan(&area); err != nil {
			return nil, spatialError("failed to scan area", err)
		}
		areas = append(areas, area)
	}
	if err := rows.Err(); err != nil {
		return nil, spatialError("failed to compute areas", err)
	}
	return areas, nil
}

func (r *spatialRepository) BoundingBoxCandidates(ctx context.Context, projectID uuid.UUID, candidates []orb.Polygon) ([]CandidateMatch, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	encoded, err := encodePolygons(candidates)
	if err != nil {
		return nil, err
	}

	rows, err := r.tx.Query(ctx, `
		WITH candidates AS (
			SELECT (t.ord - 1)::int AS idx, ST_SetSRID(ST_GeomFromWKB(t.wkb), 4326) AS geom
			FROM unnest($2::bytea[]) WITH ORDINALITY AS t(wkb, ord)
		)
		SELECT DISTINCT ON (c.idx, pg.uuid) c.idx, pg.uuid
		FROM candidates c
		JOIN polygon_geometry pg ON pg.geom && c.geom
		JOIN site_polygon sp ON sp.poly_id = pg.uuid AND sp.is_active
		JOIN sites s ON s.uuid = sp.site_id
		WHERE s.project_id = $1
		ORDER BY c.idx, pg.uuid`, projectID, encoded)
	if err != nil {
		return nil, spatialError("failed to query bounding box candidates", err)
	}
	matches, err := collectMatches(rows)
	if err != nil {
		return nil, spatialError("failed to scan bounding box candidates", err)
	}
	return matches, nil
}

func (r *spatialRepository) ExactMatches(ctx context.Context, candidates []orb.Polygon, pairs []CandidateMatch) ([]CandidateMatch, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	encoded, err := encodePolygons(candidates)
	if err != nil {
		return nil, err
	}

	indexes := make([]int32, len(pairs))
	existing := make([]uuid.UUID, len(pairs))
	for i, p := range pairs {
		indexes[i] = int32(p.Index)
		existing[i] = p.ExistingUUID
	}

	rows, err := r.tx.Query(ctx, `
		WITH candidates AS (
			SELECT (t.ord - 1)::int AS idx, ST_SetSRID(ST_GeomFromWKB(t.wkb), 4326) AS geom
			FROM unnest($1::bytea[]) WITH ORDINALITY AS t(wkb, ord)
		), pairs AS (
			SELECT p.idx, p.existing, p.ord
			FROM unnest($2::int[], $3::uuid[]) WITH ORDINALITY AS p(idx, existing, ord)
		)
		SELECT p.idx, p.existing
		FROM pairs p
		JOIN candidates c ON c.idx = p.idx
		JOIN polygon_geometry pg ON pg.uuid = p.existing
		WHERE ST_Equals(pg.geom, c.geom)
		ORDER BY p.ord`, encoded, indexes, existing)
	if err != nil {
		return nil, spatialError("failed to compare candidate geometries", err)
	}
	matches, err := collectMatches(rows)
	if err != nil {
		return nil, spatialError("failed to scan exact matches", err)
	}
	return matches, nil
}

func (r *spatialRepository) PointMatches(ctx context.Context, projectID uuid.UUID, candidates []orb.Point) ([]CandidateMatch, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	encoded, err := encodePoints(candidates)
	if err != nil {
		return nil, err
	}

	rows, err := r.tx.Query(ctx, `
		WITH candidates AS (
			SELECT (t.ord - 1)::int AS idx, ST_SetSRID(ST_GeomFromWKB(t.wkb), 4326) AS geom
			FROM unnest($2::bytea[]) WITH ORDINALITY AS t(wkb, ord)
		)
		SELECT DISTINCT ON (c.idx, pt.uuid) c.idx, pt.uuid
		FROM candidates c
		JOIN point_geometry pt ON pt.geom && c.geom AND ST_Equals(pt.geom, c.geom)
		JOIN site_polygon sp ON sp.point_id = pt.uuid AND sp.is_active
		JOIN sites s ON s.uuid = sp.site_id
		WHERE s.project_id = $1
		ORDER BY c.idx, pt.uuid`, projectID, encoded)
	if err != nil {
		return nil, spatialError("failed to query point duplicates", err)
	}
	matches, err := collectMatches(rows)
	if err != nil {
		return nil, spatialError("failed to scan point duplicates", err)
	}
	return matches, nil
}

func (r *spatialRepository) RecomputeCentroids(ctx context.Context, polyIDs []uuid.UUID) error {
	if len(polyIDs) == 0 {
		return nil
	}
	_, err := r.tx.Exec(ctx, `
		UPDATE site_polygon sp
		SET lat = ST_Y(ST_Centroid(pg.geom)), long = ST_X(ST_Centroid(pg.geom)), updated_at = now()
		FROM polygon_geometry pg
		WHERE pg.uuid = sp.poly_id AND sp.poly_id = ANY($1)`, polyIDs)
	if err != nil {
		return spatialError("failed to recompute centroids", err)
	}
	return nil
}

func (r *spatialRepository) RecomputeAreas(ctx context.Context, polyIDs []uuid.UUID) error {
	if len(polyIDs) == 0 {
		return nil
	}
	_, err := r.tx.Exec(ctx, `
		UPDATE site_polygon sp
		SET calc_area = COALESCE(ST_Area(pg.geom::geography), 0) / 10000.0, updated_at = now()
		FROM polygon_geometry pg
		WHERE pg.uuid = sp.poly_id AND sp.poly_id = ANY($1)`, polyIDs)
	if err != nil {
		return spatialError("failed to recompute areas", err)
	}
	return nil
}

func (r *spatialRepository) RecomputeProjectCentroids(ctx context.Context, polyIDs []uuid.UUID) error {
	if len(polyIDs) == 0 {
		return nil
	}
	_, err := r.tx.Exec(ctx, `
		WITH affected AS (
			SELECT DISTINCT s.project_id
			FROM site_polygon sp
			JOIN sites s ON s.uuid = sp.site_id
			WHERE sp.poly_id = ANY($1) AND s.project_id IS NOT NULL
		), centroids AS (
			SELECT s.project_id, AVG(sp.lat) AS lat, AVG(sp.long) AS long
			FROM site_polygon sp
			JOIN sites s ON s.uuid = sp.site_id
			WHERE sp.is_active AND s.project_id IN (SELECT project_id FROM affected)
				AND sp.lat IS NOT NULL AND sp.long IS NOT NULL
			GROUP BY s.project_id
		)
		UPDATE projects p
		SET lat = c.lat, long = c.long
		FROM centroids c
		WHERE p.id = c.project_id`, polyIDs)
	if err != nil {
		return spatialError("failed to recompute project centroids", err)
	}
	return nil
}

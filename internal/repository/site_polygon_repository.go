package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/sitepolygons/internal/domain"
)

const sitePolygonColumns = `uuid, primary_uuid, poly_id, point_id, site_id, poly_name, plantstart,
	practice, target_sys, distr, num_trees, status, is_active, source, calc_area,
	version_name, lat, long, created_by, created_at, updated_at`

var sitePolygonCopyColumns = []string{
	"uuid", "primary_uuid", "poly_id", "point_id", "site_id", "poly_name", "plantstart",
	"practice", "target_sys", "distr", "num_trees", "status", "is_active", "source", "calc_area",
	"version_name", "lat", "long", "created_by", "created_at", "updated_at",
}

type sitePolygonRepository struct {
	tx pgx.Tx
}

func (r *sitePolygonRepository) InsertMany(ctx context.Context, polygons []domain.SitePolygon) error {
	if len(polygons) == 0 {
		return nil
	}

	rows := make([][]any, len(polygons))
	for i, p := range polygons {
		a := p.Attributes
		rows[i] = []any{
			p.UUID, p.PrimaryUUID, p.PolyID, p.PointID, p.SiteID, a.PolyName, a.PlantStart,
			a.PracticeList, a.TargetSys, a.DistrList, a.NumTrees, p.Status, p.IsActive, p.Source, p.CalcArea,
			p.VersionName, p.Lat, p.Long, p.CreatedBy, p.CreatedAt, p.UpdatedAt,
		}
	}

	if _, err := r.tx.CopyFrom(ctx, pgx.Identifier{"site_polygon"}, sitePolygonCopyColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("failed to insert site polygons: %w", err)
	}
	return nil
}

func (r *sitePolygonRepository) GetByUUID(ctx context.Context, id uuid.UUID) (domain.SitePolygon, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+sitePolygonColumns+` FROM site_polygon WHERE uuid = $1`, id)
	p, err := scanSitePolygon(row)
	if err != nil {
		return domain.SitePolygon{}, handleNotFound(err, "site polygon %s", id)
	}
	return p, nil
}

func (r *sitePolygonRepository) GetActiveByPrimaryUUID(ctx context.Context, primaryUUID uuid.UUID) (domain.SitePolygon, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+sitePolygonColumns+`
		FROM site_polygon WHERE primary_uuid = $1 AND is_active`, primaryUUID)
	p, err := scanSitePolygon(row)
	if err != nil {
		return domain.SitePolygon{}, handleNotFound(err, "active version of lineage %s", primaryUUID)
	}
	return p, nil
}

func (r *sitePolygonRepository) ListByPrimaryUUID(ctx context.Context, primaryUUID uuid.UUID) ([]domain.SitePolygon, error) {
	return r.list(ctx, `SELECT `+sitePolygonColumns+`
		FROM site_polygon WHERE primary_uuid = $1 ORDER BY created_at, uuid`, primaryUUID)
}

func (r *sitePolygonRepository) ListActiveByPolyIDs(ctx context.Context, polyIDs []uuid.UUID) ([]domain.SitePolygon, error) {
	if len(polyIDs) == 0 {
		return []domain.SitePolygon{}, nil
	}
	return r.list(ctx, `SELECT `+sitePolygonColumns+`
		FROM site_polygon WHERE poly_id = ANY($1) AND is_active ORDER BY created_at, uuid`, polyIDs)
}

func (r *sitePolygonRepository) ListActiveByPointIDs(ctx context.Context, pointIDs []uuid.UUID) ([]domain.SitePolygon, error) {
	if len(pointIDs) == 0 {
		return []domain.SitePolygon{}, nil
	}
	return r.list(ctx, `SELECT `+sitePolygonColumns+`
		FROM site_polygon WHERE point_id = ANY($1) AND is_active ORDER BY created_at, uuid`, pointIDs)
}

func (r *sitePolygonRepository) DeactivateLineage(ctx context.Context, primaryUUID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE site_polygon SET is_active = false, updated_at = now()
		WHERE primary_uuid = $1 AND is_active`, primaryUUID)
	if err != nil {
		return fmt.Errorf("failed to deactivate lineage %s: %w", primaryUUID, err)
	}
	return nil
}

func (r *sitePolygonRepository) Activate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `UPDATE site_polygon SET is_active = true, updated_at = now() WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to activate site polygon %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("site polygon %s", id)
	}
	return nil
}

func (r *sitePolygonRepository) UpdateStatus(ctx context.Context, ids []uuid.UUID, status string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.tx.Exec(ctx, `UPDATE site_polygon SET status = $2, updated_at = now() WHERE uuid = ANY($1)`, ids, status)
	if err != nil {
		return fmt.Errorf("failed to update site polygon status: %w", err)
	}
	return nil
}

func (r *sitePolygonRepository) list(ctx context.Context, query string, args ...any) ([]domain.SitePolygon, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list site polygons: %w", err)
	}
	defer rows.Close()

	var out []domain.SitePolygon
	for rows.Next() {
		p, err := scanSitePolygon(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site polygon: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanSitePolygon(row pgx.Row) (domain.SitePolygon, error) {
	var p domain.SitePolygon
	a := &p.Attributes
	err := row.Scan(
		&p.UUID, &p.PrimaryUUID, &p.PolyID, &p.PointID, &p.SiteID, &a.PolyName, &a.PlantStart,
		&a.PracticeList, &a.TargetSys, &a.DistrList, &a.NumTrees, &p.Status, &p.IsActive, &p.Source, &p.CalcArea,
		&p.VersionName, &p.Lat, &p.Long, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

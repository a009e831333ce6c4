package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/sitepolygons/internal/domain"
)

type polygonUpdateRepository struct {
	tx pgx.Tx
}

func (r *polygonUpdateRepository) Append(ctx context.Context, updates []domain.PolygonUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	rows := make([][]any, len(updates))
	for i, u := range updates {
		rows[i] = []any{u.UUID, u.SitePolygonUUID, u.VersionName, u.Change, u.Comment, u.CreatedBy, u.Type, u.OldStatus, u.NewStatus, u.CreatedAt}
	}

	_, err := r.tx.CopyFrom(ctx, pgx.Identifier{"polygon_updates"},
		[]string{"uuid", "site_polygon_uuid", "version_name", "change", "comment", "created_by", "type", "old_status", "new_status", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to append polygon updates: %w", err)
	}
	return nil
}

func (r *polygonUpdateRepository) ListByPrimaryUUID(ctx context.Context, primaryUUID uuid.UUID) ([]domain.PolygonUpdate, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT uuid, site_polygon_uuid, version_name, change, comment, created_by, type, old_status, new_status, created_at
		FROM polygon_updates WHERE site_polygon_uuid = $1 ORDER BY created_at, uuid`, primaryUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list polygon updates: %w", err)
	}
	defer rows.Close()

	var out []domain.PolygonUpdate
	for rows.Next() {
		var u domain.PolygonUpdate
		if err := rows.Scan(&u.UUID, &u.SitePolygonUUID, &u.VersionName, &u.Change, &u.Comment, &u.CreatedBy, &u.Type, &u.OldStatus, &u.NewStatus, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan polygon update: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/sitepolygons/internal/domain"
)

type siteRepository struct {
	tx pgx.Tx
}

func (r *siteRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Site, error) {
	if len(ids) == 0 {
		return []domain.Site{}, nil
	}

	rows, err := r.tx.Query(ctx, `SELECT uuid, project_id, name FROM sites WHERE uuid = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get sites by IDs: %w", err)
	}
	defer rows.Close()

	sites := make([]domain.Site, 0, len(ids))
	for rows.Next() {
		var site domain.Site
		if err := rows.Scan(&site.UUID, &site.ProjectID, &site.Name); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

func (r *siteRepository) ProjectID(ctx context.Context, siteID uuid.UUID) (*uuid.UUID, error) {
	var projectID *uuid.UUID
	err := r.tx.QueryRow(ctx, `SELECT project_id FROM sites WHERE uuid = $1`, siteID).Scan(&projectID)
	if err != nil {
		return nil, handleNotFound(err, "site %s", siteID)
	}
	return projectID, nil
}

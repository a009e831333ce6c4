package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/sitepolygons/internal/domain"
)

type sitePolygonDataRepository struct {
	tx pgx.Tx
}

func (r *sitePolygonDataRepository) InsertMany(ctx context.Context, data []domain.SitePolygonData) error {
	if len(data) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(data))
	for _, d := range data {
		payload, err := json.Marshal(d.Data)
		if err != nil {
			return fmt.Errorf("failed to encode additional data for %s: %w", d.SitePolygonUUID, err)
		}
		rows = append(rows, []any{d.SitePolygonUUID, payload})
	}

	_, err := r.tx.CopyFrom(ctx, pgx.Identifier{"site_polygon_data"}, []string{"site_polygon_uuid", "data"}, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to insert site polygon data: %w", err)
	}
	return nil
}

// GetBySitePolygonUUID merges every additional-data record of one version,
// later records winning. A version without records yields an empty map.
func (r *sitePolygonDataRepository) GetBySitePolygonUUID(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	rows, err := r.tx.Query(ctx, `SELECT data FROM site_polygon_data WHERE site_polygon_uuid = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load site polygon data for %s: %w", id, err)
	}
	defer rows.Close()

	merged := map[string]any{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan site polygon data: %w", err)
		}
		var data map[string]any
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("failed to decode site polygon data for %s: %w", id, err)
		}
		for k, v := range data {
			merged[k] = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load site polygon data for %s: %w", id, err)
	}
	return merged, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/rpattn/sitepolygons/internal/db"
	"github.com/rpattn/sitepolygons/internal/domain"
)

type unitOfWork struct {
	conn *db.Connection
}

// NewUnitOfWork wires a unit of work backed by the connection pool.
func NewUnitOfWork(conn *db.Connection) UnitOfWork {
	return &unitOfWork{conn: conn}
}

func (u *unitOfWork) WithinTx(ctx context.Context, fn func(Store) error) error {
	if u.conn == nil || u.conn.Pool == nil {
		return fmt.Errorf("database connection not initialized: %w", domain.ErrSpatialStoreUnavailable)
	}
	return u.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(newPostgresStore(tx))
	})
}

// postgresStore binds every repository to one pgx transaction.
type postgresStore struct {
	tx pgx.Tx
}

func newPostgresStore(tx pgx.Tx) *postgresStore {
	return &postgresStore{tx: tx}
}

func (s *postgresStore) Sites() SiteRepository { return &siteRepository{tx: s.tx} }

func (s *postgresStore) PolygonGeometries() PolygonGeometryRepository {
	return &polygonGeometryRepository{tx: s.tx}
}

func (s *postgresStore) PointGeometries() PointGeometryRepository {
	return &pointGeometryRepository{tx: s.tx}
}

func (s *postgresStore) SitePolygons() SitePolygonRepository { return &sitePolygonRepository{tx: s.tx} }

func (s *postgresStore) SitePolygonData() SitePolygonDataRepository {
	return &sitePolygonDataRepository{tx: s.tx}
}

func (s *postgresStore) PolygonUpdates() PolygonUpdateRepository {
	return &polygonUpdateRepository{tx: s.tx}
}

func (s *postgresStore) Spatial() SpatialRepository { return &spatialRepository{tx: s.tx} }

func (s *postgresStore) LockLineage(ctx context.Context, primaryUUID uuid.UUID) error {
	if _, err := s.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, primaryUUID.String()); err != nil {
		return fmt.Errorf("failed to lock lineage %s: %w", primaryUUID, err)
	}
	return nil
}

func (s *postgresStore) Savepoint(ctx context.Context, fn func(Store) error) error {
	sp, err := s.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}

	if err := fn(newPostgresStore(sp)); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("savepoint error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func handleNotFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFoundf(format, args...)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func spatialError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrSpatialStoreUnavailable, err)
}

func encodePolygons(polygons []orb.Polygon) ([][]byte, error) {
	out := make([][]byte, len(polygons))
	for i, polygon := range polygons {
		encoded, err := wkb.Marshal(polygon)
		if err != nil {
			return nil, fmt.Errorf("failed to encode polygon %d: %w", i, err)
		}
		out[i] = encoded
	}
	return out, nil
}

func encodePoints(points []orb.Point) ([][]byte, error) {
	out := make([][]byte, len(points))
	for i, point := range points {
		encoded, err := wkb.Marshal(point)
		if err != nil {
			return nil, fmt.Errorf("failed to encode point %d: %w", i, err)
		}
		out[i] = encoded
	}
	return out, nil
}

func decodePolygon(data []byte) (orb.Polygon, error) {
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode geometry: %w", err)
	}
	polygon, ok := g.(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("unexpected geometry type %T", g)
	}
	return polygon, nil
}

func collectMatches(rows pgx.Rows) ([]CandidateMatch, error) {
	defer rows.Close()
	var matches []CandidateMatch
	for rows.Next() {
		var match CandidateMatch
		var idx int32
		if err := rows.Scan(&idx, &match.ExistingUUID); err != nil {
			return nil, err
		}
		match.Index = int(idx)
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

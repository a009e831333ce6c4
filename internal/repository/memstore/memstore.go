// Package memstore is an in-memory implementation of the repository layer
// with transaction and savepoint rollback semantics. Spatial queries are
// answered with orb instead of PostGIS. Used by tests and the dry-run import.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/rpattn/sitepolygons/internal/domain"
	"github.com/rpattn/sitepolygons/internal/repository"
)

// Operation names accepted by FailOn.
const (
	OpSitesGet              = "sites.get"
	OpPolygonGeometryInsert = "polygon_geometry.insert"
	OpPointGeometryInsert   = "point_geometry.insert"
	OpPointGeometryRead     = "point_geometry.read"
	OpSitePolygonInsert     = "site_polygon.insert"
	OpSitePolygonRead       = "site_polygon.read"
	OpSitePolygonUpdate     = "site_polygon.update"
	OpSitePolygonDataInsert = "site_polygon_data.insert"
	OpSitePolygonDataRead   = "site_polygon_data.read"
	OpPolygonUpdatesAppend  = "polygon_updates.append"
	OpLockLineage           = "lineage.lock"
	OpSpatialAreas          = "spatial.areas"
	OpSpatialBoundingBox    = "spatial.bbox"
	OpSpatialExact          = "spatial.exact"
	OpSpatialPoints         = "spatial.points"
	OpSpatialRecompute      = "spatial.recompute"
)

type state struct {
	projects     map[uuid.UUID]domain.Project
	sites        map[uuid.UUID]domain.Site
	polygons     map[uuid.UUID]domain.PolygonGeometry
	points       map[uuid.UUID]domain.PointGeometry
	sitePolygons map[uuid.UUID]domain.SitePolygon
	order        []uuid.UUID
	data         []domain.SitePolygonData
	updates      []domain.PolygonUpdate
}

func newState() state {
	return state{
		projects:     map[uuid.UUID]domain.Project{},
		sites:        map[uuid.UUID]domain.Site{},
		polygons:     map[uuid.UUID]domain.PolygonGeometry{},
		points:       map[uuid.UUID]domain.PointGeometry{},
		sitePolygons: map[uuid.UUID]domain.SitePolygon{},
	}
}

func (s state) clone() state {
	out := state{
		projects:     maps.Clone(s.projects),
		sites:        maps.Clone(s.sites),
		polygons:     maps.Clone(s.polygons),
		points:       maps.Clone(s.points),
		sitePolygons: make(map[uuid.UUID]domain.SitePolygon, len(s.sitePolygons)),
		order:        slices.Clone(s.order),
		data:         slices.Clone(s.data),
		updates:      slices.Clone(s.updates),
	}
	for id, p := range s.sitePolygons {
		out.sitePolygons[id] = cloneSitePolygon(p)
	}
	return out
}

// Store holds committed state. Transactions run one at a time.
type Store struct {
	mu       sync.Mutex
	state    state
	failMu   sync.RWMutex
	failures map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState(), failures: map[string]error{}}
}

var _ repository.UnitOfWork = (*Store)(nil)

// AddProject seeds a project outside any transaction.
func (s *Store) AddProject(p domain.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.projects[p.ID] = p
}

// AddSite seeds a site outside any transaction.
func (s *Store) AddSite(site domain.Site) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.sites[site.UUID] = site
}

// FailOn makes every later call of op return err until ClearFailures.
func (s *Store) FailOn(op string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failures[op] = err
}

func (s *Store) ClearFailures() {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failures = map[string]error{}
}

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.failMu.RLock()
	defer s.failMu.RUnlock()
	if err, ok := s.failures[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// WithinTx runs fn against a private copy of the state and publishes it only
// when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	tx := &txStore{store: s, state: &working}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = working
	return nil
}

// Snapshot is a read-only copy of committed state for assertions.
type Snapshot struct {
	Projects          map[uuid.UUID]domain.Project
	Sites             map[uuid.UUID]domain.Site
	PolygonGeometries map[uuid.UUID]domain.PolygonGeometry
	PointGeometries   map[uuid.UUID]domain.PointGeometry
	SitePolygons      []domain.SitePolygon // insertion order
	SitePolygonData   []domain.SitePolygonData
	PolygonUpdates    []domain.PolygonUpdate
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state.clone()
	snap := Snapshot{
		Projects:          st.projects,
		Sites:             st.sites,
		PolygonGeometries: st.polygons,
		PointGeometries:   st.points,
		SitePolygonData:   st.data,
		PolygonUpdates:    st.updates,
	}
	for _, id := range st.order {
		snap.SitePolygons = append(snap.SitePolygons, st.sitePolygons[id])
	}
	return snap
}

// ActiveByPrimaryUUID groups the committed active versions by lineage.
func (s Snapshot) ActiveByPrimaryUUID() map[uuid.UUID][]domain.SitePolygon {
	out := map[uuid.UUID][]domain.SitePolygon{}
	for _, p := range s.SitePolygons {
		if p.IsActive {
			out[p.PrimaryUUID] = append(out[p.PrimaryUUID], p)
		}
	}
	return out
}

type txStore struct {
	store *Store
	state *state
}

var _ repository.Store = (*txStore)(nil)

func (t *txStore) Sites() repository.SiteRepository { return siteRepo{t} }
func (t *txStore) PolygonGeometries() repository.PolygonGeometryRepository {
	return polygonGeometryRepo{t}
}
func (t *txStore) PointGeometries() repository.PointGeometryRepository { return pointGeometryRepo{t} }
func (t *txStore) SitePolygons() repository.SitePolygonRepository      { return sitePolygonRepo{t} }
func (t *txStore) SitePolygonData() repository.SitePolygonDataRepository {
	return sitePolygonDataRepo{t}
}
func (t *txStore) PolygonUpdates() repository.PolygonUpdateRepository { return polygonUpdateRepo{t} }
func (t *txStore) Spatial() repository.SpatialRepository              { return spatialRepo{t} }

// LockLineage only honours failure injection; transactions are already serial.
func (t *txStore) LockLineage(ctx context.Context, _ uuid.UUID) error {
	return t.store.check(ctx, OpLockLineage)
}

func (t *txStore) Savepoint(ctx context.Context, fn func(repository.Store) error) error {
	nested := t.state.clone()
	if err := fn(&txStore{store: t.store, state: &nested}); err != nil {
		return err
	}
	*t.state = nested
	return nil
}

func cloneSitePolygon(p domain.SitePolygon) domain.SitePolygon {
	p.Attributes = p.Attributes.Clone()
	return p
}

package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/sitepolygons/internal/domain"
)

type siteRepo struct{ tx *txStore }

func (r siteRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Site, error) {
	if err := r.tx.store.check(ctx, OpSitesGet); err != nil {
		return nil, err
	}
	out := make([]domain.Site, 0, len(ids))
	for _, id := range ids {
		if site, ok := r.tx.state.sites[id]; ok {
			out = append(out, site)
		}
	}
	return out, nil
}

func (r siteRepo) ProjectID(ctx context.Context, siteID uuid.UUID) (*uuid.UUID, error) {
	if err := r.tx.store.check(ctx, OpSitesGet); err != nil {
		return nil, err
	}
	site, ok := r.tx.state.sites[siteID]
	if !ok {
		return nil, domain.NotFoundf("site %s", siteID)
	}
	return site.ProjectID, nil
}

type polygonGeometryRepo struct{ tx *txStore }

func (r polygonGeometryRepo) InsertMany(ctx context.Context, geometries []domain.PolygonGeometry) error {
	if err := r.tx.store.check(ctx, OpPolygonGeometryInsert); err != nil {
		return err
	}
	for _, g := range geometries {
		if _, exists := r.tx.state.polygons[g.UUID]; exists {
			return fmt.Errorf("duplicate polygon geometry %s", g.UUID)
		}
	}
	for _, g := range geometries {
		r.tx.state.polygons[g.UUID] = g
	}
	return nil
}

func (r polygonGeometryRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.PolygonGeometry, error) {
	if err := ctx.Err(); err != nil {
		return domain.PolygonGeometry{}, err
	}
	g, ok := r.tx.state.polygons[id]
	if !ok {
		return domain.PolygonGeometry{}, domain.NotFoundf("polygon geometry %s", id)
	}
	return g, nil
}

type pointGeometryRepo struct{ tx *txStore }

func (r pointGeometryRepo) InsertMany(ctx context.Context, points []domain.PointGeometry) error {
	if err := r.tx.store.check(ctx, OpPointGeometryInsert); err != nil {
		return err
	}
	for _, p := range points {
		if _, exists := r.tx.state.points[p.UUID]; exists {
			return fmt.Errorf("duplicate point geometry %s", p.UUID)
		}
	}
	for _, p := range points {
		r.tx.state.points[p.UUID] = p
	}
	return nil
}

func (r pointGeometryRepo) ExistingIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	if err := r.tx.store.check(ctx, OpPointGeometryRead); err != nil {
		return nil, err
	}
	found := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.tx.state.points[id]; ok {
			found[id] = true
		}
	}
	return found, nil
}

type sitePolygonRepo struct{ tx *txStore }

// InsertMany enforces the same constraints as the schema: geometry and site
// references must resolve and a lineage has at most one active member.
func (r sitePolygonRepo) InsertMany(ctx context.Context, polygons []domain.SitePolygon) error {
	if err := r.tx.store.check(ctx, OpSitePolygonInsert); err != nil {
		return err
	}
	st := r.tx.state
	active := r.activeLineages()
	for _, p := range polygons {
		if _, exists := st.sitePolygons[p.UUID]; exists {
			return fmt.Errorf("duplicate site polygon %s", p.UUID)
		}
		if _, ok := st.polygons[p.PolyID]; !ok {
			return fmt.Errorf("site polygon %s references missing geometry %s", p.UUID, p.PolyID)
		}
		if p.PointID != nil {
			if _, ok := st.points[*p.PointID]; !ok {
				return fmt.Errorf("site polygon %s references missing point %s", p.UUID, *p.PointID)
			}
		}
		if _, ok := st.sites[p.SiteID]; !ok {
			return fmt.Errorf("site polygon %s references missing site %s", p.UUID, p.SiteID)
		}
		if p.IsActive {
			if active[p.PrimaryUUID] {
				return fmt.Errorf("lineage %s already has an active version", p.PrimaryUUID)
			}
			active[p.PrimaryUUID] = true
		}
	}
	for _, p := range polygons {
		st.sitePolygons[p.UUID] = cloneSitePolygon(p)
		st.order = append(st.order, p.UUID)
	}
	return nil
}

func (r sitePolygonRepo) activeLineages() map[uuid.UUID]bool {
	active := map[uuid.UUID]bool{}
	for _, p := range r.tx.state.sitePolygons {
		if p.IsActive {
			active[p.PrimaryUUID] = true
		}
	}
	return active
}

func (r sitePolygonRepo) GetByUUID(ctx context.Context, id uuid.UUID) (domain.SitePolygon, error) {
	if err := r.tx.store.check(ctx, OpSitePolygonRead); err != nil {
		return domain.SitePolygon{}, err
	}
	p, ok := r.tx.state.sitePolygons[id]
	if !ok {
		return domain.SitePolygon{}, domain.NotFoundf("site polygon %s", id)
	}
	return cloneSitePolygon(p), nil
}

func (r sitePolygonRepo) GetActiveByPrimaryUUID(ctx context.Context, primaryUUID uuid.UUID) (domain.SitePolygon, error) {
	if err := r.tx.store.check(ctx, OpSitePolygonRead); err != nil {
		return domain.SitePolygon{}, err
	}
	for _, p := range r.ordered() {
		if p.PrimaryUUID == primaryUUID && p.IsActive {
			return p, nil
		}
	}
	return domain.SitePolygon{}, domain.NotFoundf("active version of lineage %s", primaryUUID)
}

func (r sitePolygonRepo) ListByPrimaryUUID(ctx context.Context, primaryUUID uuid.UUID) ([]domain.SitePolygon, error) {
	if err := r.tx.store.check(ctx, OpSitePolygonRead); err != nil {
		return nil, err
	}
	return r.filter(func(p domain.SitePolygon) bool { return p.PrimaryUUID == primaryUUID }), nil
}

func (r sitePolygonRepo) ListActiveByPolyIDs(ctx context.Context, polyIDs []uuid.UUID) ([]domain.SitePolygon, error) {
	if err := r.tx.store.check(ctx, OpSitePolygonRead); err != nil {
		return nil, err
	}
	return r.filter(func(p domain.SitePolygon) bool {
		return p.IsActive && slices.Contains(polyIDs, p.PolyID)
	}), nil
}

func (r sitePolygonRepo) ListActiveByPointIDs(ctx context.Context, pointIDs []uuid.UUID) ([]domain.SitePolygon, error) {
	if err := r.tx.store.check(ctx, OpSitePolygonRead); err != nil {
		return nil, err
	}
	return r.filter(func(p domain.SitePolygon) bool {
		return p.IsActive && p.PointID != nil && slices.Contains(pointIDs, *p.PointID)
	}), nil
}

func (r sitePolygonRepo) DeactivateLineage(ctx context.Context, primaryUUID uuid.UUID) error {
	if err := r.tx.store.check(ctx, OpSitePolygonUpdate); err != nil {
		return err
	}
	now := time.Now().UTC()
	for id, p := range r.tx.state.sitePolygons {
		if p.PrimaryUUID == primaryUUID && p.IsActive {
			p.IsActive = false
			p.UpdatedAt = now
			r.tx.state.sitePolygons[id] = p
		}
	}
	return nil
}

func (r sitePolygonRepo) Activate(ctx context.Context, id uuid.UUID) error {
	if err := r.tx.store.check(ctx, OpSitePolygonUpdate); err != nil {
		return err
	}
	p, ok := r.tx.state.sitePolygons[id]
	if !ok {
		return domain.NotFoundf("site polygon %s", id)
	}
	if p.IsActive {
		return nil
	}
	if r.activeLineages()[p.PrimaryUUID] {
		return fmt.Errorf("lineage %s already has an active version", p.PrimaryUUID)
	}
	p.IsActive = true
	p.UpdatedAt = time.Now().UTC()
	r.tx.state.sitePolygons[id] = p
	return nil
}

func (r sitePolygonRepo) UpdateStatus(ctx context.Context, ids []uuid.UUID, status string) error {
	if err := r.tx.store.check(ctx, OpSitePolygonUpdate); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, id := range ids {
		if p, ok := r.tx.state.sitePolygons[id]; ok {
			p.Status = status
			p.UpdatedAt = now
			r.tx.state.sitePolygons[id] = p
		}
	}
	return nil
}

func (r sitePolygonRepo) ordered() []domain.SitePolygon {
	out := make([]domain.SitePolygon, 0, len(r.tx.state.order))
	for _, id := range r.tx.state.order {
		out = append(out, cloneSitePolygon(r.tx.state.sitePolygons[id]))
	}
	return out
}

func (r sitePolygonRepo) filter(keep func(domain.SitePolygon) bool) []domain.SitePolygon {
	var out []domain.SitePolygon
	for _, p := range r.ordered() {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

type sitePolygonDataRepo struct{ tx *txStore }

func (r sitePolygonDataRepo) InsertMany(ctx context.Context, data []domain.SitePolygonData) error {
	if err := r.tx.store.check(ctx, OpSitePolygonDataInsert); err != nil {
		return err
	}
	for _, d := range data {
		if _, ok := r.tx.state.sitePolygons[d.SitePolygonUUID]; !ok {
			return fmt.Errorf("additional data references missing site polygon %s", d.SitePolygonUUID)
		}
	}
	for _, d := range data {
		r.tx.state.data = append(r.tx.state.data, domain.SitePolygonData{
			SitePolygonUUID: d.SitePolygonUUID,
			Data:            maps.Clone(d.Data),
		})
	}
	return nil
}

func (r sitePolygonDataRepo) GetBySitePolygonUUID(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	if err := r.tx.store.check(ctx, OpSitePolygonDataRead); err != nil {
		return nil, err
	}
	merged := map[string]any{}
	for _, d := range r.tx.state.data {
		if d.SitePolygonUUID == id {
			maps.Copy(merged, d.Data)
		}
	}
	return merged, nil
}

type polygonUpdateRepo struct{ tx *txStore }

func (r polygonUpdateRepo) Append(ctx context.Context, updates []domain.PolygonUpdate) error {
	if err := r.tx.store.check(ctx, OpPolygonUpdatesAppend); err != nil {
		return err
	}
	r.tx.state.updates = append(r.tx.state.updates, updates...)
	return nil
}

func (r polygonUpdateRepo) ListByPrimaryUUID(ctx context.Context, primaryUUID uuid.UUID) ([]domain.PolygonUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.PolygonUpdate
	for _, u := range r.tx.state.updates {
		if u.SitePolygonUUID == primaryUUID {
			out = append(out, u)
		}
	}
	return out, nil
}

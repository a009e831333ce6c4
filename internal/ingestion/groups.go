package ingestion

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/rpattn/sitepolygons/internal/domain"
	"github.com/rpattn/sitepolygons/internal/duplicates"
	"github.com/rpattn/sitepolygons/internal/geometry"
	"github.com/rpattn/sitepolygons/internal/properties"
	"github.com/rpattn/sitepolygons/internal/repository"
	"github.com/rpattn/sitepolygons/internal/versioning"
)

// uploadRun carries the state of one upload inside its transaction.
type uploadRun struct {
	service *Service
	store   repository.Store
	actor   domain.Actor
	source  *string
	now     time.Time
	result  *UploadResult

	newPolyIDs []uuid.UUID
}

func (r *uploadRun) processGroup(ctx context.Context, g *group) error {
	if g.kind == domain.GeometryKindPoint {
		return r.processPoints(ctx, g)
	}
	return r.processPolygons(ctx, g)
}

func (r *uploadRun) processPolygons(ctx context.Context, g *group) error {
	boundaries := make([]orb.Geometry, len(g.features))
	for i, f := range g.features {
		boundaries[i] = f.geometry
	}
	parts, sources, err := geometry.Expand(boundaries)
	if err != nil {
		return err
	}

	found, err := r.service.detector.DetectPolygons(ctx, r.store, g.siteID, parts, duplicates.FailOpen)
	if err != nil {
		return err
	}

	var (
		remaining []orb.Geometry
		owners    []feature
		dupIDs    []uuid.UUID
	)
	for i, part := range parts {
		if existing, ok := found[i]; ok {
			dupIDs = append(dupIDs, existing)
			continue
		}
		remaining = append(remaining, part)
		owners = append(owners, g.features[sources[i]])
	}
	if err := r.addDuplicates(ctx, dupIDs, false); err != nil {
		return err
	}

	prepared, err := geometry.Prepare(ctx, r.store.Spatial(), remaining)
	if err != nil {
		return err
	}
	knownPoints, err := r.knownPoints(ctx, owners)
	if err != nil {
		return err
	}

	geoms := make([]domain.PolygonGeometry, 0, len(prepared))
	polygons := make([]domain.SitePolygon, 0, len(prepared))
	polyOwners := make([]feature, 0, len(prepared))
	for _, p := range prepared {
		owner := linkPoint(owners[p.Source], knownPoints)
		geoms = append(geoms, domain.NewPolygonGeometry(p.UUID, p.Polygon, r.actor.ID))
		sp := r.newSitePolygon(g.siteID, p.UUID, owner, p.Area)
		sp.PointID = owner.props.PointID
		polygons = append(polygons, sp)
		polyOwners = append(polyOwners, owner)
	}
	return r.persist(ctx, nil, geoms, polygons, polyOwners, prepared)
}

// knownPoints looks up the point references carried by polygon features.
func (r *uploadRun) knownPoints(ctx context.Context, fs []feature) (map[uuid.UUID]bool, error) {
	var ids []uuid.UUID
	for _, f := range fs {
		if f.props.PointID != nil {
			ids = append(ids, *f.props.PointID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.store.PointGeometries().ExistingIDs(ctx, ids)
}

// linkPoint keeps a point reference only when the point exists. An
// unresolvable reference is kept verbatim with the additional data.
func linkPoint(f feature, known map[uuid.UUID]bool) feature {
	if f.props.PointID == nil || known[*f.props.PointID] {
		return f
	}
	extra := maps.Clone(f.props.Extra)
	if extra == nil {
		extra = map[string]any{}
	}
	extra["point_id"] = f.props.PointID.String()
	f.props.Extra = extra
	f.props.PointID = nil
	return f
}

func (r *uploadRun) processPoints(ctx context.Context, g *group) error {
	points := make([]orb.Point, len(g.features))
	for i, f := range g.features {
		points[i] = f.geometry.(orb.Point)
	}

	found, err := r.service.detector.DetectPoints(ctx, r.store, g.siteID, points, duplicates.FailOpen)
	if err != nil {
		return err
	}

	var (
		inputs []geometry.PointInput
		owners []feature
		dupIDs []uuid.UUID
	)
	for i, f := range g.features {
		if existing, ok := found[i]; ok {
			dupIDs = append(dupIDs, existing)
			continue
		}
		inputs = append(inputs, geometry.PointInput{Point: points[i], EstArea: *f.props.EstArea})
		owners = append(owners, f)
	}
	if err := r.addDuplicates(ctx, dupIDs, true); err != nil {
		return err
	}

	tessellated, err := r.service.tessellator.Tessellate(inputs)
	if err != nil {
		return err
	}
	if len(tessellated.Dropped) > 0 {
		r.result.DroppedPoints += len(tessellated.Dropped)
		dropped := make([]int, len(tessellated.Dropped))
		for i, idx := range tessellated.Dropped {
			dropped[i] = owners[idx].index
		}
		r.service.logger.Warn("points dropped during tessellation", "site_id", g.siteID, "features", dropped)
	}

	boundaries := make([]orb.Geometry, len(tessellated.Polygons))
	for i, t := range tessellated.Polygons {
		boundaries[i] = t.Polygon
	}
	prepared, err := geometry.Prepare(ctx, r.store.Spatial(), boundaries)
	if err != nil {
		return err
	}

	pointGeoms := make([]domain.PointGeometry, 0, len(prepared))
	geoms := make([]domain.PolygonGeometry, 0, len(prepared))
	polygons := make([]domain.SitePolygon, 0, len(prepared))
	polyOwners := make([]feature, 0, len(prepared))
	for _, p := range prepared {
		input := inputs[tessellated.Polygons[p.Source].Index]
		owner := owners[tessellated.Polygons[p.Source].Index]

		point := domain.NewPointGeometry(input.Point, input.EstArea, r.actor.ID)
		pointGeoms = append(pointGeoms, point)
		geoms = append(geoms, domain.NewPolygonGeometry(p.UUID, p.Polygon, r.actor.ID))

		sp := r.newSitePolygon(g.siteID, p.UUID, owner, p.Area)
		sp.PointID = &point.UUID
		polygons = append(polygons, sp)
		polyOwners = append(polyOwners, owner)
	}
	return r.persist(ctx, pointGeoms, geoms, polygons, polyOwners, prepared)
}

// addDuplicates fetches the existing active rows for matched geometries and
// emits one finding per duplicate input.
func (r *uploadRun) addDuplicates(ctx context.Context, existingIDs []uuid.UUID, byPoint bool) error {
	if len(existingIDs) == 0 {
		return nil
	}

	var (
		rows []domain.SitePolygon
		err  error
	)
	if byPoint {
		rows, err = r.store.SitePolygons().ListActiveByPointIDs(ctx, existingIDs)
	} else {
		rows, err = r.store.SitePolygons().ListActiveByPolyIDs(ctx, existingIDs)
	}
	if err != nil {
		return err
	}

	byGeometry := make(map[uuid.UUID]domain.SitePolygon, len(rows))
	for _, row := range rows {
		key := row.PolyID
		if byPoint && row.PointID != nil {
			key = *row.PointID
		}
		if _, ok := byGeometry[key]; !ok {
			byGeometry[key] = row
		}
	}

	included := map[uuid.UUID]bool{}
	for _, id := range existingIDs {
		row, ok := byGeometry[id]
		if !ok {
			continue
		}
		r.result.Findings = append(r.result.Findings, domain.DuplicateFinding(row))
		if !included[row.UUID] {
			included[row.UUID] = true
			r.result.Duplicates = append(r.result.Duplicates, row)
		}
	}
	return nil
}

func (r *uploadRun) newSitePolygon(siteID, polyID uuid.UUID, f feature, area float64) domain.SitePolygon {
	sp := domain.NewSitePolygon(siteID, polyID, f.props.Attributes, f.props.Status)
	sp.CreatedBy = r.actor.ID
	sp.CreatedAt, sp.UpdatedAt = r.now, r.now
	sp.Source = r.source
	if f.props.Source != nil {
		sp.Source = f.props.Source
	}
	calcArea := area
	sp.CalcArea = &calcArea
	label := domain.VersionLabel(sp.Attributes.PolyName, r.now, r.actor.Name)
	sp.VersionName = &label
	return sp
}

// persist writes one group. Geometries go first so polygon rows can
// reference them.
func (r *uploadRun) persist(ctx context.Context, points []domain.PointGeometry, geoms []domain.PolygonGeometry, polygons []domain.SitePolygon, owners []feature, prepared []geometry.Prepared) error {
	cfg := r.service.cfg
	if err := insertChunked(ctx, cfg, points, r.store.PointGeometries().InsertMany); err != nil {
		return err
	}
	if err := insertChunked(ctx, cfg, geoms, r.store.PolygonGeometries().InsertMany); err != nil {
		return err
	}
	if err := insertChunked(ctx, cfg, polygons, r.store.SitePolygons().InsertMany); err != nil {
		return err
	}

	var data []domain.SitePolygonData
	for i, sp := range polygons {
		if extra := owners[i].props.Extra; len(extra) > 0 {
			data = append(data, domain.SitePolygonData{SitePolygonUUID: sp.UUID, Data: extra})
		}
	}
	if err := insertChunked(ctx, cfg, data, r.store.SitePolygonData().InsertMany); err != nil {
		return err
	}

	for _, p := range prepared {
		r.newPolyIDs = append(r.newPolyIDs, p.UUID)
	}
	r.result.Created = append(r.result.Created, polygons...)
	return nil
}

// replace routes a feature tagged with a base version to the versioning
// engine instead of creating a new lineage.
func (r *uploadRun) replace(ctx context.Context, f feature) error {
	polyID, pointID, err := r.service.prepareGeometry(ctx, r.store, f.index, f.geometry, f.props.EstArea, r.actor)
	if err != nil {
		return err
	}
	if pointID == nil {
		known, err := r.knownPoints(ctx, []feature{f})
		if err != nil {
			return err
		}
		f = linkPoint(f, known)
		pointID = f.props.PointID
	}

	source := r.source
	if f.props.Source != nil {
		source = f.props.Source
	}
	res, err := r.service.versions.CreateVersion(ctx, r.store, versioning.VersionInput{
		BaseUUID:      *f.props.BaseVersion,
		Changes:       properties.NormalizeChanges(f.raw),
		NewGeometryID: &polyID,
		NewPointID:    pointID,
		Data:          f.props.Extra,
		Actor:         r.actor,
		Source:        source,
	})
	if err != nil {
		return err
	}
	r.result.Versions = append(r.result.Versions, res.Version)
	return nil
}

// finish runs the derived-column passes once over every new geometry and
// refreshes the returned rows.
func (r *uploadRun) finish(ctx context.Context) error {
	if len(r.newPolyIDs) == 0 {
		return nil
	}
	spatial := r.store.Spatial()
	if err := spatial.RecomputeCentroids(ctx, r.newPolyIDs); err != nil {
		return err
	}
	if err := spatial.RecomputeAreas(ctx, r.newPolyIDs); err != nil {
		return err
	}
	if err := spatial.RecomputeProjectCentroids(ctx, r.newPolyIDs); err != nil {
		return err
	}

	rows, err := r.store.SitePolygons().ListActiveByPolyIDs(ctx, r.newPolyIDs)
	if err != nil {
		return err
	}
	fresh := make(map[uuid.UUID]domain.SitePolygon, len(rows))
	for _, row := range rows {
		fresh[row.UUID] = row
	}
	for i, created := range r.result.Created {
		if row, ok := fresh[created.UUID]; ok {
			r.result.Created[i] = row
		}
	}
	return nil
}

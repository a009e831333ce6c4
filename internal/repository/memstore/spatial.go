package memstore

import (
	"context"
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/rpattn/sitepolygons/internal/repository"
)

type spatialRepo struct{ tx *txStore }

func (r spatialRepo) Areas(ctx context.Context, polygons []orb.Polygon) ([]float64, error) {
	if err := r.tx.store.check(ctx, OpSpatialAreas); err != nil {
		return nil, err
	}
	areas := make([]float64, len(polygons))
	for i, p := range polygons {
		areas[i] = hectares(p)
	}
	return areas, nil
}

func (r spatialRepo) BoundingBoxCandidates(ctx context.Context, projectID uuid.UUID, candidates []orb.Polygon) ([]repository.CandidateMatch, error) {
	if err := r.tx.store.check(ctx, OpSpatialBoundingBox); err != nil {
		return nil, err
	}
	existing := r.activePolyIDs(projectID)
	var matches []repository.CandidateMatch
	for idx, candidate := range candidates {
		bound := candidate.Bound()
		for _, polyID := range existing {
			g := r.tx.state.polygons[polyID]
			if g.Polygon.Bound().Intersects(bound) {
				matches = append(matches, repository.CandidateMatch{Index: idx, ExistingUUID: polyID})
			}
		}
	}
	return matches, nil
}

func (r spatialRepo) ExactMatches(ctx context.Context, candidates []orb.Polygon, pairs []repository.CandidateMatch) ([]repository.CandidateMatch, error) {
	if err := r.tx.store.check(ctx, OpSpatialExact); err != nil {
		return nil, err
	}
	var matches []repository.CandidateMatch
	for _, pair := range pairs {
		if pair.Index < 0 || pair.Index >= len(candidates) {
			continue
		}
		g, ok := r.tx.state.polygons[pair.ExistingUUID]
		if ok && orb.Equal(g.Polygon, candidates[pair.Index]) {
			matches = append(matches, pair)
		}
	}
	return matches, nil
}

func (r spatialRepo) PointMatches(ctx context.Context, projectID uuid.UUID, candidates []orb.Point) ([]repository.CandidateMatch, error) {
	if err := r.tx.store.check(ctx, OpSpatialPoints); err != nil {
		return nil, err
	}
	var pointIDs []uuid.UUID
	for _, p := range r.tx.state.sitePolygons {
		if p.IsActive && p.PointID != nil && r.inProject(p.SiteID, projectID) && !slices.Contains(pointIDs, *p.PointID) {
			pointIDs = append(pointIDs, *p.PointID)
		}
	}
	sortUUIDs(pointIDs)

	var matches []repository.CandidateMatch
	for idx, candidate := range candidates {
		for _, id := range pointIDs {
			if r.tx.state.points[id].Point.Equal(candidate) {
				matches = append(matches, repository.CandidateMatch{Index: idx, ExistingUUID: id})
			}
		}
	}
	return matches, nil
}

func (r spatialRepo) RecomputeCentroids(ctx context.Context, polyIDs []uuid.UUID) error {
	if len(polyIDs) == 0 {
		return nil
	}
	if err := r.tx.store.check(ctx, OpSpatialRecompute); err != nil {
		return err
	}
	for id, p := range r.tx.state.sitePolygons {
		if !slices.Contains(polyIDs, p.PolyID) {
			continue
		}
		centroid, _ := planar.CentroidArea(r.tx.state.polygons[p.PolyID].Polygon)
		lat, long := centroid.Lat(), centroid.Lon()
		p.Lat, p.Long = &lat, &long
		r.tx.state.sitePolygons[id] = p
	}
	return nil
}

func (r spatialRepo) RecomputeAreas(ctx context.Context, polyIDs []uuid.UUID) error {
	if len(polyIDs) == 0 {
		return nil
	}
	if err := r.tx.store.check(ctx, OpSpatialRecompute); err != nil {
		return err
	}
	for id, p := range r.tx.state.sitePolygons {
		if !slices.Contains(polyIDs, p.PolyID) {
			continue
		}
		area := hectares(r.tx.state.polygons[p.PolyID].Polygon)
		p.CalcArea = &area
		r.tx.state.sitePolygons[id] = p
	}
	return nil
}

func (r spatialRepo) RecomputeProjectCentroids(ctx context.Context, polyIDs []uuid.UUID) error {
	if len(polyIDs) == 0 {
		return nil
	}
	if err := r.tx.store.check(ctx, OpSpatialRecompute); err != nil {
		return err
	}

	affected := map[uuid.UUID]bool{}
	for _, p := range r.tx.state.sitePolygons {
		if !slices.Contains(polyIDs, p.PolyID) {
			continue
		}
		if site, ok := r.tx.state.sites[p.SiteID]; ok && site.ProjectID != nil {
			affected[*site.ProjectID] = true
		}
	}

	for projectID := range affected {
		var sumLat, sumLong float64
		var n int
		for _, p := range r.tx.state.sitePolygons {
			if p.IsActive && p.Lat != nil && p.Long != nil && r.inProject(p.SiteID, projectID) {
				sumLat += *p.Lat
				sumLong += *p.Long
				n++
			}
		}
		project, ok := r.tx.state.projects[projectID]
		if !ok || n == 0 {
			continue
		}
		lat, long := sumLat/float64(n), sumLong/float64(n)
		project.Lat, project.Long = &lat, &long
		r.tx.state.projects[projectID] = project
	}
	return nil
}

func (r spatialRepo) activePolyIDs(projectID uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	for _, p := range r.tx.state.sitePolygons {
		if p.IsActive && r.inProject(p.SiteID, projectID) && !slices.Contains(ids, p.PolyID) {
			ids = append(ids, p.PolyID)
		}
	}
	sortUUIDs(ids)
	return ids
}

func (r spatialRepo) inProject(siteID, projectID uuid.UUID) bool {
	site, ok := r.tx.state.sites[siteID]
	return ok && site.ProjectID != nil && *site.ProjectID == projectID
}

func hectares(p orb.Polygon) float64 {
	area := math.Abs(geo.Area(p)) / 10000.0
	if math.IsNaN(area) {
		return 0
	}
	return area
}

func sortUUIDs(ids []uuid.UUID) {
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
}

package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/sitepolygons/internal/domain"
	"github.com/rpattn/sitepolygons/internal/repository"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

func seed(t *testing.T) (*Store, domain.Site) {
	t.Helper()
	store := New()
	projectID := uuid.New()
	store.AddProject(domain.Project{ID: projectID, Name: "Project"})
	site := domain.Site{UUID: uuid.New(), ProjectID: &projectID, Name: "Site"}
	store.AddSite(site)
	return store, site
}

func insertPolygon(ctx context.Context, s repository.Store, siteID uuid.UUID, polygon orb.Polygon) (domain.SitePolygon, error) {
	g := domain.NewPolygonGeometry(uuid.New(), polygon, nil)
	if err := s.PolygonGeometries().InsertMany(ctx, []domain.PolygonGeometry{g}); err != nil {
		return domain.SitePolygon{}, err
	}
	p := domain.NewSitePolygon(siteID, g.UUID, domain.PolygonAttributes{}, "")
	return p, s.SitePolygons().InsertMany(ctx, []domain.SitePolygon{p})
}

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	store, site := seed(t)

	err := store.WithinTx(ctx, func(s repository.Store) error {
		_, err := insertPolygon(ctx, s, site.UUID, square(0, 0, 0.001))
		return err
	})
	require.NoError(t, err)

	snap := store.Snapshot()
	assert.Len(t, snap.PolygonGeometries, 1)
	assert.Len(t, snap.SitePolygons, 1)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store, site := seed(t)
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(s repository.Store) error {
		if _, err := insertPolygon(ctx, s, site.UUID, square(0, 0, 0.001)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	snap := store.Snapshot()
	assert.Empty(t, snap.PolygonGeometries)
	assert.Empty(t, snap.SitePolygons)
}

func TestSavepointDiscardsOnlyNestedWork(t *testing.T) {
	ctx := context.Background()
	store, site := seed(t)

	err := store.WithinTx(ctx, func(s repository.Store) error {
		if _, err := insertPolygon(ctx, s, site.UUID, square(0, 0, 0.001)); err != nil {
			return err
		}
		spErr := s.Savepoint(ctx, func(nested repository.Store) error {
			if _, err := insertPolygon(ctx, nested, site.UUID, square(1, 1, 0.001)); err != nil {
				return err
			}
			return errors.New("nested failure")
		})
		assert.Error(t, spErr)
		return nil
	})
	require.NoError(t, err)

	assert.Len(t, store.Snapshot().SitePolygons, 1)
}

func TestSingleActiveVersionEnforced(t *testing.T) {
	ctx := context.Background()
	store, site := seed(t)

	err := store.WithinTx(ctx, func(s repository.Store) error {
		first, err := insertPolygon(ctx, s, site.UUID, square(0, 0, 0.001))
		if err != nil {
			return err
		}
		second := first.NextVersion()
		return s.SitePolygons().InsertMany(ctx, []domain.SitePolygon{second})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has an active version")
	assert.Empty(t, store.Snapshot().SitePolygons)
}

func TestFailOnInjectsErrors(t *testing.T) {
	ctx := context.Background()
	store, site := seed(t)
	boom := errors.New("disk full")
	store.FailOn(OpSitePolygonInsert, boom)

	err := store.WithinTx(ctx, func(s repository.Store) error {
		_, err := insertPolygon(ctx, s, site.UUID, square(0, 0, 0.001))
		return err
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.Snapshot().PolygonGeometries)

	store.ClearFailures()
	err = store.WithinTx(ctx, func(s repository.Store) error {
		_, err := insertPolygon(ctx, s, site.UUID, square(0, 0, 0.001))
		return err
	})
	require.NoError(t, err)
}

func TestSpatialBoundingBoxAndExactMatch(t *testing.T) {
	ctx := context.Background()
	store, site := seed(t)
	existing := square(10, 10, 0.001)

	var existingPolyID uuid.UUID
	require.NoError(t, store.WithinTx(ctx, func(s repository.Store) error {
		p, err := insertPolygon(ctx, s, site.UUID, existing)
		existingPolyID = p.PolyID
		return err
	}))

	require.NoError(t, store.WithinTx(ctx, func(s repository.Store) error {
		candidates := []orb.Polygon{square(10.0005, 10.0005, 0.001), existing, square(20, 20, 0.001)}
		bbox, err := s.Spatial().BoundingBoxCandidates(ctx, *site.ProjectID, candidates)
		require.NoError(t, err)
		require.Len(t, bbox, 2)
		assert.Equal(t, 0, bbox[0].Index)
		assert.Equal(t, 1, bbox[1].Index)

		exact, err := s.Spatial().ExactMatches(ctx, candidates, bbox)
		require.NoError(t, err)
		require.Len(t, exact, 1)
		assert.Equal(t, 1, exact[0].Index)
		assert.Equal(t, existingPolyID, exact[0].ExistingUUID)
		return nil
	}))
}

func TestRecomputeFillsDerivedColumns(t *testing.T) {
	ctx := context.Background()
	store, site := seed(t)

	require.NoError(t, store.WithinTx(ctx, func(s repository.Store) error {
		p, err := insertPolygon(ctx, s, site.UUID, square(0, 0, 0.01))
		if err != nil {
			return err
		}
		ids := []uuid.UUID{p.PolyID}
		require.NoError(t, s.Spatial().RecomputeCentroids(ctx, ids))
		require.NoError(t, s.Spatial().RecomputeAreas(ctx, ids))
		return s.Spatial().RecomputeProjectCentroids(ctx, ids)
	}))

	snap := store.Snapshot()
	got := snap.SitePolygons[0]
	require.NotNil(t, got.Lat)
	require.NotNil(t, got.CalcArea)
	assert.InDelta(t, 0.005, *got.Lat, 1e-9)
	assert.Greater(t, *got.CalcArea, 0.0)

	project := snap.Projects[*site.ProjectID]
	require.NotNil(t, project.Lat)
	assert.InDelta(t, 0.005, *project.Long, 1e-9)
}

func TestProjectCentroidAveragesActivePolygonsOnly(t *testing.T) {
	ctx := context.Background()
	store, site := seed(t)

	require.NoError(t, store.WithinTx(ctx, func(s repository.Store) error {
		first, err := insertPolygon(ctx, s, site.UUID, square(0, 0, 0.01))
		if err != nil {
			return err
		}
		second, err := insertPolygon(ctx, s, site.UUID, square(1, 2, 0.01))
		if err != nil {
			return err
		}
		retired, err := insertPolygon(ctx, s, site.UUID, square(10, 10, 0.01))
		if err != nil {
			return err
		}
		require.NoError(t, s.Spatial().RecomputeCentroids(ctx, []uuid.UUID{first.PolyID, second.PolyID, retired.PolyID}))
		require.NoError(t, s.SitePolygons().DeactivateLineage(ctx, retired.PrimaryUUID))

		// Only the first polygon is touched; the project still averages every
		// active polygon it owns.
		return s.Spatial().RecomputeProjectCentroids(ctx, []uuid.UUID{first.PolyID})
	}))

	project := store.Snapshot().Projects[*site.ProjectID]
	require.NotNil(t, project.Lat)
	require.NotNil(t, project.Long)
	assert.InDelta(t, 1.005, *project.Lat, 1e-9)
	assert.InDelta(t, 0.505, *project.Long, 1e-9)
}

func TestExistingPointIDs(t *testing.T) {
	ctx := context.Background()
	store, _ := seed(t)
	point := domain.NewPointGeometry(orb.Point{36.8, -1.3}, 1, nil)

	require.NoError(t, store.WithinTx(ctx, func(s repository.Store) error {
		if err := s.PointGeometries().InsertMany(ctx, []domain.PointGeometry{point}); err != nil {
			return err
		}
		missing := uuid.New()
		found, err := s.PointGeometries().ExistingIDs(ctx, []uuid.UUID{point.UUID, missing})
		require.NoError(t, err)
		assert.True(t, found[point.UUID])
		assert.False(t, found[missing])
		return nil
	}))
}

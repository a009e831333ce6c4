package ingestion

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/sitepolygons/internal/archive"
	"github.com/rpattn/sitepolygons/internal/domain"
	"github.com/rpattn/sitepolygons/internal/duplicates"
	"github.com/rpattn/sitepolygons/internal/geometry"
	"github.com/rpattn/sitepolygons/internal/progress"
	"github.com/rpattn/sitepolygons/internal/repository/memstore"
	"github.com/rpattn/sitepolygons/internal/versioning"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

func hectares(p orb.Polygon) float64 {
	return math.Abs(geo.Area(p)) / 10000
}

type testEnv struct {
	store   *memstore.Store
	service *Service
	site    domain.Site
	project uuid.UUID
	actor   domain.Actor
}

func newTestEnv(t *testing.T, opts ...Option) testEnv {
	t.Helper()
	store := memstore.New()
	projectID := uuid.New()
	store.AddProject(domain.Project{ID: projectID, Name: "Restoration"})
	site := domain.Site{UUID: uuid.New(), ProjectID: &projectID, Name: "Kijabe"}
	store.AddSite(site)

	service := NewService(
		store,
		duplicates.NewDetector(0, nil, nil),
		geometry.NewTessellator(geometry.DefaultTessellationConfig()),
		versioning.NewEngine(nil, nil),
		opts...,
	)
	actorID := uuid.New()
	return testEnv{
		store:   store,
		service: service,
		site:    site,
		project: projectID,
		actor:   domain.Actor{ID: &actorID, Name: "Grace Hopper"},
	}
}

func newFeature(g orb.Geometry, props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(g)
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func collection(features ...*geojson.Feature) []*geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = append(fc.Features, features...)
	return []*geojson.FeatureCollection{fc}
}

func (e testEnv) upload(t *testing.T, features ...*geojson.Feature) (UploadResult, error) {
	t.Helper()
	return e.service.Upload(context.Background(), UploadRequest{
		Collections: collection(features...),
		Actor:       e.actor,
	})
}

func requireValidationField(t *testing.T, err error, field string) {
	t.Helper()
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	assert.Equal(t, field, verr.Field)
}

func TestUploadPolygon(t *testing.T) {
	env := newTestEnv(t)
	shape := square(36.8, -1.3, 0.001)

	result, err := env.upload(t, newFeature(shape, map[string]any{
		"site_id":   env.site.UUID.String(),
		"poly_name": "North Field",
		"num_trees": 250,
	}))
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Empty(t, result.Duplicates)
	assert.Empty(t, result.Findings)

	created := result.Created[0]
	assert.Equal(t, created.UUID, created.PrimaryUUID)
	assert.True(t, created.IsActive)
	assert.Equal(t, domain.StatusDraft, created.Status)
	require.NotNil(t, created.Attributes.PolyName)
	assert.Equal(t, "North Field", *created.Attributes.PolyName)
	require.NotNil(t, created.Attributes.NumTrees)
	assert.Equal(t, 250, *created.Attributes.NumTrees)
	require.NotNil(t, created.VersionName)
	assert.True(t, strings.HasPrefix(*created.VersionName, "North Field_"))
	assert.True(t, strings.HasSuffix(*created.VersionName, "_Grace_Hopper"))

	require.NotNil(t, created.CalcArea)
	assert.InDelta(t, hectares(shape), *created.CalcArea, 1e-6)
	require.NotNil(t, created.Lat)
	require.NotNil(t, created.Long)
	assert.InDelta(t, -1.2995, *created.Lat, 1e-6)
	assert.InDelta(t, 36.8005, *created.Long, 1e-6)

	snap := env.store.Snapshot()
	assert.Len(t, snap.PolygonGeometries, 1)
	assert.Len(t, snap.SitePolygons, 1)
	project := snap.Projects[env.project]
	require.NotNil(t, project.Lat)
	assert.InDelta(t, -1.2995, *project.Lat, 1e-6)
}

func TestUploadPointIsTessellated(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.upload(t, newFeature(orb.Point{36.8, -1.3}, map[string]any{
		"siteId":   env.site.UUID.String(),
		"est_area": 1.5,
	}))
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Zero(t, result.DroppedPoints)

	created := result.Created[0]
	require.NotNil(t, created.PointID)
	require.NotNil(t, created.CalcArea)
	assert.InDelta(t, 1.5, *created.CalcArea, 0.05)

	snap := env.store.Snapshot()
	require.Len(t, snap.PointGeometries, 1)
	point, ok := snap.PointGeometries[*created.PointID]
	require.True(t, ok)
	assert.Equal(t, 1.5, point.EstArea)
	assert.Len(t, snap.PolygonGeometries, 1)
}

func TestUploadPolygonLinksExistingPoint(t *testing.T) {
	env := newTestEnv(t)
	seeded, err := env.upload(t, newFeature(orb.Point{36.8, -1.3}, map[string]any{
		"site_id":  env.site.UUID.String(),
		"est_area": 1.0,
	}))
	require.NoError(t, err)
	require.Len(t, seeded.Created, 1)
	pointID := seeded.Created[0].PointID
	require.NotNil(t, pointID)

	result, err := env.upload(t, newFeature(square(36.9, -1.3, 0.001), map[string]any{
		"site_id": env.site.UUID.String(),
		"pointId": pointID.String(),
	}))
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.NotNil(t, result.Created[0].PointID)
	assert.Equal(t, *pointID, *result.Created[0].PointID)

	stored := env.store.Snapshot().SitePolygons
	require.Len(t, stored, 2)
	require.NotNil(t, stored[1].PointID)
	assert.Equal(t, *pointID, *stored[1].PointID)
	assert.Empty(t, env.store.Snapshot().SitePolygonData)
}

func TestUploadPolygonKeepsUnknownPointReferenceAsData(t *testing.T) {
	env := newTestEnv(t)
	unknown := uuid.New()

	result, err := env.upload(t, newFeature(square(36.8, -1.3, 0.001), map[string]any{
		"site_id":  env.site.UUID.String(),
		"point_id": unknown.String(),
		"colour":   "green",
	}))
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Nil(t, result.Created[0].PointID)

	data := env.store.Snapshot().SitePolygonData
	require.Len(t, data, 1)
	assert.Equal(t, result.Created[0].UUID, data[0].SitePolygonUUID)
	assert.Equal(t, map[string]any{"point_id": unknown.String(), "colour": "green"}, data[0].Data)
}

func TestProjectCentroidFollowsActivePolygons(t *testing.T) {
	env := newTestEnv(t)
	projectCentroid := func() (float64, float64) {
		t.Helper()
		project := env.store.Snapshot().Projects[env.project]
		require.NotNil(t, project.Lat)
		require.NotNil(t, project.Long)
		return *project.Lat, *project.Long
	}

	_, err := env.upload(t, newFeature(square(36.8, -1.3, 0.001), map[string]any{
		"site_id": env.site.UUID.String(),
	}))
	require.NoError(t, err)
	second, err := env.upload(t, newFeature(square(36.9, -1.2, 0.001), map[string]any{
		"site_id": env.site.UUID.String(),
	}))
	require.NoError(t, err)
	require.Len(t, second.Created, 1)

	lat, long := projectCentroid()
	assert.InDelta(t, (-1.2995-1.1995)/2, lat, 1e-6)
	assert.InDelta(t, (36.8005+36.9005)/2, long, 1e-6)

	// Moving the second polygon leaves its old version inactive.
	_, err = env.service.CreateVersion(context.Background(), VersionRequest{
		BaseUUID: second.Created[0].UUID,
		Geometry: collection(newFeature(square(37.0, -1.1, 0.001), nil))[0],
		Actor:    env.actor,
	})
	require.NoError(t, err)

	lat, long = projectCentroid()
	assert.InDelta(t, (-1.2995-1.0995)/2, lat, 1e-6)
	assert.InDelta(t, (36.8005+37.0005)/2, long, 1e-6)
}

func TestUploadMultiPolygonCreatesOnePolygonPerPart(t *testing.T) {
	env := newTestEnv(t)
	a, b := square(36.8, -1.3, 0.001), square(36.81, -1.3, 0.002)

	result, err := env.upload(t, newFeature(orb.MultiPolygon{a, b}, map[string]any{
		"site_id":   env.site.UUID.String(),
		"poly_name": "Split",
	}))
	require.NoError(t, err)
	require.Len(t, result.Created, 2)

	total := 0.0
	for _, p := range result.Created {
		require.NotNil(t, p.CalcArea)
		total += *p.CalcArea
		assert.Equal(t, "Split", *p.Attributes.PolyName)
	}
	assert.InDelta(t, hectares(a)+hectares(b), total, 1e-6)
	assert.NotEqual(t, result.Created[0].PrimaryUUID, result.Created[1].PrimaryUUID)
}

func TestUploadIdenticalGeometryTwiceIsReportedAsDuplicate(t *testing.T) {
	env := newTestEnv(t)
	shape := square(36.8, -1.3, 0.001)
	props := map[string]any{"site_id": env.site.UUID.String(), "poly_name": "North Field"}

	first, err := env.upload(t, newFeature(shape, props))
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	second, err := env.upload(t, newFeature(shape, props))
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	require.Len(t, second.Duplicates, 1)
	assert.Equal(t, first.Created[0].UUID, second.Duplicates[0].UUID)

	require.Len(t, second.Findings, 1)
	finding := second.Findings[0]
	assert.Equal(t, domain.CriteriaDuplicateGeometry, finding.CriteriaID)
	assert.False(t, finding.Valid)
	assert.Equal(t, first.Created[0].PolyID, finding.PolygonUUID)

	snap := env.store.Snapshot()
	assert.Len(t, snap.PolygonGeometries, 1)
	assert.Len(t, snap.SitePolygons, 1)
}

func TestUploadDuplicatePointIsReportedAsDuplicate(t *testing.T) {
	env := newTestEnv(t)
	props := map[string]any{"site_id": env.site.UUID.String(), "est_area": 0.5}

	first, err := env.upload(t, newFeature(orb.Point{36.8, -1.3}, props))
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	second, err := env.upload(t, newFeature(orb.Point{36.8, -1.3}, props))
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	require.Len(t, second.Duplicates, 1)
	assert.Equal(t, first.Created[0].UUID, second.Duplicates[0].UUID)
	assert.Len(t, env.store.Snapshot().PointGeometries, 1)
}

func TestUploadDetectionFailureDoesNotBlockUpload(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailOn(memstore.OpSpatialBoundingBox, errors.New("index unavailable"))

	result, err := env.upload(t, newFeature(square(36.8, -1.3, 0.001), map[string]any{
		"site_id": env.site.UUID.String(),
	}))
	require.NoError(t, err)
	assert.Len(t, result.Created, 1)
}

func TestUploadValidationErrorsWriteNothing(t *testing.T) {
	env := newTestEnv(t)
	site := env.site.UUID.String()
	valid := newFeature(square(36.8, -1.3, 0.001), map[string]any{"site_id": site})

	tests := []struct {
		name    string
		feature *geojson.Feature
		field   string
	}{
		{
			name:    "negative est_area",
			feature: newFeature(orb.Point{36.8, -1.3}, map[string]any{"site_id": site, "est_area": -1.0}),
			field:   "est_area",
		},
		{
			name:    "missing est_area",
			feature: newFeature(orb.Point{36.8, -1.3}, map[string]any{"site_id": site}),
			field:   "est_area",
		},
		{
			name:    "missing site id",
			feature: newFeature(square(36.9, -1.3, 0.001), map[string]any{"poly_name": "Orphan"}),
			field:   "site_id",
		},
		{
			name:    "malformed site id",
			feature: newFeature(square(36.9, -1.3, 0.001), map[string]any{"site_id": "not-a-uuid"}),
			field:   "site_id",
		},
		{
			name:    "unknown site",
			feature: newFeature(square(36.9, -1.3, 0.001), map[string]any{"site_id": uuid.NewString()}),
			field:   "site_id",
		},
		{
			name:    "unsupported geometry",
			feature: newFeature(orb.LineString{{36.8, -1.3}, {36.9, -1.3}}, map[string]any{"site_id": site}),
			field:   "geometry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.upload(t, valid, tt.feature)
			require.Error(t, err)
			requireValidationField(t, err, tt.field)

			snap := env.store.Snapshot()
			assert.Empty(t, snap.SitePolygons)
			assert.Empty(t, snap.PolygonGeometries)
			assert.Empty(t, snap.PointGeometries)
		})
	}
}

func TestUploadEmptyCollectionIsRejected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.upload(t)
	requireValidationField(t, err, "features")
}

func TestUploadFailureAfterGeometryInsertRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailOn(memstore.OpSitePolygonInsert, errors.New("connection reset"))

	_, err := env.upload(t,
		newFeature(square(36.8, -1.3, 0.001), map[string]any{"site_id": env.site.UUID.String()}),
		newFeature(orb.Point{36.9, -1.3}, map[string]any{"site_id": env.site.UUID.String(), "est_area": 1.0}),
	)
	require.Error(t, err)
	assert.False(t, domain.IsValidationError(err))

	snap := env.store.Snapshot()
	assert.Empty(t, snap.PolygonGeometries)
	assert.Empty(t, snap.PointGeometries)
	assert.Empty(t, snap.SitePolygons)
}

func TestUploadStoresUnrecognizedProperties(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.upload(t, newFeature(square(36.8, -1.3, 0.001), map[string]any{
		"site_id": env.site.UUID.String(),
		"colour":  "green",
	}))
	require.NoError(t, err)
	require.Len(t, result.Created, 1)

	data := env.store.Snapshot().SitePolygonData
	require.Len(t, data, 1)
	assert.Equal(t, result.Created[0].UUID, data[0].SitePolygonUUID)
	assert.Equal(t, "green", data[0].Data["colour"])
}

func TestUploadLargeBatchInChunks(t *testing.T) {
	env := newTestEnv(t, WithConfig(Config{ChunkThreshold: 2, ChunkSize: 2}))

	var features []*geojson.Feature
	for i := 0; i < 5; i++ {
		features = append(features, newFeature(square(36.8+float64(i)*0.01, -1.3, 0.001), map[string]any{
			"site_id": env.site.UUID.String(),
		}))
	}
	result, err := env.upload(t, features...)
	require.NoError(t, err)
	assert.Len(t, result.Created, 5)
	assert.Len(t, env.store.Snapshot().SitePolygons, 5)
}

func TestInsertChunked(t *testing.T) {
	ctx := context.Background()
	cfg := Config{ChunkThreshold: 3, ChunkSize: 2}

	var batches []int
	insert := func(_ context.Context, items []int) error {
		batches = append(batches, len(items))
		return nil
	}

	require.NoError(t, insertChunked(ctx, cfg, []int{1, 2, 3}, insert))
	assert.Equal(t, []int{3}, batches)

	batches = nil
	require.NoError(t, insertChunked(ctx, cfg, []int{1, 2, 3, 4, 5}, insert))
	assert.Equal(t, []int{2, 2, 1}, batches)

	batches = nil
	require.NoError(t, insertChunked(ctx, cfg, []int{}, insert))
	assert.Empty(t, batches)

	failing := func(context.Context, []int) error { return errors.New("boom") }
	err := insertChunked(ctx, cfg, []int{1, 2, 3, 4}, failing)
	assert.ErrorContains(t, err, "chunk 0-2")
}

func TestUploadReportsProgressAndArchivesPayload(t *testing.T) {
	recorder := &progress.Recorder{}
	store := archive.NewMemory()
	env := newTestEnv(t, WithProgress(recorder), WithArchive(store))
	jobID := uuid.NewString()

	result, err := env.service.Upload(context.Background(), UploadRequest{
		Collections: collection(newFeature(square(36.8, -1.3, 0.001), map[string]any{
			"site_id": env.site.UUID.String(),
		})),
		Actor: env.actor,
		JobID: jobID,
		Raw:   []byte(`{"type":"FeatureCollection","features":[]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, jobID, result.JobID)

	updates := recorder.Updates()
	require.NotEmpty(t, updates)
	assert.Equal(t, progress.StateRunning, updates[0].State)
	last := updates[len(updates)-1]
	assert.Equal(t, progress.StateCompleted, last.State)
	assert.Equal(t, 1, last.Processed)
	assert.Equal(t, 1, last.Total)

	objects := store.Objects()
	require.Len(t, objects, 1)
	for key := range objects {
		assert.True(t, strings.HasPrefix(key, "uploads/"))
		assert.True(t, strings.HasSuffix(key, "/"+jobID+".geojson"))
	}
}

func TestUploadRejectsMalformedJobID(t *testing.T) {
	recorder := &progress.Recorder{}
	store := archive.NewMemory()
	env := newTestEnv(t, WithProgress(recorder), WithArchive(store))

	for _, jobID := range []string{"job-1", "../uploads/other", "progress:someone-else"} {
		_, err := env.service.Upload(context.Background(), UploadRequest{
			Collections: collection(newFeature(square(36.8, -1.3, 0.001), map[string]any{
				"site_id": env.site.UUID.String(),
			})),
			Actor: env.actor,
			JobID: jobID,
			Raw:   []byte(`{}`),
		})
		requireValidationField(t, err, "jobId")
	}

	assert.Empty(t, recorder.Updates())
	assert.Empty(t, store.Objects())
	assert.Empty(t, env.store.Snapshot().SitePolygons)
}

func TestUploadCanonicalizesJobID(t *testing.T) {
	env := newTestEnv(t)
	jobID := uuid.New()

	result, err := env.service.Upload(context.Background(), UploadRequest{
		Collections: collection(newFeature(square(36.8, -1.3, 0.001), map[string]any{
			"site_id": env.site.UUID.String(),
		})),
		Actor: env.actor,
		JobID: "{" + strings.ToUpper(jobID.String()) + "}",
	})
	require.NoError(t, err)
	assert.Equal(t, jobID.String(), result.JobID)
}

func TestUploadFailureReportsFailedAndSkipsArchive(t *testing.T) {
	recorder := &progress.Recorder{}
	store := archive.NewMemory()
	env := newTestEnv(t, WithProgress(recorder), WithArchive(store))

	_, err := env.service.Upload(context.Background(), UploadRequest{
		Collections: collection(newFeature(square(36.8, -1.3, 0.001), map[string]any{
			"site_id": uuid.NewString(),
		})),
		Actor: env.actor,
		JobID: uuid.NewString(),
		Raw:   []byte(`{}`),
	})
	require.Error(t, err)

	updates := recorder.Updates()
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, progress.StateFailed, last.State)
	assert.Contains(t, last.Message, "unknown site")
	assert.Empty(t, store.Objects())
}

func TestUploadRoutesTaggedFeaturesToVersioning(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.upload(t, newFeature(square(36.8, -1.3, 0.001), map[string]any{
		"site_id":   env.site.UUID.String(),
		"poly_name": "North Field",
	}))
	require.NoError(t, err)
	base := first.Created[0]

	replacement := square(36.8, -1.3, 0.002)
	result, err := env.upload(t, newFeature(replacement, map[string]any{
		"site_id":                env.site.UUID.String(),
		"poly_name":              "South Field",
		"base_site_polygon_uuid": base.UUID.String(),
	}))
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	require.Len(t, result.Versions, 1)

	version := result.Versions[0]
	assert.Equal(t, base.PrimaryUUID, version.PrimaryUUID)
	assert.NotEqual(t, base.PolyID, version.PolyID)
	assert.Equal(t, "South Field", *version.Attributes.PolyName)
	require.NotNil(t, version.CalcArea)
	assert.InDelta(t, hectares(replacement), *version.CalcArea, 1e-6)

	lineage, err := env.service.Lineage(context.Background(), base.PrimaryUUID)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	assert.False(t, lineage[0].IsActive)
	assert.True(t, lineage[1].IsActive)
}

func TestUploadReplacementOfUnknownVersionIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.upload(t, newFeature(square(36.8, -1.3, 0.001), map[string]any{
		"site_id":                env.site.UUID.String(),
		"base_site_polygon_uuid": uuid.NewString(),
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Empty(t, env.store.Snapshot().PolygonGeometries)
}

func TestCreateVersionChangingOnlyName(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.upload(t, newFeature(square(36.8, -1.3, 0.001), map[string]any{
		"site_id":   env.site.UUID.String(),
		"poly_name": "North Field",
		"num_trees": 100,
	}))
	require.NoError(t, err)
	base := first.Created[0]

	reason := "renamed after field visit"
	result, err := env.service.CreateVersion(context.Background(), VersionRequest{
		BaseUUID:   base.UUID,
		Attributes: map[string]any{"poly_name": "South Field"},
		Reason:     &reason,
		Actor:      env.actor,
	})
	require.NoError(t, err)
	assert.Equal(t, base.PolyID, result.Version.PolyID)
	assert.Equal(t, "South Field", *result.Version.Attributes.PolyName)
	assert.Equal(t, 100, *result.Version.Attributes.NumTrees)
	assert.Contains(t, result.Update.Change, "polyName")
	assert.Contains(t, result.Update.Change, "South Field")

	history, err := env.service.History(context.Background(), base.PrimaryUUID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, &reason, history[0].Comment)
}

func TestCreateVersionCarriesUnrecognizedProperties(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.upload(t, newFeature(square(36.8, -1.3, 0.001), map[string]any{
		"site_id": env.site.UUID.String(),
		"colour":  "green",
	}))
	require.NoError(t, err)

	result, err := env.service.CreateVersion(context.Background(), VersionRequest{
		BaseUUID:   first.Created[0].UUID,
		Attributes: map[string]any{"poly_name": "Renamed"},
		Actor:      env.actor,
	})
	require.NoError(t, err)

	data := env.store.Snapshot().SitePolygonData
	require.Len(t, data, 2)
	assert.Equal(t, result.Version.UUID, data[1].SitePolygonUUID)
	assert.Equal(t, "green", data[1].Data["colour"])
}

func TestCreateVersionWithPointGeometryKeepsPointLink(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.upload(t, newFeature(square(36.8, -1.3, 0.001), map[string]any{
		"site_id": env.site.UUID.String(),
	}))
	require.NoError(t, err)

	result, err := env.service.CreateVersion(context.Background(), VersionRequest{
		BaseUUID: first.Created[0].UUID,
		Geometry: collection(newFeature(orb.Point{36.85, -1.3}, map[string]any{"est_area": 2.0}))[0],
		Actor:    env.actor,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Version.PointID)
	require.NotNil(t, result.Version.CalcArea)
	assert.InDelta(t, 2.0, *result.Version.CalcArea, 0.05)
}

func TestCreateVersionRejectsInvalidGeometryPayloads(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.upload(t, newFeature(square(36.8, -1.3, 0.001), map[string]any{
		"site_id": env.site.UUID.String(),
	}))
	require.NoError(t, err)
	base := first.Created[0].UUID

	tests := []struct {
		name     string
		geometry *geojson.FeatureCollection
		field    string
	}{
		{
			name: "two features",
			geometry: collection(
				newFeature(square(36.8, -1.3, 0.002), nil),
				newFeature(square(36.9, -1.3, 0.002), nil),
			)[0],
			field: "geometry",
		},
		{
			name:     "multi-part polygon",
			geometry: collection(newFeature(orb.MultiPolygon{square(36.8, -1.3, 0.002), square(36.9, -1.3, 0.002)}, nil))[0],
			field:    "geometry",
		},
		{
			name:     "point without area",
			geometry: collection(newFeature(orb.Point{36.8, -1.3}, nil))[0],
			field:    "est_area",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.CreateVersion(context.Background(), VersionRequest{
				BaseUUID: base,
				Geometry: tt.geometry,
				Actor:    env.actor,
			})
			requireValidationField(t, err, tt.field)
		})
	}
	assert.Len(t, env.store.Snapshot().SitePolygons, 1)
}

func TestActivateStatusAndValidatePassThrough(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	first, err := env.upload(t, newFeature(square(36.8, -1.3, 0.001), map[string]any{
		"site_id":   env.site.UUID.String(),
		"poly_name": "North Field",
	}))
	require.NoError(t, err)
	base := first.Created[0]

	next, err := env.service.CreateVersion(ctx, VersionRequest{
		BaseUUID:   base.UUID,
		Attributes: map[string]any{"poly_name": "South Field"},
		Actor:      env.actor,
	})
	require.NoError(t, err)

	activated, err := env.service.ActivateVersion(ctx, base.UUID, env.actor)
	require.NoError(t, err)
	assert.True(t, activated.Version.IsActive)
	require.NotNil(t, activated.Previous)
	assert.Equal(t, next.Version.UUID, activated.Previous.UUID)

	updated, err := env.service.UpdateStatus(ctx, []uuid.UUID{base.UUID}, domain.StatusSubmitted, env.actor, nil)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, domain.StatusSubmitted, updated[0].Status)

	finding, err := env.service.ValidatePolygon(ctx, base.UUID)
	require.NoError(t, err)
	assert.True(t, finding.Valid)

	diff, err := env.service.Diff(ctx, base.UUID, next.Version.UUID)
	require.NoError(t, err)
	assert.Contains(t, diff, "South Field")
}

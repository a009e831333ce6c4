package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/sitepolygons/internal/auth"
	"github.com/rpattn/sitepolygons/internal/domain"
	"github.com/rpattn/sitepolygons/internal/duplicates"
	"github.com/rpattn/sitepolygons/internal/geometry"
	"github.com/rpattn/sitepolygons/internal/ingestion"
	"github.com/rpattn/sitepolygons/internal/repository/memstore"
	"github.com/rpattn/sitepolygons/internal/versioning"
)

type testServer struct {
	store   *memstore.Store
	handler http.Handler
	site    domain.Site
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	store := memstore.New()
	projectID := uuid.New()
	store.AddProject(domain.Project{ID: projectID, Name: "Restoration"})
	site := domain.Site{UUID: uuid.New(), ProjectID: &projectID}
	store.AddSite(site)

	service := ingestion.NewService(
		store,
		duplicates.NewDetector(0, nil, nil),
		geometry.NewTessellator(geometry.DefaultTessellationConfig()),
		versioning.NewEngine(nil, nil),
	)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	return testServer{
		store:   store,
		handler: NewRouter(service, nil, RouterConfig{Metrics: metrics}),
		site:    site,
	}
}

func (s testServer) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(auth.HeaderUserName, "Ada Lovelace")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func polygonCollection(siteID string, name string) []byte {
	return []byte(`{"type":"FeatureCollection","features":[{"type":"Feature",
		"properties":{"site_id":"` + siteID + `","poly_name":"` + name + `"},
		"geometry":{"type":"Polygon","coordinates":[[[36.8,-1.3],[36.801,-1.3],[36.801,-1.299],[36.8,-1.299],[36.8,-1.3]]]}}]}`)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s testServer) uploadOne(t *testing.T) domain.SitePolygon {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/site-polygons/upload", polygonCollection(s.site.UUID.String(), "North Field"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[ingestion.UploadResult](t, rec)
	require.Len(t, result.Created, 1)
	return result.Created[0]
}

func TestUploadRawBody(t *testing.T) {
	s := newTestServer(t)
	created := s.uploadOne(t)

	require.NotNil(t, created.Attributes.PolyName)
	assert.Equal(t, "North Field", *created.Attributes.PolyName)
	require.NotNil(t, created.VersionName)
	assert.True(t, strings.HasSuffix(*created.VersionName, "_Ada_Lovelace"))
}

func TestUploadMultipart(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "fields.geojson")
	require.NoError(t, err)
	_, err = part.Write(polygonCollection(s.site.UUID.String(), "North Field"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	jobID := uuid.NewString()

	rec := s.do(t, http.MethodPost, "/api/v1/site-polygons/upload?source=field-app", buf.Bytes(), map[string]string{
		"Content-Type": mw.FormDataContentType(),
		HeaderJobID:    jobID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[ingestion.UploadResult](t, rec)
	assert.Equal(t, jobID, result.JobID)
	require.Len(t, result.Created, 1)
	require.NotNil(t, result.Created[0].Source)
	assert.Equal(t, "field-app", *result.Created[0].Source)
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/site-polygons/upload", []byte(`not json`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/site-polygons/upload", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/site-polygons/upload", polygonCollection(uuid.NewString(), "Lost"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, "site_id", body.Field)

	rec = s.do(t, http.MethodPost, "/api/v1/site-polygons/upload", polygonCollection(s.site.UUID.String(), "North"), map[string]string{
		auth.HeaderUserID: "not-a-uuid",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/site-polygons/upload", polygonCollection(s.site.UUID.String(), "North"), map[string]string{
		HeaderJobID: "../uploads/someone-else",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "jobId", decode[errorResponse](t, rec).Field)
	assert.Empty(t, s.store.Snapshot().SitePolygons)
}

func TestUploadInfrastructureFailureIsGeneric(t *testing.T) {
	s := newTestServer(t)
	s.store.FailOn(memstore.OpSitePolygonInsert, errors.New("pq: connection refused to 10.0.0.3"))

	rec := s.do(t, http.MethodPost, "/api/v1/site-polygons/upload", polygonCollection(s.site.UUID.String(), "North"), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.3")
	assert.Equal(t, "internal error", decode[errorResponse](t, rec).Error)
}

func TestVersionLifecycle(t *testing.T) {
	s := newTestServer(t)
	base := s.uploadOne(t)

	rec := s.do(t, http.MethodPost, "/api/v1/site-polygons/"+base.UUID.String()+"/versions",
		[]byte(`{"attributes":{"poly_name":"South Field"},"reason":"renamed"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[versioning.VersionResult](t, rec)
	assert.Equal(t, base.PrimaryUUID, created.Version.PrimaryUUID)
	assert.Equal(t, "South Field", *created.Version.Attributes.PolyName)

	rec = s.do(t, http.MethodGet, "/api/v1/site-polygons/lineage/"+base.PrimaryUUID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.SitePolygon](t, rec), 2)

	rec = s.do(t, http.MethodPut, "/api/v1/site-polygons/"+base.UUID.String()+"/activate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	activated := decode[versioning.VersionResult](t, rec)
	assert.Equal(t, base.UUID, activated.Version.UUID)
	assert.True(t, activated.Version.IsActive)

	rec = s.do(t, http.MethodGet, "/api/v1/site-polygons/lineage/"+base.PrimaryUUID.String()+"/updates", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.PolygonUpdate](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/v1/site-polygons/"+base.UUID.String()+"/diff/"+created.Version.UUID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "South Field")
}

func TestCreateVersionErrors(t *testing.T) {
	s := newTestServer(t)
	base := s.uploadOne(t)

	rec := s.do(t, http.MethodPost, "/api/v1/site-polygons/not-a-uuid/versions", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/site-polygons/"+uuid.NewString()+"/versions", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/site-polygons/"+base.UUID.String()+"/versions", []byte(`{"unexpected":true}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	twoFeatures := `{"geometry":{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[36.8,-1.3]}},
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[36.9,-1.3]}}]}}`
	rec = s.do(t, http.MethodPost, "/api/v1/site-polygons/"+base.UUID.String()+"/versions", []byte(twoFeatures), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "geometry", decode[errorResponse](t, rec).Field)
}

func TestUpdateStatus(t *testing.T) {
	s := newTestServer(t)
	base := s.uploadOne(t)

	body := `{"uuids":["` + base.UUID.String() + `"],"status":"submitted","comment":"ready"}`
	rec := s.do(t, http.MethodPut, "/api/v1/site-polygons/status", []byte(body), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[[]domain.SitePolygon](t, rec)
	require.Len(t, updated, 1)
	assert.Equal(t, domain.StatusSubmitted, updated[0].Status)

	rec = s.do(t, http.MethodPut, "/api/v1/site-polygons/status", []byte(`{"uuids":["`+base.UUID.String()+`"],"status":"bogus"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "status", decode[errorResponse](t, rec).Field)
}

func TestDuplicatesEndpoint(t *testing.T) {
	s := newTestServer(t)
	base := s.uploadOne(t)

	rec := s.do(t, http.MethodGet, "/api/v1/site-polygons/"+base.UUID.String()+"/duplicates", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	finding := decode[domain.ValidationFinding](t, rec)
	assert.True(t, finding.Valid)
	assert.Equal(t, domain.CriteriaDuplicateGeometry, finding.CriteriaID)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestWriteErrorMapsDomainErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background())
	tests := []struct {
		err  error
		code int
	}{
		{domain.NewValidationError("est_area", "must not be negative"), http.StatusBadRequest},
		{domain.NotFoundf("site polygon %s", uuid.New()), http.StatusNotFound},
		{domain.ErrSpatialStoreUnavailable, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, req, discardLogger(), tt.err)
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}

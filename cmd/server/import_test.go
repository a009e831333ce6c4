package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/sitepolygons/internal/config"
	"github.com/rpattn/sitepolygons/internal/ingestion"
)

func testOptions(t *testing.T) *options {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	return &options{cfg: cfg}
}

func TestImportDryRun(t *testing.T) {
	site := uuid.NewString()
	path := filepath.Join(t.TempDir(), "fields.geojson")
	payload := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"site_id":"` + site + `","poly_name":"North Field"},
		 "geometry":{"type":"Polygon","coordinates":[[[36.8,-1.3],[36.801,-1.3],[36.801,-1.299],[36.8,-1.299],[36.8,-1.3]]]}},
		{"type":"Feature","properties":{"site_id":"` + site + `","est_area":1.5},
		 "geometry":{"type":"Point","coordinates":[36.9,-1.3]}}]}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	var out bytes.Buffer
	err := runImport(context.Background(), testOptions(t), &importFlags{dryRun: true, source: "cli-import"}, path, &out)
	require.NoError(t, err)

	var result ingestion.UploadResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	require.Len(t, result.Created, 2)
	for _, p := range result.Created {
		require.NotNil(t, p.Source)
		assert.Equal(t, "cli-import", *p.Source)
	}
}

func TestImportRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"Point"}`), 0o600))

	err := runImport(context.Background(), testOptions(t), &importFlags{dryRun: true}, path, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestImportMissingFile(t *testing.T) {
	err := runImport(context.Background(), testOptions(t), &importFlags{dryRun: true}, filepath.Join(t.TempDir(), "nope.geojson"), &bytes.Buffer{})
	assert.ErrorContains(t, err, "failed to read")
}

// Package metrics exposes Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	uploadsTotal          *prometheus.CounterVec
	uploadDuration        prometheus.Histogram
	polygonsCreatedTotal  *prometheus.CounterVec
	duplicatesTotal       *prometheus.CounterVec
	droppedPointsTotal    prometheus.Counter
	dedupFailOpenTotal    prometheus.Counter
	versionOperations     *prometheus.CounterVec
	archiveFailuresTotal  prometheus.Counter
	progressFailuresTotal prometheus.Counter
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		uploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepolygons_uploads_total",
				Help: "Total number of upload requests",
			},
			[]string{"status"}, // status: success, validation_error, not_found, error
		),
		uploadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitepolygons_upload_duration_seconds",
				Help:    "Time taken to process one upload including commit",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		polygonsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepolygons_polygons_created_total",
				Help: "Total number of site polygon versions created",
			},
			[]string{"kind"}, // kind: polygon, point, version
		),
		duplicatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepolygons_duplicates_total",
				Help: "Total number of uploaded geometries matched to an existing geometry",
			},
			[]string{"kind"},
		),
		droppedPointsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sitepolygons_tessellation_dropped_points_total",
				Help: "Total number of points that produced no polygon during tessellation",
			},
		),
		dedupFailOpenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sitepolygons_dedup_failures_ignored_total",
				Help: "Total number of duplicate detection failures skipped under the fail-open policy",
			},
		),
		versionOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitepolygons_version_operations_total",
				Help: "Total number of versioning operations",
			},
			[]string{"operation", "status"},
		),
		archiveFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sitepolygons_archive_failures_total",
				Help: "Total number of raw uploads that could not be archived",
			},
		),
		progressFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sitepolygons_progress_failures_total",
				Help: "Total number of progress updates that could not be published",
			},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.uploadsTotal.Describe(ch)
	m.uploadDuration.Describe(ch)
	m.polygonsCreatedTotal.Describe(ch)
	m.duplicatesTotal.Describe(ch)
	m.droppedPointsTotal.Describe(ch)
	m.dedupFailOpenTotal.Describe(ch)
	m.versionOperations.Describe(ch)
	m.archiveFailuresTotal.Describe(ch)
	m.progressFailuresTotal.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.uploadsTotal.Collect(ch)
	m.uploadDuration.Collect(ch)
	m.polygonsCreatedTotal.Collect(ch)
	m.duplicatesTotal.Collect(ch)
	m.droppedPointsTotal.Collect(ch)
	m.dedupFailOpenTotal.Collect(ch)
	m.versionOperations.Collect(ch)
	m.archiveFailuresTotal.Collect(ch)
	m.progressFailuresTotal.Collect(ch)
}

func (m *Metrics) ObserveUpload(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(status).Inc()
	m.uploadDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) AddPolygonsCreated(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.polygonsCreatedTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) AddDuplicates(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicatesTotal.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) AddDroppedPoints(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedPointsTotal.Add(float64(n))
}

func (m *Metrics) IncDedupFailOpen() {
	if m == nil {
		return
	}
	m.dedupFailOpenTotal.Inc()
}

func (m *Metrics) ObserveVersionOperation(operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.versionOperations.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) IncArchiveFailure() {
	if m == nil {
		return
	}
	m.archiveFailuresTotal.Inc()
}

func (m *Metrics) IncProgressFailure() {
	if m == nil {
		return
	}
	m.progressFailuresTotal.Inc()
}

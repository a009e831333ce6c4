package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/rpattn/sitepolygons/internal/archive"
	"github.com/rpattn/sitepolygons/internal/domain"
	"github.com/rpattn/sitepolygons/internal/duplicates"
	"github.com/rpattn/sitepolygons/internal/geometry"
	"github.com/rpattn/sitepolygons/internal/metrics"
	"github.com/rpattn/sitepolygons/internal/progress"
	"github.com/rpattn/sitepolygons/internal/repository"
	"github.com/rpattn/sitepolygons/internal/siteloader"
	"github.com/rpattn/sitepolygons/internal/versioning"
)

// Config controls batching of bulk inserts.
type Config struct {
	// ChunkThreshold is the batch size above which inserts are split.
	ChunkThreshold int
	// ChunkSize is the size of each sub-batch once splitting applies.
	ChunkSize int
}

func DefaultConfig() Config {
	return Config{ChunkThreshold: 1000, ChunkSize: 500}
}

// Service turns uploaded feature collections into site polygons. Every
// upload runs in one transaction: an error means nothing was written.
type Service struct {
	uow         repository.UnitOfWork
	detector    *duplicates.Detector
	tessellator *geometry.Tessellator
	versions    *versioning.Engine
	progress    progress.Reporter
	archive     archive.Store
	metrics     *metrics.Metrics
	logger      *slog.Logger
	cfg         Config
}

type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.ChunkSize > 0 {
			s.cfg.ChunkSize = cfg.ChunkSize
		}
		if cfg.ChunkThreshold > 0 {
			s.cfg.ChunkThreshold = cfg.ChunkThreshold
		}
	}
}

func WithProgress(r progress.Reporter) Option { return func(s *Service) { s.progress = r } }
func WithArchive(a archive.Store) Option      { return func(s *Service) { s.archive = a } }
func WithMetrics(m *metrics.Metrics) Option   { return func(s *Service) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option        { return func(s *Service) { s.logger = l } }

// NewService creates a new ingestion service.
func NewService(
	uow repository.UnitOfWork,
	detector *duplicates.Detector,
	tessellator *geometry.Tessellator,
	versions *versioning.Engine,
	opts ...Option,
) *Service {
	s := &Service{
		uow:         uow,
		detector:    detector,
		tessellator: tessellator,
		versions:    versions,
		progress:    progress.Noop{},
		logger:      slog.Default(),
		cfg:         DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadRequest describes one upload.
type UploadRequest struct {
	Collections []*geojson.FeatureCollection
	Actor       domain.Actor
	Source      *string
	// JobID keys progress updates and the archived payload. Optional; when
	// set it must be a UUID.
	JobID string
	// Raw is the payload as received, archived after a successful commit.
	Raw []byte
}

// UploadResult lists what the upload produced.
type UploadResult struct {
	JobID         string                     `json:"jobId,omitempty"`
	Created       []domain.SitePolygon       `json:"created"`
	Duplicates    []domain.SitePolygon       `json:"duplicates"`
	Versions      []domain.SitePolygon       `json:"versions"`
	Findings      []domain.ValidationFinding `json:"findings"`
	DroppedPoints int                        `json:"droppedPoints"`
}

// Upload ingests every feature of the request atomically.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	start := time.Now()
	jobID, err := normalizeJobID(req.JobID)
	if err != nil {
		return UploadResult{}, err
	}
	req.JobID = jobID

	result, err := s.upload(ctx, req)
	s.metrics.ObserveUpload(outcome(err), time.Since(start))
	if err != nil {
		s.report(ctx, progress.Update{JobID: req.JobID, State: progress.StateFailed, Message: publicMessage(err)})
		s.logger.Warn("upload failed", "job_id", req.JobID, "error", err)
		return UploadResult{}, err
	}

	s.metrics.AddPolygonsCreated("polygon", countKind(result.Created, false))
	s.metrics.AddPolygonsCreated("point", countKind(result.Created, true))
	s.metrics.AddPolygonsCreated("version", len(result.Versions))
	s.metrics.AddDuplicates("upload", len(result.Duplicates))
	s.metrics.AddDroppedPoints(result.DroppedPoints)

	total := len(result.Created) + len(result.Duplicates) + len(result.Versions)
	s.report(ctx, progress.Update{JobID: req.JobID, Processed: total, Total: total, State: progress.StateCompleted})
	s.archiveUpload(ctx, req)

	s.logger.Info("upload committed",
		"job_id", req.JobID,
		"created", len(result.Created),
		"duplicates", len(result.Duplicates),
		"versions", len(result.Versions),
		"dropped_points", result.DroppedPoints,
		"duration", time.Since(start))
	return result, nil
}

// normalizeJobID returns the canonical form of a caller supplied job id, or
// a fresh one when none was given.
func normalizeJobID(raw string) (string, error) {
	if raw == "" {
		return uuid.NewString(), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", domain.NewValidationError("jobId", "job id %q is not a UUID", raw)
	}
	return id.String(), nil
}

func (s *Service) upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	fresh, replacements, err := parseFeatures(req.Collections)
	if err != nil {
		return UploadResult{}, err
	}
	total := len(fresh) + len(replacements)

	result := UploadResult{
		JobID:      req.JobID,
		Created:    []domain.SitePolygon{},
		Duplicates: []domain.SitePolygon{},
		Versions:   []domain.SitePolygon{},
		Findings:   []domain.ValidationFinding{},
	}

	err = s.uow.WithinTx(ctx, func(store repository.Store) error {
		ids := siteIDs(fresh, replacements)
		_, missing, err := siteloader.NewSiteLoader(store.Sites()).LoadMany(ctx, ids)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return domain.NewValidationError("site_id", "unknown site(s): %s", describeIDs(missing))
		}

		run := &uploadRun{
			service: s,
			store:   store,
			actor:   req.Actor,
			source:  req.Source,
			now:     time.Now().UTC(),
			result:  &result,
		}

		processed := 0
		s.report(ctx, progress.Update{JobID: req.JobID, Total: total, State: progress.StateRunning})
		for _, g := range groupFeatures(fresh) {
			if err := run.processGroup(ctx, g); err != nil {
				return err
			}
			processed += len(g.features)
			s.report(ctx, progress.Update{JobID: req.JobID, Processed: processed, Total: total, State: progress.StateRunning})
		}

		for _, f := range replacements {
			if err := run.replace(ctx, f); err != nil {
				return err
			}
			processed++
			s.report(ctx, progress.Update{JobID: req.JobID, Processed: processed, Total: total, State: progress.StateRunning})
		}

		return run.finish(ctx)
	})
	if err != nil {
		return UploadResult{}, err
	}
	return result, nil
}

// report publishes progress. Failures never affect the upload.
func (s *Service) report(ctx context.Context, update progress.Update) {
	if s.progress == nil {
		return
	}
	if err := s.progress.Report(ctx, update); err != nil {
		s.metrics.IncProgressFailure()
		s.logger.Debug("progress update failed", "job_id", update.JobID, "error", err)
	}
}

func (s *Service) archiveUpload(ctx context.Context, req UploadRequest) {
	if s.archive == nil || len(req.Raw) == 0 {
		return
	}
	key := archive.ObjectKey(req.JobID, time.Now())
	if err := s.archive.Put(ctx, key, req.Raw, archive.ContentTypeGeoJSON); err != nil {
		s.metrics.IncArchiveFailure()
		s.logger.Warn("failed to archive upload", "job_id", req.JobID, "key", key, "error", err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsValidationError(err):
		return "validation_error"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// publicMessage hides infrastructure detail from progress readers.
func publicMessage(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	if errors.Is(err, domain.ErrNotFound) {
		return err.Error()
	}
	return "internal error"
}

func countKind(polygons []domain.SitePolygon, fromPoint bool) int {
	n := 0
	for _, p := range polygons {
		if (p.PointID != nil) == fromPoint {
			n++
		}
	}
	return n
}

// insertChunked splits items above the threshold into sequential sub-batches
// of the same transaction.
func insertChunked[T any](ctx context.Context, cfg Config, items []T, insert func(context.Context, []T) error) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) <= cfg.ChunkThreshold || cfg.ChunkSize <= 0 {
		return insert(ctx, items)
	}
	for start := 0; start < len(items); start += cfg.ChunkSize {
		end := min(start+cfg.ChunkSize, len(items))
		if err := insert(ctx, items[start:end]); err != nil {
			return fmt.Errorf("chunk %d-%d: %w", start, end, err)
		}
	}
	return nil
}

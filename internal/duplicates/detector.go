// Package duplicates finds uploaded geometries that already exist in the
// target project.
package duplicates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/paulmach/orb"

	"github.com/rpattn/sitepolygons/internal/domain"
	"github.com/rpattn/sitepolygons/internal/metrics"
	"github.com/rpattn/sitepolygons/internal/repository"
)

// Policy decides what a failed duplicate query means for the caller.
type Policy int

const (
	// FailOpen treats a failed query as "no duplicates". The query runs in a
	// savepoint so the caller's transaction stays usable.
	FailOpen Policy = iota
	// FailClosed returns the failure to the caller.
	FailClosed
)

func (p Policy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

// DefaultProjectCacheTTL bounds how long a site's project is remembered.
const DefaultProjectCacheTTL = 5 * time.Minute

type projectEntry struct {
	id *uuid.UUID
}

// Detector runs the two-phase duplicate search: an envelope overlap query over
// every candidate, then exact equality on the survivors only.
type Detector struct {
	projects *gocache.Cache
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewDetector(ttl time.Duration, logger *slog.Logger, m *metrics.Metrics) *Detector {
	if ttl <= 0 {
		ttl = DefaultProjectCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		projects: gocache.New(ttl, 2*ttl),
		logger:   logger,
		metrics:  m,
	}
}

// DetectPolygons maps candidate index to the first existing geometry equal to
// it. Candidates without a match are absent from the map.
func (d *Detector) DetectPolygons(ctx context.Context, store repository.Store, siteID uuid.UUID, candidates []orb.Polygon, policy Policy) (map[int]uuid.UUID, error) {
	return d.detect(ctx, store, siteID, len(candidates), policy, "polygon", func(s repository.Store, projectID uuid.UUID) (map[int]uuid.UUID, error) {
		return polygonMatches(ctx, s, projectID, candidates, nil)
	})
}

// DetectPoints maps candidate index to the first existing point equal to it.
func (d *Detector) DetectPoints(ctx context.Context, store repository.Store, siteID uuid.UUID, candidates []orb.Point, policy Policy) (map[int]uuid.UUID, error) {
	return d.detect(ctx, store, siteID, len(candidates), policy, "point", func(s repository.Store, projectID uuid.UUID) (map[int]uuid.UUID, error) {
		matches, err := s.Spatial().PointMatches(ctx, projectID, candidates)
		if err != nil {
			return nil, err
		}
		return firstPerIndex(matches, nil), nil
	})
}

// ValidatePolygon checks one stored version against the rest of its project.
// It always fails closed.
func (d *Detector) ValidatePolygon(ctx context.Context, store repository.Store, sitePolygonUUID uuid.UUID) (domain.ValidationFinding, error) {
	sp, err := store.SitePolygons().GetByUUID(ctx, sitePolygonUUID)
	if err != nil {
		return domain.ValidationFinding{}, err
	}
	geometry, err := store.PolygonGeometries().GetByID(ctx, sp.PolyID)
	if err != nil {
		return domain.ValidationFinding{}, err
	}

	self := map[uuid.UUID]bool{sp.PolyID: true}
	found, err := d.detect(ctx, store, sp.SiteID, 1, FailClosed, "validate", func(s repository.Store, projectID uuid.UUID) (map[int]uuid.UUID, error) {
		return polygonMatches(ctx, s, projectID, []orb.Polygon{geometry.Polygon}, self)
	})
	if err != nil {
		return domain.ValidationFinding{}, err
	}

	existingID, ok := found[0]
	if !ok {
		return domain.ValidationFinding{
			PolygonUUID: sp.PolyID,
			CriteriaID:  domain.CriteriaDuplicateGeometry,
			Valid:       true,
		}, nil
	}

	existing, err := store.SitePolygons().ListActiveByPolyIDs(ctx, []uuid.UUID{existingID})
	if err != nil {
		return domain.ValidationFinding{}, err
	}
	if len(existing) == 0 {
		return domain.ValidationFinding{}, domain.NotFoundf("active version for geometry %s", existingID)
	}
	finding := domain.DuplicateFinding(existing[0])
	finding.PolygonUUID = sp.PolyID
	return finding, nil
}

type matchFunc func(s repository.Store, projectID uuid.UUID) (map[int]uuid.UUID, error)

func (d *Detector) detect(ctx context.Context, store repository.Store, siteID uuid.UUID, n int, policy Policy, kind string, match matchFunc) (map[int]uuid.UUID, error) {
	if n == 0 {
		return map[int]uuid.UUID{}, nil
	}

	var result map[int]uuid.UUID
	run := func(s repository.Store) error {
		projectID, err := d.projectFor(ctx, s, siteID)
		if err != nil {
			return err
		}
		if projectID == nil {
			result = map[int]uuid.UUID{}
			return nil
		}
		result, err = match(s, *projectID)
		return err
	}

	if policy == FailClosed {
		if err := run(store); err != nil {
			return nil, fmt.Errorf("duplicate detection for site %s: %w", siteID, err)
		}
		return result, nil
	}

	if err := store.Savepoint(ctx, run); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		d.logger.Warn("duplicate detection failed, continuing without duplicates",
			"site_id", siteID, "kind", kind, "candidates", n, "error", err)
		d.metrics.IncDedupFailOpen()
		return map[int]uuid.UUID{}, nil
	}
	return result, nil
}

// projectFor resolves the site's project. Unknown sites and sites without a
// project yield nil, which means there is nothing to compare against.
func (d *Detector) projectFor(ctx context.Context, store repository.Store, siteID uuid.UUID) (*uuid.UUID, error) {
	key := siteID.String()
	if cached, ok := d.projects.Get(key); ok {
		return cached.(projectEntry).id, nil
	}

	projectID, err := store.Sites().ProjectID(ctx, siteID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	d.projects.Set(key, projectEntry{id: projectID}, gocache.DefaultExpiration)
	return projectID, nil
}

// ForgetSite drops a cached site→project mapping.
func (d *Detector) ForgetSite(siteID uuid.UUID) {
	d.projects.Delete(siteID.String())
}

func polygonMatches(ctx context.Context, s repository.Store, projectID uuid.UUID, candidates []orb.Polygon, exclude map[uuid.UUID]bool) (map[int]uuid.UUID, error) {
	bbox, err := s.Spatial().BoundingBoxCandidates(ctx, projectID, candidates)
	if err != nil {
		return nil, err
	}
	bbox = withoutExcluded(bbox, exclude)
	if len(bbox) == 0 {
		return map[int]uuid.UUID{}, nil
	}

	exact, err := s.Spatial().ExactMatches(ctx, candidates, bbox)
	if err != nil {
		return nil, err
	}
	return firstPerIndex(exact, exclude), nil
}

func withoutExcluded(matches []repository.CandidateMatch, exclude map[uuid.UUID]bool) []repository.CandidateMatch {
	if len(exclude) == 0 {
		return matches
	}
	out := matches[:0:0]
	for _, m := range matches {
		if !exclude[m.ExistingUUID] {
			out = append(out, m)
		}
	}
	return out
}

// firstPerIndex keeps the store's first match for each candidate.
func firstPerIndex(matches []repository.CandidateMatch, exclude map[uuid.UUID]bool) map[int]uuid.UUID {
	out := make(map[int]uuid.UUID, len(matches))
	for _, m := range matches {
		if exclude[m.ExistingUUID] {
			continue
		}
		if _, seen := out[m.Index]; !seen {
			out[m.Index] = m.ExistingUUID
		}
	}
	return out
}

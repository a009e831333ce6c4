// Package versioning manages polygon lineages: creating and activating
// versions, status transitions and the audit trail.
package versioning

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/sitepolygons/internal/domain"
	"github.com/rpattn/sitepolygons/internal/metrics"
	"github.com/rpattn/sitepolygons/internal/repository"
)

// VersionInput describes a new version of an existing lineage. BaseUUID may
// name any version of the lineage; the active member is always the base.
type VersionInput struct {
	BaseUUID      uuid.UUID
	Changes       domain.AttributeChanges
	NewGeometryID *uuid.UUID
	// NewPointID links the new geometry to the point it was tessellated from.
	NewPointID *uuid.UUID
	// Data is overlaid on the additional data carried over from the base.
	Data   map[string]any
	Reason *string
	Actor  domain.Actor
	Source *string
}

// VersionResult is the outcome of a version operation.
type VersionResult struct {
	Version  domain.SitePolygon   `json:"version"`
	Previous *domain.SitePolygon  `json:"previous,omitempty"`
	Update   domain.PolygonUpdate `json:"update"`
}

type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewEngine(logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateVersion copies the active member of the base's lineage, overlays the
// attribute changes and optionally swaps the geometry. Every other member is
// deactivated in the same transaction.
func (e *Engine) CreateVersion(ctx context.Context, store repository.Store, input VersionInput) (result VersionResult, err error) {
	defer func() { e.metrics.ObserveVersionOperation("create", err) }()

	base, err := store.SitePolygons().GetByUUID(ctx, input.BaseUUID)
	if err != nil {
		return VersionResult{}, err
	}
	if err := store.LockLineage(ctx, base.PrimaryUUID); err != nil {
		return VersionResult{}, err
	}
	active, err := store.SitePolygons().GetActiveByPrimaryUUID(ctx, base.PrimaryUUID)
	if err != nil {
		return VersionResult{}, err
	}

	now := e.now()
	next := active.NextVersion()
	next.Attributes = input.Changes.Apply(active.Attributes)
	next.CreatedBy = input.Actor.ID
	next.CreatedAt, next.UpdatedAt = now, now
	if input.Source != nil {
		source := *input.Source
		next.Source = &source
	}

	geometryChanged := input.NewGeometryID != nil && *input.NewGeometryID != active.PolyID
	if geometryChanged {
		if _, err := store.PolygonGeometries().GetByID(ctx, *input.NewGeometryID); err != nil {
			return VersionResult{}, err
		}
		next.PolyID = *input.NewGeometryID
		// A replacement shape is only tied to a point it was tessellated from.
		next.PointID = input.NewPointID
		next.CalcArea, next.Lat, next.Long = nil, nil, nil
	}

	label := domain.VersionLabel(next.Attributes.PolyName, now, input.Actor.Name)
	next.VersionName = &label

	if err := store.SitePolygons().DeactivateLineage(ctx, active.PrimaryUUID); err != nil {
		return VersionResult{}, err
	}
	if err := store.SitePolygons().InsertMany(ctx, []domain.SitePolygon{next}); err != nil {
		return VersionResult{}, err
	}
	if err := carryData(ctx, store, active.UUID, next.UUID, input.Data); err != nil {
		return VersionResult{}, err
	}

	if geometryChanged {
		if err := recompute(ctx, store, []uuid.UUID{next.PolyID, active.PolyID}); err != nil {
			return VersionResult{}, err
		}
		if next, err = store.SitePolygons().GetByUUID(ctx, next.UUID); err != nil {
			return VersionResult{}, err
		}
	}

	update := domain.PolygonUpdate{
		UUID:            uuid.New(),
		SitePolygonUUID: next.PrimaryUUID,
		VersionName:     &label,
		Change:          domain.DescribeChanges(domain.DiffAttributes(active.Attributes, next.Attributes), geometryChanged),
		Comment:         input.Reason,
		CreatedBy:       input.Actor.ID,
		Type:            domain.UpdateTypeAttribute,
		CreatedAt:       now,
	}
	if err := store.PolygonUpdates().Append(ctx, []domain.PolygonUpdate{update}); err != nil {
		return VersionResult{}, err
	}

	active.IsActive = false
	e.logger.Debug("created polygon version",
		"primary_uuid", next.PrimaryUUID, "version_uuid", next.UUID, "previous_uuid", active.UUID,
		"geometry_changed", geometryChanged)
	return VersionResult{Version: next, Previous: &active, Update: update}, nil
}

// ActivateVersion promotes an existing version, deactivating its siblings.
// Activating the already active version is a no-op and writes no audit record.
func (e *Engine) ActivateVersion(ctx context.Context, store repository.Store, targetUUID uuid.UUID, actor domain.Actor) (result VersionResult, err error) {
	defer func() { e.metrics.ObserveVersionOperation("activate", err) }()

	target, err := store.SitePolygons().GetByUUID(ctx, targetUUID)
	if err != nil {
		return VersionResult{}, err
	}
	if err := store.LockLineage(ctx, target.PrimaryUUID); err != nil {
		return VersionResult{}, err
	}
	// Re-read under the lock.
	if target, err = store.SitePolygons().GetByUUID(ctx, targetUUID); err != nil {
		return VersionResult{}, err
	}
	if target.IsActive {
		return VersionResult{Version: target}, nil
	}

	current, err := store.SitePolygons().GetActiveByPrimaryUUID(ctx, target.PrimaryUUID)
	var previous *domain.SitePolygon
	switch {
	case err == nil:
		previous = &current
	case domain.IsNotFound(err):
	default:
		return VersionResult{}, err
	}

	if err := store.SitePolygons().DeactivateLineage(ctx, target.PrimaryUUID); err != nil {
		return VersionResult{}, err
	}
	if err := store.SitePolygons().Activate(ctx, target.UUID); err != nil {
		return VersionResult{}, err
	}

	affected := []uuid.UUID{target.PolyID}
	change := "activated"
	if previous != nil {
		geometryChanged := previous.PolyID != target.PolyID
		change = "activated; " + domain.DescribeChanges(domain.DiffAttributes(previous.Attributes, target.Attributes), geometryChanged)
		if geometryChanged {
			affected = append(affected, previous.PolyID)
		}
		previous.IsActive = false
	}
	if err := store.Spatial().RecomputeProjectCentroids(ctx, affected); err != nil {
		return VersionResult{}, err
	}

	now := e.now()
	label := versionLabelOf(target, now, actor.Name)
	update := domain.PolygonUpdate{
		UUID:            uuid.New(),
		SitePolygonUUID: target.PrimaryUUID,
		VersionName:     &label,
		Change:          change,
		CreatedBy:       actor.ID,
		Type:            domain.UpdateTypeAttribute,
		CreatedAt:       now,
	}
	if err := store.PolygonUpdates().Append(ctx, []domain.PolygonUpdate{update}); err != nil {
		return VersionResult{}, err
	}

	target.IsActive = true
	target.UpdatedAt = now
	e.logger.Debug("activated polygon version", "primary_uuid", target.PrimaryUUID, "version_uuid", target.UUID)
	return VersionResult{Version: target, Previous: previous, Update: update}, nil
}

// UpdateStatus moves versions to a new status. Versions already in that
// status are left alone; every real transition gets a status audit record.
func (e *Engine) UpdateStatus(ctx context.Context, store repository.Store, ids []uuid.UUID, status string, actor domain.Actor, comment *string) (updated []domain.SitePolygon, err error) {
	defer func() { e.metrics.ObserveVersionOperation("status", err) }()

	if !domain.IsValidStatus(status) {
		return nil, domain.NewValidationError("status", "unknown status %q", status)
	}
	if len(ids) == 0 {
		return nil, domain.NewValidationError("uuids", "at least one site polygon is required")
	}

	now := e.now()
	var (
		changed []uuid.UUID
		updates []domain.PolygonUpdate
		locked  = map[uuid.UUID]bool{}
	)
	for _, id := range uniqueIDs(ids) {
		p, err := store.SitePolygons().GetByUUID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !locked[p.PrimaryUUID] {
			if err := store.LockLineage(ctx, p.PrimaryUUID); err != nil {
				return nil, err
			}
			locked[p.PrimaryUUID] = true
		}
		if p.Status == status {
			updated = append(updated, p)
			continue
		}

		oldStatus, newStatus := p.Status, status
		label := versionLabelOf(p, now, actor.Name)
		updates = append(updates, domain.PolygonUpdate{
			UUID:            uuid.New(),
			SitePolygonUUID: p.PrimaryUUID,
			VersionName:     &label,
			Change:          fmt.Sprintf("status: %s => %s", oldStatus, newStatus),
			Comment:         comment,
			CreatedBy:       actor.ID,
			Type:            domain.UpdateTypeStatus,
			OldStatus:       &oldStatus,
			NewStatus:       &newStatus,
			CreatedAt:       now,
		})
		changed = append(changed, p.UUID)
		p.Status = status
		p.UpdatedAt = now
		updated = append(updated, p)
	}

	if err := store.SitePolygons().UpdateStatus(ctx, changed, status); err != nil {
		return nil, err
	}
	if err := store.PolygonUpdates().Append(ctx, updates); err != nil {
		return nil, err
	}
	return updated, nil
}

// Lineage lists every version of a lineage, oldest first.
func (e *Engine) Lineage(ctx context.Context, store repository.Store, primaryUUID uuid.UUID) ([]domain.SitePolygon, error) {
	versions, err := store.SitePolygons().ListByPrimaryUUID(ctx, primaryUUID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, domain.NotFoundf("lineage %s", primaryUUID)
	}
	return versions, nil
}

// History lists the audit records of a lineage, oldest first.
func (e *Engine) History(ctx context.Context, store repository.Store, primaryUUID uuid.UUID) ([]domain.PolygonUpdate, error) {
	if _, err := e.Lineage(ctx, store, primaryUUID); err != nil {
		return nil, err
	}
	return store.PolygonUpdates().ListByPrimaryUUID(ctx, primaryUUID)
}

// Diff renders a unified diff between two versions of the same lineage.
func (e *Engine) Diff(ctx context.Context, store repository.Store, baseUUID, targetUUID uuid.UUID) (string, error) {
	base, err := store.SitePolygons().GetByUUID(ctx, baseUUID)
	if err != nil {
		return "", err
	}
	target, err := store.SitePolygons().GetByUUID(ctx, targetUUID)
	if err != nil {
		return "", err
	}
	if base.PrimaryUUID != target.PrimaryUUID {
		return "", domain.NewValidationError("target", "versions %s and %s belong to different lineages", baseUUID, targetUUID)
	}

	baseSnap := domain.NewVersionSnapshot(base)
	targetSnap := domain.NewVersionSnapshot(target)
	return domain.DiffVersions(diffLabel(base), &baseSnap, diffLabel(target), &targetSnap), nil
}

// carryData copies the additional data of one version onto its successor.
func carryData(ctx context.Context, store repository.Store, fromUUID, toUUID uuid.UUID, overlay map[string]any) error {
	data, err := store.SitePolygonData().GetBySitePolygonUUID(ctx, fromUUID)
	if err != nil {
		return err
	}
	if data == nil {
		data = map[string]any{}
	}
	maps.Copy(data, overlay)
	if len(data) == 0 {
		return nil
	}
	return store.SitePolygonData().InsertMany(ctx, []domain.SitePolygonData{{SitePolygonUUID: toUUID, Data: data}})
}

func recompute(ctx context.Context, store repository.Store, polyIDs []uuid.UUID) error {
	spatial := store.Spatial()
	if err := spatial.RecomputeCentroids(ctx, polyIDs); err != nil {
		return err
	}
	if err := spatial.RecomputeAreas(ctx, polyIDs); err != nil {
		return err
	}
	return spatial.RecomputeProjectCentroids(ctx, polyIDs)
}

func versionLabelOf(p domain.SitePolygon, now time.Time, actorName string) string {
	if p.VersionName != nil {
		return *p.VersionName
	}
	return domain.VersionLabel(p.Attributes.PolyName, now, actorName)
}

func diffLabel(p domain.SitePolygon) string {
	if p.VersionName != nil {
		return *p.VersionName
	}
	return p.UUID.String()
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

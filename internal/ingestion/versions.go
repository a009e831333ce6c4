package ingestion

import (
	"context"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/rpattn/sitepolygons/internal/domain"
	"github.com/rpattn/sitepolygons/internal/geometry"
	"github.com/rpattn/sitepolygons/internal/properties"
	"github.com/rpattn/sitepolygons/internal/repository"
	"github.com/rpattn/sitepolygons/internal/versioning"
)

// VersionRequest asks for a new version of the lineage containing BaseUUID.
type VersionRequest struct {
	BaseUUID uuid.UUID
	// Geometry holds at most one feature with the replacement shape.
	Geometry *geojson.FeatureCollection
	// Attributes is the raw attribute overlay; absent keys keep their value.
	Attributes map[string]any
	Reason     *string
	Actor      domain.Actor
	Source     *string
}

// CreateVersion prepares the optional replacement geometry and creates the
// version in one transaction.
func (s *Service) CreateVersion(ctx context.Context, req VersionRequest) (versioning.VersionResult, error) {
	var replacement *geojson.Feature
	if req.Geometry != nil {
		switch n := len(req.Geometry.Features); {
		case n > 1:
			return versioning.VersionResult{}, domain.NewValidationError("geometry", "a version accepts at most one feature, got %d", n)
		case n == 1:
			replacement = req.Geometry.Features[0]
			if replacement == nil || replacement.Geometry == nil {
				return versioning.VersionResult{}, domain.NewValidationError("geometry", "feature 0 has no geometry")
			}
		}
	}

	var result versioning.VersionResult
	err := s.uow.WithinTx(ctx, func(store repository.Store) error {
		input := versioning.VersionInput{
			BaseUUID: req.BaseUUID,
			Changes:  properties.NormalizeChanges(req.Attributes),
			Reason:   req.Reason,
			Actor:    req.Actor,
			Source:   req.Source,
		}
		if replacement != nil {
			var estArea *float64
			if replacement.Properties != nil {
				estArea = properties.Normalize(replacement.Properties).EstArea
			}
			polyID, pointID, err := s.prepareGeometry(ctx, store, 0, replacement.Geometry, estArea, req.Actor)
			if err != nil {
				return err
			}
			input.NewGeometryID = &polyID
			input.NewPointID = pointID
		}

		var err error
		result, err = s.versions.CreateVersion(ctx, store, input)
		return err
	})
	if err != nil {
		return versioning.VersionResult{}, err
	}
	s.logger.Info("created polygon version",
		"primary_uuid", result.Version.PrimaryUUID,
		"version_uuid", result.Version.UUID,
		"new_geometry", replacement != nil)
	return result, nil
}

// prepareGeometry stores the shape of a single replacement feature and
// returns its polygon id. Points are tessellated on their own.
func (s *Service) prepareGeometry(ctx context.Context, store repository.Store, index int, g orb.Geometry, estArea *float64, actor domain.Actor) (uuid.UUID, *uuid.UUID, error) {
	var (
		boundary orb.Geometry
		point    *domain.PointGeometry
	)
	switch geom := g.(type) {
	case orb.Point:
		if estArea == nil {
			return uuid.Nil, nil, domain.NewValidationError("est_area", "feature %d: est_area is required for points", index)
		}
		if *estArea < 0 {
			return uuid.Nil, nil, domain.NewValidationError("est_area", "feature %d: est_area must not be negative", index)
		}
		tessellated, err := s.tessellator.Tessellate([]geometry.PointInput{{Point: geom, EstArea: *estArea}})
		if err != nil {
			return uuid.Nil, nil, err
		}
		if len(tessellated.Polygons) == 0 {
			return uuid.Nil, nil, domain.NewValidationError("geometry", "feature %d: no polygon could be built around the point", index)
		}
		p := domain.NewPointGeometry(geom, *estArea, actor.ID)
		point = &p
		boundary = tessellated.Polygons[0].Polygon
	case orb.Polygon:
		boundary = geom
	case orb.MultiPolygon:
		if len(geom) != 1 {
			return uuid.Nil, nil, domain.NewValidationError("geometry", "feature %d: a replacement must be a single polygon, got %d parts", index, len(geom))
		}
		boundary = geom[0]
	default:
		return uuid.Nil, nil, domain.NewValidationError("geometry", "feature %d has unsupported geometry type %s", index, g.GeoJSONType())
	}

	prepared, err := geometry.Prepare(ctx, store.Spatial(), []orb.Geometry{boundary})
	if err != nil {
		return uuid.Nil, nil, err
	}
	if point != nil {
		if err := store.PointGeometries().InsertMany(ctx, []domain.PointGeometry{*point}); err != nil {
			return uuid.Nil, nil, err
		}
	}
	p := prepared[0]
	geom := domain.NewPolygonGeometry(p.UUID, p.Polygon, actor.ID)
	if err := store.PolygonGeometries().InsertMany(ctx, []domain.PolygonGeometry{geom}); err != nil {
		return uuid.Nil, nil, err
	}
	if point != nil {
		return p.UUID, &point.UUID, nil
	}
	return p.UUID, nil, nil
}

// ActivateVersion promotes an existing version of its lineage.
func (s *Service) ActivateVersion(ctx context.Context, id uuid.UUID, actor domain.Actor) (versioning.VersionResult, error) {
	var result versioning.VersionResult
	err := s.uow.WithinTx(ctx, func(store repository.Store) error {
		var err error
		result, err = s.versions.ActivateVersion(ctx, store, id, actor)
		return err
	})
	return result, err
}

// UpdateStatus moves the given versions to status.
func (s *Service) UpdateStatus(ctx context.Context, ids []uuid.UUID, status string, actor domain.Actor, comment *string) ([]domain.SitePolygon, error) {
	var updated []domain.SitePolygon
	err := s.uow.WithinTx(ctx, func(store repository.Store) error {
		var err error
		updated, err = s.versions.UpdateStatus(ctx, store, ids, status, actor, comment)
		return err
	})
	return updated, err
}

func (s *Service) Lineage(ctx context.Context, primaryUUID uuid.UUID) ([]domain.SitePolygon, error) {
	var versions []domain.SitePolygon
	err := s.uow.WithinTx(ctx, func(store repository.Store) error {
		var err error
		versions, err = s.versions.Lineage(ctx, store, primaryUUID)
		return err
	})
	return versions, err
}

func (s *Service) History(ctx context.Context, primaryUUID uuid.UUID) ([]domain.PolygonUpdate, error) {
	var updates []domain.PolygonUpdate
	err := s.uow.WithinTx(ctx, func(store repository.Store) error {
		var err error
		updates, err = s.versions.History(ctx, store, primaryUUID)
		return err
	})
	return updates, err
}

// Diff renders a unified diff between two versions of the same lineage.
func (s *Service) Diff(ctx context.Context, baseUUID, targetUUID uuid.UUID) (string, error) {
	var diff string
	err := s.uow.WithinTx(ctx, func(store repository.Store) error {
		var err error
		diff, err = s.versions.Diff(ctx, store, baseUUID, targetUUID)
		return err
	})
	return diff, err
}

// ValidatePolygon checks one stored version for duplicates. Unlike uploads,
// a detection failure is returned to the caller.
func (s *Service) ValidatePolygon(ctx context.Context, id uuid.UUID) (domain.ValidationFinding, error) {
	var finding domain.ValidationFinding
	err := s.uow.WithinTx(ctx, func(store repository.Store) error {
		var err error
		finding, err = s.detector.ValidatePolygon(ctx, store, id)
		return err
	})
	return finding, err
}

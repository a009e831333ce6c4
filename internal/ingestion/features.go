package ingestion

import (
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/rpattn/sitepolygons/internal/domain"
	"github.com/rpattn/sitepolygons/internal/properties"
)

// feature is one uploaded feature after validation and normalization.
type feature struct {
	index    int // position across all collections of the upload
	siteID   uuid.UUID
	kind     domain.GeometryKind
	geometry orb.Geometry
	props    properties.Normalized
	raw      map[string]any
}

// parseFeatures validates every feature before anything is written. Features
// tagged with a base version are returned separately as replacements.
func parseFeatures(collections []*geojson.FeatureCollection) (fresh, replacements []feature, err error) {
	index := 0
	for _, fc := range collections {
		if fc == nil {
			continue
		}
		for _, f := range fc.Features {
			parsed, err := parseFeature(index, f)
			if err != nil {
				return nil, nil, err
			}
			if parsed.props.BaseVersion != nil {
				replacements = append(replacements, parsed)
			} else {
				fresh = append(fresh, parsed)
			}
			index++
		}
	}
	if index == 0 {
		return nil, nil, domain.NewValidationError("features", "upload contains no features")
	}
	return fresh, replacements, nil
}

func parseFeature(index int, f *geojson.Feature) (feature, error) {
	if f == nil || f.Geometry == nil {
		return feature{}, domain.NewValidationError("geometry", "feature %d has no geometry", index)
	}
	kind, ok := domain.KindOf(f.Geometry)
	if !ok {
		return feature{}, domain.NewValidationError("geometry", "feature %d has unsupported geometry type %s", index, f.Geometry.GeoJSONType())
	}

	raw := map[string]any(f.Properties)
	if raw == nil {
		raw = map[string]any{}
	}
	if !properties.HasSiteID(raw) {
		return feature{}, domain.NewValidationError("site_id", "feature %d: site_id is required", index)
	}
	props := properties.Normalize(raw)
	siteID, err := uuid.Parse(props.SiteID)
	if err != nil {
		return feature{}, domain.NewValidationError("site_id", "feature %d: %q is not a valid site id", index, props.SiteID)
	}

	if kind == domain.GeometryKindPoint {
		if !properties.HasEstArea(raw) || props.EstArea == nil {
			return feature{}, domain.NewValidationError("est_area", "feature %d: est_area is required for points", index)
		}
		if *props.EstArea < 0 {
			return feature{}, domain.NewValidationError("est_area", "feature %d: est_area must not be negative", index)
		}
	}

	return feature{
		index:    index,
		siteID:   siteID,
		kind:     kind,
		geometry: f.Geometry,
		props:    props,
		raw:      raw,
	}, nil
}

// group holds the features of one site and one geometry kind.
type group struct {
	siteID   uuid.UUID
	kind     domain.GeometryKind
	features []feature
}

// groupFeatures groups by site and then by kind, keeping first-seen order.
func groupFeatures(features []feature) []*group {
	type key struct {
		site uuid.UUID
		kind domain.GeometryKind
	}
	var ordered []*group
	byKey := map[key]*group{}
	for _, f := range features {
		k := key{site: f.siteID, kind: f.kind}
		g, ok := byKey[k]
		if !ok {
			g = &group{siteID: f.siteID, kind: f.kind}
			byKey[k] = g
			ordered = append(ordered, g)
		}
		g.features = append(g.features, f)
	}

	// Keep sites together even when kinds interleave in the input.
	var out []*group
	seen := map[uuid.UUID]bool{}
	for _, g := range ordered {
		if seen[g.siteID] {
			continue
		}
		seen[g.siteID] = true
		for _, h := range ordered {
			if h.siteID == g.siteID {
				out = append(out, h)
			}
		}
	}
	return out
}

func siteIDs(groups ...[]feature) []uuid.UUID {
	var ids []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, features := range groups {
		for _, f := range features {
			if !seen[f.siteID] {
				seen[f.siteID] = true
				ids = append(ids, f.siteID)
			}
		}
	}
	return ids
}

func describeIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ", ")
}

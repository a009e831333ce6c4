package domain

import "github.com/google/uuid"

// CriteriaDuplicateGeometry flags a geometry that already exists in the project.
const CriteriaDuplicateGeometry = 16

// ValidationFinding is returned to callers alongside created polygons. It is
// not persisted here.
type ValidationFinding struct {
	PolygonUUID uuid.UUID      `json:"polygonUuid"`
	CriteriaID  int            `json:"criteriaId"`
	Valid       bool           `json:"valid"`
	Extra       map[string]any `json:"extraInfo,omitempty"`
}

// DuplicateFinding builds the "already exists" finding for an existing polygon.
func DuplicateFinding(existing SitePolygon) ValidationFinding {
	extra := map[string]any{
		"polygon_uuid": existing.PolyID.String(),
		"message":      "This geometry already exists in the project",
	}
	if existing.Attributes.PolyName != nil {
		extra["poly_name"] = *existing.Attributes.PolyName
	}
	extra["site_polygon_uuid"] = existing.UUID.String()
	return ValidationFinding{
		PolygonUUID: existing.PolyID,
		CriteriaID:  CriteriaDuplicateGeometry,
		Valid:       false,
		Extra:       extra,
	}
}

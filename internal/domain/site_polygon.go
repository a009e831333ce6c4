package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Polygon statuses.
const (
	StatusDraft                = "draft"
	StatusSubmitted            = "submitted"
	StatusNeedsMoreInformation = "needs-more-information"
	StatusApproved             = "approved"
)

var validStatuses = []string{StatusDraft, StatusSubmitted, StatusNeedsMoreInformation, StatusApproved}

// IsValidStatus reports whether status is one of the known polygon statuses.
func IsValidStatus(status string) bool {
	return slices.Contains(validStatuses, status)
}

// PolygonAttributes are the user-editable fields of a polygon version.
type PolygonAttributes struct {
	PolyName     *string    `json:"polyName"`
	PlantStart   *time.Time `json:"plantStart"`
	PracticeList []string   `json:"practice"`
	TargetSys    *string    `json:"targetSys"`
	DistrList    []string   `json:"distr"`
	NumTrees     *int       `json:"numTrees"`
}

// Clone returns a deep copy so versions never share mutable slices.
func (a PolygonAttributes) Clone() PolygonAttributes {
	out := a
	out.PolyName = cloneString(a.PolyName)
	out.TargetSys = cloneString(a.TargetSys)
	if a.PlantStart != nil {
		t := *a.PlantStart
		out.PlantStart = &t
	}
	if a.NumTrees != nil {
		n := *a.NumTrees
		out.NumTrees = &n
	}
	out.PracticeList = slices.Clone(a.PracticeList)
	out.DistrList = slices.Clone(a.DistrList)
	return out
}

// AttributeChanges is a partial overlay; only Set fields are applied.
type AttributeChanges struct {
	PolyName     Optional[string]
	PlantStart   Optional[time.Time]
	PracticeList Optional[[]string]
	TargetSys    Optional[string]
	DistrList    Optional[[]string]
	NumTrees     Optional[int]
}

// Optional distinguishes "not provided" from "provided as null".
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns a set Optional holding nil.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// Apply overlays the set fields of c onto a copy of base.
func (c AttributeChanges) Apply(base PolygonAttributes) PolygonAttributes {
	out := base.Clone()
	if c.PolyName.Set {
		out.PolyName = cloneString(c.PolyName.Value)
	}
	if c.PlantStart.Set {
		out.PlantStart = nil
		if c.PlantStart.Value != nil {
			t := *c.PlantStart.Value
			out.PlantStart = &t
		}
	}
	if c.PracticeList.Set {
		out.PracticeList = nil
		if c.PracticeList.Value != nil {
			out.PracticeList = slices.Clone(*c.PracticeList.Value)
		}
	}
	if c.TargetSys.Set {
		out.TargetSys = cloneString(c.TargetSys.Value)
	}
	if c.DistrList.Set {
		out.DistrList = nil
		if c.DistrList.Value != nil {
			out.DistrList = slices.Clone(*c.DistrList.Value)
		}
	}
	if c.NumTrees.Set {
		out.NumTrees = nil
		if c.NumTrees.Value != nil {
			n := *c.NumTrees.Value
			out.NumTrees = &n
		}
	}
	return out
}

// SitePolygon is one version of a logical polygon. Versions sharing a
// PrimaryUUID form a lineage with exactly one active member.
type SitePolygon struct {
	UUID        uuid.UUID         `json:"uuid"`
	PrimaryUUID uuid.UUID         `json:"primaryUuid"`
	PolyID      uuid.UUID         `json:"polyId"`
	PointID     *uuid.UUID        `json:"pointUuid,omitempty"`
	SiteID      uuid.UUID         `json:"siteId"`
	Attributes  PolygonAttributes `json:"attributes"`
	Status      string            `json:"status"`
	IsActive    bool              `json:"isActive"`
	Source      *string           `json:"source,omitempty"`
	CalcArea    *float64          `json:"calcArea,omitempty"`
	VersionName *string           `json:"versionName,omitempty"`
	Lat         *float64          `json:"lat,omitempty"`
	Long        *float64          `json:"long,omitempty"`
	CreatedBy   *uuid.UUID        `json:"createdBy,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// NewSitePolygon starts a new lineage: version identity and lineage identity
// are both fresh and the version is active.
func NewSitePolygon(siteID, polyID uuid.UUID, attrs PolygonAttributes, status string) SitePolygon {
	now := time.Now().UTC()
	id := uuid.New()
	if status == "" {
		status = StatusDraft
	}
	return SitePolygon{
		UUID:        id,
		PrimaryUUID: id,
		PolyID:      polyID,
		SiteID:      siteID,
		Attributes:  attrs.Clone(),
		Status:      status,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NextVersion copies p into a new active version of the same lineage.
// Derived columns carry over; callers recompute them when the geometry changes.
func (p SitePolygon) NextVersion() SitePolygon {
	now := time.Now().UTC()
	next := p
	next.UUID = uuid.New()
	next.Attributes = p.Attributes.Clone()
	next.IsActive = true
	next.CreatedAt = now
	next.UpdatedAt = now
	next.VersionName = nil
	if p.PointID != nil {
		id := *p.PointID
		next.PointID = &id
	}
	return next
}

// SitePolygonData holds unrecognized upload properties for a version.
type SitePolygonData struct {
	SitePolygonUUID uuid.UUID
	Data            map[string]any
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

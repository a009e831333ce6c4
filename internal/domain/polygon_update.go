package domain

import (
	"time"

	"github.com/google/uuid"
)

// Audit record types.
const (
	UpdateTypeAttribute = "update"
	UpdateTypeStatus    = "status"
)

// PolygonUpdate is an append-only audit entry for a lineage.
type PolygonUpdate struct {
	UUID            uuid.UUID  `json:"uuid"`
	SitePolygonUUID uuid.UUID  `json:"sitePolygonUuid"` // lineage identity
	VersionName     *string    `json:"versionName,omitempty"`
	Change          string     `json:"change"`
	Comment         *string    `json:"comment,omitempty"`
	CreatedBy       *uuid.UUID `json:"createdBy,omitempty"`
	Type            string     `json:"type"`
	OldStatus       *string    `json:"oldStatus,omitempty"`
	NewStatus       *string    `json:"newStatus,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Actor identifies who performed an operation.
type Actor struct {
	ID   *uuid.UUID
	Name string
}

package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestVersionLabel(t *testing.T) {
	at := time.Date(2024, time.March, 5, 9, 7, 3, 0, time.UTC)

	tests := []struct {
		name     string
		polyName *string
		actor    string
		want     string
	}{
		{name: "named with actor", polyName: strPtr("North Field"), actor: "Jane Q Doe", want: "North Field_5_March_2024_09_07_03_Jane_Q_Doe"},
		{name: "unnamed without actor", polyName: nil, actor: "", want: "Unnamed_5_March_2024_09_07_03"},
		{name: "blank name", polyName: strPtr("  "), actor: "ops", want: "Unnamed_5_March_2024_09_07_03_ops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VersionLabel(tt.polyName, at, tt.actor))
		})
	}
}

func TestNextVersionKeepsLineage(t *testing.T) {
	base := NewSitePolygon(uuid.New(), uuid.New(), PolygonAttributes{PolyName: strPtr("a")}, "")
	base.IsActive = false
	label := "x"
	base.VersionName = &label

	next := base.NextVersion()

	assert.NotEqual(t, base.UUID, next.UUID)
	assert.Equal(t, base.PrimaryUUID, next.PrimaryUUID)
	assert.Equal(t, base.PolyID, next.PolyID)
	assert.True(t, next.IsActive)
	assert.Nil(t, next.VersionName)
	assert.Equal(t, StatusDraft, next.Status)
}

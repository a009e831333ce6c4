package domain

import (
	"strings"
	"time"
)

const versionLabelLayout = "2_January_2006_15_04_05"

// VersionLabel builds the display label of a version. It is never used as a
// lookup key.
func VersionLabel(polyName *string, at time.Time, actorName string) string {
	name := "Unnamed"
	if polyName != nil && strings.TrimSpace(*polyName) != "" {
		name = *polyName
	}
	label := name + "_" + at.Format(versionLabelLayout)
	if actor := strings.TrimSpace(actorName); actor != "" {
		label += "_" + strings.ReplaceAll(actor, " ", "_")
	}
	return label
}

// Package properties turns the loosely-typed property bags of uploaded GeoJSON
// features into typed polygon attributes. Both camelCase and snake_case key
// spellings are accepted; nothing downstream sees the raw bag.
package properties

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/sitepolygons/internal/domain"
)

var (
	// PracticeValues is the allow-list for the practice list.
	PracticeValues = []string{"assisted-natural-regeneration", "direct-seeding", "tree-planting"}

	// DistributionValues is the allow-list for the distribution list.
	DistributionValues = []string{"full", "partial", "single-line"}

	dateLayouts = []string{
		time.DateOnly,
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006/01/02",
	}
)

// Recognized keys, each with every accepted spelling.
var (
	keySiteID      = []string{"site_id", "siteId"}
	keyPolyName    = []string{"poly_name", "polyName"}
	keyPlantStart  = []string{"plantstart", "plantStart", "plant_start"}
	keyPractice    = []string{"practice"}
	keyTargetSys   = []string{"target_sys", "targetSys"}
	keyDistr       = []string{"distr"}
	keyNumTrees    = []string{"num_trees", "numTrees"}
	keyStatus      = []string{"status"}
	keyPointID     = []string{"point_id", "pointId"}
	keyEstArea     = []string{"est_area", "estArea"}
	keyBaseVersion = []string{"base_site_polygon_uuid", "baseSitePolygonUuid"}
	keySource      = []string{"source"}

	recognized = slices.Concat(keySiteID, keyPolyName, keyPlantStart, keyPractice, keyTargetSys,
		keyDistr, keyNumTrees, keyStatus, keyPointID, keyEstArea, keyBaseVersion, keySource)
)

// Normalized is the typed result of normalizing one feature's properties.
type Normalized struct {
	SiteID      string
	Attributes  domain.PolygonAttributes
	Status      string
	PointID     *uuid.UUID
	EstArea     *float64
	BaseVersion *uuid.UUID
	Source      *string
	Extra       map[string]any
}

// Normalize sanitizes a raw property bag. It never fails: values that cannot
// be interpreted become nil.
func Normalize(raw map[string]any) Normalized {
	out := Normalized{
		SiteID: stringValue(lookup(raw, keySiteID)),
		Attributes: domain.PolygonAttributes{
			PolyName:     optionalString(lookup(raw, keyPolyName)),
			PlantStart:   dateValue(lookup(raw, keyPlantStart)),
			PracticeList: filterList(lookup(raw, keyPractice), PracticeValues),
			TargetSys:    optionalString(lookup(raw, keyTargetSys)),
			DistrList:    filterList(lookup(raw, keyDistr), DistributionValues),
			NumTrees:     integerValue(lookup(raw, keyNumTrees)),
		},
		Status:      statusValue(lookup(raw, keyStatus)),
		PointID:     uuidValue(lookup(raw, keyPointID)),
		EstArea:     numberValue(lookup(raw, keyEstArea)),
		BaseVersion: uuidValue(lookup(raw, keyBaseVersion)),
		Source:      optionalString(lookup(raw, keySource)),
		Extra:       map[string]any{},
	}

	for key, value := range raw {
		if !slices.Contains(recognized, key) {
			out.Extra[key] = value
		}
	}

	return out
}

// HasSiteID reports whether any spelling of the site key is present.
func HasSiteID(raw map[string]any) bool {
	_, ok := lookupPresent(raw, keySiteID)
	return ok
}

// HasEstArea reports whether any spelling of the estimated area key is present.
func HasEstArea(raw map[string]any) bool {
	_, ok := lookupPresent(raw, keyEstArea)
	return ok
}

// NormalizeChanges builds an attribute overlay holding only the attribute keys
// present in raw. A present key with an unusable value becomes an explicit null.
func NormalizeChanges(raw map[string]any) domain.AttributeChanges {
	var changes domain.AttributeChanges
	if v, ok := lookupPresent(raw, keyPolyName); ok {
		changes.PolyName = domain.Optional[string]{Set: true, Value: optionalString(v)}
	}
	if v, ok := lookupPresent(raw, keyPlantStart); ok {
		changes.PlantStart = domain.Optional[time.Time]{Set: true, Value: dateValue(v)}
	}
	if v, ok := lookupPresent(raw, keyPractice); ok {
		list := filterList(v, PracticeValues)
		changes.PracticeList = domain.Optional[[]string]{Set: true, Value: &list}
	}
	if v, ok := lookupPresent(raw, keyTargetSys); ok {
		changes.TargetSys = domain.Optional[string]{Set: true, Value: optionalString(v)}
	}
	if v, ok := lookupPresent(raw, keyDistr); ok {
		list := filterList(v, DistributionValues)
		changes.DistrList = domain.Optional[[]string]{Set: true, Value: &list}
	}
	if v, ok := lookupPresent(raw, keyNumTrees); ok {
		changes.NumTrees = domain.Optional[int]{Set: true, Value: integerValue(v)}
	}
	return changes
}

func lookup(raw map[string]any, keys []string) any {
	v, _ := lookupPresent(raw, keys)
	return v
}

func lookupPresent(raw map[string]any, keys []string) (any, bool) {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func stringValue(v any) string {
	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}

func optionalString(v any) *string {
	s := stringValue(v)
	if s == "" {
		return nil
	}
	return &s
}

func statusValue(v any) string {
	s := strings.ToLower(stringValue(v))
	if domain.IsValidStatus(s) {
		return s
	}
	return domain.StatusDraft
}

func uuidValue(v any) *uuid.UUID {
	s := stringValue(v)
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

func dateValue(v any) *time.Time {
	s := stringValue(v)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

// integerValue accepts only numeric values that are whole numbers. Strings are
// rejected rather than coerced.
func integerValue(v any) *int {
	var f float64
	switch typed := v.(type) {
	case int:
		return &typed
	case int32:
		n := int(typed)
		return &n
	case int64:
		n := int(typed)
		return &n
	case float64:
		f = typed
	case float32:
		f = float64(typed)
	case json.Number:
		n, err := typed.Int64()
		if err != nil {
			return nil
		}
		i := int(n)
		return &i
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return nil
	}
	n := int(f)
	return &n
}

func numberValue(v any) *float64 {
	var f float64
	switch typed := v.(type) {
	case float64:
		f = typed
	case float32:
		f = float64(typed)
	case int:
		f = float64(typed)
	case int64:
		f = float64(typed)
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// filterList keeps allow-listed values from an array or a comma separated
// string, deduplicated and sorted.
func filterList(v any, allowed []string) []string {
	var items []string
	switch typed := v.(type) {
	case string:
		items = strings.Split(typed, ",")
	case []string:
		items = typed
	case []any:
		for _, item := range typed {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
	default:
		return []string{}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		value := strings.ToLower(strings.TrimSpace(item))
		if slices.Contains(allowed, value) && !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	slices.Sort(out)
	return out
}

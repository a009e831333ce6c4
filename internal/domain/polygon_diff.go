package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FieldChange is one attribute that differs between two versions.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// AttributeFields flattens attributes into display strings keyed by their
// camelCase name. Status is not an attribute and never appears here.
func AttributeFields(a PolygonAttributes) map[string]string {
	fields := map[string]string{
		"polyName":   encodeField(a.PolyName),
		"plantStart": "null",
		"practice":   encodeField(a.PracticeList),
		"targetSys":  encodeField(a.TargetSys),
		"distr":      encodeField(a.DistrList),
		"numTrees":   encodeField(a.NumTrees),
	}
	if a.PlantStart != nil {
		fields["plantStart"] = encodeField(a.PlantStart.Format(time.DateOnly))
	}
	return fields
}

// DiffAttributes lists the fields that changed from base to target, sorted by name.
func DiffAttributes(base, target PolygonAttributes) []FieldChange {
	before := AttributeFields(base)
	after := AttributeFields(target)

	keys := make([]string, 0, len(before))
	for key := range before {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var changes []FieldChange
	for _, key := range keys {
		if before[key] != after[key] {
			changes = append(changes, FieldChange{Field: key, Old: before[key], New: after[key]})
		}
	}
	return changes
}

// DescribeChanges renders the audit text for a version change.
func DescribeChanges(changes []FieldChange, geometryChanged bool) string {
	parts := []string{fmt.Sprintf("geometryChanged: %t", geometryChanged)}
	for _, change := range changes {
		parts = append(parts, fmt.Sprintf("%s: %s => %s", change.Field, change.Old, change.New))
	}
	return strings.Join(parts, "; ")
}

// VersionSnapshot is the minimal data required to diff two versions of a lineage.
type VersionSnapshot struct {
	UUID       string
	PolyID     string
	Status     string
	IsActive   bool
	Attributes PolygonAttributes
}

// NewVersionSnapshot captures a site polygon version for diffing.
func NewVersionSnapshot(p SitePolygon) VersionSnapshot {
	return VersionSnapshot{
		UUID:       p.UUID.String(),
		PolyID:     p.PolyID.String(),
		Status:     p.Status,
		IsActive:   p.IsActive,
		Attributes: p.Attributes.Clone(),
	}
}

// CanonicalText flattens the snapshot into deterministic lines suitable for diffing.
func (s VersionSnapshot) CanonicalText() []string {
	lines := []string{
		fmt.Sprintf("PolyID: %s", s.PolyID),
		fmt.Sprintf("Status: %s", s.Status),
		fmt.Sprintf("Active: %t", s.IsActive),
		"Attributes:",
	}

	fields := AttributeFields(s.Attributes)
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %s", key, fields[key]))
	}
	return lines
}

// DiffVersions produces a unified diff between two snapshots using the provided labels.
func DiffVersions(baseLabel string, base *VersionSnapshot, targetLabel string, target *VersionSnapshot) string {
	return buildUnifiedDiff(baseLabel, targetLabel, canonicalLines(base), canonicalLines(target))
}

func canonicalLines(snapshot *VersionSnapshot) []string {
	if snapshot == nil {
		return nil
	}
	return snapshot.CanonicalText()
}

func encodeField(value any) string {
	switch typed := value.(type) {
	case *string:
		if typed == nil {
			return "null"
		}
		value = *typed
	case *int:
		if typed == nil {
			return "null"
		}
		value = *typed
	case []string:
		if len(typed) == 0 {
			return "[]"
		}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}

type diffOp struct {
	prefix string
	line   string
}

func buildUnifiedDiff(baseLabel, targetLabel string, baseLines, targetLines []string) string {
	ops := diffLines(baseLines, targetLines)

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("--- %s\n", baseLabel))
	builder.WriteString(fmt.Sprintf("+++ %s\n", targetLabel))
	builder.WriteString("@@ -0,0 +0,0 @@\n")
	for _, operation := range ops {
		builder.WriteString(operation.prefix)
		builder.WriteString(operation.line)
		builder.WriteString("\n")
	}

	return builder.String()
}

func diffLines(base, target []string) []diffOp {
	m := len(base)
	n := len(target)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if base[i] == target[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	ops := make([]diffOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		if base[i] == target[j] {
			ops = append(ops, diffOp{prefix: " ", line: base[i]})
			i++
			j++
			continue
		}

		if dp[i+1][j] >= dp[i][j+1] {
			ops = append(ops, diffOp{prefix: "-", line: base[i]})
			i++
		} else {
			ops = append(ops, diffOp{prefix: "+", line: target[j]})
			j++
		}
	}

	for i < m {
		ops = append(ops, diffOp{prefix: "-", line: base[i]})
		i++
	}

	for j < n {
		ops = append(ops, diffOp{prefix: "+", line: target[j]})
		j++
	}

	return ops
}

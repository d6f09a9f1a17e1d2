package persist

import (
	"encoding/json"
	"time"

	"github.com/fernwake/prodsync/internal/hierarchy"
	"github.com/fernwake/prodsync/internal/models"
)

// dateLayouts are the formats the source API has been seen to emit.
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func formatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func marshalMetadata(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

func uintValue(p *uint) any {
	if p == nil {
		return nil
	}
	return *p
}

// The field-map pairs below feed the change detector. Each incoming record
// and its existing row must go through the same function so the key sets
// line up; store-assigned columns are left out entirely.

func productFields(name, description, status, metadata string) map[string]any {
	return map[string]any{
		"name":        name,
		"description": description,
		"status":      status,
		"metadata":    metadata,
	}
}

func incomingProductFields(p hierarchy.Product) map[string]any {
	return productFields(p.Name, p.Description, p.Status, marshalMetadata(p.Metadata))
}

func existingProductFields(row models.Product) map[string]any {
	return productFields(row.Name, row.Description, row.Status, row.Metadata)
}

func initiativeFields(name, description, status, owner string, productID any) map[string]any {
	return map[string]any{
		"name":        name,
		"description": description,
		"status":      status,
		"owner":       owner,
		"product_id":  productID,
	}
}

func componentFields(name, description, status string) map[string]any {
	return map[string]any{
		"name":        name,
		"description": description,
		"status":      status,
	}
}

// featureFields deliberately excludes parent_id: the parent reference is
// owned by the second pass, and comparing or updating it here would null
// out a parent set by a previous run.
func featureFields(name, description, status, owner string, start, due, componentID any) map[string]any {
	return map[string]any{
		"name":         name,
		"description":  description,
		"status":       status,
		"owner":        owner,
		"start_date":   start,
		"due_date":     due,
		"component_id": componentID,
	}
}

func incomingFeatureFields(f hierarchy.Feature, componentID *uint) map[string]any {
	return featureFields(f.Name, f.Description, f.Status, f.Owner,
		formatDate(parseDate(f.StartDate)), formatDate(parseDate(f.DueDate)), uintValue(componentID))
}

func existingFeatureFields(row models.Feature) map[string]any {
	return featureFields(row.Name, row.Description, row.Status, row.Owner,
		formatDate(row.StartDate), formatDate(row.DueDate), uintValue(row.ComponentID))
}

// featureUpdates is the column map actually written on an update. It keeps
// real time values for the date columns, unlike the normalized string form
// the change detector compares.
func featureUpdates(f hierarchy.Feature, componentID *uint) map[string]any {
	return map[string]any{
		"name":         f.Name,
		"description":  f.Description,
		"status":       f.Status,
		"owner":        f.Owner,
		"start_date":   parseDate(f.StartDate),
		"due_date":     parseDate(f.DueDate),
		"component_id": uintValue(componentID),
	}
}

// chunk splits items into slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = defaultBatchSize
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

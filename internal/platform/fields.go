package platform

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rflorenc/dify-migration-workbench/internal/models"
)

// resourceID extracts the ID of a Resource. Dify ids are UUID strings, but
// numeric ids are tolerated.
func resourceID(r models.Resource) string {
	switch v := r["id"].(type) {
	case string:
		return v
	case float64, int, json.Number:
		return strconv.Itoa(toInt(v))
	}
	return ""
}

// resourceName returns the name of a Resource.
func resourceName(r models.Resource) string {
	return stringField(r, "name")
}

// stringField safely extracts a string field, returning "" if nil.
func stringField(obj map[string]interface{}, field string) string {
	if v, ok := obj[field].(string); ok {
		return v
	}
	return ""
}

// toInt converts various numeric types to int.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

func toTopLevel(r models.Resource, kind models.Kind) models.TopLevelResource {
	return models.TopLevelResource{
		ID:          resourceID(r),
		Name:        resourceName(r),
		Description: stringField(r, "description"),
		Kind:        kind,
		Mode:        stringField(r, "mode"),
		Raw:         r,
	}
}

func toDocument(r models.Resource) models.Document {
	return models.Document{ID: resourceID(r), Name: resourceName(r), Raw: r}
}

// toSegment keeps content and position apart and everything else as metadata.
func toSegment(r models.Resource) models.Segment {
	seg := models.Segment{
		Content:  stringField(r, "content"),
		Position: toInt(r["position"]),
	}
	for k, v := range r {
		if k == "content" || k == "position" {
			continue
		}
		if seg.Metadata == nil {
			seg.Metadata = make(map[string]interface{})
		}
		seg.Metadata[k] = v
	}
	return seg
}

// segmentPayload rebuilds the request body of one segment.
func segmentPayload(s models.Segment) map[string]interface{} {
	out := make(map[string]interface{}, len(s.Metadata)+1)
	for k, v := range s.Metadata {
		out[k] = v
	}
	out["content"] = s.Content
	return out
}

func pageNumber(cursor string) (int, error) {
	if cursor == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid page cursor %q", cursor)
	}
	return n, nil
}

func pageParams(cursor string, pageSize int) (map[string][]string, error) {
	page, err := pageNumber(cursor)
	if err != nil {
		return nil, err
	}
	return map[string][]string{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(pageSize)},
	}, nil
}

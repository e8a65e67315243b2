// Package model describes technical assignment documents: field names, workflow statuses,
// the image payload variant and the form definition used to generate the UI schema.
package model

import (
	"encoding/json"
	"math"
	"strconv"
)

// Top-level assignment fields.
const (
	FieldID           = "id"
	FieldGroupID      = "group_id"
	FieldName         = "name"
	FieldStatus       = "status"
	FieldIssue        = "issue"
	FieldVersion      = "version"
	FieldSaveCounter  = "save_counter"
	FieldAuthor       = "author"
	FieldCreatedAt    = "created_at"
	FieldUpdatedAt    = "updated_at"
	FieldDescription  = "description"
	FieldBlocks       = "blocks"
	FieldSize         = "size"
	FieldSchema       = "assignment_ui_schema"
	FieldSchemaHash   = "assignment_ui_schema_hash"
	FieldEventsMapper = "events_mapper"
)

// Block and event fields.
const (
	FieldEvents          = "events"
	FieldBlockComment    = "block_comment"
	FieldEventType       = "event_type"
	FieldEventData       = "event_data"
	FieldImages          = "images"
	FieldCheckComment    = "check_comment"
	FieldCheckImages     = "check_images"
	FieldInternalComment = "internal_comment"
	FieldEventReady      = "event_ready"
)

// Image holder fields.
const (
	FieldImageData        = "image_data"
	FieldImageLocation    = "image_location"
	FieldImageDescription = "image_description"
)

// ImageHolderFields names the keys whose values hold images anywhere in a document.
var ImageHolderFields = []string{FieldImages, FieldCheckImages}

// SchemaFields are stored alongside a document but are not part of its editable body.
var SchemaFields = []string{FieldSchema, FieldSchemaHash, FieldEventsMapper}

// Document is a schema-less assignment as exchanged with clients and stored in the database.
type Document map[string]any

func (d Document) ID() string {
	return d.String(FieldID)
}

func (d Document) GroupID() string {
	return d.String(FieldGroupID)
}

func (d Document) Version() int {
	return d.Int(FieldVersion)
}

func (d Document) SaveCounter() int {
	return d.Int(FieldSaveCounter)
}

// String returns the string value of key or "" when it is missing or not a string.
func (d Document) String(key string) string {
	value, _ := d[key].(string)
	return value
}

// Int returns the integer value of key. JSON decoding yields float64 or json.Number,
// the database driver may yield int32/int64; all are accepted.
func (d Document) Int(key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		if math.IsNaN(v) {
			return 0
		}
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(CloneValue(map[string]any(d)).(map[string]any))
}

// Without returns a shallow copy of d with the given keys removed.
func (d Document) Without(keys ...string) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// CloneValue deep-copies a JSON-like value made of maps, slices and scalars.
func CloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = CloneValue(item)
		}
		return out
	case Document:
		return Document(CloneValue(map[string]any(v)).(map[string]any))
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = CloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

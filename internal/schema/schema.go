// Package schema generates the JSON Schema that drives the assignment editor and hashes it so
// stored documents can be checked for staleness.
package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vitalik-svt/tomata/internal/errs"
	"github.com/vitalik-svt/tomata/internal/model"
)

// Enums are the dynamically sourced enumerations injected into the schema.
type Enums struct {
	Statuses   []string
	EventTypes []string
}

// Generated is the schema text and its content hash.
type Generated struct {
	Text string
	Hash string
}

type definitionFunc func() *model.Object

// registry selects the form definition for a variant by direct lookup.
var registry = map[model.Variant]definitionFunc{
	model.VariantBase: model.AssignmentBase,
	model.VariantUI:   model.AssignmentInUI,
	model.VariantFull: model.AssignmentWithFullSchema,
	model.VariantDB:   model.AssignmentInDB,
}

// internal bookkeeping keys that do not survive into the emitted schema
var dropKeys = map[string]struct{}{"$defs": {}, "$ref": {}}

const defsPrefix = "#/$defs/"

// Generate builds the schema for the given variant. Identical variant and enums always yield
// byte-identical text and therefore an identical hash.
func Generate(variant model.Variant, enums Enums) (Generated, error) {
	def, ok := registry[variant]
	if !ok {
		return Generated{}, fmt.Errorf("%w: unknown model variant %q", errs.ErrSchemaGeneration, variant)
	}
	return GenerateFor(def(), enums)
}

// GenerateFor builds the schema for an explicit form definition.
func GenerateFor(obj *model.Object, enums Enums) (Generated, error) {
	if obj == nil {
		return Generated{}, fmt.Errorf("%w: nil model definition", errs.ErrSchemaGeneration)
	}

	defs := map[string]any{}
	raw := objectSchema(obj, enums, defs)
	raw["$defs"] = defs

	resolved, err := resolveRefs(raw, defs, nil)
	if err != nil {
		return Generated{}, err
	}
	clean := stripKeys(resolved).(map[string]any)
	delete(clean, "description")

	text, err := encode(clean)
	if err != nil {
		return Generated{}, fmt.Errorf("%w: %v", errs.ErrSchemaGeneration, err)
	}
	return Generated{Text: text, Hash: Hash(text)}, nil
}

// Hash is the hex SHA-256 digest of schema text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func objectSchema(obj *model.Object, enums Enums, defs map[string]any) map[string]any {
	properties := make(map[string]any, len(obj.Fields))
	for _, field := range obj.Fields {
		properties[field.Name] = fieldSchema(field, enums, defs)
	}
	out := map[string]any{
		"title":      obj.Title,
		"type":       "object",
		"properties": properties,
	}
	if obj.Format != "" {
		out["format"] = obj.Format
	}
	return out
}

func fieldSchema(field model.Field, enums Enums, defs map[string]any) map[string]any {
	out := map[string]any{
		"title": field.Title,
		"type":  field.Type,
	}
	if field.Order != 0 {
		out["propertyOrder"] = field.Order
	}
	if field.Format != "" {
		out["format"] = field.Format
	}
	if field.ReadOnly {
		out["readonly"] = true
	}
	if field.MinLength > 0 {
		out["minLength"] = field.MinLength
	}
	if field.Default != nil {
		out["default"] = field.Default
	}
	if len(field.Options) > 0 {
		out["options"] = field.Options
	}
	if len(field.Media) > 0 {
		out["media"] = field.Media
	}
	switch field.Enum {
	case model.EnumStatus:
		out["enum"] = nonNil(enums.Statuses)
	case model.EnumEventType:
		out["enum"] = nonNil(enums.EventTypes)
	}

	if field.Items != nil {
		if _, seen := defs[field.Items.Name]; !seen {
			// placeholder first so self-references terminate
			defs[field.Items.Name] = nil
			defs[field.Items.Name] = objectSchema(field.Items, enums, defs)
		}
		ref := map[string]any{"$ref": defsPrefix + field.Items.Name}
		if field.Type == "array" {
			out["items"] = ref
		} else {
			out["allOf"] = []any{ref}
		}
	}
	return out
}

// resolveRefs replaces every {"$ref": "#/$defs/X"} with a copy of the definition.
func resolveRefs(node any, defs map[string]any, stack []string) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok {
			name := strings.TrimPrefix(ref, defsPrefix)
			for _, open := range stack {
				if open == name {
					return nil, fmt.Errorf("%w: recursive definition %q", errs.ErrSchemaGeneration, name)
				}
			}
			def, ok := defs[name]
			if !ok || def == nil {
				return nil, fmt.Errorf("%w: unresolved reference %q", errs.ErrSchemaGeneration, ref)
			}
			return resolveRefs(model.CloneValue(def), defs, append(stack, name))
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			if k == "$defs" {
				continue
			}
			resolved, err := resolveRefs(item, defs, stack)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := resolveRefs(item, defs, stack)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func stripKeys(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			if _, drop := dropKeys[k]; drop {
				continue
			}
			out[k] = stripKeys(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = stripKeys(item)
		}
		return out
	default:
		return v
	}
}

// encode emits indented JSON; map keys are sorted by encoding/json, which makes output stable.
func encode(value any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

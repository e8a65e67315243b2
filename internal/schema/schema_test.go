package schema

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalik-svt/tomata/internal/errs"
	"github.com/vitalik-svt/tomata/internal/model"
)

var testEnums = Enums{
	Statuses:   model.StatusValues(),
	EventTypes: []string{"GA:promoClick", "GA:detail"},
}

func TestGenerateIsDeterministic(t *testing.T) {
	first, err := Generate(model.VariantUI, testEnums)
	require.NoError(t, err)
	second, err := Generate(model.VariantUI, testEnums)
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Len(t, first.Hash, 64)
	assert.Equal(t, Hash(first.Text), first.Hash)
}

func TestGenerateHashTracksEnums(t *testing.T) {
	before, err := Generate(model.VariantUI, testEnums)
	require.NoError(t, err)

	changed := Enums{Statuses: testEnums.Statuses, EventTypes: append([]string{"GA:new"}, testEnums.EventTypes...)}
	after, err := Generate(model.VariantUI, changed)
	require.NoError(t, err)

	assert.NotEqual(t, before.Hash, after.Hash)
}

func TestGenerateVariantsDiffer(t *testing.T) {
	ui, err := Generate(model.VariantUI, testEnums)
	require.NoError(t, err)
	db, err := Generate(model.VariantDB, testEnums)
	require.NoError(t, err)
	assert.NotEqual(t, ui.Hash, db.Hash)

	_, err = Generate(model.Variant("nope"), testEnums)
	require.ErrorIs(t, err, errs.ErrSchemaGeneration)
}

func TestGenerateInlinesDefinitions(t *testing.T) {
	generated, err := Generate(model.VariantUI, testEnums)
	require.NoError(t, err)

	assert.NotContains(t, generated.Text, "$ref")
	assert.NotContains(t, generated.Text, "$defs")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(generated.Text), &decoded))
	assert.NotContains(t, decoded, "description")
	assert.Equal(t, "Technical Assignment", decoded["title"])

	props := decoded["properties"].(map[string]any)
	assert.Contains(t, props, model.FieldID)
	assert.Contains(t, props, model.FieldSchemaHash)
	assert.NotContains(t, props, model.FieldSchema)

	blocks := props[model.FieldBlocks].(map[string]any)
	block := blocks["items"].(map[string]any)
	events := block["properties"].(map[string]any)[model.FieldEvents].(map[string]any)
	event := events["items"].(map[string]any)["properties"].(map[string]any)

	eventType := event[model.FieldEventType].(map[string]any)
	assert.Equal(t, []any{"GA:promoClick", "GA:detail"}, eventType["enum"])

	images := event[model.FieldImages].(map[string]any)["items"].(map[string]any)
	assert.Equal(t, "Image", images["title"])

	status := props[model.FieldStatus].(map[string]any)
	assert.Len(t, status["enum"], len(model.Statuses()))
}

func TestGenerateUsesFourSpaceIndent(t *testing.T) {
	generated, err := Generate(model.VariantBase, testEnums)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(generated.Text, "{\n    \""))
}

func TestGenerateForRejectsRecursion(t *testing.T) {
	node := &model.Object{Name: "Node", Title: "Node"}
	node.Fields = []model.Field{{Name: "children", Title: "Children", Type: "array", Items: node}}

	_, err := GenerateFor(node, testEnums)
	require.ErrorIs(t, err, errs.ErrSchemaGeneration)
}

func TestSnapshotterReadsCatalogEachCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte("GA:a:\n  - key: action\n    value: click\n"), 0o644))

	s := NewSnapshotter(path)
	first, err := s.Current()
	require.NoError(t, err)
	assert.Contains(t, first.EventsMapper, "action: click")

	require.NoError(t, os.WriteFile(path, []byte("GA:a: []\nGA:b: []\n"), 0o644))
	second, err := s.Current()
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash, second.Hash)

	hash, err := s.CurrentHash()
	require.NoError(t, err)
	assert.Equal(t, second.Hash, hash)

	fields := second.Fields()
	assert.Equal(t, second.Schema, fields[model.FieldSchema])
	assert.Equal(t, second.Hash, fields[model.FieldSchemaHash])
}

func TestSnapshotterMissingCatalog(t *testing.T) {
	s := NewSnapshotter(filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := s.Current()
	require.ErrorIs(t, err, errs.ErrConfiguration)
}

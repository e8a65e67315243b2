package schema

import (
	"fmt"

	"github.com/vitalik-svt/tomata/internal/catalog"
	"github.com/vitalik-svt/tomata/internal/model"
)

// Snapshot is everything a document carries about the form it was created against.
type Snapshot struct {
	Schema       string
	Hash         string
	EventsMapper string
}

// Fields returns the snapshot as document fields.
func (s Snapshot) Fields() model.Document {
	return model.Document{
		model.FieldSchema:       s.Schema,
		model.FieldSchemaHash:   s.Hash,
		model.FieldEventsMapper: s.EventsMapper,
	}
}

// Snapshotter produces the current schema snapshot. The catalog file is read on every call.
type Snapshotter struct {
	catalogPath string
	variant     model.Variant
}

func NewSnapshotter(catalogPath string) *Snapshotter {
	return &Snapshotter{catalogPath: catalogPath, variant: model.VariantUI}
}

// Catalog loads the event type catalog backing the snapshot.
func (s *Snapshotter) Catalog() (*catalog.Catalog, error) {
	return catalog.Load(s.catalogPath)
}

// Current generates the schema for the editor variant using the current statuses and catalog.
func (s *Snapshotter) Current() (Snapshot, error) {
	c, err := s.Catalog()
	if err != nil {
		return Snapshot{}, err
	}
	return SnapshotFor(s.variant, c)
}

// CurrentHash is the hash of the schema Current would produce.
func (s *Snapshotter) CurrentHash() (string, error) {
	snap, err := s.Current()
	if err != nil {
		return "", err
	}
	return snap.Hash, nil
}

// SnapshotFor builds a snapshot from an already loaded catalog.
func SnapshotFor(variant model.Variant, c *catalog.Catalog) (Snapshot, error) {
	generated, err := Generate(variant, Enums{
		Statuses:   model.StatusValues(),
		EventTypes: c.Keys(),
	})
	if err != nil {
		return Snapshot{}, err
	}
	mapper, err := c.MapperJSON()
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot events mapper: %w", err)
	}
	return Snapshot{Schema: generated.Text, Hash: generated.Hash, EventsMapper: mapper}, nil
}

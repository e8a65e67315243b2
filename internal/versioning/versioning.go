// Package versioning allocates version numbers within a group and builds new versions from an
// existing document.
package versioning

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalik-svt/tomata/internal/errs"
	"github.com/vitalik-svt/tomata/internal/model"
	"github.com/vitalik-svt/tomata/internal/relocate"
	"github.com/vitalik-svt/tomata/internal/schema"
	"github.com/vitalik-svt/tomata/internal/store"
	"github.com/vitalik-svt/tomata/internal/util"
)

type versionStore interface {
	FindMaxInGroup(ctx context.Context, groupID string) (store.VersionRef, bool, error)
}

type snapshotSource interface {
	Current() (schema.Snapshot, error)
}

type imageMaterializer interface {
	MaterializeThenStrip(ctx context.Context, doc model.Document, docID string) (model.Document, error)
}

type Manager struct {
	store     versionStore
	snapshots snapshotSource
	images    imageMaterializer
	now       func() time.Time
}

func NewManager(store versionStore, snapshots snapshotSource, images imageMaterializer) *Manager {
	return &Manager{
		store:     store,
		snapshots: snapshots,
		images:    images,
		now:       time.Now,
	}
}

// NextVersion is one above the highest stored version of the group, or 1 for a new group.
// It is a point-in-time read; the store's (group_id, version) uniqueness catches races.
func (m *Manager) NextVersion(ctx context.Context, groupID string) (int, error) {
	ref, ok, err := m.store.FindMaxInGroup(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	if !ok {
		return 1, nil
	}
	return ref.Version + 1, nil
}

// Options controls CreateVersion.
type Options struct {
	// RefreshSchema replaces the embedded schema with the current one.
	RefreshSchema bool
	// ID is the identifier of the new document; a fresh one is allocated when empty.
	ID string
}

// CreateVersion copies a fully rehydrated base document into a new version of its group.
// Images are re-materialized under the new identifier so no storage key is shared with base.
func (m *Manager) CreateVersion(ctx context.Context, base model.Document, opts Options) (model.Document, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: base assignment", errs.ErrNotFound)
	}
	groupID := base.GroupID()
	if groupID == "" {
		return nil, fmt.Errorf("%w: assignment %s has no group", errs.ErrNotFound, base.ID())
	}
	version, err := m.NextVersion(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}
	// a base always belongs to a stored group, so an empty group means it is gone
	if version == 1 {
		return nil, fmt.Errorf("%w: group %s", errs.ErrNotFound, groupID)
	}

	doc := base.Clone()
	if opts.RefreshSchema {
		snap, err := m.snapshots.Current()
		if err != nil {
			return nil, fmt.Errorf("refresh schema: %w", err)
		}
		for k, v := range snap.Fields() {
			doc[k] = v
		}
	}

	id := opts.ID
	if id == "" {
		id = util.NewID("")
	}
	now := Timestamp(m.now())
	doc[model.FieldID] = id
	doc[model.FieldGroupID] = groupID
	doc[model.FieldVersion] = version
	doc[model.FieldSaveCounter] = 0
	doc[model.FieldCreatedAt] = now
	doc[model.FieldUpdatedAt] = now

	// images that failed to rehydrate still point at the base's keys
	doc = relocate.Rescope(doc, model.ImageHolderFields, id)
	out, err := m.images.MaterializeThenStrip(ctx, doc, id)
	if err != nil {
		return nil, fmt.Errorf("copy version images: %w", err)
	}
	return out, nil
}

// Timestamp is the stored form of created_at/updated_at.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

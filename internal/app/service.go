package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitalik-svt/tomata/internal/catalog"
	"github.com/vitalik-svt/tomata/internal/config"
	"github.com/vitalik-svt/tomata/internal/errs"
	"github.com/vitalik-svt/tomata/internal/logger"
	"github.com/vitalik-svt/tomata/internal/model"
	"github.com/vitalik-svt/tomata/internal/relocate"
	"github.com/vitalik-svt/tomata/internal/schema"
	"github.com/vitalik-svt/tomata/internal/search"
	"github.com/vitalik-svt/tomata/internal/storage"
	"github.com/vitalik-svt/tomata/internal/store"
	"github.com/vitalik-svt/tomata/internal/util"
	"github.com/vitalik-svt/tomata/internal/versioning"
)

// DocumentStore is the persistence side of the lifecycle. *store.AssignmentStore implements it.
type DocumentStore interface {
	FindByID(ctx context.Context, id string) (model.Document, error)
	FindMaxInGroup(ctx context.Context, groupID string) (store.VersionRef, bool, error)
	Insert(ctx context.Context, doc model.Document) error
	ReplaceFields(ctx context.Context, id string, patch model.Document) (model.Document, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteByGroup(ctx context.Context, groupID string) (int, error)
	ListIDsInGroup(ctx context.Context, groupID string) ([]string, error)
	FindProjected(ctx context.Context, filter store.Filter, fields []string) ([]model.Document, error)
}

type ImageStore interface {
	EnsureBucket(ctx context.Context) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

type ImageRelocator interface {
	Rehydrate(ctx context.Context, doc model.Document) model.Document
	MaterializeThenStrip(ctx context.Context, doc model.Document, docID string) (model.Document, error)
}

type SnapshotSource interface {
	Current() (schema.Snapshot, error)
	CurrentHash() (string, error)
	Catalog() (*catalog.Catalog, error)
}

type VersionCreator interface {
	CreateVersion(ctx context.Context, base model.Document, opts versioning.Options) (model.Document, error)
}

type SearchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexAssignment(doc model.Document)
	DeleteAssignments(ids ...string)
	Reindex(ctx context.Context, docs search.ProjectionStore)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Documents DocumentStore
	Images    ImageStore
	Relocator ImageRelocator
	Snapshots SnapshotSource
	Versions  VersionCreator
	Search    SearchIndex
	Users     UserAuthenticator
	Sessions  SessionStore
	DB        Pinger
	Log       *logger.Logger
}

// Service runs the assignment lifecycle: create, update, duplicate, delete and display.
type Service struct {
	cfg       config.Config
	docs      DocumentStore
	images    ImageStore
	relocator ImageRelocator
	snapshots SnapshotSource
	versions  VersionCreator
	search    SearchIndex
	users     UserAuthenticator
	sessions  SessionStore
	db        Pinger
	log       *logger.Logger
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		cfg:       cfg,
		docs:      deps.Documents,
		images:    deps.Images,
		relocator: deps.Relocator,
		snapshots: deps.Snapshots,
		versions:  deps.Versions,
		search:    deps.Search,
		users:     deps.Users,
		sessions:  deps.Sessions,
		db:        deps.DB,
		log:       log,
		now:       time.Now,
	}
}

// Bootstrap prepares external state the service relies on. Search reindexing is best effort.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.images.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("bootstrap images bucket: %w", err)
	}
	created, err := s.users.EnsureInitAdmin(ctx, s.cfg.InitAdminUsername, s.cfg.InitAdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap init admin: %w", err)
	}
	if created {
		s.log.Info("init admin created", "username", s.cfg.InitAdminUsername)
	}
	s.search.Reindex(ctx, s.docs)
	return nil
}

// Ping checks the database and the session store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	return nil
}

// systemFields are owned by the lifecycle and ignored when they arrive in a client patch.
var systemFields = append([]string{
	model.FieldID,
	model.FieldGroupID,
	model.FieldVersion,
	model.FieldSaveCounter,
	model.FieldAuthor,
	model.FieldCreatedAt,
	model.FieldUpdatedAt,
	model.FieldSize,
}, model.SchemaFields...)

// CreateNew starts a new group at version 1 with the current schema. initial may carry
// editable fields such as name or issue; system fields in it are ignored.
func (s *Service) CreateNew(ctx context.Context, author string, initial model.Document) (model.Document, error) {
	snap, err := s.snapshots.Current()
	if err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}

	doc := initial.Without(systemFields...)
	if doc.String(model.FieldStatus) == "" {
		doc[model.FieldStatus] = string(model.DefaultStatus)
	}
	for k, v := range snap.Fields() {
		doc[k] = v
	}
	id := util.NewID("")
	now := versioning.Timestamp(s.now())
	doc[model.FieldID] = id
	doc[model.FieldGroupID] = util.NewID("")
	doc[model.FieldVersion] = 1
	doc[model.FieldSaveCounter] = 0
	doc[model.FieldAuthor] = author
	doc[model.FieldCreatedAt] = now
	doc[model.FieldUpdatedAt] = now

	doc = s.withEventDefaults(doc)
	doc, err = s.relocator.MaterializeThenStrip(ctx, doc, id)
	if err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	if err := setSize(doc); err != nil {
		return nil, err
	}
	if err := s.docs.Insert(ctx, doc); err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	s.search.IndexAssignment(doc)
	s.log.Info("assignment created", "id", id, "group_id", doc.GroupID(), "author", author)
	return doc, nil
}

// Update merges patch over the stored document. Fields absent from patch stay as stored.
func (s *Service) Update(ctx context.Context, id string, patch model.Document) (model.Document, error) {
	current, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := current.Clone()
	for k, v := range patch.Without(systemFields...) {
		merged[k] = model.CloneValue(v)
	}
	merged = s.withEventDefaults(merged)

	merged, err = s.relocator.MaterializeThenStrip(ctx, merged, id)
	if err != nil {
		return nil, fmt.Errorf("update assignment %s: %w", id, err)
	}
	merged[model.FieldSaveCounter] = current.SaveCounter() + 1
	merged[model.FieldUpdatedAt] = versioning.Timestamp(s.now())
	if err := setSize(merged); err != nil {
		return nil, err
	}

	stored, err := s.docs.ReplaceFields(ctx, id, merged)
	if err != nil {
		return nil, fmt.Errorf("update assignment %s: %w", id, err)
	}
	s.search.IndexAssignment(stored)
	return stored, nil
}

// Duplicate stores a copy of id as the next version of its group and returns the new id.
// A concurrent duplicate that takes the same version number is retried with a fresh number.
func (s *Service) Duplicate(ctx context.Context, id string, useNewSchema bool) (string, error) {
	source, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	source = s.relocator.Rehydrate(ctx, source)

	attempts := max(s.cfg.VersionRetryAttempts, 1)
	opts := versioning.Options{RefreshSchema: useNewSchema, ID: util.NewID("")}
	for attempt := 1; ; attempt++ {
		doc, err := s.versions.CreateVersion(ctx, source, opts)
		if err != nil {
			return "", fmt.Errorf("duplicate assignment %s: %w", id, err)
		}
		if err := setSize(doc); err != nil {
			return "", err
		}
		err = s.docs.Insert(ctx, doc)
		if err == nil {
			s.search.IndexAssignment(doc)
			s.log.Info("assignment duplicated", "source", id, "id", opts.ID, "version", doc.Version())
			return opts.ID, nil
		}
		if !errors.Is(err, errs.ErrVersionConflict) || attempt >= attempts {
			return "", fmt.Errorf("duplicate assignment %s: %w", id, err)
		}
		s.log.Warn("version taken, retrying duplicate", "source", id, "version", doc.Version(), "attempt", attempt)
	}
}

// DeleteResult counts what a delete removed.
type DeleteResult struct {
	Documents int `json:"documents"`
	Images    int `json:"images"`
}

// Delete removes one version and its images. An unknown id removes nothing.
func (s *Service) Delete(ctx context.Context, id string) (DeleteResult, error) {
	res, err := s.deleteOne(ctx, id)
	if err != nil {
		return DeleteResult{}, err
	}
	if res.Documents > 0 {
		s.search.DeleteAssignments(id)
	}
	return res, nil
}

// DeleteGroup removes every version of a group with their images. Images go first so a failure
// never leaves a document pointing at deleted storage. An unknown group removes nothing.
func (s *Service) DeleteGroup(ctx context.Context, groupID string) (DeleteResult, error) {
	ids, err := s.docs.ListIDsInGroup(ctx, groupID)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete group %s: %w", groupID, err)
	}
	if len(ids) == 0 {
		return DeleteResult{}, nil
	}
	var total DeleteResult
	for _, id := range ids {
		n, err := s.images.DeletePrefix(ctx, storage.PrefixOf(id))
		if err != nil {
			return total, fmt.Errorf("delete images of %s: %w", id, err)
		}
		total.Images += n
	}
	if total.Documents, err = s.docs.DeleteByGroup(ctx, groupID); err != nil {
		return total, fmt.Errorf("delete group %s: %w", groupID, err)
	}
	s.search.DeleteAssignments(ids...)
	s.log.Info("group deleted", "group_id", groupID, "documents", total.Documents, "images", total.Images)
	return total, nil
}

func (s *Service) deleteOne(ctx context.Context, id string) (DeleteResult, error) {
	images, err := s.images.DeletePrefix(ctx, storage.PrefixOf(id))
	if err != nil {
		return DeleteResult{}, fmt.Errorf("delete images of %s: %w", id, err)
	}
	deleted, err := s.docs.Delete(ctx, id)
	if err != nil {
		return DeleteResult{Images: images}, fmt.Errorf("delete assignment %s: %w", id, err)
	}
	res := DeleteResult{Images: images}
	if deleted {
		res.Documents = 1
	}
	return res, nil
}

// DisplaySchema is delivered next to a document instead of inside it.
type DisplaySchema struct {
	Schema       string `json:"assignment_ui_schema"`
	Hash         string `json:"assignment_ui_schema_hash"`
	EventsMapper string `json:"events_mapper"`
}

type Display struct {
	Assignment model.Document `json:"assignment"`
	Schema     DisplaySchema  `json:"schema"`
}

// GetForDisplay returns the document with inline images and its schema split out.
func (s *Service) GetForDisplay(ctx context.Context, id string) (Display, error) {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return Display{}, err
	}
	doc = s.relocator.Rehydrate(ctx, doc)
	return Display{
		Assignment: doc.Without(model.FieldSchema, model.FieldEventsMapper),
		Schema: DisplaySchema{
			Schema:       doc.String(model.FieldSchema),
			Hash:         doc.String(model.FieldSchemaHash),
			EventsMapper: doc.String(model.FieldEventsMapper),
		},
	}, nil
}

// LatestInGroup displays the highest version of a group.
func (s *Service) LatestInGroup(ctx context.Context, groupID string) (Display, error) {
	ref, ok, err := s.docs.FindMaxInGroup(ctx, groupID)
	if err != nil {
		return Display{}, fmt.Errorf("latest in group %s: %w", groupID, err)
	}
	if !ok {
		return Display{}, fmt.Errorf("%w: group %s", errs.ErrNotFound, groupID)
	}
	return s.GetForDisplay(ctx, ref.ID)
}

// summaryFields never include schema or image payloads.
var summaryFields = []string{
	model.FieldID,
	model.FieldGroupID,
	model.FieldName,
	model.FieldStatus,
	model.FieldIssue,
	model.FieldVersion,
	model.FieldSaveCounter,
	model.FieldAuthor,
	model.FieldCreatedAt,
	model.FieldUpdatedAt,
	model.FieldSize,
	model.FieldSchemaHash,
}

type GroupSummary struct {
	GroupID string `json:"group_id"`
	// Name comes from the newest version.
	Name     string           `json:"name"`
	Versions []model.Document `json:"versions"`
}

type Summaries struct {
	Groups []GroupSummary `json:"groups"`
	// CurrentSchemaHash lets callers flag versions rendered with an older form.
	CurrentSchemaHash string `json:"current_schema_hash"`
}

// ListGroupSummaries groups lightweight projections by group_id, newest version first.
// Groups are ordered by their most recent update.
func (s *Service) ListGroupSummaries(ctx context.Context) (Summaries, error) {
	docs, err := s.docs.FindProjected(ctx, store.Filter{}, summaryFields)
	if err != nil {
		return Summaries{}, fmt.Errorf("list assignments: %w", err)
	}

	byGroup := make(map[string]*GroupSummary)
	var order []string
	for _, doc := range docs {
		groupID := doc.GroupID()
		g, ok := byGroup[groupID]
		if !ok {
			g = &GroupSummary{GroupID: groupID}
			byGroup[groupID] = g
			order = append(order, groupID)
		}
		g.Versions = append(g.Versions, doc)
	}

	groups := make([]GroupSummary, 0, len(order))
	for _, groupID := range order {
		g := byGroup[groupID]
		sort.SliceStable(g.Versions, func(i, j int) bool {
			a, b := g.Versions[i], g.Versions[j]
			if a.Version() != b.Version() {
				return a.Version() > b.Version()
			}
			return a.String(model.FieldCreatedAt) > b.String(model.FieldCreatedAt)
		})
		g.Name = g.Versions[0].String(model.FieldName)
		groups = append(groups, *g)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return latestUpdate(groups[i]) > latestUpdate(groups[j])
	})

	out := Summaries{Groups: groups}
	if hash, err := s.snapshots.CurrentHash(); err != nil {
		s.log.Warn("current schema hash unavailable", "error", err)
	} else {
		out.CurrentSchemaHash = hash
	}
	return out, nil
}

func latestUpdate(g GroupSummary) string {
	var latest string
	for _, v := range g.Versions {
		if ts := v.String(model.FieldUpdatedAt); ts > latest {
			latest = ts
		}
	}
	return latest
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

// withEventDefaults fills empty event_data from the catalog for known event types.
// The catalog is advisory here, so a broken catalog only skips the defaults.
func (s *Service) withEventDefaults(doc model.Document) model.Document {
	c, err := s.snapshots.Catalog()
	if err != nil {
		s.log.Warn("event defaults skipped", "error", err)
		return doc
	}
	out, unknown := EventDefaults(doc, c)
	if len(unknown) > 0 {
		s.log.Warn("event types missing from catalog", "id", doc.ID(), "event_types", unknown)
	}
	return out
}

// EventDefaults returns a copy of doc where every event with a catalog event_type and an
// empty event_data carries the catalog's rendered parameters. Event types the catalog does
// not know are left as they are and reported, sorted and deduplicated.
func EventDefaults(doc model.Document, c *catalog.Catalog) (model.Document, []string) {
	if doc == nil {
		return nil, nil
	}
	var (
		mu      sync.Mutex
		unknown = map[string]struct{}{}
	)
	out := relocate.Apply(map[string]any(doc), []string{model.FieldEvents}, func(value any) any {
		event, ok := value.(map[string]any)
		if !ok {
			return value
		}
		eventType, _ := event[model.FieldEventType].(string)
		if eventType != "" && !c.Has(eventType) {
			mu.Lock()
			unknown[eventType] = struct{}{}
			mu.Unlock()
			return event
		}
		if data, _ := event[model.FieldEventData].(string); data != "" {
			return event
		}
		if text, ok := c.Text(eventType); ok {
			event[model.FieldEventData] = text
		}
		return event
	})

	types := make([]string, 0, len(unknown))
	for t := range unknown {
		types = append(types, t)
	}
	sort.Strings(types)
	return model.Document(out.(map[string]any)), types
}

// setSize records the serialized size of the document body, schema fields excluded.
func setSize(doc model.Document) error {
	body, err := json.Marshal(doc.Without(append([]string{model.FieldSize}, model.SchemaFields...)...))
	if err != nil {
		return fmt.Errorf("measure assignment: %w", err)
	}
	doc[model.FieldSize] = len(body)
	return nil
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vitalik-svt/tomata/internal/authpw"
	"github.com/vitalik-svt/tomata/internal/config"
	"github.com/vitalik-svt/tomata/internal/errs"
	"github.com/vitalik-svt/tomata/internal/logger"
	"github.com/vitalik-svt/tomata/internal/model"
	"github.com/vitalik-svt/tomata/internal/rbac"
	"github.com/vitalik-svt/tomata/internal/relocate"
	"github.com/vitalik-svt/tomata/internal/schema"
	"github.com/vitalik-svt/tomata/internal/search"
	"github.com/vitalik-svt/tomata/internal/session"
	"github.com/vitalik-svt/tomata/internal/storage"
	"github.com/vitalik-svt/tomata/internal/store"
	"github.com/vitalik-svt/tomata/internal/versioning"
)

const testCatalog = `
GA:promoClick:
  - key: action
    value: click
GA:detail:
  - key: elementType
    value: page
`

// memDocs keeps documents as JSON, like the JSONB column does.
type memDocs struct {
	mu           sync.Mutex
	rows         map[string][]byte
	beforeInsert func(doc model.Document)
	pingErr      error
}

func newMemDocs() *memDocs {
	return &memDocs{rows: make(map[string][]byte)}
}

func (m *memDocs) put(t *testing.T, doc model.Document) {
	t.Helper()
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("encode seed: %v", err)
	}
	m.mu.Lock()
	m.rows[doc.ID()] = body
	m.mu.Unlock()
}

func (m *memDocs) get(t *testing.T, id string) model.Document {
	t.Helper()
	doc, err := m.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return doc
}

func (m *memDocs) all() []model.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Document, 0, len(m.rows))
	for _, body := range m.rows {
		out = append(out, decode(body))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GroupID() != out[j].GroupID() {
			return out[i].GroupID() < out[j].GroupID()
		}
		return out[i].Version() > out[j].Version()
	})
	return out
}

func decode(body []byte) model.Document {
	doc := model.Document{}
	_ = json.Unmarshal(body, &doc)
	return doc
}

func (m *memDocs) FindByID(_ context.Context, id string) (model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: assignment %s", errs.ErrNotFound, id)
	}
	return decode(body), nil
}

func (m *memDocs) FindMaxInGroup(_ context.Context, groupID string) (store.VersionRef, bool, error) {
	var (
		ref store.VersionRef
		ok  bool
	)
	for _, doc := range m.all() {
		if doc.GroupID() == groupID && (!ok || doc.Version() > ref.Version) {
			ref, ok = store.VersionRef{ID: doc.ID(), Version: doc.Version()}, true
		}
	}
	return ref, ok, nil
}

func (m *memDocs) Insert(_ context.Context, doc model.Document) error {
	if m.beforeInsert != nil {
		m.beforeInsert(doc)
	}
	for _, other := range m.all() {
		if other.GroupID() == doc.GroupID() && other.Version() == doc.Version() {
			return fmt.Errorf("%w: group %s version %d", errs.ErrVersionConflict, doc.GroupID(), doc.Version())
		}
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.rows[doc.ID()] = body
	m.mu.Unlock()
	return nil
}

func (m *memDocs) ReplaceFields(ctx context.Context, id string, patch model.Document) (model.Document, error) {
	current, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	for k, v := range patch.Without(model.FieldID) {
		current[k] = v
	}
	body, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.rows[id] = body
	m.mu.Unlock()
	return decode(body), nil
}

func (m *memDocs) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	delete(m.rows, id)
	return ok, nil
}

func (m *memDocs) DeleteByGroup(_ context.Context, groupID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, body := range m.rows {
		if decode(body).GroupID() == groupID {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memDocs) ListIDsInGroup(_ context.Context, groupID string) ([]string, error) {
	var ids []string
	for _, doc := range m.all() {
		if doc.GroupID() == groupID {
			ids = append(ids, doc.ID())
		}
	}
	return ids, nil
}

func (m *memDocs) FindProjected(_ context.Context, filter store.Filter, fields []string) ([]model.Document, error) {
	var out []model.Document
	for _, doc := range m.all() {
		if filter.GroupID != "" && doc.GroupID() != filter.GroupID {
			continue
		}
		out = append(out, project(doc, fields))
	}
	return out, nil
}

func (m *memDocs) SearchText(_ context.Context, query string, fields []string, limit int) ([]model.Document, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	var out []model.Document
	for _, doc := range m.all() {
		for _, key := range []string{model.FieldName, model.FieldIssue, model.FieldAuthor, model.FieldDescription} {
			if strings.Contains(strings.ToLower(doc.String(key)), needle) {
				out = append(out, project(doc, fields))
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memDocs) Ping(context.Context) error {
	return m.pingErr
}

func project(doc model.Document, fields []string) model.Document {
	out := model.Document{}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

type fakeUser struct {
	password string
	role     string
}

type fakeUsers struct {
	users map[string]fakeUser
}

func (f *fakeUsers) SignIn(_ context.Context, req authpw.SignInRequest) (store.User, error) {
	u, ok := f.users[req.Username]
	if !ok || u.password != req.Password {
		return store.User{}, fmt.Errorf("%w: invalid username or password", errs.ErrUnauthorized)
	}
	return store.User{Username: req.Username, Role: u.role}, nil
}

func (f *fakeUsers) CreateUser(_ context.Context, username, password, role string) (bool, error) {
	if !rbac.Valid(role) {
		return false, fmt.Errorf("%w: unknown role %q", errs.ErrInvalidInput, role)
	}
	if _, ok := f.users[username]; ok {
		return false, nil
	}
	f.users[username] = fakeUser{password: password, role: role}
	return true, nil
}

func (f *fakeUsers) ListUsers(context.Context) ([]store.User, error) {
	names := make([]string, 0, len(f.users))
	for name := range f.users {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]store.User, 0, len(names))
	for _, name := range names {
		out = append(out, store.User{Username: name, Role: f.users[name].role})
	}
	return out, nil
}

func (f *fakeUsers) DeleteUser(_ context.Context, username string) error {
	if _, ok := f.users[username]; !ok {
		return fmt.Errorf("%w: user %s", errs.ErrNotFound, username)
	}
	delete(f.users, username)
	return nil
}

func (f *fakeUsers) EnsureInitAdmin(_ context.Context, username, password string) (bool, error) {
	if len(f.users) > 0 {
		return false, nil
	}
	f.users[username] = fakeUser{password: password, role: authpw.RoleAdmin}
	return true, nil
}

type testEnv struct {
	svc       *Service
	docs      *memDocs
	images    *storage.Memory
	users     *fakeUsers
	snapshots *schema.Snapshotter
	redis     *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events_mapper.yaml")
	if err := os.WriteFile(path, []byte(testCatalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	mr := miniredis.RunT(t)
	sessions, err := session.NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	docs := newMemDocs()
	images := storage.NewMemory("images")
	relocator := relocate.New(images, logger.Nop(), 2)
	snapshots := schema.NewSnapshotter(path)
	users := &fakeUsers{users: map[string]fakeUser{
		"avery": {password: "secret", role: "editor"},
		"root":  {password: "secret", role: "admin"},
		"vic":   {password: "secret", role: "viewer"},
	}}

	cfg := config.Config{
		JWTSecret:            "test-secret",
		AccessTTL:            time.Hour,
		VersionRetryAttempts: 3,
		InitAdminUsername:    "admin",
		InitAdminPassword:    "admin",
	}
	svc := New(cfg, Deps{
		Documents: docs,
		Images:    images,
		Relocator: relocator,
		Snapshots: snapshots,
		Versions:  versioning.NewManager(docs, snapshots, relocator),
		Search:    search.NewService(nil, search.NewStoreSearch(docs), logger.Nop()),
		Users:     users,
		Sessions:  sessions,
		DB:        docs,
		Log:       logger.Nop(),
	})
	return &testEnv{svc: svc, docs: docs, images: images, users: users, snapshots: snapshots, redis: mr}
}

func png(content string) string {
	return relocate.EncodeDataURI("image/png", []byte(content))
}

// eventWith builds a blocks value with one event holding the given image payloads.
func eventWith(eventType, eventData string, images ...map[string]any) []any {
	holders := make([]any, len(images))
	for i, img := range images {
		holders[i] = img
	}
	return []any{map[string]any{
		model.FieldEvents: []any{map[string]any{
			model.FieldEventType: eventType,
			model.FieldEventData: eventData,
			model.FieldImages:    holders,
		}},
	}}
}

func firstEvent(t *testing.T, doc model.Document) map[string]any {
	t.Helper()
	blocks, _ := doc[model.FieldBlocks].([]any)
	if len(blocks) == 0 {
		t.Fatalf("document has no blocks: %v", doc)
	}
	block, _ := blocks[0].(map[string]any)
	events, _ := block[model.FieldEvents].([]any)
	if len(events) == 0 {
		t.Fatalf("block has no events: %v", block)
	}
	event, _ := events[0].(map[string]any)
	return event
}

func imagesOf(t *testing.T, doc model.Document) []map[string]any {
	t.Helper()
	raw, _ := firstEvent(t, doc)[model.FieldImages].([]any)
	out := make([]map[string]any, len(raw))
	for i, item := range raw {
		out[i], _ = item.(map[string]any)
	}
	return out
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/vitalik-svt/tomata/internal/errs"
	"github.com/vitalik-svt/tomata/internal/model"
)

// AssignmentStore keeps whole documents in a JSONB column. group_id and version are mirrored
// into columns for grouping queries and the (group_id, version) uniqueness guard.
type AssignmentStore struct {
	db *DB
}

func NewAssignmentStore(db *DB) *AssignmentStore {
	return &AssignmentStore{db: db}
}

func (s *AssignmentStore) FindByID(ctx context.Context, id string) (model.Document, error) {
	const q = `SELECT body FROM assignments WHERE id = $1`
	var body []byte
	if err := s.db.Pool.QueryRow(ctx, q, id).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: assignment %s", errs.ErrNotFound, id)
		}
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	return decodeBody(body)
}

// FindMaxInGroup returns the highest stored version of a group. ok is false for an unknown group.
func (s *AssignmentStore) FindMaxInGroup(ctx context.Context, groupID string) (VersionRef, bool, error) {
	const q = `
SELECT id, version
FROM assignments
WHERE group_id = $1
ORDER BY version DESC
LIMIT 1`
	var ref VersionRef
	if err := s.db.Pool.QueryRow(ctx, q, groupID).Scan(&ref.ID, &ref.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VersionRef{}, false, nil
		}
		return VersionRef{}, false, fmt.Errorf("find max version: %w", err)
	}
	return ref, true, nil
}

// Insert stores a new document. A clash on (group_id, version) yields errs.ErrVersionConflict.
func (s *AssignmentStore) Insert(ctx context.Context, doc model.Document) error {
	if doc.ID() == "" || doc.GroupID() == "" {
		return fmt.Errorf("%w: assignment needs id and group_id", errs.ErrInvalidInput)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode assignment: %w", err)
	}
	const q = `
INSERT INTO assignments (id, group_id, version, body)
VALUES ($1, $2, $3, $4)`
	if _, err := s.db.Pool.Exec(ctx, q, doc.ID(), doc.GroupID(), doc.Version(), body); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: group %s version %d", errs.ErrVersionConflict, doc.GroupID(), doc.Version())
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// ReplaceFields merges patch over the stored top-level fields and returns the result.
// The id field is never taken from the patch.
func (s *AssignmentStore) ReplaceFields(ctx context.Context, id string, patch model.Document) (model.Document, error) {
	patch = patch.Without(model.FieldID)
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	const q = `
UPDATE assignments
SET body = body || $2::jsonb,
    group_id = COALESCE($2::jsonb->>'group_id', group_id),
    version = COALESCE(($2::jsonb->>'version')::int, version),
    updated_at = NOW()
WHERE id = $1
RETURNING body`
	var updated []byte
	if err := s.db.Pool.QueryRow(ctx, q, id, body).Scan(&updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: assignment %s", errs.ErrNotFound, id)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: assignment %s", errs.ErrVersionConflict, id)
		}
		return nil, fmt.Errorf("update assignment: %w", err)
	}
	return decodeBody(updated)
}

func (s *AssignmentStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM assignments WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete assignment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *AssignmentStore) DeleteByGroup(ctx context.Context, groupID string) (int, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM assignments WHERE group_id = $1`, groupID)
	if err != nil {
		return 0, fmt.Errorf("delete group: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListIDsInGroup returns the ids of a group, newest version first.
func (s *AssignmentStore) ListIDsInGroup(ctx context.Context, groupID string) ([]string, error) {
	const q = `SELECT id FROM assignments WHERE group_id = $1 ORDER BY version DESC`
	rows, err := s.db.Pool.Query(ctx, q, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group ids: %w", err)
	}
	return ids, nil
}

// FindProjected returns only the requested top-level fields of matching documents, newest first
// within each group.
func (s *AssignmentStore) FindProjected(ctx context.Context, filter Filter, fields []string) ([]model.Document, error) {
	const q = `
SELECT COALESCE((SELECT jsonb_object_agg(key, value) FROM jsonb_each(body) WHERE key = ANY($1)), '{}'::jsonb)
FROM assignments
WHERE ($2 = '' OR group_id = $2)
ORDER BY group_id, version DESC, created_at DESC`
	return s.queryDocuments(ctx, "find projected", q, fields, filter.GroupID)
}

// SearchText is a case-insensitive substring match over the descriptive fields.
func (s *AssignmentStore) SearchText(ctx context.Context, query string, fields []string, limit int) ([]model.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	const q = `
SELECT COALESCE((SELECT jsonb_object_agg(key, value) FROM jsonb_each(body) WHERE key = ANY($1)), '{}'::jsonb)
FROM assignments
WHERE body->>'name' ILIKE $2
   OR body->>'issue' ILIKE $2
   OR body->>'author' ILIKE $2
   OR body->>'description' ILIKE $2
ORDER BY updated_at DESC
LIMIT $3`
	return s.queryDocuments(ctx, "search assignments", q, fields, pattern, limit)
}

func (s *AssignmentStore) queryDocuments(ctx context.Context, op, q string, args ...any) ([]model.Document, error) {
	rows, err := s.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		doc, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return docs, nil
}

func decodeBody(body []byte) (model.Document, error) {
	doc := model.Document{}
	if len(body) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode assignment: %w", err)
	}
	return doc, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

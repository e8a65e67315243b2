package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalik-svt/tomata/internal/errs"
	"github.com/vitalik-svt/tomata/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &DB{Pool: mock}, mock
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

func TestFindByID(t *testing.T) {
	db, mock := newDB(t)
	s := NewAssignmentStore(db)
	ctx := context.Background()

	mock.ExpectQuery(q(`SELECT body FROM assignments WHERE id = $1`)).
		WithArgs("a1").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow([]byte(`{"id":"a1","group_id":"g1","version":2}`)))
	doc, err := s.FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "g1", doc.GroupID())
	assert.Equal(t, 2, doc.Version())

	mock.ExpectQuery(q(`SELECT body FROM assignments WHERE id = $1`)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = s.FindByID(ctx, "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMaxInGroup(t *testing.T) {
	db, mock := newDB(t)
	s := NewAssignmentStore(db)
	ctx := context.Background()

	mock.ExpectQuery(q(`SELECT id, version FROM assignments WHERE group_id = $1 ORDER BY version DESC LIMIT 1`)).
		WithArgs("g1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "version"}).AddRow("a3", 3))
	ref, ok, err := s.FindMaxInGroup(ctx, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, VersionRef{ID: "a3", Version: 3}, ref)

	mock.ExpectQuery(q(`SELECT id, version FROM assignments`)).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)
	_, ok, err = s.FindMaxInGroup(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery(q(`SELECT id, version FROM assignments`)).
		WithArgs("broken").
		WillReturnError(errors.New("connection reset"))
	_, _, err = s.FindMaxInGroup(ctx, "broken")
	require.Error(t, err)
}

func TestInsertMapsUniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	s := NewAssignmentStore(db)
	ctx := context.Background()
	doc := model.Document{model.FieldID: "a2", model.FieldGroupID: "g1", model.FieldVersion: 2}

	mock.ExpectExec(q(`INSERT INTO assignments (id, group_id, version, body) VALUES ($1, $2, $3, $4)`)).
		WithArgs("a2", "g1", 2, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Insert(ctx, doc))

	mock.ExpectExec(q(`INSERT INTO assignments`)).
		WithArgs("a2", "g1", 2, pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, s.Insert(ctx, doc), errs.ErrVersionConflict)

	require.ErrorIs(t, s.Insert(ctx, model.Document{model.FieldGroupID: "g1"}), errs.ErrInvalidInput)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceFieldsNeverPatchesID(t *testing.T) {
	db, mock := newDB(t)
	s := NewAssignmentStore(db)
	ctx := context.Background()

	mock.ExpectQuery(q(`UPDATE assignments SET body = body || $2::jsonb`)).
		WithArgs("a1", []byte(`{"name":"renamed"}`)).
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow([]byte(`{"id":"a1","name":"renamed"}`)))
	doc, err := s.ReplaceFields(ctx, "a1", model.Document{model.FieldID: "hijack", model.FieldName: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "a1", doc.ID())
	assert.Equal(t, "renamed", doc.String(model.FieldName))

	mock.ExpectQuery(q(`UPDATE assignments`)).
		WithArgs("gone", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	_, err = s.ReplaceFields(ctx, "gone", model.Document{model.FieldName: "x"})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDeleteAndDeleteByGroup(t *testing.T) {
	db, mock := newDB(t)
	s := NewAssignmentStore(db)
	ctx := context.Background()

	mock.ExpectExec(q(`DELETE FROM assignments WHERE id = $1`)).
		WithArgs("a1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	ok, err := s.Delete(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(q(`DELETE FROM assignments WHERE id = $1`)).
		WithArgs("a1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	ok, err = s.Delete(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec(q(`DELETE FROM assignments WHERE group_id = $1`)).
		WithArgs("g1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	n, err := s.DeleteByGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestListIDsInGroup(t *testing.T) {
	db, mock := newDB(t)
	s := NewAssignmentStore(db)

	mock.ExpectQuery(q(`SELECT id FROM assignments WHERE group_id = $1 ORDER BY version DESC`)).
		WithArgs("g1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("a3").AddRow("a2").AddRow("a1"))
	ids, err := s.ListIDsInGroup(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a3", "a2", "a1"}, ids)
}

func TestFindProjected(t *testing.T) {
	db, mock := newDB(t)
	s := NewAssignmentStore(db)
	fields := []string{model.FieldID, model.FieldGroupID, model.FieldName}

	mock.ExpectQuery(q(`FROM jsonb_each(body) WHERE key = ANY($1)`)).
		WithArgs(fields, "").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).
			AddRow([]byte(`{"id":"a2","group_id":"g1","name":"v2"}`)).
			AddRow([]byte(`{}`)))
	docs, err := s.FindProjected(context.Background(), Filter{}, fields)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "v2", docs[0].String(model.FieldName))
	assert.Empty(t, docs[1])
}

func TestSearchTextEscapesPattern(t *testing.T) {
	db, mock := newDB(t)
	s := NewAssignmentStore(db)

	mock.ExpectQuery(q(`WHERE body->>'name' ILIKE $2`)).
		WithArgs([]string{model.FieldID}, `%50\%\_off%`, 10).
		WillReturnRows(pgxmock.NewRows([]string{"body"}))
	docs, err := s.SearchText(context.Background(), " 50%_off ", []string{model.FieldID}, 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore(t *testing.T) {
	db, mock := newDB(t)
	s := NewUserStore(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(q(`SELECT username, password_hash, role, created_at FROM users WHERE username = $1`)).
		WithArgs("admin").
		WillReturnRows(pgxmock.NewRows([]string{"username", "password_hash", "role", "created_at"}).
			AddRow("admin", "hash", "admin", now))
	u, err := s.GetUser(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "hash", u.PasswordHash)

	mock.ExpectQuery(q(`FROM users WHERE username = $1`)).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	_, err = s.GetUser(ctx, "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectExec(q(`INSERT INTO users (username, password_hash, role)`)).
		WithArgs("admin", "hash", "admin").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	created, err := s.CreateUser(ctx, User{Username: "admin", PasswordHash: "hash", Role: "admin"})
	require.NoError(t, err)
	assert.False(t, created)

	mock.ExpectQuery(q(`SELECT COUNT(*) FROM users`)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mock.ExpectQuery(q(`FROM users ORDER BY username`)).
		WillReturnRows(pgxmock.NewRows([]string{"username", "password_hash", "role", "created_at"}).
			AddRow("admin", "hash", "admin", now).
			AddRow("vic", "hash2", "viewer", now))
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "vic", users[1].Username)
	assert.Equal(t, "viewer", users[1].Role)

	mock.ExpectExec(q(`DELETE FROM users WHERE username = $1`)).
		WithArgs("vic").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	deleted, err := s.DeleteUser(ctx, "vic")
	require.NoError(t, err)
	assert.True(t, deleted)

	mock.ExpectExec(q(`DELETE FROM users WHERE username = $1`)).
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	deleted, err = s.DeleteUser(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

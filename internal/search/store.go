package search

import (
	"context"
	"strings"

	"github.com/vitalik-svt/tomata/internal/model"
)

type textStore interface {
	SearchText(ctx context.Context, query string, fields []string, limit int) ([]model.Document, error)
}

// StoreSearch is the fallback searcher backed by a substring match in the document store.
type StoreSearch struct {
	store textStore
}

func NewStoreSearch(store textStore) *StoreSearch {
	return &StoreSearch{store: store}
}

// Healthy always returns true; without the database the whole app is down.
func (s *StoreSearch) Healthy() bool {
	return true
}

func (s *StoreSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}
	limit := defaultLimit(q.Limit)
	offset := max(q.Offset, 0)

	docs, err := s.store.SearchText(ctx, text, IndexedFields, limit+offset)
	if err != nil {
		return nil, 0, err
	}
	if status := strings.TrimSpace(q.Status); status != "" {
		docs = withStatus(docs, status)
	}
	if offset >= len(docs) {
		return nil, len(docs), nil
	}

	results := make([]Result, 0, len(docs)-offset)
	for _, doc := range docs[offset:] {
		record := RecordFromDocument(doc)
		results = append(results, record.result(snippet(record, text)))
	}
	return results, len(docs), nil
}

func withStatus(docs []model.Document, status string) []model.Document {
	var kept []model.Document
	for _, doc := range docs {
		if doc.String(model.FieldStatus) == status {
			kept = append(kept, doc)
		}
	}
	return kept
}

// snippet returns a short window of the description around the first match.
func snippet(record AssignmentRecord, text string) string {
	const radius = 60
	source := []rune(record.Description)
	lowered := []rune(strings.ToLower(record.Description))
	needle := []rune(strings.ToLower(text))

	i := indexRunes(lowered, needle)
	if i < 0 {
		if len(source) > 2*radius {
			return string(source[:2*radius]) + "..."
		}
		return string(source)
	}
	start := max(i-radius, 0)
	end := min(i+len(needle)+radius, len(source))
	out := string(source[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(source) {
		out += "..."
	}
	return out
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return i
		}
	}
	return -1
}

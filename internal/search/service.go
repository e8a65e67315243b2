package search

import (
	"context"

	"github.com/vitalik-svt/tomata/internal/logger"
	"github.com/vitalik-svt/tomata/internal/model"
	"github.com/vitalik-svt/tomata/internal/store"
)

type indexer interface {
	Searcher
	IndexAssignments(records []AssignmentRecord) error
	DeleteAssignments(ids []string) error
}

// ProjectionStore loads the indexed fields of stored assignments.
type ProjectionStore interface {
	FindProjected(ctx context.Context, filter store.Filter, fields []string) ([]model.Document, error)
}

// Service is the facade that tries Meilisearch first and falls back to the document store.
type Service struct {
	meili    indexer
	fallback Searcher
	log      *logger.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, log *logger.Logger) *Service {
	s := &Service{fallback: fallback, log: log}
	if meili != nil {
		s.meili = meili
	}
	return s
}

func (s *Service) primaryHealthy() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to the document store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryHealthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.log.Warn("meilisearch error, falling back to store", "error", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("fallback search failed", "error", err)
		return Response{Results: []Result{}, Query: q.Text, Engine: "store"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "store"}
}

// IndexAssignment indexes one document (fire-and-forget).
func (s *Service) IndexAssignment(doc model.Document) {
	if !s.primaryHealthy() {
		return
	}
	record := RecordFromDocument(doc)
	go func() {
		if err := s.meili.IndexAssignments([]AssignmentRecord{record}); err != nil {
			s.log.Warn("index assignment", "id", record.ID, "error", err)
		}
	}()
}

// DeleteAssignments removes documents from the index (fire-and-forget).
func (s *Service) DeleteAssignments(ids ...string) {
	if !s.primaryHealthy() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.meili.DeleteAssignments(ids); err != nil {
			s.log.Warn("delete assignments from index", "ids", ids, "error", err)
		}
	}()
}

// Reindex pushes every stored assignment into Meilisearch. Called at bootstrap.
func (s *Service) Reindex(ctx context.Context, docs ProjectionStore) {
	if !s.primaryHealthy() {
		return
	}
	stored, err := docs.FindProjected(ctx, store.Filter{}, IndexedFields)
	if err != nil {
		s.log.Warn("reindex load failed", "error", err)
		return
	}
	records := make([]AssignmentRecord, 0, len(stored))
	for _, doc := range stored {
		records = append(records, RecordFromDocument(doc))
	}
	if err := s.meili.IndexAssignments(records); err != nil {
		s.log.Warn("reindex assignments", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

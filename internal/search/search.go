// Package search finds assignments by name, issue, author or description.
package search

import (
	"context"

	"github.com/vitalik-svt/tomata/internal/model"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
	Issue   string `json:"issue"`
	Author  string `json:"author"`
	Status  string `json:"status"`
	Version int    `json:"version"`
	Snippet string `json:"snippet"`
}

// Query is a full-text query. Status, when set, keeps only assignments in that status.
type Query struct {
	Text   string
	Status string
	Limit  int
	Offset int
}

const pageSize = 20

func defaultLimit(limit int) int {
	if limit <= 0 {
		return pageSize
	}
	return limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// AssignmentRecord is the data indexed for one assignment version.
type AssignmentRecord struct {
	ID          string `json:"id"`
	GroupID     string `json:"group_id"`
	Name        string `json:"name"`
	Issue       string `json:"issue"`
	Author      string `json:"author"`
	Status      string `json:"status"`
	Description string `json:"description"`
	Version     int    `json:"version"`
}

// IndexedFields are the top-level document fields a record is built from.
var IndexedFields = []string{
	model.FieldID,
	model.FieldGroupID,
	model.FieldName,
	model.FieldIssue,
	model.FieldAuthor,
	model.FieldStatus,
	model.FieldDescription,
	model.FieldVersion,
}

func RecordFromDocument(doc model.Document) AssignmentRecord {
	return AssignmentRecord{
		ID:          doc.ID(),
		GroupID:     doc.GroupID(),
		Name:        doc.String(model.FieldName),
		Issue:       doc.String(model.FieldIssue),
		Author:      doc.String(model.FieldAuthor),
		Status:      doc.String(model.FieldStatus),
		Description: doc.String(model.FieldDescription),
		Version:     doc.Version(),
	}
}

func (r AssignmentRecord) result(snippet string) Result {
	return Result{
		ID:      r.ID,
		GroupID: r.GroupID,
		Name:    r.Name,
		Issue:   r.Issue,
		Author:  r.Author,
		Status:  r.Status,
		Version: r.Version,
		Snippet: snippet,
	}
}

package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"github.com/vitalik-svt/tomata/internal/logger"
)

const (
	assignmentsIndex = "tomata_assignments"
	healthInterval   = 10 * time.Second
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili keeps one index of assignment versions. Health is checked in the background and
// searches are refused while the server is down so the caller can use the fallback.
type Meili struct {
	client  meili.ServiceManager
	index   meili.IndexManager
	log     *logger.Logger
	healthy atomic.Bool
	stop    chan struct{}
}

func NewMeili(url, apiKey string, log *logger.Logger) *Meili {
	if log == nil {
		log = logger.Nop()
	}
	client := meili.New(url, meili.WithAPIKey(apiKey))
	m := &Meili{
		client: client,
		index:  client.Index(assignmentsIndex),
		log:    log,
		stop:   make(chan struct{}),
	}
	m.checkHealth()
	go m.watch()
	return m
}

// checkHealth refreshes the health flag and sets the index up whenever the server comes back.
func (m *Meili) checkHealth() {
	_, err := m.client.Health()
	was := m.healthy.Swap(err == nil)
	switch {
	case err != nil && was:
		m.log.Warn("meilisearch went down", "error", err)
	case err != nil:
		m.log.Debug("meilisearch still unavailable", "error", err)
	case !was:
		m.log.Info("meilisearch available, configuring index", "index", assignmentsIndex)
		m.ensureIndex()
	}
}

func (m *Meili) watch() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Meili) ensureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: assignmentsIndex, PrimaryKey: "id"}); err != nil {
		m.log.Debug("create index", "index", assignmentsIndex, "error", err)
	}
	filterable := []interface{}{"group_id", "status", "author"}
	if _, err := m.index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("set filterable attributes", "error", err)
	}
	searchable := []string{"name", "issue", "author", "description"}
	if _, err := m.index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("set searchable attributes", "error", err)
	}
}

func (m *Meili) Close() {
	close(m.stop)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.Healthy() {
		return nil, 0, errUnhealthy
	}
	req := &meili.SearchRequest{
		Limit:                 int64(defaultLimit(q.Limit)),
		Offset:                int64(q.Offset),
		AttributesToCrop:      []string{"description"},
		AttributesToHighlight: []string{"description"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if status := strings.TrimSpace(q.Status); status != "" {
		req.Filter = "status = " + strconv.Quote(status)
	}

	resp, err := m.index.Search(q.Text, req)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}
	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		result, err := resultFromHit(hit)
		if err != nil {
			m.log.Warn("skipping undecodable hit", "error", err)
			continue
		}
		results = append(results, result)
	}
	return results, int(resp.EstimatedTotalHits), nil
}

// hitFields is what an index hit decodes into; _formatted carries the highlighted crop.
type hitFields struct {
	AssignmentRecord
	Formatted struct {
		Description string `json:"description"`
	} `json:"_formatted"`
}

func resultFromHit(hit meili.Hit) (Result, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return Result{}, err
	}
	var fields hitFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Result{}, fmt.Errorf("decode hit: %w", err)
	}
	snippet := strings.TrimSpace(fields.Formatted.Description)
	if snippet == "" {
		snippet = fields.Description
	}
	return fields.result(snippet), nil
}

// IndexAssignments adds or replaces records; the primary key is the document id.
func (m *Meili) IndexAssignments(records []AssignmentRecord) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := m.index.AddDocuments(records, nil); err != nil {
		return fmt.Errorf("index assignments: %w", err)
	}
	return nil
}

func (m *Meili) DeleteAssignments(ids []string) error {
	for _, id := range ids {
		if _, err := m.index.DeleteDocument(id, nil); err != nil {
			return fmt.Errorf("unindex assignment %s: %w", id, err)
		}
	}
	return nil
}

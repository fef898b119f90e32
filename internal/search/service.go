package search

import (
	"context"
	"log"

	"caseflow/api/internal/store"
)

// FallbackStore answers search queries when Meilisearch is down.
type FallbackStore interface {
	SearchRequests(ctx context.Context, query, state string, limit int) ([]store.Request, error)
}

// Service is the facade that tries Meilisearch first and falls back to a
// store scan. It satisfies the engine's Indexer contract; index writes are
// fire-and-forget.
type Service struct {
	meili    *Meili
	fallback FallbackStore
}

// NewService creates a search service. meili may be nil when Meilisearch
// is not configured.
func NewService(meili *Meili, fallback FallbackStore) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Project flattens a request into its index record.
func Project(item store.Request) RequestRecord {
	record := RequestRecord{
		ID:          item.ID,
		State:       item.State,
		Title:       fieldString(item, "title"),
		Description: fieldString(item, "description"),
		Priority:    fieldString(item, "priority"),
		Tags:        []string{},
		Requestors:  make([]string, 0, len(item.Requestors)),
	}
	if tags, ok := item.Fields["tags"].([]any); ok {
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				record.Tags = append(record.Tags, s)
			}
		}
	}
	for _, person := range item.Requestors {
		record.Requestors = append(record.Requestors, person.Name, person.Email)
	}
	return record
}

func fieldString(item store.Request, key string) string {
	s, _ := item.Fields[key].(string)
	return s
}

// Search tries Meilisearch if healthy, otherwise scans the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to store scan: %v", err)
	}

	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	items, err := s.fallback.SearchRequests(ctx, q.Text, q.State, limit)
	if err != nil {
		log.Printf("search: store scan error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results := make([]Result, 0, len(items))
	for _, item := range items {
		results = append(results, Result{
			ID:      item.ID,
			State:   item.State,
			Title:   fieldString(item, "title"),
			Snippet: fieldString(item, "description"),
		})
	}
	return Response{Results: results, Total: len(results), Query: q.Text}
}

// IndexRequest mirrors a request into Meilisearch, fire-and-forget.
func (s *Service) IndexRequest(item store.Request) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := Project(item)
	go func() {
		if err := s.meili.IndexRequest(record); err != nil {
			log.Printf("search: index request %s: %v", record.ID, err)
		}
	}()
}

// RemoveRequest drops a request from the index, fire-and-forget.
func (s *Service) RemoveRequest(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteRequest(id); err != nil {
			log.Printf("search: delete request %s: %v", id, err)
		}
	}()
}

// Reindex pushes the store's current requests into Meilisearch, used at
// startup after an index loss.
func (s *Service) Reindex(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	items, err := s.fallback.SearchRequests(ctx, "", "", 0)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	records := make([]RequestRecord, 0, len(items))
	for _, item := range items {
		records = append(records, Project(item))
	}
	if err := s.meili.IndexRequests(records); err != nil {
		log.Printf("search: reindex: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProcessor indexes a processor (fire-and-forget to Meilisearch).
func (s *Service) IndexProcessor(p ProcessorRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexProcessor(p); err != nil {
			log.Printf("search: index processor %s: %v", p.ID, err)
		}
	}()
}

// IndexGallery indexes a gallery (fire-and-forget to Meilisearch).
func (s *Service) IndexGallery(g GalleryRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexGallery(g); err != nil {
			log.Printf("search: index gallery %s: %v", g.ID, err)
		}
	}()
}

// IndexOperation indexes an operation (fire-and-forget to Meilisearch).
func (s *Service) IndexOperation(o OperationRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexOperation(o); err != nil {
			log.Printf("search: index operation %s: %v", o.ID, err)
		}
	}()
}

// DeleteProcessor removes a processor from the search index (fire-and-forget).
func (s *Service) DeleteProcessor(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteProcessor(id); err != nil {
			log.Printf("search: delete processor %s: %v", id, err)
		}
	}()
}

// DeleteGallery removes a gallery from the search index (fire-and-forget).
func (s *Service) DeleteGallery(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteGallery(id); err != nil {
			log.Printf("search: delete gallery %s: %v", id, err)
		}
	}()
}

// DeleteOperation removes an operation from the search index (fire-and-forget).
func (s *Service) DeleteOperation(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteOperation(id); err != nil {
			log.Printf("search: delete operation %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	processors, galleries, operations, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexProcessors(processors); err != nil {
		log.Printf("search: reindex processors: %v", err)
	}
	if err := s.meili.IndexGalleries(galleries); err != nil {
		log.Printf("search: reindex galleries: %v", err)
	}
	if err := s.meili.IndexOperations(operations); err != nil {
		log.Printf("search: reindex operations: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

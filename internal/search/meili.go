package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxProcessors = "validai_processors"
	idxGalleries  = "validai_galleries"
	idxOperations = "validai_operations"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// The caller should proceed without it if the instance stays unhealthy.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxProcessors,
			primaryKey: "id",
			filterable: []string{"organizationId", "status"},
			searchable: []string{"name", "description"},
		},
		{
			uid:        idxGalleries,
			primaryKey: "id",
			filterable: []string{"organizationId", "visibility"},
			searchable: []string{"name", "description"},
		},
		{
			uid:        idxOperations,
			primaryKey: "id",
			filterable: []string{"organizationId", "processorId", "area"},
			searchable: []string{"name", "prompt"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all three indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxProcessors, ResultProcessor},
		{idxGalleries, ResultGallery},
		{idxOperations, ResultOperation},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
			Filter:                []string{fmt.Sprintf("organizationId = %q", q.OrganizationID)},
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxProcessors:
		return ResultProcessor
	case idxGalleries:
		return ResultGallery
	case idxOperations:
		return ResultOperation
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.ProcessorID = decodeString(hit, "processorId")
	r.OrganizationID = decodeString(hit, "organizationId")
	r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))

	switch rtyp {
	case ResultProcessor, ResultGallery:
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	case ResultOperation:
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "prompt"), decodeString(hit, "prompt"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexProcessor adds or updates a processor in the search index.
func (m *Meili) IndexProcessor(p ProcessorRecord) error {
	_, err := m.client.Index(idxProcessors).AddDocuments([]ProcessorRecord{p}, nil)
	return err
}

// IndexGallery adds or updates a gallery in the search index.
func (m *Meili) IndexGallery(g GalleryRecord) error {
	_, err := m.client.Index(idxGalleries).AddDocuments([]GalleryRecord{g}, nil)
	return err
}

// IndexOperation adds or updates an operation in the search index.
func (m *Meili) IndexOperation(o OperationRecord) error {
	_, err := m.client.Index(idxOperations).AddDocuments([]OperationRecord{o}, nil)
	return err
}

// DeleteProcessor removes a processor from the search index.
func (m *Meili) DeleteProcessor(id string) error {
	_, err := m.client.Index(idxProcessors).DeleteDocument(id, nil)
	return err
}

// DeleteGallery removes a gallery from the search index.
func (m *Meili) DeleteGallery(id string) error {
	_, err := m.client.Index(idxGalleries).DeleteDocument(id, nil)
	return err
}

// DeleteOperation removes an operation from the search index.
func (m *Meili) DeleteOperation(id string) error {
	_, err := m.client.Index(idxOperations).DeleteDocument(id, nil)
	return err
}

// IndexProcessors bulk-indexes processors.
func (m *Meili) IndexProcessors(processors []ProcessorRecord) error {
	if len(processors) == 0 {
		return nil
	}
	_, err := m.client.Index(idxProcessors).AddDocuments(processors, nil)
	return err
}

// IndexGalleries bulk-indexes galleries.
func (m *Meili) IndexGalleries(galleries []GalleryRecord) error {
	if len(galleries) == 0 {
		return nil
	}
	_, err := m.client.Index(idxGalleries).AddDocuments(galleries, nil)
	return err
}

// IndexOperations bulk-indexes operations.
func (m *Meili) IndexOperations(operations []OperationRecord) error {
	if len(operations) == 0 {
		return nil
	}
	_, err := m.client.Index(idxOperations).AddDocuments(operations, nil)
	return err
}

package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across processors, galleries, and
// operations using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.OrganizationID == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.OrganizationID}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultProcessor {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'processor'::text AS type, p.id::text, p.name AS title,
				ts_headline('english', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS processor_id, p.organization_id::text,
				ts_rank(p.fts, %s) AS rank
			FROM processors p
			WHERE p.fts @@ %s AND p.organization_id = $2`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultGallery {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'gallery'::text AS type, g.id::text, g.name AS title,
				ts_headline('english', coalesce(g.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS processor_id, g.organization_id::text,
				ts_rank(g.fts, %s) AS rank
			FROM galleries g
			WHERE g.fts @@ %s AND g.organization_id = $2`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultOperation {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'operation'::text AS type, o.id::text, o.name AS title,
				ts_headline('english', coalesce(o.prompt, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				o.processor_id::text, p.organization_id::text,
				ts_rank(o.fts, %s) AS rank
			FROM operations o
			JOIN processors p ON p.id = o.processor_id
			WHERE o.fts @@ %s AND p.organization_id = $2`, tsQuery, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, processor_id, organization_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProcessorID, &r.OrganizationID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProcessorRecord, []GalleryRecord, []OperationRecord, error) {
	processorRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, organization_id, status
		FROM processors
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load processors: %w", err)
	}
	defer processorRows.Close()

	processors := make([]ProcessorRecord, 0)
	for processorRows.Next() {
		var item ProcessorRecord
		if err := processorRows.Scan(&item.ID, &item.Name, &item.Description, &item.OrganizationID, &item.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan processor: %w", err)
		}
		processors = append(processors, item)
	}
	if err := processorRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate processors: %w", err)
	}

	galleryRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, organization_id, visibility
		FROM galleries
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load galleries: %w", err)
	}
	defer galleryRows.Close()

	galleries := make([]GalleryRecord, 0)
	for galleryRows.Next() {
		var item GalleryRecord
		if err := galleryRows.Scan(&item.ID, &item.Name, &item.Description, &item.OrganizationID, &item.Visibility); err != nil {
			return nil, nil, nil, fmt.Errorf("scan gallery: %w", err)
		}
		galleries = append(galleries, item)
	}
	if err := galleryRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate galleries: %w", err)
	}

	operationRows, err := p.db.QueryContext(ctx, `
		SELECT o.id, o.name, o.prompt, o.processor_id, p.organization_id, o.area
		FROM operations o
		JOIN processors p ON p.id = o.processor_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load operations: %w", err)
	}
	defer operationRows.Close()

	operations := make([]OperationRecord, 0)
	for operationRows.Next() {
		var item OperationRecord
		if err := operationRows.Scan(&item.ID, &item.Name, &item.Prompt, &item.ProcessorID, &item.OrganizationID, &item.Area); err != nil {
			return nil, nil, nil, fmt.Errorf("scan operation: %w", err)
		}
		operations = append(operations, item)
	}
	if err := operationRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate operations: %w", err)
	}

	return processors, galleries, operations, nil
}

package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProcessor ResultType = "processor"
	ResultGallery   ResultType = "gallery"
	ResultOperation ResultType = "operation"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type           ResultType `json:"type"`
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet"`
	ProcessorID    string     `json:"processorId,omitempty"`
	OrganizationID string     `json:"organizationId"`
}

// Query describes a search request. OrganizationID is always required so
// results never cross a tenant boundary.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	OrganizationID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ProcessorRecord is the data we index for a processor.
type ProcessorRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	OrganizationID string `json:"organizationId"`
	Status         string `json:"status"`
}

// GalleryRecord is the data we index for a gallery.
type GalleryRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	OrganizationID string `json:"organizationId"`
	Visibility     string `json:"visibility"`
}

// OperationRecord is the data we index for an operation.
type OperationRecord struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Prompt         string `json:"prompt"`
	ProcessorID    string `json:"processorId"`
	OrganizationID string `json:"organizationId"`
	Area           string `json:"area"`
}

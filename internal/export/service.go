package export

import (
	"context"
	"encoding/json"
	"fmt"

	"validai/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetProcessor(ctx context.Context, orgID, processorID string) (store.Processor, error)
	GetSnapshot(ctx context.Context, processorID, snapshotID string) (store.Snapshot, error)
}

// Service renders playbook snapshots for download
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(dataStore DataStore) *Service {
	return &Service{store: dataStore}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if _, err := s.store.GetProcessor(ctx, req.OrganizationID, req.ProcessorID); err != nil {
		return nil, fmt.Errorf("get processor: %w", err)
	}

	snapshot, err := s.store.GetSnapshot(ctx, req.ProcessorID, req.SnapshotID)
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var config store.PlaybookConfig
	if err := json.Unmarshal(snapshot.Config, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	data := BuildTemplateData(config, snapshot)
	title := fmt.Sprintf("%s-v%d", config.ProcessorName, snapshot.VersionNumber)

	switch req.Format {
	case FormatHTML, FormatPDF:
		html, err := RenderSnapshotHTML(data)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		if req.Format == FormatPDF {
			return exportPDF(html, title)
		}
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatDOCX:
		return exportDOCX(data, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"validai/api/internal/rbac"
	"validai/api/internal/search"
	"validai/api/internal/store"
	"validai/api/internal/util"
)

// UploadDocument streams the payload into object storage and records the
// document row. The object key carries a random suffix so repeated uploads
// of the same filename never collide.
func (s *Service) UploadDocument(ctx context.Context, session Session, name, mimeType string, size int64, payload io.Reader) (store.Document, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Document{}, errForbidden("Forbidden")
	}
	if s.blobs == nil {
		return store.Document{}, domainError(422, "STORAGE_UNAVAILABLE", "document storage is not configured", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Document{}, errValidation("name is required", nil)
	}
	if size <= 0 {
		return store.Document{}, errValidation("document payload is empty", nil)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	storagePath := fmt.Sprintf("%s/%s-%s", session.OrgID, name, util.NewID(""))
	if err := s.blobs.Put(ctx, storagePath, payload, size, mimeType); err != nil {
		return store.Document{}, fmt.Errorf("store document payload: %w", err)
	}

	document, err := s.store.InsertDocument(ctx, store.Document{
		ID:             uuid.NewString(),
		OrganizationID: session.OrgID,
		Name:           name,
		SizeBytes:      size,
		MimeType:       mimeType,
		StoragePath:    storagePath,
		UploadedBy:     session.UserID,
	})
	if err != nil {
		// Orphaned object; remove it so storage does not leak.
		_ = s.blobs.Remove(ctx, storagePath)
		return store.Document{}, err
	}
	return document, nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session) ([]store.Document, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden("Forbidden")
	}
	return s.store.ListDocuments(ctx, session.OrgID)
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.Document{}, errForbidden("Forbidden")
	}
	return s.store.GetDocument(ctx, session.OrgID, documentID)
}

// DownloadDocument returns the document row and a reader over its payload.
// The caller closes the reader.
func (s *Service) DownloadDocument(ctx context.Context, session Session, documentID string) (store.Document, io.ReadCloser, error) {
	document, err := s.GetDocument(ctx, session, documentID)
	if err != nil {
		return store.Document{}, nil, err
	}
	if s.blobs == nil {
		return store.Document{}, nil, domainError(422, "STORAGE_UNAVAILABLE", "document storage is not configured", nil)
	}
	reader, err := s.blobs.Get(ctx, document.StoragePath)
	if err != nil {
		return store.Document{}, nil, fmt.Errorf("read document payload: %w", err)
	}
	return document, reader, nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return errForbidden("Forbidden")
	}
	document, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound("Document not found", nil)
	}
	if s.blobs != nil {
		if err := s.blobs.Remove(ctx, document.StoragePath); err != nil {
			s.log.Warn().Err(err).Str("path", document.StoragePath).Msg("document object removal failed")
		}
	}
	return nil
}

// ExecuteProcessorRun creates a queued run against the published playbook
// and hands it to the engine. The caller gets the run back immediately;
// execution is asynchronous.
func (s *Service) ExecuteProcessorRun(ctx context.Context, session Session, processorID, documentID string) (store.Run, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Run{}, errForbidden("Forbidden")
	}
	if s.engine == nil {
		return store.Run{}, domainError(422, "RUNS_UNAVAILABLE", "run execution is not configured", nil)
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return store.Run{}, err
	}
	snapshot, err := s.store.GetPublishedSnapshot(ctx, processorID)
	if err != nil {
		return store.Run{}, domainError(422, "NO_PUBLISHED_PLAYBOOK", "Processor has no published playbook", nil)
	}
	document, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return store.Run{}, err
	}

	var config store.PlaybookConfig
	if err := json.Unmarshal(snapshot.Config, &config); err != nil {
		return store.Run{}, fmt.Errorf("decode published playbook: %w", err)
	}

	run, err := s.store.InsertRun(ctx, store.Run{
		ID:              uuid.NewString(),
		ProcessorID:     processorID,
		SnapshotID:      snapshot.ID,
		DocumentID:      documentID,
		Status:          "queued",
		TotalOperations: len(config.Operations),
		CreatedBy:       session.UserID,
	})
	if err != nil {
		return store.Run{}, err
	}

	s.engine.Enqueue(run, document, config)
	return run, nil
}

func (s *Service) GetRun(ctx context.Context, session Session, runID string) (store.Run, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.Run{}, errForbidden("Forbidden")
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return store.Run{}, err
	}
	// Runs are reachable only through processors of the caller's org.
	if _, err := s.store.GetProcessor(ctx, session.OrgID, run.ProcessorID); err != nil {
		return store.Run{}, err
	}
	return run, nil
}

func (s *Service) ListProcessorRuns(ctx context.Context, session Session, processorID string) ([]store.Run, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden("Forbidden")
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, processorID)
}

func (s *Service) ListRunResults(ctx context.Context, session Session, runID string) ([]store.OperationResult, error) {
	if _, err := s.GetRun(ctx, session, runID); err != nil {
		return nil, err
	}
	return s.store.ListOperationResults(ctx, runID)
}

// Search queries the caller's organization across processors, galleries and
// operations.
func (s *Service) Search(ctx context.Context, session Session, text, filterType string, limit, offset int) (search.Response, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return search.Response{}, errForbidden("Forbidden")
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(search.Query{
		Text:           strings.TrimSpace(text),
		FilterType:     search.ResultType(filterType),
		OrganizationID: session.OrgID,
		Limit:          limit,
		Offset:         offset,
	}), nil
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"validai/api/internal/confighist"
	"validai/api/internal/export"
	"validai/api/internal/rbac"
	"validai/api/internal/store"
)

var allowedSnapshotVisibility = map[string]struct{}{
	"private":      {},
	"organization": {},
	"public":       {},
}

// PublishPlaybook freezes the live configuration into a new snapshot and
// makes it the single published version of the processor.
func (s *Service) PublishPlaybook(ctx context.Context, session Session, processorID, name, description string) (store.Snapshot, error) {
	return s.createSnapshot(ctx, session, processorID, name, description, true)
}

// SaveAsVersion freezes the live configuration without publishing it.
func (s *Service) SaveAsVersion(ctx context.Context, session Session, processorID, name, description string) (store.Snapshot, error) {
	return s.createSnapshot(ctx, session, processorID, name, description, false)
}

func (s *Service) createSnapshot(ctx context.Context, session Session, processorID, name, description string, publish bool) (store.Snapshot, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Snapshot{}, errForbidden("Forbidden")
	}
	config, err := s.buildPlaybook(ctx, session.OrgID, processorID)
	if err != nil {
		return store.Snapshot{}, err
	}
	if len(config.Operations) == 0 {
		return store.Snapshot{}, domainError(422, "EMPTY_PLAYBOOK", "a playbook needs at least one operation", nil)
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("freeze playbook: %w", err)
	}

	snapshot, err := s.store.CreateSnapshot(ctx, store.Snapshot{
		ID:          uuid.NewString(),
		ProcessorID: processorID,
		Name:        strings.TrimSpace(name),
		Description: description,
		Visibility:  "private",
		Config:      raw,
		CreatedBy:   session.UserID,
	}, publish)
	if err != nil {
		return store.Snapshot{}, err
	}

	if s.metrics != nil {
		s.metrics.SnapshotsCreated.Inc()
	}
	if s.history != nil {
		action := "Save version"
		if publish {
			action = "Publish version"
		}
		if _, err := s.history.CommitPlaybook(processorID, config, session.UserName, fmt.Sprintf("%s %d", action, snapshot.VersionNumber)); err != nil {
			s.log.Warn().Err(err).Str("processor_id", processorID).Msg("snapshot history commit failed")
		}
		if err := s.history.TagVersion(processorID, fmt.Sprintf("v%d", snapshot.VersionNumber)); err != nil {
			s.log.Warn().Err(err).Str("processor_id", processorID).Msg("snapshot tag failed")
		}
	}
	return snapshot, nil
}

// UnpublishPlaybook clears the published flag, leaving no published version.
func (s *Service) UnpublishPlaybook(ctx context.Context, session Session, processorID string) error {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return errForbidden("Forbidden")
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return err
	}
	published, err := s.store.GetPublishedSnapshot(ctx, processorID)
	if err != nil {
		return domainError(422, "NO_PUBLISHED_PLAYBOOK", "Processor has no published playbook", nil)
	}
	return s.store.SetPublished(ctx, processorID, published.ID, false)
}

// SetPublishedVersion publishes an existing snapshot, demoting any other
// published one in the same transaction. republish_playbook is the same
// transition applied to a previously published snapshot.
func (s *Service) SetPublishedVersion(ctx context.Context, session Session, processorID, snapshotID string) (store.Snapshot, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Snapshot{}, errForbidden("Forbidden")
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return store.Snapshot{}, err
	}
	if err := s.store.SetPublished(ctx, processorID, snapshotID, true); err != nil {
		return store.Snapshot{}, err
	}
	return s.store.GetSnapshot(ctx, processorID, snapshotID)
}

func (s *Service) UpdatePlaybookVisibility(ctx context.Context, session Session, processorID, snapshotID, visibility string) (store.Snapshot, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Snapshot{}, errForbidden("Forbidden")
	}
	if _, ok := allowedSnapshotVisibility[visibility]; !ok {
		return store.Snapshot{}, errValidation("invalid visibility", map[string]any{"visibility": visibility})
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return store.Snapshot{}, err
	}
	updated, err := s.store.UpdateSnapshotVisibility(ctx, processorID, snapshotID, visibility)
	if err != nil {
		return store.Snapshot{}, err
	}
	if !updated {
		return store.Snapshot{}, errNotFound("Snapshot not found", nil)
	}
	return s.store.GetSnapshot(ctx, processorID, snapshotID)
}

// LoadSnapshot overwrites the live configuration and operations with a
// snapshot's frozen playbook and points loaded_snapshot_id at it.
func (s *Service) LoadSnapshot(ctx context.Context, session Session, processorID, snapshotID string) (store.Processor, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Processor{}, errForbidden("Forbidden")
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return store.Processor{}, err
	}
	snapshot, err := s.store.GetSnapshot(ctx, processorID, snapshotID)
	if err != nil {
		return store.Processor{}, err
	}
	var config store.PlaybookConfig
	if err := json.Unmarshal(snapshot.Config, &config); err != nil {
		return store.Processor{}, fmt.Errorf("decode snapshot config: %w", err)
	}
	if err := s.store.ReplacePlaybook(ctx, processorID, snapshotID, config); err != nil {
		return store.Processor{}, err
	}
	s.commitPlaybook(ctx, session, processorID, fmt.Sprintf("Load snapshot v%d", snapshot.VersionNumber))

	processor, err := s.store.GetProcessor(ctx, session.OrgID, processorID)
	if err != nil {
		return store.Processor{}, err
	}
	s.indexProcessor(processor)
	return processor, nil
}

func (s *Service) GetProcessorSnapshots(ctx context.Context, session Session, processorID string) ([]store.Snapshot, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden("Forbidden")
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return nil, err
	}
	return s.store.ListSnapshots(ctx, processorID)
}

func (s *Service) GetPlaybookSnapshot(ctx context.Context, session Session, processorID, snapshotID string) (store.Snapshot, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.Snapshot{}, errForbidden("Forbidden")
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return store.Snapshot{}, err
	}
	return s.store.GetSnapshot(ctx, processorID, snapshotID)
}

// DeleteSnapshot removes an unpublished snapshot.
func (s *Service) DeleteSnapshot(ctx context.Context, session Session, processorID, snapshotID string) error {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return errForbidden("Forbidden")
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteSnapshot(ctx, processorID, snapshotID)
	if err != nil {
		return err
	}
	if !deleted {
		return errValidation("snapshot not found or still published", nil)
	}
	return nil
}

func (s *Service) PlaybookHistory(ctx context.Context, session Session, processorID string, limit int) ([]confighist.CommitInfo, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden("Forbidden")
	}
	if s.history == nil {
		return nil, domainError(422, "HISTORY_UNAVAILABLE", "playbook history is not configured", nil)
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return nil, err
	}
	return s.history.History(processorID, limit)
}

func (s *Service) PlaybookAtCommit(ctx context.Context, session Session, processorID, hash string) (store.PlaybookConfig, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.PlaybookConfig{}, errForbidden("Forbidden")
	}
	if s.history == nil {
		return store.PlaybookConfig{}, domainError(422, "HISTORY_UNAVAILABLE", "playbook history is not configured", nil)
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return store.PlaybookConfig{}, err
	}
	config, err := s.history.GetPlaybookByHash(processorID, hash)
	if err != nil {
		return store.PlaybookConfig{}, errNotFound("Commit not found", map[string]any{"hash": hash})
	}
	return config, nil
}

func (s *Service) ExportSnapshot(ctx context.Context, session Session, processorID, snapshotID, format string) (*export.Result, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden("Forbidden")
	}
	if s.exporter == nil {
		return nil, domainError(422, "EXPORT_UNAVAILABLE", "export is not configured", nil)
	}
	switch export.Format(format) {
	case export.FormatHTML, export.FormatPDF, export.FormatDOCX:
	default:
		return nil, errValidation("invalid export format", map[string]any{"format": format})
	}
	result, err := s.exporter.Export(ctx, export.Request{
		OrganizationID: session.OrgID,
		ProcessorID:    processorID,
		SnapshotID:     snapshotID,
		Format:         export.Format(format),
	})
	if err != nil {
		switch {
		case errors.Is(err, export.ErrPDFDependencyMissing):
			return nil, domainError(503, "EXPORT_DEPENDENCY_MISSING", err.Error(), nil)
		case errors.Is(err, export.ErrContentUnavailable):
			return nil, domainError(422, "EXPORT_FAILED", err.Error(), nil)
		}
		return nil, err
	}
	return result, nil
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"validai/api/internal/store"
)

func playbookStore() *fakeStore {
	return &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
		listOperationsFn: func(ctx context.Context, processorID string) ([]store.Operation, error) {
			return []store.Operation{
				{ID: "op-a", ProcessorID: processorID, Area: "General", Name: "Extract total", OperationType: "extraction", Position: 1},
			}, nil
		},
	}
}

func TestPublishPlaybookCreatesPublishedSnapshot(t *testing.T) {
	fs := playbookStore()
	var gotPublish bool
	fs.createSnapshotFn = func(ctx context.Context, snapshot store.Snapshot, publish bool) (store.Snapshot, error) {
		gotPublish = publish
		snapshot.VersionNumber = 4
		snapshot.IsPublished = publish
		return snapshot, nil
	}
	svc, history := newTestService(fs)

	snapshot, err := svc.PublishPlaybook(context.Background(), memberSession(), "proc-1", "Quarterly release", "")
	if err != nil {
		t.Fatalf("PublishPlaybook: %v", err)
	}
	if !gotPublish {
		t.Fatalf("snapshot was not created as published")
	}
	if !snapshot.IsPublished || snapshot.VersionNumber != 4 {
		t.Fatalf("snapshot = %+v, want published version 4", snapshot)
	}
	if snapshot.Visibility != "private" {
		t.Fatalf("visibility = %q, want private", snapshot.Visibility)
	}

	var config store.PlaybookConfig
	if err := json.Unmarshal(snapshot.Config, &config); err != nil {
		t.Fatalf("snapshot config is not valid JSON: %v", err)
	}
	if len(config.Operations) != 1 || config.Operations[0].Name != "Extract total" {
		t.Fatalf("frozen operations = %+v", config.Operations)
	}

	if len(history.tags) != 1 || history.tags[0] != "v4" {
		t.Fatalf("tags = %v, want [v4]", history.tags)
	}
}

func TestSaveAsVersionDoesNotPublish(t *testing.T) {
	fs := playbookStore()
	svc, _ := newTestService(fs)

	snapshot, err := svc.SaveAsVersion(context.Background(), memberSession(), "proc-1", "Draft", "")
	if err != nil {
		t.Fatalf("SaveAsVersion: %v", err)
	}
	if snapshot.IsPublished {
		t.Fatalf("save-as-version produced a published snapshot")
	}
}

func TestPublishEmptyPlaybookRejected(t *testing.T) {
	fs := playbookStore()
	fs.listOperationsFn = func(ctx context.Context, processorID string) ([]store.Operation, error) {
		return nil, nil
	}
	svc, _ := newTestService(fs)

	_, err := svc.PublishPlaybook(context.Background(), memberSession(), "proc-1", "Empty", "")
	var derr *DomainError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want domain error", err)
	}
	if derr.Status != 422 || derr.Code != "EMPTY_PLAYBOOK" {
		t.Fatalf("got %d %s, want 422 EMPTY_PLAYBOOK", derr.Status, derr.Code)
	}
	if fs.snapshotsCreated != 0 {
		t.Fatalf("snapshot created for an empty playbook")
	}
}

func TestUnpublishWithoutPublishedSnapshot(t *testing.T) {
	fs := playbookStore()
	svc, _ := newTestService(fs)

	err := svc.UnpublishPlaybook(context.Background(), memberSession(), "proc-1")
	var derr *DomainError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want domain error", err)
	}
	if derr.Status != 422 || derr.Code != "NO_PUBLISHED_PLAYBOOK" {
		t.Fatalf("got %d %s, want 422 NO_PUBLISHED_PLAYBOOK", derr.Status, derr.Code)
	}
}

func TestUnpublishClearsPublishedFlag(t *testing.T) {
	fs := playbookStore()
	fs.getPublishedSnapshotFn = func(ctx context.Context, processorID string) (store.Snapshot, error) {
		return store.Snapshot{ID: "snap-1", ProcessorID: processorID, IsPublished: true}, nil
	}
	var setTo *bool
	fs.setPublishedFn = func(ctx context.Context, processorID, snapshotID string, published bool) error {
		setTo = &published
		return nil
	}
	svc, _ := newTestService(fs)

	if err := svc.UnpublishPlaybook(context.Background(), memberSession(), "proc-1"); err != nil {
		t.Fatalf("UnpublishPlaybook: %v", err)
	}
	if setTo == nil || *setTo {
		t.Fatalf("SetPublished not called with false")
	}
}

func TestSetPublishedVersion(t *testing.T) {
	fs := playbookStore()
	fs.getSnapshotFn = func(ctx context.Context, processorID, snapshotID string) (store.Snapshot, error) {
		return store.Snapshot{ID: snapshotID, ProcessorID: processorID, VersionNumber: 2}, nil
	}
	var setTo *bool
	fs.setPublishedFn = func(ctx context.Context, processorID, snapshotID string, published bool) error {
		setTo = &published
		return nil
	}
	svc, _ := newTestService(fs)

	snapshot, err := svc.SetPublishedVersion(context.Background(), memberSession(), "proc-1", "snap-2")
	if err != nil {
		t.Fatalf("SetPublishedVersion: %v", err)
	}
	if setTo == nil || !*setTo {
		t.Fatalf("SetPublished not called with true")
	}
	if snapshot.VersionNumber != 2 {
		t.Fatalf("snapshot = %+v, want version 2", snapshot)
	}
}

func TestLoadSnapshotReplacesPlaybook(t *testing.T) {
	fs := playbookStore()
	config := store.PlaybookConfig{
		ProcessorName: "Invoice Processor",
		Areas:         editorProcessor("General").Areas,
		Operations: []store.PlaybookOperation{
			{ID: "op-a", Area: "General", Name: "Extract total", OperationType: "extraction", Position: 1},
		},
	}
	raw, _ := json.Marshal(config)
	fs.getSnapshotFn = func(ctx context.Context, processorID, snapshotID string) (store.Snapshot, error) {
		return store.Snapshot{ID: snapshotID, ProcessorID: processorID, VersionNumber: 2, Config: raw}, nil
	}
	var replaced *store.PlaybookConfig
	fs.replacePlaybookFn = func(ctx context.Context, processorID, snapshotID string, config store.PlaybookConfig) error {
		replaced = &config
		return nil
	}
	svc, _ := newTestService(fs)

	if _, err := svc.LoadSnapshot(context.Background(), memberSession(), "proc-1", "snap-2"); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if replaced == nil {
		t.Fatalf("ReplacePlaybook was not called")
	}
	if len(replaced.Operations) != 1 || replaced.Operations[0].ID != "op-a" {
		t.Fatalf("replaced operations = %+v", replaced.Operations)
	}
}

func TestViewerCannotPublish(t *testing.T) {
	svc, _ := newTestService(playbookStore())

	_, err := svc.PublishPlaybook(context.Background(), viewerSession(), "proc-1", "Nope", "")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 403 {
		t.Fatalf("err = %v, want 403 domain error", err)
	}
}

func TestExportSnapshotRejectsUnknownFormat(t *testing.T) {
	fs := playbookStore()
	svc, _ := newTestService(fs)
	svc.exporter = &stubExporter{}

	_, err := svc.ExportSnapshot(context.Background(), memberSession(), "proc-1", "snap-1", "xlsx")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 422 {
		t.Fatalf("err = %v, want 422 domain error", err)
	}
}

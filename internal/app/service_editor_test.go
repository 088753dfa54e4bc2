package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"validai/api/internal/ordering"
	"validai/api/internal/store"
)

func editorProcessor(areas ...string) store.Processor {
	p := store.Processor{ID: "proc-1", OrganizationID: "org-1", Name: "Invoice Processor", Status: "draft"}
	for i, name := range areas {
		p.Areas = append(p.Areas, ordering.Area{Name: name, DisplayOrder: i + 1})
	}
	return p
}

func TestMoveOperationInsertsBetweenNeighbours(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
		getOperationFn: func(ctx context.Context, processorID, operationID string) (store.Operation, error) {
			return store.Operation{ID: "op-c", ProcessorID: processorID, Area: "General", Position: 3}, nil
		},
		listAreaOperationsFn: func(ctx context.Context, processorID, area string) ([]store.Operation, error) {
			return []store.Operation{
				{ID: "op-a", Area: "General", Position: 1},
				{ID: "op-b", Area: "General", Position: 2},
				{ID: "op-c", Area: "General", Position: 3},
			}, nil
		},
	}
	svc, _ := newTestService(fs)

	moved, err := svc.MoveOperation(context.Background(), memberSession(), "proc-1", "op-c", "General", "op-b")
	if err != nil {
		t.Fatalf("MoveOperation: %v", err)
	}
	if moved.Position != 1.5 {
		t.Fatalf("position = %v, want 1.5", moved.Position)
	}
	if fs.placementWrites != 1 {
		t.Fatalf("placement writes = %d, want 1", fs.placementWrites)
	}
	if fs.renumberCalls != 0 {
		t.Fatalf("renumber calls = %d, want 0", fs.renumberCalls)
	}
}

func TestMoveOperationNoChangeSkipsWrite(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
		getOperationFn: func(ctx context.Context, processorID, operationID string) (store.Operation, error) {
			return store.Operation{ID: "op-c", ProcessorID: processorID, Area: "General", Position: 3}, nil
		},
		listAreaOperationsFn: func(ctx context.Context, processorID, area string) ([]store.Operation, error) {
			return []store.Operation{
				{ID: "op-a", Area: "General", Position: 1},
				{ID: "op-c", Area: "General", Position: 3},
			}, nil
		},
	}
	svc, _ := newTestService(fs)

	// Dropping the last operation on its own container is a no-op.
	moved, err := svc.MoveOperation(context.Background(), memberSession(), "proc-1", "op-c", "General", "")
	if err != nil {
		t.Fatalf("MoveOperation: %v", err)
	}
	if moved.Position != 3 {
		t.Fatalf("position = %v, want 3", moved.Position)
	}
	if fs.placementWrites != 0 {
		t.Fatalf("placement writes = %d, want 0", fs.placementWrites)
	}
}

func TestMoveOperationRenumbersCrowdedArea(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
		getOperationFn: func(ctx context.Context, processorID, operationID string) (store.Operation, error) {
			return store.Operation{ID: "op-c", ProcessorID: processorID, Area: "General", Position: 3}, nil
		},
		listAreaOperationsFn: func(ctx context.Context, processorID, area string) ([]store.Operation, error) {
			return []store.Operation{
				{ID: "op-a", Area: "General", Position: 1},
				{ID: "op-b", Area: "General", Position: 1 + 5e-7},
				{ID: "op-c", Area: "General", Position: 3},
			}, nil
		},
	}
	svc, _ := newTestService(fs)

	if _, err := svc.MoveOperation(context.Background(), memberSession(), "proc-1", "op-c", "General", "op-b"); err != nil {
		t.Fatalf("MoveOperation: %v", err)
	}
	if fs.placementWrites != 1 {
		t.Fatalf("placement writes = %d, want 1", fs.placementWrites)
	}
	if fs.renumberCalls != 1 {
		t.Fatalf("renumber calls = %d, want 1", fs.renumberCalls)
	}
}

func TestMoveOperationRejectsUnknownArea(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.MoveOperation(context.Background(), memberSession(), "proc-1", "op-c", "Nope", "")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 422 {
		t.Fatalf("err = %v, want 422 domain error", err)
	}
}

func TestDeleteLastAreaRejectedBeforeAnyWrite(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.DeleteArea(context.Background(), memberSession(), "proc-1", "General", "")
	var derr *DomainError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want domain error", err)
	}
	if derr.Status != 422 || derr.Code != "LAST_AREA" {
		t.Fatalf("got %d %s, want 422 LAST_AREA", derr.Status, derr.Code)
	}
	if fs.deleteAreaCalls != 0 || fs.areaConfigWrites != 0 {
		t.Fatalf("store was written to: delete=%d config=%d", fs.deleteAreaCalls, fs.areaConfigWrites)
	}
}

func TestDeleteAreaDefaultsFallbackToFirstRemaining(t *testing.T) {
	var gotFallback string
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General", "Totals"), nil
		},
		deleteAreaFn: func(ctx context.Context, processorID, areaName, fallbackArea string, areas []ordering.Area) error {
			gotFallback = fallbackArea
			return nil
		},
	}
	svc, _ := newTestService(fs)

	processor, err := svc.DeleteArea(context.Background(), memberSession(), "proc-1", "Totals", "")
	if err != nil {
		t.Fatalf("DeleteArea: %v", err)
	}
	if gotFallback != "General" {
		t.Fatalf("fallback = %q, want General", gotFallback)
	}
	if len(processor.Areas) != 1 || processor.Areas[0].Name != "General" {
		t.Fatalf("areas = %+v, want [General]", processor.Areas)
	}
}

func TestCreateAreaRejectsDuplicateName(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.CreateArea(context.Background(), memberSession(), "proc-1", "General")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 422 {
		t.Fatalf("err = %v, want 422 domain error", err)
	}
	if fs.areaConfigWrites != 0 {
		t.Fatalf("area configuration written despite duplicate name")
	}
}

func TestReorderAreasPersistsSingleWrite(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("A", "B", "C"), nil
		},
	}
	svc, _ := newTestService(fs)

	processor, err := svc.ReorderAreas(context.Background(), memberSession(), "proc-1", 2, 0)
	if err != nil {
		t.Fatalf("ReorderAreas: %v", err)
	}
	want := []string{"C", "A", "B"}
	for i, area := range processor.Areas {
		if area.Name != want[i] {
			t.Fatalf("areas[%d] = %q, want %q", i, area.Name, want[i])
		}
		if area.DisplayOrder != i+1 {
			t.Fatalf("areas[%d].DisplayOrder = %d, want %d", i, area.DisplayOrder, i+1)
		}
	}
	if fs.areaConfigWrites != 1 {
		t.Fatalf("area config writes = %d, want 1", fs.areaConfigWrites)
	}
}

func TestCreateOperationAppendsAfterLast(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
		listAreaOperationsFn: func(ctx context.Context, processorID, area string) ([]store.Operation, error) {
			return []store.Operation{{ID: "op-a", Area: "General", Position: 7}}, nil
		},
	}
	svc, _ := newTestService(fs)

	op, err := svc.CreateOperation(context.Background(), memberSession(), "proc-1", "General", "Extract total", "extraction", "Find the total.")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	if op.Position != 8 {
		t.Fatalf("position = %v, want 8", op.Position)
	}
}

func TestCreateOperationEmptyAreaStartsAtOne(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
	}
	svc, _ := newTestService(fs)

	op, err := svc.CreateOperation(context.Background(), memberSession(), "proc-1", "General", "Extract total", "extraction", "")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	if op.Position != 1 {
		t.Fatalf("position = %v, want 1", op.Position)
	}
}

func TestCreateOperationRejectsUnknownType(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.CreateOperation(context.Background(), memberSession(), "proc-1", "General", "X", "telepathy", "")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 422 {
		t.Fatalf("err = %v, want 422 domain error", err)
	}
}

func TestViewerCannotCreateProcessor(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})

	_, err := svc.CreateProcessor(context.Background(), viewerSession(), "Invoices", "")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 403 {
		t.Fatalf("err = %v, want 403 domain error", err)
	}
}

func TestEditorMutationsCommitHistory(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
	}
	svc, history := newTestService(fs)

	if _, err := svc.CreateArea(context.Background(), memberSession(), "proc-1", "Totals"); err != nil {
		t.Fatalf("CreateArea: %v", err)
	}
	if len(history.commits) != 1 || history.commits[0] != "Create area Totals" {
		t.Fatalf("commits = %v, want [Create area Totals]", history.commits)
	}
}

func TestCreateProcessorAssignsUUID(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
	}
	svc, _ := newTestService(fs)

	processor, err := svc.CreateProcessor(context.Background(), memberSession(), "Invoices", "")
	if err != nil {
		t.Fatalf("CreateProcessor: %v", err)
	}
	if _, err := uuid.Parse(processor.ID); err != nil {
		t.Fatalf("processor ID %q is not a UUID: %v", processor.ID, err)
	}

	op, err := svc.CreateOperation(context.Background(), memberSession(), "proc-1", "General", "Extract total", "extraction", "")
	if err != nil {
		t.Fatalf("CreateOperation: %v", err)
	}
	if _, err := uuid.Parse(op.ID); err != nil {
		t.Fatalf("operation ID %q is not a UUID: %v", op.ID, err)
	}
}

func TestDragDispatchesOperationSubject(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
		getOperationFn: func(ctx context.Context, processorID, operationID string) (store.Operation, error) {
			return store.Operation{ID: "op-c", ProcessorID: processorID, Area: "General", Position: 3}, nil
		},
		listAreaOperationsFn: func(ctx context.Context, processorID, area string) ([]store.Operation, error) {
			return []store.Operation{
				{ID: "op-a", Area: "General", Position: 1},
				{ID: "op-b", Area: "General", Position: 2},
				{ID: "op-c", Area: "General", Position: 3},
			}, nil
		},
	}
	svc, _ := newTestService(fs)

	result, err := svc.MoveSubject(context.Background(), memberSession(), "proc-1",
		ordering.OperationSubject("op-c"), ordering.DropTarget{Area: "General", OperationID: "op-b"})
	if err != nil {
		t.Fatalf("MoveSubject: %v", err)
	}
	if result.Operation == nil {
		t.Fatal("result.Operation is nil, want moved operation")
	}
	if result.Operation.Position != 1.5 {
		t.Fatalf("position = %v, want 1.5", result.Operation.Position)
	}
	if fs.placementWrites != 1 {
		t.Fatalf("placement writes = %d, want 1", fs.placementWrites)
	}
}

func TestDragDispatchesAreaSubject(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("A", "B", "C"), nil
		},
	}
	svc, _ := newTestService(fs)

	result, err := svc.MoveSubject(context.Background(), memberSession(), "proc-1",
		ordering.AreaSubject("C"), ordering.DropTarget{Area: "A"})
	if err != nil {
		t.Fatalf("MoveSubject: %v", err)
	}
	if result.Processor == nil {
		t.Fatal("result.Processor is nil, want reordered processor")
	}
	want := []string{"C", "A", "B"}
	for i, area := range result.Processor.Areas {
		if area.Name != want[i] {
			t.Fatalf("areas[%d] = %q, want %q", i, area.Name, want[i])
		}
	}
	if fs.areaConfigWrites != 1 {
		t.Fatalf("area config writes = %d, want 1", fs.areaConfigWrites)
	}
}

func TestDragAreaOntoItselfSkipsWrite(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("A", "B"), nil
		},
	}
	svc, _ := newTestService(fs)

	if _, err := svc.MoveSubject(context.Background(), memberSession(), "proc-1",
		ordering.AreaSubject("B"), ordering.DropTarget{Area: "B"}); err != nil {
		t.Fatalf("MoveSubject: %v", err)
	}
	if fs.areaConfigWrites != 0 {
		t.Fatalf("area config writes = %d, want 0", fs.areaConfigWrites)
	}
}

func TestDragUnknownAreaNotFound(t *testing.T) {
	fs := &fakeStore{
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("A", "B"), nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.MoveSubject(context.Background(), memberSession(), "proc-1",
		ordering.AreaSubject("Missing"), ordering.DropTarget{Area: "A"})
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 404 {
		t.Fatalf("err = %v, want 404 domain error", err)
	}
}

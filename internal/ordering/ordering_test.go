package ordering

import "testing"

func opsInArea(area string, positions ...float64) []Operation {
	items := make([]Operation, 0, len(positions))
	for i, pos := range positions {
		items = append(items, Operation{
			ID:       area + "-op-" + string(rune('a'+i)),
			Area:     area,
			Position: pos,
		})
	}
	return items
}

func TestPlanMoveEmptyArea(t *testing.T) {
	moved := Operation{ID: "op-1", Area: "Extraction", Position: 3}
	got, err := PlanMove(moved, DropTarget{Area: "Validation"}, nil)
	if err != nil {
		t.Fatalf("PlanMove() error = %v", err)
	}
	if got.Position != 1 || got.Area != "Validation" || !got.Changed {
		t.Fatalf("unexpected placement: %+v", got)
	}
}

func TestPlanMovePastLastItem(t *testing.T) {
	areaOps := opsInArea("Validation", 1, 2, 3)
	moved := Operation{ID: "op-x", Area: "Extraction", Position: 7}
	got, err := PlanMove(moved, DropTarget{Area: "Validation"}, areaOps)
	if err != nil {
		t.Fatalf("PlanMove() error = %v", err)
	}
	if got.Position != 4 {
		t.Fatalf("expected position 4, got %v", got.Position)
	}
}

// Dragging the third operation to between positions 1 and 2 must yield 1.5.
func TestPlanMoveThirdBetweenFirstAndSecond(t *testing.T) {
	areaOps := opsInArea("A", 1, 2, 3)
	moved := areaOps[2]
	got, err := PlanMove(moved, DropTarget{Area: "A", OperationID: areaOps[1].ID}, areaOps)
	if err != nil {
		t.Fatalf("PlanMove() error = %v", err)
	}
	if got.Position != 1.5 {
		t.Fatalf("expected position 1.5, got %v", got.Position)
	}
	if !got.Changed {
		t.Fatal("expected a persistence-worthy change")
	}
}

func TestPlanMoveDownBetween(t *testing.T) {
	areaOps := opsInArea("A", 1, 2, 3)
	moved := areaOps[0]
	got, err := PlanMove(moved, DropTarget{Area: "A", OperationID: areaOps[1].ID}, areaOps)
	if err != nil {
		t.Fatalf("PlanMove() error = %v", err)
	}
	if got.Position != 2.5 {
		t.Fatalf("expected midpoint 2.5, got %v", got.Position)
	}
}

func TestPlanMoveDownPastEnd(t *testing.T) {
	areaOps := opsInArea("A", 1, 2)
	moved := areaOps[0]
	got, err := PlanMove(moved, DropTarget{Area: "A", OperationID: areaOps[1].ID}, areaOps)
	if err != nil {
		t.Fatalf("PlanMove() error = %v", err)
	}
	if got.Position != 3 {
		t.Fatalf("expected target+1 = 3, got %v", got.Position)
	}
}

func TestPlanMoveOntoFirstItem(t *testing.T) {
	areaOps := opsInArea("B", 2, 4)
	moved := Operation{ID: "op-x", Area: "A", Position: 9}
	got, err := PlanMove(moved, DropTarget{Area: "B", OperationID: areaOps[0].ID}, areaOps)
	if err != nil {
		t.Fatalf("PlanMove() error = %v", err)
	}
	if got.Position != 1 {
		t.Fatalf("expected target/2 = 1, got %v", got.Position)
	}
}

func TestPlanMoveCrossAreaBetween(t *testing.T) {
	areaOps := opsInArea("B", 2, 4)
	moved := Operation{ID: "op-x", Area: "A", Position: 9}
	got, err := PlanMove(moved, DropTarget{Area: "B", OperationID: areaOps[1].ID}, areaOps)
	if err != nil {
		t.Fatalf("PlanMove() error = %v", err)
	}
	if got.Position != 3 {
		t.Fatalf("expected midpoint 3, got %v", got.Position)
	}
}

// For any insertion between two operations with positions a < b, the result
// must be strictly between them.
func TestPlanMoveStrictlyBetweenNeighbours(t *testing.T) {
	pairs := [][2]float64{{1, 2}, {1, 1.0625}, {0.5, 0.75}, {1000, 2000}, {3, 4.5}}
	for _, pair := range pairs {
		areaOps := opsInArea("A", pair[0], pair[1])
		moved := Operation{ID: "op-x", Area: "Other", Position: 50}
		got, err := PlanMove(moved, DropTarget{Area: "A", OperationID: areaOps[1].ID}, areaOps)
		if err != nil {
			t.Fatalf("PlanMove() error = %v", err)
		}
		if !(got.Position > pair[0] && got.Position < pair[1]) {
			t.Fatalf("position %v not strictly between %v and %v", got.Position, pair[0], pair[1])
		}
	}
}

func TestPlanMoveNoChangeWhenAlreadyLast(t *testing.T) {
	areaOps := opsInArea("A", 1, 2, 3)
	moved := areaOps[2]
	got, err := PlanMove(moved, DropTarget{Area: "A"}, areaOps)
	if err != nil {
		t.Fatalf("PlanMove() error = %v", err)
	}
	if got.Changed {
		t.Fatalf("expected no change, got %+v", got)
	}
	if got.Position != moved.Position || got.Area != moved.Area {
		t.Fatalf("placement should keep current values: %+v", got)
	}
}

func TestPlanMoveUnknownTarget(t *testing.T) {
	areaOps := opsInArea("A", 1, 2)
	moved := Operation{ID: "op-x", Area: "A", Position: 1}
	if _, err := PlanMove(moved, DropTarget{Area: "A", OperationID: "nope"}, areaOps); err != ErrUnknownOperation {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestPlanMoveRejectsEmptyAreaName(t *testing.T) {
	moved := Operation{ID: "op-x", Area: "A", Position: 1}
	if _, err := PlanMove(moved, DropTarget{}, nil); err != ErrEmptyArea {
		t.Fatalf("expected ErrEmptyArea, got %v", err)
	}
}

func TestDragSubjectConstructors(t *testing.T) {
	area := AreaSubject("Extraction")
	if area.Kind != SubjectArea || area.AreaName != "Extraction" {
		t.Fatalf("unexpected area subject: %+v", area)
	}
	op := OperationSubject("op-1")
	if op.Kind != SubjectOperation || op.OperationID != "op-1" {
		t.Fatalf("unexpected operation subject: %+v", op)
	}
}

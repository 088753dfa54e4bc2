// Package ordering implements the fractional positioning used by the
// processor editor. Operations carry a float64 position whose absolute value
// is meaningless; only the relative order within an area matters. Moving an
// operation updates exactly one row, never its neighbours.
package ordering

import "errors"

// SubjectKind discriminates what is being dragged.
type SubjectKind int

const (
	SubjectOperation SubjectKind = iota
	SubjectArea
)

// DragSubject identifies the dragged entity. It is resolved once when a move
// request arrives, not re-parsed per handler.
type DragSubject struct {
	Kind        SubjectKind
	AreaName    string
	OperationID string
}

func AreaSubject(name string) DragSubject {
	return DragSubject{Kind: SubjectArea, AreaName: name}
}

func OperationSubject(id string) DragSubject {
	return DragSubject{Kind: SubjectOperation, OperationID: id}
}

// Operation is the minimal view of an operation the planner needs.
type Operation struct {
	ID       string
	Area     string
	Position float64
}

// DropTarget is either an operation (OperationID set) or the bare area
// container (OperationID empty, meaning "drop at the end").
type DropTarget struct {
	Area        string
	OperationID string
}

// Placement is the planner's answer: where the moved operation should live.
// Changed is false when the computed pair equals the operation's current
// values, in which case no persistence call must be issued.
type Placement struct {
	Area     string
	Position float64
	Changed  bool
}

var (
	ErrUnknownOperation = errors.New("ordering: operation not found in target area")
	ErrEmptyArea        = errors.New("ordering: target area name is empty")
)

// PlanMove computes the (area, position) pair for moving op onto target.
// areaOps must be the operations currently in the target area, ordered by
// ascending position; it may or may not contain op itself.
//
// Rules:
//   - drop on the container (or past the last item): last.Position+1, or 1
//     for an empty area;
//   - drop on an operation while moving toward a higher index ("down"):
//     midpoint of target and its successor, or target+1 when the target is
//     last;
//   - drop on an operation while moving up or arriving from another area:
//     midpoint of predecessor and target, or target/2 when the target is
//     first.
//
// The computed position is strictly between its neighbours, so the total
// order is preserved by a single point update.
func PlanMove(op Operation, target DropTarget, areaOps []Operation) (Placement, error) {
	if target.Area == "" {
		return Placement{}, ErrEmptyArea
	}

	if target.OperationID == "" || target.OperationID == op.ID {
		return planContainerDrop(op, target.Area, areaOps), nil
	}

	targetIdx := -1
	sourceIdx := -1
	for i, item := range areaOps {
		if item.ID == target.OperationID {
			targetIdx = i
		}
		if item.ID == op.ID {
			sourceIdx = i
		}
	}
	if targetIdx == -1 {
		return Placement{}, ErrUnknownOperation
	}

	movingDown := op.Area == target.Area && sourceIdx != -1 && sourceIdx < targetIdx

	var position float64
	if movingDown {
		if targetIdx+1 < len(areaOps) {
			position = (areaOps[targetIdx].Position + areaOps[targetIdx+1].Position) / 2
		} else {
			position = areaOps[targetIdx].Position + 1
		}
	} else {
		if targetIdx > 0 {
			position = (areaOps[targetIdx-1].Position + areaOps[targetIdx].Position) / 2
		} else {
			position = areaOps[targetIdx].Position / 2
		}
	}

	return placement(op, target.Area, position), nil
}

func planContainerDrop(op Operation, area string, areaOps []Operation) Placement {
	var last *Operation
	for i := range areaOps {
		if areaOps[i].ID == op.ID {
			continue
		}
		last = &areaOps[i]
	}
	if last == nil {
		return placement(op, area, 1)
	}
	// Already the last item in its own area: nothing to do.
	if op.Area == area && len(areaOps) > 0 && areaOps[len(areaOps)-1].ID == op.ID {
		return Placement{Area: op.Area, Position: op.Position, Changed: false}
	}
	return placement(op, area, last.Position+1)
}

func placement(op Operation, area string, position float64) Placement {
	return Placement{
		Area:     area,
		Position: position,
		Changed:  area != op.Area || position != op.Position,
	}
}

package app

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"validai/api/internal/ordering"
	"validai/api/internal/rbac"
	"validai/api/internal/search"
	"validai/api/internal/store"
)

var allowedProcessorStatus = map[string]struct{}{
	"draft":    {},
	"active":   {},
	"archived": {},
}

var allowedOperationTypes = map[string]struct{}{
	"extraction":     {},
	"validation":     {},
	"rating":         {},
	"classification": {},
	"generic":        {},
}

func (s *Service) CreateProcessor(ctx context.Context, session Session, name, description string) (store.Processor, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Processor{}, errForbidden("Forbidden")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Processor{}, errValidation("name is required", nil)
	}

	processor, err := s.store.InsertProcessor(ctx, store.Processor{
		ID:             uuid.NewString(),
		OrganizationID: session.OrgID,
		Name:           name,
		Description:    description,
		Status:         "draft",
		Areas:          []ordering.Area{{Name: "General", DisplayOrder: 1}},
		CreatedBy:      session.UserID,
	})
	if err != nil {
		return store.Processor{}, err
	}

	if s.history != nil {
		initial := store.PlaybookConfig{
			ProcessorName: processor.Name,
			Description:   processor.Description,
			Areas:         processor.Areas,
			Operations:    []store.PlaybookOperation{},
		}
		if err := s.history.EnsureProcessorRepo(processor.ID, initial, session.UserName); err != nil {
			s.log.Warn().Err(err).Str("processor_id", processor.ID).Msg("history repo init failed")
		}
	}
	s.indexProcessor(processor)
	return processor, nil
}

func (s *Service) GetProcessor(ctx context.Context, session Session, processorID string) (store.Processor, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.Processor{}, errForbidden("Forbidden")
	}
	return s.store.GetProcessor(ctx, session.OrgID, processorID)
}

func (s *Service) ListProcessors(ctx context.Context, session Session) ([]store.Processor, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden("Forbidden")
	}
	return s.store.ListProcessors(ctx, session.OrgID)
}

func (s *Service) UpdateProcessor(ctx context.Context, session Session, processorID, name, description, status string) (store.Processor, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Processor{}, errForbidden("Forbidden")
	}
	if strings.TrimSpace(name) == "" {
		return store.Processor{}, errValidation("name is required", nil)
	}
	if _, ok := allowedProcessorStatus[status]; !ok {
		return store.Processor{}, errValidation("invalid status", map[string]any{"status": status})
	}
	updated, err := s.store.UpdateProcessor(ctx, session.OrgID, processorID, name, description, status)
	if err != nil {
		return store.Processor{}, err
	}
	if !updated {
		return store.Processor{}, errNotFound("Processor not found", nil)
	}
	processor, err := s.store.GetProcessor(ctx, session.OrgID, processorID)
	if err != nil {
		return store.Processor{}, err
	}
	s.indexProcessor(processor)
	return processor, nil
}

func (s *Service) DeleteProcessor(ctx context.Context, session Session, processorID string) error {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return errForbidden("Forbidden")
	}
	deleted, err := s.store.DeleteProcessor(ctx, session.OrgID, processorID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound("Processor not found", nil)
	}
	if s.search != nil {
		s.search.DeleteProcessor(processorID)
	}
	return nil
}

// CreateArea appends a new area with the next display_order. Area names are
// unique per processor.
func (s *Service) CreateArea(ctx context.Context, session Session, processorID, name string) (store.Processor, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Processor{}, errForbidden("Forbidden")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Processor{}, errValidation("area name is required", nil)
	}
	processor, err := s.store.GetProcessor(ctx, session.OrgID, processorID)
	if err != nil {
		return store.Processor{}, err
	}
	for _, area := range processor.Areas {
		if area.Name == name {
			return store.Processor{}, errValidation("an area with this name already exists", map[string]any{"name": name})
		}
	}
	areas := ordering.SequenceAreas(append(processor.Areas, ordering.Area{Name: name}))
	if err := s.store.UpdateAreaConfiguration(ctx, processorID, areas); err != nil {
		return store.Processor{}, err
	}
	processor.Areas = areas
	s.commitPlaybook(ctx, session, processor.ID, "Create area "+name)
	return processor, nil
}

func (s *Service) RenameArea(ctx context.Context, session Session, processorID, oldName, newName string) (store.Processor, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Processor{}, errForbidden("Forbidden")
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return store.Processor{}, errValidation("area name is required", nil)
	}
	processor, err := s.store.GetProcessor(ctx, session.OrgID, processorID)
	if err != nil {
		return store.Processor{}, err
	}
	found := false
	areas := make([]ordering.Area, len(processor.Areas))
	copy(areas, processor.Areas)
	for i, area := range areas {
		if area.Name == newName && oldName != newName {
			return store.Processor{}, errValidation("an area with this name already exists", map[string]any{"name": newName})
		}
		if area.Name == oldName {
			areas[i].Name = newName
			found = true
		}
	}
	if !found {
		return store.Processor{}, errNotFound("Area not found", map[string]any{"name": oldName})
	}
	if oldName != newName {
		if err := s.store.RenameArea(ctx, processorID, oldName, newName, areas); err != nil {
			return store.Processor{}, err
		}
	}
	processor.Areas = areas
	s.commitPlaybook(ctx, session, processor.ID, "Rename area "+oldName+" to "+newName)
	return processor, nil
}

// DeleteArea removes an area and moves its operations to fallbackArea. The
// last remaining area cannot be deleted; this is rejected before any store
// write.
func (s *Service) DeleteArea(ctx context.Context, session Session, processorID, name, fallbackArea string) (store.Processor, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Processor{}, errForbidden("Forbidden")
	}
	processor, err := s.store.GetProcessor(ctx, session.OrgID, processorID)
	if err != nil {
		return store.Processor{}, err
	}
	if len(processor.Areas) <= 1 {
		return store.Processor{}, domainError(422, "LAST_AREA", "the last area cannot be deleted", nil)
	}

	remaining := make([]ordering.Area, 0, len(processor.Areas)-1)
	found := false
	fallbackOK := false
	for _, area := range processor.Areas {
		if area.Name == name {
			found = true
			continue
		}
		if area.Name == fallbackArea {
			fallbackOK = true
		}
		remaining = append(remaining, area)
	}
	if !found {
		return store.Processor{}, errNotFound("Area not found", map[string]any{"name": name})
	}
	if fallbackArea == "" {
		fallbackArea = remaining[0].Name
		fallbackOK = true
	}
	if !fallbackOK {
		return store.Processor{}, errValidation("fallback area does not exist", map[string]any{"fallback": fallbackArea})
	}

	remaining = ordering.SequenceAreas(remaining)
	if err := s.store.DeleteArea(ctx, processorID, name, fallbackArea, remaining); err != nil {
		return store.Processor{}, err
	}
	processor.Areas = remaining
	s.commitPlaybook(ctx, session, processor.ID, "Delete area "+name)
	return processor, nil
}

// ReorderAreas moves the area at fromIndex to toIndex and persists the whole
// configuration in a single write.
func (s *Service) ReorderAreas(ctx context.Context, session Session, processorID string, fromIndex, toIndex int) (store.Processor, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Processor{}, errForbidden("Forbidden")
	}
	processor, err := s.store.GetProcessor(ctx, session.OrgID, processorID)
	if err != nil {
		return store.Processor{}, err
	}
	if fromIndex < 0 || fromIndex >= len(processor.Areas) || toIndex < 0 || toIndex >= len(processor.Areas) {
		return store.Processor{}, errValidation("index out of range", map[string]any{"from": fromIndex, "to": toIndex})
	}
	areas := ordering.ReorderAreas(processor.Areas, fromIndex, toIndex)
	if err := s.store.UpdateAreaConfiguration(ctx, processorID, areas); err != nil {
		return store.Processor{}, err
	}
	processor.Areas = areas
	s.commitPlaybook(ctx, session, processor.ID, "Reorder areas")
	return processor, nil
}

func (s *Service) CreateOperation(ctx context.Context, session Session, processorID, area, name, operationType, prompt string) (store.Operation, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Operation{}, errForbidden("Forbidden")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Operation{}, errValidation("name is required", nil)
	}
	if _, ok := allowedOperationTypes[operationType]; !ok {
		return store.Operation{}, errValidation("invalid operation type", map[string]any{"operation_type": operationType})
	}
	processor, err := s.store.GetProcessor(ctx, session.OrgID, processorID)
	if err != nil {
		return store.Operation{}, err
	}
	if !hasArea(processor.Areas, area) {
		return store.Operation{}, errValidation("area does not exist", map[string]any{"area": area})
	}

	existing, err := s.store.ListAreaOperations(ctx, processorID, area)
	if err != nil {
		return store.Operation{}, err
	}
	position := 1.0
	if len(existing) > 0 {
		position = existing[len(existing)-1].Position + 1
	}

	operation, err := s.store.InsertOperation(ctx, store.Operation{
		ID:            uuid.NewString(),
		ProcessorID:   processorID,
		Area:          area,
		Name:          name,
		OperationType: operationType,
		Prompt:        prompt,
		Position:      position,
	})
	if err != nil {
		return store.Operation{}, err
	}
	if s.search != nil {
		s.search.IndexOperation(search.OperationRecord{
			ID:             operation.ID,
			ProcessorID:    processorID,
			OrganizationID: session.OrgID,
			Name:           operation.Name,
			Prompt:         operation.Prompt,
		})
	}
	s.commitPlaybook(ctx, session, processorID, "Add operation "+name)
	return operation, nil
}

func (s *Service) ListProcessorOperations(ctx context.Context, session Session, processorID string) ([]store.Operation, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden("Forbidden")
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return nil, err
	}
	return s.store.ListOperations(ctx, processorID)
}

func (s *Service) UpdateOperation(ctx context.Context, session Session, processorID, operationID, name, operationType, prompt string) (store.Operation, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Operation{}, errForbidden("Forbidden")
	}
	if _, ok := allowedOperationTypes[operationType]; !ok {
		return store.Operation{}, errValidation("invalid operation type", map[string]any{"operation_type": operationType})
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return store.Operation{}, err
	}
	updated, err := s.store.UpdateOperation(ctx, processorID, operationID, name, operationType, prompt)
	if err != nil {
		return store.Operation{}, err
	}
	if !updated {
		return store.Operation{}, errNotFound("Operation not found", nil)
	}
	operation, err := s.store.GetOperation(ctx, processorID, operationID)
	if err != nil {
		return store.Operation{}, err
	}
	if s.search != nil {
		s.search.IndexOperation(search.OperationRecord{
			ID:             operation.ID,
			ProcessorID:    processorID,
			OrganizationID: session.OrgID,
			Name:           operation.Name,
			Prompt:         operation.Prompt,
		})
	}
	s.commitPlaybook(ctx, session, processorID, "Update operation "+operation.Name)
	return operation, nil
}

func (s *Service) DeleteOperation(ctx context.Context, session Session, processorID, operationID string) error {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return errForbidden("Forbidden")
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteOperation(ctx, processorID, operationID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound("Operation not found", nil)
	}
	if s.search != nil {
		s.search.DeleteOperation(operationID)
	}
	s.commitPlaybook(ctx, session, processorID, "Delete operation")
	return nil
}

// MoveOperation computes the new placement for a drag and persists it with
// at most one point update. No store write is issued when the placement is
// unchanged. When the move compresses the target area below the minimum
// position gap, the whole area is renumbered in one transaction.
func (s *Service) MoveOperation(ctx context.Context, session Session, processorID, operationID, targetArea, targetOperationID string) (store.Operation, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Operation{}, errForbidden("Forbidden")
	}
	processor, err := s.store.GetProcessor(ctx, session.OrgID, processorID)
	if err != nil {
		return store.Operation{}, err
	}
	if !hasArea(processor.Areas, targetArea) {
		return store.Operation{}, errValidation("target area does not exist", map[string]any{"area": targetArea})
	}

	operation, err := s.store.GetOperation(ctx, processorID, operationID)
	if err != nil {
		return store.Operation{}, err
	}

	areaRows, err := s.store.ListAreaOperations(ctx, processorID, targetArea)
	if err != nil {
		return store.Operation{}, err
	}
	areaOps := make([]ordering.Operation, 0, len(areaRows))
	for _, row := range areaRows {
		areaOps = append(areaOps, ordering.Operation{ID: row.ID, Area: row.Area, Position: row.Position})
	}

	subject := ordering.Operation{ID: operation.ID, Area: operation.Area, Position: operation.Position}
	target := ordering.DropTarget{Area: targetArea, OperationID: targetOperationID}
	placed, err := ordering.PlanMove(subject, target, areaOps)
	if err != nil {
		return store.Operation{}, errValidation(err.Error(), nil)
	}
	if !placed.Changed {
		return operation, nil
	}

	updated, err := s.store.UpdateOperationPlacement(ctx, processorID, operationID, placed.Area, placed.Position)
	if err != nil {
		return store.Operation{}, err
	}
	if !updated {
		return store.Operation{}, errNotFound("Operation not found", nil)
	}
	operation.Area = placed.Area
	operation.Position = placed.Position

	s.renumberIfCrowded(ctx, processorID, placed.Area, areaOps, subject.ID, placed.Position)
	s.commitPlaybook(ctx, session, processorID, "Move operation "+operation.Name)
	return operation, nil
}

// DragResult carries whichever entity a drag changed: the processor for
// area drags, the moved operation for operation drags.
type DragResult struct {
	Processor *store.Processor
	Operation *store.Operation
}

// MoveSubject executes a drag whose subject was resolved once at the
// boundary. Operation subjects get a fractional-position move; area
// subjects reorder the area configuration.
func (s *Service) MoveSubject(ctx context.Context, session Session, processorID string, subject ordering.DragSubject, target ordering.DropTarget) (DragResult, error) {
	switch subject.Kind {
	case ordering.SubjectOperation:
		operation, err := s.MoveOperation(ctx, session, processorID, subject.OperationID, target.Area, target.OperationID)
		if err != nil {
			return DragResult{}, err
		}
		return DragResult{Operation: &operation}, nil
	case ordering.SubjectArea:
		processor, err := s.MoveArea(ctx, session, processorID, subject.AreaName, target.Area)
		if err != nil {
			return DragResult{}, err
		}
		return DragResult{Processor: &processor}, nil
	}
	return DragResult{}, errValidation("unknown drag subject", nil)
}

// MoveArea reorders the configuration so the named area takes the slot of
// targetArea. Dropping an area onto itself is a no-op.
func (s *Service) MoveArea(ctx context.Context, session Session, processorID, name, targetArea string) (store.Processor, error) {
	if !s.Can(session.Role, rbac.ActionEdit) {
		return store.Processor{}, errForbidden("Forbidden")
	}
	processor, err := s.store.GetProcessor(ctx, session.OrgID, processorID)
	if err != nil {
		return store.Processor{}, err
	}
	from, to := -1, -1
	for i, area := range processor.Areas {
		if area.Name == name {
			from = i
		}
		if area.Name == targetArea {
			to = i
		}
	}
	if from == -1 {
		return store.Processor{}, errNotFound("Area not found", map[string]any{"name": name})
	}
	if to == -1 {
		return store.Processor{}, errValidation("target area does not exist", map[string]any{"area": targetArea})
	}
	if from == to {
		return processor, nil
	}
	return s.ReorderAreas(ctx, session, processorID, from, to)
}

// renumberIfCrowded rewrites an area's positions when the post-move gaps
// have collapsed below the minimum.
func (s *Service) renumberIfCrowded(ctx context.Context, processorID, area string, beforeMove []ordering.Operation, movedID string, movedPosition float64) {
	positions := make([]float64, 0, len(beforeMove)+1)
	next := make([]ordering.Operation, 0, len(beforeMove)+1)
	for _, op := range beforeMove {
		if op.ID == movedID {
			continue
		}
		positions = append(positions, op.Position)
		next = append(next, op)
	}
	positions = append(positions, movedPosition)
	next = append(next, ordering.Operation{ID: movedID, Area: area, Position: movedPosition})

	if !ordering.NeedsRenumber(positions) {
		return
	}
	if err := s.store.RenumberArea(ctx, processorID, area, ordering.Renumber(next)); err != nil {
		s.log.Error().Err(err).Str("processor_id", processorID).Str("area", area).Msg("renumber after move failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RenumberSweeps.Inc()
	}
}

func hasArea(areas []ordering.Area, name string) bool {
	for _, area := range areas {
		if area.Name == name {
			return true
		}
	}
	return false
}

func (s *Service) indexProcessor(processor store.Processor) {
	if s.search == nil {
		return
	}
	s.search.IndexProcessor(search.ProcessorRecord{
		ID:             processor.ID,
		OrganizationID: processor.OrganizationID,
		Name:           processor.Name,
		Description:    processor.Description,
		Status:         processor.Status,
	})
}

// buildPlaybook freezes the live processor configuration and operations.
func (s *Service) buildPlaybook(ctx context.Context, orgID, processorID string) (store.PlaybookConfig, error) {
	processor, err := s.store.GetProcessor(ctx, orgID, processorID)
	if err != nil {
		return store.PlaybookConfig{}, err
	}
	operations, err := s.store.ListOperations(ctx, processorID)
	if err != nil {
		return store.PlaybookConfig{}, err
	}
	frozen := make([]store.PlaybookOperation, 0, len(operations))
	for _, op := range operations {
		frozen = append(frozen, store.PlaybookOperation{
			ID:            op.ID,
			Area:          op.Area,
			Name:          op.Name,
			OperationType: op.OperationType,
			Prompt:        op.Prompt,
			Position:      op.Position,
		})
	}
	return store.PlaybookConfig{
		ProcessorName: processor.Name,
		Description:   processor.Description,
		Areas:         processor.Areas,
		Operations:    frozen,
	}, nil
}

// commitPlaybook records the current playbook in the processor's history
// repository. History is advisory; failures are logged, not surfaced.
func (s *Service) commitPlaybook(ctx context.Context, session Session, processorID, message string) {
	if s.history == nil {
		return
	}
	config, err := s.buildPlaybook(ctx, session.OrgID, processorID)
	if err != nil {
		s.log.Warn().Err(err).Str("processor_id", processorID).Msg("playbook freeze for history failed")
		return
	}
	if _, err := s.history.CommitPlaybook(processorID, config, session.UserName, message); err != nil {
		s.log.Warn().Err(err).Str("processor_id", processorID).Msg("playbook history commit failed")
	}
}

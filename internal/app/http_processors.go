package app

import (
	"encoding/json"
	"net/http"
	"strconv"

	"validai/api/internal/ordering"
	"validai/api/internal/store"
)

func (s *HTTPServer) handleProcessors(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			processors, err := s.service.ListProcessors(r.Context(), session)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"processors": processorsJSON(processors)})
		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			processor, err := s.service.CreateProcessor(r.Context(), session, body.Name, body.Description)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, processorJSON(processor))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	processorID := parts[0]
	rest := parts[1:]

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			processor, err := s.service.GetProcessor(r.Context(), session, processorID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, processorJSON(processor))
		case http.MethodPut:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				Status      string `json:"status"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			processor, err := s.service.UpdateProcessor(r.Context(), session, processorID, body.Name, body.Description, body.Status)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, processorJSON(processor))
		case http.MethodDelete:
			if err := s.service.DeleteProcessor(r.Context(), session, processorID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch rest[0] {
	case "drag":
		if len(rest) == 1 && r.Method == http.MethodPost {
			s.handleDrag(w, r, session, processorID)
			return
		}
	case "areas":
		s.handleAreas(w, r, session, processorID, rest[1:])
		return
	case "operations":
		s.handleOperations(w, r, session, processorID, rest[1:])
		return
	case "playbook":
		s.handlePlaybook(w, r, session, processorID, rest[1:])
		return
	case "snapshots":
		s.handleSnapshots(w, r, session, processorID, rest[1:])
		return
	case "history":
		s.handleHistory(w, r, session, processorID, rest[1:])
		return
	case "runs":
		if len(rest) == 1 {
			switch r.Method {
			case http.MethodGet:
				items, err := s.service.ListProcessorRuns(r.Context(), session, processorID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"runs": runsJSON(items)})
			case http.MethodPost:
				var body struct {
					DocumentID string `json:"documentId"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				run, err := s.service.ExecuteProcessorRun(r.Context(), session, processorID, body.DocumentID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusAccepted, runJSON(run))
			default:
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			}
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleDrag resolves the dragged entity to a tagged subject once and lets
// the service dispatch on its kind.
func (s *HTTPServer) handleDrag(w http.ResponseWriter, r *http.Request, session Session, processorID string) {
	var body struct {
		Subject struct {
			Type        string `json:"type"`
			Area        string `json:"area"`
			OperationID string `json:"operationId"`
		} `json:"subject"`
		Target struct {
			Area        string `json:"area"`
			OperationID string `json:"operationId"`
		} `json:"target"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var subject ordering.DragSubject
	switch body.Subject.Type {
	case "operation":
		subject = ordering.OperationSubject(body.Subject.OperationID)
	case "area":
		subject = ordering.AreaSubject(body.Subject.Area)
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "subject type must be \"area\" or \"operation\"", nil)
		return
	}

	target := ordering.DropTarget{Area: body.Target.Area, OperationID: body.Target.OperationID}
	result, err := s.service.MoveSubject(r.Context(), session, processorID, subject, target)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if result.Operation != nil {
		writeJSON(w, http.StatusOK, operationJSON(*result.Operation))
		return
	}
	writeJSON(w, http.StatusOK, processorJSON(*result.Processor))
}

func (s *HTTPServer) handleAreas(w http.ResponseWriter, r *http.Request, session Session, processorID string, parts []string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 0 {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		processor, err := s.service.CreateArea(r.Context(), session, processorID, body.Name)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, processorJSON(processor))
		return
	}

	if len(parts) == 1 {
		switch parts[0] {
		case "rename":
			var body struct {
				OldName string `json:"oldName"`
				NewName string `json:"newName"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			processor, err := s.service.RenameArea(r.Context(), session, processorID, body.OldName, body.NewName)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, processorJSON(processor))
			return
		case "delete":
			var body struct {
				Name         string `json:"name"`
				FallbackArea string `json:"fallbackArea"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			processor, err := s.service.DeleteArea(r.Context(), session, processorID, body.Name, body.FallbackArea)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, processorJSON(processor))
			return
		case "reorder":
			var body struct {
				From int `json:"from"`
				To   int `json:"to"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			processor, err := s.service.ReorderAreas(r.Context(), session, processorID, body.From, body.To)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, processorJSON(processor))
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleOperations(w http.ResponseWriter, r *http.Request, session Session, processorID string, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			operations, err := s.service.ListProcessorOperations(r.Context(), session, processorID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"operations": operationsJSON(operations)})
		case http.MethodPost:
			var body struct {
				Area          string `json:"area"`
				Name          string `json:"name"`
				OperationType string `json:"operationType"`
				Prompt        string `json:"prompt"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			operation, err := s.service.CreateOperation(r.Context(), session, processorID, body.Area, body.Name, body.OperationType, body.Prompt)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, operationJSON(operation))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	operationID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Name          string `json:"name"`
				OperationType string `json:"operationType"`
				Prompt        string `json:"prompt"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			operation, err := s.service.UpdateOperation(r.Context(), session, processorID, operationID, body.Name, body.OperationType, body.Prompt)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, operationJSON(operation))
		case http.MethodDelete:
			if err := s.service.DeleteOperation(r.Context(), session, processorID, operationID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "move" && r.Method == http.MethodPost {
		var body struct {
			Area              string `json:"area"`
			TargetOperationID string `json:"targetOperationId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		operation, err := s.service.MoveOperation(r.Context(), session, processorID, operationID, body.Area, body.TargetOperationID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, operationJSON(operation))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePlaybook(w http.ResponseWriter, r *http.Request, session Session, processorID string, parts []string) {
	if len(parts) == 1 && r.Method == http.MethodGet && parts[0] == "versions" {
		snapshots, err := s.service.GetProcessorSnapshots(r.Context(), session, processorID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"snapshots": snapshotsJSON(snapshots)})
		return
	}

	if len(parts) != 1 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[0] {
	case "publish", "save-version":
		var body struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var snapshot store.Snapshot
		var err error
		if parts[0] == "publish" {
			snapshot, err = s.service.PublishPlaybook(r.Context(), session, processorID, body.Name, body.Description)
		} else {
			snapshot, err = s.service.SaveAsVersion(r.Context(), session, processorID, body.Name, body.Description)
		}
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, snapshotJSON(snapshot))
	case "unpublish":
		if err := s.service.UnpublishPlaybook(r.Context(), session, processorID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "republish", "set-published":
		var body struct {
			SnapshotID string `json:"snapshotId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		snapshot, err := s.service.SetPublishedVersion(r.Context(), session, processorID, body.SnapshotID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, snapshotJSON(snapshot))
	case "visibility":
		var body struct {
			SnapshotID string `json:"snapshotId"`
			Visibility string `json:"visibility"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		snapshot, err := s.service.UpdatePlaybookVisibility(r.Context(), session, processorID, body.SnapshotID, body.Visibility)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, snapshotJSON(snapshot))
	case "load":
		var body struct {
			SnapshotID string `json:"snapshotId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		processor, err := s.service.LoadSnapshot(r.Context(), session, processorID, body.SnapshotID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, processorJSON(processor))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSnapshots(w http.ResponseWriter, r *http.Request, session Session, processorID string, parts []string) {
	if len(parts) == 1 {
		snapshotID := parts[0]
		switch r.Method {
		case http.MethodGet:
			snapshot, err := s.service.GetPlaybookSnapshot(r.Context(), session, processorID, snapshotID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			payload := snapshotJSON(snapshot)
			payload["config"] = json.RawMessage(snapshot.Config)
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteSnapshot(r.Context(), session, processorID, snapshotID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "export" && r.Method == http.MethodGet {
		format := r.URL.Query().Get("format")
		if format == "" {
			format = "html"
		}
		result, err := s.service.ExportSnapshot(r.Context(), session, processorID, parts[0], format)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(result.Filename))
		_, _ = w.Write(result.Data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, session Session, processorID string, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) == 0 {
		limit := queryInt(r.URL.Query().Get("limit"), 50)
		commits, err := s.service.PlaybookHistory(r.Context(), session, processorID, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		items := make([]map[string]any, 0, len(commits))
		for _, commit := range commits {
			items = append(items, map[string]any{
				"hash":      commit.Hash,
				"message":   commit.Message,
				"author":    commit.Author,
				"createdAt": commit.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": items})
		return
	}

	if len(parts) == 1 {
		config, err := s.service.PlaybookAtCommit(r.Context(), session, processorID, parts[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"playbook": config})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func processorJSON(processor store.Processor) map[string]any {
	return map[string]any{
		"id":                processor.ID,
		"name":              processor.Name,
		"description":       processor.Description,
		"status":            processor.Status,
		"areaConfiguration": areasJSON(processor.Areas),
		"loadedSnapshotId":  processor.LoadedSnapshotID,
		"createdAt":         processor.CreatedAt,
		"updatedAt":         processor.UpdatedAt,
	}
}

func processorsJSON(processors []store.Processor) []map[string]any {
	items := make([]map[string]any, 0, len(processors))
	for _, processor := range processors {
		items = append(items, processorJSON(processor))
	}
	return items
}

func areasJSON(areas []ordering.Area) []map[string]any {
	items := make([]map[string]any, 0, len(areas))
	for _, area := range areas {
		items = append(items, map[string]any{
			"name":         area.Name,
			"displayOrder": area.DisplayOrder,
		})
	}
	return items
}

func operationJSON(operation store.Operation) map[string]any {
	return map[string]any{
		"id":            operation.ID,
		"area":          operation.Area,
		"name":          operation.Name,
		"operationType": operation.OperationType,
		"prompt":        operation.Prompt,
		"position":      operation.Position,
		"createdAt":     operation.CreatedAt,
		"updatedAt":     operation.UpdatedAt,
	}
}

func operationsJSON(operations []store.Operation) []map[string]any {
	items := make([]map[string]any, 0, len(operations))
	for _, operation := range operations {
		items = append(items, operationJSON(operation))
	}
	return items
}

func snapshotJSON(snapshot store.Snapshot) map[string]any {
	return map[string]any{
		"id":            snapshot.ID,
		"processorId":   snapshot.ProcessorID,
		"versionNumber": snapshot.VersionNumber,
		"name":          snapshot.Name,
		"description":   snapshot.Description,
		"visibility":    snapshot.Visibility,
		"isPublished":   snapshot.IsPublished,
		"createdBy":     snapshot.CreatedBy,
		"createdAt":     snapshot.CreatedAt,
	}
}

func snapshotsJSON(snapshots []store.Snapshot) []map[string]any {
	items := make([]map[string]any, 0, len(snapshots))
	for _, snapshot := range snapshots {
		items = append(items, snapshotJSON(snapshot))
	}
	return items
}

package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertDocument(ctx context.Context, document Document) (Document, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, organization_id, name, size_bytes, mime_type, storage_path, uploaded_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, document.ID, document.OrganizationID, document.Name, document.SizeBytes, document.MimeType, document.StoragePath, document.UploadedBy).
		Scan(&document.CreatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return document, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, orgID, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, size_bytes, mime_type, storage_path, uploaded_by_name, created_at
		FROM documents
		WHERE id=$1 AND organization_id=$2
	`, documentID, orgID).Scan(
		&item.ID,
		&item.OrganizationID,
		&item.Name,
		&item.SizeBytes,
		&item.MimeType,
		&item.StoragePath,
		&item.UploadedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, orgID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, size_bytes, mime_type, storage_path, uploaded_by_name, created_at
		FROM documents
		WHERE organization_id=$1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(
			&item.ID,
			&item.OrganizationID,
			&item.Name,
			&item.SizeBytes,
			&item.MimeType,
			&item.StoragePath,
			&item.UploadedBy,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, orgID, documentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE id=$1 AND organization_id=$2
	`, documentID, orgID)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete document rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertRun(ctx context.Context, run Run) (Run, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO runs (id, processor_id, snapshot_id, document_id, status, total_operations, created_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, run.ID, run.ProcessorID, run.SnapshotID, run.DocumentID, run.Status, run.TotalOperations, run.CreatedBy).
		Scan(&run.CreatedAt)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (Run, error) {
	var item Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, processor_id, snapshot_id, document_id, status,
		       total_operations, completed_operations, failed_operations,
		       started_at, completed_at, created_by_name, created_at
		FROM runs
		WHERE id=$1
	`, runID).Scan(
		&item.ID,
		&item.ProcessorID,
		&item.SnapshotID,
		&item.DocumentID,
		&item.Status,
		&item.TotalOperations,
		&item.CompletedOperations,
		&item.FailedOperations,
		&item.StartedAt,
		&item.CompletedAt,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return Run{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, processorID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, processor_id, snapshot_id, document_id, status,
		       total_operations, completed_operations, failed_operations,
		       started_at, completed_at, created_by_name, created_at
		FROM runs
		WHERE processor_id=$1
		ORDER BY created_at DESC
	`, processorID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	items := make([]Run, 0)
	for rows.Next() {
		var item Run
		if err := rows.Scan(
			&item.ID,
			&item.ProcessorID,
			&item.SnapshotID,
			&item.DocumentID,
			&item.Status,
			&item.TotalOperations,
			&item.CompletedOperations,
			&item.FailedOperations,
			&item.StartedAt,
			&item.CompletedAt,
			&item.CreatedBy,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkRunStarted(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status='running', started_at=NOW() WHERE id=$1 AND status='queued'
	`, runID)
	if err != nil {
		return fmt.Errorf("mark run started: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkRunCompleted(ctx context.Context, runID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status=$2, completed_at=NOW() WHERE id=$1
	`, runID, status)
	if err != nil {
		return fmt.Errorf("mark run completed: %w", err)
	}
	return nil
}

// IncrementRunProgress bumps the completed or failed counter for one
// finished operation.
func (s *PostgresStore) IncrementRunProgress(ctx context.Context, runID string, failed bool) error {
	var err error
	if failed {
		_, err = s.db.ExecContext(ctx, `
			UPDATE runs SET failed_operations = failed_operations + 1 WHERE id=$1
		`, runID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE runs SET completed_operations = completed_operations + 1 WHERE id=$1
		`, runID)
	}
	if err != nil {
		return fmt.Errorf("increment run progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertOperationResult(ctx context.Context, result OperationResult) (OperationResult, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO operation_results (id, run_id, operation_id, operation_name, operation_type, status, output, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, result.ID, result.RunID, result.OperationID, result.OperationName, result.OperationType, result.Status, result.Output, result.ErrorMessage).
		Scan(&result.CreatedAt)
	if err != nil {
		return OperationResult{}, fmt.Errorf("insert operation result: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) ListOperationResults(ctx context.Context, runID string) ([]OperationResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, operation_id, operation_name, operation_type, status, output, error_message, created_at
		FROM operation_results
		WHERE run_id=$1
		ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list operation results: %w", err)
	}
	defer rows.Close()

	items := make([]OperationResult, 0)
	for rows.Next() {
		var item OperationResult
		if err := rows.Scan(
			&item.ID,
			&item.RunID,
			&item.OperationID,
			&item.OperationName,
			&item.OperationType,
			&item.Status,
			&item.Output,
			&item.ErrorMessage,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan operation result: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation results: %w", err)
	}
	return items, nil
}

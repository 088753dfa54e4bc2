package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"validai/api/internal/ordering"
)

func scanProcessors(rows *sql.Rows) ([]Processor, error) {
	items := make([]Processor, 0)
	for rows.Next() {
		var item Processor
		var areasJSON string
		if err := rows.Scan(
			&item.ID,
			&item.OrganizationID,
			&item.Name,
			&item.Description,
			&item.Status,
			&areasJSON,
			&item.LoadedSnapshotID,
			&item.CreatedBy,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan processor: %w", err)
		}
		if err := json.Unmarshal([]byte(areasJSON), &item.Areas); err != nil {
			return nil, fmt.Errorf("decode area configuration: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processors: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertProcessor(ctx context.Context, processor Processor) (Processor, error) {
	areasJSON, err := json.Marshal(processor.Areas)
	if err != nil {
		return Processor{}, fmt.Errorf("encode area configuration: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO processors (id, organization_id, name, description, status, area_configuration, created_by_name)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		RETURNING created_at, updated_at
	`, processor.ID, processor.OrganizationID, processor.Name, processor.Description, processor.Status, string(areasJSON), processor.CreatedBy).
		Scan(&processor.CreatedAt, &processor.UpdatedAt)
	if err != nil {
		return Processor{}, fmt.Errorf("insert processor: %w", err)
	}
	return processor, nil
}

func (s *PostgresStore) GetProcessor(ctx context.Context, orgID, processorID string) (Processor, error) {
	var item Processor
	var areasJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, description, status,
		       COALESCE(area_configuration::text, '[]'), COALESCE(loaded_snapshot_id::text, ''),
		       created_by_name, created_at, updated_at
		FROM processors
		WHERE id=$1 AND organization_id=$2
	`, processorID, orgID).Scan(
		&item.ID,
		&item.OrganizationID,
		&item.Name,
		&item.Description,
		&item.Status,
		&areasJSON,
		&item.LoadedSnapshotID,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Processor{}, err
	}
	if err := json.Unmarshal([]byte(areasJSON), &item.Areas); err != nil {
		return Processor{}, fmt.Errorf("decode area configuration: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListProcessors(ctx context.Context, orgID string) ([]Processor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, description, status,
		       COALESCE(area_configuration::text, '[]'), COALESCE(loaded_snapshot_id::text, ''),
		       created_by_name, created_at, updated_at
		FROM processors
		WHERE organization_id=$1
		ORDER BY updated_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list processors: %w", err)
	}
	defer rows.Close()
	return scanProcessors(rows)
}

func (s *PostgresStore) UpdateProcessor(ctx context.Context, orgID, processorID, name, description, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE processors SET name=$3, description=$4, status=$5, updated_at=NOW()
		WHERE id=$1 AND organization_id=$2
	`, processorID, orgID, name, description, status)
	if err != nil {
		return false, fmt.Errorf("update processor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update processor rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteProcessor(ctx context.Context, orgID, processorID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM processors WHERE id=$1 AND organization_id=$2
	`, processorID, orgID)
	if err != nil {
		return false, fmt.Errorf("delete processor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete processor rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateAreaConfiguration replaces the whole ordered area list in one write.
func (s *PostgresStore) UpdateAreaConfiguration(ctx context.Context, processorID string, areas []ordering.Area) error {
	areasJSON, err := json.Marshal(areas)
	if err != nil {
		return fmt.Errorf("encode area configuration: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE processors SET area_configuration=$2::jsonb, updated_at=NOW()
		WHERE id=$1
	`, processorID, string(areasJSON))
	if err != nil {
		return fmt.Errorf("update area configuration: %w", err)
	}
	return nil
}

// RenameArea updates the area list and rewrites the operations that lived
// under the old name in one transaction.
func (s *PostgresStore) RenameArea(ctx context.Context, processorID, oldName, newName string, areas []ordering.Area) error {
	areasJSON, err := json.Marshal(areas)
	if err != nil {
		return fmt.Errorf("encode area configuration: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rename area: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE processors SET area_configuration=$2::jsonb, updated_at=NOW()
		WHERE id=$1
	`, processorID, string(areasJSON)); err != nil {
		return fmt.Errorf("rename area configuration: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE operations SET area=$3, updated_at=NOW()
		WHERE processor_id=$1 AND area=$2
	`, processorID, oldName, newName); err != nil {
		return fmt.Errorf("rename area operations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rename area: %w", err)
	}
	return nil
}

// DeleteArea removes an area from the configuration and appends its
// operations to the end of the fallback area, preserving their relative
// order, in one transaction.
func (s *PostgresStore) DeleteArea(ctx context.Context, processorID, areaName, fallbackArea string, areas []ordering.Area) error {
	areasJSON, err := json.Marshal(areas)
	if err != nil {
		return fmt.Errorf("encode area configuration: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete area: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE processors SET area_configuration=$2::jsonb, updated_at=NOW()
		WHERE id=$1
	`, processorID, string(areasJSON)); err != nil {
		return fmt.Errorf("delete area configuration: %w", err)
	}

	var maxPosition float64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), 0) FROM operations WHERE processor_id=$1 AND area=$2
	`, processorID, fallbackArea).Scan(&maxPosition)
	if err != nil {
		return fmt.Errorf("read fallback tail: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		WITH moved AS (
			SELECT id, ROW_NUMBER() OVER (ORDER BY position ASC) AS rn
			FROM operations
			WHERE processor_id=$1 AND area=$2
		)
		UPDATE operations o
		SET area=$3, position=$4 + moved.rn, updated_at=NOW()
		FROM moved
		WHERE o.id = moved.id
	`, processorID, areaName, fallbackArea, maxPosition); err != nil {
		return fmt.Errorf("move orphaned operations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete area: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertOperation(ctx context.Context, operation Operation) (Operation, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO operations (id, processor_id, area, name, operation_type, prompt, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, operation.ID, operation.ProcessorID, operation.Area, operation.Name, operation.OperationType, operation.Prompt, operation.Position).
		Scan(&operation.CreatedAt, &operation.UpdatedAt)
	if err != nil {
		return Operation{}, fmt.Errorf("insert operation: %w", err)
	}
	return operation, nil
}

func (s *PostgresStore) GetOperation(ctx context.Context, processorID, operationID string) (Operation, error) {
	var item Operation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, processor_id, area, name, operation_type, prompt, position, created_at, updated_at
		FROM operations
		WHERE id=$1 AND processor_id=$2
	`, operationID, processorID).Scan(
		&item.ID,
		&item.ProcessorID,
		&item.Area,
		&item.Name,
		&item.OperationType,
		&item.Prompt,
		&item.Position,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Operation{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListOperations(ctx context.Context, processorID string) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, processor_id, area, name, operation_type, prompt, position, created_at, updated_at
		FROM operations
		WHERE processor_id=$1
		ORDER BY area ASC, position ASC
	`, processorID)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()
	return scanOperations(rows)
}

func (s *PostgresStore) ListAreaOperations(ctx context.Context, processorID, area string) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, processor_id, area, name, operation_type, prompt, position, created_at, updated_at
		FROM operations
		WHERE processor_id=$1 AND area=$2
		ORDER BY position ASC
	`, processorID, area)
	if err != nil {
		return nil, fmt.Errorf("list area operations: %w", err)
	}
	defer rows.Close()
	return scanOperations(rows)
}

func scanOperations(rows *sql.Rows) ([]Operation, error) {
	items := make([]Operation, 0)
	for rows.Next() {
		var item Operation
		if err := rows.Scan(
			&item.ID,
			&item.ProcessorID,
			&item.Area,
			&item.Name,
			&item.OperationType,
			&item.Prompt,
			&item.Position,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateOperation(ctx context.Context, processorID, operationID, name, operationType, prompt string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE operations SET name=$3, operation_type=$4, prompt=$5, updated_at=NOW()
		WHERE id=$1 AND processor_id=$2
	`, operationID, processorID, name, operationType, prompt)
	if err != nil {
		return false, fmt.Errorf("update operation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update operation rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateOperationPlacement moves a single operation to a new area and
// position. No other row is touched.
func (s *PostgresStore) UpdateOperationPlacement(ctx context.Context, processorID, operationID, area string, position float64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE operations SET area=$3, position=$4, updated_at=NOW()
		WHERE id=$1 AND processor_id=$2
	`, operationID, processorID, area, position)
	if err != nil {
		return false, fmt.Errorf("update operation placement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update operation placement rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteOperation(ctx context.Context, processorID, operationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM operations WHERE id=$1 AND processor_id=$2
	`, operationID, processorID)
	if err != nil {
		return false, fmt.Errorf("delete operation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete operation rows: %w", err)
	}
	return affected > 0, nil
}

// RenumberArea rewrites every position in an area in one transaction so a
// reader never observes a half-renumbered list.
func (s *PostgresStore) RenumberArea(ctx context.Context, processorID, area string, renumbered []ordering.Operation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin renumber: %w", err)
	}
	defer tx.Rollback()

	for _, op := range renumbered {
		if _, err := tx.ExecContext(ctx, `
			UPDATE operations SET position=$3, updated_at=NOW()
			WHERE id=$1 AND processor_id=$2
		`, op.ID, processorID, op.Position); err != nil {
			return fmt.Errorf("renumber operation %s: %w", op.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit renumber: %w", err)
	}
	return nil
}

// ListCrowdedAreas returns (processor, area) pairs whose minimum adjacent
// position gap has fallen below the given threshold.
func (s *PostgresStore) ListCrowdedAreas(ctx context.Context, minGap float64) ([]AreaRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT processor_id, area FROM (
			SELECT processor_id, area,
			       position - LAG(position) OVER (PARTITION BY processor_id, area ORDER BY position) AS gap
			FROM operations
		) g
		WHERE g.gap IS NOT NULL AND g.gap < $1
		GROUP BY processor_id, area
	`, minGap)
	if err != nil {
		return nil, fmt.Errorf("list crowded areas: %w", err)
	}
	defer rows.Close()

	items := make([]AreaRef, 0)
	for rows.Next() {
		var item AreaRef
		if err := rows.Scan(&item.ProcessorID, &item.Area); err != nil {
			return nil, fmt.Errorf("scan crowded area: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crowded areas: %w", err)
	}
	return items, nil
}

// AreaRef identifies one area of one processor.
type AreaRef struct {
	ProcessorID string
	Area        string
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateSnapshot inserts a new snapshot with the next version number for the
// processor. When publish is set, every other snapshot of the processor is
// unpublished in the same transaction, so at most one published snapshot is
// ever visible. The processor's loaded snapshot pointer is moved to the new
// snapshot.
func (s *PostgresStore) CreateSnapshot(ctx context.Context, snapshot Snapshot, publish bool) (Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin create snapshot: %w", err)
	}
	defer tx.Rollback()

	// Lock the processor row so concurrent publishes serialize and the
	// version counter stays monotonic.
	var processorID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM processors WHERE id=$1 FOR UPDATE
	`, snapshot.ProcessorID).Scan(&processorID)
	if err != nil {
		return Snapshot{}, err
	}

	if publish {
		if _, err := tx.ExecContext(ctx, `
			UPDATE playbook_snapshots SET is_published=FALSE WHERE processor_id=$1 AND is_published
		`, snapshot.ProcessorID); err != nil {
			return Snapshot{}, fmt.Errorf("unpublish previous snapshots: %w", err)
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO playbook_snapshots (id, processor_id, version_number, name, description, visibility, is_published, config, created_by_name)
		SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3, $4, $5, $6, $7::jsonb, $8
		FROM playbook_snapshots WHERE processor_id=$2
		RETURNING version_number, created_at
	`, snapshot.ID, snapshot.ProcessorID, snapshot.Name, snapshot.Description, snapshot.Visibility, publish, string(snapshot.Config), snapshot.CreatedBy).
		Scan(&snapshot.VersionNumber, &snapshot.CreatedAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	snapshot.IsPublished = publish

	if _, err := tx.ExecContext(ctx, `
		UPDATE processors SET loaded_snapshot_id=$2, updated_at=NOW() WHERE id=$1
	`, snapshot.ProcessorID, snapshot.ID); err != nil {
		return Snapshot{}, fmt.Errorf("point loaded snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("commit create snapshot: %w", err)
	}
	return snapshot, nil
}

// SetPublished flips the published flag of one snapshot. Publishing
// unpublishes every sibling in the same transaction.
func (s *PostgresStore) SetPublished(ctx context.Context, processorID, snapshotID string, published bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set published: %w", err)
	}
	defer tx.Rollback()

	var exists string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM playbook_snapshots WHERE id=$1 AND processor_id=$2 FOR UPDATE
	`, snapshotID, processorID).Scan(&exists)
	if err != nil {
		return err
	}

	if published {
		if _, err := tx.ExecContext(ctx, `
			UPDATE playbook_snapshots SET is_published=FALSE WHERE processor_id=$1 AND is_published AND id<>$2
		`, processorID, snapshotID); err != nil {
			return fmt.Errorf("unpublish siblings: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE playbook_snapshots SET is_published=$3 WHERE id=$1 AND processor_id=$2
	`, snapshotID, processorID, published); err != nil {
		return fmt.Errorf("set published: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set published: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSnapshotVisibility(ctx context.Context, processorID, snapshotID, visibility string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE playbook_snapshots SET visibility=$3 WHERE id=$1 AND processor_id=$2
	`, snapshotID, processorID, visibility)
	if err != nil {
		return false, fmt.Errorf("update snapshot visibility: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update snapshot visibility rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, processorID, snapshotID string) (Snapshot, error) {
	var item Snapshot
	var config string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, processor_id, version_number, name, description, visibility, is_published, config::text, created_by_name, created_at
		FROM playbook_snapshots
		WHERE id=$1 AND processor_id=$2
	`, snapshotID, processorID).Scan(
		&item.ID,
		&item.ProcessorID,
		&item.VersionNumber,
		&item.Name,
		&item.Description,
		&item.Visibility,
		&item.IsPublished,
		&config,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return Snapshot{}, err
	}
	item.Config = json.RawMessage(config)
	return item, nil
}

func (s *PostgresStore) GetPublishedSnapshot(ctx context.Context, processorID string) (Snapshot, error) {
	var item Snapshot
	var config string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, processor_id, version_number, name, description, visibility, is_published, config::text, created_by_name, created_at
		FROM playbook_snapshots
		WHERE processor_id=$1 AND is_published
	`, processorID).Scan(
		&item.ID,
		&item.ProcessorID,
		&item.VersionNumber,
		&item.Name,
		&item.Description,
		&item.Visibility,
		&item.IsPublished,
		&config,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return Snapshot{}, err
	}
	item.Config = json.RawMessage(config)
	return item, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, processorID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, processor_id, version_number, name, description, visibility, is_published, config::text, created_by_name, created_at
		FROM playbook_snapshots
		WHERE processor_id=$1
		ORDER BY version_number DESC
	`, processorID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	items := make([]Snapshot, 0)
	for rows.Next() {
		var item Snapshot
		var config string
		if err := rows.Scan(
			&item.ID,
			&item.ProcessorID,
			&item.VersionNumber,
			&item.Name,
			&item.Description,
			&item.Visibility,
			&item.IsPublished,
			&config,
			&item.CreatedBy,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		item.Config = json.RawMessage(config)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteSnapshot(ctx context.Context, processorID, snapshotID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM playbook_snapshots WHERE id=$1 AND processor_id=$2 AND NOT is_published
	`, snapshotID, processorID)
	if err != nil {
		return false, fmt.Errorf("delete snapshot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete snapshot rows: %w", err)
	}
	return affected > 0, nil
}

// ReplacePlaybook swaps the processor's working playbook for the frozen
// configuration of a snapshot. The processor fields, the area list, and the
// full operation set change together or not at all.
func (s *PostgresStore) ReplacePlaybook(ctx context.Context, processorID, snapshotID string, config PlaybookConfig) error {
	areasJSON, err := json.Marshal(config.Areas)
	if err != nil {
		return fmt.Errorf("encode area configuration: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace playbook: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE processors
		SET name=$2, description=$3, area_configuration=$4::jsonb, loaded_snapshot_id=$5, updated_at=NOW()
		WHERE id=$1
	`, processorID, config.ProcessorName, config.Description, string(areasJSON), snapshotID)
	if err != nil {
		return fmt.Errorf("replace processor fields: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace processor rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE processor_id=$1`, processorID); err != nil {
		return fmt.Errorf("clear operations: %w", err)
	}
	// The frozen operation IDs are restored as-is so results and history
	// recorded against them stay resolvable. The delete above cleared any
	// row that could collide.
	for _, op := range config.Operations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO operations (id, processor_id, area, name, operation_type, prompt, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, op.ID, processorID, op.Area, op.Name, op.OperationType, op.Prompt, op.Position); err != nil {
			return fmt.Errorf("restore operation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace playbook: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
)

// TransitionRepository implements port.TransitionRepository.
// The table is append-only.
type TransitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTransitionRepository creates a new transition repository
func NewTransitionRepository(db *sql.DB, logger *zap.Logger) port.TransitionRepository {
	return &TransitionRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an audit record
func (r *TransitionRepository) Create(ctx context.Context, record *entity.TransitionRecord) error {
	query := `
		INSERT INTO transition_history (
			entity_type, entity_id, from_status, to_status,
			action, actor, reason, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := executor(ctx, r.db).ExecContext(ctx, query,
		record.EntityType,
		record.EntityID,
		record.FromStatus,
		record.ToStatus,
		record.Action,
		record.Actor,
		record.Reason,
		record.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to create transition record",
			zap.String("entity_type", record.EntityType),
			zap.Int64("entity_id", record.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to create transition record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	record.ID = id
	return nil
}

// ListByEntity returns the audit trail of an entity in insertion order
func (r *TransitionRepository) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.TransitionRecord, error) {
	query := `
		SELECT id, entity_type, entity_id, from_status, to_status,
			action, actor, reason, timestamp
		FROM transition_history
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY id ASC
	`

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		r.logger.Error("Failed to list transition records", zap.String("entity_type", entityType), zap.Int64("entity_id", entityID), zap.Error(err))
		return nil, fmt.Errorf("failed to list transition records: %w", err)
	}
	defer rows.Close()

	records := []*entity.TransitionRecord{}
	for rows.Next() {
		var record entity.TransitionRecord
		if err := rows.Scan(
			&record.ID,
			&record.EntityType,
			&record.EntityID,
			&record.FromStatus,
			&record.ToStatus,
			&record.Action,
			&record.Actor,
			&record.Reason,
			&record.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transition record: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// Verify interface compliance
var _ port.TransitionRepository = (*TransitionRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
)

const billingColumns = `id, report_id, reference, method, amount, due_date, status,
	installment_count, installment_values, customer_id, charge_id,
	payment_url, pix_code, boleto_url, degraded, degraded_reason,
	last_synced_at, created_at, updated_at`

// BillingRepository implements port.BillingRepository
type BillingRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBillingRepository creates a new billing repository
func NewBillingRepository(db *sql.DB, logger *zap.Logger) port.BillingRepository {
	return &BillingRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a billing record; a second record for the same report is refused
func (r *BillingRepository) Create(ctx context.Context, record *entity.BillingRecord) error {
	installments, err := toJSON(record.InstallmentValues)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO billing_records (
			report_id, reference, method, amount, due_date, status,
			installment_count, installment_values, customer_id, charge_id,
			payment_url, pix_code, boleto_url, degraded, degraded_reason,
			last_synced_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := executor(ctx, r.db).ExecContext(ctx, query,
		record.ReportID,
		record.Reference,
		record.Method,
		record.Amount,
		record.DueDate,
		record.Status,
		record.InstallmentCount,
		installments,
		record.CustomerID,
		record.ChargeID,
		record.PaymentURL,
		record.PixCode,
		record.BoletoURL,
		record.Degraded,
		record.DegradedReason,
		nullTime(record.LastSyncedAt),
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Wrap(errs.KindAlreadyBilled, err, "damage report %d already has a billing record", record.ReportID)
		}
		r.logger.Error("Failed to create billing record", zap.String("reference", record.Reference), zap.Error(err))
		return fmt.Errorf("failed to create billing record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	record.ID = id
	return nil
}

// GetByReference retrieves a billing record by its reference
func (r *BillingRepository) GetByReference(ctx context.Context, reference string) (*entity.BillingRecord, error) {
	query := `SELECT ` + billingColumns + ` FROM billing_records WHERE reference = ?`

	record, err := scanBilling(executor(ctx, r.db).QueryRowContext(ctx, query, reference))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get billing record", zap.String("reference", reference), zap.Error(err))
		return nil, fmt.Errorf("failed to get billing record: %w", err)
	}
	return record, nil
}

// GetByReportID retrieves the billing record of a damage report
func (r *BillingRepository) GetByReportID(ctx context.Context, reportID int64) (*entity.BillingRecord, error) {
	query := `SELECT ` + billingColumns + ` FROM billing_records WHERE report_id = ?`

	record, err := scanBilling(executor(ctx, r.db).QueryRowContext(ctx, query, reportID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get billing record by report", zap.Int64("report_id", reportID), zap.Error(err))
		return nil, fmt.Errorf("failed to get billing record: %w", err)
	}
	return record, nil
}

// ListPendingRemote lists pending records that have a gateway charge, least recently synced first
func (r *BillingRepository) ListPendingRemote(ctx context.Context, limit int) ([]*entity.BillingRecord, error) {
	query := `SELECT ` + billingColumns + ` FROM billing_records
		WHERE status = ? AND charge_id != ''
		ORDER BY last_synced_at ASC
		LIMIT ?`

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, entity.BillingStatusPending, limit)
	if err != nil {
		r.logger.Error("Failed to list pending billing records", zap.Error(err))
		return nil, fmt.Errorf("failed to list billing records: %w", err)
	}
	defer rows.Close()

	records := []*entity.BillingRecord{}
	for rows.Next() {
		record, err := scanBilling(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan billing record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// UpdateStatus stores a new cached status and stamps the sync time
func (r *BillingRepository) UpdateStatus(ctx context.Context, id int64, status entity.BillingStatus) error {
	now := time.Now().UTC()
	query := `UPDATE billing_records SET status = ?, last_synced_at = ?, updated_at = ? WHERE id = ?`

	result, err := executor(ctx, r.db).ExecContext(ctx, query, status, now, now, id)
	if err != nil {
		r.logger.Error("Failed to update billing status", zap.Int64("id", id), zap.String("status", string(status)), zap.Error(err))
		return fmt.Errorf("failed to update billing status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return errs.NotFound("billing record", id)
	}
	return nil
}

func scanBilling(row rowScanner) (*entity.BillingRecord, error) {
	var (
		record       entity.BillingRecord
		installments string
		lastSynced   sql.NullTime
	)

	err := row.Scan(
		&record.ID,
		&record.ReportID,
		&record.Reference,
		&record.Method,
		&record.Amount,
		&record.DueDate,
		&record.Status,
		&record.InstallmentCount,
		&installments,
		&record.CustomerID,
		&record.ChargeID,
		&record.PaymentURL,
		&record.PixCode,
		&record.BoletoURL,
		&record.Degraded,
		&record.DegradedReason,
		&lastSynced,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.InstallmentValues = []decimal.Decimal{}
	if err := fromJSON(installments, &record.InstallmentValues); err != nil {
		return nil, err
	}
	record.LastSyncedAt = timePtr(lastSynced)
	return &record, nil
}

// Verify interface compliance
var _ port.BillingRepository = (*BillingRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
)

const reportColumns = `id, rental_id, previous_report_id, damages, total_cost, status, created_by,
	submitted_at, approved_at, approved_by, approval_notes,
	rejected_at, rejected_by, rejection_reason, rejection_category,
	billing_reference, billing_method, billing_amount, billing_due_date,
	billing_installments, billing_discount_pct, billing_fees,
	created_at, updated_at, version`

// DamageReportRepository implements port.DamageReportRepository
type DamageReportRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDamageReportRepository creates a new damage report repository
func NewDamageReportRepository(db *sql.DB, logger *zap.Logger) port.DamageReportRepository {
	return &DamageReportRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new report at version 1
func (r *DamageReportRepository) Create(ctx context.Context, report *entity.DamageReport) error {
	damages, err := toJSON(report.Damages)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO damage_reports (
			rental_id, previous_report_id, damages, total_cost, status, created_by,
			created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
	`

	result, err := executor(ctx, r.db).ExecContext(ctx, query,
		report.RentalID,
		nullInt64(report.PreviousReportID),
		damages,
		report.TotalCost,
		report.Status,
		report.CreatedBy,
		report.CreatedAt,
		report.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create damage report", zap.Int64("rental_id", report.RentalID), zap.Error(err))
		return fmt.Errorf("failed to create damage report: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	report.ID = id
	report.Version = 1
	return nil
}

// GetByID retrieves a report by ID, nil when absent
func (r *DamageReportRepository) GetByID(ctx context.Context, id int64) (*entity.DamageReport, error) {
	query := `SELECT ` + reportColumns + ` FROM damage_reports WHERE id = ?`

	report, err := scanReport(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get damage report", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get damage report: %w", err)
	}
	return report, nil
}

// GetOpenByRentalID returns the draft, submitted or approved report of a rental
func (r *DamageReportRepository) GetOpenByRentalID(ctx context.Context, rentalID int64) (*entity.DamageReport, error) {
	query := `SELECT ` + reportColumns + ` FROM damage_reports
		WHERE rental_id = ? AND status NOT IN (?, ?)
		ORDER BY id DESC LIMIT 1`

	report, err := scanReport(executor(ctx, r.db).QueryRowContext(ctx, query,
		rentalID, entity.ReportStatusRejected, entity.ReportStatusBilled))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get open damage report", zap.Int64("rental_id", rentalID), zap.Error(err))
		return nil, fmt.Errorf("failed to get open damage report: %w", err)
	}
	return report, nil
}

// ListByRentalID lists every report of a rental, oldest first
func (r *DamageReportRepository) ListByRentalID(ctx context.Context, rentalID int64) ([]*entity.DamageReport, error) {
	query := `SELECT ` + reportColumns + ` FROM damage_reports WHERE rental_id = ? ORDER BY id ASC`

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, rentalID)
	if err != nil {
		r.logger.Error("Failed to list damage reports", zap.Int64("rental_id", rentalID), zap.Error(err))
		return nil, fmt.Errorf("failed to list damage reports: %w", err)
	}
	defer rows.Close()

	reports := []*entity.DamageReport{}
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan damage report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// Update writes the report if its version still matches and bumps the version
func (r *DamageReportRepository) Update(ctx context.Context, report *entity.DamageReport) error {
	damages, err := toJSON(report.Damages)
	if err != nil {
		return err
	}
	fees, err := toJSON(report.BillingFees)
	if err != nil {
		return err
	}

	query := `
		UPDATE damage_reports SET
			damages = ?, total_cost = ?, status = ?,
			submitted_at = ?, approved_at = ?, approved_by = ?, approval_notes = ?,
			rejected_at = ?, rejected_by = ?, rejection_reason = ?, rejection_category = ?,
			billing_reference = ?, billing_method = ?, billing_amount = ?, billing_due_date = ?,
			billing_installments = ?, billing_discount_pct = ?, billing_fees = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := executor(ctx, r.db).ExecContext(ctx, query,
		damages,
		report.TotalCost,
		report.Status,
		nullTime(report.SubmittedAt),
		nullTime(report.ApprovedAt),
		report.ApprovedBy,
		report.ApprovalNotes,
		nullTime(report.RejectedAt),
		report.RejectedBy,
		report.RejectionReason,
		report.RejectionCategory,
		sql.NullString{String: report.BillingReference, Valid: report.BillingReference != ""},
		report.BillingMethod,
		report.BillingAmount,
		nullTime(report.BillingDueDate),
		report.BillingInstallments,
		report.BillingDiscountPct,
		fees,
		report.UpdatedAt,
		report.ID,
		report.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Wrap(errs.KindAlreadyBilled, err, "billing reference %s already used", report.BillingReference)
		}
		r.logger.Error("Failed to update damage report", zap.Int64("id", report.ID), zap.Error(err))
		return fmt.Errorf("failed to update damage report: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return errs.New(errs.KindConflict, "damage report %d was modified concurrently (version %d)", report.ID, report.Version)
	}

	report.Version++
	return nil
}

func scanReport(row rowScanner) (*entity.DamageReport, error) {
	var (
		report           entity.DamageReport
		previousID       sql.NullInt64
		damages, fees    string
		billingReference sql.NullString
		submittedAt      sql.NullTime
		approvedAt       sql.NullTime
		rejectedAt       sql.NullTime
		billingDue       sql.NullTime
	)

	err := row.Scan(
		&report.ID,
		&report.RentalID,
		&previousID,
		&damages,
		&report.TotalCost,
		&report.Status,
		&report.CreatedBy,
		&submittedAt,
		&approvedAt,
		&report.ApprovedBy,
		&report.ApprovalNotes,
		&rejectedAt,
		&report.RejectedBy,
		&report.RejectionReason,
		&report.RejectionCategory,
		&billingReference,
		&report.BillingMethod,
		&report.BillingAmount,
		&billingDue,
		&report.BillingInstallments,
		&report.BillingDiscountPct,
		&fees,
		&report.CreatedAt,
		&report.UpdatedAt,
		&report.Version,
	)
	if err != nil {
		return nil, err
	}

	report.Damages = []entity.DamageLine{}
	if err := fromJSON(damages, &report.Damages); err != nil {
		return nil, err
	}
	if err := fromJSON(fees, &report.BillingFees); err != nil {
		return nil, err
	}
	report.PreviousReportID = int64Ptr(previousID)
	report.BillingReference = billingReference.String
	report.SubmittedAt = timePtr(submittedAt)
	report.ApprovedAt = timePtr(approvedAt)
	report.RejectedAt = timePtr(rejectedAt)
	report.BillingDueDate = timePtr(billingDue)
	return &report, nil
}

// Verify interface compliance
var _ port.DamageReportRepository = (*DamageReportRepository)(nil)

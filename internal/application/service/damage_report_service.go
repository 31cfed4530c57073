package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/application/workflow"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
	"github.com/equiprent/rental-workflow/internal/domain/event"
	domainwf "github.com/equiprent/rental-workflow/internal/domain/workflow"
)

// BillingTerms is what MarkBilled stamps onto an approved report
type BillingTerms struct {
	Reference    string
	Method       entity.BillingMethod
	Amount       decimal.Decimal
	DueDate      time.Time
	Installments int
	DiscountPct  decimal.Decimal
	Fees         []entity.Fee
}

// DamageReportService manages the damage report approval flow
type DamageReportService interface {
	Create(ctx context.Context, rentalID int64, creator string) (*entity.DamageReport, error)
	Get(ctx context.Context, reportID int64) (*entity.DamageReport, error)
	ListByRental(ctx context.Context, rentalID int64) ([]*entity.DamageReport, error)
	AddDamage(ctx context.Context, reportID int64, line entity.DamageLine, expectedVersion int64) (*entity.DamageReport, error)
	RemoveDamage(ctx context.Context, reportID int64, lineID string, expectedVersion int64) (*entity.DamageReport, error)
	Submit(ctx context.Context, reportID int64, actor string, expectedVersion int64) (*entity.DamageReport, error)
	Approve(ctx context.Context, reportID int64, approver, notes string, expectedVersion int64) (*entity.DamageReport, error)
	Reject(ctx context.Context, reportID int64, rejecter, reason, category string, expectedVersion int64) (*entity.DamageReport, error)

	// MarkBilled is the one-shot gate from approved to billed
	MarkBilled(ctx context.Context, reportID int64, terms BillingTerms, actor string) (*entity.DamageReport, error)

	// Resubmit opens a new draft carrying over the lines of a rejected report
	Resubmit(ctx context.Context, rejectedReportID int64, creator string) (*entity.DamageReport, error)
}

type damageReportServiceImpl struct {
	orderRepo      port.OrderRepository
	reportRepo     port.DamageReportRepository
	transitionRepo port.TransitionRepository
	txManager      port.TransactionManager
	logger         Logger
	opts           options
}

// NewDamageReportService creates a new DamageReportService
func NewDamageReportService(
	orderRepo port.OrderRepository,
	reportRepo port.DamageReportRepository,
	transitionRepo port.TransitionRepository,
	txManager port.TransactionManager,
	logger Logger,
	opts ...Option,
) DamageReportService {
	return &damageReportServiceImpl{
		orderRepo:      orderRepo,
		reportRepo:     reportRepo,
		transitionRepo: transitionRepo,
		txManager:      txManager,
		logger:         logger,
		opts:           newOptions(opts),
	}
}

// Create opens a draft report for an order under inspection
func (s *damageReportServiceImpl) Create(ctx context.Context, rentalID int64, creator string) (*entity.DamageReport, error) {
	var report *entity.DamageReport

	err := workflow.WithEntityLock(ctx, s.opts.locker, workflow.OrderLockKey(rentalID), func(ctx context.Context) error {
		return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := s.requireOpenable(txCtx, rentalID); err != nil {
				return err
			}

			now := s.opts.clock()
			report = &entity.DamageReport{
				RentalID:  rentalID,
				Damages:   []entity.DamageLine{},
				TotalCost: decimal.Zero,
				Status:    entity.ReportStatusDraft,
				CreatedBy: creator,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.reportRepo.Create(txCtx, report); err != nil {
				return fmt.Errorf("failed to create damage report: %w", err)
			}
			return s.audit(txCtx, report.ID, "", entity.ReportStatusDraft, "CREATE", creator, "")
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Damage report created", "report_id", report.ID, "rental_id", rentalID, "created_by", creator)
	return report, nil
}

// Get returns a report by id
func (s *damageReportServiceImpl) Get(ctx context.Context, reportID int64) (*entity.DamageReport, error) {
	return s.load(ctx, reportID)
}

// ListByRental returns all reports of a rental, oldest first
func (s *damageReportServiceImpl) ListByRental(ctx context.Context, rentalID int64) ([]*entity.DamageReport, error) {
	reports, err := s.reportRepo.ListByRentalID(ctx, rentalID)
	if err != nil {
		return nil, fmt.Errorf("list damage reports: %w", err)
	}
	return reports, nil
}

// AddDamage appends a line to a draft report
func (s *damageReportServiceImpl) AddDamage(ctx context.Context, reportID int64, line entity.DamageLine, expectedVersion int64) (*entity.DamageReport, error) {
	if err := validateLine(line); err != nil {
		return nil, err
	}

	return s.mutate(ctx, reportID, expectedVersion, func(r *entity.DamageReport) (domainwf.Trigger, error) {
		if r.Status != entity.ReportStatusDraft {
			return "", errs.New(errs.KindInvalidTransition, "damage report %d is %s, lines can only change in draft", r.ID, r.Status)
		}
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		if line.ReportedAt.IsZero() {
			line.ReportedAt = s.opts.clock()
		}
		r.Damages = append(r.Damages, line)
		r.RecomputeTotal()
		return "", nil
	})
}

// RemoveDamage removes a line from a draft report
func (s *damageReportServiceImpl) RemoveDamage(ctx context.Context, reportID int64, lineID string, expectedVersion int64) (*entity.DamageReport, error) {
	return s.mutate(ctx, reportID, expectedVersion, func(r *entity.DamageReport) (domainwf.Trigger, error) {
		if r.Status != entity.ReportStatusDraft {
			return "", errs.New(errs.KindInvalidTransition, "damage report %d is %s, lines can only change in draft", r.ID, r.Status)
		}
		idx := r.FindLine(lineID)
		if idx < 0 {
			return "", errs.NotFound("damage line", lineID)
		}
		r.Damages = append(r.Damages[:idx], r.Damages[idx+1:]...)
		r.RecomputeTotal()
		return "", nil
	})
}

// Submit sends a complete draft for approval
func (s *damageReportServiceImpl) Submit(ctx context.Context, reportID int64, actor string, expectedVersion int64) (*entity.DamageReport, error) {
	return s.mutate(ctx, reportID, expectedVersion, func(r *entity.DamageReport) (domainwf.Trigger, error) {
		if r.Status == entity.ReportStatusDraft {
			if err := checkComplete(r); err != nil {
				return "", err
			}
		}
		if err := s.fire(r, domainwf.TriggerSubmit); err != nil {
			return "", err
		}
		now := s.opts.clock()
		r.SubmittedAt = &now
		return domainwf.TriggerSubmit, nil
	}, withActor(actor))
}

// Approve accepts a submitted report
func (s *damageReportServiceImpl) Approve(ctx context.Context, reportID int64, approver, notes string, expectedVersion int64) (*entity.DamageReport, error) {
	return s.mutate(ctx, reportID, expectedVersion, func(r *entity.DamageReport) (domainwf.Trigger, error) {
		if err := s.fire(r, domainwf.TriggerApprove); err != nil {
			return "", err
		}
		now := s.opts.clock()
		r.ApprovedAt = &now
		r.ApprovedBy = approver
		r.ApprovalNotes = notes
		return domainwf.TriggerApprove, nil
	}, withActor(approver), withReason(notes))
}

// Reject refuses a submitted report; the reason is mandatory
func (s *damageReportServiceImpl) Reject(ctx context.Context, reportID int64, rejecter, reason, category string, expectedVersion int64) (*entity.DamageReport, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, errs.New(errs.KindValidation, "rejection reason is required")
	}

	return s.mutate(ctx, reportID, expectedVersion, func(r *entity.DamageReport) (domainwf.Trigger, error) {
		if err := s.fire(r, domainwf.TriggerReject); err != nil {
			return "", err
		}
		now := s.opts.clock()
		r.RejectedAt = &now
		r.RejectedBy = rejecter
		r.RejectionReason = reason
		r.RejectionCategory = category
		return domainwf.TriggerReject, nil
	}, withActor(rejecter), withReason(reason))
}

// MarkBilled moves an approved report to billed exactly once
func (s *damageReportServiceImpl) MarkBilled(ctx context.Context, reportID int64, terms BillingTerms, actor string) (*entity.DamageReport, error) {
	return s.mutate(ctx, reportID, 0, func(r *entity.DamageReport) (domainwf.Trigger, error) {
		if err := checkBillable(r); err != nil {
			return "", err
		}
		if err := s.fire(r, domainwf.TriggerBill); err != nil {
			return "", err
		}
		due := terms.DueDate
		r.BillingReference = terms.Reference
		r.BillingMethod = terms.Method
		r.BillingAmount = terms.Amount
		r.BillingDueDate = &due
		r.BillingInstallments = terms.Installments
		r.BillingDiscountPct = terms.DiscountPct
		r.BillingFees = append([]entity.Fee(nil), terms.Fees...)
		return domainwf.TriggerBill, nil
	}, withActor(actor), withReason(terms.Reference))
}

// checkBillable rejects a second billing attempt with AlreadyBilled and any
// other non-approved report with InvalidTransition
func checkBillable(r *entity.DamageReport) error {
	if r.BillingReference != "" || r.Status == entity.ReportStatusBilled {
		return errs.New(errs.KindAlreadyBilled, "damage report %d is already billed as %s", r.ID, r.BillingReference)
	}
	if r.Status != entity.ReportStatusApproved {
		return errs.New(errs.KindInvalidTransition, "damage report %d is %s, only approved reports can be billed", r.ID, r.Status)
	}
	return nil
}

// Resubmit creates a new draft from a rejected report
func (s *damageReportServiceImpl) Resubmit(ctx context.Context, rejectedReportID int64, creator string) (*entity.DamageReport, error) {
	previous, err := s.load(ctx, rejectedReportID)
	if err != nil {
		return nil, err
	}
	if previous.Status != entity.ReportStatusRejected {
		return nil, errs.New(errs.KindInvalidTransition, "only rejected reports can be resubmitted, report %d is %s", previous.ID, previous.Status)
	}

	var report *entity.DamageReport
	err = workflow.WithEntityLock(ctx, s.opts.locker, workflow.OrderLockKey(previous.RentalID), func(ctx context.Context) error {
		return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := s.requireOpenable(txCtx, previous.RentalID); err != nil {
				return err
			}

			now := s.opts.clock()
			prevID := previous.ID
			report = previous.Clone()
			report.ID = 0
			report.PreviousReportID = &prevID
			report.Status = entity.ReportStatusDraft
			report.CreatedBy = creator
			report.CreatedAt = now
			report.UpdatedAt = now
			report.Version = 0
			report.SubmittedAt = nil
			report.ApprovedAt, report.ApprovedBy, report.ApprovalNotes = nil, "", ""
			report.RejectedAt, report.RejectedBy, report.RejectionReason, report.RejectionCategory = nil, "", "", ""
			report.RecomputeTotal()

			if err := s.reportRepo.Create(txCtx, report); err != nil {
				return fmt.Errorf("failed to create resubmitted report: %w", err)
			}
			return s.audit(txCtx, report.ID, "", entity.ReportStatusDraft, "RESUBMIT", creator, fmt.Sprintf("resubmission of report %d", prevID))
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Damage report resubmitted", "report_id", report.ID, "previous_report_id", previous.ID)
	return report, nil
}

// mutateConfig carries audit metadata for a mutation
type mutateConfig struct {
	actor  string
	reason string
}

type mutateOption func(*mutateConfig)

func withActor(actor string) mutateOption {
	return func(c *mutateConfig) { c.actor = actor }
}

func withReason(reason string) mutateOption {
	return func(c *mutateConfig) { c.reason = reason }
}

// mutate loads a report under its lock, applies fn to a copy and persists it.
// A non-empty trigger from fn means the status changed and is audited.
func (s *damageReportServiceImpl) mutate(
	ctx context.Context,
	reportID int64,
	expectedVersion int64,
	fn func(r *entity.DamageReport) (domainwf.Trigger, error),
	mopts ...mutateOption,
) (*entity.DamageReport, error) {
	cfg := mutateConfig{}
	for _, o := range mopts {
		o(&cfg)
	}

	var (
		updated *entity.DamageReport
		from    entity.ReportStatus
		trigger domainwf.Trigger
	)

	err := workflow.WithEntityLock(ctx, s.opts.locker, workflow.ReportLockKey(reportID), func(ctx context.Context) error {
		return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			current, err := s.load(txCtx, reportID)
			if err != nil {
				return err
			}
			if expectedVersion != 0 && expectedVersion != current.Version {
				return errs.New(errs.KindConflict, "damage report %d is at version %d, expected %d", current.ID, current.Version, expectedVersion)
			}

			from = current.Status
			next := current.Clone()
			trigger, err = fn(next)
			if err != nil {
				return err
			}
			next.UpdatedAt = s.opts.clock()

			if err := s.reportRepo.Update(txCtx, next); err != nil {
				return fmt.Errorf("failed to update damage report %d: %w", reportID, err)
			}
			if trigger != "" {
				if err := s.audit(txCtx, next.ID, from, next.Status, trigger.String(), cfg.actor, cfg.reason); err != nil {
					return err
				}
			}

			updated = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if trigger != "" {
		s.logger.Info("Damage report status changed",
			"report_id", updated.ID,
			"from", from,
			"to", updated.Status,
			"actor", cfg.actor,
		)
		s.opts.emit(ctx, event.NewEvent(event.TypeDamageReportStatusChanged, entity.EntityTypeDamageReport, updated.ID, map[string]interface{}{
			"rental_id":       updated.RentalID,
			"previous_status": string(from),
			"new_status":      string(updated.Status),
			"actor":           cfg.actor,
			"total_cost":      updated.TotalCost.StringFixed(2),
		}))
	}

	return updated, nil
}

func (s *damageReportServiceImpl) fire(r *entity.DamageReport, trigger domainwf.Trigger) error {
	machine := workflow.BuildDamageReportStateMachine(r.Status)
	if err := machine.Fire(context.Background(), trigger); err != nil {
		if errors.Is(err, domainwf.ErrInvalidTransition) {
			return errs.Wrap(errs.KindInvalidTransition, err, "damage report %d cannot %s from %s", r.ID, strings.ToLower(trigger.String()), r.Status)
		}
		return err
	}
	r.Status = entity.ReportStatus(machine.State())
	return nil
}

func (s *damageReportServiceImpl) load(ctx context.Context, reportID int64) (*entity.DamageReport, error) {
	report, err := s.reportRepo.GetByID(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch damage report %d: %w", reportID, err)
	}
	if report == nil {
		return nil, errs.NotFound("damage report", reportID)
	}
	return report, nil
}

// requireOpenable checks the order is under inspection and has no open report
func (s *damageReportServiceImpl) requireOpenable(ctx context.Context, rentalID int64) error {
	order, err := s.orderRepo.GetByID(ctx, rentalID)
	if err != nil {
		return fmt.Errorf("failed to fetch order %d: %w", rentalID, err)
	}
	if order == nil {
		return errs.NotFound("order", rentalID)
	}
	if order.Status != entity.OrderStatusConferencia {
		return errs.New(errs.KindInvalidTransition, "damage reports can only be opened in conferencia, order %d is %s", rentalID, order.Status)
	}

	open, err := s.reportRepo.GetOpenByRentalID(ctx, rentalID)
	if err != nil {
		return fmt.Errorf("failed to check open damage reports: %w", err)
	}
	if open != nil {
		return errs.New(errs.KindConflict, "order %d already has open damage report %d", rentalID, open.ID)
	}
	return nil
}

func (s *damageReportServiceImpl) audit(ctx context.Context, reportID int64, from, to entity.ReportStatus, action, actor, reason string) error {
	record := &entity.TransitionRecord{
		EntityType: entity.EntityTypeDamageReport,
		EntityID:   reportID,
		FromStatus: string(from),
		ToStatus:   string(to),
		Action:     action,
		Actor:      actor,
		Reason:     reason,
		Timestamp:  s.opts.clock(),
	}
	if err := s.transitionRepo.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to create transition record: %w", err)
	}
	return nil
}

func validateLine(line entity.DamageLine) error {
	switch line.Severity {
	case entity.SeverityLow, entity.SeverityMedium, entity.SeverityHigh, entity.SeverityCritical:
	default:
		return errs.New(errs.KindValidation, "unknown severity %q", line.Severity)
	}
	switch line.Category {
	case entity.CategoryStructural, entity.CategoryFunctional, entity.CategoryAesthetic, entity.CategoryMissing:
	default:
		return errs.New(errs.KindValidation, "unknown damage category %q", line.Category)
	}
	if line.RepairCost.IsNegative() {
		return errs.New(errs.KindValidation, "repair cost cannot be negative")
	}
	return nil
}

// checkComplete enforces the submission preconditions
func checkComplete(r *entity.DamageReport) error {
	if len(r.Damages) == 0 {
		return errs.New(errs.KindIncompleteReport, "damage report %d has no damage lines", r.ID)
	}
	for _, l := range r.Damages {
		if strings.TrimSpace(l.Description) == "" {
			return errs.New(errs.KindIncompleteReport, "damage line %s has no description", l.ID)
		}
		if !l.RepairCost.IsPositive() {
			return errs.New(errs.KindIncompleteReport, "damage line %s has no repair cost", l.ID)
		}
	}
	return nil
}

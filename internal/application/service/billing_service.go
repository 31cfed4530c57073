package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/application/workflow"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
	"github.com/equiprent/rental-workflow/internal/domain/event"
	"github.com/equiprent/rental-workflow/internal/domain/money"
	"github.com/equiprent/rental-workflow/pkg/utils"
)

// BillingParams are the terms chosen when billing an approved report
type BillingParams struct {
	Method       entity.BillingMethod `json:"method" validate:"required,oneof=pix boleto credit_card bank_transfer manual"`
	DiscountPct  decimal.Decimal      `json:"discount_pct" validate:"gte=0,lte=100"`
	Fees         []entity.Fee         `json:"fees"`
	Installments int                  `json:"installments" validate:"omitempty,min=1,max=12"`
	DueDate      *time.Time           `json:"due_date"`
}

// BillingResult is the outcome of GenerateBilling. Degraded results are
// successful: the record exists offline and operators have been alerted.
type BillingResult struct {
	Record   *entity.BillingRecord `json:"record"`
	Report   *entity.DamageReport  `json:"report"`
	Degraded bool                  `json:"degraded"`
	Message  string                `json:"message,omitempty"`
}

// BillingConfig tunes billing defaults
type BillingConfig struct {
	DefaultDueDays    int
	OfflinePaymentURL string
}

// Gateway payment status vocabulary
var gatewayStatusMap = map[string]entity.BillingStatus{
	"CONFIRMED":        entity.BillingStatusPaid,
	"RECEIVED":         entity.BillingStatusPaid,
	"RECEIVED_IN_CASH": entity.BillingStatusPaid,
	"OVERDUE":          entity.BillingStatusOverdue,
	"REFUNDED":         entity.BillingStatusCancelled,
	"REFUND_REQUESTED": entity.BillingStatusCancelled,
	"CANCELLED":        entity.BillingStatusCancelled,
	"DELETED":          entity.BillingStatusCancelled,
	"PENDING":          entity.BillingStatusPending,
}

// MapGatewayStatus translates a gateway payment status; ok is false when unknown
func MapGatewayStatus(remote string) (entity.BillingStatus, bool) {
	remote = strings.ToUpper(strings.TrimSpace(remote))
	if s, ok := gatewayStatusMap[remote]; ok {
		return s, true
	}
	if strings.HasPrefix(remote, "AWAITING") {
		return entity.BillingStatusPending, true
	}
	return "", false
}

// BillingService turns approved damage reports into charges
type BillingService interface {
	GenerateBilling(ctx context.Context, reportID int64, params BillingParams, actor string) (*BillingResult, error)
	GetBillingStatus(ctx context.Context, reference string) (*entity.BillingRecord, error)

	// RefreshStatus pulls the gateway status; concurrent calls for one reference share a single fetch
	RefreshStatus(ctx context.Context, reference string) (*entity.BillingRecord, error)

	// ApplyRemoteStatus folds a pushed gateway status into the local record
	ApplyRemoteStatus(ctx context.Context, reference, remoteStatus string) (*entity.BillingRecord, error)

	// RefreshPending refreshes up to limit pending gateway records and returns how many changed
	RefreshPending(ctx context.Context, limit int) (int, error)
}

type billingServiceImpl struct {
	orderRepo      port.OrderRepository
	reportRepo     port.DamageReportRepository
	billingRepo    port.BillingRepository
	transitionRepo port.TransitionRepository
	txManager      port.TransactionManager
	reports        DamageReportService
	gateway        port.PaymentGateway
	notifier       port.OperatorNotifier
	cfg            BillingConfig
	logger         Logger
	opts           options

	refreshGroup singleflight.Group
}

// NewBillingService creates a new BillingService
func NewBillingService(
	orderRepo port.OrderRepository,
	reportRepo port.DamageReportRepository,
	billingRepo port.BillingRepository,
	transitionRepo port.TransitionRepository,
	txManager port.TransactionManager,
	reports DamageReportService,
	gateway port.PaymentGateway,
	notifier port.OperatorNotifier,
	cfg BillingConfig,
	logger Logger,
	opts ...Option,
) BillingService {
	if cfg.DefaultDueDays <= 0 {
		cfg.DefaultDueDays = 3
	}
	return &billingServiceImpl{
		orderRepo:      orderRepo,
		reportRepo:     reportRepo,
		billingRepo:    billingRepo,
		transitionRepo: transitionRepo,
		txManager:      txManager,
		reports:        reports,
		gateway:        gateway,
		notifier:       notifier,
		cfg:            cfg,
		logger:         logger,
		opts:           newOptions(opts),
	}
}

// GenerateBilling bills an approved report exactly once
func (s *billingServiceImpl) GenerateBilling(ctx context.Context, reportID int64, params BillingParams, actor string) (*BillingResult, error) {
	if err := utils.ValidateStruct(params); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid billing parameters")
	}
	if params.Installments == 0 {
		params.Installments = money.MinInstallments
	}

	var result *BillingResult
	err := workflow.WithEntityLock(ctx, s.opts.locker, workflow.ReportLockKey(reportID), func(ctx context.Context) error {
		report, err := s.reportRepo.GetByID(ctx, reportID)
		if err != nil {
			return fmt.Errorf("failed to fetch damage report %d: %w", reportID, err)
		}
		if report == nil {
			return errs.NotFound("damage report", reportID)
		}
		if err := checkBillable(report); err != nil {
			return err
		}

		amount, err := money.ComputeFinalAmount(report.TotalCost, params.DiscountPct, params.Fees)
		if err != nil {
			return err
		}
		installments, err := money.SplitInstallments(amount, params.Installments)
		if err != nil {
			return err
		}

		order, err := s.orderRepo.GetByID(ctx, report.RentalID)
		if err != nil {
			return fmt.Errorf("failed to fetch order %d: %w", report.RentalID, err)
		}
		if order == nil {
			return errs.NotFound("order", report.RentalID)
		}

		now := s.opts.clock()
		dueDate := now.AddDate(0, 0, s.cfg.DefaultDueDays)
		if params.DueDate != nil {
			dueDate = params.DueDate.UTC()
		}

		record := &entity.BillingRecord{
			ReportID:          reportID,
			Reference:         entity.BillingReference(reportID, now),
			Method:            params.Method,
			Amount:            amount,
			DueDate:           dueDate,
			Status:            entity.BillingStatusPending,
			InstallmentCount:  params.Installments,
			InstallmentValues: installments,
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		result = &BillingResult{Record: record}
		if params.Method.UsesGateway() {
			if err := s.charge(ctx, order, report, record); err != nil {
				s.degrade(record, err)
				result.Degraded = true
				result.Message = "payment gateway unavailable, billing recorded offline"
			} else {
				record.LastSyncedAt = &now
			}
		}

		err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			billed, err := s.reports.MarkBilled(txCtx, reportID, BillingTerms{
				Reference:    record.Reference,
				Method:       record.Method,
				Amount:       record.Amount,
				DueDate:      record.DueDate,
				Installments: record.InstallmentCount,
				DiscountPct:  params.DiscountPct,
				Fees:         params.Fees,
			}, actor)
			if err != nil {
				return err
			}
			result.Report = billed

			if err := s.billingRepo.Create(txCtx, record); err != nil {
				return fmt.Errorf("failed to create billing record: %w", err)
			}
			return s.audit(txCtx, record.ID, "", record.Status, "GENERATE", actor, record.Reference)
		})
		if err != nil && record.ChargeID != "" {
			s.logger.Error("Remote charge left without local billing record",
				"report_id", reportID,
				"reference", record.Reference,
				"charge_id", record.ChargeID,
				"error", err,
			)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	record := result.Record
	s.logger.Info("Billing generated",
		"report_id", reportID,
		"reference", record.Reference,
		"method", record.Method,
		"amount", record.Amount.StringFixed(2),
		"degraded", result.Degraded,
	)

	payload := map[string]interface{}{
		"report_id": reportID,
		"reference": record.Reference,
		"method":    string(record.Method),
		"amount":    record.Amount.StringFixed(2),
		"due_date":  record.DueDate.Format("2006-01-02"),
	}
	if result.Degraded {
		payload["reason"] = record.DegradedReason
		s.opts.emit(ctx, event.NewEvent(event.TypeBillingDegraded, entity.EntityTypeBilling, record.ID, payload))
		s.alertOperators(ctx, record)
	} else {
		s.opts.emit(ctx, event.NewEvent(event.TypeBillingGenerated, entity.EntityTypeBilling, record.ID, payload))
	}

	return result, nil
}

// GetBillingStatus returns the locally cached billing record
func (s *billingServiceImpl) GetBillingStatus(ctx context.Context, reference string) (*entity.BillingRecord, error) {
	record, err := s.billingRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch billing %s: %w", reference, err)
	}
	if record == nil {
		return nil, errs.NotFound("billing", reference)
	}
	return record, nil
}

// RefreshStatus pulls the charge status from the gateway
func (s *billingServiceImpl) RefreshStatus(ctx context.Context, reference string) (*entity.BillingRecord, error) {
	v, err, _ := s.refreshGroup.Do(reference, func() (interface{}, error) {
		record, err := s.GetBillingStatus(ctx, reference)
		if err != nil {
			return nil, err
		}
		if !record.HasRemoteCharge() || s.gateway == nil {
			return record, nil
		}

		charge, err := s.gateway.GetCharge(ctx, record.ChargeID)
		if err != nil {
			s.logger.Error("Gateway status fetch failed, keeping last known status",
				"reference", reference,
				"status", record.Status,
				"error", err,
			)
			return record, nil
		}
		return s.apply(ctx, record, charge.Status)
	})
	if err != nil {
		return nil, err
	}
	return v.(*entity.BillingRecord), nil
}

// ApplyRemoteStatus updates the cached status from a pushed notification
func (s *billingServiceImpl) ApplyRemoteStatus(ctx context.Context, reference, remoteStatus string) (*entity.BillingRecord, error) {
	record, err := s.GetBillingStatus(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, record, remoteStatus)
}

// RefreshPending refreshes a batch of pending gateway records
func (s *billingServiceImpl) RefreshPending(ctx context.Context, limit int) (int, error) {
	records, err := s.billingRepo.ListPendingRemote(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending billing records: %w", err)
	}

	changed := 0
	for _, r := range records {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		updated, err := s.RefreshStatus(ctx, r.Reference)
		if err != nil {
			s.logger.Error("Billing refresh failed", "reference", r.Reference, "error", err)
			continue
		}
		if updated.Status != r.Status {
			changed++
		}
	}
	return changed, nil
}

// apply maps and persists a remote status. Unknown statuses and moves out of
// a settled status keep the local one.
func (s *billingServiceImpl) apply(ctx context.Context, record *entity.BillingRecord, remoteStatus string) (*entity.BillingRecord, error) {
	status, ok := MapGatewayStatus(remoteStatus)
	if !ok {
		s.logger.Info("Unknown gateway status, keeping last known status",
			"reference", record.Reference,
			"remote_status", remoteStatus,
			"status", record.Status,
		)
		return record, nil
	}

	var (
		from    entity.BillingStatus
		changed bool
	)
	err := workflow.WithEntityLock(ctx, s.opts.locker, workflow.BillingLockKey(record.Reference), func(ctx context.Context) error {
		current, err := s.GetBillingStatus(ctx, record.Reference)
		if err != nil {
			return err
		}
		record = current
		from = current.Status
		if status == from {
			return nil
		}
		if !from.CanMoveTo(status) {
			s.logger.Info("Gateway status would move a settled record back, keeping last known status",
				"reference", record.Reference,
				"remote_status", remoteStatus,
				"status", from,
			)
			return nil
		}

		err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := s.billingRepo.UpdateStatus(txCtx, record.ID, status); err != nil {
				return fmt.Errorf("failed to update billing status: %w", err)
			}
			return s.audit(txCtx, record.ID, from, status, "SYNC", "payment-gateway", remoteStatus)
		})
		changed = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return record, nil
	}

	updated := *record
	now := s.opts.clock()
	updated.Status = status
	updated.UpdatedAt = now
	updated.LastSyncedAt = &now

	s.logger.Info("Billing status changed", "reference", record.Reference, "from", from, "to", status)
	s.opts.emit(ctx, event.NewEvent(event.TypeBillingStatusChanged, entity.EntityTypeBilling, record.ID, map[string]interface{}{
		"reference":       record.Reference,
		"report_id":       record.ReportID,
		"previous_status": string(from),
		"new_status":      string(status),
		"remote_status":   remoteStatus,
	}))
	return &updated, nil
}

// charge creates the customer and the charge at the gateway
func (s *billingServiceImpl) charge(ctx context.Context, order *entity.RentalOrder, report *entity.DamageReport, record *entity.BillingRecord) error {
	if s.gateway == nil {
		return errs.New(errs.KindCollaboratorUnavailable, "payment gateway not configured")
	}

	customerID, err := s.gateway.FindOrCreateCustomer(ctx, port.CustomerRef{
		Name:     order.CustomerName,
		Document: order.CustomerDocument,
		Email:    order.CustomerEmail,
		Phone:    order.CustomerPhone,
	})
	if err != nil {
		return fmt.Errorf("find or create customer: %w", err)
	}
	record.CustomerID = customerID

	installmentValue := record.Amount
	if record.InstallmentCount > 1 {
		installmentValue, err = money.InstallmentValue(record.Amount, record.InstallmentCount)
		if err != nil {
			return err
		}
	}

	charge, err := s.gateway.CreateCharge(ctx, port.ChargeRequest{
		CustomerID:       customerID,
		Method:           record.Method,
		Amount:           record.Amount,
		DueDate:          record.DueDate,
		Description:      fmt.Sprintf("Damage charge for order %s (report %d)", order.OrderNumber, report.ID),
		Reference:        record.Reference,
		InstallmentCount: record.InstallmentCount,
		InstallmentValue: installmentValue,
	})
	if err != nil {
		return fmt.Errorf("create charge: %w", err)
	}

	record.ChargeID = charge.ChargeID
	record.PaymentURL = charge.PaymentURL
	record.PixCode = charge.PixCode
	record.BoletoURL = charge.BoletoURL
	if status, ok := MapGatewayStatus(charge.Status); ok {
		record.Status = status
	}
	return nil
}

// degrade turns a record into an offline one after a gateway failure
func (s *billingServiceImpl) degrade(record *entity.BillingRecord, cause error) {
	s.logger.Error("Payment gateway failed, recording billing offline",
		"reference", record.Reference,
		"error", cause,
	)
	record.Degraded = true
	record.DegradedReason = cause.Error()
	record.Status = entity.BillingStatusPending
	record.ChargeID = ""
	record.BoletoURL = ""
	record.PaymentURL = strings.TrimRight(s.cfg.OfflinePaymentURL, "/") + "/" + record.Reference
	record.PixCode = fmt.Sprintf("OFFLINE|%s|%s", record.Reference, record.Amount.StringFixed(2))
}

func (s *billingServiceImpl) alertOperators(ctx context.Context, record *entity.BillingRecord) {
	if s.notifier == nil {
		return
	}
	title := fmt.Sprintf("Billing %s recorded offline", record.Reference)
	body := fmt.Sprintf("Payment gateway failed for damage report %d (%s, %s). Collect manually. Cause: %s",
		record.ReportID, record.Method, record.Amount.StringFixed(2), record.DegradedReason)
	if err := s.notifier.NotifyOperators(ctx, title, body); err != nil {
		s.logger.Error("Failed to alert operators", "reference", record.Reference, "error", err)
	}
}

func (s *billingServiceImpl) audit(ctx context.Context, recordID int64, from, to entity.BillingStatus, action, actor, reason string) error {
	if err := s.transitionRepo.Create(ctx, &entity.TransitionRecord{
		EntityType: entity.EntityTypeBilling,
		EntityID:   recordID,
		FromStatus: string(from),
		ToStatus:   string(to),
		Action:     action,
		Actor:      actor,
		Reason:     reason,
		Timestamp:  s.opts.clock(),
	}); err != nil {
		return fmt.Errorf("failed to create transition record: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/application/workflow"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
	"github.com/equiprent/rental-workflow/pkg/utils"
)

// DamageLineInput is the payload for a new damage line
type DamageLineInput struct {
	ItemName    string                `json:"item_name" validate:"required"`
	Description string                `json:"description"`
	Severity    entity.Severity       `json:"severity" validate:"required,oneof=low medium high critical"`
	Category    entity.DamageCategory `json:"category" validate:"required,oneof=structural functional aesthetic missing"`
	RepairCost  decimal.Decimal       `json:"repair_cost" validate:"gte=0"`
	PhotoRefs   []string              `json:"photo_refs"`
	ReportedBy  string                `json:"reported_by" validate:"required"`
}

func (in DamageLineInput) toLine() (entity.DamageLine, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return entity.DamageLine{}, errs.Wrap(errs.KindValidation, err, "invalid damage line")
	}
	return entity.DamageLine{
		ItemName:    in.ItemName,
		Description: in.Description,
		Severity:    in.Severity,
		Category:    in.Category,
		RepairCost:  in.RepairCost,
		PhotoRefs:   in.PhotoRefs,
		ReportedBy:  in.ReportedBy,
	}, nil
}

// Statement is a rendered damage statement
type Statement struct {
	Filename string
	Content  []byte
}

// Coordinator is the public surface of the rental workflow
type Coordinator interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput, actor string) (*entity.RentalOrder, error)
	GetOrder(ctx context.Context, orderID int64) (*entity.RentalOrder, error)
	GetOrderHistory(ctx context.Context, orderID int64) ([]*entity.TransitionRecord, error)
	TransitionOrder(ctx context.Context, orderID int64, target entity.OrderStatus, actor string, expectedVersion int64) (*entity.RentalOrder, error)
	RequestOutboundDispatch(ctx context.Context, orderID int64, actor string) (*entity.RentalOrder, error)
	CancelOutboundDispatch(ctx context.Context, orderID int64, actor string) (*entity.RentalOrder, error)
	ReconcileDelivery(ctx context.Context, orderID int64, remoteStatus string) (*ReconcileResult, error)
	ReconcileDeliveryByDispatchID(ctx context.Context, dispatchID, remoteStatus string) (*ReconcileResult, error)
	SyncDelivery(ctx context.Context, orderID int64) (*ReconcileResult, error)
	CompleteInspection(ctx context.Context, orderID int64, inspector string, expectedVersion int64) (*entity.RentalOrder, error)

	CreateDamageReport(ctx context.Context, orderID int64, creator string) (*entity.DamageReport, error)
	GetDamageReport(ctx context.Context, reportID int64) (*entity.DamageReport, error)
	ListDamageReports(ctx context.Context, orderID int64) ([]*entity.DamageReport, error)
	AddDamageLine(ctx context.Context, reportID int64, input DamageLineInput, expectedVersion int64) (*entity.DamageReport, error)
	RemoveDamageLine(ctx context.Context, reportID int64, lineID string, expectedVersion int64) (*entity.DamageReport, error)
	SubmitReport(ctx context.Context, reportID int64, actor string, expectedVersion int64) (*entity.DamageReport, error)
	ApproveReport(ctx context.Context, reportID int64, approver, notes string, expectedVersion int64) (*entity.DamageReport, error)
	RejectReport(ctx context.Context, reportID int64, rejecter, reason, category string, expectedVersion int64) (*entity.DamageReport, error)
	ResubmitReport(ctx context.Context, reportID int64, creator string) (*entity.DamageReport, error)

	GenerateBilling(ctx context.Context, reportID int64, params BillingParams, actor string) (*BillingResult, error)
	GetBillingStatus(ctx context.Context, reference string) (*entity.BillingRecord, error)
	RefreshBillingStatus(ctx context.Context, reference string) (*entity.BillingRecord, error)
	ApplyBillingStatus(ctx context.Context, reference, remoteStatus string) (*entity.BillingRecord, error)
	ExportDamageStatement(ctx context.Context, reportID int64) (*Statement, error)
}

// CoordinatorDeps bundles the services the coordinator fronts
type CoordinatorDeps struct {
	Engine      workflow.OrderEngine
	Orders      OrderService
	Dispatch    DispatchService
	Reports     DamageReportService
	Billing     BillingService
	BillingRepo port.BillingRepository
	Exporter    port.StatementExporter
	Logger      Logger
}

type coordinatorImpl struct {
	CoordinatorDeps
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(deps CoordinatorDeps) Coordinator {
	return &coordinatorImpl{CoordinatorDeps: deps}
}

func (c *coordinatorImpl) PlaceOrder(ctx context.Context, input PlaceOrderInput, actor string) (*entity.RentalOrder, error) {
	return c.Orders.PlaceOrder(ctx, input, actor)
}

func (c *coordinatorImpl) GetOrder(ctx context.Context, orderID int64) (*entity.RentalOrder, error) {
	return c.Orders.GetOrder(ctx, orderID)
}

func (c *coordinatorImpl) GetOrderHistory(ctx context.Context, orderID int64) ([]*entity.TransitionRecord, error) {
	if _, err := c.Orders.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return c.Orders.GetHistory(ctx, entity.EntityTypeOrder, orderID)
}

// TransitionOrder applies a manual status change. Targets with courier side
// effects go through the dispatch service so the provider and the order stay in step.
func (c *coordinatorImpl) TransitionOrder(ctx context.Context, orderID int64, target entity.OrderStatus, actor string, expectedVersion int64) (*entity.RentalOrder, error) {
	order, err := c.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// each branch re-checks expectedVersion under the order lock
	switch {
	case order.Status == entity.OrderStatusDevolucaoSolicitada && target == entity.OrderStatusAguardandoAceiteDevolucao:
		return c.Dispatch.RequestReturnDispatch(ctx, orderID, actor, expectedVersion)

	case order.Status == entity.OrderStatusAguardandoLalamove && target == entity.OrderStatusSolicitarLalamove:
		return c.Dispatch.CancelOutboundDispatch(ctx, orderID, actor, expectedVersion)

	case order.Status == entity.OrderStatusSolicitarLalamove && target == entity.OrderStatusAguardandoLalamove:
		updated, err := c.Engine.Transition(ctx, workflow.TransitionRequest{
			OrderID:         orderID,
			Target:          target,
			Actor:           actor,
			ExpectedVersion: expectedVersion,
		})
		if err != nil {
			return nil, err
		}
		if !updated.NeedsDispatch() {
			return updated, nil
		}
		dispatched, err := c.Dispatch.RequestOutboundDispatch(ctx, orderID, actor, updated.Version)
		if err != nil {
			c.Logger.Error("Order awaiting courier, dispatch request failed", "order_id", orderID, "error", err)
			return updated, fmt.Errorf("order %d is in %s but the dispatch request failed: %w", orderID, updated.Status, err)
		}
		return dispatched, nil

	default:
		return c.Engine.Transition(ctx, workflow.TransitionRequest{
			OrderID:         orderID,
			Target:          target,
			Actor:           actor,
			ExpectedVersion: expectedVersion,
		})
	}
}

func (c *coordinatorImpl) RequestOutboundDispatch(ctx context.Context, orderID int64, actor string) (*entity.RentalOrder, error) {
	return c.Dispatch.RequestOutboundDispatch(ctx, orderID, actor, 0)
}

func (c *coordinatorImpl) CancelOutboundDispatch(ctx context.Context, orderID int64, actor string) (*entity.RentalOrder, error) {
	return c.Dispatch.CancelOutboundDispatch(ctx, orderID, actor, 0)
}

func (c *coordinatorImpl) ReconcileDelivery(ctx context.Context, orderID int64, remoteStatus string) (*ReconcileResult, error) {
	return c.Dispatch.Reconcile(ctx, orderID, remoteStatus)
}

func (c *coordinatorImpl) ReconcileDeliveryByDispatchID(ctx context.Context, dispatchID, remoteStatus string) (*ReconcileResult, error) {
	return c.Dispatch.ReconcileByDispatchID(ctx, dispatchID, remoteStatus)
}

func (c *coordinatorImpl) SyncDelivery(ctx context.Context, orderID int64) (*ReconcileResult, error) {
	return c.Dispatch.SyncDispatchStatus(ctx, orderID)
}

func (c *coordinatorImpl) CompleteInspection(ctx context.Context, orderID int64, inspector string, expectedVersion int64) (*entity.RentalOrder, error) {
	return c.Orders.CompleteInspection(ctx, orderID, inspector, expectedVersion)
}

func (c *coordinatorImpl) CreateDamageReport(ctx context.Context, orderID int64, creator string) (*entity.DamageReport, error) {
	return c.Reports.Create(ctx, orderID, creator)
}

func (c *coordinatorImpl) GetDamageReport(ctx context.Context, reportID int64) (*entity.DamageReport, error) {
	return c.Reports.Get(ctx, reportID)
}

func (c *coordinatorImpl) ListDamageReports(ctx context.Context, orderID int64) ([]*entity.DamageReport, error) {
	return c.Reports.ListByRental(ctx, orderID)
}

// AddDamageLine validates the payload and appends the line to a draft report
func (c *coordinatorImpl) AddDamageLine(ctx context.Context, reportID int64, input DamageLineInput, expectedVersion int64) (*entity.DamageReport, error) {
	line, err := input.toLine()
	if err != nil {
		return nil, err
	}
	return c.Reports.AddDamage(ctx, reportID, line, expectedVersion)
}

func (c *coordinatorImpl) RemoveDamageLine(ctx context.Context, reportID int64, lineID string, expectedVersion int64) (*entity.DamageReport, error) {
	return c.Reports.RemoveDamage(ctx, reportID, lineID, expectedVersion)
}

func (c *coordinatorImpl) SubmitReport(ctx context.Context, reportID int64, actor string, expectedVersion int64) (*entity.DamageReport, error) {
	return c.Reports.Submit(ctx, reportID, actor, expectedVersion)
}

func (c *coordinatorImpl) ApproveReport(ctx context.Context, reportID int64, approver, notes string, expectedVersion int64) (*entity.DamageReport, error) {
	return c.Reports.Approve(ctx, reportID, approver, notes, expectedVersion)
}

func (c *coordinatorImpl) RejectReport(ctx context.Context, reportID int64, rejecter, reason, category string, expectedVersion int64) (*entity.DamageReport, error) {
	return c.Reports.Reject(ctx, reportID, rejecter, reason, category, expectedVersion)
}

func (c *coordinatorImpl) ResubmitReport(ctx context.Context, reportID int64, creator string) (*entity.DamageReport, error) {
	return c.Reports.Resubmit(ctx, reportID, creator)
}

func (c *coordinatorImpl) GenerateBilling(ctx context.Context, reportID int64, params BillingParams, actor string) (*BillingResult, error) {
	return c.Billing.GenerateBilling(ctx, reportID, params, actor)
}

func (c *coordinatorImpl) GetBillingStatus(ctx context.Context, reference string) (*entity.BillingRecord, error) {
	return c.Billing.GetBillingStatus(ctx, reference)
}

func (c *coordinatorImpl) RefreshBillingStatus(ctx context.Context, reference string) (*entity.BillingRecord, error) {
	return c.Billing.RefreshStatus(ctx, reference)
}

func (c *coordinatorImpl) ApplyBillingStatus(ctx context.Context, reference, remoteStatus string) (*entity.BillingRecord, error) {
	return c.Billing.ApplyRemoteStatus(ctx, reference, remoteStatus)
}

// ExportDamageStatement renders a report and its billing record as a spreadsheet
func (c *coordinatorImpl) ExportDamageStatement(ctx context.Context, reportID int64) (*Statement, error) {
	if c.Exporter == nil {
		return nil, errs.New(errs.KindCollaboratorUnavailable, "statement export is not configured")
	}

	report, err := c.Reports.Get(ctx, reportID)
	if err != nil {
		return nil, err
	}
	record, err := c.BillingRepo.GetByReportID(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch billing for report %d: %w", reportID, err)
	}

	content, err := c.Exporter.ExportDamageStatement(ctx, report, record)
	if err != nil {
		return nil, fmt.Errorf("export damage statement: %w", err)
	}
	return &Statement{
		Filename: fmt.Sprintf("damage-statement-%d.xlsx", reportID),
		Content:  content,
	}, nil
}

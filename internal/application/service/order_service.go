package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/application/workflow"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
	"github.com/equiprent/rental-workflow/internal/domain/event"
	"github.com/equiprent/rental-workflow/internal/domain/money"
	"github.com/equiprent/rental-workflow/pkg/utils"
)

// OrderItemInput is one equipment line of a new order
type OrderItemInput struct {
	EquipmentID string          `json:"equipment_id" validate:"required"`
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity" validate:"min=1"`
	DailyRate   decimal.Decimal `json:"daily_rate" validate:"gt=0"`
	Days        int             `json:"days" validate:"omitempty,min=1"`
	Discount    decimal.Decimal `json:"discount" validate:"gte=0"`
}

// PlaceOrderInput is the payload for a new rental order
type PlaceOrderInput struct {
	OrderNumber      string                `json:"order_number"`
	Items            []OrderItemInput      `json:"items" validate:"required,min=1,dive"`
	StartDate        time.Time             `json:"start_date" validate:"required"`
	EndDate          time.Time             `json:"end_date" validate:"required,gtfield=StartDate"`
	SecurityDeposit  decimal.Decimal       `json:"security_deposit" validate:"gte=0"`
	CustomerName     string                `json:"customer_name" validate:"required"`
	CustomerDocument string                `json:"customer_document" validate:"required"`
	CustomerEmail    string                `json:"customer_email" validate:"omitempty,email"`
	CustomerPhone    string                `json:"customer_phone"`
	DeliveryMethod   entity.DeliveryMethod `json:"delivery_method" validate:"required,oneof=pickup delivery"`
	DeliveryAddress  string                `json:"delivery_address" validate:"required_if=DeliveryMethod delivery"`
	PickupAddress    string                `json:"pickup_address"`
}

// OrderService manages rental orders outside of status transitions
type OrderService interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput, actor string) (*entity.RentalOrder, error)
	GetOrder(ctx context.Context, orderID int64) (*entity.RentalOrder, error)
	GetHistory(ctx context.Context, entityType string, entityID int64) ([]*entity.TransitionRecord, error)

	// CompleteInspection records the physical inspection of returned equipment
	CompleteInspection(ctx context.Context, orderID int64, inspector string, expectedVersion int64) (*entity.RentalOrder, error)
}

type orderServiceImpl struct {
	orderRepo      port.OrderRepository
	reportRepo     port.DamageReportRepository
	transitionRepo port.TransitionRepository
	txManager      port.TransactionManager
	logger         Logger
	opts           options
}

// NewOrderService creates a new OrderService
func NewOrderService(
	orderRepo port.OrderRepository,
	reportRepo port.DamageReportRepository,
	transitionRepo port.TransitionRepository,
	txManager port.TransactionManager,
	logger Logger,
	opts ...Option,
) OrderService {
	return &orderServiceImpl{
		orderRepo:      orderRepo,
		reportRepo:     reportRepo,
		transitionRepo: transitionRepo,
		txManager:      txManager,
		logger:         logger,
		opts:           newOptions(opts),
	}
}

// PlaceOrder creates an order in separacao
func (s *orderServiceImpl) PlaceOrder(ctx context.Context, input PlaceOrderInput, actor string) (*entity.RentalOrder, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid order")
	}

	now := s.opts.clock()
	rentalDays := rentalDays(input.StartDate, input.EndDate)

	items := make([]entity.OrderItem, 0, len(input.Items))
	subtotals := make([]decimal.Decimal, 0, len(input.Items))
	for _, in := range input.Items {
		days := in.Days
		if days == 0 {
			days = rentalDays
		}
		line := money.LineSubtotal(in.DailyRate, in.Quantity, days, in.Discount)
		items = append(items, entity.OrderItem{
			EquipmentID:  in.EquipmentID,
			Name:         in.Name,
			Quantity:     in.Quantity,
			DailyRate:    in.DailyRate,
			Days:         days,
			Discount:     in.Discount,
			LineSubtotal: line,
		})
		subtotals = append(subtotals, line)
	}

	orderNumber := strings.TrimSpace(input.OrderNumber)
	if orderNumber == "" {
		orderNumber = "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	}

	order := &entity.RentalOrder{
		OrderNumber:      orderNumber,
		Status:           entity.OrderStatusSeparacao,
		Items:            items,
		StartDate:        input.StartDate.UTC(),
		EndDate:          input.EndDate.UTC(),
		TotalAmount:      money.Sum(subtotals...),
		SecurityDeposit:  money.Cents(input.SecurityDeposit),
		PaidAmount:       decimal.Zero,
		CustomerName:     input.CustomerName,
		CustomerDocument: input.CustomerDocument,
		CustomerEmail:    input.CustomerEmail,
		CustomerPhone:    input.CustomerPhone,
		DeliveryMethod:   input.DeliveryMethod,
		DeliveryAddress:  input.DeliveryAddress,
		PickupAddress:    input.PickupAddress,
		Damages:          []entity.DamageLine{},
		DamageAmount:     decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.orderRepo.GetByOrderNumber(txCtx, orderNumber)
		if err != nil {
			return fmt.Errorf("failed to check order number: %w", err)
		}
		if existing != nil {
			return errs.New(errs.KindConflict, "order number %s already exists", orderNumber)
		}

		if err := s.orderRepo.Create(txCtx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		return s.transitionRepo.Create(txCtx, &entity.TransitionRecord{
			EntityType: entity.EntityTypeOrder,
			EntityID:   order.ID,
			ToStatus:   string(entity.OrderStatusSeparacao),
			Action:     "PLACE",
			Actor:      actor,
			Timestamp:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order placed",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"total_amount", order.TotalAmount.StringFixed(2),
		"delivery_method", order.DeliveryMethod,
	)
	s.opts.emit(ctx, event.NewEvent(event.TypeOrderPlaced, entity.EntityTypeOrder, order.ID, map[string]interface{}{
		"order_number":    order.OrderNumber,
		"total_amount":    order.TotalAmount.StringFixed(2),
		"delivery_method": string(order.DeliveryMethod),
		"actor":           actor,
	}))

	return order, nil
}

// GetOrder returns an order by id
func (s *orderServiceImpl) GetOrder(ctx context.Context, orderID int64) (*entity.RentalOrder, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}
	if order == nil {
		return nil, errs.NotFound("order", orderID)
	}
	return order, nil
}

// GetHistory returns the audit trail of an entity, oldest first
func (s *orderServiceImpl) GetHistory(ctx context.Context, entityType string, entityID int64) ([]*entity.TransitionRecord, error) {
	records, err := s.transitionRepo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	return records, nil
}

// CompleteInspection marks the order inspected and copies the assessed damages onto it
func (s *orderServiceImpl) CompleteInspection(ctx context.Context, orderID int64, inspector string, expectedVersion int64) (*entity.RentalOrder, error) {
	if strings.TrimSpace(inspector) == "" {
		return nil, errs.New(errs.KindValidation, "inspector is required")
	}

	var updated *entity.RentalOrder
	err := workflow.WithEntityLock(ctx, s.opts.locker, workflow.OrderLockKey(orderID), func(ctx context.Context) error {
		return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			order, err := s.GetOrder(txCtx, orderID)
			if err != nil {
				return err
			}
			if expectedVersion != 0 && expectedVersion != order.Version {
				return errs.New(errs.KindConflict, "order %d is at version %d, expected %d", orderID, order.Version, expectedVersion)
			}
			if order.Status != entity.OrderStatusConferencia {
				return errs.New(errs.KindInvalidTransition, "inspection can only be completed in conferencia, order %d is %s", orderID, order.Status)
			}

			reports, err := s.reportRepo.ListByRentalID(txCtx, orderID)
			if err != nil {
				return fmt.Errorf("failed to list damage reports: %w", err)
			}

			now := s.opts.clock()
			next := order.Clone()
			next.InspectionCompleted = true
			next.InspectedBy = inspector
			next.InspectionDate = &now
			next.UpdatedAt = now
			next.Damages = []entity.DamageLine{}
			next.DamageAmount = decimal.Zero
			if latest := latestAssessment(reports); latest != nil {
				next.Damages = latest.Clone().Damages
				next.DamageAmount = latest.TotalCost
			}

			if err := s.orderRepo.Update(txCtx, next); err != nil {
				return fmt.Errorf("failed to update order %d: %w", orderID, err)
			}
			if err := s.transitionRepo.Create(txCtx, &entity.TransitionRecord{
				EntityType: entity.EntityTypeOrder,
				EntityID:   orderID,
				FromStatus: string(order.Status),
				ToStatus:   string(order.Status),
				Action:     "INSPECT",
				Actor:      inspector,
				Timestamp:  now,
			}); err != nil {
				return fmt.Errorf("failed to create transition record: %w", err)
			}

			updated = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Inspection completed", "order_id", orderID, "inspector", inspector, "damage_amount", updated.DamageAmount.StringFixed(2))
	return updated, nil
}

// latestAssessment picks the newest report that was not rejected
func latestAssessment(reports []*entity.DamageReport) *entity.DamageReport {
	var latest *entity.DamageReport
	for _, r := range reports {
		if r.Status == entity.ReportStatusRejected {
			continue
		}
		if latest == nil || r.ID > latest.ID {
			latest = r
		}
	}
	return latest
}

// rentalDays counts started days between start and end, at least one
func rentalDays(start, end time.Time) int {
	days := int(math.Ceil(end.Sub(start).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

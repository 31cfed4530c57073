package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/equiprent/rental-workflow/internal/application/dispatcher"
	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
	"github.com/equiprent/rental-workflow/internal/domain/event"
	domainwf "github.com/equiprent/rental-workflow/internal/domain/workflow"
)

// orderEngine is the concrete implementation of OrderEngine
type orderEngine struct {
	orderRepo      port.OrderRepository
	reportRepo     port.DamageReportRepository
	transitionRepo port.TransitionRepository
	txManager      port.TransactionManager
	locker         port.Locker
	dispatcher     dispatcher.Dispatcher
	now            func() time.Time
}

// EngineOption configures the order engine
type EngineOption func(*orderEngine)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *orderEngine) {
		e.dispatcher = d
	}
}

// WithLocker sets the per-order lock provider
func WithLocker(l port.Locker) EngineOption {
	return func(e *orderEngine) {
		e.locker = l
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *orderEngine) {
		e.now = now
	}
}

// NewOrderEngine creates a new order engine
func NewOrderEngine(
	orderRepo port.OrderRepository,
	reportRepo port.DamageReportRepository,
	transitionRepo port.TransitionRepository,
	txManager port.TransactionManager,
	opts ...EngineOption,
) OrderEngine {
	e := &orderEngine{
		orderRepo:      orderRepo,
		reportRepo:     reportRepo,
		transitionRepo: transitionRepo,
		txManager:      txManager,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Transition validates and applies a status change
func (e *orderEngine) Transition(ctx context.Context, req TransitionRequest) (*entity.RentalOrder, error) {
	if !req.Target.IsValid() {
		return nil, errs.New(errs.KindValidation, "unknown target state %q", req.Target)
	}

	var (
		updated *entity.RentalOrder
		from    entity.OrderStatus
		trigger domainwf.Trigger
	)

	err := WithEntityLock(ctx, e.locker, OrderLockKey(req.OrderID), func(ctx context.Context) error {
		return e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			order, err := e.loadOrder(txCtx, req.OrderID)
			if err != nil {
				return err
			}

			if req.ExpectedVersion != 0 && req.ExpectedVersion != order.Version {
				return errs.New(errs.KindConflict, "order %d is at version %d, expected %d", order.ID, order.Version, req.ExpectedVersion)
			}
			if order.Status.IsTerminal() {
				return errs.New(errs.KindInvalidTransition, "order %d is %s and cannot change", order.ID, order.Status)
			}

			guard, err := e.finalizeGuard(txCtx, order, req.Target)
			if err != nil {
				return err
			}

			machine := BuildOrderStateMachine(order.Status, guard)
			trigger, err = machine.TransitionTo(txCtx, domainwf.State(req.Target))
			if err != nil {
				return translateMachineError(err, order, req.Target)
			}

			from = order.Status
			next := order.Clone()
			now := e.now().UTC()
			next.Status = req.Target
			next.UpdatedAt = now
			if req.Target == entity.OrderStatusProntoEnvio {
				next.ReceiptPrinted = true
				next.ReceiptPrintedAt = &now
			}
			if req.Mutate != nil {
				if err := req.Mutate(next); err != nil {
					return err
				}
			}

			if err := e.orderRepo.Update(txCtx, next); err != nil {
				return fmt.Errorf("failed to update order %d: %w", order.ID, err)
			}

			record := &entity.TransitionRecord{
				EntityType: entity.EntityTypeOrder,
				EntityID:   order.ID,
				FromStatus: string(from),
				ToStatus:   string(req.Target),
				Action:     trigger.String(),
				Actor:      req.Actor,
				Reason:     req.Reason,
				Timestamp:  now,
			}
			if err := e.transitionRepo.Create(txCtx, record); err != nil {
				return fmt.Errorf("failed to create transition record: %w", err)
			}

			updated = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if e.dispatcher != nil {
		evt := event.NewEvent(event.TypeOrderStatusChanged, entity.EntityTypeOrder, updated.ID, map[string]interface{}{
			"order_number":    updated.OrderNumber,
			"previous_status": string(from),
			"new_status":      string(updated.Status),
			"trigger":         trigger.String(),
			"actor":           req.Actor,
			"version":         updated.Version,
		})
		e.dispatcher.DispatchAsync(ctx, evt)
	}

	return updated, nil
}

// AllowedTargets returns the states reachable in one step from the current state
func (e *orderEngine) AllowedTargets(ctx context.Context, orderID int64) ([]entity.OrderStatus, error) {
	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return []entity.OrderStatus{}, nil
	}

	machine := BuildOrderStateMachine(order.Status, nil)
	states := machine.PermittedStates()
	targets := make([]entity.OrderStatus, len(states))
	for i, s := range states {
		targets[i] = entity.OrderStatus(s)
	}
	return targets, nil
}

func (e *orderEngine) loadOrder(ctx context.Context, orderID int64) (*entity.RentalOrder, error) {
	order, err := e.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}
	if order == nil {
		return nil, errs.NotFound("order", orderID)
	}
	if !order.Status.IsValid() {
		return nil, fmt.Errorf("%w: order %d has status %q", domainwf.ErrInvalidState, orderID, order.Status)
	}
	return order, nil
}

// finalizeGuard resolves the finalizado precondition up front so the
// machine guard stays a pure function.
func (e *orderEngine) finalizeGuard(ctx context.Context, order *entity.RentalOrder, target entity.OrderStatus) (domainwf.GuardFunc, error) {
	if target != entity.OrderStatusFinalizado {
		return nil, nil
	}
	if order.InspectionCompleted {
		return nil, nil
	}

	open, err := e.reportRepo.GetOpenByRentalID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check open damage reports: %w", err)
	}
	allowed := open == nil
	return func(context.Context) bool { return allowed }, nil
}

func translateMachineError(err error, order *entity.RentalOrder, target entity.OrderStatus) error {
	switch {
	case errors.Is(err, domainwf.ErrGuardFailed):
		return errs.Wrap(errs.KindInvalidTransition, err, "order %d cannot be finalized before inspection is completed", order.ID)
	case errors.Is(err, domainwf.ErrInvalidTransition):
		return errs.Wrap(errs.KindInvalidTransition, err, "order %d cannot move from %s to %s", order.ID, order.Status, target)
	default:
		return err
	}
}

// Verify interface compliance
var _ OrderEngine = (*orderEngine)(nil)

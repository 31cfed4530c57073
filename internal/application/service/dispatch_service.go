package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/application/workflow"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
)

// Delivery provider status vocabulary
const (
	RemoteAssigningDriver = "ASSIGNING_DRIVER"
	RemoteOnGoing         = "ON_GOING"
	RemotePickedUp        = "PICKED_UP"
	RemoteCompleted       = "COMPLETED"
	RemoteCanceled        = "CANCELED"
	RemoteRejected        = "REJECTED"
	RemoteExpired         = "EXPIRED"
)

var outboundStatusMap = map[string]entity.OrderStatus{
	RemoteAssigningDriver: entity.OrderStatusAguardandoLalamove,
	RemoteOnGoing:         entity.OrderStatusAguardandoMotorista,
	RemotePickedUp:        entity.OrderStatusIndoCliente,
	RemoteCompleted:       entity.OrderStatusEntregue,
}

var returnStatusMap = map[string]entity.OrderStatus{
	RemoteAssigningDriver: entity.OrderStatusAguardandoAceiteDevolucao,
	RemoteOnGoing:         entity.OrderStatusMotoristaIndoCliente,
	RemotePickedUp:        entity.OrderStatusVoltandoLoja,
	RemoteCompleted:       entity.OrderStatusConferencia,
}

// DispatchLeg identifies which courier trip an order state belongs to
type DispatchLeg string

const (
	LegNone     DispatchLeg = ""
	LegOutbound DispatchLeg = "outbound"
	LegReturn   DispatchLeg = "return"
)

// LegOf returns the courier leg an order status belongs to
func LegOf(status entity.OrderStatus) DispatchLeg {
	switch status {
	case entity.OrderStatusSolicitarLalamove, entity.OrderStatusAguardandoLalamove,
		entity.OrderStatusAguardandoMotorista, entity.OrderStatusIndoCliente:
		return LegOutbound
	case entity.OrderStatusDevolucaoSolicitada, entity.OrderStatusAguardandoAceiteDevolucao,
		entity.OrderStatusMotoristaIndoCliente, entity.OrderStatusVoltandoLoja:
		return LegReturn
	default:
		return LegNone
	}
}

// MapRemoteStatus translates a provider status for the given leg.
// ok is false for statuses that must not move the order.
func MapRemoteStatus(leg DispatchLeg, remote string) (entity.OrderStatus, bool) {
	remote = strings.ToUpper(strings.TrimSpace(remote))
	switch leg {
	case LegOutbound:
		s, ok := outboundStatusMap[remote]
		return s, ok
	case LegReturn:
		s, ok := returnStatusMap[remote]
		return s, ok
	default:
		return "", false
	}
}

// ReconcileResult reports what a reconciliation did
type ReconcileResult struct {
	Order   *entity.RentalOrder
	Applied []entity.OrderStatus
	Ignored bool
	Reason  string
}

// DispatchService drives the delivery provider and folds its status back into orders
type DispatchService interface {
	RequestOutboundDispatch(ctx context.Context, orderID int64, actor string, expectedVersion int64) (*entity.RentalOrder, error)
	RequestReturnDispatch(ctx context.Context, orderID int64, actor string, expectedVersion int64) (*entity.RentalOrder, error)
	CancelOutboundDispatch(ctx context.Context, orderID int64, actor string, expectedVersion int64) (*entity.RentalOrder, error)
	Reconcile(ctx context.Context, orderID int64, remoteStatus string) (*ReconcileResult, error)
	ReconcileByDispatchID(ctx context.Context, dispatchID, remoteStatus string) (*ReconcileResult, error)
	SyncDispatchStatus(ctx context.Context, orderID int64) (*ReconcileResult, error)
}

type dispatchServiceImpl struct {
	orderRepo    port.OrderRepository
	engine       workflow.OrderEngine
	provider     port.DeliveryProvider
	storeAddress string
	logger       Logger
	opts         options
}

// NewDispatchService creates a new DispatchService
func NewDispatchService(
	orderRepo port.OrderRepository,
	engine workflow.OrderEngine,
	provider port.DeliveryProvider,
	storeAddress string,
	logger Logger,
	opts ...Option,
) DispatchService {
	return &dispatchServiceImpl{
		orderRepo:    orderRepo,
		engine:       engine,
		provider:     provider,
		storeAddress: storeAddress,
		logger:       logger,
		opts:         newOptions(opts),
	}
}

// RequestOutboundDispatch books the delivery courier and advances to aguardando_motorista
func (s *dispatchServiceImpl) RequestOutboundDispatch(ctx context.Context, orderID int64, actor string, expectedVersion int64) (*entity.RentalOrder, error) {
	var updated *entity.RentalOrder

	err := workflow.WithEntityLock(ctx, s.opts.locker, workflow.OrderLockKey(orderID), func(ctx context.Context) error {
		order, err := s.loadAt(ctx, orderID, expectedVersion)
		if err != nil {
			return err
		}
		if order.Status != entity.OrderStatusAguardandoLalamove {
			return errs.New(errs.KindInvalidTransition, "outbound dispatch requires aguardando_lalamove, order %d is %s", orderID, order.Status)
		}

		if !order.NeedsDispatch() {
			s.logger.Info("Pickup order, skipping outbound dispatch", "order_id", orderID)
			updated = order
			return nil
		}

		result, err := s.provider.RequestDelivery(ctx, s.buildRequest(order, order.DeliveryAddress))
		if err != nil {
			s.logger.Error("Outbound dispatch request failed", "order_id", orderID, "error", err)
			return fmt.Errorf("request outbound dispatch: %w", err)
		}

		updated, err = s.engine.Transition(ctx, workflow.TransitionRequest{
			OrderID:         orderID,
			Target:          entity.OrderStatusAguardandoMotorista,
			Actor:           actor,
			ExpectedVersion: order.Version,
			Reason:          "dispatch " + result.DispatchID,
			Mutate: func(o *entity.RentalOrder) error {
				o.OutboundDispatchID = result.DispatchID
				o.OutboundTrackingRef = result.TrackingRef
				o.DriverInfo = result.DriverInfo
				return nil
			},
		})
		if err != nil {
			s.logger.Error("Dispatch booked but order update failed",
				"order_id", orderID,
				"dispatch_id", result.DispatchID,
				"error", err,
			)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Outbound dispatch requested", "order_id", orderID, "dispatch_id", updated.OutboundDispatchID)
	return updated, nil
}

// RequestReturnDispatch books the return courier and advances to aguardando_aceite_devolucao
func (s *dispatchServiceImpl) RequestReturnDispatch(ctx context.Context, orderID int64, actor string, expectedVersion int64) (*entity.RentalOrder, error) {
	var updated *entity.RentalOrder

	err := workflow.WithEntityLock(ctx, s.opts.locker, workflow.OrderLockKey(orderID), func(ctx context.Context) error {
		order, err := s.loadAt(ctx, orderID, expectedVersion)
		if err != nil {
			return err
		}
		if order.Status != entity.OrderStatusDevolucaoSolicitada {
			return errs.New(errs.KindInvalidTransition, "return dispatch requires devolucao_solicitada, order %d is %s", orderID, order.Status)
		}

		req := workflow.TransitionRequest{
			OrderID:         orderID,
			Target:          entity.OrderStatusAguardandoAceiteDevolucao,
			Actor:           actor,
			ExpectedVersion: order.Version,
		}

		if order.NeedsDispatch() {
			result, err := s.provider.RequestPickup(ctx, s.buildRequest(order, order.ReturnAddress()))
			if err != nil {
				s.logger.Error("Return dispatch request failed", "order_id", orderID, "error", err)
				return fmt.Errorf("request return dispatch: %w", err)
			}
			req.Reason = "dispatch " + result.DispatchID
			req.Mutate = func(o *entity.RentalOrder) error {
				o.ReturnDispatchID = result.DispatchID
				o.ReturnTrackingRef = result.TrackingRef
				o.DriverInfo = result.DriverInfo
				return nil
			}
		}

		updated, err = s.engine.Transition(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Return dispatch requested", "order_id", orderID, "dispatch_id", updated.ReturnDispatchID)
	return updated, nil
}

// CancelOutboundDispatch cancels the courier and reverts to solicitar_lalamove
func (s *dispatchServiceImpl) CancelOutboundDispatch(ctx context.Context, orderID int64, actor string, expectedVersion int64) (*entity.RentalOrder, error) {
	var updated *entity.RentalOrder

	err := workflow.WithEntityLock(ctx, s.opts.locker, workflow.OrderLockKey(orderID), func(ctx context.Context) error {
		order, err := s.loadAt(ctx, orderID, expectedVersion)
		if err != nil {
			return err
		}
		if order.Status != entity.OrderStatusAguardandoLalamove {
			return errs.New(errs.KindInvalidTransition, "dispatch can only be cancelled in aguardando_lalamove, order %d is %s", orderID, order.Status)
		}

		if order.NeedsDispatch() && order.OutboundDispatchID != "" {
			if err := s.provider.Cancel(ctx, order.OutboundDispatchID); err != nil {
				s.logger.Error("Dispatch cancellation failed", "order_id", orderID, "dispatch_id", order.OutboundDispatchID, "error", err)
				return fmt.Errorf("cancel dispatch: %w", err)
			}
		}

		updated, err = s.engine.Transition(ctx, workflow.TransitionRequest{
			OrderID:         orderID,
			Target:          entity.OrderStatusSolicitarLalamove,
			Actor:           actor,
			ExpectedVersion: order.Version,
			Reason:          "dispatch cancelled",
			Mutate: func(o *entity.RentalOrder) error {
				o.ClearOutboundDispatch()
				return nil
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Outbound dispatch cancelled", "order_id", orderID, "actor", actor)
	return updated, nil
}

// Reconcile walks the order forward one legal step at a time toward the
// state implied by the provider status
func (s *dispatchServiceImpl) Reconcile(ctx context.Context, orderID int64, remoteStatus string) (*ReconcileResult, error) {
	return s.reconcile(ctx, orderID, "", remoteStatus)
}

// reconcile applies remoteStatus to the order. A non-empty dispatchID pins the
// status to the courier trip it was reported for.
func (s *dispatchServiceImpl) reconcile(ctx context.Context, orderID int64, dispatchID, remoteStatus string) (*ReconcileResult, error) {
	var result *ReconcileResult

	err := workflow.WithEntityLock(ctx, s.opts.locker, workflow.OrderLockKey(orderID), func(ctx context.Context) error {
		order, err := s.load(ctx, orderID)
		if err != nil {
			return err
		}
		result = &ReconcileResult{Order: order}

		leg := LegOf(order.Status)
		target, ok := MapRemoteStatus(leg, remoteStatus)
		switch {
		case leg == LegNone:
			return s.ignore(result, "order is not in a dispatch leg", remoteStatus)
		case dispatchID != "" && dispatchLeg(order, dispatchID) != leg:
			return s.ignore(result, "status belongs to another dispatch", remoteStatus)
		case awaitsDispatchRequest(order.Status):
			return s.ignore(result, "dispatch not requested yet", remoteStatus)
		case !ok:
			return s.ignore(result, "status has no local mapping", remoteStatus)
		case target == order.Status:
			return s.ignore(result, "status already applied", remoteStatus)
		case workflow.Position(target) < workflow.Position(order.Status):
			return s.ignore(result, "status is behind the current state", remoteStatus)
		}

		current := order.Status
		for current != target {
			next, ok := workflow.NextForward(current)
			if !ok {
				return s.ignore(result, "no forward path", remoteStatus)
			}
			updated, err := s.engine.Transition(ctx, workflow.TransitionRequest{
				OrderID: orderID,
				Target:  next,
				Actor:   "delivery-provider",
				Reason:  "provider status " + remoteStatus,
			})
			if err != nil {
				return fmt.Errorf("reconcile %s -> %s: %w", current, next, err)
			}
			result.Order = updated
			result.Applied = append(result.Applied, next)
			current = next
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	if len(result.Applied) > 0 {
		s.logger.Info("Order reconciled with provider",
			"order_id", orderID,
			"remote_status", remoteStatus,
			"steps", len(result.Applied),
			"status", result.Order.Status,
		)
	}
	return result, nil
}

// ReconcileByDispatchID resolves the order from a dispatch id and reconciles it
func (s *dispatchServiceImpl) ReconcileByDispatchID(ctx context.Context, dispatchID, remoteStatus string) (*ReconcileResult, error) {
	order, err := s.orderRepo.GetByDispatchID(ctx, dispatchID)
	if err != nil {
		return nil, fmt.Errorf("find order by dispatch %s: %w", dispatchID, err)
	}
	if order == nil {
		return nil, errs.NotFound("dispatch", dispatchID)
	}
	return s.reconcile(ctx, order.ID, dispatchID, remoteStatus)
}

// SyncDispatchStatus polls the provider for the active dispatch and reconciles
func (s *dispatchServiceImpl) SyncDispatchStatus(ctx context.Context, orderID int64) (*ReconcileResult, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var dispatchID string
	switch LegOf(order.Status) {
	case LegOutbound:
		dispatchID = order.OutboundDispatchID
	case LegReturn:
		dispatchID = order.ReturnDispatchID
	}
	if dispatchID == "" || !order.NeedsDispatch() {
		return &ReconcileResult{Order: order, Ignored: true, Reason: "no active dispatch"}, nil
	}

	remote, err := s.provider.GetStatus(ctx, dispatchID)
	if err != nil {
		return nil, fmt.Errorf("get dispatch status: %w", err)
	}
	return s.reconcile(ctx, orderID, dispatchID, remote)
}

// awaitsDispatchRequest reports whether the next step books a courier, which
// only RequestOutboundDispatch and RequestReturnDispatch may do
func awaitsDispatchRequest(status entity.OrderStatus) bool {
	return status == entity.OrderStatusSolicitarLalamove || status == entity.OrderStatusDevolucaoSolicitada
}

func dispatchLeg(order *entity.RentalOrder, dispatchID string) DispatchLeg {
	switch dispatchID {
	case order.ReturnDispatchID:
		return LegReturn
	case order.OutboundDispatchID:
		return LegOutbound
	default:
		return LegNone
	}
}

func (s *dispatchServiceImpl) ignore(result *ReconcileResult, reason, remoteStatus string) error {
	result.Ignored = true
	result.Reason = reason
	s.logger.Info("Provider status discarded",
		"order_id", result.Order.ID,
		"status", result.Order.Status,
		"remote_status", remoteStatus,
		"reason", reason,
	)
	return nil
}

func (s *dispatchServiceImpl) load(ctx context.Context, orderID int64) (*entity.RentalOrder, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}
	if order == nil {
		return nil, errs.NotFound("order", orderID)
	}
	return order, nil
}

func (s *dispatchServiceImpl) loadAt(ctx context.Context, orderID, expectedVersion int64) (*entity.RentalOrder, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if expectedVersion != 0 && expectedVersion != order.Version {
		return nil, errs.New(errs.KindConflict, "order %d is at version %d, expected %d", orderID, order.Version, expectedVersion)
	}
	return order, nil
}

func (s *dispatchServiceImpl) buildRequest(order *entity.RentalOrder, address string) port.DeliveryRequest {
	items := make([]port.DeliveryItem, 0, len(order.Items))
	for _, it := range order.Items {
		name := it.Name
		if name == "" {
			name = it.EquipmentID
		}
		items = append(items, port.DeliveryItem{Name: name, Quantity: it.Quantity})
	}
	return port.DeliveryRequest{
		OrderNumber:  order.OrderNumber,
		Address:      address,
		StoreAddress: s.storeAddress,
		ContactName:  order.CustomerName,
		ContactPhone: order.CustomerPhone,
		Items:        items,
	}
}

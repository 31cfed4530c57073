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

const orderColumns = `id, order_number, status, items, start_date, end_date,
	total_amount, security_deposit, paid_amount,
	customer_name, customer_document, customer_email, customer_phone,
	delivery_method, delivery_address, pickup_address,
	outbound_dispatch_id, outbound_tracking_ref, return_dispatch_id, return_tracking_ref, driver_info,
	inspection_completed, inspected_by, inspection_date, damages, damage_amount,
	receipt_printed, receipt_printed_at, created_at, updated_at, version`

// OrderRepository implements port.OrderRepository
type OrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB, logger *zap.Logger) port.OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new order at version 1
func (r *OrderRepository) Create(ctx context.Context, order *entity.RentalOrder) error {
	items, err := toJSON(order.Items)
	if err != nil {
		return err
	}
	damages, err := toJSON(order.Damages)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rental_orders (
			order_number, status, items, start_date, end_date,
			total_amount, security_deposit, paid_amount,
			customer_name, customer_document, customer_email, customer_phone,
			delivery_method, delivery_address, pickup_address,
			damages, damage_amount, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`

	result, err := executor(ctx, r.db).ExecContext(ctx, query,
		order.OrderNumber,
		order.Status,
		items,
		order.StartDate,
		order.EndDate,
		order.TotalAmount,
		order.SecurityDeposit,
		order.PaidAmount,
		order.CustomerName,
		order.CustomerDocument,
		order.CustomerEmail,
		order.CustomerPhone,
		order.DeliveryMethod,
		order.DeliveryAddress,
		order.PickupAddress,
		damages,
		order.DamageAmount,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Wrap(errs.KindConflict, err, "order number %s already exists", order.OrderNumber)
		}
		r.logger.Error("Failed to create order", zap.String("order_number", order.OrderNumber), zap.Error(err))
		return fmt.Errorf("failed to create order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	order.ID = id
	order.Version = 1
	return nil
}

// GetByID retrieves an order by ID, nil when absent
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*entity.RentalOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM rental_orders WHERE id = ?`

	order, err := scanOrder(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get order by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetByOrderNumber retrieves an order by its business number
func (r *OrderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*entity.RentalOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM rental_orders WHERE order_number = ?`

	order, err := scanOrder(executor(ctx, r.db).QueryRowContext(ctx, query, orderNumber))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get order by number", zap.String("order_number", orderNumber), zap.Error(err))
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetByDispatchID finds the order owning an outbound or return dispatch
func (r *OrderRepository) GetByDispatchID(ctx context.Context, dispatchID string) (*entity.RentalOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM rental_orders
		WHERE outbound_dispatch_id = ? OR return_dispatch_id = ?
		ORDER BY id DESC LIMIT 1`

	order, err := scanOrder(executor(ctx, r.db).QueryRowContext(ctx, query, dispatchID, dispatchID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get order by dispatch", zap.String("dispatch_id", dispatchID), zap.Error(err))
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// ListByStatus lists orders in any of the given states, oldest update first
func (r *OrderRepository) ListByStatus(ctx context.Context, statuses []entity.OrderStatus, limit int) ([]*entity.RentalOrder, error) {
	if len(statuses) == 0 {
		return []*entity.RentalOrder{}, nil
	}

	args := make([]interface{}, 0, len(statuses)+1)
	for _, s := range statuses {
		args = append(args, s)
	}
	args = append(args, limit)

	query := `SELECT ` + orderColumns + ` FROM rental_orders
		WHERE status IN (` + placeholders(len(statuses)) + `)
		ORDER BY updated_at ASC
		LIMIT ?`

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list orders by status", zap.Error(err))
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*entity.RentalOrder{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// Update writes the order if its version still matches and bumps the version
func (r *OrderRepository) Update(ctx context.Context, order *entity.RentalOrder) error {
	items, err := toJSON(order.Items)
	if err != nil {
		return err
	}
	damages, err := toJSON(order.Damages)
	if err != nil {
		return err
	}

	query := `
		UPDATE rental_orders SET
			status = ?, items = ?, paid_amount = ?,
			delivery_address = ?, pickup_address = ?,
			outbound_dispatch_id = ?, outbound_tracking_ref = ?,
			return_dispatch_id = ?, return_tracking_ref = ?, driver_info = ?,
			inspection_completed = ?, inspected_by = ?, inspection_date = ?,
			damages = ?, damage_amount = ?,
			receipt_printed = ?, receipt_printed_at = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := executor(ctx, r.db).ExecContext(ctx, query,
		order.Status,
		items,
		order.PaidAmount,
		order.DeliveryAddress,
		order.PickupAddress,
		order.OutboundDispatchID,
		order.OutboundTrackingRef,
		order.ReturnDispatchID,
		order.ReturnTrackingRef,
		order.DriverInfo,
		order.InspectionCompleted,
		order.InspectedBy,
		nullTime(order.InspectionDate),
		damages,
		order.DamageAmount,
		order.ReceiptPrinted,
		nullTime(order.ReceiptPrintedAt),
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update order", zap.Int64("id", order.ID), zap.Error(err))
		return fmt.Errorf("failed to update order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return errs.New(errs.KindConflict, "order %d was modified concurrently (version %d)", order.ID, order.Version)
	}

	order.Version++
	return nil
}

func scanOrder(row rowScanner) (*entity.RentalOrder, error) {
	var (
		order            entity.RentalOrder
		items, damages   string
		inspectionDate   sql.NullTime
		receiptPrintedAt sql.NullTime
	)

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.Status,
		&items,
		&order.StartDate,
		&order.EndDate,
		&order.TotalAmount,
		&order.SecurityDeposit,
		&order.PaidAmount,
		&order.CustomerName,
		&order.CustomerDocument,
		&order.CustomerEmail,
		&order.CustomerPhone,
		&order.DeliveryMethod,
		&order.DeliveryAddress,
		&order.PickupAddress,
		&order.OutboundDispatchID,
		&order.OutboundTrackingRef,
		&order.ReturnDispatchID,
		&order.ReturnTrackingRef,
		&order.DriverInfo,
		&order.InspectionCompleted,
		&order.InspectedBy,
		&inspectionDate,
		&damages,
		&order.DamageAmount,
		&order.ReceiptPrinted,
		&receiptPrintedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := fromJSON(items, &order.Items); err != nil {
		return nil, err
	}
	order.Damages = []entity.DamageLine{}
	if err := fromJSON(damages, &order.Damages); err != nil {
		return nil, err
	}
	order.InspectionDate = timePtr(inspectionDate)
	order.ReceiptPrintedAt = timePtr(receiptPrintedAt)
	return &order, nil
}

// Verify interface compliance
var _ port.OrderRepository = (*OrderRepository)(nil)

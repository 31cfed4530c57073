package port

import (
	"context"

	"github.com/equiprent/rental-workflow/internal/domain/entity"
)

// OrderRepository defines persistence operations for RentalOrder.
// Update is optimistic: it matches on the version the order was loaded with,
// bumps it by one and returns a conflict error when another writer got there first.
type OrderRepository interface {
	Create(ctx context.Context, order *entity.RentalOrder) error
	GetByID(ctx context.Context, id int64) (*entity.RentalOrder, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*entity.RentalOrder, error)
	GetByDispatchID(ctx context.Context, dispatchID string) (*entity.RentalOrder, error)
	ListByStatus(ctx context.Context, statuses []entity.OrderStatus, limit int) ([]*entity.RentalOrder, error)
	Update(ctx context.Context, order *entity.RentalOrder) error
}

// DamageReportRepository defines persistence operations for DamageReport
type DamageReportRepository interface {
	Create(ctx context.Context, report *entity.DamageReport) error
	GetByID(ctx context.Context, id int64) (*entity.DamageReport, error)

	// GetOpenByRentalID returns the draft, submitted or approved report of a rental, if any
	GetOpenByRentalID(ctx context.Context, rentalID int64) (*entity.DamageReport, error)

	ListByRentalID(ctx context.Context, rentalID int64) ([]*entity.DamageReport, error)

	// Update is optimistic in the same way as OrderRepository.Update
	Update(ctx context.Context, report *entity.DamageReport) error
}

// BillingRepository defines persistence operations for BillingRecord
type BillingRepository interface {
	Create(ctx context.Context, record *entity.BillingRecord) error
	GetByReference(ctx context.Context, reference string) (*entity.BillingRecord, error)
	GetByReportID(ctx context.Context, reportID int64) (*entity.BillingRecord, error)

	// ListPendingRemote returns pending records that carry a gateway charge id
	ListPendingRemote(ctx context.Context, limit int) ([]*entity.BillingRecord, error)

	UpdateStatus(ctx context.Context, id int64, status entity.BillingStatus) error
}

// TransitionRepository stores the append-only audit trail
type TransitionRepository interface {
	Create(ctx context.Context, record *entity.TransitionRecord) error
	ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.TransitionRecord, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker provides per-key mutual exclusion.
// Acquire blocks until the key is free or ctx is done and returns the release func.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

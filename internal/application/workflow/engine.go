package workflow

import (
	"context"

	"github.com/equiprent/rental-workflow/internal/domain/entity"
)

// TransitionRequest asks the engine to move an order to Target
type TransitionRequest struct {
	OrderID int64
	Target  entity.OrderStatus
	Actor   string
	Reason  string

	// ExpectedVersion is the version the caller last saw; zero skips the check
	ExpectedVersion int64

	// Mutate applies extra field changes that must land in the same update
	// as the status change. Returning an error aborts the transition.
	Mutate func(order *entity.RentalOrder) error
}

// OrderEngine is the single gate for rental order status changes
type OrderEngine interface {
	// Transition validates and applies a status change, recording an audit row
	Transition(ctx context.Context, req TransitionRequest) (*entity.RentalOrder, error)

	// AllowedTargets returns the states reachable from the order's current state
	AllowedTargets(ctx context.Context, orderID int64) ([]entity.OrderStatus, error)
}

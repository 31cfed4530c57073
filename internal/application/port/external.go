package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/equiprent/rental-workflow/internal/domain/entity"
)

// DeliveryItem is one package line sent to the delivery provider
type DeliveryItem struct {
	Name     string
	Quantity int
}

// DeliveryRequest describes a courier job
type DeliveryRequest struct {
	OrderNumber  string
	Address      string
	StoreAddress string
	ContactName  string
	ContactPhone string
	Items        []DeliveryItem
	ScheduledAt  *time.Time
}

// DispatchResult is what the provider returns for a booked courier job
type DispatchResult struct {
	DispatchID  string
	TrackingRef string
	DriverInfo  string
	Status      string
}

// DeliveryProvider is the courier dispatch collaborator.
// Implementations return errs.KindCollaboratorUnavailable for transient
// failures and errs.KindCollaboratorRejected for refused requests.
type DeliveryProvider interface {
	RequestDelivery(ctx context.Context, req DeliveryRequest) (*DispatchResult, error)
	RequestPickup(ctx context.Context, req DeliveryRequest) (*DispatchResult, error)
	Cancel(ctx context.Context, dispatchID string) error
	GetStatus(ctx context.Context, dispatchID string) (string, error)
}

// CustomerRef identifies the payer at the gateway
type CustomerRef struct {
	Name     string
	Document string
	Email    string
	Phone    string
}

// ChargeRequest describes a charge to create at the gateway
type ChargeRequest struct {
	CustomerID       string
	Method           entity.BillingMethod
	Amount           decimal.Decimal
	DueDate          time.Time
	Description      string
	Reference        string
	InstallmentCount int
	InstallmentValue decimal.Decimal
}

// ChargeResult is the gateway view of a charge
type ChargeResult struct {
	ChargeID   string
	Status     string
	PaymentURL string
	PixCode    string
	BoletoURL  string
}

// PaymentGateway is the payment collaborator.
// Error kinds follow the same convention as DeliveryProvider.
type PaymentGateway interface {
	FindOrCreateCustomer(ctx context.Context, customer CustomerRef) (string, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	GetCharge(ctx context.Context, chargeID string) (*ChargeResult, error)
}

// OperatorNotifier alerts back-office staff
type OperatorNotifier interface {
	NotifyOperators(ctx context.Context, title, body string) error
}

// StatementExporter renders a damage report as a downloadable document
type StatementExporter interface {
	ExportDamageStatement(ctx context.Context, report *entity.DamageReport, record *entity.BillingRecord) ([]byte, error)
}

// EventPublisher pushes workflow events to an external stream
type EventPublisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

package event

// Type identifies the type of domain event
type Type string

const (
	TypeOrderPlaced               Type = "order.placed"
	TypeOrderStatusChanged        Type = "order.status_changed"
	TypeDamageReportStatusChanged Type = "damage_report.status_changed"
	TypeBillingGenerated          Type = "billing.generated"
	TypeBillingDegraded           Type = "billing.degraded"
	TypeBillingStatusChanged      Type = "billing.status_changed"
)

// AllTypes lists every event type the workflow emits
var AllTypes = []Type{
	TypeOrderPlaced,
	TypeOrderStatusChanged,
	TypeDamageReportStatusChanged,
	TypeBillingGenerated,
	TypeBillingDegraded,
	TypeBillingStatusChanged,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

package entity

// OrderStatus is the fulfillment state of a rental order
type OrderStatus string

// Rental order states in fulfillment order
const (
	OrderStatusSeparacao                 OrderStatus = "separacao"                   // picking items
	OrderStatusProntoEnvio               OrderStatus = "pronto_envio"                // receipt printed
	OrderStatusSolicitarLalamove         OrderStatus = "solicitar_lalamove"          // ready to dispatch
	OrderStatusAguardandoLalamove        OrderStatus = "aguardando_lalamove"         // awaiting provider accept
	OrderStatusAguardandoMotorista       OrderStatus = "aguardando_motorista"        // driver heading to store
	OrderStatusIndoCliente               OrderStatus = "indo_cliente"                // driver heading to customer
	OrderStatusEntregue                  OrderStatus = "entregue"                    // delivered
	OrderStatusEmUso                     OrderStatus = "em_uso"                      // in use by customer
	OrderStatusDevolucaoSolicitada       OrderStatus = "devolucao_solicitada"        // return requested
	OrderStatusAguardandoAceiteDevolucao OrderStatus = "aguardando_aceite_devolucao" // return dispatch requested
	OrderStatusMotoristaIndoCliente      OrderStatus = "motorista_indo_cliente"      // driver heading to collect
	OrderStatusVoltandoLoja              OrderStatus = "voltando_loja"               // in transit back to store
	OrderStatusConferencia               OrderStatus = "conferencia"                 // inspection pending
	OrderStatusFinalizado                OrderStatus = "finalizado"
	OrderStatusCancelado                 OrderStatus = "cancelado"
)

// AllOrderStatuses lists every order state in fulfillment order
var AllOrderStatuses = []OrderStatus{
	OrderStatusSeparacao,
	OrderStatusProntoEnvio,
	OrderStatusSolicitarLalamove,
	OrderStatusAguardandoLalamove,
	OrderStatusAguardandoMotorista,
	OrderStatusIndoCliente,
	OrderStatusEntregue,
	OrderStatusEmUso,
	OrderStatusDevolucaoSolicitada,
	OrderStatusAguardandoAceiteDevolucao,
	OrderStatusMotoristaIndoCliente,
	OrderStatusVoltandoLoja,
	OrderStatusConferencia,
	OrderStatusFinalizado,
	OrderStatusCancelado,
}

// IsTerminal returns true for states that permit no further mutation
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFinalizado || s == OrderStatusCancelado
}

// IsValid returns true if s is a known order state
func (s OrderStatus) IsValid() bool {
	for _, known := range AllOrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// DeliveryMethod describes how equipment reaches the customer
type DeliveryMethod string

const (
	DeliveryMethodPickup   DeliveryMethod = "pickup"
	DeliveryMethodDelivery DeliveryMethod = "delivery"
)

// ReportStatus is the lifecycle state of a damage report
type ReportStatus string

const (
	ReportStatusDraft     ReportStatus = "draft"
	ReportStatusSubmitted ReportStatus = "submitted"
	ReportStatusApproved  ReportStatus = "approved"
	ReportStatusRejected  ReportStatus = "rejected"
	ReportStatusBilled    ReportStatus = "billed"
)

// AllReportStatuses lists every damage report state
var AllReportStatuses = []ReportStatus{
	ReportStatusDraft,
	ReportStatusSubmitted,
	ReportStatusApproved,
	ReportStatusRejected,
	ReportStatusBilled,
}

// IsTerminal returns true for rejected and billed reports
func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusRejected || s == ReportStatusBilled
}

// Severity of a damage line
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DamageCategory classifies a damage line
type DamageCategory string

const (
	CategoryStructural DamageCategory = "structural"
	CategoryFunctional DamageCategory = "functional"
	CategoryAesthetic  DamageCategory = "aesthetic"
	CategoryMissing    DamageCategory = "missing"
)

// BillingStatus is the local cache of the payment status
type BillingStatus string

const (
	BillingStatusPending   BillingStatus = "pending"
	BillingStatusPaid      BillingStatus = "paid"
	BillingStatusOverdue   BillingStatus = "overdue"
	BillingStatusCancelled BillingStatus = "cancelled"
)

// CanMoveTo reports whether a cached billing status may change to next.
// Paid only moves to cancelled (refund) and cancelled is final.
func (s BillingStatus) CanMoveTo(next BillingStatus) bool {
	switch s {
	case BillingStatusPaid:
		return next == BillingStatusCancelled
	case BillingStatusCancelled:
		return false
	default:
		return next != s
	}
}

// BillingMethod selects how a damage bill is charged
type BillingMethod string

const (
	BillingMethodPix          BillingMethod = "pix"
	BillingMethodBoleto       BillingMethod = "boleto"
	BillingMethodCreditCard   BillingMethod = "credit_card"
	BillingMethodBankTransfer BillingMethod = "bank_transfer"
	BillingMethodManual       BillingMethod = "manual"
)

// UsesGateway returns true for methods charged through the payment gateway
func (m BillingMethod) UsesGateway() bool {
	switch m {
	case BillingMethodPix, BillingMethodBoleto, BillingMethodCreditCard:
		return true
	default:
		return false
	}
}

// Audit entity types
const (
	EntityTypeOrder        = "order"
	EntityTypeDamageReport = "damage_report"
	EntityTypeBilling      = "billing"
)

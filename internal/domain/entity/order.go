package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// RentalOrder is a customer rental moving through the fulfillment lifecycle
type RentalOrder struct {
	ID              int64           `json:"id"`
	OrderNumber     string          `json:"order_number"`
	Status          OrderStatus     `json:"status"`
	Items           []OrderItem     `json:"items"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	SecurityDeposit decimal.Decimal `json:"security_deposit"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`

	CustomerName     string `json:"customer_name"`
	CustomerDocument string `json:"customer_document"`
	CustomerEmail    string `json:"customer_email,omitempty"`
	CustomerPhone    string `json:"customer_phone,omitempty"`

	DeliveryMethod  DeliveryMethod `json:"delivery_method"`
	DeliveryAddress string         `json:"delivery_address"`
	PickupAddress   string         `json:"pickup_address,omitempty"`

	OutboundDispatchID  string `json:"outbound_dispatch_id,omitempty"`
	OutboundTrackingRef string `json:"outbound_tracking_ref,omitempty"`
	ReturnDispatchID    string `json:"return_dispatch_id,omitempty"`
	ReturnTrackingRef   string `json:"return_tracking_ref,omitempty"`
	DriverInfo          string `json:"driver_info,omitempty"`

	InspectionCompleted bool            `json:"inspection_completed"`
	InspectedBy         string          `json:"inspected_by,omitempty"`
	InspectionDate      *time.Time      `json:"inspection_date,omitempty"`
	Damages             []DamageLine    `json:"damages"`
	DamageAmount        decimal.Decimal `json:"damage_amount"`

	ReceiptPrinted   bool       `json:"receipt_printed"`
	ReceiptPrintedAt *time.Time `json:"receipt_printed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	Version          int64      `json:"version"`
}

// OrderItem is one equipment line of a rental order
type OrderItem struct {
	EquipmentID  string          `json:"equipment_id"`
	Name         string          `json:"name,omitempty"`
	Quantity     int             `json:"quantity"`
	DailyRate    decimal.Decimal `json:"daily_rate"`
	Days         int             `json:"days"`
	Discount     decimal.Decimal `json:"discount"`
	LineSubtotal decimal.Decimal `json:"line_subtotal"`
}

// ReturnAddress is where the return dispatch collects the equipment
func (o *RentalOrder) ReturnAddress() string {
	if o.PickupAddress != "" {
		return o.PickupAddress
	}
	return o.DeliveryAddress
}

// NeedsDispatch is false for orders the customer collects in store
func (o *RentalOrder) NeedsDispatch() bool {
	return o.DeliveryMethod != DeliveryMethodPickup
}

// Clone returns a copy that shares no slices with o
func (o *RentalOrder) Clone() *RentalOrder {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.Damages = make([]DamageLine, len(o.Damages))
	for i, d := range o.Damages {
		c.Damages[i] = d.clone()
	}
	if o.InspectionDate != nil {
		t := *o.InspectionDate
		c.InspectionDate = &t
	}
	if o.ReceiptPrintedAt != nil {
		t := *o.ReceiptPrintedAt
		c.ReceiptPrintedAt = &t
	}
	return &c
}

// ClearOutboundDispatch resets the outbound dispatch fields
func (o *RentalOrder) ClearOutboundDispatch() {
	o.OutboundDispatchID = ""
	o.OutboundTrackingRef = ""
	o.DriverInfo = ""
}

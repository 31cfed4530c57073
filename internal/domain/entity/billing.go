package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BillingRecord is the charge created for a billed damage report
type BillingRecord struct {
	ID                int64             `json:"id"`
	ReportID          int64             `json:"report_id"`
	Reference         string            `json:"reference"`
	Method            BillingMethod     `json:"method"`
	Amount            decimal.Decimal   `json:"amount"`
	DueDate           time.Time         `json:"due_date"`
	Status            BillingStatus     `json:"status"`
	InstallmentCount  int               `json:"installment_count"`
	InstallmentValues []decimal.Decimal `json:"installment_values"`

	CustomerID string `json:"customer_id,omitempty"`
	ChargeID   string `json:"charge_id,omitempty"`
	PaymentURL string `json:"payment_url,omitempty"`
	PixCode    string `json:"pix_code,omitempty"`
	BoletoURL  string `json:"boleto_url,omitempty"`

	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`

	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BillingReference builds the unique reference tying a report to its charge
func BillingReference(reportID int64, at time.Time) string {
	return fmt.Sprintf("DAM-%d-%d", reportID, at.UnixMilli())
}

// HasRemoteCharge is true when the status can be refreshed from the gateway
func (b *BillingRecord) HasRemoteCharge() bool {
	return b.ChargeID != ""
}

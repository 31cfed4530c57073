package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/equiprent/rental-workflow/internal/domain/money"
)

// Fee is a named surcharge on a damage bill
type Fee = money.Fee

// DamageLine is one assessed damage on returned equipment
type DamageLine struct {
	ID          string          `json:"id"`
	ItemName    string          `json:"item_name"`
	Description string          `json:"description"`
	Severity    Severity        `json:"severity"`
	Category    DamageCategory  `json:"category"`
	RepairCost  decimal.Decimal `json:"repair_cost"`
	PhotoRefs   []string        `json:"photo_refs,omitempty"`
	ReportedBy  string          `json:"reported_by"`
	ReportedAt  time.Time       `json:"reported_at"`
}

func (l DamageLine) clone() DamageLine {
	l.PhotoRefs = append([]string(nil), l.PhotoRefs...)
	return l
}

// DamageReport is the damage assessment document attached to a rental
type DamageReport struct {
	ID               int64           `json:"id"`
	RentalID         int64           `json:"rental_id"`
	PreviousReportID *int64          `json:"previous_report_id,omitempty"`
	Damages          []DamageLine    `json:"damages"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	Status           ReportStatus    `json:"status"`
	CreatedBy        string          `json:"created_by"`

	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	ApprovedBy        string     `json:"approved_by,omitempty"`
	ApprovalNotes     string     `json:"approval_notes,omitempty"`
	RejectedAt        *time.Time `json:"rejected_at,omitempty"`
	RejectedBy        string     `json:"rejected_by,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	RejectionCategory string     `json:"rejection_category,omitempty"`

	BillingReference    string          `json:"billing_reference,omitempty"`
	BillingMethod       BillingMethod   `json:"billing_method,omitempty"`
	BillingAmount       decimal.Decimal `json:"billing_amount"`
	BillingDueDate      *time.Time      `json:"billing_due_date,omitempty"`
	BillingInstallments int             `json:"billing_installments,omitempty"`
	BillingDiscountPct  decimal.Decimal `json:"billing_discount_pct"`
	BillingFees         []Fee           `json:"billing_fees,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// RecomputeTotal sets TotalCost to the sum of the current lines
func (r *DamageReport) RecomputeTotal() {
	total := decimal.Zero
	for _, l := range r.Damages {
		total = total.Add(l.RepairCost)
	}
	r.TotalCost = total
}

// FindLine returns the index of the line with the given id, or -1
func (r *DamageReport) FindLine(lineID string) int {
	for i, l := range r.Damages {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

// Clone returns a copy that shares no slices with r
func (r *DamageReport) Clone() *DamageReport {
	c := *r
	c.Damages = make([]DamageLine, len(r.Damages))
	for i, d := range r.Damages {
		c.Damages[i] = d.clone()
	}
	c.BillingFees = append([]Fee(nil), r.BillingFees...)
	return &c
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
	"github.com/equiprent/rental-workflow/internal/domain/event"
)

func approvedReport(id, rentalID int64, cost string) *entity.DamageReport {
	r := draftReport(id, rentalID, damageLine("Broken motor", cost))
	r.Status = entity.ReportStatusApproved
	return r
}

func billingFixture(cost string) *fixture {
	return newFixture([]*entity.RentalOrder{orderIn(1, entity.OrderStatusConferencia)}, approvedReport(5, 1, cost))
}

func pixParams() BillingParams {
	return BillingParams{
		Method:      entity.BillingMethodPix,
		DiscountPct: decimal.NewFromInt(10),
		Fees:        []entity.Fee{{Name: "cleaning", Amount: decimal.NewFromInt(30)}},
	}
}

func TestMapGatewayStatus(t *testing.T) {
	tests := []struct {
		remote string
		want   entity.BillingStatus
		ok     bool
	}{
		{"PENDING", entity.BillingStatusPending, true},
		{"AWAITING_RISK_ANALYSIS", entity.BillingStatusPending, true},
		{"RECEIVED", entity.BillingStatusPaid, true},
		{"confirmed", entity.BillingStatusPaid, true},
		{"RECEIVED_IN_CASH", entity.BillingStatusPaid, true},
		{"OVERDUE", entity.BillingStatusOverdue, true},
		{"REFUNDED", entity.BillingStatusCancelled, true},
		{"DELETED", entity.BillingStatusCancelled, true},
		{"CHARGEBACK_DISPUTE", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			got, ok := MapGatewayStatus(tt.remote)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBillingService_GenerateBilling(t *testing.T) {
	ctx := context.Background()

	t.Run("charges the final amount through the gateway", func(t *testing.T) {
		f := billingFixture("500.00")

		result, err := f.billingSvc.GenerateBilling(ctx, 5, pixParams(), "finance")

		require.NoError(t, err)
		assert.False(t, result.Degraded)
		record := result.Record
		assert.True(t, record.Amount.Equal(decimal.RequireFromString("480.00")), record.Amount.String())
		assert.Equal(t, entity.BillingMethodPix, record.Method)
		assert.Equal(t, entity.BillingStatusPending, record.Status)
		assert.Equal(t, "pay_001", record.ChargeID)
		assert.Equal(t, "cus_001", record.CustomerID)
		assert.Equal(t, "00020126PIX", record.PixCode)
		assert.Equal(t, entity.BillingReference(5, testNow), record.Reference)
		assert.Equal(t, testNow.AddDate(0, 0, 3), record.DueDate)
		require.Len(t, record.InstallmentValues, 1)

		require.Len(t, f.gateway.charges, 1)
		assert.True(t, f.gateway.charges[0].Amount.Equal(record.Amount))
		assert.Equal(t, record.Reference, f.gateway.charges[0].Reference)

		assert.Equal(t, entity.ReportStatusBilled, result.Report.Status)
		assert.Equal(t, record.Reference, result.Report.BillingReference)

		stored, _ := f.billing.GetByReportID(ctx, 5)
		require.NotNil(t, stored)
		assert.Equal(t, record.Reference, stored.Reference)

		assert.Contains(t, f.dispatcher.types(), event.TypeBillingGenerated)
		assert.Empty(t, f.notifier.titles)

		history := f.transitions.forEntity(entity.EntityTypeBilling, record.ID)
		require.Len(t, history, 1)
		assert.Equal(t, "GENERATE", history[0].Action)
	})

	t.Run("received payment marks it paid", func(t *testing.T) {
		f := billingFixture("500.00")
		result, err := f.billingSvc.GenerateBilling(ctx, 5, pixParams(), "finance")
		require.NoError(t, err)

		f.gateway.getChargeFunc = func(ctx context.Context, chargeID string) (*port.ChargeResult, error) {
			return &port.ChargeResult{ChargeID: chargeID, Status: "RECEIVED"}, nil
		}

		record, err := f.billingSvc.RefreshStatus(ctx, result.Record.Reference)

		require.NoError(t, err)
		assert.Equal(t, entity.BillingStatusPaid, record.Status)
		stored, _ := f.billing.GetByReference(ctx, result.Record.Reference)
		assert.Equal(t, entity.BillingStatusPaid, stored.Status)
		assert.Contains(t, f.dispatcher.types(), event.TypeBillingStatusChanged)
	})

	t.Run("gateway failure degrades to offline billing", func(t *testing.T) {
		f := billingFixture("500.00")
		f.gateway.createChargeFunc = func(ctx context.Context, req port.ChargeRequest) (*port.ChargeResult, error) {
			return nil, errs.New(errs.KindCollaboratorUnavailable, "gateway timeout")
		}

		result, err := f.billingSvc.GenerateBilling(ctx, 5, pixParams(), "finance")

		require.NoError(t, err)
		assert.True(t, result.Degraded)
		assert.NotEmpty(t, result.Message)
		record := result.Record
		assert.True(t, record.Degraded)
		assert.Empty(t, record.ChargeID)
		assert.Equal(t, "https://pay.local/offline/"+record.Reference, record.PaymentURL)
		assert.Equal(t, "OFFLINE|"+record.Reference+"|480.00", record.PixCode)
		assert.Equal(t, entity.ReportStatusBilled, result.Report.Status)

		assert.Contains(t, f.dispatcher.types(), event.TypeBillingDegraded)
		require.Len(t, f.notifier.titles, 1)
		assert.Contains(t, f.notifier.titles[0], record.Reference)
	})

	t.Run("offline methods skip the gateway", func(t *testing.T) {
		f := billingFixture("200.00")

		result, err := f.billingSvc.GenerateBilling(ctx, 5, BillingParams{Method: entity.BillingMethodBankTransfer}, "finance")

		require.NoError(t, err)
		assert.False(t, result.Degraded)
		assert.Empty(t, f.gateway.charges)
		assert.True(t, result.Record.Amount.Equal(decimal.NewFromInt(200)))
	})

	t.Run("installments split to the cent", func(t *testing.T) {
		f := billingFixture("950.00")
		params := BillingParams{Method: entity.BillingMethodCreditCard, Installments: 3}

		result, err := f.billingSvc.GenerateBilling(ctx, 5, params, "finance")

		require.NoError(t, err)
		values := result.Record.InstallmentValues
		require.Len(t, values, 3)
		assert.Equal(t, "316.66", values[0].StringFixed(2))
		assert.Equal(t, "316.67", values[2].StringFixed(2))
		assert.Equal(t, 3, f.gateway.charges[0].InstallmentCount)
		assert.Equal(t, "316.67", f.gateway.charges[0].InstallmentValue.StringFixed(2))
	})

	t.Run("explicit due date", func(t *testing.T) {
		f := billingFixture("100.00")
		due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
		params := BillingParams{Method: entity.BillingMethodManual, DueDate: &due}

		result, err := f.billingSvc.GenerateBilling(ctx, 5, params, "finance")

		require.NoError(t, err)
		assert.Equal(t, due, result.Record.DueDate)
	})

	t.Run("second billing is refused", func(t *testing.T) {
		f := billingFixture("500.00")
		_, err := f.billingSvc.GenerateBilling(ctx, 5, pixParams(), "finance")
		require.NoError(t, err)

		_, err = f.billingSvc.GenerateBilling(ctx, 5, pixParams(), "finance")

		assert.True(t, errs.IsKind(err, errs.KindAlreadyBilled))
		assert.Len(t, f.gateway.charges, 1)
	})

	t.Run("concurrent billing charges once", func(t *testing.T) {
		f := billingFixture("500.00")
		f.gateway.createChargeFunc = func(ctx context.Context, req port.ChargeRequest) (*port.ChargeResult, error) {
			time.Sleep(20 * time.Millisecond)
			return &port.ChargeResult{ChargeID: "pay_001", Status: "PENDING"}, nil
		}

		var wg sync.WaitGroup
		results := make([]error, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = f.billingSvc.GenerateBilling(ctx, 5, pixParams(), "finance")
			}(i)
		}
		wg.Wait()

		var ok, alreadyBilled int
		for _, err := range results {
			switch {
			case err == nil:
				ok++
			case errs.IsKind(err, errs.KindAlreadyBilled):
				alreadyBilled++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, alreadyBilled)
		assert.Len(t, f.gateway.charges, 1)
		assert.Len(t, f.billing.records, 1)
	})

	for _, status := range []entity.ReportStatus{entity.ReportStatusDraft, entity.ReportStatusSubmitted, entity.ReportStatusRejected} {
		t.Run("unapproved report "+string(status), func(t *testing.T) {
			report := draftReport(5, 1, damageLine("Dent", "10"))
			report.Status = status
			f := newFixture([]*entity.RentalOrder{orderIn(1, entity.OrderStatusConferencia)}, report)

			_, err := f.billingSvc.GenerateBilling(ctx, 5, pixParams(), "finance")

			assert.True(t, errs.IsKind(err, errs.KindInvalidTransition), "got %v", err)
			assert.Empty(t, f.gateway.charges)
			assert.Empty(t, f.billing.records)
		})
	}

	t.Run("non-positive amount", func(t *testing.T) {
		f := billingFixture("100.00")
		params := BillingParams{Method: entity.BillingMethodPix, DiscountPct: decimal.NewFromInt(100)}

		_, err := f.billingSvc.GenerateBilling(ctx, 5, params, "finance")

		assert.True(t, errs.IsKind(err, errs.KindInvalidAmount))
		report, _ := f.reports.GetByID(ctx, 5)
		assert.Equal(t, entity.ReportStatusApproved, report.Status)
	})

	t.Run("invalid parameters", func(t *testing.T) {
		f := billingFixture("100.00")

		for _, params := range []BillingParams{
			{Method: "cheque"},
			{Method: entity.BillingMethodPix, DiscountPct: decimal.NewFromInt(101)},
			{Method: entity.BillingMethodPix, Installments: 13},
		} {
			_, err := f.billingSvc.GenerateBilling(ctx, 5, params, "finance")
			assert.True(t, errs.IsKind(err, errs.KindValidation), "params %+v: %v", params, err)
		}
	})
}

func TestBillingService_RefreshStatus(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*fixture, string) {
		f := billingFixture("500.00")
		result, err := f.billingSvc.GenerateBilling(ctx, 5, pixParams(), "finance")
		require.NoError(t, err)
		return f, result.Record.Reference
	}

	t.Run("gateway error keeps last known status", func(t *testing.T) {
		f, ref := setup(t)
		f.gateway.getChargeFunc = func(ctx context.Context, chargeID string) (*port.ChargeResult, error) {
			return nil, errors.New("connection reset")
		}

		record, err := f.billingSvc.RefreshStatus(ctx, ref)

		require.NoError(t, err)
		assert.Equal(t, entity.BillingStatusPending, record.Status)
	})

	t.Run("unknown remote status keeps last known status", func(t *testing.T) {
		f, ref := setup(t)
		f.gateway.getChargeFunc = func(ctx context.Context, chargeID string) (*port.ChargeResult, error) {
			return &port.ChargeResult{Status: "CHARGEBACK_DISPUTE"}, nil
		}

		record, err := f.billingSvc.RefreshStatus(ctx, ref)

		require.NoError(t, err)
		assert.Equal(t, entity.BillingStatusPending, record.Status)
		assert.NotContains(t, f.dispatcher.types(), event.TypeBillingStatusChanged)
	})

	t.Run("concurrent refreshes share one gateway call", func(t *testing.T) {
		f, ref := setup(t)
		release := make(chan struct{})
		f.gateway.getChargeFunc = func(ctx context.Context, chargeID string) (*port.ChargeResult, error) {
			<-release
			return &port.ChargeResult{Status: "OVERDUE"}, nil
		}

		const callers = 8
		var wg sync.WaitGroup
		results := make([]*entity.BillingRecord, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _ = f.billingSvc.RefreshStatus(ctx, ref)
			}(i)
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, 1, f.gateway.getCharges)
		for _, r := range results {
			require.NotNil(t, r)
			assert.Equal(t, entity.BillingStatusOverdue, r.Status)
		}
	})

	t.Run("unknown reference", func(t *testing.T) {
		f := billingFixture("500.00")

		_, err := f.billingSvc.RefreshStatus(ctx, "DAM-0-0")

		assert.True(t, errs.IsKind(err, errs.KindNotFound))
	})
}

func TestBillingService_ApplyRemoteStatusAndRefreshPending(t *testing.T) {
	ctx := context.Background()
	f := billingFixture("500.00")
	result, err := f.billingSvc.GenerateBilling(ctx, 5, pixParams(), "finance")
	require.NoError(t, err)
	ref := result.Record.Reference

	f.gateway.getChargeFunc = func(ctx context.Context, chargeID string) (*port.ChargeResult, error) {
		return &port.ChargeResult{Status: "CONFIRMED"}, nil
	}
	changed, err := f.billingSvc.RefreshPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	record, err := f.billingSvc.ApplyRemoteStatus(ctx, ref, "REFUNDED")
	require.NoError(t, err)
	assert.Equal(t, entity.BillingStatusCancelled, record.Status)

	history := f.transitions.forEntity(entity.EntityTypeBilling, record.ID)
	require.Len(t, history, 3)
	assert.Equal(t, "SYNC", history[2].Action)
	assert.Equal(t, "paid", history[2].FromStatus)
	assert.Equal(t, "cancelled", history[2].ToStatus)
}

func TestBillingService_ApplyRemoteStatusOutOfOrder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		settle  string
		late    string
		want    entity.BillingStatus
		entries int
	}{
		{"pending after received stays paid", "RECEIVED", "PENDING", entity.BillingStatusPaid, 2},
		{"overdue after confirmed stays paid", "CONFIRMED", "OVERDUE", entity.BillingStatusPaid, 2},
		{"pending after cancellation stays cancelled", "CANCELLED", "PENDING", entity.BillingStatusCancelled, 2},
		{"refund after payment cancels", "RECEIVED", "REFUNDED", entity.BillingStatusCancelled, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := billingFixture("500.00")
			result, err := f.billingSvc.GenerateBilling(ctx, 5, pixParams(), "finance")
			require.NoError(t, err)
			ref := result.Record.Reference

			_, err = f.billingSvc.ApplyRemoteStatus(ctx, ref, tt.settle)
			require.NoError(t, err)

			record, err := f.billingSvc.ApplyRemoteStatus(ctx, ref, tt.late)

			require.NoError(t, err)
			assert.Equal(t, tt.want, record.Status)
			stored, err := f.billingSvc.GetBillingStatus(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.Status)
			assert.Len(t, f.transitions.forEntity(entity.EntityTypeBilling, record.ID), tt.entries)
		})
	}
}

package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/equiprent/rental-workflow/internal/domain/entity"
	domainwf "github.com/equiprent/rental-workflow/internal/domain/workflow"
)

func TestOrderTransitionTable(t *testing.T) {
	s := func(v ...entity.OrderStatus) []entity.OrderStatus { return v }

	table := map[entity.OrderStatus][]entity.OrderStatus{
		entity.OrderStatusSeparacao:                 s(entity.OrderStatusProntoEnvio, entity.OrderStatusCancelado),
		entity.OrderStatusProntoEnvio:               s(entity.OrderStatusSolicitarLalamove, entity.OrderStatusSeparacao, entity.OrderStatusCancelado),
		entity.OrderStatusSolicitarLalamove:         s(entity.OrderStatusAguardandoLalamove, entity.OrderStatusProntoEnvio),
		entity.OrderStatusAguardandoLalamove:        s(entity.OrderStatusAguardandoMotorista, entity.OrderStatusSolicitarLalamove),
		entity.OrderStatusAguardandoMotorista:       s(entity.OrderStatusIndoCliente, entity.OrderStatusAguardandoLalamove),
		entity.OrderStatusIndoCliente:               s(entity.OrderStatusEntregue, entity.OrderStatusAguardandoMotorista),
		entity.OrderStatusEntregue:                  s(entity.OrderStatusEmUso),
		entity.OrderStatusEmUso:                     s(entity.OrderStatusDevolucaoSolicitada),
		entity.OrderStatusDevolucaoSolicitada:       s(entity.OrderStatusAguardandoAceiteDevolucao, entity.OrderStatusEmUso),
		entity.OrderStatusAguardandoAceiteDevolucao: s(entity.OrderStatusMotoristaIndoCliente, entity.OrderStatusDevolucaoSolicitada),
		entity.OrderStatusMotoristaIndoCliente:      s(entity.OrderStatusVoltandoLoja, entity.OrderStatusAguardandoAceiteDevolucao),
		entity.OrderStatusVoltandoLoja:              s(entity.OrderStatusConferencia, entity.OrderStatusMotoristaIndoCliente),
		entity.OrderStatusConferencia:               s(entity.OrderStatusFinalizado, entity.OrderStatusVoltandoLoja),
		entity.OrderStatusFinalizado:                s(),
		entity.OrderStatusCancelado:                 s(),
	}

	// every (from, to) pair outside the table is rejected
	for _, from := range entity.AllOrderStatuses {
		allowed := table[from]
		for _, to := range entity.AllOrderStatuses {
			m := BuildOrderStateMachine(from, nil)
			_, err := m.TransitionTo(context.Background(), domainwf.State(to))
			if contains(allowed, to) {
				assert.NoError(t, err, "%s -> %s should be allowed", from, to)
				assert.Equal(t, domainwf.State(to), m.State())
			} else {
				assert.ErrorIs(t, err, domainwf.ErrInvalidTransition, "%s -> %s should be rejected", from, to)
				assert.Equal(t, domainwf.State(from), m.State())
			}
		}
	}
}

func TestOrderMachineFinalizeGuard(t *testing.T) {
	m := BuildOrderStateMachine(entity.OrderStatusConferencia, func(context.Context) bool { return false })

	_, err := m.TransitionTo(context.Background(), domainwf.State(entity.OrderStatusFinalizado))

	assert.ErrorIs(t, err, domainwf.ErrGuardFailed)
	assert.Equal(t, domainwf.State(entity.OrderStatusConferencia), m.State())
}

func TestDamageReportMachine(t *testing.T) {
	tests := []struct {
		from    entity.ReportStatus
		trigger domainwf.Trigger
		want    entity.ReportStatus
		ok      bool
	}{
		{entity.ReportStatusDraft, domainwf.TriggerSubmit, entity.ReportStatusSubmitted, true},
		{entity.ReportStatusDraft, domainwf.TriggerApprove, "", false},
		{entity.ReportStatusSubmitted, domainwf.TriggerApprove, entity.ReportStatusApproved, true},
		{entity.ReportStatusSubmitted, domainwf.TriggerReject, entity.ReportStatusRejected, true},
		{entity.ReportStatusSubmitted, domainwf.TriggerBill, "", false},
		{entity.ReportStatusApproved, domainwf.TriggerBill, entity.ReportStatusBilled, true},
		{entity.ReportStatusApproved, domainwf.TriggerReject, "", false},
		{entity.ReportStatusRejected, domainwf.TriggerSubmit, "", false},
		{entity.ReportStatusBilled, domainwf.TriggerBill, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.trigger.String(), func(t *testing.T) {
			m := BuildDamageReportStateMachine(tt.from)
			err := m.Fire(context.Background(), tt.trigger)
			if tt.ok {
				assert.NoError(t, err)
				assert.Equal(t, domainwf.State(tt.want), m.State())
			} else {
				assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)
			}
		})
	}
}

func TestNextForward(t *testing.T) {
	next, ok := NextForward(entity.OrderStatusMotoristaIndoCliente)
	assert.True(t, ok)
	assert.Equal(t, entity.OrderStatusVoltandoLoja, next)

	next, ok = NextForward(entity.OrderStatusSeparacao)
	assert.True(t, ok)
	assert.Equal(t, entity.OrderStatusProntoEnvio, next)

	_, ok = NextForward(entity.OrderStatusFinalizado)
	assert.False(t, ok)
}

func contains(list []entity.OrderStatus, s entity.OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

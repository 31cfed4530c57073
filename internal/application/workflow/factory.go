package workflow

import (
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	domainwf "github.com/equiprent/rental-workflow/internal/domain/workflow"
)

func orderStates() []domainwf.State {
	states := make([]domainwf.State, len(entity.AllOrderStatuses))
	for i, s := range entity.AllOrderStatuses {
		states[i] = domainwf.State(s)
	}
	return states
}

func reportStates() []domainwf.State {
	states := make([]domainwf.State, len(entity.AllReportStatuses))
	for i, s := range entity.AllReportStatuses {
		states[i] = domainwf.State(s)
	}
	return states
}

func st(s entity.OrderStatus) domainwf.State {
	return domainwf.State(s)
}

// BuildOrderStateMachine creates a state machine configured for the rental order lifecycle.
// finalizeGuard gates conferencia -> finalizado; nil permits it unconditionally.
func BuildOrderStateMachine(initial entity.OrderStatus, finalizeGuard domainwf.GuardFunc) domainwf.StateMachine {
	b := domainwf.NewBuilder(orderStates()...)

	// Preparation
	b.Configure(st(entity.OrderStatusSeparacao)).
		Permit(domainwf.TriggerAdvance, st(entity.OrderStatusProntoEnvio)).
		Permit(domainwf.TriggerCancel, st(entity.OrderStatusCancelado))

	b.Configure(st(entity.OrderStatusProntoEnvio)).
		Permit(domainwf.TriggerAdvance, st(entity.OrderStatusSolicitarLalamove)).
		Permit(domainwf.TriggerRevert, st(entity.OrderStatusSeparacao)).
		Permit(domainwf.TriggerCancel, st(entity.OrderStatusCancelado))

	// Outbound leg
	b.Configure(st(entity.OrderStatusSolicitarLalamove)).
		Permit(domainwf.TriggerAdvance, st(entity.OrderStatusAguardandoLalamove)).
		Permit(domainwf.TriggerRevert, st(entity.OrderStatusProntoEnvio))

	b.Configure(st(entity.OrderStatusAguardandoLalamove)).
		Permit(domainwf.TriggerAdvance, st(entity.OrderStatusAguardandoMotorista)).
		Permit(domainwf.TriggerRevert, st(entity.OrderStatusSolicitarLalamove))

	b.Configure(st(entity.OrderStatusAguardandoMotorista)).
		Permit(domainwf.TriggerAdvance, st(entity.OrderStatusIndoCliente)).
		Permit(domainwf.TriggerRevert, st(entity.OrderStatusAguardandoLalamove))

	b.Configure(st(entity.OrderStatusIndoCliente)).
		Permit(domainwf.TriggerAdvance, st(entity.OrderStatusEntregue)).
		Permit(domainwf.TriggerRevert, st(entity.OrderStatusAguardandoMotorista))

	// Customer use
	b.Configure(st(entity.OrderStatusEntregue)).
		Permit(domainwf.TriggerAdvance, st(entity.OrderStatusEmUso))

	b.Configure(st(entity.OrderStatusEmUso)).
		Permit(domainwf.TriggerAdvance, st(entity.OrderStatusDevolucaoSolicitada))

	// Return leg
	b.Configure(st(entity.OrderStatusDevolucaoSolicitada)).
		Permit(domainwf.TriggerAdvance, st(entity.OrderStatusAguardandoAceiteDevolucao)).
		Permit(domainwf.TriggerRevert, st(entity.OrderStatusEmUso))

	b.Configure(st(entity.OrderStatusAguardandoAceiteDevolucao)).
		Permit(domainwf.TriggerAdvance, st(entity.OrderStatusMotoristaIndoCliente)).
		Permit(domainwf.TriggerRevert, st(entity.OrderStatusDevolucaoSolicitada))

	b.Configure(st(entity.OrderStatusMotoristaIndoCliente)).
		Permit(domainwf.TriggerAdvance, st(entity.OrderStatusVoltandoLoja)).
		Permit(domainwf.TriggerRevert, st(entity.OrderStatusAguardandoAceiteDevolucao))

	b.Configure(st(entity.OrderStatusVoltandoLoja)).
		Permit(domainwf.TriggerAdvance, st(entity.OrderStatusConferencia)).
		Permit(domainwf.TriggerRevert, st(entity.OrderStatusMotoristaIndoCliente))

	// Inspection
	b.Configure(st(entity.OrderStatusConferencia)).
		PermitIf(domainwf.TriggerAdvance, st(entity.OrderStatusFinalizado), finalizeGuard).
		Permit(domainwf.TriggerRevert, st(entity.OrderStatusVoltandoLoja))

	// finalizado and cancelado are terminal

	return b.Build(st(initial))
}

// BuildDamageReportStateMachine creates a state machine for the damage report approval flow
func BuildDamageReportStateMachine(initial entity.ReportStatus) domainwf.StateMachine {
	b := domainwf.NewBuilder(reportStates()...)

	b.Configure(domainwf.State(entity.ReportStatusDraft)).
		Permit(domainwf.TriggerSubmit, domainwf.State(entity.ReportStatusSubmitted))

	b.Configure(domainwf.State(entity.ReportStatusSubmitted)).
		Permit(domainwf.TriggerApprove, domainwf.State(entity.ReportStatusApproved)).
		Permit(domainwf.TriggerReject, domainwf.State(entity.ReportStatusRejected))

	b.Configure(domainwf.State(entity.ReportStatusApproved)).
		Permit(domainwf.TriggerBill, domainwf.State(entity.ReportStatusBilled))

	// rejected and billed are terminal

	return b.Build(domainwf.State(initial))
}

// NextForward returns the single forward successor of an order state, if any
func NextForward(status entity.OrderStatus) (entity.OrderStatus, bool) {
	m := BuildOrderStateMachine(status, nil)
	for _, s := range m.PermittedStates() {
		next := entity.OrderStatus(s)
		if next != entity.OrderStatusCancelado && Position(next) > Position(status) {
			return next, true
		}
	}
	return "", false
}

// Position is the index of a state in fulfillment order, or -1 when unknown
func Position(status entity.OrderStatus) int {
	for i, s := range entity.AllOrderStatuses {
		if s == status {
			return i
		}
	}
	return -1
}

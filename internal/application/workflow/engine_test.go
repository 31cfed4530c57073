package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equiprent/rental-workflow/internal/application/dispatcher"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
	"github.com/equiprent/rental-workflow/internal/domain/event"
)

// Mock implementations

type mockOrderRepo struct {
	mu        sync.Mutex
	orders    map[int64]*entity.RentalOrder
	updateErr error
	updates   int
}

func newMockOrderRepo(orders ...*entity.RentalOrder) *mockOrderRepo {
	m := &mockOrderRepo{orders: make(map[int64]*entity.RentalOrder)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *mockOrderRepo) Create(ctx context.Context, order *entity.RentalOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order.Version = 1
	m.orders[order.ID] = order.Clone()
	return nil
}

func (m *mockOrderRepo) GetByID(ctx context.Context, id int64) (*entity.RentalOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return o.Clone(), nil
}

func (m *mockOrderRepo) GetByOrderNumber(ctx context.Context, orderNumber string) (*entity.RentalOrder, error) {
	return nil, nil
}

func (m *mockOrderRepo) GetByDispatchID(ctx context.Context, dispatchID string) (*entity.RentalOrder, error) {
	return nil, nil
}

func (m *mockOrderRepo) ListByStatus(ctx context.Context, statuses []entity.OrderStatus, limit int) ([]*entity.RentalOrder, error) {
	return nil, nil
}

func (m *mockOrderRepo) Update(ctx context.Context, order *entity.RentalOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.orders[order.ID]
	if !ok || stored.Version != order.Version {
		return errs.New(errs.KindConflict, "stale order")
	}
	order.Version++
	m.orders[order.ID] = order.Clone()
	m.updates++
	return nil
}

type mockReportRepo struct {
	open *entity.DamageReport
	err  error
}

func (m *mockReportRepo) Create(ctx context.Context, report *entity.DamageReport) error { return nil }

func (m *mockReportRepo) GetByID(ctx context.Context, id int64) (*entity.DamageReport, error) {
	return nil, nil
}

func (m *mockReportRepo) GetOpenByRentalID(ctx context.Context, rentalID int64) (*entity.DamageReport, error) {
	return m.open, m.err
}

func (m *mockReportRepo) ListByRentalID(ctx context.Context, rentalID int64) ([]*entity.DamageReport, error) {
	return nil, nil
}

func (m *mockReportRepo) Update(ctx context.Context, report *entity.DamageReport) error { return nil }

type mockTransitionRepo struct {
	mu      sync.Mutex
	records []*entity.TransitionRecord
}

func (m *mockTransitionRepo) Create(ctx context.Context, record *entity.TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *mockTransitionRepo) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.TransitionRecord, error) {
	return m.records, nil
}

type mockTxManager struct {
	commitErr error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	return fn(ctx)
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (m *mockDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (m *mockDispatcher) SubscribeAll(name string, handler dispatcher.Handler) {}

func (m *mockDispatcher) Unsubscribe(eventType event.Type, name string) {}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	_ = m.Dispatch(ctx, evt)
}

func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo {
	return nil
}

func (m *mockDispatcher) Close() error { return nil }

type countingLocker struct {
	mu       sync.Mutex
	acquired []string
}

func (l *countingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.acquired = append(l.acquired, key)
	l.mu.Unlock()
	return func() {}, nil
}

// Helpers

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testOrder(status entity.OrderStatus) *entity.RentalOrder {
	return &entity.RentalOrder{
		ID:             1,
		OrderNumber:    "ORD-0001",
		Status:         status,
		DeliveryMethod: entity.DeliveryMethodDelivery,
		Version:        3,
	}
}

type engineFixture struct {
	engine      OrderEngine
	orders      *mockOrderRepo
	reports     *mockReportRepo
	transitions *mockTransitionRepo
	dispatcher  *mockDispatcher
	locker      *countingLocker
}

func newEngineFixture(order *entity.RentalOrder) *engineFixture {
	f := &engineFixture{
		orders:      newMockOrderRepo(order),
		reports:     &mockReportRepo{},
		transitions: &mockTransitionRepo{},
		dispatcher:  &mockDispatcher{},
		locker:      &countingLocker{},
	}
	f.engine = NewOrderEngine(f.orders, f.reports, f.transitions, &mockTxManager{},
		WithDispatcher(f.dispatcher),
		WithLocker(f.locker),
		WithClock(func() time.Time { return fixedNow }),
	)
	return f
}

// Tests

func TestTransition_ForwardStepPersistsAndAudits(t *testing.T) {
	f := newEngineFixture(testOrder(entity.OrderStatusSeparacao))

	updated, err := f.engine.Transition(context.Background(), TransitionRequest{
		OrderID:         1,
		Target:          entity.OrderStatusProntoEnvio,
		Actor:           "alice",
		ExpectedVersion: 3,
	})

	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusProntoEnvio, updated.Status)
	assert.Equal(t, int64(4), updated.Version)
	assert.True(t, updated.ReceiptPrinted)
	require.NotNil(t, updated.ReceiptPrintedAt)
	assert.Equal(t, fixedNow, *updated.ReceiptPrintedAt)

	require.Len(t, f.transitions.records, 1)
	rec := f.transitions.records[0]
	assert.Equal(t, entity.EntityTypeOrder, rec.EntityType)
	assert.Equal(t, "separacao", rec.FromStatus)
	assert.Equal(t, "pronto_envio", rec.ToStatus)
	assert.Equal(t, "ADVANCE", rec.Action)
	assert.Equal(t, "alice", rec.Actor)
	assert.Equal(t, fixedNow, rec.Timestamp)

	require.Len(t, f.dispatcher.events, 1)
	assert.Equal(t, event.TypeOrderStatusChanged, f.dispatcher.events[0].Type)
	assert.Equal(t, "pronto_envio", f.dispatcher.events[0].GetPayloadString("new_status"))

	assert.Equal(t, []string{"order:1"}, f.locker.acquired)
}

func TestTransition_IllegalTargetLeavesOrderUntouched(t *testing.T) {
	f := newEngineFixture(testOrder(entity.OrderStatusEmUso))

	_, err := f.engine.Transition(context.Background(), TransitionRequest{
		OrderID: 1,
		Target:  entity.OrderStatusSeparacao,
		Actor:   "bob",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidTransition))

	stored, _ := f.orders.GetByID(context.Background(), 1)
	assert.Equal(t, entity.OrderStatusEmUso, stored.Status)
	assert.Equal(t, int64(3), stored.Version)
	assert.Empty(t, f.transitions.records)
	assert.Empty(t, f.dispatcher.events)
}

func TestTransition_CancelOnlyFromEarlyStates(t *testing.T) {
	for _, status := range entity.AllOrderStatuses {
		t.Run(string(status), func(t *testing.T) {
			f := newEngineFixture(testOrder(status))

			_, err := f.engine.Transition(context.Background(), TransitionRequest{
				OrderID: 1,
				Target:  entity.OrderStatusCancelado,
				Actor:   "ops",
			})

			if status == entity.OrderStatusSeparacao || status == entity.OrderStatusProntoEnvio {
				assert.NoError(t, err)
			} else {
				assert.True(t, errs.IsKind(err, errs.KindInvalidTransition), "got %v", err)
			}
		})
	}
}

func TestTransition_StaleVersionConflicts(t *testing.T) {
	f := newEngineFixture(testOrder(entity.OrderStatusSeparacao))

	_, err := f.engine.Transition(context.Background(), TransitionRequest{
		OrderID:         1,
		Target:          entity.OrderStatusProntoEnvio,
		ExpectedVersion: 2,
	})

	assert.True(t, errors.Is(err, errs.ErrConflict))
	assert.Equal(t, 0, f.orders.updates)
}

func TestTransition_TerminalStatesRejectEverything(t *testing.T) {
	for _, status := range []entity.OrderStatus{entity.OrderStatusFinalizado, entity.OrderStatusCancelado} {
		f := newEngineFixture(testOrder(status))
		for _, target := range entity.AllOrderStatuses {
			_, err := f.engine.Transition(context.Background(), TransitionRequest{OrderID: 1, Target: target})
			assert.True(t, errs.IsKind(err, errs.KindInvalidTransition), "%s -> %s", status, target)
		}
	}
}

func TestTransition_FinalizeGuard(t *testing.T) {
	tests := []struct {
		name       string
		inspected  bool
		openReport *entity.DamageReport
		wantErr    bool
	}{
		{name: "no open report", wantErr: false},
		{name: "inspection completed with open report", inspected: true, openReport: &entity.DamageReport{ID: 9}, wantErr: false},
		{name: "open report and no inspection", openReport: &entity.DamageReport{ID: 9}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := testOrder(entity.OrderStatusConferencia)
			order.InspectionCompleted = tt.inspected
			f := newEngineFixture(order)
			f.reports.open = tt.openReport

			_, err := f.engine.Transition(context.Background(), TransitionRequest{
				OrderID: 1,
				Target:  entity.OrderStatusFinalizado,
			})

			if tt.wantErr {
				assert.True(t, errs.IsKind(err, errs.KindInvalidTransition))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransition_MutateLandsInSameUpdate(t *testing.T) {
	f := newEngineFixture(testOrder(entity.OrderStatusAguardandoLalamove))

	updated, err := f.engine.Transition(context.Background(), TransitionRequest{
		OrderID: 1,
		Target:  entity.OrderStatusAguardandoMotorista,
		Mutate: func(o *entity.RentalOrder) error {
			o.OutboundDispatchID = "LL-42"
			return nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "LL-42", updated.OutboundDispatchID)
	assert.Equal(t, 1, f.orders.updates)
}

func TestTransition_MutateErrorAborts(t *testing.T) {
	f := newEngineFixture(testOrder(entity.OrderStatusAguardandoLalamove))
	boom := errors.New("boom")

	_, err := f.engine.Transition(context.Background(), TransitionRequest{
		OrderID: 1,
		Target:  entity.OrderStatusAguardandoMotorista,
		Mutate:  func(o *entity.RentalOrder) error { return boom },
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, f.orders.updates)
	assert.Empty(t, f.transitions.records)
}

func TestTransition_NotFoundAndUnknownTarget(t *testing.T) {
	f := newEngineFixture(testOrder(entity.OrderStatusSeparacao))

	_, err := f.engine.Transition(context.Background(), TransitionRequest{OrderID: 99, Target: entity.OrderStatusProntoEnvio})
	assert.True(t, errs.IsKind(err, errs.KindNotFound))

	_, err = f.engine.Transition(context.Background(), TransitionRequest{OrderID: 1, Target: "shipped"})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestTransition_NestedLockIsReentrant(t *testing.T) {
	f := newEngineFixture(testOrder(entity.OrderStatusSeparacao))

	err := WithEntityLock(context.Background(), f.locker, OrderLockKey(1), func(ctx context.Context) error {
		_, err := f.engine.Transition(ctx, TransitionRequest{OrderID: 1, Target: entity.OrderStatusProntoEnvio})
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"order:1"}, f.locker.acquired)
}

func TestAllowedTargets(t *testing.T) {
	f := newEngineFixture(testOrder(entity.OrderStatusProntoEnvio))

	targets, err := f.engine.AllowedTargets(context.Background(), 1)

	require.NoError(t, err)
	assert.ElementsMatch(t, []entity.OrderStatus{
		entity.OrderStatusSolicitarLalamove,
		entity.OrderStatusSeparacao,
		entity.OrderStatusCancelado,
	}, targets)
}

package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/equiprent/rental-workflow/internal/application/dispatcher"
	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/application/workflow"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
	"github.com/equiprent/rental-workflow/internal/domain/event"
	"github.com/equiprent/rental-workflow/internal/infrastructure/lock"
)

// In-memory repositories with optimistic versioning

type memOrderRepo struct {
	mu     sync.Mutex
	nextID int64
	orders map[int64]*entity.RentalOrder
}

func newMemOrderRepo(orders ...*entity.RentalOrder) *memOrderRepo {
	r := &memOrderRepo{orders: make(map[int64]*entity.RentalOrder)}
	for _, o := range orders {
		if o.Version == 0 {
			o.Version = 1
		}
		r.orders[o.ID] = o.Clone()
		if o.ID > r.nextID {
			r.nextID = o.ID
		}
	}
	return r
}

func (r *memOrderRepo) Create(ctx context.Context, order *entity.RentalOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	order.ID = r.nextID
	order.Version = 1
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *memOrderRepo) GetByID(ctx context.Context, id int64) (*entity.RentalOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		return o.Clone(), nil
	}
	return nil, nil
}

func (r *memOrderRepo) GetByOrderNumber(ctx context.Context, orderNumber string) (*entity.RentalOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OrderNumber == orderNumber {
			return o.Clone(), nil
		}
	}
	return nil, nil
}

func (r *memOrderRepo) GetByDispatchID(ctx context.Context, dispatchID string) (*entity.RentalOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OutboundDispatchID == dispatchID || o.ReturnDispatchID == dispatchID {
			return o.Clone(), nil
		}
	}
	return nil, nil
}

func (r *memOrderRepo) ListByStatus(ctx context.Context, statuses []entity.OrderStatus, limit int) ([]*entity.RentalOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.RentalOrder
	for _, o := range r.orders {
		for _, s := range statuses {
			if o.Status == s {
				out = append(out, o.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memOrderRepo) Update(ctx context.Context, order *entity.RentalOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.ID]
	if !ok || stored.Version != order.Version {
		return errs.New(errs.KindConflict, "order %d was modified concurrently", order.ID)
	}
	order.Version++
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *memOrderRepo) status(id int64) entity.OrderStatus {
	o, _ := r.GetByID(context.Background(), id)
	return o.Status
}

type memReportRepo struct {
	mu      sync.Mutex
	nextID  int64
	reports map[int64]*entity.DamageReport
}

func newMemReportRepo(reports ...*entity.DamageReport) *memReportRepo {
	r := &memReportRepo{reports: make(map[int64]*entity.DamageReport)}
	for _, rep := range reports {
		if rep.Version == 0 {
			rep.Version = 1
		}
		r.reports[rep.ID] = rep.Clone()
		if rep.ID > r.nextID {
			r.nextID = rep.ID
		}
	}
	return r
}

func (r *memReportRepo) Create(ctx context.Context, report *entity.DamageReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	report.ID = r.nextID
	report.Version = 1
	r.reports[report.ID] = report.Clone()
	return nil
}

func (r *memReportRepo) GetByID(ctx context.Context, id int64) (*entity.DamageReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rep, ok := r.reports[id]; ok {
		return rep.Clone(), nil
	}
	return nil, nil
}

func (r *memReportRepo) GetOpenByRentalID(ctx context.Context, rentalID int64) (*entity.DamageReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.reports {
		if rep.RentalID == rentalID && !rep.Status.IsTerminal() {
			return rep.Clone(), nil
		}
	}
	return nil, nil
}

func (r *memReportRepo) ListByRentalID(ctx context.Context, rentalID int64) ([]*entity.DamageReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.DamageReport
	for _, rep := range r.reports {
		if rep.RentalID == rentalID {
			out = append(out, rep.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memReportRepo) Update(ctx context.Context, report *entity.DamageReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.reports[report.ID]
	if !ok || stored.Version != report.Version {
		return errs.New(errs.KindConflict, "damage report %d was modified concurrently", report.ID)
	}
	report.Version++
	r.reports[report.ID] = report.Clone()
	return nil
}

type memBillingRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*entity.BillingRecord
}

func newMemBillingRepo() *memBillingRepo {
	return &memBillingRepo{records: make(map[int64]*entity.BillingRecord)}
}

func (r *memBillingRepo) Create(ctx context.Context, record *entity.BillingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.ReportID == record.ReportID {
			return errs.New(errs.KindAlreadyBilled, "report %d already has a billing record", record.ReportID)
		}
	}
	r.nextID++
	record.ID = r.nextID
	c := *record
	r.records[record.ID] = &c
	return nil
}

func (r *memBillingRepo) GetByReference(ctx context.Context, reference string) (*entity.BillingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Reference == reference {
			c := *rec
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memBillingRepo) GetByReportID(ctx context.Context, reportID int64) (*entity.BillingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ReportID == reportID {
			c := *rec
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memBillingRepo) ListPendingRemote(ctx context.Context, limit int) ([]*entity.BillingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.BillingRecord
	for _, rec := range r.records {
		if rec.Status == entity.BillingStatusPending && rec.ChargeID != "" {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memBillingRepo) UpdateStatus(ctx context.Context, id int64, status entity.BillingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return errs.NotFound("billing", id)
	}
	rec.Status = status
	return nil
}

type memTransitionRepo struct {
	mu      sync.Mutex
	records []*entity.TransitionRecord
}

func (r *memTransitionRepo) Create(ctx context.Context, record *entity.TransitionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.ID = int64(len(r.records) + 1)
	r.records = append(r.records, record)
	return nil
}

func (r *memTransitionRepo) ListByEntity(ctx context.Context, entityType string, entityID int64) ([]*entity.TransitionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.TransitionRecord
	for _, rec := range r.records {
		if rec.EntityType == entityType && rec.EntityID == entityID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memTransitionRepo) forEntity(entityType string, id int64) []*entity.TransitionRecord {
	out, _ := r.ListByEntity(context.Background(), entityType, id)
	return out
}

type mockTxManager struct {
	withTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.withTransactionFunc != nil {
		return m.withTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// Collaborators

type mockDeliveryProvider struct {
	requestDeliveryFunc func(ctx context.Context, req port.DeliveryRequest) (*port.DispatchResult, error)
	requestPickupFunc   func(ctx context.Context, req port.DeliveryRequest) (*port.DispatchResult, error)
	cancelFunc          func(ctx context.Context, dispatchID string) error
	getStatusFunc       func(ctx context.Context, dispatchID string) (string, error)

	mu    sync.Mutex
	calls []string
}

func (m *mockDeliveryProvider) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockDeliveryProvider) RequestDelivery(ctx context.Context, req port.DeliveryRequest) (*port.DispatchResult, error) {
	m.record("RequestDelivery")
	if m.requestDeliveryFunc != nil {
		return m.requestDeliveryFunc(ctx, req)
	}
	return &port.DispatchResult{DispatchID: "LL-OUT-1", TrackingRef: "https://track/LL-OUT-1", DriverInfo: "Joao", Status: "ASSIGNING_DRIVER"}, nil
}

func (m *mockDeliveryProvider) RequestPickup(ctx context.Context, req port.DeliveryRequest) (*port.DispatchResult, error) {
	m.record("RequestPickup")
	if m.requestPickupFunc != nil {
		return m.requestPickupFunc(ctx, req)
	}
	return &port.DispatchResult{DispatchID: "LL-RET-1", TrackingRef: "https://track/LL-RET-1", Status: "ASSIGNING_DRIVER"}, nil
}

func (m *mockDeliveryProvider) Cancel(ctx context.Context, dispatchID string) error {
	m.record("Cancel")
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, dispatchID)
	}
	return nil
}

func (m *mockDeliveryProvider) GetStatus(ctx context.Context, dispatchID string) (string, error) {
	m.record("GetStatus")
	if m.getStatusFunc != nil {
		return m.getStatusFunc(ctx, dispatchID)
	}
	return "ON_GOING", nil
}

type mockPaymentGateway struct {
	findOrCreateCustomerFunc func(ctx context.Context, customer port.CustomerRef) (string, error)
	createChargeFunc         func(ctx context.Context, req port.ChargeRequest) (*port.ChargeResult, error)
	getChargeFunc            func(ctx context.Context, chargeID string) (*port.ChargeResult, error)

	mu         sync.Mutex
	charges    []port.ChargeRequest
	getCharges int
}

func (m *mockPaymentGateway) FindOrCreateCustomer(ctx context.Context, customer port.CustomerRef) (string, error) {
	if m.findOrCreateCustomerFunc != nil {
		return m.findOrCreateCustomerFunc(ctx, customer)
	}
	return "cus_001", nil
}

func (m *mockPaymentGateway) CreateCharge(ctx context.Context, req port.ChargeRequest) (*port.ChargeResult, error) {
	m.mu.Lock()
	m.charges = append(m.charges, req)
	m.mu.Unlock()
	if m.createChargeFunc != nil {
		return m.createChargeFunc(ctx, req)
	}
	return &port.ChargeResult{
		ChargeID:   "pay_001",
		Status:     "PENDING",
		PaymentURL: "https://pay/pay_001",
		PixCode:    "00020126PIX",
	}, nil
}

func (m *mockPaymentGateway) GetCharge(ctx context.Context, chargeID string) (*port.ChargeResult, error) {
	m.mu.Lock()
	m.getCharges++
	m.mu.Unlock()
	if m.getChargeFunc != nil {
		return m.getChargeFunc(ctx, chargeID)
	}
	return &port.ChargeResult{ChargeID: chargeID, Status: "PENDING"}, nil
}

type mockNotifier struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (m *mockNotifier) NotifyOperators(ctx context.Context, title, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = append(m.titles, title)
	return m.err
}

type mockExporter struct {
	report *entity.DamageReport
	record *entity.BillingRecord
}

func (m *mockExporter) ExportDamageStatement(ctx context.Context, report *entity.DamageReport, record *entity.BillingRecord) ([]byte, error) {
	m.report, m.record = report, record
	return []byte("xlsx"), nil
}

type mockPublisher struct {
	mu       sync.Mutex
	keys     []string
	payloads [][]byte
	err      error
}

func (m *mockPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, key)
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (d *recordingDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}
func (d *recordingDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}
func (d *recordingDispatcher) SubscribeAll(name string, handler dispatcher.Handler) {}
func (d *recordingDispatcher) Unsubscribe(eventType event.Type, name string)       {}
func (d *recordingDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
	return nil
}
func (d *recordingDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	_ = d.Dispatch(ctx, evt)
}
func (d *recordingDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo {
	return nil
}
func (d *recordingDispatcher) Close() error { return nil }

func (d *recordingDispatcher) types() []event.Type {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]event.Type, len(d.events))
	for i, e := range d.events {
		out[i] = e.Type
	}
	return out
}

// Fixture wiring every service against the in-memory stores

var testNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

type fixture struct {
	orders      *memOrderRepo
	reports     *memReportRepo
	billing     *memBillingRepo
	transitions *memTransitionRepo
	provider    *mockDeliveryProvider
	gateway     *mockPaymentGateway
	notifier    *mockNotifier
	exporter    *mockExporter
	dispatcher  *recordingDispatcher
	locker      *lock.MemoryLocker

	engine      workflow.OrderEngine
	orderSvc    OrderService
	reportSvc   DamageReportService
	dispatchSvc DispatchService
	billingSvc  BillingService
	coordinator Coordinator
}

func newFixture(orders []*entity.RentalOrder, reports ...*entity.DamageReport) *fixture {
	f := &fixture{
		orders:      newMemOrderRepo(orders...),
		reports:     newMemReportRepo(reports...),
		billing:     newMemBillingRepo(),
		transitions: &memTransitionRepo{},
		provider:    &mockDeliveryProvider{},
		gateway:     &mockPaymentGateway{},
		notifier:    &mockNotifier{},
		exporter:    &mockExporter{},
		dispatcher:  &recordingDispatcher{},
		locker:      lock.NewMemoryLocker(),
	}

	tx := &mockTxManager{}
	logger := &mockLogger{}
	clock := func() time.Time { return testNow }
	opts := []Option{WithDispatcher(f.dispatcher), WithLocker(f.locker), WithClock(clock)}

	f.engine = workflow.NewOrderEngine(f.orders, f.reports, f.transitions, tx,
		workflow.WithDispatcher(f.dispatcher),
		workflow.WithLocker(f.locker),
		workflow.WithClock(clock),
	)
	f.orderSvc = NewOrderService(f.orders, f.reports, f.transitions, tx, logger, opts...)
	f.reportSvc = NewDamageReportService(f.orders, f.reports, f.transitions, tx, logger, opts...)
	f.dispatchSvc = NewDispatchService(f.orders, f.engine, f.provider, "Rua da Loja 1", logger, opts...)
	f.billingSvc = NewBillingService(f.orders, f.reports, f.billing, f.transitions, tx, f.reportSvc,
		f.gateway, f.notifier, BillingConfig{OfflinePaymentURL: "https://pay.local/offline"}, logger, opts...)
	f.coordinator = NewCoordinator(CoordinatorDeps{
		Engine:      f.engine,
		Orders:      f.orderSvc,
		Dispatch:    f.dispatchSvc,
		Reports:     f.reportSvc,
		Billing:     f.billingSvc,
		BillingRepo: f.billing,
		Exporter:    f.exporter,
		Logger:      logger,
	})
	return f
}

func orderIn(id int64, status entity.OrderStatus) *entity.RentalOrder {
	return &entity.RentalOrder{
		ID:               id,
		OrderNumber:      "ORD-" + string(rune('A'+id)),
		Status:           status,
		Items:            []entity.OrderItem{{EquipmentID: "EQ-1", Name: "Betoneira", Quantity: 1}},
		CustomerName:     "Maria Silva",
		CustomerDocument: "12345678909",
		CustomerEmail:    "maria@example.com",
		DeliveryMethod:   entity.DeliveryMethodDelivery,
		DeliveryAddress:  "Av. Paulista 1000",
		Version:          1,
	}
}

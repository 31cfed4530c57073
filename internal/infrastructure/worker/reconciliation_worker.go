package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/application/service"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
)

// dispatchStatuses are the order states waiting on the delivery provider
var dispatchStatuses = []entity.OrderStatus{
	entity.OrderStatusAguardandoLalamove,
	entity.OrderStatusAguardandoMotorista,
	entity.OrderStatusIndoCliente,
	entity.OrderStatusAguardandoAceiteDevolucao,
	entity.OrderStatusMotoristaIndoCliente,
	entity.OrderStatusVoltandoLoja,
}

type pendingRefresher interface {
	RefreshPending(ctx context.Context, limit int) (int, error)
}

type orderLister interface {
	ListByStatus(ctx context.Context, statuses []entity.OrderStatus, limit int) ([]*entity.RentalOrder, error)
}

type dispatchSyncer interface {
	SyncDispatchStatus(ctx context.Context, orderID int64) (*service.ReconcileResult, error)
}

// ReconciliationConfig configures the reconciliation schedule
type ReconciliationConfig struct {
	Schedule   string // cron spec with seconds, or a descriptor such as "@every 1m"
	BatchSize  int
	RunTimeout time.Duration
}

// ReconciliationWorker periodically pulls provider and gateway state for
// records a webhook may have missed
type ReconciliationWorker struct {
	billing  pendingRefresher
	orders   orderLister
	dispatch dispatchSyncer
	cfg      ReconciliationConfig
	logger   *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
	ctx  context.Context
}

// ReconcileStats summarizes one run
type ReconcileStats struct {
	BillingUpdated int
	OrdersChecked  int
	OrdersAdvanced int
	Errors         int
}

// NewReconciliationWorker creates the worker
func NewReconciliationWorker(billing pendingRefresher, orders orderLister, dispatch dispatchSyncer, cfg ReconciliationConfig, logger *zap.Logger) *ReconciliationWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Second
	}
	return &ReconciliationWorker{
		billing:  billing,
		orders:   orders,
		dispatch: dispatch,
		cfg:      cfg,
		logger:   logger,
	}
}

// Name returns the worker name for identification
func (w *ReconciliationWorker) Name() string {
	return "ReconciliationWorker"
}

// Start registers the job and starts the scheduler
func (w *ReconciliationWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		return fmt.Errorf("reconciliation worker is already running")
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(w.cfg.Schedule, w.tick); err != nil {
		return fmt.Errorf("invalid reconciliation schedule %q: %w", w.cfg.Schedule, err)
	}

	w.ctx = ctx
	w.cron = c
	c.Start()

	w.logger.Info("ReconciliationWorker started",
		zap.String("schedule", w.cfg.Schedule),
		zap.Int("batch_size", w.cfg.BatchSize))
	return nil
}

// Stop stops the scheduler and waits for a running job to finish
func (w *ReconciliationWorker) Stop() error {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	w.logger.Info("ReconciliationWorker stopped")
	return nil
}

func (w *ReconciliationWorker) tick() {
	w.mu.Lock()
	parent := w.ctx
	w.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, w.cfg.RunTimeout)
	defer cancel()
	w.RunOnce(ctx)
}

// RunOnce performs one reconciliation pass. Every step is safe to repeat.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) ReconcileStats {
	var stats ReconcileStats

	updated, err := w.billing.RefreshPending(ctx, w.cfg.BatchSize)
	if err != nil {
		stats.Errors++
		w.logger.Error("Failed to refresh pending billing", zap.Error(err))
	}
	stats.BillingUpdated = updated

	orders, err := w.orders.ListByStatus(ctx, dispatchStatuses, w.cfg.BatchSize)
	if err != nil {
		stats.Errors++
		w.logger.Error("Failed to list orders in dispatch", zap.Error(err))
		return stats
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		stats.OrdersChecked++

		result, err := w.dispatch.SyncDispatchStatus(ctx, order.ID)
		if err != nil {
			stats.Errors++
			w.logger.Warn("Failed to sync dispatch status",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
			continue
		}
		if result != nil && len(result.Applied) > 0 {
			stats.OrdersAdvanced++
		}
	}

	if stats.BillingUpdated > 0 || stats.OrdersAdvanced > 0 || stats.Errors > 0 {
		w.logger.Info("Reconciliation pass finished",
			zap.Int("billing_updated", stats.BillingUpdated),
			zap.Int("orders_checked", stats.OrdersChecked),
			zap.Int("orders_advanced", stats.OrdersAdvanced),
			zap.Int("errors", stats.Errors))
	}
	return stats
}

var _ Worker = (*ReconciliationWorker)(nil)

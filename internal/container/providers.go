package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/application/dispatcher"
	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/application/service"
	"github.com/equiprent/rental-workflow/internal/application/workflow"
	"github.com/equiprent/rental-workflow/internal/domain/event"
	"github.com/equiprent/rental-workflow/internal/infrastructure/export"
	"github.com/equiprent/rental-workflow/internal/infrastructure/external/asaas"
	infraLark "github.com/equiprent/rental-workflow/internal/infrastructure/external/lark"
	"github.com/equiprent/rental-workflow/internal/infrastructure/external/lalamove"
	"github.com/equiprent/rental-workflow/internal/infrastructure/lock"
	"github.com/equiprent/rental-workflow/internal/infrastructure/messaging"
	"github.com/equiprent/rental-workflow/internal/infrastructure/persistence/repository"
	"github.com/equiprent/rental-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/equiprent/rental-workflow/internal/infrastructure/worker"
	"github.com/equiprent/rental-workflow/migrations"
	"github.com/equiprent/rental-workflow/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ExternalBundle holds the adapters for remote collaborators.
type ExternalBundle struct {
	Delivery  port.DeliveryProvider
	Payments  port.PaymentGateway
	Notifier  port.OperatorNotifier
	Exporter  port.StatementExporter
	Publisher port.EventPublisher // nil when the event stream is disabled
}

// ProvideDatabase opens the SQLite database and applies the embedded migrations.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.NewMigrator(db, logger).Run(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Order:      repository.NewOrderRepository(db.DB, logger),
		Report:     repository.NewDamageReportRepository(db.DB, logger),
		Billing:    repository.NewBillingRepository(db.DB, logger),
		Transition: repository.NewTransitionRepository(db.DB, logger),
	}, nil
}

// ProvideLocker selects the Redis locker when an address is configured and
// the in-process locker otherwise.
func ProvideLocker(cfg *RedisConfig, logger *zap.Logger) port.Locker {
	if cfg == nil || cfg.Addr == "" {
		logger.Info("Using in-process entity locks")
		return lock.NewMemoryLocker()
	}

	logger.Info("Using Redis entity locks", zap.String("addr", cfg.Addr))
	client := lock.NewRedisClient(cfg.Addr, cfg.Password, cfg.DB)
	return lock.NewRedisLocker(client, lock.RedisConfig{TTL: cfg.LockTTL}, logger)
}

// ProvideExternal creates the delivery, payment, alerting, export and stream adapters.
func ProvideExternal(cfg *Config, logger *zap.Logger) (*ExternalBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	bundle := &ExternalBundle{
		Delivery: lalamove.NewClient(lalamove.Config{
			BaseURL:     cfg.Lalamove.BaseURL,
			APIKey:      cfg.Lalamove.APIKey,
			APISecret:   cfg.Lalamove.APISecret,
			Market:      cfg.Lalamove.Market,
			ServiceType: cfg.Lalamove.ServiceType,
			Language:    cfg.Lalamove.Language,
			StoreName:   cfg.Store.Name,
			StorePhone:  cfg.Store.Phone,
			Timeout:     cfg.Lalamove.Timeout,
		}, logger),
		Payments: asaas.NewClient(asaas.Config{
			BaseURL: cfg.Asaas.BaseURL,
			APIKey:  cfg.Asaas.APIKey,
			Timeout: cfg.Asaas.Timeout,
		}, logger),
		Exporter: export.NewStatementExporter(logger),
	}

	larkCfg := infraLark.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
		ChatID:    cfg.Lark.ChatID,
	}
	if larkCfg.Enabled() {
		bundle.Notifier = infraLark.NewNotifier(infraLark.NewSDKClient(larkCfg, logger), logger)
	} else {
		logger.Info("Lark not configured, operator alerts go to the log")
		bundle.Notifier = infraLark.NewLogNotifier(logger)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		bundle.Publisher = messaging.NewKafkaPublisher(messaging.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, logger)
	}

	return bundle, nil
}

// ProvideDispatcher creates the event dispatcher and subscribes the stream
// and alert handlers.
func ProvideDispatcher(external *ExternalBundle, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if external == nil {
		return nil, fmt.Errorf("external bundle is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	adapter := &zapLoggerAdapter{logger: logger}
	disp := dispatcher.NewDispatcher(dispatcher.WithLogger(adapter))

	if external.Publisher != nil {
		disp.SubscribeAll("event_stream", service.NewEventStreamHandler(external.Publisher, adapter))
	}
	disp.SubscribeNamed(event.TypeBillingStatusChanged, "overdue_alert",
		service.NewOverdueAlertHandler(external.Notifier, adapter))

	return disp, nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Locker     port.Locker
	External   *ExternalBundle
	Dispatcher dispatcher.Dispatcher
	Store      StoreConfig
	Billing    BillingConfig
	Logger     *zap.Logger
}

// ProvideServices creates the order engine, the workflow services and the coordinator.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.External == nil {
		return nil, fmt.Errorf("external bundle is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}
	opts := []service.Option{
		service.WithDispatcher(deps.Dispatcher),
		service.WithLocker(deps.Locker),
	}

	engine := workflow.NewOrderEngine(
		deps.Repos.Order,
		deps.Repos.Report,
		deps.Repos.Transition,
		deps.TxManager,
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLocker(deps.Locker),
	)

	orders := service.NewOrderService(
		deps.Repos.Order,
		deps.Repos.Report,
		deps.Repos.Transition,
		deps.TxManager,
		serviceLogger,
		opts...,
	)
	dispatch := service.NewDispatchService(
		deps.Repos.Order,
		engine,
		deps.External.Delivery,
		deps.Store.Address,
		serviceLogger,
		opts...,
	)
	reports := service.NewDamageReportService(
		deps.Repos.Order,
		deps.Repos.Report,
		deps.Repos.Transition,
		deps.TxManager,
		serviceLogger,
		opts...,
	)
	billing := service.NewBillingService(
		deps.Repos.Order,
		deps.Repos.Report,
		deps.Repos.Billing,
		deps.Repos.Transition,
		deps.TxManager,
		reports,
		deps.External.Payments,
		deps.External.Notifier,
		service.BillingConfig{
			DefaultDueDays:    deps.Billing.DefaultDueDays,
			OfflinePaymentURL: deps.Billing.OfflinePaymentURL,
		},
		serviceLogger,
		opts...,
	)

	coordinator := service.NewCoordinator(service.CoordinatorDeps{
		Engine:      engine,
		Orders:      orders,
		Dispatch:    dispatch,
		Reports:     reports,
		Billing:     billing,
		BillingRepo: deps.Repos.Billing,
		Exporter:    deps.External.Exporter,
		Logger:      serviceLogger,
	})

	return &ServiceBundle{
		Engine:      engine,
		Orders:      orders,
		Dispatch:    dispatch,
		Reports:     reports,
		Billing:     billing,
		Coordinator: coordinator,
	}, nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Repos     *RepositoryBundle
	Services  *ServiceBundle
	WorkerCfg *ReconciliationConfig
	Logger    *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.WorkerManager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Services == nil {
		return nil, fmt.Errorf("services are required")
	}
	if deps.WorkerCfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	if deps.WorkerCfg.Schedule == "" {
		deps.Logger.Info("Reconciliation worker disabled")
		return manager, nil
	}

	reconciler := worker.NewReconciliationWorker(
		deps.Services.Billing,
		deps.Repos.Order,
		deps.Services.Dispatch,
		worker.ReconciliationConfig{
			Schedule:   deps.WorkerCfg.Schedule,
			BatchSize:  deps.WorkerCfg.BatchSize,
			RunTimeout: deps.WorkerCfg.RunTimeout,
		},
		deps.Logger,
	)
	manager.Register(reconciler)

	return manager, nil
}

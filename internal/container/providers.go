package container

import (
	"context"
	"fmt"

	"github.com/garyjia/invoice-reconciler/internal/application/dispatcher"
	"github.com/garyjia/invoice-reconciler/internal/application/port"
	"github.com/garyjia/invoice-reconciler/internal/application/service"
	"github.com/garyjia/invoice-reconciler/internal/domain/event"
	"github.com/garyjia/invoice-reconciler/internal/infrastructure/export"
	"github.com/garyjia/invoice-reconciler/internal/infrastructure/persistence/repository"
	"github.com/garyjia/invoice-reconciler/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-reconciler/internal/infrastructure/storage"
	"github.com/garyjia/invoice-reconciler/internal/infrastructure/worker"
	"github.com/garyjia/invoice-reconciler/migrations"
	"github.com/garyjia/invoice-reconciler/pkg/database"
	"github.com/garyjia/invoice-reconciler/pkg/utils"
	"go.uber.org/zap"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// StorageBundle holds storage-related components.
type StorageBundle struct {
	FileStorage *storage.LocalFileStorage
	Exporter    port.InvoiceExporter
}

// WorkerBundle holds the worker manager and the workers it runs.
type WorkerBundle struct {
	Manager *worker.WorkerManager
	Sweeper *worker.SweepWorker // nil when sweeps are disabled
}

// ServiceDeps holds dependencies for creating services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Storage    *StorageBundle
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideDatabase opens the database, applies pending migrations and wraps
// the connection in a transaction manager. Migrations come from
// cfg.MigrationsDir when set, otherwise from the embedded schema.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
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

	migrator := database.NewMigrator(db, logger)
	if cfg.MigrationsDir != "" {
		err = migrator.RunMigrationsFromDir(cfg.MigrationsDir)
	} else {
		err = migrator.RunMigrations(migrations.FS)
	}
	if err != nil {
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
		Invoice: repository.NewInvoiceRepository(db.DB, logger),
	}, nil
}

// ProvideStorage creates the export file storage and the workbook exporter.
func ProvideStorage(cfg *StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &StorageBundle{
		FileStorage: storage.NewLocalFileStorage(cfg.ExportDir, logger),
		Exporter:    export.NewWorkbookExporter(logger),
	}, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKeyValueLogger(logger.Named("dispatcher"))),
	), nil
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil || deps.Repos.Invoice == nil {
		return nil, fmt.Errorf("invoice repository is required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	var (
		exporter    port.InvoiceExporter
		fileStorage port.FileStorage
	)
	if deps.Storage != nil {
		exporter = deps.Storage.Exporter
		fileStorage = deps.Storage.FileStorage
	}

	return &ServiceBundle{
		Invoice: service.NewInvoiceService(
			deps.Repos.Invoice,
			deps.TxManager,
			exporter,
			fileStorage,
			deps.Dispatcher,
			utils.NewKeyValueLogger(deps.Logger.Named("invoice")),
		),
	}, nil
}

// ProvideWorkers creates the worker manager and registers the verification
// sweep when cfg.SweepInterval is positive. Workers are not started.
func ProvideWorkers(cfg *WorkerConfig, repos *RepositoryBundle, logger *zap.Logger) (*WorkerBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if repos == nil || repos.Invoice == nil {
		return nil, fmt.Errorf("invoice repository is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	bundle := &WorkerBundle{Manager: worker.NewWorkerManager(logger.Named("workers"))}
	if cfg.SweepInterval > 0 {
		bundle.Sweeper = worker.NewSweepWorker(worker.SweepWorkerConfig{
			Interval:  cfg.SweepInterval,
			BatchSize: cfg.SweepBatchSize,
		}, repos.Invoice, logger.Named("sweep"))
		bundle.Manager.Register(bundle.Sweeper)
	}
	return bundle, nil
}

// RegisterEventHandlers subscribes the built-in handlers: discrepancies are
// logged for review, and exports of a deleted invoice are removed.
func RegisterEventHandlers(disp dispatcher.Dispatcher, files *storage.LocalFileStorage, logger *zap.Logger) {
	disp.SubscribeNamed(event.TypeDiscrepancyDetected, "discrepancy-log", func(ctx context.Context, evt *event.Event) error {
		logger.Warn("Discrepancy detected",
			zap.String("invoice_id", evt.InvoiceID),
			zap.String("supplier_name", evt.GetPayloadString("supplier_name")),
			zap.String("document_number", evt.GetPayloadString("document_number")),
			zap.Float64("net_gap", evt.GetPayloadFloat("net_gap")),
			zap.Float64("gross_gap", evt.GetPayloadFloat("gross_gap")),
			zap.String("correlation_id", evt.CorrelationID))
		return nil
	})

	if files == nil {
		return
	}
	disp.SubscribeNamed(event.TypeInvoiceDeleted, "export-cleanup", func(ctx context.Context, evt *event.Event) error {
		if evt.InvoiceID == "" {
			return nil
		}
		if err := files.DeleteDir(ctx, evt.InvoiceID); err != nil {
			return fmt.Errorf("failed to remove exports of %s: %w", evt.InvoiceID, err)
		}
		return nil
	})
}

package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/invoice-reconciler/internal/application/port"
	"github.com/garyjia/invoice-reconciler/internal/domain/reconcile"
	"go.uber.org/zap"
)

// SweepWorkerConfig holds configuration for the verification sweep
type SweepWorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultSweepWorkerConfig returns default configuration
func DefaultSweepWorkerConfig() SweepWorkerConfig {
	return SweepWorkerConfig{
		Interval:  15 * time.Minute,
		BatchSize: 100,
	}
}

// SweepStats summarizes the last completed sweep
type SweepStats struct {
	LastRun      time.Time     `json:"last_run"`
	Duration     time.Duration `json:"duration"`
	Checked      int           `json:"checked"`
	Inconsistent int           `json:"inconsistent"`
	Runs         int           `json:"runs"`
	LastError    string        `json:"last_error,omitempty"`
}

// SweepWorker periodically re-verifies every stored invoice and logs the
// ones whose declared totals disagree with their lines. It only reads.
type SweepWorker struct {
	config SweepWorkerConfig
	repo   port.InvoiceRepository
	logger *zap.Logger

	mu        sync.RWMutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	stats     SweepStats
}

// NewSweepWorker creates a new sweep worker
func NewSweepWorker(config SweepWorkerConfig, repo port.InvoiceRepository, logger *zap.Logger) *SweepWorker {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSweepWorkerConfig().BatchSize
	}
	return &SweepWorker{
		config: config,
		repo:   repo,
		logger: logger,
	}
}

// Start begins the sweep loop
func (w *SweepWorker) Start(ctx context.Context) error {
	if w.config.Interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", w.config.Interval)
	}

	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("sweep worker already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("SweepWorker started",
		zap.Duration("interval", w.config.Interval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.loop(loopCtx, w.done)
	return nil
}

// Stop terminates the loop and waits for a running sweep to return
func (w *SweepWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	stats := w.Stats()
	w.logger.Info("SweepWorker stopped", zap.Int("runs", stats.Runs))
	return nil
}

// Name returns the worker name for identification
func (w *SweepWorker) Name() string {
	return "SweepWorker"
}

// Stats returns a copy of the last sweep's statistics
func (w *SweepWorker) Stats() SweepStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *SweepWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("Verification sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep verifies every stored invoice once, batch by batch
func (w *SweepWorker) Sweep(ctx context.Context) (SweepStats, error) {
	start := time.Now()
	checked, inconsistent := 0, 0

	total, err := w.repo.Count(ctx)
	if err == nil {
		for offset := 0; offset < total; {
			invoices, listErr := w.repo.List(ctx, w.config.BatchSize, offset)
			if listErr != nil {
				err = fmt.Errorf("failed to list invoices at offset %d: %w", offset, listErr)
				break
			}
			if len(invoices) == 0 {
				break
			}

			for _, inv := range invoices {
				checked++
				v := reconcile.Verify(*inv)
				if v.IsConsistent {
					continue
				}
				inconsistent++
				w.logger.Warn("Invoice totals do not match its lines",
					zap.String("invoice_id", inv.ID),
					zap.String("supplier_name", inv.SupplierName),
					zap.Float64("net_gap", v.NetGap),
					zap.Float64("gross_gap", v.GrossGap))
			}
			offset += len(invoices)
		}
	} else {
		err = fmt.Errorf("failed to count invoices: %w", err)
	}

	w.mu.Lock()
	w.stats.Runs++
	w.stats.LastRun = start
	w.stats.Duration = time.Since(start)
	w.stats.Checked = checked
	w.stats.Inconsistent = inconsistent
	w.stats.LastError = ""
	if err != nil {
		w.stats.LastError = err.Error()
	}
	stats := w.stats
	w.mu.Unlock()

	w.logger.Info("Verification sweep completed",
		zap.Int("checked", checked),
		zap.Int("inconsistent", inconsistent),
		zap.Duration("duration", stats.Duration))

	return stats, err
}

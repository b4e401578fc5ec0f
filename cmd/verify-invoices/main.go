// Command verify-invoices runs the discrepancy check over every stored
// invoice and exits with status 1 when any of them is inconsistent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-reconciler/internal/application/service"
	"github.com/garyjia/invoice-reconciler/internal/config"
	"github.com/garyjia/invoice-reconciler/internal/container"
	"github.com/garyjia/invoice-reconciler/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file (empty: defaults and environment only)")
	envFile := flag.String("env", ".env", "Path to .env file")
	pageSize := flag.Int("page-size", service.MaxPageSize, "Invoices loaded per page")
	onlyAnomalies := flag.Bool("anomalies", false, "List inconsistent invoices only")
	verbose := flag.Bool("verbose", false, "Log to stderr at debug level")
	flag.Parse()

	if err := gotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "ERROR: failed to load %s: %v\n", *envFile, err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	// The report goes to stdout, so logs go to stderr
	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, err := utils.NewLogger(utils.LoggerConfig{Level: level, OutputPath: "stderr", Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to create logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := run(ctx, cfg, logger, *pageSize, *onlyAnomalies)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(2)
	}
	if sum.Inconsistent > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, pageSize int, onlyAnomalies bool) (Summary, error) {
	// One-shot run: no background sweep
	containerCfg := cfg.ToContainerConfig()
	containerCfg.Worker.SweepInterval = 0

	c, err := container.NewContainer(containerCfg, logger)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to create container: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return Summary{}, fmt.Errorf("failed to start container: %w", err)
	}
	defer c.Close()

	return report(ctx, c.Services().Invoice, os.Stdout, pageSize, onlyAnomalies)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/benmorin/photosync/internal/config"
	"github.com/benmorin/photosync/internal/logging"
	"github.com/benmorin/photosync/internal/photos"
	"github.com/benmorin/photosync/internal/sync"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("photosync starting",
		slog.String("version", Version),
		slog.String("server", cfg.ServerURL),
		slog.String("photos", cfg.PhotosDir),
		slog.Bool("watch", cfg.Watch),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := sync.NewClient(cfg.ServerURL, cfg.APISecret)
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("server not reachable: %w", err)
	}

	orch := sync.New(client, logger, sync.Options{
		MaxConcurrent:  cfg.MaxConcurrent,
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.BackoffBase,
		CheckBatchSize: cfg.CheckBatchSize,
		OnProgress:     printProgress,
	})

	found, err := photos.Scan(cfg.PhotosDir)
	if err != nil {
		return fmt.Errorf("scanning photos: %w", err)
	}

	logger.Info("scan finished", slog.Int("photos", len(found)))

	report, err := backup(ctx, orch, found, logger)
	if err != nil {
		return err
	}

	if !cfg.Watch {
		if len(report.Failed()) > 0 {
			return fmt.Errorf("%d photos failed to back up", len(report.Failed()))
		}

		return nil
	}

	// Watch mode: keep running and back up files as they arrive.
	watcher := photos.NewWatcher(cfg.PhotosDir, func(ctx context.Context, batch []sync.Photo) {
		logger.Info("new photos detected", slog.Int("count", len(batch)))

		if _, err := backup(ctx, orch, batch, logger); err != nil {
			logger.Error("backing up new photos", slog.String("error", err.Error()))
		}
	}, logger)

	if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("watching photos: %w", err)
	}

	return nil
}

func backup(ctx context.Context, orch *sync.Orchestrator, found []sync.Photo, logger *slog.Logger) (sync.Report, error) {
	report, err := orch.Run(ctx, found)

	fmt.Fprintln(os.Stderr)

	for _, item := range report.Failed() {
		logger.Warn("photo not backed up",
			slog.String("path", item.Photo.Path),
			slog.String("error", item.Err.Error()),
		)
	}

	logger.Info("backup finished",
		slog.Int("total", report.Progress.Total),
		slog.Int("completed", report.Progress.Completed),
		slog.Int("failed", report.Progress.Failed),
	)

	if err != nil {
		return report, fmt.Errorf("backup interrupted: %w", err)
	}

	return report, nil
}

// printProgress shows how much of the run is settled, counting failures
// toward the percentage so a run with failures still reaches 100%.
func printProgress(p sync.Progress) {
	var pct float64
	if p.Total > 0 {
		pct = float64(p.Completed+p.Failed) / float64(p.Total) * 100
	}

	fmt.Fprintf(os.Stderr, "\r%3.0f%% (%d done, %d failed) %-40.40s",
		pct, p.Completed, p.Failed, p.Current)
}

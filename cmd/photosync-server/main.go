package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/benmorin/photosync/internal/config"
	"github.com/benmorin/photosync/internal/index"
	"github.com/benmorin/photosync/internal/logging"
	"github.com/benmorin/photosync/internal/server"
	"github.com/benmorin/photosync/internal/storage"
)

var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	// Handle hash-secret subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "hash-secret" {
		hashSecret()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// hashSecret prints a bcrypt hash for PHOTOSYNC_API_SECRET_HASH so the
// plain secret never has to live in the server's environment.
func hashSecret() {
	fmt.Fprint(os.Stderr, "Enter secret: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	secret := scanner.Text()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("photosync-server starting",
		slog.String("version", Version),
		slog.String("addr", cfg.ListenAddr),
		slog.String("storage", cfg.StorageDir),
	)

	ix, err := index.Open(cfg.IndexPath)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer ix.Close()

	var opts []storage.Option
	if cfg.MaxFileSize > 0 {
		opts = append(opts, storage.WithMaxFileSize(cfg.MaxFileSize))
	}

	if len(cfg.AllowedExtensions) > 0 {
		opts = append(opts, storage.WithAllowedExtensions(cfg.AllowedExtensions))
	}

	store, err := storage.New(cfg.StorageDir, opts...)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	count, err := ix.Count()
	if err != nil {
		return fmt.Errorf("reading index: %w", err)
	}

	logger.Info("index opened", slog.Int("photos", count))

	mux := server.NewMux(server.MuxConfig{
		Index:          ix,
		Store:          store,
		Logger:         logger,
		Secret:         cfg.APISecret,
		SecretHash:     cfg.APISecretHash,
		MaxUploadBytes: cfg.MaxFileSize,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", slog.String("addr", cfg.ListenAddr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/config"
	"github.com/alexjbarnes/kanban-sync/internal/logging"
	"github.com/alexjbarnes/kanban-sync/internal/server"
	"github.com/alexjbarnes/kanban-sync/internal/taskdb"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	store, err := taskdb.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	logger.Info("database ready", slog.String("path", cfg.DBPath))

	srv := &http.Server{
		Addr: cfg.ListenAddr(),
		Handler: server.NewAPIHandler(server.APIConfig{
			Store:      store,
			Logger:     logger,
			CORSOrigin: cfg.CORSOrigin,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server",
		slog.String("version", Version),
		slog.String("listen", srv.Addr),
		slog.String("cors_origin", cfg.CORSOrigin),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

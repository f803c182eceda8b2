package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alexjbarnes/kanban-sync/board"
	"github.com/alexjbarnes/kanban-sync/internal/config"
	"github.com/alexjbarnes/kanban-sync/internal/logging"
	"github.com/alexjbarnes/kanban-sync/internal/mcpserver"
	"github.com/alexjbarnes/kanban-sync/internal/server"
	"github.com/alexjbarnes/kanban-sync/internal/state"
	"github.com/alexjbarnes/kanban-sync/internal/statusfeed"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

// statusOrigins are the browser origins allowed on the status feed. The
// control surface is meant for local tools only.
var statusOrigins = []string{"localhost:*", "127.0.0.1:*"}

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

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("kanban-sync starting",
		slog.String("version", Version),
		slog.String("api", cfg.APIBase),
		slog.Duration("interval", cfg.SyncInterval),
		slog.Bool("strict_fallback", cfg.StrictFallback),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appState, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	hub := statusfeed.NewHub(board.Status{State: board.StateOffline, LastSync: appState.LastSync()}, statusOrigins, logger)
	recorder := &lastSyncRecorder{state: appState, last: appState.LastSync(), logger: logger}

	client := board.NewClient(cfg.APIBase, cfg.RequestTimeout)

	engine := board.NewEngine(board.EngineConfig{
		Gateway:        client,
		Store:          appState,
		Interval:       cfg.SyncInterval,
		StrictFallback: cfg.StrictFallback,
		OnStatus: func(st board.Status) {
			logger.Debug("sync status",
				slog.String("state", st.State.String()),
				slog.Int("pending", st.Pending),
			)
			hub.Publish(st)
			recorder.record(st.LastSync)
		},
	}, logger)

	if !engine.Start(ctx) {
		if err := client.Health(ctx); err != nil {
			logger.Warn("server unreachable, working offline from local cache", slog.String("error", err.Error()))
		} else {
			logger.Warn("server is up but listing failed, working offline from local cache")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Run(gctx)
	})

	if cfg.ControlEnabled() {
		g.Go(func() error {
			return runControl(gctx, cfg, engine, hub, logger)
		})
	}

	return g.Wait()
}

// runControl serves the MCP tools and the status feed until ctx is
// cancelled.
func runControl(ctx context.Context, cfg *config.ClientConfig, engine *board.Engine, hub *statusfeed.Hub, logger *slog.Logger) error {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "kanban-sync", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, engine)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.NewControlMux(server.ControlConfig{
			MCPHandler:    mcpHandler,
			StatusHandler: hub,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down control server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("control server listening", slog.String("addr", cfg.ListenAddr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control server: %w", err)
	}

	return nil
}

// lastSyncRecorder persists the time of the last clean sync whenever it
// advances.
type lastSyncRecorder struct {
	state  *state.State
	logger *slog.Logger

	mu   sync.Mutex
	last time.Time
}

func (r *lastSyncRecorder) record(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !t.After(r.last) {
		return
	}

	r.last = t

	if err := r.state.SetLastSync(t); err != nil {
		r.logger.Warn("failed to save last sync time", slog.String("error", err.Error()))
	}
}

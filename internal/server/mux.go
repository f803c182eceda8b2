// Package server provides HTTP handler construction for the task API
// server and the sync client's local control surface.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/kanban-sync/internal/api"
)

// APIConfig holds dependencies for the task API handler.
type APIConfig struct {
	Store      api.TaskStore
	Logger     *slog.Logger
	CORSOrigin string
}

// NewAPIHandler builds the task collection API with CORS and request
// logging applied to every route.
func NewAPIHandler(cfg APIConfig) http.Handler {
	mux := http.NewServeMux()
	api.Register(mux, cfg.Store, cfg.Logger)

	return api.Logging(cfg.Logger)(api.CORS(cfg.CORSOrigin)(mux))
}

// ControlConfig holds dependencies for the client control mux.
type ControlConfig struct {
	MCPHandler    http.Handler
	StatusHandler http.Handler
}

// NewControlMux builds the client's local mux: MCP tools at /mcp and the
// WebSocket status feed at /status.
func NewControlMux(cfg ControlConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/mcp", cfg.MCPHandler)
	mux.Handle("GET /status", cfg.StatusHandler)

	return mux
}

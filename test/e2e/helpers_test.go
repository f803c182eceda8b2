package e2e_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alexjbarnes/kanban-sync/board"
	"github.com/alexjbarnes/kanban-sync/internal/mcpserver"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/server"
	"github.com/alexjbarnes/kanban-sync/internal/state"
	"github.com/alexjbarnes/kanban-sync/internal/statusfeed"
	"github.com/alexjbarnes/kanban-sync/internal/taskdb"
	"github.com/coder/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

// harness holds the full e2e stack: the task API on a real SQLite
// database behind an httptest server that can be switched into an
// outage.
type harness struct {
	URL       string
	DB        *taskdb.Store
	StatePath string

	down atomic.Bool
}

// newHarness opens a temp database and starts the API server.
func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()

	db, err := taskdb.New(filepath.Join(dir, "kanban.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		DB:        db,
		StatePath: filepath.Join(dir, "client", "state.db"),
	}

	api := server.NewAPIHandler(server.APIConfig{
		Store:      db,
		Logger:     slog.New(slog.DiscardHandler),
		CORSOrigin: "*",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.down.Load() {
			http.Error(w, `{"error":"maintenance"}`, http.StatusServiceUnavailable)
			return
		}

		api.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	h.URL = srv.URL

	return h
}

// setDown switches the simulated outage on or off.
func (h *harness) setDown(v bool) {
	h.down.Store(v)
}

// client bundles a sync engine with its local store.
type client struct {
	Engine *board.Engine
	State  *state.State
	Hub    *statusfeed.Hub
}

type clientOption func(*board.EngineConfig)

func withStrictFallback() clientOption {
	return func(cfg *board.EngineConfig) { cfg.StrictFallback = true }
}

// newClient opens the harness state file and builds an engine talking
// to the harness API. Start is not called.
func (h *harness) newClient(t *testing.T, opts ...clientOption) *client {
	t.Helper()

	return newClientFor(t, h.URL, h.StatePath, opts...)
}

func newClientFor(t *testing.T, apiURL, statePath string, opts ...clientOption) *client {
	t.Helper()

	st, err := state.LoadAt(statePath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.DiscardHandler)
	hub := statusfeed.NewHub(board.Status{}, nil, logger)

	cfg := board.EngineConfig{
		Gateway:  board.NewClient(apiURL, 2*time.Second),
		Store:    st,
		Interval: time.Hour,
		OnStatus: hub.Publish,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &client{
		Engine: board.NewEngine(cfg, logger),
		State:  st,
		Hub:    hub,
	}
}

// controlURL serves the client's control mux and returns its base URL.
func (c *client) controlURL(t *testing.T) string {
	t.Helper()

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "kanban-sync-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, c.Engine)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	srv := httptest.NewServer(server.NewControlMux(server.ControlConfig{
		MCPHandler:    mcpHandler,
		StatusHandler: c.Hub,
	}))
	t.Cleanup(srv.Close)

	return srv.URL
}

// mcpSession connects an MCP client to the control surface at baseURL.
func mcpSession(t *testing.T, baseURL string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint:             baseURL + "/mcp",
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// statusConn dials the WebSocket status feed at baseURL.
func statusConn(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(baseURL, "http")+"/status", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	return conn
}

// seed creates tasks directly in the server database.
func (h *harness) seed(t *testing.T, tasks ...models.Task) {
	t.Helper()

	for _, task := range tasks {
		_, err := h.DB.Create(t.Context(), task)
		require.NoError(t, err)
	}
}

// remote returns the server's view of task id.
func (h *harness) remote(t *testing.T, id string) (taskdb.Record, bool) {
	t.Helper()

	rec, err := h.DB.Get(t.Context(), id)
	if err != nil {
		return taskdb.Record{}, false
	}

	return rec, true
}

func (h *harness) remoteCount(t *testing.T) int {
	t.Helper()

	records, err := h.DB.List(t.Context())
	require.NoError(t, err)

	return len(records)
}

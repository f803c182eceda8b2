package board

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"golang.org/x/sync/singleflight"
)

//go:generate mockgen -destination=mock_engine_test.go -package=board . Gateway,LocalStore

// defaultSyncInterval is the reconciliation period when none is configured.
const defaultSyncInterval = 5 * time.Second

// Gateway performs CRUD calls against the remote task collection. Any
// returned error is a transport failure; *Client returns *RemoteError.
type Gateway interface {
	ListAll(ctx context.Context) ([]models.Task, error)
	Create(ctx context.Context, task models.Task) error
	Update(ctx context.Context, id string, task models.Task) error
	Delete(ctx context.Context, id string) error
}

// LocalStore persists the whole task collection. *state.State satisfies
// this interface.
type LocalStore interface {
	LoadTasks() ([]models.Task, error)
	SaveTasks(tasks []models.Task) error
}

// EngineConfig holds the collaborators and settings for an Engine.
type EngineConfig struct {
	Gateway  Gateway
	Store    LocalStore
	Interval time.Duration

	// StrictFallback limits the reconciliation create fallback to updates
	// the server rejected with 404.
	StrictFallback bool

	// OnStatus is called after every status change, in the order the
	// changes happen. It must not block or call back into the engine.
	OnStatus func(Status)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine owns the in-memory board and keeps it in step with the remote
// store. Every mutation commits locally first and then pushes; failed
// pushes are recorded in the tracker and retried by Reconcile.
//
// The mutex guards the task slice and local saves only. Gateway calls
// run without it, so a slow network never blocks reads or other local
// mutations.
type Engine struct {
	gateway        Gateway
	store          LocalStore
	tracker        *Tracker
	logger         *slog.Logger
	interval       time.Duration
	strictFallback bool
	onStatus       func(Status)
	now            func() time.Time

	mu    sync.Mutex
	tasks []models.Task

	// publishMu orders status changes together with their OnStatus
	// delivery; statusMu only guards reads of status.
	publishMu sync.Mutex
	statusMu  sync.Mutex
	status    Status

	sweeps singleflight.Group
}

// NewEngine creates an engine from the given config. Call Start before
// using it.
func NewEngine(cfg EngineConfig, logger *slog.Logger) *Engine {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSyncInterval
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		gateway:        cfg.Gateway,
		store:          cfg.Store,
		tracker:        NewTracker(),
		logger:         logger,
		interval:       interval,
		strictFallback: cfg.StrictFallback,
		onStatus:       cfg.OnStatus,
		now:            now,
		status:         Status{State: StateOffline},
	}
}

// Start seeds memory from the local store, then attempts one remote
// listing. On success the listing replaces memory and the local store
// wholesale and pending IDs absent from it are dropped. It returns
// whether the remote listing succeeded.
func (e *Engine) Start(ctx context.Context) bool {
	local, err := e.store.LoadTasks()
	if err != nil {
		e.logger.Warn("local cache unreadable, starting empty", slog.String("error", err.Error()))
		local = nil
	}

	seed := e.sanitize(local, "local")

	e.mu.Lock()
	e.tasks = seed
	e.mu.Unlock()

	e.logger.Info("loaded local cache", slog.Int("tasks", len(seed)))

	e.setState(StateSyncing)

	remote, err := e.gateway.ListAll(ctx)
	if err != nil {
		e.logger.Warn("fetch failed, using local cache", slog.String("error", err.Error()))
		e.setState(StateOffline)

		return false
	}

	fresh := e.sanitize(remote, "remote")
	present := make(map[string]struct{}, len(fresh))

	for _, t := range fresh {
		present[t.ID] = struct{}{}
	}

	e.mu.Lock()
	e.tasks = fresh
	e.persistLocked()
	e.mu.Unlock()

	dropped := e.tracker.retain(func(id string) bool {
		_, ok := present[id]
		return ok
	})
	if len(dropped) > 0 {
		e.logger.Info("discarded pending changes absent from server", slog.Any("ids", dropped))
	}

	e.logger.Info("loaded tasks from server", slog.Int("tasks", len(fresh)))
	e.setState(StateOnline)

	return true
}

// Create adds a task to the board and pushes it. The title is trimmed
// and must not be empty; nothing is stored or sent if validation fails.
// A failed push never fails the call.
func (e *Engine) Create(ctx context.Context, title, desc string, column models.Column) (models.Task, error) {
	t, err := models.NormalizeTitle(title)
	if err != nil {
		return models.Task{}, err
	}

	if !column.Valid() {
		return models.Task{}, fmt.Errorf("%w: %q", kerrors.ErrInvalidColumn, column)
	}

	task := models.Task{
		ID:     models.NewID(e.now()),
		Title:  t,
		Desc:   strings.TrimSpace(desc),
		Column: column,
	}

	e.mu.Lock()
	e.tasks = append(e.tasks, task)
	e.persistLocked()
	e.mu.Unlock()

	e.push(ctx, "create", task.ID, 0, &task, func(ctx context.Context) error {
		return e.gateway.Create(ctx, task)
	})

	return task, nil
}

// EditTitle renames a task and pushes the full task.
func (e *Engine) EditTitle(ctx context.Context, id, title string) (models.Task, error) {
	t, err := models.NormalizeTitle(title)
	if err != nil {
		return models.Task{}, err
	}

	return e.mutate(ctx, "update", id, func(task *models.Task) {
		task.Title = t
	})
}

// EditDesc replaces a task's description and pushes the full task.
func (e *Engine) EditDesc(ctx context.Context, id, desc string) (models.Task, error) {
	d := strings.TrimSpace(desc)

	return e.mutate(ctx, "update", id, func(task *models.Task) {
		task.Desc = d
	})
}

// Move changes a task's column and pushes the full task.
func (e *Engine) Move(ctx context.Context, id string, column models.Column) (models.Task, error) {
	if !column.Valid() {
		return models.Task{}, fmt.Errorf("%w: %q", kerrors.ErrInvalidColumn, column)
	}

	return e.mutate(ctx, "move", id, func(task *models.Task) {
		task.Column = column
	})
}

// Delete removes a task from the board immediately and then asks the
// server to delete it. If that fails the ID stays pending until a sweep
// deletes it remotely.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()

	idx := e.indexLocked(id)
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", kerrors.ErrTaskNotFound, id)
	}

	e.tasks = append(e.tasks[:idx:idx], e.tasks[idx+1:]...)
	e.persistLocked()
	e.mu.Unlock()

	gen := e.tracker.generation(id)
	e.push(ctx, "delete", id, gen, nil, func(ctx context.Context) error {
		return e.gateway.Delete(ctx, id)
	})

	return nil
}

// mutate applies fn to task id under the lock, saves, then pushes the
// resulting task as an update.
func (e *Engine) mutate(ctx context.Context, op, id string, fn func(*models.Task)) (models.Task, error) {
	e.mu.Lock()

	idx := e.indexLocked(id)
	if idx < 0 {
		e.mu.Unlock()
		return models.Task{}, fmt.Errorf("%w: %s", kerrors.ErrTaskNotFound, id)
	}

	fn(&e.tasks[idx])
	task := e.tasks[idx]
	e.persistLocked()
	e.mu.Unlock()

	gen := e.tracker.generation(id)
	e.push(ctx, op, id, gen, &task, func(ctx context.Context) error {
		return e.gateway.Update(ctx, id, task)
	})

	return task, nil
}

// push runs one remote call for id carrying pushed, which is nil for a
// delete. On failure id is marked dirty; on success the result is
// settled against the local board.
func (e *Engine) push(ctx context.Context, op, id string, gen uint64, pushed *models.Task, call func(context.Context) error) bool {
	e.setState(StateSyncing)

	if err := call(ctx); err != nil {
		e.tracker.MarkDirty(id)
		e.logger.Warn(op+" failed, will retry on next sync",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		e.setState(StateOffline)

		return false
	}

	e.settle(id, pushed, gen)
	e.logger.Debug(op+" pushed", slog.String("id", id))
	e.setState(StateOnline)

	return true
}

// settle records a successful remote call that sent pushed for id (nil
// for a delete). If the local task changed or disappeared while the call
// was in flight, the server may now hold a stale version, so id is marked
// dirty for the next sweep. Otherwise a mark of generation gen is
// cleared. It reports whether the server is known to match.
func (e *Engine) settle(id string, pushed *models.Task, gen uint64) bool {
	current, ok := e.Task(id)

	if ok != (pushed != nil) || (ok && current != *pushed) {
		e.tracker.MarkDirty(id)
		e.logger.Debug("local task changed during push, will resend", slog.String("id", id))

		return false
	}

	return e.tracker.clearIfUnchanged(id, gen)
}

// Tasks returns a copy of the board in insertion order.
func (e *Engine) Tasks() []models.Task {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Task, len(e.tasks))
	copy(out, e.tasks)

	return out
}

// Task returns the task with the given ID.
func (e *Engine) Task(id string) (models.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexLocked(id)
	if idx < 0 {
		return models.Task{}, false
	}

	return e.tasks[idx], true
}

// Columns groups the board by column. Every column is present, possibly
// empty.
func (e *Engine) Columns() map[models.Column][]models.Task {
	out := make(map[models.Column][]models.Task, len(models.Columns))
	for _, c := range models.Columns {
		out[c] = []models.Task{}
	}

	for _, t := range e.Tasks() {
		out[t.Column] = append(out[t.Column], t)
	}

	return out
}

// Pending returns a sorted snapshot of the IDs awaiting reconciliation.
func (e *Engine) Pending() []string {
	return e.tracker.All()
}

// IsPending reports whether id awaits reconciliation.
func (e *Engine) IsPending(id string) bool {
	return e.tracker.IsDirty(id)
}

// Status returns the last published status.
func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	return e.status
}

func (e *Engine) setState(s State) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	e.statusMu.Lock()

	st := Status{
		State:    s,
		Pending:  e.tracker.Len(),
		LastSync: e.status.LastSync,
	}
	if s == StateOnline && st.Pending == 0 {
		st.LastSync = e.now()
	}

	e.status = st
	e.statusMu.Unlock()

	if e.onStatus != nil {
		e.onStatus(st)
	}
}

func (e *Engine) indexLocked(id string) int {
	for i := range e.tasks {
		if e.tasks[i].ID == id {
			return i
		}
	}

	return -1
}

// persistLocked writes the board to the local store. A save failure is
// logged and otherwise ignored: memory stays authoritative for the
// session.
func (e *Engine) persistLocked() {
	if err := e.store.SaveTasks(e.tasks); err != nil {
		e.logger.Warn("saving local cache", slog.String("error", err.Error()))
	}
}

// sanitize enforces the Task invariants on a collection from outside
// the engine: IDs must be present and unique, and unknown columns fall
// back to backlog.
func (e *Engine) sanitize(in []models.Task, source string) []models.Task {
	out := make([]models.Task, 0, len(in))
	seen := make(map[string]struct{}, len(in))

	for _, t := range in {
		if t.ID == "" {
			e.logger.Warn("dropping task without id", slog.String("source", source), slog.String("title", t.Title))
			continue
		}

		if _, dup := seen[t.ID]; dup {
			e.logger.Warn("dropping duplicate task", slog.String("source", source), slog.String("id", t.ID))
			continue
		}

		seen[t.ID] = struct{}{}

		if !t.Column.Valid() {
			e.logger.Warn("unknown column, moving task to backlog",
				slog.String("source", source),
				slog.String("id", t.ID),
				slog.String("column", string(t.Column)),
			)
			t.Column = models.ColumnBacklog
		}

		out = append(out, t)
	}

	return out
}

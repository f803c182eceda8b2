// Package mcpserver registers MCP tools that expose the kanban board.
// Every mutation goes through the sync engine, so tool calls commit
// locally first and never fail because the server is unreachable.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexjbarnes/kanban-sync/board"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"
)

// Board is the engine surface the tools drive. *board.Engine implements
// it.
type Board interface {
	Columns() map[models.Column][]models.Task
	Task(id string) (models.Task, bool)
	IsPending(id string) bool
	Pending() []string
	Status() board.Status
	Create(ctx context.Context, title, desc string, column models.Column) (models.Task, error)
	EditTitle(ctx context.Context, id, title string) (models.Task, error)
	EditDesc(ctx context.Context, id, desc string) (models.Task, error)
	Move(ctx context.Context, id string, column models.Column) (models.Task, error)
	Delete(ctx context.Context, id string) error
	Reconcile(ctx context.Context) board.Status
}

// RegisterTools adds all board tools to the given MCP server.
func RegisterTools(server *mcp.Server, b Board) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "board_list",
		Description: "List the board grouped by column (backlog, not-started, in-progress, done). Tasks with unsynced local changes are flagged pending. Optionally restrict to one column.",
	}, listHandler(b))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "board_create",
		Description: "Create a task. The title is trimmed and must not be empty. Column defaults to backlog. Saved locally even when the server is unreachable.",
	}, createHandler(b))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "board_edit",
		Description: "Change a task's title and/or description. Provide at least one of title or desc.",
	}, editHandler(b))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "board_move",
		Description: "Move a task to another column.",
	}, moveHandler(b))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "board_delete",
		Description: "Delete a task. It disappears locally at once; the server delete is retried until it succeeds.",
	}, deleteHandler(b))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "board_status",
		Description: "Report the sync status: online, syncing or offline, with the IDs of tasks awaiting sync.",
	}, statusHandler(b))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "board_sync",
		Description: "Retry every pending change now instead of waiting for the next periodic sync. Returns the resulting status.",
	}, syncHandler(b))
}

// --- Input types ---

// ListInput holds parameters for board_list.
type ListInput struct {
	Column string `json:"column,omitempty" jsonschema:"only list this column"`
}

// CreateInput holds parameters for board_create.
type CreateInput struct {
	Title  string `json:"title" jsonschema:"task title"`
	Desc   string `json:"desc,omitempty" jsonschema:"optional description"`
	Column string `json:"column,omitempty" jsonschema:"backlog, not-started, in-progress or done; defaults to backlog"`
}

// EditInput holds parameters for board_edit.
type EditInput struct {
	ID    string  `json:"id" jsonschema:"task ID"`
	Title *string `json:"title,omitempty" jsonschema:"new title"`
	Desc  *string `json:"desc,omitempty" jsonschema:"new description, empty to clear"`
}

// MoveInput holds parameters for board_move.
type MoveInput struct {
	ID     string `json:"id" jsonschema:"task ID"`
	Column string `json:"column" jsonschema:"target column"`
}

// DeleteInput holds parameters for board_delete.
type DeleteInput struct {
	ID string `json:"id" jsonschema:"task ID"`
}

// StatusInput has no parameters.
type StatusInput struct{}

// --- Output types ---

// TaskView is a task as shown to tool callers.
type TaskView struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Desc    string `json:"desc,omitempty" yaml:"desc,omitempty"`
	Column  string `json:"column" yaml:"column"`
	Pending bool   `json:"pending,omitempty" yaml:"pending,omitempty"`
}

// ColumnView is one board column.
type ColumnView struct {
	Name  string     `json:"name" yaml:"name"`
	Tasks []TaskView `json:"tasks" yaml:"tasks"`
}

// StatusView is the sync status as shown to tool callers.
type StatusView struct {
	State    string   `json:"state" yaml:"state"`
	Label    string   `json:"label" yaml:"label"`
	Pending  []string `json:"pending" yaml:"pending"`
	LastSync string   `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
}

// ListResult is returned by board_list.
type ListResult struct {
	Columns []ColumnView `json:"columns" yaml:"columns"`
	Status  StatusView   `json:"status" yaml:"status"`
}

// TaskResult is returned by tools that create or change a task.
type TaskResult struct {
	Task   TaskView   `json:"task" yaml:"task"`
	Status StatusView `json:"status" yaml:"status"`
}

// DeleteResult is returned by board_delete.
type DeleteResult struct {
	ID     string     `json:"id" yaml:"id"`
	Status StatusView `json:"status" yaml:"status"`
}

// --- Handlers ---

func listHandler(b Board) mcp.ToolHandlerFor[ListInput, *ListResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, *ListResult, error) {
		columns := models.Columns

		if input.Column != "" {
			c, err := models.ParseColumn(input.Column)
			if err != nil {
				return nil, nil, err
			}

			columns = []models.Column{c}
		}

		grouped := b.Columns()
		result := &ListResult{Status: statusView(b)}

		for _, c := range columns {
			cv := ColumnView{Name: string(c), Tasks: []TaskView{}}
			for _, t := range grouped[c] {
				cv.Tasks = append(cv.Tasks, taskView(b, t))
			}

			result.Columns = append(result.Columns, cv)
		}

		return textResult(result), result, nil
	}
}

func createHandler(b Board) mcp.ToolHandlerFor[CreateInput, *TaskResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateInput) (*mcp.CallToolResult, *TaskResult, error) {
		column := models.ColumnBacklog

		if input.Column != "" {
			c, err := models.ParseColumn(input.Column)
			if err != nil {
				return nil, nil, err
			}

			column = c
		}

		task, err := b.Create(ctx, input.Title, input.Desc, column)
		if err != nil {
			return nil, nil, err
		}

		result := &TaskResult{Task: taskView(b, task), Status: statusView(b)}

		return textResult(result), result, nil
	}
}

func editHandler(b Board) mcp.ToolHandlerFor[EditInput, *TaskResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EditInput) (*mcp.CallToolResult, *TaskResult, error) {
		if input.Title == nil && input.Desc == nil {
			return nil, nil, errors.New("nothing to edit: provide title or desc")
		}

		if _, ok := b.Task(input.ID); !ok {
			return nil, nil, fmt.Errorf("task %q not found", input.ID)
		}

		var (
			task models.Task
			err  error
		)

		if input.Title != nil {
			task, err = b.EditTitle(ctx, input.ID, *input.Title)
			if err != nil {
				return nil, nil, err
			}
		}

		if input.Desc != nil {
			task, err = b.EditDesc(ctx, input.ID, *input.Desc)
			if err != nil {
				return nil, nil, err
			}
		}

		result := &TaskResult{Task: taskView(b, task), Status: statusView(b)}

		return textResult(result), result, nil
	}
}

func moveHandler(b Board) mcp.ToolHandlerFor[MoveInput, *TaskResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input MoveInput) (*mcp.CallToolResult, *TaskResult, error) {
		column, err := models.ParseColumn(input.Column)
		if err != nil {
			return nil, nil, err
		}

		task, err := b.Move(ctx, input.ID, column)
		if err != nil {
			return nil, nil, err
		}

		result := &TaskResult{Task: taskView(b, task), Status: statusView(b)}

		return textResult(result), result, nil
	}
}

func deleteHandler(b Board) mcp.ToolHandlerFor[DeleteInput, *DeleteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DeleteInput) (*mcp.CallToolResult, *DeleteResult, error) {
		if err := b.Delete(ctx, input.ID); err != nil {
			return nil, nil, err
		}

		result := &DeleteResult{ID: input.ID, Status: statusView(b)}

		return textResult(result), result, nil
	}
}

func statusHandler(b Board) mcp.ToolHandlerFor[StatusInput, *StatusView] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusView, error) {
		result := statusView(b)
		return textResult(result), &result, nil
	}
}

func syncHandler(b Board) mcp.ToolHandlerFor[StatusInput, *StatusView] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, *StatusView, error) {
		b.Reconcile(ctx)

		result := statusView(b)

		return textResult(result), &result, nil
	}
}

func taskView(b Board, t models.Task) TaskView {
	return TaskView{
		ID:      t.ID,
		Title:   t.Title,
		Desc:    t.Desc,
		Column:  string(t.Column),
		Pending: b.IsPending(t.ID),
	}
}

func statusView(b Board) StatusView {
	st := b.Status()

	v := StatusView{
		State:   st.State.String(),
		Label:   st.Label(),
		Pending: b.Pending(),
	}

	if !st.LastSync.IsZero() {
		v.LastSync = st.LastSync.Format(time.RFC3339)
	}

	return v
}

// textResult builds a CallToolResult with YAML text content from any
// value. The SDK fills in the structured output separately.
func textResult(v any) *mcp.CallToolResult {
	data, err := yaml.Marshal(v)
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

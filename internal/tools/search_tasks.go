package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ahmetk3436/inkwell/internal/models"
	"github.com/ahmetk3436/inkwell/internal/services"
	"github.com/mark3labs/mcp-go/mcp"
)

const searchTasksName = "search_tasks"

// SearchTasks looks up tasks on the caller's board.
type SearchTasks struct {
	tasks *services.TaskService
}

func NewSearchTasks(tasks *services.TaskService) *SearchTasks {
	return &SearchTasks{tasks: tasks}
}

func (t *SearchTasks) Definition() mcp.Tool {
	return mcp.NewTool(searchTasksName,
		mcp.WithDescription("Search the user's tasks by title and description, optionally filtered by status."),
		mcp.WithString("query",
			mcp.Description("Words to look for. Leave empty to list tasks by status."),
		),
		mcp.WithString("status",
			mcp.Description("Only return tasks in this column."),
			mcp.Enum(string(models.TaskTodo), string(models.TaskInProgress), string(models.TaskDone)),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of tasks to return. Defaults to 10."),
		),
	)
}

func (t *SearchTasks) Execute(ctx context.Context, call Call) (Output, error) {
	status := models.TaskStatus(call.String("status"))
	tasks, err := t.tasks.Search(ctx, call.Scope, call.String("query"), status, call.Int("limit", 10))
	if err != nil {
		return Output{}, err
	}
	if len(tasks) == 0 {
		return Output{Text: "No matching tasks."}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d task(s):\n\n", len(tasks))
	for _, task := range tasks {
		fmt.Fprintf(&sb, "- [%s] %s (id: %s", task.Status, task.Title, task.ID)
		if task.DueDate != nil {
			fmt.Fprintf(&sb, ", due %s", task.DueDate.Format("2006-01-02"))
		}
		sb.WriteString(")\n")
		if d := excerpt(task.Description, 200); d != "" {
			fmt.Fprintf(&sb, "  %s\n", d)
		}
	}
	return Output{Text: strings.TrimSpace(sb.String())}, nil
}

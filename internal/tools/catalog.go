package tools

import "taskpilot/internal/task"

// Tool names offered to the model.
const (
	ToolListTasks  = "list_tasks"
	ToolCreateTask = "create_task"
	ToolUpdateTask = "update_task"
	ToolDeleteTask = "delete_task"
)

// List limits.
const (
	MinListLimit     = 1
	MaxListLimit     = 50
	DefaultListLimit = 20
)

func statusEnum() []any {
	names := task.StatusNames()
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// Catalog returns fresh, unbound declarations of the task tools in the order
// they are offered to the model.
func Catalog() []*Tool {
	return []*Tool{
		{
			Name:        ToolListTasks,
			Description: "List the user's tasks, newest first. Optionally filter by status or by a case-insensitive text query over title and description.",
			Category:    CategoryRead,
			Schema: ToolSchema{
				Properties: map[string]Property{
					"status": {Type: "string", Description: "Only return tasks with this status.", Enum: statusEnum()},
					"limit": {
						Type:        "integer",
						Description: "Maximum number of tasks to return.",
						Default:     DefaultListLimit,
						Minimum:     bound(MinListLimit),
						Maximum:     bound(MaxListLimit),
					},
					"query": {Type: "string", Description: "Text to search for in title or description."},
				},
			},
		},
		{
			Name:        ToolCreateTask,
			Description: "Create a new task. New tasks always start as PENDING. Use defaults for anything the user did not say.",
			Category:    CategoryWrite,
			Schema: ToolSchema{
				Required: []string{"title"},
				Properties: map[string]Property{
					"title":       {Type: "string", Description: "Short title of the task."},
					"description": {Type: "string", Description: "Optional longer description."},
					"priority": {
						Type:        "integer",
						Description: "Priority, higher is more important.",
						Default:     task.DefaultPriority,
						Minimum:     bound(task.MinPriority),
						Maximum:     bound(task.MaxPriority),
					},
					"due_date": {Type: "string", Description: "Optional due date as YYYY-MM-DD.", Format: "date"},
				},
			},
		},
		{
			Name:        ToolUpdateTask,
			Description: "Update an existing task by id. Only the fields you pass are changed. Pass due_date as an empty string to clear it.",
			Category:    CategoryWrite,
			Schema: ToolSchema{
				Required: []string{"id"},
				Properties: map[string]Property{
					"id":          {Type: "string", Description: "Id of the task to update."},
					"title":       {Type: "string", Description: "New title."},
					"description": {Type: "string", Description: "New description. Empty string clears it."},
					"priority": {
						Type:        "integer",
						Description: "New priority.",
						Minimum:     bound(task.MinPriority),
						Maximum:     bound(task.MaxPriority),
					},
					"due_date": {Type: "string", Description: "New due date as YYYY-MM-DD, or empty string to clear."},
					"status":   {Type: "string", Description: "New status.", Enum: statusEnum()},
				},
			},
		},
		{
			Name:        ToolDeleteTask,
			Description: "Delete a task. Pass id when you know it; otherwise pass query with words from the task title. If several tasks match, nothing is deleted and the candidates are returned so you can ask the user which one.",
			Category:    CategoryWrite,
			Schema: ToolSchema{
				Properties: map[string]Property{
					"id":    {Type: "string", Description: "Id of the task to delete."},
					"query": {Type: "string", Description: "Free text identifying the task when the id is unknown."},
				},
			},
		},
	}
}

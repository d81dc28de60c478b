package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"taskpilot/internal/logging"
	"taskpilot/internal/task"
	"taskpilot/internal/tools"
)

// tasksCmd groups the direct commands that bypass the model.
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List, add and remove tasks without the model",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE:  listTasks,
}

var tasksAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Create a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  addTask,
}

var tasksRmCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Delete a task by id",
	Args:  cobra.ExactArgs(1),
	RunE:  removeTask,
}

var (
	listStatus string
	listQuery  string
	listLimit  int

	addDescription string
	addPriority    int
	addDue         string
)

func init() {
	tasksListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending, in_progress, blocked, done)")
	tasksListCmd.Flags().StringVarP(&listQuery, "query", "q", "", "Case-insensitive title/description filter")
	tasksListCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of tasks (0 = all)")

	tasksAddCmd.Flags().StringVarP(&addDescription, "description", "d", "", "Description")
	tasksAddCmd.Flags().IntVarP(&addPriority, "priority", "p", task.DefaultPriority, "Priority 0-10")
	tasksAddCmd.Flags().StringVar(&addDue, "due", "", "Due date (YYYY-MM-DD)")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksAddCmd)
	tasksCmd.AddCommand(tasksRmCmd)
}

func listTasks(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	f := task.Filter{Query: listQuery, Limit: listLimit}
	if listStatus != "" {
		st, ok := task.ParseStatus(listStatus)
		if !ok {
			return fmt.Errorf("invalid status %q", listStatus)
		}
		f.Status = &st
	}

	tasks, err := a.store.List(ctx, cfg.Actor.ID, f)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	renderTasks(cmd.OutOrStdout(), tasks)
	return nil
}

func addTask(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Same lenient rules as the create_task tool.
	fields := map[string]any{"title": joinArgs(args), "priority": addPriority}
	if addDescription != "" {
		fields["description"] = addDescription
	}
	if addDue != "" {
		fields["due_date"] = addDue
	}
	parsed, err := tools.ParseCreateArgs(fields)
	if err != nil {
		return errors.New("title is required")
	}

	t := task.NewTask(cfg.Actor.ID, parsed.Title)
	t.Description = parsed.Description
	t.Priority = parsed.Priority
	t.DueDate = parsed.DueDate
	if err := a.store.Create(ctx, t); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	logging.AuditFor(cfg.Actor.ID).TaskMutation(logging.AuditTaskCreate, t.ID)

	renderTasks(cmd.OutOrStdout(), []*task.Task{t})
	return nil
}

func removeTask(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.store.Delete(ctx, cfg.Actor.ID, args[0])
	if errors.Is(err, task.ErrNotFound) {
		return errors.New("task not found")
	}
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	logging.AuditFor(cfg.Actor.ID).TaskMutation(logging.AuditTaskDelete, args[0])

	s := newStyles(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), s.Success.Render("Deleted")+" "+args[0])
	return nil
}

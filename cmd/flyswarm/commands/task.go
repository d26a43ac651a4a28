package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackms/flyswarm-go/internal/infrastructure/httpapi"
)

var (
	taskCreateType     string
	taskCreatePayload  string
	taskCreatePriority string
)

// TaskCmd is the parent command for task operations.
var TaskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage swarm tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Submit a task",
	Long: `Submit a task to a running swarm server.

The task type drives worker selection: types containing "search" or
"analyze" go to researchers, "implement" or "code" to coders, "test" or
"validate" to testers and "metric" or "report" to analysts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := httpapi.CreateTaskRequest{
			Type:     taskCreateType,
			Priority: taskCreatePriority,
		}
		if taskCreatePayload != "" {
			if !json.Valid([]byte(taskCreatePayload)) {
				return fmt.Errorf("payload is not valid JSON")
			}
			req.Payload = json.RawMessage(taskCreatePayload)
		}

		t, err := NewClient().CreateTask(cmd.Context(), req)
		if err != nil {
			return err
		}
		return PrintJSON(t)
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := NewClient().Task(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return PrintJSON(t)
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := NewClient().Tasks(cmd.Context())
		if err != nil {
			return err
		}
		return PrintJSON(tasks)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Submit the demonstration batch",
	Long:  `Submit one task per worker specialization plus a scale-up proposal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := NewClient().Batch(cmd.Context())
		if err != nil {
			return err
		}
		return PrintJSON(out)
	},
}

func init() {
	taskCreateCmd.Flags().StringVarP(&taskCreateType, "type", "t", "", "Task type (required)")
	taskCreateCmd.Flags().StringVarP(&taskCreatePayload, "payload", "d", "", "Task payload as JSON")
	taskCreateCmd.Flags().StringVarP(&taskCreatePriority, "priority", "p", "medium", "Priority: high, medium or low")
	taskCreateCmd.MarkFlagRequired("type")

	TaskCmd.AddCommand(taskCreateCmd)
	TaskCmd.AddCommand(taskGetCmd)
	TaskCmd.AddCommand(taskListCmd)
	TaskCmd.AddCommand(batchCmd)
}

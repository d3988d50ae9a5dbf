package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/CleanExpo/RestoreAssist-sub015/internal/log"
	internal_storage "github.com/CleanExpo/RestoreAssist-sub015/internal/storage"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/registry"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/service"
	"github.com/spf13/cobra"
)

// SetupCLI wires the workflow management commands. Workflow creation happens
// in the hosting application where definitions and handlers live; the CLI
// operates on already-persisted workflow runs.
func SetupCLI(rootCmd *cobra.Command) {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all workflows",
		Run: func(cmd *cobra.Command, args []string) {
			svc, closeStore := initService(cmd)
			defer closeStore()
			listWorkflows(svc)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a workflow with its tasks",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, closeStore := initService(cmd)
			defer closeStore()
			showWorkflow(svc, parseID(args[0]))
		},
	}

	advanceCmd := &cobra.Command{
		Use:   "advance [id]",
		Short: "Promote newly-ready tasks and recompute workflow status",
		Run: func(cmd *cobra.Command, args []string) {
			svc, closeStore := initService(cmd)
			defer closeStore()
			advanceWorkflow(svc, parseID(args[0]))
		},
		Args: cobra.ExactArgs(1),
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a workflow's pending and ready tasks",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, closeStore := initService(cmd)
			defer closeStore()
			cancelWorkflow(svc, parseID(args[0]))
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume [id]",
		Short: "Requeue a workflow's failed and dead-letter tasks",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			svc, closeStore := initService(cmd)
			defer closeStore()
			resumeWorkflow(svc, parseID(args[0]))
		},
	}

	rootCmd.AddCommand(listCmd, showCmd, advanceCmd, cancelCmd, resumeCmd)
}

func initService(cmd *cobra.Command) (*service.WorkflowService, func()) {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	svc := service.NewWorkflowService(store, registry.New(), log.GetLogger())
	return svc, func() {
		if err := store.Close(); err != nil {
			log.GetLogger().Errorf("Failed to close store: %v", err)
		}
	}
}

func parseID(arg string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing id as number: %v\n", err)
		os.Exit(1)
	}
	return id
}

func listWorkflows(svc *service.WorkflowService) {
	workflows, err := svc.ListWorkflows()
	if err != nil {
		log.GetLogger().Errorf("Failed to list workflows: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to list workflows: %v\n", err)
		os.Exit(1)
	}
	if len(workflows) == 0 {
		fmt.Fprintf(os.Stdout, "No workflows found.\n")
		return
	}
	fmt.Fprintf(os.Stdout, "Workflows:\n")
	for _, wf := range workflows {
		fmt.Fprintf(os.Stdout, "- ID: %d, Name: %s, Status: %s, Tasks: %d/%d, Created: %s\n",
			wf.ID, wf.Name, wf.Status, wf.CompletedTasks, wf.TotalTasks, wf.CreatedAt.Format(time.RFC3339))
	}
}

func showWorkflow(svc *service.WorkflowService, id int64) {
	wf, err := svc.GetWorkflow(id)
	if err != nil {
		log.GetLogger().Errorf("Failed to get workflow: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to get workflow: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Workflow %d '%s' status=%s tasks=%d/%d failed=%d\n",
		wf.ID, wf.Name, wf.Status, wf.CompletedTasks, wf.TotalTasks, wf.FailedTasks)
	for _, t := range wf.Tasks {
		line := fmt.Sprintf("  [tier %d] %s (%s) status=%s attempts=%d/%d",
			t.ParallelGroup, t.ID, t.AgentSlug, t.Status, t.Attempts, t.MaxRetries+1)
		if t.ErrorMsg != "" {
			line += fmt.Sprintf(" error=%s: %s", t.ErrorCode, t.ErrorMsg)
		}
		fmt.Fprintln(os.Stdout, line)
	}
}

func advanceWorkflow(svc *service.WorkflowService, id int64) {
	res, err := svc.AdvanceWorkflow(id)
	if err != nil {
		log.GetLogger().Errorf("Failed to advance workflow: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to advance workflow: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Workflow %d status=%s promoted=%d executable=%d\n",
		id, res.Status, res.Promoted, len(res.Executable))
}

func cancelWorkflow(svc *service.WorkflowService, id int64) {
	if err := svc.CancelWorkflow(id); err != nil {
		log.GetLogger().Errorf("Failed to cancel workflow: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to cancel workflow: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Cancelled workflow %d\n", id)
}

func resumeWorkflow(svc *service.WorkflowService, id int64) {
	requeued, err := svc.ResumeWorkflow(id)
	if err != nil {
		log.GetLogger().Errorf("Failed to resume workflow: %v", err)
		fmt.Fprintf(os.Stderr, "Error: failed to resume workflow: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "Resumed workflow %d, requeued %d tasks\n", id, requeued)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/onboard/pkg/api"
	"github.com/cuemby/onboard/pkg/client"
)

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show onboarding task status",
	Long: `Show one task, the most recent task when no id is given, or every
known task with --all. --diff prints what the agent changed on the device:
the task's original config against its current config.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	addAgentFlags(statusCmd)
	statusCmd.Flags().Bool("all", false, "List every task")
	statusCmd.Flags().Bool("full", false, "Include current and original device config")
	statusCmd.Flags().Bool("diff", false, "Print a diff of original and current device config")
}

func runStatus(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	full, _ := cmd.Flags().GetBool("full")
	showDiff, _ := cmd.Flags().GetBool("diff")

	c := agentClient(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if all {
		tasks, err := c.ListTasks(ctx)
		if err != nil {
			return err
		}
		return printTaskTable(cmd, tasks)
	}

	var (
		t   *api.TaskResponse
		err error
	)
	if len(args) == 1 {
		t, err = c.GetTask(ctx, args[0], full || showDiff)
	} else {
		t, err = c.MostRecentTask(ctx)
		if err == nil && showDiff {
			t, err = c.GetTask(ctx, t.ID, true)
		}
	}
	if errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("no such task")
	}
	if err != nil {
		return err
	}

	if showDiff {
		out, err := configDiff(t.OriginalConfig, t.CurrentConfig)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	}
	return printTask(cmd, t)
}

func printTaskTable(cmd *cobra.Command, tasks []api.TaskResponse) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCODE\tMESSAGE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.ID, t.Result.Status, t.Result.Code, t.Result.Message)
	}
	return w.Flush()
}

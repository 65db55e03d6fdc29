package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BaSui01/agentcoord/workflow"
)

// newRunsCmd creates the "agentcoord runs" command group. Only the database store
// keeps runs across processes.
func newRunsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect persisted workflow runs",
	}
	cmd.AddCommand(newRunsListCmd(opts), newRunsShowCmd(opts))
	return cmd
}

// withStore 加载配置并组装运行时后调用 fn
func withStore(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, store workflow.Store) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(cmd.Context(), a.store)
}

func newRunsListCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list [workflow-id]",
		Short: "List recent runs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowID := ""
			if len(args) == 1 {
				workflowID = args[0]
			}
			return withStore(cmd, opts, func(ctx context.Context, store workflow.Store) error {
				runs, err := store.ListRuns(ctx, workflowID, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tWORKFLOW\tSTATUS\tSTARTED\tSTEP")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						r.ID, r.WorkflowID, r.Status, r.StartedAt.Format(time.RFC3339), r.CurrentStep)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	return cmd
}

// runDetail runs show 的输出
type runDetail struct {
	*workflow.Run
	Steps []workflow.StepRecord `json:"steps"`
}

func newRunsShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its step snapshots and logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, store workflow.Store) error {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				steps, err := store.ListStepStates(ctx, run.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), runDetail{Run: run, Steps: steps})
			})
		},
	}
}

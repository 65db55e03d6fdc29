package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/workflow"
	"github.com/BaSui01/agentcoord/workflow/planfile"
)

// newRunCmd creates the "agentcoord run" subcommand.
func newRunCmd(opts *rootOptions) *cobra.Command {
	var eventJSON, eventFile string
	cmd := &cobra.Command{
		Use:   "run <plan-file|workflow-id>",
		Short: "Run a workflow once and print the run record",
		Long: `Run compiles and saves a plan file (or looks up a saved workflow by id,
syncing workflow.plans_dir first) and executes it with the given event.

Examples:
  agentcoord run plans/onboarding.yaml --event '{"id":"T-1"}'
  agentcoord run onboarding --event-file event.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			event, err := readEvent(eventJSON, eventFile)
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Log)
			defer logger.Sync()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			workflowID, err := a.resolveWorkflow(ctx, args[0])
			if err != nil {
				return err
			}

			run, runErr := a.engine.Run(ctx, workflowID, event)
			if run != nil {
				if err := printJSON(cmd.OutOrStdout(), run); err != nil {
					return err
				}
			}
			if runErr != nil {
				return fmt.Errorf("run %s: %w", workflowID, runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&eventJSON, "event", "e", "", "event payload as a JSON object")
	cmd.Flags().StringVar(&eventFile, "event-file", "", "read the event payload from a JSON file")
	cmd.MarkFlagsMutuallyExclusive("event", "event-file")
	return cmd
}

// resolveWorkflow 参数是计划文件时编译并保存，返回工作流 id；否则先同步计划目录再按 id 查找
func (a *app) resolveWorkflow(ctx context.Context, arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() && planfile.IsPlanFile(arg) {
		plan, err := planfile.LoadFile(arg)
		if err != nil {
			return "", err
		}
		compiled, err := workflow.Compile(ctx, plan, a.nodes)
		if err != nil {
			return "", err
		}
		if err := a.store.SaveWorkflow(ctx, &workflow.Workflow{ID: compiled.Name, Plan: compiled}); err != nil {
			return "", fmt.Errorf("save workflow: %w", err)
		}
		return compiled.Name, nil
	}

	if dir := a.cfg.Workflow.PlansDir; dir != "" {
		res, err := planfile.Sync(ctx, dir, a.store, a.nodes)
		if err != nil {
			return "", err
		}
		for path, ferr := range res.Failed {
			a.logger.Warn("plan file skipped", zap.String("path", path), zap.Error(ferr))
		}
	}
	return arg, nil
}

// readEvent 解析事件负载；两者都为空时返回空事件
func readEvent(raw, path string) (map[string]any, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read event file: %w", err)
		}
		raw = string(data)
	}
	event := map[string]any{}
	if raw == "" {
		return event, nil
	}
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("event must be a JSON object: %w", err)
	}
	return event, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

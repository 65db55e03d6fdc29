package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentcoord/workflow"
)

// newPlanCmd creates the "agentcoord plan" subcommand.
func newPlanCmd(opts *rootOptions) *cobra.Command {
	var name, outPath string
	cmd := &cobra.Command{
		Use:   "plan <prompt>",
		Short: "Generate a plan file from a natural-language prompt",
		Long: `Plan asks the configured LLM to draft a workflow plan using the nodes this
build provides, compiles it and prints it as YAML. Requires llm.provider.

Examples:
  agentcoord plan "ask the coder for a status update on every new ticket" --name ticket-status
  agentcoord plan "..." --out plans/ticket-status.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if a.completer == nil {
				return errors.New("plan generation requires llm.provider")
			}

			plan, err := workflow.NewPromptPlanner(a.completer, a.nodes, logger).
				Plan(ctx, name, strings.Join(args, " "))
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(plan.Spec())
			if err != nil {
				return fmt.Errorf("encode plan: %w", err)
			}
			if len(plan.MissingNodes) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: plan uses unknown nodes: %s\n", strings.Join(plan.MissingNodes, ", "))
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("write plan: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote plan %q to %s\n", plan.Name, outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "plan name (overrides the generated one)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the plan to a file instead of stdout")
	return cmd
}

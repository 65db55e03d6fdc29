package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BaSui01/agentcoord/workflow"
	"github.com/BaSui01/agentcoord/workflow/nodes"
	"github.com/BaSui01/agentcoord/workflow/planfile"
)

// nodeCatalog 本进程提供的全部节点，仅用于校验（不执行）
func nodeCatalog() *nodes.MapRegistry {
	return nodes.NewDefaultRegistry().MustRegister(nodes.AgentNodes(nil, nil, nil)...)
}

// newValidateCmd creates the "agentcoord validate" subcommand.
func newValidateCmd(_ *rootOptions) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate <plan-file> [plan-file...]",
		Short: "Validate plan files without running them",
		Long: `Validate parses and compiles plan files and reports syntax errors, dangling
step references and nodes this build does not provide.

Examples:
  agentcoord validate plans/onboarding.yaml
  agentcoord validate --strict plans/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			registry := nodeCatalog()
			out := cmd.OutOrStdout()

			failed := 0
			for _, path := range args {
				plan, err := planfile.LoadFile(path)
				if err == nil {
					plan, err = workflow.Compile(ctx, plan, registry)
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "✗ %s: %v\n", path, err)
					continue
				}
				if len(plan.MissingNodes) > 0 {
					if strict {
						failed++
					}
					fmt.Fprintf(out, "! %s: plan %q uses unknown nodes: %s\n",
						path, plan.Name, strings.Join(plan.MissingNodes, ", "))
					continue
				}
				fmt.Fprintf(out, "✓ %s: plan %q, %d steps\n", path, plan.Name, len(plan.Steps))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d plan files failed validation", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "treat unknown nodes as errors")
	return cmd
}

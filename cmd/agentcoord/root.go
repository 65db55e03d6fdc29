package main

import (
	"fmt"

	"github.com/BaSui01/agentcoord/config"
	"github.com/spf13/cobra"
)

// rootOptions 所有子命令共享的全局参数
type rootOptions struct {
	configPath string
}

// newRootCmd creates the root agentcoord command with all subcommands attached.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "agentcoord",
		Short:         "Governed multi-agent coordination and workflow engine",
		Long:          "agentcoord routes messages between agents under a speaking governor\nand runs declarative workflows against a registry of nodes.",
		Version:       fmt.Sprintf("agentcoord %s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newValidateCmd(opts),
		newPlanCmd(opts),
		newRunsCmd(opts),
		newSendCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load 读取配置：默认值 → YAML 文件 → AGENTCOORD_* 环境变量，随后整体校验
func (o *rootOptions) load() (*config.Config, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if o.configPath != "" {
		loader = loader.WithConfigPath(o.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"AgentNFT-Chain/internal/config"
)

const configEnv = "AGENTNFT_CONFIG"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "agentd",
		Short:         "AgentNFT node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "配置文件路径 (默认 $"+configEnv+" 或 configs/agentd.yaml)")
	root.AddCommand(newServeCommand(), newMigrateCommand(), newKeygenCommand(), newTailCommand())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		path = filepath.Join("configs", "agentd.yaml")
	}
	return config.Load(path)
}

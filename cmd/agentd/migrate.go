package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"AgentNFT-Chain/internal/storage/mysql"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "执行 MySQL 迁移",
		Long:  "对 storage.mysql.dsn 指向的数据库执行尚未应用的内嵌迁移，覆盖账本状态表与交易池表。",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage.MySQL.DSN == "" {
				return errors.New("storage.mysql.dsn 未配置")
			}
			db, err := mysql.OpenDB(cmd.Context(), mysqlConfig(cfg))
			if err != nil {
				return err
			}
			defer db.Close()
			if err := mysql.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "迁移完成")
			return nil
		},
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"AgentNFT-Chain/internal/api"
	"AgentNFT-Chain/internal/config"
	"AgentNFT-Chain/internal/observability/metrics"
	"AgentNFT-Chain/pkg/logger"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动节点：账本、交易池与 HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
				cfg.API.Address = addr
			}
			if err := logger.Init(cfg.Logging); err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("listen", "", "覆盖 api.address")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	n, err := buildNode(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.close(); err != nil {
			n.log.Error("释放资源失败", slog.String("error", err.Error()))
		}
	}()

	head := n.ledger.Head()
	n.log.Info("节点已就绪",
		slog.Uint64("chain_id", cfg.Ledger.ChainID),
		slog.Uint64("height", head.Height),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("txpool_store", cfg.TxPool.Store),
		slog.String("txpool_queue", cfg.TxPool.Queue),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	processorDone := make(chan struct{})
	go func() {
		defer close(processorDone)
		if err := n.processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			n.log.Error("交易处理器异常退出", slog.String("error", err.Error()))
			cancel()
		}
	}()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				n.log.Error("指标服务异常退出", slog.String("error", err.Error()))
			}
		}()
	}

	server := api.NewServer(cfg.API.Address, n.ledger, n.pool,
		api.WithEventBuffer(n.buffer),
		api.WithEventFeed(n.feed),
		api.WithWaitTimeout(cfg.API.WaitTimeout()),
		api.WithLogger(logger.Named("api")),
	)
	err = server.Start(ctx)
	cancel()
	<-processorDone
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

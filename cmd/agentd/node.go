package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/config"
	"AgentNFT-Chain/internal/events"
	"AgentNFT-Chain/internal/ledger"
	"AgentNFT-Chain/internal/logic"
	"AgentNFT-Chain/internal/observability/alerting"
	"AgentNFT-Chain/internal/storage"
	"AgentNFT-Chain/internal/storage/badgerdb"
	"AgentNFT-Chain/internal/storage/file"
	"AgentNFT-Chain/internal/storage/mysql"
	"AgentNFT-Chain/internal/txpool"
	"AgentNFT-Chain/internal/vm"
	"AgentNFT-Chain/pkg/logger"
	"AgentNFT-Chain/pkg/plugin"
)

// node 汇总 serve 命令装配出的全部组件。
type node struct {
	cfg       *config.Config
	registry  *vm.Registry
	ledger    *ledger.Ledger
	buffer    *events.Buffer
	feed      *events.Feed
	pool      *txpool.Service
	processor *txpool.Processor
	log       *slog.Logger
}

func mysqlConfig(cfg *config.Config) mysql.Config {
	return mysql.Config{
		DSN:             cfg.Storage.MySQL.DSN,
		MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.MySQL.ConnMaxLifetime(),
		ConnMaxIdleTime: cfg.Storage.MySQL.ConnMaxIdleTime(),
	}
}

// buildNode 按配置装配组件。返回错误时已创建的资源会被释放。
func buildNode(ctx context.Context, cfg *config.Config) (n *node, err error) {
	n = &node{cfg: cfg, registry: vm.NewRegistry(), log: logger.Named("agentd")}
	var cleanup []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanup) - 1; i >= 0; i-- {
			_ = cleanup[i]()
		}
	}()

	token := common.HexToAddress(cfg.Ledger.TokenAddress)
	if err := deployLogic(n.registry, token, cfg.Logic, n.log); err != nil {
		return nil, err
	}

	repo, db, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, repo.Close)

	n.buffer = events.NewBuffer(cfg.Events.BufferSize)
	n.feed = events.NewFeed()
	sink, err := openSinks(ctx, cfg.Events, n.buffer, n.feed)
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, sink.Close)

	alloc, err := cfg.Ledger.Genesis.Allocations()
	if err != nil {
		return nil, err
	}
	l, err := ledger.New(ctx, ledger.Config{
		ChainID:      cfg.Ledger.ChainID,
		TokenAddress: token,
		Genesis: ledger.Genesis{
			Governance: common.HexToAddress(cfg.Ledger.Genesis.Governance),
			Timestamp:  cfg.Ledger.Genesis.Timestamp,
			Alloc:      alloc,
		},
	}, n.registry, ledger.WithRepository(repo), ledger.WithSink(sink))
	if err != nil {
		return nil, err
	}
	n.ledger = l
	// 账本接管仓库与事件分发的生命周期。
	cleanup = []func() error{l.Close}

	store, err := openPoolStore(ctx, cfg, db)
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, store.Close)

	queue, err := openPoolQueue(cfg.TxPool)
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, queue.Close)

	n.pool = txpool.NewService(l, store, queue, cfg.TxPool.MaxRetries)
	n.processor = txpool.NewProcessor(l, store, queue, queue,
		txpool.WithWorkerCount(cfg.TxPool.Workers),
		txpool.WithRetryDelay(cfg.TxPool.RetryDelay()),
		txpool.WithAlertDispatcher(buildAlerting(cfg.Alerting)),
		txpool.WithProcessorLogger(logger.Named("txpool")),
	)
	return n, nil
}

func deployLogic(registry *vm.Registry, deployer common.Address, cfg config.LogicConfig, log *slog.Logger) error {
	names := cfg.Builtins
	if len(names) == 0 {
		names = logic.Names()
	}
	deployed, err := logic.Deploy(registry, deployer, names, cfg.LogicAddresses())
	if err != nil {
		return fmt.Errorf("部署内置逻辑失败: %w", err)
	}
	for _, name := range names {
		log.Info("内置逻辑已部署", slog.String("name", name), slog.String("address", deployed[name].Hex()))
	}
	if cfg.Plugins == "" {
		return nil
	}
	managerCfg, err := plugin.LoadManagerConfig(cfg.Plugins)
	if err != nil {
		return err
	}
	manager, err := plugin.NewManager(managerCfg, plugin.WithLogger(logger.Named("plugin")))
	if err != nil {
		return err
	}
	if _, err := manager.Deploy(registry, deployer); err != nil {
		return err
	}
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, *sql.DB, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return storage.NewMemoryRepository(), nil, nil
	case config.DriverFile:
		repo, err := file.Open(cfg.Runtime.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return repo, nil, nil
	case config.DriverBadger:
		repo, err := badgerdb.Open(badgerdb.Options{
			Dir:    filepath.Join(cfg.Runtime.DataDir, "badger"),
			Logger: logger.Named("badger"),
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, nil, nil
	case config.DriverMySQL:
		repo, err := mysql.Open(ctx, mysqlConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.DB(), nil
	default:
		return nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

// openSinks 组合进程内与外部事件出口。
func openSinks(ctx context.Context, cfg config.EventsConfig, local ...events.Sink) (events.Sink, error) {
	sinks := append([]events.Sink{}, local...)
	if cfg.Redis.Enabled {
		sink, err := events.NewRedisSink(ctx, events.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if cfg.RabbitMQ.Enabled {
		sink, err := events.NewRabbitMQSink(events.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Durable:  cfg.RabbitMQ.Durable,
		})
		if err != nil {
			_ = events.NewFanout(sinks...).Close()
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return events.NewFanout(sinks...), nil
}

// openPoolStore 在账本使用 MySQL 时复用同一个连接池。
func openPoolStore(ctx context.Context, cfg *config.Config, shared *sql.DB) (txpool.Store, error) {
	switch cfg.TxPool.Store {
	case config.DriverMemory:
		return txpool.NewMemoryStore(), nil
	case config.DriverMySQL:
		db := shared
		if db == nil {
			opened, err := mysql.OpenDB(ctx, mysqlConfig(cfg))
			if err != nil {
				return nil, err
			}
			if err := mysql.Migrate(ctx, opened); err != nil {
				opened.Close()
				return nil, err
			}
			db = opened
		}
		return txpool.NewMySQLStore(db)
	default:
		return nil, fmt.Errorf("未知的交易池存储: %s", cfg.TxPool.Store)
	}
}

func openPoolQueue(cfg config.TxPoolConfig) (txpool.Queue, error) {
	switch cfg.Queue {
	case config.DriverMemory:
		return txpool.NewMemoryQueue(1024), nil
	case config.DriverRedis:
		return txpool.NewRedisQueue(txpool.RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Queue,
		})
	case config.DriverRabbitMQ:
		return txpool.NewRabbitMQQueue(txpool.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue)
	}
}

func buildAlerting(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Log {
		notifiers = append(notifiers, &alerting.LogNotifier{Logger: logger.Named("alerting")})
	}
	for _, hook := range cfg.Webhooks {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    hook.URL,
			Format: hook.Format,
			Client: &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second},
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

// close 按依赖逆序释放资源。交易池服务负责关闭存储与队列。
func (n *node) close() error {
	var errs []error
	if n.pool != nil {
		errs = append(errs, n.pool.Close())
	}
	if n.ledger != nil {
		errs = append(errs, n.ledger.Close())
	}
	return errors.Join(errs...)
}

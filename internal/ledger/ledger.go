// Package ledger 串行地应用已签名交易，并负责提交、持久化与事件分发。
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"AgentNFT-Chain/internal/agent"
	xerrors "AgentNFT-Chain/internal/errors"
	"AgentNFT-Chain/internal/events"
	"AgentNFT-Chain/internal/observability/metrics"
	"AgentNFT-Chain/internal/state"
	"AgentNFT-Chain/internal/storage"
	"AgentNFT-Chain/internal/types"
	"AgentNFT-Chain/internal/vm"
	"AgentNFT-Chain/pkg/logger"
)

// Genesis 描述空仓库启动时写入的初始状态。
type Genesis struct {
	Governance common.Address
	Timestamp  uint64
	Alloc      map[common.Address]*big.Int
}

// Config 描述账本参数。
type Config struct {
	ChainID      uint64
	TokenAddress common.Address
	Genesis      Genesis
}

// Option 定义可选的账本配置。
type Option func(*Ledger)

// WithRepository 指定持久化仓库，默认使用内存仓库。
func WithRepository(repo storage.Repository) Option {
	return func(l *Ledger) {
		if repo != nil {
			l.repo = repo
		}
	}
}

// WithSink 指定事件分发目标。
func WithSink(sink events.Sink) Option {
	return func(l *Ledger) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.logger = log
		}
	}
}

// WithNow 指定墙钟来源，用于推导区块时间戳。
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger 是单写者状态机。所有写操作持有同一把锁。
type Ledger struct {
	mu sync.Mutex

	chainID  uint64
	db       *state.StateDB
	token    *agent.Token
	registry *vm.Registry
	repo     storage.Repository
	sink     events.Sink
	decoder  *events.Decoder
	head     storage.Checkpoint
	blockTS  uint64
	now      func() time.Time
	logger   *slog.Logger
}

// New 从仓库恢复状态；仓库为空时写入创世状态。
func New(ctx context.Context, cfg Config, registry *vm.Registry, opts ...Option) (*Ledger, error) {
	if cfg.ChainID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "chain id 不能为 0")
	}
	if cfg.TokenAddress == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "合约地址不能为空")
	}
	if registry == nil {
		registry = vm.NewRegistry()
	}
	l := &Ledger{
		chainID:  cfg.ChainID,
		db:       state.New(),
		registry: registry,
		decoder:  events.NewDecoder(agent.ABI),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.repo == nil {
		l.repo = storage.NewMemoryRepository()
	}
	if l.sink == nil {
		l.sink = events.NewFanout()
	}
	if l.logger == nil {
		l.logger = logger.Named("ledger")
	}
	l.token = agent.New(l.db, registry, cfg.TokenAddress,
		agent.WithClock(agent.ClockFunc(func() uint64 { return l.blockTS })),
		agent.WithLogger(l.logger.With("contract", cfg.TokenAddress.Hex())),
	)

	cs, cp, err := l.repo.Load(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "加载账本状态失败")
	}
	if cs == nil {
		if err := l.writeGenesis(ctx, cfg.Genesis); err != nil {
			return nil, err
		}
	} else {
		l.db.Apply(cs)
		l.head = cp
		l.logger.Info("账本状态已恢复",
			slog.Uint64("height", cp.Height),
			slog.Uint64("agents", l.token.Identity().TotalSupply()),
		)
	}
	l.blockTS = l.head.Timestamp
	metrics.SetChainHead(l.head.Height, l.token.Identity().TotalSupply())
	return l, nil
}

func (l *Ledger) writeGenesis(ctx context.Context, g Genesis) error {
	if g.Governance == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "创世配置缺少治理地址")
	}
	l.db.SetGovernance(g.Governance)
	l.db.SetNextID(1)
	for addr, amount := range g.Alloc {
		if amount != nil && amount.Sign() > 0 {
			l.db.AddBalance(addr, amount)
		}
	}
	cp := storage.Checkpoint{Height: 0, Timestamp: g.Timestamp}
	if err := l.repo.Persist(ctx, cp, l.db.Commit()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入创世状态失败")
	}
	l.head = cp
	l.logger.Info("创世状态已写入",
		slog.String("governance", g.Governance.Hex()),
		slog.Int("allocations", len(g.Alloc)),
	)
	return nil
}

// ChainID 返回链标识。
func (l *Ledger) ChainID() uint64 { return l.chainID }

// Token 返回合约实例。调用方不得绕过账本锁直接写入。
func (l *Ledger) Token() *agent.Token { return l.token }

// Head 返回最近一次提交的检查点。
func (l *Ledger) Head() storage.Checkpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Validate 执行不修改状态的预检查：签名、链标识与 nonce。
func (l *Ledger) Validate(tx *types.Transaction) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.validate(tx)
}

func (l *Ledger) validate(tx *types.Transaction) (common.Address, error) {
	if tx == nil {
		return common.Address{}, types.ErrInvalidPayload.Errorf("empty transaction")
	}
	sender, err := tx.Sender()
	if err != nil {
		return common.Address{}, err
	}
	if uint64(tx.ChainID) != l.chainID {
		return sender, types.ErrInvalidChainID.Errorf("expected chain %d, got %d", l.chainID, uint64(tx.ChainID))
	}
	expected := l.db.GetNonce(sender)
	switch nonce := uint64(tx.Nonce); {
	case nonce < expected:
		return sender, types.ErrNonceTooLow.Errorf("%s: next nonce %d, got %d", sender.Hex(), expected, nonce)
	case nonce > expected:
		return sender, types.ErrNonceTooHigh.Errorf("%s: next nonce %d, got %d", sender.Hex(), expected, nonce)
	}
	return sender, nil
}

// Apply 应用一笔交易并提交为一个新区块。
//
// 预检查失败时返回错误且不产生回执。执行失败时回滚全部效果，但 nonce 仍递增，
// 返回失败回执与 nil 错误。持久化失败时内存状态回滚到交易之前。
func (l *Ledger) Apply(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	sender, err := l.validate(tx)
	if err != nil {
		return nil, err
	}
	msg, err := tx.AsMessage()
	if err != nil {
		return nil, err
	}

	height := l.head.Height + 1
	ts := uint64(l.now().Unix())
	if ts < l.head.Timestamp {
		ts = l.head.Timestamp
	}
	l.blockTS = ts
	txHash := tx.Hash()

	snap := l.db.Snapshot()
	l.db.SetNonce(sender, uint64(tx.Nonce)+1)

	ret, execErr := l.token.Invoke(msg)
	receipt := &types.Receipt{
		TxHash:      txHash,
		Sender:      sender,
		Nonce:       uint64(tx.Nonce),
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: height,
		Timestamp:   ts,
		GasUsed:     l.token.GasUsed(),
		ReturnData:  ret,
		Logs:        []*gethtypes.Log{},
	}
	if execErr != nil {
		receipt.Status = types.ReceiptStatusFailed
		receipt.ReturnData = nil
		receipt.ErrorCode = string(xerrors.CodeOf(execErr))
		receipt.Error = execErr.Error()
	}
	for _, log := range l.db.Logs() {
		log.TxHash = txHash
		log.BlockNumber = height
		receipt.Logs = append(receipt.Logs, log)
	}

	cp := storage.Checkpoint{Height: height, Timestamp: ts}
	if err := l.repo.Persist(ctx, cp, l.db.Pending()); err != nil {
		l.db.RevertToSnapshot(snap)
		l.blockTS = l.head.Timestamp
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "持久化区块失败",
			xerrors.WithMetadata("tx", txHash.Hex()))
	}
	l.db.Commit()
	l.head = cp

	l.publish(ctx, receipt)
	metrics.ObserveTransaction(string(tx.Action.Kind), receipt.Succeeded(), receipt.GasUsed, time.Since(start))
	metrics.SetChainHead(height, l.token.Identity().TotalSupply())

	attrs := []any{
		slog.String("tx", txHash.Hex()),
		slog.String("sender", sender.Hex()),
		slog.String("action", string(tx.Action.Kind)),
		slog.Uint64("block", height),
		slog.Bool("success", receipt.Succeeded()),
		slog.Uint64("gas_used", receipt.GasUsed),
	}
	if execErr != nil {
		attrs = append(attrs, slog.String("error_code", receipt.ErrorCode))
	}
	logger.Audit().Info("交易已提交", attrs...)
	return receipt, nil
}

func (l *Ledger) publish(ctx context.Context, receipt *types.Receipt) {
	if len(receipt.Logs) == 0 {
		return
	}
	decoded, err := l.decoder.DecodeAll(receipt.Logs)
	if err != nil {
		l.logger.Warn("部分事件无法解码", slog.String("tx", receipt.TxHash.Hex()), slog.String("error", err.Error()))
	}
	if err := l.sink.Publish(ctx, decoded); err != nil {
		l.logger.Warn("事件分发失败",
			slog.String("tx", receipt.TxHash.Hex()),
			slog.Int("events", len(decoded)),
			slog.String("error", err.Error()),
		)
	}
}

// Call 在当前状态上模拟执行动作并丢弃全部效果，不检查签名与 nonce。
func (l *Ledger) Call(from common.Address, value *big.Int, action types.Action) ([]byte, uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.db.Snapshot()
	defer l.db.RevertToSnapshot(snap)
	prevTS := l.blockTS
	defer func() { l.blockTS = prevTS }()
	if now := uint64(l.now().Unix()); now > l.blockTS {
		l.blockTS = now
	}
	if value == nil {
		value = new(big.Int)
	}
	ret, err := l.token.Invoke(types.Message{From: from, Value: value, Action: action})
	return ret, l.token.GasUsed(), err
}

// Close 关闭仓库与事件分发。
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	sinkErr := l.sink.Close()
	if err := l.repo.Close(); err != nil {
		return fmt.Errorf("关闭仓库失败: %w", err)
	}
	return sinkErr
}

package txpool

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentNFT-Chain/internal/errors"
	"AgentNFT-Chain/internal/observability/metrics"
	"AgentNFT-Chain/internal/types"
	"AgentNFT-Chain/pkg/logger"
)

// Validator 在入池前执行不修改状态的预检查。
type Validator interface {
	Validate(tx *types.Transaction) (common.Address, error)
}

// Service 负责交易的入池与查询。
type Service struct {
	validator  Validator
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造交易池服务。
func NewService(validator Validator, store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{validator: validator, store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 校验交易并推送到队列。相同哈希的交易只入池一次。
//
// nonce 过高的交易仍然入池，等待前序交易出块后重试。
func (s *Service) Submit(ctx context.Context, tx *types.Transaction) (*Entry, error) {
	if tx == nil {
		return nil, xerrors.New(CodeEntryValidation, "交易不能为空")
	}
	if s.store == nil || s.producer == nil || s.validator == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易池未初始化")
	}

	id := tx.Hash().Hex()
	existing, err := s.store.Get(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !stdErrors.Is(err, ErrEntryNotFound) {
		return nil, err
	}

	sender, err := s.validator.Validate(tx)
	if err != nil && !stdErrors.Is(err, types.ErrNonceTooHigh) {
		metrics.ObservePoolEvent("rejected")
		return nil, err
	}

	entry := &Entry{
		ID:         id,
		Sender:     sender.Hex(),
		Nonce:      uint64(tx.Nonce),
		Kind:       string(tx.Action.Kind),
		Tx:         tx,
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, entry); err != nil {
		if stdErrors.Is(err, ErrEntryConflict) {
			if existing, getErr := s.store.Get(ctx, id); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, id); err != nil {
		logger.L().Error("交易入队失败", slog.Any("error", err), slog.String("tx", id))
		wrapped := xerrors.Wrap(CodeEntryPublish, err, "发布交易到队列失败")
		_ = s.store.MarkFailed(ctx, id, CodeEntryPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	metrics.ObservePoolEvent("submitted")
	logger.Audit().Info("交易入池成功",
		slog.String("tx", id),
		slog.String("sender", entry.Sender),
		slog.Uint64("nonce", entry.Nonce),
		slog.String("kind", entry.Kind),
	)
	return entry, nil
}

// Get 返回指定交易的状态。
func (s *Service) Get(ctx context.Context, id string) (*Entry, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易池存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的交易列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Entry, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易池存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的交易统计。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (PoolStats, error) {
	if s.store == nil {
		return PoolStats{}, xerrors.New(xerrors.CodeInitializationFailure, "交易池存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// WaitUntilDone 轮询交易状态，直到到达终态或 ctx 结束。
func (s *Service) WaitUntilDone(ctx context.Context, id string, interval time.Duration) (*Entry, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		entry, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry.Done() {
			return entry, nil
		}
		select {
		case <-ctx.Done():
			return entry, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

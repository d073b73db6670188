package txpool

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "AgentNFT-Chain/internal/errors"
	"AgentNFT-Chain/internal/observability/alerting"
	"AgentNFT-Chain/internal/observability/metrics"
	"AgentNFT-Chain/internal/types"
	"AgentNFT-Chain/pkg/logger"
)

// Applier 定义了处理器所需的账本能力。
type Applier interface {
	Apply(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Processor 负责从队列消费交易并交给账本出块。
type Processor struct {
	applier     Applier
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	retryDelay  time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。账本内部串行，多协程只影响出队并发。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRetryDelay 设置可重试失败重新入队前的等待时间。
func WithRetryDelay(delay time.Duration) ProcessorOption {
	return func(p *Processor) {
		if delay >= 0 {
			p.retryDelay = delay
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(applier Applier, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		applier:     applier,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动交易处理循环，直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置交易消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, id string) error {
	if p.store == nil || p.applier == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	entry, err := p.store.Claim(ctx, id)
	if err != nil {
		if stdErrors.Is(err, ErrEntryNotFound) || stdErrors.Is(err, ErrEntryIncluded) ||
			stdErrors.Is(err, ErrEntryExhausted) || stdErrors.Is(err, ErrEntryConflict) {
			p.logDebug("跳过交易", slog.String("tx", id), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取交易失败", slog.Any("error", err), slog.String("tx", id))
		p.emitAlert(ctx, &Entry{ID: id}, CodeEntryProcessing, err, "claim")
		return err
	}
	metrics.ObservePoolEvent("claimed")

	receipt, applyErr := p.applier.Apply(ctx, entry.Tx)
	if applyErr != nil {
		return p.handleFailure(ctx, entry, applyErr)
	}

	if err := p.store.MarkIncluded(ctx, entry.ID, receipt); err != nil {
		// 交易已经出块，只能记录并告警，重投会得到 NonceTooLow。
		logger.L().Error("记录出块回执失败", slog.Any("error", err), slog.String("tx", entry.ID))
		p.emitAlert(ctx, entry, xerrors.CodeStorageFailure, err, "receipt")
		return nil
	}
	metrics.ObservePoolEvent("included")
	logger.Audit().Info("交易已出块",
		slog.String("tx", entry.ID),
		slog.String("sender", entry.Sender),
		slog.String("kind", entry.Kind),
		slog.Uint64("block", receipt.BlockNumber),
		slog.Bool("success", receipt.Succeeded()),
	)
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, entry *Entry, applyErr error) error {
	code := xerrors.CodeOf(applyErr)
	if code == xerrors.CodeUnknown {
		code = CodeEntryProcessing
	}
	retryable := xerrors.RetryableError(applyErr)
	terminal := entry.Attempts >= entry.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, entry.ID, code, applyErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记交易失败状态出错", slog.Any("error", storeErr), slog.String("tx", entry.ID))
		return storeErr
	}
	logger.Audit().Warn("交易未能出块",
		slog.String("tx", entry.ID),
		slog.String("sender", entry.Sender),
		slog.Bool("terminal", terminal),
		slog.String("error", applyErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", entry.Attempts),
		slog.Int("max_retries", entry.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
		if !retryable {
			stage = "rejected"
		}
	}
	metrics.ObservePoolEvent(stage)
	if (terminal && retryable) || xerrors.ShouldAlert(applyErr) {
		p.emitAlert(ctx, entry, code, applyErr, stage)
	}

	if terminal {
		return nil
	}
	if p.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.retryDelay):
		}
	}
	if pubErr := p.producer.Publish(ctx, entry.ID); pubErr != nil {
		return xerrors.Wrap(CodeEntryPublish, pubErr, fmt.Sprintf("交易 %s 重投失败", entry.ID))
	}
	p.logDebug("交易已重新排队", slog.String("tx", entry.ID), slog.Int("attempts", entry.Attempts))
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, entry *Entry, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || entry == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	if entry.Sender != "" {
		metadata["sender"] = entry.Sender
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TxID:       entry.ID,
		Attempts:   entry.Attempts,
		MaxRetries: entry.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("tx", entry.ID),
			slog.String("stage", stage),
		)
	}
}

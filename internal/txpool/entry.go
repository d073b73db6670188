package txpool

import (
	stdErrors "errors"

	xerrors "AgentNFT-Chain/internal/errors"
	"AgentNFT-Chain/internal/types"
)

// Status 表示交易在交易池中的生命周期。
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusIncluded Status = "included"
	StatusFailed   Status = "failed"
)

// Entry 描述交易池中的一笔交易，ID 为交易哈希。
//
// StatusIncluded 只表示交易已出块，执行是否成功以 Receipt.Status 为准。
type Entry struct {
	ID         string             `json:"id"`
	Sender     string             `json:"sender"`
	Nonce      uint64             `json:"nonce"`
	Kind       string             `json:"kind"`
	Tx         *types.Transaction `json:"tx"`
	Status     Status             `json:"status"`
	Attempts   int                `json:"attempts"`
	MaxRetries int                `json:"max_retries"`
	LastError  string             `json:"last_error,omitempty"`
	ErrorCode  string             `json:"error_code,omitempty"`
	Receipt    *types.Receipt     `json:"receipt,omitempty"`
	CreatedAt  int64              `json:"created_at"`
	UpdatedAt  int64              `json:"updated_at"`
}

// Done 判断条目是否已到达终态。
func (e *Entry) Done() bool {
	if e == nil {
		return false
	}
	switch e.Status {
	case StatusIncluded:
		return true
	case StatusFailed:
		return e.Attempts >= e.MaxRetries || !xerrors.AttributesOf(xerrors.Code(e.ErrorCode)).Retryable
	}
	return false
}

var (
	// ErrEntryNotFound 表示指定的交易不在池中。
	ErrEntryNotFound = xerrors.New(CodeEntryNotFound, "transaction not found")
	// ErrEntryConflict 表示交易在当前状态下无法进行所请求的操作。
	ErrEntryConflict = xerrors.New(CodeEntryConflict, "transaction conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrEntryIncluded 表示交易已经出块。
	ErrEntryIncluded = xerrors.New(CodeEntryIncluded, "transaction already included", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrEntryExhausted 表示交易的重试次数已经耗尽。
	ErrEntryExhausted = xerrors.New(CodeEntryExhausted, "transaction retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeEntryNotFound   xerrors.Code = "POOL_TX_NOT_FOUND"
	CodeEntryConflict   xerrors.Code = "POOL_TX_CONFLICT"
	CodeEntryIncluded   xerrors.Code = "POOL_TX_INCLUDED"
	CodeEntryExhausted  xerrors.Code = "POOL_TX_RETRIES_EXHAUSTED"
	CodeEntryValidation xerrors.Code = "POOL_TX_VALIDATION_FAILED"
	CodeEntryPublish    xerrors.Code = "POOL_TX_PUBLISH_FAILED"
	CodeEntryProcessing xerrors.Code = "POOL_TX_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeEntryNotFound, xerrors.Attributes{
		Message:  "transaction not found",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CategoryNotFound,
	})
	xerrors.Register(CodeEntryConflict, xerrors.Attributes{
		Message:  "transaction conflict",
		Severity: xerrors.SeverityWarning,
		Category: xerrors.CategoryConflict,
	})
	xerrors.Register(CodeEntryIncluded, xerrors.Attributes{
		Message:  "transaction already included",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CategoryConflict,
	})
	xerrors.Register(CodeEntryExhausted, xerrors.Attributes{
		Message:  "transaction retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
		Category: xerrors.CategoryConflict,
	})
	xerrors.Register(CodeEntryValidation, xerrors.Attributes{
		Message:  "transaction validation failed",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CategoryInvalid,
	})
	xerrors.Register(CodeEntryPublish, xerrors.Attributes{
		Message:   "failed to enqueue transaction",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
		Category:  xerrors.CategoryUnavailable,
	})
	xerrors.Register(CodeEntryProcessing, xerrors.Attributes{
		Message:   "transaction processing failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
		Category:  xerrors.CategoryInternal,
	})
}

// IsPoolError 判断错误是否为指定的交易池错误。
func IsPoolError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	return stdErrors.Is(err, xerrors.New(target, ""))
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusIncluded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneEntry(entry *Entry) *Entry {
	clone := *entry
	if entry.Receipt != nil {
		receipt := *entry.Receipt
		clone.Receipt = &receipt
	}
	return &clone
}

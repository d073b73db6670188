package types

import (
	xerrors "AgentNFT-Chain/internal/errors"
)

// 代理代币的稳定错误码，客户端按字符串匹配。
const (
	CodeNotFound           = xerrors.CodeNotFound
	CodeNotOwner           xerrors.Code = "NOT_OWNER"
	CodeUnauthorized       xerrors.Code = "UNAUTHORIZED"
	CodeInvalidOwner       xerrors.Code = "INVALID_OWNER"
	CodeInvalidLogic       xerrors.Code = "INVALID_LOGIC"
	CodeInvalidMetadataURI xerrors.Code = "INVALID_METADATA_URI"
	CodeNotActive          xerrors.Code = "NOT_ACTIVE"
	CodeNotPaused          xerrors.Code = "NOT_PAUSED"
	CodeAlreadyTerminated  xerrors.Code = "ALREADY_TERMINATED"
	CodeInsufficientFunds  xerrors.Code = "INSUFFICIENT_FUNDS"
	CodeGloballyPaused     xerrors.Code = "GLOBALLY_PAUSED"
	CodeExecutionFailed    xerrors.Code = "EXECUTION_FAILED"
	CodeInvalidAmount      xerrors.Code = "INVALID_AMOUNT"
	CodeTransferFailed     xerrors.Code = "TRANSFER_FAILED"
	CodeInvalidSignature   xerrors.Code = "INVALID_SIGNATURE"
	CodeInvalidChainID     xerrors.Code = "INVALID_CHAIN_ID"
	CodeNonceTooLow        xerrors.Code = "NONCE_TOO_LOW"
	CodeNonceTooHigh       xerrors.Code = "NONCE_TOO_HIGH"
	CodeUnknownAction      xerrors.Code = "UNKNOWN_ACTION"
	CodeInvalidPayload     xerrors.Code = "INVALID_PAYLOAD"
)

var (
	ErrNotFound           = xerrors.New(CodeNotFound, "identity does not exist")
	ErrNotOwner           = xerrors.New(CodeNotOwner, "caller is not the owner")
	ErrUnauthorized       = xerrors.New(CodeUnauthorized, "caller is not authorized")
	ErrInvalidOwner       = xerrors.New(CodeInvalidOwner, "owner is the zero address")
	ErrInvalidLogic       = xerrors.New(CodeInvalidLogic, "logic address has no code")
	ErrInvalidMetadataURI = xerrors.New(CodeInvalidMetadataURI, "metadata uri is empty")
	ErrNotActive          = xerrors.New(CodeNotActive, "agent is not active")
	ErrNotPaused          = xerrors.New(CodeNotPaused, "agent is not paused")
	ErrAlreadyTerminated  = xerrors.New(CodeAlreadyTerminated, "agent is terminated")
	ErrInsufficientFunds  = xerrors.New(CodeInsufficientFunds, "insufficient funds")
	ErrGloballyPaused     = xerrors.New(CodeGloballyPaused, "execution is globally paused")
	ErrExecutionFailed    = xerrors.New(CodeExecutionFailed, "delegated execution failed")
	ErrInvalidAmount      = xerrors.New(CodeInvalidAmount, "amount must be positive")
	ErrTransferFailed     = xerrors.New(CodeTransferFailed, "native transfer failed")
	ErrInvalidSignature   = xerrors.New(CodeInvalidSignature, "invalid transaction signature")
	ErrInvalidChainID     = xerrors.New(CodeInvalidChainID, "transaction chain id mismatch")
	ErrNonceTooLow        = xerrors.New(CodeNonceTooLow, "nonce too low")
	ErrNonceTooHigh       = xerrors.New(CodeNonceTooHigh, "nonce too high")
	ErrUnknownAction      = xerrors.New(CodeUnknownAction, "unknown action")
	ErrInvalidPayload     = xerrors.New(CodeInvalidPayload, "invalid action payload")
)

func init() {
	register := func(code xerrors.Code, message string, category xerrors.Category) {
		xerrors.Register(code, xerrors.Attributes{
			Message:  message,
			Severity: xerrors.SeverityInfo,
			Category: category,
		})
	}
	register(CodeNotOwner, "caller is not the owner", xerrors.CategoryDenied)
	register(CodeUnauthorized, "caller is not authorized", xerrors.CategoryDenied)
	register(CodeInvalidOwner, "owner is the zero address", xerrors.CategoryInvalid)
	register(CodeInvalidLogic, "logic address has no code", xerrors.CategoryInvalid)
	register(CodeInvalidMetadataURI, "metadata uri is empty", xerrors.CategoryInvalid)
	register(CodeNotActive, "agent is not active", xerrors.CategoryConflict)
	register(CodeNotPaused, "agent is not paused", xerrors.CategoryConflict)
	register(CodeAlreadyTerminated, "agent is terminated", xerrors.CategoryConflict)
	register(CodeInsufficientFunds, "insufficient funds", xerrors.CategoryConflict)
	register(CodeGloballyPaused, "execution is globally paused", xerrors.CategoryConflict)
	register(CodeInvalidAmount, "amount must be positive", xerrors.CategoryInvalid)
	register(CodeInvalidSignature, "invalid transaction signature", xerrors.CategoryInvalid)
	register(CodeInvalidChainID, "transaction chain id mismatch", xerrors.CategoryInvalid)
	register(CodeNonceTooLow, "nonce too low", xerrors.CategoryConflict)
	register(CodeUnknownAction, "unknown action", xerrors.CategoryInvalid)
	register(CodeInvalidPayload, "invalid action payload", xerrors.CategoryInvalid)

	xerrors.Register(CodeExecutionFailed, xerrors.Attributes{
		Message:  "delegated execution failed",
		Severity: xerrors.SeverityWarning,
		Category: xerrors.CategoryConflict,
	})
	xerrors.Register(CodeTransferFailed, xerrors.Attributes{
		Message:  "native transfer failed",
		Severity: xerrors.SeverityWarning,
		Category: xerrors.CategoryConflict,
	})
	// 前序交易落账后 nonce 空缺即可补齐，交易池可以重试。
	xerrors.Register(CodeNonceTooHigh, xerrors.Attributes{
		Message:   "nonce too high",
		Severity:  xerrors.SeverityInfo,
		Category:  xerrors.CategoryConflict,
		Retryable: true,
	})
}

package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfGas 表示执行耗尽了 gas 预算。
	ErrOutOfGas = errors.New("vm: out of gas")
	// ErrDepth 表示嵌套调用超过 MaxCallDepth。
	ErrDepth = errors.New("vm: max call depth exceeded")
	// ErrNoCode 表示目标地址上没有逻辑代码。
	ErrNoCode = errors.New("vm: no logic at address")
	// ErrPermission 表示逻辑使用了未授予的能力。
	ErrPermission = errors.New("vm: permission denied")
	// ErrCodeExists 表示目标地址已部署代码。
	ErrCodeExists = errors.New("vm: address already holds code")
)

// RevertError 由主动中止的逻辑返回。
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return "vm: execution reverted: " + e.Reason
}

// PanicError 包装委托逻辑内的 panic。
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("vm: logic panicked: %v", e.Value)
}

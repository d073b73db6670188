// Package vm 执行代理的委托逻辑。每次调用把逻辑绑定到一个代理的存储与身份上，
// 在固定 gas 预算内计量，并把包括 panic 在内的所有失败转换为错误，由调用方回滚。
//
// 计量是协作式的：宿主操作由帧计费，纯计算只在逻辑通过 Compute 声明时计费。
package vm

import (
	"github.com/ethereum/go-ethereum/common"
)

// Call 描述一次委托调用。
type Call struct {
	AgentID   uint64
	Caller    common.Address
	Logic     common.Address
	Self      common.Address
	Timestamp uint64
	Input     []byte
}

// Result 是委托调用的结果。
type Result struct {
	ReturnData []byte
	GasUsed    uint64
	Err        error
}

// Failed 判断调用是否失败。
func (r *Result) Failed() bool { return r.Err != nil }

// Interpreter 将调用分发给注册表中的逻辑，并跟踪活动帧，使嵌套调用从父帧预算中扣除。
type Interpreter struct {
	registry *Registry
	stack    []*Frame
}

// NewInterpreter 基于 registry 构造解释器。
func NewInterpreter(registry *Registry) *Interpreter {
	return &Interpreter{registry: registry}
}

// Registry 返回代码注册表。
func (in *Interpreter) Registry() *Registry { return in.registry }

// Depth 返回活动帧数量。
func (in *Interpreter) Depth() int { return len(in.stack) }

// DelegateCall 代表 call.AgentID 在 host 上执行 call.Logic 处的逻辑。
func (in *Interpreter) DelegateCall(host Host, call Call) *Result {
	depth := len(in.stack)
	if depth >= MaxCallDepth {
		return &Result{Err: ErrDepth}
	}
	logic, perms, ok := in.registry.lookup(call.Logic)
	if !ok {
		return &Result{Err: ErrNoCode}
	}

	budget := MaxExecutionGas
	var parent *Frame
	if depth > 0 {
		parent = in.stack[depth-1]
		budget = childBudget(parent.gas)
	}
	frame := &Frame{
		AgentID:   call.AgentID,
		Caller:    call.Caller,
		Logic:     call.Logic,
		Self:      call.Self,
		Timestamp: call.Timestamp,
		Depth:     depth,
		gas:       budget,
		perms:     perms,
		host:      host,
	}

	res := &Result{}
	if err := frame.UseGas(GasCall + GasInputByte*uint64(len(call.Input))); err != nil {
		res.Err = err
	} else {
		in.stack = append(in.stack, frame)
		res.ReturnData, res.Err = in.run(logic, frame, common.CopyBytes(call.Input))
		in.stack = in.stack[:depth]
		if res.Err == nil && frame.err != nil {
			res.Err = frame.err
		}
	}
	if res.Err != nil {
		res.ReturnData = nil
	}
	res.GasUsed = budget - frame.gas
	if parent != nil {
		parent.gas -= res.GasUsed
	}
	return res
}

func (in *Interpreter) run(logic Logic, frame *Frame, input []byte) (ret []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			ret, err = nil, &PanicError{Value: r}
		}
	}()
	return logic.Run(frame, input)
}

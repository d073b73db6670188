package vm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"AgentNFT-Chain/internal/types"
)

// Logic 是代理的委托行为，在绑定单个代理的 Frame 中运行，只能经由帧访问状态。
type Logic interface {
	Run(f *Frame, input []byte) ([]byte, error)
}

// LogicFunc 将函数适配为 Logic。
type LogicFunc func(f *Frame, input []byte) ([]byte, error)

func (fn LogicFunc) Run(f *Frame, input []byte) ([]byte, error) { return fn(f, input) }

// Host 是委托调用中的合约一侧。
type Host interface {
	GetState(agent uint64, key common.Hash) common.Hash
	SetState(agent uint64, key, value common.Hash)
	AgentBalance(agent uint64) *big.Int
	AddLog(log *gethtypes.Log)
	// Reenter 以 caller 为发送方将 action 交回合约执行。origin 为发起调用的
	// 代理编号，收款回调等非委托调用上下文传 0。
	Reenter(caller common.Address, origin uint64, action types.Action) ([]byte, error)
}

// Frame 是一次委托调用的执行上下文，存储读写落在调用代理而非逻辑自身的存储中。
type Frame struct {
	AgentID   uint64
	Caller    common.Address
	Logic     common.Address
	Self      common.Address
	Timestamp uint64
	Depth     int

	gas   uint64
	err   error
	perms Permission
	host  Host
}

// GasLeft 返回剩余预算。
func (f *Frame) GasLeft() uint64 { return f.gas }

// UseGas 扣除 n 个单位。帧耗尽 gas 后，即使逻辑忽略了首个错误，后续调用也都失败。
func (f *Frame) UseGas(n uint64) error {
	if f.err != nil {
		return f.err
	}
	if n > f.gas {
		f.gas = 0
		f.err = ErrOutOfGas
		return f.err
	}
	f.gas -= n
	return nil
}

// Compute 按声明的计算单元计费，逻辑在宿主无法观测的循环中调用。
func (f *Frame) Compute(units uint64) error {
	return f.UseGas(units * GasComputeUnit)
}

func (f *Frame) require(p Permission) error {
	if !f.perms.Has(p) {
		return ErrPermission
	}
	return nil
}

// Load 读取代理存储槽。
func (f *Frame) Load(key common.Hash) (common.Hash, error) {
	if err := f.require(PermStorage); err != nil {
		return common.Hash{}, err
	}
	if err := f.UseGas(GasLoad); err != nil {
		return common.Hash{}, err
	}
	return f.host.GetState(f.AgentID, key), nil
}

// Store 写入代理存储槽。
func (f *Frame) Store(key, value common.Hash) error {
	if err := f.require(PermStorage); err != nil {
		return err
	}
	cost := GasStoreReset
	if f.host.GetState(f.AgentID, key) == (common.Hash{}) && value != (common.Hash{}) {
		cost = GasStoreSet
	}
	if err := f.UseGas(cost); err != nil {
		return err
	}
	f.host.SetState(f.AgentID, key, value)
	return nil
}

// Balance 返回代理的资金余额。
func (f *Frame) Balance() (*big.Int, error) {
	if err := f.UseGas(GasBalance); err != nil {
		return nil, err
	}
	return f.host.AgentBalance(f.AgentID), nil
}

// Emit 以合约地址记录事件。
func (f *Frame) Emit(topics []common.Hash, data []byte) error {
	if err := f.require(PermEvents); err != nil {
		return err
	}
	cost := GasLog + GasLogTopic*uint64(len(topics)) + GasLogByte*uint64(len(data))
	if err := f.UseGas(cost); err != nil {
		return err
	}
	f.host.AddLog(&gethtypes.Log{
		Address: f.Self,
		Topics:  append([]common.Hash(nil), topics...),
		Data:    common.CopyBytes(data),
	})
	return nil
}

// Invoke 以逻辑地址为发送方回调合约，并绑定当前代理编号，
// 使逻辑只能代表发起本帧的代理执行。失败调用的效果在返回前回滚。
func (f *Frame) Invoke(action types.Action) ([]byte, error) {
	if err := f.require(PermReenter); err != nil {
		return nil, err
	}
	if err := f.UseGas(GasReenter); err != nil {
		return nil, err
	}
	return f.host.Reenter(f.Logic, f.AgentID, action)
}

// Revert 以 reason 中止调用。
func (f *Frame) Revert(reason string) error {
	return &RevertError{Reason: reason}
}

// Package logic 包含编译进节点的委托逻辑模块。
package logic

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"AgentNFT-Chain/internal/types"
	"AgentNFT-Chain/internal/vm"
)

// Builtin 描述一个内置逻辑模块。
type Builtin struct {
	Name  string
	Logic vm.Logic
	Perms vm.Permission
}

var builtins = map[string]Builtin{
	"counter":  {Name: "counter", Logic: vm.LogicFunc(Counter), Perms: vm.PermStorage | vm.PermEvents},
	"echo":     {Name: "echo", Logic: vm.LogicFunc(Echo), Perms: vm.PermNone},
	"reverter": {Name: "reverter", Logic: vm.LogicFunc(Reverter), Perms: vm.PermStorage},
	"relay":    {Name: "relay", Logic: vm.LogicFunc(Relay), Perms: vm.PermAll},
}

// Names 按字母序列出内置模块。
func Names() []string {
	out := make([]string, 0, len(builtins))
	for name := range builtins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup 按名称查找内置模块。
func Lookup(name string) (Builtin, bool) {
	b, ok := builtins[name]
	return b, ok
}

// CounterKey 是计数器递增的存储槽。
var CounterKey = common.Hash{}

// CounterTopic 标记每次递增产生的事件。
var CounterTopic = common.BytesToHash([]byte("counter.incremented"))

// Counter 将代理存储槽 0 加一，或加上输入给出的 32 字节大端数值，并返回新值。
func Counter(f *vm.Frame, input []byte) ([]byte, error) {
	step := uint256.NewInt(1)
	if len(input) > 0 {
		if len(input) > 32 {
			return nil, f.Revert("counter: step wider than 32 bytes")
		}
		step = new(uint256.Int).SetBytes(input)
	}
	if err := f.Compute(1); err != nil {
		return nil, err
	}
	slot, err := f.Load(CounterKey)
	if err != nil {
		return nil, err
	}
	next, overflow := new(uint256.Int).AddOverflow(new(uint256.Int).SetBytes32(slot[:]), step)
	if overflow {
		return nil, f.Revert("counter: overflow")
	}
	value := common.Hash(next.Bytes32())
	if err := f.Store(CounterKey, value); err != nil {
		return nil, err
	}
	if err := f.Emit([]common.Hash{CounterTopic, common.Hash(uint256.NewInt(f.AgentID).Bytes32())}, value[:]); err != nil {
		return nil, err
	}
	return value.Bytes(), nil
}

// Echo 原样返回输入。
func Echo(f *vm.Frame, input []byte) ([]byte, error) {
	if err := f.Compute(uint64(len(input)+31) / 32); err != nil {
		return nil, err
	}
	return common.CopyBytes(input), nil
}

// Reverter 先写存储再失败，用于观察回滚。
func Reverter(f *vm.Frame, input []byte) ([]byte, error) {
	if err := f.Store(common.Hash{0x01}, common.BytesToHash([]byte("dirty"))); err != nil {
		return nil, err
	}
	reason := "reverted"
	if len(input) > 0 {
		reason = string(input)
	}
	return nil, f.Revert(reason)
}

// Relay 将输入解码为动作，以逻辑地址为发送方交回合约执行。输入为空时不做任何事。
func Relay(f *vm.Frame, input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, nil
	}
	var action types.Action
	if err := json.Unmarshal(input, &action); err != nil {
		return nil, f.Revert(fmt.Sprintf("relay: malformed action: %v", err))
	}
	return f.Invoke(action)
}

// Deploy 将指定的内置模块安装到 registry。地址按给定顺序由 deployer 推导，
// addrs 中的非零地址会覆盖对应名称的推导地址。
func Deploy(registry *vm.Registry, deployer common.Address, names []string, addrs map[string]common.Address) (map[string]common.Address, error) {
	out := make(map[string]common.Address, len(names))
	for _, name := range names {
		b, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown built-in logic %q", name)
		}
		if addr, ok := addrs[name]; ok && addr != (common.Address{}) {
			if err := registry.Register(addr, b.Name, b.Logic, b.Perms); err != nil {
				return nil, err
			}
			out[name] = addr
			continue
		}
		addr, err := registry.Deploy(deployer, b.Name, b.Logic, b.Perms)
		if err != nil {
			return nil, err
		}
		out[name] = addr
	}
	return out, nil
}

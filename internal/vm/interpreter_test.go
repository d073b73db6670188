package vm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"AgentNFT-Chain/internal/types"
)

type stubHost struct {
	slots   map[uint64]map[common.Hash]common.Hash
	logs    []*gethtypes.Log
	reenter func(caller common.Address, origin uint64, action types.Action) ([]byte, error)
}

func newStubHost() *stubHost {
	return &stubHost{slots: make(map[uint64]map[common.Hash]common.Hash)}
}

func (h *stubHost) GetState(agent uint64, key common.Hash) common.Hash {
	return h.slots[agent][key]
}

func (h *stubHost) SetState(agent uint64, key, value common.Hash) {
	if h.slots[agent] == nil {
		h.slots[agent] = make(map[common.Hash]common.Hash)
	}
	h.slots[agent][key] = value
}

func (h *stubHost) AgentBalance(uint64) *big.Int { return big.NewInt(1) }

func (h *stubHost) AddLog(log *gethtypes.Log) { h.logs = append(h.logs, log) }

func (h *stubHost) Reenter(caller common.Address, origin uint64, action types.Action) ([]byte, error) {
	if h.reenter == nil {
		return nil, errors.New("no reentry")
	}
	return h.reenter(caller, origin, action)
}

var (
	self  = common.HexToAddress("0x7000000000000000000000000000000000000001")
	owner = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

func TestDelegateCallUsesAgentStorage(t *testing.T) {
	reg := NewRegistry()
	addr, err := reg.Deploy(owner, "writer", LogicFunc(func(f *Frame, input []byte) ([]byte, error) {
		if err := f.Store(common.Hash{1}, common.BytesToHash(input)); err != nil {
			return nil, err
		}
		return []byte("ok"), f.Emit([]common.Hash{{2}}, input)
	}), PermAll)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	host := newStubHost()
	in := NewInterpreter(reg)
	res := in.DelegateCall(host, Call{AgentID: 5, Caller: owner, Logic: addr, Self: self, Input: []byte{9}})
	if res.Failed() {
		t.Fatalf("call failed: %v", res.Err)
	}
	if string(res.ReturnData) != "ok" {
		t.Fatalf("unexpected return %q", res.ReturnData)
	}
	if host.slots[5][common.Hash{1}] != common.BytesToHash([]byte{9}) {
		t.Fatalf("write must land in agent 5 storage")
	}
	if len(host.logs) != 1 || host.logs[0].Address != self {
		t.Fatalf("event must be attributed to the token")
	}
	want := GasCall + GasInputByte + GasStoreSet + GasLog + GasLogTopic + GasLogByte
	if res.GasUsed != want {
		t.Fatalf("gas used %d, want %d", res.GasUsed, want)
	}
}

func TestOutOfGasIsSticky(t *testing.T) {
	reg := NewRegistry()
	addr, _ := reg.Deploy(owner, "spinner", LogicFunc(func(f *Frame, _ []byte) ([]byte, error) {
		for {
			if err := f.Compute(1_000_000); err != nil {
				break
			}
		}
		// 忽略错误也不能逃过计量。
		return []byte("done"), nil
	}), PermAll)
	res := NewInterpreter(reg).DelegateCall(newStubHost(), Call{Logic: addr})
	if !errors.Is(res.Err, ErrOutOfGas) {
		t.Fatalf("expected out of gas, got %v", res.Err)
	}
	if res.GasUsed != MaxExecutionGas || res.ReturnData != nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPanicBecomesError(t *testing.T) {
	reg := NewRegistry()
	addr, _ := reg.Deploy(owner, "panicker", LogicFunc(func(*Frame, []byte) ([]byte, error) {
		panic("boom")
	}), PermAll)
	in := NewInterpreter(reg)
	res := in.DelegateCall(newStubHost(), Call{Logic: addr})
	var pe *PanicError
	if !errors.As(res.Err, &pe) {
		t.Fatalf("expected panic error, got %v", res.Err)
	}
	if in.Depth() != 0 {
		t.Fatalf("frame stack not unwound")
	}
}

func TestPermissionsAreEnforced(t *testing.T) {
	reg := NewRegistry()
	addr, _ := reg.Deploy(owner, "readonly", LogicFunc(func(f *Frame, _ []byte) ([]byte, error) {
		return nil, f.Store(common.Hash{}, common.Hash{1})
	}), PermEvents)
	res := NewInterpreter(reg).DelegateCall(newStubHost(), Call{Logic: addr})
	if !errors.Is(res.Err, ErrPermission) {
		t.Fatalf("expected permission error, got %v", res.Err)
	}
}

func TestNestedCallDrawsFromParentBudget(t *testing.T) {
	reg := NewRegistry()
	in := NewInterpreter(reg)
	host := newStubHost()
	var childGas uint64
	addr, _ := reg.Deploy(owner, "recursive", LogicFunc(func(f *Frame, input []byte) ([]byte, error) {
		if len(input) > 0 {
			childGas = f.GasLeft()
			return nil, nil
		}
		_, err := f.Invoke(types.Action{Kind: types.ActionExecute})
		return nil, err
	}), PermAll)
	host.reenter = func(common.Address, uint64, types.Action) ([]byte, error) {
		res := in.DelegateCall(host, Call{Logic: addr, Input: []byte{1}})
		return res.ReturnData, res.Err
	}

	res := in.DelegateCall(host, Call{Logic: addr})
	if res.Failed() {
		t.Fatalf("call failed: %v", res.Err)
	}
	parentLeft := MaxExecutionGas - GasCall - GasReenter
	if want := childBudget(parentLeft) - GasCall - GasInputByte; childGas != want {
		t.Fatalf("child gas %d, want %d", childGas, want)
	}
	if res.GasUsed > MaxExecutionGas {
		t.Fatalf("total gas %d exceeds budget", res.GasUsed)
	}
}

func TestInvokeBindsIssuingAgent(t *testing.T) {
	reg := NewRegistry()
	host := newStubHost()
	var gotCaller common.Address
	var gotOrigin uint64
	host.reenter = func(caller common.Address, origin uint64, _ types.Action) ([]byte, error) {
		gotCaller, gotOrigin = caller, origin
		return nil, nil
	}
	addr, _ := reg.Deploy(owner, "caller", LogicFunc(func(f *Frame, _ []byte) ([]byte, error) {
		return f.Invoke(types.Action{Kind: types.ActionExecute})
	}), PermAll)

	res := NewInterpreter(reg).DelegateCall(host, Call{AgentID: 9, Logic: addr, Self: self})
	if res.Failed() {
		t.Fatalf("call failed: %v", res.Err)
	}
	if gotCaller != addr || gotOrigin != 9 {
		t.Fatalf("reentry must come from logic %s on behalf of agent 9, got %s for %d", addr.Hex(), gotCaller.Hex(), gotOrigin)
	}
}

func TestMissingCode(t *testing.T) {
	res := NewInterpreter(NewRegistry()).DelegateCall(newStubHost(), Call{Logic: common.Address{1}})
	if !errors.Is(res.Err, ErrNoCode) {
		t.Fatalf("expected no code, got %v", res.Err)
	}
	if err := NewRegistry().Register(common.Address{1}, "bad", struct{}{}, PermAll); err == nil {
		t.Fatalf("expected registration of non-code to fail")
	}
}

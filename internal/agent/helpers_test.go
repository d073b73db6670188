package agent

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/state"
	"AgentNFT-Chain/internal/types"
	"AgentNFT-Chain/internal/vm"
)

var (
	tokenAddr  = common.HexToAddress("0x7000000000000000000000000000000000000001")
	governance = common.HexToAddress("0x0000000000000000000000000000000000000901")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	mallory    = common.HexToAddress("0x000000000000000000000000000000000000ba11")
)

type fixture struct {
	t        *testing.T
	db       *state.StateDB
	registry *vm.Registry
	token    *Token
	now      uint64

	counter  common.Address
	reverter common.Address
	panicker common.Address
	relay    common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, db: state.New(), registry: vm.NewRegistry(), now: 1_000}
	f.db.SetGovernance(governance)
	f.db.AddBalance(alice, big.NewInt(1_000))
	f.db.AddBalance(bob, big.NewInt(1_000))
	f.db.AddBalance(mallory, big.NewInt(1_000))
	f.db.Commit()

	f.counter = f.deploy("counter", vm.LogicFunc(func(fr *vm.Frame, _ []byte) ([]byte, error) {
		slot, err := fr.Load(common.Hash{})
		if err != nil {
			return nil, err
		}
		next := new(big.Int).Add(slot.Big(), big.NewInt(1))
		if err := fr.Store(common.Hash{}, common.BigToHash(next)); err != nil {
			return nil, err
		}
		return common.BigToHash(next).Bytes(), nil
	}))
	f.reverter = f.deploy("reverter", vm.LogicFunc(func(fr *vm.Frame, _ []byte) ([]byte, error) {
		if err := fr.Store(common.Hash{}, common.Hash{0xff}); err != nil {
			return nil, err
		}
		return nil, fr.Revert("always fails")
	}))
	f.panicker = f.deploy("panicker", vm.LogicFunc(func(*vm.Frame, []byte) ([]byte, error) {
		panic("logic bug")
	}))
	// relay 将输入作为动作原样转发回合约，调用方为逻辑地址本身。
	f.relay = f.deploy("relay", vm.LogicFunc(func(fr *vm.Frame, input []byte) ([]byte, error) {
		if len(input) == 0 {
			return []byte("leaf"), nil
		}
		var action types.Action
		if err := json.Unmarshal(input, &action); err != nil {
			return nil, err
		}
		return fr.Invoke(action)
	}))

	f.token = New(f.db, f.registry, tokenAddr, WithClock(ClockFunc(func() uint64 { return f.now })))
	return f
}

func (f *fixture) deploy(name string, logic vm.Logic) common.Address {
	f.t.Helper()
	addr, err := f.registry.Deploy(governance, name, logic, vm.PermAll)
	if err != nil {
		f.t.Fatalf("deploy %s: %v", name, err)
	}
	return addr
}

func (f *fixture) create(owner, logic common.Address) uint64 {
	f.t.Helper()
	id, err := f.token.CreateAgent(owner, owner, logic, "ipfs://agent")
	if err != nil {
		f.t.Fatalf("create agent: %v", err)
	}
	return id
}

func (f *fixture) fund(id uint64, amount int64) {
	f.t.Helper()
	if err := f.token.Fund(bob, id, big.NewInt(amount)); err != nil {
		f.t.Fatalf("fund agent %d: %v", id, err)
	}
}

func (f *fixture) state(id uint64) *types.AgentState {
	f.t.Helper()
	st, err := f.token.GetState(id)
	if err != nil {
		f.t.Fatalf("get state %d: %v", id, err)
	}
	return st
}

func (f *fixture) countEvents(name string) int {
	id := ABI.Events[name].ID
	n := 0
	for _, log := range f.db.Logs() {
		if len(log.Topics) > 0 && log.Topics[0] == id {
			n++
		}
	}
	return n
}

func expectErr(t *testing.T, err error, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func counterValue(ret []byte) uint64 {
	if len(ret) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(ret[len(ret)-8:])
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}

func executePayload(t *testing.T, id uint64, data []byte) []byte {
	t.Helper()
	return mustJSON(t, types.MustAction(types.ActionExecute, types.ExecutePayload{AgentID: id, Data: data}))
}

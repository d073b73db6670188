package logic

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/agent"
	"AgentNFT-Chain/internal/state"
	"AgentNFT-Chain/internal/types"
	"AgentNFT-Chain/internal/vm"
)

var (
	deployer = common.HexToAddress("0x0000000000000000000000000000000000000901")
	owner    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

func setup(t *testing.T) (*agent.Token, *state.StateDB, map[string]common.Address) {
	t.Helper()
	db := state.New()
	db.AddBalance(owner, big.NewInt(100))
	registry := vm.NewRegistry()
	addrs, err := Deploy(registry, deployer, Names(), nil)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	token := agent.New(db, registry, common.HexToAddress("0x70"))
	return token, db, addrs
}

func newAgent(t *testing.T, token *agent.Token, logic common.Address) uint64 {
	t.Helper()
	id, err := token.CreateAgent(owner, owner, logic, "ipfs://logic")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := token.Fund(owner, id, big.NewInt(1)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	return id
}

func TestDeployDerivesAddresses(t *testing.T) {
	registry := vm.NewRegistry()
	pinned := common.HexToAddress("0x1234")
	addrs, err := Deploy(registry, deployer, []string{"echo", "counter"}, map[string]common.Address{"counter": pinned})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if addrs["counter"] != pinned {
		t.Fatalf("configured address ignored: %s", addrs["counter"].Hex())
	}
	if !registry.HasLogic(addrs["echo"]) || registry.Name(addrs["echo"]) != "echo" {
		t.Fatalf("echo not registered")
	}
	if _, err := Deploy(registry, deployer, []string{"missing"}, nil); err == nil {
		t.Fatalf("expected unknown built-in error")
	}
}

func TestCounterAccumulates(t *testing.T) {
	token, db, addrs := setup(t)
	id := newAgent(t, token, addrs["counter"])

	if _, err := token.ExecuteAction(owner, id, nil); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	ret, err := token.ExecuteAction(owner, id, []byte{0x05})
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if new(big.Int).SetBytes(ret).Int64() != 6 {
		t.Fatalf("expected 6, got %x", ret)
	}
	if db.GetState(id, CounterKey) != common.BigToHash(big.NewInt(6)) {
		t.Fatalf("slot not updated")
	}
	var seen int
	for _, log := range db.Logs() {
		if len(log.Topics) > 0 && log.Topics[0] == CounterTopic {
			seen++
		}
	}
	if seen != 2 {
		t.Fatalf("expected 2 counter events, got %d", seen)
	}
}

func TestCounterOverflowReverts(t *testing.T) {
	token, db, addrs := setup(t)
	id := newAgent(t, token, addrs["counter"])
	full := make([]byte, 32)
	for i := range full {
		full[i] = 0xff
	}
	if _, err := token.ExecuteAction(owner, id, full); err != nil {
		t.Fatalf("execute: %v", err)
	}
	_, err := token.ExecuteAction(owner, id, nil)
	var revert *vm.RevertError
	if !errors.As(err, &revert) {
		t.Fatalf("expected overflow revert, got %v", err)
	}
	if db.GetState(id, CounterKey) != common.BytesToHash(full) {
		t.Fatalf("overflow must leave the slot untouched")
	}
}

func TestEchoAndReverter(t *testing.T) {
	token, db, addrs := setup(t)
	echo := newAgent(t, token, addrs["echo"])
	ret, err := token.ExecuteAction(owner, echo, []byte("ping"))
	if err != nil || string(ret) != "ping" {
		t.Fatalf("echo returned %q, %v", ret, err)
	}

	rev := newAgent(t, token, addrs["reverter"])
	_, err = token.ExecuteAction(owner, rev, []byte("nope"))
	if !errors.Is(err, types.ErrExecutionFailed) {
		t.Fatalf("expected execution failure, got %v", err)
	}
	var revert *vm.RevertError
	if !errors.As(err, &revert) || revert.Reason != "nope" {
		t.Fatalf("unexpected cause %v", err)
	}
	if db.GetState(rev, common.Hash{0x01}) != (common.Hash{}) {
		t.Fatalf("reverter writes must be rolled back")
	}
}

func TestRelayReentersAsLogic(t *testing.T) {
	token, _, addrs := setup(t)
	relayed := newAgent(t, token, addrs["relay"])
	target := newAgent(t, token, addrs["counter"])

	// relay 地址既不是 target 的所有者，也不是它的逻辑。
	raw, err := json.Marshal(types.MustAction(types.ActionExecute, types.ExecutePayload{AgentID: target}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = token.ExecuteAction(owner, relayed, raw)
	if !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected unauthorized nested call, got %v", err)
	}

	// 同样使用 relay 的代理也不能被其他代理的逻辑帧驱动。
	sibling := newAgent(t, token, addrs["relay"])
	raw, err = json.Marshal(types.MustAction(types.ActionExecute, types.ExecutePayload{AgentID: sibling}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = token.ExecuteAction(owner, relayed, raw)
	if !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected unauthorized call into sibling agent, got %v", err)
	}

	raw, err = json.Marshal(types.MustAction(types.ActionExecute, types.ExecutePayload{AgentID: relayed}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ret, err := token.ExecuteAction(owner, relayed, raw)
	if err != nil {
		t.Fatalf("self relay: %v", err)
	}
	if len(ret) != 0 {
		t.Fatalf("empty relay returns nothing, got %x", ret)
	}
}

package agent

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"AgentNFT-Chain/internal/types"
	"AgentNFT-Chain/internal/vm"
)

func TestFundAndWithdraw(t *testing.T) {
	f := newFixture(t)
	id := f.create(alice, f.counter)

	expectErr(t, f.token.Fund(bob, id, big.NewInt(0)), types.ErrInvalidAmount)
	expectErr(t, f.token.Fund(bob, 99, big.NewInt(1)), types.ErrNotFound)
	expectErr(t, f.token.Fund(bob, id, big.NewInt(5_000)), types.ErrInsufficientFunds)

	f.fund(id, 400)
	if st := f.state(id); st.Balance.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected 400, got %s", st.Balance)
	}
	if f.db.GetBalance(bob).Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("funder should be debited, has %s", f.db.GetBalance(bob))
	}

	expectErr(t, f.token.Withdraw(bob, id, big.NewInt(1)), types.ErrNotOwner)
	expectErr(t, f.token.Withdraw(alice, id, big.NewInt(401)), types.ErrInsufficientFunds)
	expectErr(t, f.token.Withdraw(alice, id, new(big.Int)), types.ErrInvalidAmount)

	if err := f.token.Withdraw(alice, id, big.NewInt(150)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if st := f.state(id); st.Balance.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected 250 left, got %s", st.Balance)
	}
	if f.db.GetBalance(alice).Cmp(big.NewInt(1_150)) != 0 {
		t.Fatalf("owner should be credited, has %s", f.db.GetBalance(alice))
	}
	if f.countEvents(EventAgentFunded) != 1 || f.countEvents(EventAgentWithdrawn) != 1 {
		t.Fatalf("expected one funded and one withdrawn event")
	}
}

func TestFundingAllowedWhilePaused(t *testing.T) {
	f := newFixture(t)
	id := f.create(alice, f.counter)
	if err := f.token.Pause(alice, id); err != nil {
		t.Fatalf("pause: %v", err)
	}
	f.fund(id, 10)
	if err := f.token.SetGlobalPause(governance, true); err != nil {
		t.Fatalf("global pause: %v", err)
	}
	if err := f.token.Withdraw(alice, id, big.NewInt(10)); err != nil {
		t.Fatalf("withdraw under global pause: %v", err)
	}
}

func TestFundTerminatedAgent(t *testing.T) {
	f := newFixture(t)
	id := f.create(alice, f.counter)
	if err := f.token.Terminate(alice, id); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	expectErr(t, f.token.Fund(bob, id, big.NewInt(1)), types.ErrAlreadyTerminated)
}

func TestWithdrawReentrancyCannotDoubleSpend(t *testing.T) {
	f := newFixture(t)
	attacker := common.HexToAddress("0x00000000000000000000000000000000000bad01")

	var reentryErr error
	calls := 0
	err := f.registry.Register(attacker, "attacker", vm.ReceiverFunc(func(tr *vm.Transfer) error {
		calls++
		if calls > 1 {
			return nil
		}
		_, reentryErr = tr.Reenter(types.MustAction(types.ActionWithdraw, types.WithdrawPayload{
			AgentID: tr.AgentID,
			Amount:  (*hexutil.Big)(big.NewInt(100)),
		}))
		return nil
	}), vm.PermAll)
	if err != nil {
		t.Fatalf("register attacker: %v", err)
	}

	id := f.create(attacker, f.counter)
	f.fund(id, 100)
	if err := f.token.Withdraw(attacker, id, big.NewInt(100)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !errors.Is(reentryErr, types.ErrInsufficientFunds) {
		t.Fatalf("reentrant withdraw should see the debited balance, got %v", reentryErr)
	}
	if got := f.db.GetBalance(attacker); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("attacker should receive exactly 100, got %s", got)
	}
	if f.db.GetBalance(tokenAddr).Sign() != 0 {
		t.Fatalf("custody should be drained exactly once")
	}
}

func TestRejectingReceiverRollsBackWithdraw(t *testing.T) {
	f := newFixture(t)
	sink := common.HexToAddress("0x00000000000000000000000000000000000dead1")
	err := f.registry.Register(sink, "sink", vm.ReceiverFunc(func(*vm.Transfer) error {
		return errors.New("not accepting payments")
	}), vm.PermNone)
	if err != nil {
		t.Fatalf("register sink: %v", err)
	}
	id := f.create(sink, f.counter)
	f.fund(id, 50)

	expectErr(t, f.token.Withdraw(sink, id, big.NewInt(50)), types.ErrTransferFailed)
	if st := f.state(id); st.Balance.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("balance must be restored, got %s", st.Balance)
	}
	if f.db.GetBalance(sink).Sign() != 0 {
		t.Fatalf("sink must not be credited")
	}

	// 终止时退款同样失败，代理保持原状态。
	expectErr(t, f.token.Terminate(sink, id), types.ErrTransferFailed)
	if st := f.state(id); st.Status != types.StatusActive {
		t.Fatalf("terminate must roll back, status %s", st.Status)
	}
}

func TestTransferValue(t *testing.T) {
	f := newFixture(t)
	expectErr(t, f.token.TransferValue(alice, bob, big.NewInt(0)), types.ErrInvalidAmount)
	expectErr(t, f.token.TransferValue(alice, bob, big.NewInt(10_000)), types.ErrInsufficientFunds)
	if err := f.token.TransferValue(alice, bob, big.NewInt(250)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if f.db.GetBalance(alice).Cmp(big.NewInt(750)) != 0 || f.db.GetBalance(bob).Cmp(big.NewInt(1_250)) != 0 {
		t.Fatalf("unexpected balances %s / %s", f.db.GetBalance(alice), f.db.GetBalance(bob))
	}
}

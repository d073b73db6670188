package agent

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentNFT-Chain/internal/errors"
	"AgentNFT-Chain/internal/types"
	"AgentNFT-Chain/internal/vm"
)

// Fund 为代理注资，任何人都可以调用。资金从调用方账户转入合约托管。
func (t *Token) Fund(caller common.Address, id uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return types.ErrInvalidAmount
	}
	return t.atomic(func() error {
		st, err := t.agent(id)
		if err != nil {
			return err
		}
		if st.Status == types.StatusTerminated {
			return types.ErrAlreadyTerminated
		}
		if t.db.GetBalance(caller).Cmp(amount) < 0 {
			return types.ErrInsufficientFunds.Errorf("%s cannot cover %s", caller.Hex(), amount)
		}
		t.db.SubBalance(caller, amount)
		t.db.AddBalance(t.address, amount)
		st.Balance = new(big.Int).Add(st.Balance, amount)
		t.db.SetAgent(id, st)
		t.emit(EventAgentFunded, idArg(id), caller, new(big.Int).Set(amount))
		return nil
	})
}

// Withdraw 由所有者从代理余额中提取资金。先扣减余额，转账放在最后。
func (t *Token) Withdraw(caller common.Address, id uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return types.ErrInvalidAmount
	}
	return t.atomic(func() error {
		st, err := t.agent(id)
		if err != nil {
			return err
		}
		if err := t.requireOwner(caller, id); err != nil {
			return err
		}
		if st.Balance.Cmp(amount) < 0 {
			return types.ErrInsufficientFunds.Errorf("agent %d holds %s, requested %s", id, st.Balance, amount)
		}
		st.Balance = new(big.Int).Sub(st.Balance, amount)
		t.db.SetAgent(id, st)
		t.emit(EventAgentWithdrawn, idArg(id), caller, new(big.Int).Set(amount))
		return t.pay(id, caller, amount)
	})
}

// TransferValue 在账户之间转移原生资产。
func (t *Token) TransferValue(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return types.ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return types.ErrInvalidOwner.Errorf("cannot pay the zero address")
	}
	return t.atomic(func() error {
		if t.db.GetBalance(from).Cmp(amount) < 0 {
			return types.ErrInsufficientFunds.Errorf("%s cannot cover %s", from.Hex(), amount)
		}
		t.db.SubBalance(from, amount)
		t.db.AddBalance(to, amount)
		return t.deliver(0, from, to, amount)
	})
}

// pay 从合约托管账户向 to 支付 amount。收款地址若部署了 Receiver 会被回调，
// 回调可能重入合约；回调失败视为转账失败。
func (t *Token) pay(id uint64, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if t.db.GetBalance(t.address).Cmp(amount) < 0 {
		return xerrors.Wrap(types.CodeTransferFailed,
			fmt.Errorf("custody holds %s, owed %s", t.db.GetBalance(t.address), amount), "托管余额不足")
	}
	t.db.SubBalance(t.address, amount)
	t.db.AddBalance(to, amount)
	return t.deliver(id, t.address, to, amount)
}

func (t *Token) deliver(id uint64, from, to common.Address, amount *big.Int) error {
	receiver, ok := t.registry.Receiver(to)
	if !ok {
		return nil
	}
	if err := t.callReceiver(receiver, vm.NewTransfer(host{t: t}, id, from, to, amount)); err != nil {
		t.logger.Warn("收款方拒绝转账",
			slog.Uint64("agent_id", id),
			slog.String("to", to.Hex()),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
		return xerrors.Wrap(types.CodeTransferFailed, err, "收款方回调失败")
	}
	return nil
}

func (t *Token) callReceiver(r vm.Receiver, transfer *vm.Transfer) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &vm.PanicError{Value: rec}
		}
	}()
	return r.Receive(transfer)
}

package agent

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentNFT-Chain/internal/errors"
	"AgentNFT-Chain/internal/types"
	"AgentNFT-Chain/internal/vm"
)

// ExecuteAction 通过委托调用运行代理逻辑。逻辑共享代理的存储与身份上下文，
// 在固定 gas 预算内执行；任何失败都会回滚本次调用的全部效果，包括时间戳。
//
// 校验顺序：全局暂停、代理存在、状态为 Active、调用方为所有者或代理逻辑、余额大于零。
// 执行不会扣减余额。直接调用没有委托上下文，只有所有者能通过校验。
func (t *Token) ExecuteAction(caller common.Address, id uint64, payload []byte) ([]byte, error) {
	return t.execute(caller, 0, id, payload)
}

// execute 实现 ExecuteAction。origin 为发起重入的代理编号；逻辑地址只能
// 代表发起本帧的代理执行，共享同一逻辑的其他代理不受其调用。
func (t *Token) execute(caller common.Address, origin, id uint64, payload []byte) ([]byte, error) {
	if t.db.Paused() {
		return nil, types.ErrGloballyPaused
	}
	st, err := t.agent(id)
	if err != nil {
		return nil, err
	}
	if st.Status != types.StatusActive {
		return nil, types.ErrNotActive.Errorf("agent %d is %s", id, st.Status)
	}
	owner, err := t.ids.OwnerOf(id)
	if err != nil {
		return nil, err
	}
	if caller != owner && !(caller == st.Logic && origin == id) {
		return nil, types.ErrUnauthorized.Errorf("%s may not execute agent %d", caller.Hex(), id)
	}
	if st.Balance.Sign() <= 0 {
		return nil, types.ErrInsufficientFunds.Errorf("agent %d has no balance", id)
	}

	var ret []byte
	err = t.atomic(func() error {
		st.LastActionTimestamp = t.clock.Now()
		t.db.SetAgent(id, st)

		topLevel := t.interp.Depth() == 0
		res := t.interp.DelegateCall(host{t: t}, vm.Call{
			AgentID:   id,
			Caller:    caller,
			Logic:     st.Logic,
			Self:      t.address,
			Timestamp: st.LastActionTimestamp,
			Input:     payload,
		})
		if topLevel {
			t.gasUsed += res.GasUsed
		}
		if res.Failed() {
			t.logger.Debug("委托执行失败",
				slog.Uint64("agent_id", id),
				slog.String("logic", st.Logic.Hex()),
				slog.Uint64("gas_used", res.GasUsed),
				slog.String("error", res.Err.Error()),
			)
			return xerrors.Wrap(types.CodeExecutionFailed, res.Err, describe(id)+" execution failed")
		}
		ret = res.ReturnData
		t.emit(EventActionExecuted, idArg(id), ret)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

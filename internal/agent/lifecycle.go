package agent

import (
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/types"
)

// CreateAgent 铸造新的代理身份，元数据记录为空。任何调用方都可以创建。
func (t *Token) CreateAgent(caller, owner, logic common.Address, metadataURI string) (uint64, error) {
	return t.create(caller, owner, logic, metadataURI, types.ExtendedMetadata{})
}

// CreateAgentWithMetadata 铸造新的代理身份并写入扩展元数据。
func (t *Token) CreateAgentWithMetadata(caller, owner, logic common.Address, metadataURI string, md types.ExtendedMetadata) (uint64, error) {
	return t.create(caller, owner, logic, metadataURI, md)
}

func (t *Token) create(caller, owner, logic common.Address, metadataURI string, md types.ExtendedMetadata) (uint64, error) {
	if owner == (common.Address{}) {
		return 0, types.ErrInvalidOwner
	}
	if !t.registry.HasLogic(logic) {
		return 0, types.ErrInvalidLogic.Errorf("logic %s has no code", logic.Hex())
	}
	if strings.TrimSpace(metadataURI) == "" {
		return 0, types.ErrInvalidMetadataURI
	}

	var id uint64
	err := t.atomic(func() error {
		// 先写入代理状态对应的 ID，铸造时的同步回调才能找到记录。
		id = t.db.NextID()
		t.db.SetAgent(id, &types.AgentState{
			Balance:             new(big.Int),
			Status:              types.StatusActive,
			Owner:               owner,
			Logic:               logic,
			LastActionTimestamp: t.clock.Now(),
		})
		minted, err := t.ids.Mint(owner)
		if err != nil {
			return err
		}
		if minted != id {
			return types.ErrInvalidOwner.Errorf("identity counter moved from %d to %d", id, minted)
		}
		t.db.SetTokenURI(id, metadataURI)
		t.db.SetMetadata(id, md)
		t.emit(EventMetadataUpdated, idArg(id), metadataURI)
		return nil
	})
	if err != nil {
		return 0, err
	}
	t.logger.Debug("代理已创建",
		slog.Uint64("agent_id", id),
		slog.String("owner", owner.Hex()),
		slog.String("logic", logic.Hex()),
		slog.String("creator", caller.Hex()),
	)
	return id, nil
}

// transition 校验所有权与状态迁移并写入新状态。
func (t *Token) transition(caller common.Address, id uint64, next types.Status, reject error) (*types.AgentState, error) {
	st, err := t.agent(id)
	if err != nil {
		return nil, err
	}
	if err := t.requireOwner(caller, id); err != nil {
		return nil, err
	}
	if !st.Status.CanTransition(next) {
		return nil, reject
	}
	st.Status = next
	return st, nil
}

// Pause 将 Active 代理置为 Paused。
func (t *Token) Pause(caller common.Address, id uint64) error {
	return t.atomic(func() error {
		st, err := t.transition(caller, id, types.StatusPaused, types.ErrNotActive)
		if err != nil {
			return err
		}
		t.db.SetAgent(id, st)
		t.emit(EventStatusChanged, idArg(id), uint8(st.Status))
		return nil
	})
}

// Unpause 将 Paused 代理恢复为 Active。
func (t *Token) Unpause(caller common.Address, id uint64) error {
	return t.atomic(func() error {
		st, err := t.transition(caller, id, types.StatusActive, types.ErrNotPaused)
		if err != nil {
			return err
		}
		t.db.SetAgent(id, st)
		t.emit(EventStatusChanged, idArg(id), uint8(st.Status))
		return nil
	})
}

// Terminate 永久终止代理：余额清零后，将终止前的全部余额转给当前所有者。
// 转账是最后一步，收款方重入时看到的已是终止状态。
func (t *Token) Terminate(caller common.Address, id uint64) error {
	return t.atomic(func() error {
		st, err := t.transition(caller, id, types.StatusTerminated, types.ErrAlreadyTerminated)
		if err != nil {
			return err
		}
		refund := st.Balance
		st.Balance = new(big.Int)
		t.db.SetAgent(id, st)
		t.emit(EventStatusChanged, idArg(id), uint8(st.Status))

		owner, err := t.ids.OwnerOf(id)
		if err != nil {
			return err
		}
		if err := t.pay(id, owner, refund); err != nil {
			return err
		}
		t.logger.Info("代理已终止",
			slog.Uint64("agent_id", id),
			slog.String("refund", refund.String()),
			slog.String("owner", owner.Hex()),
		)
		return nil
	})
}

// SetLogicAddress 替换代理的委托逻辑。已终止的代理不允许升级。
func (t *Token) SetLogicAddress(caller common.Address, id uint64, logic common.Address) error {
	return t.atomic(func() error {
		st, err := t.agent(id)
		if err != nil {
			return err
		}
		if err := t.requireOwner(caller, id); err != nil {
			return err
		}
		if st.Status == types.StatusTerminated {
			return types.ErrAlreadyTerminated
		}
		if !t.registry.HasLogic(logic) {
			return types.ErrInvalidLogic.Errorf("logic %s has no code", logic.Hex())
		}
		old := st.Logic
		st.Logic = logic
		t.db.SetAgent(id, st)
		t.emit(EventLogicUpgraded, idArg(id), old, logic)
		return nil
	})
}

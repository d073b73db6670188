package agent

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/types"
)

// GlobalPaused 返回全局暂停开关。
func (t *Token) GlobalPaused() bool { return t.db.Paused() }

// Governance 返回治理地址。
func (t *Token) Governance() common.Address { return t.db.Governance() }

// SetGlobalPause 切换全局暂停开关，仅治理地址可调用。开关只阻断委托执行。
func (t *Token) SetGlobalPause(caller common.Address, paused bool) error {
	if caller != t.db.Governance() {
		return types.ErrUnauthorized.Errorf("%s is not governance", caller.Hex())
	}
	return t.atomic(func() error {
		t.db.SetPaused(paused)
		t.emit(EventGlobalPauseChanged, paused)
		t.logger.Info("全局暂停开关变更",
			slog.Bool("paused", paused),
			slog.String("governance", caller.Hex()),
		)
		return nil
	})
}

// TransferGovernance 移交治理权限。
func (t *Token) TransferGovernance(caller, next common.Address) error {
	if caller != t.db.Governance() {
		return types.ErrUnauthorized.Errorf("%s is not governance", caller.Hex())
	}
	if next == (common.Address{}) {
		return types.ErrInvalidOwner.Errorf("governance cannot be the zero address")
	}
	return t.atomic(func() error {
		t.db.SetGovernance(next)
		t.emit(EventGovernanceTransferred, caller, next)
		t.logger.Info("治理权限移交",
			slog.String("previous", caller.Hex()),
			slog.String("next", next.Hex()),
		)
		return nil
	})
}

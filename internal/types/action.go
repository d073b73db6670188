package types

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ActionKind 标识代理代币的一种操作。
type ActionKind string

const (
	ActionCreateAgent             ActionKind = "create_agent"
	ActionCreateAgentWithMetadata ActionKind = "create_agent_with_metadata"
	ActionPause                   ActionKind = "pause"
	ActionUnpause                 ActionKind = "unpause"
	ActionTerminate               ActionKind = "terminate"
	ActionSetLogic                ActionKind = "set_logic"
	ActionUpdateMetadata          ActionKind = "update_metadata"
	ActionSetMetadataURI          ActionKind = "set_metadata_uri"
	ActionExecute                 ActionKind = "execute_action"
	ActionFund                    ActionKind = "fund_agent"
	ActionWithdraw                ActionKind = "withdraw"
	ActionSetGlobalPause          ActionKind = "set_global_pause"
	ActionTransferGovernance      ActionKind = "transfer_governance"
	ActionTransferFrom            ActionKind = "transfer_from"
	ActionApprove                 ActionKind = "approve"
	ActionSetApprovalForAll       ActionKind = "set_approval_for_all"
	ActionTransferValue           ActionKind = "transfer_value"
)

// Payable 判断该动作能否附带非零金额。
func (k ActionKind) Payable() bool {
	return k == ActionFund || k == ActionTransferValue
}

// Known 判断 k 是否为已声明的动作。
func (k ActionKind) Known() bool {
	switch k {
	case ActionCreateAgent, ActionCreateAgentWithMetadata, ActionPause, ActionUnpause,
		ActionTerminate, ActionSetLogic, ActionUpdateMetadata, ActionSetMetadataURI,
		ActionExecute, ActionFund, ActionWithdraw, ActionSetGlobalPause,
		ActionTransferGovernance, ActionTransferFrom, ActionApprove,
		ActionSetApprovalForAll, ActionTransferValue:
		return true
	default:
		return false
	}
}

// Action 是交易携带的动作信封，由类型与对应结构的 JSON 负载组成。
type Action struct {
	Kind    ActionKind      `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewAction 将 payload 编码为动作信封。
func NewAction(kind ActionKind, payload any) (Action, error) {
	if payload == nil {
		return Action{Kind: kind}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Action{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return Action{Kind: kind, Payload: raw}, nil
}

// MustAction 与 NewAction 相同，用于确定可编码的负载，编码失败时 panic。
func MustAction(kind ActionKind, payload any) Action {
	action, err := NewAction(kind, payload)
	if err != nil {
		panic(err)
	}
	return action
}

// Decode 将负载解码到 v。
func (a Action) Decode(v any) error {
	if len(a.Payload) == 0 {
		return ErrInvalidPayload.Errorf("%s: empty payload", a.Kind)
	}
	if err := json.Unmarshal(a.Payload, v); err != nil {
		return ErrInvalidPayload.Errorf("%s: %v", a.Kind, err)
	}
	return nil
}

// CreateAgentPayload 用于铸造新代理，Metadata 仅由 ActionCreateAgentWithMetadata 读取。
type CreateAgentPayload struct {
	Owner       common.Address    `json:"owner"`
	Logic       common.Address    `json:"logic"`
	MetadataURI string            `json:"metadataURI"`
	Metadata    *ExtendedMetadata `json:"metadata,omitempty"`
}

// AgentPayload 指向单个代理。
type AgentPayload struct {
	AgentID uint64 `json:"agentId"`
}

type SetLogicPayload struct {
	AgentID uint64         `json:"agentId"`
	Logic   common.Address `json:"logic"`
}

type UpdateMetadataPayload struct {
	AgentID  uint64           `json:"agentId"`
	Metadata ExtendedMetadata `json:"metadata"`
}

type SetMetadataURIPayload struct {
	AgentID uint64 `json:"agentId"`
	URI     string `json:"uri"`
}

// ExecutePayload 的 Data 原样交给代理逻辑。
type ExecutePayload struct {
	AgentID uint64        `json:"agentId"`
	Data    hexutil.Bytes `json:"data"`
}

type WithdrawPayload struct {
	AgentID uint64       `json:"agentId"`
	Amount  *hexutil.Big `json:"amount"`
}

// AmountInt 返回请求金额，Amount 为 nil 时返回 0。
func (p WithdrawPayload) AmountInt() *big.Int {
	if p.Amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(p.Amount.ToInt())
}

type GlobalPausePayload struct {
	Paused bool `json:"paused"`
}

type GovernancePayload struct {
	Governance common.Address `json:"governance"`
}

type TransferPayload struct {
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	AgentID uint64         `json:"agentId"`
}

type ApprovePayload struct {
	To      common.Address `json:"to"`
	AgentID uint64         `json:"agentId"`
}

type ApprovalForAllPayload struct {
	Operator common.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

type TransferValuePayload struct {
	To common.Address `json:"to"`
}

package agent

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	xerrors "AgentNFT-Chain/internal/errors"
	"AgentNFT-Chain/internal/identity"
	"AgentNFT-Chain/internal/state"
	"AgentNFT-Chain/internal/types"
	"AgentNFT-Chain/internal/vm"
	"AgentNFT-Chain/pkg/logger"
)

// Clock 提供当前区块时间（秒）。
type Clock interface {
	Now() uint64
}

// ClockFunc 将函数适配为 Clock。
type ClockFunc func() uint64

// Now 实现 Clock 接口。
func (f ClockFunc) Now() uint64 { return f() }

// Token 是智能体代币合约。它不是并发安全的，由账本串行调用。
type Token struct {
	db       *state.StateDB
	ids      *identity.Ledger
	interp   *vm.Interpreter
	registry *vm.Registry
	address  common.Address
	clock    Clock
	logger   *slog.Logger

	depth   int
	gasUsed uint64
}

// Option 定义可选的 Token 配置。
type Option func(*Token)

// WithClock 指定时间来源。
func WithClock(clock Clock) Option {
	return func(t *Token) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(t *Token) {
		if l != nil {
			t.logger = l
		}
	}
}

// New 在 db 之上构造代币合约，address 为合约自身地址，同时也是托管资金的账户。
func New(db *state.StateDB, registry *vm.Registry, address common.Address, opts ...Option) *Token {
	t := &Token{
		db:       db,
		registry: registry,
		interp:   vm.NewInterpreter(registry),
		address:  address,
		clock:    ClockFunc(func() uint64 { return 0 }),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	if t.logger == nil {
		t.logger = logger.Named("agent")
	}
	t.ids = identity.New(db, address)
	t.ids.OnTransfer(t.syncOwner)
	return t
}

// Address 返回合约地址。
func (t *Token) Address() common.Address { return t.address }

// Identity 返回身份账本。
func (t *Token) Identity() *identity.Ledger { return t.ids }

// Registry 返回逻辑代码注册表。
func (t *Token) Registry() *vm.Registry { return t.registry }

// GasUsed 返回最近一次顶层调用消耗的执行 gas。
func (t *Token) GasUsed() uint64 { return t.gasUsed }

// atomic 执行 fn，失败时回滚 fn 产生的全部状态变更。
func (t *Token) atomic(fn func() error) error {
	snap := t.db.Snapshot()
	if err := fn(); err != nil {
		t.db.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// syncOwner 在身份转移后同步代理状态中缓存的所有者。
func (t *Token) syncOwner(id uint64, _, to common.Address) error {
	st := t.db.Agent(id)
	if st == nil {
		return nil
	}
	st.Owner = to
	t.db.SetAgent(id, st)
	return nil
}

// agent 读取代理状态，不存在时返回 NotFound。
func (t *Token) agent(id uint64) (*types.AgentState, error) {
	st := t.db.Agent(id)
	if st == nil {
		return nil, types.ErrNotFound.Errorf("agent %d does not exist", id)
	}
	return st, nil
}

// requireOwner 以身份账本为准校验调用方是否为所有者。
func (t *Token) requireOwner(caller common.Address, id uint64) error {
	owner, err := t.ids.OwnerOf(id)
	if err != nil {
		return err
	}
	if caller != owner {
		return types.ErrNotOwner.Errorf("%s does not own agent %d", caller.Hex(), id)
	}
	return nil
}

// GetState 返回代理状态的副本。
func (t *Token) GetState(id uint64) (*types.AgentState, error) {
	return t.agent(id)
}

// Invoke 执行一条消息。顶层与嵌套调用都会在失败时完整回滚。
func (t *Token) Invoke(msg types.Message) ([]byte, error) {
	if t.depth >= vm.MaxCallDepth {
		return nil, xerrors.Wrap(types.CodeExecutionFailed, vm.ErrDepth, "重入层数超限")
	}
	if t.depth == 0 {
		t.gasUsed = 0
	}
	t.depth++
	defer func() { t.depth-- }()

	var ret []byte
	err := t.atomic(func() error {
		var err error
		ret, err = t.dispatch(msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (t *Token) dispatch(msg types.Message) ([]byte, error) {
	kind := msg.Action.Kind
	if !kind.Known() {
		return nil, types.ErrUnknownAction.Errorf("unknown action %q", kind)
	}
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return nil, types.ErrInvalidAmount
	}
	if value.Sign() > 0 && !kind.Payable() {
		return nil, types.ErrInvalidAmount.Errorf("action %s does not accept value", kind)
	}

	switch kind {
	case types.ActionCreateAgent, types.ActionCreateAgentWithMetadata:
		var p types.CreateAgentPayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		var id uint64
		var err error
		if kind == types.ActionCreateAgentWithMetadata {
			md := types.ExtendedMetadata{}
			if p.Metadata != nil {
				md = *p.Metadata
			}
			id, err = t.CreateAgentWithMetadata(msg.From, p.Owner, p.Logic, p.MetadataURI, md)
		} else {
			id, err = t.CreateAgent(msg.From, p.Owner, p.Logic, p.MetadataURI)
		}
		if err != nil {
			return nil, err
		}
		return common.BigToHash(idArg(id)).Bytes(), nil

	case types.ActionPause, types.ActionUnpause, types.ActionTerminate:
		var p types.AgentPayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		switch kind {
		case types.ActionPause:
			return nil, t.Pause(msg.From, p.AgentID)
		case types.ActionUnpause:
			return nil, t.Unpause(msg.From, p.AgentID)
		default:
			return nil, t.Terminate(msg.From, p.AgentID)
		}

	case types.ActionSetLogic:
		var p types.SetLogicPayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		return nil, t.SetLogicAddress(msg.From, p.AgentID, p.Logic)

	case types.ActionUpdateMetadata:
		var p types.UpdateMetadataPayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		return nil, t.UpdateMetadata(msg.From, p.AgentID, p.Metadata)

	case types.ActionSetMetadataURI:
		var p types.SetMetadataURIPayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		return nil, t.SetMetadataURI(msg.From, p.AgentID, p.URI)

	case types.ActionExecute:
		var p types.ExecutePayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		return t.execute(msg.From, msg.Origin, p.AgentID, p.Data)

	case types.ActionFund:
		var p types.AgentPayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		return nil, t.Fund(msg.From, p.AgentID, value)

	case types.ActionWithdraw:
		var p types.WithdrawPayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		return nil, t.Withdraw(msg.From, p.AgentID, p.AmountInt())

	case types.ActionSetGlobalPause:
		var p types.GlobalPausePayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		return nil, t.SetGlobalPause(msg.From, p.Paused)

	case types.ActionTransferGovernance:
		var p types.GovernancePayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		return nil, t.TransferGovernance(msg.From, p.Governance)

	case types.ActionTransferFrom:
		var p types.TransferPayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		return nil, t.atomic(func() error { return t.ids.Transfer(msg.From, p.From, p.To, p.AgentID) })

	case types.ActionApprove:
		var p types.ApprovePayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		return nil, t.atomic(func() error { return t.ids.Approve(msg.From, p.To, p.AgentID) })

	case types.ActionSetApprovalForAll:
		var p types.ApprovalForAllPayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		return nil, t.ids.SetApprovalForAll(msg.From, p.Operator, p.Approved)

	case types.ActionTransferValue:
		var p types.TransferValuePayload
		if err := msg.Action.Decode(&p); err != nil {
			return nil, err
		}
		return nil, t.TransferValue(msg.From, p.To, value)
	}
	return nil, types.ErrUnknownAction.Errorf("unhandled action %q", kind)
}

// host 将 Token 适配为 vm.Host，避免在 Token 上暴露存储槽读写。
type host struct {
	t *Token
}

var _ vm.Host = host{}

func (h host) GetState(agent uint64, key common.Hash) common.Hash {
	return h.t.db.GetState(agent, key)
}

func (h host) SetState(agent uint64, key, value common.Hash) {
	h.t.db.SetState(agent, key, value)
}

func (h host) AgentBalance(agent uint64) *big.Int {
	if st := h.t.db.Agent(agent); st != nil {
		return st.Balance
	}
	return new(big.Int)
}

func (h host) AddLog(log *gethtypes.Log) {
	h.t.db.AddLog(log)
}

func (h host) Reenter(caller common.Address, origin uint64, action types.Action) ([]byte, error) {
	return h.t.Invoke(types.Message{From: caller, Value: new(big.Int), Action: action, Origin: origin})
}

func describe(id uint64) string {
	return fmt.Sprintf("agent %d", id)
}

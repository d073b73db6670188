// Package identity 是代理身份的所有权登记，遵循 ERC-721 模型：每个身份恰有一个所有者，
// 可设置一个授权地址，所有者还可为名下全部身份指定操作员。身份不会被销毁。
package identity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentNFT-Chain/internal/state"
	"AgentNFT-Chain/internal/types"
)

var (
	TransferTopic       = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	ApprovalTopic       = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)"))
	ApprovalForAllTopic = crypto.Keccak256Hash([]byte("ApprovalForAll(address,address,bool)"))
)

// TransferHook 在 id 转给 to 之后于同一原子操作内执行，返回错误将中止转移。
type TransferHook func(id uint64, from, to common.Address) error

// Ledger 在状态数据库中读写身份。
type Ledger struct {
	db      *state.StateDB
	address common.Address
	hooks   []TransferHook
}

// New 将账本绑定到 db，事件记在 address 名下。
func New(db *state.StateDB, address common.Address) *Ledger {
	return &Ledger{db: db, address: address}
}

// OnTransfer 注册在每次铸造与转移时执行的回调。
func (l *Ledger) OnTransfer(hook TransferHook) {
	if hook != nil {
		l.hooks = append(l.hooks, hook)
	}
}

// Exists 判断 id 是否已铸造。
func (l *Ledger) Exists(id uint64) bool {
	return l.db.OwnerOf(id) != (common.Address{})
}

// OwnerOf 返回 id 的权威所有者。
func (l *Ledger) OwnerOf(id uint64) (common.Address, error) {
	owner := l.db.OwnerOf(id)
	if owner == (common.Address{}) {
		return common.Address{}, types.ErrNotFound.Errorf("identity %d does not exist", id)
	}
	return owner, nil
}

// BalanceOf 返回 owner 持有的身份数量。
func (l *Ledger) BalanceOf(owner common.Address) (uint64, error) {
	if owner == (common.Address{}) {
		return 0, types.ErrInvalidOwner
	}
	return l.db.Holdings(owner), nil
}

// TotalSupply 返回已铸造身份的总数。
func (l *Ledger) TotalSupply() uint64 {
	return l.db.NextID() - 1
}

// Mint 为 to 铸造下一个身份并返回编号。
func (l *Ledger) Mint(to common.Address) (uint64, error) {
	if to == (common.Address{}) {
		return 0, types.ErrInvalidOwner
	}
	id := l.db.NextID()
	l.db.SetNextID(id + 1)
	l.db.SetOwner(id, to)
	l.db.SetHoldings(to, l.db.Holdings(to)+1)
	l.emit(TransferTopic, common.Address{}, to, id)
	return id, l.runHooks(id, common.Address{}, to)
}

// GetApproved 返回 id 的授权地址。
func (l *Ledger) GetApproved(id uint64) (common.Address, error) {
	if !l.Exists(id) {
		return common.Address{}, types.ErrNotFound.Errorf("identity %d does not exist", id)
	}
	return l.db.Approved(id), nil
}

// IsApprovedForAll 判断 operator 能否管理 owner 的全部身份。
func (l *Ledger) IsApprovedForAll(owner, operator common.Address) bool {
	return l.db.IsOperator(owner, operator)
}

// Approve 允许 to 转移 id，调用方须为所有者或操作员。
func (l *Ledger) Approve(caller, to common.Address, id uint64) error {
	owner, err := l.OwnerOf(id)
	if err != nil {
		return err
	}
	if caller != owner && !l.db.IsOperator(owner, caller) {
		return types.ErrNotOwner
	}
	if to == owner {
		return types.ErrInvalidOwner.Errorf("cannot approve the current owner")
	}
	l.db.SetApproved(id, to)
	l.emit(ApprovalTopic, owner, to, id)
	return nil
}

// SetApprovalForAll 为调用方的全部身份指定或撤销操作员。
func (l *Ledger) SetApprovalForAll(caller, operator common.Address, approved bool) error {
	if operator == (common.Address{}) || operator == caller {
		return types.ErrUnauthorized.Errorf("invalid operator %s", operator.Hex())
	}
	l.db.SetOperator(caller, operator, approved)
	data := make([]byte, 32)
	if approved {
		data[31] = 1
	}
	l.db.AddLog(&gethtypes.Log{
		Address: l.address,
		Topics:  []common.Hash{ApprovalForAllTopic, addressTopic(caller), addressTopic(operator)},
		Data:    data,
	})
	return nil
}

// Transfer 将 id 从 from 转给 to，调用方须为所有者、授权地址或所有者的操作员。
func (l *Ledger) Transfer(caller, from, to common.Address, id uint64) error {
	owner, err := l.OwnerOf(id)
	if err != nil {
		return err
	}
	if owner != from {
		return types.ErrNotOwner.Errorf("%s does not own identity %d", from.Hex(), id)
	}
	if to == (common.Address{}) {
		return types.ErrInvalidOwner
	}
	if caller != owner && caller != l.db.Approved(id) && !l.db.IsOperator(owner, caller) {
		return types.ErrNotOwner
	}
	if l.db.Approved(id) != (common.Address{}) {
		l.db.SetApproved(id, common.Address{})
	}
	l.db.SetHoldings(from, l.db.Holdings(from)-1)
	l.db.SetHoldings(to, l.db.Holdings(to)+1)
	l.db.SetOwner(id, to)
	l.emit(TransferTopic, from, to, id)
	return l.runHooks(id, from, to)
}

func (l *Ledger) runHooks(id uint64, from, to common.Address) error {
	for _, hook := range l.hooks {
		if err := hook(id, from, to); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) emit(topic common.Hash, a, b common.Address, id uint64) {
	l.db.AddLog(&gethtypes.Log{
		Address: l.address,
		Topics:  []common.Hash{topic, addressTopic(a), addressTopic(b), idTopic(id)},
	})
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func idTopic(id uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(id))
}

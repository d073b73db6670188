// Package state 在内存中维护代理账本的世界状态。每次修改都记入日志，
// 失败的操作无论嵌套多深都能回滚到先前的快照。
package state

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"AgentNFT-Chain/internal/types"
)

type identityObject struct {
	owner    common.Address
	approved common.Address
}

type accountObject struct {
	balance  *big.Int
	nonce    uint64
	holdings uint64
}

type revision struct {
	id           int
	journalIndex int
}

// StateDB 是带日志的世界状态，不支持并发访问，由账本串行调用。
type StateDB struct {
	identities map[uint64]*identityObject
	agents     map[uint64]*types.AgentState
	metadata   map[uint64]types.ExtendedMetadata
	uris       map[uint64]string
	accounts   map[common.Address]*accountObject
	operators  map[common.Address]map[common.Address]bool
	storage    map[uint64]map[common.Hash]common.Hash

	nextID     uint64
	paused     bool
	governance common.Address

	logs []*gethtypes.Log

	journal        *journal
	validRevisions []revision
	nextRevisionID int
}

// New 返回空状态，首个身份编号为 1。
func New() *StateDB {
	return &StateDB{
		identities: make(map[uint64]*identityObject),
		agents:     make(map[uint64]*types.AgentState),
		metadata:   make(map[uint64]types.ExtendedMetadata),
		uris:       make(map[uint64]string),
		accounts:   make(map[common.Address]*accountObject),
		operators:  make(map[common.Address]map[common.Address]bool),
		storage:    make(map[uint64]map[common.Hash]common.Hash),
		nextID:     1,
		journal:    newJournal(),
	}
}

func (s *StateDB) account(addr common.Address) *accountObject {
	obj := s.accounts[addr]
	if obj == nil {
		obj = &accountObject{balance: new(big.Int)}
		s.accounts[addr] = obj
	}
	return obj
}

func (s *StateDB) setIdentity(id uint64, mutate func(*identityObject)) {
	obj := s.identities[id]
	if obj == nil {
		obj = new(identityObject)
		s.identities[id] = obj
	}
	mutate(obj)
	if obj.owner == (common.Address{}) && obj.approved == (common.Address{}) {
		delete(s.identities, id)
	}
}

func (s *StateDB) setOperator(owner, operator common.Address, approved bool) {
	set := s.operators[owner]
	if !approved {
		if set != nil {
			delete(set, operator)
			if len(set) == 0 {
				delete(s.operators, owner)
			}
		}
		return
	}
	if set == nil {
		set = make(map[common.Address]bool)
		s.operators[owner] = set
	}
	set[operator] = true
}

func (s *StateDB) setSlot(agent uint64, key, value common.Hash) {
	slots := s.storage[agent]
	if value == (common.Hash{}) {
		if slots != nil {
			delete(slots, key)
			if len(slots) == 0 {
				delete(s.storage, agent)
			}
		}
		return
	}
	if slots == nil {
		slots = make(map[common.Hash]common.Hash)
		s.storage[agent] = slots
	}
	slots[key] = value
}

// OwnerOf 返回身份的所有者，未铸造时为零地址。
func (s *StateDB) OwnerOf(id uint64) common.Address {
	if obj := s.identities[id]; obj != nil {
		return obj.owner
	}
	return common.Address{}
}

func (s *StateDB) SetOwner(id uint64, owner common.Address) {
	s.journal.append(ownerChange{id: id, prev: s.OwnerOf(id)})
	s.setIdentity(id, func(o *identityObject) { o.owner = owner })
}

// Approved 返回单个身份的授权地址，未设置时为零地址。
func (s *StateDB) Approved(id uint64) common.Address {
	if obj := s.identities[id]; obj != nil {
		return obj.approved
	}
	return common.Address{}
}

func (s *StateDB) SetApproved(id uint64, to common.Address) {
	s.journal.append(approvalChange{id: id, prev: s.Approved(id)})
	s.setIdentity(id, func(o *identityObject) { o.approved = to })
}

// Holdings 返回 owner 持有的身份数量。
func (s *StateDB) Holdings(owner common.Address) uint64 {
	if obj := s.accounts[owner]; obj != nil {
		return obj.holdings
	}
	return 0
}

func (s *StateDB) SetHoldings(owner common.Address, n uint64) {
	s.journal.append(holdingsChange{owner: owner, prev: s.Holdings(owner)})
	s.account(owner).holdings = n
}

func (s *StateDB) IsOperator(owner, operator common.Address) bool {
	return s.operators[owner][operator]
}

func (s *StateDB) SetOperator(owner, operator common.Address, approved bool) {
	s.journal.append(operatorChange{owner: owner, operator: operator, prev: s.IsOperator(owner, operator)})
	s.setOperator(owner, operator, approved)
}

// NextID 返回下一次铸造的身份编号。
func (s *StateDB) NextID() uint64 { return s.nextID }

func (s *StateDB) SetNextID(id uint64) {
	s.journal.append(nextIDChange{prev: s.nextID})
	s.nextID = id
}

// Agent 返回代理状态的副本，不存在时为 nil。
func (s *StateDB) Agent(id uint64) *types.AgentState {
	return s.agents[id].Copy()
}

func (s *StateDB) SetAgent(id uint64, st *types.AgentState) {
	s.journal.append(agentChange{id: id, prev: s.agents[id]})
	s.agents[id] = st.Copy()
}

func (s *StateDB) Metadata(id uint64) (types.ExtendedMetadata, bool) {
	md, ok := s.metadata[id]
	return md, ok
}

func (s *StateDB) SetMetadata(id uint64, md types.ExtendedMetadata) {
	prev, existed := s.metadata[id]
	s.journal.append(metadataChange{id: id, prev: prev, existed: existed})
	s.metadata[id] = md
}

func (s *StateDB) TokenURI(id uint64) string { return s.uris[id] }

func (s *StateDB) SetTokenURI(id uint64, uri string) {
	s.journal.append(uriChange{id: id, prev: s.uris[id]})
	if uri == "" {
		delete(s.uris, id)
		return
	}
	s.uris[id] = uri
}

// GetBalance 返回 addr 的原生余额。
func (s *StateDB) GetBalance(addr common.Address) *big.Int {
	if obj := s.accounts[addr]; obj != nil {
		return new(big.Int).Set(obj.balance)
	}
	return new(big.Int)
}

func (s *StateDB) SetBalance(addr common.Address, amount *big.Int) {
	obj := s.account(addr)
	s.journal.append(balanceChange{account: addr, prev: obj.balance})
	obj.balance = new(big.Int).Set(amount)
}

func (s *StateDB) AddBalance(addr common.Address, amount *big.Int) {
	s.SetBalance(addr, new(big.Int).Add(s.GetBalance(addr), amount))
}

// SubBalance 在余额不足时 panic，调用方需先检查资金。
func (s *StateDB) SubBalance(addr common.Address, amount *big.Int) {
	next := new(big.Int).Sub(s.GetBalance(addr), amount)
	if next.Sign() < 0 {
		panic(fmt.Sprintf("balance underflow for %s", addr.Hex()))
	}
	s.SetBalance(addr, next)
}

func (s *StateDB) GetNonce(addr common.Address) uint64 {
	if obj := s.accounts[addr]; obj != nil {
		return obj.nonce
	}
	return 0
}

func (s *StateDB) SetNonce(addr common.Address, nonce uint64) {
	obj := s.account(addr)
	s.journal.append(nonceChange{account: addr, prev: obj.nonce})
	obj.nonce = nonce
}

// GetState 读取代理委托逻辑的存储槽。
func (s *StateDB) GetState(agent uint64, key common.Hash) common.Hash {
	return s.storage[agent][key]
}

func (s *StateDB) SetState(agent uint64, key, value common.Hash) {
	s.journal.append(storageChange{agent: agent, key: key, prev: s.GetState(agent, key)})
	s.setSlot(agent, key, value)
}

// StorageSize 返回代理非空存储槽的数量。
func (s *StateDB) StorageSize(agent uint64) int {
	return len(s.storage[agent])
}

func (s *StateDB) Paused() bool { return s.paused }

func (s *StateDB) SetPaused(paused bool) {
	s.journal.append(pauseChange{prev: s.paused})
	s.paused = paused
}

func (s *StateDB) Governance() common.Address { return s.governance }

func (s *StateDB) SetGovernance(addr common.Address) {
	s.journal.append(governanceChange{prev: s.governance})
	s.governance = addr
}

// AddLog 记录事件，事件随状态一同回滚。
func (s *StateDB) AddLog(log *gethtypes.Log) {
	s.journal.append(addLogChange{})
	log.Index = uint(len(s.logs))
	s.logs = append(s.logs, log)
}

// Logs 返回自上次提交以来产生的事件。
func (s *StateDB) Logs() []*gethtypes.Log {
	out := make([]*gethtypes.Log, len(s.logs))
	copy(out, s.logs)
	return out
}

// Snapshot 返回当前状态版本的标识。
func (s *StateDB) Snapshot() int {
	id := s.nextRevisionID
	s.nextRevisionID++
	s.validRevisions = append(s.validRevisions, revision{id, s.journal.length()})
	return id
}

// RevertToSnapshot 撤销自指定版本以来的全部修改。
func (s *StateDB) RevertToSnapshot(revid int) {
	idx := sort.Search(len(s.validRevisions), func(i int) bool {
		return s.validRevisions[i].id >= revid
	})
	if idx == len(s.validRevisions) || s.validRevisions[idx].id != revid {
		panic(fmt.Errorf("revision id %v cannot be reverted", revid))
	}
	snapshot := s.validRevisions[idx].journalIndex
	s.journal.revert(s, snapshot)
	s.validRevisions = s.validRevisions[:idx]
}

// Pending 返回自上次提交以来触及的记录，但不清空日志，修改仍可回滚。
func (s *StateDB) Pending() *Changeset {
	return s.collect(s.journal.dirties)
}

// Commit 返回自上次提交以来触及的记录，并清空日志、版本与待提交事件。
func (s *StateDB) Commit() *Changeset {
	cs := s.collect(s.journal.dirties)
	s.journal = newJournal()
	s.validRevisions = s.validRevisions[:0]
	s.logs = nil
	return cs
}

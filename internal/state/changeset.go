package state

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/types"
)

// AgentEntry 是单个身份的完整持久化记录。
type AgentEntry struct {
	ID       uint64                  `json:"id"`
	Owner    common.Address          `json:"owner"`
	Approved common.Address          `json:"approved"`
	State    *types.AgentState       `json:"state,omitempty"`
	Metadata *types.ExtendedMetadata `json:"metadata,omitempty"`
	URI      string                  `json:"uri,omitempty"`
}

// AccountEntry 是单个地址的持久化记录。
type AccountEntry struct {
	Address  common.Address `json:"address"`
	Balance  *big.Int       `json:"balance"`
	Nonce    uint64         `json:"nonce"`
	Holdings uint64         `json:"holdings"`
}

// OperatorEntry 记录操作员授权，Approved 为 false 时删除。
type OperatorEntry struct {
	Owner    common.Address `json:"owner"`
	Operator common.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

// SlotEntry 是代理的一个存储槽，零值表示删除。
type SlotEntry struct {
	Agent uint64      `json:"agent"`
	Key   common.Hash `json:"key"`
	Value common.Hash `json:"value"`
}

// Settings 保存账本级别的标量。
type Settings struct {
	NextID     uint64         `json:"nextId"`
	Paused     bool           `json:"paused"`
	Governance common.Address `json:"governance"`
}

// Changeset 是待写回持久存储的记录集合，按提交顺序应用即可重建状态。
type Changeset struct {
	Agents    []AgentEntry    `json:"agents,omitempty"`
	Accounts  []AccountEntry  `json:"accounts,omitempty"`
	Operators []OperatorEntry `json:"operators,omitempty"`
	Slots     []SlotEntry     `json:"slots,omitempty"`
	Settings  *Settings       `json:"settings,omitempty"`
}

// Empty 判断变更集是否为空。
func (cs *Changeset) Empty() bool {
	return cs == nil || (len(cs.Agents) == 0 && len(cs.Accounts) == 0 &&
		len(cs.Operators) == 0 && len(cs.Slots) == 0 && cs.Settings == nil)
}

func (s *StateDB) agentEntry(id uint64) AgentEntry {
	entry := AgentEntry{ID: id, Owner: s.OwnerOf(id), Approved: s.Approved(id), URI: s.uris[id]}
	if st := s.agents[id]; st != nil {
		entry.State = st.Copy()
	}
	if md, ok := s.metadata[id]; ok {
		entry.Metadata = &md
	}
	return entry
}

func (s *StateDB) accountEntry(addr common.Address) AccountEntry {
	entry := AccountEntry{Address: addr, Balance: new(big.Int)}
	if obj := s.accounts[addr]; obj != nil {
		entry.Balance = new(big.Int).Set(obj.balance)
		entry.Nonce = obj.nonce
		entry.Holdings = obj.holdings
	}
	return entry
}

func (s *StateDB) settings() *Settings {
	return &Settings{NextID: s.nextID, Paused: s.paused, Governance: s.governance}
}

func (s *StateDB) collect(dirties map[dirtyKey]int) *Changeset {
	cs := new(Changeset)
	for key := range dirties {
		switch key.kind {
		case dirtyAgent:
			cs.Agents = append(cs.Agents, s.agentEntry(key.agent))
		case dirtyAccount:
			cs.Accounts = append(cs.Accounts, s.accountEntry(key.addr))
		case dirtyOperator:
			cs.Operators = append(cs.Operators, OperatorEntry{
				Owner:    key.addr,
				Operator: key.other,
				Approved: s.IsOperator(key.addr, key.other),
			})
		case dirtySlot:
			cs.Slots = append(cs.Slots, SlotEntry{Agent: key.agent, Key: key.slot, Value: s.GetState(key.agent, key.slot)})
		case dirtySettings:
			cs.Settings = s.settings()
		}
	}
	cs.sort()
	return cs
}

func (cs *Changeset) sort() {
	sort.Slice(cs.Agents, func(i, j int) bool { return cs.Agents[i].ID < cs.Agents[j].ID })
	sort.Slice(cs.Accounts, func(i, j int) bool {
		return bytes.Compare(cs.Accounts[i].Address[:], cs.Accounts[j].Address[:]) < 0
	})
	sort.Slice(cs.Operators, func(i, j int) bool {
		if c := bytes.Compare(cs.Operators[i].Owner[:], cs.Operators[j].Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(cs.Operators[i].Operator[:], cs.Operators[j].Operator[:]) < 0
	})
	sort.Slice(cs.Slots, func(i, j int) bool {
		if cs.Slots[i].Agent != cs.Slots[j].Agent {
			return cs.Slots[i].Agent < cs.Slots[j].Agent
		}
		return bytes.Compare(cs.Slots[i].Key[:], cs.Slots[j].Key[:]) < 0
	})
}

// Dump 将完整状态导出为单个变更集。
func (s *StateDB) Dump() *Changeset {
	cs := &Changeset{Settings: s.settings()}
	ids := make(map[uint64]struct{})
	for id := range s.identities {
		ids[id] = struct{}{}
	}
	for id := range s.agents {
		ids[id] = struct{}{}
	}
	for id := range ids {
		cs.Agents = append(cs.Agents, s.agentEntry(id))
	}
	for addr := range s.accounts {
		cs.Accounts = append(cs.Accounts, s.accountEntry(addr))
	}
	for owner, set := range s.operators {
		for operator := range set {
			cs.Operators = append(cs.Operators, OperatorEntry{Owner: owner, Operator: operator, Approved: true})
		}
	}
	for agent, slots := range s.storage {
		for key, value := range slots {
			cs.Slots = append(cs.Slots, SlotEntry{Agent: agent, Key: key, Value: value})
		}
	}
	cs.sort()
	return cs
}

// Apply 将变更集写入状态且不记录日志，用于从存储恢复状态，不可在事务中途调用。
func (s *StateDB) Apply(cs *Changeset) {
	if cs == nil {
		return
	}
	for _, entry := range cs.Agents {
		s.setIdentity(entry.ID, func(o *identityObject) {
			o.owner = entry.Owner
			o.approved = entry.Approved
		})
		if entry.State != nil {
			s.agents[entry.ID] = entry.State.Copy()
		} else {
			delete(s.agents, entry.ID)
		}
		if entry.Metadata != nil {
			s.metadata[entry.ID] = *entry.Metadata
		} else {
			delete(s.metadata, entry.ID)
		}
		if entry.URI != "" {
			s.uris[entry.ID] = entry.URI
		} else {
			delete(s.uris, entry.ID)
		}
	}
	for _, entry := range cs.Accounts {
		obj := s.account(entry.Address)
		obj.balance = new(big.Int)
		if entry.Balance != nil {
			obj.balance.Set(entry.Balance)
		}
		obj.nonce = entry.Nonce
		obj.holdings = entry.Holdings
	}
	for _, entry := range cs.Operators {
		s.setOperator(entry.Owner, entry.Operator, entry.Approved)
	}
	for _, entry := range cs.Slots {
		s.setSlot(entry.Agent, entry.Key, entry.Value)
	}
	if cs.Settings != nil {
		s.nextID = cs.Settings.NextID
		if s.nextID == 0 {
			s.nextID = 1
		}
		s.paused = cs.Settings.Paused
		s.governance = cs.Settings.Governance
	}
}

// Merge 将 next 合并进 cs，同一记录以 next 为准。
func (cs *Changeset) Merge(next *Changeset) {
	if next == nil {
		return
	}
	agents := make(map[uint64]int, len(cs.Agents))
	for i, e := range cs.Agents {
		agents[e.ID] = i
	}
	for _, e := range next.Agents {
		if i, ok := agents[e.ID]; ok {
			cs.Agents[i] = e
			continue
		}
		agents[e.ID] = len(cs.Agents)
		cs.Agents = append(cs.Agents, e)
	}
	accounts := make(map[common.Address]int, len(cs.Accounts))
	for i, e := range cs.Accounts {
		accounts[e.Address] = i
	}
	for _, e := range next.Accounts {
		if i, ok := accounts[e.Address]; ok {
			cs.Accounts[i] = e
			continue
		}
		accounts[e.Address] = len(cs.Accounts)
		cs.Accounts = append(cs.Accounts, e)
	}
	type opKey struct{ owner, operator common.Address }
	ops := make(map[opKey]int, len(cs.Operators))
	for i, e := range cs.Operators {
		ops[opKey{e.Owner, e.Operator}] = i
	}
	for _, e := range next.Operators {
		k := opKey{e.Owner, e.Operator}
		if i, ok := ops[k]; ok {
			cs.Operators[i] = e
			continue
		}
		ops[k] = len(cs.Operators)
		cs.Operators = append(cs.Operators, e)
	}
	type slotKey struct {
		agent uint64
		key   common.Hash
	}
	slots := make(map[slotKey]int, len(cs.Slots))
	for i, e := range cs.Slots {
		slots[slotKey{e.Agent, e.Key}] = i
	}
	for _, e := range next.Slots {
		k := slotKey{e.Agent, e.Key}
		if i, ok := slots[k]; ok {
			cs.Slots[i] = e
			continue
		}
		slots[k] = len(cs.Slots)
		cs.Slots = append(cs.Slots, e)
	}
	if next.Settings != nil {
		settings := *next.Settings
		cs.Settings = &settings
	}
	cs.sort()
}

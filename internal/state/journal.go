package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/types"
)

type dirtyKind uint8

const (
	dirtyAgent dirtyKind = iota + 1
	dirtyAccount
	dirtyOperator
	dirtySlot
	dirtySettings
)

// dirtyKey 标识日志条目触及的持久化记录。
type dirtyKey struct {
	kind  dirtyKind
	agent uint64
	addr  common.Address
	other common.Address
	slot  common.Hash
}

// journalEntry 是可按需撤销的修改。
type journalEntry interface {
	revert(*StateDB)
	dirtied() *dirtyKey
}

// journal 记录自上次提交以来的修改。
type journal struct {
	entries []journalEntry
	dirties map[dirtyKey]int
}

func newJournal() *journal {
	return &journal{dirties: make(map[dirtyKey]int)}
}

func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
	if key := entry.dirtied(); key != nil {
		j.dirties[*key]++
	}
}

func (j *journal) revert(db *StateDB, snapshot int) {
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i].revert(db)
		if key := j.entries[i].dirtied(); key != nil {
			if j.dirties[*key]--; j.dirties[*key] == 0 {
				delete(j.dirties, *key)
			}
		}
	}
	j.entries = j.entries[:snapshot]
}

func (j *journal) length() int {
	return len(j.entries)
}

func agentKey(id uint64) *dirtyKey {
	return &dirtyKey{kind: dirtyAgent, agent: id}
}

func accountKey(addr common.Address) *dirtyKey {
	return &dirtyKey{kind: dirtyAccount, addr: addr}
}

var settingsKey = dirtyKey{kind: dirtySettings}

type (
	ownerChange struct {
		id   uint64
		prev common.Address
	}
	approvalChange struct {
		id   uint64
		prev common.Address
	}
	agentChange struct {
		id   uint64
		prev *types.AgentState
	}
	metadataChange struct {
		id      uint64
		prev    types.ExtendedMetadata
		existed bool
	}
	uriChange struct {
		id   uint64
		prev string
	}
	holdingsChange struct {
		owner common.Address
		prev  uint64
	}
	operatorChange struct {
		owner, operator common.Address
		prev            bool
	}
	balanceChange struct {
		account common.Address
		prev    *big.Int
	}
	nonceChange struct {
		account common.Address
		prev    uint64
	}
	storageChange struct {
		agent     uint64
		key, prev common.Hash
	}
	nextIDChange struct {
		prev uint64
	}
	pauseChange struct {
		prev bool
	}
	governanceChange struct {
		prev common.Address
	}
	addLogChange struct{}
)

func (ch ownerChange) revert(s *StateDB) {
	s.setIdentity(ch.id, func(o *identityObject) { o.owner = ch.prev })
}
func (ch ownerChange) dirtied() *dirtyKey { return agentKey(ch.id) }

func (ch approvalChange) revert(s *StateDB) {
	s.setIdentity(ch.id, func(o *identityObject) { o.approved = ch.prev })
}
func (ch approvalChange) dirtied() *dirtyKey { return agentKey(ch.id) }

func (ch agentChange) revert(s *StateDB) {
	if ch.prev == nil {
		delete(s.agents, ch.id)
		return
	}
	s.agents[ch.id] = ch.prev
}
func (ch agentChange) dirtied() *dirtyKey { return agentKey(ch.id) }

func (ch metadataChange) revert(s *StateDB) {
	if !ch.existed {
		delete(s.metadata, ch.id)
		return
	}
	s.metadata[ch.id] = ch.prev
}
func (ch metadataChange) dirtied() *dirtyKey { return agentKey(ch.id) }

func (ch uriChange) revert(s *StateDB) {
	if ch.prev == "" {
		delete(s.uris, ch.id)
		return
	}
	s.uris[ch.id] = ch.prev
}
func (ch uriChange) dirtied() *dirtyKey { return agentKey(ch.id) }

func (ch holdingsChange) revert(s *StateDB) {
	s.account(ch.owner).holdings = ch.prev
}
func (ch holdingsChange) dirtied() *dirtyKey { return accountKey(ch.owner) }

func (ch operatorChange) revert(s *StateDB) {
	s.setOperator(ch.owner, ch.operator, ch.prev)
}
func (ch operatorChange) dirtied() *dirtyKey {
	return &dirtyKey{kind: dirtyOperator, addr: ch.owner, other: ch.operator}
}

func (ch balanceChange) revert(s *StateDB) {
	s.account(ch.account).balance = ch.prev
}
func (ch balanceChange) dirtied() *dirtyKey { return accountKey(ch.account) }

func (ch nonceChange) revert(s *StateDB) {
	s.account(ch.account).nonce = ch.prev
}
func (ch nonceChange) dirtied() *dirtyKey { return accountKey(ch.account) }

func (ch storageChange) revert(s *StateDB) {
	s.setSlot(ch.agent, ch.key, ch.prev)
}
func (ch storageChange) dirtied() *dirtyKey {
	return &dirtyKey{kind: dirtySlot, agent: ch.agent, slot: ch.key}
}

func (ch nextIDChange) revert(s *StateDB)   { s.nextID = ch.prev }
func (ch nextIDChange) dirtied() *dirtyKey { return &settingsKey }

func (ch pauseChange) revert(s *StateDB)   { s.paused = ch.prev }
func (ch pauseChange) dirtied() *dirtyKey { return &settingsKey }

func (ch governanceChange) revert(s *StateDB)   { s.governance = ch.prev }
func (ch governanceChange) dirtied() *dirtyKey { return &settingsKey }

func (ch addLogChange) revert(s *StateDB) {
	s.logs = s.logs[:len(s.logs)-1]
}
func (ch addLogChange) dirtied() *dirtyKey { return nil }

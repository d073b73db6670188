package ledger

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/types"
)

// Status 汇总账本的全局信息。
type Status struct {
	ChainID      uint64         `json:"chainId"`
	Height       uint64         `json:"height"`
	Timestamp    uint64         `json:"timestamp"`
	Token        common.Address `json:"token"`
	Governance   common.Address `json:"governance"`
	GlobalPaused bool           `json:"globalPaused"`
	TotalSupply  uint64         `json:"totalSupply"`
	Logic        []LogicInfo    `json:"logic"`
}

// LogicInfo 描述一个已部署的逻辑模块。
type LogicInfo struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
}

// AgentView 是代理的完整只读视图。
type AgentView struct {
	ID       uint64                 `json:"id"`
	State    *types.AgentState      `json:"state"`
	Metadata types.ExtendedMetadata `json:"metadata"`
	URI      string                 `json:"uri"`
	Approved common.Address         `json:"approved"`
}

// Status 返回账本全局信息。
func (l *Ledger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	addrs := l.registry.Addresses()
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })
	logic := make([]LogicInfo, 0, len(addrs))
	for _, addr := range addrs {
		if l.registry.HasLogic(addr) {
			logic = append(logic, LogicInfo{Address: addr, Name: l.registry.Name(addr)})
		}
	}
	return Status{
		ChainID:      l.chainID,
		Height:       l.head.Height,
		Timestamp:    l.head.Timestamp,
		Token:        l.token.Address(),
		Governance:   l.token.Governance(),
		GlobalPaused: l.token.GlobalPaused(),
		TotalSupply:  l.token.Identity().TotalSupply(),
		Logic:        logic,
	}
}

// Agent 返回代理的状态、元数据与描述地址。
func (l *Ledger) Agent(id uint64) (*AgentView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.token.GetState(id)
	if err != nil {
		return nil, err
	}
	md, err := l.token.GetMetadata(id)
	if err != nil {
		return nil, err
	}
	uri, err := l.token.TokenURI(id)
	if err != nil {
		return nil, err
	}
	approved, err := l.token.Identity().GetApproved(id)
	if err != nil {
		return nil, err
	}
	return &AgentView{ID: id, State: st, Metadata: md, URI: uri, Approved: approved}, nil
}

// Metadata 返回代理的扩展元数据。
func (l *Ledger) Metadata(id uint64) (types.ExtendedMetadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token.GetMetadata(id)
}

// Storage 读取代理存储槽。
func (l *Ledger) Storage(id uint64, key common.Hash) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.token.Identity().Exists(id) {
		return common.Hash{}, types.ErrNotFound.Errorf("agent %d does not exist", id)
	}
	return l.db.GetState(id, key), nil
}

// Account 返回账户余额、nonce 与持有的身份数量。
func (l *Ledger) Account(addr common.Address) (types.Account, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return types.Account{
		Balance: l.db.GetBalance(addr),
		Nonce:   l.db.GetNonce(addr),
	}, l.db.Holdings(addr)
}

// Nonce 返回 addr 下一笔交易应使用的 nonce。
func (l *Ledger) Nonce(addr common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.GetNonce(addr)
}

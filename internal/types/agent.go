package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AgentState 是每个已铸造代理的运行记录。
//
// Owner 缓存身份账本中的所有者，每次转移时改写，权威数据始终以身份账本为准。
type AgentState struct {
	Balance             *big.Int       `json:"balance"`
	Status              Status         `json:"status"`
	Owner               common.Address `json:"owner"`
	Logic               common.Address `json:"logic"`
	LastActionTimestamp uint64         `json:"lastActionTimestamp"`
}

// Copy 返回状态的深拷贝。
func (s *AgentState) Copy() *AgentState {
	if s == nil {
		return nil
	}
	cpy := *s
	if s.Balance != nil {
		cpy.Balance = new(big.Int).Set(s.Balance)
	} else {
		cpy.Balance = new(big.Int)
	}
	return &cpy
}

// ExtendedMetadata 是附加在代理上的描述信息，账本不解释各字段内容。
type ExtendedMetadata struct {
	Persona      string      `json:"persona"`
	Experience   string      `json:"experience"`
	VoiceHash    string      `json:"voiceHash"`
	AnimationURI string      `json:"animationURI"`
	VaultURI     string      `json:"vaultURI"`
	VaultHash    common.Hash `json:"vaultHash"`
}

// IsZero 判断所有字段是否为空。
func (m ExtendedMetadata) IsZero() bool {
	return m == ExtendedMetadata{}
}

// Account 是地址的原生余额与防重放计数。
type Account struct {
	Balance *big.Int `json:"balance"`
	Nonce   uint64   `json:"nonce"`
}

package vm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/types"
)

// Receiver 是原生金额转入其地址时执行的代码，返回错误即拒收。
type Receiver interface {
	Receive(t *Transfer) error
}

// ReceiverFunc 将函数适配为 Receiver。
type ReceiverFunc func(t *Transfer) error

func (fn ReceiverFunc) Receive(t *Transfer) error { return fn(t) }

// Transfer 描述一笔正在交付给 Receiver 的付款。
type Transfer struct {
	From    common.Address
	To      common.Address
	Amount  *big.Int
	AgentID uint64

	host Host
}

// NewTransfer 将付款绑定到交付它的宿主。
func NewTransfer(host Host, agentID uint64, from, to common.Address, amount *big.Int) *Transfer {
	return &Transfer{From: from, To: to, Amount: new(big.Int).Set(amount), AgentID: agentID, host: host}
}

// Reenter 以收款地址为发送方回调合约。
func (t *Transfer) Reenter(action types.Action) ([]byte, error) {
	return t.host.Reenter(t.To, 0, action)
}

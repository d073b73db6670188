package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	ReceiptStatusFailed     = uint64(0)
	ReceiptStatusSuccessful = uint64(1)
)

// Receipt 记录已应用交易的结果。失败收据不带事件，交易的全部效果均已回滚。
type Receipt struct {
	TxHash      common.Hash      `json:"txHash"`
	Sender      common.Address   `json:"sender"`
	Nonce       uint64           `json:"nonce"`
	Status      uint64           `json:"status"`
	BlockNumber uint64           `json:"blockNumber"`
	Timestamp   uint64           `json:"timestamp"`
	GasUsed     uint64           `json:"gasUsed"`
	ReturnData  hexutil.Bytes    `json:"returnData,omitempty"`
	Logs        []*gethtypes.Log `json:"logs"`
	ErrorCode   string           `json:"errorCode,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Succeeded 判断交易是否生效。
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptStatusSuccessful
}

// Package events 解码合约日志并分发给外部索引方。
package events

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Event 是面向外部的日志视图。未知事件只保留原始 topics 与 data。
type Event struct {
	Name        string         `json:"name,omitempty"`
	Address     common.Address `json:"address"`
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
	Index       uint           `json:"logIndex"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	Args        map[string]any `json:"args,omitempty"`
}

// Decoder 按 ABI 解码日志参数。
type Decoder struct {
	abi abi.ABI
}

// NewDecoder 创建解码器。
func NewDecoder(contract abi.ABI) *Decoder {
	return &Decoder{abi: contract}
}

// Decode 将日志转换为 Event。topic0 不在 ABI 中时返回仅含原始数据的 Event。
func (d *Decoder) Decode(log *gethtypes.Log) (*Event, error) {
	ev := &Event{
		Address:     log.Address,
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
		Index:       log.Index,
		Topics:      append([]common.Hash(nil), log.Topics...),
		Data:        common.CopyBytes(log.Data),
	}
	if len(log.Topics) == 0 {
		return ev, nil
	}
	def, err := d.abi.EventByID(log.Topics[0])
	if err != nil {
		return ev, nil
	}
	args := make(map[string]any, len(def.Inputs))
	var indexed abi.Arguments
	for _, input := range def.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("事件 %s 需要 %d 个 indexed topic，实际 %d", def.Name, len(indexed), len(log.Topics)-1)
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("解析事件 %s topics 失败: %w", def.Name, err)
	}
	if err := def.Inputs.UnpackIntoMap(args, log.Data); err != nil {
		return nil, fmt.Errorf("解析事件 %s data 失败: %w", def.Name, err)
	}
	for k, v := range args {
		args[k] = normalize(v)
	}
	ev.Name = def.Name
	ev.Args = args
	return ev, nil
}

// DecodeAll 解码全部 logs，无法解码的日志被跳过并汇总到返回的错误中。
func (d *Decoder) DecodeAll(logs []*gethtypes.Log) ([]*Event, error) {
	out := make([]*Event, 0, len(logs))
	var errs []error
	for _, log := range logs {
		ev, err := d.Decode(log)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, ev)
	}
	return out, errors.Join(errs...)
}

// normalize 将 ABI 解码结果转换为 JSON 友好的形式。
func normalize(v any) any {
	switch x := v.(type) {
	case *big.Int:
		return x.String()
	case []byte:
		return hexutil.Bytes(x)
	case common.Hash:
		return x.Hex()
	default:
		return v
	}
}

package agent

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// 事件名称。
const (
	EventActionExecuted        = "ActionExecuted"
	EventStatusChanged         = "StatusChanged"
	EventAgentFunded           = "AgentFunded"
	EventAgentWithdrawn        = "AgentWithdrawn"
	EventLogicUpgraded         = "LogicUpgraded"
	EventMetadataUpdated       = "MetadataUpdated"
	EventGlobalPauseChanged    = "GlobalPauseChanged"
	EventGovernanceTransferred = "GovernanceTransferred"
	EventTransfer              = "Transfer"
	EventApproval              = "Approval"
	EventApprovalForAll        = "ApprovalForAll"
)

const tokenABIJSON = `[
  {"type":"event","name":"ActionExecuted","inputs":[
    {"name":"agentId","type":"uint256","indexed":true},
    {"name":"result","type":"bytes","indexed":false}]},
  {"type":"event","name":"StatusChanged","inputs":[
    {"name":"agentId","type":"uint256","indexed":true},
    {"name":"newStatus","type":"uint8","indexed":false}]},
  {"type":"event","name":"AgentFunded","inputs":[
    {"name":"agentId","type":"uint256","indexed":true},
    {"name":"funder","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"AgentWithdrawn","inputs":[
    {"name":"agentId","type":"uint256","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"LogicUpgraded","inputs":[
    {"name":"agentId","type":"uint256","indexed":true},
    {"name":"oldLogic","type":"address","indexed":false},
    {"name":"newLogic","type":"address","indexed":false}]},
  {"type":"event","name":"MetadataUpdated","inputs":[
    {"name":"tokenId","type":"uint256","indexed":true},
    {"name":"uri","type":"string","indexed":false}]},
  {"type":"event","name":"GlobalPauseChanged","inputs":[
    {"name":"paused","type":"bool","indexed":false}]},
  {"type":"event","name":"GovernanceTransferred","inputs":[
    {"name":"previous","type":"address","indexed":true},
    {"name":"next","type":"address","indexed":true}]},
  {"type":"event","name":"Transfer","inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"tokenId","type":"uint256","indexed":true}]},
  {"type":"event","name":"Approval","inputs":[
    {"name":"owner","type":"address","indexed":true},
    {"name":"approved","type":"address","indexed":true},
    {"name":"tokenId","type":"uint256","indexed":true}]},
  {"type":"event","name":"ApprovalForAll","inputs":[
    {"name":"owner","type":"address","indexed":true},
    {"name":"operator","type":"address","indexed":true},
    {"name":"approved","type":"bool","indexed":false}]}
]`

// ABI 描述代币合约发出的全部事件，供索引方解码日志。
var ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		panic(fmt.Sprintf("解析代币 ABI 失败: %v", err))
	}
	ABI = parsed
}

// EventByTopic 根据 topic0 查找事件定义。
func EventByTopic(topic common.Hash) (*abi.Event, bool) {
	for name := range ABI.Events {
		event := ABI.Events[name]
		if event.ID == topic {
			return &event, true
		}
	}
	return nil, false
}

// buildLog 按 ABI 规则编码事件：topic0 为事件签名哈希，indexed 参数依次放入 topics，
// 其余参数 ABI 编码后放入 data。indexed 参数仅支持 uint256 与 address。
func buildLog(address common.Address, name string, args ...any) (*gethtypes.Log, error) {
	event, ok := ABI.Events[name]
	if !ok {
		return nil, fmt.Errorf("未知事件 %s", name)
	}
	if len(args) != len(event.Inputs) {
		return nil, fmt.Errorf("事件 %s 需要 %d 个参数，实际 %d 个", name, len(event.Inputs), len(args))
	}
	topics := []common.Hash{event.ID}
	var plain []any
	for i, input := range event.Inputs {
		if !input.Indexed {
			plain = append(plain, args[i])
			continue
		}
		switch v := args[i].(type) {
		case *big.Int:
			topics = append(topics, common.BigToHash(v))
		case common.Address:
			topics = append(topics, common.BytesToHash(v.Bytes()))
		default:
			return nil, fmt.Errorf("事件 %s 的 indexed 参数类型 %T 不受支持", name, v)
		}
	}
	data, err := event.Inputs.NonIndexed().Pack(plain...)
	if err != nil {
		return nil, fmt.Errorf("编码事件 %s 失败: %w", name, err)
	}
	return &gethtypes.Log{Address: address, Topics: topics, Data: data}, nil
}

func (t *Token) emit(name string, args ...any) {
	log, err := buildLog(t.address, name, args...)
	if err != nil {
		// 参数由合约内部构造，编码失败属于编程错误。
		panic(err)
	}
	t.db.AddLog(log)
}

func idArg(id uint64) *big.Int {
	return new(big.Int).SetUint64(id)
}

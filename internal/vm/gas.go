package vm

// MaxExecutionGas 是单次网关调用的固定预算，嵌套调用从发起帧的预算中扣除。
const MaxExecutionGas uint64 = 3_000_000

// MaxCallDepth 限制委托调用的嵌套层数。
const MaxCallDepth = 64

const (
	GasCall         uint64 = 700   // 委托调用开销
	GasInputByte    uint64 = 16    // 每字节调用输入
	GasLoad         uint64 = 800   // 存储读取
	GasStoreSet     uint64 = 20000 // 存储写入，零值变非零
	GasStoreReset   uint64 = 5000  // 其他存储写入
	GasBalance      uint64 = 400   // 读取代理余额
	GasLog          uint64 = 375   // 事件基础费用
	GasLogTopic     uint64 = 375   // 每个事件 topic
	GasLogByte      uint64 = 8     // 每字节事件数据
	GasReenter      uint64 = 2600  // 回调合约
	GasComputeUnit  uint64 = 3     // 一个声明的计算单元
	callGasFraction uint64 = 64    // 嵌套帧为父帧保留 1/64 的 gas
)

// childBudget 根据父帧剩余 gas 计算嵌套帧可用的预算。
func childBudget(parentLeft uint64) uint64 {
	avail := parentLeft - parentLeft/callGasFraction
	if avail > MaxExecutionGas {
		return MaxExecutionGas
	}
	return avail
}

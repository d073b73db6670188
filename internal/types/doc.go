// Package types 定义代理账本各层共享的数据：代理状态、扩展元数据、签名交易、
// 动作、收据，以及拒绝操作时返回的稳定错误码。
package types

// Package storage 定义已提交账本状态的持久化接口。
package storage

import (
	"context"
	"sync"

	"AgentNFT-Chain/internal/state"
)

// Checkpoint 记录最近一次提交的区块高度与时间戳。
type Checkpoint struct {
	Height    uint64 `json:"height"`
	Timestamp uint64 `json:"timestamp"`
}

// Repository 保存账本提交的变更集，重启时按提交顺序恢复状态。
type Repository interface {
	// Load 返回合并后的完整状态与最后的检查点；空仓库返回 nil 变更集。
	Load(ctx context.Context) (*state.Changeset, Checkpoint, error)
	// Persist 原子地写入一次提交。
	Persist(ctx context.Context, cp Checkpoint, cs *state.Changeset) error
	Close() error
}

// MemoryRepository 在进程内保存状态，用于测试与临时节点。
type MemoryRepository struct {
	mu         sync.Mutex
	merged     *state.Changeset
	checkpoint Checkpoint
	commits    int
}

// NewMemoryRepository 创建内存仓库。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Load 实现 Repository 接口。
func (m *MemoryRepository) Load(context.Context) (*state.Changeset, Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.merged == nil {
		return nil, m.checkpoint, nil
	}
	out := &state.Changeset{}
	out.Merge(m.merged)
	return out, m.checkpoint, nil
}

// Persist 实现 Repository 接口。
func (m *MemoryRepository) Persist(_ context.Context, cp Checkpoint, cs *state.Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.merged == nil {
		m.merged = &state.Changeset{}
	}
	m.merged.Merge(cs)
	m.checkpoint = cp
	m.commits++
	return nil
}

// Commits 返回已写入的提交次数。
func (m *MemoryRepository) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Close 实现 Repository 接口。
func (m *MemoryRepository) Close() error { return nil }

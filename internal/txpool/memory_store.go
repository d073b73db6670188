package txpool

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "AgentNFT-Chain/internal/errors"
	"AgentNFT-Chain/internal/types"
)

// MemoryStore 以内存方式保存交易池状态，适用于单进程部署与测试。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "entry 不能为空")
	}
	if entry.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易 ID 不能为空")
	}
	if _, ok := m.entries[entry.ID]; ok {
		return ErrEntryConflict
	}
	now := time.Now().Unix()
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	m.entries[entry.ID] = cloneEntry(entry)
	return nil
}

// Get 返回交易条目。
func (m *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return cloneEntry(entry), nil
}

// Claim 将条目状态更新为处理中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	switch entry.Status {
	case StatusIncluded:
		return cloneEntry(entry), ErrEntryIncluded
	case StatusRunning:
		return cloneEntry(entry), ErrEntryConflict
	}
	if entry.Attempts >= entry.MaxRetries {
		return cloneEntry(entry), ErrEntryExhausted
	}
	entry.Status = StatusRunning
	entry.Attempts++
	entry.LastError = ""
	entry.ErrorCode = ""
	entry.UpdatedAt = time.Now().Unix()
	return cloneEntry(entry), nil
}

// MarkIncluded 记录出块回执。
func (m *MemoryStore) MarkIncluded(_ context.Context, id string, receipt *types.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	entry.Status = StatusIncluded
	if receipt != nil {
		copied := *receipt
		entry.Receipt = &copied
	}
	entry.LastError = ""
	entry.ErrorCode = ""
	entry.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记条目失败。terminal 为真时不再允许领取。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	entry.Status = StatusFailed
	entry.LastError = lastError
	entry.ErrorCode = string(code)
	if terminal && entry.Attempts < entry.MaxRetries {
		entry.MaxRetries = entry.Attempts
	}
	entry.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合过滤条件的条目。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		if !matchesListFilters(entry, opts) {
			continue
		}
		results = append(results, cloneEntry(entry))
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			if a.UpdatedAt == b.UpdatedAt {
				if a.CreatedAt == b.CreatedAt {
					return a.ID < b.ID
				}
				return a.CreatedAt < b.CreatedAt
			}
			return a.UpdatedAt < b.UpdatedAt
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID < b.ID
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Entry{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的条目数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (PoolStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := PoolStats{}
	for _, entry := range m.entries {
		if !matchesListFilters(entry, opts) {
			continue
		}
		stats.Total++
		switch entry.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusIncluded:
			stats.Included++
		case StatusFailed:
			stats.Failed++
		}
		if entry.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = entry.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (entry.UpdatedAt != 0 && entry.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = entry.UpdatedAt
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(entry *Entry, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if entry.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.Sender != "" && entry.Sender != opts.Sender {
		return false
	}
	if opts.Kind != "" && entry.Kind != opts.Kind {
		return false
	}
	if opts.UpdatedGTE > 0 && entry.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && entry.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	return true
}

var _ Store = (*MemoryStore)(nil)

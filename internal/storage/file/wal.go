// Package file 以 JSON Lines 追加日志的方式持久化账本变更集。
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"AgentNFT-Chain/internal/state"
	"AgentNFT-Chain/internal/storage"
)

const (
	walName      = "ledger.wal"
	maxLineBytes = 64 << 20
)

type record struct {
	storage.Checkpoint
	Changes *state.Changeset `json:"changes"`
}

// Repository 将每次提交追加为一行 JSON，启动时重放。
type Repository struct {
	mu   sync.Mutex
	path string
	file *os.File
}

var _ storage.Repository = (*Repository)(nil)

// Open 在 dataDir 下打开（或创建）日志文件。
func Open(dataDir string) (*Repository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, walName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开账本日志失败: %w", err)
	}
	return &Repository{path: path, file: f}, nil
}

// Path 返回日志文件路径。
func (r *Repository) Path() string { return r.path }

// Load 按写入顺序重放全部提交。末尾不完整的一行视为崩溃残留并被截断。
func (r *Repository) Load(ctx context.Context) (*state.Changeset, storage.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var cp storage.Checkpoint
	if _, err := r.file.Seek(0, 0); err != nil {
		return nil, cp, fmt.Errorf("定位账本日志失败: %w", err)
	}
	scanner := bufio.NewScanner(r.file)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	var (
		merged *state.Changeset
		valid  int64
		line   int
	)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, cp, err
		}
		line++
		raw := scanner.Bytes()
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			// 只允许最后一行损坏。
			if scanner.Scan() {
				return nil, cp, fmt.Errorf("账本日志第 %d 行损坏: %w", line, err)
			}
			if err := r.file.Truncate(valid); err != nil {
				return nil, cp, fmt.Errorf("截断账本日志失败: %w", err)
			}
			break
		}
		valid += int64(len(raw)) + 1
		if merged == nil {
			merged = &state.Changeset{}
		}
		merged.Merge(rec.Changes)
		cp = rec.Checkpoint
	}
	if err := scanner.Err(); err != nil {
		return nil, cp, fmt.Errorf("读取账本日志失败: %w", err)
	}
	return merged, cp, nil
}

// Persist 追加一次提交并刷盘。
func (r *Repository) Persist(_ context.Context, cp storage.Checkpoint, cs *state.Changeset) error {
	encoded, err := json.Marshal(record{Checkpoint: cp, Changes: cs})
	if err != nil {
		return fmt.Errorf("序列化变更集失败: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入账本日志失败: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("刷盘失败: %w", err)
	}
	return nil
}

// Close 关闭日志文件。
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

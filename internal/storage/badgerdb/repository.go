// Package badgerdb 使用 BadgerDB 按记录保存账本状态，适合不依赖外部数据库的单机节点。
package badgerdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/state"
	"AgentNFT-Chain/internal/storage"
	"AgentNFT-Chain/pkg/logger"
)

// 键前缀。每类记录一个前缀，便于前缀扫描。
var (
	prefixAgent    = []byte("a/")
	prefixAccount  = []byte("c/")
	prefixOperator = []byte("o/")
	prefixSlot     = []byte("s/")
	keySettings    = []byte("meta/settings")
	keyCheckpoint  = []byte("meta/checkpoint")
)

// Options 配置 Badger 仓库。
type Options struct {
	// Dir 为数据目录；InMemory 为 true 时可以为空。
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

// Repository 将变更集逐条写入 Badger 键空间。
type Repository struct {
	db *badger.DB
}

var _ storage.Repository = (*Repository)(nil)

// Open 打开（或创建）Badger 数据库。
func Open(opts Options) (*Repository, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger 数据目录不能为空")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Named("badger")
	}
	dbOpts = dbOpts.WithLogger(slogAdapter{log: log})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("打开 badger 失败: %w", err)
	}
	return &Repository{db: db}, nil
}

// Load 扫描全部记录，重建完整状态。
func (r *Repository) Load(ctx context.Context) (*state.Changeset, storage.Checkpoint, error) {
	var (
		cp    storage.Checkpoint
		cs    = &state.Changeset{}
		found bool
	)
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyCheckpoint)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			found = true
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &cp) }); err != nil {
				return fmt.Errorf("解析检查点失败: %w", err)
			}
		}

		item, err = txn.Get(keySettings)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			found = true
			cs.Settings = &state.Settings{}
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, cs.Settings) }); err != nil {
				return fmt.Errorf("解析全局设置失败: %w", err)
			}
		}

		scans := []struct {
			prefix []byte
			decode func([]byte) error
		}{
			{prefixAgent, func(v []byte) error {
				var e state.AgentEntry
				if err := json.Unmarshal(v, &e); err != nil {
					return err
				}
				cs.Agents = append(cs.Agents, e)
				return nil
			}},
			{prefixAccount, func(v []byte) error {
				var e state.AccountEntry
				if err := json.Unmarshal(v, &e); err != nil {
					return err
				}
				cs.Accounts = append(cs.Accounts, e)
				return nil
			}},
			{prefixOperator, func(v []byte) error {
				var e state.OperatorEntry
				if err := json.Unmarshal(v, &e); err != nil {
					return err
				}
				cs.Operators = append(cs.Operators, e)
				return nil
			}},
			{prefixSlot, func(v []byte) error {
				var e state.SlotEntry
				if err := json.Unmarshal(v, &e); err != nil {
					return err
				}
				cs.Slots = append(cs.Slots, e)
				return nil
			}},
		}
		for _, scan := range scans {
			n, err := scanPrefix(ctx, txn, scan.prefix, scan.decode)
			if err != nil {
				return err
			}
			if n > 0 {
				found = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, storage.Checkpoint{}, fmt.Errorf("读取 badger 状态失败: %w", err)
	}
	if !found {
		return nil, cp, nil
	}
	return cs, cp, nil
}

func scanPrefix(ctx context.Context, txn *badger.Txn, prefix []byte, decode func([]byte) error) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		item := it.Item()
		if err := item.Value(decode); err != nil {
			return n, fmt.Errorf("解析记录 %x 失败: %w", item.Key(), err)
		}
		n++
	}
	return n, nil
}

// Persist 在一个 Badger 事务内写入变更集与检查点。
func (r *Repository) Persist(_ context.Context, cp storage.Checkpoint, cs *state.Changeset) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		if cs != nil {
			for _, e := range cs.Agents {
				if err := setJSON(txn, agentKey(e.ID), e); err != nil {
					return err
				}
			}
			for _, e := range cs.Accounts {
				if err := setJSON(txn, accountKey(e.Address), e); err != nil {
					return err
				}
			}
			for _, e := range cs.Operators {
				key := operatorKey(e.Owner, e.Operator)
				if !e.Approved {
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				if err := setJSON(txn, key, e); err != nil {
					return err
				}
			}
			for _, e := range cs.Slots {
				key := slotKey(e.Agent, e.Key)
				if e.Value == (common.Hash{}) {
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				if err := setJSON(txn, key, e); err != nil {
					return err
				}
			}
			if cs.Settings != nil {
				if err := setJSON(txn, keySettings, cs.Settings); err != nil {
					return err
				}
			}
		}
		return setJSON(txn, keyCheckpoint, cp)
	})
	if err != nil {
		return fmt.Errorf("写入 badger 失败: %w", err)
	}
	return nil
}

// Close 关闭数据库。
func (r *Repository) Close() error {
	return r.db.Close()
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化记录失败: %w", err)
	}
	return txn.Set(key, encoded)
}

func agentKey(id uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, prefixAgent...), id)
}

func accountKey(addr common.Address) []byte {
	return append(append([]byte{}, prefixAccount...), addr.Bytes()...)
}

func operatorKey(owner, operator common.Address) []byte {
	key := append(append([]byte{}, prefixOperator...), owner.Bytes()...)
	return append(key, operator.Bytes()...)
}

func slotKey(agent uint64, slot common.Hash) []byte {
	key := binary.BigEndian.AppendUint64(append([]byte{}, prefixSlot...), agent)
	return append(key, slot.Bytes()...)
}

// slogAdapter 将 badger 日志转发到 slog，丢弃 info 与 debug 级别。
type slogAdapter struct {
	log *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...any) {
	a.log.Error(fmt.Sprintf(format, args...))
}

func (a slogAdapter) Warningf(format string, args ...any) {
	a.log.Warn(fmt.Sprintf(format, args...))
}

func (slogAdapter) Infof(string, ...any)  {}
func (slogAdapter) Debugf(string, ...any) {}

package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/state"
	"AgentNFT-Chain/internal/storage"
	"AgentNFT-Chain/internal/types"
)

const (
	selectSettingsSQL = `SELECT next_id, paused, governance, height, block_time FROM ledger_settings WHERE id = 1`
	selectAgentsSQL   = `SELECT id, owner, approved, uri, has_state, balance, status, logic, last_action, metadata
    FROM agents ORDER BY id`
	selectAccountsSQL  = `SELECT address, balance, nonce, holdings FROM accounts ORDER BY address`
	selectOperatorsSQL = `SELECT owner, operator FROM operators ORDER BY owner, operator`
	selectSlotsSQL     = `SELECT agent_id, slot_key, slot_value FROM agent_storage ORDER BY agent_id, slot_key`

	upsertCheckpointSQL = `INSERT INTO ledger_settings (id, height, block_time) VALUES (1, ?, ?)
    ON DUPLICATE KEY UPDATE height = VALUES(height), block_time = VALUES(block_time)`
	upsertSettingsSQL = `INSERT INTO ledger_settings (id, next_id, paused, governance, height, block_time) VALUES (1, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE next_id = VALUES(next_id), paused = VALUES(paused), governance = VALUES(governance),
    height = VALUES(height), block_time = VALUES(block_time)`
	upsertAgentSQL = `INSERT INTO agents (id, owner, approved, uri, has_state, balance, status, logic, last_action, metadata)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE owner = VALUES(owner), approved = VALUES(approved), uri = VALUES(uri),
    has_state = VALUES(has_state), balance = VALUES(balance), status = VALUES(status), logic = VALUES(logic),
    last_action = VALUES(last_action), metadata = VALUES(metadata)`
	upsertAccountSQL = `INSERT INTO accounts (address, balance, nonce, holdings) VALUES (?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE balance = VALUES(balance), nonce = VALUES(nonce), holdings = VALUES(holdings)`
	insertOperatorSQL = `INSERT IGNORE INTO operators (owner, operator) VALUES (?, ?)`
	deleteOperatorSQL = `DELETE FROM operators WHERE owner = ? AND operator = ?`
	upsertSlotSQL     = `INSERT INTO agent_storage (agent_id, slot_key, slot_value) VALUES (?, ?, ?)
    ON DUPLICATE KEY UPDATE slot_value = VALUES(slot_value)`
	deleteSlotSQL = `DELETE FROM agent_storage WHERE agent_id = ? AND slot_key = ?`
)

// StateRepository 将账本提交写入 MySQL 表。
type StateRepository struct {
	db *sql.DB
}

var _ storage.Repository = (*StateRepository)(nil)

// NewStateRepository 基于已迁移的连接池创建仓库。
func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Open 建立连接、执行迁移并返回仓库。
func Open(ctx context.Context, cfg Config) (*StateRepository, error) {
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &StateRepository{db: db}, nil
}

// DB 返回底层连接池，交易池存储复用同一个连接池。
func (r *StateRepository) DB() *sql.DB { return r.db }

// Load 读取全部表并组装为一个变更集。
func (r *StateRepository) Load(ctx context.Context) (*state.Changeset, storage.Checkpoint, error) {
	var (
		cp       storage.Checkpoint
		settings state.Settings
		govHex   string
	)
	err := r.db.QueryRowContext(ctx, selectSettingsSQL).Scan(&settings.NextID, &settings.Paused, &govHex, &cp.Height, &cp.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cp, nil
	}
	if err != nil {
		return nil, cp, fmt.Errorf("查询 ledger_settings 失败: %w", err)
	}
	settings.Governance = common.HexToAddress(govHex)
	cs := &state.Changeset{Settings: &settings}

	if cs.Agents, err = r.loadAgents(ctx); err != nil {
		return nil, cp, err
	}
	if cs.Accounts, err = r.loadAccounts(ctx); err != nil {
		return nil, cp, err
	}
	if cs.Operators, err = r.loadOperators(ctx); err != nil {
		return nil, cp, err
	}
	if cs.Slots, err = r.loadSlots(ctx); err != nil {
		return nil, cp, err
	}
	return cs, cp, nil
}

func (r *StateRepository) loadAgents(ctx context.Context) ([]state.AgentEntry, error) {
	rows, err := r.db.QueryContext(ctx, selectAgentsSQL)
	if err != nil {
		return nil, fmt.Errorf("查询 agents 失败: %w", err)
	}
	defer rows.Close()

	var out []state.AgentEntry
	for rows.Next() {
		var (
			entry                                  state.AgentEntry
			owner, approved, balance, status, logic string
			hasState                               bool
			lastAction                             uint64
			metadata                               sql.NullString
		)
		if err := rows.Scan(&entry.ID, &owner, &approved, &entry.URI, &hasState, &balance, &status, &logic, &lastAction, &metadata); err != nil {
			return nil, fmt.Errorf("解析 agents 失败: %w", err)
		}
		entry.Owner = common.HexToAddress(owner)
		if approved != "" {
			entry.Approved = common.HexToAddress(approved)
		}
		if hasState {
			amount, ok := new(big.Int).SetString(balance, 10)
			if !ok {
				return nil, fmt.Errorf("代理 %d 余额格式错误: %q", entry.ID, balance)
			}
			var st types.Status
			if err := st.UnmarshalText([]byte(status)); err != nil {
				return nil, fmt.Errorf("代理 %d 状态格式错误: %w", entry.ID, err)
			}
			entry.State = &types.AgentState{
				Balance:             amount,
				Status:              st,
				Owner:               entry.Owner,
				Logic:               common.HexToAddress(logic),
				LastActionTimestamp: lastAction,
			}
		}
		if metadata.Valid && metadata.String != "" {
			var md types.ExtendedMetadata
			if err := json.Unmarshal([]byte(metadata.String), &md); err != nil {
				return nil, fmt.Errorf("代理 %d 元数据格式错误: %w", entry.ID, err)
			}
			entry.Metadata = &md
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 agents 失败: %w", err)
	}
	return out, nil
}

func (r *StateRepository) loadAccounts(ctx context.Context) ([]state.AccountEntry, error) {
	rows, err := r.db.QueryContext(ctx, selectAccountsSQL)
	if err != nil {
		return nil, fmt.Errorf("查询 accounts 失败: %w", err)
	}
	defer rows.Close()

	var out []state.AccountEntry
	for rows.Next() {
		var (
			entry         state.AccountEntry
			addr, balance string
		)
		if err := rows.Scan(&addr, &balance, &entry.Nonce, &entry.Holdings); err != nil {
			return nil, fmt.Errorf("解析 accounts 失败: %w", err)
		}
		amount, ok := new(big.Int).SetString(balance, 10)
		if !ok {
			return nil, fmt.Errorf("账户 %s 余额格式错误: %q", addr, balance)
		}
		entry.Address = common.HexToAddress(addr)
		entry.Balance = amount
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 accounts 失败: %w", err)
	}
	return out, nil
}

func (r *StateRepository) loadOperators(ctx context.Context) ([]state.OperatorEntry, error) {
	rows, err := r.db.QueryContext(ctx, selectOperatorsSQL)
	if err != nil {
		return nil, fmt.Errorf("查询 operators 失败: %w", err)
	}
	defer rows.Close()

	var out []state.OperatorEntry
	for rows.Next() {
		var owner, operator string
		if err := rows.Scan(&owner, &operator); err != nil {
			return nil, fmt.Errorf("解析 operators 失败: %w", err)
		}
		out = append(out, state.OperatorEntry{
			Owner:    common.HexToAddress(owner),
			Operator: common.HexToAddress(operator),
			Approved: true,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 operators 失败: %w", err)
	}
	return out, nil
}

func (r *StateRepository) loadSlots(ctx context.Context) ([]state.SlotEntry, error) {
	rows, err := r.db.QueryContext(ctx, selectSlotsSQL)
	if err != nil {
		return nil, fmt.Errorf("查询 agent_storage 失败: %w", err)
	}
	defer rows.Close()

	var out []state.SlotEntry
	for rows.Next() {
		var (
			entry      state.SlotEntry
			key, value string
		)
		if err := rows.Scan(&entry.Agent, &key, &value); err != nil {
			return nil, fmt.Errorf("解析 agent_storage 失败: %w", err)
		}
		entry.Key = common.HexToHash(key)
		entry.Value = common.HexToHash(value)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 agent_storage 失败: %w", err)
	}
	return out, nil
}

// Persist 在一个事务中写入变更集与检查点。
func (r *StateRepository) Persist(ctx context.Context, cp storage.Checkpoint, cs *state.Changeset) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启持久化事务失败: %w", err)
	}
	if err := persist(ctx, tx, cp, cs); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交持久化事务失败: %w", err)
	}
	return nil
}

func persist(ctx context.Context, tx *sql.Tx, cp storage.Checkpoint, cs *state.Changeset) error {
	if cs == nil {
		cs = &state.Changeset{}
	}
	if s := cs.Settings; s != nil {
		if _, err := tx.ExecContext(ctx, upsertSettingsSQL, s.NextID, s.Paused, s.Governance.Hex(), cp.Height, cp.Timestamp); err != nil {
			return fmt.Errorf("写入 ledger_settings 失败: %w", err)
		}
	} else if _, err := tx.ExecContext(ctx, upsertCheckpointSQL, cp.Height, cp.Timestamp); err != nil {
		return fmt.Errorf("写入检查点失败: %w", err)
	}

	for _, e := range cs.Agents {
		var (
			hasState   bool
			balance    = "0"
			status     = types.StatusActive.String()
			logic      string
			lastAction uint64
			metadata   sql.NullString
			approved   string
		)
		if e.State != nil {
			hasState = true
			balance = e.State.Balance.String()
			status = e.State.Status.String()
			logic = e.State.Logic.Hex()
			lastAction = e.State.LastActionTimestamp
		}
		if e.Metadata != nil {
			encoded, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("序列化代理 %d 元数据失败: %w", e.ID, err)
			}
			metadata = sql.NullString{String: string(encoded), Valid: true}
		}
		if e.Approved != (common.Address{}) {
			approved = e.Approved.Hex()
		}
		if _, err := tx.ExecContext(ctx, upsertAgentSQL, e.ID, e.Owner.Hex(), approved, e.URI, hasState, balance, status, logic, lastAction, metadata); err != nil {
			return fmt.Errorf("写入代理 %d 失败: %w", e.ID, err)
		}
	}
	for _, e := range cs.Accounts {
		balance := "0"
		if e.Balance != nil {
			balance = e.Balance.String()
		}
		if _, err := tx.ExecContext(ctx, upsertAccountSQL, e.Address.Hex(), balance, e.Nonce, e.Holdings); err != nil {
			return fmt.Errorf("写入账户 %s 失败: %w", e.Address.Hex(), err)
		}
	}
	for _, e := range cs.Operators {
		stmt := deleteOperatorSQL
		if e.Approved {
			stmt = insertOperatorSQL
		}
		if _, err := tx.ExecContext(ctx, stmt, e.Owner.Hex(), e.Operator.Hex()); err != nil {
			return fmt.Errorf("写入操作员授权失败: %w", err)
		}
	}
	for _, e := range cs.Slots {
		var err error
		if e.Value == (common.Hash{}) {
			_, err = tx.ExecContext(ctx, deleteSlotSQL, e.Agent, e.Key.Hex())
		} else {
			_, err = tx.ExecContext(ctx, upsertSlotSQL, e.Agent, e.Key.Hex(), e.Value.Hex())
		}
		if err != nil {
			return fmt.Errorf("写入代理 %d 存储槽失败: %w", e.Agent, err)
		}
	}
	return nil
}

// Close 关闭连接池。
func (r *StateRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

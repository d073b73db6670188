package txpool

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentNFT-Chain/internal/errors"
	"AgentNFT-Chain/internal/types"
)

const (
	entryColumns = `id, sender, nonce, kind, raw_tx, status, attempts, max_retries, last_error, error_code, receipt, created_at, updated_at`

	insertEntrySQL = `INSERT INTO pool_transactions
        (id, sender, nonce, kind, raw_tx, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`
	selectEntrySQL = `SELECT ` + entryColumns + ` FROM pool_transactions WHERE id = ?`
	claimEntrySQL  = `UPDATE pool_transactions SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`
	includeEntrySQL = `UPDATE pool_transactions SET status = ?, receipt = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`
	failEntrySQL    = `UPDATE pool_transactions SET status = ?, last_error = ?, error_code = ?, updated_at = ?,
        max_retries = CASE WHEN ? THEN LEAST(max_retries, attempts) ELSE max_retries END WHERE id = ?`
	statsEntrySQL = `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS included,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM pool_transactions`
)

// MySQLStore 使用 MySQL 的 pool_transactions 表记录交易池状态。表结构由迁移脚本维护。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 基于已建立的连接池创建 MySQLStore。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL 连接不能为空")
	}
	return &MySQLStore{db: db}, nil
}

// Create 插入新的交易条目。
func (s *MySQLStore) Create(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "entry 不能为空")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易 ID 不能为空")
	}
	raw, err := json.Marshal(entry.Tx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码交易失败")
	}

	now := time.Now().Unix()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, insertEntrySQL,
		entry.ID,
		entry.Sender,
		entry.Nonce,
		entry.Kind,
		string(raw),
		string(entry.Status),
		entry.Attempts,
		entry.MaxRetries,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrEntryConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入交易失败")
	}
	return nil
}

// Get 查询指定交易。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Entry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, selectEntrySQL, id))
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易失败")
	}
	return entry, nil
}

// Claim 将交易标记为处理中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Entry, error) {
	res, err := s.db.ExecContext(ctx, claimEntrySQL,
		string(StatusRunning),
		time.Now().Unix(),
		id,
		string(StatusPending),
		string(StatusFailed),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新交易状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		switch entry.Status {
		case StatusIncluded:
			return entry, ErrEntryIncluded
		case StatusRunning:
			return entry, ErrEntryConflict
		default:
			if entry.Attempts >= entry.MaxRetries {
				return entry, ErrEntryExhausted
			}
			return entry, ErrEntryConflict
		}
	}
	return entry, nil
}

// MarkIncluded 写入出块回执。
func (s *MySQLStore) MarkIncluded(ctx context.Context, id string, receipt *types.Receipt) error {
	var encoded sql.NullString
	if receipt != nil {
		raw, err := json.Marshal(receipt)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码回执失败")
		}
		encoded = sql.NullString{String: string(raw), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, includeEntrySQL, string(StatusIncluded), encoded, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记交易出块失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// MarkFailed 将交易标记为失败，terminal 为真时终止后续重试。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	res, err := s.db.ExecContext(ctx, failEntrySQL,
		string(StatusFailed),
		lastError,
		string(code),
		time.Now().Unix(),
		terminal,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记交易失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// List 返回符合过滤条件的交易。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Entry, error) {
	opts.applyDefaults()

	query := `SELECT ` + entryColumns + ` FROM pool_transactions`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易列表失败")
	}
	defer rows.Close()

	entries := make([]*Entry, 0, opts.Limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易记录失败")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易失败")
	}
	return entries, nil
}

// Stats 返回符合过滤条件的交易聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (PoolStats, error) {
	opts.applyDefaults()

	query := statsEntrySQL
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusIncluded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats PoolStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Included,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return PoolStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry     Entry
		status    string
		raw       string
		lastError sql.NullString
		receipt   sql.NullString
	)
	if err := row.Scan(
		&entry.ID,
		&entry.Sender,
		&entry.Nonce,
		&entry.Kind,
		&raw,
		&status,
		&entry.Attempts,
		&entry.MaxRetries,
		&lastError,
		&entry.ErrorCode,
		&receipt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}
	entry.Status = Status(status)
	entry.LastError = lastError.String
	var tx types.Transaction
	if err := json.Unmarshal([]byte(raw), &tx); err != nil {
		return nil, fmt.Errorf("解析交易 %s 失败: %w", entry.ID, err)
	}
	entry.Tx = &tx
	if receipt.Valid && strings.TrimSpace(receipt.String) != "" {
		var r types.Receipt
		if err := json.Unmarshal([]byte(receipt.String), &r); err != nil {
			return nil, fmt.Errorf("解析回执 %s 失败: %w", entry.ID, err)
		}
		entry.Receipt = &r
	}
	return &entry, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.Sender != "" {
		conditions = append(conditions, "sender = ?")
		args = append(args, opts.Sender)
	}
	if opts.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, opts.Kind)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)

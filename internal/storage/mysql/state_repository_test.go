package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/state"
	"AgentNFT-Chain/internal/storage"
	"AgentNFT-Chain/internal/types"
)

func TestStateRepositoryLoad(t *testing.T) {
	t.Parallel()

	owner := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	logic := common.HexToAddress("0x00000000000000000000000000000000000c0de1")
	db, driver := newMockDB(t, []mockOperation{
		queryOp(selectSettingsSQL, mockRowsData{
			columns: []string{"next_id", "paused", "governance", "height", "block_time"},
			values:  [][]driver.Value{{int64(2), int64(1), owner.Hex(), int64(9), int64(1700)}},
		}),
		queryOp(selectAgentsSQL, mockRowsData{
			columns: []string{"id", "owner", "approved", "uri", "has_state", "balance", "status", "logic", "last_action", "metadata"},
			values: [][]driver.Value{{
				int64(1), owner.Hex(), "", "ipfs://a", int64(1), "12", "paused", logic.Hex(), int64(1600),
				`{"persona":"scout","experience":"","voiceHash":"","animationURI":"","vaultURI":"","vaultHash":"0x0000000000000000000000000000000000000000000000000000000000000000"}`,
			}},
		}),
		queryOp(selectAccountsSQL, mockRowsData{
			columns: []string{"address", "balance", "nonce", "holdings"},
			values:  [][]driver.Value{{owner.Hex(), "88", int64(3), int64(1)}},
		}),
		queryOp(selectOperatorsSQL, mockRowsData{columns: []string{"owner", "operator"}}),
		queryOp(selectSlotsSQL, mockRowsData{
			columns: []string{"agent_id", "slot_key", "slot_value"},
			values:  [][]driver.Value{{int64(1), common.Hash{}.Hex(), common.BigToHash(big.NewInt(5)).Hex()}},
		}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := NewStateRepository(db)
	cs, cp, err := repo.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cp.Height != 9 || cp.Timestamp != 1700 {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}

	restored := state.New()
	restored.Apply(cs)
	st := restored.Agent(1)
	if st == nil || st.Status != types.StatusPaused || st.Balance.Cmp(big.NewInt(12)) != 0 || st.Logic != logic {
		t.Fatalf("unexpected agent: %+v", st)
	}
	if md, _ := restored.Metadata(1); md.Persona != "scout" {
		t.Fatalf("metadata not restored: %+v", md)
	}
	if !restored.Paused() || restored.Governance() != owner || restored.NextID() != 2 {
		t.Fatalf("settings not restored")
	}
	if restored.GetNonce(owner) != 3 || restored.GetBalance(owner).Cmp(big.NewInt(88)) != 0 {
		t.Fatalf("account not restored")
	}
	if restored.GetState(1, common.Hash{}) != common.BigToHash(big.NewInt(5)) {
		t.Fatalf("slot not restored")
	}
}

func TestStateRepositoryLoadEmpty(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		queryOp(selectSettingsSQL, mockRowsData{columns: []string{"next_id", "paused", "governance", "height", "block_time"}}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	cs, _, err := NewStateRepository(db).Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cs != nil {
		t.Fatalf("expected empty changeset, got %+v", cs)
	}
}

func TestStateRepositoryPersist(t *testing.T) {
	t.Parallel()

	owner := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	cs := &state.Changeset{
		Agents: []state.AgentEntry{{
			ID:    1,
			Owner: owner,
			State: &types.AgentState{Balance: big.NewInt(4), Status: types.StatusActive, Owner: owner},
			URI:   "ipfs://a",
		}},
		Accounts:  []state.AccountEntry{{Address: owner, Balance: big.NewInt(10), Nonce: 1, Holdings: 1}},
		Operators: []state.OperatorEntry{{Owner: owner, Operator: common.HexToAddress("0x02"), Approved: false}},
		Slots: []state.SlotEntry{
			{Agent: 1, Key: common.Hash{0x01}, Value: common.Hash{0x02}},
			{Agent: 1, Key: common.Hash{0x03}},
		},
	}
	db, driver := newMockDB(t, []mockOperation{
		beginOp(),
		execOp(upsertCheckpointSQL, mockResult{rowsAffected: 1}),
		execOp(upsertAgentSQL, mockResult{rowsAffected: 1}),
		execOp(upsertAccountSQL, mockResult{rowsAffected: 1}),
		execOp(deleteOperatorSQL, mockResult{}),
		execOp(upsertSlotSQL, mockResult{rowsAffected: 1}),
		execOp(deleteSlotSQL, mockResult{}),
		commitOp(),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	if err := NewStateRepository(db).Persist(context.Background(), storage.Checkpoint{Height: 1, Timestamp: 10}, cs); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
}

func TestStateRepositoryPersistRollsBack(t *testing.T) {
	t.Parallel()

	failing := execOp(upsertSettingsSQL, mockResult{})
	failing.err = fmt.Errorf("disk full")
	db, driver := newMockDB(t, []mockOperation{
		beginOp(),
		failing,
		rollbackOp(),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	cs := &state.Changeset{Settings: &state.Settings{NextID: 1}}
	err := NewStateRepository(db).Persist(context.Background(), storage.Checkpoint{}, cs)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected write failure, got %v", err)
	}
}

func TestMigrateAppliesPendingFiles(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) < 2 || files[0].version != "0001" {
		t.Fatalf("unexpected migration set: %+v", files)
	}

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	for _, file := range files[1:] {
		ops = append(ops, beginOp())
		for _, stmt := range file.statements {
			ops = append(ops, execOp(stmt, mockResult{}))
		}
		ops = append(ops,
			execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
			commitOp(),
		)
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestOpenDBRejectsEmptyDSN(t *testing.T) {
	if _, err := OpenDB(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	if _, err := OpenDB(context.Background(), Config{DSN: "not a dsn"}); err == nil {
		t.Fatalf("expected error for malformed DSN")
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, named(args))
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, named(args))
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (c *mockConn) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&c.driver.idx))
	if idx >= len(c.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &c.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&c.driver.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.next(opCommit)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.next(opRollback)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) next(expected operationType) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&t.driver.idx))
	if idx >= len(t.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &t.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&t.driver.idx, 1)
	return op, nil
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func named(args []driver.Value) []driver.NamedValue {
	namedArgs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}
	return namedArgs
}

func normalizeSQL(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}

package txpool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"

	"AgentNFT-Chain/internal/types"
)

type execFunc func(query string, args []driver.NamedValue) (driver.Result, error)
type queryFunc func(query string, args []driver.NamedValue) (driver.Rows, error)

type funcDriver struct {
	exec  execFunc
	query queryFunc
}

type funcConn struct{ d *funcDriver }

var funcDriverSeq atomic.Int32

func openFuncDB(t *testing.T, exec execFunc, query queryFunc) *sql.DB {
	t.Helper()
	name := fmt.Sprintf("txpool-func-%d", funcDriverSeq.Add(1))
	sql.Register(name, &funcDriver{exec: exec, query: query})
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func (d *funcDriver) Open(string) (driver.Conn, error) { return &funcConn{d: d}, nil }

func (c *funcConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}
func (c *funcConn) Close() error              { return nil }
func (c *funcConn) Begin() (driver.Tx, error) { return nil, errors.New("transactions not supported") }

func (c *funcConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if c.d.exec == nil {
		return nil, fmt.Errorf("unexpected exec: %s", query)
	}
	return c.d.exec(strings.Join(strings.Fields(query), " "), args)
}

func (c *funcConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if c.d.query == nil {
		return nil, fmt.Errorf("unexpected query: %s", query)
	}
	return c.d.query(strings.Join(strings.Fields(query), " "), args)
}

type staticRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *staticRows) Columns() []string { return r.columns }
func (r *staticRows) Close() error      { return nil }
func (r *staticRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

var entryColumnNames = strings.Split(strings.ReplaceAll(entryColumns, " ", ""), ",")

func entryRow(t *testing.T, entry Entry) []driver.Value {
	t.Helper()
	raw, err := json.Marshal(entry.Tx)
	if err != nil {
		t.Fatalf("marshal tx: %v", err)
	}
	var receipt driver.Value
	if entry.Receipt != nil {
		encoded, err := json.Marshal(entry.Receipt)
		if err != nil {
			t.Fatalf("marshal receipt: %v", err)
		}
		receipt = string(encoded)
	}
	return []driver.Value{
		entry.ID, entry.Sender, int64(entry.Nonce), entry.Kind, string(raw), string(entry.Status),
		int64(entry.Attempts), int64(entry.MaxRetries), nil, entry.ErrorCode, receipt,
		entry.CreatedAt, entry.UpdatedAt,
	}
}

func TestMySQLStoreCreate(t *testing.T) {
	tx := unsignedTx(4)
	var captured []driver.NamedValue
	db := openFuncDB(t, func(query string, args []driver.NamedValue) (driver.Result, error) {
		if !strings.HasPrefix(query, "INSERT INTO pool_transactions") {
			return nil, fmt.Errorf("unexpected exec %s", query)
		}
		captured = args
		return driver.RowsAffected(1), nil
	}, nil)
	store, err := NewMySQLStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	entry := &Entry{ID: tx.Hash().Hex(), Sender: "0xA", Nonce: 4, Kind: string(tx.Action.Kind), Tx: tx, Status: StatusPending, MaxRetries: 3}
	if err := store.Create(context.Background(), entry); err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(captured) != 10 || captured[0].Value != entry.ID || captured[5].Value != string(StatusPending) {
		t.Fatalf("unexpected args %+v", captured)
	}
	var decoded types.Transaction
	if err := json.Unmarshal([]byte(captured[4].Value.(string)), &decoded); err != nil || decoded.Hash() != tx.Hash() {
		t.Fatalf("raw tx must round trip: %v", err)
	}
	if entry.CreatedAt == 0 || entry.UpdatedAt != entry.CreatedAt {
		t.Fatalf("timestamps not set: %+v", entry)
	}
}

func TestMySQLStoreCreateDuplicate(t *testing.T) {
	db := openFuncDB(t, func(string, []driver.NamedValue) (driver.Result, error) {
		return nil, &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	}, nil)
	store, _ := NewMySQLStore(db)
	err := store.Create(context.Background(), &Entry{ID: "0x01", Tx: unsignedTx(0)})
	if !errors.Is(err, ErrEntryConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMySQLStoreGet(t *testing.T) {
	tx := unsignedTx(9)
	stored := Entry{
		ID: tx.Hash().Hex(), Sender: "0xA", Nonce: 9, Kind: string(tx.Action.Kind), Tx: tx,
		Status: StatusIncluded, Attempts: 1, MaxRetries: 3, CreatedAt: 10, UpdatedAt: 12,
		Receipt: &types.Receipt{TxHash: tx.Hash(), Status: types.ReceiptStatusSuccessful, BlockNumber: 5},
	}
	db := openFuncDB(t, nil, func(query string, args []driver.NamedValue) (driver.Rows, error) {
		if args[0].Value == "0xmissing" {
			return &staticRows{columns: entryColumnNames}, nil
		}
		return &staticRows{columns: entryColumnNames, values: [][]driver.Value{entryRow(t, stored)}}, nil
	})
	store, _ := NewMySQLStore(db)

	got, err := store.Get(context.Background(), stored.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusIncluded || got.Nonce != 9 || got.Tx.Hash() != tx.Hash() || got.Receipt.BlockNumber != 5 {
		t.Fatalf("unexpected entry %+v", got)
	}
	if _, err := store.Get(context.Background(), "0xmissing"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMySQLStoreClaimReportsState(t *testing.T) {
	tx := unsignedTx(1)
	row := Entry{ID: "0x01", Tx: tx, Status: StatusIncluded, Attempts: 1, MaxRetries: 3}
	db := openFuncDB(t,
		func(query string, _ []driver.NamedValue) (driver.Result, error) {
			if !strings.HasPrefix(query, "UPDATE pool_transactions SET status = ?, attempts = attempts + 1") {
				return nil, fmt.Errorf("unexpected exec %s", query)
			}
			return driver.RowsAffected(0), nil
		},
		func(string, []driver.NamedValue) (driver.Rows, error) {
			return &staticRows{columns: entryColumnNames, values: [][]driver.Value{entryRow(t, row)}}, nil
		},
	)
	store, _ := NewMySQLStore(db)
	if _, err := store.Claim(context.Background(), "0x01"); !errors.Is(err, ErrEntryIncluded) {
		t.Fatalf("expected included, got %v", err)
	}
}

func TestBuildFilterClause(t *testing.T) {
	sender := common.HexToAddress("0xaa")
	opts := BuildListOptions(
		WithStatuses(StatusPending, StatusFailed, StatusPending),
		WithSender(strings.ToLower(sender.Hex())),
		WithKind("withdraw"),
	)
	clause, args := buildFilterClause(opts)
	want := "status IN (?,?) AND sender = ? AND kind = ?"
	if clause != want {
		t.Fatalf("unexpected clause %q", clause)
	}
	if len(args) != 4 || args[2] != sender.Hex() {
		t.Fatalf("unexpected args %v", args)
	}
	if clause, args := buildFilterClause(BuildListOptions()); clause != "" || args != nil {
		t.Fatalf("empty options should produce no clause")
	}
}

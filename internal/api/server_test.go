package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"

	"AgentNFT-Chain/internal/agent"
	"AgentNFT-Chain/internal/events"
	"AgentNFT-Chain/internal/ledger"
	"AgentNFT-Chain/internal/logic"
	"AgentNFT-Chain/internal/txpool"
	"AgentNFT-Chain/internal/types"
	"AgentNFT-Chain/internal/vm"
)

const testChainID = 31337

type fixture struct {
	t       *testing.T
	handler http.Handler
	ledger  *ledger.Ledger
	key     *ecdsa.PrivateKey
	owner   common.Address
	logic   map[string]common.Address
	nonce   uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	registry := vm.NewRegistry()
	addrs, err := logic.Deploy(registry, owner, logic.Names(), nil)
	if err != nil {
		t.Fatalf("deploy logic: %v", err)
	}
	buffer := events.NewBuffer(32)
	feed := events.NewFeed()
	l, err := ledger.New(context.Background(), ledger.Config{
		ChainID:      testChainID,
		TokenAddress: common.HexToAddress("0x7000000000000000000000000000000000000001"),
		Genesis: ledger.Genesis{
			Governance: owner,
			Alloc:      map[common.Address]*big.Int{owner: big.NewInt(500)},
		},
	}, registry, ledger.WithSink(events.NewFanout(buffer, feed)))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	store := txpool.NewMemoryStore()
	queue := txpool.NewMemoryQueue(16)
	pool := txpool.NewService(l, store, queue, 3)
	processor := txpool.NewProcessor(l, store, queue, queue)
	go func() { _ = processor.Start(ctx) }()

	server := NewServer(":0", l, pool, WithEventBuffer(buffer), WithEventFeed(feed), WithWaitTimeout(5*time.Second))
	return &fixture{t: t, handler: server.Handler(), ledger: l, key: key, owner: owner, logic: addrs}
}

func (f *fixture) do(method, target string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) signed(value int64, kind types.ActionKind, payload any) *types.Transaction {
	f.t.Helper()
	tx := types.NewTransaction(testChainID, f.nonce, big.NewInt(value), types.MustAction(kind, payload))
	if err := tx.Sign(f.key); err != nil {
		f.t.Fatalf("sign: %v", err)
	}
	f.nonce++
	return tx
}

func (f *fixture) submit(tx *types.Transaction) *txpool.Entry {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/v1/transactions?wait=true", tx)
	if rec.Code != http.StatusOK {
		f.t.Fatalf("submit %s: status %d body %s", tx.Action.Kind, rec.Code, rec.Body.String())
	}
	var entry txpool.Entry
	decode(f.t, rec, &entry)
	if entry.Status != txpool.StatusIncluded || !entry.Receipt.Succeeded() {
		f.t.Fatalf("transaction not included: %+v", entry)
	}
	return &entry
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var body errorBody
	decode(t, rec, &body)
	if body.Code != code {
		t.Fatalf("expected code %s, got %+v", code, body)
	}
}

func TestSubmitAndReadAgent(t *testing.T) {
	f := newFixture(t)
	created := f.submit(f.signed(0, types.ActionCreateAgentWithMetadata, types.CreateAgentPayload{
		Owner:       f.owner,
		Logic:       f.logic["counter"],
		MetadataURI: "ipfs://agent",
		Metadata:    &types.ExtendedMetadata{Persona: "scout"},
	}))
	f.submit(f.signed(40, types.ActionFund, types.AgentPayload{AgentID: 1}))
	f.submit(f.signed(0, types.ActionExecute, types.ExecutePayload{AgentID: 1}))

	rec := f.do(http.MethodGet, "/api/v1/transactions/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transaction detail: %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/api/v1/agents/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("agent: %d %s", rec.Code, rec.Body.String())
	}
	var view ledger.AgentView
	decode(t, rec, &view)
	if view.State.Balance.Cmp(big.NewInt(40)) != 0 || view.State.Owner != f.owner || view.URI != "ipfs://agent" {
		t.Fatalf("unexpected agent %+v", view)
	}

	rec = f.do(http.MethodGet, "/api/v1/agents/1/metadata", nil)
	var md types.ExtendedMetadata
	decode(t, rec, &md)
	if md.Persona != "scout" {
		t.Fatalf("unexpected metadata %+v", md)
	}

	rec = f.do(http.MethodGet, "/api/v1/agents/1/storage/0x00", nil)
	var slot map[string]common.Hash
	decode(t, rec, &slot)
	if slot["value"] != common.BigToHash(big.NewInt(1)) {
		t.Fatalf("unexpected counter slot %+v", slot)
	}

	rec = f.do(http.MethodGet, "/api/v1/accounts/"+f.owner.Hex(), nil)
	var account AccountView
	decode(t, rec, &account)
	if account.Nonce != 3 || account.Agents != 1 || account.Balance.Cmp(big.NewInt(460)) != 0 {
		t.Fatalf("unexpected account %+v", account)
	}

	rec = f.do(http.MethodGet, "/api/v1/status", nil)
	var st ledger.Status
	decode(t, rec, &st)
	if st.Height != 3 || st.TotalSupply != 1 || st.ChainID != testChainID {
		t.Fatalf("unexpected status %+v", st)
	}

	rec = f.do(http.MethodGet, "/api/v1/events?name="+agent.EventAgentFunded, nil)
	var recent []events.Event
	decode(t, rec, &recent)
	if len(recent) != 1 || recent[0].Name != agent.EventAgentFunded {
		t.Fatalf("unexpected events %+v", recent)
	}

	rec = f.do(http.MethodGet, "/api/v1/transactions?status=included&sender="+f.owner.Hex(), nil)
	var entries []txpool.Entry
	decode(t, rec, &entries)
	if len(entries) != 3 {
		t.Fatalf("expected 3 included transactions, got %d", len(entries))
	}

	rec = f.do(http.MethodGet, "/api/v1/pool/stats", nil)
	var stats txpool.PoolStats
	decode(t, rec, &stats)
	if stats.Included != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCallSimulatesWithoutCommitting(t *testing.T) {
	f := newFixture(t)
	f.submit(f.signed(0, types.ActionCreateAgent, types.CreateAgentPayload{
		Owner: f.owner, Logic: f.logic["echo"], MetadataURI: "ipfs://echo",
	}))
	f.submit(f.signed(5, types.ActionFund, types.AgentPayload{AgentID: 1}))

	rec := f.do(http.MethodPost, "/api/v1/call", CallRequest{
		From:   f.owner,
		Action: types.MustAction(types.ActionExecute, types.ExecutePayload{AgentID: 1, Data: []byte("ping")}),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("call: %d %s", rec.Code, rec.Body.String())
	}
	var result CallResult
	decode(t, rec, &result)
	if string(result.ReturnData) != "ping" {
		t.Fatalf("unexpected return data %q", result.ReturnData)
	}
	if f.ledger.Head().Height != 2 {
		t.Fatalf("call must not produce a block")
	}

	rec = f.do(http.MethodPost, "/api/v1/call", CallRequest{
		From:   common.HexToAddress("0xdead"),
		Value:  (*hexutil.Big)(big.NewInt(1)),
		Action: types.MustAction(types.ActionWithdraw, types.WithdrawPayload{AgentID: 1, Amount: (*hexutil.Big)(big.NewInt(1))}),
	})
	expectError(t, rec, http.StatusBadRequest, string(types.CodeInvalidAmount))
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)

	expectError(t, f.do(http.MethodGet, "/api/v1/agents/abc", nil), http.StatusBadRequest, "INVALID_ARGUMENT")
	expectError(t, f.do(http.MethodGet, "/api/v1/agents/9", nil), http.StatusNotFound, string(types.CodeNotFound))
	expectError(t, f.do(http.MethodGet, "/api/v1/accounts/nothex", nil), http.StatusBadRequest, "INVALID_ARGUMENT")
	expectError(t, f.do(http.MethodGet, "/api/v1/transactions/0x1234", nil), http.StatusBadRequest, "INVALID_ARGUMENT")
	expectError(t, f.do(http.MethodGet, "/api/v1/transactions/"+common.Hash{0x01}.Hex(), nil), http.StatusNotFound, string(txpool.CodeEntryNotFound))
	expectError(t, f.do(http.MethodGet, "/api/v1/transactions?status=bogus", nil), http.StatusBadRequest, "INVALID_ARGUMENT")

	unsigned := types.NewTransaction(testChainID, 0, nil, types.MustAction(types.ActionPause, types.AgentPayload{AgentID: 1}))
	expectError(t, f.do(http.MethodPost, "/api/v1/transactions", unsigned), http.StatusBadRequest, string(types.CodeInvalidSignature))

	f.submit(f.signed(0, types.ActionSetGlobalPause, types.GlobalPausePayload{Paused: true}))
	f.nonce = 0
	stale := f.signed(0, types.ActionSetGlobalPause, types.GlobalPausePayload{Paused: false})
	expectError(t, f.do(http.MethodPost, "/api/v1/transactions", stale), http.StatusConflict, string(types.CodeNonceTooLow))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", strings.NewReader(`{"bogus":1}`))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	expectError(t, rec, http.StatusBadRequest, "INVALID_ARGUMENT")
}

func TestFailedExecutionIsStillIncluded(t *testing.T) {
	f := newFixture(t)
	f.submit(f.signed(0, types.ActionCreateAgent, types.CreateAgentPayload{
		Owner: f.owner, Logic: f.logic["counter"], MetadataURI: "ipfs://x",
	}))
	rec := f.do(http.MethodPost, "/api/v1/transactions?wait=true", f.signed(0, types.ActionExecute, types.ExecutePayload{AgentID: 1}))
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	var entry txpool.Entry
	decode(t, rec, &entry)
	if entry.Status != txpool.StatusIncluded || entry.Receipt.Succeeded() || entry.Receipt.ErrorCode != string(types.CodeInsufficientFunds) {
		t.Fatalf("expected failed receipt, got %+v", entry.Receipt)
	}
}

func TestRequestIDAndOperationalRoutes(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "fixed-id")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get(requestIDHeader) != "fixed-id" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Header().Get(requestIDHeader))
	}

	rec = f.do(http.MethodGet, "/api/v1/status", nil)
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("request id should be generated")
	}

	rec = f.do(http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("metrics endpoint should expose request counters")
	}

	if rec := f.do(http.MethodDelete, "/api/v1/status", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestServerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := NewServer("127.0.0.1:0", nil, nil)
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func TestEventStreamPushesCommittedEvents(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/stream?name=" + agent.EventAgentFunded
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{requestIDHeader: {"stream-id"}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if got := resp.Header.Get(requestIDHeader); got != "stream-id" {
		t.Fatalf("handshake response should echo the request id, got %q", got)
	}

	f.submit(f.signed(0, types.ActionCreateAgent, types.CreateAgentPayload{
		Owner: f.owner, Logic: f.logic["echo"], MetadataURI: "ipfs://agent",
	}))
	f.submit(f.signed(25, types.ActionFund, types.AgentPayload{AgentID: 1}))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Name != agent.EventAgentFunded || ev.BlockNumber != 2 {
		t.Fatalf("unexpected streamed event %+v", ev)
	}
}

func TestEventStreamRequiresFeed(t *testing.T) {
	server := NewServer(":0", nil, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events/stream", nil))
	expectError(t, rec, http.StatusServiceUnavailable, "INITIALIZATION_FAILURE")
}

// Package agentnft is a Go client for the AgentNFT node HTTP API. It builds
// and signs transactions locally, submits them to the node's pool and reads
// agent, account and chain state.
package agentnft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"AgentNFT-Chain/internal/types"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// DefaultPollInterval is the receipt polling interval of WaitForReceipt.
const DefaultPollInterval = 250 * time.Millisecond

// Pool entry statuses reported by the node.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusIncluded = "included"
	StatusFailed   = "failed"
)

// Client wraps the HTTP interactions with an AgentNFT node.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// TransactionView is the pool entry returned for a submitted transaction.
type TransactionView struct {
	ID         string             `json:"id"`
	Sender     string             `json:"sender"`
	Nonce      uint64             `json:"nonce"`
	Kind       string             `json:"kind"`
	Tx         *types.Transaction `json:"tx"`
	Status     string             `json:"status"`
	Attempts   int                `json:"attempts"`
	MaxRetries int                `json:"max_retries"`
	LastError  string             `json:"last_error,omitempty"`
	ErrorCode  string             `json:"error_code,omitempty"`
	Receipt    *types.Receipt     `json:"receipt,omitempty"`
	CreatedAt  int64              `json:"created_at"`
	UpdatedAt  int64              `json:"updated_at"`
}

// Done reports whether the node will not process the entry again.
func (v TransactionView) Done() bool {
	switch v.Status {
	case StatusIncluded:
		return true
	case StatusFailed:
		return v.Attempts >= v.MaxRetries
	default:
		return false
	}
}

// PoolStats summarises the node's transaction pool.
type PoolStats struct {
	Total           int64 `json:"total"`
	Pending         int64 `json:"pending"`
	Running         int64 `json:"running"`
	Included        int64 `json:"included"`
	Failed          int64 `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at"`
	NewestUpdatedAt int64 `json:"newest_updated_at"`
}

// Agent is the full view of one agent.
type Agent struct {
	ID       uint64                 `json:"id"`
	State    *types.AgentState      `json:"state"`
	Metadata types.ExtendedMetadata `json:"metadata"`
	URI      string                 `json:"uri"`
	Approved common.Address         `json:"approved"`
}

// Account is the native balance, nonce and agent count of an address.
type Account struct {
	Address common.Address `json:"address"`
	Balance *big.Int       `json:"balance"`
	Nonce   uint64         `json:"nonce"`
	Agents  uint64         `json:"agents"`
}

// LogicModule is a deployed logic address.
type LogicModule struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
}

// ChainStatus describes the node's chain head.
type ChainStatus struct {
	ChainID      uint64         `json:"chainId"`
	Height       uint64         `json:"height"`
	Timestamp    uint64         `json:"timestamp"`
	Token        common.Address `json:"token"`
	Governance   common.Address `json:"governance"`
	GlobalPaused bool           `json:"globalPaused"`
	TotalSupply  uint64         `json:"totalSupply"`
	Logic        []LogicModule  `json:"logic"`
}

// Event is a decoded token event.
type Event struct {
	Name        string         `json:"name,omitempty"`
	Address     common.Address `json:"address"`
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
	Index       uint           `json:"logIndex"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	Args        map[string]any `json:"args,omitempty"`
}

// CallResult is the outcome of a simulated action.
type CallResult struct {
	ReturnData hexutil.Bytes `json:"returnData"`
	GasUsed    uint64        `json:"gasUsed"`
}

// ListFilter narrows ListTransactions.
type ListFilter struct {
	Statuses  []string
	Sender    common.Address
	Kind      string
	Limit     int
	Offset    int
	Ascending bool
}

// APIError represents a failed request. Code is the node's stable error code.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentnft api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentnft api error (%d): %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewClient instantiates a client for the node at rawURL. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitTransaction sends a signed transaction to the pool. With wait set the
// node holds the request until the transaction is done or its wait timeout
// expires.
func (c *Client) SubmitTransaction(ctx context.Context, tx *types.Transaction, wait bool) (TransactionView, error) {
	if tx == nil {
		return TransactionView{}, errors.New("agentnft: transaction is nil")
	}
	var query url.Values
	if wait {
		query = url.Values{"wait": {"true"}}
	}
	var view TransactionView
	if err := c.post(ctx, "/api/v1/transactions", query, tx, &view); err != nil {
		return TransactionView{}, err
	}
	return view, nil
}

// Transaction fetches a pool entry by transaction hash.
func (c *Client) Transaction(ctx context.Context, id common.Hash) (TransactionView, error) {
	var view TransactionView
	if err := c.get(ctx, "/api/v1/transactions/"+id.Hex(), nil, &view); err != nil {
		return TransactionView{}, err
	}
	return view, nil
}

// WaitForReceipt polls the entry until it is done and returns its receipt.
// A transaction that was rejected without landing returns an APIError built
// from the entry's error code.
func (c *Client) WaitForReceipt(ctx context.Context, id common.Hash, interval time.Duration) (*types.Receipt, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		view, err := c.Transaction(ctx, id)
		if err != nil {
			return nil, err
		}
		if view.Done() {
			if view.Receipt != nil {
				return view.Receipt, nil
			}
			return nil, &APIError{StatusCode: http.StatusOK, Code: view.ErrorCode, Message: view.LastError}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListTransactions lists pool entries.
func (c *Client) ListTransactions(ctx context.Context, filter ListFilter) ([]TransactionView, error) {
	query := url.Values{}
	if len(filter.Statuses) > 0 {
		query.Set("status", strings.Join(filter.Statuses, ","))
	}
	if filter.Sender != (common.Address{}) {
		query.Set("sender", filter.Sender.Hex())
	}
	if filter.Kind != "" {
		query.Set("kind", filter.Kind)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}
	if filter.Ascending {
		query.Set("order", "asc")
	}
	var out []TransactionView
	if err := c.get(ctx, "/api/v1/transactions", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PoolStats returns pool counters.
func (c *Client) PoolStats(ctx context.Context) (PoolStats, error) {
	var stats PoolStats
	err := c.get(ctx, "/api/v1/pool/stats", nil, &stats)
	return stats, err
}

// Agent returns the state, metadata and approval of agent id.
func (c *Client) Agent(ctx context.Context, id uint64) (Agent, error) {
	var agent Agent
	err := c.get(ctx, "/api/v1/agents/"+strconv.FormatUint(id, 10), nil, &agent)
	return agent, err
}

// Metadata returns the extended metadata of agent id.
func (c *Client) Metadata(ctx context.Context, id uint64) (types.ExtendedMetadata, error) {
	var md types.ExtendedMetadata
	err := c.get(ctx, "/api/v1/agents/"+strconv.FormatUint(id, 10)+"/metadata", nil, &md)
	return md, err
}

// Storage reads one slot of the agent's logic storage.
func (c *Client) Storage(ctx context.Context, id uint64, key common.Hash) (common.Hash, error) {
	var out struct {
		Value common.Hash `json:"value"`
	}
	endpoint := "/api/v1/agents/" + strconv.FormatUint(id, 10) + "/storage/" + key.Hex()
	if err := c.get(ctx, endpoint, nil, &out); err != nil {
		return common.Hash{}, err
	}
	return out.Value, nil
}

// Account returns the native balance and nonce of addr.
func (c *Client) Account(ctx context.Context, addr common.Address) (Account, error) {
	var acct Account
	err := c.get(ctx, "/api/v1/accounts/"+addr.Hex(), nil, &acct)
	return acct, err
}

// Status returns the chain head.
func (c *Client) Status(ctx context.Context) (ChainStatus, error) {
	var status ChainStatus
	err := c.get(ctx, "/api/v1/status", nil, &status)
	return status, err
}

// Call simulates action as from without committing it.
func (c *Client) Call(ctx context.Context, from common.Address, value *big.Int, action types.Action) (CallResult, error) {
	body := struct {
		From   common.Address `json:"from"`
		Value  *hexutil.Big   `json:"value,omitempty"`
		Action types.Action   `json:"action"`
	}{From: from, Action: action}
	if value != nil {
		body.Value = (*hexutil.Big)(value)
	}
	var result CallResult
	err := c.post(ctx, "/api/v1/call", nil, body, &result)
	return result, err
}

// Events returns the most recent decoded events, optionally filtered by name.
func (c *Client) Events(ctx context.Context, limit int, name string) ([]Event, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if name != "" {
		query.Set("name", name)
	}
	var out []Event
	if err := c.get(ctx, "/api/v1/events", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, query url.Values, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, query, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "AgentNFT-Chain/internal/errors"
	"AgentNFT-Chain/internal/events"
	"AgentNFT-Chain/internal/txpool"
	"AgentNFT-Chain/internal/types"
)

// maxBodyBytes 限制请求体大小。
const maxBodyBytes = 1 << 20

// AccountView 是账户接口的响应体。
type AccountView struct {
	Address common.Address `json:"address"`
	Balance *big.Int       `json:"balance"`
	Nonce   uint64         `json:"nonce"`
	Agents  uint64         `json:"agents"`
}

// CallRequest 是模拟执行接口的请求体。
type CallRequest struct {
	From   common.Address `json:"from"`
	Value  *hexutil.Big   `json:"value,omitempty"`
	Action types.Action   `json:"action"`
}

// CallResult 是模拟执行接口的响应体。
type CallResult struct {
	ReturnData hexutil.Bytes `json:"returnData"`
	GasUsed    uint64        `json:"gasUsed"`
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "交易池未初始化"))
		return
	}
	var tx types.Transaction
	if err := decodeBody(w, r, &tx); err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.pool.Submit(r.Context(), &tx)
	if err != nil {
		writeError(w, err)
		return
	}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait && !entry.Done() {
		ctx, cancel := context.WithTimeout(r.Context(), s.waitTimeout)
		defer cancel()
		done, err := s.pool.WaitUntilDone(ctx, entry.ID, 20*time.Millisecond)
		switch {
		case err == nil:
			entry = done
		case stdErrors.Is(err, context.DeadlineExceeded) && done != nil:
			entry = done
		default:
			writeError(w, err)
			return
		}
	}
	status := http.StatusAccepted
	if entry.Done() {
		status = http.StatusOK
	}
	writeJSON(w, status, entry)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "交易池未初始化"))
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.pool.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTransactionDetail(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "交易池未初始化"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if len(id) != 66 || !strings.HasPrefix(id, "0x") {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "交易 ID 必须是 32 字节十六进制哈希"))
		return
	}
	entry, err := s.pool.Get(r.Context(), common.HexToHash(id).Hex())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "交易池未初始化"))
		return
	}
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.pool.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := s.chain.Agent(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAgentMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	md, err := s.chain.Metadata(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (s *Server) handleAgentStorage(w http.ResponseWriter, r *http.Request) {
	id, err := agentID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	raw, err := hexutil.Decode(r.PathValue("key"))
	if err != nil || len(raw) > common.HashLength {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "存储键必须是至多 32 字节的十六进制"))
		return
	}
	value, err := s.chain.Storage(id, common.BytesToHash(raw))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]common.Hash{"key": common.BytesToHash(raw), "value": value})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "地址格式错误"))
		return
	}
	addr := common.HexToAddress(raw)
	account, holdings := s.chain.Account(addr)
	writeJSON(w, http.StatusOK, AccountView{
		Address: addr,
		Balance: account.Balance,
		Nonce:   account.Nonce,
		Agents:  holdings,
	})
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	var value *big.Int
	if req.Value != nil {
		value = req.Value.ToInt()
	}
	ret, gas, err := s.chain.Call(req.From, value, req.Action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CallResult{ReturnData: ret, GasUsed: gas})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	recent := []*events.Event{}
	if s.events != nil {
		recent = s.events.Recent(limit)
	}
	if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
		filtered := make([]*events.Event, 0, len(recent))
		for _, ev := range recent {
			if ev.Name == name {
				filtered = append(filtered, ev)
			}
		}
		recent = filtered
	}
	writeJSON(w, http.StatusOK, recent)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.chain.Status())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func agentID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "代理 ID 必须是正整数")
	}
	return id, nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, name+" 必须是非负整数")
	}
	return v, nil
}

func listOptions(r *http.Request) ([]txpool.ListOption, error) {
	q := r.URL.Query()
	var opts []txpool.ListOption
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		var statuses []txpool.Status
		for _, part := range strings.Split(raw, ",") {
			status := txpool.Status(strings.TrimSpace(part))
			if !txpool.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的交易状态 "+string(status))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, txpool.WithStatuses(statuses...))
	}
	if sender := strings.TrimSpace(q.Get("sender")); sender != "" {
		if !common.IsHexAddress(sender) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "sender 地址格式错误")
		}
		opts = append(opts, txpool.WithSender(sender))
	}
	if kind := strings.TrimSpace(q.Get("kind")); kind != "" {
		opts = append(opts, txpool.WithKind(kind))
	}
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		return nil, err
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		return nil, err
	}
	if q.Get("order") == "asc" {
		opts = append(opts, txpool.WithSortOrder(txpool.SortByUpdatedAsc))
	}
	return append(opts, txpool.WithLimit(limit), txpool.WithOffset(offset)), nil
}

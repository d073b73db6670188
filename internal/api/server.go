package api

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/events"
	"AgentNFT-Chain/internal/ledger"
	"AgentNFT-Chain/internal/observability/metrics"
	"AgentNFT-Chain/internal/txpool"
	"AgentNFT-Chain/internal/types"
	"AgentNFT-Chain/pkg/logger"
)

// Chain 定义了 API 所需的只读账本能力。
type Chain interface {
	Status() ledger.Status
	Agent(id uint64) (*ledger.AgentView, error)
	Metadata(id uint64) (types.ExtendedMetadata, error)
	Storage(id uint64, key common.Hash) (common.Hash, error)
	Account(addr common.Address) (types.Account, uint64)
	Call(from common.Address, value *big.Int, action types.Action) ([]byte, uint64, error)
}

// Option 定义可选的服务配置。
type Option func(*Server)

// WithEventBuffer 指定近期事件缓冲区，未配置时事件接口返回空列表。
func WithEventBuffer(buffer *events.Buffer) Option {
	return func(s *Server) {
		s.events = buffer
	}
}

// WithWaitTimeout 设置提交接口同步等待出块的最长时间。
func WithWaitTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.waitTimeout = timeout
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.logger = log
		}
	}
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr        string
	chain       Chain
	pool        *txpool.Service
	events      *events.Buffer
	feed        *events.Feed
	waitTimeout time.Duration
	logger      *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, chain Chain, pool *txpool.Service, opts ...Option) *Server {
	s := &Server{
		addr:        addr,
		chain:       chain,
		pool:        pool,
		waitTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Handler 返回挂载全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/transactions", s.handleSubmitTransaction)
	s.route(mux, "GET /api/v1/transactions", s.handleListTransactions)
	s.route(mux, "GET /api/v1/transactions/{id}", s.handleTransactionDetail)
	s.route(mux, "GET /api/v1/pool/stats", s.handlePoolStats)
	s.route(mux, "GET /api/v1/agents/{id}", s.handleAgent)
	s.route(mux, "GET /api/v1/agents/{id}/metadata", s.handleAgentMetadata)
	s.route(mux, "GET /api/v1/agents/{id}/storage/{key}", s.handleAgentStorage)
	s.route(mux, "GET /api/v1/accounts/{address}", s.handleAccount)
	s.route(mux, "POST /api/v1/call", s.handleCall)
	s.route(mux, "GET /api/v1/events", s.handleEvents)
	s.route(mux, "GET /api/v1/events/stream", s.handleEventStream)
	s.route(mux, "GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return withRequestID(mux)
}

func (s *Server) route(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, handler))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

package api

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	xerrors "AgentNFT-Chain/internal/errors"
	"AgentNFT-Chain/internal/events"
	"AgentNFT-Chain/internal/observability/metrics"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamBacklog    = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WithEventFeed 启用 WebSocket 事件推送。
func WithEventFeed(feed *events.Feed) Option {
	return func(s *Server) {
		s.feed = feed
	}
}

// handleEventStream 将每次提交产生的事件逐条推送给订阅方，可用 name 参数过滤。
// 订阅方消费过慢时丢弃批次，订阅源不会因此阻塞账本。
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "未启用事件推送"))
		return
	}
	names := map[string]bool{}
	for _, name := range strings.Split(r.URL.Query().Get("name"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			names[name] = true
		}
	}

	incoming := make(chan []*events.Event)
	outbox := make(chan []*events.Event, streamBacklog)
	sub := s.feed.Subscribe(incoming)
	defer sub.Unsubscribe()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case batch := <-incoming:
				select {
				case outbox <- batch:
				default:
					metrics.ObserveStreamDrop()
				}
			case <-done:
				return
			}
		}
	}()

	// 握手完成前已订阅，客户端连上后不会漏掉事件。
	// 握手响应由 websocket 库自行写出，需显式带上请求 ID。
	header := http.Header{}
	if id := w.Header().Get(requestIDHeader); id != "" {
		header.Set(requestIDHeader, id)
	}
	conn, err := upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Warn("WebSocket 升级失败", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	defer metrics.StreamOpened()()

	// 读循环只处理控制帧，连接关闭时退出。
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case batch := <-outbox:
			for _, ev := range batch {
				if len(names) > 0 && !names[ev.Name] {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				if err := conn.WriteJSON(ev); err != nil {
					s.logDisconnect(err)
					return
				}
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				s.logDisconnect(err)
				return
			}
		case <-sub.Err():
			return
		case <-closed:
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) logDisconnect(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
		return
	}
	s.logger.Debug("事件推送连接断开", slog.String("error", err.Error()))
}

// Hijack 让 WebSocket 升级穿透指标记录器。
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("响应不支持 Hijack")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap 供 http.ResponseController 使用。
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

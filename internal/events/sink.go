package events

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/event"
)

// Sink 接收一次提交产生的全部事件。
type Sink interface {
	Publish(ctx context.Context, events []*Event) error
	Close() error
}

// Fanout 将事件同时投递给多个 Sink，单个 Sink 失败不会阻止其他 Sink。
type Fanout struct {
	sinks []Sink
}

// NewFanout 组合多个 Sink，忽略 nil。
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Publish 实现 Sink 接口。
func (f *Fanout) Publish(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 实现 Sink 接口。
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Feed 是进程内订阅源。
type Feed struct {
	feed  event.Feed
	scope event.SubscriptionScope
}

// NewFeed 创建进程内订阅源。
func NewFeed() *Feed { return &Feed{} }

// Subscribe 注册 ch，每次提交会收到一批事件。ch 阻塞会阻塞发布方。
func (f *Feed) Subscribe(ch chan<- []*Event) event.Subscription {
	return f.scope.Track(f.feed.Subscribe(ch))
}

// Publish 实现 Sink 接口。
func (f *Feed) Publish(_ context.Context, events []*Event) error {
	f.feed.Send(events)
	return nil
}

// Close 取消全部订阅。
func (f *Feed) Close() error {
	f.scope.Close()
	return nil
}

// Buffer 保留最近的若干事件，供查询接口读取。
type Buffer struct {
	mu     sync.RWMutex
	size   int
	events []*Event
}

// NewBuffer 创建容量为 size 的缓冲区。
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 256
	}
	return &Buffer{size: size}
}

// Publish 实现 Sink 接口。
func (b *Buffer) Publish(_ context.Context, events []*Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
	if over := len(b.events) - b.size; over > 0 {
		b.events = append([]*Event(nil), b.events[over:]...)
	}
	return nil
}

// Recent 返回最近 limit 个事件，按时间倒序。
func (b *Buffer) Recent(limit int) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.events) {
		limit = len(b.events)
	}
	out := make([]*Event, 0, limit)
	for i := len(b.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.events[i])
	}
	return out
}

// Close 实现 Sink 接口。
func (b *Buffer) Close() error { return nil }

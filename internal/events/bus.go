package events

import (
	"runtime/debug"
	"sync"

	"dex-stream-sol/pkg/logger"
)

// Topic 是单一事件类型的发布/订阅通道。
// 同一 Topic 内按发布顺序同步投递；订阅者 panic 被隔离，不影响其余订阅者。
type Topic[T any] struct {
	mu   sync.RWMutex
	subs []func(T)
}

// Subscribe 注册订阅者。返回取消函数，重复调用取消函数为 no-op。
func (t *Topic[T]) Subscribe(fn func(T)) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := len(t.subs)
	t.subs = append(t.subs, fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if idx < len(t.subs) {
				t.subs[idx] = nil
			}
		})
	}
}

// Publish 依订阅顺序投递事件。fire-and-forget：单个订阅者失败不阻断其它投递。
// 订阅者列表在锁内整体拷贝，取消订阅不会与投递产生未同步的元素读写。
func (t *Topic[T]) Publish(ev T) {
	t.mu.RLock()
	subs := make([]func(T), len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	for _, fn := range subs {
		if fn == nil {
			continue
		}
		safeInvoke(fn, ev)
	}
}

func safeInvoke[T any](fn func(T), ev T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[events] subscriber panic: %+v\nstack: %s", r, debug.Stack())
		}
	}()
	fn(ev)
}

// Bus 聚合全部事件主题。每个主题携带固定 schema，编译期检查。
type Bus struct {
	Transaction  Topic[*ParsedTransaction]
	NewToken     Topic[*TokenEvent]
	Swap         Topic[*SwapEvent]
	Liquidity    Topic[*LiquidityEvent]
	PoolUpdate   Topic[*PoolUpdate]
	Connected    Topic[ConnEvent]
	Disconnected Topic[ConnEvent]
	Error        Topic[ErrorEvent]
}

func NewBus() *Bus {
	return &Bus{}
}

package poolmonitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dex-stream-sol/internal/config"
	"dex-stream-sol/internal/events"
	"dex-stream-sol/internal/logic/stream"
	"dex-stream-sol/internal/types"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResub 可注入错误的 Resubscriber 替身
type fakeResub struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeResub) Resubscribe(*pb.SubscribeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeResub) IsConnected() bool { return true }

func (f *fakeResub) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeRest 内存版池子元数据服务
type fakeRest struct {
	mu    sync.Mutex
	infos map[string]*events.PoolInfo
	err   error
}

func (f *fakeRest) GetPoolInfo(_ context.Context, address string) (*events.PoolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[address]
	if !ok {
		return nil, nil
	}
	clone := *info
	return &clone, nil
}

func (f *fakeRest) GetPoolsByToken(context.Context, string) ([]*events.PoolInfo, error) {
	return nil, nil
}

// fakeStore 记录每次 Save 的内存持久化替身
type fakeStore struct {
	mu      sync.Mutex
	initial []string
	saved   [][]string
}

func (f *fakeStore) Load(context.Context) ([]string, error) { return f.initial, nil }

func (f *fakeStore) Save(_ context.Context, addrs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, addrs)
	return nil
}

func testPoolAddr(b byte) string {
	var pk types.Pubkey
	pk[0] = b
	return pk.String()
}

// slowDebounce 让去抖定时器在测试期间不触发，重订阅路径直接调 fireResubscribe
const slowDebounceMs = 60_000

func TestHasPoolChanged(t *testing.T) {
	base := &events.PoolInfo{BaseReserve: 1_000, QuoteReserve: 2_000}

	same := &events.PoolInfo{BaseReserve: 1_000, QuoteReserve: 2_000}
	assert.False(t, HasPoolChanged(base, same))

	// 1 个最小单位的差异也算变化：整数精确比较，不做浮点近似
	assert.True(t, HasPoolChanged(base, &events.PoolInfo{BaseReserve: 1_001, QuoteReserve: 2_000}))
	assert.True(t, HasPoolChanged(base, &events.PoolInfo{BaseReserve: 1_000, QuoteReserve: 1_999}))
}

func TestComputeChanges(t *testing.T) {
	t.Run("normal case", func(t *testing.T) {
		prev := &events.PoolInfo{BaseReserve: 1_000, QuoteReserve: 2_000}
		cur := &events.PoolInfo{BaseReserve: 1_000, QuoteReserve: 2_200}

		price, liquidity := ComputeChanges(prev, cur)
		assert.InDelta(t, 10.0, price, 1e-9)
		assert.InDelta(t, 10.0, liquidity, 1e-9)
	})

	t.Run("zero previous reserves report zero", func(t *testing.T) {
		prev := &events.PoolInfo{}
		cur := &events.PoolInfo{BaseReserve: 500, QuoteReserve: 500}

		price, liquidity := ComputeChanges(prev, cur)
		assert.Zero(t, price)
		assert.Zero(t, liquidity)
	})

	t.Run("zero current base reports zero price change", func(t *testing.T) {
		prev := &events.PoolInfo{BaseReserve: 1_000, QuoteReserve: 2_000}
		cur := &events.PoolInfo{BaseReserve: 0, QuoteReserve: 1_000}

		price, liquidity := ComputeChanges(prev, cur)
		assert.Zero(t, price)
		assert.InDelta(t, -50.0, liquidity, 1e-9)
	})
}

func TestMonitorModeSelection(t *testing.T) {
	cases := []struct {
		name     string
		cfg      config.MonitorConfig
		resub    Resubscriber
		rest     PoolInfoClient
		wantMode events.MonitorMode
	}{
		{"grpc and rest", config.MonitorConfig{EnableGrpc: true, EnablePolling: true}, &fakeResub{}, &fakeRest{}, events.ModeHybrid},
		{"grpc only", config.MonitorConfig{EnableGrpc: true, EnablePolling: true}, &fakeResub{}, nil, events.ModeGrpc},
		{"rest only", config.MonitorConfig{EnableGrpc: true, EnablePolling: true}, nil, &fakeRest{}, events.ModePolling},
		{"no sources with fallback", config.MonitorConfig{PollingFallback: true}, nil, nil, events.ModePolling},
		{"no sources", config.MonitorConfig{}, nil, nil, events.ModeDisabled},
		{"grpc source but disabled by config", config.MonitorConfig{EnablePolling: true}, &fakeResub{}, nil, events.ModeDisabled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMonitor(tc.cfg, config.PoolServiceConfig{}, events.NewBus(), tc.resub, tc.rest, nil)
			require.NoError(t, m.Start(context.Background()))
			defer m.Stop()

			assert.Equal(t, tc.wantMode, m.Status().Mode)
			assert.Error(t, m.Start(context.Background())) // 不可重复启动
		})
	}
}

func TestMonitorPollingFallbackWithoutSources(t *testing.T) {
	// 既没有实时通道也没有 REST：fallback 允许进入 polling，空转但不崩
	m := NewMonitor(config.MonitorConfig{PollingFallback: true}, config.PoolServiceConfig{}, events.NewBus(), nil, nil, nil)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.True(t, m.IsEffectivelyDisabled())

	status := m.Status()
	assert.Equal(t, events.ModePolling, status.Mode)
	assert.True(t, status.IsHealthy) // 没有池子时视为健康

	require.NoError(t, m.AddPool(context.Background(), testPoolAddr(0x42)))
	assert.Equal(t, 1, m.PoolCount())

	// 有池子但从未产生更新：不健康
	assert.False(t, m.Status().IsHealthy)
}

func TestMonitorAddPoolValidation(t *testing.T) {
	m := NewMonitor(config.MonitorConfig{PollingFallback: true}, config.PoolServiceConfig{}, events.NewBus(), nil, nil, nil)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.Error(t, m.AddPool(context.Background(), "not-base58-0OIl"))
	assert.Error(t, m.AddPool(context.Background(), ""))
	assert.Equal(t, 0, m.PoolCount())
}

func TestMonitorHybridDegradation(t *testing.T) {
	resub := &fakeResub{err: errors.New("stream gone")}
	rest := &fakeRest{infos: map[string]*events.PoolInfo{}}

	m := NewMonitor(
		config.MonitorConfig{EnableGrpc: true, EnablePolling: true, DebounceMs: slowDebounceMs},
		config.PoolServiceConfig{PollIntervalS: 3600},
		events.NewBus(), resub, rest, nil,
	)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.NoError(t, m.AddPool(context.Background(), testPoolAddr(0x42)))
	m.fireResubscribe([]string{testPoolAddr(0x42)})

	assert.Equal(t, 1, resub.callCount())

	// 实时通道失败：错误计数上升，模式标签保持 hybrid，轮询兜底
	status := m.Status()
	assert.Equal(t, events.ModeHybrid, status.Mode)
	assert.GreaterOrEqual(t, status.ErrorCount, uint64(1))
}

func TestMonitorConcurrentStartStop(t *testing.T) {
	// Start 的轮询启动与 Stop 并发执行不得产生未加锁的状态写
	for i := 0; i < 20; i++ {
		m := NewMonitor(config.MonitorConfig{PollingFallback: true}, config.PoolServiceConfig{}, events.NewBus(), nil, nil, nil)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			m.Stop()
		}()
		wg.Wait()
		m.Stop() // Stop 先于 Start 完成时的兜底清理
	}
}

func TestMonitorTerminalStreamErrorStartsPolling(t *testing.T) {
	bus := events.NewBus()
	rest := &fakeRest{infos: map[string]*events.PoolInfo{}}

	// grpc 模式：REST 客户端可用但未启用轮询
	m := NewMonitor(
		config.MonitorConfig{EnableGrpc: true, DebounceMs: slowDebounceMs},
		config.PoolServiceConfig{PollIntervalS: 3600},
		bus, &fakeResub{}, rest, nil,
	)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Equal(t, events.ModeGrpc, m.Status().Mode)

	pollRunning := func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.pollRunning
	}

	// 非终止错误与其它组件的错误不触发兜底
	bus.Error.Publish(events.ErrorEvent{Component: events.ComponentStream, Terminal: false})
	bus.Error.Publish(events.ErrorEvent{Component: "kafka", Terminal: true})
	assert.False(t, pollRunning())

	// 重连预算耗尽：流组件上报终止错误，监控退化为轮询
	bus.Error.Publish(events.ErrorEvent{
		Component: events.ComponentStream,
		Err:       stream.ErrReconnectBudgetExhausted,
		Terminal:  true,
	})
	assert.True(t, pollRunning())

	status := m.Status()
	assert.Equal(t, events.ModeGrpc, status.Mode) // 模式标签保持不变
	assert.GreaterOrEqual(t, status.ErrorCount, uint64(1))

	// Stop 之后取消订阅：再来终止错误不会重启轮询
	m.Stop()
	bus.Error.Publish(events.ErrorEvent{Component: events.ComponentStream, Terminal: true})
	assert.False(t, pollRunning())
}

func TestMonitorAccountUpdateEmitsPoolUpdate(t *testing.T) {
	bus := events.NewBus()
	var updates []*events.PoolUpdate
	bus.PoolUpdate.Subscribe(func(u *events.PoolUpdate) { updates = append(updates, u) })

	m := NewMonitor(
		config.MonitorConfig{EnableGrpc: true, DebounceMs: slowDebounceMs},
		config.PoolServiceConfig{},
		bus, &fakeResub{}, nil, nil,
	)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	addr := testPoolAddr(0x42)
	require.NoError(t, m.AddPool(context.Background(), addr))

	pk, err := types.TryPubkeyFromBase58(addr)
	require.NoError(t, err)

	// 无 REST 时用账户 lamports 做最小刷新：0 → 5000 视为储备变化
	m.HandleAccountUpdate(&pb.SubscribeUpdateAccount{
		Slot:    9,
		Account: &pb.SubscribeUpdateAccountInfo{Pubkey: pk[:], Lamports: 5_000},
	})
	require.Len(t, updates, 1)
	assert.Equal(t, pk, updates[0].PoolAddress)
	assert.Equal(t, uint64(9), updates[0].Slot)
	assert.Equal(t, uint64(5_000), updates[0].Current.QuoteReserve)

	// 储备未变：不重复发事件
	m.HandleAccountUpdate(&pb.SubscribeUpdateAccount{
		Slot:    10,
		Account: &pb.SubscribeUpdateAccountInfo{Pubkey: pk[:], Lamports: 5_000},
	})
	assert.Len(t, updates, 1)

	// 未注册的账户忽略
	other, err := types.TryPubkeyFromBase58(testPoolAddr(0x77))
	require.NoError(t, err)
	m.HandleAccountUpdate(&pb.SubscribeUpdateAccount{
		Account: &pb.SubscribeUpdateAccountInfo{Pubkey: other[:], Lamports: 1},
	})
	assert.Len(t, updates, 1)

	// 产生过更新后健康状态恢复
	assert.True(t, m.Status().IsHealthy)
}

func TestMonitorRestResolvesPoolInfo(t *testing.T) {
	addr := testPoolAddr(0x42)
	pk, err := types.TryPubkeyFromBase58(addr)
	require.NoError(t, err)

	rest := &fakeRest{infos: map[string]*events.PoolInfo{
		addr: {PoolAddress: pk, Dex: "raydium", BaseReserve: 1_000, QuoteReserve: 2_000},
	}}

	m := NewMonitor(
		config.MonitorConfig{EnablePolling: true},
		config.PoolServiceConfig{PollIntervalS: 3600},
		events.NewBus(), nil, rest, nil,
	)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.NoError(t, m.AddPool(context.Background(), addr))

	info, ok := m.reg.Get(addr)
	require.True(t, ok)
	assert.Equal(t, "raydium", info.Dex)
	assert.Equal(t, uint64(2_000), info.QuoteReserve)
}

func TestMonitorRestoreAndPersist(t *testing.T) {
	restored := testPoolAddr(0x42)
	store := &fakeStore{initial: []string{restored}}

	m := NewMonitor(config.MonitorConfig{PollingFallback: true}, config.PoolServiceConfig{}, events.NewBus(), nil, nil, store)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	// 启动时恢复持久化集合
	assert.Equal(t, 1, m.PoolCount())

	added := testPoolAddr(0x43)
	require.NoError(t, m.AddPool(context.Background(), added))
	m.RemovePool(context.Background(), restored)

	assert.Equal(t, 1, m.PoolCount())

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.saved)
	assert.Equal(t, []string{added}, store.saved[len(store.saved)-1])
}

func TestMonitorStopIsTerminal(t *testing.T) {
	m := NewMonitor(config.MonitorConfig{PollingFallback: true}, config.PoolServiceConfig{}, events.NewBus(), nil, nil, nil)
	require.NoError(t, m.Start(context.Background()))

	m.Stop()
	m.Stop() // 幂等

	assert.Equal(t, events.ModeDisabled, m.Status().Mode)
	assert.True(t, m.Status().IsHealthy)

	// Stop 后 AddPool 不再安排重订阅，但也不报错
	require.NoError(t, m.AddPool(context.Background(), testPoolAddr(0x42)))
	time.Sleep(50 * time.Millisecond)
}

package poolmonitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dex-stream-sol/internal/config"
	"dex-stream-sol/internal/consts"
	"dex-stream-sol/internal/events"
	"dex-stream-sol/internal/logic/stream"
	"dex-stream-sol/internal/types"
	"dex-stream-sol/pkg/logger"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

const (
	defaultPollInterval = 30 * time.Second

	// 健康判定：最近更新在 5 分钟内且错误数低于 10
	healthyUpdateWindow = 5 * time.Minute
	healthyErrorLimit   = 10
)

// PoolInfoClient 池子元数据 REST 查询（幂等读，重试在实现侧）。
// 未找到返回 (nil, nil)。
type PoolInfoClient interface {
	GetPoolInfo(ctx context.Context, address string) (*events.PoolInfo, error)
	GetPoolsByToken(ctx context.Context, mint string) ([]*events.PoolInfo, error)
}

// Resubscriber 是 Monitor 依赖的实时通道侧面：替换订阅账户列表。
type Resubscriber interface {
	Resubscribe(req *pb.SubscribeRequest) error
	IsConnected() bool
}

// ActivePoolStore 活跃池子集合的键值持久化（get/set 固定 key 下的列表）。
type ActivePoolStore interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, addresses []string) error
}

// Monitor 维护动态池子注册表：能实时订阅就订阅，不能就退化为轮询。
// 模式标签与实际行为可以分离（hybrid 下实时断掉仍标 hybrid，见 Status）。
type Monitor struct {
	cfg   config.MonitorConfig
	bus   *events.Bus
	reg   *Registry
	deb   *Debouncer
	resub Resubscriber    // 可为 nil：无实时通道
	rest  PoolInfoClient  // 可为 nil：无 REST 服务
	store ActivePoolStore // 可为 nil：不持久化

	restTimeout  time.Duration
	pollInterval time.Duration

	mu          sync.Mutex
	mode        events.MonitorMode
	started     bool
	stopping    bool
	pollCancel  context.CancelFunc
	pollRunning bool
	errCancel   func() // 实时通道终止错误订阅的取消函数

	stateMu        sync.Mutex
	lastUpdateTime time.Time
	errorCount     uint64
	updateCount    uint64
}

func NewMonitor(
	cfg config.MonitorConfig,
	poolCfg config.PoolServiceConfig,
	bus *events.Bus,
	resub Resubscriber,
	rest PoolInfoClient,
	store ActivePoolStore,
) *Monitor {
	m := &Monitor{
		cfg:          cfg,
		bus:          bus,
		reg:          NewRegistry(),
		resub:        resub,
		rest:         rest,
		store:        store,
		mode:         events.ModeDisabled,
		restTimeout:  time.Duration(poolCfg.TimeoutMs) * time.Millisecond,
		pollInterval: time.Duration(poolCfg.PollIntervalS) * time.Second,
	}
	if m.restTimeout <= 0 {
		m.restTimeout = 3 * time.Second
	}
	if m.pollInterval <= 0 {
		m.pollInterval = defaultPollInterval
	}
	m.deb = NewDebouncer(time.Duration(cfg.DebounceMs)*time.Millisecond, m.fireResubscribe)
	return m
}

// Start 根据配置与可用依赖确定运行模式并启动对应通道。
// 返回时后台任务已就绪；不会阻塞等待任何流结束。
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("poolmonitor: already started")
	}
	m.started = true

	hasGrpc := m.resub != nil && m.cfg.EnableGrpc
	hasRest := m.rest != nil && m.cfg.EnablePolling

	switch {
	case hasGrpc && hasRest:
		m.mode = events.ModeHybrid
	case hasGrpc:
		m.mode = events.ModeGrpc
	case hasRest:
		m.mode = events.ModePolling
	case m.cfg.PollingFallback:
		// 没有任何数据源也允许进入 polling（尽力而为，可能拿不到数据）
		m.mode = events.ModePolling
	default:
		m.mode = events.ModeDisabled
	}
	mode := m.mode
	m.mu.Unlock()

	logger.Infof("[poolmonitor] starting, mode=%s", mode)

	if mode == events.ModeDisabled {
		return nil
	}

	// 实时通道的终止错误（重连预算耗尽）同样要触发轮询兜底，
	// 不能只覆盖重订阅失败这一条路径
	if mode == events.ModeGrpc || mode == events.ModeHybrid {
		cancel := m.bus.Error.Subscribe(func(ev events.ErrorEvent) {
			if ev.Terminal && ev.Component == events.ComponentStream {
				m.recordError()
				m.onRealtimeFailure()
			}
		})
		m.mu.Lock()
		if m.stopping {
			m.mu.Unlock()
			cancel()
		} else {
			m.errCancel = cancel
			m.mu.Unlock()
		}
	}

	// 恢复持久化的活跃池子集合
	if m.store != nil {
		if addrs, err := m.store.Load(ctx); err != nil {
			logger.Warnf("[poolmonitor] restore active pools failed: %v", err)
		} else {
			for _, addr := range addrs {
				if err := m.AddPool(ctx, addr); err != nil {
					logger.Warnf("[poolmonitor] restore pool %s failed: %v", addr, err)
				}
			}
		}
	}

	if mode == events.ModePolling || mode == events.ModeHybrid {
		m.mu.Lock()
		if !m.stopping {
			m.startPollingLocked()
		}
		m.mu.Unlock()
	}
	return nil
}

// Stop 终止监控：取消在途去抖定时器与轮询循环。不可重启。
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started || m.stopping {
		m.mu.Unlock()
		return
	}
	m.stopping = true
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
	m.pollRunning = false
	m.mode = events.ModeDisabled
	if m.errCancel != nil {
		m.errCancel()
		m.errCancel = nil
	}
	m.mu.Unlock()

	m.deb.Cancel()
	logger.Infof("[poolmonitor] stopped")
}

// IsEffectivelyDisabled 没有任何可用数据源（polling fallback 下可能为 true）
func (m *Monitor) IsEffectivelyDisabled() bool {
	return m.resub == nil && m.rest == nil
}

// AddPool 注册新池子。REST 可用时解析元数据，否则构造以原生 SOL
// 为对手资产的最小记录。grpc/hybrid 模式下安排去抖批量重订阅。
func (m *Monitor) AddPool(ctx context.Context, address string) error {
	if _, err := types.TryPubkeyFromBase58(address); err != nil {
		return fmt.Errorf("poolmonitor: invalid pool address: %w", err)
	}

	info := m.resolvePoolInfo(ctx, address)
	m.reg.Swap(address, info)
	m.persistActivePools(ctx)

	m.mu.Lock()
	mode := m.mode
	stopping := m.stopping
	m.mu.Unlock()

	if stopping {
		return nil
	}
	if mode == events.ModeGrpc || mode == events.ModeHybrid {
		m.deb.Add(address)
	}
	return nil
}

// RemovePool 移除池子；实时订阅列表在下一次重订阅时收敛。
func (m *Monitor) RemovePool(ctx context.Context, address string) {
	m.reg.Remove(address)
	m.persistActivePools(ctx)
}

// PoolCount 当前注册池子数
func (m *Monitor) PoolCount() int {
	return m.reg.Count()
}

// resolvePoolInfo REST 失败按"无数据"处理，落到最小记录，不让错误外溢。
func (m *Monitor) resolvePoolInfo(ctx context.Context, address string) *events.PoolInfo {
	if m.rest != nil {
		reqCtx, cancel := context.WithTimeout(ctx, m.restTimeout)
		info, err := m.rest.GetPoolInfo(reqCtx, address)
		cancel()
		if err != nil {
			m.recordError()
			logger.Warnf("[poolmonitor] getPoolInfo %s failed: %v", address, err)
		} else if info != nil {
			info.UpdatedAt = time.Now()
			return info
		}
	}

	pk, _ := types.TryPubkeyFromBase58(address)
	return &events.PoolInfo{
		PoolAddress: pk,
		QuoteMint:   consts.WSOLMint,
		UpdatedAt:   time.Now(),
	}
}

// fireResubscribe 去抖窗口到期：清空 pending，用完整账户列表重开实时订阅。
func (m *Monitor) fireResubscribe(pending []string) {
	m.mu.Lock()
	if m.stopping || m.resub == nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	addrs := m.reg.Addresses()
	logger.Infof("[poolmonitor] resubscribing: %d pending collapsed, %d accounts total", len(pending), len(addrs))

	req := stream.BuildSubscribeRequest(stream.SubscriptionSpec{
		Programs:      consts.PlatformProgramStrs(),
		Accounts:      addrs,
		Commitment:    pb.CommitmentLevel_CONFIRMED,
		ExcludeVote:   true,
		ExcludeFailed: true,
	})
	if err := m.resub.Resubscribe(req); err != nil {
		m.recordError()
		logger.Errorf("[poolmonitor] resubscribe failed: %v", err)
		m.onRealtimeFailure()
	}
}

// onRealtimeFailure 实时通道失败：没有轮询在跑就补一个，模式标签保持不变。
// 状态机不允许"标着 grpc 却什么都不做"的不一致态。
func (m *Monitor) onRealtimeFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping || m.pollRunning {
		return
	}
	logger.Warnf("[poolmonitor] realtime channel down, falling back to polling (mode label stays %s)", m.mode)
	m.startPollingLocked()
}

// startPollingLocked 调用方必须持有 m.mu
func (m *Monitor) startPollingLocked() {
	if m.pollRunning {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.pollCancel = cancel
	m.pollRunning = true
	go m.pollLoop(ctx)
}

func (m *Monitor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshAll(ctx)
		}
	}
}

// refreshAll 轮询刷新全部池子。结果在 stopping 后丢弃。
func (m *Monitor) refreshAll(ctx context.Context) {
	if m.rest == nil {
		return // fallback polling 无数据源，空转
	}
	for _, addr := range m.reg.Addresses() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		reqCtx, cancel := context.WithTimeout(ctx, m.restTimeout)
		info, err := m.rest.GetPoolInfo(reqCtx, addr)
		cancel()
		if err != nil {
			m.recordError()
			logger.Warnf("[poolmonitor] poll %s failed: %v", addr, err)
			continue
		}
		if info == nil {
			continue
		}

		m.mu.Lock()
		stopping := m.stopping
		m.mu.Unlock()
		if stopping {
			return
		}
		m.applyUpdate(info, 0)
	}
}

// HandleAccountUpdate 实时账户变更回调。
// REST 可用时取完整元数据；否则用账户 lamports 作为 quote 储备的最小刷新。
func (m *Monitor) HandleAccountUpdate(update *pb.SubscribeUpdateAccount) {
	if update == nil || update.Account == nil {
		return
	}
	pk, err := types.PubkeyFromBytes(update.Account.Pubkey)
	if err != nil {
		return
	}
	address := pk.String()
	if !m.reg.Contains(address) {
		return
	}

	var info *events.PoolInfo
	if m.rest != nil {
		reqCtx, cancel := context.WithTimeout(context.Background(), m.restTimeout)
		info, err = m.rest.GetPoolInfo(reqCtx, address)
		cancel()
		if err != nil {
			m.recordError()
			info = nil
		}
	}
	if info == nil {
		prev, ok := m.reg.Get(address)
		if !ok {
			return
		}
		clone := *prev
		clone.QuoteReserve = update.Account.Lamports
		clone.UpdatedAt = time.Now()
		info = &clone
	}

	m.applyUpdate(info, update.Slot)
}

// applyUpdate 刷新并比较：整条替换注册表记录，变化才发 PoolUpdate。
func (m *Monitor) applyUpdate(info *events.PoolInfo, slot uint64) {
	info.UpdatedAt = time.Now()
	address := info.PoolAddress.String()
	prev := m.reg.Swap(address, info)
	m.recordUpdate()

	// 首次写入没有前值快照，只建立基线，不发 diff 事件
	if prev == nil || !HasPoolChanged(prev, info) {
		return
	}

	priceChange, liquidityChange := ComputeChanges(prev, info)
	m.bus.PoolUpdate.Publish(&events.PoolUpdate{
		PoolAddress:     info.PoolAddress,
		PriceChange:     priceChange,
		LiquidityChange: liquidityChange,
		Current:         *info,
		Previous:        *prev,
		Slot:            slot,
		Timestamp:       time.Now(),
	})
}

// HasPoolChanged 对 raw 整数储备做精确相等比较，不走浮点。
func HasPoolChanged(prev, cur *events.PoolInfo) bool {
	return prev.BaseReserve != cur.BaseReserve || prev.QuoteReserve != cur.QuoteReserve
}

// ComputeChanges 计算价格与流动性变化百分比。
// 前值储备为 0 时一律报 0，避免除零。
func ComputeChanges(prev, cur *events.PoolInfo) (priceChange, liquidityChange float64) {
	if prev.BaseReserve != 0 && prev.QuoteReserve != 0 && cur.BaseReserve != 0 {
		prevPrice := float64(prev.QuoteReserve) / float64(prev.BaseReserve)
		curPrice := float64(cur.QuoteReserve) / float64(cur.BaseReserve)
		priceChange = (curPrice - prevPrice) / prevPrice * 100
	}
	if prev.QuoteReserve != 0 {
		liquidityChange = (float64(cur.QuoteReserve) - float64(prev.QuoteReserve)) / float64(prev.QuoteReserve) * 100
	}
	return priceChange, liquidityChange
}

// Status 按需重算的状态快照，不缓存。
func (m *Monitor) Status() events.MonitoringStatus {
	m.mu.Lock()
	mode := m.mode
	m.mu.Unlock()

	m.stateMu.Lock()
	lastUpdate := m.lastUpdateTime
	errCount := m.errorCount
	m.stateMu.Unlock()

	poolCount := m.reg.Count()

	healthy := mode == events.ModeDisabled ||
		poolCount == 0 ||
		(time.Since(lastUpdate) < healthyUpdateWindow && errCount < healthyErrorLimit)

	return events.MonitoringStatus{
		Mode:           mode,
		IsHealthy:      healthy,
		LastUpdateTime: lastUpdate,
		ErrorCount:     errCount,
		PoolCount:      poolCount,
	}
}

func (m *Monitor) recordUpdate() {
	m.stateMu.Lock()
	m.lastUpdateTime = time.Now()
	m.updateCount++
	m.stateMu.Unlock()
}

func (m *Monitor) recordError() {
	m.stateMu.Lock()
	m.errorCount++
	m.stateMu.Unlock()
}

func (m *Monitor) persistActivePools(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, m.reg.Addresses()); err != nil {
		logger.Warnf("[poolmonitor] persist active pools failed: %v", err)
	}
}

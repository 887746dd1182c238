package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"dex-stream-sol/internal/config"
	"dex-stream-sol/internal/events"
	"dex-stream-sol/pkg/logger"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

const (
	defaultReconnectBaseDelay   = time.Second
	defaultMaxReconnectAttempts = 10
	defaultSendTimeout          = 10 * time.Second
)

// ErrReconnectBudgetExhausted 重连预算耗尽后的终止错误
var ErrReconnectBudgetExhausted = errors.New("stream: reconnect attempts exhausted")

// UpdateHandler 每收到一条 update 调用一次；同一连接内串行执行，保证单连接内有序。
type UpdateHandler func(*pb.SubscribeUpdate)

// ConnectionManager 持有一条 Geyser 订阅会话的完整生命周期：
// 连接、发送订阅请求、迭代推送、断连与指数退避重连。
// 重连计数与连接标记由本结构独占，其它组件只读事件。
type ConnectionManager struct {
	mu         sync.Mutex
	cfg        config.GrpcClientConfig
	bus        *events.Bus
	conn       *grpc.ClientConn
	client     pb.GeyserClient
	stream     pb.Geyser_SubscribeClient
	connCtx    context.Context
	connCancel context.CancelFunc

	stopped   bool
	connected bool

	reconnectAttempts int
	baseDelay         time.Duration
	maxAttempts       int
	sendTimeout       time.Duration

	// 当前订阅请求与回调，重连后用它们恢复订阅
	req     *pb.SubscribeRequest
	handler UpdateHandler

	updatesReceived atomic.Uint64
}

func NewConnectionManager(cfg config.GrpcClientConfig, bus *events.Bus) *ConnectionManager {
	baseDelay := time.Duration(cfg.ReconnectBaseDelayMs) * time.Millisecond
	if baseDelay <= 0 {
		baseDelay = defaultReconnectBaseDelay
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxReconnectAttempts
	}
	sendTimeout := time.Duration(cfg.SendTimeoutSec) * time.Second
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &ConnectionManager{
		cfg:         cfg,
		bus:         bus,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		sendTimeout: sendTimeout,
	}
}

// Connect 建立 gRPC 连接，幂等：已连接时直接返回。
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return errors.New("stream: manager is stopped")
	}
	if m.conn != nil {
		return nil
	}
	if m.cfg.Endpoint == "" || m.cfg.XToken == "" {
		return errors.New("stream: endpoint and x_token are required")
	}
	return m.dialLocked(ctx)
}

// dialLocked 调用方必须持有 m.mu
func (m *ConnectionManager) dialLocked(ctx context.Context) error {
	connectTimeout := time.Duration(m.cfg.ConnectTimeoutSec) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		m.cfg.Endpoint,
		grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{InsecureSkipVerify: true})),
		grpc.WithInitialWindowSize(int32(m.cfg.InitialWindowSize)),
		grpc.WithInitialConnWindowSize(int32(m.cfg.InitialConnWindowSize)),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(m.cfg.MaxCallSendMsgSize),
			grpc.MaxCallRecvMsgSize(m.cfg.MaxCallRecvMsgSize),
		),
		grpc.WithBlock(),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                time.Duration(m.cfg.KeepalivePingIntervalSec) * time.Second,
			Timeout:             time.Duration(m.cfg.KeepalivePingTimeoutSec) * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return fmt.Errorf("stream: dial %s: %w", m.cfg.Endpoint, err)
	}
	m.conn = conn
	m.client = pb.NewGeyserClient(conn)
	return nil
}

// Subscribe 发送订阅请求并启动后台接收循环。
// 请求发出后立即返回，不等待流结束；流内 update 逐条回调 handler。
func (m *ConnectionManager) Subscribe(req *pb.SubscribeRequest, handler UpdateHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return errors.New("stream: manager is stopped")
	}
	if m.conn == nil {
		return errors.New("stream: not connected")
	}
	m.req = req
	m.handler = handler
	return m.openStreamLocked()
}

// Resubscribe 用新的请求替换当前订阅（去抖批量重订阅路径）。
// 关闭旧流并以同一连接重新订阅；handler 不变。
func (m *ConnectionManager) Resubscribe(req *pb.SubscribeRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return errors.New("stream: manager is stopped")
	}
	if m.conn == nil || m.handler == nil {
		return errors.New("stream: no active subscription")
	}
	m.req = req
	return m.openStreamLocked()
}

// openStreamLocked 调用方必须持有 m.mu。取消旧连接 context，开新流。
func (m *ConnectionManager) openStreamLocked() error {
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	m.connCtx, m.connCancel = context.WithCancel(context.Background())

	metaCtx := metadata.NewOutgoingContext(
		m.connCtx,
		metadata.New(map[string]string{"x-token": m.cfg.XToken}),
	)
	stream, err := m.client.Subscribe(metaCtx)
	if err != nil {
		return fmt.Errorf("stream: subscribe: %w", err)
	}
	if err := sendWithTimeout(m.connCtx, stream.Send, m.req, m.sendTimeout); err != nil {
		return fmt.Errorf("stream: send request: %w", err)
	}

	m.stream = stream
	m.connected = true
	m.reconnectAttempts = 0 // 成功建流即清零
	m.bus.Connected.Publish(events.ConnEvent{Endpoint: m.cfg.Endpoint, At: time.Now()})

	go m.pingLoop(m.connCtx, stream)
	go m.recvLoop(m.connCtx, stream)
	return nil
}

// Disconnect 关闭会话，可重复调用。
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	m.connected = false
	if m.connCancel != nil {
		m.connCancel()
		m.connCancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

func (m *ConnectionManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected && !m.stopped
}

// UpdatesReceived 累计收到的 update 数（状态接口用）
func (m *ConnectionManager) UpdatesReceived() uint64 {
	return m.updatesReceived.Load()
}

// recvLoop 串行消费流内 update：一条处理完再读下一条，保持单连接内顺序。
func (m *ConnectionManager) recvLoop(ctx context.Context, stream pb.Geyser_SubscribeClient) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		update, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return // 主动关闭
			}
			if errors.Is(err, io.EOF) {
				logger.Infof("[stream] closed by server (EOF), reconnecting")
			} else {
				logger.Warnf("[stream] recv error: %v, reconnecting", err)
			}
			m.onStreamBroken()
			return
		}

		m.updatesReceived.Add(1)
		if m.handler != nil {
			m.handler(update)
		}
	}
}

// pingLoop 应用层逻辑心跳，与底层 keepalive 互补
func (m *ConnectionManager) pingLoop(ctx context.Context, stream pb.Geyser_SubscribeClient) {
	interval := time.Duration(m.cfg.StreamPingIntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingReq := &pb.SubscribeRequest{Ping: &pb.SubscribeRequestPing{Id: 1}}
			if err := sendWithTimeout(ctx, stream.Send, pingReq, m.sendTimeout); err != nil {
				logger.Warnf("[stream] ping failed: %v", err)
				// 只记录，不触发重连；收流超时由 recvLoop 兜底
			}
		}
	}
}

// onStreamBroken 标记断连并进入退避重连。
// 重连边界不保证顺序：订阅方必须把 disconnected→connected 视为潜在数据缺口。
func (m *ConnectionManager) onStreamBroken() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.mu.Unlock()

	m.bus.Disconnected.Publish(events.ConnEvent{Endpoint: m.cfg.Endpoint, At: time.Now()})
	go m.reconnectLoop()
}

// reconnectLoop 指数退避：delay = base × 2^(attempt-1)，超过预算上报终止错误。
func (m *ConnectionManager) reconnectLoop() {
	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.reconnectAttempts++
		attempt := m.reconnectAttempts
		m.mu.Unlock()

		if attempt > m.maxAttempts {
			logger.Errorf("[stream] reconnect budget exhausted after %d attempts", m.maxAttempts)
			m.bus.Error.Publish(events.ErrorEvent{
				Component: events.ComponentStream,
				Err:       ErrReconnectBudgetExhausted,
				Terminal:  true,
			})
			return
		}

		delay := BackoffDelay(m.baseDelay, attempt)
		logger.Infof("[stream] reconnect attempt %d/%d in %v", attempt, m.maxAttempts, delay)
		time.Sleep(delay)

		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		// 连接可能已不可用，关掉重拨
		if m.conn != nil {
			_ = m.conn.Close()
			m.conn = nil
		}
		err := m.dialLocked(context.Background())
		if err == nil {
			err = m.openStreamLocked()
		}
		m.mu.Unlock()

		if err == nil {
			logger.Infof("[stream] reconnected")
			return
		}
		logger.Warnf("[stream] reconnect failed: %v", err)
	}
}

// BackoffDelay 计算第 attempt 次重连的等待时长（attempt 从 1 开始）。
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20 // 防溢出
	}
	return base << uint(attempt-1)
}

// sendWithTimeout 带超时的流发送。stream.Send 本身可能阻塞在窗口上。
func sendWithTimeout[T any](ctx context.Context, sendFunc func(T) error, req T, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sendFunc(req)
	}()

	select {
	case <-timeoutCtx.Done():
		return timeoutCtx.Err()
	case err := <-done:
		return err
	}
}

package service

import (
	"context"

	"dex-stream-sol/internal/consts"
	"dex-stream-sol/internal/logic/decoder"
	"dex-stream-sol/internal/logic/poolmonitor"
	"dex-stream-sol/internal/logic/stream"
	"dex-stream-sol/internal/svc"
	"dex-stream-sol/pkg/logger"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// StreamService 组装整条管线：gRPC 流 → 解码器 / 池子监控 → 事件总线。
// 实现 go-zero 的 service.Service，由 ServiceGroup 统一启停。
type StreamService struct {
	sc      *svc.ServiceContext
	manager *stream.ConnectionManager
	decoder *decoder.Decoder
	monitor *poolmonitor.Monitor
}

func NewStreamService(sc *svc.ServiceContext) *StreamService {
	s := &StreamService{
		sc:      sc,
		decoder: decoder.NewDecoder(sc.Bus),
	}

	// 实时通道按配置决定是否建立；没有 endpoint 时 Monitor 自行退化
	var resub poolmonitor.Resubscriber
	if sc.Config.Grpc.Endpoint != "" {
		s.manager = stream.NewConnectionManager(sc.Config.Grpc, sc.Bus)
		resub = s.manager
	}

	var rest poolmonitor.PoolInfoClient
	if sc.PoolClient != nil {
		rest = sc.PoolClient
	}
	var store poolmonitor.ActivePoolStore
	if sc.PoolStore != nil {
		store = sc.PoolStore
	}
	s.monitor = poolmonitor.NewMonitor(sc.Config.MonitorConf, sc.Config.PoolServiceConf, sc.Bus, resub, rest, store)
	return s
}

// Monitor 暴露池子监控器（AddPool / RemovePool / Status 的对外入口）
func (s *StreamService) Monitor() *poolmonitor.Monitor {
	return s.monitor
}

// Start 建立连接并发送初始订阅，随后启动池子监控。
// 连接失败直接 panic：启动期的凭证/网络问题重试无意义，快速失败。
func (s *StreamService) Start() {
	ctx := context.Background()

	if s.manager != nil {
		if err := s.manager.Connect(ctx); err != nil {
			logger.Errorf("[service] connect failed: %v", err)
			panic(err)
		}

		req := stream.BuildSubscribeRequest(stream.SubscriptionSpec{
			Programs:      consts.PlatformProgramStrs(),
			Commitment:    stream.ParseCommitment(s.sc.Config.Grpc.Commitment),
			ExcludeVote:   true,
			ExcludeFailed: true,
		})
		if err := s.manager.Subscribe(req, s.handleUpdate); err != nil {
			logger.Errorf("[service] subscribe failed: %v", err)
			panic(err)
		}
	}

	if err := s.monitor.Start(ctx); err != nil {
		logger.Errorf("[service] pool monitor start failed: %v", err)
		panic(err)
	}
}

// Stop 先停监控（取消去抖与轮询），再断流
func (s *StreamService) Stop() {
	s.monitor.Stop()
	if s.manager != nil {
		s.manager.Disconnect()
	}
}

// handleUpdate 按 update 类型分发。同一连接内串行调用，无需加锁。
func (s *StreamService) handleUpdate(update *pb.SubscribeUpdate) {
	switch u := update.GetUpdateOneof().(type) {
	case *pb.SubscribeUpdate_Transaction:
		s.decoder.HandleTransaction(u.Transaction)
	case *pb.SubscribeUpdate_Account:
		s.monitor.HandleAccountUpdate(u.Account)
	case *pb.SubscribeUpdate_Ping, *pb.SubscribeUpdate_Pong:
		// 心跳应答，忽略
	}
}

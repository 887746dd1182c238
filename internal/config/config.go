package config

import (
	"errors"

	"dex-stream-sol/pkg/logger"
)

type LogConfig struct {
	Format   string `yaml:"format"`   // 日志格式，支持 "console" 或 "json"
	LogDir   string `yaml:"log_dir"`  // 日志目录（可为相对路径或绝对路径）
	Level    string `yaml:"level"`    // 日志级别：debug / info / warn / error
	Compress bool   `yaml:"compress"` // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// GrpcClientConfig gRPC 流客户端连接配置
type GrpcClientConfig struct {
	Endpoint string `yaml:"endpoint"` // Geyser gRPC 服务端地址
	XToken   string `yaml:"x_token"`  // x-token 认证

	Commitment string `yaml:"commitment"` // processed / confirmed / finalized

	// 应用级逻辑心跳（ping）配置
	StreamPingIntervalSec int `yaml:"stream_ping_interval_sec"`

	// gRPC Keepalive 底层连接检测配置
	KeepalivePingIntervalSec int `yaml:"keepalive_ping_interval_sec"`
	KeepalivePingTimeoutSec  int `yaml:"keepalive_ping_timeout_sec"`

	// gRPC 窗口大小调优（用于大数据流推送）
	InitialWindowSize     int `yaml:"initial_window_size"`
	InitialConnWindowSize int `yaml:"initial_conn_window_size"`

	// 消息体大小限制
	MaxCallSendMsgSize int `yaml:"max_call_send_msg_size"`
	MaxCallRecvMsgSize int `yaml:"max_call_recv_msg_size"`

	// 超时与重连策略
	ReconnectBaseDelayMs int `yaml:"reconnect_base_delay_ms"` // 指数退避基础间隔（毫秒）
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`  // 超过后上报终止错误
	ConnectTimeoutSec    int `yaml:"connect_timeout_sec"`
	SendTimeoutSec       int `yaml:"send_timeout_sec"`
}

// PoolServiceConfig 池子元数据 REST 服务配置
type PoolServiceConfig struct {
	Endpoint      string `yaml:"endpoint"`        // 例如 http://pool.service.local
	TimeoutMs     int    `yaml:"timeout_ms"`      // 单次请求超时
	PollIntervalS int    `yaml:"poll_interval_s"` // 轮询刷新间隔（秒）
}

// MonitorConfig PoolMonitor 行为配置
type MonitorConfig struct {
	EnableGrpc      bool `yaml:"enable_grpc"`       // 是否启用实时账户订阅
	EnablePolling   bool `yaml:"enable_polling"`    // 是否启用 REST 轮询
	PollingFallback bool `yaml:"polling_fallback"`  // REST 未配置时也允许进入 polling（尽力而为）
	DebounceMs      int  `yaml:"debounce_ms"`       // 批量重订阅去抖窗口（默认 2000）
}

// KafkaProducerConfig Kafka 生产者相关配置
type KafkaProducerConfig struct {
	Brokers   string `yaml:"brokers"`    // Kafka broker 地址，多个用英文逗号分隔
	BatchSize int    `yaml:"batch_size"` // 批处理大小（单位字节）
	LingerMs  int    `yaml:"linger_ms"`  // 批处理最大延迟（毫秒）

	Topics struct {
		Transaction string `yaml:"transaction"` // 交易事件 topic
		Pool        string `yaml:"pool"`        // 池子更新事件 topic
	} `yaml:"topics"`

	Partitions struct {
		Transaction int `yaml:"transaction"`
		Pool        int `yaml:"pool"`
	} `yaml:"partitions"`
}

// MonitorServiceConfig 是主配置结构体
type MonitorServiceConfig struct {
	LogConf           LogConfig           `yaml:"logger"`
	Grpc              GrpcClientConfig    `yaml:"grpc"`
	PoolServiceConf   PoolServiceConfig   `yaml:"pool_service"`
	MonitorConf       MonitorConfig       `yaml:"monitor"`
	KafkaProducerConf KafkaProducerConfig `yaml:"kafka_producer"`

	RedisAddr string `yaml:"redis_addr"` // Redis 地址（活跃池子集合持久化）
}

// Validate 校验必填配置。凭证类缺失无法通过重试修复，启动时直接失败。
func (c *MonitorServiceConfig) Validate() error {
	if c.MonitorConf.EnableGrpc || c.Grpc.Endpoint != "" {
		if c.Grpc.Endpoint == "" {
			return errors.New("grpc.endpoint is required when grpc streaming is enabled")
		}
		if c.Grpc.XToken == "" {
			return errors.New("grpc.x_token is required when grpc streaming is enabled")
		}
	}
	return nil
}

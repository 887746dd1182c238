package svc

import (
	"dex-stream-sol/internal/cache"
	"dex-stream-sol/internal/config"
	"dex-stream-sol/internal/events"
	"dex-stream-sol/internal/mq"
	"dex-stream-sol/internal/service/poolinfo"
	"dex-stream-sol/pkg/logger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/redis/go-redis/v9"
)

// ServiceContext 聚合进程级资源。可选依赖（Kafka / Redis / REST）未配置时为 nil，
// 组件按 nil 与否降级，不在这里做强制要求。
type ServiceContext struct {
	Config config.MonitorServiceConfig
	Bus    *events.Bus

	Producer   *kafka.Producer
	Redis      *redis.Client
	PoolClient *poolinfo.Client
	PoolStore  *cache.ActivePoolStore
	Sink       *mq.EventSink
}

func NewServiceContext(c config.MonitorServiceConfig) (*ServiceContext, error) {
	sc := &ServiceContext{
		Config: c,
		Bus:    events.NewBus(),
	}

	if c.KafkaProducerConf.Brokers != "" {
		producer, err := mq.NewKafkaProducer(c.KafkaProducerConf)
		if err != nil {
			logger.Errorf("Kafka producer init failed: %v", err)
			return nil, err
		}
		sc.Producer = producer
		sc.Sink = mq.NewEventSink(producer, c.KafkaProducerConf)
		sc.Sink.Attach(sc.Bus)
	}

	if c.RedisAddr != "" {
		sc.Redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		sc.PoolStore = cache.NewActivePoolStore(sc.Redis)
	}

	if c.PoolServiceConf.Endpoint != "" {
		sc.PoolClient = poolinfo.NewClient(c.PoolServiceConf)
	}

	logger.Infof("service context initialized (kafka=%v redis=%v rest=%v)",
		sc.Producer != nil, sc.Redis != nil, sc.PoolClient != nil)
	return sc, nil
}

// Close 释放进程级资源
func (sc *ServiceContext) Close() {
	if sc.Sink != nil {
		sc.Sink.Detach()
	}
	if sc.Producer != nil {
		sc.Producer.Close()
	}
	if sc.Redis != nil {
		_ = sc.Redis.Close()
	}
}

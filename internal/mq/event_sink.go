package mq

import (
	"encoding/json"

	"dex-stream-sol/internal/config"
	"dex-stream-sol/internal/events"
	"dex-stream-sol/pkg/logger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// EventSink 把事件总线上的结构化事件转发到 Kafka。
// 订阅者身份：核心管线不依赖它，挂不挂都不影响解码与监控。
// 分区 key 取 mint / 池子地址，保证同一标的的事件落在同一分区。
type EventSink struct {
	producer  *kafka.Producer
	txTopic   string
	poolTopic string

	cancels []func()
}

func NewEventSink(producer *kafka.Producer, cfg config.KafkaProducerConfig) *EventSink {
	return &EventSink{
		producer:  producer,
		txTopic:   cfg.Topics.Transaction,
		poolTopic: cfg.Topics.Pool,
	}
}

// Attach 订阅总线主题。交易类事件进 transaction topic，池子更新进 pool topic。
func (s *EventSink) Attach(bus *events.Bus) {
	s.cancels = append(s.cancels,
		bus.Transaction.Subscribe(func(tx *events.ParsedTransaction) {
			s.produce(s.txTopic, tx.TokenMint.String(), envelope{Kind: "transaction", Data: tx})
		}),
		bus.NewToken.Subscribe(func(ev *events.TokenEvent) {
			s.produce(s.txTopic, ev.Mint.String(), envelope{Kind: "newToken", Data: ev})
		}),
		bus.Swap.Subscribe(func(ev *events.SwapEvent) {
			s.produce(s.txTopic, ev.Tx.TokenMint.String(), envelope{Kind: "swap", Data: ev})
		}),
		bus.Liquidity.Subscribe(func(ev *events.LiquidityEvent) {
			s.produce(s.txTopic, ev.Tx.TokenMint.String(), envelope{Kind: "liquidity", Data: ev})
		}),
		bus.PoolUpdate.Subscribe(func(ev *events.PoolUpdate) {
			s.produce(s.poolTopic, ev.PoolAddress.String(), envelope{Kind: "poolUpdate", Data: ev})
		}),
	)
}

// Detach 取消全部订阅（Stop 路径）。
func (s *EventSink) Detach() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}

// envelope 下游消息信封：kind 区分事件类型，data 为事件本体
type envelope struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

func (s *EventSink) produce(topic, key string, msg envelope) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("[mq] marshal %s event failed: %v", msg.Kind, err)
		return
	}
	err = s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          payload,
	}, nil)
	if err != nil {
		// 投递失败不回压总线；计数与告警交给 producer 的事件通道
		logger.Warnf("[mq] produce %s to %s failed: %v", msg.Kind, topic, err)
	}
}

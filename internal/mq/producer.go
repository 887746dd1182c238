package mq

import (
	"context"
	"fmt"
	"time"

	"dex-stream-sol/internal/config"
	"dex-stream-sol/pkg/logger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	defaultBatchSize = 32 * 1024
	defaultLingerMs  = 5
)

// NewKafkaProducer 创建 Kafka 生产者，topic 不存在时自动创建。
func NewKafkaProducer(cfg config.KafkaProducerConfig) (*kafka.Producer, error) {
	adminClient, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create admin client: %w", err)
	}
	defer adminClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	meta, err := adminClient.GetMetadata(nil, true, 10000)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	replicationFactor := 1
	if len(meta.Brokers) > 1 {
		replicationFactor = 2
	}
	logger.Infof("Kafka broker count = %d, using replication factor = %d", len(meta.Brokers), replicationFactor)

	existingTopics := make(map[string]bool)
	for _, topic := range meta.Topics {
		existingTopics[topic.Topic] = true
	}

	var topicsToCreate []kafka.TopicSpecification
	if !existingTopics[cfg.Topics.Transaction] {
		topicsToCreate = append(topicsToCreate, kafka.TopicSpecification{
			Topic:             cfg.Topics.Transaction,
			NumPartitions:     cfg.Partitions.Transaction,
			ReplicationFactor: replicationFactor,
		})
	}
	if !existingTopics[cfg.Topics.Pool] {
		topicsToCreate = append(topicsToCreate, kafka.TopicSpecification{
			Topic:             cfg.Topics.Pool,
			NumPartitions:     cfg.Partitions.Pool,
			ReplicationFactor: replicationFactor,
		})
	}

	if len(topicsToCreate) > 0 {
		results, err := adminClient.CreateTopics(ctx, topicsToCreate)
		if err != nil {
			return nil, fmt.Errorf("failed to create topics: %w", err)
		}
		for _, result := range results {
			if result.Error.Code() != kafka.ErrNoError {
				return nil, fmt.Errorf("failed to create topic %s: %w", result.Topic, result.Error)
			}
		}
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	lingerMs := cfg.LingerMs
	if lingerMs < 0 {
		lingerMs = defaultLingerMs
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"client.id":         "dex-stream-monitor",

		// 可靠性保障
		"acks":                                  "all",
		"enable.idempotence":                    true,
		"max.in.flight.requests.per.connection": 5,

		// 超时与重试
		"delivery.timeout.ms": 30000,
		"request.timeout.ms":  30000,
		"retries":             5,
		"retry.backoff.ms":    100,

		// 性能优化
		"batch.size":       batchSize,
		"linger.ms":        lingerMs,
		"compression.type": "none",

		"message.max.bytes": 2 * 1024 * 1024, // 2MB
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return producer, nil
}

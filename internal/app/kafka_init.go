package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// kafkaPublishers — издатели outbox и DLQ поверх общего producer.
type kafkaPublishers struct {
	producer *kafka.Producer
	outbox   *kafka.OutboxPublisher
	dlq      *kafka.OutboxPublisher
}

// initKafka создаёт producer, если заданы брокеры. Без брокеров возвращает nil, nil.
func initKafka(cfg Config, logger *log.Entry) (*kafkaPublishers, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaClientID)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
	return &kafkaPublishers{
		producer: producer,
		outbox:   kafka.NewOutboxPublisher(producer),
		dlq:      kafka.NewOutboxPublisher(producer, kafka.WithTopic(kafka.TopicDeadLetterQueue)),
	}, nil
}

// kafkaPing проверяет доступность брокеров для health check.
func kafkaPing(brokers []string, clientID string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cfg := kafka.ProducerConfig(clientID)
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left > 0 {
				cfg.Net.DialTimeout = left
			}
		}
		cfg.Metadata.Retry.Max = 0
		client, err := sarama.NewClient(brokers, cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		if len(client.Brokers()) == 0 {
			return errors.New("no kafka brokers available")
		}
		return nil
	}
}

// closeKafka закрывает producer.
func closeKafka(publishers *kafkaPublishers, logger *log.Entry) {
	if publishers == nil {
		return
	}
	if err := publishers.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

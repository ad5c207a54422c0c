package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig contains configuration for the Kafka publisher
type KafkaConfig struct {
	Brokers      []string      `json:"brokers"`
	SettledTopic string        `json:"settled_topic"`
	AlertTopic   string        `json:"alert_topic"`
	WriteTimeout time.Duration `json:"write_timeout"`
	RequiredAcks int           `json:"required_acks"`
}

// DefaultKafkaConfig returns defaults suitable for a local broker
func DefaultKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		SettledTopic: "ledger.trades.settled",
		AlertTopic:   "ledger.risk.alerts",
		WriteTimeout: 5 * time.Second,
		RequiredAcks: 1,
	}
}

// KafkaPublisher implements Publisher over one kafka.Writer per topic
type KafkaPublisher struct {
	settled *kafka.Writer
	alerts  *kafka.Writer
	logger  *zap.Logger
}

// NewKafkaPublisher creates a publisher with a writer per event topic
func NewKafkaPublisher(cfg *KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		}
	}
	return &KafkaPublisher{
		settled: newWriter(cfg.SettledTopic),
		alerts:  newWriter(cfg.AlertTopic),
		logger:  logger,
	}
}

func (p *KafkaPublisher) TradeSettled(ctx context.Context, event *TradeSettledEvent) error {
	return p.publish(ctx, p.settled, event.AccountID.String(), event)
}

func (p *KafkaPublisher) AlertRaised(ctx context.Context, event *AlertEvent) error {
	return p.publish(ctx, p.alerts, event.AccountID.String(), event)
}

// publish keys messages by account so per-account ordering is preserved
func (p *KafkaPublisher) publish(ctx context.Context, w *kafka.Writer, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("topic", w.Topic),
			zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", w.Topic, err)
	}
	return nil
}

// Close closes the underlying writers
func (p *KafkaPublisher) Close() error {
	if err := p.settled.Close(); err != nil {
		return err
	}
	return p.alerts.Close()
}

package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/segmentio/kafka-go"

	"github.com/pdfshrink/pdfshrink/internal/pkg/env"
)

const DefaultEventsTopic = "billing.webhook-events"

// Config holds the Kafka connection settings.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// LoadConfig reads the Kafka settings. No brokers means publishing is off.
func LoadConfig() Config {
	return Config{
		Brokers:      env.GetList("KAFKA_BROKERS"),
		Topic:        env.GetEnv("KAFKA_EVENTS_TOPIC", DefaultEventsTopic),
		WriteTimeout: env.GetDuration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
	}
}

func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes processed webhook events to a topic, keyed by event
// id so redeliveries of one event land on the same partition.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		// Synchronous so a failed write reaches the caller's log.
		Async: false,
	}
}

func NewKafkaPublisher(cfg Config) (*KafkaPublisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultEventsTopic
	}
	log.Infof("[Broker] publishing webhook events to topic %s via %v", cfg.Topic, cfg.Brokers)
	return newKafkaPublisher(NewWriter(cfg.Brokers, cfg.Topic), cfg.Topic, cfg.WriteTimeout), nil
}

func newKafkaPublisher(w messageWriter, topic string, timeout time.Duration) *KafkaPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaPublisher{writer: w, topic: topic, timeout: timeout}
}

// Publish writes one message and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", key, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

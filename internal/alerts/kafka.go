package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/atmx/position-engine/internal/metrics"
	"github.com/atmx/position-engine/internal/model"
)

// DefaultTopic is the Kafka topic alerts are published to.
const DefaultTopic = "position-engine.alerts"

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink streams alerts to Kafka as JSON, keyed by customer so one
// customer's alerts stay ordered within a partition.
type KafkaSink struct {
	writer  MessageWriter
	queue   chan []model.Alert
	timeout time.Duration
	log     *slog.Logger
}

// NewKafkaWriter builds the writer used in production.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
	}
}

// NewKafkaSink creates a sink over w with room for buffer pending batches.
func NewKafkaSink(w MessageWriter, buffer int) *KafkaSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &KafkaSink{
		writer:  w,
		queue:   make(chan []model.Alert, buffer),
		timeout: 5 * time.Second,
		log:     slog.Default().With("sink", "kafka"),
	}
}

// PublishAlerts queues a batch; a full queue drops it.
func (k *KafkaSink) PublishAlerts(alerts []model.Alert) {
	batch := append([]model.Alert(nil), alerts...)
	select {
	case k.queue <- batch:
	default:
		metrics.AlertsDropped.WithLabelValues("kafka").Add(float64(len(batch)))
		k.log.Warn("kafka alert queue full, batch dropped", "alerts", len(batch))
	}
}

// Run writes queued batches until ctx is cancelled, then closes the writer.
func (k *KafkaSink) Run(ctx context.Context) {
	defer func() {
		if err := k.writer.Close(); err != nil {
			k.log.Error("kafka writer close failed", "err", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-k.queue:
			k.write(ctx, batch)
		}
	}
}

func (k *KafkaSink) write(ctx context.Context, batch []model.Alert) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, a := range batch {
		msg, err := encodeMessage(a)
		if err != nil {
			k.log.Error("encode alert failed", "alert", a.ID, "err", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(wctx, msgs...); err != nil {
		metrics.AlertsDropped.WithLabelValues("kafka").Add(float64(len(msgs)))
		k.log.Error("kafka write failed", "alerts", len(msgs), "err", err)
	}
}

func encodeMessage(a model.Alert) (kafka.Message, error) {
	value, err := json.Marshal(a)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal alert %s: %w", a.ID, err)
	}
	return kafka.Message{
		Key:   []byte(a.CustomerID),
		Value: value,
		Time:  a.TriggeredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(a.Type)},
			{Key: "severity", Value: []byte(a.Severity)},
		},
	}, nil
}

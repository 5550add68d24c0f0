package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/moolen/driftwatch/internal/logging"
	"github.com/moolen/driftwatch/internal/models"
)

// Default Kafka topics.
const (
	DefaultReadingsTopic = "sensor-data"
	DefaultAlertsTopic   = "anomaly-alerts"
)

// Kafka publishes readings and alerts to two topics. Messages are keyed
// by sensor ID so readings of one sensor stay on one partition.
type Kafka struct {
	readings *kafka.Writer
	alerts   *kafka.Writer
	logger   *logging.Logger
}

var _ Publisher = (*Kafka)(nil)

// NewKafka builds a publisher against the given brokers. Empty topic
// names fall back to the defaults.
func NewKafka(brokers []string, readingsTopic, alertsTopic string) *Kafka {
	if readingsTopic == "" {
		readingsTopic = DefaultReadingsTopic
	}
	if alertsTopic == "" {
		alertsTopic = DefaultAlertsTopic
	}
	return &Kafka{
		readings: newWriter(brokers, readingsTopic),
		alerts:   newWriter(brokers, alertsTopic),
		logger:   logging.GetLogger("bus.kafka"),
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 250 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		Compression:  kafka.Gzip,
		Async:        false,
	}
}

// PublishReading implements Publisher.
func (k *Kafka) PublishReading(ctx context.Context, reading *models.Reading) error {
	return k.publish(ctx, k.readings, reading.SensorID, reading)
}

// PublishAlert implements Publisher.
func (k *Kafka) PublishAlert(ctx context.Context, alert *models.Alert) error {
	return k.publish(ctx, k.alerts, alert.SensorID, alert)
}

func (k *Kafka) publish(ctx context.Context, writer *kafka.Writer, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", writer.Topic, err)
	}
	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("write to %s: %w", writer.Topic, err)
	}
	return nil
}

// Close implements Publisher.
func (k *Kafka) Close() error {
	if err := k.readings.Close(); err != nil {
		k.logger.Warn("failed to close readings writer: %v", err)
	}
	if err := k.alerts.Close(); err != nil {
		return fmt.Errorf("close alerts writer: %w", err)
	}
	return nil
}

package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/moolen/driftwatch/internal/logging"
	"github.com/moolen/driftwatch/internal/models"
)

// Default Redis pub/sub channels.
const (
	DefaultReadingsChannel = "sensor_data_stream"
	DefaultAlertsChannel   = "anomaly_alerts_stream"
)

// RedisPublisher mirrors readings and alerts onto Redis pub/sub channels
// for live dashboard consumers. Subscribers only see messages published
// while they are connected, which is fine for a live feed.
type RedisPublisher struct {
	client          *redis.Client
	readingsChannel string
	alertsChannel   string
	logger          *logging.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher connects to the given URL (redis://host:port/db).
// Empty channel names fall back to the defaults.
func NewRedisPublisher(url, readingsChannel, alertsChannel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if readingsChannel == "" {
		readingsChannel = DefaultReadingsChannel
	}
	if alertsChannel == "" {
		alertsChannel = DefaultAlertsChannel
	}
	return &RedisPublisher{
		client:          redis.NewClient(opts),
		readingsChannel: readingsChannel,
		alertsChannel:   alertsChannel,
		logger:          logging.GetLogger("bus.redis"),
	}, nil
}

// Ping verifies connectivity.
func (r *RedisPublisher) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// PublishReading implements Publisher.
func (r *RedisPublisher) PublishReading(ctx context.Context, reading *models.Reading) error {
	return r.publish(ctx, r.readingsChannel, reading)
}

// PublishAlert implements Publisher.
func (r *RedisPublisher) PublishAlert(ctx context.Context, alert *models.Alert) error {
	return r.publish(ctx, r.alertsChannel, alert)
}

func (r *RedisPublisher) publish(ctx context.Context, channel string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", channel, err)
	}
	if err := r.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Close implements Publisher.
func (r *RedisPublisher) Close() error {
	return r.client.Close()
}

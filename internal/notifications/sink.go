package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
	"github.com/angelmondragon/rewardledger/pkg/logger"
	"github.com/angelmondragon/rewardledger/pkg/outbox"
)

const defaultPublishTimeout = 15 * time.Second

// Sink delivers one reward notification. Delivery is fire and forget: a nil
// error only means the sink accepted the message.
type Sink interface {
	Name() string
	Send(ctx context.Context, row models.RewardNotification) error
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, payload any) (int64, error)
}

// RedisSink publishes the JSON envelope on a Redis channel.
type RedisSink struct {
	client  redisPublisher
	channel string
}

func NewRedisSink(client redisPublisher, channel string) (*RedisSink, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, errors.New("redis channel required")
	}
	return &RedisSink{client: client, channel: channel}, nil
}

func (s *RedisSink) Name() string { return string(enums.NotificationSinkRedis) }

func (s *RedisSink) Send(ctx context.Context, row models.RewardNotification) error {
	payload, err := outbox.Envelope(row)
	if err != nil {
		return err
	}
	_, err = s.client.Publish(ctx, s.channel, payload)
	return err
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubSink publishes the JSON envelope to the rewards topic.
type PubSubSink struct {
	pub     publisher
	timeout time.Duration
}

// NewPubSubSink wraps a Pub/Sub publisher.
func NewPubSubSink(p *gcppubsub.Publisher) (*PubSubSink, error) {
	if p == nil {
		return nil, errors.New("pubsub publisher required")
	}
	return &PubSubSink{pub: &gcpPublisher{Publisher: p}, timeout: defaultPublishTimeout}, nil
}

func (s *PubSubSink) Name() string { return string(enums.NotificationSinkPubSub) }

func (s *PubSubSink) Send(ctx context.Context, row models.RewardNotification) error {
	payload, err := outbox.Envelope(row)
	if err != nil {
		return err
	}
	msg := &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_id":       row.ID.String(),
			"account_id":     row.AccountID.String(),
			"transaction_id": row.TransactionID.String(),
			"created_at":     row.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result := s.pub.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	_, err = result.Get(publishCtx)
	return err
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}

// LogSink writes notifications to the structured log. Used in dev.
type LogSink struct {
	logg *logger.Logger
}

func NewLogSink(logg *logger.Logger) (*LogSink, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &LogSink{logg: logg}, nil
}

func (s *LogSink) Name() string { return string(enums.NotificationSinkLog) }

func (s *LogSink) Send(ctx context.Context, row models.RewardNotification) error {
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"account_id":     row.AccountID.String(),
		"transaction_id": row.TransactionID.String(),
		"amount":         row.Amount.String(),
		"message":        row.Message,
	}), "reward notification")
	return nil
}

// SinkDeps carries the clients a sink may need. Only the one matching the
// configured kind has to be set.
type SinkDeps struct {
	Redis        redisPublisher
	RedisChannel string
	Publisher    *gcppubsub.Publisher
	Logger       *logger.Logger
}

// NewSink builds the sink named by kind.
func NewSink(kind enums.NotificationSink, deps SinkDeps) (Sink, error) {
	switch kind {
	case enums.NotificationSinkRedis:
		return NewRedisSink(deps.Redis, deps.RedisChannel)
	case enums.NotificationSinkPubSub:
		return NewPubSubSink(deps.Publisher)
	case enums.NotificationSinkLog:
		return NewLogSink(deps.Logger)
	default:
		return nil, fmt.Errorf("unsupported notification sink %q", kind)
	}
}

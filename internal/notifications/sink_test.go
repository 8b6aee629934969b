package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rewardledger/pkg/db/models"
	"github.com/angelmondragon/rewardledger/pkg/enums"
	"github.com/angelmondragon/rewardledger/pkg/logger"
	"github.com/angelmondragon/rewardledger/pkg/outbox"
)

type stubRedis struct {
	channel string
	payload any
	err     error
}

func (s *stubRedis) Publish(_ context.Context, channel string, payload any) (int64, error) {
	s.channel = channel
	s.payload = payload
	return 1, s.err
}

type stubPublisher struct {
	msg *gcppubsub.Message
	err error
}

func (p *stubPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.msg = msg
	return stubResult{err: p.err}
}

type stubResult struct {
	err error
}

func (r stubResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "server-id", nil
}

func sampleRow() models.RewardNotification {
	return models.RewardNotification{
		ID:            uuid.New(),
		AccountID:     uuid.New(),
		TransactionID: uuid.New(),
		Message:       "Thank you! You received 1000 coins.",
		Amount:        decimal.NewFromInt(1000),
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRedisSinkPublishesEnvelope(t *testing.T) {
	client := &stubRedis{}
	sink, err := NewRedisSink(client, "rl:rewards")
	if err != nil {
		t.Fatalf("NewRedisSink: %v", err)
	}
	row := sampleRow()
	if err := sink.Send(context.Background(), row); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if client.channel != "rl:rewards" {
		t.Fatalf("unexpected channel %q", client.channel)
	}
	raw, ok := client.payload.([]byte)
	if !ok {
		t.Fatalf("expected []byte payload, got %T", client.payload)
	}
	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.EventID != row.ID.String() || env.Data.TransactionID != row.TransactionID {
		t.Fatalf("envelope does not describe the row: %+v", env)
	}
	if !env.Data.Amount.Equal(row.Amount) {
		t.Fatalf("expected amount %s, got %s", row.Amount, env.Data.Amount)
	}
}

func TestRedisSinkPropagatesErrors(t *testing.T) {
	sink, err := NewRedisSink(&stubRedis{err: errors.New("conn refused")}, "rl:rewards")
	if err != nil {
		t.Fatalf("NewRedisSink: %v", err)
	}
	if err := sink.Send(context.Background(), sampleRow()); err == nil {
		t.Fatal("expected publish error")
	}
	if _, err := NewRedisSink(&stubRedis{}, " "); err == nil {
		t.Fatal("expected blank channel to be rejected")
	}
}

func TestPubSubSinkSetsAttributes(t *testing.T) {
	pub := &stubPublisher{}
	sink := &PubSubSink{pub: pub, timeout: time.Second}
	row := sampleRow()

	if err := sink.Send(context.Background(), row); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if pub.msg == nil {
		t.Fatal("expected a published message")
	}
	if got := pub.msg.Attributes["transaction_id"]; got != row.TransactionID.String() {
		t.Fatalf("unexpected transaction_id attribute %q", got)
	}
	if got := pub.msg.Attributes["account_id"]; got != row.AccountID.String() {
		t.Fatalf("unexpected account_id attribute %q", got)
	}

	pub.err = errors.New("deadline exceeded")
	if err := sink.Send(context.Background(), row); err == nil {
		t.Fatal("expected publish result error")
	}
}

func TestNewSinkSelectsKind(t *testing.T) {
	logg := logger.New(logger.Options{Output: io.Discard})
	deps := SinkDeps{Redis: &stubRedis{}, RedisChannel: "rl:rewards", Logger: logg}

	for _, kind := range []enums.NotificationSink{enums.NotificationSinkRedis, enums.NotificationSinkLog} {
		sink, err := NewSink(kind, deps)
		if err != nil {
			t.Fatalf("NewSink(%s): %v", kind, err)
		}
		if sink.Name() != string(kind) {
			t.Fatalf("expected sink %s, got %s", kind, sink.Name())
		}
	}
	if _, err := NewSink(enums.NotificationSinkPubSub, deps); err == nil {
		t.Fatal("pubsub sink without publisher must fail")
	}
	if _, err := NewSink("carrier-pigeon", deps); err == nil {
		t.Fatal("unknown sink must fail")
	}
}

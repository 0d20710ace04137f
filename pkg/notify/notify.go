// Package notify fans submission transitions out to other dashboard
// instances over Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sakura-kun-88/startup-compass-89/pkg/submission"
)

// DefaultChannel is the pub/sub channel transitions are published on.
const DefaultChannel = "startupops:submissions"

// Publisher is the subset of redis.UniversalClient used here.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Event is the wire form of a transition.
type Event struct {
	SubmissionID string `json:"submission_id,omitempty"`
	RecordID     uint64 `json:"record_id"`
	Category     string `json:"category"`
	From         string `json:"from"`
	Phase        string `json:"phase"`
	TxHandle     string `json:"tx_handle,omitempty"`
	Reason       string `json:"reason,omitempty"`
	At           int64  `json:"at"`
}

// NewEvent flattens a transition.
func NewEvent(t submission.Transition) Event {
	return Event{
		SubmissionID: t.State.SubmissionID,
		RecordID:     t.Key.RecordID,
		Category:     t.Key.Category,
		From:         t.From.String(),
		Phase:        t.State.Phase.String(),
		TxHandle:     t.State.TxHandle.String(),
		Reason:       t.State.ReasonText(),
		At:           t.State.UpdatedAt.UnixMilli(),
	}
}

// RedisPublisher is a submission.Observer publishing every transition.
type RedisPublisher struct {
	client  Publisher
	channel string
	logger  *slog.Logger
}

// NewRedisPublisher creates a publisher on DefaultChannel.
func NewRedisPublisher(client Publisher) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: DefaultChannel,
		logger:  slog.Default().With("component", "notify"),
	}
}

// WithChannel returns a copy publishing on channel.
func (p *RedisPublisher) WithChannel(channel string) *RedisPublisher {
	cp := *p
	cp.channel = channel
	return &cp
}

// OnTransition implements submission.Observer.
func (p *RedisPublisher) OnTransition(ctx context.Context, t submission.Transition) error {
	body, err := json.Marshal(NewEvent(t))
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	n, err := p.client.Publish(ctx, p.channel, body).Result()
	if err != nil {
		return fmt.Errorf("notify: publish %s: %w", p.channel, err)
	}
	p.logger.DebugContext(ctx, "transition published", "channel", p.channel, "receivers", n,
		"record_id", t.Key.RecordID, "category", t.Key.Category, "phase", t.State.Phase.String())
	return nil
}

// Decode parses a published message.
func Decode(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("notify: decode event: %w", err)
	}
	return e, nil
}

// Package notify fans state-transition events out to live clients and routes
// operator-relevant failures to the alert channel. Everything here is
// fire-and-forget: a broken notifier must never fail the job that called it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"atelier/internal/domain"
)

// Publisher pushes a payload onto a named live-update channel. Consumers
// subscribe by channel name; they are outside this service.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher publishes live-update events over Redis Pub/Sub.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects a publisher to the Redis at the given URL.
func NewRedisPublisher(ctx context.Context, url string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("notify: connect redis: %w", err)
	}
	return &RedisPublisher{client: client}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Close releases the underlying Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// ItemEvent is the wire shape of a work item state transition.
type ItemEvent struct {
	ItemID   string       `json:"item_id"`
	OwnerID  string       `json:"owner_id"`
	Kind     string       `json:"kind"`
	Progress domain.Stage `json:"progress"`
	Error    string       `json:"error,omitempty"`
	At       time.Time    `json:"at"`
}

// RunEvent is the wire shape of an agent run status transition.
type RunEvent struct {
	RunID      string           `json:"run_id"`
	WorkItemID string           `json:"work_item_id"`
	Status     domain.RunStatus `json:"status"`
	Iterations int              `json:"iterations"`
	At         time.Time        `json:"at"`
}

// Notifier broadcasts progress and failure events. The publisher may be nil
// (live updates disabled); the alerter may be nil (alerts disabled).
type Notifier struct {
	pub    Publisher
	alerts *AlertDispatcher
	logger zerolog.Logger
}

// NewNotifier assembles a notifier.
func NewNotifier(pub Publisher, alerts *AlertDispatcher, logger zerolog.Logger) *Notifier {
	return &Notifier{pub: pub, alerts: alerts, logger: logger}
}

// ItemChannel returns the stable live-update channel name for a work item.
func ItemChannel(itemID string) string {
	return "workitem:" + itemID
}

// RunChannel returns the stable live-update channel name for an agent run.
func RunChannel(runID string) string {
	return "agentrun:" + runID
}

// ItemProgress broadcasts a work item state transition to subscribed clients.
func (n *Notifier) ItemProgress(ctx context.Context, item *domain.WorkItem) {
	if n == nil || item == nil {
		return
	}
	n.publish(ctx, ItemChannel(item.ID), ItemEvent{
		ItemID:   item.ID,
		OwnerID:  item.OwnerID,
		Kind:     string(item.Kind),
		Progress: item.Progress,
		Error:    item.ErrorMessage,
		At:       time.Now().UTC(),
	})
}

// RunStatus broadcasts an agent run status transition to subscribed clients.
func (n *Notifier) RunStatus(ctx context.Context, run *domain.AgentRun) {
	if n == nil || run == nil {
		return
	}
	n.publish(ctx, RunChannel(run.ID), RunEvent{
		RunID:      run.ID,
		WorkItemID: run.WorkItemID,
		Status:     run.Status,
		Iterations: run.Iterations,
		At:         time.Now().UTC(),
	})
}

// OperatorAlert dispatches a plain-text message to the operator channel.
func (n *Notifier) OperatorAlert(ctx context.Context, message string) {
	if n == nil || n.alerts == nil {
		return
	}
	n.alerts.Dispatch(ctx, message)
}

func (n *Notifier) publish(ctx context.Context, channel string, event any) {
	if n.pub == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error().Err(err).Str("channel", channel).Msg("notify: marshal event")
		return
	}
	if err := n.pub.Publish(ctx, channel, payload); err != nil {
		n.logger.Warn().Err(err).Str("channel", channel).Msg("notify: publish failed")
	}
}

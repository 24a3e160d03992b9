package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type EventKind string

const (
	// ReferralCounted is sent to a referrer whose count grew but whose access
	// did not change in this step.
	ReferralCounted EventKind = "referral_counted"
	// AccessUnlocked is sent exactly once, when the count reaches the threshold.
	AccessUnlocked EventKind = "access_unlocked"
)

// Event carries the facts a messaging front-end needs to tell a referrer about
// progress. Rendering the text is left to the front-end.
type Event struct {
	Kind       EventKind `json:"kind"`
	ReferrerID int64     `json:"referrer_id"`
	ReferredID int64     `json:"referred_id"`
	Count      int       `json:"count"`
	Threshold  int       `json:"threshold"`
	At         time.Time `json:"at"`
}

// Notifier delivers referrer events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type redisNotifier struct {
	rdb     *redis.Client
	channel string
}

// NewRedisNotifier publishes events as JSON on a redis pub/sub channel.
func NewRedisNotifier(rdb *redis.Client, channel string) Notifier {
	return &redisNotifier{rdb: rdb, channel: channel}
}

func (n *redisNotifier) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", n.channel, err)
	}
	return nil
}

type logNotifier struct {
	logger *zap.SugaredLogger
}

// NewLogNotifier only records events in the log. Used when redis is disabled.
func NewLogNotifier(logger *zap.SugaredLogger) Notifier {
	return &logNotifier{logger: logger}
}

func (n *logNotifier) Notify(_ context.Context, ev Event) error {
	n.logger.Infow("referral event",
		"kind", string(ev.Kind),
		"referrer_id", ev.ReferrerID,
		"referred_id", ev.ReferredID,
		"count", ev.Count,
		"threshold", ev.Threshold,
	)
	return nil
}

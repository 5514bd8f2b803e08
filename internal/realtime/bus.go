package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LocalBus delivers events to the hub of this process only.
type LocalBus struct {
	hub *Hub
}

// NewLocalBus wraps hub as a Publisher.
func NewLocalBus(hub *Hub) *LocalBus {
	return &LocalBus{hub: hub}
}

// Publish delivers ev immediately.
func (b *LocalBus) Publish(_ context.Context, ev Event) error {
	b.hub.Deliver(ev)
	return nil
}

// RedisBus fans events out to every instance through a redis channel.
type RedisBus struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *zap.Logger
}

// NewRedisBus constructs a bus publishing on channel.
func NewRedisBus(client *redis.Client, channel string, hub *Hub, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, channel: channel, hub: hub, logger: logger}
}

// Publish encodes ev and publishes it to the shared channel.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode realtime event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish realtime event: %w", err)
	}
	return nil
}

// Run subscribes to the channel and delivers incoming events locally until
// ctx is cancelled.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe realtime channel: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("discarding malformed realtime event", zap.Error(err))
				continue
			}
			b.hub.Deliver(ev)
		}
	}
}

type wireEvent struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversationId"`
	Recipients     []string        `json:"recipients"`
	ExcludeUserID  string          `json:"excludeUserId"`
	RestrictTo     []string        `json:"restrictTo"`
	Unsubscribe    []string        `json:"unsubscribe"`
	CloseGroup     bool            `json:"closeGroup"`
	Payload        json.RawMessage `json:"payload"`
}

func decodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, err
	}
	if w.Type == "" {
		return Event{}, fmt.Errorf("event type missing")
	}
	ev := Event{
		Type:           w.Type,
		ConversationID: w.ConversationID,
		Recipients:     w.Recipients,
		ExcludeUserID:  w.ExcludeUserID,
		RestrictTo:     w.RestrictTo,
		Unsubscribe:    w.Unsubscribe,
		CloseGroup:     w.CloseGroup,
	}
	if len(w.Payload) > 0 {
		ev.Payload = w.Payload
	}
	return ev, nil
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the redis channel notice events travel on.
const DefaultChannel = "squire:notices"

// RedisBroker shares notice events between instances. Every instance
// publishes to the channel and relays what it receives to its local hub,
// so a user connected anywhere sees notices created anywhere.
type RedisBroker struct {
	client  *redis.Client
	channel string
}

// NewRedisClient builds a client for addr, e.g. "localhost:6379" or a
// redis:// URL.
func NewRedisClient(addr string) (*redis.Client, error) {
	if opts, err := redis.ParseURL(addr); err == nil {
		return redis.NewClient(opts), nil
	}
	if addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// NewRedisBroker creates a broker on DefaultChannel.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client, channel: DefaultChannel}
}

// Publish sends ev to every subscribed instance, this one included.
func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding notice event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publishing notice event: %w", err)
	}
	return nil
}

// Subscribe forwards events from the channel to local until ctx is done.
// It returns once the subscription is confirmed or has failed, and keeps
// forwarding in the background.
func (b *RedisBroker) Subscribe(ctx context.Context, local Publisher) error {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("dropping malformed notice event", "error", err)
					continue
				}
				if err := local.Publish(ctx, ev); err != nil {
					slog.Warn("failed to deliver notice event", "notice", ev.NoticeID, "error", err)
				}
			}
		}
	}()
	return nil
}

// Ping checks the connection.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

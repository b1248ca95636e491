package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisPubSub implements PubSub using Redis.
type RedisPubSub struct {
	client        *redis.Client
	subscriptions map[*redisSubscription]struct{}
	mu            sync.Mutex
}

// redisSubscription owns one redis.PubSub connection. Two viewers of the
// same session each get their own, so closing one leaves the other attached.
type redisSubscription struct {
	owner  *RedisPubSub
	pubsub *redis.PubSub
	events chan *Event
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan *Event { return s.events }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.pubsub.Close()
		s.owner.remove(s)
	})
	return err
}

// NewRedisPubSub creates a new Redis-based PubSub instance.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPubSub{
		client:        client,
		subscriptions: make(map[*redisSubscription]struct{}),
	}, nil
}

// Publish publishes an event to the specified channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe opens an independent subscription to a channel.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := &redisSubscription{
		owner:  r,
		pubsub: r.client.Subscribe(ctx, channel),
		events: make(chan *Event, 100),
	}

	r.mu.Lock()
	r.subscriptions[sub] = struct{}{}
	r.mu.Unlock()

	go r.processMessages(ctx, sub)

	return sub, nil
}

func (r *RedisPubSub) remove(sub *redisSubscription) {
	r.mu.Lock()
	delete(r.subscriptions, sub)
	r.mu.Unlock()
}

// Close closes all subscriptions and the Redis client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	subs := make([]*redisSubscription, 0, len(r.subscriptions))
	for sub := range r.subscriptions {
		subs = append(subs, sub)
	}
	r.subscriptions = make(map[*redisSubscription]struct{})
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	return r.client.Close()
}

// processMessages reads messages from the Redis pubsub and sends them to the
// subscription's event channel.
func (r *RedisPubSub) processMessages(ctx context.Context, sub *redisSubscription) {
	defer close(sub.events)

	ch := sub.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			sub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}

			select {
			case sub.events <- &event:
			case <-ctx.Done():
				sub.Close()
				return
			default:
				// Channel full, skip message
			}
		}
	}
}

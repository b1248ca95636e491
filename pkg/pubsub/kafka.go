package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	pkglog "github.com/thetvman/couchsync/pkg/log"
)

// All session channels map onto one fixed topic, keyed by session id, so
// partition ordering holds per session.
const sessionUpdatesTopic = "session-updates"

// channelToTopicAndKey converts a session channel name to the Kafka topic
// and message key.
//
//	"watch:session:abc123:updates" → topic: "session-updates", key: "abc123"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[0] != "watch" || parts[1] != "session" || parts[3] != "updates" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return sessionUpdatesTopic, parts[2], nil
}

// kafkaSubscription owns one consumer. Every subscription runs in its own
// consumer group so each one sees every update for its session.
type kafkaSubscription struct {
	owner    *KafkaPubSub
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	events   chan *Event
	once     sync.Once
}

func (s *kafkaSubscription) Events() <-chan *Event { return s.events }

func (s *kafkaSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.consumer.Close()
		s.owner.remove(s)
	})
	return err
}

// KafkaPubSub implements PubSub using Apache Kafka.
type KafkaPubSub struct {
	producer      *kafka.Producer
	subscriptions map[*kafkaSubscription]struct{}
	config        KafkaConfig
	mu            sync.Mutex
	doneCh        chan struct{}
}

// NewKafkaPubSub creates a new Kafka-based PubSub instance.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kps := &KafkaPubSub{
		producer:      p,
		subscriptions: make(map[*kafkaSubscription]struct{}),
		config:        cfg,
		doneCh:        make(chan struct{}),
	}

	go kps.deliveryReportHandler()

	if err := kps.ensureTopic(); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Msg("failed to ensure kafka topic (may already exist)")
	}

	return kps, nil
}

// ensureTopic creates the session updates topic if it doesn't exist.
func (k *KafkaPubSub) ensureTopic() error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": k.config.Brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             sessionUpdatesTopic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	l := pkglog.L()
	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			l.Warn().Str("topic", r.Topic).Err(r.Error).Msg("failed to create kafka topic")
		}
	}

	return nil
}

// deliveryReportHandler processes delivery reports from the producer.
func (k *KafkaPubSub) deliveryReportHandler() {
	l := pkglog.L()
	for e := range k.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				l.Error().Err(ev.TopicPartition.Error).Msg("kafka pubsub delivery failed")
			}
		}
	}
	close(k.doneCh)
}

// Publish publishes an event to the specified channel (converted to Kafka
// topic + key).
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// Subscribe opens an independent subscription to a session channel,
// filtering topic messages by session id key.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	topic, sessionID, err := channelToTopicAndKey(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel: %w", err)
	}

	groupID := k.config.GroupID
	if groupID == "" {
		groupID = "couchsync-feed"
	}
	// Unique group per subscription so every subscriber of a session sees
	// every update.
	consumerGroupID := fmt.Sprintf("%s-%s-%s", groupID, sanitizeGroupID(channel), uuid.NewString())

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.config.Brokers,
		"group.id":                consumerGroupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		owner:    k,
		consumer: c,
		cancel:   cancel,
		events:   make(chan *Event, 100),
	}

	k.mu.Lock()
	k.subscriptions[sub] = struct{}{}
	k.mu.Unlock()

	go k.consumeMessages(subCtx, sub, sessionID)

	return sub, nil
}

// consumeMessages polls Kafka and forwards events for the session to the
// subscription's channel.
func (k *KafkaPubSub) consumeMessages(ctx context.Context, sub *kafkaSubscription, sessionID string) {
	defer close(sub.events)

	l := pkglog.L()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := sub.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if string(e.Key) != sessionID {
				continue
			}

			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l.Warn().Err(err).Msg("kafka pubsub: failed to unmarshal event")
				continue
			}

			select {
			case sub.events <- &event:
			case <-ctx.Done():
				return
			default:
				// Channel full, skip message
			}

		case kafka.Error:
			l.Error().Err(e).Bool("fatal", e.IsFatal()).Msg("kafka pubsub error")
			if e.IsFatal() {
				return
			}

		case kafka.OffsetsCommitted:
			// Normal auto-commit
		default:
			// Ignore other events
		}
	}
}

func (k *KafkaPubSub) remove(sub *kafkaSubscription) {
	k.mu.Lock()
	delete(k.subscriptions, sub)
	k.mu.Unlock()
}

// Close closes all subscriptions and the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	subs := make([]*kafkaSubscription, 0, len(k.subscriptions))
	for sub := range k.subscriptions {
		subs = append(subs, sub)
	}
	k.subscriptions = make(map[*kafkaSubscription]struct{})
	k.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh

	return nil
}

var groupIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeGroupID(s string) string {
	return groupIDSanitizer.ReplaceAllString(s, "-")
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Bus carries "scope changed" events between API nodes.
type Bus interface {
	Publish(ctx context.Context, topic, scope string) error
	Listen(ctx context.Context, topic string, handler func(scope string)) error
}

// Event is the wire format of a change notice.
type Event struct {
	Source string    `json:"source"`
	Topic  string    `json:"topic"`
	Scope  string    `json:"scope"`
	SentAt time.Time `json:"sent_at"`
}

// NewNodeID returns a random identifier for this process.
func NewNodeID() string {
	return uuid.NewString()
}

func encodeEvent(nodeID, topic, scope string) ([]byte, error) {
	return json.Marshal(Event{
		Source: nodeID,
		Topic:  topic,
		Scope:  scope,
		SentAt: time.Now().UTC(),
	})
}

// decodeEvent returns the scope of a foreign event, or false for own or malformed events.
func decodeEvent(nodeID string, payload []byte, logger zerolog.Logger) (string, bool) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Warn().Err(err).Msg("invalid realtime event")
		return "", false
	}
	if event.Source == nodeID || event.Scope == "" {
		return "", false
	}
	return event.Scope, true
}

// RedisBus publishes change events over Redis pub/sub.
type RedisBus struct {
	client  *redis.Client
	channel string
	nodeID  string
	logger  zerolog.Logger
}

// NewRedisBus constructs a Redis-backed bus rooted at channelBase.
func NewRedisBus(client *redis.Client, channelBase, nodeID string, logger zerolog.Logger) *RedisBus {
	return &RedisBus{
		client:  client,
		channel: channelBase,
		nodeID:  nodeID,
		logger:  logger.With().Str("component", "realtime_redis_bus").Logger(),
	}
}

func (b *RedisBus) channelFor(topic string) string {
	return fmt.Sprintf("%s:%s", b.channel, topic)
}

// Publish sends a change event.
func (b *RedisBus) Publish(ctx context.Context, topic, scope string) error {
	payload, err := encodeEvent(b.nodeID, topic, scope)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channelFor(topic), payload).Err()
}

// Listen consumes foreign change events until ctx is done.
func (b *RedisBus) Listen(ctx context.Context, topic string, handler func(scope string)) error {
	pubsub := b.client.Subscribe(ctx, b.channelFor(topic))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go func() {
		defer func() { _ = pubsub.Close() }()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
					return
				}
				b.logger.Error().Err(err).Str("topic", topic).Msg("realtime redis subscription closed")
				return
			}
			if scope, ok := decodeEvent(b.nodeID, []byte(msg.Payload), b.logger); ok {
				handler(scope)
			}
		}
	}()
	return nil
}

// NATSBus publishes change events over NATS core subjects.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	nodeID  string
	logger  zerolog.Logger
}

// NewNATSBus constructs a NATS-backed bus rooted at subjectBase.
func NewNATSBus(conn *nats.Conn, subjectBase, nodeID string, logger zerolog.Logger) *NATSBus {
	return &NATSBus{
		conn:    conn,
		subject: strings.ReplaceAll(subjectBase, ":", "."),
		nodeID:  nodeID,
		logger:  logger.With().Str("component", "realtime_nats_bus").Logger(),
	}
}

func (b *NATSBus) subjectFor(topic string) string {
	return fmt.Sprintf("%s.%s", b.subject, topic)
}

// Publish sends a change event.
func (b *NATSBus) Publish(_ context.Context, topic, scope string) error {
	payload, err := encodeEvent(b.nodeID, topic, scope)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subjectFor(topic), payload)
}

// Listen consumes foreign change events until ctx is done. Every node must see
// every event, so this is a plain subscription rather than a queue group.
func (b *NATSBus) Listen(ctx context.Context, topic string, handler func(scope string)) error {
	sub, err := b.conn.Subscribe(b.subjectFor(topic), func(msg *nats.Msg) {
		if scope, ok := decodeEvent(b.nodeID, msg.Data, b.logger); ok {
			handler(scope)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Str("topic", topic).Msg("failed to drain realtime nats subscription")
		}
	}()
	return nil
}

// MultiBus fans out to several buses. Duplicate deliveries only cause an extra refresh.
type MultiBus []Bus

// Publish sends to every bus and joins the errors.
func (m MultiBus) Publish(ctx context.Context, topic, scope string) error {
	var errs []error
	for _, bus := range m {
		if err := bus.Publish(ctx, topic, scope); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Listen registers handler on every bus.
func (m MultiBus) Listen(ctx context.Context, topic string, handler func(scope string)) error {
	var errs []error
	for _, bus := range m {
		if err := bus.Listen(ctx, topic, handler); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CombineBuses drops nil entries and returns nil when nothing is configured.
func CombineBuses(buses ...Bus) Bus {
	var live MultiBus
	for _, bus := range buses {
		if bus != nil {
			live = append(live, bus)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	default:
		return live
	}
}

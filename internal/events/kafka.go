// Package events publishes checkout events to Kafka.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/kart-checkout/internal/codec"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// TypeOrderConfirmed is the event type of a confirmed order.
const TypeOrderConfirmed = "order.confirmed"

// DefaultPublishTimeout bounds one publish including the writer's retries.
const DefaultPublishTimeout = 2 * time.Second

// MessageWriter is the subset of *kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ checkout.Notifier = (*KafkaNotifier)(nil)

// KafkaNotifier publishes an order.confirmed event per order, keyed by order
// id.
type KafkaNotifier struct {
	w       MessageWriter
	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	var brokers []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewWriter returns a hash-balanced writer for topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		WriteTimeout: time.Second,
	}
}

// NewKafkaNotifier publishes through w. Each publish is bounded by timeout,
// DefaultPublishTimeout when zero.
func NewKafkaNotifier(w MessageWriter, timeout time.Duration) *KafkaNotifier {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &KafkaNotifier{w: w, timeout: timeout, now: time.Now, newID: uuid.NewString}
}

// OrderConfirmed publishes the order. The order is already committed, so the
// publish outlives a canceled request but not the notifier's timeout.
func (n *KafkaNotifier) OrderConfirmed(ctx context.Context, o *order.Order) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	now := n.now().UTC()
	msg := kafka.Message{
		Key:   []byte(o.ID),
		Value: EncodeOrderConfirmed(n.newID(), now, o),
		Time:  now,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(TypeOrderConfirmed)},
		},
	}
	if err := n.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s %s", TypeOrderConfirmed, o.ID)
	}
	return nil
}

// DialCheck reports whether at least one broker accepts a connection.
func DialCheck(brokers []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var lastErr error
		for _, b := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", b)
			if err != nil {
				lastErr = err
				continue
			}
			return conn.Close()
		}
		if lastErr == nil {
			return errors.New("no brokers configured")
		}
		return errors.Wrap(lastErr, "dial kafka")
	}
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.w.Close()
}

// EncodeOrderConfirmed renders the event envelope.
func EncodeOrderConfirmed(eventID string, at time.Time, o *order.Order) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("eventId", func(e *jx.Encoder) { e.Str(eventID) })
		e.Field("type", func(e *jx.Encoder) { e.Str(TypeOrderConfirmed) })
		e.Field("occurredAt", func(e *jx.Encoder) { e.Str(at.Format(time.RFC3339Nano)) })
		e.Field("order", func(e *jx.Encoder) { codec.Order(e, o) })
	})
	return e.Bytes()
}

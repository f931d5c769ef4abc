// Package notify delivers order confirmations outside the request path.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/beanhouse/internal/domain/order"
)

// DefaultChannel is the Pub/Sub channel confirmations are published to.
const DefaultChannel = "beanhouse:orders:created"

// Publisher is the subset of *redis.Client used for dispatch.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes a confirmation event for each order. Mail and
// push delivery subscribe to the channel.
type RedisNotifier struct {
	pub     Publisher
	channel string
	newID   func() string
}

// NewRedisNotifier creates a RedisNotifier. An empty channel selects
// DefaultChannel.
func NewRedisNotifier(pub Publisher, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{
		pub:     pub,
		channel: channel,
		newID:   func() string { return uuid.New().String() },
	}
}

// Send publishes the confirmation event for o.
func (n *RedisNotifier) Send(ctx context.Context, o *order.Order) error {
	payload := Encode(n.newID(), o)
	if err := n.pub.Publish(ctx, n.channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s", n.channel)
	}
	return nil
}

// Encode renders the confirmation event for o.
func Encode(messageID string, o *order.Order) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("messageId")
	e.Str(messageID)
	e.FieldStart("type")
	e.Str("order.created")
	e.FieldStart("orderId")
	e.Str(o.ID)
	e.FieldStart("displayCode")
	e.Str(o.DisplayCode)
	e.FieldStart("customerEmail")
	e.Str(o.Customer.Email)
	e.FieldStart("customerName")
	e.Str(o.Customer.Name)
	e.FieldStart("paymentMethod")
	e.Str(o.PaymentMethod)
	e.FieldStart("total")
	e.Str(o.Total.String())
	e.FieldStart("itemCount")
	e.Int(len(o.Items))
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

// LogNotifier writes confirmations to the log. It is used when no Redis
// address is configured.
type LogNotifier struct {
	lg *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(lg *zap.Logger) *LogNotifier {
	return &LogNotifier{lg: lg}
}

// Send logs o.
func (n *LogNotifier) Send(_ context.Context, o *order.Order) error {
	n.lg.Info("Order confirmation",
		zap.String("order_id", o.ID),
		zap.String("display_code", o.DisplayCode),
		zap.String("customer_email", o.Customer.Email),
		zap.String("total", o.Total.String()),
	)
	return nil
}

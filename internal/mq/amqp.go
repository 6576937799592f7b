package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/metric"

	"simwatch/internal/logger"
	"simwatch/internal/observability"
)

// Wire header keys. Body keys never collide with these: the reserved
// "msg" prefix is stripped before publishing.
const (
	headerTimestampISO   = "timestamp_iso"
	headerTimestampRaw   = "timestamp_raw"
	headerCorrelationID1 = "correlationId1"
	headerCorrelationID2 = "correlationId2"
	headerEmailUID       = "emailUid"
	headerProducerVer    = "producerVersion"
	headerDelay          = "x-delay"
)

// ErrConsumerClosed is returned when the broker closes the delivery
// channel underneath a running consumer.
var ErrConsumerClosed = errors.New("mq: delivery channel closed by broker")

// Broker is an AMQP 0-9-1 client wrapping one connection and channel.
// Delayed delivery relies on the delayed-message exchange: messages
// published with an x-delay header are held back by the broker.
type Broker struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *slog.Logger
	metrics  *observability.MessageMetrics
}

// DialBroker connects to the broker and declares the platform's
// delayed topic exchange. Consumers are limited to one unacked message
// at a time: a message's pipeline runs to completion before the next
// delivery is seen.
func DialBroker(url, exchange string, log *slog.Logger, m *observability.MessageMetrics) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker qos: %w", err)
	}
	err = ch.ExchangeDeclare(exchange, "x-delayed-message", true, false, false, false,
		amqp.Table{"x-delayed-type": "topic"})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker exchange declare: %w", err)
	}
	return &Broker{conn: conn, ch: ch, exchange: exchange, log: log, metrics: m}, nil
}

// Close releases the channel and connection.
func (b *Broker) Close() error {
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Publish places an envelope onto the exchange, routed by type code.
func (b *Broker) Publish(ctx context.Context, env *Envelope, opts ...PublishOption) error {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	body, err := json.Marshal(Payload(env.Content))
	if err != nil {
		return fmt.Errorf("encode message %s: %w", env.Props.MessageID, err)
	}

	h := env.Props.Headers
	headers := amqp.Table{
		headerTimestampISO: h.TimestampISO,
		headerProducerVer:  env.Props.ProducerVersion,
	}
	if h.TimestampRaw != "" {
		headers[headerTimestampRaw] = h.TimestampRaw
	}
	if h.CorrelationID1 != "" {
		headers[headerCorrelationID1] = h.CorrelationID1
	}
	if h.CorrelationID2 != "" {
		headers[headerCorrelationID2] = h.CorrelationID2
	}
	if h.EmailUID != "" {
		headers[headerEmailUID] = h.EmailUID
	}
	if o.delay > 0 {
		headers[headerDelay] = o.delay.Milliseconds()
	}

	pub := amqp.Publishing{
		ContentType:     "application/json",
		ContentEncoding: "utf-8",
		DeliveryMode:    amqp.Persistent,
		MessageId:       env.Props.MessageID,
		Type:            string(env.Props.Type),
		AppId:           env.Props.ProducerID,
		UserId:          env.Props.UserID,
		Timestamp:       env.Props.Timestamp,
		Headers:         headers,
		Body:            body,
	}
	return b.ch.PublishWithContext(ctx, b.exchange, RoutingKey(env.Props.Type), false, false, pub)
}

// RoutingKey returns the routing key a type code is published under.
func RoutingKey(c Code) string {
	return "simwatch.msg." + string(c)
}

// DeclareQueue declares a durable queue and binds it to the routing
// keys of the given type codes.
func (b *Broker) DeclareQueue(name string, codes ...Code) error {
	if _, err := b.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker queue declare %s: %w", name, err)
	}
	for _, c := range codes {
		if err := b.ch.QueueBind(name, RoutingKey(c), b.exchange, false, nil); err != nil {
			return fmt.Errorf("broker queue bind %s to %s: %w", name, c, err)
		}
	}
	return nil
}

// Consume runs a single-worker consume loop over the named queue,
// dispatching each decoded envelope to h. Malformed and
// incorrelateable messages are logged and dropped; handler faults
// reject the delivery without requeue, leaving retry to the queue's
// dead-letter policy. Blocks until ctx is cancelled or the delivery
// channel closes.
func (b *Broker) Consume(ctx context.Context, queue string, h Handler) error {
	deliveries, err := b.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker consume %s: %w", queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrConsumerClosed
			}
			b.dispatch(ctx, d, h)
		}
	}
}

func (b *Broker) dispatch(ctx context.Context, d amqp.Delivery, h Handler) {
	env, err := envelopeFromDelivery(d)
	if err == nil {
		err = env.Validate()
	}
	if err != nil {
		// Undecodable or incorrelateable: drop before any pipeline.
		b.log.Warn("dropping message", "message_id", d.MessageId, "type", d.Type, "error", err)
		b.count(ctx, d.Type, func(m *observability.MessageMetrics) metric.Int64Counter { return m.Aborted })
		d.Ack(false)
		return
	}

	if id := env.Props.Headers.CorrelationID1; id != "" {
		ctx = logger.WithCorrelationID(ctx, id)
	}
	if err := h.Handle(ctx, env); err != nil {
		logger.FromContext(ctx, b.log).Error("message processing failed",
			"message_id", env.Props.MessageID, "type", env.Props.Type, "error", err)
		b.count(ctx, d.Type, func(m *observability.MessageMetrics) metric.Int64Counter { return m.Failed })
		d.Nack(false, false)
		return
	}
	b.count(ctx, d.Type, func(m *observability.MessageMetrics) metric.Int64Counter { return m.Consumed })
	d.Ack(false)
}

func (b *Broker) count(ctx context.Context, code string, pick func(*observability.MessageMetrics) metric.Int64Counter) {
	if b.metrics == nil {
		return
	}
	pick(b.metrics).Add(ctx, 1, metric.WithAttributes(observability.TypeCode(code)))
}

func envelopeFromDelivery(d amqp.Delivery) (*Envelope, error) {
	content := map[string]any{}
	if len(d.Body) > 0 {
		if err := json.Unmarshal(d.Body, &content); err != nil {
			return nil, fmt.Errorf("undecodable message body: %w", err)
		}
	}

	ts := d.Timestamp
	if raw := tableString(d.Headers, headerTimestampRaw); raw != "" {
		if parsed, err := ParseTimestamp(raw); err == nil {
			ts = parsed
		}
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return &Envelope{
		Props: Props{
			UserID:          d.UserId,
			ProducerID:      d.AppId,
			ProducerVersion: tableString(d.Headers, headerProducerVer),
			MessageID:       d.MessageId,
			Type:            Code(d.Type),
			Timestamp:       ts.UTC(),
			Headers: Headers{
				TimestampISO:   tableString(d.Headers, headerTimestampISO),
				TimestampRaw:   tableString(d.Headers, headerTimestampRaw),
				CorrelationID1: tableString(d.Headers, headerCorrelationID1),
				CorrelationID2: tableString(d.Headers, headerCorrelationID2),
				EmailUID:       tableString(d.Headers, headerEmailUID),
			},
		},
		Content: content,
	}, nil
}

func tableString(t amqp.Table, key string) string {
	if t == nil {
		return ""
	}
	s, _ := t[key].(string)
	return s
}

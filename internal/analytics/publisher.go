// Package analytics relays completed sales records from the outbox table to
// the sales analytics sink.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"

	applog "secondhand/internal/log"
	"secondhand/internal/repos"
)

// Publisher delivers one outbox row to the sink. A nil error means the sink
// accepted it and the row may be marked sent.
type Publisher interface {
	Publish(ctx context.Context, row repos.OutboxRow) error
	Close() error
}

// ---------- Kafka ----------

type KafkaProducer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	producer KafkaProducer
	topic    string
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// NewKafkaPublisher writes to topic keyed by want list id, so every record of
// a list lands on the same partition.
func NewKafkaPublisher(producer KafkaProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, row repos.OutboxRow) error {
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(row.ID)},
		{Key: "event_type", Value: []byte(row.Type)},
	}
	if row.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(row.Traceparent)})
	}
	return p.producer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topic,
		Key:     []byte(row.AggregateID),
		Value:   []byte(row.Payload),
		Headers: headers,
	})
}

func (p *KafkaPublisher) Close() error { return p.producer.Close() }

// ---------- NATS ----------

type NATSConn interface {
	PublishMsg(m *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
	Drain() error
}

type NATSPublisher struct {
	conn    NATSConn
	subject string
}

func ConnectNATS(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("secondhand-sales-relay"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				applog.Warn(nil, "nats.disconnected", err, nil)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			applog.Info(nil, "nats.reconnected", map[string]any{"url": nc.ConnectedUrl()})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

func NewNATSPublisher(conn NATSConn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

// Publish flushes after each message so a returned nil means the server has
// the record, not just the client buffer.
func (p *NATSPublisher) Publish(ctx context.Context, row repos.OutboxRow) error {
	msg := nats.NewMsg(p.subject)
	msg.Data = []byte(row.Payload)
	msg.Header.Set("Nats-Msg-Id", row.ID)
	msg.Header.Set("event_type", row.Type)
	if row.Traceparent != "" {
		msg.Header.Set("traceparent", row.Traceparent)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", row.ID, err)
	}
	timeout := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	return p.conn.FlushTimeout(timeout)
}

func (p *NATSPublisher) Close() error { return p.conn.Drain() }

// ---------- Log ----------

// LogPublisher writes records to the action log. It is the default sink for
// single-node deployments.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, row repos.OutboxRow) error {
	applog.Info(nil, "sales.record", map[string]any{
		"event_id": row.ID, "type": row.Type, "want_list": row.AggregateID, "payload": row.Payload,
	})
	return nil
}

func (LogPublisher) Close() error { return nil }

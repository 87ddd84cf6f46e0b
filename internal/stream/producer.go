package stream

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageSentEvent is the durable record emitted for every accepted send,
// consumed by downstream services (badges, search indexing). Content is
// deliberately omitted; consumers that need it read the log.
type MessageSentEvent struct {
	MessageID  int       `json:"message_id"`
	RoomID     int       `json:"room_id"`
	Seq        int64     `json:"seq"`
	SenderID   int       `json:"sender_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Producer publishes message-sent events.
type Producer interface {
	PublishMessageSent(ctx context.Context, event MessageSentEvent) error
	Close() error
}

// NewProducer builds a Kafka producer, or a noop when no brokers are
// configured.
func NewProducer(brokers []string, topic string, log *zap.Logger) Producer {
	if len(brokers) == 0 {
		log.Info("kafka disabled, using noop producer")
		return noopProducer{}
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	log.Info("kafka producer ready", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &kafkaProducer{writer: writer}
}

type kafkaProducer struct {
	writer *kafkago.Writer
}

// PublishMessageSent writes the event keyed by room so per-room order is
// preserved within a partition.
func (p *kafkaProducer) PublishMessageSent(ctx context.Context, event MessageSentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(strconv.Itoa(event.RoomID)),
		Value: body,
		Time:  event.OccurredAt,
	})
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}

type noopProducer struct{}

func (noopProducer) PublishMessageSent(ctx context.Context, event MessageSentEvent) error {
	return nil
}

func (noopProducer) Close() error { return nil }

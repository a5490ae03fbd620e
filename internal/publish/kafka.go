package publish

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/haptic-data/touch.report/internal/tactile"
)

// DefaultContactTopic is the topic contact snapshots are published to.
const DefaultContactTopic = "contact_states"

// KafkaSinkConfig holds configuration for the Kafka contact sink.
type KafkaSinkConfig struct {
	// Brokers is the list of bootstrap broker addresses. Required.
	Brokers []string

	// Topic is the contact topic, DefaultContactTopic when empty.
	Topic string
}

// messageWriter is the slice of kafka.Writer the sink depends on. Tests
// substitute a recording implementation.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink publishes every snapshot as one JSON message on the contact
// topic.
type KafkaSink struct {
	topic  string
	writer messageWriter
	closer io.Closer
}

// NewKafkaSink creates a sink writing to the configured brokers.
func NewKafkaSink(config KafkaSinkConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	topic := config.Topic
	if strings.TrimSpace(topic) == "" {
		topic = DefaultContactTopic
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaSinkWithWriter(topic, writer, writer), nil
}

// newKafkaSinkWithWriter wires the provided writer into the sink. It is used
// in tests.
func newKafkaSinkWithWriter(topic string, writer messageWriter, closer io.Closer) *KafkaSink {
	return &KafkaSink{
		topic:  topic,
		writer: writer,
		closer: closer,
	}
}

// Publish encodes the snapshot and writes it to the contact topic.
func (s *KafkaSink) Publish(ctx context.Context, snap tactile.ContactSnapshot) error {
	data, err := tactile.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{Value: data}); err != nil {
		return fmt.Errorf("failed to write contact snapshot to %s: %w", s.topic, err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (s *KafkaSink) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/haptic-data/touch.report/internal/monitoring"
	"github.com/haptic-data/touch.report/internal/tactile"
)

const (
	// DefaultStateTopic is the topic sensor bridges publish state events to.
	DefaultStateTopic = "tactile_states"

	// DefaultGroupID is the consumer group used when none is configured.
	DefaultGroupID = "touch-report"
)

// KafkaSourceConfig holds configuration for the Kafka source.
type KafkaSourceConfig struct {
	// Brokers is the list of bootstrap broker addresses. Required.
	Brokers []string

	// Topic is the state event topic, DefaultStateTopic when empty.
	Topic string

	// GroupID is the consumer group, DefaultGroupID when empty.
	GroupID string

	// MaxWait bounds how long the broker may hold a fetch before responding.
	MaxWait time.Duration

	// LogInterval is how often to log throughput stats.
	LogInterval time.Duration

	// Updater receives the decoded readings.
	Updater Updater
}

// messageFetcher is the slice of kafka.Reader the consume loop depends on.
// Tests run the loop against a scripted implementation instead of a broker.
type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes JSON state events from a Kafka topic and applies them
// to the configured updater.
type KafkaSource struct {
	config    KafkaSourceConfig
	reader    messageFetcher
	stats     *Stats
	closeOnce sync.Once
	closeErr  error
}

// NewKafkaSource creates a Kafka source, applying defaults for unset fields.
// The stats instance may be nil, in which case a private one is allocated.
func NewKafkaSource(config KafkaSourceConfig, stats *Stats) (*KafkaSource, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka source requires at least one broker")
	}
	if config.Updater == nil {
		return nil, fmt.Errorf("kafka source requires an updater")
	}
	applyKafkaDefaults(&config)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		GroupID:     config.GroupID,
		Topic:       config.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     config.MaxWait,
	})

	return newKafkaSourceWithFetcher(config, reader, stats), nil
}

// newKafkaSourceWithFetcher wires the provided fetcher into the source. It is
// used in tests.
func newKafkaSourceWithFetcher(config KafkaSourceConfig, reader messageFetcher, stats *Stats) *KafkaSource {
	applyKafkaDefaults(&config)
	if stats == nil {
		stats = NewStats()
	}
	return &KafkaSource{
		config: config,
		reader: reader,
		stats:  stats,
	}
}

func applyKafkaDefaults(config *KafkaSourceConfig) {
	if strings.TrimSpace(config.Topic) == "" {
		config.Topic = DefaultStateTopic
	}
	if strings.TrimSpace(config.GroupID) == "" {
		config.GroupID = DefaultGroupID
	}
	if config.MaxWait == 0 {
		config.MaxWait = 500 * time.Millisecond
	}
	if config.LogInterval == 0 {
		config.LogInterval = time.Minute
	}
}

// Stats exposes the source's throughput counters.
func (s *KafkaSource) Stats() *Stats {
	return s.stats
}

// Start consumes messages until ctx is cancelled or the reader is closed.
// Fetch failures back off exponentially up to ten seconds so a broker outage
// does not spin the loop.
func (s *KafkaSource) Start(ctx context.Context) error {
	defer func() {
		if err := s.Close(); err != nil {
			monitoring.Logf("[Kafka] reader close failed: %v", err)
		}
	}()

	monitoring.Logf("[Kafka] consuming %s from %s as group %s",
		s.config.Topic, strings.Join(s.config.Brokers, ","), s.config.GroupID)

	go startStatsLogging(ctx, s.stats, "Kafka", s.config.LogInterval)

	backoff := time.Second
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return nil
			}
			monitoring.Logf("[Kafka] fetch failed: %v", err)
			select {
			case <-time.After(backoff):
				if backoff < 10*time.Second {
					backoff *= 2
				}
				continue
			case <-ctx.Done():
				return nil
			}
		}
		backoff = time.Second

		s.handleMessage(msg)

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			monitoring.Logf("[Kafka] commit failed at offset %d: %v", msg.Offset, err)
		}
	}
}

// handleMessage decodes one message and applies its readings. Malformed
// messages are counted and skipped; they are still committed so the group
// does not refetch them forever.
func (s *KafkaSource) handleMessage(msg kafka.Message) {
	s.stats.AddEvent(len(msg.Value))

	ev, err := tactile.DecodeStateEvent(msg.Value)
	if err != nil {
		s.stats.AddReject()
		monitoring.Logf("[Kafka] dropping malformed message at offset %d: %v", msg.Offset, err)
		return
	}

	Apply(s.config.Updater, ev, s.stats)
}

// Close shuts down the underlying reader. Safe to call more than once.
func (s *KafkaSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.reader.Close()
	})
	return s.closeErr
}

package ingest

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher scripts the consume loop: it serves queued messages, then
// reports io.EOF the way a closed kafka.Reader does.
type fakeFetcher struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	idx     int
	commits []int64
	closed  bool
}

func (f *fakeFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.idx >= len(f.msgs) {
		return kafka.Message{}, io.EOF
	}
	msg := f.msgs[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeFetcher) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range msgs {
		f.commits = append(f.commits, msg.Offset)
	}
	return nil
}

func (f *fakeFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeFetcher) committed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.commits))
	copy(out, f.commits)
	return out
}

func TestNewKafkaSource_Validation(t *testing.T) {
	_, err := NewKafkaSource(KafkaSourceConfig{Updater: newRecordingUpdater()}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker")

	_, err = NewKafkaSource(KafkaSourceConfig{Brokers: []string{"localhost:9092"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "updater")
}

func TestNewKafkaSource_Defaults(t *testing.T) {
	src, err := NewKafkaSource(KafkaSourceConfig{
		Brokers: []string{"localhost:9092"},
		Updater: newRecordingUpdater(),
	}, nil)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, DefaultStateTopic, src.config.Topic)
	assert.Equal(t, DefaultGroupID, src.config.GroupID)
	assert.Equal(t, 500*time.Millisecond, src.config.MaxWait)
	assert.NotNil(t, src.Stats())
}

func TestKafkaSource_ConsumeLoop(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{msgs: []kafka.Message{
		{Offset: 10, Value: encodedEvent(t, now, "fingertip", []float64{0.8})},
		{Offset: 11, Value: []byte("{broken")},
		{Offset: 12, Value: encodedEvent(t, now.Add(10*time.Millisecond), "palm", []float64{0.2, 0.3})},
	}}

	updater := newRecordingUpdater()
	src := newKafkaSourceWithFetcher(KafkaSourceConfig{
		Brokers: []string{"localhost:9092"},
		Updater: updater,
	}, fetcher, nil)

	require.NoError(t, src.Start(context.Background()))

	calls := updater.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "fingertip", calls[0].Name)
	assert.Equal(t, "palm", calls[1].Name)

	// malformed messages are committed too, so the group moves past them
	assert.Equal(t, []int64{10, 11, 12}, fetcher.committed())

	events, _, readings, rejects, _ := src.Stats().GetAndReset()
	assert.Equal(t, int64(3), events)
	assert.Equal(t, int64(2), readings)
	assert.Equal(t, int64(1), rejects)

	assert.True(t, fetcher.closed)
}

func TestKafkaSource_ContextCancel(t *testing.T) {
	fetcher := &fakeFetcher{}
	src := newKafkaSourceWithFetcher(KafkaSourceConfig{
		Brokers: []string{"localhost:9092"},
		Updater: newRecordingUpdater(),
	}, fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, src.Start(ctx))
}

func TestKafkaSource_CloseIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{}
	src := newKafkaSourceWithFetcher(KafkaSourceConfig{
		Brokers: []string{"localhost:9092"},
		Updater: newRecordingUpdater(),
	}, fetcher, nil)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.True(t, fetcher.closed)
}

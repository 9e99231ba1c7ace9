package bus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader serves a fixed message sequence and records every fetch and
// commit, mirroring how kafka.Reader advances its position on FetchMessage
// whether or not the previous message was committed.
type scriptedReader struct {
	msgs    []kafka.Message
	next    int
	commits []int64
	events  []string
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if r.next >= len(r.msgs) {
		return kafka.Message{}, context.Canceled
	}
	msg := r.msgs[r.next]
	r.next++
	r.events = append(r.events, fmt.Sprintf("fetch:%d", msg.Offset))
	return msg, nil
}

func (r *scriptedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		r.commits = append(r.commits, msg.Offset)
		r.events = append(r.events, fmt.Sprintf("commit:%d", msg.Offset))
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func newTestConsumer(reader *scriptedReader) *Consumer {
	return &Consumer{
		reader:     reader,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		retryPause: time.Millisecond,
	}
}

func TestConsumer_Run(t *testing.T) {
	t.Run("failed message is retried in place before the next fetch", func(t *testing.T) {
		reader := &scriptedReader{msgs: []kafka.Message{
			{Partition: 0, Offset: 5},
			{Partition: 0, Offset: 6},
		}}
		consumer := newTestConsumer(reader)

		attempts := map[int64]int{}
		handler := func(ctx context.Context, msg kafka.Message) error {
			attempts[msg.Offset]++
			if msg.Offset == 5 && attempts[5] < 3 {
				return fmt.Errorf("transient cache outage")
			}
			return nil
		}

		require.NoError(t, consumer.Run(context.Background(), handler))

		assert.Equal(t, 3, attempts[5])
		assert.Equal(t, 1, attempts[6])
		// Offset 6 must not be fetched, and so cannot be committed, until
		// offset 5 succeeded. A commit of 6 before 5 would mark the failed
		// message consumed.
		assert.Equal(t, []int64{5, 6}, reader.commits)
		assert.Equal(t, []string{"fetch:5", "commit:5", "fetch:6", "commit:6"}, reader.events)
	})

	t.Run("no commit ever covers a failed offset", func(t *testing.T) {
		reader := &scriptedReader{msgs: []kafka.Message{
			{Partition: 0, Offset: 10},
			{Partition: 0, Offset: 11},
			{Partition: 0, Offset: 12},
		}}
		consumer := newTestConsumer(reader)

		failures := map[int64]int{10: 0, 11: 2, 12: 1}
		handler := func(ctx context.Context, msg kafka.Message) error {
			if failures[msg.Offset] > 0 {
				failures[msg.Offset]--
				return fmt.Errorf("not yet")
			}
			return nil
		}

		require.NoError(t, consumer.Run(context.Background(), handler))
		assert.Equal(t, []int64{10, 11, 12}, reader.commits)
	})

	t.Run("cancel during retry leaves the failed offset uncommitted", func(t *testing.T) {
		reader := &scriptedReader{msgs: []kafka.Message{
			{Partition: 0, Offset: 7},
			{Partition: 0, Offset: 8},
		}}
		consumer := newTestConsumer(reader)

		ctx, cancel := context.WithCancel(context.Background())
		handler := func(ctx context.Context, msg kafka.Message) error {
			cancel()
			return fmt.Errorf("infrastructure down")
		}

		require.NoError(t, consumer.Run(ctx, handler))

		assert.Empty(t, reader.commits, "the failed message must be redelivered after restart")
		assert.Equal(t, []string{"fetch:7"}, reader.events)
	})

	t.Run("clean handler commits every offset", func(t *testing.T) {
		reader := &scriptedReader{msgs: []kafka.Message{
			{Partition: 1, Offset: 0},
			{Partition: 1, Offset: 1},
		}}
		consumer := newTestConsumer(reader)

		handler := func(ctx context.Context, msg kafka.Message) error { return nil }

		require.NoError(t, consumer.Run(context.Background(), handler))
		assert.Equal(t, []int64{0, 1}, reader.commits)
	})
}

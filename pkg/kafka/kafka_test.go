package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// fakeReader replays msgs, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func TestPublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "runs")
	require.NoError(t, p.Publish(context.Background(),
		Event{Key: "discord_chats", Value: map[string]int{"rows": 3}},
		Event{Key: "notion_projects", Value: []string{"a"}},
	))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "discord_chats", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"rows":3}`, string(w.msgs[0].Value))

	assert.Error(t, p.Publish(context.Background(), Event{Key: "bad", Value: make(chan int)}))

	w.err = errors.New("broker down")
	assert.ErrorContains(t, p.Publish(context.Background(), Event{Key: "k", Value: 1}), "broker down")
}

func TestConsumerCommitsHandledMessages(t *testing.T) {
	r := &fakeReader{
		fetchErrs: []error{errors.New("rebalance")},
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte(`{"n":1}`)},
			{Offset: 2, Value: []byte(`bad`)},
			{Offset: 3, Value: []byte(`{"n":3}`)},
		},
	}
	type payload struct{ N int }
	var mu sync.Mutex
	var seen []int
	c := NewConsumerWithReader(r, "runs", func(_ context.Context, _, value []byte) error {
		p, err := DecodeJSON[payload](value)
		if err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, p.N)
		mu.Unlock()
		return nil
	})
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []int64{1, 3}, r.committed)
	assert.True(t, r.closed)
	assert.Equal(t, []int{1, 3}, seen)
}

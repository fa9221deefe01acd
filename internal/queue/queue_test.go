package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

func newTestQueue(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	c, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"j-1", "j-2", "j-3"} {
		err := c.Enqueue(ctx, QueueDXF, model.JobPayload{JobID: id, Kind: model.JobDXF, IdempotencyKey: "k-" + id})
		require.NoError(t, err)
	}

	for _, want := range []string{"j-1", "j-2", "j-3"} {
		q, payload, err := c.Dequeue(ctx, time.Second, QueueDXF)
		require.NoError(t, err)
		require.NotNil(t, payload)
		assert.Equal(t, QueueDXF, q)
		assert.Equal(t, want, payload.JobID)
		assert.Equal(t, model.JobDXF, payload.Kind)
	}
}

func TestEnqueueMintsIdempotencyKey(t *testing.T) {
	c, mr := newTestQueue(t)

	err := c.Enqueue(context.Background(), QueueGCode, model.JobPayload{JobID: "j-9", Kind: model.JobGCode})
	require.NoError(t, err)

	items, err := mr.List(QueueGCode)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var payload model.JobPayload
	require.NoError(t, json.Unmarshal([]byte(items[0]), &payload))
	assert.NotEmpty(t, payload.IdempotencyKey)
}

func TestDequeueTimeout(t *testing.T) {
	c, _ := newTestQueue(t)

	start := time.Now()
	q, payload, err := c.Dequeue(context.Background(), time.Second, WorkQueues()...)
	require.NoError(t, err)
	assert.Empty(t, q)
	assert.Nil(t, payload)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestDequeueFirstReadyWins(t *testing.T) {
	c, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, QueueZip, model.JobPayload{JobID: "z-1", Kind: model.JobZip}))
	require.NoError(t, c.Enqueue(ctx, QueueDXF, model.JobPayload{JobID: "d-1", Kind: model.JobDXF}))

	q, payload, err := c.Dequeue(ctx, time.Second, WorkQueues()...)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, QueueDXF, q, "dxf queue is listed first and must win")
	assert.Equal(t, "d-1", payload.JobID)

	q, payload, err = c.Dequeue(ctx, time.Second, WorkQueues()...)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, QueueZip, q)
	assert.Equal(t, "z-1", payload.JobID)
}

func TestDequeueUndecodablePayload(t *testing.T) {
	c, mr := newTestQueue(t)
	ctx := context.Background()

	_, err := mr.Lpush(QueueDXF, "{broken")
	require.NoError(t, err)

	q, payload, err := c.Dequeue(ctx, time.Second, QueueDXF)
	assert.Equal(t, QueueDXF, q)
	assert.Nil(t, payload)

	var perr *model.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, model.FailureInvalidInput, perr.Kind)

	letters, err := c.DLQPeek(ctx, 5)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, QueueDXF, letters[0].Queue)
	assert.Contains(t, letters[0].Error, "decode payload")
}

func TestDeadLetterRoundTrip(t *testing.T) {
	c, _ := newTestQueue(t)
	ctx := context.Background()

	payload := model.JobPayload{JobID: "j-7", Kind: model.JobGCode, IdempotencyKey: "k-7"}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	err = c.PushDead(ctx, model.DeadLetter{
		JobID:   payload.JobID,
		Kind:    payload.Kind,
		Queue:   QueueGCode,
		Error:   "transient: store unavailable",
		Payload: raw,
		Trace:   "worker.go:120",
	})
	require.NoError(t, err)

	letters, err := c.DLQPeek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "j-7", letters[0].JobID)
	assert.Equal(t, QueueGCode, letters[0].Queue)
	assert.False(t, letters[0].FailedAt.IsZero())

	n, err := c.DLQRequeue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	depths, err := c.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depths[QueueDLQ])
	assert.Equal(t, int64(1), depths[QueueGCode])

	q, popped, err := c.Dequeue(ctx, time.Second, QueueGCode)
	require.NoError(t, err)
	require.NotNil(t, popped)
	assert.Equal(t, QueueGCode, q)
	assert.Equal(t, "j-7", popped.JobID)
	assert.Equal(t, "k-7", popped.IdempotencyKey)
}

func TestDLQRequeueKeepsUnroutable(t *testing.T) {
	c, _ := newTestQueue(t)
	ctx := context.Background()

	raw, err := json.Marshal(model.JobPayload{JobID: "j-1", Kind: model.JobDXF})
	require.NoError(t, err)
	require.NoError(t, c.PushDead(ctx, model.DeadLetter{Queue: QueueDXF, Error: "boom", Payload: raw}))
	require.NoError(t, c.PushDead(ctx, model.DeadLetter{Error: "missing job_id", Payload: raw}))

	n, err := c.DLQRequeue(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the routable entry is requeued")

	depths, err := c.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths[QueueDLQ], "entry without origin queue stays dead")
	assert.Equal(t, int64(1), depths[QueueDXF])
}

func TestDepths(t *testing.T) {
	c, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, QueueDXF, model.JobPayload{JobID: "a"}))
	require.NoError(t, c.Enqueue(ctx, QueueDXF, model.JobPayload{JobID: "b"}))
	require.NoError(t, c.Enqueue(ctx, QueueDrilling, model.JobPayload{JobID: "c"}))
	require.NoError(t, c.PushDead(ctx, model.DeadLetter{Queue: QueueDXF, Error: "x"}))

	depths, err := c.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depths[QueueDXF])
	assert.Equal(t, int64(0), depths[QueueGCode])
	assert.Equal(t, int64(1), depths[QueueDrilling])
	assert.Equal(t, int64(0), depths[QueueZip])
	assert.Equal(t, int64(1), depths[QueueDLQ])
}

func TestForKind(t *testing.T) {
	cases := map[model.JobKind]string{
		model.JobDXF:      QueueDXF,
		model.JobGCode:    QueueGCode,
		model.JobDrilling: QueueDrilling,
		model.JobZip:      QueueZip,
	}
	for kind, want := range cases {
		got, err := ForKind(kind)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ForKind(model.JobKind("PDF"))
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	c, mr := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	mr.Close()
	assert.Error(t, c.Ping(ctx))
}

func TestOpenBadURL(t *testing.T) {
	_, err := Open("not-a-url")
	require.Error(t, err)

	c, err := Open("redis://localhost:6379/3")
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

// Package queue moves job payloads between the API and workers over
// Redis lists, one list per job kind plus a dead letter list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// Queue names. Workers block on the four work queues; the dead letter
// list is touched only by failure handling and operator endpoints.
const (
	QueueDXF      = "cam:dxf"
	QueueGCode    = "cam:gcode"
	QueueDrilling = "cam:drilling"
	QueueZip      = "cam:zip"
	QueueDLQ      = "cam:dlq"
)

// WorkQueues returns the queues a worker consumes, in pop priority
// order. The returned slice is a fresh copy.
func WorkQueues() []string {
	return []string{QueueDXF, QueueGCode, QueueDrilling, QueueZip}
}

// ForKind maps a job kind to its queue name.
func ForKind(kind model.JobKind) (string, error) {
	switch kind {
	case model.JobDXF:
		return QueueDXF, nil
	case model.JobGCode:
		return QueueGCode, nil
	case model.JobDrilling:
		return QueueDrilling, nil
	case model.JobZip:
		return QueueZip, nil
	}
	return "", model.Errf(model.FailureInvalidInput, "no queue for job kind %q", kind)
}

// Client is a thin queue layer over a Redis connection. Safe for
// concurrent use.
type Client struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Open connects to the broker at a redis:// URL.
func Open(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, model.WrapErr(model.FailureInvalidInput, err, "parse redis url")
	}
	return &Client{rdb: redis.NewClient(opts)}, nil
}

func (c *Client) Close() error { return c.rdb.Close() }

// Ping checks broker liveness for the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return model.WrapErr(model.FailureTransient, err, "ping redis")
	}
	return nil
}

// Enqueue appends the payload to the queue, minting an idempotency key
// when the payload carries none. The push never blocks on consumers.
func (c *Client) Enqueue(ctx context.Context, queue string, payload model.JobPayload) error {
	if payload.IdempotencyKey == "" {
		payload.IdempotencyKey = uuid.NewString()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return model.WrapErr(model.FailureInternal, err, "encode payload")
	}
	if err := c.rdb.RPush(ctx, queue, raw).Err(); err != nil {
		return model.WrapErr(model.FailureTransient, err, "enqueue to "+queue)
	}
	return nil
}

// Dequeue pops the first ready payload from any of the queues, blocking
// up to timeout. It returns the source queue and the payload, or zero
// values when the timeout lapses with nothing to pop. A payload that
// fails to decode is moved to the dead letter list and reported as an
// invalid input error.
func (c *Client) Dequeue(ctx context.Context, timeout time.Duration, queues ...string) (string, *model.JobPayload, error) {
	res, err := c.rdb.BLPop(ctx, timeout, queues...).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", nil, nil
	case err != nil:
		return "", nil, model.WrapErr(model.FailureTransient, err, "blocking pop")
	}
	queue, raw := res[0], res[1]

	var payload model.JobPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		derr := model.WrapErr(model.FailureInvalidInput, err, "decode payload from "+queue)
		quoted, _ := json.Marshal(raw)
		_ = c.PushDead(ctx, model.DeadLetter{
			Queue:   queue,
			Error:   derr.Error(),
			Payload: quoted,
		})
		return queue, nil, derr
	}
	return queue, &payload, nil
}

// PushDead records a dead letter at the head of the DLQ, so newest
// failures come back first from DLQPeek.
func (c *Client) PushDead(ctx context.Context, dead model.DeadLetter) error {
	if dead.FailedAt.IsZero() {
		dead.FailedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(dead)
	if err != nil {
		return model.WrapErr(model.FailureInternal, err, "encode dead letter")
	}
	if err := c.rdb.LPush(ctx, QueueDLQ, raw).Err(); err != nil {
		return model.WrapErr(model.FailureTransient, err, "push dead letter")
	}
	return nil
}

// DLQPeek returns up to n dead letters, newest first, without removing
// them. n defaults to 20 when not positive.
func (c *Client) DLQPeek(ctx context.Context, n int64) ([]model.DeadLetter, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := c.rdb.LRange(ctx, QueueDLQ, 0, n-1).Result()
	if err != nil {
		return nil, model.WrapErr(model.FailureTransient, err, "read dead letters")
	}
	letters := make([]model.DeadLetter, 0, len(rows))
	for _, row := range rows {
		var dead model.DeadLetter
		if err := json.Unmarshal([]byte(row), &dead); err != nil {
			quoted, _ := json.Marshal(row)
			dead = model.DeadLetter{Error: "undecodable dead letter", Payload: quoted}
		}
		letters = append(letters, dead)
	}
	return letters, nil
}

// DLQRequeue pops up to n dead letters, oldest first, and pushes each
// payload back onto its origin queue. Entries without an origin queue
// or payload cannot be routed and return to the head of the DLQ. The
// count of requeued payloads is returned.
func (c *Client) DLQRequeue(ctx context.Context, n int64) (int, error) {
	requeued := 0
	for i := int64(0); i < n; i++ {
		row, err := c.rdb.RPop(ctx, QueueDLQ).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return requeued, model.WrapErr(model.FailureTransient, err, "pop dead letter")
		}

		var dead model.DeadLetter
		if err := json.Unmarshal([]byte(row), &dead); err != nil || dead.Queue == "" || len(dead.Payload) == 0 {
			if err := c.rdb.LPush(ctx, QueueDLQ, row).Err(); err != nil {
				return requeued, model.WrapErr(model.FailureTransient, err, "return dead letter")
			}
			continue
		}

		if err := c.rdb.RPush(ctx, dead.Queue, []byte(dead.Payload)).Err(); err != nil {
			if perr := c.rdb.LPush(ctx, QueueDLQ, row).Err(); perr != nil {
				return requeued, model.WrapErr(model.FailureTransient, perr, "return dead letter")
			}
			return requeued, model.WrapErr(model.FailureTransient, err, "requeue to "+dead.Queue)
		}
		requeued++
	}
	return requeued, nil
}

// Depths reports the length of every queue, DLQ included.
func (c *Client) Depths(ctx context.Context) (map[string]int64, error) {
	names := append(WorkQueues(), QueueDLQ)
	cmds := make(map[string]*redis.IntCmd, len(names))
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, name := range names {
			cmds[name] = pipe.LLen(ctx, name)
		}
		return nil
	})
	if err != nil {
		return nil, model.WrapErr(model.FailureTransient, err, "queue depths")
	}
	depths := make(map[string]int64, len(cmds))
	for name, cmd := range cmds {
		depths[name] = cmd.Val()
	}
	return depths, nil
}

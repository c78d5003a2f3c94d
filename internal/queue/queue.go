// Package queue carries background work between the API and the worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypeImport marks a queued spreadsheet import.
const TypeImport = "import"

// Message is one unit of work. Body is the type-specific JSON payload.
type Message struct {
	Type       string          `json:"type"`
	Body       json.RawMessage `json:"body"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewMessage encodes v as the body of a message of type typ.
func NewMessage(typ string, v any) (Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Body: body, EnqueuedAt: time.Now().UTC()}, nil
}

// Queue is implemented by the in-process and Redis backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
	Len(ctx context.Context) (int64, error)
}

// InMemory is a bounded channel queue. Publisher and consumer must share
// the process.
type InMemory struct {
	ch chan Message
}

func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 1
	}
	return &InMemory{ch: make(chan Message, size)}
}

// Publish blocks while the buffer is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume hands out messages until ctx is done, then closes the channel.
// Buffered messages not yet taken stay queued.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			var msg Message
			select {
			case <-ctx.Done():
				return
			case msg = <-q.ch:
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				// Put it back for the next consumer if there is room.
				select {
				case q.ch <- msg:
				default:
					log.Printf("queue: dropped %s message on shutdown", msg.Type)
				}
				return
			}
		}
	}()
	return out, nil
}

func (q *InMemory) Len(context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

// RedisQueue is a Redis list used as a FIFO (LPUSH in, BRPOP out).
// Payloads that fail to decode are moved to DeadKey.
type RedisQueue struct {
	client  *redis.Client
	key     string
	DeadKey string
	// PollTimeout bounds each BRPOP so ctx cancellation is noticed.
	PollTimeout time.Duration
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "checkqr:queue"
	}
	return &RedisQueue{client: client, key: key, DeadKey: key + ":dead", PollTimeout: 5 * time.Second}
}

func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	if err := q.client.Ping(ctx).Err(); err != nil {
		log.Printf("queue: redis not reachable yet: %v", err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			res, err := q.client.BRPop(ctx, q.PollTimeout, q.key).Result()
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, redis.Nil):
				continue
			case err != nil:
				log.Printf("queue: brpop %s failed: %v", q.key, err)
				sleep(ctx, time.Second)
				continue
			case len(res) != 2:
				continue
			}

			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				log.Printf("queue: moving malformed message to %s: %v", q.DeadKey, err)
				if err := q.client.LPush(ctx, q.DeadKey, res[1]).Err(); err != nil {
					log.Printf("queue: dead-letter push failed: %v", err)
				}
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxUpdateAttempts = 64

// ErrContended is returned when an update keeps losing the optimistic
// lock to other writers.
var ErrContended = errors.New("document update contended")

// Blob keeps the local board document in a single Redis string. Updates
// WATCH the key and commit in MULTI/EXEC, so several service processes can
// share one embedded board without overwriting each other. A ttl of zero
// keeps the document forever.
type Blob struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewBlob(client *redis.Client, key string, ttl time.Duration) *Blob {
	return &Blob{client: client, key: key, ttl: ttl}
}

func (b *Blob) Load(ctx context.Context) ([]byte, error) {
	return get(ctx, b.client, b.key)
}

// Update applies fn to the current document and stores the result. fn runs
// again on the fresh document whenever another writer commits first.
func (b *Blob) Update(ctx context.Context, fn func([]byte) ([]byte, error)) error {
	txf := func(tx *redis.Tx) error {
		current, err := get(ctx, tx, b.key)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, b.key, next, b.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := b.client.Watch(ctx, txf, b.key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: %w", b.key, ErrContended)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func get(ctx context.Context, c getter, key string) ([]byte, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

package redis

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"classroom-qa/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RoomLoader resolves a join code against the backing store. It returns
// nil, nil for unknown codes.
type RoomLoader interface {
	FindRoomByCode(ctx context.Context, code string) (*domain.Room, error)
}

// RoomDirectory caches rooms in Redis (hash per code) and falls back to a
// loader on cache miss. Rooms are stored as:
// HSET room:code:{CODE} id .. code .. name .. channel .. taKey .. createdBy .. createdAt ..
type RoomDirectory struct {
	client *redis.Client
	loader RoomLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewRoomDirectory(client *redis.Client, loader RoomLoader, ttl time.Duration) *RoomDirectory {
	return &RoomDirectory{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *RoomDirectory) Lookup(ctx context.Context, code string) (domain.Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	key := r.roomKey(code)

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		return roomFromHash(fields), nil
	}

	result, err, _ := r.sf.Do(code, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err == nil && len(fields) > 0 {
			return roomFromHash(fields), nil
		}

		room, err := r.loader.FindRoomByCode(ctx, code)
		if err != nil {
			return domain.Room{}, err
		}
		if room == nil {
			return domain.Room{}, fmt.Errorf("room %s: %w", code, domain.ErrNotFound)
		}

		pipe := r.client.Pipeline()
		pipe.HSet(ctx, key, roomToHash(*room))
		if ttl := r.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		// cache fill is best effort; the loaded room is still returned
		_, _ = pipe.Exec(ctx)

		return *room, nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return result.(domain.Room), nil
}

func (r *RoomDirectory) roomKey(code string) string {
	return "room:code:" + code
}

func roomToHash(room domain.Room) map[string]interface{} {
	return map[string]interface{}{
		"id":        room.ID,
		"code":      room.Code,
		"name":      room.Name,
		"channel":   room.Channel,
		"taKey":     room.TAKey,
		"createdBy": room.CreatedBy,
		"createdAt": room.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func roomFromHash(fields map[string]string) domain.Room {
	createdAt, _ := time.Parse(time.RFC3339Nano, fields["createdAt"])
	return domain.Room{
		ID:        fields["id"],
		Code:      fields["code"],
		Name:      fields["name"],
		Channel:   fields["channel"],
		TAKey:     fields["taKey"],
		CreatedBy: fields["createdBy"],
		CreatedAt: createdAt,
	}
}

func (r *RoomDirectory) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

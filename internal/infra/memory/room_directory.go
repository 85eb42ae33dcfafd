package memory

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"classroom-qa/internal/domain"
	"golang.org/x/sync/singleflight"
)

// RoomLoader resolves a join code against the backing store. It returns
// nil, nil for unknown codes.
type RoomLoader interface {
	FindRoomByCode(ctx context.Context, code string) (*domain.Room, error)
}

// RoomDirectory caches rooms by join code with a TTL. Rooms never change
// after creation, so a cached entry is only ever stale by being deleted.
type RoomDirectory struct {
	loader RoomLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedRoom
}

type cachedRoom struct {
	room      domain.Room
	expiresAt time.Time
}

func NewRoomDirectory(loader RoomLoader, ttl time.Duration) *RoomDirectory {
	return &RoomDirectory{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedRoom),
	}
}

// Lookup returns the room for code, loading it once per TTL window.
// Unknown codes are not cached.
func (r *RoomDirectory) Lookup(ctx context.Context, code string) (domain.Room, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if room, ok := r.cached(code); ok {
		return room, nil
	}

	result, err, _ := r.sf.Do(code, func() (interface{}, error) {
		if room, ok := r.cached(code); ok {
			return room, nil
		}

		room, err := r.loader.FindRoomByCode(ctx, code)
		if err != nil {
			return domain.Room{}, err
		}
		if room == nil {
			return domain.Room{}, fmt.Errorf("room %s: %w", code, domain.ErrNotFound)
		}

		r.mu.Lock()
		r.cache[code] = cachedRoom{
			room:      *room,
			expiresAt: r.clock().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return *room, nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return result.(domain.Room), nil
}

func (r *RoomDirectory) cached(code string) (domain.Room, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.cache[code]; ok && entry.expiresAt.After(now) {
		return entry.room, true
	}
	return domain.Room{}, false
}

func (r *RoomDirectory) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

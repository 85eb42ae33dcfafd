package local

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"classroom-qa/internal/domain"
	infraredis "classroom-qa/internal/infra/redis"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestStoresSharingRedisBlobKeepEveryWrite(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	// Two stores with separate clients stand in for two service processes.
	newShared := func() *Store {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewStore(infraredis.NewBlob(client, DocumentKey, 0), domain.DefaultPolicy, nil)
	}
	first, second := newShared(), newShared()

	const perStore = 50
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 2*perStore)
	for _, store := range []*Store{first, second} {
		for i := 0; i < perStore; i++ {
			wg.Add(1)
			go func(s *Store) {
				defer wg.Done()
				if _, err := s.AddXP(ctx, "u1", 1); err != nil {
					errs <- err
				}
			}(store)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("add xp: %v", err)
	}

	for name, store := range map[string]*Store{"first": first, "second": second} {
		p, err := store.GetProfile(ctx, "u1")
		if err != nil {
			t.Fatalf("%s get profile: %v", name, err)
		}
		if p.XP != 2*perStore {
			t.Fatalf("%s store sees xp=%v, want %d", name, p.XP, 2*perStore)
		}
	}
}

func TestAddXPRejectsNonFiniteDelta(t *testing.T) {
	f := newFixture(t)
	for _, delta := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		if _, err := f.store.AddXP(context.Background(), f.alice.UserID, delta); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("delta %v: expected validation error, got %v", delta, err)
		}
	}
	p, err := f.store.GetProfile(context.Background(), f.alice.UserID)
	if err != nil || p.XP != 0 {
		t.Fatalf("rejected deltas must not change xp: %+v %v", p, err)
	}
}

package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"classroom-qa/internal/domain"
)

type countingLoader struct {
	rooms map[string]domain.Room
	calls atomic.Int32
}

func (l *countingLoader) FindRoomByCode(_ context.Context, code string) (*domain.Room, error) {
	l.calls.Add(1)
	room, ok := l.rooms[code]
	if !ok {
		return nil, nil
	}
	return &room, nil
}

func sampleRooms() map[string]domain.Room {
	return map[string]domain.Room{
		"ABC234": {ID: "room-1", Code: "ABC234", Name: "Algorithms"},
	}
}

func TestRoomDirectoryCaches(t *testing.T) {
	loader := &countingLoader{rooms: sampleRooms()}
	dir := NewRoomDirectory(loader, time.Minute)

	room, err := dir.Lookup(context.Background(), "abc234")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if room.ID != "room-1" {
		t.Fatalf("unexpected room %+v", room)
	}
	if _, err := dir.Lookup(context.Background(), "ABC234"); err != nil {
		t.Fatalf("lookup 2: %v", err)
	}
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("expected cache hit, loader calls %d", got)
	}
}

func TestRoomDirectoryExpires(t *testing.T) {
	loader := &countingLoader{rooms: sampleRooms()}
	dir := NewRoomDirectory(loader, time.Minute)
	now := time.Now()
	dir.clock = func() time.Time { return now }

	if _, err := dir.Lookup(context.Background(), "ABC234"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := dir.Lookup(context.Background(), "ABC234"); err != nil {
		t.Fatalf("lookup after expiry: %v", err)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", got)
	}
}

func TestRoomDirectoryUnknownCode(t *testing.T) {
	loader := &countingLoader{rooms: sampleRooms()}
	dir := NewRoomDirectory(loader, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := dir.Lookup(context.Background(), "NOPE99"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("unknown codes must not be cached, loader calls %d", got)
	}
}

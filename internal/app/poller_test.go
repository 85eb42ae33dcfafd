package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"classroom-qa/internal/domain"
)

type countingLister struct {
	calls atomic.Int32
	err   error
}

func (l *countingLister) ListQuestions(ctx context.Context, s domain.Session, roomID string) ([]domain.Question, error) {
	n := l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return []domain.Question{{ID: roomID, Text: string(rune('a' + n - 1))}}, nil
}

func TestPollerDeliversAndCloses(t *testing.T) {
	lister := &countingLister{}
	p := NewPoller(lister, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	ch := p.Watch(ctx, domain.Session{UserID: "u1"}, "room-1")
	seen := 0
	timeout := time.After(2 * time.Second)
	for seen < 3 {
		select {
		case snap := <-ch:
			if snap.Err != nil || snap.RoomID != "room-1" || len(snap.Questions) != 1 {
				t.Fatalf("unexpected snapshot %+v", snap)
			}
			seen++
		case <-timeout:
			t.Fatalf("expected 3 snapshots, got %d", seen)
		}
	}

	cancel()
	closed := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-closed:
			t.Fatalf("channel not closed after cancel")
		}
	}
}

func TestPollerKeepsGoingAfterErrors(t *testing.T) {
	lister := &countingLister{err: domain.Transient("list", errors.New("offline"))}
	p := NewPoller(lister, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := p.Watch(ctx, domain.Session{}, "room-1")
	for i := 0; i < 2; i++ {
		select {
		case snap := <-ch:
			if !errors.Is(snap.Err, domain.ErrTransient) {
				t.Fatalf("expected transient error, got %v", snap.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("poller stopped after an error")
		}
	}
}

func TestDeliverLatestReplacesUnread(t *testing.T) {
	ch := make(chan Snapshot, 1)
	deliverLatest(ch, Snapshot{RoomID: "old"})
	deliverLatest(ch, Snapshot{RoomID: "new"})
	if got := (<-ch).RoomID; got != "new" {
		t.Fatalf("expected latest snapshot, got %q", got)
	}
}

func TestNewPollerDefaultsInterval(t *testing.T) {
	if p := NewPoller(&countingLister{}, 0); p.interval != DefaultPollInterval {
		t.Fatalf("expected default interval, got %v", p.interval)
	}
}

package app

import (
	"context"
	"time"

	"classroom-qa/internal/domain"
)

// DefaultPollInterval is how often an open room is refreshed.
const DefaultPollInterval = 5 * time.Second

// QuestionLister is the read side the poller refreshes from.
type QuestionLister interface {
	ListQuestions(ctx context.Context, s domain.Session, roomID string) ([]domain.Question, error)
}

// Snapshot is one refresh of a room. Err is set when the refresh failed;
// the poller keeps going after failures.
type Snapshot struct {
	RoomID    string
	Questions []domain.Question
	Err       error
	TakenAt   time.Time
}

// Poller periodically re-lists a room. Clients see other participants'
// changes no later than one interval after they happen.
type Poller struct {
	lister   QuestionLister
	interval time.Duration
	now      func() time.Time
}

func NewPoller(lister QuestionLister, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{lister: lister, interval: interval, now: time.Now}
}

// Watch lists roomID immediately and then once per interval until ctx is
// done, at which point the channel is closed. A reader that falls behind
// only ever sees the latest snapshot.
func (p *Poller) Watch(ctx context.Context, s domain.Session, roomID string) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			questions, err := p.lister.ListQuestions(ctx, s, roomID)
			if ctx.Err() != nil {
				return
			}
			deliverLatest(ch, Snapshot{RoomID: roomID, Questions: questions, Err: err, TakenAt: p.now()})

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch
}

// deliverLatest replaces an unread snapshot instead of blocking the poll loop.
func deliverLatest(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

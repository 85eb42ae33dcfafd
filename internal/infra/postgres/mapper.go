package postgres

import (
	"math"
	"strings"
	"time"

	"classroom-qa/internal/domain"
	"github.com/jackc/pgx/v4"
)

// Row shapes mirror the table columns. Nullable columns are pointers and
// the map functions below are the only place that defaults them.

const userColumns = `id, email, display_name, role, avatar_ref, password_hash, created_at, session_epoch`

type userRow struct {
	ID           string
	Email        string
	DisplayName  *string
	Role         *string
	AvatarRef    *string
	PasswordHash *string
	CreatedAt    *time.Time
	SessionEpoch *int32
}

func scanUser(row pgx.Row) (userRow, error) {
	var r userRow
	err := row.Scan(&r.ID, &r.Email, &r.DisplayName, &r.Role, &r.AvatarRef, &r.PasswordHash, &r.CreatedAt, &r.SessionEpoch)
	return r, err
}

func mapUser(r userRow) domain.UserAccount {
	u := domain.UserAccount{
		ID:          r.ID,
		Email:       strings.ToLower(strings.TrimSpace(r.Email)),
		DisplayName: deref(r.DisplayName),
		Role:        domain.NormalizeRole(deref(r.Role)),
		AvatarRef:   deref(r.AvatarRef),
		CreatedAt:   derefTime(r.CreatedAt),
	}
	if r.SessionEpoch != nil {
		u.SessionEpoch = int(*r.SessionEpoch)
	}
	return u
}

type profileRow struct {
	UserID string
	XP     *float64
}

func mapProfile(r profileRow, policy domain.Policy) domain.Profile {
	xp := 0.0
	if r.XP != nil && !math.IsNaN(*r.XP) {
		xp = *r.XP
	}
	return policy.Apply(r.UserID, xp)
}

const roomColumns = `id, code, name, channel, ta_key, created_by, created_at`

type roomRow struct {
	ID        string
	Code      string
	Name      *string
	Channel   *string
	TAKey     *string
	CreatedBy *string
	CreatedAt *time.Time
}

func scanRoom(row pgx.Row) (roomRow, error) {
	var r roomRow
	err := row.Scan(&r.ID, &r.Code, &r.Name, &r.Channel, &r.TAKey, &r.CreatedBy, &r.CreatedAt)
	return r, err
}

func mapRoom(r roomRow) domain.Room {
	return domain.Room{
		ID:        r.ID,
		Code:      strings.ToUpper(strings.TrimSpace(r.Code)),
		Name:      deref(r.Name),
		Channel:   deref(r.Channel),
		TAKey:     deref(r.TAKey),
		CreatedBy: deref(r.CreatedBy),
		CreatedAt: derefTime(r.CreatedAt),
	}
}

const questionColumns = `id, room_id, text, status, owner_id, author, anonymous, created_at`

type questionRow struct {
	ID        string
	RoomID    string
	Text      *string
	Status    *string
	OwnerID   *string
	Author    *string
	Anonymous *bool
	CreatedAt *time.Time
}

func scanQuestion(row pgx.Row) (questionRow, error) {
	var r questionRow
	err := row.Scan(&r.ID, &r.RoomID, &r.Text, &r.Status, &r.OwnerID, &r.Author, &r.Anonymous, &r.CreatedAt)
	return r, err
}

// mapQuestion builds a question with its counts and answers. Answers must
// already be ordered oldest first.
func mapQuestion(r questionRow, counts domain.ReactionCounts, answers []domain.Answer) domain.Question {
	status := domain.QuestionStatus(deref(r.Status))
	if !status.Valid() {
		status = domain.StatusOpen
	}
	if answers == nil {
		answers = []domain.Answer{}
	}
	anonymous := r.Anonymous != nil && *r.Anonymous
	author := deref(r.Author)
	if anonymous {
		author = ""
	}
	return domain.Question{
		ID:        r.ID,
		RoomID:    r.RoomID,
		Text:      deref(r.Text),
		Status:    status,
		CreatedAt: derefTime(r.CreatedAt),
		OwnerID:   deref(r.OwnerID),
		Author:    author,
		Anonymous: anonymous,
		Reactions: counts,
		Answers:   answers,
	}
}

const answerColumns = `id, question_id, text, author, role, owner_id, created_at`

type answerRow struct {
	ID         string
	QuestionID string
	Text       *string
	Author     *string
	Role       *string
	OwnerID    *string
	CreatedAt  *time.Time
}

func scanAnswer(row pgx.Row) (answerRow, error) {
	var r answerRow
	err := row.Scan(&r.ID, &r.QuestionID, &r.Text, &r.Author, &r.Role, &r.OwnerID, &r.CreatedAt)
	return r, err
}

func mapAnswer(r answerRow, counts domain.ReactionCounts) domain.Answer {
	return domain.Answer{
		ID:         r.ID,
		QuestionID: r.QuestionID,
		Text:       deref(r.Text),
		Author:     deref(r.Author),
		Role:       domain.NormalizeRole(deref(r.Role)),
		CreatedAt:  derefTime(r.CreatedAt),
		OwnerID:    deref(r.OwnerID),
		Reactions:  counts,
	}
}

// countRow is one GROUP BY bucket of a reaction table.
type countRow struct {
	TargetID string
	Type     string
	Count    int64
}

// mapCounts folds buckets into per-target counts, ignoring unknown types.
func mapCounts(rows []countRow) map[string]domain.ReactionCounts {
	out := make(map[string]domain.ReactionCounts, len(rows))
	for _, r := range rows {
		t := domain.ReactionType(r.Type)
		if !t.Valid() {
			continue
		}
		c := out[r.TargetID]
		c.Set(t, int(r.Count))
		out[r.TargetID] = c
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

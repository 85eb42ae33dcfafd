package postgres

import (
	"math"
	"testing"
	"time"

	"classroom-qa/internal/domain"
)

func TestMapQuestionDefaults(t *testing.T) {
	bogus := "archived"
	author := "Alice"
	yes := true
	q := mapQuestion(questionRow{ID: "q1", RoomID: "r1", Status: &bogus, Author: &author, Anonymous: &yes}, domain.ReactionCounts{}, nil)

	if q.Status != domain.StatusOpen {
		t.Fatalf("unknown status should default to open, got %q", q.Status)
	}
	if q.Author != "" || !q.Anonymous {
		t.Fatalf("anonymous question must not carry an author: %+v", q)
	}
	if q.Answers == nil || len(q.Answers) != 0 {
		t.Fatalf("expected empty answers slice, got %#v", q.Answers)
	}
	if !q.CreatedAt.IsZero() || q.Text != "" || q.OwnerID != "" {
		t.Fatalf("nil columns should map to zero values: %+v", q)
	}
}

func TestMapUserNormalizes(t *testing.T) {
	role := "admin"
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	u := mapUser(userRow{ID: "u1", Email: " Bob@Example.COM ", Role: &role, CreatedAt: &created})
	if u.Email != "bob@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if u.Role != domain.RoleStudent {
		t.Fatalf("unknown role should map to student, got %q", u.Role)
	}
	if u.CreatedAt.Location() != time.UTC || !u.CreatedAt.Equal(created) {
		t.Fatalf("created_at should be the same instant in UTC, got %v", u.CreatedAt)
	}
	if u.SessionEpoch != 0 {
		t.Fatalf("missing session epoch should map to zero, got %d", u.SessionEpoch)
	}
	epoch := int32(4)
	if u := mapUser(userRow{ID: "u1", SessionEpoch: &epoch}); u.SessionEpoch != 4 {
		t.Fatalf("expected session epoch 4, got %d", u.SessionEpoch)
	}
}

func TestMapRoomUppercasesCode(t *testing.T) {
	name := "Physics"
	r := mapRoom(roomRow{ID: "r1", Code: " ab12cd", Name: &name})
	if r.Code != "AB12CD" || r.Name != "Physics" || r.TAKey != "" || r.Channel != "" {
		t.Fatalf("unexpected room %+v", r)
	}
}

func TestMapProfileDerivesLevel(t *testing.T) {
	policy := domain.DefaultPolicy
	xp := 7.0
	p := mapProfile(profileRow{UserID: "u1", XP: &xp}, policy)
	if p.XP != 7 || p.Level != policy.Level(7) || p.AvatarStage != domain.AvatarStage(p.Level) {
		t.Fatalf("unexpected profile %+v", p)
	}

	nan := math.NaN()
	if p := mapProfile(profileRow{UserID: "u1", XP: &nan}, policy); p.XP != 0 {
		t.Fatalf("NaN xp should map to zero, got %+v", p)
	}
	if p := mapProfile(profileRow{UserID: "u1"}, policy); p.XP != 0 || p.UserID != "u1" {
		t.Fatalf("missing xp should map to zero, got %+v", p)
	}
}

func TestMapCounts(t *testing.T) {
	counts := mapCounts([]countRow{
		{TargetID: "a", Type: "like", Count: 3},
		{TargetID: "a", Type: "thanks", Count: 1},
		{TargetID: "b", Type: "like", Count: 2},
		{TargetID: "b", Type: "laugh", Count: 9},
	})
	if counts["a"] != (domain.ReactionCounts{Like: 3, Thanks: 1}) {
		t.Fatalf("unexpected counts for a: %+v", counts["a"])
	}
	if counts["b"] != (domain.ReactionCounts{Like: 2}) {
		t.Fatalf("unknown reaction types must be ignored: %+v", counts["b"])
	}
	if counts["c"] != (domain.ReactionCounts{}) {
		t.Fatalf("missing target should have zero counts")
	}
}

func TestMapAnswerRole(t *testing.T) {
	role := "ta"
	a := mapAnswer(answerRow{ID: "a1", QuestionID: "q1", Role: &role}, domain.ReactionCounts{Thanks: 2})
	if a.Role != domain.RoleTA || a.Reactions.Thanks != 2 || a.Author != "" {
		t.Fatalf("unexpected answer %+v", a)
	}
}

package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestPolicyLevels(t *testing.T) {
	direct := Policy{Formula: FormulaDirect, XPPerPost: 1}
	banded := Policy{Formula: FormulaBanded, XPPerPost: 12}

	cases := []struct {
		policy Policy
		xp     float64
		level  int
		stage  int
	}{
		{direct, 0, 0, 0},
		{direct, 2.9, 2, 0},
		{direct, 3, 3, 1},
		{direct, 7, 7, 2},
		{direct, 12.5, 12, 3},
		{banded, 0, 1, 0},
		{banded, 199, 2, 0},
		{banded, 200, 3, 1},
		{banded, 1100, 12, 3},
	}
	for _, tc := range cases {
		p := tc.policy.Apply("u1", tc.xp)
		if p.Level != tc.level || p.AvatarStage != tc.stage {
			t.Fatalf("%s xp=%v: expected level %d stage %d, got %+v", tc.policy.Formula, tc.xp, tc.level, tc.stage, p)
		}
	}
}

func TestPolicyApplyClampsNegativeXP(t *testing.T) {
	p := DefaultPolicy.Apply("u1", -5)
	if p.XP != 0 || p.Level != 0 || p.AvatarStage != 0 {
		t.Fatalf("expected clamped profile, got %+v", p)
	}
}

func TestPolicyLevelIsBounded(t *testing.T) {
	for _, policy := range []Policy{DefaultPolicy, {Formula: FormulaBanded, XPPerPost: 1}} {
		for _, xp := range []float64{1e300, math.Inf(1), math.MaxFloat64} {
			p := policy.Apply("u1", xp)
			if p.Level != MaxLevel || p.AvatarStage != 3 {
				t.Fatalf("%s xp=%v: expected capped level, got %+v", policy.Formula, xp, p)
			}
			if math.IsInf(p.XP, 0) {
				t.Fatalf("%s: xp must stay finite, got %v", policy.Formula, p.XP)
			}
		}
		if got := policy.Level(math.NaN()); got != policy.Level(0) {
			t.Fatalf("%s: NaN xp should level like zero, got %d", policy.Formula, got)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("", 0)
	if err != nil || p != DefaultPolicy {
		t.Fatalf("expected default policy, got %+v err=%v", p, err)
	}
	p, err = ParsePolicy("banded", 12)
	if err != nil || p.Formula != FormulaBanded || p.XPPerPost != 12 {
		t.Fatalf("unexpected policy %+v err=%v", p, err)
	}
	if _, err := ParsePolicy("quadratic", 1); err == nil {
		t.Fatalf("expected error for unknown formula")
	}
}

func TestParseJoinCode(t *testing.T) {
	cases := map[string]string{
		"abc234":                             "ABC234",
		"  xyz789 ":                          "XYZ789",
		"https://board.example/join?room=qw": "QW",
		"/?room=ab12cd&x=1":                  "AB12CD",
	}
	for in, want := range cases {
		if got := ParseJoinCode(in); got != want {
			t.Fatalf("ParseJoinCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewRoomCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code := NewRoomCode()
		if len(code) != RoomCodeLength || strings.ToUpper(code) != code {
			t.Fatalf("unexpected code %q", code)
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 45 {
		t.Fatalf("codes are not random enough: %d unique of 50", len(seen))
	}
}

func TestAuthorization(t *testing.T) {
	owner := Session{UserID: "s1", Role: RoleStudent}
	other := Session{UserID: "s2", Role: RoleStudent}
	ta := Session{UserID: "t2", Role: RoleTA}
	teacher := Session{UserID: "t1", Role: RoleTeacher}

	if !CanModify(owner, "s1") {
		t.Fatalf("owner must be able to modify")
	}
	if CanModify(other, "s1") {
		t.Fatalf("other student must not modify")
	}
	if CanModify(other, "") {
		t.Fatalf("student must not modify unowned content")
	}
	if !CanModify(ta, "s1") || !CanModify(teacher, "") {
		t.Fatalf("staff must be able to modify")
	}
	if CanModify(Session{}, "") {
		t.Fatalf("anonymous session must not modify")
	}
	if CanCreateRoom(ta) || !CanCreateRoom(teacher) {
		t.Fatalf("only teachers open rooms")
	}
}

func TestQuestionRedact(t *testing.T) {
	q := Question{ID: "q1", OwnerID: "s1", Anonymous: true}
	if got := q.Redact(Session{UserID: "s2", Role: RoleStudent}); got.OwnerID != "" {
		t.Fatalf("expected owner hidden, got %q", got.OwnerID)
	}
	if got := q.Redact(Session{UserID: "s1", Role: RoleStudent}); got.OwnerID != "s1" {
		t.Fatalf("owner should see own id")
	}
	if got := q.Redact(Session{UserID: "t1", Role: RoleTeacher}); got.OwnerID != "s1" {
		t.Fatalf("staff should see owner")
	}
}

func TestBackendErrorIsTransient(t *testing.T) {
	err := fmt.Errorf("list questions: %w", Transient("query", errors.New("connection reset")))
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient classification, got %v", err)
	}
	var be *BackendError
	if !errors.As(err, &be) || be.Op != "query" {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if !errors.Is(Invalid("empty %s", "text"), ErrValidation) {
		t.Fatalf("expected validation error")
	}
}

func TestReactionCountsFloor(t *testing.T) {
	var c ReactionCounts
	c.Set(ReactionLike, -3)
	c.Add(ReactionThanks)
	if c.Like != 0 || c.Thanks != 1 {
		t.Fatalf("unexpected counts %+v", c)
	}
}

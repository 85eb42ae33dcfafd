package domain

import "time"

// Role is the account role used for authorization decisions.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleTA      Role = "ta"
)

// NormalizeRole maps unknown or empty roles to student.
func NormalizeRole(raw string) Role {
	switch Role(raw) {
	case RoleTeacher, RoleStudent, RoleTA:
		return Role(raw)
	default:
		return RoleStudent
	}
}

// IsStaff reports whether the role may moderate any question or answer.
func (r Role) IsStaff() bool {
	return r == RoleTeacher || r == RoleTA
}

// QuestionStatus is either open or resolved; reopening is allowed.
type QuestionStatus string

const (
	StatusOpen     QuestionStatus = "open"
	StatusResolved QuestionStatus = "resolved"
)

// Valid reports whether s is a known status.
func (s QuestionStatus) Valid() bool {
	return s == StatusOpen || s == StatusResolved
}

// ReactionType is a per-user toggleable endorsement.
type ReactionType string

const (
	ReactionLike   ReactionType = "like"
	ReactionThanks ReactionType = "thanks"
)

// Valid reports whether t is a known reaction type.
func (t ReactionType) Valid() bool {
	return t == ReactionLike || t == ReactionThanks
}

// UserAccount is a registered participant.
type UserAccount struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	AvatarRef   string    `json:"avatarRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	// SessionEpoch advances on sign-out; tokens from older epochs are void.
	SessionEpoch int `json:"-"`
}

// Profile is the gamification state of an account. Level and AvatarStage are
// always derived from XP through a Policy.
type Profile struct {
	UserID      string  `json:"userId"`
	XP          float64 `json:"xp"`
	Level       int     `json:"level"`
	AvatarStage int     `json:"avatarStage"`
}

// Room is a classroom session container joined by Code.
type Room struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Channel   string    `json:"channel,omitempty"`
	TAKey     string    `json:"taKey,omitempty"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Public returns the room without its TA key.
func (r Room) Public() Room {
	r.TAKey = ""
	return r
}

// Membership records that a user joined a room.
type Membership struct {
	UserID   string    `json:"userId"`
	RoomID   string    `json:"roomId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ReactionCounts holds the derived number of reactions per type.
type ReactionCounts struct {
	Like   int `json:"like"`
	Thanks int `json:"thanks"`
}

// Add increments the counter for t.
func (c *ReactionCounts) Add(t ReactionType) {
	switch t {
	case ReactionLike:
		c.Like++
	case ReactionThanks:
		c.Thanks++
	}
}

// Set overwrites the counter for t, flooring at zero.
func (c *ReactionCounts) Set(t ReactionType, n int) {
	if n < 0 {
		n = 0
	}
	switch t {
	case ReactionLike:
		c.Like = n
	case ReactionThanks:
		c.Thanks = n
	}
}

// Question is a post in a room. Answers are ordered oldest first.
type Question struct {
	ID        string         `json:"id"`
	RoomID    string         `json:"roomId"`
	Text      string         `json:"text"`
	Status    QuestionStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	OwnerID   string         `json:"ownerId,omitempty"`
	Author    string         `json:"author,omitempty"`
	Anonymous bool           `json:"anonymous"`
	Reactions ReactionCounts `json:"reactions"`
	Answers   []Answer       `json:"answers"`
}

// Redact hides the owner of an anonymous question from viewers who are
// neither the owner nor staff.
func (q Question) Redact(viewer Session) Question {
	if q.Anonymous && q.OwnerID != viewer.UserID && !viewer.Role.IsStaff() {
		q.OwnerID = ""
	}
	return q
}

// Answer is a threaded reply to a question.
type Answer struct {
	ID         string         `json:"id"`
	QuestionID string         `json:"questionId"`
	Text       string         `json:"text"`
	Author     string         `json:"author"`
	Role       Role           `json:"role"`
	CreatedAt  time.Time      `json:"createdAt"`
	Reactions  ReactionCounts `json:"reactions"`
	OwnerID    string         `json:"ownerId,omitempty"`
}

// NewQuestion carries the fields needed to post a question.
type NewQuestion struct {
	RoomID    string
	Text      string
	Author    string
	Anonymous bool
	OwnerID   string
}

// NewAnswer carries the fields needed to reply to a question.
type NewAnswer struct {
	QuestionID string
	Text       string
	Author     string
	Role       Role
	OwnerID    string
}

// NewRoom carries the fields needed to open a room.
type NewRoom struct {
	Name    string
	Channel string
	TAKey   string
}

// Registration is the sign-up input shared by both backends.
type Registration struct {
	Email        string
	DisplayName  string
	Role         Role
	PasswordHash string
}

// UserPatch updates mutable account fields; nil fields are left untouched.
type UserPatch struct {
	DisplayName *string
	AvatarRef   *string
}

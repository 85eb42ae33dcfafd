package app

import (
	"context"

	"classroom-qa/internal/domain"
)

// Store abstracts where board entities live (embedded document or
// relational database). Read-style lookups return nil, nil when the entity
// does not exist. Mutations take the acting session so the backend can
// authorize them.
type Store interface {
	SignUp(ctx context.Context, reg domain.Registration) (domain.UserAccount, error)
	SignIn(ctx context.Context, email, password string) (domain.UserAccount, error)
	SignOut(ctx context.Context, s domain.Session) error
	GetUser(ctx context.Context, userID string) (*domain.UserAccount, error)
	UpdateUser(ctx context.Context, s domain.Session, patch domain.UserPatch) (domain.UserAccount, error)
	PromoteToTA(ctx context.Context, userID string) (domain.UserAccount, error)

	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
	AddXP(ctx context.Context, userID string, delta float64) (domain.Profile, error)

	CreateRoom(ctx context.Context, s domain.Session, room domain.NewRoom) (domain.Room, error)
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	FindRoomByCode(ctx context.Context, code string) (*domain.Room, error)
	JoinRoom(ctx context.Context, s domain.Session, roomID string) error
	ListJoinedRooms(ctx context.Context, s domain.Session) ([]domain.Room, error)

	CreateQuestion(ctx context.Context, s domain.Session, q domain.NewQuestion) (domain.Question, error)
	GetQuestion(ctx context.Context, questionID string) (*domain.Question, error)
	ListQuestions(ctx context.Context, roomID string) ([]domain.Question, error)
	UpdateQuestionStatus(ctx context.Context, s domain.Session, questionID string, status domain.QuestionStatus) (*domain.Question, error)
	DeleteQuestion(ctx context.Context, s domain.Session, questionID string) (bool, error)
	ToggleQuestionReaction(ctx context.Context, s domain.Session, questionID string, t domain.ReactionType) (*domain.Question, error)

	CreateAnswer(ctx context.Context, s domain.Session, a domain.NewAnswer) (domain.Answer, error)
	GetAnswer(ctx context.Context, answerID string) (*domain.Answer, error)
	UpdateAnswer(ctx context.Context, s domain.Session, answerID, text string) (*domain.Answer, error)
	DeleteAnswer(ctx context.Context, s domain.Session, answerID string) (bool, error)
	ToggleAnswerReaction(ctx context.Context, s domain.Session, answerID string, t domain.ReactionType) (*domain.Answer, error)
}

// RoomDirectory resolves join codes to rooms, usually through a cache.
// It returns domain.ErrNotFound for unknown codes.
type RoomDirectory interface {
	Lookup(ctx context.Context, code string) (domain.Room, error)
}

// TokenIssuer signs and verifies session tokens. Verify yields the user id
// and the session epoch the token was issued in.
type TokenIssuer interface {
	Issue(s domain.Session) (string, error)
	Verify(raw string) (userID string, epoch int, err error)
}

package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/identity"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Board is the single entry point for board use cases. It is bound to one
// Store for its whole lifetime.
type Board struct {
	store    Store
	rooms    RoomDirectory
	tokens   TokenIssuer
	policy   domain.Policy
	logger   *zap.Logger
	validate *validator.Validate
}

func NewBoard(store Store, rooms RoomDirectory, tokens TokenIssuer, policy domain.Policy, logger *zap.Logger) *Board {
	if rooms == nil {
		rooms = StoreDirectory{Store: store}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{
		store:    store,
		rooms:    rooms,
		tokens:   tokens,
		policy:   policy,
		logger:   logger,
		validate: validator.New(),
	}
}

// SignUpInput is the registration request.
type SignUpInput struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	DisplayName string `json:"displayName" validate:"required,max=64"`
	Role        string `json:"role" validate:"omitempty,oneof=teacher student"`
}

// SignUp registers an account and opens a session for it. The TA role is
// never self-assigned; it is granted by joining a room with its TA key.
func (b *Board) SignUp(ctx context.Context, in SignUpInput) (domain.Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := b.validate.Struct(in); err != nil {
		return domain.Session{}, domain.Invalid("%v", err)
	}
	hash, err := identity.HashPassword(in.Password)
	if err != nil {
		return domain.Session{}, err
	}
	user, err := b.store.SignUp(ctx, domain.Registration{
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		Role:         domain.NormalizeRole(in.Role),
		PasswordHash: hash,
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("sign up: %w", err)
	}
	if _, err := b.store.GetProfile(ctx, user.ID); err != nil {
		return domain.Session{}, fmt.Errorf("create profile: %w", err)
	}
	b.logger.Info("account registered", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return b.issue(user)
}

// SignIn verifies credentials and opens a session.
func (b *Board) SignIn(ctx context.Context, email, password string) (domain.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.Session{}, domain.ErrInvalidCredentials
	}
	user, err := b.store.SignIn(ctx, email, password)
	if err != nil {
		return domain.Session{}, err
	}
	if _, err := b.store.GetProfile(ctx, user.ID); err != nil {
		return domain.Session{}, fmt.Errorf("load profile: %w", err)
	}
	return b.issue(user)
}

// SignOut ends the session on the backend. Every token the user holds stops
// authenticating.
func (b *Board) SignOut(ctx context.Context, s domain.Session) error {
	if !s.Authenticated() {
		return nil
	}
	return b.store.SignOut(ctx, s)
}

// Authenticate resolves a session token. The account is reloaded so role
// changes apply to tokens issued before them, and tokens from before the
// user's last sign-out are refused.
func (b *Board) Authenticate(ctx context.Context, token string) (domain.Session, error) {
	userID, epoch, err := b.tokens.Verify(token)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
	}
	user, err := b.store.GetUser(ctx, userID)
	if err != nil {
		return domain.Session{}, err
	}
	if user == nil {
		return domain.Session{}, domain.ErrInvalidCredentials
	}
	if user.SessionEpoch != epoch {
		return domain.Session{}, fmt.Errorf("%w: session signed out", domain.ErrInvalidCredentials)
	}
	s := domain.SessionFor(*user)
	s.Token = token
	return s, nil
}

// Me returns the session's account.
func (b *Board) Me(ctx context.Context, s domain.Session) (domain.UserAccount, error) {
	if err := requireSession(s); err != nil {
		return domain.UserAccount{}, err
	}
	user, err := b.store.GetUser(ctx, s.UserID)
	if err != nil {
		return domain.UserAccount{}, err
	}
	if user == nil {
		return domain.UserAccount{}, domain.ErrNotFound
	}
	return *user, nil
}

// UpdateDisplayName renames the session's account.
func (b *Board) UpdateDisplayName(ctx context.Context, s domain.Session, name string) (domain.UserAccount, error) {
	if err := requireSession(s); err != nil {
		return domain.UserAccount{}, err
	}
	name = strings.TrimSpace(name)
	if err := b.validate.Var(name, "required,max=64"); err != nil {
		return domain.UserAccount{}, domain.Invalid("display name: %v", err)
	}
	return b.store.UpdateUser(ctx, s, domain.UserPatch{DisplayName: &name})
}

// UpdateAvatar stores an avatar reference. An empty ref clears it.
func (b *Board) UpdateAvatar(ctx context.Context, s domain.Session, ref string) (domain.UserAccount, error) {
	if err := requireSession(s); err != nil {
		return domain.UserAccount{}, err
	}
	ref = strings.TrimSpace(ref)
	if err := b.validate.Var(ref, "omitempty,max=512"); err != nil {
		return domain.UserAccount{}, domain.Invalid("avatar: %v", err)
	}
	return b.store.UpdateUser(ctx, s, domain.UserPatch{AvatarRef: &ref})
}

// Profile returns the session's gamification state.
func (b *Board) Profile(ctx context.Context, s domain.Session) (domain.Profile, error) {
	if err := requireSession(s); err != nil {
		return domain.Profile{}, err
	}
	return b.store.GetProfile(ctx, s.UserID)
}

// CreateRoom opens a room. Only teachers may do this; the creator joins it.
func (b *Board) CreateRoom(ctx context.Context, s domain.Session, name, channel, taKey string) (domain.Room, error) {
	if !domain.CanCreateRoom(s) {
		return domain.Room{}, domain.ErrPermission
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Room{}, domain.Invalid("room name is required")
	}
	room, err := b.store.CreateRoom(ctx, s, domain.NewRoom{
		Name:    name,
		Channel: strings.TrimSpace(channel),
		TAKey:   strings.TrimSpace(taKey),
	})
	if err != nil {
		return domain.Room{}, fmt.Errorf("create room: %w", err)
	}
	b.logger.Info("room created", zap.String("room_id", room.ID), zap.String("code", room.Code))
	return room, nil
}

// JoinRoom resolves a code (or a link carrying one) and records the
// membership. A non-empty taKey must match the room's key; a student who
// supplies it is promoted to TA and receives a fresh session token.
func (b *Board) JoinRoom(ctx context.Context, s domain.Session, codeOrURL, taKey string) (domain.Room, domain.Session, error) {
	if err := requireSession(s); err != nil {
		return domain.Room{}, s, err
	}
	code := domain.ParseJoinCode(codeOrURL)
	if code == "" {
		return domain.Room{}, s, domain.Invalid("join code is required")
	}
	room, err := b.rooms.Lookup(ctx, code)
	if err != nil {
		return domain.Room{}, s, err
	}
	if taKey != "" {
		if room.TAKey == "" || subtle.ConstantTimeCompare([]byte(room.TAKey), []byte(taKey)) != 1 {
			return domain.Room{}, s, fmt.Errorf("%w: wrong TA key", domain.ErrPermission)
		}
	}
	if err := b.store.JoinRoom(ctx, s, room.ID); err != nil {
		return domain.Room{}, s, fmt.Errorf("join room: %w", err)
	}
	if taKey != "" && s.Role == domain.RoleStudent {
		user, err := b.store.PromoteToTA(ctx, s.UserID)
		if err != nil {
			return domain.Room{}, s, fmt.Errorf("promote: %w", err)
		}
		promoted, err := b.issue(user)
		if err != nil {
			return domain.Room{}, s, err
		}
		s = promoted
		b.logger.Info("promoted to ta", zap.String("user_id", user.ID), zap.String("room_id", room.ID))
	}
	return b.visibleRoom(s, room), s, nil
}

// JoinedRooms lists the session's rooms, most recently joined first.
func (b *Board) JoinedRooms(ctx context.Context, s domain.Session) ([]domain.Room, error) {
	if err := requireSession(s); err != nil {
		return nil, err
	}
	rooms, err := b.store.ListJoinedRooms(ctx, s)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		rooms[i] = b.visibleRoom(s, rooms[i])
	}
	return rooms, nil
}

// Room returns a room or nil if it does not exist.
func (b *Board) Room(ctx context.Context, s domain.Session, roomID string) (*domain.Room, error) {
	room, err := b.store.GetRoom(ctx, roomID)
	if err != nil || room == nil {
		return nil, err
	}
	visible := b.visibleRoom(s, *room)
	return &visible, nil
}

// CreateQuestion posts a question into a room and grants the poster XP.
// Anonymous questions carry no author name but keep their owner so the
// author can resolve or delete them.
func (b *Board) CreateQuestion(ctx context.Context, s domain.Session, roomID, text string, anonymous bool) (domain.Question, error) {
	if err := requireSession(s); err != nil {
		return domain.Question{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Question{}, domain.Invalid("question text is required")
	}
	author := s.DisplayName
	if anonymous {
		author = ""
	}
	q, err := b.store.CreateQuestion(ctx, s, domain.NewQuestion{
		RoomID:    roomID,
		Text:      text,
		Author:    author,
		Anonymous: anonymous,
		OwnerID:   s.UserID,
	})
	if err != nil {
		return domain.Question{}, fmt.Errorf("create question: %w", err)
	}
	b.grant(ctx, s.UserID, b.policy.XPPerPost)
	return q.Redact(s), nil
}

// ListQuestions returns the room's questions newest first.
func (b *Board) ListQuestions(ctx context.Context, s domain.Session, roomID string) ([]domain.Question, error) {
	questions, err := b.store.ListQuestions(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	for i := range questions {
		questions[i] = questions[i].Redact(s)
	}
	return questions, nil
}

// UpdateQuestionStatus resolves or reopens a question. It returns nil if
// the question no longer exists.
func (b *Board) UpdateQuestionStatus(ctx context.Context, s domain.Session, questionID string, status domain.QuestionStatus) (*domain.Question, error) {
	if err := requireSession(s); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, domain.Invalid("unknown status %q", status)
	}
	q, err := b.store.UpdateQuestionStatus(ctx, s, questionID, status)
	if err != nil || q == nil {
		return nil, err
	}
	redacted := q.Redact(s)
	return &redacted, nil
}

// ToggleQuestionReaction flips the session's reaction of type t on a
// question. It returns nil if the question vanished.
func (b *Board) ToggleQuestionReaction(ctx context.Context, s domain.Session, questionID string, t domain.ReactionType) (*domain.Question, error) {
	if err := requireSession(s); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, domain.Invalid("unknown reaction %q", t)
	}
	q, err := b.store.ToggleQuestionReaction(ctx, s, questionID, t)
	if err != nil || q == nil {
		return nil, err
	}
	redacted := q.Redact(s)
	return &redacted, nil
}

// DeleteQuestion removes a question with its answers and reactions. It
// reports false if the question did not exist. Owners get their XP back
// deducted; staff moderation leaves XP untouched.
func (b *Board) DeleteQuestion(ctx context.Context, s domain.Session, questionID string) (bool, error) {
	if err := requireSession(s); err != nil {
		return false, err
	}
	q, err := b.store.GetQuestion(ctx, questionID)
	if err != nil || q == nil {
		return false, err
	}
	deleted, err := b.store.DeleteQuestion(ctx, s, questionID)
	if err != nil || !deleted {
		return deleted, err
	}
	if q.OwnerID == s.UserID {
		b.grant(ctx, s.UserID, -b.policy.XPPerPost)
	}
	return true, nil
}

// CreateAnswer replies to a question and grants the poster XP.
func (b *Board) CreateAnswer(ctx context.Context, s domain.Session, questionID, text string) (domain.Answer, error) {
	if err := requireSession(s); err != nil {
		return domain.Answer{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Answer{}, domain.Invalid("answer text is required")
	}
	a, err := b.store.CreateAnswer(ctx, s, domain.NewAnswer{
		QuestionID: questionID,
		Text:       text,
		Author:     s.DisplayName,
		Role:       s.Role,
		OwnerID:    s.UserID,
	})
	if err != nil {
		return domain.Answer{}, fmt.Errorf("create answer: %w", err)
	}
	b.grant(ctx, s.UserID, b.policy.XPPerPost)
	return a, nil
}

// UpdateAnswer edits an answer's text. It returns nil if the answer no
// longer exists.
func (b *Board) UpdateAnswer(ctx context.Context, s domain.Session, answerID, text string) (*domain.Answer, error) {
	if err := requireSession(s); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Invalid("answer text is required")
	}
	return b.store.UpdateAnswer(ctx, s, answerID, text)
}

// DeleteAnswer removes an answer and its reactions.
func (b *Board) DeleteAnswer(ctx context.Context, s domain.Session, answerID string) (bool, error) {
	if err := requireSession(s); err != nil {
		return false, err
	}
	a, err := b.store.GetAnswer(ctx, answerID)
	if err != nil || a == nil {
		return false, err
	}
	deleted, err := b.store.DeleteAnswer(ctx, s, answerID)
	if err != nil || !deleted {
		return deleted, err
	}
	if a.OwnerID == s.UserID {
		b.grant(ctx, s.UserID, -b.policy.XPPerPost)
	}
	return true, nil
}

// ToggleAnswerReaction flips the session's reaction of type t on an answer.
func (b *Board) ToggleAnswerReaction(ctx context.Context, s domain.Session, answerID string, t domain.ReactionType) (*domain.Answer, error) {
	if err := requireSession(s); err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, domain.Invalid("unknown reaction %q", t)
	}
	return b.store.ToggleAnswerReaction(ctx, s, answerID, t)
}

// grant adjusts XP after a post or deletion has already been committed. A
// failure is logged rather than returned so the caller never retries a
// write that succeeded.
func (b *Board) grant(ctx context.Context, userID string, delta float64) {
	if delta == 0 {
		return
	}
	p, err := b.store.AddXP(ctx, userID, delta)
	if err != nil {
		b.logger.Warn("xp update failed", zap.String("user_id", userID), zap.Float64("delta", delta), zap.Error(err))
		return
	}
	b.logger.Debug("xp updated", zap.String("user_id", userID), zap.Float64("xp", p.XP), zap.Int("level", p.Level))
}

func (b *Board) issue(user domain.UserAccount) (domain.Session, error) {
	s := domain.SessionFor(user)
	token, err := b.tokens.Issue(s)
	if err != nil {
		return domain.Session{}, err
	}
	s.Token = token
	return s, nil
}

// visibleRoom hides the TA key from everyone but the room's creator.
func (b *Board) visibleRoom(s domain.Session, room domain.Room) domain.Room {
	if room.CreatedBy != "" && room.CreatedBy == s.UserID {
		return room
	}
	return room.Public()
}

func requireSession(s domain.Session) error {
	if !s.Authenticated() {
		return fmt.Errorf("%w: sign in required", domain.ErrPermission)
	}
	return nil
}

// StoreDirectory resolves join codes straight from the store.
type StoreDirectory struct {
	Store interface {
		FindRoomByCode(ctx context.Context, code string) (*domain.Room, error)
	}
}

func (d StoreDirectory) Lookup(ctx context.Context, code string) (domain.Room, error) {
	room, err := d.Store.FindRoomByCode(ctx, code)
	if err != nil {
		return domain.Room{}, err
	}
	if room == nil {
		return domain.Room{}, fmt.Errorf("room %s: %w", code, domain.ErrNotFound)
	}
	return *room, nil
}

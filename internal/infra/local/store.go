package local

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/identity"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Blob persists the board document as one opaque value. Load returns nil
// when nothing has been saved yet. Update replaces the document with fn's
// result atomically with respect to every other Update on the same blob,
// which may mean calling fn more than once; nothing is stored if fn fails.
type Blob interface {
	Load(ctx context.Context) ([]byte, error)
	Update(ctx context.Context, fn func([]byte) ([]byte, error)) error
}

const maxCodeAttempts = 16

// Store keeps the whole board in a single document. Every operation loads
// the document, applies its change and saves it back while holding mu, so
// operations within a process never lose each other's writes.
type Store struct {
	blob   Blob
	policy domain.Policy
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	mu sync.Mutex
}

func NewStore(blob Blob, policy domain.Policy, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		blob:   blob,
		policy: policy,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

func (s *Store) load(ctx context.Context) (*document, error) {
	data, err := s.blob.Load(ctx)
	if err != nil {
		return nil, domain.Transient("load document", err)
	}
	return decodeDocument(data, s.policy, s.logger), nil
}

func (s *Store) read(ctx context.Context, fn func(*document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	return fn(doc)
}

// write saves the document only if fn succeeds. fn may run again on a
// fresher document when another process sharing the blob wrote first.
func (s *Store) write(ctx context.Context, fn func(*document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fnErr error
	err := s.blob.Update(ctx, func(current []byte) ([]byte, error) {
		doc := decodeDocument(current, s.policy, s.logger)
		if fnErr = fn(doc); fnErr != nil {
			return nil, fnErr
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode document: %w", err)
		}
		return data, nil
	})
	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		return fnErr
	default:
		return domain.Transient("save document", err)
	}
}

func (s *Store) SignUp(ctx context.Context, reg domain.Registration) (domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.write(ctx, func(d *document) error {
		email := strings.ToLower(strings.TrimSpace(reg.Email))
		if d.userByEmail(email) >= 0 {
			return domain.ErrEmailTaken
		}
		user = domain.UserAccount{
			ID:          s.newID(),
			Email:       email,
			DisplayName: reg.DisplayName,
			Role:        domain.NormalizeRole(string(reg.Role)),
			CreatedAt:   s.now(),
		}
		d.Users = append(d.Users, userRecord{UserAccount: user, PasswordHash: reg.PasswordHash})
		d.Profiles[user.ID] = s.policy.Apply(user.ID, 0)
		d.CurrentUserID = user.ID
		return nil
	})
	return user, err
}

func (s *Store) SignIn(ctx context.Context, email, password string) (domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.write(ctx, func(d *document) error {
		i := d.userByEmail(strings.ToLower(strings.TrimSpace(email)))
		if i < 0 {
			return domain.ErrInvalidCredentials
		}
		if err := identity.CheckPassword(d.Users[i].PasswordHash, password); err != nil {
			return err
		}
		user = d.Users[i].account()
		if _, ok := d.Profiles[user.ID]; !ok {
			d.Profiles[user.ID] = s.policy.Apply(user.ID, 0)
		}
		d.CurrentUserID = user.ID
		return nil
	})
	return user, err
}

// SignOut advances the user's session epoch, voiding every token issued
// before it.
func (s *Store) SignOut(ctx context.Context, sess domain.Session) error {
	return s.write(ctx, func(d *document) error {
		if i := d.userIndex(sess.UserID); i >= 0 {
			d.Users[i].Epoch++
		}
		if d.CurrentUserID == sess.UserID {
			d.CurrentUserID = ""
		}
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.UserAccount, error) {
	var user *domain.UserAccount
	err := s.read(ctx, func(d *document) error {
		if i := d.userIndex(userID); i >= 0 {
			u := d.Users[i].account()
			user = &u
		}
		return nil
	})
	return user, err
}

func (s *Store) UpdateUser(ctx context.Context, sess domain.Session, patch domain.UserPatch) (domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.write(ctx, func(d *document) error {
		i := d.userIndex(sess.UserID)
		if i < 0 {
			return fmt.Errorf("user %s: %w", sess.UserID, domain.ErrNotFound)
		}
		if patch.DisplayName != nil {
			d.Users[i].DisplayName = *patch.DisplayName
		}
		if patch.AvatarRef != nil {
			d.Users[i].AvatarRef = *patch.AvatarRef
		}
		user = d.Users[i].account()
		return nil
	})
	return user, err
}

func (s *Store) PromoteToTA(ctx context.Context, userID string) (domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.write(ctx, func(d *document) error {
		i := d.userIndex(userID)
		if i < 0 {
			return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
		}
		if d.Users[i].Role == domain.RoleStudent {
			d.Users[i].Role = domain.RoleTA
		}
		user = d.Users[i].account()
		return nil
	})
	return user, err
}

func (s *Store) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	var profile domain.Profile
	err := s.write(ctx, func(d *document) error {
		p, ok := d.Profiles[userID]
		if !ok {
			p = s.policy.Apply(userID, 0)
			d.Profiles[userID] = p
		}
		profile = p
		return nil
	})
	return profile, err
}

func (s *Store) AddXP(ctx context.Context, userID string, delta float64) (domain.Profile, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return domain.Profile{}, domain.Invalid("xp delta must be finite")
	}
	var profile domain.Profile
	err := s.write(ctx, func(d *document) error {
		profile = s.policy.Apply(userID, d.Profiles[userID].XP+delta)
		d.Profiles[userID] = profile
		return nil
	})
	return profile, err
}

func (s *Store) CreateRoom(ctx context.Context, sess domain.Session, nr domain.NewRoom) (domain.Room, error) {
	if !domain.CanCreateRoom(sess) {
		return domain.Room{}, domain.ErrPermission
	}
	var room domain.Room
	err := s.write(ctx, func(d *document) error {
		code := ""
		for attempt := 0; attempt < maxCodeAttempts; attempt++ {
			candidate := domain.NewRoomCode()
			if d.roomByCode(candidate) < 0 {
				code = candidate
				break
			}
		}
		if code == "" {
			return domain.Transient("create room", fmt.Errorf("no free room code after %d attempts", maxCodeAttempts))
		}
		now := s.now()
		room = domain.Room{
			ID:        s.newID(),
			Code:      code,
			Name:      nr.Name,
			Channel:   nr.Channel,
			TAKey:     nr.TAKey,
			CreatedBy: sess.UserID,
			CreatedAt: now,
		}
		d.Rooms = append(d.Rooms, room)
		d.Memberships = append(d.Memberships, domain.Membership{UserID: sess.UserID, RoomID: room.ID, JoinedAt: now})
		return nil
	})
	return room, err
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	var room *domain.Room
	err := s.read(ctx, func(d *document) error {
		if i := d.roomIndex(roomID); i >= 0 {
			r := d.Rooms[i]
			room = &r
		}
		return nil
	})
	return room, err
}

func (s *Store) FindRoomByCode(ctx context.Context, code string) (*domain.Room, error) {
	var room *domain.Room
	err := s.read(ctx, func(d *document) error {
		if i := d.roomByCode(strings.ToUpper(strings.TrimSpace(code))); i >= 0 {
			r := d.Rooms[i]
			room = &r
		}
		return nil
	})
	return room, err
}

// JoinRoom records the membership; joining again refreshes JoinedAt.
func (s *Store) JoinRoom(ctx context.Context, sess domain.Session, roomID string) error {
	if !sess.Authenticated() {
		return domain.ErrPermission
	}
	return s.write(ctx, func(d *document) error {
		if d.roomIndex(roomID) < 0 {
			return fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
		}
		now := s.now()
		for i := range d.Memberships {
			if d.Memberships[i].UserID == sess.UserID && d.Memberships[i].RoomID == roomID {
				d.Memberships[i].JoinedAt = now
				return nil
			}
		}
		d.Memberships = append(d.Memberships, domain.Membership{UserID: sess.UserID, RoomID: roomID, JoinedAt: now})
		return nil
	})
}

func (s *Store) ListJoinedRooms(ctx context.Context, sess domain.Session) ([]domain.Room, error) {
	rooms := []domain.Room{}
	err := s.read(ctx, func(d *document) error {
		mine := make([]domain.Membership, 0)
		for _, m := range d.Memberships {
			if m.UserID == sess.UserID {
				mine = append(mine, m)
			}
		}
		sort.SliceStable(mine, func(i, j int) bool { return mine[i].JoinedAt.After(mine[j].JoinedAt) })
		for _, m := range mine {
			if i := d.roomIndex(m.RoomID); i >= 0 {
				rooms = append(rooms, d.Rooms[i])
			}
		}
		return nil
	})
	return rooms, err
}

func (s *Store) CreateQuestion(ctx context.Context, sess domain.Session, nq domain.NewQuestion) (domain.Question, error) {
	if !sess.Authenticated() || (nq.OwnerID != "" && nq.OwnerID != sess.UserID) {
		return domain.Question{}, domain.ErrPermission
	}
	var q domain.Question
	err := s.write(ctx, func(d *document) error {
		if d.roomIndex(nq.RoomID) < 0 {
			return fmt.Errorf("room %s: %w", nq.RoomID, domain.ErrNotFound)
		}
		q = domain.Question{
			ID:        s.newID(),
			RoomID:    nq.RoomID,
			Text:      nq.Text,
			Status:    domain.StatusOpen,
			CreatedAt: s.now(),
			OwnerID:   nq.OwnerID,
			Author:    nq.Author,
			Anonymous: nq.Anonymous,
			Answers:   []domain.Answer{},
		}
		d.Questions = append([]domain.Question{q}, d.Questions...)
		return nil
	})
	return q, err
}

func (s *Store) GetQuestion(ctx context.Context, questionID string) (*domain.Question, error) {
	var q *domain.Question
	err := s.read(ctx, func(d *document) error {
		if i := d.questionIndex(questionID); i >= 0 {
			found := d.Questions[i]
			q = &found
		}
		return nil
	})
	return q, err
}

// ListQuestions returns newest questions first, each with answers oldest
// first.
func (s *Store) ListQuestions(ctx context.Context, roomID string) ([]domain.Question, error) {
	questions := []domain.Question{}
	err := s.read(ctx, func(d *document) error {
		for _, q := range d.Questions {
			if q.RoomID != roomID {
				continue
			}
			sort.SliceStable(q.Answers, func(i, j int) bool { return q.Answers[i].CreatedAt.Before(q.Answers[j].CreatedAt) })
			questions = append(questions, q)
		}
		sort.SliceStable(questions, func(i, j int) bool { return questions[i].CreatedAt.After(questions[j].CreatedAt) })
		return nil
	})
	return questions, err
}

func (s *Store) UpdateQuestionStatus(ctx context.Context, sess domain.Session, questionID string, status domain.QuestionStatus) (*domain.Question, error) {
	if !status.Valid() {
		return nil, domain.Invalid("unknown status %q", status)
	}
	var q *domain.Question
	err := s.write(ctx, func(d *document) error {
		i := d.questionIndex(questionID)
		if i < 0 {
			return nil
		}
		if !domain.CanChangeStatus(sess, d.Questions[i]) {
			return domain.ErrPermission
		}
		d.Questions[i].Status = status
		updated := d.Questions[i]
		q = &updated
		return nil
	})
	return q, err
}

func (s *Store) DeleteQuestion(ctx context.Context, sess domain.Session, questionID string) (bool, error) {
	deleted := false
	err := s.write(ctx, func(d *document) error {
		i := d.questionIndex(questionID)
		if i < 0 {
			return nil
		}
		q := d.Questions[i]
		if !domain.CanModify(sess, q.OwnerID) {
			return domain.ErrPermission
		}
		answerIDs := make(map[string]struct{}, len(q.Answers))
		for _, a := range q.Answers {
			answerIDs[a.ID] = struct{}{}
		}
		d.Questions = append(d.Questions[:i], d.Questions[i+1:]...)
		d.QuestionReactions = dropReactions(d.QuestionReactions, map[string]struct{}{questionID: {}})
		d.AnswerReactions = dropReactions(d.AnswerReactions, answerIDs)
		deleted = true
		return nil
	})
	return deleted, err
}

func (s *Store) ToggleQuestionReaction(ctx context.Context, sess domain.Session, questionID string, t domain.ReactionType) (*domain.Question, error) {
	if !t.Valid() {
		return nil, domain.Invalid("unknown reaction %q", t)
	}
	if !sess.Authenticated() {
		return nil, domain.ErrPermission
	}
	var q *domain.Question
	err := s.write(ctx, func(d *document) error {
		i := d.questionIndex(questionID)
		if i < 0 {
			return nil
		}
		d.QuestionReactions = toggle(d.QuestionReactions, questionID, sess.UserID, t, s.now())
		d.recount()
		updated := d.Questions[i]
		q = &updated
		return nil
	})
	return q, err
}

func (s *Store) CreateAnswer(ctx context.Context, sess domain.Session, na domain.NewAnswer) (domain.Answer, error) {
	if !sess.Authenticated() || (na.OwnerID != "" && na.OwnerID != sess.UserID) {
		return domain.Answer{}, domain.ErrPermission
	}
	var a domain.Answer
	err := s.write(ctx, func(d *document) error {
		i := d.questionIndex(na.QuestionID)
		if i < 0 {
			return fmt.Errorf("question %s: %w", na.QuestionID, domain.ErrNotFound)
		}
		a = domain.Answer{
			ID:         s.newID(),
			QuestionID: na.QuestionID,
			Text:       na.Text,
			Author:     na.Author,
			Role:       domain.NormalizeRole(string(na.Role)),
			CreatedAt:  s.now(),
			OwnerID:    na.OwnerID,
		}
		d.Questions[i].Answers = append(d.Questions[i].Answers, a)
		return nil
	})
	return a, err
}

func (s *Store) GetAnswer(ctx context.Context, answerID string) (*domain.Answer, error) {
	var a *domain.Answer
	err := s.read(ctx, func(d *document) error {
		if qi, ai := d.answerIndex(answerID); qi >= 0 {
			found := d.Questions[qi].Answers[ai]
			a = &found
		}
		return nil
	})
	return a, err
}

func (s *Store) UpdateAnswer(ctx context.Context, sess domain.Session, answerID, text string) (*domain.Answer, error) {
	var a *domain.Answer
	err := s.write(ctx, func(d *document) error {
		qi, ai := d.answerIndex(answerID)
		if qi < 0 {
			return nil
		}
		answer := &d.Questions[qi].Answers[ai]
		if !domain.CanModify(sess, answer.OwnerID) {
			return domain.ErrPermission
		}
		answer.Text = text
		updated := *answer
		a = &updated
		return nil
	})
	return a, err
}

func (s *Store) DeleteAnswer(ctx context.Context, sess domain.Session, answerID string) (bool, error) {
	deleted := false
	err := s.write(ctx, func(d *document) error {
		qi, ai := d.answerIndex(answerID)
		if qi < 0 {
			return nil
		}
		answers := d.Questions[qi].Answers
		if !domain.CanModify(sess, answers[ai].OwnerID) {
			return domain.ErrPermission
		}
		d.Questions[qi].Answers = append(answers[:ai], answers[ai+1:]...)
		d.AnswerReactions = dropReactions(d.AnswerReactions, map[string]struct{}{answerID: {}})
		deleted = true
		return nil
	})
	return deleted, err
}

func (s *Store) ToggleAnswerReaction(ctx context.Context, sess domain.Session, answerID string, t domain.ReactionType) (*domain.Answer, error) {
	if !t.Valid() {
		return nil, domain.Invalid("unknown reaction %q", t)
	}
	if !sess.Authenticated() {
		return nil, domain.ErrPermission
	}
	var a *domain.Answer
	err := s.write(ctx, func(d *document) error {
		qi, ai := d.answerIndex(answerID)
		if qi < 0 {
			return nil
		}
		d.AnswerReactions = toggle(d.AnswerReactions, answerID, sess.UserID, t, s.now())
		d.recount()
		updated := d.Questions[qi].Answers[ai]
		a = &updated
		return nil
	})
	return a, err
}

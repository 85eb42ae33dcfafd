package local

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"classroom-qa/internal/domain"
	"go.uber.org/zap"
)

// DocumentKey is the fixed name of the persisted board document.
const DocumentKey = "classroom-qa:v1"

type userRecord struct {
	domain.UserAccount
	PasswordHash string `json:"passwordHash"`
	Epoch        int    `json:"sessionEpoch,omitempty"`
}

func (r userRecord) account() domain.UserAccount {
	u := r.UserAccount
	u.SessionEpoch = r.Epoch
	return u
}

type reactionRecord struct {
	TargetID  string              `json:"targetId"`
	UserID    string              `json:"userId"`
	Type      domain.ReactionType `json:"type"`
	CreatedAt time.Time           `json:"createdAt"`
}

// document is the whole board state. Questions embed their answers.
type document struct {
	Rooms             []domain.Room             `json:"rooms"`
	Questions         []domain.Question         `json:"questions"`
	Profiles          map[string]domain.Profile `json:"profiles"`
	Users             []userRecord              `json:"users"`
	Memberships       []domain.Membership       `json:"memberships"`
	QuestionReactions []reactionRecord          `json:"questionReactions"`
	AnswerReactions   []reactionRecord          `json:"answerReactions"`
	CurrentUserID     string                    `json:"currentUserId,omitempty"`
}

func emptyDocument() *document {
	return &document{
		Rooms:             []domain.Room{},
		Questions:         []domain.Question{},
		Profiles:          map[string]domain.Profile{},
		Users:             []userRecord{},
		Memberships:       []domain.Membership{},
		QuestionReactions: []reactionRecord{},
		AnswerReactions:   []reactionRecord{},
	}
}

// decodeDocument never fails. An unreadable document yields the empty
// document and each malformed field is reset on its own.
func decodeDocument(data []byte, policy domain.Policy, logger *zap.Logger) *document {
	doc := emptyDocument()
	if len(bytes.TrimSpace(data)) == 0 {
		return doc
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		logger.Warn("local document unreadable, starting empty", zap.Error(err))
		return doc
	}

	decodeField(fields, "rooms", &doc.Rooms, logger)
	decodeField(fields, "questions", &doc.Questions, logger)
	decodeField(fields, "profiles", &doc.Profiles, logger)
	decodeField(fields, "users", &doc.Users, logger)
	decodeField(fields, "memberships", &doc.Memberships, logger)
	decodeField(fields, "questionReactions", &doc.QuestionReactions, logger)
	decodeField(fields, "answerReactions", &doc.AnswerReactions, logger)
	decodeField(fields, "currentUserId", &doc.CurrentUserID, logger)

	var legacy *domain.Profile
	decodeField(fields, "profile", &legacy, logger)

	doc.normalize(policy, legacy)
	return doc
}

func decodeField[T any](fields map[string]json.RawMessage, name string, dst *T, logger *zap.Logger) {
	raw, ok := fields[name]
	if !ok || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		logger.Warn("local document field reset", zap.String("field", name), zap.Error(err))
		return
	}
	*dst = v
}

func (d *document) normalize(policy domain.Policy, legacy *domain.Profile) {
	if d.Rooms == nil {
		d.Rooms = []domain.Room{}
	}
	if d.Questions == nil {
		d.Questions = []domain.Question{}
	}
	if d.Profiles == nil {
		d.Profiles = map[string]domain.Profile{}
	}
	if d.Users == nil {
		d.Users = []userRecord{}
	}
	if d.Memberships == nil {
		d.Memberships = []domain.Membership{}
	}

	if legacy != nil && d.CurrentUserID != "" {
		if _, ok := d.Profiles[d.CurrentUserID]; !ok {
			d.Profiles[d.CurrentUserID] = *legacy
		}
	}
	for id, p := range d.Profiles {
		if id == "" {
			delete(d.Profiles, id)
			continue
		}
		d.Profiles[id] = policy.Apply(id, p.XP)
	}

	users := d.Users[:0]
	for _, u := range d.Users {
		if u.ID == "" {
			continue
		}
		u.Email = strings.ToLower(strings.TrimSpace(u.Email))
		u.Role = domain.NormalizeRole(string(u.Role))
		users = append(users, u)
	}
	d.Users = users

	rooms := d.Rooms[:0]
	for _, r := range d.Rooms {
		if r.ID == "" {
			continue
		}
		r.Code = strings.ToUpper(strings.TrimSpace(r.Code))
		rooms = append(rooms, r)
	}
	d.Rooms = rooms

	questions := d.Questions[:0]
	for _, q := range d.Questions {
		if q.ID == "" {
			continue
		}
		if !q.Status.Valid() {
			q.Status = domain.StatusOpen
		}
		answers := make([]domain.Answer, 0, len(q.Answers))
		for _, a := range q.Answers {
			if a.ID == "" {
				continue
			}
			a.QuestionID = q.ID
			a.Role = domain.NormalizeRole(string(a.Role))
			answers = append(answers, a)
		}
		q.Answers = answers
		questions = append(questions, q)
	}
	d.Questions = questions

	memberships := d.Memberships[:0]
	for _, m := range d.Memberships {
		if m.UserID != "" && m.RoomID != "" && !containsMembership(memberships, m.UserID, m.RoomID) {
			memberships = append(memberships, m)
		}
	}
	d.Memberships = memberships

	d.QuestionReactions = dedupReactions(d.QuestionReactions)
	d.AnswerReactions = dedupReactions(d.AnswerReactions)
	d.recount()
}

// dedupReactions drops invalid rows and keeps the first row per tuple.
func dedupReactions(rows []reactionRecord) []reactionRecord {
	out := make([]reactionRecord, 0, len(rows))
	seen := make(map[reactionRecord]struct{}, len(rows))
	for _, r := range rows {
		if r.TargetID == "" || r.UserID == "" || !r.Type.Valid() {
			continue
		}
		key := reactionRecord{TargetID: r.TargetID, UserID: r.UserID, Type: r.Type}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// recount derives every reaction counter from the reaction rows.
func (d *document) recount() {
	questionCounts := countReactions(d.QuestionReactions)
	answerCounts := countReactions(d.AnswerReactions)
	for qi := range d.Questions {
		q := &d.Questions[qi]
		q.Reactions = questionCounts[q.ID]
		for ai := range q.Answers {
			q.Answers[ai].Reactions = answerCounts[q.Answers[ai].ID]
		}
	}
}

func countReactions(rows []reactionRecord) map[string]domain.ReactionCounts {
	counts := make(map[string]domain.ReactionCounts)
	for _, r := range rows {
		c := counts[r.TargetID]
		c.Add(r.Type)
		counts[r.TargetID] = c
	}
	return counts
}

func containsMembership(ms []domain.Membership, userID, roomID string) bool {
	for _, m := range ms {
		if m.UserID == userID && m.RoomID == roomID {
			return true
		}
	}
	return false
}

func (d *document) userIndex(id string) int {
	for i := range d.Users {
		if d.Users[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *document) userByEmail(email string) int {
	for i := range d.Users {
		if d.Users[i].Email == email {
			return i
		}
	}
	return -1
}

func (d *document) roomIndex(id string) int {
	for i := range d.Rooms {
		if d.Rooms[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *document) roomByCode(code string) int {
	for i := range d.Rooms {
		if d.Rooms[i].Code == code {
			return i
		}
	}
	return -1
}

func (d *document) questionIndex(id string) int {
	for i := range d.Questions {
		if d.Questions[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *document) answerIndex(id string) (int, int) {
	for qi := range d.Questions {
		for ai := range d.Questions[qi].Answers {
			if d.Questions[qi].Answers[ai].ID == id {
				return qi, ai
			}
		}
	}
	return -1, -1
}

// toggle removes the (target, user, type) row if present and adds it
// otherwise.
func toggle(rows []reactionRecord, targetID, userID string, t domain.ReactionType, now time.Time) []reactionRecord {
	for i, r := range rows {
		if r.TargetID == targetID && r.UserID == userID && r.Type == t {
			return append(rows[:i], rows[i+1:]...)
		}
	}
	return append(rows, reactionRecord{TargetID: targetID, UserID: userID, Type: t, CreatedAt: now})
}

func dropReactions(rows []reactionRecord, targets map[string]struct{}) []reactionRecord {
	out := rows[:0]
	for _, r := range rows {
		if _, gone := targets[r.TargetID]; !gone {
			out = append(out, r)
		}
	}
	return out
}

package domain

// Session is the authenticated caller. It is passed explicitly to every
// mutating operation instead of living in shared state.
type Session struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	Token       string `json:"token,omitempty"`
	Epoch       int    `json:"-"`
}

// SessionFor builds a session for an account.
func SessionFor(u UserAccount) Session {
	return Session{
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Epoch:       u.SessionEpoch,
	}
}

// Authenticated reports whether the session identifies a user.
func (s Session) Authenticated() bool {
	return s.UserID != ""
}

// CanModify reports whether the session may edit or delete content owned by
// ownerID. Content without an owner can only be moderated by staff.
func CanModify(s Session, ownerID string) bool {
	if !s.Authenticated() {
		return false
	}
	if s.Role.IsStaff() {
		return true
	}
	return ownerID != "" && ownerID == s.UserID
}

// CanChangeStatus reports whether the session may resolve or reopen a
// question: its author (self-service "understood") or any teacher/TA.
func CanChangeStatus(s Session, q Question) bool {
	return CanModify(s, q.OwnerID)
}

// CanCreateRoom reports whether the session may open rooms.
func CanCreateRoom(s Session) bool {
	return s.Authenticated() && s.Role == RoleTeacher
}

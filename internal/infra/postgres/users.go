package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/identity"
	"github.com/jackc/pgx/v4"
	"go.uber.org/zap"
)

func (s *Store) SignUp(ctx context.Context, reg domain.Registration) (domain.UserAccount, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id := s.newID()
	var row userRow
	err := s.withUser(ctx, id, func(tx pgx.Tx) error {
		var err error
		row, err = scanUser(tx.QueryRow(ctx,
			`INSERT INTO app_users (id, email, display_name, role, password_hash, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+userColumns,
			id, strings.ToLower(strings.TrimSpace(reg.Email)), reg.DisplayName,
			string(domain.NormalizeRole(string(reg.Role))), reg.PasswordHash, s.now()))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, id)
		return err
	})
	if isUniqueViolation(err, "app_users_email_key") {
		return domain.UserAccount{}, domain.ErrEmailTaken
	}
	if err != nil {
		return domain.UserAccount{}, classify("sign up", err)
	}
	return mapUser(row), nil
}

func (s *Store) SignIn(ctx context.Context, email, password string) (domain.UserAccount, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM app_users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email))))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserAccount{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.UserAccount{}, classify("sign in", err)
	}
	if err := identity.CheckPassword(deref(row.PasswordHash), password); err != nil {
		return domain.UserAccount{}, err
	}
	return mapUser(row), nil
}

// SignOut advances the user's session epoch so tokens issued before it stop
// authenticating.
func (s *Store) SignOut(ctx context.Context, sess domain.Session) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.withUser(ctx, sess.UserID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE app_users SET session_epoch = session_epoch + 1 WHERE id = $1`, sess.UserID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("user %s: %w", sess.UserID, domain.ErrNotFound)
		}
		return nil
	})
	return classify("sign out", err)
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.UserAccount, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM app_users WHERE id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get user", err)
	}
	user := mapUser(row)
	return &user, nil
}

func (s *Store) UpdateUser(ctx context.Context, sess domain.Session, patch domain.UserPatch) (domain.UserAccount, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row userRow
	err := s.withUser(ctx, sess.UserID, func(tx pgx.Tx) error {
		var err error
		row, err = scanUser(tx.QueryRow(ctx,
			`UPDATE app_users
			 SET display_name = COALESCE($2, display_name),
			     avatar_ref = CASE WHEN $3::text IS NULL THEN avatar_ref ELSE NULLIF($3::text, '') END
			 WHERE id = $1
			 RETURNING `+userColumns,
			sess.UserID, patch.DisplayName, patch.AvatarRef))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		if found, err := s.rejected(ctx, "app_users", sess.UserID); found || err != nil {
			return domain.UserAccount{}, classify("update user", err)
		}
		return domain.UserAccount{}, fmt.Errorf("user %s: %w", sess.UserID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.UserAccount{}, classify("update user", err)
	}
	return mapUser(row), nil
}

// PromoteToTA runs outside appRole: the caller has already verified the
// room's TA key, and row policies never let users change their own role.
func (s *Store) PromoteToTA(ctx context.Context, userID string) (domain.UserAccount, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE app_users
		 SET role = CASE WHEN role = 'student' THEN 'ta' ELSE role END
		 WHERE id = $1
		 RETURNING `+userColumns, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserAccount{}, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.UserAccount{}, classify("promote", err)
	}
	user := mapUser(row)
	s.logger.Info("role changed", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// GetProfile returns the profile, creating a zero one on first access.
func (s *Store) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := profileRow{UserID: userID}
	err := s.withUser(ctx, userID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO profiles (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `SELECT xp FROM profiles WHERE user_id = $1`, userID).Scan(&row.XP)
	})
	if err != nil {
		return domain.Profile{}, classify("get profile", err)
	}
	return mapProfile(row, s.policy), nil
}

// AddXP applies delta in one statement, flooring the balance at zero.
func (s *Store) AddXP(ctx context.Context, userID string, delta float64) (domain.Profile, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return domain.Profile{}, domain.Invalid("xp delta must be finite")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := profileRow{UserID: userID}
	err := s.withUser(ctx, userID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`INSERT INTO profiles (user_id, xp) VALUES ($1, GREATEST(0, $2::float8))
			 ON CONFLICT (user_id) DO UPDATE SET xp = GREATEST(0, profiles.xp + $2::float8)
			 RETURNING xp`, userID, delta).Scan(&row.XP)
	})
	if err != nil {
		return domain.Profile{}, classify("add xp", err)
	}
	return mapProfile(row, s.policy), nil
}

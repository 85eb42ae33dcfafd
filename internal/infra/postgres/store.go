package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classroom-qa/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds every backend call.
const DefaultRequestTimeout = 10 * time.Second

// appRole is the database role mutations run under so row policies apply.
const appRole = "qa_app"

const maxCodeAttempts = 16

// SQLSTATE codes the store reacts to.
const (
	codeInsufficientPrivilege = "42501"
	codeForeignKeyViolation   = "23503"
	codeUniqueViolation       = "23505"
)

// Store is the relational board store. Reads run on the pool directly;
// every mutation runs in a short transaction as appRole with the session
// user published in qa.user_id, so the database enforces ownership.
type Store struct {
	pool    *pgxpool.Pool
	policy  domain.Policy
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

// Connect opens a pool on url, using key as the connection password.
func Connect(ctx context.Context, url, key string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if key != "" {
		cfg.ConnConfig.Password = key
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, domain.Transient("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, domain.Transient("ping", err)
	}
	return pool, nil
}

func NewStore(pool *pgxpool.Pool, policy domain.Policy, timeout time.Duration, logger *zap.Logger) *Store {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:    pool,
		policy:  policy,
		logger:  logger,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:   uuid.NewString,
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// withUser runs fn in a transaction scoped to appRole and userID.
func (s *Store) withUser(ctx context.Context, userID string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SET LOCAL ROLE `+appRole); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('qa.user_id', $1, true)`, userID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// classify maps driver errors onto the domain taxonomy. Domain errors pass
// through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		domain.ErrNotFound,
		domain.ErrPermission,
		domain.ErrValidation,
		domain.ErrInvalidCredentials,
		domain.ErrEmailTaken,
		domain.ErrTransient,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeInsufficientPrivilege:
			return fmt.Errorf("%s: %w", op, domain.ErrPermission)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
	}
	return domain.Transient(op, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// exists reports whether a row with id is present in table. It resolves a
// zero-row mutation into a permission failure or a vanished row.
func (s *Store) exists(ctx context.Context, table, id string) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&found)
	return found, err
}

// rejected turns a mutation that touched no rows into ErrPermission if the
// row still exists, and into (false, nil) if it does not.
func (s *Store) rejected(ctx context.Context, table, id string) (bool, error) {
	found, err := s.exists(ctx, table, id)
	if err != nil {
		return false, err
	}
	if found {
		return true, domain.ErrPermission
	}
	return false, nil
}

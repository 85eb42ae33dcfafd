package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"classroom-qa/internal/domain"
	"github.com/jackc/pgx/v4"
)

func (s *Store) CreateRoom(ctx context.Context, sess domain.Session, nr domain.NewRoom) (domain.Room, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		var row roomRow
		now := s.now()
		err := s.withUser(ctx, sess.UserID, func(tx pgx.Tx) error {
			var err error
			row, err = scanRoom(tx.QueryRow(ctx,
				`INSERT INTO rooms (id, code, name, channel, ta_key, created_by, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 RETURNING `+roomColumns,
				s.newID(), domain.NewRoomCode(), nr.Name, nullable(nr.Channel), nullable(nr.TAKey), sess.UserID, now))
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO room_members (room_id, user_id, joined_at) VALUES ($1, $2, $3)`,
				row.ID, sess.UserID, now)
			return err
		})
		if isUniqueViolation(err, "rooms_code_key") {
			continue
		}
		if err != nil {
			return domain.Room{}, classify("create room", err)
		}
		return mapRoom(row), nil
	}
	return domain.Room{}, domain.Transient("create room", fmt.Errorf("no free room code after %d attempts", maxCodeAttempts))
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	return s.findRoom(ctx, "get room", `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, roomID)
}

func (s *Store) FindRoomByCode(ctx context.Context, code string) (*domain.Room, error) {
	return s.findRoom(ctx, "find room", `SELECT `+roomColumns+` FROM rooms WHERE code = $1`,
		strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Store) findRoom(ctx context.Context, op, query, arg string) (*domain.Room, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row, err := scanRoom(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	room := mapRoom(row)
	return &room, nil
}

// JoinRoom records the membership; joining again refreshes joined_at.
func (s *Store) JoinRoom(ctx context.Context, sess domain.Session, roomID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.withUser(ctx, sess.UserID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO room_members (room_id, user_id, joined_at) VALUES ($1, $2, $3)
			 ON CONFLICT (room_id, user_id) DO UPDATE SET joined_at = EXCLUDED.joined_at`,
			roomID, sess.UserID, s.now())
		return err
	})
	return classify("join room", err)
}

func (s *Store) ListJoinedRooms(ctx context.Context, sess domain.Session) ([]domain.Room, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.code, r.name, r.channel, r.ta_key, r.created_by, r.created_at
		 FROM rooms r
		 JOIN room_members m ON m.room_id = r.id
		 WHERE m.user_id = $1
		 ORDER BY m.joined_at DESC`, sess.UserID)
	if err != nil {
		return nil, classify("list rooms", err)
	}
	defer rows.Close()

	rooms := []domain.Room{}
	for rows.Next() {
		row, err := scanRoom(rows)
		if err != nil {
			return nil, classify("list rooms", err)
		}
		rooms = append(rooms, mapRoom(row))
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list rooms", err)
	}
	return rooms, nil
}

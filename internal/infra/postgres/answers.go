package postgres

import (
	"context"
	"errors"

	"classroom-qa/internal/domain"
	"github.com/jackc/pgx/v4"
)

func (s *Store) CreateAnswer(ctx context.Context, sess domain.Session, na domain.NewAnswer) (domain.Answer, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row answerRow
	err := s.withUser(ctx, sess.UserID, func(tx pgx.Tx) error {
		var err error
		row, err = scanAnswer(tx.QueryRow(ctx,
			`INSERT INTO answers (id, question_id, text, author, role, owner_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING `+answerColumns,
			s.newID(), na.QuestionID, na.Text, nullable(na.Author),
			string(domain.NormalizeRole(string(na.Role))), nullable(na.OwnerID), s.now()))
		return err
	})
	if err != nil {
		return domain.Answer{}, classify("create answer", err)
	}
	return mapAnswer(row, domain.ReactionCounts{}), nil
}

func (s *Store) GetAnswer(ctx context.Context, answerID string) (*domain.Answer, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row, err := scanAnswer(s.pool.QueryRow(ctx, `SELECT `+answerColumns+` FROM answers WHERE id = $1`, answerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get answer", err)
	}
	counts, err := s.queryCounts(ctx,
		`SELECT answer_id, type, count(*) FROM answer_reactions WHERE answer_id = $1 GROUP BY answer_id, type`, answerID)
	if err != nil {
		return nil, classify("get answer", err)
	}
	a := mapAnswer(row, mapCounts(counts)[answerID])
	return &a, nil
}

func (s *Store) UpdateAnswer(ctx context.Context, sess domain.Session, answerID, text string) (*domain.Answer, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var affected int64
	err := s.withUser(ctx, sess.UserID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE answers SET text = $2 WHERE id = $1`, answerID, text)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return nil, classify("update answer", err)
	}
	if affected == 0 {
		if _, err := s.rejected(ctx, "answers", answerID); err != nil {
			return nil, classify("update answer", err)
		}
		return nil, nil
	}
	return s.GetAnswer(ctx, answerID)
}

// DeleteAnswer removes the answer; its reactions cascade.
func (s *Store) DeleteAnswer(ctx context.Context, sess domain.Session, answerID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var affected int64
	err := s.withUser(ctx, sess.UserID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM answers WHERE id = $1`, answerID)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return false, classify("delete answer", err)
	}
	if affected == 0 {
		_, err := s.rejected(ctx, "answers", answerID)
		return false, classify("delete answer", err)
	}
	return true, nil
}

func (s *Store) ToggleAnswerReaction(ctx context.Context, sess domain.Session, answerID string, t domain.ReactionType) (*domain.Answer, error) {
	if !t.Valid() {
		return nil, domain.Invalid("unknown reaction %q", t)
	}
	err := s.toggle(ctx, sess, "answer_reactions", "answer_id", answerID, t)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetAnswer(ctx, answerID)
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"classroom-qa/internal/domain"
	"github.com/jackc/pgx/v4"
	"golang.org/x/sync/errgroup"
)

func (s *Store) CreateQuestion(ctx context.Context, sess domain.Session, nq domain.NewQuestion) (domain.Question, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	author := nq.Author
	if nq.Anonymous {
		author = ""
	}
	var row questionRow
	err := s.withUser(ctx, sess.UserID, func(tx pgx.Tx) error {
		var err error
		row, err = scanQuestion(tx.QueryRow(ctx,
			`INSERT INTO questions (id, room_id, text, status, owner_id, author, anonymous, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+questionColumns,
			s.newID(), nq.RoomID, nq.Text, string(domain.StatusOpen), nullable(nq.OwnerID), nullable(author), nq.Anonymous, s.now()))
		return err
	})
	if err != nil {
		return domain.Question{}, classify("create question", err)
	}
	return mapQuestion(row, domain.ReactionCounts{}, nil), nil
}

func (s *Store) GetQuestion(ctx context.Context, questionID string) (*domain.Question, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	questions, err := s.loadQuestions(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, questionID)
	if err != nil {
		return nil, classify("get question", err)
	}
	if len(questions) == 0 {
		return nil, nil
	}
	return &questions[0], nil
}

// ListQuestions returns newest questions first, each with answers oldest
// first.
func (s *Store) ListQuestions(ctx context.Context, roomID string) ([]domain.Question, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	questions, err := s.loadQuestions(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE room_id = $1 ORDER BY created_at DESC, id`, roomID)
	if err != nil {
		return nil, classify("list questions", err)
	}
	return questions, nil
}

// loadQuestions runs a question query and then fetches answers and both
// reaction tallies for the result concurrently.
func (s *Store) loadQuestions(ctx context.Context, query string, args ...any) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var qrows []questionRow
	for rows.Next() {
		row, err := scanQuestion(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		qrows = append(qrows, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(qrows) == 0 {
		return []domain.Question{}, nil
	}

	ids := make([]string, len(qrows))
	for i, r := range qrows {
		ids[i] = r.ID
	}

	var (
		arows          []answerRow
		questionCounts []countRow
		answerCounts   []countRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		arows, err = s.queryAnswers(gctx,
			`SELECT `+answerColumns+` FROM answers WHERE question_id = ANY($1) ORDER BY created_at, id`, ids)
		return err
	})
	g.Go(func() error {
		var err error
		questionCounts, err = s.queryCounts(gctx,
			`SELECT question_id, type, count(*) FROM question_reactions
			 WHERE question_id = ANY($1) GROUP BY question_id, type`, ids)
		return err
	})
	g.Go(func() error {
		var err error
		answerCounts, err = s.queryCounts(gctx,
			`SELECT r.answer_id, r.type, count(*) FROM answer_reactions r
			 JOIN answers a ON a.id = r.answer_id
			 WHERE a.question_id = ANY($1) GROUP BY r.answer_id, r.type`, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	qc := mapCounts(questionCounts)
	ac := mapCounts(answerCounts)
	answers := make(map[string][]domain.Answer, len(qrows))
	for _, r := range arows {
		answers[r.QuestionID] = append(answers[r.QuestionID], mapAnswer(r, ac[r.ID]))
	}
	out := make([]domain.Question, 0, len(qrows))
	for _, r := range qrows {
		out = append(out, mapQuestion(r, qc[r.ID], answers[r.ID]))
	}
	return out, nil
}

func (s *Store) queryAnswers(ctx context.Context, query string, args ...any) ([]answerRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []answerRow
	for rows.Next() {
		row, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) queryCounts(ctx context.Context, query string, args ...any) ([]countRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []countRow
	for rows.Next() {
		var r countRow
		if err := rows.Scan(&r.TargetID, &r.Type, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateQuestionStatus(ctx context.Context, sess domain.Session, questionID string, status domain.QuestionStatus) (*domain.Question, error) {
	if !status.Valid() {
		return nil, domain.Invalid("unknown status %q", status)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var affected int64
	err := s.withUser(ctx, sess.UserID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE questions SET status = $2 WHERE id = $1`, questionID, string(status))
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return nil, classify("update status", err)
	}
	if affected == 0 {
		if _, err := s.rejected(ctx, "questions", questionID); err != nil {
			return nil, classify("update status", err)
		}
		return nil, nil
	}
	return s.GetQuestion(ctx, questionID)
}

// DeleteQuestion removes the question; answers and reactions go with it
// through foreign key cascades.
func (s *Store) DeleteQuestion(ctx context.Context, sess domain.Session, questionID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var affected int64
	err := s.withUser(ctx, sess.UserID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM questions WHERE id = $1`, questionID)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return false, classify("delete question", err)
	}
	if affected == 0 {
		_, err := s.rejected(ctx, "questions", questionID)
		return false, classify("delete question", err)
	}
	return true, nil
}

func (s *Store) ToggleQuestionReaction(ctx context.Context, sess domain.Session, questionID string, t domain.ReactionType) (*domain.Question, error) {
	if !t.Valid() {
		return nil, domain.Invalid("unknown reaction %q", t)
	}
	err := s.toggle(ctx, sess, "question_reactions", "question_id", questionID, t)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetQuestion(ctx, questionID)
}

// toggle flips one (target, user, type) row. The delete runs first; only
// when it removed nothing is the row inserted. An insert that hits an
// existing row lost a race with a concurrent toggle and is left as is.
func (s *Store) toggle(ctx context.Context, sess domain.Session, table, column, targetID string, t domain.ReactionType) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.withUser(ctx, sess.UserID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE %s = $1 AND user_id = $2 AND type = $3`, table, column),
			targetID, sess.UserID, string(t))
		if err != nil || tag.RowsAffected() > 0 {
			return err
		}
		tag, err = tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (%s, user_id, type, created_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (%s, user_id, type) DO NOTHING`, table, column, column),
			targetID, sess.UserID, string(t), s.now())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			s.logger.Debug("reaction toggle lost race")
		}
		return nil
	})
	return classify("toggle reaction", err)
}

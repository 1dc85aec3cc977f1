package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"exam-prep-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ResultStore writes attempts with pgx. Saving a result also folds it into the
// user's score aggregate and refreshes leaderboard ranks in the same transaction.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

func (s *ResultStore) SaveResult(ctx context.Context, r domain.Result) error {
	detail, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
INSERT INTO test_attempts
    (id, user_id, test_id, score, total_marks, correct_answers, total_questions, percentage, time_taken, submit_trigger, detail, completed_at)
SELECT $1, $2, $3, $4, mt.total_marks, $5, $6, $7, $8, $9, $10, $11
FROM mock_tests mt WHERE mt.id = $3`,
			r.ID, r.UserID, r.TestID, r.Score.TotalMarks, r.Score.Correct, r.TotalQuestions,
			r.Percentage, r.TimeTaken, string(r.Trigger), detail, r.CompletedAt)
		if err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("insert attempt: %w", domain.ErrTestNotFound)
		}

		batch := &pgx.Batch{}
		for i, qid := range r.QuestionIDs {
			var selected *string
			correct := false
			marks := 0.0
			if i < len(r.Answers) && r.Answers[i] != nil {
				letter := string(domain.OptionLetters[*r.Answers[i]])
				selected = &letter
				correct = i < len(r.CorrectAnswers) && *r.Answers[i] == r.CorrectAnswers[i]
				if correct {
					marks = 1
				} else {
					marks = -0.25
				}
			}
			batch.Queue(`INSERT INTO user_answers (attempt_id, question_id, selected_option, is_correct, marks_obtained) VALUES ($1, $2, $3, $4, $5)`,
				r.ID, qid, selected, correct, marks)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert answers: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `
INSERT INTO user_scores (user_id, total_points, tests_taken, average_score, correct_answers, total_questions, updated_at)
VALUES ($1, $2, 1, $3, $4, $5, now())
ON CONFLICT (user_id) DO UPDATE SET
    total_points    = user_scores.total_points + EXCLUDED.total_points,
    average_score   = (user_scores.average_score * user_scores.tests_taken + EXCLUDED.average_score) / (user_scores.tests_taken + 1),
    tests_taken     = user_scores.tests_taken + 1,
    correct_answers = user_scores.correct_answers + EXCLUDED.correct_answers,
    total_questions = user_scores.total_questions + EXCLUDED.total_questions,
    updated_at      = now()`,
			r.UserID, domain.PointsFor(r), r.Percentage, r.Score.Correct, r.TotalQuestions)
		if err != nil {
			return fmt.Errorf("upsert user score: %w", err)
		}

		if _, err := tx.Exec(ctx, `SELECT update_user_rankings()`); err != nil {
			return fmt.Errorf("update rankings: %w", err)
		}
		return nil
	})
}

func (s *ResultStore) LatestResult(ctx context.Context, userID, testID string) (domain.Result, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
SELECT detail FROM test_attempts
WHERE user_id = $1 AND test_id = $2
ORDER BY completed_at DESC
LIMIT 1`, userID, testID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Result{}, domain.ErrResultNotFound
	}
	if err != nil {
		return domain.Result{}, fmt.Errorf("latest result: %w", err)
	}
	var r domain.Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.Result{}, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}

func (s *ResultStore) ListResults(ctx context.Context, userID string) ([]domain.Result, error) {
	rows, err := s.pool.Query(ctx, `SELECT detail FROM test_attempts WHERE user_id = $1 ORDER BY completed_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []domain.Result
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r domain.Result
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"exam-prep-service/internal/domain"
	"github.com/uptrace/bun"
)

// Backend is the live catalog store on Postgres via bun.
type Backend struct {
	db *bun.DB
}

func NewBackend(db *bun.DB) *Backend {
	return &Backend{db: db}
}

func (b *Backend) LoadPaper(ctx context.Context, testID string) (domain.TestPaper, error) {
	test, err := b.MockTest(ctx, testID)
	if err != nil {
		return domain.TestPaper{}, err
	}
	var rows []questionModel
	err = b.db.NewSelect().
		Model(&rows).
		Where("source_type = ?", domain.SourceMockTest).
		Where("source_id = ?", testID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return domain.TestPaper{}, fmt.Errorf("load questions: %w", err)
	}
	if len(rows) == 0 {
		return domain.TestPaper{}, fmt.Errorf("%w: test %s has no questions", domain.ErrTestNotFound, testID)
	}
	paper := domain.TestPaper{Test: test, Questions: make([]domain.Question, 0, len(rows))}
	for _, r := range rows {
		paper.Questions = append(paper.Questions, r.toDomain())
	}
	return paper, nil
}

func (b *Backend) Leaderboard(ctx context.Context, since time.Time) ([]domain.LeaderboardRow, error) {
	var rows []userScoreModel
	q := b.db.NewSelect().
		Model(&rows).
		ColumnExpr("us.*").
		ColumnExpr("p.name AS name").
		Join("LEFT JOIN profiles AS p ON p.id = us.user_id").
		OrderExpr("us.rank_position ASC NULLS LAST, us.user_id ASC")
	if !since.IsZero() {
		q = q.Where("us.updated_at >= ?", since)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	out := make([]domain.LeaderboardRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (b *Backend) UserScore(ctx context.Context, userID string) (domain.LeaderboardRow, error) {
	var row userScoreModel
	err := b.db.NewSelect().
		Model(&row).
		ColumnExpr("us.*").
		ColumnExpr("p.name AS name").
		Join("LEFT JOIN profiles AS p ON p.id = us.user_id").
		Where("us.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LeaderboardRow{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.LeaderboardRow{}, fmt.Errorf("user score: %w", err)
	}
	return row.toDomain(), nil
}

func (b *Backend) Questions(ctx context.Context, filter domain.QuestionFilter) (domain.QuestionPage, error) {
	filter = filter.Normalize()
	var rows []questionModel
	q := b.db.NewSelect().Model(&rows)
	if filter.SourceType != "" {
		q = q.Where("source_type = ?", filter.SourceType)
	}
	if filter.Subject != "" {
		q = q.Where("subject = ?", filter.Subject)
	}
	total, err := q.
		OrderExpr("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset()).
		ScanAndCount(ctx)
	if err != nil {
		return domain.QuestionPage{}, fmt.Errorf("questions: %w", err)
	}
	page := domain.QuestionPage{Total: total, Questions: make([]domain.Question, 0, len(rows))}
	for _, r := range rows {
		page.Questions = append(page.Questions, r.toDomain())
	}
	return page, nil
}

func (b *Backend) Users(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []profileModel
	if err := b.db.NewSelect().Model(&rows).OrderExpr("created_at DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	out := make([]domain.UserAccount, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// UpsertProfile records a registered account so the admin roster can list it.
func (b *Backend) UpsertProfile(ctx context.Context, u domain.UserAccount) error {
	row := profileModel{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
	_, err := b.db.NewInsert().
		Model(&row).
		On("CONFLICT (id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("name = EXCLUDED.name").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (b *Backend) UserScores(ctx context.Context) ([]domain.UserScore, error) {
	var rows []userScoreModel
	if err := b.db.NewSelect().Model(&rows).Column("user_id", "tests_taken", "total_points").Scan(ctx); err != nil {
		return nil, fmt.Errorf("user scores: %w", err)
	}
	out := make([]domain.UserScore, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.UserScore{UserID: r.UserID, TestsTaken: r.TestsTaken, Points: r.TotalPoints})
	}
	return out, nil
}

func (b *Backend) MockTests(ctx context.Context, activeOnly bool) ([]domain.MockTest, error) {
	var rows []mockTestModel
	q := b.db.NewSelect().Model(&rows).OrderExpr("created_at DESC")
	if activeOnly {
		q = q.Where("is_active = TRUE")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("mock tests: %w", err)
	}
	out := make([]domain.MockTest, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (b *Backend) MockTest(ctx context.Context, id string) (domain.MockTest, error) {
	var row mockTestModel
	err := b.db.NewSelect().Model(&row).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MockTest{}, domain.ErrTestNotFound
	}
	if err != nil {
		return domain.MockTest{}, fmt.Errorf("mock test: %w", err)
	}
	return row.toDomain(), nil
}

func (b *Backend) CreateQuestion(ctx context.Context, q domain.Question) (string, error) {
	if err := domain.ValidateQuestion(q); err != nil {
		return "", err
	}
	row := questionFromDomain(q)
	row.ID = ""
	if _, err := b.db.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return "", fmt.Errorf("insert question: %w", err)
	}
	return row.ID, nil
}

func (b *Backend) InsertQuestions(ctx context.Context, qs []domain.Question) (int, error) {
	if len(qs) == 0 {
		return 0, nil
	}
	rows := make([]questionModel, 0, len(qs))
	// papers are ordered by created_at, so keep the batch in upload order
	base := time.Now().UTC()
	for i, q := range qs {
		if err := domain.ValidateQuestion(q); err != nil {
			return 0, fmt.Errorf("question %d: %w", i, err)
		}
		row := questionFromDomain(q)
		row.ID = ""
		row.CreatedAt = base.Add(time.Duration(i) * time.Microsecond)
		rows = append(rows, row)
	}
	err := b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert questions: %w", err)
	}
	return len(rows), nil
}

func (b *Backend) Question(ctx context.Context, id string) (domain.Question, error) {
	var row questionModel
	err := b.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	return row.toDomain(), nil
}

func (b *Backend) DeleteQuestion(ctx context.Context, id string) error {
	res, err := b.db.NewDelete().Model((*questionModel)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrQuestionNotFound
	}
	return nil
}

func (b *Backend) UpdateQuestion(ctx context.Context, id string, update domain.QuestionUpdate) error {
	return b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row questionModel
		err := tx.NewSelect().Model(&row).Where("id = ?", id).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrQuestionNotFound
		}
		if err != nil {
			return fmt.Errorf("load question: %w", err)
		}
		edited := row.toDomain()
		update.Apply(&edited)
		if err := domain.ValidateQuestion(edited); err != nil {
			return err
		}
		next := questionFromDomain(edited)
		if _, err := tx.NewUpdate().Model(&next).WherePK().ExcludeColumn("created_at", "created_by").Exec(ctx); err != nil {
			return fmt.Errorf("update question: %w", err)
		}
		return nil
	})
}

func (b *Backend) CreateMockTest(ctx context.Context, t domain.MockTest) (string, error) {
	if err := domain.ValidateMockTest(t); err != nil {
		return "", err
	}
	row := mockTestFromDomain(t)
	row.ID = ""
	row.IsActive = true
	if row.Difficulty == "" {
		row.Difficulty = "medium"
	}
	if _, err := b.db.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return "", fmt.Errorf("insert mock test: %w", err)
	}
	return row.ID, nil
}

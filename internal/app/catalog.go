package app

import (
	"context"
	"errors"
	"time"

	"exam-prep-service/internal/domain"
	"exam-prep-service/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// PaperLoader fetches a test paper from a backing store.
type PaperLoader interface {
	LoadPaper(ctx context.Context, testID string) (domain.TestPaper, error)
}

// Backend is the data source behind the catalog: a static fixture set or the live
// relational store.
type Backend interface {
	PaperLoader

	Leaderboard(ctx context.Context, since time.Time) ([]domain.LeaderboardRow, error)
	UserScore(ctx context.Context, userID string) (domain.LeaderboardRow, error)
	Questions(ctx context.Context, filter domain.QuestionFilter) (domain.QuestionPage, error)
	Users(ctx context.Context) ([]domain.UserAccount, error)
	UserScores(ctx context.Context) ([]domain.UserScore, error)
	MockTests(ctx context.Context, activeOnly bool) ([]domain.MockTest, error)
	MockTest(ctx context.Context, id string) (domain.MockTest, error)
	Question(ctx context.Context, id string) (domain.Question, error)

	CreateQuestion(ctx context.Context, q domain.Question) (string, error)
	// InsertQuestions stores a batch atomically and returns how many rows were stored.
	InsertQuestions(ctx context.Context, qs []domain.Question) (int, error)
	DeleteQuestion(ctx context.Context, id string) error
	UpdateQuestion(ctx context.Context, id string, update domain.QuestionUpdate) error
	CreateMockTest(ctx context.Context, t domain.MockTest) (string, error)
}

// PaperInvalidator drops cached papers after their questions change.
type PaperInvalidator interface {
	Invalidate(ctx context.Context, testID string) error
}

// Catalog is the data-access facade used by views. Every operation returns the data
// or an empty result on failure; failures are logged, never retried.
type Catalog struct {
	backend   Backend
	papers    PaperInvalidator
	batchSize int
	now       func() time.Time
}

// DefaultBatchSize is the bulk upload batch size.
const DefaultBatchSize = 20

func NewCatalog(backend Backend, batchSize int) *Catalog {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Catalog{backend: backend, batchSize: batchSize, now: time.Now}
}

// WithPaperCache makes question writes drop the cached papers they affect.
func (c *Catalog) WithPaperCache(papers PaperInvalidator) *Catalog {
	c.papers = papers
	return c
}

// invalidate drops the cached paper of every mock test the questions belong to.
func (c *Catalog) invalidate(ctx context.Context, qs ...domain.Question) {
	if c.papers == nil {
		return
	}
	seen := make(map[string]bool)
	for _, q := range qs {
		if q.SourceType != domain.SourceMockTest || q.SourceID == "" || seen[q.SourceID] {
			continue
		}
		seen[q.SourceID] = true
		if err := c.papers.Invalidate(ctx, q.SourceID); err != nil {
			log.Warn().Err(err).Str("testID", q.SourceID).Msg("invalidate cached paper")
		}
	}
}

func (c *Catalog) fail(op string, err error) {
	metrics.CatalogFailures.WithLabelValues(op).Inc()
	log.Error().Err(err).Str("op", op).Msg("catalog request failed")
}

// FetchLeaderboard returns rows for the period ordered by rank position.
func (c *Catalog) FetchLeaderboard(ctx context.Context, period domain.Period) []domain.LeaderboardRow {
	rows, err := c.backend.Leaderboard(ctx, period.Since(c.now()))
	if err != nil {
		c.fail("leaderboard", err)
		return []domain.LeaderboardRow{}
	}
	for i := range rows {
		rows[i].Name = rows[i].DisplayName()
		if rows[i].LastRankChange == "" {
			rows[i].LastRankChange = domain.RankSame
		}
	}
	return rows
}

// FetchUserRank returns one user's leaderboard row, nil when unavailable.
func (c *Catalog) FetchUserRank(ctx context.Context, userID string) *domain.LeaderboardRow {
	row, err := c.backend.UserScore(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			c.fail("user_rank", err)
		}
		return nil
	}
	row.Name = row.DisplayName()
	if row.LastRankChange == "" {
		row.LastRankChange = domain.RankSame
	}
	return &row
}

// FetchQuestions returns one page of the question bank.
func (c *Catalog) FetchQuestions(ctx context.Context, filter domain.QuestionFilter) domain.QuestionPage {
	page, err := c.backend.Questions(ctx, filter.Normalize())
	if err != nil {
		c.fail("questions", err)
		return domain.QuestionPage{Questions: []domain.Question{}}
	}
	if page.Questions == nil {
		page.Questions = []domain.Question{}
	}
	return page
}

// FetchAllUsers merges accounts with their score aggregates. A failed score query
// still returns the roster with zero stats.
func (c *Catalog) FetchAllUsers(ctx context.Context) []domain.UserSummary {
	var (
		users     []domain.UserAccount
		scores    []domain.UserScore
		usersErr  error
		scoresErr error
		g         errgroup.Group
	)
	g.Go(func() error {
		users, usersErr = c.backend.Users(ctx)
		return usersErr
	})
	g.Go(func() error {
		scores, scoresErr = c.backend.UserScores(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		c.fail("users", err)
		return []domain.UserSummary{}
	}
	if scoresErr != nil {
		c.fail("user_scores", scoresErr)
	}

	byUser := make(map[string]domain.UserScore, len(scores))
	for _, s := range scores {
		byUser[s.UserID] = s
	}
	out := make([]domain.UserSummary, 0, len(users))
	for _, u := range users {
		score := byUser[u.ID]
		name := u.Name
		if name == "" {
			name = "Unnamed User"
		}
		out = append(out, domain.UserSummary{
			ID:         u.ID,
			Email:      u.Email,
			Name:       name,
			TestsTaken: score.TestsTaken,
			Points:     score.Points,
			Status:     "active",
			CreatedAt:  u.CreatedAt,
		})
	}
	return out
}

// FetchMockTests lists tests, newest first.
func (c *Catalog) FetchMockTests(ctx context.Context, activeOnly bool) []domain.MockTest {
	tests, err := c.backend.MockTests(ctx, activeOnly)
	if err != nil {
		c.fail("mock_tests", err)
		return []domain.MockTest{}
	}
	return tests
}

// FetchMockTest returns one test; ok is false when it does not exist or the backend failed.
func (c *Catalog) FetchMockTest(ctx context.Context, id string) (domain.MockTest, bool) {
	t, err := c.backend.MockTest(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrTestNotFound) {
			c.fail("mock_test", err)
		}
		return domain.MockTest{}, false
	}
	return t, true
}

// FetchQuestion returns one question; false when it is missing or the lookup failed.
func (c *Catalog) FetchQuestion(ctx context.Context, id string) (domain.Question, bool) {
	q, err := c.backend.Question(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrQuestionNotFound) {
			c.fail("fetch_question", err)
		}
		return domain.Question{}, false
	}
	return q, true
}

// CreateQuestion stores q and returns its id, "" on failure.
func (c *Catalog) CreateQuestion(ctx context.Context, q domain.Question) string {
	id, err := c.backend.CreateQuestion(ctx, q)
	if err != nil {
		c.fail("create_question", err)
		return ""
	}
	c.invalidate(ctx, q)
	return id
}

// DeleteQuestion reports whether the question was removed.
func (c *Catalog) DeleteQuestion(ctx context.Context, id string) bool {
	q, err := c.backend.Question(ctx, id)
	if err == nil {
		err = c.backend.DeleteQuestion(ctx, id)
	}
	if err != nil {
		c.fail("delete_question", err)
		return false
	}
	c.invalidate(ctx, q)
	return true
}

// UpdateQuestion reports whether the update was applied. Papers of the test the
// question belonged to and of the one it moved to are both dropped.
func (c *Catalog) UpdateQuestion(ctx context.Context, id string, update domain.QuestionUpdate) bool {
	before, err := c.backend.Question(ctx, id)
	if err == nil {
		err = c.backend.UpdateQuestion(ctx, id, update)
	}
	if err != nil {
		c.fail("update_question", err)
		return false
	}
	after := before
	update.Apply(&after)
	c.invalidate(ctx, before, after)
	return true
}

// CreateMockTest stores t and returns its id, "" on failure.
func (c *Catalog) CreateMockTest(ctx context.Context, t domain.MockTest) string {
	id, err := c.backend.CreateMockTest(ctx, t)
	if err != nil {
		c.fail("create_mock_test", err)
		return ""
	}
	return id
}

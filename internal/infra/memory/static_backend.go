package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"exam-prep-service/internal/domain"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Fixtures is the static dataset served when no live database is configured.
type Fixtures struct {
	MockTests   []domain.MockTest       `yaml:"mockTests"`
	Questions   []domain.Question       `yaml:"questions"`
	Users       []domain.UserAccount    `yaml:"users"`
	Leaderboard []domain.LeaderboardRow `yaml:"leaderboard"`
}

// LoadFixtures reads a YAML fixture file.
func LoadFixtures(path string) (Fixtures, error) {
	var f Fixtures
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return f, nil
}

type scoreAgg struct {
	row          domain.LeaderboardRow
	percentTotal float64
}

// StaticBackend implements app.Backend over an in-memory dataset. It also aggregates
// published results into the leaderboard so static mode behaves like the live one.
type StaticBackend struct {
	clock func() time.Time

	mu        sync.RWMutex
	tests     []domain.MockTest
	questions []domain.Question
	users     []domain.UserAccount
	scores    map[string]*scoreAgg
}

func NewStaticBackend(f Fixtures) *StaticBackend {
	b := &StaticBackend{
		clock:     time.Now,
		tests:     append([]domain.MockTest(nil), f.MockTests...),
		questions: append([]domain.Question(nil), f.Questions...),
		users:     append([]domain.UserAccount(nil), f.Users...),
		scores:    make(map[string]*scoreAgg),
	}
	for i := range b.questions {
		if b.questions[i].ID == "" {
			b.questions[i].ID = uuid.NewString()
		}
		b.questions[i].CorrectOption = strings.ToUpper(b.questions[i].CorrectOption)
	}
	for _, row := range f.Leaderboard {
		r := row
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		b.scores[r.UserID] = &scoreAgg{row: r, percentTotal: r.AverageScore * float64(r.TestsTaken)}
	}
	return b
}

func (b *StaticBackend) LoadPaper(_ context.Context, testID string) (domain.TestPaper, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	test, ok := b.findTestLocked(testID)
	if !ok {
		return domain.TestPaper{}, domain.ErrTestNotFound
	}
	var qs []domain.Question
	for _, q := range b.questions {
		if q.SourceType == domain.SourceMockTest && q.SourceID == testID {
			qs = append(qs, q)
		}
	}
	if len(qs) == 0 {
		return domain.TestPaper{}, fmt.Errorf("%w: test %s has no questions", domain.ErrTestNotFound, testID)
	}
	return domain.TestPaper{Test: test, Questions: qs}, nil
}

func (b *StaticBackend) findTestLocked(id string) (domain.MockTest, bool) {
	for _, t := range b.tests {
		if t.ID == id {
			return t, true
		}
	}
	return domain.MockTest{}, false
}

func (b *StaticBackend) Leaderboard(_ context.Context, since time.Time) ([]domain.LeaderboardRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows := make([]domain.LeaderboardRow, 0, len(b.scores))
	for _, agg := range b.scores {
		if !since.IsZero() && agg.row.UpdatedAt.Before(since) {
			continue
		}
		rows = append(rows, agg.row)
	}
	sort.Slice(rows, func(i, j int) bool {
		ri, rj := rows[i].RankPosition, rows[j].RankPosition
		if (ri == 0) != (rj == 0) {
			return rj == 0
		}
		if ri != rj {
			return ri < rj
		}
		return rows[i].UserID < rows[j].UserID
	})
	return rows, nil
}

func (b *StaticBackend) UserScore(_ context.Context, userID string) (domain.LeaderboardRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	agg, ok := b.scores[userID]
	if !ok {
		return domain.LeaderboardRow{}, domain.ErrUserNotFound
	}
	return agg.row, nil
}

func (b *StaticBackend) Questions(_ context.Context, filter domain.QuestionFilter) (domain.QuestionPage, error) {
	filter = filter.Normalize()
	b.mu.RLock()
	defer b.mu.RUnlock()
	var matched []domain.Question
	for _, q := range b.questions {
		if filter.SourceType != "" && q.SourceType != filter.SourceType {
			continue
		}
		if filter.Subject != "" && q.Subject != filter.Subject {
			continue
		}
		matched = append(matched, q)
	}
	// newest first, as the live store orders by created_at desc
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	page := domain.QuestionPage{Total: len(matched), Questions: []domain.Question{}}
	from := filter.Offset()
	if from >= len(matched) {
		return page, nil
	}
	to := from + filter.Limit
	if to > len(matched) {
		to = len(matched)
	}
	page.Questions = append(page.Questions, matched[from:to]...)
	return page, nil
}

func (b *StaticBackend) Users(_ context.Context) ([]domain.UserAccount, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]domain.UserAccount(nil), b.users...), nil
}

// UpsertProfile adds or renames a roster entry. The original creation time is kept.
func (b *StaticBackend) UpsertProfile(_ context.Context, u domain.UserAccount) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.users {
		if b.users[i].ID == u.ID {
			b.users[i].Email = u.Email
			b.users[i].Name = u.Name
			return nil
		}
	}
	b.users = append(b.users, u)
	return nil
}

func (b *StaticBackend) UserScores(_ context.Context) ([]domain.UserScore, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.UserScore, 0, len(b.scores))
	for _, agg := range b.scores {
		out = append(out, domain.UserScore{UserID: agg.row.UserID, TestsTaken: agg.row.TestsTaken, Points: agg.row.TotalPoints})
	}
	return out, nil
}

func (b *StaticBackend) MockTests(_ context.Context, activeOnly bool) ([]domain.MockTest, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.MockTest, 0, len(b.tests))
	for _, t := range b.tests {
		if activeOnly && !t.Active {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (b *StaticBackend) MockTest(_ context.Context, id string) (domain.MockTest, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.findTestLocked(id)
	if !ok {
		return domain.MockTest{}, domain.ErrTestNotFound
	}
	return t, nil
}

func (b *StaticBackend) CreateQuestion(_ context.Context, q domain.Question) (string, error) {
	if err := domain.ValidateQuestion(q); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	q.ID = uuid.NewString()
	q.CreatedAt = b.clock()
	b.questions = append(b.questions, q)
	return q.ID, nil
}

func (b *StaticBackend) InsertQuestions(_ context.Context, qs []domain.Question) (int, error) {
	for i, q := range qs {
		if err := domain.ValidateQuestion(q); err != nil {
			return 0, fmt.Errorf("question %d: %w", i, err)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock()
	for _, q := range qs {
		q.ID = uuid.NewString()
		q.CreatedAt = now
		b.questions = append(b.questions, q)
	}
	return len(qs), nil
}

func (b *StaticBackend) Question(_ context.Context, id string) (domain.Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, q := range b.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (b *StaticBackend) DeleteQuestion(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, q := range b.questions {
		if q.ID == id {
			b.questions = append(b.questions[:i], b.questions[i+1:]...)
			return nil
		}
	}
	return domain.ErrQuestionNotFound
}

func (b *StaticBackend) UpdateQuestion(_ context.Context, id string, update domain.QuestionUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.questions {
		if b.questions[i].ID != id {
			continue
		}
		edited := b.questions[i]
		update.Apply(&edited)
		if err := domain.ValidateQuestion(edited); err != nil {
			return err
		}
		b.questions[i] = edited
		return nil
	}
	return domain.ErrQuestionNotFound
}

func (b *StaticBackend) CreateMockTest(_ context.Context, t domain.MockTest) (string, error) {
	if err := domain.ValidateMockTest(t); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t.ID = uuid.NewString()
	t.CreatedAt = b.clock()
	t.Active = true
	b.tests = append(b.tests, t)
	return t.ID, nil
}

// PublishResult folds a result into the user's aggregate and re-ranks everyone.
func (b *StaticBackend) PublishResult(_ context.Context, result domain.Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	agg, ok := b.scores[result.UserID]
	if !ok {
		agg = &scoreAgg{row: domain.LeaderboardRow{ID: uuid.NewString(), UserID: result.UserID}}
		for _, u := range b.users {
			if u.ID == result.UserID {
				agg.row.Name = u.Name
			}
		}
		b.scores[result.UserID] = agg
	}
	agg.row.TotalPoints += domain.PointsFor(result)
	agg.row.TestsTaken++
	agg.percentTotal += result.Percentage
	agg.row.AverageScore = agg.percentTotal / float64(agg.row.TestsTaken)
	agg.row.UpdatedAt = b.clock()
	b.rerankLocked()
	return nil
}

// rerankLocked orders by points, then average score, then user id, and records the
// direction each position moved.
func (b *StaticBackend) rerankLocked() {
	all := make([]*scoreAgg, 0, len(b.scores))
	for _, agg := range b.scores {
		all = append(all, agg)
	}
	sort.Slice(all, func(i, j int) bool {
		a, c := all[i].row, all[j].row
		if a.TotalPoints != c.TotalPoints {
			return a.TotalPoints > c.TotalPoints
		}
		if a.AverageScore != c.AverageScore {
			return a.AverageScore > c.AverageScore
		}
		return a.UserID < c.UserID
	})
	for i, agg := range all {
		pos := i + 1
		prev := agg.row.RankPosition
		switch {
		case prev == 0 || prev == pos:
			agg.row.LastRankChange = domain.RankSame
		case pos < prev:
			agg.row.LastRankChange = domain.RankUp
		default:
			agg.row.LastRankChange = domain.RankDown
		}
		agg.row.RankPosition = pos
	}
}

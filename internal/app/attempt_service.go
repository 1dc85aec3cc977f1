package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"exam-prep-service/internal/domain"
	"exam-prep-service/internal/metrics"
	"github.com/rs/zerolog/log"
)

// PaperRepository loads a test with its questions (from cache/backing store).
type PaperRepository interface {
	GetPaper(ctx context.Context, testID string) (domain.TestPaper, error)
}

// ResultStore is the results collection.
type ResultStore interface {
	SaveResult(ctx context.Context, result domain.Result) error
	LatestResult(ctx context.Context, userID, testID string) (domain.Result, error)
	ListResults(ctx context.Context, userID string) ([]domain.Result, error)
}

// ResultPublisher announces completed results to downstream aggregation.
type ResultPublisher interface {
	PublishResult(ctx context.Context, result domain.Result) error
}

// ResultSaveError is returned by Submit when scoring succeeded but the result could not
// be stored. The result is kept in memory and retried by FlushPendingResults.
type ResultSaveError struct {
	Result domain.Result
	Err    error
}

func (e *ResultSaveError) Error() string {
	return fmt.Sprintf("save result %s: %v", e.Result.ID, e.Err)
}

func (e *ResultSaveError) Unwrap() []error {
	return []error{domain.ErrResultNotSaved, e.Err}
}

// AttemptService owns running attempts; only one attempt may own a user's draft of a test.
type AttemptService struct {
	papers     PaperRepository
	drafts     *DraftStore
	results    ResultStore
	publishers []ResultPublisher
	tick       time.Duration
	newTicker  TickerFunc
	now        func() time.Time

	mu      sync.Mutex
	active  map[string]*Attempt
	pending map[string]domain.Result
}

// Option customizes an AttemptService.
type Option func(*AttemptService)

// WithPublisher adds a destination for completed results.
func WithPublisher(p ResultPublisher) Option {
	return func(s *AttemptService) {
		if p != nil {
			s.publishers = append(s.publishers, p)
		}
	}
}

// WithTicker replaces the tick source, mainly for tests.
func WithTicker(interval time.Duration, fn TickerFunc) Option {
	return func(s *AttemptService) {
		if interval > 0 {
			s.tick = interval
		}
		if fn != nil {
			s.newTicker = fn
		}
	}
}

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *AttemptService) { s.now = now }
}

func NewAttemptService(papers PaperRepository, drafts *DraftStore, results ResultStore, opts ...Option) *AttemptService {
	s := &AttemptService{
		papers:    papers,
		drafts:    drafts,
		results:   results,
		tick:      time.Second,
		newTicker: NewTimeTicker,
		now:       time.Now,
		active:    make(map[string]*Attempt),
		pending:   make(map[string]domain.Result),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func attemptKey(userID, testID string) string {
	return userID + "/" + testID
}

// Start opens a test-taking session, resuming a persisted draft when one exists.
// The caller must Close or Submit the returned attempt.
func (s *AttemptService) Start(ctx context.Context, userID, testID string, observer Observer) (*Attempt, error) {
	paper, err := s.papers.GetPaper(ctx, testID)
	if err != nil {
		return nil, err
	}

	key := attemptKey(userID, testID)
	s.mu.Lock()
	if _, busy := s.active[key]; busy {
		s.mu.Unlock()
		return nil, domain.ErrAttemptActive
	}
	s.active[key] = nil
	s.mu.Unlock()

	draft, resumed, err := s.drafts.Load(ctx, userID, testID, len(paper.Questions))
	if err != nil {
		s.mu.Lock()
		delete(s.active, key)
		s.mu.Unlock()
		return nil, err
	}

	attempt := newAttempt(s, userID, paper, draft, resumed, observer)
	total := paper.Test.DurationSeconds()
	remaining := total
	mode := "fresh"
	if resumed {
		remaining = ResumeRemaining(total, draft.ElapsedSeconds)
		mode = "resumed"
	}
	attempt.countdown = NewCountdown(total, remaining, s.newTicker(s.tick), attempt.onTick, attempt.onExpire)

	s.mu.Lock()
	s.active[key] = attempt
	s.mu.Unlock()

	metrics.AttemptsStarted.WithLabelValues(mode).Inc()
	log.Info().
		Str("userID", userID).
		Str("testID", testID).
		Bool("resumed", resumed).
		Int("remaining", remaining).
		Msg("attempt started")

	attempt.countdown.Start()
	return attempt, nil
}

// Active returns the running attempt for a user and test.
func (s *AttemptService) Active(userID, testID string) (*Attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[attemptKey(userID, testID)]
	return a, ok && a != nil
}

func (s *AttemptService) release(a *Attempt) {
	key := attemptKey(a.userID, a.TestID())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[key] == a {
		delete(s.active, key)
	}
}

// complete persists the result and clears the draft. A storage failure keeps the
// result pending and is reported as *ResultSaveError; the draft is cleared regardless.
func (s *AttemptService) complete(ctx context.Context, a *Attempt, result domain.Result) error {
	metrics.Submissions.WithLabelValues(string(result.Trigger)).Inc()

	var saveErr error
	if err := s.results.SaveResult(ctx, result); err != nil {
		metrics.ResultSaveFailures.Inc()
		log.Error().Err(err).Str("resultID", result.ID).Str("testID", result.TestID).Msg("result not saved, keeping it in memory")
		s.mu.Lock()
		s.pending[attemptKey(result.UserID, result.TestID)] = result
		s.mu.Unlock()
		saveErr = &ResultSaveError{Result: result, Err: err}
	} else {
		s.publish(ctx, result)
	}

	if err := s.drafts.Clear(ctx, result.UserID, result.TestID); err != nil {
		log.Error().Err(err).Str("testID", result.TestID).Str("userID", result.UserID).Msg("clear draft after submission")
	}
	s.release(a)

	log.Info().
		Str("userID", result.UserID).
		Str("testID", result.TestID).
		Str("trigger", string(result.Trigger)).
		Int("correct", result.Score.Correct).
		Float64("totalMarks", result.Score.TotalMarks).
		Msg("attempt submitted")
	return saveErr
}

func (s *AttemptService) publish(ctx context.Context, result domain.Result) {
	for _, p := range s.publishers {
		if err := p.PublishResult(ctx, result); err != nil {
			log.Warn().Err(err).Str("resultID", result.ID).Msg("publish result")
		}
	}
}

// Result returns the latest result for a user and test, including results that are
// still waiting to be persisted.
func (s *AttemptService) Result(ctx context.Context, userID, testID string) (domain.Result, error) {
	s.mu.Lock()
	pending, ok := s.pending[attemptKey(userID, testID)]
	s.mu.Unlock()
	if ok {
		return pending, nil
	}
	return s.results.LatestResult(ctx, userID, testID)
}

// Results lists a user's results, newest first.
func (s *AttemptService) Results(ctx context.Context, userID string) ([]domain.Result, error) {
	stored, err := s.results.ListResults(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, r := range s.pending {
		if r.UserID == userID {
			stored = append(stored, r)
		}
	}
	s.mu.Unlock()
	sort.SliceStable(stored, func(i, j int) bool {
		return stored[i].CompletedAt.After(stored[j].CompletedAt)
	})
	return stored, nil
}

// FlushPendingResults retries storing results that failed on submission.
func (s *AttemptService) FlushPendingResults(ctx context.Context) (int, error) {
	s.mu.Lock()
	batch := make(map[string]domain.Result, len(s.pending))
	for k, r := range s.pending {
		batch[k] = r
	}
	s.mu.Unlock()

	saved := 0
	var errs []error
	for key, result := range batch {
		if err := s.results.SaveResult(ctx, result); err != nil {
			errs = append(errs, err)
			continue
		}
		s.mu.Lock()
		if cur, ok := s.pending[key]; ok && cur.ID == result.ID {
			delete(s.pending, key)
		}
		s.mu.Unlock()
		s.publish(ctx, result)
		saved++
	}
	return saved, errors.Join(errs...)
}

// CloseAll tears down every running attempt, e.g. on shutdown.
func (s *AttemptService) CloseAll() {
	s.mu.Lock()
	running := make([]*Attempt, 0, len(s.active))
	for _, a := range s.active {
		if a != nil {
			running = append(running, a)
		}
	}
	s.mu.Unlock()
	for _, a := range running {
		a.Close()
	}
}

package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"exam-prep-service/internal/domain"
)

// spyKV is an in-memory KeyValueStore that counts writes.
type spyKV struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newSpyKV() *spyKV {
	return &spyKV{data: make(map[string][]byte)}
}

func (s *spyKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *spyKV) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *spyKV) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *spyKV) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

func (s *spyKV) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// manualTicker delivers ticks only when the test calls tick.
type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

// tryTick reports whether the countdown loop accepted a tick.
func (m *manualTicker) tryTick() bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

func (m *manualTicker) tick(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatalf("countdown did not accept tick")
	}
}

type stubPapers map[string]domain.TestPaper

func (s stubPapers) GetPaper(_ context.Context, testID string) (domain.TestPaper, error) {
	p, ok := s[testID]
	if !ok {
		return domain.TestPaper{}, domain.ErrTestNotFound
	}
	return p, nil
}

type fakeResults struct {
	mu      sync.Mutex
	fail    error
	results []domain.Result
}

func (f *fakeResults) SaveResult(_ context.Context, r domain.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.results = append(f.results, r)
	return nil
}

func (f *fakeResults) LatestResult(_ context.Context, userID, testID string) (domain.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.results) - 1; i >= 0; i-- {
		if f.results[i].UserID == userID && f.results[i].TestID == testID {
			return f.results[i], nil
		}
	}
	return domain.Result{}, domain.ErrResultNotFound
}

func (f *fakeResults) ListResults(_ context.Context, userID string) ([]domain.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Result
	for i := len(f.results) - 1; i >= 0; i-- {
		if f.results[i].UserID == userID {
			out = append(out, f.results[i])
		}
	}
	return out, nil
}

func (f *fakeResults) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *fakeResults) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

type recordingObserver struct {
	ticks    chan int
	mu       sync.Mutex
	timeUps  int
	navs     int
	navigate chan domain.Result
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		ticks:    make(chan int, 256),
		navigate: make(chan domain.Result, 4),
	}
}

func (o *recordingObserver) TimerTicked(remaining int) {
	select {
	case o.ticks <- remaining:
	default:
	}
}

func (o *recordingObserver) TimeUp() {
	o.mu.Lock()
	o.timeUps++
	o.mu.Unlock()
}

func (o *recordingObserver) NavigateToResults(_ string, r domain.Result) {
	o.mu.Lock()
	o.navs++
	o.mu.Unlock()
	o.navigate <- r
}

func (o *recordingObserver) counts() (timeUps, navs int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timeUps, o.navs
}

func (o *recordingObserver) waitTick(t *testing.T) int {
	t.Helper()
	select {
	case r := <-o.ticks:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("no tick observed")
	}
	return 0
}

func (o *recordingObserver) waitNavigate(t *testing.T) domain.Result {
	t.Helper()
	select {
	case r := <-o.navigate:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("no navigation observed")
	}
	return domain.Result{}
}

var errStoreDown = errors.New("store down")

// threeQuestionPaper is a 3-minute paper with correct options B, C, A.
func threeQuestionPaper() domain.TestPaper {
	q := func(id, correct string) domain.Question {
		return domain.Question{
			ID:            id,
			Text:          "question " + id,
			Options:       [4]string{"a", "b", "c", "d"},
			CorrectOption: correct,
			SourceType:    domain.SourceMockTest,
			SourceID:      "t1",
			Subject:       "Maths",
		}
	}
	return domain.TestPaper{
		Test:      domain.MockTest{ID: "t1", Title: "Three", DurationMins: 3},
		Questions: []domain.Question{q("q1", "B"), q("q2", "C"), q("q3", "A")},
	}
}

type harness struct {
	svc     *AttemptService
	kv      *spyKV
	drafts  *DraftStore
	results *fakeResults
	ticker  *manualTicker
}

func newHarness(papers ...domain.TestPaper) *harness {
	h := &harness{kv: newSpyKV(), results: &fakeResults{}, ticker: newManualTicker()}
	stub := stubPapers{}
	for _, p := range papers {
		stub[p.Test.ID] = p
	}
	h.drafts = NewDraftStore(h.kv)
	h.svc = NewAttemptService(stub, h.drafts, h.results,
		WithTicker(time.Second, func(time.Duration) Ticker { return h.ticker }))
	return h
}

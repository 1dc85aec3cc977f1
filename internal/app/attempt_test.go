package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"exam-prep-service/internal/domain"
)

func TestAttemptResumesDraft(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	if err := h.drafts.SaveAnswers(ctx, "u1", "t1", []*int{nil, intp(2), nil}); err != nil {
		t.Fatalf("seed answers: %v", err)
	}
	if err := h.drafts.SaveElapsed(ctx, "u1", "t1", 90); err != nil {
		t.Fatalf("seed elapsed: %v", err)
	}

	a, err := h.svc.Start(ctx, "u1", "t1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()

	if !a.Resumed() {
		t.Fatalf("expected resumed attempt")
	}
	if a.Remaining() != 90 {
		t.Fatalf("expected 90s remaining, got %d", a.Remaining())
	}
	view := a.View()
	if view.Answers[1] == nil || *view.Answers[1] != 2 || view.Palette[1].Status != PaletteAnswered {
		t.Fatalf("draft answers not restored: %+v", view)
	}
	if view.RemainingHM != "1m 30s" {
		t.Fatalf("unexpected remaining text %q", view.RemainingHM)
	}
}

func TestAttemptIgnoresDraftWithoutAnswers(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	_ = h.drafts.SaveMarked(ctx, "u1", "t1", []bool{true, false, false})
	_ = h.drafts.SaveElapsed(ctx, "u1", "t1", 120)

	a, err := h.svc.Start(ctx, "u1", "t1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()
	if a.Resumed() || a.Remaining() != 180 {
		t.Fatalf("expected fresh attempt with full time, resumed=%v remaining=%d", a.Resumed(), a.Remaining())
	}
	if a.View().Marked[0] {
		t.Fatalf("fresh attempt should not carry review flags")
	}
}

func TestAttemptDiscardsMismatchedDraft(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	_ = h.drafts.SaveAnswers(ctx, "u1", "t1", []*int{intp(0), nil, nil, nil, intp(1)})
	_ = h.drafts.SaveElapsed(ctx, "u1", "t1", 30)

	a, err := h.svc.Start(ctx, "u1", "t1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()
	if a.Resumed() {
		t.Fatalf("mismatched draft must not resume")
	}
	keys := KeysFor("u1", "t1")
	if h.kv.has(keys.Answers) || h.kv.has(keys.Elapsed) {
		t.Fatalf("mismatched draft should be cleared")
	}
}

func TestToggleReviewTwiceRestoresFlag(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	a, err := h.svc.Start(ctx, "u1", "t1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()

	on, err := a.ToggleReview(ctx, 2)
	if err != nil || !on {
		t.Fatalf("first toggle: on=%v err=%v", on, err)
	}
	off, err := a.ToggleReview(ctx, 2)
	if err != nil || off {
		t.Fatalf("second toggle: on=%v err=%v", off, err)
	}
	raw, ok, _ := h.kv.Get(ctx, KeysFor("u1", "t1").Marked)
	if !ok || string(raw) != "[false,false,false]" {
		t.Fatalf("persisted flags should be cleared, got %q", raw)
	}
	if got := a.Palette()[2].Status; got != PaletteVisited {
		t.Fatalf("expected visited after toggling back, got %s", got)
	}
}

func TestSelectOptionValidatesIndexes(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	a, err := h.svc.Start(ctx, "u1", "t1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()

	if err := a.SelectOption(ctx, 3, 0); !errors.Is(err, domain.ErrQuestionIndex) {
		t.Fatalf("expected ErrQuestionIndex, got %v", err)
	}
	if err := a.SelectOption(ctx, 0, 4); !errors.Is(err, domain.ErrOptionIndex) {
		t.Fatalf("expected ErrOptionIndex, got %v", err)
	}
	if err := a.SelectOption(ctx, 0, 3); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := a.SelectOption(ctx, 0, 1); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	if got := a.View().Answers[0]; got == nil || *got != 1 {
		t.Fatalf("expected answer overwritten to 1, got %v", got)
	}
}

func TestNavigationAndPalette(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	a, err := h.svc.Start(ctx, "u1", "t1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()

	if got := a.Prev(); got != 0 {
		t.Fatalf("prev at first question moved to %d", got)
	}
	a.Next()
	if got := a.Next(); got != 2 {
		t.Fatalf("expected question 2, got %d", got)
	}
	if got := a.Next(); got != 2 {
		t.Fatalf("next at last question moved to %d", got)
	}
	if err := a.GoTo(5); !errors.Is(err, domain.ErrQuestionIndex) {
		t.Fatalf("expected ErrQuestionIndex, got %v", err)
	}

	_ = a.SelectOption(ctx, 0, 1)
	_, _ = a.ToggleReview(ctx, 0)
	_, _ = a.ToggleReview(ctx, 1)

	cases := []struct {
		index   int
		status  PaletteStatus
		current bool
	}{
		{0, PaletteAnsweredMarked, false},
		{1, PaletteMarked, false},
		{2, PaletteVisited, true},
	}
	palette := a.Palette()
	for _, tc := range cases {
		got := palette[tc.index]
		if got.Status != tc.status || got.Current != tc.current {
			t.Fatalf("palette[%d] = %+v, want %s current=%v", tc.index, got, tc.status, tc.current)
		}
	}
	if view := a.View(); view.Question.ID != "q3" || view.Answered != 1 {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestAutoSubmitOnExpiry(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	// resume one second before the deadline
	_ = h.drafts.SaveAnswers(ctx, "u1", "t1", []*int{intp(1), intp(0), nil})
	_ = h.drafts.SaveElapsed(ctx, "u1", "t1", 179)

	obs := newRecordingObserver()
	a, err := h.svc.Start(ctx, "u1", "t1", obs)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()

	h.ticker.tick(t)
	result := obs.waitNavigate(t)

	if result.Trigger != domain.TriggerTimeout {
		t.Fatalf("expected timeout trigger, got %s", result.Trigger)
	}
	if result.Score.Correct != 1 || result.Score.Incorrect != 1 || result.Score.Unanswered != 1 {
		t.Fatalf("unexpected score %+v", result.Score)
	}
	if result.TimeTaken != 180 {
		t.Fatalf("expected 180s taken, got %d", result.TimeTaken)
	}
	if _, err := a.Submit(ctx); !errors.Is(err, domain.ErrAttemptSubmitted) {
		t.Fatalf("manual submit after timeout should fail, got %v", err)
	}
	if h.ticker.tryTick() {
		t.Fatalf("countdown still running after expiry")
	}
	timeUps, navs := obs.counts()
	if timeUps != 1 || navs != 1 {
		t.Fatalf("expected one timeUp and one navigation, got %d and %d", timeUps, navs)
	}
	keys := KeysFor("u1", "t1")
	if h.kv.has(keys.Answers) || h.kv.has(keys.Marked) || h.kv.has(keys.Elapsed) {
		t.Fatalf("draft keys should be cleared after submission")
	}
	if h.results.count() != 1 {
		t.Fatalf("expected one stored result, got %d", h.results.count())
	}
}

func TestResumeAtZeroExpiresImmediately(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	_ = h.drafts.SaveAnswers(ctx, "u1", "t1", []*int{intp(1), nil, nil})
	_ = h.drafts.SaveElapsed(ctx, "u1", "t1", 500)

	obs := newRecordingObserver()
	a, err := h.svc.Start(ctx, "u1", "t1", obs)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()

	result := obs.waitNavigate(t)
	if result.Trigger != domain.TriggerTimeout || result.Score.Correct != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestTicksPersistElapsed(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	obs := newRecordingObserver()
	a, err := h.svc.Start(ctx, "u1", "t1", obs)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()

	h.ticker.tick(t)
	if got := obs.waitTick(t); got != 179 {
		t.Fatalf("expected 179 remaining, got %d", got)
	}
	h.ticker.tick(t)
	obs.waitTick(t)

	raw, ok, _ := h.kv.Get(ctx, KeysFor("u1", "t1").Elapsed)
	if !ok || string(raw) != "2" {
		t.Fatalf("expected elapsed 2 persisted, got %q ok=%v", raw, ok)
	}
}

func TestManualSubmitOnce(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	obs := newRecordingObserver()
	a, err := h.svc.Start(ctx, "u1", "t1", obs)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()

	for q, opt := range []int{1, 0, 0} {
		if err := a.SelectOption(ctx, q, opt); err != nil {
			t.Fatalf("select: %v", err)
		}
	}
	result, err := a.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Score.TotalMarks != 1.75 || result.Percentage < 66.66 || result.Percentage > 66.67 {
		t.Fatalf("unexpected score %+v pct=%v", result.Score, result.Percentage)
	}
	if _, err := a.Submit(ctx); !errors.Is(err, domain.ErrAttemptSubmitted) {
		t.Fatalf("expected ErrAttemptSubmitted, got %v", err)
	}
	if err := a.SelectOption(ctx, 0, 2); !errors.Is(err, domain.ErrAttemptSubmitted) {
		t.Fatalf("mutation after submit should fail, got %v", err)
	}
	obs.waitNavigate(t)
	if _, navs := obs.counts(); navs != 1 {
		t.Fatalf("expected one navigation, got %d", navs)
	}
	if _, active := h.svc.Active("u1", "t1"); active {
		t.Fatalf("submitted attempt should be released")
	}
	stored, err := h.svc.Result(ctx, "u1", "t1")
	if err != nil || stored.ID != result.ID {
		t.Fatalf("stored result mismatch: %v %+v", err, stored)
	}
}

func TestNoDraftWritesAfterClose(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	obs := newRecordingObserver()
	a, err := h.svc.Start(ctx, "u1", "t1", obs)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	h.ticker.tick(t)
	obs.waitTick(t)

	a.Close()
	before := h.kv.setCount()

	if h.ticker.tryTick() {
		t.Fatalf("countdown accepted a tick after Close")
	}
	if err := a.SelectOption(ctx, 0, 1); !errors.Is(err, domain.ErrAttemptClosed) {
		t.Fatalf("expected ErrAttemptClosed, got %v", err)
	}
	if _, err := a.ToggleReview(ctx, 0); !errors.Is(err, domain.ErrAttemptClosed) {
		t.Fatalf("expected ErrAttemptClosed, got %v", err)
	}
	if after := h.kv.setCount(); after != before {
		t.Fatalf("storage written after Close: %d -> %d", before, after)
	}
	if !h.kv.has(KeysFor("u1", "t1").Elapsed) {
		t.Fatalf("closing must keep the draft")
	}
	if _, err := a.Submit(ctx); !errors.Is(err, domain.ErrAttemptClosed) {
		t.Fatalf("submit after close should fail, got %v", err)
	}
}

func TestStartRejectsConcurrentAttempt(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	a, err := h.svc.Start(ctx, "u1", "t1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.svc.Start(ctx, "u1", "t1", nil); !errors.Is(err, domain.ErrAttemptActive) {
		t.Fatalf("expected ErrAttemptActive, got %v", err)
	}
	a.Close()

	b, err := h.svc.Start(ctx, "u1", "t1", nil)
	if err != nil {
		t.Fatalf("restart after close: %v", err)
	}
	b.Close()

	if _, err := h.svc.Start(ctx, "u1", "missing", nil); !errors.Is(err, domain.ErrTestNotFound) {
		t.Fatalf("expected ErrTestNotFound, got %v", err)
	}
}

func TestResultSaveFailureKeepsPendingResult(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	h.results.setFail(errStoreDown)

	obs := newRecordingObserver()
	a, err := h.svc.Start(ctx, "u1", "t1", obs)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()
	_ = a.SelectOption(ctx, 0, 1)

	result, err := a.Submit(ctx)
	if !errors.Is(err, domain.ErrResultNotSaved) || !errors.Is(err, errStoreDown) {
		t.Fatalf("expected ErrResultNotSaved wrapping the store error, got %v", err)
	}
	var saveErr *ResultSaveError
	if !errors.As(err, &saveErr) || saveErr.Result.ID != result.ID {
		t.Fatalf("expected *ResultSaveError carrying the result, got %v", err)
	}
	if nav := obs.waitNavigate(t); nav.ID != result.ID {
		t.Fatalf("navigation should carry the unsaved result")
	}
	if h.kv.has(KeysFor("u1", "t1").Answers) {
		t.Fatalf("draft should be cleared even when the result was not saved")
	}

	pending, err := h.svc.Result(ctx, "u1", "t1")
	if err != nil || pending.ID != result.ID {
		t.Fatalf("pending result not served: %v", err)
	}
	all, err := h.svc.Results(ctx, "u1")
	if err != nil || len(all) != 1 {
		t.Fatalf("pending result missing from list: %v %d", err, len(all))
	}

	if n, err := h.svc.FlushPendingResults(ctx); n != 0 || !errors.Is(err, errStoreDown) {
		t.Fatalf("flush while down: n=%d err=%v", n, err)
	}
	h.results.setFail(nil)
	if n, err := h.svc.FlushPendingResults(ctx); n != 1 || err != nil {
		t.Fatalf("flush after recovery: n=%d err=%v", n, err)
	}
	if h.results.count() != 1 {
		t.Fatalf("expected flushed result stored")
	}
}

type countingPublisher struct {
	results []domain.Result
}

func (p *countingPublisher) PublishResult(_ context.Context, r domain.Result) error {
	p.results = append(p.results, r)
	return nil
}

func TestSubmitPublishesStoredResults(t *testing.T) {
	pub := &countingPublisher{}
	ticker := newManualTicker()
	results := &fakeResults{}
	svc := NewAttemptService(stubPapers{"t1": threeQuestionPaper()}, NewDraftStore(newSpyKV()), results,
		WithPublisher(pub),
		WithTicker(0, func(time.Duration) Ticker { return ticker }))
	ctx := context.Background()

	a, err := svc.Start(ctx, "u1", "t1", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := a.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(pub.results) != 1 || pub.results[0].Score.Unanswered != 3 {
		t.Fatalf("expected one published result, got %+v", pub.results)
	}
}

func TestCloseAllReleasesAttempts(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	if _, err := h.svc.Start(ctx, "u1", "t1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.svc.CloseAll()
	if _, active := h.svc.Active("u1", "t1"); active {
		t.Fatalf("attempt still active after CloseAll")
	}
}

// stallingObserver holds the timeout submission inside TimeUp until released.
type stallingObserver struct {
	*recordingObserver
	entered chan struct{}
	release chan struct{}
}

func (o *stallingObserver) TimeUp() {
	o.recordingObserver.TimeUp()
	close(o.entered)
	<-o.release
}

func TestCloseDuringExpiryKeepsTimeoutSubmission(t *testing.T) {
	h := newHarness(threeQuestionPaper())
	ctx := context.Background()
	_ = h.drafts.SaveAnswers(ctx, "u1", "t1", []*int{intp(1), nil, nil})
	_ = h.drafts.SaveElapsed(ctx, "u1", "t1", 179)

	obs := &stallingObserver{
		recordingObserver: newRecordingObserver(),
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	a, err := h.svc.Start(ctx, "u1", "t1", obs)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	h.ticker.tick(t)
	select {
	case <-obs.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("countdown never expired")
	}
	a.Close()
	close(obs.release)

	result := obs.waitNavigate(t)
	if result.Trigger != domain.TriggerTimeout || result.Score.Correct != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if h.results.count() != 1 {
		t.Fatalf("expected the timeout result stored, got %d", h.results.count())
	}
	if _, ok := h.svc.Active("u1", "t1"); ok {
		t.Fatalf("attempt should be released after the timeout submission")
	}
}

package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"exam-prep-service/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Observer receives attempt notifications. Implementations must not block.
type Observer interface {
	TimerTicked(remaining int)
	TimeUp()
	NavigateToResults(testID string, result domain.Result)
}

type noopObserver struct{}

func (noopObserver) TimerTicked(int)                         {}
func (noopObserver) TimeUp()                                 {}
func (noopObserver) NavigateToResults(string, domain.Result) {}

// PaletteStatus is the color class of a question in the palette.
type PaletteStatus string

const (
	PaletteUnvisited      PaletteStatus = "unvisited"
	PaletteVisited        PaletteStatus = "visited"
	PaletteAnswered       PaletteStatus = "answered"
	PaletteMarked         PaletteStatus = "marked"
	PaletteAnsweredMarked PaletteStatus = "answered_marked"
)

// PaletteEntry is one cell of the question palette.
type PaletteEntry struct {
	Index   int           `json:"index"`
	Status  PaletteStatus `json:"status"`
	Current bool          `json:"current"`
}

// AttemptView is a read-only snapshot for rendering.
type AttemptView struct {
	TestID      string         `json:"testId"`
	Title       string         `json:"title"`
	Current     int            `json:"current"`
	Question    QuestionView   `json:"question"`
	Answers     []*int         `json:"answers"`
	Marked      []bool         `json:"markedForReview"`
	Palette     []PaletteEntry `json:"palette"`
	Answered    int            `json:"answered"`
	Total       int            `json:"total"`
	Remaining   int            `json:"remaining"`
	RemainingHM string         `json:"remainingText"`
	LowTime     bool           `json:"lowTime"`
	Submitted   bool           `json:"submitted"`
}

// QuestionView hides the correct option from the taker.
type QuestionView struct {
	ID      string    `json:"id"`
	Text    string    `json:"questionText"`
	Options [4]string `json:"options"`
	Subject string    `json:"subject"`
	Chapter string    `json:"chapter,omitempty"`
}

// Attempt is one user's timed run through a test paper. All mutations are mirrored
// into the draft store until the attempt is submitted or closed.
type Attempt struct {
	id       string
	userID   string
	paper    domain.TestPaper
	total    int
	resumed  bool
	svc      *AttemptService
	observer Observer

	countdown *Countdown

	mu        sync.Mutex
	answers   []*int
	marked    []bool
	visited   []bool
	current   int
	submitted bool
	closed    bool
	result    *domain.Result
}

func newAttempt(svc *AttemptService, userID string, paper domain.TestPaper, draft domain.Draft, resumed bool, observer Observer) *Attempt {
	if observer == nil {
		observer = noopObserver{}
	}
	n := len(paper.Questions)
	visited := make([]bool, n)
	for i := range visited {
		visited[i] = draft.Answers[i] != nil || draft.Marked[i]
	}
	if n > 0 {
		visited[0] = true
	}
	return &Attempt{
		id:       uuid.NewString(),
		userID:   userID,
		paper:    paper,
		total:    paper.Test.DurationSeconds(),
		resumed:  resumed,
		svc:      svc,
		observer: observer,
		answers:  draft.Answers,
		marked:   draft.Marked,
		visited:  visited,
	}
}

// ID identifies this attempt instance.
func (a *Attempt) ID() string { return a.id }

// TestID returns the paper's test id.
func (a *Attempt) TestID() string { return a.paper.Test.ID }

// UserID returns the taker.
func (a *Attempt) UserID() string { return a.userID }

// Resumed reports whether the attempt was restored from a persisted draft.
func (a *Attempt) Resumed() bool { return a.resumed }

// Remaining returns seconds left on the countdown.
func (a *Attempt) Remaining() int { return a.countdown.Remaining() }

func (a *Attempt) checkOpenLocked() error {
	if a.submitted {
		return domain.ErrAttemptSubmitted
	}
	if a.closed {
		return domain.ErrAttemptClosed
	}
	return nil
}

func (a *Attempt) checkIndexLocked(q int) error {
	if q < 0 || q >= len(a.answers) {
		return domain.ErrQuestionIndex
	}
	return nil
}

// SelectOption records opt as the answer to question q, overwriting any earlier choice.
func (a *Attempt) SelectOption(ctx context.Context, q, opt int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return err
	}
	if err := a.checkIndexLocked(q); err != nil {
		return err
	}
	if opt < 0 || opt >= len(domain.OptionLetters) {
		return domain.ErrOptionIndex
	}
	choice := opt
	a.answers[q] = &choice
	a.visited[q] = true
	return a.svc.drafts.SaveAnswers(ctx, a.userID, a.TestID(), a.answers)
}

// ToggleReview flips the review flag of question q and returns the new value.
func (a *Attempt) ToggleReview(ctx context.Context, q int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpenLocked(); err != nil {
		return false, err
	}
	if err := a.checkIndexLocked(q); err != nil {
		return false, err
	}
	a.marked[q] = !a.marked[q]
	a.visited[q] = true
	return a.marked[q], a.svc.drafts.SaveMarked(ctx, a.userID, a.TestID(), a.marked)
}

// GoTo moves the current question to q.
func (a *Attempt) GoTo(q int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkIndexLocked(q); err != nil {
		return err
	}
	a.current = q
	a.visited[q] = true
	return nil
}

// Next moves forward one question, staying on the last one.
func (a *Attempt) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current < len(a.answers)-1 {
		a.current++
		a.visited[a.current] = true
	}
	return a.current
}

// Prev moves back one question, staying on the first one.
func (a *Attempt) Prev() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current > 0 {
		a.current--
		a.visited[a.current] = true
	}
	return a.current
}

// Palette projects the per-question state into color classes.
func (a *Attempt) Palette() []PaletteEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paletteLocked()
}

func (a *Attempt) paletteLocked() []PaletteEntry {
	out := make([]PaletteEntry, len(a.answers))
	for i := range a.answers {
		status := PaletteUnvisited
		switch answered, marked := a.answers[i] != nil, a.marked[i]; {
		case answered && marked:
			status = PaletteAnsweredMarked
		case answered:
			status = PaletteAnswered
		case marked:
			status = PaletteMarked
		case a.visited[i]:
			status = PaletteVisited
		}
		out[i] = PaletteEntry{Index: i, Status: status, Current: i == a.current}
	}
	return out
}

// View returns a snapshot for rendering.
func (a *Attempt) View() AttemptView {
	remaining := a.countdown.Remaining()

	a.mu.Lock()
	defer a.mu.Unlock()
	answered := 0
	for _, ans := range a.answers {
		if ans != nil {
			answered++
		}
	}
	view := AttemptView{
		TestID:      a.TestID(),
		Title:       a.paper.Test.Title,
		Current:     a.current,
		Answers:     append([]*int(nil), a.answers...),
		Marked:      append([]bool(nil), a.marked...),
		Palette:     a.paletteLocked(),
		Answered:    answered,
		Total:       len(a.answers),
		Remaining:   remaining,
		RemainingHM: FormatDuration(remaining),
		LowTime:     LowTime(remaining),
		Submitted:   a.submitted,
	}
	if len(a.paper.Questions) > 0 {
		q := a.paper.Questions[a.current]
		view.Question = QuestionView{ID: q.ID, Text: q.Text, Options: q.Options, Subject: q.Subject, Chapter: q.Chapter}
	}
	return view
}

// Submit scores and stores the attempt after explicit confirmation. The returned
// result is valid even when err wraps domain.ErrResultNotSaved.
func (a *Attempt) Submit(ctx context.Context) (domain.Result, error) {
	return a.submit(ctx, domain.TriggerManual)
}

// Result returns the submitted result, if any.
func (a *Attempt) Result() (domain.Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result == nil {
		return domain.Result{}, false
	}
	return *a.result, true
}

// Close tears the view down without submitting. The draft stays persisted. Once the
// countdown has expired the timeout submission owns the attempt and releases it.
func (a *Attempt) Close() {
	a.countdown.Stop()
	if a.countdown.Expiring() {
		return
	}

	a.mu.Lock()
	already := a.closed
	a.closed = true
	a.mu.Unlock()

	if !already {
		a.svc.release(a)
	}
}

func (a *Attempt) onTick(elapsed int) {
	if err := a.svc.drafts.SaveElapsed(context.Background(), a.userID, a.TestID(), elapsed); err != nil {
		log.Error().Err(err).Str("testID", a.TestID()).Str("userID", a.userID).Msg("persist elapsed time")
	}
	a.observer.TimerTicked(a.total - elapsed)
}

func (a *Attempt) onExpire() {
	a.observer.TimeUp()
	if _, err := a.submit(context.Background(), domain.TriggerTimeout); err != nil {
		if errors.Is(err, domain.ErrAttemptSubmitted) || errors.Is(err, domain.ErrAttemptClosed) {
			return
		}
		log.Error().Err(err).Str("testID", a.TestID()).Str("userID", a.userID).Msg("auto-submit on timeout")
	}
}

// submit runs the submission side effects in order: stop the countdown, persist the
// result, clear the draft, navigate. Never call it with a.mu held.
func (a *Attempt) submit(ctx context.Context, trigger domain.SubmitTrigger) (domain.Result, error) {
	a.countdown.Stop()

	a.mu.Lock()
	if err := a.checkOpenLocked(); err != nil {
		a.mu.Unlock()
		return domain.Result{}, err
	}
	a.submitted = true
	answers := append([]*int(nil), a.answers...)
	a.mu.Unlock()

	result := a.buildResult(answers, trigger)

	a.mu.Lock()
	a.result = &result
	a.mu.Unlock()

	err := a.svc.complete(ctx, a, result)
	a.observer.NavigateToResults(a.TestID(), result)
	return result, err
}

func (a *Attempt) buildResult(answers []*int, trigger domain.SubmitTrigger) domain.Result {
	questions := a.paper.Questions
	score := ScoreAnswers(questions, answers)
	correct := make([]int, len(questions))
	ids := make([]string, len(questions))
	for i, q := range questions {
		correct[i] = q.CorrectIndex()
		ids[i] = q.ID
	}
	return domain.Result{
		ID:             uuid.NewString(),
		UserID:         a.userID,
		TestID:         a.TestID(),
		TestTitle:      a.paper.Test.Title,
		TotalQuestions: len(questions),
		Answers:        answers,
		CorrectAnswers: correct,
		QuestionIDs:    ids,
		Score:          score,
		Percentage:     Percentage(score, len(questions)),
		TimeTaken:      a.countdown.Elapsed(),
		Trigger:        trigger,
		CompletedAt:    a.svc.now().UTC().Truncate(time.Millisecond),
	}
}

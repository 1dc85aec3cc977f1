package domain

import (
	"math"
	"strings"
	"time"
)

// SourceType tags where a question came from.
type SourceType string

const (
	SourceMockTest SourceType = "mock_test"
	SourcePYQ      SourceType = "pyq"
	SourceBook     SourceType = "book"
)

// Valid reports whether s is one of the known source types.
func (s SourceType) Valid() bool {
	switch s {
	case SourceMockTest, SourcePYQ, SourceBook:
		return true
	}
	return false
}

// OptionLetters maps option indexes to the letters stored in the questions table.
const OptionLetters = "ABCD"

// MockTest is an authored timed test.
type MockTest struct {
	ID             string    `json:"id" yaml:"id"`
	Title          string    `json:"title" yaml:"title"`
	Description    string    `json:"description,omitempty" yaml:"description"`
	Subject        string    `json:"subject" yaml:"subject"`
	DurationMins   int       `json:"duration" yaml:"duration"`
	Difficulty     string    `json:"difficulty" yaml:"difficulty"`
	TotalQuestions int       `json:"totalQuestions" yaml:"totalQuestions"`
	TotalMarks     int       `json:"totalMarks" yaml:"totalMarks"`
	Active         bool      `json:"isActive" yaml:"active"`
	CreatedBy      string    `json:"createdBy" yaml:"createdBy"`
	CreatedAt      time.Time `json:"createdAt" yaml:"createdAt"`
}

// DurationSeconds is the attempt length in seconds.
func (t MockTest) DurationSeconds() int {
	return t.DurationMins * 60
}

// Question models a four-option MCQ.
type Question struct {
	ID            string     `json:"id" yaml:"id"`
	Text          string     `json:"questionText" yaml:"text"`
	Options       [4]string  `json:"options" yaml:"options"`
	CorrectOption string     `json:"correctOption" yaml:"correct"` // letter A-D
	Explanation   string     `json:"explanation,omitempty" yaml:"explanation"`
	Marks         int        `json:"marks" yaml:"marks"`
	SourceType    SourceType `json:"sourceType" yaml:"source"`
	SourceID      string     `json:"sourceId,omitempty" yaml:"sourceId"`
	Subject       string     `json:"subject" yaml:"subject"`
	Chapter       string     `json:"chapter,omitempty" yaml:"chapter"`
	Year          int        `json:"year,omitempty" yaml:"year"`
	BookName      string     `json:"bookName,omitempty" yaml:"bookName"`
	CreatedBy     string     `json:"createdBy,omitempty" yaml:"-"`
	CreatedAt     time.Time  `json:"createdAt" yaml:"-"`
}

// CorrectIndex converts the stored letter to an option index, -1 if it is not A-D.
func (q Question) CorrectIndex() int {
	if len(q.CorrectOption) != 1 {
		return -1
	}
	return strings.IndexByte(OptionLetters, strings.ToUpper(q.CorrectOption)[0])
}

// QuestionFilter selects a page of the question bank.
type QuestionFilter struct {
	SourceType SourceType
	Subject    string
	Page       int
	Limit      int
}

// Normalize applies paging defaults (page 1, limit 20).
func (f QuestionFilter) Normalize() QuestionFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	return f
}

// Offset is the number of rows skipped for the page.
func (f QuestionFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// QuestionPage is one page of the question bank plus the unpaged total.
type QuestionPage struct {
	Questions []Question `json:"questions"`
	Total     int        `json:"total"`
}

// QuestionUpdate carries a partial question edit; nil fields are left untouched.
type QuestionUpdate struct {
	Text          *string     `json:"questionText,omitempty"`
	Options       *[4]string  `json:"options,omitempty"`
	CorrectOption *string     `json:"correctOption,omitempty"`
	Explanation   *string     `json:"explanation,omitempty"`
	Marks         *int        `json:"marks,omitempty"`
	SourceType    *SourceType `json:"sourceType,omitempty"`
	SourceID      *string     `json:"sourceId,omitempty"`
	Subject       *string     `json:"subject,omitempty"`
	Chapter       *string     `json:"chapter,omitempty"`
	Year          *int        `json:"year,omitempty"`
	BookName      *string     `json:"bookName,omitempty"`
}

// Apply writes the non-nil fields of u onto q.
func (u QuestionUpdate) Apply(q *Question) {
	if u.Text != nil {
		q.Text = *u.Text
	}
	if u.Options != nil {
		q.Options = *u.Options
	}
	if u.CorrectOption != nil {
		q.CorrectOption = strings.ToUpper(*u.CorrectOption)
	}
	if u.Explanation != nil {
		q.Explanation = *u.Explanation
	}
	if u.Marks != nil {
		q.Marks = *u.Marks
	}
	if u.SourceType != nil {
		q.SourceType = *u.SourceType
	}
	if u.SourceID != nil {
		q.SourceID = *u.SourceID
	}
	if u.Subject != nil {
		q.Subject = *u.Subject
	}
	if u.Chapter != nil {
		q.Chapter = *u.Chapter
	}
	if u.Year != nil {
		q.Year = *u.Year
	}
	if u.BookName != nil {
		q.BookName = *u.BookName
	}
}

// TestPaper is a mock test together with its ordered question set.
type TestPaper struct {
	Test      MockTest   `json:"test"`
	Questions []Question `json:"questions"`
}

// Draft is the in-progress state of an attempt. Answers and Marked are index-aligned
// with the paper's questions; a nil answer means unanswered.
type Draft struct {
	Answers        []*int `json:"answers"`
	Marked         []bool `json:"markedForReview"`
	ElapsedSeconds int    `json:"elapsedSeconds"`
}

// NewDraft returns an all-unanswered, all-unmarked draft for n questions.
func NewDraft(n int) Draft {
	return Draft{
		Answers: make([]*int, n),
		Marked:  make([]bool, n),
	}
}

// HasAnswers reports whether at least one question was answered.
func (d Draft) HasAnswers() bool {
	for _, a := range d.Answers {
		if a != nil {
			return true
		}
	}
	return false
}

// Fits reports whether the draft is index-aligned with n questions.
func (d Draft) Fits(n int) bool {
	return len(d.Answers) == n && len(d.Marked) == n
}

// Score partitions an answer set against the correct options.
type Score struct {
	Correct    int     `json:"correct"`
	Incorrect  int     `json:"incorrect"`
	Unanswered int     `json:"unanswered"`
	TotalMarks float64 `json:"totalMarks"`
}

// PointsFor converts a result into leaderboard points: total marks rounded, never negative.
func PointsFor(r Result) int {
	points := int(math.Round(r.Score.TotalMarks))
	if points < 0 {
		return 0
	}
	return points
}

// SubmitTrigger says why an attempt was submitted.
type SubmitTrigger string

const (
	TriggerManual  SubmitTrigger = "manual"
	TriggerTimeout SubmitTrigger = "timeout"
)

// Result is the immutable record written once per submission.
type Result struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId"`
	TestID         string        `json:"testId"`
	TestTitle      string        `json:"testTitle"`
	TotalQuestions int           `json:"totalQuestions"`
	Answers        []*int        `json:"userAnswers"`
	CorrectAnswers []int         `json:"correctAnswers"`
	QuestionIDs    []string      `json:"questionIds"`
	Score          Score         `json:"score"`
	Percentage     float64       `json:"percentageScore"`
	TimeTaken      int           `json:"timeTaken"`
	Trigger        SubmitTrigger `json:"trigger"`
	CompletedAt    time.Time     `json:"date"`
}

// RankChange is the direction a leaderboard position moved.
type RankChange string

const (
	RankUp   RankChange = "up"
	RankDown RankChange = "down"
	RankSame RankChange = "same"
)

// LeaderboardRow is the canonical leaderboard contract. Ranks come from the backend.
type LeaderboardRow struct {
	ID             string     `json:"id" yaml:"id"`
	UserID         string     `json:"userId" yaml:"userId"`
	Name           string     `json:"name" yaml:"name"`
	TotalPoints    int        `json:"totalPoints" yaml:"totalPoints"`
	TestsTaken     int        `json:"testsTaken" yaml:"testsTaken"`
	AverageScore   float64    `json:"averageScore" yaml:"averageScore"`
	RankPosition   int        `json:"rankPosition" yaml:"rankPosition"`
	LastRankChange RankChange `json:"lastRankChange" yaml:"lastRankChange"`
	UpdatedAt      time.Time  `json:"updatedAt" yaml:"updatedAt"`
}

// DisplayName returns the row name or a short id-derived placeholder.
func (r LeaderboardRow) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	id := r.UserID
	if len(id) > 6 {
		id = id[:6]
	}
	return "User-" + id
}

// Period selects the leaderboard window.
type Period string

const (
	PeriodAllTime Period = "all-time"
	PeriodMonthly Period = "monthly"
	PeriodWeekly  Period = "weekly"
)

// Since returns the cutoff for the period relative to now; zero for all-time.
func (p Period) Since(now time.Time) time.Time {
	switch p {
	case PeriodMonthly:
		return now.AddDate(0, -1, 0)
	case PeriodWeekly:
		return now.AddDate(0, 0, -7)
	}
	return time.Time{}
}

// UserAccount is a registered user as the admin roster sees it.
type UserAccount struct {
	ID        string    `json:"id" yaml:"id"`
	Email     string    `json:"email" yaml:"email"`
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// UserScore is the per-user aggregate maintained by the backend.
type UserScore struct {
	UserID     string `json:"userId"`
	TestsTaken int    `json:"testsTaken"`
	Points     int    `json:"points"`
}

// UserSummary is an account merged with its score aggregate.
type UserSummary struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	TestsTaken int       `json:"testsTaken"`
	Points     int       `json:"points"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// BulkResult reports partial success of a bulk upload.
type BulkResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

package postgres

import (
	"time"

	"exam-prep-service/internal/domain"
	"github.com/uptrace/bun"
)

type profileModel struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	ID        string    `bun:"id,pk"`
	Email     string    `bun:"email,notnull"`
	Name      string    `bun:"name,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func (m profileModel) toDomain() domain.UserAccount {
	return domain.UserAccount{ID: m.ID, Email: m.Email, Name: m.Name, CreatedAt: m.CreatedAt}
}

type mockTestModel struct {
	bun.BaseModel `bun:"table:mock_tests,alias:mt"`

	ID             string    `bun:"id,pk,nullzero"`
	Title          string    `bun:"title,notnull"`
	Description    string    `bun:"description,nullzero"`
	Subject        string    `bun:"subject,notnull"`
	Duration       int       `bun:"duration,notnull"`
	Difficulty     string    `bun:"difficulty,notnull"`
	TotalQuestions int       `bun:"total_questions,notnull"`
	TotalMarks     int       `bun:"total_marks,notnull"`
	IsActive       bool      `bun:"is_active,notnull"`
	CreatedBy      string    `bun:"created_by,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func mockTestFromDomain(t domain.MockTest) mockTestModel {
	return mockTestModel{
		ID:             t.ID,
		Title:          t.Title,
		Description:    t.Description,
		Subject:        t.Subject,
		Duration:       t.DurationMins,
		Difficulty:     t.Difficulty,
		TotalQuestions: t.TotalQuestions,
		TotalMarks:     t.TotalMarks,
		IsActive:       t.Active,
		CreatedBy:      t.CreatedBy,
		CreatedAt:      t.CreatedAt,
	}
}

func (m mockTestModel) toDomain() domain.MockTest {
	return domain.MockTest{
		ID:             m.ID,
		Title:          m.Title,
		Description:    m.Description,
		Subject:        m.Subject,
		DurationMins:   m.Duration,
		Difficulty:     m.Difficulty,
		TotalQuestions: m.TotalQuestions,
		TotalMarks:     m.TotalMarks,
		Active:         m.IsActive,
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt,
	}
}

type questionModel struct {
	bun.BaseModel `bun:"table:questions,alias:q"`

	ID            string    `bun:"id,pk,nullzero"`
	QuestionText  string    `bun:"question_text,notnull"`
	OptionA       string    `bun:"option_a,notnull"`
	OptionB       string    `bun:"option_b,notnull"`
	OptionC       string    `bun:"option_c,notnull"`
	OptionD       string    `bun:"option_d,notnull"`
	CorrectOption string    `bun:"correct_option,notnull"`
	Explanation   string    `bun:"explanation,nullzero"`
	Marks         int       `bun:"marks,notnull"`
	SourceType    string    `bun:"source_type,notnull"`
	SourceID      string    `bun:"source_id,nullzero"`
	Subject       string    `bun:"subject,notnull"`
	Chapter       string    `bun:"chapter,nullzero"`
	Year          int       `bun:"year,nullzero"`
	BookName      string    `bun:"book_name,nullzero"`
	CreatedBy     string    `bun:"created_by,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func questionFromDomain(q domain.Question) questionModel {
	return questionModel{
		ID:            q.ID,
		QuestionText:  q.Text,
		OptionA:       q.Options[0],
		OptionB:       q.Options[1],
		OptionC:       q.Options[2],
		OptionD:       q.Options[3],
		CorrectOption: q.CorrectOption,
		Explanation:   q.Explanation,
		Marks:         q.Marks,
		SourceType:    string(q.SourceType),
		SourceID:      q.SourceID,
		Subject:       q.Subject,
		Chapter:       q.Chapter,
		Year:          q.Year,
		BookName:      q.BookName,
		CreatedBy:     q.CreatedBy,
		CreatedAt:     q.CreatedAt,
	}
}

func (m questionModel) toDomain() domain.Question {
	return domain.Question{
		ID:            m.ID,
		Text:          m.QuestionText,
		Options:       [4]string{m.OptionA, m.OptionB, m.OptionC, m.OptionD},
		CorrectOption: m.CorrectOption,
		Explanation:   m.Explanation,
		Marks:         m.Marks,
		SourceType:    domain.SourceType(m.SourceType),
		SourceID:      m.SourceID,
		Subject:       m.Subject,
		Chapter:       m.Chapter,
		Year:          m.Year,
		BookName:      m.BookName,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     m.CreatedAt,
	}
}

type userScoreModel struct {
	bun.BaseModel `bun:"table:user_scores,alias:us"`

	ID             string    `bun:"id,pk,nullzero"`
	UserID         string    `bun:"user_id,notnull"`
	TotalPoints    int       `bun:"total_points,notnull"`
	TestsTaken     int       `bun:"tests_taken,notnull"`
	AverageScore   float64   `bun:"average_score,notnull"`
	RankPosition   int       `bun:"rank_position,nullzero"`
	LastRankChange string    `bun:"last_rank_change,nullzero"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	Name           string    `bun:"name,scanonly"`
}

func (m userScoreModel) toDomain() domain.LeaderboardRow {
	return domain.LeaderboardRow{
		ID:             m.ID,
		UserID:         m.UserID,
		Name:           m.Name,
		TotalPoints:    m.TotalPoints,
		TestsTaken:     m.TestsTaken,
		AverageScore:   m.AverageScore,
		RankPosition:   m.RankPosition,
		LastRankChange: domain.RankChange(m.LastRankChange),
		UpdatedAt:      m.UpdatedAt,
	}
}

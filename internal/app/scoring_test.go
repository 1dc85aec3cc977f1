package app

import (
	"testing"

	"exam-prep-service/internal/domain"
)

func intp(v int) *int { return &v }

func TestScoreAnswersNegativeMarking(t *testing.T) {
	questions := make([]domain.Question, 5)
	for i := range questions {
		questions[i] = domain.Question{CorrectOption: "B"}
	}
	// correct, wrong, unanswered, correct, wrong
	answers := []*int{intp(1), intp(0), nil, intp(1), intp(3)}

	score := ScoreAnswers(questions, answers)
	if score.Correct != 2 || score.Incorrect != 2 || score.Unanswered != 1 {
		t.Fatalf("unexpected partition %+v", score)
	}
	if score.TotalMarks != 1.5 {
		t.Fatalf("expected 1.5 marks, got %v", score.TotalMarks)
	}
	if score.Correct+score.Incorrect+score.Unanswered != len(questions) {
		t.Fatalf("partition does not cover all questions: %+v", score)
	}
	if got := Percentage(score, len(questions)); got != 40 {
		t.Fatalf("expected 40%%, got %v", got)
	}
}

func TestScoreAnswersPartitionInvariant(t *testing.T) {
	tests := []struct {
		name    string
		answers []*int
	}{
		{"all unanswered", []*int{nil, nil, nil}},
		{"all correct", []*int{intp(0), intp(0), intp(0)}},
		{"short answer slice", []*int{intp(2)}},
	}
	questions := []domain.Question{{CorrectOption: "A"}, {CorrectOption: "A"}, {CorrectOption: "A"}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ScoreAnswers(questions, tt.answers)
			if s.Correct+s.Incorrect+s.Unanswered != len(questions) {
				t.Errorf("partition %+v does not sum to %d", s, len(questions))
			}
			want := float64(s.Correct) - 0.25*float64(s.Incorrect)
			if s.TotalMarks != want {
				t.Errorf("TotalMarks = %v, want %v", s.TotalMarks, want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0s"},
		{59, "59s"},
		{61, "1m 1s"},
		{3600, "1h 0m 0s"},
		{3723, "1h 2m 3s"},
		{-4, "0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package app

import (
	"fmt"
	"strings"

	"exam-prep-service/internal/domain"
)

const (
	marksPerCorrect   = 1.0
	marksPerIncorrect = 0.25
)

// ScoreAnswers classifies each answer against the question at the same index.
// An answer is correct when it equals the question's correct option, incorrect when
// set and different, unanswered when nil.
func ScoreAnswers(questions []domain.Question, answers []*int) domain.Score {
	var score domain.Score
	for i, q := range questions {
		var answer *int
		if i < len(answers) {
			answer = answers[i]
		}
		switch {
		case answer == nil:
			score.Unanswered++
		case *answer == q.CorrectIndex():
			score.Correct++
		default:
			score.Incorrect++
		}
	}
	score.TotalMarks = float64(score.Correct)*marksPerCorrect - float64(score.Incorrect)*marksPerIncorrect
	return score
}

// Percentage is correct answers over total questions, 0 for an empty paper.
func Percentage(score domain.Score, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(score.Correct) / float64(total) * 100
}

// FormatDuration renders seconds as "1h 2m 3s", omitting leading zero units.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	mins := (seconds % 3600) / 60
	secs := seconds % 60

	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if hours > 0 || mins > 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	parts = append(parts, fmt.Sprintf("%ds", secs))
	return strings.Join(parts, " ")
}

// LowTime reports whether fewer than five minutes remain.
func LowTime(remaining int) bool {
	return remaining < 300
}

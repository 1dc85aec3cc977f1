package domain

import "strings"

// ValidateQuestion checks the fields a question needs before it is stored.
func ValidateQuestion(q Question) error {
	v := &ValidationError{}
	if strings.TrimSpace(q.Text) == "" {
		v.Add("questionText", "required")
	}
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			v.Add("option_"+strings.ToLower(OptionLetters[i:i+1]), "required")
		}
	}
	if q.CorrectIndex() < 0 {
		v.Add("correctOption", "must be one of A, B, C, D")
	}
	if !q.SourceType.Valid() {
		v.Add("sourceType", "must be mock_test, pyq or book")
	}
	if strings.TrimSpace(q.Subject) == "" {
		v.Add("subject", "required")
	}
	if q.Marks < 0 {
		v.Add("marks", "must not be negative")
	}
	return v.OrNil()
}

// ValidateMockTest checks a mock test before creation.
func ValidateMockTest(t MockTest) error {
	v := &ValidationError{}
	if strings.TrimSpace(t.Title) == "" {
		v.Add("title", "required")
	}
	if strings.TrimSpace(t.Subject) == "" {
		v.Add("subject", "required")
	}
	if t.DurationMins <= 0 {
		v.Add("duration", "must be positive")
	}
	if t.TotalQuestions <= 0 {
		v.Add("totalQuestions", "must be positive")
	}
	if t.TotalMarks < 0 {
		v.Add("totalMarks", "must not be negative")
	}
	if strings.TrimSpace(t.CreatedBy) == "" {
		v.Add("createdBy", "required")
	}
	return v.OrNil()
}

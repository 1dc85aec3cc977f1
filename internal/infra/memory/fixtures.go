package memory

import "exam-prep-service/internal/domain"

// SampleFixtures is the dataset used when no fixture file is configured.
func SampleFixtures() Fixtures {
	return Fixtures{
		MockTests: []domain.MockTest{
			{
				ID:             "quick-maths",
				Title:          "Quick Maths",
				Description:    "Three arithmetic warm-ups",
				Subject:        "Mathematics",
				DurationMins:   3,
				Difficulty:     "easy",
				TotalQuestions: 3,
				TotalMarks:     3,
				Active:         true,
				CreatedBy:      "system",
			},
			{
				ID:             "general-science",
				Title:          "General Science",
				Subject:        "Science",
				DurationMins:   10,
				Difficulty:     "medium",
				TotalQuestions: 5,
				TotalMarks:     5,
				Active:         true,
				CreatedBy:      "system",
			},
		},
		Questions: []domain.Question{
			mcq("qm-1", "quick-maths", "Mathematics", "What is 7 x 8?", "54", "56", "58", "64", "B"),
			mcq("qm-2", "quick-maths", "Mathematics", "What is 144 / 12?", "10", "11", "12", "14", "C"),
			mcq("qm-3", "quick-maths", "Mathematics", "What is 15% of 200?", "30", "25", "35", "20", "A"),
			mcq("gs-1", "general-science", "Science", "Which gas do plants absorb?", "Oxygen", "Nitrogen", "Carbon dioxide", "Helium", "C"),
			mcq("gs-2", "general-science", "Science", "What is the SI unit of force?", "Joule", "Newton", "Pascal", "Watt", "B"),
			mcq("gs-3", "general-science", "Science", "Which planet is closest to the Sun?", "Mercury", "Venus", "Earth", "Mars", "A"),
			mcq("gs-4", "general-science", "Science", "What is H2O?", "Salt", "Hydrogen", "Water", "Ozone", "C"),
			mcq("gs-5", "general-science", "Science", "Which organ pumps blood?", "Lungs", "Liver", "Kidney", "Heart", "D"),
		},
	}
}

func mcq(id, testID, subject, text, a, b, c, d, correct string) domain.Question {
	return domain.Question{
		ID:            id,
		Text:          text,
		Options:       [4]string{a, b, c, d},
		CorrectOption: correct,
		Marks:         1,
		SourceType:    domain.SourceMockTest,
		SourceID:      testID,
		Subject:       subject,
	}
}

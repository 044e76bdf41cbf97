package ranking

import (
	"strings"
	"time"
)

// Submission is the inbound quiz-completion call from the quiz subsystem.
// Correctness and points are already computed by the caller.
type Submission struct {
	UserID              string `json:"user_id"`
	DisplayName         string `json:"display_name"`
	AvatarRef           string `json:"avatar_ref,omitempty"`
	TotalPointsSnapshot int    `json:"total_points_snapshot"`
	CurrentLevel        int    `json:"current_level"`
	QuizID              string `json:"quiz_id"`
	Category            string `json:"category"`
	PointsEarned        int    `json:"points_earned"`
	CorrectCount        int    `json:"correct_count"`
	TotalQuestions      int    `json:"total_questions"`
	TimeSpentSeconds    int    `json:"time_spent_seconds"`
}

// Validate checks the preconditions of a submission. Points, level and
// category are accepted as-is.
func (s Submission) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return NewInvalidEventError("user_id", "user id cannot be empty")
	}
	if s.TotalQuestions <= 0 {
		return NewInvalidEventError("total_questions", "total questions must be positive")
	}
	if s.CorrectCount < 0 || s.CorrectCount > s.TotalQuestions {
		return NewInvalidEventError("correct_count", "correct count must be within [0, total questions]")
	}
	if s.TimeSpentSeconds < 0 {
		return NewInvalidEventError("time_spent_seconds", "time spent cannot be negative")
	}
	return nil
}

// Event builds the immutable score event for this submission.
func (s Submission) Event(id string, completedAt time.Time) ScoreEvent {
	return ScoreEvent{
		ID:               id,
		UserID:           s.UserID,
		QuizID:           s.QuizID,
		Category:         s.Category,
		PointsEarned:     s.PointsEarned,
		CorrectCount:     s.CorrectCount,
		TotalQuestions:   s.TotalQuestions,
		TimeSpentSeconds: s.TimeSpentSeconds,
		CompletedAt:      completedAt,
	}
}

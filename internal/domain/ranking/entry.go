// Package ranking contains the domain model of the Kombinu leaderboard:
// per-user standing, score events, the ordering comparator, time windows and
// the immutable ranking snapshot.
//
// The package has no I/O. Ports to remote sources and caches are declared in
// repository.go and implemented under internal/infrastructure.
package ranking

import (
	"fmt"
	"math"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Trend is the direction of a user's position change between two consecutive
// computation passes.
type Trend string

const (
	// TrendRose - the user moved to a better (lower-numbered) position.
	TrendRose Trend = "rose"
	// TrendFell - the user moved to a worse position.
	TrendFell Trend = "fell"
	// TrendHeld - the position did not change.
	TrendHeld Trend = "held"
	// TrendNew - first computation pass that placed the user.
	TrendNew Trend = "new"
)

// Symbol returns a compact marker for logs and text renderings.
func (t Trend) Symbol() string {
	switch t {
	case TrendRose:
		return "▲"
	case TrendFell:
		return "▼"
	case TrendNew:
		return "★"
	default:
		return "="
	}
}

// PassThreshold is the accuracy ratio at or above which an attempt extends
// the user's streak.
const PassThreshold = 0.70

// ══════════════════════════════════════════════════════════════════════════════
// SCORE EVENT
// ══════════════════════════════════════════════════════════════════════════════

// ScoreEvent is one completed quiz. It is created once per submission and
// never mutated afterwards.
type ScoreEvent struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	QuizID           string    `json:"quiz_id"`
	Category         string    `json:"category"`
	PointsEarned     int       `json:"points_earned"`
	CorrectCount     int       `json:"correct_count"`
	TotalQuestions   int       `json:"total_questions"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Accuracy returns the correct/total ratio of the attempt in [0, 1].
func (e ScoreEvent) Accuracy() float64 {
	if e.TotalQuestions <= 0 {
		return 0
	}
	return float64(e.CorrectCount) / float64(e.TotalQuestions)
}

// Passed reports whether the attempt cleared PassThreshold.
func (e ScoreEvent) Passed() bool {
	return e.Accuracy() >= PassThreshold
}

// StudyMinutes returns the time spent rounded to whole minutes.
func (e ScoreEvent) StudyMinutes() int {
	return int(math.Round(float64(e.TimeSpentSeconds) / 60))
}

// AverageAccuracyPercent returns sum(correct)/sum(total)*100 across events.
// Events with no questions are ignored.
func AverageAccuracyPercent(events []ScoreEvent) float64 {
	var correct, total int
	for _, e := range events {
		if e.TotalQuestions <= 0 {
			continue
		}
		correct += e.CorrectCount
		total += e.TotalQuestions
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total) * 100
}

// ══════════════════════════════════════════════════════════════════════════════
// STANDING ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// StandingEntry is a user's aggregate competitive record and place in the
// global ordering. It is a plain value: copying an entry never shares state
// with the engine.
type StandingEntry struct {
	UserID                 string    `json:"user_id"`
	DisplayName            string    `json:"display_name"`
	AvatarRef              string    `json:"avatar_ref,omitempty"`
	TotalPoints            int       `json:"total_points"`
	Level                  int       `json:"level"`
	QuizzesCompleted       int       `json:"quizzes_completed"`
	CurrentStreak          int       `json:"current_streak"`
	BestStreak             int       `json:"best_streak"`
	AverageAccuracyPercent float64   `json:"average_accuracy_percent"`
	TotalStudyMinutes      int       `json:"total_study_minutes"`
	LastActivityAt         time.Time `json:"last_activity_at"`

	// Position is the 1-based dense place in the global ordering.
	Position int `json:"position"`

	// PreviousPosition is the position before the latest computation pass.
	// Zero means absent.
	PreviousPosition int `json:"previous_position,omitempty"`

	Trend Trend `json:"trend"`
}

// NewStandingEntry creates the entry for a user's first completed quiz.
func NewStandingEntry(sub Submission, event ScoreEvent) StandingEntry {
	entry := StandingEntry{
		UserID:                 sub.UserID,
		DisplayName:            sub.DisplayName,
		AvatarRef:              sub.AvatarRef,
		TotalPoints:            sub.TotalPointsSnapshot,
		Level:                  sub.CurrentLevel,
		QuizzesCompleted:       1,
		AverageAccuracyPercent: event.Accuracy() * 100,
		TotalStudyMinutes:      event.StudyMinutes(),
		LastActivityAt:         event.CompletedAt,
		Trend:                  TrendNew,
	}
	if event.Passed() {
		entry.CurrentStreak = 1
		entry.BestStreak = 1
	}
	return entry
}

// Apply folds a further completed quiz into the entry. history must contain
// every locally known event of the user including event itself. When it
// covers every completed quiz it is replayed to derive the average accuracy.
// Otherwise the earlier quizzes are known only through the loaded aggregate,
// and the new attempt is folded into it as one more quiz.
//
// TotalPoints is replaced by the caller's running total: the point economy
// is owned upstream and the engine only mirrors it.
func (e *StandingEntry) Apply(sub Submission, event ScoreEvent, history []ScoreEvent) {
	e.DisplayName = sub.DisplayName
	e.AvatarRef = sub.AvatarRef
	e.Level = sub.CurrentLevel
	e.TotalPoints = sub.TotalPointsSnapshot
	prior := e.QuizzesCompleted
	e.QuizzesCompleted++
	e.LastActivityAt = event.CompletedAt
	e.TotalStudyMinutes += event.StudyMinutes()
	if len(history) >= e.QuizzesCompleted {
		e.AverageAccuracyPercent = AverageAccuracyPercent(history)
	} else {
		e.AverageAccuracyPercent = (e.AverageAccuracyPercent*float64(prior) + event.Accuracy()*100) / float64(e.QuizzesCompleted)
	}

	if e.Position > 0 {
		e.PreviousPosition = e.Position
	}

	if event.Passed() {
		e.CurrentStreak++
		if e.CurrentStreak > e.BestStreak {
			e.BestStreak = e.CurrentStreak
		}
	} else {
		e.CurrentStreak = 0
	}
}

// ActiveSince reports whether the user was active at or after t.
func (e StandingEntry) ActiveSince(t time.Time) bool {
	return !e.LastActivityAt.Before(t)
}

// String returns a short representation for logging.
func (e StandingEntry) String() string {
	return fmt.Sprintf(
		"Standing{#%d %s, Points: %d, Accuracy: %.1f%%, Trend: %s}",
		e.Position, e.DisplayName, e.TotalPoints, e.AverageAccuracyPercent, e.Trend,
	)
}

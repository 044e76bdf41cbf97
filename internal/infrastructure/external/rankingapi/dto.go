package rankingapi

// APIResponse is the envelope of every upstream response.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Meta carries pagination.
type Meta struct {
	Total      int `json:"total,omitempty"`
	Page       int `json:"page,omitempty"`
	PerPage    int `json:"per_page,omitempty"`
	TotalPages int `json:"total_pages,omitempty"`
}

// StandingDTO is one row of the upstream standings listing.
type StandingDTO struct {
	UserID           string  `json:"user_id"`
	DisplayName      string  `json:"display_name"`
	AvatarURL        string  `json:"avatar_url,omitempty"`
	TotalPoints      int     `json:"total_points"`
	Level            int     `json:"level"`
	QuizzesCompleted int     `json:"quizzes_completed"`
	CurrentStreak    int     `json:"current_streak"`
	BestStreak       int     `json:"best_streak"`
	AccuracyPercent  float64 `json:"accuracy_percent"`
	StudyMinutes     int     `json:"study_minutes"`
	Rank             int     `json:"rank,omitempty"`

	// LastActivityAt is RFC 3339. Missing or unparsable values map to the
	// zero time, which falls outside every recency window.
	LastActivityAt string `json:"last_activity_at,omitempty"`
}

// APIErrorDTO is the body of a 4xx/5xx response.
type APIErrorDTO struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error implements error.
func (e *APIErrorDTO) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

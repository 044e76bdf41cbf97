package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kombinu/kombinu-ranking/internal/application/command"
	"github.com/kombinu/kombinu-ranking/internal/application/query"
	"github.com/kombinu/kombinu-ranking/internal/domain/ranking"
	"github.com/kombinu/kombinu-ranking/internal/domain/shared"
	"github.com/kombinu/kombinu-ranking/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "Kombinu Ranking API",
		"version": APIVersion,
		"endpoints": map[string]string{
			"health":      "/health",
			"submissions": "/api/v1/submissions",
			"leaderboard": "/api/v1/leaderboard",
			"categories":  "/api/v1/leaderboard/categories",
			"standing":    "/api/v1/users/{userID}/standing",
			"stats":       "/api/v1/stats",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"healthy": true,
			"uptime":  s.Uptime().String(),
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// INGESTION
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub ranking.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_json", "Request body is not a valid submission", err.Error())
		return
	}

	result, err := s.deps.SubmitHandler.Handle(r.Context(), command.SubmitQuizResultCommand{
		Submission:    sub,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	s.serveLeaderboard(w, r, "")
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	s.serveLeaderboard(w, r, chi.URLParam(r, "category"))
}

func (s *Server) serveLeaderboard(w http.ResponseWriter, r *http.Request, category string) {
	limit, err := getQueryParamInt(r, "limit", query.DefaultPageSize)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	offset, err := getQueryParamInt(r, "offset", 0)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	result, err := s.deps.LeaderboardHandler.Handle(query.GetLeaderboardQuery{
		Window:   r.URL.Query().Get("window"),
		Category: category,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{
		TotalCount: result.TotalCount,
		Page:       result.Page,
		PageSize:   result.PageSize,
		HasMore:    result.HasMore,
	})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.Admin.Stats()
	categories := stats.Categories
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"categories": categories})
}

func (s *Server) handleGetStanding(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.StandingHandler.Handle(query.GetUserStandingQuery{
		UserID: chi.URLParam(r, "userID"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.deps.Admin.Stats())
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleWipe(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Admin.Wipe(r.Context()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Warn("ranking wiped via API")
	writeJSON(w, r, http.StatusOK, map[string]bool{"wiped": true})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Admin.Refresh(r.Context()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Admin.Stats())
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps domain and engine errors to status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	var invalid *ranking.InvalidEventError
	switch {
	case errors.As(err, &invalid):
		log.Debug("submission rejected", slog.String("field", invalid.Field), logger.Err(err))
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_event", invalid.Message, invalid.Field)
	case shared.IsValidation(err):
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "validation_error", "Invalid request", err.Error())
	case shared.IsNotFound(err):
		writeJSONErrorWithDetails(w, r, http.StatusNotFound, "not_found", "Resource not found", err.Error())
	case errors.Is(err, ranking.ErrEngineClosed):
		writeJSONError(w, r, http.StatusServiceUnavailable, "engine_closed", "Ranking engine is shutting down")
	case errors.Is(err, ranking.ErrRemoteUnavailable):
		log.Warn("remote source unavailable", logger.Err(err))
		writeJSONError(w, r, http.StatusBadGateway, "remote_unavailable", "Remote ranking source is unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, r, http.StatusGatewayTimeout, "timeout", "Request timed out")
	default:
		log.Error("request failed", logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "An internal error occurred")
	}
}

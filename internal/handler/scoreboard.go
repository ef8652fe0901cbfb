package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/courtside/scorekeeper/internal/domain"
	"github.com/courtside/scorekeeper/internal/repository"
	"github.com/courtside/scorekeeper/internal/service"
)

// ScoreboardHandler exposes the operator/display boundary.
type ScoreboardHandler struct {
	board  *service.Scoreboard
	cache  repository.CacheRepository
	logger *slog.Logger
}

// NewScoreboardHandler creates the handler.
func NewScoreboardHandler(board *service.Scoreboard, cache repository.CacheRepository, logger *slog.Logger) *ScoreboardHandler {
	return &ScoreboardHandler{board: board, cache: cache, logger: logger}
}

// GetState returns the full display snapshot.
func (h *ScoreboardHandler) GetState(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.board.State())
}

// GetSchedule fetches (or cache-falls-back to) today's fixtures.
func (h *ScoreboardHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	fixtures, err := h.board.LoadSchedule(r.Context())
	if err != nil && len(fixtures) == 0 {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, fixtures)
}

// StartFixture opens the court for the posted fixture.
func (h *ScoreboardHandler) StartFixture(w http.ResponseWriter, r *http.Request) {
	var fixture domain.Fixture
	if err := DecodeJSON(r, &fixture); err != nil {
		RespondError(w, domain.ErrValidation("invalid fixture payload"))
		return
	}
	if err := h.board.StartFixture(r.Context(), fixture); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, h.board.State())
}

// AdjustScore handles POST /score/{side}/increment and .../decrement.
func (h *ScoreboardHandler) AdjustScore(w http.ResponseWriter, r *http.Request) {
	side := service.Side(chi.URLParam(r, "side"))
	if side != service.SideHome && side != service.SideAway {
		RespondError(w, domain.ErrValidation("side must be home or away"))
		return
	}

	var err error
	if chi.URLParam(r, "op") == "decrement" {
		err = h.board.DecrementScore(side)
	} else {
		err = h.board.IncrementScore(side)
	}
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, h.board.State())
}

// ToggleTimer starts or stops the match clock.
func (h *ScoreboardHandler) ToggleTimer(w http.ResponseWriter, r *http.Request) {
	if err := h.board.ToggleTimer(); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, h.board.State())
}

// ResetTimer returns the clock to the phase's original duration.
func (h *ScoreboardHandler) ResetTimer(w http.ResponseWriter, r *http.Request) {
	if err := h.board.ResetTimer(); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, h.board.State())
}

// SkipPhase forces the next phase transition.
func (h *ScoreboardHandler) SkipPhase(w http.ResponseWriter, r *http.Request) {
	if err := h.board.SkipPhase(); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, h.board.State())
}

// SwitchTeams flips side attribution.
func (h *ScoreboardHandler) SwitchTeams(w http.ResponseWriter, r *http.Request) {
	h.board.SwitchTeams()
	RespondJSON(w, http.StatusOK, h.board.State())
}

// NextMatch is the manual advance trigger.
func (h *ScoreboardHandler) NextMatch(w http.ResponseWriter, r *http.Request) {
	if err := h.board.NextMatch(r.Context()); err != nil {
		RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, h.board.State())
}

// EndNight forces the end-of-night flush and summary view.
func (h *ScoreboardHandler) EndNight(w http.ResponseWriter, r *http.Request) {
	count, err := h.board.EndNight(r.Context())
	if err != nil {
		h.logger.Warn("end-of-night flush incomplete", "synced", count, "error", err)
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"synced":  count,
		"summary": h.board.Summary(r.Context()),
	})
}

// GetSummary returns the end-of-night reconciliation data.
func (h *ScoreboardHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.board.Summary(r.Context()))
}

// GetPendingScores gives the operator visibility into queued and
// terminally failed submissions.
func (h *ScoreboardHandler) GetPendingScores(w http.ResponseWriter, r *http.Request) {
	status := domain.ScoreStatus(r.URL.Query().Get("status"))
	RespondJSON(w, http.StatusOK, h.cache.ListPendingScores(r.Context(), status))
}

package http

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/lqo-hub/lqo-leaderboard/internal/application/query"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/scheduler"
	"github.com/lqo-hub/lqo-leaderboard/internal/infrastructure/scheduler/jobs"
	"github.com/lqo-hub/lqo-leaderboard/internal/interface/http/handlers"
	"github.com/lqo-hub/lqo-leaderboard/pkg/logger"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

const (
	pageTitle = "LeelaQueenOdds Leaderboard"

	// Страница перезагружается через минуту после next_update,
	// не больше трёх неудачных попыток подряд.
	reloadGraceSeconds = 60
	maxFailedReloads   = 3

	pageCSP = "default-src 'self'; " +
		"style-src 'self' 'unsafe-inline' https://cdn.jsdelivr.net https://fonts.googleapis.com; " +
		"font-src https://fonts.gstatic.com; " +
		"script-src 'unsafe-inline'; " +
		"frame-ancestors 'none'"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAGE
// ══════════════════════════════════════════════════════════════════════════════

type pageData struct {
	Title              string
	Entries            []query.LeaderboardEntryDTO
	PlayerURL          string
	NextUpdate         int64
	NextUpdateIn       string
	ReloadGraceSeconds int
	MaxFailedReloads   int
}

// handleIndex отдаёт HTML-страницу с топ-N.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leaderboard == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Leaderboard handler not configured")
		return
	}

	res, err := s.deps.Leaderboard.Handle(r.Context(), query.GetLeaderboardQuery{Limit: s.config.TopN})
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	data := pageData{
		Title:              pageTitle,
		Entries:            res.Entries,
		PlayerURL:          s.config.PlayerURL,
		NextUpdate:         s.nextUpdate(res),
		NextUpdateIn:       res.NextUpdateIn,
		ReloadGraceSeconds: reloadGraceSeconds,
		MaxFailedReloads:   maxFailedReloads,
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		logger.FromContext(r.Context()).Error("render page", logger.Err(err))
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", pageCSP)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// nextUpdate возвращает подсказку next_update (epoch seconds); если она
// неизвестна, считает от текущего времени.
func (s *Server) nextUpdate(res *query.GetLeaderboardResult) int64 {
	if res.Metadata.NextUpdate > 0 {
		return res.Metadata.NextUpdate
	}
	return s.now().Add(s.config.UpdateInterval).Unix()
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & METRICS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth отвечает 503 только при провале обязательных проверок.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": handlers.StatusOK})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "Metrics are disabled")
		return
	}
	s.deps.Metrics.ServeHTTP(w, r)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleLeaderboardDocument отдаёт документ целиком, в том же виде, что и
// leaderboard.json: игроки по убыванию рейтинга, metadata последней.
func (s *Server) handleLeaderboardDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leaderboard == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Leaderboard handler not configured")
		return
	}

	res, err := s.deps.Leaderboard.Handle(r.Context(), query.GetLeaderboardQuery{})
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	doc := res.Document
	if doc == nil {
		doc = documentFromEntries(res)
	}
	body, err := doc.MarshalJSON()
	if err != nil {
		logger.FromContext(r.Context()).Error("encode leaderboard", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to encode leaderboard")
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// documentFromEntries собирает документ из ответа кеша (до загрузки состояния).
func documentFromEntries(res *query.GetLeaderboardResult) *leaderboard.Leaderboard {
	doc := leaderboard.New(res.Metadata)
	for _, e := range res.Entries {
		_ = doc.Set(e.Name, leaderboard.PlayerRecord{
			Rating:             e.RatingExact,
			Games:              e.Games,
			LastGame:           e.LastGame,
			AverageTimeControl: e.AverageTimeControl,
			Wins:               e.Wins,
			Draws:              e.Draws,
			Losses:             e.Losses,
		})
	}
	return doc
}

// handleLeaderboardTop handles GET /api/leaderboard/top?limit=&offset=
func (s *Server) handleLeaderboardTop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leaderboard == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Leaderboard handler not configured")
		return
	}

	limit, err := getQueryParamInt(r, "limit", s.config.TopN)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	offset, err := getQueryParamInt(r, "offset", 0)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	q := query.GetLeaderboardQuery{Limit: limit, Offset: offset}
	res, err := s.deps.Leaderboard.Handle(r.Context(), q)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, res, &ResponseMeta{
		TotalCount: res.TotalCount,
		Offset:     offset,
		Limit:      limit,
		HasMore:    res.HasMore,
	})
}

// handlePlayer handles GET /api/players/{name}
func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	if s.deps.PlayerRank == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Player handler not configured")
		return
	}

	dto, err := s.deps.PlayerRank.Handle(r.Context(), query.GetPlayerRankQuery{Name: r.PathValue("name")})
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		logger.FromContext(r.Context()).Error("query failed", logger.Err(err))
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to read leaderboard")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN
// ══════════════════════════════════════════════════════════════════════════════

// updateResponse - ответ POST /api/update.
type updateResponse struct {
	Job       string      `json:"job"`
	StartedAt time.Time   `json:"started_at"`
	Duration  string      `json:"duration"`
	Skipped   bool        `json:"skipped"`
	Stats     *jobs.Stats `json:"stats,omitempty"`
}

// handleUpdate запускает цикл обновления вне расписания и ждёт его конца.
// Обрыв соединения клиентом цикл не прерывает.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trigger == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Scheduler not configured")
		return
	}

	ctx := jobs.WithTrigger(context.WithoutCancel(r.Context()), "manual")
	result, err := s.deps.Trigger.RunNow(ctx, jobs.JobName)
	switch {
	case errors.Is(err, scheduler.ErrJobBusy):
		writeJSONError(w, http.StatusConflict, "update_in_progress", "An update cycle is already running")
		return
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(w, http.StatusServiceUnavailable, "not_registered", "Update job is not registered")
		return
	case err != nil:
		logger.FromContext(r.Context()).Warn("manual update failed", logger.Err(err))
		writeJSONError(w, http.StatusBadGateway, "update_failed", err.Error())
		return
	}

	resp := updateResponse{Job: jobs.JobName}
	if result != nil {
		resp.StartedAt = result.StartedAt
		resp.Duration = result.Duration.String()
	}
	if s.deps.Stats != nil {
		stats := s.deps.Stats.Stats()
		resp.Stats = &stats
		resp.Skipped = stats.Last != nil && stats.Last.Skipped
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/lqo-hub/lqo-leaderboard/internal/application/state"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
	"github.com/lqo-hub/lqo-leaderboard/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Получает топ-N игроков из текущего состояния процесса.
// Если процесс ещё не загрузил состояние, читает кеш (Redis), когда он есть.
// ══════════════════════════════════════════════════════════════════════════════

// MaxLimit - верхняя граница размера страницы.
const MaxLimit = 1000

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// Limit - количество записей (0 = все).
	Limit int

	// Offset - смещение для пагинации.
	Offset int
}

// Validate проверяет корректность параметров запроса.
func (q *GetLeaderboardQuery) Validate() error {
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if q.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return nil
}

// LeaderboardEntryDTO - запись лидерборда для отображения.
type LeaderboardEntryDTO struct {
	Rank               int     `json:"rank"`
	Place              string  `json:"place,omitempty"`
	Name               string  `json:"name"`
	Rating             int     `json:"rating"`
	RatingExact        float64 `json:"rating_exact"`
	Games              int     `json:"games"`
	LastGame           string  `json:"last_game"`
	AverageTimeControl string  `json:"average_time_control"`
	Wins               int     `json:"W"`
	Draws              int     `json:"D"`
	Losses             int     `json:"L"`
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	Entries []LeaderboardEntryDTO `json:"entries"`

	// TotalCount - общее количество игроков.
	TotalCount int `json:"total_count"`

	// Metadata - служебный блок документа.
	Metadata leaderboard.Metadata `json:"metadata"`

	// NextUpdateAt - next_update как время (нулевое, если неизвестно).
	NextUpdateAt time.Time `json:"next_update_at"`

	// NextUpdateIn - "in 4m 10s"; запасной текст для страницы без JS.
	NextUpdateIn string `json:"next_update_in,omitempty"`

	// LastUpdatedAt - время последнего успешного цикла.
	LastUpdatedAt time.Time `json:"last_updated_at"`

	HasMore     bool      `json:"has_more"`
	GeneratedAt time.Time `json:"generated_at"`

	// Document - полный документ (для /api/leaderboard); только из состояния.
	Document *leaderboard.Leaderboard `json:"-"`

	// FromCache - ответ собран из кеша.
	FromCache bool `json:"from_cache"`
}

// StateReader - источник текущего лидерборда.
type StateReader interface {
	Loaded() bool
	Snapshot() state.View
}

// GetLeaderboardHandler обрабатывает запросы на получение лидерборда.
type GetLeaderboardHandler struct {
	state StateReader
	cache leaderboard.Cache
	now   func() time.Time
}

// NewGetLeaderboardHandler создаёт обработчик. cache может быть nil.
func NewGetLeaderboardHandler(st StateReader, cache leaderboard.Cache) *GetLeaderboardHandler {
	return &GetLeaderboardHandler{state: st, cache: cache, now: time.Now}
}

// WithClock подменяет часы (для тестов).
func (h *GetLeaderboardHandler) WithClock(now func() time.Time) *GetLeaderboardHandler {
	h.now = now
	return h
}

// Handle выполняет запрос на получение лидерборда.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetLeaderboard", shared.ErrValidation, err.Error(), err)
	}

	if !h.state.Loaded() && h.cache != nil {
		if res, err := h.fromCache(ctx, query); err == nil && len(res.Entries) > 0 {
			return res, nil
		}
	}

	view := h.state.Snapshot()
	board := view.Leaderboard
	entries := board.Entries()

	res := &GetLeaderboardResult{
		TotalCount:  len(entries),
		Metadata:    board.Metadata,
		GeneratedAt: h.now().UTC(),
		Document:    board,
	}
	res.Entries, res.HasMore = page(entries, query.Offset, query.Limit)
	h.decorate(res)
	return res, nil
}

func (h *GetLeaderboardHandler) fromCache(ctx context.Context, query GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	limit := query.Offset + query.Limit
	if query.Limit == 0 {
		limit = 0
	}
	entries, err := h.cache.GetTop(ctx, limit)
	if err != nil {
		return nil, err
	}
	res := &GetLeaderboardResult{
		TotalCount:  len(entries),
		GeneratedAt: h.now().UTC(),
		FromCache:   true,
	}
	if mc, ok := h.cache.(metadataCache); ok {
		if meta, err := mc.Metadata(ctx); err == nil {
			res.Metadata = meta
		}
	}
	res.Entries, res.HasMore = page(entries, query.Offset, query.Limit)
	h.decorate(res)
	return res, nil
}

// metadataCache - кеш, который хранит и служебный блок (Redis).
type metadataCache interface {
	Metadata(ctx context.Context) (leaderboard.Metadata, error)
}

func (h *GetLeaderboardHandler) decorate(res *GetLeaderboardResult) {
	if res.Metadata.NextUpdate > 0 {
		res.NextUpdateAt = time.Unix(res.Metadata.NextUpdate, 0).UTC()
		res.NextUpdateIn = timeutil.FormatRelative(h.now(), res.NextUpdateAt)
	}
	if ts := res.Metadata.LastUpdateTimestamp; ts > 0 {
		res.LastUpdatedAt = timeutil.FromMillis(ts)
	}
}

// page применяет смещение и лимит.
func page(entries []leaderboard.Entry, offset, limit int) ([]LeaderboardEntryDTO, bool) {
	if offset >= len(entries) {
		return []LeaderboardEntryDTO{}, false
	}
	end := len(entries)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]LeaderboardEntryDTO, 0, end-offset)
	for _, e := range entries[offset:end] {
		out = append(out, ToDTO(e))
	}
	return out, end < len(entries)
}

// ToDTO переводит запись домена в DTO.
func ToDTO(e leaderboard.Entry) LeaderboardEntryDTO {
	return LeaderboardEntryDTO{
		Rank:               int(e.Rank),
		Place:              e.Rank.Place(),
		Name:               e.Name,
		Rating:             e.Record.RoundedRating(),
		RatingExact:        e.Record.Rating,
		Games:              e.Record.Games,
		LastGame:           e.Record.LastGame,
		AverageTimeControl: e.Record.AverageTimeControl,
		Wins:               e.Record.Wins,
		Draws:              e.Record.Draws,
		Losses:             e.Record.Losses,
	}
}

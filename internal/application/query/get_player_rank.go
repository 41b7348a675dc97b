package query

import (
	"context"
	"errors"
	"strings"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PLAYER RANK QUERY
// Позиция одного игрока и разрыв до соседа сверху.
// ══════════════════════════════════════════════════════════════════════════════

// GetPlayerRankQuery - имя игрока, регистр не важен.
type GetPlayerRankQuery struct {
	Name string
}

// Validate проверяет корректность параметров запроса.
func (q *GetPlayerRankQuery) Validate() error {
	q.Name = strings.TrimSpace(q.Name)
	if q.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// PlayerRankDTO - позиция игрока.
type PlayerRankDTO struct {
	LeaderboardEntryDTO

	TotalPlayers int `json:"total_players"`

	// Percentile - доля игроков ниже (0-100).
	Percentile float64 `json:"percentile"`

	// PointsToNext - сколько рейтинга не хватает до места выше (0 для первого).
	PointsToNext float64 `json:"points_to_next"`
}

// GetPlayerRankHandler обрабатывает запрос позиции игрока.
type GetPlayerRankHandler struct {
	state StateReader
}

// NewGetPlayerRankHandler создаёт обработчик.
func NewGetPlayerRankHandler(st StateReader) *GetPlayerRankHandler {
	return &GetPlayerRankHandler{state: st}
}

// Handle выполняет запрос.
func (h *GetPlayerRankHandler) Handle(_ context.Context, query GetPlayerRankQuery) (*PlayerRankDTO, error) {
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetPlayerRank", shared.ErrValidation, err.Error(), err)
	}

	entries := h.state.Snapshot().Leaderboard.Entries()
	for i, e := range entries {
		if !strings.EqualFold(e.Name, query.Name) {
			continue
		}
		dto := &PlayerRankDTO{
			LeaderboardEntryDTO: ToDTO(e),
			TotalPlayers:        len(entries),
		}
		if len(entries) > 1 {
			dto.Percentile = float64(len(entries)-1-i) / float64(len(entries)-1) * 100
		} else {
			dto.Percentile = 100
		}
		if i > 0 {
			dto.PointsToNext = entries[i-1].Record.Rating - e.Record.Rating
		}
		return dto, nil
	}
	return nil, shared.ErrPlayerNotFound
}

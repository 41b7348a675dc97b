// Package archive содержит append-only архив партий бота.
// Архив - единственный источник истины: лидерборд целиком выводится из него.
package archive

import (
	"encoding/json"
	"time"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
)

// DefaultStabilizationWindow - окно, в котором партии ещё могут измениться на сервере.
const DefaultStabilizationWindow = 3 * time.Hour

// Archive - упорядоченное по поступлению множество партий без дубликатов id.
// Не потокобезопасен: владелец (application/state.Store) держит мьютекс.
type Archive struct {
	games []*game.Game
	index map[string]struct{}
}

// New создаёт пустой архив.
func New() *Archive {
	return &Archive{index: make(map[string]struct{})}
}

// FromGames строит архив из готового списка, отбрасывая повторы id.
func FromGames(games []*game.Game) *Archive {
	a := New()
	a.Merge(games)
	return a
}

// Merge добавляет новые партии и возвращает число реально добавленных.
// Повторная загрузка той же партии ничего не меняет.
func (a *Archive) Merge(games []*game.Game) int {
	if a.index == nil {
		a.index = make(map[string]struct{}, len(a.games))
		for _, g := range a.games {
			a.index[g.ID] = struct{}{}
		}
	}
	added := 0
	for _, g := range games {
		if g == nil || g.ID == "" {
			continue
		}
		if _, ok := a.index[g.ID]; ok {
			continue
		}
		a.index[g.ID] = struct{}{}
		a.games = append(a.games, g)
		added++
	}
	return added
}

// Contains проверяет наличие партии.
func (a *Archive) Contains(id string) bool {
	_, ok := a.index[id]
	return ok
}

// Len возвращает число партий.
func (a *Archive) Len() int {
	return len(a.games)
}

// Games возвращает партии в порядке поступления. Срез нельзя изменять.
func (a *Archive) Games() []*game.Game {
	return a.games
}

// Clone возвращает неглубокую копию (партии неизменяемы).
func (a *Archive) Clone() *Archive {
	c := &Archive{
		games: make([]*game.Game, len(a.games)),
		index: make(map[string]struct{}, len(a.index)),
	}
	copy(c.games, a.games)
	for id := range a.index {
		c.index[id] = struct{}{}
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// JSON
// ══════════════════════════════════════════════════════════════════════════════

type document struct {
	Games []*game.Game `json:"games"`
}

// MarshalJSON пишет {"games":[...]}.
func (a *Archive) MarshalJSON() ([]byte, error) {
	games := a.games
	if games == nil {
		games = []*game.Game{}
	}
	return json.Marshal(document{Games: games})
}

// UnmarshalJSON читает {"games":[...]}; дубликаты id отбрасываются.
func (a *Archive) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return shared.WrapError("archive", "Load", shared.ErrInvalidFormat, "archive document is malformed", err)
	}
	*a = *FromGames(doc.Games)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECKPOINT
// ══════════════════════════════════════════════════════════════════════════════

// SafeCutoff возвращает границу стабильности: now - window (в миллисекундах).
func SafeCutoff(nowMs int64, window time.Duration) int64 {
	return nowMs - window.Milliseconds()
}

// AdvanceCheckpoint сдвигает чекпоинт до максимального createdAt среди
// стабильных партий (createdAt <= cutoff). Результат никогда не меньше current
// и никогда не больше cutoff, если current сам не больше cutoff.
func AdvanceCheckpoint(current, cutoff int64, fetched []*game.Game) int64 {
	next := current
	for _, g := range fetched {
		if g == nil {
			continue
		}
		if g.CreatedAt <= cutoff && g.CreatedAt > next {
			next = g.CreatedAt
		}
	}
	return next
}

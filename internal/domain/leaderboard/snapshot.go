package leaderboard

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot представляет состояние лидерборда в определённый момент времени.
// Снапшоты используются для:
// 1. Зеркалирования результатов цикла в Postgres
// 2. Быстрого чтения (read model для HTTP)
type Snapshot struct {
	// ID - уникальный идентификатор снапшота.
	ID string

	// TakenAt - время создания снапшота.
	TakenAt time.Time

	// Metadata - копия служебного блока.
	Metadata Metadata

	// Entries - записи, отсортированные по месту.
	Entries []Entry

	// TotalGames - сумма партий всех игроков.
	TotalGames int
}

// NewSnapshot создаёт снапшот из лидерборда.
func NewSnapshot(id string, takenAt time.Time, l *Leaderboard) *Snapshot {
	entries := l.Entries()
	total := 0
	for _, e := range entries {
		total += e.Record.Games
	}
	return &Snapshot{
		ID:         id,
		TakenAt:    takenAt.UTC(),
		Metadata:   l.Metadata,
		Entries:    entries,
		TotalGames: total,
	}
}

// Top возвращает первые n записей.
func (s *Snapshot) Top(n int) []Entry {
	if n <= 0 || n > len(s.Entries) {
		return s.Entries
	}
	return s.Entries[:n]
}

// Count возвращает количество игроков.
func (s *Snapshot) Count() int {
	return len(s.Entries)
}

// IsEmpty проверяет, пуст ли снапшот.
func (s *Snapshot) IsEmpty() bool {
	return len(s.Entries) == 0
}

// Leaderboard восстанавливает лидерборд из снапшота.
func (s *Snapshot) Leaderboard() *Leaderboard {
	l := New(s.Metadata)
	for _, e := range s.Entries {
		_ = l.Set(e.Name, e.Record)
	}
	return l
}

// Package leaderboard содержит доменную модель лидерборда LeelaQueenOdds.
// Лидерборд - производные данные: он полностью пересобирается из архива партий
// на каждом цикле, переносится только чекпоинт last_fetch.
package leaderboard

import (
	"fmt"
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// RatingFloor - рейтинг игрока никогда не опускается ниже этого значения.
const RatingFloor = 1600.0

// MetadataKey - зарезервированный ключ документа лидерборда.
const MetadataKey = "metadata"

// UnknownTimeControl - средний контроль времени игрока без распознанных партий.
const UnknownTimeControl = "?"

// Rank представляет позицию игрока в лидерборде.
// Rank начинается с 1 (первое место).
type Rank int

// IsValid проверяет, что ранг положительный.
func (r Rank) IsValid() bool {
	return r > 0
}

// Place возвращает CSS-класс строки призового места или пустую строку.
func (r Rank) Place() string {
	switch r {
	case 1:
		return "first-place"
	case 2:
		return "second-place"
	case 3:
		return "third-place"
	default:
		return ""
	}
}

// String возвращает строковое представление ранга.
func (r Rank) String() string {
	return fmt.Sprintf("#%d", r)
}

// ══════════════════════════════════════════════════════════════════════════════
// PLAYER RECORD
// ══════════════════════════════════════════════════════════════════════════════

// PlayerRecord - статистика одного игрока.
// Порядок полей совпадает с порядком ключей в leaderboard.json.
type PlayerRecord struct {
	Rating             float64 `json:"rating"`
	Games              int     `json:"games"`
	LastGame           string  `json:"last_game"`
	AverageTimeControl string  `json:"average_time_control"`
	Wins               int     `json:"W"`
	Draws              int     `json:"D"`
	Losses             int     `json:"L"`
}

// RoundedRating возвращает рейтинг, округлённый до целого, для отображения.
func (p PlayerRecord) RoundedRating() int {
	if p.Rating < 0 {
		return int(p.Rating - 0.5)
	}
	return int(p.Rating + 0.5)
}

// Metadata - служебный блок документа.
type Metadata struct {
	// LastFetch - чекпоинт (epoch ms), не убывает между циклами.
	LastFetch int64 `json:"last_fetch"`

	// NextUpdate - подсказка для клиентов (epoch seconds).
	NextUpdate int64 `json:"next_update"`

	// UpdateInterval - интервал обновления в миллисекундах.
	UpdateInterval int64 `json:"update_interval,omitempty"`

	// LastUpdateTimestamp - время последнего успешного цикла (epoch ms).
	LastUpdateTimestamp int64 `json:"last_update_timestamp,omitempty"`

	// Policy - имя политики рейтинга, которой посчитаны записи.
	Policy string `json:"policy,omitempty"`
}

// Entry - игрок с его местом.
type Entry struct {
	Rank   Rank
	Name   string
	Record PlayerRecord
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

// Leaderboard - упорядоченное отображение имя → PlayerRecord плюс metadata.
// Порядок записей сохраняется при сериализации.
type Leaderboard struct {
	Metadata Metadata

	names   []string
	records map[string]PlayerRecord
}

// New создаёт пустой лидерборд.
func New(meta Metadata) *Leaderboard {
	return &Leaderboard{
		Metadata: meta,
		records:  make(map[string]PlayerRecord),
	}
}

// Set добавляет или заменяет запись. Новое имя добавляется в конец.
func (l *Leaderboard) Set(name string, rec PlayerRecord) error {
	if name == MetadataKey {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	if l.records == nil {
		l.records = make(map[string]PlayerRecord)
	}
	if _, ok := l.records[name]; !ok {
		l.names = append(l.names, name)
	}
	l.records[name] = rec
	return nil
}

// Get возвращает запись игрока.
func (l *Leaderboard) Get(name string) (PlayerRecord, bool) {
	rec, ok := l.records[name]
	return rec, ok
}

// Len возвращает количество игроков.
func (l *Leaderboard) Len() int {
	return len(l.names)
}

// Names возвращает имена в текущем порядке.
func (l *Leaderboard) Names() []string {
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

// SortByRating упорядочивает игроков по убыванию рейтинга.
// При равенстве сохраняется текущий порядок (порядок первого появления).
func (l *Leaderboard) SortByRating() {
	sort.SliceStable(l.names, func(i, j int) bool {
		return l.records[l.names[i]].Rating > l.records[l.names[j]].Rating
	})
}

// Entries возвращает все записи с местами в текущем порядке.
func (l *Leaderboard) Entries() []Entry {
	return l.Top(len(l.names))
}

// Top возвращает первые n записей. n <= 0 - все.
func (l *Leaderboard) Top(n int) []Entry {
	if n <= 0 || n > len(l.names) {
		n = len(l.names)
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		name := l.names[i]
		out = append(out, Entry{Rank: Rank(i + 1), Name: name, Record: l.records[name]})
	}
	return out
}

// Clone возвращает независимую копию.
func (l *Leaderboard) Clone() *Leaderboard {
	c := &Leaderboard{
		Metadata: l.Metadata,
		names:    make([]string, len(l.names)),
		records:  make(map[string]PlayerRecord, len(l.records)),
	}
	copy(c.names, l.names)
	for k, v := range l.records {
		c.records[k] = v
	}
	return c
}

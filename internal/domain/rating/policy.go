package rating

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
	"github.com/lqo-hub/lqo-leaderboard/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEEDING
// ══════════════════════════════════════════════════════════════════════════════

// DefaultHeaderRating подставляется, если в заголовке партии нет рейтинга.
const DefaultHeaderRating = 1600

// Seeding вычисляет стартовый рейтинг нового игрока по рейтингу из заголовка.
type Seeding interface {
	Name() string
	Seed(header int) float64
}

// TieredSeeding: >=2000 → 1800; [1800, 2000) → header-200; иначе 1600.
type TieredSeeding struct{}

func (TieredSeeding) Name() string { return "tiered" }

func (TieredSeeding) Seed(header int) float64 {
	switch {
	case header >= 2000:
		return 1800
	case header >= 1800:
		return float64(header - 200)
	default:
		return leaderboard.RatingFloor
	}
}

// FlatSeeding выдаёт всем один и тот же рейтинг.
type FlatSeeding struct {
	Rating float64
}

func (FlatSeeding) Name() string { return "flat" }

func (s FlatSeeding) Seed(int) float64 { return s.Rating }

// OffsetSeeding: header + Offset, не ниже пола.
type OffsetSeeding struct {
	Offset float64
}

func (OffsetSeeding) Name() string { return "offset" }

func (s OffsetSeeding) Seed(header int) float64 {
	return math.Max(leaderboard.RatingFloor, float64(header)+s.Offset)
}

// ══════════════════════════════════════════════════════════════════════════════
// K-FACTOR
// ══════════════════════════════════════════════════════════════════════════════

// KSchedule - ступенчатый K-фактор по числу уже сыгранных партий.
type KSchedule struct {
	Thresholds []int
	Values     []float64 // len(Values) == len(Thresholds)+1
}

// DefaultKSchedule: <30 → 40, <150 → 20, иначе 10.
var DefaultKSchedule = KSchedule{
	Thresholds: []int{30, 150},
	Values:     []float64{40, 20, 10},
}

// For возвращает K для партии, перед которой сыграно gamesBefore партий.
func (k KSchedule) For(gamesBefore int) float64 {
	for i, t := range k.Thresholds {
		if gamesBefore < t {
			return k.Values[i]
		}
	}
	return k.Values[len(k.Values)-1]
}

// ══════════════════════════════════════════════════════════════════════════════
// MALUS
// ══════════════════════════════════════════════════════════════════════════════

// Malus - периодический штраф за неактивность.
type Malus struct {
	Enabled  bool
	Interval time.Duration
	Amount   float64
}

// DefaultMalus - 10 очков каждые 30 дней потока партий.
var DefaultMalus = Malus{Enabled: true, Interval: 30 * timeutil.Day, Amount: 10}

// ══════════════════════════════════════════════════════════════════════════════
// EPOCHS & POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Epoch - строка версионированной таблицы: с From (epoch ms) действуют
// указанные рейтинг бота, модель поправки и штраф за игру чёрными.
type Epoch struct {
	From         int64
	BotRating    float64
	Model        AdjustModel
	BlackPenalty float64
}

// Policy - полный набор правил пересчёта.
type Policy struct {
	Name     string
	Epochs   []Epoch // по возрастанию From; первая строка действует с начала времён
	Expected ExpectedScore
	Seeding  Seeding
	K        KSchedule
	Malus    Malus
	Floor    float64
}

// EpochAt выбирает строку таблицы для времени ms.
func (p Policy) EpochAt(ms int64) Epoch {
	i := sort.Search(len(p.Epochs), func(i int) bool { return p.Epochs[i].From > ms })
	if i == 0 {
		return p.Epochs[0]
	}
	return p.Epochs[i-1]
}

// Validate проверяет целостность таблицы.
func (p Policy) Validate() error {
	if len(p.Epochs) == 0 {
		return fmt.Errorf("rating: policy %q has no epochs", p.Name)
	}
	for i := 1; i < len(p.Epochs); i++ {
		if p.Epochs[i].From <= p.Epochs[i-1].From {
			return fmt.Errorf("rating: policy %q epochs are not ascending", p.Name)
		}
	}
	if p.Expected == nil || p.Seeding == nil {
		return fmt.Errorf("rating: policy %q is incomplete", p.Name)
	}
	if len(p.K.Values) != len(p.K.Thresholds)+1 {
		return fmt.Errorf("rating: policy %q has a malformed K schedule", p.Name)
	}
	return nil
}

// Policy names.
const (
	PolicyCanonical   = "canonical"
	PolicyUpdater     = "updater"
	PolicyPentanomial = "pentanomial"
)

// Epoch boundaries of the historical bot baselines.
var (
	EpochMid     = timeutil.DateMillis(2024, 11, 1)
	EpochCurrent = timeutil.DateMillis(2024, 11, 12)
)

func canonicalEpochs() []Epoch {
	return []Epoch{
		{From: math.MinInt64, BotRating: 1950, Model: Adjust1, BlackPenalty: 200},
		{From: EpochMid, BotRating: 2100, Model: Adjust1, BlackPenalty: 200},
		{From: EpochCurrent, BotRating: 2650, Model: Model1, BlackPenalty: 200},
	}
}

// Canonical - текущая политика сервиса.
func Canonical() Policy {
	return Policy{
		Name:     PolicyCanonical,
		Epochs:   canonicalEpochs(),
		Expected: Logistic{},
		Seeding:  TieredSeeding{},
		K:        DefaultKSchedule,
		Malus:    DefaultMalus,
		Floor:    leaderboard.RatingFloor,
	}
}

// LegacyUpdater - режим отдельного скрипта обновления: один базовый рейтинг
// 2650/model1 на всех датах и фиксированный старт 1800.
func LegacyUpdater() Policy {
	return Policy{
		Name:     PolicyUpdater,
		Epochs:   []Epoch{{From: math.MinInt64, BotRating: 2650, Model: Model1, BlackPenalty: 200}},
		Expected: Logistic{},
		Seeding:  FlatSeeding{Rating: 1800},
		K:        DefaultKSchedule,
		Malus:    DefaultMalus,
		Floor:    leaderboard.RatingFloor,
	}
}

// LegacyPentanomial - канонические эпохи с пятиисходной моделью и стартом header-100.
func LegacyPentanomial() Policy {
	return Policy{
		Name:     PolicyPentanomial,
		Epochs:   canonicalEpochs(),
		Expected: Pentanomial{},
		Seeding:  OffsetSeeding{Offset: -100},
		K:        DefaultKSchedule,
		Malus:    DefaultMalus,
		Floor:    leaderboard.RatingFloor,
	}
}

// PolicyNames возвращает имена всех известных политик.
func PolicyNames() []string {
	return []string{PolicyCanonical, PolicyUpdater, PolicyPentanomial}
}

// PolicyByName возвращает политику по имени (без учёта регистра).
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyCanonical:
		return Canonical(), nil
	case PolicyUpdater:
		return LegacyUpdater(), nil
	case PolicyPentanomial:
		return LegacyPentanomial(), nil
	default:
		return Policy{}, fmt.Errorf("%w: %q", shared.ErrUnknownPolicy, name)
	}
}

// seedFor применяет правило старта к заголовку партии.
func (p Policy) seedFor(h game.HeaderRating) float64 {
	return math.Max(p.Floor, p.Seeding.Seed(h.Or(DefaultHeaderRating)))
}

package rating

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
	"github.com/lqo-hub/lqo-leaderboard/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// DefaultStart - партии раньше этой даты (UTC) в рейтинг не входят.
var DefaultStart = timeutil.DateMillis(2025, 2, 24)

// Update описывает одно изменение рейтинга; используется для трассировки.
type Update struct {
	GameID       string
	Player       string
	GamesBefore  int
	BotEffective float64
	K            float64
	Expected     float64
	Actual       float64
	Before       float64
	After        float64
	Seeded       bool
}

// Config содержит настройки движка.
type Config struct {
	Policy Policy

	// Account - имя бота на сервере.
	Account string

	// Start - нижняя граница createdAt (epoch ms).
	Start int64

	// Exempt - игроки, которых не касается штраф за неактивность.
	Exempt []string

	// Observer вызывается после каждого применённого обновления (опционально).
	Observer func(Update)

	Logger *slog.Logger
}

// DefaultConfig возвращает конфигурацию канонической политики.
func DefaultConfig(account string) Config {
	return Config{
		Policy:  Canonical(),
		Account: account,
		Start:   DefaultStart,
		Exempt:  []string{account},
	}
}

// Engine пересчитывает лидерборд из архива. Не хранит состояние между вызовами.
type Engine struct {
	cfg    Config
	exempt map[string]struct{}
	logger *slog.Logger
}

// NewEngine создаёт движок.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Account == "" {
		return nil, fmt.Errorf("rating: bot account is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exempt := make(map[string]struct{}, len(cfg.Exempt))
	for _, name := range cfg.Exempt {
		exempt[strings.ToLower(name)] = struct{}{}
	}
	return &Engine{cfg: cfg, exempt: exempt, logger: logger.With("component", "rating")}, nil
}

// Policy возвращает активную политику.
func (e *Engine) Policy() Policy {
	return e.cfg.Policy
}

// Result - итог пересчёта.
type Result struct {
	Leaderboard *leaderboard.Leaderboard
	Processed   int
	Skipped     int
	Maluses     int
}

// playerState - промежуточное состояние игрока во время прогона.
type playerState struct {
	name     string
	rating   float64
	games    int
	wins     int
	draws    int
	losses   int
	lastGame int64
	tcBase   float64
	tcInc    float64
	tcCount  int
}

// Recompute детерминированно переигрывает партии по возрастанию createdAt
// (при равенстве - в порядке архива) и строит лидерборд с нуля.
// Возвращаемый Metadata содержит только имя политики.
func (e *Engine) Recompute(games []*game.Game) *Result {
	p := e.cfg.Policy
	res := &Result{}

	ordered := sortedByCreatedAt(games)

	players := make(map[string]*playerState)
	var order []*playerState
	malusDate := e.cfg.Start

	for _, g := range ordered {
		if g.CreatedAt < e.cfg.Start {
			continue
		}

		// Штраф применяется до партии, которая пересекла границу интервала.
		if p.Malus.Enabled && g.CreatedAt-malusDate >= p.Malus.Interval.Milliseconds() {
			e.applyMalus(order)
			malusDate = g.CreatedAt
			res.Maluses++
			e.logger.Debug("inactivity malus applied", "at", timeutil.FormatMillis(g.CreatedAt))
		}

		human, player, err := g.Human(e.cfg.Account)
		if err != nil {
			res.Skipped++
			e.logger.Warn("game skipped", "game_id", g.ID, "error", err)
			continue
		}
		name := player.Name()
		if name == leaderboard.MetadataKey {
			res.Skipped++
			e.logger.Warn("game skipped: player name is reserved", "game_id", g.ID, "player", name)
			continue
		}

		epoch := p.EpochAt(g.CreatedAt)
		tcString, _ := g.TimeControl()
		tc, tcErr := game.ParseTimeControl(tcString)

		botEffective := epoch.BotRating
		if tcErr == nil {
			botEffective -= epoch.Model.Adjust(tc)
		} else {
			e.logger.Debug("unparsable time control", "game_id", g.ID, "time_control", tcString)
		}
		if human == game.White {
			botEffective -= epoch.BlackPenalty
		}

		st, ok := players[name]
		seeded := false
		if !ok {
			st = &playerState{name: name, rating: p.seedFor(player.HeaderRating())}
			players[name] = st
			order = append(order, st)
			seeded = true
		}

		if tcErr == nil {
			st.tcBase += float64(tc.Base)
			st.tcInc += float64(tc.Increment)
			st.tcCount++
		}

		actual := g.ScoreFor(human)
		k := p.K.For(st.games)
		if actual == 0.5 {
			k /= 2
		}
		expected := p.Expected.Expected(botEffective - st.rating)

		before := st.rating
		st.rating = math.Max(p.Floor, st.rating+k*(actual-expected))

		switch actual {
		case 1:
			st.wins++
		case 0.5:
			st.draws++
		default:
			st.losses++
		}
		gamesBefore := st.games
		st.games++
		st.lastGame = g.CreatedAt
		res.Processed++

		if e.cfg.Observer != nil {
			e.cfg.Observer(Update{
				GameID:       g.ID,
				Player:       name,
				GamesBefore:  gamesBefore,
				BotEffective: botEffective,
				K:            k,
				Expected:     expected,
				Actual:       actual,
				Before:       before,
				After:        st.rating,
				Seeded:       seeded,
			})
		}
	}

	lb := leaderboard.New(leaderboard.Metadata{Policy: p.Name})
	for _, st := range order {
		_ = lb.Set(st.name, st.record())
	}
	lb.SortByRating()
	res.Leaderboard = lb
	return res
}

func (e *Engine) applyMalus(order []*playerState) {
	p := e.cfg.Policy
	for _, st := range order {
		if _, ok := e.exempt[strings.ToLower(st.name)]; ok {
			continue
		}
		st.rating = math.Max(p.Floor, st.rating-p.Malus.Amount)
	}
}

func (st *playerState) record() leaderboard.PlayerRecord {
	return leaderboard.PlayerRecord{
		Rating:             st.rating,
		Games:              st.games,
		LastGame:           timeutil.FormatDateMillis(st.lastGame),
		AverageTimeControl: st.averageTimeControl(),
		Wins:               st.wins,
		Draws:              st.draws,
		Losses:             st.losses,
	}
}

// averageTimeControl - "M+S" со скруглением половин к чётному.
func (st *playerState) averageTimeControl() string {
	if st.tcCount == 0 {
		return leaderboard.UnknownTimeControl
	}
	n := float64(st.tcCount)
	minutes := math.RoundToEven(st.tcBase / n / 60)
	inc := math.RoundToEven(st.tcInc / n)
	return fmt.Sprintf("%d+%d", int(minutes), int(inc))
}

// AverageTimeControl вычисляет строку среднего контроля для набора партий.
func AverageTimeControl(tcs []game.TimeControl) string {
	st := &playerState{}
	for _, tc := range tcs {
		st.tcBase += float64(tc.Base)
		st.tcInc += float64(tc.Increment)
		st.tcCount++
	}
	return st.averageTimeControl()
}

func sortedByCreatedAt(games []*game.Game) []*game.Game {
	out := make([]*game.Game, 0, len(games))
	for _, g := range games {
		if g != nil {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

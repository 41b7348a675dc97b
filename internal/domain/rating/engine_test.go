package rating

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/leaderboard"
	"github.com/lqo-hub/lqo-leaderboard/pkg/timeutil"
)

const bot = "LeelaQueenOdds"

var (
	day    = timeutil.Day.Milliseconds()
	minute = time.Minute.Milliseconds()
)

type gameSpec struct {
	id      string
	at      int64
	human   string
	humanAs game.Color
	header  *int
	winner  game.Color
	status  string
	clock   *game.Clock
	pgn     string
}

func rating(v int) *int { return &v }

func build(s gameSpec) *game.Game {
	humanPlayer := game.Player{User: &game.User{Name: s.human}}
	if s.header != nil {
		humanPlayer.Rating = &game.HeaderRating{Value: *s.header, Valid: true}
	}
	botPlayer := game.Player{User: &game.User{Name: "leelaqueenodds"}}
	players := game.Players{White: humanPlayer, Black: botPlayer}
	if s.humanAs == game.Black {
		players = game.Players{White: botPlayer, Black: humanPlayer}
	}
	status := s.status
	if status == "" {
		status = "resign"
	}
	return &game.Game{
		ID:        s.id,
		CreatedAt: s.at,
		Status:    status,
		Winner:    s.winner,
		Players:   players,
		Clock:     s.clock,
		PGN:       s.pgn,
	}
}

type recorder struct {
	updates []Update
}

func (r *recorder) observe(u Update) { r.updates = append(r.updates, u) }

func newEngine(t *testing.T, p Policy, rec *recorder) *Engine {
	t.Helper()
	cfg := DefaultConfig(bot)
	cfg.Policy = p
	if rec != nil {
		cfg.Observer = rec.observe
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func logistic(diff float64) float64 {
	return 1 / (1 + math.Pow(10, diff/400))
}

// ──────────────────────────────────────────────────────────────────────────────
// Scenarios
// ──────────────────────────────────────────────────────────────────────────────

func TestRecompute_AliceLossThenDraw(t *testing.T) {
	t0 := DefaultStart + day
	t1 := t0 + time.Hour.Milliseconds()
	games := []*game.Game{
		build(gameSpec{id: "B", at: t1, human: "alice", humanAs: game.Black, header: rating(2200),
			status: "draw", clock: &game.Clock{Initial: 300, Increment: 0}}),
		build(gameSpec{id: "A", at: t0, human: "alice", humanAs: game.White, header: rating(2200),
			winner: game.Black, clock: &game.Clock{Initial: 180, Increment: 2}}),
	}

	rec := &recorder{}
	res := newEngine(t, Canonical(), rec).Recompute(games)
	require.Len(t, rec.updates, 2)

	// A: seed 1800, loss, K=40, bot as Black at the reference control.
	a := rec.updates[0]
	assert.Equal(t, "A", a.GameID)
	assert.True(t, a.Seeded)
	assert.Equal(t, 1800.0, a.Before)
	assert.Equal(t, 40.0, a.K)
	assert.InDelta(t, 2450.0, a.BotEffective, 1e-9)
	afterA := 1800 + 40*(0-logistic(2450-1800))
	assert.InDelta(t, afterA, a.After, 1e-9)

	// B: draw with halved K, bot as White at 300+0.
	b := rec.updates[1]
	assert.Equal(t, "B", b.GameID)
	assert.False(t, b.Seeded)
	assert.Equal(t, 20.0, b.K)
	adj := math.Log(300)*251 - math.Log(180+math.Log(3)*158)*251
	assert.InDelta(t, 2650-adj, b.BotEffective, 1e-9)
	afterB := afterA + 20*(0.5-logistic(2650-adj-afterA))
	assert.InDelta(t, afterB, b.After, 1e-9)

	rec2, ok := res.Leaderboard.Get("alice")
	require.True(t, ok)
	assert.Equal(t, 2, rec2.Games)
	assert.Equal(t, 0, rec2.Wins)
	assert.Equal(t, 1, rec2.Draws)
	assert.Equal(t, 1, rec2.Losses)
	assert.InDelta(t, afterB, rec2.Rating, 1e-9)
	assert.Equal(t, timeutil.FormatDateMillis(t1), rec2.LastGame)
	assert.Equal(t, "4+1", rec2.AverageTimeControl)
	assert.Equal(t, PolicyCanonical, res.Leaderboard.Metadata.Policy)
}

func TestRecompute_MalusBoundary(t *testing.T) {
	start := DefaultStart
	interval := DefaultMalus.Interval.Milliseconds()
	base := []*game.Game{
		build(gameSpec{id: "A", at: start + day, human: "alice", humanAs: game.White, header: rating(2200), winner: game.Black}),
		build(gameSpec{id: "B", at: start + 2*day, human: "alice", humanAs: game.Black, status: "draw"}),
	}

	t.Run("exactly at the interval", func(t *testing.T) {
		rec := &recorder{}
		games := append(append([]*game.Game{}, base...),
			build(gameSpec{id: "C", at: start + interval, human: "bob", humanAs: game.White, header: rating(1900), winner: game.Black}))
		res := newEngine(t, Canonical(), rec).Recompute(games)

		require.Len(t, rec.updates, 3)
		assert.Equal(t, 1, res.Maluses)
		alice, _ := res.Leaderboard.Get("alice")
		assert.InDelta(t, rec.updates[1].After-10, alice.Rating, 1e-9)

		// bob is seeded after the malus, so his own update starts from the seed.
		assert.Equal(t, 1700.0, rec.updates[2].Before)
	})

	t.Run("one millisecond before", func(t *testing.T) {
		rec := &recorder{}
		games := append(append([]*game.Game{}, base...),
			build(gameSpec{id: "C", at: start + interval - 1, human: "bob", humanAs: game.White, winner: game.Black}))
		res := newEngine(t, Canonical(), rec).Recompute(games)

		assert.Equal(t, 0, res.Maluses)
		alice, _ := res.Leaderboard.Get("alice")
		assert.InDelta(t, rec.updates[1].After, alice.Rating, 1e-9)
	})
}

func TestRecompute_MalusRespectsFloorAndExempt(t *testing.T) {
	start := DefaultStart
	interval := DefaultMalus.Interval.Milliseconds()
	games := []*game.Game{
		// Loses heavily from the floor seed and stays at 1600.
		build(gameSpec{id: "1", at: start + minute, human: "low", humanAs: game.White, winner: game.Black}),
		build(gameSpec{id: "2", at: start + 2*minute, human: "vip", humanAs: game.White, header: rating(2500), winner: game.White}),
		build(gameSpec{id: "3", at: start + interval + minute, human: "other", humanAs: game.White, winner: game.Black}),
	}

	cfg := DefaultConfig(bot)
	cfg.Exempt = []string{bot, "VIP"}
	rec := &recorder{}
	cfg.Observer = rec.observe
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	res := e.Recompute(games)

	low, _ := res.Leaderboard.Get("low")
	assert.Equal(t, leaderboard.RatingFloor, low.Rating)
	vip, _ := res.Leaderboard.Get("vip")
	assert.InDelta(t, rec.updates[1].After, vip.Rating, 1e-9)
	assert.Equal(t, 1, res.Maluses)
}

// ──────────────────────────────────────────────────────────────────────────────
// K-factor and seeding
// ──────────────────────────────────────────────────────────────────────────────

func TestRecompute_KFactorBoundaries(t *testing.T) {
	var games []*game.Game
	for i := 1; i <= 152; i++ {
		s := gameSpec{id: fmt.Sprintf("g%03d", i), at: DefaultStart + int64(i)*minute, human: "carl", humanAs: game.White, winner: game.White}
		if i == 31 || i == 152 {
			s.status, s.winner = "draw", ""
		}
		games = append(games, build(s))
	}

	rec := &recorder{}
	newEngine(t, Canonical(), rec).Recompute(games)
	require.Len(t, rec.updates, 152)

	kOf := func(n int) float64 { return rec.updates[n-1].K }
	assert.Equal(t, 40.0, kOf(1))
	assert.Equal(t, 40.0, kOf(30))
	assert.Equal(t, 10.0, kOf(31), "draw in the K=20 band uses half")
	assert.Equal(t, 20.0, kOf(32))
	assert.Equal(t, 20.0, kOf(150))
	assert.Equal(t, 10.0, kOf(151))
	assert.Equal(t, 5.0, kOf(152), "draw in the K=10 band uses half")
	assert.Equal(t, 149, rec.updates[149].GamesBefore)
}

func TestKSchedule(t *testing.T) {
	k := DefaultKSchedule
	assert.Equal(t, 40.0, k.For(0))
	assert.Equal(t, 40.0, k.For(29))
	assert.Equal(t, 20.0, k.For(30))
	assert.Equal(t, 20.0, k.For(149))
	assert.Equal(t, 10.0, k.For(150))
	assert.Equal(t, 10.0, k.For(10_000))
}

func TestTieredSeeding(t *testing.T) {
	tests := []struct {
		header *int
		want   float64
	}{
		{rating(2200), 1800},
		{rating(2000), 1800},
		{rating(1999), 1799},
		{rating(1900), 1700},
		{rating(1800), 1600},
		{rating(1750), 1600},
		{nil, 1600},
	}
	for i, tt := range tests {
		rec := &recorder{}
		g := build(gameSpec{id: fmt.Sprint(i), at: DefaultStart, human: "p", humanAs: game.Black, header: tt.header, winner: game.White})
		newEngine(t, Canonical(), rec).Recompute([]*game.Game{g})
		require.Len(t, rec.updates, 1)
		assert.Equal(t, tt.want, rec.updates[0].Before, "header %v", tt.header)
	}
}

func TestLegacySeeding(t *testing.T) {
	assert.Equal(t, 1800.0, LegacyUpdater().seedFor(game.HeaderRating{Value: 2400, Valid: true}))
	assert.Equal(t, 1800.0, LegacyUpdater().seedFor(game.HeaderRating{}))
	assert.Equal(t, 2300.0, LegacyPentanomial().seedFor(game.HeaderRating{Value: 2400, Valid: true}))
	assert.Equal(t, 1600.0, LegacyPentanomial().seedFor(game.HeaderRating{Value: 1650, Valid: true}))
	assert.Equal(t, 1600.0, LegacyPentanomial().seedFor(game.HeaderRating{}))
}

// ──────────────────────────────────────────────────────────────────────────────
// Epochs, filtering and isolation
// ──────────────────────────────────────────────────────────────────────────────

func TestEpochAt(t *testing.T) {
	p := Canonical()
	assert.Equal(t, 1950.0, p.EpochAt(EpochMid-1).BotRating)
	assert.Equal(t, "adjust1", p.EpochAt(EpochMid-1).Model.Name())
	assert.Equal(t, 2100.0, p.EpochAt(EpochMid).BotRating)
	assert.Equal(t, 2100.0, p.EpochAt(EpochCurrent-1).BotRating)
	assert.Equal(t, 2650.0, p.EpochAt(EpochCurrent).BotRating)
	assert.Equal(t, "model1", p.EpochAt(DefaultStart).Model.Name())

	assert.Equal(t, 2650.0, LegacyUpdater().EpochAt(EpochMid-1).BotRating)
}

func TestRecompute_EarlyEpochWhenStartMovedBack(t *testing.T) {
	cfg := DefaultConfig(bot)
	cfg.Start = 0
	rec := &recorder{}
	cfg.Observer = rec.observe
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	e.Recompute([]*game.Game{
		build(gameSpec{id: "old", at: EpochMid - day, human: "p", humanAs: game.Black, winner: game.White,
			pgn: "[TimeControl \"180+2\"]"}),
	})
	require.Len(t, rec.updates, 1)
	assert.InDelta(t, 1950.0, rec.updates[0].BotEffective, 1e-9)
}

func TestRecompute_FiltersAndSkips(t *testing.T) {
	anon := build(gameSpec{id: "anon", at: DefaultStart + minute, human: "", humanAs: game.White, winner: game.Black})
	anon.Players.White.User = nil

	games := []*game.Game{
		build(gameSpec{id: "before", at: DefaultStart - 1, human: "early", humanAs: game.White, winner: game.Black}),
		anon,
		build(gameSpec{id: "reserved", at: DefaultStart + 2*minute, human: "metadata", humanAs: game.White, winner: game.Black}),
		build(gameSpec{id: "ok", at: DefaultStart + 3*minute, human: "dora", humanAs: game.White, winner: game.Black,
			pgn: "[TimeControl \"-\"]"}),
		{ID: "nobot", CreatedAt: DefaultStart + 4*minute, Players: game.Players{
			White: game.Player{User: &game.User{Name: "x"}}, Black: game.Player{User: &game.User{Name: "y"}}}},
	}

	res := newEngine(t, Canonical(), nil).Recompute(games)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, []string{"dora"}, res.Leaderboard.Names())

	dora, _ := res.Leaderboard.Get("dora")
	assert.Equal(t, leaderboard.UnknownTimeControl, dora.AverageTimeControl)
}

func TestRecompute_SortedWithStableTies(t *testing.T) {
	games := []*game.Game{
		build(gameSpec{id: "1", at: DefaultStart + minute, human: "first", humanAs: game.White, winner: game.Black}),
		build(gameSpec{id: "2", at: DefaultStart + 2*minute, human: "second", humanAs: game.White, winner: game.Black}),
		build(gameSpec{id: "3", at: DefaultStart + 3*minute, human: "winner", humanAs: game.White, header: rating(2100), winner: game.White}),
	}
	res := newEngine(t, Canonical(), nil).Recompute(games)
	assert.Equal(t, []string{"winner", "first", "second"}, res.Leaderboard.Names())
}

// ──────────────────────────────────────────────────────────────────────────────
// Properties
// ──────────────────────────────────────────────────────────────────────────────

func TestSortedByCreatedAt_StableOnTies(t *testing.T) {
	mk := func(id string, at int64) *game.Game { return &game.Game{ID: id, CreatedAt: at} }
	got := sortedByCreatedAt([]*game.Game{mk("x", 5), nil, mk("y", 5), mk("w", 1), mk("z", 5)})
	require.Len(t, got, 4)
	ids := make([]string, 0, len(got))
	for _, g := range got {
		ids = append(ids, g.ID)
	}
	assert.Equal(t, []string{"w", "x", "y", "z"}, ids)
}

func randomGames(results []int, headers []int) []*game.Game {
	names := []string{"ann", "ben", "cid", "dee"}
	var games []*game.Game
	for i, r := range results {
		s := gameSpec{
			id:      fmt.Sprintf("g%d", i),
			at:      DefaultStart + int64(i)*7*day,
			human:   names[i%len(names)],
			humanAs: game.White,
			clock:   &game.Clock{Initial: 60 * (1 + i%10), Increment: i % 3},
		}
		if i%2 == 1 {
			s.humanAs = game.Black
		}
		if len(headers) > 0 {
			s.header = rating(headers[i%len(headers)])
		}
		switch r % 3 {
		case 0:
			s.winner = s.humanAs
		case 1:
			s.winner = s.humanAs.Opposite()
		default:
			s.status = "draw"
		}
		games = append(games, build(s))
	}
	return games
}

func TestRecompute_FloorProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	for _, p := range []Policy{Canonical(), LegacyUpdater(), LegacyPentanomial()} {
		p := p
		properties.Property(p.Name+": every rating stays at or above the floor", prop.ForAll(
			func(results []int, headers []int) bool {
				e, err := NewEngine(Config{Policy: p, Account: bot, Start: DefaultStart})
				if err != nil {
					return false
				}
				res := e.Recompute(randomGames(results, headers))
				for _, entry := range res.Leaderboard.Entries() {
					if entry.Record.Rating < leaderboard.RatingFloor {
						return false
					}
				}
				return true
			},
			gen.SliceOf(gen.IntRange(0, 2)),
			gen.SliceOf(gen.IntRange(800, 3200)),
		))
	}

	properties.TestingRun(t)
}

func TestRecompute_Deterministic(t *testing.T) {
	games := randomGames([]int{0, 1, 2, 0, 0, 1, 2, 2, 1, 0, 1, 1}, []int{1500, 2100, 1850})
	e := newEngine(t, Canonical(), nil)

	first, err := json.Marshal(e.Recompute(games).Leaderboard)
	require.NoError(t, err)

	reversed := make([]*game.Game, len(games))
	for i, g := range games {
		reversed[len(games)-1-i] = g
	}
	second, err := json.Marshal(e.Recompute(reversed).Leaderboard)
	require.NoError(t, err)

	third, err := json.Marshal(e.Recompute(games).Leaderboard)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(third))
	assert.Equal(t, string(first), string(second), "distinct timestamps make input order irrelevant")
}

func TestAverageTimeControl(t *testing.T) {
	assert.Equal(t, "?", AverageTimeControl(nil))
	assert.Equal(t, "3+2", AverageTimeControl([]game.TimeControl{{Base: 180, Increment: 2}}))
	// Halves round to even: 150s → 2.5 min → 2, inc 1.5 → 2.
	assert.Equal(t, "2+2", AverageTimeControl([]game.TimeControl{{Base: 150, Increment: 1}, {Base: 150, Increment: 2}}))
	assert.Equal(t, "4+1", AverageTimeControl([]game.TimeControl{{Base: 180, Increment: 2}, {Base: 300, Increment: 0}}))
}

func TestPolicyByName(t *testing.T) {
	for _, name := range PolicyNames() {
		p, err := PolicyByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.Name)
		assert.NoError(t, p.Validate())
	}
	p, err := PolicyByName("")
	require.NoError(t, err)
	assert.Equal(t, PolicyCanonical, p.Name)

	_, err = PolicyByName("glicko")
	assert.Error(t, err)
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(Config{Policy: Policy{Name: "empty"}, Account: bot})
	assert.Error(t, err)
	_, err = NewEngine(Config{Policy: Canonical()})
	assert.Error(t, err)
}

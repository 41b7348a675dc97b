// Package game содержит доменную модель партии, выгруженной с игрового сервера.
// Партия неизменяема: сервис хранит исходный JSON дословно и читает из него
// только поля, нужные для пересчёта рейтинга.
package game

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Color - цвет фигур участника партии.
type Color string

const (
	// White - белые.
	White Color = "white"
	// Black - чёрные.
	Black Color = "black"
)

// Opposite возвращает цвет соперника.
func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

// IsValid проверяет, что цвет известен.
func (c Color) IsValid() bool {
	return c == White || c == Black
}

// StatusDraw - статус ничейной партии.
const StatusDraw = "draw"

// User - учётная запись игрока на сервере.
type User struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// HeaderRating - рейтинг игрока из заголовка партии.
// Некорректное значение не ломает декодирование всей партии: оно просто
// считается отсутствующим.
type HeaderRating struct {
	Value int
	Valid bool
}

// UnmarshalJSON принимает число, строку с числом или null.
func (r *HeaderRating) UnmarshalJSON(data []byte) error {
	*r = HeaderRating{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := string(data)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	if v, err := strconv.Atoi(s); err == nil {
		r.Value, r.Valid = v, true
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		r.Value, r.Valid = int(f), true
	}
	return nil
}

// MarshalJSON пишет число или null.
func (r HeaderRating) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(r.Value)), nil
}

// Or возвращает значение рейтинга или def, если рейтинга нет.
func (r HeaderRating) Or(def int) int {
	if !r.Valid {
		return def
	}
	return r.Value
}

// Player - участник партии. У анонимов и движков User отсутствует.
type Player struct {
	User   *User         `json:"user,omitempty"`
	Rating *HeaderRating `json:"rating,omitempty"`
}

// Name возвращает имя игрока или пустую строку.
func (p Player) Name() string {
	if p.User == nil {
		return ""
	}
	return p.User.Name
}

// HeaderRating возвращает рейтинг из заголовка (может быть невалидным).
func (p Player) HeaderRating() HeaderRating {
	if p.Rating == nil {
		return HeaderRating{}
	}
	return *p.Rating
}

// Players - пара участников.
type Players struct {
	White Player `json:"white"`
	Black Player `json:"black"`
}

// Get возвращает участника указанного цвета.
func (p Players) Get(c Color) Player {
	if c == White {
		return p.White
	}
	return p.Black
}

// Clock - контроль времени в секундах.
type Clock struct {
	Initial   int `json:"initial"`
	Increment int `json:"increment"`
	TotalTime int `json:"totalTime,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// GAME
// ══════════════════════════════════════════════════════════════════════════════

// Game - одна партия бота.
// Поля, которые сервис не моделирует, сохраняются в raw и пишутся обратно без изменений.
type Game struct {
	ID        string  `json:"id"`
	CreatedAt int64   `json:"createdAt"`
	Rated     bool    `json:"rated,omitempty"`
	Speed     string  `json:"speed,omitempty"`
	Status    string  `json:"status"`
	Winner    Color   `json:"winner,omitempty"`
	Players   Players `json:"players"`
	Clock     *Clock  `json:"clock,omitempty"`
	PGN       string  `json:"pgn,omitempty"`

	raw json.RawMessage
}

// gameFields - псевдоним без методов, чтобы избежать рекурсии в (Un)MarshalJSON.
type gameFields Game

// UnmarshalJSON декодирует партию и запоминает исходные байты.
func (g *Game) UnmarshalJSON(data []byte) error {
	var f gameFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*g = Game(f)
	g.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON возвращает исходный JSON, если партия пришла с сервера.
func (g Game) MarshalJSON() ([]byte, error) {
	if len(g.raw) > 0 {
		return g.raw, nil
	}
	return json.Marshal(gameFields(g))
}

// Raw возвращает исходный JSON партии (nil для партий, собранных в коде).
func (g *Game) Raw() json.RawMessage {
	return g.raw
}

// Decode разбирает одну строку NDJSON в партию.
func Decode(line []byte) (*Game, error) {
	var g Game
	if err := json.Unmarshal(line, &g); err != nil {
		return nil, shared.WrapError("game", "Decode", shared.ErrInvalidFormat, "malformed game json", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate проверяет поля, без которых партию нельзя заархивировать.
func (g *Game) Validate() error {
	if g.ID == "" {
		return shared.ErrGameMissingID
	}
	return nil
}

// Time возвращает время создания партии в UTC.
func (g *Game) Time() time.Time {
	return time.UnixMilli(g.CreatedAt).UTC()
}

// BotColor определяет цвет бота по имени аккаунта (без учёта регистра).
// ok=false, если ни один из участников не является ботом.
func (g *Game) BotColor(account string) (Color, bool) {
	switch {
	case strings.EqualFold(g.Players.White.Name(), account):
		return White, true
	case strings.EqualFold(g.Players.Black.Name(), account):
		return Black, true
	default:
		return "", false
	}
}

// Human возвращает цвет и данные соперника бота.
func (g *Game) Human(account string) (Color, Player, error) {
	botColor, ok := g.BotColor(account)
	if !ok {
		return "", Player{}, shared.WrapError("game", "Human", shared.ErrInvalidInput,
			fmt.Sprintf("bot %q did not play game %s", account, g.ID), nil)
	}
	human := botColor.Opposite()
	player := g.Players.Get(human)
	if player.Name() == "" {
		return "", Player{}, shared.ErrGameMissingPlayer
	}
	return human, player, nil
}

// ScoreFor возвращает результат партии с точки зрения цвета c:
// ничья или отсутствие победителя - 0.5, победа - 1, иначе 0.
func (g *Game) ScoreFor(c Color) float64 {
	switch {
	case g.Status == StatusDraw || g.Winner == "":
		return 0.5
	case g.Winner == c:
		return 1
	default:
		return 0
	}
}

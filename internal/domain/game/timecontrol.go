package game

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
)

// DefaultTimeControl используется, когда у партии нет ни clock, ни тега TimeControl.
const DefaultTimeControl = "180+2"

// TimeControl - контроль времени "base+inc" в секундах.
type TimeControl struct {
	Base      int
	Increment int
}

// ParseTimeControl разбирает строку вида "300+3".
// Заглушки сервера ("-", "unknown") считаются ошибкой.
func ParseTimeControl(s string) (TimeControl, error) {
	base, inc, found := strings.Cut(strings.TrimSpace(s), "+")
	if !found {
		return TimeControl{}, shared.WrapError("game", "ParseTimeControl", shared.ErrInvalidFormat,
			fmt.Sprintf("time control %q", s), nil)
	}
	b, err := strconv.Atoi(base)
	if err != nil {
		return TimeControl{}, shared.WrapError("game", "ParseTimeControl", shared.ErrInvalidFormat,
			fmt.Sprintf("time control %q", s), err)
	}
	i, err := strconv.Atoi(inc)
	if err != nil {
		return TimeControl{}, shared.WrapError("game", "ParseTimeControl", shared.ErrInvalidFormat,
			fmt.Sprintf("time control %q", s), err)
	}
	return TimeControl{Base: b, Increment: i}, nil
}

// String возвращает "base+inc".
func (tc TimeControl) String() string {
	return fmt.Sprintf("%d+%d", tc.Base, tc.Increment)
}

// ══════════════════════════════════════════════════════════════════════════════
// PGN
// ══════════════════════════════════════════════════════════════════════════════

var timeControlTag = regexp.MustCompile(`\[TimeControl\s+"([^"]+)"\]`)

// PGNTag извлекает значение тега заголовка PGN.
func PGNTag(pgn, tag string) (string, bool) {
	re := timeControlTag
	if tag != "TimeControl" {
		re = regexp.MustCompile(`\[` + regexp.QuoteMeta(tag) + `\s+"([^"]+)"\]`)
	}
	m := re.FindStringSubmatch(pgn)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// TimeControlSource - откуда взят контроль времени.
type TimeControlSource string

const (
	SourceClock    TimeControlSource = "clock"
	SourcePGN      TimeControlSource = "pgn"
	SourceFallback TimeControlSource = "fallback"
)

// TimeControl возвращает строку контроля времени партии:
// сначала clock, затем тег PGN, затем DefaultTimeControl.
// Строка из тега может не разбираться (например "-"), это решает вызывающий.
func (g *Game) TimeControl() (string, TimeControlSource) {
	if g.Clock != nil {
		return TimeControl{Base: g.Clock.Initial, Increment: g.Clock.Increment}.String(), SourceClock
	}
	if tc, ok := PGNTag(g.PGN, "TimeControl"); ok {
		return tc, SourcePGN
	}
	return DefaultTimeControl, SourceFallback
}

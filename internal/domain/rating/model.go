// Package rating реализует модель рейтинга игроков против бота LeelaQueenOdds:
// поправку силы бота на контроль времени, ожидаемый результат, K-фактор,
// стартовый рейтинг и штраф за неактивность. Все константы собраны в
// версионированные политики (policy.go); пересчёт - чистая функция архива.
package rating

import (
	"math"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
)

// ══════════════════════════════════════════════════════════════════════════════
// TIME CONTROL ADJUSTMENT MODELS
// ══════════════════════════════════════════════════════════════════════════════

// ReferenceTimeControl - контроль, для которого поправка равна нулю.
var ReferenceTimeControl = game.TimeControl{Base: 180, Increment: 2}

// AdjustModel переводит контроль времени в поправку к рейтингу бота.
// Положительная поправка означает, что бот на этом контроле слабее эталона.
type AdjustModel interface {
	Name() string
	Adjust(tc game.TimeControl) float64
}

// LogModel: ln(t + ln(1+inc)*b1)*b2 - ln(180 + ln(3)*b1)*b2.
type LogModel struct {
	Label string
	B1    float64
	B2    float64
}

func (m LogModel) Name() string { return m.Label }

func (m LogModel) strength(base, inc float64) float64 {
	return math.Log(base+math.Log(1+inc)*m.B1) * m.B2
}

// Adjust returns 0 when the logarithm is undefined for tc.
func (m LogModel) Adjust(tc game.TimeControl) float64 {
	ref := ReferenceTimeControl
	return finite(m.strength(float64(tc.Base), float64(tc.Increment)) -
		m.strength(float64(ref.Base), float64(ref.Increment)))
}

// OffsetLogModel: ln(ba + t + ln(2+inc)*b1)*b2 - ln(ba + 180 + ln(4)*b1)*b2.
type OffsetLogModel struct {
	Label string
	B1    float64
	B2    float64
	BA    float64
}

func (m OffsetLogModel) Name() string { return m.Label }

func (m OffsetLogModel) strength(base, inc float64) float64 {
	return math.Log(m.BA+base+math.Log(2+inc)*m.B1) * m.B2
}

func (m OffsetLogModel) Adjust(tc game.TimeControl) float64 {
	ref := ReferenceTimeControl
	return finite(m.strength(float64(tc.Base), float64(tc.Increment)) -
		m.strength(float64(ref.Base), float64(ref.Increment)))
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Historical model constants.
var (
	Adjust1 AdjustModel = LogModel{Label: "adjust1", B1: 150, B2: 150}
	Model1  AdjustModel = LogModel{Label: "model1", B1: 158, B2: 251}
	Model2  AdjustModel = OffsetLogModel{Label: "model2", B1: 406, B2: 390, BA: 45}
)

// AdjustString разбирает "base+inc" и применяет модель; нераспознанная строка даёт 0.
func AdjustString(m AdjustModel, tc string) float64 {
	parsed, err := game.ParseTimeControl(tc)
	if err != nil {
		return 0
	}
	return m.Adjust(parsed)
}

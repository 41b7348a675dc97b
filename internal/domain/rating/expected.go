package rating

import (
	"math"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPECTED SCORE
// ══════════════════════════════════════════════════════════════════════════════

// ExpectedScore возвращает ожидаемый результат игрока при разнице
// diff = эффективный рейтинг бота - рейтинг игрока.
type ExpectedScore interface {
	Name() string
	Expected(diff float64) float64
}

// Logistic - двухисходная модель 1/(1+10^(diff/400)).
type Logistic struct{}

func (Logistic) Name() string { return "logistic" }

func (Logistic) Expected(diff float64) float64 {
	return 1 / (1 + math.Pow(10, diff/400))
}

// PentanomialScale переводит разницу рейтингов в натуральные логиты (400/ln 10).
const PentanomialScale = 173.7

// Pentanomial - пятиисходная модель (0, ¼, ½, ¾, 1) с порогами ±0.2 и ±0.8.
//
// Исходы упорядочены; вероятность набрать не меньше k-го уровня равна
// σ(s - θk), где s = -diff/173.7, θ = (-0.8, -0.2, 0.2, 0.8).
// Ожидание суммируется по весам {0, 0.25, 0.5, 0.75, 1}.
type Pentanomial struct{}

// PentanomialBreakpoints - пороги между соседними исходами.
var PentanomialBreakpoints = [4]float64{-0.8, -0.2, 0.2, 0.8}

// PentanomialWeights - очки пяти исходов.
var PentanomialWeights = [5]float64{0, 0.25, 0.5, 0.75, 1}

func (Pentanomial) Name() string { return "pentanomial" }

func (Pentanomial) Expected(diff float64) float64 {
	s := -diff / PentanomialScale

	// atLeast[k] = P(исход >= k); atLeast[0] = 1, atLeast[5] = 0.
	var atLeast [6]float64
	atLeast[0] = 1
	for k, theta := range PentanomialBreakpoints {
		atLeast[k+1] = sigmoid(s - theta)
	}

	var e float64
	for k, w := range PentanomialWeights {
		e += w * (atLeast[k] - atLeast[k+1])
	}
	return e
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

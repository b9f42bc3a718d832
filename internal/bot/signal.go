package bot

import (
	"math"

	"statarb/internal/models"
	"statarb/internal/stats"
)

// PairZScore z-score последнего наблюдения спреда base - hr*quote.
// Свободный член не нужен: z-score инвариантен к сдвигу спреда.
func PairZScore(base, quote []float64, hedgeRatio float64, window int) (float64, bool) {
	n := len(base)
	if len(quote) < n {
		n = len(quote)
	}
	if n < window {
		return math.NaN(), false
	}
	// выравниваем по последним n наблюдениям
	spread, err := stats.Spread(base[len(base)-n:], quote[len(quote)-n:], hedgeRatio, 0)
	if err != nil {
		return math.NaN(), false
	}
	return stats.LatestZScore(spread, window)
}

// SidesFor стороны ног по знаку z-score:
// z < 0 - спред ниже среднего: base BUY, quote SELL;
// z > 0 - спред выше среднего: base SELL, quote BUY.
func SidesFor(z float64) (base, quote models.Side) {
	if z < 0 {
		return models.SideBuy, models.SideSell
	}
	return models.SideSell, models.SideBuy
}

// EntryTriggered |z| >= порога; неопределённый z не является сигналом
func EntryTriggered(z, thresh float64) bool {
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return false
	}
	return math.Abs(z) >= thresh
}

// ComputeSignal сигнал на вход по ценам закрытия обеих ног.
// ok=false если z не определён или не дотягивает до порога.
func ComputeSignal(pair models.CointegratedPair, base, quote []float64, window int, thresh float64) (models.Signal, bool) {
	z, ok := PairZScore(base, quote, pair.HedgeRatio, window)
	if !ok || !EntryTriggered(z, thresh) {
		return models.Signal{Pair: pair, ZScore: z}, false
	}

	baseSide, quoteSide := SidesFor(z)
	return models.Signal{
		Pair:       pair,
		ZScore:     z,
		BaseSide:   baseSide,
		QuoteSide:  quoteSide,
		BasePrice:  base[len(base)-1],
		QuotePrice: quote[len(quote)-1],
	}, true
}

// ShouldExit условие выхода: спред прошёл через среднее и ушёл
// на другую сторону не меньше, чем был при входе.
// Нужны оба условия; одно из них - шум.
func ShouldExit(entryZ, currentZ float64) bool {
	if math.IsNaN(currentZ) || math.IsNaN(entryZ) {
		return false
	}
	crossed := sign(currentZ) != sign(entryZ)
	return crossed && math.Abs(currentZ) >= math.Abs(entryZ)
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

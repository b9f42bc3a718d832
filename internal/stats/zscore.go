package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RollingZScore скользящий z-score по хвостовому окну:
// z_t = (s_t - mean(s[t-window+1..t])) / std(s[t-window+1..t]).
//
// std выборочное (n-1), как у rolling().std().
// До заполнения окна и при нулевом std - NaN: такой z не является сигналом.
func RollingZScore(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	for i := range out {
		out[i] = math.NaN()
	}
	if window < 2 {
		return out
	}

	for t := window - 1; t < len(series); t++ {
		w := series[t-window+1 : t+1]
		mean, std := stat.MeanStdDev(w, nil)
		if !(std > 0) || math.IsNaN(mean) {
			continue
		}
		out[t] = (series[t] - mean) / std
	}
	return out
}

// LatestZScore z-score последнего наблюдения; ok=false если он не определён
func LatestZScore(series []float64, window int) (float64, bool) {
	if len(series) < window || window < 2 {
		return math.NaN(), false
	}
	// считаем только последнее окно
	z := RollingZScore(series[len(series)-window:], window)
	last := z[len(z)-1]
	return last, !math.IsNaN(last) && !math.IsInf(last, 0)
}

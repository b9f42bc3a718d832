package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Таблицы MacKinnon для теста коинтеграции двух рядов (N=2) с константой.
//
// Критические значения: MacKinnon (2010), "Critical Values for Cointegration Tests",
// crit(n) = b0 + b1/n + b2/n^2 + b3/n^3.
// p-value: MacKinnon (1994), аппроксимация нормальным распределением
// полинома от статистики, отдельно для малых и больших p.

var critTable = [3][4]float64{
	{-3.89644, -10.9519, -33.527, 0}, // 1%
	{-3.33613, -6.1101, -6.823, 0},   // 5%
	{-3.04445, -4.2412, -2.720, 0},   // 10%
}

const (
	tauMax  = 0.92
	tauMin  = -18.86
	tauStar = -2.62
)

var (
	tauSmallP = []float64{2.92, 1.5012, 0.039796}
	tauLargeP = []float64{2.1945, 0.64695, -0.29198, -0.042377}
)

// MacKinnonCrit критические значения 1%, 5%, 10% для n наблюдений
func MacKinnonCrit(n int) [3]float64 {
	var out [3]float64
	if n <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	fn := float64(n)
	for i, b := range critTable {
		out[i] = b[0] + b[1]/fn + b[2]/(fn*fn) + b[3]/(fn*fn*fn)
	}
	return out
}

// MacKinnonP асимптотическое p-value статистики Энгла-Грейнджера
func MacKinnonP(tau float64) float64 {
	switch {
	case math.IsNaN(tau):
		return math.NaN()
	case tau > tauMax:
		return 1
	case tau < tauMin:
		return 0
	}

	coef := tauLargeP
	if tau <= tauStar {
		coef = tauSmallP
	}
	return distuv.UnitNormal.CDF(polyval(coef, tau))
}

// polyval c0 + c1*x + c2*x^2 + ... (схема Горнера)
func polyval(coef []float64, x float64) float64 {
	var v float64
	for i := len(coef) - 1; i >= 0; i-- {
		v = v*x + coef[i]
	}
	return v
}

package stats

import (
	"fmt"
	"math"
)

// adf.go - тест Дики-Фуллера и двухшаговый тест Энгла-Грейнджера
//
// Повторяет поведение statsmodels coint(y0, y1, trend="c", autolag="aic"):
//  1. OLS y0 = b*y1 + c
//  2. ADF остатков без константы, число лагов по минимуму AIC
//  3. критические значения MacKinnon (2010), p-value MacKinnon (1994)

// CointResult результат теста Энгла-Грейнджера
type CointResult struct {
	TStat  float64
	PValue float64
	Crit1  float64
	Crit5  float64
	Crit10 float64
	Lags   int
	// Collinear - ряды почти линейно зависимы, статистика = -Inf
	Collinear bool
}

// ADFResult результат теста Дики-Фуллера
type ADFResult struct {
	TStat   float64
	UsedLag int
	NObs    int
}

// DefaultMaxLag 12*(n/100)^(1/4), но не больше n/2 - 1 (как в statsmodels)
func DefaultMaxLag(n int) int {
	maxLag := int(math.Ceil(12 * math.Pow(float64(n)/100, 0.25)))
	if limit := n/2 - 1; maxLag > limit {
		maxLag = limit
	}
	return maxLag
}

// ADF без константы и тренда (regression="n") с автоподбором лага по AIC.
//
// Все кандидаты оцениваются на одной выборке (n - 1 - maxLag наблюдений),
// финальная регрессия - на максимально доступной для выбранного лага.
func ADF(x []float64, maxLag int) (ADFResult, error) {
	n := len(x)
	if maxLag < 0 {
		maxLag = DefaultMaxLag(n)
	}
	if maxLag < 0 || n-1-maxLag < 2 {
		return ADFResult{}, fmt.Errorf("%w: sample of %d is too short for ADF", ErrInsufficientData, n)
	}

	dx := diff(x)

	bestLag := 0
	if maxLag > 0 {
		y, rows := adfDesign(x, dx, maxLag, maxLag)
		bestAIC := math.Inf(1)
		for lag := 0; lag <= maxLag; lag++ {
			sub := make([][]float64, len(rows))
			for i, r := range rows {
				sub[i] = r[:lag+1]
			}
			res, err := olsMatrix(y, sub)
			if err != nil {
				continue
			}
			// строгое "<": при равенстве выигрывает меньший лаг
			if aic := res.aic(); aic < bestAIC {
				bestAIC = aic
				bestLag = lag
			}
		}
	}

	y, rows := adfDesign(x, dx, bestLag, bestLag)
	res, err := olsMatrix(y, rows)
	if err != nil {
		return ADFResult{}, err
	}

	return ADFResult{TStat: res.tvalue0(), UsedLag: bestLag, NObs: res.nobs}, nil
}

// adfDesign строит регрессию Δx_t = ρ x_{t-1} + Σ γ_i Δx_{t-i}, i = 1..lags.
// trim - сколько первых разностей отбросить (для общей выборки при подборе лага).
func adfDesign(x, dx []float64, lags, trim int) ([]float64, [][]float64) {
	nobs := len(dx) - trim
	y := make([]float64, nobs)
	rows := make([][]float64, nobs)

	for i := 0; i < nobs; i++ {
		t := trim + i // индекс в dx; dx[t] = x[t+1] - x[t]
		y[i] = dx[t]
		row := make([]float64, lags+1)
		row[0] = x[t]
		for l := 1; l <= lags; l++ {
			row[l] = dx[t-l]
		}
		rows[i] = row
	}
	return y, rows
}

// EngleGranger двухшаговый тест коинтеграции y0 и y1
func EngleGranger(y0, y1 []float64) (CointResult, error) {
	if len(y0) != len(y1) {
		return CointResult{}, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(y0), len(y1))
	}
	n := len(y0)
	if n <= 1 {
		return CointResult{}, fmt.Errorf("%w: %d observations", ErrInsufficientData, n)
	}

	fit, err := OLS(y0, y1)
	if err != nil {
		return CointResult{}, err
	}

	crit := MacKinnonCrit(n - 1)
	res := CointResult{Crit1: crit[0], Crit5: crit[1], Crit10: crit[2]}

	// statsmodels: rsquared >= 1 - 100*sqrt(eps) -> тест ненадёжен, статистика -Inf
	if fit.RSquared >= 1-100*math.Sqrt(machineEps) {
		res.TStat = math.Inf(-1)
		res.PValue = MacKinnonP(res.TStat)
		res.Collinear = true
		return res, nil
	}

	resid, err := Spread(y0, y1, fit.Slope, fit.Intercept)
	if err != nil {
		return CointResult{}, err
	}

	adf, err := ADF(resid, -1)
	if err != nil {
		return CointResult{}, err
	}

	res.TStat = adf.TStat
	res.PValue = MacKinnonP(adf.TStat)
	res.Lags = adf.UsedLag
	return res, nil
}

func diff(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, len(x)-1)
	for i := 1; i < len(x); i++ {
		out[i-1] = x[i] - x[i-1]
	}
	return out
}

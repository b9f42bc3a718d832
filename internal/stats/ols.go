package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Ошибки статистики. Все они - "ошибки данных": пара пропускается, цикл продолжается.
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrLengthMismatch   = errors.New("series length mismatch")
	ErrDegenerateFit    = errors.New("degenerate regression fit")
	ErrDegenerateSlope  = errors.New("degenerate slope")
)

// machineEps - np.finfo(float64).eps
const machineEps = 2.220446049250313e-16

// collinearTol - относительная дисперсия регрессора, ниже которой он неотличим от константы
const collinearTol = 1e-12

// Fit результат простой регрессии y = Slope*x + Intercept
type Fit struct {
	Slope     float64
	Intercept float64
	RSquared  float64
}

// OLS оценивает y = slope*x + intercept.
//
// Вырожденный случай (x постоянен, т.е. коллинеарен столбцу констант) возвращает
// ErrDegenerateFit, а не NaN/Inf в коэффициентах.
func OLS(y, x []float64) (Fit, error) {
	if len(y) != len(x) {
		return Fit{}, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(y), len(x))
	}
	if len(x) < 2 {
		return Fit{}, fmt.Errorf("%w: need at least 2 observations, got %d", ErrInsufficientData, len(x))
	}
	if !allFinite(x) || !allFinite(y) {
		return Fit{}, fmt.Errorf("%w: non-finite input", ErrDegenerateFit)
	}

	mx, vx := stat.MeanVariance(x, nil)
	if !(vx > 0) || vx/(mx*mx+vx) < collinearTol {
		return Fit{}, fmt.Errorf("%w: regressor is constant", ErrDegenerateFit)
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) || math.IsInf(alpha, 0) || math.IsInf(beta, 0) {
		return Fit{}, fmt.Errorf("%w: non-finite coefficients", ErrDegenerateFit)
	}

	return Fit{
		Slope:     beta,
		Intercept: alpha,
		RSquared:  stat.RSquared(x, y, nil, alpha, beta),
	}, nil
}

// HedgeFit оценка hedge ratio для пары: base = hr*quote + intercept.
// При вырожденной регрессии hr = 1, intercept = mean(base - quote) и Degenerate = true.
type HedgeFit struct {
	HedgeRatio float64
	Intercept  float64
	Degenerate bool
}

// FitHedge считает hedge ratio с явной обработкой вырожденного случая
func FitHedge(base, quote []float64) (HedgeFit, error) {
	fit, err := OLS(base, quote)
	if err == nil {
		return HedgeFit{HedgeRatio: fit.Slope, Intercept: fit.Intercept}, nil
	}
	if !errors.Is(err, ErrDegenerateFit) {
		return HedgeFit{}, err
	}

	diff := make([]float64, len(base))
	for i := range base {
		diff[i] = base[i] - quote[i]
	}
	return HedgeFit{HedgeRatio: 1, Intercept: stat.Mean(diff, nil), Degenerate: true}, nil
}

// Spread = base - hr*quote - intercept
func Spread(base, quote []float64, hedgeRatio, intercept float64) ([]float64, error) {
	if len(base) != len(quote) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(base), len(quote))
	}
	out := make([]float64, len(base))
	for i := range base {
		out[i] = base[i] - hedgeRatio*quote[i] - intercept
	}
	return out, nil
}

// ============================================================
// Многомерный OLS для ADF
// ============================================================

// olsResult результат регрессии y = X*b
type olsResult struct {
	beta []float64
	ssr  float64
	nobs int
	k    int
	// стандартная ошибка первого коэффициента
	se0 float64
}

// llf логарифм правдоподобия гауссовой модели
func (r olsResult) llf() float64 {
	n := float64(r.nobs)
	return -n / 2 * (math.Log(2*math.Pi) + math.Log(r.ssr/n) + 1)
}

// aic = -2 llf + 2k (регрессия без константы)
func (r olsResult) aic() float64 {
	return -2*r.llf() + 2*float64(r.k)
}

// tvalue0 t-статистика первого коэффициента
func (r olsResult) tvalue0() float64 {
	return r.beta[0] / r.se0
}

// olsMatrix решает нормальные уравнения через Холецкого.
// rows - наблюдения, каждая строка длины k.
func olsMatrix(y []float64, rows [][]float64) (olsResult, error) {
	n := len(rows)
	if n == 0 || n != len(y) {
		return olsResult{}, ErrInsufficientData
	}
	k := len(rows[0])
	if n <= k {
		return olsResult{}, fmt.Errorf("%w: %d observations for %d regressors", ErrInsufficientData, n, k)
	}

	X := mat.NewDense(n, k, nil)
	for i, row := range rows {
		X.SetRow(i, row)
	}
	Y := mat.NewVecDense(n, y)

	var xtx mat.SymDense
	xtx.SymOuterK(1, X.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return olsResult{}, fmt.Errorf("%w: singular design matrix", ErrDegenerateFit)
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), Y)

	var b mat.VecDense
	if err := chol.SolveVecTo(&b, &xty); err != nil {
		return olsResult{}, fmt.Errorf("%w: %v", ErrDegenerateFit, err)
	}

	var fitted mat.VecDense
	fitted.MulVec(X, &b)
	var ssr float64
	for i := 0; i < n; i++ {
		e := y[i] - fitted.AtVec(i)
		ssr += e * e
	}

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return olsResult{}, fmt.Errorf("%w: %v", ErrDegenerateFit, err)
	}
	sigma2 := ssr / float64(n-k)

	beta := make([]float64, k)
	for i := range beta {
		beta[i] = b.AtVec(i)
	}

	return olsResult{
		beta: beta,
		ssr:  ssr,
		nobs: n,
		k:    k,
		se0:  math.Sqrt(sigma2 * inv.At(0, 0)),
	}, nil
}

func allFinite(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

package stats

import (
	"fmt"
	"math"
)

// HalfLife период полураспада отклонения спреда.
//
// Регрессия Δs_t = slope*s_{t-1} + c; half_life = -ln(2)/slope.
// |slope| < eps означает отсутствие возврата к среднему - ErrDegenerateSlope.
// Знак и величина не проверяются: отрицательный half-life (расходящийся спред)
// отсекается правилом отбора пары.
func HalfLife(spread []float64) (float64, error) {
	if len(spread) <= 1 {
		return 0, fmt.Errorf("%w: series length must be greater than 1, got %d", ErrInsufficientData, len(spread))
	}

	lagged := spread[:len(spread)-1]
	delta := diff(spread)

	fit, err := OLS(delta, lagged)
	if err != nil {
		return 0, err
	}
	if math.Abs(fit.Slope) < machineEps {
		return 0, fmt.Errorf("%w: |slope| = %g", ErrDegenerateSlope, math.Abs(fit.Slope))
	}

	return -math.Ln2 / fit.Slope, nil
}

package utils

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// math.go - квантование цен и объёмов под параметры рынка
//
// Биржа принимает цену кратную tickSize и объём кратный stepSize.
// Все расчёты идут через decimal, иначе 0.1+0.2 даёт лишний знак
// и ордер отклоняется валидатором биржи.

// RoundToStep округляет объём ВНИЗ до кратного stepSize.
//
// Округление вниз гарантирует, что позиция не превысит USD_PER_TRADE.
//
// Примеры:
//   - RoundToStep(0.123456, 0.001) = 0.123
//   - RoundToStep(1.999, 0.01) = 1.99
//   - RoundToStep(100.5, 1) = 100
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	f, _ := v.Div(s).Floor().Mul(s).Float64()
	return f
}

// RoundToTick округляет цену к ближайшему кратному tickSize.
//
// Примеры:
//   - RoundToTick(25000.37, 1) = 25000
//   - RoundToTick(1.23456, 0.001) = 1.235
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	f, _ := p.Div(t).Round(0).Mul(t).Float64()
	return f
}

// DecimalPlaces возвращает количество знаков после запятой у шага (0.001 -> 3, 1 -> 0)
func DecimalPlaces(increment float64) int {
	if increment <= 0 {
		return 0
	}
	s := strconv.FormatFloat(increment, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// FormatToIncrement форматирует число с точностью шага, как ожидает API биржи.
//
// Примеры:
//   - FormatToIncrement(25000.37, 1) = "25000"
//   - FormatToIncrement(0.12345, 0.001) = "0.123"
func FormatToIncrement(value, increment float64) string {
	places := int32(DecimalPlaces(increment))
	return decimal.NewFromFloat(value).Truncate(places).StringFixed(places)
}

// ApplySlippage сдвигает цену в сторону, повышающую вероятность исполнения:
// покупка дороже, продажа дешевле.
func ApplySlippage(price, pct float64, buy bool) float64 {
	p := decimal.NewFromFloat(price)
	k := decimal.NewFromFloat(pct)
	if buy {
		f, _ := p.Mul(decimal.NewFromInt(1).Add(k)).Float64()
		return f
	}
	f, _ := p.Mul(decimal.NewFromInt(1).Sub(k)).Float64()
	return f
}

// NotionalUSD стоимость позиции в долларах
func NotionalUSD(size, price float64) float64 {
	f, _ := decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(price)).Float64()
	return f
}

// IsFinite false для NaN и ±Inf
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// SameAmount сравнивает объёмы из строк как десятичные числа ("0.010" == "0.01").
// Нечисловые строки сравниваются как есть.
func SameAmount(a, b string) bool {
	da, errA := decimal.NewFromString(strings.TrimSpace(a))
	db, errB := decimal.NewFromString(strings.TrimSpace(b))
	if errA != nil || errB != nil {
		return a == b
	}
	return da.Equal(db)
}

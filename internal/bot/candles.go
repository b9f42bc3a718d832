package bot

import (
	"context"
	"fmt"

	"statarb/internal/exchange"
	"statarb/pkg/ratelimit"
)

// fetchPairCloses последние цены закрытия обеих ног, выровненные по времени свечи.
// Свечи, которых нет у одного из рынков, отбрасываются.
func fetchPairCloses(ctx context.Context, data exchange.MarketData, pacer *ratelimit.Pacer, resolution, base, quote string) ([]float64, []float64, error) {
	if err := pacer.Wait(ctx); err != nil {
		return nil, nil, err
	}
	baseCandles, err := data.GetRecentCandles(ctx, base, resolution)
	if err != nil {
		return nil, nil, fmt.Errorf("candles %s: %w", base, err)
	}

	if err := pacer.Wait(ctx); err != nil {
		return nil, nil, err
	}
	quoteCandles, err := data.GetRecentCandles(ctx, quote, resolution)
	if err != nil {
		return nil, nil, fmt.Errorf("candles %s: %w", quote, err)
	}

	b, q := alignCandles(baseCandles, quoteCandles)
	return b, q, nil
}

// alignCandles внутреннее объединение двух рядов свечей по StartedAt (порядок по возрастанию сохраняется)
func alignCandles(a, b []exchange.Candle) ([]float64, []float64) {
	byTime := make(map[int64]float64, len(b))
	for _, c := range b {
		byTime[c.StartedAt.Unix()] = c.Close
	}

	outA := make([]float64, 0, len(a))
	outB := make([]float64, 0, len(a))
	for _, c := range a {
		if q, ok := byTime[c.StartedAt.Unix()]; ok {
			outA = append(outA, c.Close)
			outB = append(outB, q)
		}
	}
	return outA, outB
}

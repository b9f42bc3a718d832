package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"statarb/internal/config"
	"statarb/internal/exchange"
	"statarb/internal/models"
	"statarb/internal/stats"
	"statarb/pkg/ratelimit"
	"statarb/pkg/utils"
)

// CandidateWriter хранилище результата скринера (файл заменяется целиком)
type CandidateWriter interface {
	Replace(pairs []models.CointegratedPair) error
}

// ============================================================
// Screener - поиск коинтегрированных пар
// ============================================================
//
// Для каждой неупорядоченной пары рынков (i < j):
// - тест Энгла-Грейнджера (t, p, критическое значение 5%)
// - OLS base = hr*quote + c, вырожденная регрессия даёт hr = 1
// - half-life спреда
// - отбор: p < PVALUE_THRESH, t < crit5, 0 < half_life <= MAX_HALF_LIFE
//
// Результат полностью заменяет прежний список кандидатов.
type Screener struct {
	cfg   config.StrategyConfig
	data  exchange.MarketData
	store CandidateWriter
	pacer *ratelimit.Pacer
	log   *utils.Logger
	now   func() time.Time
}

// NewScreener создаёт скринер
func NewScreener(cfg config.StrategyConfig, data exchange.MarketData, store CandidateWriter, pacer *ratelimit.Pacer) *Screener {
	return &Screener{
		cfg:   cfg,
		data:  data,
		store: store,
		pacer: pacer,
		log:   utils.L().WithComponent("screener"),
		now:   time.Now,
	}
}

// Accept правило отбора пары. Все три условия обязательны.
func Accept(res stats.CointResult, halfLife, maxHalfLife, pThresh float64) bool {
	if !(res.PValue < pThresh) {
		return false
	}
	if !(res.TStat < res.Crit5) {
		return false
	}
	return halfLife > 0 && halfLife <= maxHalfLife
}

// TestPair проверяет одну пару рядов.
// Ошибка - это ошибка данных (короткий ряд, вырожденная регрессия): пара пропускается.
func (s *Screener) TestPair(baseMarket, quoteMarket string, base, quote []float64) (models.CointegratedPair, bool, error) {
	pair := models.CointegratedPair{BaseMarket: baseMarket, QuoteMarket: quoteMarket}

	if len(base) <= 1 || len(quote) <= 1 {
		return pair, false, fmt.Errorf("%w: %d/%d observations", stats.ErrInsufficientData, len(base), len(quote))
	}

	coint, err := stats.EngleGranger(base, quote)
	if err != nil {
		return pair, false, err
	}

	hedge, err := stats.FitHedge(base, quote)
	if err != nil {
		return pair, false, err
	}
	if hedge.Degenerate {
		s.log.Debug("degenerate hedge fit, using hedge ratio 1", utils.Pair(pair.Key()))
	}

	spread, err := stats.Spread(base, quote, hedge.HedgeRatio, hedge.Intercept)
	if err != nil {
		return pair, false, err
	}

	halfLife, err := stats.HalfLife(spread)
	if err != nil {
		return pair, false, err
	}

	pair.HedgeRatio = hedge.HedgeRatio
	pair.Intercept = hedge.Intercept
	pair.HalfLife = halfLife
	pair.TStat = coint.TStat
	pair.PValue = coint.PValue
	pair.CritValue = coint.Crit5

	return pair, Accept(coint, halfLife, s.cfg.MaxHalfLife, s.cfg.PValueThresh), nil
}

// Screen перебирает пары i < j матрицы цен
func (s *Screener) Screen(matrix models.PriceMatrix) []models.CointegratedPair {
	var out []models.CointegratedPair
	now := s.now().UTC()

	for i := 0; i < len(matrix.Markets); i++ {
		for j := i + 1; j < len(matrix.Markets); j++ {
			baseMarket, quoteMarket := matrix.Markets[i], matrix.Markets[j]

			pair, ok, err := s.TestPair(baseMarket, quoteMarket, matrix.Series(baseMarket), matrix.Series(quoteMarket))
			if err != nil {
				s.log.Debug("pair skipped", utils.Pair(models.PairKey(baseMarket, quoteMarket)), utils.Err(err))
				continue
			}
			if !ok {
				continue
			}

			pair.DiscoveredAt = now
			out = append(out, pair)
		}
	}
	return out
}

// BuildPriceMatrix загружает историю по всем активным рынкам:
// HISTORY_WINDOWS окон по HISTORY_BARS свечей, объединение по времени,
// рынки с пропусками отбрасываются.
func (s *Screener) BuildPriceMatrix(ctx context.Context) (models.PriceMatrix, error) {
	candle, err := utils.ResolutionDuration(s.cfg.Resolution)
	if err != nil {
		return models.PriceMatrix{}, err
	}

	if err := s.pacer.Wait(ctx); err != nil {
		return models.PriceMatrix{}, err
	}
	markets, err := s.data.GetMarkets(ctx)
	if err != nil {
		return models.PriceMatrix{}, fmt.Errorf("get markets: %w", err)
	}

	ignored := make(map[string]bool, len(s.cfg.IgnoreMarkets))
	for _, m := range s.cfg.IgnoreMarkets {
		ignored[m] = true
	}

	tickers := make([]string, 0, len(markets))
	for ticker, m := range markets {
		if m.Active() && !ignored[ticker] {
			tickers = append(tickers, ticker)
		}
	}
	sort.Strings(tickers)

	ranges := utils.HistoryRanges(s.now(), candle, s.cfg.HistoryWindows, s.cfg.HistoryBars)

	raw := make(map[string]map[int64]float64, len(tickers))
	index := make(map[int64]struct{})

	for _, ticker := range tickers {
		closes := make(map[int64]float64)
		var fetchErr error
		for _, r := range ranges {
			if err := s.pacer.Wait(ctx); err != nil {
				return models.PriceMatrix{}, err
			}
			candles, err := s.data.GetHistoricalCandles(ctx, ticker, s.cfg.Resolution, r.Start, r.End)
			if err != nil {
				fetchErr = err
				break
			}
			for _, c := range candles {
				closes[c.StartedAt.Unix()] = c.Close
			}
		}
		if ctx.Err() != nil {
			return models.PriceMatrix{}, ctx.Err()
		}
		if fetchErr != nil {
			s.log.Warn("history unavailable, market skipped", utils.Market(ticker), utils.Err(fetchErr))
			continue
		}
		if len(closes) == 0 {
			continue
		}
		raw[ticker] = closes
		for ts := range closes {
			index[ts] = struct{}{}
		}
	}

	return alignCloses(raw, index), nil
}

// alignCloses внешнее объединение по времени; рынок с хотя бы одним пропуском выбрасывается
func alignCloses(raw map[string]map[int64]float64, index map[int64]struct{}) models.PriceMatrix {
	matrix := models.PriceMatrix{Closes: make(map[string][]float64)}

	matrix.Index = make([]int64, 0, len(index))
	for ts := range index {
		matrix.Index = append(matrix.Index, ts)
	}
	sort.Slice(matrix.Index, func(i, j int) bool { return matrix.Index[i] < matrix.Index[j] })

	tickers := make([]string, 0, len(raw))
	for t := range raw {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		closes := raw[ticker]
		if len(closes) != len(matrix.Index) {
			continue
		}
		series := make([]float64, len(matrix.Index))
		for i, ts := range matrix.Index {
			series[i] = closes[ts]
		}
		matrix.Markets = append(matrix.Markets, ticker)
		matrix.Closes[ticker] = series
	}
	return matrix
}

// Run полный прогон: история, отбор, замена списка кандидатов
func (s *Screener) Run(ctx context.Context) ([]models.CointegratedPair, error) {
	start := time.Now()

	matrix, err := s.BuildPriceMatrix(ctx)
	if err != nil {
		return nil, err
	}
	if len(matrix.Markets) < 2 {
		return nil, errors.New("not enough markets with complete history to screen")
	}

	pairs := s.Screen(matrix)
	if err := s.store.Replace(pairs); err != nil {
		return nil, fmt.Errorf("replace candidates: %w", err)
	}
	CandidatePairs.Set(float64(len(pairs)))

	s.log.Info("screening completed",
		utils.Int("markets", len(matrix.Markets)),
		utils.Int("bars", matrix.Len()),
		utils.Int("pairs", len(pairs)),
		utils.Since(start),
	)
	return pairs, nil
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"statarb/internal/config"
	"statarb/internal/exchange"
	"statarb/internal/models"
	"statarb/internal/repository"
	"statarb/pkg/ratelimit"
	"statarb/pkg/utils"
)

// CandidateSource источник кандидатов, найденных скринером
type CandidateSource interface {
	Load() ([]models.CointegratedPair, error)
}

// EntryStats итоги одного прохода по кандидатам
type EntryStats struct {
	Evaluated int
	Signals   int
	Opened    int
	Skipped   int
	Failed    int
}

// EntryScanner - фаза входа
//
// Для каждого кандидата: свежие свечи, z-score, сигнал, попытка открыть пару.
// Открытая пара сразу дописывается в журнал, чтобы следующий кандидат
// видел её рынки занятыми.
type EntryScanner struct {
	cfg        config.StrategyConfig
	data       exchange.MarketData
	candidates CandidateSource
	ledger     repository.LedgerRepository
	agent      *PairAgent
	pacer      *ratelimit.Pacer
	log        *utils.Logger
}

// NewEntryScanner создаёт фазу входа
func NewEntryScanner(cfg config.StrategyConfig, data exchange.MarketData, candidates CandidateSource, ledger repository.LedgerRepository, agent *PairAgent, pacer *ratelimit.Pacer) *EntryScanner {
	return &EntryScanner{
		cfg:        cfg,
		data:       data,
		candidates: candidates,
		ledger:     ledger,
		agent:      agent,
		pacer:      pacer,
		log:        utils.L().WithComponent("entries"),
	}
}

// Scan проходит по всем кандидатам.
// Возвращает ошибку только для фатальных ситуаций: FatalUnwindError,
// отмена контекста, недоступный журнал. Всё остальное - пропуск пары.
func (e *EntryScanner) Scan(ctx context.Context) (EntryStats, error) {
	var st EntryStats
	start := time.Now()

	pairs, err := e.candidates.Load()
	if err != nil {
		return st, fmt.Errorf("load candidates: %w", err)
	}
	if len(pairs) == 0 {
		e.log.Info("no candidate pairs, run screening first")
		return st, nil
	}

	ignored := make(map[string]bool, len(e.cfg.IgnoreMarkets))
	for _, m := range e.cfg.IgnoreMarkets {
		ignored[m] = true
	}

	for _, pair := range pairs {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		log := e.log.WithPair(pair.Key())

		if ignored[pair.BaseMarket] || ignored[pair.QuoteMarket] {
			st.Skipped++
			continue
		}

		records, err := e.ledger.Load()
		if err != nil {
			return st, fmt.Errorf("load ledger: %w", err)
		}
		// дешёвая проверка по журналу; полная (с биржей) - в агенте
		if repository.IsMarketOpen(records, nil, pair.BaseMarket) || repository.IsMarketOpen(records, nil, pair.QuoteMarket) {
			st.Skipped++
			continue
		}

		st.Evaluated++
		base, quote, err := fetchPairCloses(ctx, e.data, e.pacer, e.cfg.Resolution, pair.BaseMarket, pair.QuoteMarket)
		if err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			log.Warn("candles unavailable, pair skipped", utils.Err(err))
			st.Skipped++
			continue
		}

		sig, triggered := ComputeSignal(pair, base, quote, e.cfg.Window, e.cfg.ZScoreThresh)
		RecordSignal(triggered)
		if !triggered {
			log.Debug("no entry signal", utils.ZScore(sig.ZScore))
			continue
		}
		st.Signals++

		log.Info("entry signal",
			utils.ZScore(sig.ZScore),
			utils.HedgeRatio(pair.HedgeRatio),
			utils.HalfLife(pair.HalfLife),
			utils.String("base_side", string(sig.BaseSide)),
			utils.String("quote_side", string(sig.QuoteSide)))

		res := e.agent.Open(ctx, sig, records)
		RecordOpen(res.State)

		switch {
		case res.Live():
			if err := e.ledger.Append(*res.Record); err != nil {
				// позиция на бирже есть, а в журнале нет: дальше работать нельзя
				return st, fmt.Errorf("persist opened pair %s: %w", pair.Key(), err)
			}
			OpenPairs.Set(float64(len(records) + 1))
			st.Opened++

		case res.Fatal():
			return st, res.Err

		case res.State == StateInit:
			if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
				return st, res.Err
			}
			st.Skipped++
			if errors.Is(res.Err, ErrInsufficientCollateral) {
				log.Warn("insufficient collateral, stopping entries", utils.Err(res.Err))
				return st, nil
			}

		default:
			st.Failed++
			log.Warn("pair open failed", utils.State(string(res.State)), utils.Err(res.Err))
		}
	}

	e.log.Info("entry scan completed",
		utils.Int("candidates", len(pairs)),
		utils.Int("evaluated", st.Evaluated),
		utils.Int("signals", st.Signals),
		utils.Int("opened", st.Opened),
		utils.Int("failed", st.Failed),
		utils.Since(start))
	return st, nil
}

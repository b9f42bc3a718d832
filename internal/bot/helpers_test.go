package bot

import (
	"context"
	"sync"
	"time"

	"statarb/internal/config"
	"statarb/internal/exchange"
	"statarb/internal/models"
	"statarb/pkg/retry"
)

// testStrategy параметры стратегии для тестов
func testStrategy() config.StrategyConfig {
	return config.StrategyConfig{
		Resolution:       "1HOUR",
		Window:           21,
		MaxHalfLife:      24,
		ZScoreThresh:     1.1,
		PValueThresh:     0.05,
		USDPerTrade:      100,
		USDMinCollateral: 50,
		EntrySlippage:    0.01,
		ExitSlippage:     0.05,
		FailsafeSlippage: 0.10,
		MinOrderValueUSD: 1,
		HistoryWindows:   1,
		HistoryBars:      500,
	}
}

// testExecution параметры исполнения без пауз
func testExecution() config.ExecutionConfig {
	return config.ExecutionConfig{
		PollAttempts:    3,
		PollDelay:       0,
		PollBackoff:     1,
		UnwindPollDelay: time.Millisecond,
		PacingDelay:     0,
		LoopInterval:    10 * time.Millisecond,
	}
}

// testPolicies опрос без пауз
func testPolicies() AgentPolicies {
	return AgentPolicies{
		Leg:    retry.Fixed(3, 0),
		Unwind: retry.Unbounded(0),
	}
}

// newTestPaper бумажная биржа с ETH-USD и BTC-USD
func newTestPaper() *exchange.PaperGateway {
	p := exchange.NewPaperGateway(exchange.PaperConfig{Collateral: 1000})
	p.SetMarket(exchange.Market{Ticker: "ETH-USD", Status: exchange.MarketStatusActive, TickSize: 0.1, StepSize: 0.001, OraclePrice: 3500})
	p.SetMarket(exchange.Market{Ticker: "BTC-USD", Status: exchange.MarketStatusActive, TickSize: 1, StepSize: 0.0001, OraclePrice: 65000})
	p.SetMarket(exchange.Market{Ticker: "SOL-USD", Status: exchange.MarketStatusActive, TickSize: 0.01, StepSize: 0.1, OraclePrice: 150})
	return p
}

// testSignal сигнал z=-2: ETH BUY, BTC SELL
func testSignal() models.Signal {
	return models.Signal{
		Pair: models.CointegratedPair{
			BaseMarket:  "ETH-USD",
			QuoteMarket: "BTC-USD",
			HedgeRatio:  0.05,
			HalfLife:    10,
		},
		ZScore:     -2,
		BaseSide:   models.SideBuy,
		QuoteSide:  models.SideSell,
		BasePrice:  3500,
		QuotePrice: 65000,
	}
}

// recordingNotifier запоминает уведомления
type recordingNotifier struct {
	mu   sync.Mutex
	list []*models.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n *models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, n)
}

func (r *recordingNotifier) count(notifType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.list {
		if item.Type == notifType {
			n++
		}
	}
	return n
}

// recordingJournal запоминает ордера
type recordingJournal struct {
	mu      sync.Mutex
	orders  []models.OrderRecord
	updates map[string]string
}

func (r *recordingJournal) RecordOrder(_ context.Context, rec *models.OrderRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, *rec)
}

func (r *recordingJournal) UpdateOrderStatus(_ context.Context, orderID, status, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updates == nil {
		r.updates = make(map[string]string)
	}
	r.updates[orderID] = status
}

// newTestAgent агент поверх бумажной биржи
func newTestAgent(p *exchange.PaperGateway, cfg config.StrategyConfig) (*PairAgent, *recordingNotifier, *recordingJournal) {
	notifier := &recordingNotifier{}
	journal := &recordingJournal{}
	orders := NewOrderExecutor(p, nil, journal)
	return NewPairAgent(cfg, testPolicies(), p, orders, nil, notifier), notifier, journal
}

// reduceOnly ордера с флагом reduce-only
func reduceOnly(placed []exchange.OrderRequest) []exchange.OrderRequest {
	var out []exchange.OrderRequest
	for _, o := range placed {
		if o.ReduceOnly {
			out = append(out, o)
		}
	}
	return out
}

// oscillating ряд из n значений center±amp, затем last
func oscillating(n int, center, amp, last float64) []float64 {
	out := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out = append(out, center+amp)
		} else {
			out = append(out, center-amp)
		}
	}
	return append(out, last)
}

// constant ряд из n одинаковых значений
func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

package bot

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"

	"statarb/internal/exchange"
	"statarb/internal/models"
)

func TestPairAgent_OpensPair(t *testing.T) {
	p := newTestPaper()
	agent, notifier, journal := newTestAgent(p, testStrategy())

	res := agent.Open(context.Background(), testSignal(), nil)
	if res.Err != nil || !res.Live() {
		t.Fatalf("ожидали LIVE, получили %s: %v", res.State, res.Err)
	}

	wantTrail := []AgentState{StateInit, StateLeg1Submitted, StateLeg1Confirmed, StateLeg2Submitted, StateLeg2Confirmed}
	if len(res.Trail) != len(wantTrail) {
		t.Fatalf("путь автомата %v, ожидали %v", res.Trail, wantTrail)
	}
	for i := range wantTrail {
		if res.Trail[i] != wantTrail[i] {
			t.Errorf("шаг %d: %s, ожидали %s", i, res.Trail[i], wantTrail[i])
		}
	}

	rec := res.Record
	if rec.Status != models.StatusLive {
		t.Errorf("статус %s, ожидали LIVE", rec.Status)
	}
	if rec.Market1 != "ETH-USD" || rec.Market2 != "BTC-USD" {
		t.Errorf("рынки %s/%s", rec.Market1, rec.Market2)
	}
	if rec.SideM1 != models.SideBuy || rec.SideM2 != models.SideSell {
		t.Errorf("стороны %s/%s", rec.SideM1, rec.SideM2)
	}
	if rec.SizeM1 != "0.028" || rec.SizeM2 != "0.0015" {
		t.Errorf("объёмы %s/%s", rec.SizeM1, rec.SizeM2)
	}
	if rec.OrderIDM1 == "" || rec.OrderIDM2 == "" || rec.OpenedAtM1 == nil || rec.OpenedAtM2 == nil {
		t.Errorf("не заполнены id или время: %+v", rec)
	}
	if rec.HedgeRatio != 0.05 || rec.ZScoreAtEntry != -2 || rec.HalfLife != 10 {
		t.Errorf("параметры сигнала не сохранены: %+v", rec)
	}

	positions, _ := p.GetOpenPositions(context.Background())
	if positions["ETH-USD"] == nil || positions["ETH-USD"].Side != exchange.PositionLong {
		t.Error("ожидали длинную позицию ETH-USD")
	}
	if positions["BTC-USD"] == nil || positions["BTC-USD"].Side != exchange.PositionShort {
		t.Error("ожидали короткую позицию BTC-USD")
	}

	if notifier.count(models.NotificationTypeOpen) != 1 {
		t.Error("ожидали уведомление OPEN")
	}
	if len(journal.orders) != 2 || journal.orders[0].Purpose != models.PurposeEntryLeg1 || journal.orders[1].Purpose != models.PurposeEntryLeg2 {
		t.Errorf("журнал ордеров: %+v", journal.orders)
	}
	if journal.updates[rec.OrderIDM1] != models.OrderStatusFilled {
		t.Error("исполнение первой ноги не записано в журнал")
	}
}

// Рынок, уже занятый в журнале или на бирже, блокирует вход до первого ордера
func TestPairAgent_MarketAlreadyOpen(t *testing.T) {
	liveOn := func(m1, m2 string, status models.PositionStatus) []models.PositionRecord {
		return []models.PositionRecord{{Market1: m1, Market2: m2, Status: status}}
	}

	tests := []struct {
		name     string
		records  []models.PositionRecord
		position string
		blocked  bool
	}{
		{"base LIVE in ledger", liveOn("ETH-USD", "SOL-USD", models.StatusLive), "", true},
		{"quote LIVE in ledger as second leg", liveOn("SOL-USD", "BTC-USD", models.StatusLive), "", true},
		{"half closed pair still holds market", liveOn("ETH-USD", "SOL-USD", models.StatusClosing), "", true},
		{"position only on exchange", nil, "BTC-USD", true},
		{"failed record does not hold market", liveOn("ETH-USD", "SOL-USD", models.StatusFailed), "", false},
		{"unrelated markets", liveOn("SOL-USD", "DOGE-USD", models.StatusLive), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPaper()
			if tt.position != "" {
				p.SetPosition(tt.position, 0.01, 65000)
			}
			agent, _, _ := newTestAgent(p, testStrategy())

			res := agent.Open(context.Background(), testSignal(), tt.records)

			if !tt.blocked {
				if !res.Live() {
					t.Errorf("ожидали открытие, получили %s: %v", res.State, res.Err)
				}
				return
			}
			if !errors.Is(res.Err, ErrMarketAlreadyOpen) {
				t.Errorf("ожидали ErrMarketAlreadyOpen, получили %v", res.Err)
			}
			if res.State != StateInit {
				t.Errorf("состояние %s, ожидали INIT", res.State)
			}
			if n := len(p.Placed()); n != 0 {
				t.Errorf("не должно быть ни одного ордера, отправлено %d", n)
			}
		})
	}
}

func TestPairAgent_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *exchange.PaperGateway)
		minUSD  float64
		wantErr error
	}{
		{
			name:    "insufficient collateral",
			setup:   func(p *exchange.PaperGateway) { p.SetCollateral(10) },
			wantErr: ErrInsufficientCollateral,
		},
		{
			name:    "below venue minimum",
			setup:   func(*exchange.PaperGateway) {},
			minUSD:  1000,
			wantErr: ErrBelowMinOrderValue,
		},
		{
			name: "inactive market",
			setup: func(p *exchange.PaperGateway) {
				p.SetMarket(exchange.Market{Ticker: "BTC-USD", Status: "FINAL_SETTLEMENT", TickSize: 1, StepSize: 0.0001, OraclePrice: 65000})
			},
			wantErr: ErrMarketUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPaper()
			tt.setup(p)
			cfg := testStrategy()
			if tt.minUSD > 0 {
				cfg.MinOrderValueUSD = tt.minUSD
			}
			agent, _, _ := newTestAgent(p, cfg)

			res := agent.Open(context.Background(), testSignal(), nil)
			if !errors.Is(res.Err, tt.wantErr) {
				t.Errorf("ожидали %v, получили %v", tt.wantErr, res.Err)
			}
			if res.State != StateInit || res.Record != nil {
				t.Errorf("ожидали INIT без записи, получили %s", res.State)
			}
			if len(p.Placed()) != 0 {
				t.Error("ордера не должны отправляться")
			}
		})
	}
}

func TestPairAgent_Leg1Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *exchange.PaperGateway)
		wantErr error
	}{
		{
			name: "rejected by venue",
			setup: func(p *exchange.PaperGateway) {
				p.SetPlaceHook(func(req exchange.OrderRequest) error {
					return errors.New("insufficient margin")
				})
			},
			wantErr: exchange.ErrOrderRejected,
		},
		{
			name:    "canceled by venue",
			setup:   func(p *exchange.PaperGateway) { p.ScriptStatuses("ETH-USD", models.OrderStatusCanceled) },
			wantErr: ErrLegCanceled,
		},
		{
			name:    "never filled",
			setup:   func(p *exchange.PaperGateway) { p.ScriptStatuses("ETH-USD", models.OrderStatusOpen) },
			wantErr: ErrLegNotFilled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPaper()
			tt.setup(p)
			agent, notifier, _ := newTestAgent(p, testStrategy())
			ctx := context.Background()

			res := agent.Open(ctx, testSignal(), nil)
			if res.State != StateLeg1Failed {
				t.Fatalf("ожидали LEG1_FAILED, получили %s", res.State)
			}
			if !errors.Is(res.Err, tt.wantErr) {
				t.Errorf("ожидали %v, получили %v", tt.wantErr, res.Err)
			}
			// запись возвращается со статусом FAILED, в журнал позиций не идёт
			if res.Record == nil || res.Record.Status != models.StatusFailed || res.Record.Comments == "" {
				t.Errorf("ожидали запись FAILED с комментарием, получили %+v", res.Record)
			}
			if res.Live() {
				t.Error("неоткрытая пара не может быть LIVE")
			}

			placed := p.Placed()
			if len(placed) != 1 || placed[0].Market != "ETH-USD" {
				t.Errorf("ожидали только ордер первой ноги, получили %+v", placed)
			}
			if len(reduceOnly(placed)) != 0 {
				t.Error("откат при отказе первой ноги не нужен")
			}

			// неисполненный ордер снят с биржи
			open, _ := p.GetOpenOrders(ctx)
			if len(open) != 0 {
				t.Errorf("остались открытые ордера: %d", len(open))
			}
			positions, _ := p.GetOpenPositions(ctx)
			if len(positions) != 0 {
				t.Errorf("позиций быть не должно: %v", positions)
			}
			if notifier.count(models.NotificationTypeLegFail) != 1 {
				t.Error("ожидали уведомление LEG_FAIL")
			}
		})
	}
}

// Отказ второй ноги всегда даёт ровно один откат первой:
// противоположная сторона, reduce-only, исходный объём
func TestPairAgent_Leg2FailureUnwindsLeg1(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *exchange.PaperGateway)
	}{
		{"canceled", func(p *exchange.PaperGateway) { p.ScriptStatuses("BTC-USD", models.OrderStatusCanceled) }},
		{"never filled", func(p *exchange.PaperGateway) { p.ScriptStatuses("BTC-USD", models.OrderStatusPending) }},
		{"rejected", func(p *exchange.PaperGateway) {
			p.SetPlaceHook(func(req exchange.OrderRequest) error {
				if req.Market == "BTC-USD" {
					return errors.New("insufficient margin")
				}
				return nil
			})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPaper()
			tt.setup(p)
			agent, notifier, journal := newTestAgent(p, testStrategy())
			ctx := context.Background()

			res := agent.Open(ctx, testSignal(), nil)
			if res.State != StateUnwound {
				t.Fatalf("ожидали UNWOUND, получили %s: %v", res.State, res.Err)
			}
			if res.Err == nil || res.Record == nil || res.Record.Status != models.StatusFailed {
				t.Errorf("пара не открыта: ожидали запись FAILED и ошибку, получили %+v, %v", res.Record, res.Err)
			}

			unwinds := reduceOnly(p.Placed())
			if len(unwinds) != 1 {
				t.Fatalf("ожидали ровно один откат, получили %d", len(unwinds))
			}
			u := unwinds[0]
			if u.Market != "ETH-USD" || u.Side != models.SideSell || u.Size != "0.028" {
				t.Errorf("откат %s %s %s, ожидали SELL 0.028 ETH-USD", u.Side, u.Size, u.Market)
			}
			// failsafe от оракула: 3500 * 0.9
			if price, _ := strconv.ParseFloat(u.Price, 64); price != 3150 {
				t.Errorf("цена отката %s, ожидали 3150", u.Price)
			}

			positions, _ := p.GetOpenPositions(ctx)
			if _, ok := positions["ETH-USD"]; ok {
				t.Error("первая нога должна быть закрыта")
			}
			if notifier.count(models.NotificationTypeUnwind) != 1 {
				t.Error("ожидали уведомление UNWIND")
			}

			var unwindJournal int
			for _, o := range journal.orders {
				if o.Purpose == models.PurposeUnwind {
					unwindJournal++
				}
			}
			if unwindJournal != 1 {
				t.Errorf("в журнале %d ордеров отката", unwindJournal)
			}
		})
	}
}

func TestPairAgent_UnwindFailureIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *exchange.PaperGateway)
	}{
		{"unwind canceled", func(p *exchange.PaperGateway) {
			p.ScriptStatuses("BTC-USD", models.OrderStatusCanceled)
			p.ScriptStatuses("ETH-USD", "", models.OrderStatusCanceled)
		}},
		{"unwind rejected", func(p *exchange.PaperGateway) {
			p.ScriptStatuses("BTC-USD", models.OrderStatusCanceled)
			p.SetPlaceHook(func(req exchange.OrderRequest) error {
				if req.ReduceOnly {
					return errors.New("venue halted")
				}
				return nil
			})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPaper()
			tt.setup(p)
			agent, notifier, _ := newTestAgent(p, testStrategy())

			res := agent.Open(context.Background(), testSignal(), nil)
			if res.State != StateAbort || !res.Fatal() {
				t.Fatalf("ожидали ABORT, получили %s", res.State)
			}
			if res.Record == nil || res.Record.Status != models.StatusError || res.Record.Comments == "" {
				t.Errorf("ожидали запись ERROR с комментарием, получили %+v", res.Record)
			}

			var fatal *FatalUnwindError
			if !errors.As(res.Err, &fatal) {
				t.Fatalf("ожидали FatalUnwindError, получили %v", res.Err)
			}
			if fatal.Market != "ETH-USD" || fatal.Side != models.SideSell || fatal.Size != "0.028" {
				t.Errorf("ошибка отката: %+v", fatal)
			}
			if !IsFatal(res.Err) {
				t.Error("IsFatal должен распознать ошибку")
			}
			if notifier.count(models.NotificationTypeAbort) != 1 {
				t.Error("уведомление ABORT должно уйти до остановки")
			}
			if n := len(reduceOnly(p.Placed())); n != 1 {
				t.Errorf("ожидали одну попытку отката, получили %d", n)
			}
		})
	}
}

// Отмена контекста во время опроса второй ноги не бросает первую ногу:
// ордер второй ноги снимается, первая откатывается
func TestPairAgent_CancelDuringLeg2Unwinds(t *testing.T) {
	p := newTestPaper()
	p.ScriptStatuses("BTC-USD", models.OrderStatusPending)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.SetStatusHook(func(orderID string) (string, error) {
		if len(p.Placed()) >= 2 {
			cancel()
		}
		return "", nil
	})
	agent, notifier, _ := newTestAgent(p, testStrategy())

	res := agent.Open(ctx, testSignal(), nil)
	if ctx.Err() == nil {
		t.Fatal("контекст должен быть отменён во время второй ноги")
	}
	if res.State != StateUnwound {
		t.Fatalf("ожидали UNWOUND, получили %s: %v", res.State, res.Err)
	}
	if res.Record == nil || res.Record.Status != models.StatusFailed {
		t.Errorf("ожидали запись FAILED, получили %+v", res.Record)
	}

	placed := p.Placed()
	unwinds := reduceOnly(placed)
	if len(unwinds) != 1 || unwinds[0].Market != "ETH-USD" || unwinds[0].Side != models.SideSell || unwinds[0].Size != "0.028" {
		t.Fatalf("ожидали один откат SELL 0.028 ETH-USD, получили %+v", unwinds)
	}

	bg := context.Background()
	positions, _ := p.GetOpenPositions(bg)
	if len(positions) != 0 {
		t.Errorf("позиций быть не должно: %v", positions)
	}
	open, _ := p.GetOpenOrders(bg)
	if len(open) != 0 {
		t.Errorf("ордер второй ноги должен быть снят, открытых %d", len(open))
	}
	if notifier.count(models.NotificationTypeUnwind) != 1 {
		t.Error("ожидали уведомление UNWIND")
	}
}

// Ордер без ответа биржи ищется по client id до того, как нога признаётся неудачной
func TestPairAgent_UnresolvedPlacement(t *testing.T) {
	t.Run("leg 1 reached the book", func(t *testing.T) {
		p := newTestPaper()
		p.LoseNextPlacement("ETH-USD", true)
		agent, _, _ := newTestAgent(p, testStrategy())

		res := agent.Open(context.Background(), testSignal(), nil)
		if !res.Live() {
			t.Fatalf("ожидали LIVE, получили %s: %v", res.State, res.Err)
		}
		if res.Record.OrderIDM1 == "" {
			t.Error("id найденного ордера должен попасть в запись")
		}
		if len(p.Placed()) != 2 {
			t.Errorf("ордеров %d, повторной отправки быть не должно", len(p.Placed()))
		}
	})

	t.Run("leg 1 never reached the book", func(t *testing.T) {
		p := newTestPaper()
		p.LoseNextPlacement("ETH-USD", false)
		agent, notifier, _ := newTestAgent(p, testStrategy())

		res := agent.Open(context.Background(), testSignal(), nil)
		if res.State != StateLeg1Failed {
			t.Fatalf("ожидали LEG1_FAILED, получили %s", res.State)
		}
		if !errors.Is(res.Err, exchange.ErrOrderUnresolved) {
			t.Errorf("ожидали ErrOrderUnresolved, получили %v", res.Err)
		}
		positions, _ := p.GetOpenPositions(context.Background())
		if len(positions) != 0 {
			t.Errorf("позиций быть не должно: %v", positions)
		}
		if notifier.count(models.NotificationTypeLegFail) != 1 {
			t.Error("ожидали уведомление LEG_FAIL")
		}
	})

	t.Run("leg 2 reached the book", func(t *testing.T) {
		p := newTestPaper()
		p.LoseNextPlacement("BTC-USD", true)
		agent, _, _ := newTestAgent(p, testStrategy())

		res := agent.Open(context.Background(), testSignal(), nil)
		if !res.Live() {
			t.Fatalf("ожидали LIVE, получили %s: %v", res.State, res.Err)
		}
		if len(reduceOnly(p.Placed())) != 0 {
			t.Error("исполненная вторая нога не откатывает первую")
		}
	})
}

// Ошибка запроса статуса - UNKNOWN, опрос продолжается
func TestPairAgent_StatusErrorsAreRetried(t *testing.T) {
	p := newTestPaper()
	var calls int32
	p.SetStatusHook(func(orderID string) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", errors.New("indexer timeout")
		}
		return "", nil
	})
	agent, _, _ := newTestAgent(p, testStrategy())

	res := agent.Open(context.Background(), testSignal(), nil)
	if !res.Live() {
		t.Fatalf("ожидали LIVE, получили %s: %v", res.State, res.Err)
	}
	if atomic.LoadInt32(&calls) < 3 {
		t.Errorf("ожидали повторный опрос, вызовов %d", calls)
	}
}

func TestPoliciesFrom(t *testing.T) {
	cfg := testExecution()
	p := PoliciesFrom(cfg)

	if p.Leg.MaxAttempts != 3 || p.Leg.Delay != cfg.PollDelay || p.Leg.Backoff != 1 {
		t.Errorf("политика ноги: %+v", p.Leg)
	}
	if p.Unwind.Bounded() {
		t.Error("опрос отката не ограничен по попыткам")
	}
}

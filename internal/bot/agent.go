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
	"statarb/pkg/retry"
	"statarb/pkg/utils"
)

var (
	// ErrMarketAlreadyOpen одна из ног уже торгуется (журнал или биржа)
	ErrMarketAlreadyOpen = errors.New("market already has an open position")

	// ErrInsufficientCollateral свободного залога меньше USD_MIN_COLLATERAL
	ErrInsufficientCollateral = errors.New("insufficient free collateral")

	// ErrMarketUnavailable рынок не найден или не ACTIVE
	ErrMarketUnavailable = errors.New("market unavailable")
)

// FatalUnwindError откат первой ноги не удался: на бирже осталась
// незахеджированная позиция. Процесс должен остановиться после уведомления.
type FatalUnwindError struct {
	Pair    string
	Market  string
	Side    models.Side
	Size    string
	OrderID string
	Status  string
	Err     error
}

func (e *FatalUnwindError) Error() string {
	return fmt.Sprintf("unwind failed for %s: %s %s %s (order %q, status %s): %v",
		e.Pair, e.Side, e.Size, e.Market, e.OrderID, e.Status, e.Err)
}

func (e *FatalUnwindError) Unwrap() error {
	return e.Err
}

// IsFatal true если в цепочке ошибок есть FatalUnwindError
func IsFatal(err error) bool {
	var fatal *FatalUnwindError
	return errors.As(err, &fatal)
}

// OpenResult итог попытки открыть пару.
//
// Record равен nil, пока не отправлен ни один ордер. После первой ноги он есть всегда:
// LIVE при LEG2_CONFIRMED, FAILED при LEG1_FAILED и UNWOUND, ERROR при ABORT.
// В журнал позиций попадает только LIVE.
type OpenResult struct {
	Record *models.PositionRecord
	State  AgentState
	Trail  []AgentState
	Err    error
}

// Live true если обе ноги исполнены
func (r OpenResult) Live() bool {
	return r.State == StateLeg2Confirmed && r.Record != nil
}

// Fatal true если нужно остановить процесс
func (r OpenResult) Fatal() bool {
	return r.State == StateAbort
}

// AgentPolicies политики опроса статусов
type AgentPolicies struct {
	// Leg - подтверждение ноги: ограниченное число попыток
	Leg retry.Policy
	// Unwind - подтверждение отката: без потолка попыток
	Unwind retry.Policy
}

// PoliciesFrom строит политики из конфигурации исполнения
func PoliciesFrom(cfg config.ExecutionConfig) AgentPolicies {
	leg := retry.Fixed(cfg.PollAttempts, cfg.PollDelay)
	leg.Backoff = cfg.PollBackoff
	return AgentPolicies{
		Leg:    leg,
		Unwind: retry.Unbounded(cfg.UnwindPollDelay),
	}
}

// PairAgent - автомат открытия одной пары
//
// INIT → LEG1_SUBMITTED → LEG1_CONFIRMED → LEG2_SUBMITTED → LEG2_CONFIRMED
// с ответвлениями LEG1_FAILED и LEG2_FAILED → UNWINDING → UNWOUND | ABORT.
//
// Агент не пишет журнал позиций: запись возвращается в OpenResult,
// сохраняет её вызывающий.
type PairAgent struct {
	cfg      config.StrategyConfig
	policies AgentPolicies
	gw       exchange.Gateway
	orders   *OrderExecutor
	pacer    *ratelimit.Pacer
	notifier Notifier
	log      *utils.Logger
	now      func() time.Time
}

// NewPairAgent создаёт агента
func NewPairAgent(cfg config.StrategyConfig, policies AgentPolicies, gw exchange.Gateway, orders *OrderExecutor, pacer *ratelimit.Pacer, notifier Notifier) *PairAgent {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &PairAgent{
		cfg:      cfg,
		policies: policies,
		gw:       gw,
		orders:   orders,
		pacer:    pacer,
		notifier: notifier,
		log:      utils.L().WithComponent("agent"),
		now:      time.Now,
	}
}

// agentRun состояние одной попытки
type agentRun struct {
	pair  string
	state AgentState
	trail []AgentState
	log   *utils.Logger
}

func (r *agentRun) to(next AgentState) {
	if !CanTransition(r.state, next) {
		// переходы жёстко заданы кодом ниже, сюда попадаем только при ошибке программиста
		panic(fmt.Sprintf("invalid agent transition %s -> %s for %s", r.state, next, r.pair))
	}
	r.log.Debug("agent transition",
		utils.String("from", string(r.state)),
		utils.State(string(next)),
		utils.String("info", StateInfo(next)),
		utils.Bool("terminal", IsTerminal(next)),
	)
	r.state = next
	r.trail = append(r.trail, next)
}

func (r *agentRun) result(rec *models.PositionRecord, err error) OpenResult {
	return OpenResult{Record: rec, State: r.state, Trail: r.trail, Err: err}
}

// Open пытается открыть пару по сигналу.
//
// records - текущий журнал позиций: вместе с позициями биржи он
// определяет, свободны ли рынки. Проверки выполняются до первого ордера.
func (a *PairAgent) Open(ctx context.Context, sig models.Signal, records []models.PositionRecord) OpenResult {
	key := sig.Pair.Key()
	run := &agentRun{
		pair:  key,
		state: StateInit,
		trail: []AgentState{StateInit},
		log:   a.log.WithPair(key),
	}

	leg1, leg2, err := a.preconditions(ctx, sig, records)
	if err != nil {
		run.log.Info("pair open skipped", utils.Err(err))
		return run.result(nil, err)
	}
	if err := ctx.Err(); err != nil {
		return run.result(nil, err)
	}

	// с первой ноги пара доводится до LIVE, UNWOUND или ABORT без оглядки на отмену:
	// брошенная на полпути пара оставляет на бирже незахеджированную позицию
	ctx = context.WithoutCancel(ctx)

	rec := &models.PositionRecord{
		Market1:       leg1.Market,
		Market2:       leg2.Market,
		HedgeRatio:    sig.Pair.HedgeRatio,
		ZScoreAtEntry: sig.ZScore,
		HalfLife:      sig.Pair.HalfLife,
		SizeM1:        leg1.SizeStr,
		SizeM2:        leg2.SizeStr,
		SideM1:        leg1.Side,
		SideM2:        leg2.Side,
		Status:        models.StatusPending,
	}

	// ===== Нога 1 =====
	res1, err := a.orders.Submit(ctx, key, models.PurposeEntryLeg1, leg1, false)
	if err != nil {
		run.to(StateLeg1Failed)
		a.notifyLegFail(ctx, key, leg1, "", err)
		return run.result(failed(rec, models.StatusFailed, "leg 1 not placed", err), err)
	}
	run.to(StateLeg1Submitted)
	rec.OrderIDM1 = res1.OrderID

	if err := a.confirmLeg(ctx, res1.OrderID, models.PurposeEntryLeg1); err != nil {
		run.to(StateLeg1Failed)
		a.notifyLegFail(ctx, key, leg1, res1.OrderID, err)
		return run.result(failed(rec, models.StatusFailed, "leg 1 not filled", err), err)
	}
	run.to(StateLeg1Confirmed)
	opened1 := a.now().UTC()
	rec.OpenedAtM1 = &opened1

	// ===== Нога 2 =====
	res2, err := a.orders.Submit(ctx, key, models.PurposeEntryLeg2, leg2, false)
	if err == nil {
		run.to(StateLeg2Submitted)
		rec.OrderIDM2 = res2.OrderID
		// неисполненный ордер второй ноги снимается здесь же, до отката первой
		err = a.confirmLeg(ctx, res2.OrderID, models.PurposeEntryLeg2)
	}
	if err != nil {
		orderID := ""
		if res2 != nil {
			orderID = res2.OrderID
		}
		run.to(StateLeg2Failed)
		a.notifyLegFail(ctx, key, leg2, orderID, err)
		return a.unwind(ctx, run, rec, leg1, err)
	}
	run.to(StateLeg2Confirmed)
	opened2 := a.now().UTC()
	rec.OpenedAtM2 = &opened2
	rec.Status = models.StatusLive

	run.log.Info("pair opened",
		utils.ZScore(sig.ZScore),
		utils.HedgeRatio(sig.Pair.HedgeRatio),
		utils.HalfLife(sig.Pair.HalfLife),
		utils.String("leg1", fmt.Sprintf("%s %s %s", leg1.Side, leg1.SizeStr, leg1.Market)),
		utils.String("leg2", fmt.Sprintf("%s %s %s", leg2.Side, leg2.SizeStr, leg2.Market)))

	a.notifier.Notify(ctx, newNotification(models.NotificationTypeOpen, key,
		fmt.Sprintf("opened %s: %s %s %s / %s %s %s at z=%.3f",
			key, leg1.Side, leg1.SizeStr, leg1.Market, leg2.Side, leg2.SizeStr, leg2.Market, sig.ZScore),
		map[string]interface{}{
			"z_score":     sig.ZScore,
			"hedge_ratio": sig.Pair.HedgeRatio,
			"order_id_m1": rec.OrderIDM1,
			"order_id_m2": rec.OrderIDM2,
		}))

	return run.result(rec, nil)
}

// preconditions проверяет всё, что должно выполняться до первого ордера:
// свободные рынки, метаданные рынков и минимальный ордер, свободный залог.
func (a *PairAgent) preconditions(ctx context.Context, sig models.Signal, records []models.PositionRecord) (LegOrder, LegOrder, error) {
	baseMarket, quoteMarket := sig.Pair.BaseMarket, sig.Pair.QuoteMarket

	if err := a.pacer.Wait(ctx); err != nil {
		return LegOrder{}, LegOrder{}, err
	}
	positions, err := a.gw.GetOpenPositions(ctx)
	if err != nil {
		return LegOrder{}, LegOrder{}, fmt.Errorf("read open positions: %w", err)
	}
	onExchange := make(map[string]bool, len(positions))
	for market := range positions {
		onExchange[market] = true
	}
	for _, market := range []string{baseMarket, quoteMarket} {
		if repository.IsMarketOpen(records, onExchange, market) {
			return LegOrder{}, LegOrder{}, fmt.Errorf("%w: %s", ErrMarketAlreadyOpen, market)
		}
	}

	if err := a.pacer.Wait(ctx); err != nil {
		return LegOrder{}, LegOrder{}, err
	}
	markets, err := a.gw.GetMarkets(ctx)
	if err != nil {
		return LegOrder{}, LegOrder{}, fmt.Errorf("read markets: %w", err)
	}
	base, ok := markets[baseMarket]
	if !ok || !base.Active() {
		return LegOrder{}, LegOrder{}, fmt.Errorf("%w: %s", ErrMarketUnavailable, baseMarket)
	}
	quote, ok := markets[quoteMarket]
	if !ok || !quote.Active() {
		return LegOrder{}, LegOrder{}, fmt.Errorf("%w: %s", ErrMarketUnavailable, quoteMarket)
	}

	legCfg := LegConfig{
		USDPerTrade: a.cfg.USDPerTrade,
		Slippage:    a.cfg.EntrySlippage,
		MinOrderUSD: a.cfg.MinOrderValueUSD,
	}
	leg1, err := BuildLeg(base, sig.BaseSide, sig.BasePrice, legCfg)
	if err != nil {
		return LegOrder{}, LegOrder{}, err
	}
	leg2, err := BuildLeg(quote, sig.QuoteSide, sig.QuotePrice, legCfg)
	if err != nil {
		return LegOrder{}, LegOrder{}, err
	}

	// залог читается заново непосредственно перед первой ногой
	if err := a.pacer.Wait(ctx); err != nil {
		return LegOrder{}, LegOrder{}, err
	}
	account, err := a.gw.GetAccount(ctx)
	if err != nil {
		return LegOrder{}, LegOrder{}, fmt.Errorf("read account: %w", err)
	}
	FreeCollateral.Set(account.FreeCollateral)
	if account.FreeCollateral < a.cfg.USDMinCollateral {
		return LegOrder{}, LegOrder{}, fmt.Errorf("%w: free %.2f < %.2f USD",
			ErrInsufficientCollateral, account.FreeCollateral, a.cfg.USDMinCollateral)
	}

	return leg1, leg2, nil
}

// confirmLeg подтверждает исполнение ноги входа; неисполненный ордер отменяется
func (a *PairAgent) confirmLeg(ctx context.Context, orderID, purpose string) error {
	return a.orders.ConfirmOrCancel(ctx, orderID, purpose, a.policies.Leg)
}

// unwind закрывает первую ногу одним reduce-only ордером по failsafe-цене.
// Статус отката опрашивается без ограничения попыток: до FILLED (UNWOUND)
// или до отказа биржи (ABORT).
func (a *PairAgent) unwind(ctx context.Context, run *agentRun, rec *models.PositionRecord, leg1 LegOrder, cause error) OpenResult {
	run.to(StateUnwinding)

	side := leg1.Side.Opposite()
	ref := leg1.Price
	market := exchange.Market{Ticker: leg1.Market}

	if err := a.pacer.Wait(ctx); err == nil {
		if markets, err := a.gw.GetMarkets(ctx); err == nil {
			if m, ok := markets[leg1.Market]; ok {
				market = m
				if m.OraclePrice > 0 {
					ref = m.OraclePrice
				}
			}
		} else {
			run.log.Warn("fresh oracle price unavailable, using leg 1 price", utils.Err(err))
		}
	}

	price, priceStr := FailsafePrice(ref, market, side, a.cfg.FailsafeSlippage)
	order := LegOrder{
		Market:   leg1.Market,
		Side:     side,
		Price:    price,
		Size:     leg1.Size,
		PriceStr: priceStr,
		SizeStr:  leg1.SizeStr,
	}

	run.log.Warn("unwinding leg 1",
		utils.Market(order.Market),
		utils.Side(string(order.Side)),
		utils.Size(order.Size),
		utils.Price(order.Price),
		utils.Err(cause))

	fatal := &FatalUnwindError{
		Pair:   run.pair,
		Market: order.Market,
		Side:   order.Side,
		Size:   order.SizeStr,
	}

	res, err := a.orders.Submit(ctx, run.pair, models.PurposeUnwind, order, true)
	if err != nil {
		fatal.Status = models.OrderStatusRejected
		fatal.Err = err
		return a.abort(ctx, run, rec, fatal)
	}
	fatal.OrderID = res.OrderID

	status, err := a.orders.Confirm(ctx, res.OrderID, models.PurposeUnwind, a.policies.Unwind)
	if err != nil {
		fatal.Status = status
		fatal.Err = err
		return a.abort(ctx, run, rec, fatal)
	}

	run.to(StateUnwound)
	run.log.Warn("leg 1 unwound", utils.OrderID(res.OrderID))

	a.notifier.Notify(ctx, newNotification(models.NotificationTypeUnwind, run.pair,
		fmt.Sprintf("leg 2 failed, leg 1 unwound: %s %s %s", order.Side, order.SizeStr, order.Market),
		map[string]interface{}{
			"order_id": res.OrderID,
			"price":    order.PriceStr,
			"cause":    cause.Error(),
		}))

	err = fmt.Errorf("leg 2 failed, leg 1 unwound: %w", cause)
	return run.result(failed(rec, models.StatusFailed, "unwound", err), err)
}

// abort - незахеджированная нога осталась на бирже. Уведомление уходит
// до возврата, остановку процесса выполняет вызывающий.
func (a *PairAgent) abort(ctx context.Context, run *agentRun, rec *models.PositionRecord, fatal *FatalUnwindError) OpenResult {
	run.to(StateAbort)

	run.log.Error("UNWIND FAILED, naked leg left on exchange",
		utils.Market(fatal.Market),
		utils.OrderID(fatal.OrderID),
		utils.Side(string(fatal.Side)),
		utils.String("size", fatal.Size),
		utils.Status(fatal.Status),
		utils.Err(fatal.Err))

	// уведомление должно дойти даже если контекст цикла уже отменён
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	a.notifier.Notify(notifyCtx, newNotification(models.NotificationTypeAbort, run.pair,
		fatal.Error(),
		map[string]interface{}{
			"market":   fatal.Market,
			"side":     string(fatal.Side),
			"size":     fatal.Size,
			"order_id": fatal.OrderID,
			"status":   fatal.Status,
		}))

	return run.result(failed(rec, models.StatusError, "unwind failed, naked leg 1", fatal), fatal)
}

// failed помечает запись неудачной попытки
func failed(rec *models.PositionRecord, status models.PositionStatus, what string, err error) *models.PositionRecord {
	rec.Status = status
	rec.Comments = fmt.Sprintf("%s: %v", what, err)
	return rec
}

func (a *PairAgent) notifyLegFail(ctx context.Context, pair string, leg LegOrder, orderID string, err error) {
	a.notifier.Notify(ctx, newNotification(models.NotificationTypeLegFail, pair,
		fmt.Sprintf("%s %s %s failed: %v", leg.Side, leg.SizeStr, leg.Market, err),
		map[string]interface{}{
			"market":   leg.Market,
			"order_id": orderID,
		}))
}

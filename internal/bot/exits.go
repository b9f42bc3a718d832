package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"statarb/internal/config"
	"statarb/internal/exchange"
	"statarb/internal/models"
	"statarb/pkg/ratelimit"
	"statarb/pkg/utils"
)

// Причины расхождений журнала и биржи (метка метрики)
const (
	MismatchOrder    = "order"    // ордер входа не совпадает с записью
	MismatchFlat     = "flat"     // в журнале нога есть, на бирже позиции нет
	MismatchOrphan   = "orphan"   // на бирже позиция, которой нет в журнале
	MismatchInactive = "inactive" // рынок больше не ACTIVE
)

// ExitManager - фаза выхода
//
// Для каждой записи журнала:
// 1. сверка с биржей (ордер входа, рынки, позиции) - при расхождении запись не трогаем
// 2. текущий z-score по hedge_ratio из записи
// 3. если ShouldExit - reduce-only закрытие обеих ног по исходным объёмам
//
// Запись с одной закрытой ногой получает статус CLOSING: на следующем проходе
// закрывается только оставшаяся нога, без проверки условия выхода.
type ExitManager struct {
	cfg      config.StrategyConfig
	policies AgentPolicies
	gw       exchange.Gateway
	orders   *OrderExecutor
	pacer    *ratelimit.Pacer
	notifier Notifier
	log      *utils.Logger
}

// NewExitManager создаёт фазу выхода
func NewExitManager(cfg config.StrategyConfig, policies AgentPolicies, gw exchange.Gateway, orders *OrderExecutor, pacer *ratelimit.Pacer, notifier Notifier) *ExitManager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &ExitManager{
		cfg:      cfg,
		policies: policies,
		gw:       gw,
		orders:   orders,
		pacer:    pacer,
		notifier: notifier,
		log:      utils.L().WithComponent("exits"),
	}
}

// exchangeState снимок биржи на один проход
type exchangeState struct {
	markets   map[string]exchange.Market
	positions map[string]*exchange.Position
}

// Sweep проходит по журналу и возвращает обновлённый журнал.
// Закрытые пары из результата исключаются, остальные записи возвращаются как есть
// (или со статусом CLOSING). Ошибка - только когда биржа недоступна целиком
// или отменён контекст; тогда журнал возвращается без изменений.
func (m *ExitManager) Sweep(ctx context.Context, records []models.PositionRecord) ([]models.PositionRecord, error) {
	if len(records) == 0 {
		return records, nil
	}
	start := time.Now()

	state, err := m.snapshot(ctx)
	if err != nil {
		return records, err
	}

	out := make([]models.PositionRecord, 0, len(records))
	closed := 0

	for _, rec := range records {
		if ctx.Err() != nil {
			// необработанные записи остаются как были
			return append(out, records[len(out)+closed:]...), ctx.Err()
		}

		updated, done := m.process(ctx, rec, state)
		if done {
			closed++
			continue
		}
		out = append(out, updated)
	}

	OpenPairs.Set(float64(len(out)))
	m.log.Info("exit sweep completed",
		utils.Int("records", len(records)),
		utils.Int("closed", closed),
		utils.Int("remaining", len(out)),
		utils.Since(start))
	return out, nil
}

func (m *ExitManager) snapshot(ctx context.Context) (*exchangeState, error) {
	if err := m.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	markets, err := m.gw.GetMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("read markets: %w", err)
	}

	if err := m.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	positions, err := m.gw.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read open positions: %w", err)
	}
	return &exchangeState{markets: markets, positions: positions}, nil
}

// process обрабатывает одну запись; done=true если пара полностью закрыта
func (m *ExitManager) process(ctx context.Context, rec models.PositionRecord, state *exchangeState) (models.PositionRecord, bool) {
	log := m.log.WithPair(rec.Key())

	if !rec.Holds() {
		log.Warn("ledger record without live position, left for review", utils.Status(string(rec.Status)))
		return rec, false
	}

	if kind, reason := m.reconcile(ctx, rec, state); kind != "" {
		RecordMismatch(kind)
		log.Warn("ledger mismatch, position left untouched", utils.String("kind", kind), utils.String("reason", reason))
		m.notifier.Notify(ctx, newNotification(models.NotificationTypeMismatch, rec.Key(), reason,
			map[string]interface{}{"kind": kind}))
		return rec, false
	}

	if rec.Status == models.StatusLive {
		base, quote, err := fetchPairCloses(ctx, m.gw, m.pacer, m.cfg.Resolution, rec.Market1, rec.Market2)
		if err != nil {
			log.Warn("candles unavailable, exit check skipped", utils.Err(err))
			return rec, false
		}
		z, ok := PairZScore(base, quote, rec.HedgeRatio, m.cfg.Window)
		if !ok {
			log.Warn("z-score undefined, exit check skipped")
			return rec, false
		}
		if !ShouldExit(rec.ZScoreAtEntry, z) {
			log.Debug("holding pair", utils.ZScore(z), utils.Float64("entry_z", rec.ZScoreAtEntry))
			return rec, false
		}
		log.Info("exit signal", utils.ZScore(z), utils.Float64("entry_z", rec.ZScoreAtEntry))
	}

	return m.close(ctx, rec, state)
}

// reconcile сверяет запись с биржей. Пустой kind - расхождений нет.
// Закрытые ноги CLOSING-записи не проверяются.
func (m *ExitManager) reconcile(ctx context.Context, rec models.PositionRecord, state *exchangeState) (string, string) {
	legs := []struct {
		market, orderID, size string
		side                  models.Side
		closed                bool
	}{
		{rec.Market1, rec.OrderIDM1, rec.SizeM1, rec.SideM1, rec.ClosedM1},
		{rec.Market2, rec.OrderIDM2, rec.SizeM2, rec.SideM2, rec.ClosedM2},
	}

	for _, leg := range legs {
		if leg.closed {
			continue
		}

		market, ok := state.markets[leg.market]
		if !ok || !market.Active() {
			return MismatchInactive, fmt.Sprintf("market %s is not active", leg.market)
		}

		if err := m.pacer.Wait(ctx); err != nil {
			return MismatchOrder, err.Error()
		}
		order, err := m.gw.GetOrder(ctx, leg.orderID)
		if err != nil {
			return MismatchOrder, fmt.Sprintf("entry order %s for %s unavailable: %v", leg.orderID, leg.market, err)
		}
		if order.Market != leg.market || order.Side != leg.side || !utils.SameAmount(order.Size, leg.size) {
			return MismatchOrder, fmt.Sprintf("entry order %s is %s %s %s, ledger has %s %s %s",
				leg.orderID, order.Side, order.Size, order.Market, leg.side, leg.size, leg.market)
		}

		if _, ok := state.positions[leg.market]; !ok {
			return MismatchFlat, fmt.Sprintf("no open position on %s for ledger leg %s %s", leg.market, leg.side, leg.size)
		}
	}
	return "", ""
}

// close закрывает незакрытые ноги reduce-only ордерами противоположной стороны
func (m *ExitManager) close(ctx context.Context, rec models.PositionRecord, state *exchangeState) (models.PositionRecord, bool) {
	log := m.log.WithPair(rec.Key())
	var failures []string

	if !rec.ClosedM1 {
		if err := m.closeLeg(ctx, rec, rec.Market1, rec.SideM1, rec.SizeM1, state); err != nil {
			failures = append(failures, err.Error())
		} else {
			rec.ClosedM1 = true
		}
	}
	if !rec.ClosedM2 {
		if err := m.closeLeg(ctx, rec, rec.Market2, rec.SideM2, rec.SizeM2, state); err != nil {
			failures = append(failures, err.Error())
		} else {
			rec.ClosedM2 = true
		}
	}

	if rec.ClosedM1 && rec.ClosedM2 {
		RecordClose("closed")
		log.Info("pair closed")
		m.notifier.Notify(ctx, newNotification(models.NotificationTypeClose, rec.Key(),
			fmt.Sprintf("closed %s (entry z=%.3f)", rec.Key(), rec.ZScoreAtEntry), nil))
		return rec, true
	}

	if rec.ClosedM1 || rec.ClosedM2 {
		rec.Status = models.StatusClosing
		rec.Comments = fmt.Sprintf("half closed: %v", failures)
		RecordClose("partial")
		log.Error("pair half closed, remaining leg retried next sweep", utils.Any("errors", failures))
		m.notifier.Notify(ctx, newNotification(models.NotificationTypeError, rec.Key(),
			fmt.Sprintf("%s half closed: %v", rec.Key(), failures), nil))
		return rec, false
	}

	RecordClose("failed")
	log.Error("pair close failed, kept in ledger", utils.Any("errors", failures))
	return rec, false
}

func (m *ExitManager) closeLeg(ctx context.Context, rec models.PositionRecord, ticker string, openSide models.Side, size string, state *exchangeState) error {
	market := state.markets[ticker]
	side := openSide.Opposite()

	ref := market.OraclePrice
	if ref <= 0 {
		if pos, ok := state.positions[ticker]; ok {
			ref = pos.EntryPrice
		}
	}
	if ref <= 0 {
		return fmt.Errorf("%s: no reference price", ticker)
	}

	sizeF, err := strconv.ParseFloat(size, 64)
	if err != nil {
		return fmt.Errorf("%s: bad ledger size %q: %w", ticker, size, err)
	}

	price, priceStr := ClosePrice(ref, market, side, m.cfg.ExitSlippage)
	order := LegOrder{
		Market:   ticker,
		Side:     side,
		Price:    price,
		Size:     sizeF,
		PriceStr: priceStr,
		SizeStr:  size,
	}

	res, err := m.orders.Submit(ctx, rec.Key(), models.PurposeExit, order, true)
	if err != nil {
		return fmt.Errorf("%s: %w", ticker, err)
	}
	if err := m.orders.ConfirmOrCancel(ctx, res.OrderID, models.PurposeExit, m.policies.Leg); err != nil {
		return fmt.Errorf("%s: %w", ticker, err)
	}
	return nil
}

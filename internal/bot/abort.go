package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"statarb/internal/config"
	"statarb/internal/exchange"
	"statarb/internal/models"
	"statarb/internal/repository"
	"statarb/pkg/ratelimit"
	"statarb/pkg/utils"
)

// AbortReport итоги аварийного закрытия
type AbortReport struct {
	CanceledOrders int
	ClosedMarkets  []string
	Failed         map[string]string // рынок -> ошибка
	LedgerCleared  bool
}

// Aborter - закрытие всего (ABORT_ALL_POSITIONS)
//
// Отменяет все открытые ордера, закрывает каждую позицию на бирже
// reduce-only ордером по failsafe-цене и очищает журнал.
// Журнал очищается только если закрылись все позиции: иначе
// оставшиеся пары пропадут из-под контроля выхода.
type Aborter struct {
	cfg      config.StrategyConfig
	policies AgentPolicies
	gw       exchange.Gateway
	orders   *OrderExecutor
	ledger   repository.LedgerRepository
	pacer    *ratelimit.Pacer
	notifier Notifier
	log      *utils.Logger
}

// NewAborter создаёт фазу аварийного закрытия
func NewAborter(cfg config.StrategyConfig, policies AgentPolicies, gw exchange.Gateway, orders *OrderExecutor, ledger repository.LedgerRepository, pacer *ratelimit.Pacer, notifier Notifier) *Aborter {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Aborter{
		cfg:      cfg,
		policies: policies,
		gw:       gw,
		orders:   orders,
		ledger:   ledger,
		pacer:    pacer,
		notifier: notifier,
		log:      utils.L().WithComponent("abort"),
	}
}

// AbortAll закрывает все позиции. Ошибка - если хотя бы одна позиция осталась открытой.
func (a *Aborter) AbortAll(ctx context.Context) (AbortReport, error) {
	report := AbortReport{Failed: make(map[string]string)}
	start := time.Now()

	// 1. отмена ордеров
	if err := a.pacer.Wait(ctx); err != nil {
		return report, err
	}
	open, err := a.gw.GetOpenOrders(ctx)
	if err != nil {
		return report, fmt.Errorf("read open orders: %w", err)
	}
	for _, o := range open {
		if err := a.pacer.Wait(ctx); err != nil {
			return report, err
		}
		if err := a.gw.CancelOrder(ctx, o.ID); err != nil {
			a.log.Warn("cancel failed", utils.OrderID(o.ID), utils.Market(o.Market), utils.Err(err))
			continue
		}
		report.CanceledOrders++
	}

	// 2. закрытие позиций
	if err := a.pacer.Wait(ctx); err != nil {
		return report, err
	}
	markets, err := a.gw.GetMarkets(ctx)
	if err != nil {
		return report, fmt.Errorf("read markets: %w", err)
	}
	if err := a.pacer.Wait(ctx); err != nil {
		return report, err
	}
	positions, err := a.gw.GetOpenPositions(ctx)
	if err != nil {
		return report, fmt.Errorf("read open positions: %w", err)
	}

	tickers := make([]string, 0, len(positions))
	for t := range positions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		if err := a.closePosition(ctx, positions[ticker], markets[ticker]); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed[ticker] = err.Error()
			continue
		}
		report.ClosedMarkets = append(report.ClosedMarkets, ticker)
	}

	// 3. журнал
	if len(report.Failed) > 0 {
		msg := formatFailures(report.Failed)
		a.log.Error("abort incomplete, ledger kept", utils.String("failed", msg))
		a.notifier.Notify(ctx, newNotification(models.NotificationTypeAbort, "",
			"abort-all left open positions: "+msg,
			map[string]interface{}{"closed": report.ClosedMarkets}))
		return report, fmt.Errorf("abort incomplete: %s", msg)
	}

	if err := a.ledger.Save([]models.PositionRecord{}); err != nil {
		return report, fmt.Errorf("clear ledger: %w", err)
	}
	report.LedgerCleared = true
	OpenPairs.Set(0)

	a.log.Info("all positions closed",
		utils.Int("canceled_orders", report.CanceledOrders),
		utils.Int("closed_positions", len(report.ClosedMarkets)),
		utils.Since(start))
	a.notifier.Notify(ctx, newNotification(models.NotificationTypeClose, "",
		fmt.Sprintf("abort-all: %d orders canceled, %d positions closed", report.CanceledOrders, len(report.ClosedMarkets)),
		nil))
	return report, nil
}

func (a *Aborter) closePosition(ctx context.Context, pos *exchange.Position, market exchange.Market) error {
	if market.Ticker == "" {
		market.Ticker = pos.Market
	}
	side := pos.CloseSide()

	ref := market.OraclePrice
	if ref <= 0 {
		ref = pos.EntryPrice
	}
	if ref <= 0 {
		return fmt.Errorf("no reference price for %s", pos.Market)
	}

	size := utils.RoundToStep(pos.Size, market.StepSize)
	if size <= 0 {
		return fmt.Errorf("position size %.10g below step %.10g", pos.Size, market.StepSize)
	}
	price, priceStr := FailsafePrice(ref, market, side, a.cfg.FailsafeSlippage)

	order := LegOrder{
		Market:   pos.Market,
		Side:     side,
		Price:    price,
		Size:     size,
		PriceStr: priceStr,
		SizeStr:  utils.FormatToIncrement(size, market.StepSize),
	}

	res, err := a.orders.Submit(ctx, pos.Market, models.PurposeAbort, order, true)
	if err != nil {
		return err
	}
	return a.orders.ConfirmOrCancel(ctx, res.OrderID, models.PurposeAbort, a.policies.Leg)
}

func formatFailures(failed map[string]string) string {
	keys := make([]string, 0, len(failed))
	for k := range failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+failed[k])
	}
	return strings.Join(parts, "; ")
}

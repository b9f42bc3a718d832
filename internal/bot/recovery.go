package bot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"statarb/internal/exchange"
	"statarb/internal/models"
	"statarb/internal/repository"
	"statarb/pkg/utils"
)

// Recovery - сверка журнала с биржей после перезапуска
//
// Шаги:
// 1. Чтение журнала позиций
// 2. Чтение открытых позиций на бирже
// 3. Позиции биржи, которых нет в журнале - "потерянные"
// 4. Ноги журнала, которых нет на бирже - "пустые"
// 5. Уведомление пользователя
//
// Ничего не закрывает и не правит журнал: расхождения разбирает человек.
type Recovery struct {
	gw       exchange.Gateway
	ledger   repository.LedgerRepository
	notifier Notifier
	timeout  time.Duration
	log      *utils.Logger
}

// NewRecovery создаёт сверку
func NewRecovery(gw exchange.Gateway, ledger repository.LedgerRepository, notifier Notifier) *Recovery {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Recovery{
		gw:       gw,
		ledger:   ledger,
		notifier: notifier,
		timeout:  30 * time.Second,
		log:      utils.L().WithComponent("recovery"),
	}
}

// ReconcileReport результат сверки
type ReconcileReport struct {
	// LedgerPairs - записей в журнале
	LedgerPairs int

	// ExchangePositions - открытых позиций на бирже
	ExchangePositions int

	// Matched - записи, обе незакрытые ноги которых есть на бирже
	Matched []string

	// Orphaned - рынки с позицией на бирже, не принадлежащие ни одной записи
	Orphaned []*exchange.Position

	// Flat - ноги журнала ("пара: рынок") без позиции на бирже
	Flat []string
}

// Clean true если расхождений нет
func (r *ReconcileReport) Clean() bool {
	return len(r.Orphaned) == 0 && len(r.Flat) == 0
}

// Reconcile выполняет сверку. Ошибка - только если журнал или биржа недоступны.
func (rc *Recovery) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	ctx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	records, err := rc.ledger.Load()
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	positions, err := rc.gw.GetOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read open positions: %w", err)
	}

	report := &ReconcileReport{
		LedgerPairs:       len(records),
		ExchangePositions: len(positions),
	}

	owned := make(map[string]bool)
	for _, rec := range records {
		if !rec.Holds() {
			continue
		}
		complete := true
		legs := []struct {
			market string
			closed bool
		}{{rec.Market1, rec.ClosedM1}, {rec.Market2, rec.ClosedM2}}

		for _, leg := range legs {
			if leg.closed {
				continue
			}
			owned[leg.market] = true
			if _, ok := positions[leg.market]; !ok {
				complete = false
				report.Flat = append(report.Flat, rec.Key()+": "+leg.market)
			}
		}
		if complete {
			report.Matched = append(report.Matched, rec.Key())
		}
	}

	for market, pos := range positions {
		if !owned[market] {
			report.Orphaned = append(report.Orphaned, pos)
		}
	}
	sort.Slice(report.Orphaned, func(i, j int) bool { return report.Orphaned[i].Market < report.Orphaned[j].Market })

	rc.report(ctx, report)
	return report, nil
}

func (rc *Recovery) report(ctx context.Context, r *ReconcileReport) {
	for _, pos := range r.Orphaned {
		RecordMismatch(MismatchOrphan)
		msg := fmt.Sprintf("exchange position %s %.10g %s is not in the ledger", pos.Side, pos.Size, pos.Market)
		rc.log.Warn("orphaned position", utils.Market(pos.Market), utils.String("side", pos.Side), utils.Size(pos.Size))
		rc.notifier.Notify(ctx, newNotification(models.NotificationTypeMismatch, "", msg,
			map[string]interface{}{"kind": MismatchOrphan, "market": pos.Market}))
	}
	for _, leg := range r.Flat {
		RecordMismatch(MismatchFlat)
		rc.log.Warn("ledger leg has no exchange position", utils.String("leg", leg))
		rc.notifier.Notify(ctx, newNotification(models.NotificationTypeMismatch, "",
			"ledger leg has no exchange position: "+leg,
			map[string]interface{}{"kind": MismatchFlat}))
	}

	rc.log.Info("startup reconciliation completed",
		utils.Int("ledger_pairs", r.LedgerPairs),
		utils.Int("exchange_positions", r.ExchangePositions),
		utils.Int("matched", len(r.Matched)),
		utils.Int("orphaned", len(r.Orphaned)),
		utils.Int("flat", len(r.Flat)))
}

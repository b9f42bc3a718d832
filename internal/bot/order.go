package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"statarb/internal/exchange"
	"statarb/internal/models"
	"statarb/pkg/ratelimit"
	"statarb/pkg/retry"
	"statarb/pkg/utils"
)

var (
	// ErrLegNotFilled исполнение не подтвердилось за отведённые попытки
	ErrLegNotFilled = errors.New("order fill not confirmed")

	// ErrLegCanceled биржа отменила или отклонила ордер
	ErrLegCanceled = errors.New("order canceled by venue")
)

// OrderExecutor - отправка ордеров и подтверждение исполнения
//
// Все ордера идут строго последовательно: вторая нога отправляется
// только после подтверждения первой. Перед каждым обращением к бирже
// выдерживается пауза pacer, каждый ордер пишется в журнал.
type OrderExecutor struct {
	gw      exchange.Gateway
	pacer   *ratelimit.Pacer
	journal OrderJournal
	log     *utils.Logger
}

// NewOrderExecutor создаёт исполнитель
func NewOrderExecutor(gw exchange.Gateway, pacer *ratelimit.Pacer, journal OrderJournal) *OrderExecutor {
	if journal == nil {
		journal = nopJournal{}
	}
	return &OrderExecutor{
		gw:      gw,
		pacer:   pacer,
		journal: journal,
		log:     utils.L().WithComponent("orders"),
	}
}

// Submit отправляет ордер ноги. Отклонение биржей возвращается ошибкой,
// запись в журнал делается в обоих случаях.
func (oe *OrderExecutor) Submit(ctx context.Context, pairKey, purpose string, leg LegOrder, reduceOnly bool) (*exchange.OrderResult, error) {
	if err := oe.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	rec := &models.OrderRecord{
		PairKey:    pairKey,
		Market:     leg.Market,
		Side:       leg.Side,
		Size:       leg.SizeStr,
		Price:      leg.PriceStr,
		ReduceOnly: reduceOnly,
		Purpose:    purpose,
		CreatedAt:  time.Now(),
	}

	res, err := oe.gw.PlaceMarketOrder(ctx, leg.Request(reduceOnly))
	var unresolved *exchange.UnresolvedOrderError
	if errors.As(err, &unresolved) {
		// ордер мог уйти на биржу: выясняем его судьбу даже при отменённом контексте
		res, err = oe.resolve(context.WithoutCancel(ctx), pairKey, unresolved)
	}
	if err != nil {
		rec.Status = models.OrderStatusRejected
		rec.Error = err.Error()
		oe.journal.RecordOrder(ctx, rec)
		RecordOrder(purpose, models.OrderStatusRejected)

		oe.log.Error("order placement failed",
			utils.Pair(pairKey),
			utils.Market(leg.Market),
			utils.Side(string(leg.Side)),
			utils.Size(leg.Size),
			utils.Price(leg.Price),
			utils.String("purpose", purpose),
			utils.Err(err))
		return nil, err
	}

	rec.OrderID = res.OrderID
	rec.Status = res.Status
	oe.journal.RecordOrder(ctx, rec)
	RecordOrder(purpose, res.Status)

	oe.log.Info("order placed",
		utils.Pair(pairKey),
		utils.Market(leg.Market),
		utils.OrderID(res.OrderID),
		utils.Side(string(leg.Side)),
		utils.Size(leg.Size),
		utils.Price(leg.Price),
		utils.Bool("reduce_only", reduceOnly),
		utils.String("purpose", purpose))

	return res, nil
}

// resolve ищет ордер с неизвестным исходом по client id. Не найден - отменяется
// по client id и ищется ещё раз: только после этого ордер считается неразмещённым.
func (oe *OrderExecutor) resolve(ctx context.Context, pairKey string, u *exchange.UnresolvedOrderError) (*exchange.OrderResult, error) {
	log := oe.log.WithPair(pairKey).WithMarket(u.Market).With(utils.Int64("client_id", int64(u.ClientID)))

	find := func() (*exchange.OrderResult, bool) {
		if err := oe.pacer.Wait(ctx); err != nil {
			return nil, false
		}
		o, err := oe.gw.FindOrderByClientID(ctx, u.Market, u.ClientID)
		if err != nil {
			if !errors.Is(err, exchange.ErrOrderNotFound) {
				log.Warn("lookup by client id failed", utils.Err(err))
			}
			return nil, false
		}
		return &exchange.OrderResult{OrderID: o.ID, ClientID: o.ClientID, Status: o.Status}, true
	}

	if res, ok := find(); ok {
		log.Warn("unresolved order found", utils.OrderID(res.OrderID), utils.Status(res.Status))
		return res, nil
	}

	if err := oe.pacer.Wait(ctx); err == nil {
		if err := oe.gw.CancelOrderByClientID(ctx, u.Market, u.ClientID); err != nil {
			log.Warn("cancel by client id failed", utils.Err(err))
		}
	}

	if res, ok := find(); ok {
		log.Warn("unresolved order found after cancel", utils.OrderID(res.OrderID), utils.Status(res.Status))
		return res, nil
	}

	log.Error("order not found after cancel, treated as not placed", utils.Err(u.Err))
	return nil, u
}

// Confirm опрашивает статус ордера по политике p.
//
// FILLED - nil. CANCELED/REJECTED - ErrLegCanceled.
// Ошибка запроса статуса считается UNKNOWN, опрос продолжается.
// Попытки закончились - ErrLegNotFilled (ордер остаётся на бирже,
// отменять его должен вызывающий).
func (oe *OrderExecutor) Confirm(ctx context.Context, orderID, purpose string, p retry.Policy) (string, error) {
	start := time.Now()
	log := oe.log.WithOrderID(orderID)

	status, err := retry.Poll(ctx, p, func(attempt int) (string, bool, error) {
		if err := oe.pacer.Wait(ctx); err != nil {
			return models.OrderStatusUnknown, false, err
		}
		status, err := oe.gw.GetOrderStatus(ctx, orderID)
		if err != nil {
			log.Warn("order status unavailable", utils.Int("attempt", attempt), utils.Err(err))
			return models.OrderStatusUnknown, false, nil
		}
		log.Debug("order status", utils.Int("attempt", attempt), utils.Status(status))

		switch status {
		case models.OrderStatusFilled, models.OrderStatusCanceled, models.OrderStatusRejected:
			return status, true, nil
		}
		return status, false, nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return status, ctx.Err()
		}
		return status, fmt.Errorf("%w: order %s last status %s: %v", ErrLegNotFilled, orderID, status, err)
	}

	if status != models.OrderStatusFilled {
		oe.journal.UpdateOrderStatus(ctx, orderID, status, "canceled by venue")
		return status, fmt.Errorf("%w: order %s status %s", ErrLegCanceled, orderID, status)
	}

	oe.journal.UpdateOrderStatus(ctx, orderID, status, "")
	RecordFillConfirm(purpose, start)
	return status, nil
}

// ConfirmOrCancel подтверждает исполнение; если попытки кончились, ордер
// отменяется, и исполнение, случившееся до отмены, тоже засчитывается.
func (oe *OrderExecutor) ConfirmOrCancel(ctx context.Context, orderID, purpose string, p retry.Policy) error {
	_, err := oe.Confirm(ctx, orderID, purpose, p)
	if err == nil || !errors.Is(err, ErrLegNotFilled) {
		return err
	}
	if status := oe.CancelAndCheck(ctx, orderID); status == models.OrderStatusFilled {
		oe.log.Warn("order filled while being canceled", utils.OrderID(orderID), utils.String("purpose", purpose))
		return nil
	}
	return err
}

// CancelAndCheck отменяет неподтверждённый ордер и перечитывает статус:
// отмена может разминуться с исполнением.
func (oe *OrderExecutor) CancelAndCheck(ctx context.Context, orderID string) string {
	log := oe.log.WithOrderID(orderID)

	if err := oe.pacer.Wait(ctx); err != nil {
		return models.OrderStatusUnknown
	}
	if err := oe.gw.CancelOrder(ctx, orderID); err != nil {
		log.Warn("cancel failed", utils.Err(err))
	}

	status, err := oe.gw.GetOrderStatus(ctx, orderID)
	if err != nil {
		log.Warn("status after cancel unavailable", utils.Err(err))
		return models.OrderStatusUnknown
	}
	oe.journal.UpdateOrderStatus(ctx, orderID, status, "fill not confirmed, canceled")
	return status
}

package bot

import (
	"context"

	"statarb/internal/models"
)

// Notifier доставляет уведомления (журнал, websocket, Telegram).
// Ошибки доставки остаются внутри реализации: торговый код их не обрабатывает.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification)
}

// OrderJournal записывает каждый отправленный ордер и его итоговый статус
type OrderJournal interface {
	RecordOrder(ctx context.Context, rec *models.OrderRecord)
	UpdateOrderStatus(ctx context.Context, orderID, status, errMsg string)
}

// nopNotifier используется, когда уведомления не настроены
type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, *models.Notification) {}

type nopJournal struct{}

func (nopJournal) RecordOrder(context.Context, *models.OrderRecord) {}

func (nopJournal) UpdateOrderStatus(context.Context, string, string, string) {}

// newNotification заполняет уровень важности по типу
func newNotification(notifType, pair, message string, meta map[string]interface{}) *models.Notification {
	return &models.Notification{
		Type:     notifType,
		Severity: models.SeverityFor(notifType),
		Pair:     pair,
		Message:  message,
		Meta:     meta,
	}
}

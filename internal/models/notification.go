package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // LAUNCH, SCREEN, OPEN, CLOSE, LEG_FAIL, UNWIND, ABORT, MISMATCH, ERROR
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error, critical
	Pair      string                 `json:"pair,omitempty" db:"pair"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // JSON в БД
}

// Типы уведомлений
const (
	NotificationTypeLaunch   = "LAUNCH"   // запуск бота
	NotificationTypeScreen   = "SCREEN"   // найден новый набор пар
	NotificationTypeOpen     = "OPEN"     // пара открыта
	NotificationTypeClose    = "CLOSE"    // пара закрыта
	NotificationTypeLegFail  = "LEG_FAIL" // нога не исполнилась
	NotificationTypeUnwind   = "UNWIND"   // откат первой ноги
	NotificationTypeAbort    = "ABORT"    // аварийная остановка
	NotificationTypeMismatch = "MISMATCH" // журнал расходится с биржей
	NotificationTypeError    = "ERROR"    // ошибка API/фазы
)

// Уровни важности
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// SeverityFor уровень важности по типу уведомления
func SeverityFor(notificationType string) string {
	switch notificationType {
	case NotificationTypeAbort:
		return SeverityCritical
	case NotificationTypeError, NotificationTypeLegFail:
		return SeverityError
	case NotificationTypeUnwind, NotificationTypeMismatch:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

// Urgent true для уведомлений, которые уходят во внешний канал
func (n Notification) Urgent() bool {
	switch n.Severity {
	case SeverityWarn, SeverityError, SeverityCritical:
		return true
	}
	return false
}

package websocket

import (
	"time"

	"statarb/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeStatusUpdate - снимок движка (фаза, цикл, залог, последняя ошибка)
	// Отправляется при каждой смене фазы и в конце цикла
	MessageTypeStatusUpdate MessageType = "statusUpdate"

	// MessageTypePositionsUpdate - журнал позиций целиком
	// Отправляется после каждого изменения журнала
	MessageTypePositionsUpdate MessageType = "positionsUpdate"

	// MessageTypeNotification - новое уведомление
	// Отправляется при событиях: запуск, скрининг, открытие, закрытие, откат, ошибки
	MessageTypeNotification MessageType = "notification"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// StatusMessage - сообщение со снимком движка
type StatusMessage struct {
	BaseMessage
	Data *models.EngineStatus `json:"data"`
}

// PositionsMessage - сообщение с журналом позиций
//
// Журнал маленький (десятки записей), поэтому отправляется целиком:
// клиенту не нужно собирать состояние из дельт.
type PositionsMessage struct {
	BaseMessage
	Data []PositionData `json:"data"`
}

// PositionData - одна парная позиция для UI
type PositionData struct {
	Pair          string     `json:"pair"`
	Status        string     `json:"status"`
	HedgeRatio    float64    `json:"hedge_ratio"`
	ZScoreAtEntry float64    `json:"z_score_at_entry"`
	HalfLife      float64    `json:"half_life"`
	Legs          [2]LegData `json:"legs"`
	Comments      string     `json:"comments,omitempty"`
}

// LegData - одна нога пары
type LegData struct {
	Market   string     `json:"market"`
	Side     string     `json:"side"`
	Size     string     `json:"size"`
	OrderID  string     `json:"order_id"`
	OpenedAt *time.Time `json:"opened_at,omitempty"`
	Closed   bool       `json:"closed"`
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData - данные уведомления
type NotificationData struct {
	// ID уведомления в БД (0 без БД)
	ID int `json:"id"`

	// Тип уведомления (LAUNCH, SCREEN, OPEN, CLOSE, LEG_FAIL, UNWIND, ABORT, MISMATCH, ERROR)
	Type string `json:"type"`

	// Уровень важности (info, warn, error, critical)
	Severity string `json:"severity"`

	// Ключ пары "M1/M2" (если применимо)
	Pair string `json:"pair,omitempty"`

	Message string                 `json:"message"`
	Meta    map[string]interface{} `json:"meta,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ============ Фабричные функции для создания сообщений ============

// NewStatusMessage создает сообщение со снимком движка
func NewStatusMessage(status *models.EngineStatus) *StatusMessage {
	return &StatusMessage{
		BaseMessage: BaseMessage{Type: MessageTypeStatusUpdate, Timestamp: time.Now()},
		Data:        status,
	}
}

// NewPositionsMessage создает сообщение с журналом позиций
func NewPositionsMessage(records []models.PositionRecord) *PositionsMessage {
	data := make([]PositionData, len(records))
	for i, r := range records {
		data[i] = PositionData{
			Pair:          r.Key(),
			Status:        string(r.Status),
			HedgeRatio:    r.HedgeRatio,
			ZScoreAtEntry: r.ZScoreAtEntry,
			HalfLife:      r.HalfLife,
			Comments:      r.Comments,
			Legs: [2]LegData{
				{Market: r.Market1, Side: string(r.SideM1), Size: r.SizeM1, OrderID: r.OrderIDM1, OpenedAt: r.OpenedAtM1, Closed: r.ClosedM1},
				{Market: r.Market2, Side: string(r.SideM2), Size: r.SizeM2, OrderID: r.OrderIDM2, OpenedAt: r.OpenedAtM2, Closed: r.ClosedM2},
			},
		}
	}

	return &PositionsMessage{
		BaseMessage: BaseMessage{Type: MessageTypePositionsUpdate, Timestamp: time.Now()},
		Data:        data,
	}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{Type: MessageTypeNotification, Timestamp: time.Now()},
		Data: &NotificationData{
			ID:        notif.ID,
			Type:      notif.Type,
			Severity:  notif.Severity,
			Pair:      notif.Pair,
			Message:   notif.Message,
			Meta:      notif.Meta,
			Timestamp: notif.Timestamp,
		},
	}
}

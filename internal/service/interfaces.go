package service

import (
	"context"
	"time"

	"statarb/internal/models"
	"statarb/internal/repository"
)

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(n *models.Notification) error
	GetRecent(limit int) ([]*models.Notification, error)
	GetByTypes(types []string, limit int) ([]*models.Notification, error)
	DeleteOlderThan(timestamp time.Time) (int64, error)
}

// OrderRepositoryInterface определяет интерфейс журнала ордеров
type OrderRepositoryInterface interface {
	Create(order *models.OrderRecord) error
	UpdateStatus(orderID, status, errMsg string) error
	GetRecent(limit int) ([]*models.OrderRecord, error)
	GetByPairKey(pairKey string) ([]*models.OrderRecord, error)
	DeleteOlderThan(timestamp time.Time) (int64, error)
}

// TelegramSender внешний канал срочных уведомлений
type TelegramSender interface {
	Send(ctx context.Context, text string) error
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)
var _ OrderRepositoryInterface = (*repository.OrderRepository)(nil)
var _ TelegramSender = (*TelegramNotifier)(nil)

// ============ Интерфейсы сервисов для API ============

// NotificationServiceInterface чтение журнала уведомлений
type NotificationServiceInterface interface {
	GetNotifications(types []string, limit int) ([]*models.Notification, error)
}

// JournalServiceInterface чтение журнала ордеров
type JournalServiceInterface interface {
	GetOrders(pairKey string, limit int) ([]*models.OrderRecord, error)
}

var _ NotificationServiceInterface = (*NotificationService)(nil)
var _ JournalServiceInterface = (*JournalService)(nil)

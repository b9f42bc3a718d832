package service

import (
	"context"
	"sync"
	"time"

	"statarb/internal/models"
	"statarb/internal/repository"
)

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	notifications []*models.Notification
	createErr     error
	getErr        error
	lastTypes     []string
	nextID        int
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{nextID: 1}
}

func (m *MockNotificationRepository) Create(n *models.Notification) error {
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = m.nextID
	m.nextID++
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *MockNotificationRepository) GetRecent(limit int) ([]*models.Notification, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if len(m.notifications) < limit {
		limit = len(m.notifications)
	}
	return m.notifications[:limit], nil
}

func (m *MockNotificationRepository) GetByTypes(types []string, limit int) ([]*models.Notification, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.lastTypes = types
	var out []*models.Notification
	for _, n := range m.notifications {
		for _, t := range types {
			if n.Type == t && len(out) < limit {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) DeleteOlderThan(timestamp time.Time) (int64, error) {
	var kept []*models.Notification
	for _, n := range m.notifications {
		if !n.Timestamp.Before(timestamp) {
			kept = append(kept, n)
		}
	}
	deleted := int64(len(m.notifications) - len(kept))
	m.notifications = kept
	return deleted, nil
}

// ============ Mock OrderRepository ============

type MockOrderRepository struct {
	orders    []*models.OrderRecord
	createErr error
	updateErr error
}

func (m *MockOrderRepository) Create(order *models.OrderRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	order.ID = len(m.orders) + 1
	m.orders = append(m.orders, order)
	return nil
}

func (m *MockOrderRepository) UpdateStatus(orderID, status, errMsg string) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	for _, o := range m.orders {
		if o.OrderID == orderID {
			o.Status = status
			o.Error = errMsg
			return nil
		}
	}
	return repository.ErrOrderNotFound
}

func (m *MockOrderRepository) GetRecent(limit int) ([]*models.OrderRecord, error) {
	if len(m.orders) < limit {
		limit = len(m.orders)
	}
	return m.orders[:limit], nil
}

func (m *MockOrderRepository) GetByPairKey(pairKey string) ([]*models.OrderRecord, error) {
	var out []*models.OrderRecord
	for _, o := range m.orders {
		if o.PairKey == pairKey {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MockOrderRepository) DeleteOlderThan(timestamp time.Time) (int64, error) {
	var kept []*models.OrderRecord
	for _, o := range m.orders {
		if !o.CreatedAt.Before(timestamp) {
			kept = append(kept, o)
		}
	}
	deleted := int64(len(m.orders) - len(kept))
	m.orders = kept
	return deleted, nil
}

// ============ Mock WebSocket hub ============

type MockBroadcaster struct {
	mu       sync.Mutex
	received []*models.Notification
}

func (m *MockBroadcaster) BroadcastNotification(n *models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, n)
}

// ============ Mock Telegram ============

type MockTelegram struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (m *MockTelegram) Send(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return m.err
}

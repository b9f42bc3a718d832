package handlers

import (
	"strings"
	"time"

	"statarb/internal/models"
	"statarb/internal/service"
)

// ============ Mock Notification Service ============

// MockNotificationService мок для NotificationServiceInterface
type MockNotificationService struct {
	notifications []*models.Notification
	getErr        error
	lastTypes     []string
	lastLimit     int
}

func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{}
}

func (m *MockNotificationService) AddNotification(typ, severity, pair, message string) {
	m.notifications = append(m.notifications, &models.Notification{
		ID:        len(m.notifications) + 1,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Type:      typ,
		Severity:  severity,
		Pair:      pair,
		Message:   message,
	})
}

func (m *MockNotificationService) GetNotifications(types []string, limit int) ([]*models.Notification, error) {
	m.lastTypes = types
	m.lastLimit = limit
	if m.getErr != nil {
		return nil, m.getErr
	}

	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var out []*models.Notification
	for _, n := range m.notifications {
		if len(want) > 0 && !want[n.Type] {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ============ Mock Journal Service ============

// MockJournalService мок для JournalServiceInterface
type MockJournalService struct {
	orders  []*models.OrderRecord
	getErr  error
	lastKey string
}

func (m *MockJournalService) GetOrders(pairKey string, limit int) ([]*models.OrderRecord, error) {
	m.lastKey = pairKey
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []*models.OrderRecord
	for _, o := range m.orders {
		if pairKey != "" && o.PairKey != strings.ToUpper(pairKey) {
			continue
		}
		out = append(out, o)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ============ Mock движка и файлов ============

type mockStatus struct {
	status models.EngineStatus
}

func (m mockStatus) Status() models.EngineStatus { return m.status }

type mockLedger struct {
	records []models.PositionRecord
	err     error
}

func (m mockLedger) Load() ([]models.PositionRecord, error) { return m.records, m.err }

type mockCandidates struct {
	pairs []models.CointegratedPair
	err   error
}

func (m mockCandidates) Load() ([]models.CointegratedPair, error) { return m.pairs, m.err }

var _ service.NotificationServiceInterface = (*MockNotificationService)(nil)
var _ service.JournalServiceInterface = (*MockJournalService)(nil)

package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"statarb/internal/models"
	"statarb/pkg/utils"
)

// recentLimit сколько последних уведомлений держим в памяти
const recentLimit = 100

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

// NotificationService доставляет уведомления бота.
//
// Отвечает за:
// - запись в журнал уведомлений (Postgres, если подключен)
// - broadcast через WebSocket
// - отправку срочных уведомлений (warn и выше) в Telegram
// - последние 100 уведомлений в памяти для API без БД
//
// Ошибки доставки только логируются: торговый код их не получает.
//
// Типы уведомлений:
// - LAUNCH: запуск бота
// - SCREEN: обновлён список пар
// - OPEN / CLOSE: пара открыта / закрыта
// - LEG_FAIL: нога не исполнилась
// - UNWIND: откат первой ноги
// - ABORT: откат не удался, бот останавливается
// - MISMATCH: журнал расходится с биржей
// - ERROR: ошибка API или фазы
type NotificationService struct {
	repo     NotificationRepositoryInterface
	wsHub    WebSocketBroadcaster
	telegram TelegramSender
	log      *utils.Logger

	mu     sync.RWMutex
	recent []*models.Notification
}

// NewNotificationService создает новый экземпляр NotificationService.
// repo может быть nil: тогда уведомления хранятся только в памяти.
func NewNotificationService(repo NotificationRepositoryInterface) *NotificationService {
	return &NotificationService{
		repo: repo,
		log:  utils.L().WithComponent("notifications"),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
//
// Вызывается после инициализации Hub в main.go:
//
//	notifService := service.NewNotificationService(notifRepo)
//	notifService.SetWebSocketHub(wsHub)
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// SetTelegram подключает внешний канал. nil отключает его.
func (s *NotificationService) SetTelegram(t TelegramSender) {
	s.telegram = t
}

// Notify доставляет уведомление по всем каналам
func (s *NotificationService) Notify(ctx context.Context, n *models.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if n.Severity == "" {
		n.Severity = models.SeverityFor(n.Type)
	}

	s.logNotification(n)
	s.remember(n)

	if s.repo != nil {
		if err := s.repo.Create(n); err != nil {
			s.log.Warn("notification not persisted", utils.String("type", n.Type), utils.Err(err))
		}
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(n)
	}

	if s.telegram != nil && n.Urgent() {
		if err := s.telegram.Send(ctx, FormatTelegram(n)); err != nil {
			s.log.Warn("telegram delivery failed", utils.String("type", n.Type), utils.Err(err))
		}
	}
}

func (s *NotificationService) logNotification(n *models.Notification) {
	log := s.log
	if n.Pair != "" {
		log = log.WithPair(n.Pair)
	}
	switch n.Severity {
	case models.SeverityCritical, models.SeverityError:
		log.Error(n.Message, utils.String("type", n.Type))
	case models.SeverityWarn:
		log.Warn(n.Message, utils.String("type", n.Type))
	default:
		log.Info(n.Message, utils.String("type", n.Type))
	}
}

func (s *NotificationService) remember(n *models.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, n)
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
}

// GetNotifications возвращает список уведомлений с фильтрацией.
//
// Параметры:
//   - types: список типов для фильтрации (например: ["OPEN", "CLOSE"]);
//     неизвестные типы отбрасываются, пустой список - все типы
//   - limit: максимальное количество записей (по умолчанию 100, не больше 500)
//
// Возвращает уведомления отсортированные по времени (новые сверху).
func (s *NotificationService) GetNotifications(types []string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	normalized := make([]string, 0, len(types))
	for _, t := range types {
		nt := strings.ToUpper(strings.TrimSpace(t))
		if nt != "" && isValidNotificationType(nt) {
			normalized = append(normalized, nt)
		}
	}

	if s.repo != nil {
		if len(normalized) > 0 {
			return s.repo.GetByTypes(normalized, limit)
		}
		return s.repo.GetRecent(limit)
	}
	return s.recentFiltered(normalized, limit), nil
}

func (s *NotificationService) recentFiltered(types []string, limit int) []*models.Notification {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Notification, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(out) < limit; i-- {
		n := s.recent[i]
		if len(want) > 0 && !want[n.Type] {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Cleanup удаляет из журнала уведомления старше retention
func (s *NotificationService) Cleanup(retention time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, nil
	}
	return s.repo.DeleteOlderThan(time.Now().Add(-retention))
}

// FormatTelegram текст уведомления для внешнего канала
func FormatTelegram(n *models.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(n.Severity), n.Type)
	if n.Pair != "" {
		b.WriteString(" " + n.Pair)
	}
	b.WriteString("\n" + n.Message)
	return b.String()
}

func isValidNotificationType(t string) bool {
	switch t {
	case models.NotificationTypeLaunch,
		models.NotificationTypeScreen,
		models.NotificationTypeOpen,
		models.NotificationTypeClose,
		models.NotificationTypeLegFail,
		models.NotificationTypeUnwind,
		models.NotificationTypeAbort,
		models.NotificationTypeMismatch,
		models.NotificationTypeError:
		return true
	}
	return false
}

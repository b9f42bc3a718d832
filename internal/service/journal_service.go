package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"statarb/internal/models"
	"statarb/pkg/utils"
)

// ErrJournalDisabled журнал ордеров не подключен (нет БД)
var ErrJournalDisabled = errors.New("order journal is disabled")

// JournalService пишет каждый ордер бота в журнал ордеров.
// Ошибки записи логируются: журнал вспомогательный, источник истины - биржа и журнал позиций.
type JournalService struct {
	repo OrderRepositoryInterface
	log  *utils.Logger
}

// NewJournalService создаёт сервис; repo может быть nil
func NewJournalService(repo OrderRepositoryInterface) *JournalService {
	return &JournalService{
		repo: repo,
		log:  utils.L().WithComponent("journal"),
	}
}

// RecordOrder добавляет запись об отправленном ордере
func (s *JournalService) RecordOrder(_ context.Context, rec *models.OrderRecord) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Create(rec); err != nil {
		s.log.Warn("order not journaled",
			utils.Pair(rec.PairKey),
			utils.Market(rec.Market),
			utils.OrderID(rec.OrderID),
			utils.Err(err))
	}
}

// UpdateOrderStatus обновляет итоговый статус ордера
func (s *JournalService) UpdateOrderStatus(_ context.Context, orderID, status, errMsg string) {
	if s.repo == nil || orderID == "" {
		return
	}
	if err := s.repo.UpdateStatus(orderID, status, errMsg); err != nil {
		s.log.Warn("order status not journaled", utils.OrderID(orderID), utils.Status(status), utils.Err(err))
	}
}

// GetOrders последние ордера; с pairKey - все ордера пары
func (s *JournalService) GetOrders(pairKey string, limit int) ([]*models.OrderRecord, error) {
	if s.repo == nil {
		return nil, ErrJournalDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	pairKey = strings.ToUpper(strings.TrimSpace(pairKey))
	if pairKey == "" {
		return s.repo.GetRecent(limit)
	}

	orders, err := s.repo.GetByPairKey(pairKey)
	if err != nil {
		return nil, err
	}
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// Cleanup удаляет записи старше retention; без БД ничего не делает
func (s *JournalService) Cleanup(retention time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, nil
	}
	return s.repo.DeleteOlderThan(time.Now().Add(-retention))
}

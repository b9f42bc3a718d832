package handlers

import (
	"errors"
	"net/http"

	"statarb/internal/models"
	"statarb/internal/service"
)

// OrderHandler отдаёт журнал ордеров
//
// Endpoints:
// - GET /api/v1/orders - последние ордера
// - GET /api/v1/orders?pair=ETH-USD/BTC-USD&limit=20 - ордера одной пары
type OrderHandler struct {
	journal service.JournalServiceInterface
}

// NewOrderHandler создает OrderHandler
func NewOrderHandler(journal service.JournalServiceInterface) *OrderHandler {
	return &OrderHandler{journal: journal}
}

// GetOrdersResponse ответ журнала ордеров
type GetOrdersResponse struct {
	Orders []*models.OrderRecord `json:"orders"`
	Total  int                   `json:"total"`
}

// GetOrders возвращает журнал ордеров
//
// HTTP коды:
// - 200 OK
// - 503 Service Unavailable: журнал выключен (нет БД)
// - 500 Internal Server Error: ошибка БД
func (h *OrderHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.journal.GetOrders(r.URL.Query().Get("pair"), parseLimit(r))
	if errors.Is(err, service.ErrJournalDisabled) {
		respondWithError(w, http.StatusServiceUnavailable, "journal_disabled", "Order journal requires a database")
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "journal_unavailable", "Failed to get orders: "+err.Error())
		return
	}
	if orders == nil {
		orders = []*models.OrderRecord{}
	}

	respondWithJSON(w, http.StatusOK, GetOrdersResponse{Orders: orders, Total: len(orders)})
}

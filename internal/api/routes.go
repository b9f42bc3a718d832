package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"statarb/internal/api/handlers"
	"statarb/internal/api/middleware"
	"statarb/internal/service"
)

// Dependencies содержит все зависимости для API handlers.
// Nil-зависимость отключает свою группу маршрутов.
type Dependencies struct {
	Status        handlers.StatusProvider
	Ledger        handlers.LedgerReader
	Candidates    handlers.CandidateReader
	Journal       service.JournalServiceInterface
	Notifications service.NotificationServiceInterface

	// WebSocket handler (websocket.Hub.ServeWS)
	WebSocket http.HandlerFunc

	AllowedOrigins []string
	// TokenHash bcrypt-хеш токена API; пусто = без авторизации
	TokenHash string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
//	/health                      - liveness, без авторизации
//	/metrics                     - Prometheus, без авторизации
//	/ws                          - WebSocket (statusUpdate, positionsUpdate, notification)
//	/api/v1/
//	    ├── GET /status          - снимок движка
//	    ├── GET /positions       - журнал позиций
//	    ├── GET /candidates      - коинтегрированные пары
//	    ├── GET /orders          - журнал ордеров (?pair=, ?limit=)
//	    └── GET /notifications   - журнал уведомлений (?types=, ?limit=)
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. BearerAuth (только /api/v1 и /ws)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(deps.AllowedOrigins))

	auth := middleware.BearerAuth(deps.TokenHash)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	if deps.Status != nil && deps.Ledger != nil && deps.Candidates != nil {
		statusHandler := handlers.NewStatusHandler(deps.Status, deps.Ledger, deps.Candidates)
		api.HandleFunc("/status", statusHandler.GetStatus).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/positions", statusHandler.GetPositions).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/candidates", statusHandler.GetCandidates).Methods(http.MethodGet, http.MethodOptions)
	}

	if deps.Journal != nil {
		orderHandler := handlers.NewOrderHandler(deps.Journal)
		api.HandleFunc("/orders", orderHandler.GetOrders).Methods(http.MethodGet, http.MethodOptions)
	}

	if deps.Notifications != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.Notifications)
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods(http.MethodGet, http.MethodOptions)
	}

	if deps.WebSocket != nil {
		router.Handle("/ws", auth(deps.WebSocket)).Methods(http.MethodGet)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return router
}

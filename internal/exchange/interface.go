package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"statarb/internal/models"
)

// Gateway определяет единственный путь к бирже: данные, ордера, аккаунт.
// Реализации: DydxClient (индексер + подписант) и PaperGateway (в памяти).
type Gateway interface {
	// Name возвращает имя площадки
	Name() string

	// GetMarkets получает метаданные всех perpetual рынков
	GetMarkets(ctx context.Context) (map[string]Market, error)

	// GetRecentCandles последние свечи, самая свежая - последняя
	GetRecentCandles(ctx context.Context, market, resolution string) ([]Candle, error)

	// GetHistoricalCandles свечи в интервале [from, to], по возрастанию времени
	GetHistoricalCandles(ctx context.Context, market, resolution string, from, to time.Time) ([]Candle, error)

	// PlaceMarketOrder размещает немедленный ордер с предельной ценой.
	// Отказ биржи возвращается как ошибка, для которой errors.Is(err, ErrOrderRejected).
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// CancelOrder отменяет ордер
	CancelOrder(ctx context.Context, orderID string) error

	// GetOrderStatus статус ордера: PENDING, OPEN, FILLED, CANCELED или UNKNOWN
	GetOrderStatus(ctx context.Context, orderID string) (string, error)

	// GetOrder полная запись ордера (для сверки журнала)
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// GetOpenOrders ордера, ещё не исполненные и не отменённые
	GetOpenOrders(ctx context.Context) ([]*Order, error)

	// FindOrderByClientID ищет ордер по client id (ErrOrderNotFound если его нет)
	FindOrderByClientID(ctx context.Context, market string, clientID uint32) (*Order, error)

	// CancelOrderByClientID отменяет ордер, id которого ещё неизвестен
	CancelOrderByClientID(ctx context.Context, market string, clientID uint32) error

	// GetOpenPositions открытые позиции по рынкам
	GetOpenPositions(ctx context.Context) (map[string]*Position, error)

	// GetAccount свежий снимок аккаунта
	GetAccount(ctx context.Context) (*models.AccountSnapshot, error)

	// Close освобождает соединения
	Close() error
}

// MarketData только чтение рыночных данных (источник для бумажной торговли)
type MarketData interface {
	GetMarkets(ctx context.Context) (map[string]Market, error)
	GetRecentCandles(ctx context.Context, market, resolution string) ([]Candle, error)
	GetHistoricalCandles(ctx context.Context, market, resolution string, from, to time.Time) ([]Candle, error)
}

// Market метаданные рынка
type Market struct {
	Ticker      string  `json:"ticker"`
	Status      string  `json:"status"`    // ACTIVE, PAUSED, CANCEL_ONLY, ...
	TickSize    float64 `json:"tick_size"` // шаг цены
	StepSize    float64 `json:"step_size"` // шаг количества
	OraclePrice float64 `json:"oracle_price"`
	ClobPairID  int     `json:"clob_pair_id"`
}

// Active true если рынок торгуется
func (m Market) Active() bool {
	return m.Status == MarketStatusActive
}

// MarketStatusActive статус торгуемого рынка
const MarketStatusActive = "ACTIVE"

// Candle свеча; нужна только цена закрытия
type Candle struct {
	StartedAt time.Time `json:"started_at"`
	Close     float64   `json:"close"`
}

// OrderRequest параметры немедленного ордера.
// Size и Price уже округлены до шагов рынка и переданы строкой, как их примет биржа.
type OrderRequest struct {
	Market     string      `json:"market"`
	Side       models.Side `json:"side"`
	Size       string      `json:"size"`
	Price      string      `json:"price"`
	ReduceOnly bool        `json:"reduce_only"`
	ClientID   uint32      `json:"client_id"`
}

// OrderResult результат размещения
type OrderResult struct {
	OrderID  string `json:"order_id"`
	ClientID uint32 `json:"client_id"`
	Status   string `json:"status"`
}

// Order ордер на бирже
type Order struct {
	ID         string      `json:"id"`
	ClientID   uint32      `json:"client_id"`
	Market     string      `json:"market"`
	Side       models.Side `json:"side"`
	Size       string      `json:"size"`
	Price      string      `json:"price"`
	Status     string      `json:"status"`
	ReduceOnly bool        `json:"reduce_only"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Position открытая позиция
type Position struct {
	Market     string  `json:"market"`
	Side       string  `json:"side"` // LONG или SHORT
	Size       float64 `json:"size"` // абсолютный размер
	EntryPrice float64 `json:"entry_price"`
}

// CloseSide сторона ордера, закрывающего позицию
func (p Position) CloseSide() models.Side {
	if p.Side == PositionShort {
		return models.SideBuy
	}
	return models.SideSell
}

// Стороны позиции
const (
	PositionLong  = "LONG"
	PositionShort = "SHORT"
)

// Ошибки биржи
var (
	ErrOrderRejected   = errors.New("order rejected")
	ErrOrderNotFound   = errors.New("order not found")
	ErrMarketNotFound  = errors.New("market not found")
	ErrTradingDisabled = errors.New("trading disabled")

	// ErrOrderUnresolved ордер отправлен, но площадка не подтвердила его id: исход неизвестен
	ErrOrderUnresolved = errors.New("order unresolved")
)

// UnresolvedOrderError ордер принят к отправке, но не найден после размещения.
// Он мог исполниться: вызывающий обязан найти или отменить его по ClientID.
type UnresolvedOrderError struct {
	Market   string
	ClientID uint32
	Err      error
}

func (e *UnresolvedOrderError) Error() string {
	return fmt.Sprintf("order %d on %s unresolved: %v", e.ClientID, e.Market, e.Err)
}

// Unwrap даёт errors.Is(err, ErrOrderUnresolved) и доступ к причине
func (e *UnresolvedOrderError) Unwrap() []error {
	return []error{ErrOrderUnresolved, e.Err}
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange   string
	Code       string
	Message    string
	HTTPStatus int
	Original   error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code %s)", e.Exchange, e.Message, e.Code)
	}
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Retryable 429 и 5xx повторяются, остальные ответы биржи - нет
func (e *ExchangeError) Retryable() bool {
	return e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus >= http.StatusInternalServerError
}

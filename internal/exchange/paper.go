package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"statarb/internal/models"
)

const paperName = "paper"

// paperInitialMargin доля нотионала, которую позиция блокирует из свободного залога
const paperInitialMargin = 0.05

// PaperConfig настройки бумажной площадки
type PaperConfig struct {
	Collateral float64
	// Source - источник реальных данных (dry-run на живых ценах). nil = только SetMarket/SetCandles
	Source MarketData
}

// PaperGateway площадка в памяти: мгновенные исполнения, reduce-only, позиции, залог.
// Статусы и отказы можно задать сценарием - на этом построены тесты автомата ордеров.
type PaperGateway struct {
	mu sync.Mutex

	source     MarketData
	markets    map[string]Market
	candles    map[string][]Candle
	orders     map[string]*Order
	placed     []OrderRequest
	positions  map[string]float64 // знаковый размер: >0 long, <0 short
	entry      map[string]float64
	collateral float64

	// сценарии
	scripted   map[string][]string // market -> очередь статусов для следующих ордеров
	placeHook  func(req OrderRequest) error
	statusHook func(orderID string) (string, error)
	lost       map[string][]bool // market -> следующие размещения без ответа (true = ордер дошёл до биржи)
}

// NewPaperGateway создаёт бумажную площадку
func NewPaperGateway(cfg PaperConfig) *PaperGateway {
	return &PaperGateway{
		source:     cfg.Source,
		markets:    make(map[string]Market),
		candles:    make(map[string][]Candle),
		orders:     make(map[string]*Order),
		positions:  make(map[string]float64),
		entry:      make(map[string]float64),
		collateral: cfg.Collateral,
		scripted:   make(map[string][]string),
		lost:       make(map[string][]bool),
	}
}

// Name возвращает имя площадки
func (p *PaperGateway) Name() string {
	return paperName
}

// ============================================================
// Настройка сценария
// ============================================================

// SetMarket добавляет или заменяет рынок
func (p *PaperGateway) SetMarket(m Market) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markets[m.Ticker] = m
}

// SetCandles задаёт цены закрытия рынка (последняя - самая свежая), шаг 1 час
func (p *PaperGateway) SetCandles(market string, closes []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	end := time.Now().UTC().Truncate(time.Hour)
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = Candle{
			StartedAt: end.Add(-time.Duration(len(closes)-1-i) * time.Hour),
			Close:     c,
		}
	}
	p.candles[market] = out
}

// SetCollateral задаёт свободный залог
func (p *PaperGateway) SetCollateral(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collateral = v
}

// SetPosition задаёт позицию напрямую (позиция открыта вручную или до старта)
func (p *PaperGateway) SetPosition(market string, signedSize, entryPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if signedSize == 0 {
		delete(p.positions, market)
		delete(p.entry, market)
		return
	}
	p.positions[market] = signedSize
	p.entry[market] = entryPrice
}

// ScriptStatuses следующие ордера на рынке получат эти статусы вместо FILLED.
// Пустая строка в очереди = обычное исполнение.
func (p *PaperGateway) ScriptStatuses(market string, statuses ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripted[market] = append(p.scripted[market], statuses...)
}

// LoseNextPlacement следующее размещение на рынке вернёт UnresolvedOrderError.
// reachedBook=true - ордер при этом принят и исполняется как обычно,
// false - до биржи он не дошёл.
func (p *PaperGateway) LoseNextPlacement(market string, reachedBook bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lost[market] = append(p.lost[market], reachedBook)
}

// SetPlaceHook вызывается перед каждым размещением; ошибка = отказ
func (p *PaperGateway) SetPlaceHook(hook func(req OrderRequest) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placeHook = hook
}

// SetStatusHook подменяет ответ GetOrderStatus (nil-ответ хука с пустым статусом = обычный путь)
func (p *PaperGateway) SetStatusHook(hook func(orderID string) (string, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusHook = hook
}

// SetOrderStatus меняет статус существующего ордера
func (p *PaperGateway) SetOrderStatus(orderID, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.orders[orderID]; ok {
		o.Status = status
	}
}

// Placed все запросы на размещение, включая отклонённые
func (p *PaperGateway) Placed() []OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OrderRequest, len(p.placed))
	copy(out, p.placed)
	return out
}

// ============================================================
// Рыночные данные
// ============================================================

// GetMarkets метаданные рынков
func (p *PaperGateway) GetMarkets(ctx context.Context) (map[string]Market, error) {
	if p.source != nil {
		markets, err := p.source.GetMarkets(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		for k, m := range markets {
			p.markets[k] = m
		}
		p.mu.Unlock()
		return markets, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Market, len(p.markets))
	for k, m := range p.markets {
		out[k] = m
	}
	return out, nil
}

// GetRecentCandles последние свечи
func (p *PaperGateway) GetRecentCandles(ctx context.Context, market, resolution string) ([]Candle, error) {
	if p.source != nil {
		return p.source.GetRecentCandles(ctx, market, resolution)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.candles[market]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, market)
	}
	out := make([]Candle, len(c))
	copy(out, c)
	return out, nil
}

// GetHistoricalCandles свечи в интервале [from, to]
func (p *PaperGateway) GetHistoricalCandles(ctx context.Context, market, resolution string, from, to time.Time) ([]Candle, error) {
	if p.source != nil {
		return p.source.GetHistoricalCandles(ctx, market, resolution, from, to)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.candles[market]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, market)
	}
	var out []Candle
	for _, cd := range c {
		if !cd.StartedAt.Before(from) && !cd.StartedAt.After(to) {
			out = append(out, cd)
		}
	}
	return out, nil
}

// ============================================================
// Ордера
// ============================================================

// PlaceMarketOrder исполняет ордер немедленно по предельной цене
func (p *PaperGateway) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.placed = append(p.placed, req)

	if p.placeHook != nil {
		if err := p.placeHook(req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOrderRejected, err)
		}
	}

	m, ok := p.markets[req.Market]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, req.Market)
	}
	if !m.Active() {
		return nil, fmt.Errorf("%w: market %s is %s", ErrOrderRejected, req.Market, m.Status)
	}
	if !req.Side.Valid() {
		return nil, fmt.Errorf("%w: invalid side %q", ErrOrderRejected, req.Side)
	}

	size, err := strconv.ParseFloat(req.Size, 64)
	if err != nil || size <= 0 {
		return nil, fmt.Errorf("%w: invalid size %q", ErrOrderRejected, req.Size)
	}
	price, err := strconv.ParseFloat(req.Price, 64)
	if err != nil || price <= 0 {
		return nil, fmt.Errorf("%w: invalid price %q", ErrOrderRejected, req.Price)
	}

	delta := size
	if req.Side == models.SideSell {
		delta = -size
	}

	current := p.positions[req.Market]
	if req.ReduceOnly {
		// reduce-only: только против текущей позиции и не больше неё
		if current == 0 || (current > 0) == (delta > 0) || abs(delta) > abs(current)+1e-12 {
			return nil, fmt.Errorf("%w: reduce-only order would increase position on %s", ErrOrderRejected, req.Market)
		}
	}

	clientID := req.ClientID
	if clientID == 0 {
		clientID = uuid.New().ID()
	}

	lost, reachedBook := false, true
	if queue := p.lost[req.Market]; len(queue) > 0 {
		lost, reachedBook = true, queue[0]
		p.lost[req.Market] = queue[1:]
	}
	if !reachedBook {
		return nil, &UnresolvedOrderError{Market: req.Market, ClientID: clientID, Err: errors.New("no response from venue")}
	}
	order := &Order{
		ID:         uuid.NewString(),
		ClientID:   clientID,
		Market:     req.Market,
		Side:       req.Side,
		Size:       req.Size,
		Price:      req.Price,
		Status:     models.OrderStatusFilled,
		ReduceOnly: req.ReduceOnly,
		CreatedAt:  time.Now().UTC(),
	}

	if queue := p.scripted[req.Market]; len(queue) > 0 {
		if queue[0] != "" {
			order.Status = queue[0]
		}
		p.scripted[req.Market] = queue[1:]
	}

	if order.Status == models.OrderStatusFilled {
		p.fill(req.Market, delta, price)
	}
	p.orders[order.ID] = order

	if lost {
		return nil, &UnresolvedOrderError{Market: req.Market, ClientID: clientID, Err: errors.New("no response from venue")}
	}
	return &OrderResult{OrderID: order.ID, ClientID: clientID, Status: order.Status}, nil
}

// fill обновляет позицию и залог; вызывается под lock'ом
func (p *PaperGateway) fill(market string, delta, price float64) {
	current := p.positions[market]
	next := current + delta

	// открытие блокирует маржу, сокращение - освобождает
	p.collateral += (abs(current) - abs(next)) * price * paperInitialMargin

	switch {
	case abs(next) < 1e-12:
		delete(p.positions, market)
		delete(p.entry, market)
	case current == 0 || (current > 0) != (next > 0):
		p.positions[market] = next
		p.entry[market] = price
	default:
		if abs(next) > abs(current) {
			p.entry[market] = (p.entry[market]*abs(current) + price*abs(delta)) / abs(next)
		}
		p.positions[market] = next
	}
}

// CancelOrder отменяет неисполненный ордер
func (p *PaperGateway) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if o.Status != models.OrderStatusFilled {
		o.Status = models.OrderStatusCanceled
	}
	return nil
}

// GetOrderStatus статус ордера
func (p *PaperGateway) GetOrderStatus(ctx context.Context, orderID string) (string, error) {
	p.mu.Lock()
	hook := p.statusHook
	p.mu.Unlock()

	if hook != nil {
		if status, err := hook(orderID); err != nil || status != "" {
			return status, err
		}
	}

	o, err := p.GetOrder(ctx, orderID)
	if err != nil {
		return models.OrderStatusUnknown, err
	}
	return o.Status, nil
}

// GetOrder копия ордера
func (p *PaperGateway) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	cp := *o
	return &cp, nil
}

// FindOrderByClientID ищет ордер по client id
func (p *PaperGateway) FindOrderByClientID(ctx context.Context, market string, clientID uint32) (*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if o := p.byClientID(market, clientID); o != nil {
		cp := *o
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: client id %d on %s", ErrOrderNotFound, clientID, market)
}

// CancelOrderByClientID отменяет ордер по client id; неизвестный ордер - не ошибка
func (p *PaperGateway) CancelOrderByClientID(ctx context.Context, market string, clientID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if o := p.byClientID(market, clientID); o != nil && o.Status != models.OrderStatusFilled {
		o.Status = models.OrderStatusCanceled
	}
	return nil
}

// byClientID вызывается под lock'ом
func (p *PaperGateway) byClientID(market string, clientID uint32) *Order {
	for _, o := range p.orders {
		if o.Market == market && o.ClientID == clientID {
			return o
		}
	}
	return nil
}

// GetOpenOrders ордера в статусах OPEN/PENDING
func (p *PaperGateway) GetOpenOrders(ctx context.Context) ([]*Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*Order
	for _, o := range p.orders {
		if o.Status == models.OrderStatusOpen || o.Status == models.OrderStatusPending {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetOpenPositions открытые позиции
func (p *PaperGateway) GetOpenPositions(ctx context.Context) (map[string]*Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]*Position, len(p.positions))
	for market, size := range p.positions {
		side := PositionLong
		if size < 0 {
			side = PositionShort
		}
		out[market] = &Position{
			Market:     market,
			Side:       side,
			Size:       abs(size),
			EntryPrice: p.entry[market],
		}
	}
	return out, nil
}

// GetAccount снимок залога
func (p *PaperGateway) GetAccount(ctx context.Context) (*models.AccountSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &models.AccountSnapshot{
		FreeCollateral: p.collateral,
		Equity:         p.collateral,
		FetchedAt:      time.Now().UTC(),
	}, nil
}

// Close ничего не делает
func (p *PaperGateway) Close() error {
	return nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

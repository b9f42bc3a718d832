package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"statarb/internal/models"
	"statarb/pkg/ratelimit"
	"statarb/pkg/retry"
	"statarb/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	dydxName             = "dydx"
	dydxMainnetIndexer   = "https://indexer.dydx.trade"
	dydxDefaultCandleCap = 100
)

// DydxConfig настройки клиента dYdX v4
type DydxConfig struct {
	IndexerURL       string
	Address          string // адрес кошелька dydx1...
	SubaccountNumber int

	// лимит запросов к индексеру
	RateLimit float64
	Burst     float64

	// поиск id ордера по client id после размещения
	ResolveAttempts int
	ResolveDelay    time.Duration

	Signer     OrderSigner
	HTTPClient *http.Client
}

// DydxClient реализует Gateway поверх публичного индексера dYdX v4.
// Чтение идёт напрямую в индексер, подпись и отправка транзакций - через OrderSigner.
type DydxClient struct {
	cfg        DydxConfig
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	policy     retry.Policy
	signer     OrderSigner
	log        *utils.Logger
}

// NewDydxClient создаёт клиента. Без подписанта клиент работает только на чтение.
func NewDydxClient(cfg DydxConfig) *DydxClient {
	if cfg.IndexerURL == "" {
		cfg.IndexerURL = dydxMainnetIndexer
	}
	cfg.IndexerURL = strings.TrimRight(cfg.IndexerURL, "/")
	if cfg.ResolveAttempts <= 0 {
		cfg.ResolveAttempts = 3
	}
	if cfg.ResolveDelay <= 0 {
		cfg.ResolveDelay = 2 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = GetGlobalHTTPClient().GetClient()
	}

	c := &DydxClient{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    ratelimit.New(cfg.RateLimit, cfg.Burst),
		policy:     retry.Network(),
		signer:     cfg.Signer,
		log:        utils.L().WithComponent("dydx"),
	}
	c.policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Warn("indexer request failed, retrying",
			utils.Int("attempt", attempt),
			utils.Duration("delay", delay),
			utils.Err(err))
	}
	return c
}

// Name возвращает имя площадки
func (c *DydxClient) Name() string {
	return dydxName
}

// doRequest выполняет GET запрос к индексеру
func (c *DydxClient) doRequest(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.cfg.IndexerURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	c.log.Debug("indexer request",
		utils.String("endpoint", endpoint),
		utils.Int("status", resp.StatusCode),
		utils.Since(start))

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Errors []struct {
				Msg string `json:"msg"`
			} `json:"errors"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &errResp) == nil && len(errResp.Errors) > 0 {
			msg = errResp.Errors[0].Msg
		}
		return nil, &ExchangeError{
			Exchange:   dydxName,
			Code:       strconv.Itoa(resp.StatusCode),
			Message:    msg,
			HTTPStatus: resp.StatusCode,
		}
	}

	return body, nil
}

// get запрос с повторами временных ошибок и разбором JSON
func (c *DydxClient) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	return retry.Do(ctx, c.policy, func() error {
		body, err := c.doRequest(ctx, endpoint, params)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return retry.Permanent(fmt.Errorf("decode %s: %w", endpoint, err))
		}
		return nil
	})
}

func isNotFound(err error) bool {
	var exErr *ExchangeError
	return errors.As(err, &exErr) && exErr.HTTPStatus == http.StatusNotFound
}

// ============================================================
// Рыночные данные
// ============================================================

type dydxMarket struct {
	Ticker      string `json:"ticker"`
	Status      string `json:"status"`
	OraclePrice string `json:"oraclePrice"`
	TickSize    string `json:"tickSize"`
	StepSize    string `json:"stepSize"`
	ClobPairID  string `json:"clobPairId"`
}

func (m dydxMarket) toMarket() Market {
	clob, _ := strconv.Atoi(m.ClobPairID)
	return Market{
		Ticker:      m.Ticker,
		Status:      m.Status,
		TickSize:    parseFloat(m.TickSize),
		StepSize:    parseFloat(m.StepSize),
		OraclePrice: parseFloat(m.OraclePrice),
		ClobPairID:  clob,
	}
}

// GetMarkets получает метаданные всех perpetual рынков
func (c *DydxClient) GetMarkets(ctx context.Context) (map[string]Market, error) {
	var resp struct {
		Markets map[string]dydxMarket `json:"markets"`
	}
	if err := c.get(ctx, "/v4/perpetualMarkets", nil, &resp); err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}

	markets := make(map[string]Market, len(resp.Markets))
	for ticker, m := range resp.Markets {
		if m.Ticker == "" {
			m.Ticker = ticker
		}
		markets[ticker] = m.toMarket()
	}
	return markets, nil
}

func (c *DydxClient) getMarket(ctx context.Context, market string) (Market, error) {
	var resp struct {
		Markets map[string]dydxMarket `json:"markets"`
	}
	params := url.Values{}
	params.Set("ticker", market)
	if err := c.get(ctx, "/v4/perpetualMarkets", params, &resp); err != nil {
		return Market{}, fmt.Errorf("get market %s: %w", market, err)
	}
	m, ok := resp.Markets[market]
	if !ok {
		return Market{}, fmt.Errorf("%w: %s", ErrMarketNotFound, market)
	}
	return m.toMarket(), nil
}

type dydxCandle struct {
	StartedAt time.Time `json:"startedAt"`
	Close     string    `json:"close"`
}

func (c *DydxClient) candles(ctx context.Context, market string, params url.Values) ([]Candle, error) {
	var resp struct {
		Candles []dydxCandle `json:"candles"`
	}
	if err := c.get(ctx, "/v4/candles/perpetualMarkets/"+url.PathEscape(market), params, &resp); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, market)
		}
		return nil, fmt.Errorf("get candles %s: %w", market, err)
	}

	// индексер отдаёт от новых к старым
	out := make([]Candle, 0, len(resp.Candles))
	for i := len(resp.Candles) - 1; i >= 0; i-- {
		cd := resp.Candles[i]
		out = append(out, Candle{StartedAt: cd.StartedAt, Close: parseFloat(cd.Close)})
	}
	return out, nil
}

// GetRecentCandles последние свечи, самая свежая - последняя
func (c *DydxClient) GetRecentCandles(ctx context.Context, market, resolution string) ([]Candle, error) {
	params := url.Values{}
	params.Set("resolution", resolution)
	return c.candles(ctx, market, params)
}

// GetHistoricalCandles свечи в интервале [from, to]
func (c *DydxClient) GetHistoricalCandles(ctx context.Context, market, resolution string, from, to time.Time) ([]Candle, error) {
	params := url.Values{}
	params.Set("resolution", resolution)
	params.Set("fromISO", utils.FormatISO(from))
	params.Set("toISO", utils.FormatISO(to))
	params.Set("limit", strconv.Itoa(dydxDefaultCandleCap))
	return c.candles(ctx, market, params)
}

// ============================================================
// Ордера
// ============================================================

type dydxOrder struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"clientId"`
	ClobPairID string    `json:"clobPairId"`
	Ticker     string    `json:"ticker"`
	Side       string    `json:"side"`
	Size       string    `json:"size"`
	Price      string    `json:"price"`
	Status     string    `json:"status"`
	ReduceOnly bool      `json:"reduceOnly"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (o dydxOrder) toOrder() *Order {
	clientID, _ := strconv.ParseUint(o.ClientID, 10, 32)
	return &Order{
		ID:         o.ID,
		ClientID:   uint32(clientID),
		Market:     o.Ticker,
		Side:       models.Side(o.Side),
		Size:       o.Size,
		Price:      o.Price,
		Status:     normalizeStatus(o.Status),
		ReduceOnly: o.ReduceOnly,
		CreatedAt:  o.UpdatedAt,
	}
}

// normalizeStatus сводит статусы индексера к PENDING/OPEN/FILLED/CANCELED/UNKNOWN
func normalizeStatus(status string) string {
	switch status {
	case "FILLED":
		return models.OrderStatusFilled
	case "CANCELED", "BEST_EFFORT_CANCELED":
		return models.OrderStatusCanceled
	case "OPEN":
		return models.OrderStatusOpen
	case "BEST_EFFORT_OPENED", "UNTRIGGERED", "PENDING":
		return models.OrderStatusPending
	default:
		return models.OrderStatusUnknown
	}
}

// PlaceMarketOrder подписывает и отправляет ордер, затем находит его id в индексере
func (c *DydxClient) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("%w: no order signer configured", ErrTradingDisabled)
	}

	market, err := c.getMarket(ctx, req.Market)
	if err != nil {
		return nil, err
	}
	if !market.Active() {
		return nil, fmt.Errorf("%w: market %s is %s", ErrOrderRejected, req.Market, market.Status)
	}

	if req.ClientID == 0 {
		req.ClientID = uuid.New().ID()
	}

	signed := SignerOrder{
		Address:          c.cfg.Address,
		SubaccountNumber: c.cfg.SubaccountNumber,
		ClobPairID:       market.ClobPairID,
		ClientID:         req.ClientID,
		Market:           req.Market,
		Side:             req.Side,
		Size:             req.Size,
		Price:            req.Price,
		ReduceOnly:       req.ReduceOnly,
	}
	if err := c.signer.PlaceOrder(ctx, signed); err != nil {
		return nil, err
	}

	// ордер появляется в индексере с задержкой: ищем по client id и clob pair.
	// С этого момента ордер на бирже, отказом его считать нельзя.
	order, err := retry.Poll(ctx, retry.Fixed(c.cfg.ResolveAttempts, c.cfg.ResolveDelay),
		func(attempt int) (*Order, bool, error) {
			o, err := c.findByClientID(ctx, req.Market, market.ClobPairID, req.ClientID)
			if errors.Is(err, ErrOrderNotFound) {
				return nil, false, nil
			}
			return o, err == nil, err
		})
	if err != nil {
		c.log.Error("placed order not found in indexer",
			utils.Market(req.Market),
			utils.Int64("client_id", int64(req.ClientID)),
			utils.Err(err))
		return nil, &UnresolvedOrderError{Market: req.Market, ClientID: req.ClientID, Err: err}
	}

	c.log.Info("order placed",
		utils.Market(req.Market),
		utils.OrderID(order.ID),
		utils.Side(string(req.Side)),
		utils.String("size", req.Size),
		utils.String("price", req.Price),
		utils.Bool("reduce_only", req.ReduceOnly))

	return &OrderResult{OrderID: order.ID, ClientID: req.ClientID, Status: order.Status}, nil
}

// findByClientID ордер субаккаунта с данным client id на clob pair рынка
func (c *DydxClient) findByClientID(ctx context.Context, market string, clobPairID int, clientID uint32) (*Order, error) {
	orders, err := c.subaccountOrders(ctx, market, "")
	if err != nil {
		return nil, err
	}
	want := strconv.FormatUint(uint64(clientID), 10)
	for _, o := range orders {
		clob, _ := strconv.Atoi(o.ClobPairID)
		if o.ClientID == want && clob == clobPairID {
			return o.toOrder(), nil
		}
	}
	return nil, fmt.Errorf("%w: client id %d on %s", ErrOrderNotFound, clientID, market)
}

// FindOrderByClientID ищет ордер по client id среди последних ордеров рынка
func (c *DydxClient) FindOrderByClientID(ctx context.Context, market string, clientID uint32) (*Order, error) {
	m, err := c.getMarket(ctx, market)
	if err != nil {
		return nil, err
	}
	return c.findByClientID(ctx, market, m.ClobPairID, clientID)
}

// CancelOrderByClientID отменяет ордер по client id, не дожидаясь индексера
func (c *DydxClient) CancelOrderByClientID(ctx context.Context, market string, clientID uint32) error {
	if c.signer == nil {
		return fmt.Errorf("%w: no order signer configured", ErrTradingDisabled)
	}
	m, err := c.getMarket(ctx, market)
	if err != nil {
		return err
	}
	err = c.signer.CancelOrder(ctx, SignerCancel{
		Address:          c.cfg.Address,
		SubaccountNumber: c.cfg.SubaccountNumber,
		ClobPairID:       m.ClobPairID,
		ClientID:         clientID,
		Market:           market,
	})
	if err != nil {
		return fmt.Errorf("cancel order %d on %s: %w", clientID, market, err)
	}
	c.log.Info("cancel by client id requested", utils.Market(market), utils.Int64("client_id", int64(clientID)))
	return nil
}

// subaccountOrders последние ордера субаккаунта, опционально по рынку и статусу
func (c *DydxClient) subaccountOrders(ctx context.Context, market, status string) ([]dydxOrder, error) {
	params := url.Values{}
	params.Set("address", c.cfg.Address)
	params.Set("subaccountNumber", strconv.Itoa(c.cfg.SubaccountNumber))
	params.Set("returnLatestOrders", "true")
	if market != "" {
		params.Set("ticker", market)
	}
	if status != "" {
		params.Set("status", status)
	}

	var orders []dydxOrder
	if err := c.get(ctx, "/v4/orders", params, &orders); err != nil {
		return nil, fmt.Errorf("get subaccount orders: %w", err)
	}
	return orders, nil
}

// GetOrder полная запись ордера
func (c *DydxClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: empty order id", ErrOrderNotFound)
	}
	var o dydxOrder
	if err := c.get(ctx, "/v4/orders/"+url.PathEscape(orderID), nil, &o); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return o.toOrder(), nil
}

// GetOrderStatus статус ордера
func (c *DydxClient) GetOrderStatus(ctx context.Context, orderID string) (string, error) {
	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		return models.OrderStatusUnknown, err
	}
	return order.Status, nil
}

// GetOpenOrders открытые ордера субаккаунта
func (c *DydxClient) GetOpenOrders(ctx context.Context) ([]*Order, error) {
	orders, err := c.subaccountOrders(ctx, "", "OPEN")
	if err != nil {
		return nil, err
	}
	out := make([]*Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.toOrder())
	}
	return out, nil
}

// CancelOrder отменяет ордер через подписанта
func (c *DydxClient) CancelOrder(ctx context.Context, orderID string) error {
	if c.signer == nil {
		return fmt.Errorf("%w: no order signer configured", ErrTradingDisabled)
	}

	var o dydxOrder
	if err := c.get(ctx, "/v4/orders/"+url.PathEscape(orderID), nil, &o); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	clientID, _ := strconv.ParseUint(o.ClientID, 10, 32)
	clob, _ := strconv.Atoi(o.ClobPairID)
	err := c.signer.CancelOrder(ctx, SignerCancel{
		Address:          c.cfg.Address,
		SubaccountNumber: c.cfg.SubaccountNumber,
		ClobPairID:       clob,
		ClientID:         uint32(clientID),
		Market:           o.Ticker,
	})
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	c.log.Info("cancel requested", utils.OrderID(orderID), utils.Market(o.Ticker))
	return nil
}

// ============================================================
// Аккаунт
// ============================================================

type dydxPosition struct {
	Market     string `json:"market"`
	Status     string `json:"status"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	EntryPrice string `json:"entryPrice"`
}

type dydxSubaccount struct {
	Equity                 string                  `json:"equity"`
	FreeCollateral         string                  `json:"freeCollateral"`
	OpenPerpetualPositions map[string]dydxPosition `json:"openPerpetualPositions"`
}

func (c *DydxClient) subaccount(ctx context.Context) (*dydxSubaccount, error) {
	var resp struct {
		Subaccount dydxSubaccount `json:"subaccount"`
	}
	endpoint := fmt.Sprintf("/v4/addresses/%s/subaccountNumber/%d", url.PathEscape(c.cfg.Address), c.cfg.SubaccountNumber)
	if err := c.get(ctx, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("get subaccount: %w", err)
	}
	return &resp.Subaccount, nil
}

// GetOpenPositions открытые позиции по рынкам
func (c *DydxClient) GetOpenPositions(ctx context.Context) (map[string]*Position, error) {
	sub, err := c.subaccount(ctx)
	if err != nil {
		return nil, err
	}

	positions := make(map[string]*Position, len(sub.OpenPerpetualPositions))
	for market, p := range sub.OpenPerpetualPositions {
		size := parseFloat(p.Size)
		if size < 0 {
			size = -size
		}
		if p.Market == "" {
			p.Market = market
		}
		positions[market] = &Position{
			Market:     p.Market,
			Side:       p.Side,
			Size:       size,
			EntryPrice: parseFloat(p.EntryPrice),
		}
	}
	return positions, nil
}

// GetAccount свежий снимок аккаунта
func (c *DydxClient) GetAccount(ctx context.Context) (*models.AccountSnapshot, error) {
	sub, err := c.subaccount(ctx)
	if err != nil {
		return nil, err
	}
	return &models.AccountSnapshot{
		FreeCollateral: parseFloat(sub.FreeCollateral),
		Equity:         parseFloat(sub.Equity),
		FetchedAt:      time.Now().UTC(),
	}, nil
}

// Close закрывает idle соединения
func (c *DydxClient) Close() error {
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

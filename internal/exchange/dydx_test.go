package exchange

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"statarb/internal/models"
)

const testAddress = "dydx1testaddress"

// newTestIndexer поднимает фейковый индексер с заданными обработчиками
func newTestIndexer(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string, signer OrderSigner) *DydxClient {
	c := NewDydxClient(DydxConfig{
		IndexerURL:      url,
		Address:         testAddress,
		RateLimit:       1000,
		Burst:           1000,
		ResolveAttempts: 2,
		ResolveDelay:    time.Millisecond,
		Signer:          signer,
	})
	c.policy.Delay = time.Millisecond
	c.policy.Jitter = 0
	return c
}

const marketsJSON = `{"markets":{
	"BTC-USD":{"ticker":"BTC-USD","status":"ACTIVE","oraclePrice":"65000.5","tickSize":"1","stepSize":"0.0001","clobPairId":"0"},
	"ETH-USD":{"ticker":"ETH-USD","status":"ACTIVE","oraclePrice":"3500.25","tickSize":"0.1","stepSize":"0.001","clobPairId":"1"},
	"LUNA-USD":{"ticker":"LUNA-USD","status":"FINAL_SETTLEMENT","oraclePrice":"0.1","tickSize":"0.0001","stepSize":"1","clobPairId":"9"}
}}`

func TestDydx_GetMarkets(t *testing.T) {
	srv := newTestIndexer(t, map[string]http.HandlerFunc{
		"/v4/perpetualMarkets": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, marketsJSON)
		},
	})
	c := newTestClient(srv.URL, nil)

	markets, err := c.GetMarkets(context.Background())
	if err != nil {
		t.Fatalf("GetMarkets: %v", err)
	}
	if len(markets) != 3 {
		t.Fatalf("ожидали 3 рынка, получили %d", len(markets))
	}

	eth := markets["ETH-USD"]
	if eth.TickSize != 0.1 || eth.StepSize != 0.001 || eth.OraclePrice != 3500.25 || eth.ClobPairID != 1 {
		t.Errorf("ETH-USD разобран неверно: %+v", eth)
	}
	if !eth.Active() {
		t.Error("ETH-USD должен быть активным")
	}
	if markets["LUNA-USD"].Active() {
		t.Error("LUNA-USD не должен быть активным")
	}
}

func TestDydx_GetRecentCandles_OldestFirst(t *testing.T) {
	srv := newTestIndexer(t, map[string]http.HandlerFunc{
		"/v4/candles/perpetualMarkets/ETH-USD": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("resolution"); got != "1HOUR" {
				t.Errorf("resolution: ожидали 1HOUR, получили %s", got)
			}
			// индексер отдаёт от новых к старым
			io.WriteString(w, `{"candles":[
				{"startedAt":"2024-03-01T12:00:00.000Z","close":"3"},
				{"startedAt":"2024-03-01T11:00:00.000Z","close":"2"},
				{"startedAt":"2024-03-01T10:00:00.000Z","close":"1"}]}`)
		},
	})
	c := newTestClient(srv.URL, nil)

	candles, err := c.GetRecentCandles(context.Background(), "ETH-USD", "1HOUR")
	if err != nil {
		t.Fatalf("GetRecentCandles: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("ожидали 3 свечи, получили %d", len(candles))
	}
	for i, want := range []float64{1, 2, 3} {
		if candles[i].Close != want {
			t.Errorf("свеча %d: ожидали %v, получили %v", i, want, candles[i].Close)
		}
	}
	if !candles[0].StartedAt.Before(candles[2].StartedAt) {
		t.Error("свечи должны идти по возрастанию времени")
	}
}

func TestDydx_GetHistoricalCandles_Params(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(100 * time.Hour)

	srv := newTestIndexer(t, map[string]http.HandlerFunc{
		"/v4/candles/perpetualMarkets/BTC-USD": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("fromISO") != "2024-03-01T00:00:00.000Z" {
				t.Errorf("fromISO: получили %s", q.Get("fromISO"))
			}
			if q.Get("toISO") != "2024-03-05T04:00:00.000Z" {
				t.Errorf("toISO: получили %s", q.Get("toISO"))
			}
			if q.Get("limit") != "100" {
				t.Errorf("limit: получили %s", q.Get("limit"))
			}
			io.WriteString(w, `{"candles":[]}`)
		},
	})
	c := newTestClient(srv.URL, nil)

	if _, err := c.GetHistoricalCandles(context.Background(), "BTC-USD", "1HOUR", from, to); err != nil {
		t.Fatalf("GetHistoricalCandles: %v", err)
	}
}

func TestDydx_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := newTestIndexer(t, map[string]http.HandlerFunc{
		"/v4/perpetualMarkets": func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			io.WriteString(w, marketsJSON)
		},
	})
	c := newTestClient(srv.URL, nil)

	if _, err := c.GetMarkets(context.Background()); err != nil {
		t.Fatalf("ожидали успех после повторов, получили %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("ожидали 3 запроса, получили %d", got)
	}
}

func TestDydx_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := newTestIndexer(t, map[string]http.HandlerFunc{
		"/v4/orders/": func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"errors":[{"msg":"Order not found"}]}`)
		},
	})
	c := newTestClient(srv.URL, nil)

	_, err := c.GetOrder(context.Background(), "missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("ожидали ErrOrderNotFound, получили %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("404 не должен повторяться, запросов: %d", got)
	}

	status, err := c.GetOrderStatus(context.Background(), "missing")
	if err == nil || status != models.OrderStatusUnknown {
		t.Errorf("ожидали UNKNOWN с ошибкой, получили %s, %v", status, err)
	}
}

func TestDydx_GetOrder_NormalizesStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"FILLED", models.OrderStatusFilled},
		{"CANCELED", models.OrderStatusCanceled},
		{"BEST_EFFORT_CANCELED", models.OrderStatusCanceled},
		{"OPEN", models.OrderStatusOpen},
		{"BEST_EFFORT_OPENED", models.OrderStatusPending},
		{"SOMETHING_NEW", models.OrderStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			srv := newTestIndexer(t, map[string]http.HandlerFunc{
				"/v4/orders/o1": func(w http.ResponseWriter, r *http.Request) {
					io.WriteString(w, `{"id":"o1","clientId":"42","clobPairId":"1","ticker":"ETH-USD",
						"side":"SELL","size":"0.007","price":"3465.1","status":"`+tt.raw+`","reduceOnly":true}`)
				},
			})
			c := newTestClient(srv.URL, nil)

			o, err := c.GetOrder(context.Background(), "o1")
			if err != nil {
				t.Fatalf("GetOrder: %v", err)
			}
			if o.Status != tt.want {
				t.Errorf("статус %s: ожидали %s, получили %s", tt.raw, tt.want, o.Status)
			}
			if o.Market != "ETH-USD" || o.Side != models.SideSell || o.Size != "0.007" || o.ClientID != 42 || !o.ReduceOnly {
				t.Errorf("ордер разобран неверно: %+v", o)
			}
		})
	}
}

func TestDydx_GetAccountAndPositions(t *testing.T) {
	srv := newTestIndexer(t, map[string]http.HandlerFunc{
		"/v4/addresses/" + testAddress + "/subaccountNumber/0": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"subaccount":{"equity":"1250.5","freeCollateral":"980.25",
				"openPerpetualPositions":{
					"ETH-USD":{"market":"ETH-USD","status":"OPEN","side":"LONG","size":"0.008","entryPrice":"3500"},
					"BTC-USD":{"market":"BTC-USD","status":"OPEN","side":"SHORT","size":"-0.0004","entryPrice":"65000"}}}}`)
		},
	})
	c := newTestClient(srv.URL, nil)

	acc, err := c.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.FreeCollateral != 980.25 || acc.Equity != 1250.5 {
		t.Errorf("аккаунт разобран неверно: %+v", acc)
	}

	positions, err := c.GetOpenPositions(context.Background())
	if err != nil {
		t.Fatalf("GetOpenPositions: %v", err)
	}
	btc := positions["BTC-USD"]
	if btc == nil || btc.Size != 0.0004 || btc.Side != PositionShort {
		t.Errorf("BTC-USD: размер должен быть по модулю, получили %+v", btc)
	}
	if btc.CloseSide() != models.SideBuy {
		t.Error("шорт закрывается покупкой")
	}
	if positions["ETH-USD"].CloseSide() != models.SideSell {
		t.Error("лонг закрывается продажей")
	}
}

// fakeSigner запоминает ордера и может отказать
type fakeSigner struct {
	placed   []SignerOrder
	canceled []SignerCancel
	err      error
}

func (f *fakeSigner) PlaceOrder(ctx context.Context, o SignerOrder) error {
	f.placed = append(f.placed, o)
	return f.err
}

func (f *fakeSigner) CancelOrder(ctx context.Context, c SignerCancel) error {
	f.canceled = append(f.canceled, c)
	return f.err
}

func TestDydx_PlaceMarketOrder_ResolvesOrderID(t *testing.T) {
	srv := newTestIndexer(t, map[string]http.HandlerFunc{
		"/v4/perpetualMarkets": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, marketsJSON)
		},
		"/v4/orders": func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("address") != testAddress || q.Get("ticker") != "ETH-USD" {
				t.Errorf("неверные параметры: %s", r.URL.RawQuery)
			}
			io.WriteString(w, `[
				{"id":"other","clientId":"1","clobPairId":"1","ticker":"ETH-USD","status":"FILLED"},
				{"id":"mine","clientId":"777","clobPairId":"1","ticker":"ETH-USD","status":"FILLED"}]`)
		},
	})
	signer := &fakeSigner{}
	c := newTestClient(srv.URL, signer)

	res, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		Market: "ETH-USD", Side: models.SideBuy, Size: "0.007", Price: "3535.3", ClientID: 777,
	})
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if res.OrderID != "mine" {
		t.Errorf("ожидали order id 'mine', получили %s", res.OrderID)
	}
	if len(signer.placed) != 1 || signer.placed[0].ClobPairID != 1 || signer.placed[0].Address != testAddress {
		t.Errorf("подписанту ушёл неверный ордер: %+v", signer.placed)
	}
}

// Индексер так и не показал принятый подписантом ордер: исход неизвестен, не отказ
func TestDydx_PlaceMarketOrder_NotFoundIsUnresolved(t *testing.T) {
	var lookups int32
	srv := newTestIndexer(t, map[string]http.HandlerFunc{
		"/v4/perpetualMarkets": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, marketsJSON)
		},
		"/v4/orders": func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&lookups, 1)
			io.WriteString(w, `[{"id":"other","clientId":"1","clobPairId":"1","ticker":"ETH-USD","status":"FILLED"}]`)
		},
	})
	signer := &fakeSigner{}
	c := newTestClient(srv.URL, signer)

	res, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		Market: "ETH-USD", Side: models.SideBuy, Size: "0.007", Price: "3535.3", ClientID: 4242,
	})
	if res != nil {
		t.Errorf("результата быть не должно: %+v", res)
	}
	if !errors.Is(err, ErrOrderUnresolved) {
		t.Fatalf("ожидали ErrOrderUnresolved, получили %v", err)
	}
	if errors.Is(err, ErrOrderRejected) {
		t.Error("отправленный ордер нельзя считать отклонённым")
	}

	var unresolved *UnresolvedOrderError
	if !errors.As(err, &unresolved) {
		t.Fatalf("ожидали UnresolvedOrderError, получили %T", err)
	}
	if unresolved.ClientID != 4242 || unresolved.Market != "ETH-USD" {
		t.Errorf("ошибка без client id: %+v", unresolved)
	}
	if len(signer.placed) != 1 {
		t.Errorf("подписанту ушло %d ордеров", len(signer.placed))
	}
	if n := atomic.LoadInt32(&lookups); n != 2 {
		t.Errorf("поисков в индексере %d, ожидали 2 (ResolveAttempts)", n)
	}
}

func TestDydx_FindAndCancelByClientID(t *testing.T) {
	srv := newTestIndexer(t, map[string]http.HandlerFunc{
		"/v4/perpetualMarkets": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, marketsJSON)
		},
		"/v4/orders": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `[
				{"id":"wrong-clob","clientId":"55","clobPairId":"0","ticker":"BTC-USD","status":"OPEN"},
				{"id":"mine","clientId":"55","clobPairId":"1","ticker":"ETH-USD","status":"BEST_EFFORT_CANCELED"}]`)
		},
	})
	signer := &fakeSigner{}
	c := newTestClient(srv.URL, signer)
	ctx := context.Background()

	o, err := c.FindOrderByClientID(ctx, "ETH-USD", 55)
	if err != nil {
		t.Fatalf("FindOrderByClientID: %v", err)
	}
	if o.ID != "mine" || o.Status != models.OrderStatusCanceled {
		t.Errorf("найден %s со статусом %s", o.ID, o.Status)
	}

	if _, err := c.FindOrderByClientID(ctx, "ETH-USD", 56); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("ожидали ErrOrderNotFound, получили %v", err)
	}

	if err := c.CancelOrderByClientID(ctx, "ETH-USD", 55); err != nil {
		t.Fatalf("CancelOrderByClientID: %v", err)
	}
	if len(signer.canceled) != 1 || signer.canceled[0].ClientID != 55 || signer.canceled[0].ClobPairID != 1 {
		t.Errorf("отмена ушла подписанту неверно: %+v", signer.canceled)
	}

	if err := newTestClient(srv.URL, nil).CancelOrderByClientID(ctx, "ETH-USD", 55); !errors.Is(err, ErrTradingDisabled) {
		t.Errorf("без подписанта ожидали ErrTradingDisabled, получили %v", err)
	}
}

func TestDydx_PlaceMarketOrder_InactiveMarket(t *testing.T) {
	srv := newTestIndexer(t, map[string]http.HandlerFunc{
		"/v4/perpetualMarkets": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, marketsJSON)
		},
	})
	signer := &fakeSigner{}
	c := newTestClient(srv.URL, signer)

	_, err := c.PlaceMarketOrder(context.Background(), OrderRequest{
		Market: "LUNA-USD", Side: models.SideBuy, Size: "1", Price: "0.1",
	})
	if !errors.Is(err, ErrOrderRejected) {
		t.Errorf("ожидали ErrOrderRejected, получили %v", err)
	}
	if len(signer.placed) != 0 {
		t.Error("ордер на неактивный рынок не должен уходить подписанту")
	}
}

func TestDydx_PlaceMarketOrder_NoSigner(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0", nil)

	_, err := c.PlaceMarketOrder(context.Background(), OrderRequest{Market: "ETH-USD"})
	if !errors.Is(err, ErrTradingDisabled) {
		t.Errorf("ожидали ErrTradingDisabled, получили %v", err)
	}
}

// ============ SidecarSigner ============

func TestSidecarSigner_Place(t *testing.T) {
	var gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" || r.Method != http.MethodPost {
			t.Errorf("неожиданный запрос %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("X-API-Key")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		io.WriteString(w, `{"tx_hash":"ABC"}`)
	}))
	defer srv.Close()

	s := NewSidecarSigner(srv.URL+"/", "secret", nil)
	err := s.PlaceOrder(context.Background(), SignerOrder{Market: "ETH-USD", Side: models.SideSell, Size: "1", ReduceOnly: true})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("X-API-Key: получили %q", gotKey)
	}
	if !strings.Contains(gotBody, `"reduce_only":true`) || !strings.Contains(gotBody, `"side":"SELL"`) {
		t.Errorf("тело запроса: %s", gotBody)
	}
}

func TestSidecarSigner_Errors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantRejected bool
	}{
		{"bad request is rejection", http.StatusBadRequest, true},
		{"unprocessable is rejection", http.StatusUnprocessableEntity, true},
		{"server error is not rejection", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, `{"error":"insufficient margin"}`)
			}))
			defer srv.Close()

			err := NewSidecarSigner(srv.URL, "", nil).PlaceOrder(context.Background(), SignerOrder{})
			if err == nil {
				t.Fatal("ожидали ошибку")
			}
			if errors.Is(err, ErrOrderRejected) != tt.wantRejected {
				t.Errorf("ErrOrderRejected = %v, ожидали %v (%v)", !tt.wantRejected, tt.wantRejected, err)
			}
			if !strings.Contains(err.Error(), "insufficient margin") {
				t.Errorf("сообщение биржи потеряно: %v", err)
			}
		})
	}
}

// ============ Factory ============

func TestNewGateway(t *testing.T) {
	tests := []struct {
		name    string
		opts    GatewayOptions
		wantErr bool
		want    string
	}{
		{"paper", GatewayOptions{Name: "paper"}, false, "paper"},
		{"paper upper case", GatewayOptions{Name: "PAPER"}, false, "paper"},
		{"dydx", GatewayOptions{Name: "dydx", Dydx: DydxConfig{Address: testAddress}}, false, "dydx"},
		{"dydx without address", GatewayOptions{Name: "dydx"}, true, ""},
		{"unknown", GatewayOptions{Name: "bybit"}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, err := NewGateway(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ошибка = %v, ожидали ошибку: %v", err, tt.wantErr)
			}
			if err == nil && gw.Name() != tt.want {
				t.Errorf("Name: ожидали %s, получили %s", tt.want, gw.Name())
			}
		})
	}

	if !IsSupported("DYDX") || IsSupported("okx") {
		t.Error("IsSupported работает неверно")
	}
}

package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"statarb/internal/models"
	"statarb/pkg/retry"
)

// OrderSigner подписывает и отправляет транзакции ордеров в сеть dYdX.
// Кошелёк и RPC узла остаются вне процесса.
type OrderSigner interface {
	PlaceOrder(ctx context.Context, order SignerOrder) error
	CancelOrder(ctx context.Context, cancel SignerCancel) error
}

// SignerOrder short-term ордер для подписанта
type SignerOrder struct {
	Address          string      `json:"address"`
	SubaccountNumber int         `json:"subaccount_number"`
	ClobPairID       int         `json:"clob_pair_id"`
	ClientID         uint32      `json:"client_id"`
	Market           string      `json:"market"`
	Side             models.Side `json:"side"`
	Size             string      `json:"size"`
	Price            string      `json:"price"`
	ReduceOnly       bool        `json:"reduce_only"`
}

// SignerCancel отмена ордера по client id
type SignerCancel struct {
	Address          string `json:"address"`
	SubaccountNumber int    `json:"subaccount_number"`
	ClobPairID       int    `json:"clob_pair_id"`
	ClientID         uint32 `json:"client_id"`
	Market           string `json:"market"`
}

// SidecarSigner отправляет ордера локальному сервису подписи по HTTP:
//
//	POST {url}/orders         SignerOrder  -> 200 {"tx_hash": "..."}
//	POST {url}/orders/cancel  SignerCancel -> 200 {"tx_hash": "..."}
//
// 4xx означает отказ (ErrOrderRejected), 5xx - временную ошибку.
type SidecarSigner struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewSidecarSigner создаёт подписанта
func NewSidecarSigner(baseURL, apiKey string, httpClient *http.Client) *SidecarSigner {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &SidecarSigner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// PlaceOrder отправляет ордер на подпись.
// Не повторяется: повтор мог бы создать второй ордер.
func (s *SidecarSigner) PlaceOrder(ctx context.Context, order SignerOrder) error {
	return s.post(ctx, "/orders", order)
}

// CancelOrder отправляет отмену на подпись
func (s *SidecarSigner) CancelOrder(ctx context.Context, cancel SignerCancel) error {
	return retry.Do(ctx, retry.Network(), func() error {
		return s.post(ctx, "/orders/cancel", cancel)
	})
}

func (s *SidecarSigner) post(ctx context.Context, endpoint string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var errResp struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(respBody))
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
		msg = errResp.Error
	}

	exErr := &ExchangeError{
		Exchange:   dydxName,
		Code:       strconv.Itoa(resp.StatusCode),
		Message:    msg,
		HTTPStatus: resp.StatusCode,
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		exErr.Original = ErrOrderRejected
		return fmt.Errorf("signer %s: %w", endpoint, exErr)
	}
	return exErr
}

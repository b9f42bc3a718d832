package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"statarb/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrTelegramRejected Bot API ответил не-2xx или ok=false
var ErrTelegramRejected = errors.New("telegram rejected message")

// TelegramNotifier отправляет сообщения в чат через Bot API (sendMessage)
type TelegramNotifier struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

// NewTelegramNotifier создаёт канал. Пустой токен - канал выключен (nil).
// client может быть nil: используется клиент с таймаутом 10 секунд.
func NewTelegramNotifier(cfg config.TelegramConfig, client *http.Client) *TelegramNotifier {
	if cfg.BotToken == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TelegramNotifier{
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		token:  cfg.BotToken,
		chatID: cfg.ChatID,
		client: client,
	}
}

type telegramMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send отправляет текст в чат
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(telegramMessage{ChatID: t.chatID, Text: text})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// токен входит в URL: не выводим его в ошибке
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}

	var out telegramResponse
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode/100 != 2 || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = strings.TrimSpace(string(data))
		}
		return fmt.Errorf("%w: status %d: %s", ErrTelegramRejected, resp.StatusCode, desc)
	}
	return nil
}

package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// validator.go - проверка тикеров и числовых параметров
//
// Тикер perpetual-рынка dYdX имеет вид BASE-QUOTE: BTC-USD, 1INCH-USD.

var marketRe = regexp.MustCompile(`^[A-Z0-9]{1,20}-[A-Z]{2,10}$`)

var (
	ErrEmptyMarket   = errors.New("market is empty")
	ErrInvalidMarket = errors.New("invalid market ticker")
)

// NormalizeMarket приводит тикер к каноническому виду: trim + upper case.
// Разделитель "/" и "_" заменяется на "-".
func NormalizeMarket(market string) string {
	m := strings.ToUpper(strings.TrimSpace(market))
	m = strings.NewReplacer("/", "-", "_", "-").Replace(m)
	return m
}

// ValidateMarket проверяет формат тикера (ожидается уже нормализованный)
func ValidateMarket(market string) error {
	if market == "" {
		return ErrEmptyMarket
	}
	if !marketRe.MatchString(market) {
		return fmt.Errorf("%w: %q", ErrInvalidMarket, market)
	}
	return nil
}

// ParseMarketList разбирает список через запятую, пустые элементы пропускаются.
// Невалидный тикер - ошибка, чтобы опечатка в IGNORE_MARKETS не прошла молча.
func ParseMarketList(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		m := NormalizeMarket(p)
		if m == "" {
			continue
		}
		if err := ValidateMarket(m); err != nil {
			return nil, err
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

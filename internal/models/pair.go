package models

import (
	"strconv"
	"time"
)

// CointegratedPair представляет пару рынков, прошедшую тест коинтеграции
type CointegratedPair struct {
	BaseMarket   string    `json:"base_market"`  // ETH-USD
	QuoteMarket  string    `json:"quote_market"` // BTC-USD
	HedgeRatio   float64   `json:"hedge_ratio"`  // наклон OLS base по quote
	Intercept    float64   `json:"intercept"`
	HalfLife     float64   `json:"half_life"` // в барах
	TStat        float64   `json:"t_stat"`
	PValue       float64   `json:"p_value"`
	CritValue    float64   `json:"crit_value"` // 5%
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Key идентификатор пары "BASE/QUOTE"
func (p CointegratedPair) Key() string {
	return PairKey(p.BaseMarket, p.QuoteMarket)
}

// CSVRecord строка хранилища кандидатов: base_market,quote_market,hedge_ratio,half_life
func (p CointegratedPair) CSVRecord() []string {
	return []string{
		p.BaseMarket,
		p.QuoteMarket,
		strconv.FormatFloat(p.HedgeRatio, 'g', -1, 64),
		strconv.FormatFloat(p.HalfLife, 'g', -1, 64),
	}
}

// CandidateColumns заголовок хранилища кандидатов
var CandidateColumns = []string{"base_market", "quote_market", "hedge_ratio", "half_life"}

// PairKey идентификатор пары рынков
func PairKey(market1, market2 string) string {
	return market1 + "/" + market2
}

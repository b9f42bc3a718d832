package models

import "time"

// Side сторона ордера
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite противоположная сторона (для закрытия и отката)
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid true только для BUY и SELL
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// PositionStatus статус парной позиции в журнале
type PositionStatus string

const (
	StatusPending PositionStatus = "PENDING" // первая нога отправлена
	StatusLive    PositionStatus = "LIVE"    // обе ноги исполнены
	StatusFailed  PositionStatus = "FAILED"  // нога не исполнена, на бирже ничего не осталось
	StatusError   PositionStatus = "ERROR"   // откат не удался, нужна ручная проверка
	StatusClosing PositionStatus = "CLOSING" // одна нога уже закрыта, вторая ждёт повтора
)

// PositionRecord единица долговременного состояния: открытая пара из двух ног.
// Ключи JSON совпадают с файлом журнала.
type PositionRecord struct {
	Market1       string         `json:"market_1"`
	Market2       string         `json:"market_2"`
	HedgeRatio    float64        `json:"hedge_ratio"`
	ZScoreAtEntry float64        `json:"z_score_at_entry"`
	HalfLife      float64        `json:"half_life"`
	OrderIDM1     string         `json:"order_id_m1"`
	OrderIDM2     string         `json:"order_id_m2"`
	SizeM1        string         `json:"size_m1"` // строкой, как отправлено на биржу
	SizeM2        string         `json:"size_m2"`
	SideM1        Side           `json:"side_m1"`
	SideM2        Side           `json:"side_m2"`
	OpenedAtM1    *time.Time     `json:"opened_at_m1,omitempty"`
	OpenedAtM2    *time.Time     `json:"opened_at_m2,omitempty"`
	Status        PositionStatus `json:"status"`
	Comments      string         `json:"comments"`

	// ClosedM1/ClosedM2 - нога уже закрыта (для статуса CLOSING)
	ClosedM1 bool `json:"closed_m1,omitempty"`
	ClosedM2 bool `json:"closed_m2,omitempty"`
}

// Key идентификатор пары "M1/M2"
func (r PositionRecord) Key() string {
	return PairKey(r.Market1, r.Market2)
}

// Markets оба рынка записи
func (r PositionRecord) Markets() [2]string {
	return [2]string{r.Market1, r.Market2}
}

// HasMarket true если рынок является одной из ног
func (r PositionRecord) HasMarket(market string) bool {
	return r.Market1 == market || r.Market2 == market
}

// Holds true если запись удерживает рынки (позиция на бирже существует или может существовать)
func (r PositionRecord) Holds() bool {
	return r.Status == StatusLive || r.Status == StatusClosing
}

// AccountSnapshot состояние аккаунта; перечитывается перед каждой сделкой
type AccountSnapshot struct {
	FreeCollateral float64   `json:"free_collateral"`
	Equity         float64   `json:"equity"`
	FetchedAt      time.Time `json:"fetched_at"`
}

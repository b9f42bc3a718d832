package models

// Signal сигнал на вход; не сохраняется, пересчитывается каждый цикл
type Signal struct {
	Pair      CointegratedPair `json:"pair"`
	ZScore    float64          `json:"z_score"`
	BaseSide  Side             `json:"base_side"`
	QuoteSide Side             `json:"quote_side"`
	// последние цены закрытия ног, от них считаются цены и размеры ордеров
	BasePrice  float64 `json:"base_price"`
	QuotePrice float64 `json:"quote_price"`
}

// PriceMatrix цены закрытия рынков, выровненные по общей временной оси
type PriceMatrix struct {
	Index   []int64              `json:"index"` // unix seconds, по возрастанию
	Markets []string             `json:"markets"`
	Closes  map[string][]float64 `json:"closes"`
}

// Series ряд цен рынка (nil если рынка нет в матрице)
func (m PriceMatrix) Series(market string) []float64 {
	return m.Closes[market]
}

// Len длина временной оси
func (m PriceMatrix) Len() int {
	return len(m.Index)
}

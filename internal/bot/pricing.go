package bot

import (
	"errors"
	"fmt"

	"statarb/internal/exchange"
	"statarb/internal/models"
	"statarb/pkg/utils"
)

// ErrBelowMinOrderValue объём ноги меньше минимального ордера биржи
var ErrBelowMinOrderValue = errors.New("order below venue minimum")

// LegOrder параметры ордера одной ноги, уже округлённые под рынок
type LegOrder struct {
	Market string
	Side   models.Side
	Price  float64
	Size   float64
	// строки в точности как уходят на биржу
	PriceStr string
	SizeStr  string
}

// Request запрос к бирже
func (o LegOrder) Request(reduceOnly bool) exchange.OrderRequest {
	return exchange.OrderRequest{
		Market:     o.Market,
		Side:       o.Side,
		Size:       o.SizeStr,
		Price:      o.PriceStr,
		ReduceOnly: reduceOnly,
	}
}

// PriceLeg цена от последней сделки со сдвигом в сторону исполнения, округлённая до tick
func PriceLeg(last float64, m exchange.Market, side models.Side, slippage float64) (float64, string) {
	p := utils.RoundToTick(utils.ApplySlippage(last, slippage, side == models.SideBuy), m.TickSize)
	return p, utils.FormatToIncrement(p, m.TickSize)
}

// SizeLeg объём = usd / price, округлённый ВНИЗ до step.
// Проверяет минимальный объём (один step) и минимальную стоимость по оракулу.
func SizeLeg(usd, price float64, m exchange.Market, minOrderUSD float64) (float64, string, error) {
	if price <= 0 {
		return 0, "", fmt.Errorf("%w: %s non-positive price %v", ErrBelowMinOrderValue, m.Ticker, price)
	}

	size := utils.RoundToStep(usd/price, m.StepSize)
	if size <= 0 || (m.StepSize > 0 && size < m.StepSize) {
		return 0, "", fmt.Errorf("%w: %s size %.10g below step %.10g", ErrBelowMinOrderValue, m.Ticker, size, m.StepSize)
	}

	ref := m.OraclePrice
	if ref <= 0 {
		ref = price
	}
	if notional := utils.NotionalUSD(size, ref); notional < minOrderUSD {
		return 0, "", fmt.Errorf("%w: %s notional %.4f USD below %.4f", ErrBelowMinOrderValue, m.Ticker, notional, minOrderUSD)
	}

	return size, utils.FormatToIncrement(size, m.StepSize), nil
}

// BuildLeg цена и объём ноги для входа
func BuildLeg(m exchange.Market, side models.Side, last float64, cfg LegConfig) (LegOrder, error) {
	price, priceStr := PriceLeg(last, m, side, cfg.Slippage)
	size, sizeStr, err := SizeLeg(cfg.USDPerTrade, price, m, cfg.MinOrderUSD)
	if err != nil {
		return LegOrder{}, err
	}
	return LegOrder{
		Market:   m.Ticker,
		Side:     side,
		Price:    price,
		Size:     size,
		PriceStr: priceStr,
		SizeStr:  sizeStr,
	}, nil
}

// LegConfig параметры расчёта ноги
type LegConfig struct {
	USDPerTrade float64
	Slippage    float64
	MinOrderUSD float64
}

// FailsafePrice заведомо невыгодная цена отката, гарантирующая исполнение:
// покупка на pct выше референса, продажа на pct ниже.
func FailsafePrice(ref float64, m exchange.Market, side models.Side, pct float64) (float64, string) {
	return PriceLeg(ref, m, side, pct)
}

// ClosePrice цена закрывающего ордера: та же логика сдвига с EXIT_SLIPPAGE
func ClosePrice(ref float64, m exchange.Market, side models.Side, slippage float64) (float64, string) {
	return PriceLeg(ref, m, side, slippage)
}

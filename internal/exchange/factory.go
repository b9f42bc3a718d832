package exchange

import (
	"fmt"
	"strings"
)

// SupportedGateways - список поддерживаемых площадок
var SupportedGateways = []string{
	"dydx",
	"paper",
}

// GatewayOptions параметры создания площадки
type GatewayOptions struct {
	Name  string
	Dydx  DydxConfig
	Paper PaperConfig
	// PaperLiveData - бумажная торговля на живых данных индексера
	PaperLiveData bool
}

// NewGateway создает площадку по имени
func NewGateway(opts GatewayOptions) (Gateway, error) {
	name := strings.ToLower(opts.Name)
	if !IsSupported(name) {
		return nil, fmt.Errorf("unsupported exchange: %s (supported: %s)", opts.Name, strings.Join(SupportedGateways, ", "))
	}

	switch name {
	case "dydx":
		if opts.Dydx.Address == "" {
			return nil, fmt.Errorf("dydx gateway requires a wallet address")
		}
		return NewDydxClient(opts.Dydx), nil
	case "paper":
		paperCfg := opts.Paper
		if opts.PaperLiveData && paperCfg.Source == nil {
			paperCfg.Source = NewDydxClient(opts.Dydx)
		}
		return NewPaperGateway(paperCfg), nil
	}
	return nil, fmt.Errorf("unsupported exchange: %s", opts.Name)
}

// IsSupported проверяет, поддерживается ли площадка
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedGateways {
		if name == supported {
			return true
		}
	}
	return false
}

package domain

// Position is a currently held lot as reported by the broker export.
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
	FXRate   float64 `json:"fx_rate"` // to portfolio currency, 1.0 when native
}

// MarketValue is the position's worth at the given close, in portfolio
// currency.
func (p Position) MarketValue(close float64) float64 {
	fx := p.FXRate
	if fx == 0 {
		fx = 1
	}
	return p.Quantity * close * fx
}

// Portfolio is the account snapshot a run sizes against.
type Portfolio struct {
	Equity    float64    `json:"equity"`
	Cash      float64    `json:"cash"`
	Positions []Position `json:"positions"`
}

// Held reports whether the portfolio currently holds the symbol.
func (p Portfolio) Held(symbol string) bool {
	_, ok := p.Get(symbol)
	return ok
}

// Get returns the position for symbol if held.
func (p Portfolio) Get(symbol string) (Position, bool) {
	for _, pos := range p.Positions {
		if pos.Symbol == symbol && pos.Quantity > 0 {
			return pos, true
		}
	}
	return Position{}, false
}

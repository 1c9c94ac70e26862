package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/sawpanic/trendscan/internal/domain"
)

// positionRecord is one row of a broker positions export.
type positionRecord struct {
	Symbol   string  `csv:"symbol"`
	Quantity float64 `csv:"quantity"`
	AvgPrice float64 `csv:"avg_price"`
	FXRate   float64 `csv:"fx_rate"`
}

// loadPortfolio reads the broker positions CSV. An empty path means a flat
// account: equity and cash only.
func loadPortfolio(path string, equity, cash float64) (domain.Portfolio, error) {
	p := domain.Portfolio{Equity: equity, Cash: cash}
	if path == "" {
		return p, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return p, fmt.Errorf("open positions: %w", err)
	}
	defer f.Close()

	var rows []positionRecord
	if err := gocsv.UnmarshalFile(f, &rows); err != nil && err != gocsv.ErrEmptyCSVFile {
		return p, fmt.Errorf("parse positions: %w", err)
	}

	for i, row := range rows {
		symbol := strings.ToUpper(strings.TrimSpace(row.Symbol))
		if symbol == "" {
			return p, fmt.Errorf("positions row %d: empty symbol", i+1)
		}
		if row.Quantity <= 0 || row.AvgPrice <= 0 {
			return p, fmt.Errorf("positions row %d (%s): quantity and avg_price must be positive", i+1, symbol)
		}
		fx := row.FXRate
		if fx == 0 {
			fx = 1
		}
		p.Positions = append(p.Positions, domain.Position{
			Symbol:   symbol,
			Quantity: row.Quantity,
			AvgPrice: row.AvgPrice,
			FXRate:   fx,
		})
	}
	return p, nil
}

package datasource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"

	"github.com/sawpanic/trendscan/internal/domain"
)

// barRecord is one CSV row of daily history, broker-export column names.
type barRecord struct {
	Date   string  `csv:"date"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

// CSVDir serves daily bars from one CSV file per symbol in a directory.
// It is the offline source for scans against exported price history.
type CSVDir struct {
	dir string
	log zerolog.Logger
}

func NewCSVDir(dir string, log zerolog.Logger) *CSVDir {
	return &CSVDir{
		dir: dir,
		log: log.With().Str("component", "csv_source").Logger(),
	}
}

// DailyBars loads <dir>/<SYMBOL>.csv, sorted ascending by date. The lookback
// trims older rows; context is accepted for interface parity only.
func (c *CSVDir) DailyBars(_ context.Context, symbol string, lookbackDays int) ([]domain.PriceBar, error) {
	path := filepath.Join(c.dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars for %s: %w", symbol, err)
	}
	defer f.Close()

	var rows []barRecord
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse bars for %s: %w", symbol, err)
	}

	bars := make([]domain.PriceBar, 0, len(rows))
	for i, row := range rows {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			return nil, fmt.Errorf("bars for %s row %d: bad date %q: %w", symbol, i+1, row.Date, err)
		}
		bars = append(bars, domain.PriceBar{
			Date:   date,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	if lookbackDays > 0 && len(bars) > lookbackDays {
		bars = bars[len(bars)-lookbackDays:]
	}
	return bars, nil
}

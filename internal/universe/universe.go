// Package universe loads the scan universe: four sleeve lists, the cluster
// and super-cluster maps used by the concentration caps, and broker-to-data
// symbol aliases. A symbol appearing in several sleeve lists is kept once,
// under the highest-priority sleeve.
package universe

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	yaml "gopkg.in/yaml.v2"

	"github.com/sawpanic/trendscan/internal/domain"
)

// File is the on-disk universe document.
type File struct {
	Name       string `yaml:"name"`
	Benchmark  string `yaml:"benchmark"`
	Benchmark2 string `yaml:"benchmark2"`

	Sleeves struct {
		Hedge         []string `yaml:"hedge"`
		ETFCore       []string `yaml:"etf_core"`
		StockCore     []string `yaml:"stock_core"`
		StockHighRisk []string `yaml:"stock_high_risk"`
	} `yaml:"sleeves"`

	// Clusters maps data symbol to correlation cluster. Every stock should
	// have an entry; missing stocks fall back to a catch-all cluster and are
	// logged loudly so the map gets fixed.
	Clusters      map[string]string `yaml:"clusters"`
	SuperClusters map[string]string `yaml:"super_clusters"`

	// Aliases maps broker symbols to data-provider symbols.
	Aliases map[string]string `yaml:"aliases"`
}

// DroppedDupe records a symbol removed by sleeve-priority deduplication.
type DroppedDupe struct {
	Symbol        string `json:"symbol"`
	KeptSleeve    string `json:"kept_sleeve"`
	DroppedSleeve string `json:"dropped_sleeve"`
}

// Universe is the resolved, deduplicated scan universe.
type Universe struct {
	Name        string
	Benchmark   string
	Benchmark2  string
	Instruments []domain.Instrument
	Dropped     []DroppedDupe

	aliases map[string]string
	bysym   map[string]domain.Instrument
}

// Load reads and resolves a universe file.
func Load(path string, log zerolog.Logger) (*Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}
	return Parse(data, log)
}

// Parse resolves a universe document: maps aliases, partitions symbols into
// sleeves, deduplicates by priority and assigns clusters.
func Parse(data []byte, log zerolog.Logger) (*Universe, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse universe yaml: %w", err)
	}
	if f.Benchmark == "" {
		return nil, fmt.Errorf("universe %q has no benchmark", f.Name)
	}

	log = log.With().Str("component", "universe").Logger()

	u := &Universe{
		Name:       f.Name,
		Benchmark:  strings.ToUpper(strings.TrimSpace(f.Benchmark)),
		Benchmark2: strings.ToUpper(strings.TrimSpace(f.Benchmark2)),
		aliases:    map[string]string{},
		bysym:      map[string]domain.Instrument{},
	}
	for broker, dataSym := range f.Aliases {
		u.aliases[normalize(broker)] = normalize(dataSym)
	}

	// Sleeve order is the dedup priority: first list to claim a symbol wins.
	lists := []struct {
		sleeve  domain.Sleeve
		symbols []string
	}{
		{domain.SleeveHedge, f.Sleeves.Hedge},
		{domain.SleeveETFCore, f.Sleeves.ETFCore},
		{domain.SleeveStockCore, f.Sleeves.StockCore},
		{domain.SleeveStockHighRisk, f.Sleeves.StockHighRisk},
	}
	for _, l := range lists {
		for _, raw := range l.symbols {
			sym := u.Resolve(raw)
			if sym == "" {
				continue
			}
			if kept, ok := u.bysym[sym]; ok {
				if kept.Sleeve != l.sleeve {
					u.Dropped = append(u.Dropped, DroppedDupe{
						Symbol:        sym,
						KeptSleeve:    kept.Sleeve.String(),
						DroppedSleeve: l.sleeve.String(),
					})
					log.Warn().
						Str("symbol", sym).
						Str("kept", kept.Sleeve.String()).
						Str("dropped", l.sleeve.String()).
						Msg("symbol in multiple sleeves, keeping higher priority")
				}
				continue
			}
			inst := domain.Instrument{
				Symbol:       sym,
				Sleeve:       l.sleeve,
				Cluster:      assignCluster(sym, l.sleeve, f.Clusters, log),
				SuperCluster: f.SuperClusters[sym],
			}
			u.bysym[sym] = inst
			u.Instruments = append(u.Instruments, inst)
		}
	}

	if len(u.Instruments) == 0 {
		return nil, fmt.Errorf("universe %q resolved to zero instruments", f.Name)
	}
	log.Info().
		Str("universe", u.Name).
		Int("instruments", len(u.Instruments)).
		Int("dropped_dupes", len(u.Dropped)).
		Msg("universe loaded")
	return u, nil
}

// Resolve maps a broker symbol through the alias table and normalizes case.
func (u *Universe) Resolve(symbol string) string {
	sym := normalize(symbol)
	if mapped, ok := u.aliases[sym]; ok {
		return mapped
	}
	return sym
}

// Get returns the instrument for a data symbol.
func (u *Universe) Get(symbol string) (domain.Instrument, bool) {
	inst, ok := u.bysym[normalize(symbol)]
	return inst, ok
}

// Symbols returns every instrument symbol plus the benchmarks, the full
// download set for a run. Order is deterministic.
func (u *Universe) Symbols() []string {
	seen := make(map[string]bool, len(u.Instruments)+2)
	out := make([]string, 0, len(u.Instruments)+2)
	for _, inst := range u.Instruments {
		if !seen[inst.Symbol] {
			seen[inst.Symbol] = true
			out = append(out, inst.Symbol)
		}
	}
	for _, b := range []string{u.Benchmark, u.Benchmark2} {
		if b != "" && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}

// assignCluster picks the concentration cluster for a symbol. The cluster map
// is the single source of truth for stocks; an unmapped stock lands in the
// catch-all bucket and is logged as an error so the map gets updated.
func assignCluster(symbol string, sleeve domain.Sleeve, clusters map[string]string, log zerolog.Logger) string {
	if c, ok := clusters[symbol]; ok && c != "" {
		return c
	}
	switch sleeve {
	case domain.SleeveETFCore:
		return "ETF_CORE"
	case domain.SleeveHedge:
		return "HEDGE"
	}
	log.Error().Str("symbol", symbol).Msg("not found in cluster map, assign a cluster before trading")
	return "STOCKS"
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

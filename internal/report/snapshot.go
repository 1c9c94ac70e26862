package report

import (
	"time"

	"github.com/sawpanic/trendscan/internal/config"
)

// Snapshot is the persisted record of one run: everything the HTTP API can
// serve without recomputing a scan.
type Snapshot struct {
	RunID         string    `json:"run_id"`
	AsOf          time.Time `json:"as_of"`
	Universe      string    `json:"universe"`
	Market        string    `json:"market"`
	BreadthPct    float64   `json:"breadth_pct"`
	MaxPositions  int       `json:"max_positions"`
	OpenRiskPct   float64   `json:"open_risk_pct"`
	CapStage      string    `json:"cap_stage"`
	PositionCount int       `json:"position_count"`

	// Params is the full active configuration, so a snapshot answers "what
	// thresholds produced these decisions" months later.
	Params config.Config `json:"params"`

	Rows  []SnapshotRow  `json:"rows"`
	Skips []SnapshotSkip `json:"skips,omitempty"`
	Card  string         `json:"card"`
}

// SnapshotRow is one instrument's decision in a persisted run.
type SnapshotRow struct {
	Symbol  string `json:"symbol"`
	Sleeve  string `json:"sleeve"`
	Cluster string `json:"cluster"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`

	Close         float64 `json:"close"`
	EntryTrigger  float64 `json:"entry_trigger,omitempty"`
	StopLevel     float64 `json:"stop_level,omitempty"`
	ActiveStop    float64 `json:"active_stop,omitempty"`
	RankScore     float64 `json:"rank_score,omitempty"`
	RSvsBenchmark float64 `json:"rs_vs_benchmark,omitempty"`

	IsHeld           bool   `json:"is_held"`
	HeldAction       string `json:"held_action,omitempty"`
	HeldActionReason string `json:"held_action_reason,omitempty"`
	BlockReason      string `json:"block_reason,omitempty"`
}

// SnapshotSkip mirrors a skipped instrument in a persisted run.
type SnapshotSkip struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

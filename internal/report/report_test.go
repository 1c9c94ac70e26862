package report

import (
	"bufio"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCard() Card {
	return Card{
		RunID:         "run-123",
		AsOf:          time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		Universe:      "weekly",
		Market:        "BULLISH",
		BreadthPct:    0.62,
		MaxPos:        8,
		OpenRiskPct:   0.041,
		CapStage:      "BUILDING",
		PositionCount: 5,
		Sells:         []Line{{Symbol: "OLD", Detail: "stop hit at 91.20"}},
		Buys: []Line{
			{Symbol: "NVDA", Detail: "READY, trigger 105.20, stop 98.10, ~130 sh"},
			{Symbol: "ASML", Detail: "READY, trigger 710.00, stop 672.00, ~9 sh"},
		},
		Blocked:  []Line{{Symbol: "IONQ", Detail: "BLOCK_MAX_CLUSTER_QUANTUM"}},
		Priority: []string{"NVDA", "ASML"},
		Hedge:    []Line{{Symbol: "GLD", Detail: "HOLD"}},
	}
}

func TestRenderSectionsInUrgencyOrder(t *testing.T) {
	out := sampleCard().Render()

	idx := func(s string) int { return strings.Index(out, s) }
	require.Positive(t, idx("## [x] Sells"))
	assert.Less(t, idx("## [x] Sells"), idx("## [+] Eligible Buys"))
	assert.Less(t, idx("## [+] Eligible Buys"), idx("## [-] Blocked READY"))
	assert.Less(t, idx("## [-] Blocked READY"), idx("## [H] Hedge Sleeve"))

	assert.Contains(t, out, "**NVDA** - READY, trigger 105.20")
	assert.Contains(t, out, "run-123")
	assert.Contains(t, out, "| BULLISH | 62% | 8 | 4.10% | BUILDING | 5 |")
}

func TestRenderEmptySectionsGetPlaceholders(t *testing.T) {
	out := Card{AsOf: time.Now(), Market: "BEARISH", BreadthPct: math.NaN()}.Render()

	assert.Contains(t, out, "- None - nothing is READY and eligible.")
	assert.Contains(t, out, "- None - all READY candidates are eligible!")
	assert.Contains(t, out, "| BEARISH | n/a |")
	assert.NotContains(t, out, "Priority Entries")
}

func TestSortLines(t *testing.T) {
	lines := []Line{{Symbol: "ZZ"}, {Symbol: "AA"}, {Symbol: "MM"}}
	SortLines(lines)
	assert.Equal(t, "AA", lines[0].Symbol)
	assert.Equal(t, "ZZ", lines[2].Symbol)
}

func TestNewRunIDIsUnique(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestAuditLogWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	audit := NewAuditLog(path, 10, 3, 30)

	audit.BlockedEntry("run-1", "IONQ", "BLOCK_MAX_CLUSTER_QUANTUM")
	audit.StopUpdate("run-1", "NVDA", 95, 98.5, "3R_LOCK_1R_TRAILING")
	audit.RunSummary("run-1", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), "BULLISH", 40, 3, 1)
	require.NoError(t, audit.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 3)

	assert.Equal(t, "blocked_entry", events[0]["event"])
	assert.Equal(t, "IONQ", events[0]["symbol"])
	assert.Equal(t, "stop_update", events[1]["event"])
	assert.Equal(t, 98.5, events[1]["to"])
	assert.Equal(t, "run_summary", events[2]["event"])
	assert.Equal(t, "run-1", events[2]["run_id"])
}

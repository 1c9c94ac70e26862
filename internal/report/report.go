// Package report renders the human-facing run output: a markdown action card
// grouping every decision by what the operator should do Monday morning, and
// a rotating JSON audit trail of blocked candidates.
package report

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRunID mints the identifier stamped on every card and audit record of
// one run.
func NewRunID() string {
	return uuid.NewString()
}

// Line is one symbol's entry in a card section.
type Line struct {
	Symbol string
	Detail string
}

// Card is the assembled action card for one run.
type Card struct {
	RunID      string
	AsOf       time.Time
	Universe   string
	Market     string
	BreadthPct float64
	MaxPos     int

	OpenRiskPct   float64
	HedgeRiskPct  float64
	CapStage      string
	PositionCount int
	Equity        float64

	Warnings []string

	Sells    []Line
	Holds    []Line
	Buys     []Line
	Blocked  []Line
	Adds     []Line
	Laggards []Line
	Climax   []Line
	Swaps    []Line
	Priority []string
	Hedge    []Line
}

// Render produces the markdown card. Section order follows urgency: exits
// first, then entries, then portfolio hygiene, with the hedge sleeve isolated
// at the bottom.
func (c Card) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Action Card - %s\n\n", c.AsOf.Format("2006-01-02"))
	fmt.Fprintf(&b, "Run `%s` on universe `%s`\n\n", c.RunID, c.Universe)
	fmt.Fprintf(&b, "| Market | Breadth | Max positions | Open risk | Cap stage | Held |\n")
	fmt.Fprintf(&b, "|---|---|---|---|---|---|\n")
	breadth := "n/a"
	if !math.IsNaN(c.BreadthPct) {
		breadth = fmt.Sprintf("%.0f%%", c.BreadthPct*100)
	}
	fmt.Fprintf(&b, "| %s | %s | %d | %.2f%% | %s | %d |\n\n",
		c.Market, breadth, c.MaxPos, c.OpenRiskPct*100, c.CapStage, c.PositionCount)

	if len(c.Warnings) > 0 {
		b.WriteString("## [!] Warnings\n\n")
		for _, w := range c.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	section(&b, "## [x] Sells", c.Sells, "None.")
	section(&b, "## [=] Holds", c.Holds, "None.")
	section(&b, "## [+] Eligible Buys (ranked)", c.Buys, "None - nothing is READY and eligible.")
	section(&b, "## [-] Blocked READY Candidates", c.Blocked, "None - all READY candidates are eligible!")
	section(&b, "## [^] Pyramid Adds", c.Adds, "None.")
	section(&b, "## [~] Laggards", c.Laggards, "None.")
	section(&b, "## [!] Climax Tops", c.Climax, "None.")
	section(&b, "## [<>] Swap Suggestions", c.Swaps, "None.")

	if len(c.Priority) > 0 {
		b.WriteString("## [*] Priority Entries (relative strength leaders)\n\n")
		fmt.Fprintf(&b, "- %s\n\n", strings.Join(c.Priority, ", "))
	}

	section(&b, "## [H] Hedge Sleeve (isolated)", c.Hedge, "No hedge activity.")
	return b.String()
}

func section(b *strings.Builder, header string, lines []Line, empty string) {
	b.WriteString(header + "\n\n")
	if len(lines) == 0 {
		fmt.Fprintf(b, "- %s\n\n", empty)
		return
	}
	for _, l := range lines {
		fmt.Fprintf(b, "- **%s** - %s\n", l.Symbol, l.Detail)
	}
	b.WriteString("\n")
}

// SortLines orders section lines by symbol for stable output.
func SortLines(lines []Line) {
	sort.Slice(lines, func(i, j int) bool { return lines[i].Symbol < lines[j].Symbol })
}

package commands

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/wonny/bullscan/internal/contracts"
)

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintHeader prints a titled block
func PrintHeader(title string) {
	fmt.Println()
	PrintDoubleSeparator()
	fmt.Printf("  %s\n", title)
	PrintSeparator()
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Println()
	fmt.Printf("⚠️  %s\n", message)
	fmt.Println()
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintKeyValue prints key-value pairs
func PrintKeyValue(key string, value string, keyWidth int) {
	fmt.Printf("   %-*s : %s\n", keyWidth, key, value)
}

// displayWidth counts East Asian wide runes as two columns
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

func pad(s string, w int) string {
	if d := w - displayWidth(s); d > 0 {
		return s + strings.Repeat(" ", d)
	}
	return s
}

// PrintTableHeader prints a table header
func PrintTableHeader(columns []string, widths []int) {
	PrintTableRow(columns, widths)

	total := 0
	for i, w := range widths {
		total += w
		if i < len(widths)-1 {
			total += 2
		}
	}
	fmt.Println(strings.Repeat("─", total))
}

// PrintTableRow prints a table row
func PrintTableRow(values []string, widths []int) {
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = pad(v, widths[i])
	}
	fmt.Println(strings.TrimRight(strings.Join(cells, "  "), " "))
}

func pctString(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%+.1f%%", *p)
}

func dateString(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

// PrintCandidates prints scan candidates as a table
func PrintCandidates(cands []contracts.Candidate) {
	widths := []int{8, 10, 7, 11, 8, 9, 9, 9, 8}
	PrintTableHeader([]string{"Code", "Name", "Score", "Buy date", "Buy", "Cap(亿)", "4W", "10W", "Stop"}, widths)
	for _, c := range cands {
		mcap := "-"
		if c.MarketCap != nil {
			mcap = fmt.Sprintf("%.1f", *c.MarketCap)
		}
		PrintTableRow([]string{
			c.Code,
			c.Name,
			fmt.Sprintf("%.3f", c.Score),
			dateString(c.BuyDate),
			fmt.Sprintf("%.2f", c.BuyPrice),
			mcap,
			pctString(c.Gain4W),
			pctString(c.Gain10W),
			fmt.Sprintf("%.2f", c.StopLossPrice),
		}, widths)
	}
}

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/export"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the market for buy-point matches",
	Long: `Runs a full synchronous scan of the A-share market against the
trained model. Ctrl+C stops the scan and keeps the partial results.

Example:
  go run ./cmd/bullscan scan
  go run ./cmd/bullscan scan --min-score 0.9 --max-cap 50 --limit 300
  go run ./cmd/bullscan scan --date 2024-07-12 --out hits.xlsx`,
	RunE: runScan,
}

var scanBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run one batch of a batch scan",
	Long: `Runs a single batch. Batch 1 starts a new scan and prints its id;
later batches continue it. Continuing across processes needs Redis.

Example:
  go run ./cmd/bullscan scan batch --batch 1
  go run ./cmd/bullscan scan batch --id scan_1720742400_ab12cd34 --batch 2`,
	RunE: runScanBatch,
}

var scanHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded scans",
	Long: `Lists scans recorded in the local sqlite file, or every recorded
hit of one stock with --code.

Example:
  go run ./cmd/bullscan scan history --record scans.db
  go run ./cmd/bullscan scan history --record scans.db --code 600519`,
	RunE: runScanHistory,
}

var (
	scanMinScore    float64
	scanMaxCap      float64
	scanLimit       int
	scanDate        string
	scanWorkers     int
	scanRecord      string
	scanOut         string
	scanSkipTrend   bool
	scanSkipBearish bool

	batchID  string
	batchNum int

	historyCode  string
	historyLimit int
)

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanBatchCmd)
	scanCmd.AddCommand(scanHistoryCmd)

	for _, c := range []*cobra.Command{scanCmd, scanBatchCmd} {
		c.Flags().Float64Var(&scanMinScore, "min-score", 0, "minimum match score (default SCAN_MIN_MATCH_SCORE)")
		c.Flags().Float64Var(&scanMaxCap, "max-cap", -1, "maximum market cap in 亿 CNY, 0 disables (default SCAN_MAX_MARKET_CAP)")
		c.Flags().IntVar(&scanLimit, "limit", 0, "scan only the first N stocks")
		c.Flags().StringVar(&scanDate, "date", "", "historical scan date YYYY-MM-DD")
		c.Flags().IntVar(&scanWorkers, "workers", 0, "concurrent stocks (default SCAN_WORKERS)")
		c.Flags().BoolVar(&scanSkipTrend, "skip-trend-filter", false, "keep stocks in a long-term downtrend")
		c.Flags().BoolVar(&scanSkipBearish, "skip-bearish-filter", false, "keep stocks with a big bearish candle on the scan date")
	}
	scanCmd.Flags().StringVar(&scanRecord, "record", "", "record the scan into this sqlite file (default RECORDER_PATH)")
	scanCmd.Flags().StringVar(&scanOut, "out", "", "write candidates to a .csv, .json or .xlsx file")

	scanBatchCmd.Flags().StringVar(&batchID, "id", "", "scan id to continue")
	scanBatchCmd.Flags().IntVar(&batchNum, "batch", 1, "batch number, 1-based")

	scanHistoryCmd.Flags().StringVar(&scanRecord, "record", "", "sqlite file (default RECORDER_PATH)")
	scanHistoryCmd.Flags().StringVar(&historyCode, "code", "", "list recorded hits of one stock")
	scanHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of scans to list")
}

// signalContext is canceled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func scanParams(a *app) (contracts.ScanParams, error) {
	sc := a.cfg.Scan
	p := contracts.ScanParams{
		MinMatchScore:     sc.MinMatchScore,
		MaxMarketCap:      sc.MaxMarketCap,
		Limit:             scanLimit,
		Workers:           sc.Workers,
		BatchSize:         sc.BatchSize,
		StockTimeout:      sc.StockTimeout,
		CapTimeout:        sc.CapTimeout,
		SkipTrendFilter:   scanSkipTrend,
		SkipBearishFilter: scanSkipBearish,
		Username:          "cli",
	}
	if scanMinScore > 0 {
		if scanMinScore > 1 {
			return p, fmt.Errorf("--min-score must be within [0,1]")
		}
		p.MinMatchScore = scanMinScore
	}
	if scanMaxCap >= 0 {
		p.MaxMarketCap = scanMaxCap
	}
	if scanWorkers > 0 {
		p.Workers = scanWorkers
	}
	if scanDate != "" {
		d, err := contracts.ParseDate(scanDate)
		if err != nil {
			return p, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
		}
		p.ScanDate = d
	}
	return p, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{loadModel: true, recordPath: scanRecord, record: true})
	if err != nil {
		return err
	}
	defer a.Close()

	params, err := scanParams(a)
	if err != nil {
		return err
	}

	PrintHeader("Market scan")
	PrintKeyValue("Date", scanDateLabel(params.ScanDate), 10)
	PrintKeyValue("Min score", fmt.Sprintf("%.3f", params.MinMatchScore), 10)
	PrintKeyValue("Max cap", fmt.Sprintf("%.0f 亿", params.MaxMarketCap), 10)
	PrintKeyValue("Workers", fmt.Sprintf("%d", params.Workers), 10)
	PrintSeparator()

	start := time.Now()
	res, err := a.driver.Run(ctx, params)
	if err != nil && res == nil {
		return fmt.Errorf("scan: %w", err)
	}

	prog := res.Progress
	fmt.Println()
	PrintCandidates(res.Candidates)
	fmt.Println()
	PrintKeyValue("Scan ID", prog.ScanID, 10)
	PrintKeyValue("Status", string(prog.Status), 10)
	PrintKeyValue("Scanned", fmt.Sprintf("%d/%d", prog.Current, prog.Total), 10)
	PrintKeyValue("Found", fmt.Sprintf("%d", len(res.Candidates)), 10)
	PrintKeyValue("Errors", fmt.Sprintf("%d", prog.Errors), 10)
	PrintKeyValue("Duration", time.Since(start).Round(time.Second).String(), 10)

	if scanOut != "" {
		if err := writeExport(scanOut, "", res.Candidates); err != nil {
			return err
		}
		PrintSuccess("Candidates written to " + scanOut)
	}
	if prog.Status == contracts.StatusStopped {
		PrintWarning("Scan stopped early; results are partial")
		return nil
	}
	return err
}

func runScanBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{loadModel: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.redis.Enabled() && batchNum > 1 {
		PrintWarning("Redis is disabled; batches cannot be continued across processes")
	}

	var params contracts.ScanParams
	if batchNum == 1 {
		if params, err = scanParams(a); err != nil {
			return err
		}
	}

	res, err := a.driver.RunBatch(ctx, batchID, batchNum, params)
	if err != nil {
		return fmt.Errorf("batch %d: %w", batchNum, err)
	}

	PrintHeader(fmt.Sprintf("Batch %d/%d", res.Batch, res.TotalBatches))
	PrintKeyValue("Scan ID", res.ScanID, 14)
	PrintKeyValue("New matches", fmt.Sprintf("%d", res.NewCandidates), 14)
	PrintKeyValue("Total matches", fmt.Sprintf("%d", res.Progress.Found), 14)
	if res.HasMore {
		fmt.Printf("\nNext: go run ./cmd/bullscan scan batch --id %s --batch %d\n", res.ScanID, res.Batch+1)
	} else {
		PrintSuccess("Scan complete")
	}
	return nil
}

func runScanHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, appOptions{recordPath: scanRecord, record: true})
	if err != nil {
		return err
	}
	defer a.Close()
	if a.rec == nil {
		return fmt.Errorf("--record or RECORDER_PATH is required")
	}

	if historyCode != "" {
		hits, err := a.rec.Hits(ctx, historyCode)
		if err != nil {
			return err
		}
		widths := []int{28, 11, 8, 10, 7, 8}
		PrintTableHeader([]string{"Scan", "Date", "Code", "Name", "Score", "Buy"}, widths)
		for _, h := range hits {
			PrintTableRow([]string{h.ScanID, h.ScanDate, h.Code, h.Name, fmt.Sprintf("%.3f", h.Score), fmt.Sprintf("%.2f", h.BuyPrice)}, widths)
		}
		return nil
	}

	runs, err := a.rec.Runs(ctx, historyLimit)
	if err != nil {
		return err
	}
	widths := []int{28, 9, 11, 7, 6, 6, 19}
	PrintTableHeader([]string{"Scan", "Status", "Date", "Total", "Found", "Errors", "Recorded"}, widths)
	for _, r := range runs {
		PrintTableRow([]string{
			r.ScanID, string(r.Status), r.ScanDate,
			fmt.Sprintf("%d", r.Total), fmt.Sprintf("%d", r.Found), fmt.Sprintf("%d", r.Errors),
			r.RecordedAt.Local().Format("2006-01-02 15:04:05"),
		}, widths)
	}
	return nil
}

func scanDateLabel(d time.Time) string {
	if d.IsZero() {
		return "today"
	}
	return d.Format("2006-01-02")
}

// writeExport writes cands to path. An empty format is taken from the extension.
func writeExport(path, format string, cands []contracts.Candidate) error {
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := export.Write(out, f, cands); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}

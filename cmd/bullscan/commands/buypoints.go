package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/scan"
)

// buypointsCmd represents the buypoints command
var buypointsCmd = &cobra.Command{
	Use:   "buypoints <code>",
	Short: "Find historical buy points of one stock",
	Long: `Walks the weekly history of a stock and lists every week whose
volume-surge features matched the model, with the forward returns.

Example:
  go run ./cmd/bullscan buypoints 600519
  go run ./cmd/bullscan buypoints 300750 --threshold 0.9 --years 8`,
	Args: cobra.ExactArgs(1),
	RunE: runBuyPoints,
}

var sellpointsCmd = &cobra.Command{
	Use:   "sellpoints <code> <buy-date> <buy-price>",
	Short: "Find exits after a buy",
	Long: `Reports the best exit, the 10% stop loss and the MA5 trailing exit
in the weeks after a buy.

Example:
  go run ./cmd/bullscan sellpoints 600519 2024-02-05 1650.5 --weeks 20`,
	Args: cobra.ExactArgs(3),
	RunE: runSellPoints,
}

var (
	bpThreshold float64
	bpYears     int
	spWeeks     int
)

func init() {
	rootCmd.AddCommand(buypointsCmd)
	rootCmd.AddCommand(sellpointsCmd)

	buypointsCmd.Flags().Float64Var(&bpThreshold, "threshold", scan.DefaultBuyPointThreshold, "minimum match score")
	buypointsCmd.Flags().IntVar(&bpYears, "years", 5, "years of history to walk")
	sellpointsCmd.Flags().IntVar(&spWeeks, "weeks", scan.DefaultSellWeeks, "weeks after the buy to inspect")
}

func runBuyPoints(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{loadModel: true})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.driver.FindBuyPoints(ctx, args[0], bpThreshold, bpYears)
	if err != nil {
		return fmt.Errorf("buy points %s: %w", args[0], err)
	}

	PrintHeader(fmt.Sprintf("Buy points %s (threshold %.2f)", report.Code, report.Threshold))
	widths := []int{11, 9, 7, 11, 8, 8, 8, 9}
	PrintTableHeader([]string{"Date", "Price", "Score", "Surge", "4W", "10W", "20W", "Stop"}, widths)
	for _, p := range report.Points {
		PrintTableRow([]string{
			dateString(p.Date),
			fmt.Sprintf("%.2f", p.Price),
			fmt.Sprintf("%.3f", p.Score),
			dateString(p.SurgeDate),
			pctString(p.Gain4W),
			pctString(p.Gain10W),
			pctString(p.Gain20W),
			fmt.Sprintf("%.2f", p.StopLossPrice),
		}, widths)
	}
	fmt.Println()
	PrintKeyValue("Weeks scanned", fmt.Sprintf("%d", report.WeeksScanned), 15)
	PrintKeyValue("Max score", fmt.Sprintf("%.3f", report.MaxScore), 15)
	PrintKeyValue("Points", fmt.Sprintf("%d", len(report.Points)), 15)
	if n := len(report.Points); n > 0 {
		PrintKeyValue("Profitable 4W", fmt.Sprintf("%d/%d", report.Profitable4W, n), 15)
		PrintKeyValue("Profitable 10W", fmt.Sprintf("%d/%d", report.Profitable10W, n), 15)
	}
	return nil
}

func runSellPoints(cmd *cobra.Command, args []string) error {
	buyDate, err := contracts.ParseDate(args[1])
	if err != nil {
		return fmt.Errorf("buy date must be YYYY-MM-DD: %w", err)
	}
	buyPrice, err := strconv.ParseFloat(args[2], 64)
	if err != nil || buyPrice <= 0 {
		return fmt.Errorf("buy price must be a positive number, got %q", args[2])
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	sp, err := a.driver.FindSellPoints(ctx, args[0], buyDate, buyPrice, spWeeks)
	if err != nil {
		return fmt.Errorf("sell points %s: %w", args[0], err)
	}

	PrintHeader(fmt.Sprintf("Sell points %s bought %s at %.2f", sp.Code, dateString(sp.BuyDate), sp.BuyPrice))
	PrintKeyValue("Weeks checked", fmt.Sprintf("%d", sp.WeeksChecked), 15)
	PrintKeyValue("Best exit", priceAt(sp.BestSellPrice, sp.BestSellDate), 15)
	PrintKeyValue("Max gain", pctString(sp.MaxGainPct), 15)
	PrintKeyValue("Stop loss", priceAt(&sp.StopLossPrice, sp.StopLossDate), 15)
	PrintKeyValue("Trailing exit", priceAt(sp.TrailingPrice, sp.TrailingDate), 15)
	return nil
}

func priceAt(price *float64, date *time.Time) string {
	if price == nil {
		return "-"
	}
	if date == nil {
		return fmt.Sprintf("%.2f (not hit)", *price)
	}
	return fmt.Sprintf("%.2f on %s", *price, dateString(*date))
}

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/bullscan/internal/contracts"
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch market data",
	Long: `Pulls market data through the same fetcher and cache the scanner uses.

Available subcommands:
  stocks  - Refresh and count the tradable A-share list
  weekly  - Weekly bars of one stock
  daily   - Daily bars of one stock
  cap     - Market cap in 亿 CNY
  quote   - Live quote and company profile`,
}

var fetchStocksCmd = &cobra.Command{
	Use:   "stocks",
	Short: "Refresh the stock list",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			n, err := a.market.RefreshStocks(ctx)
			if err != nil {
				return err
			}
			PrintSuccess(fmt.Sprintf("%d stocks in the list", n))
			return nil
		})
	},
}

var fetchWeeklyCmd = &cobra.Command{
	Use:   "weekly <code>",
	Short: "Print weekly bars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			bars, err := a.market.GetWeeklyBars(ctx, args[0], fetchWeeks)
			if err != nil {
				return err
			}
			printBars(args[0]+" weekly", bars)
			return nil
		})
	},
}

var fetchDailyCmd = &cobra.Command{
	Use:   "daily <code>",
	Short: "Print daily bars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			bars, err := a.market.GetRecentDailyBars(ctx, args[0], fetchDays)
			if err != nil {
				return err
			}
			printBars(args[0]+" daily", bars)
			return nil
		})
	},
}

var fetchCapCmd = &cobra.Command{
	Use:   "cap <code>",
	Short: "Print the market cap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			mcap, err := a.market.GetMarketCap(ctx, args[0])
			if err != nil {
				return err
			}
			PrintKeyValue(args[0], fmt.Sprintf("%.2f 亿", mcap), 8)
			return nil
		})
	},
}

var fetchQuoteCmd = &cobra.Command{
	Use:   "quote <code>",
	Short: "Print the live quote and company profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			q, err := a.market.GetQuote(ctx, args[0])
			if err != nil {
				return err
			}
			PrintHeader(q.Code + " " + q.Name)
			PrintKeyValue("Price", fmt.Sprintf("%.2f", q.Price), 10)
			PrintKeyValue("Change", fmt.Sprintf("%+.2f%%", q.PctChange), 10)
			PrintKeyValue("Cap", fmt.Sprintf("%.2f 亿", q.MarketCap), 10)

			p, err := a.market.GetProfile(ctx, args[0])
			if err != nil {
				PrintWarning("Profile unavailable: " + err.Error())
				return nil
			}
			PrintKeyValue("Industry", p.Industry, 10)
			PrintKeyValue("Listed", dateString(p.ListingDate), 10)
			return nil
		})
	},
}

var (
	fetchWeeks int
	fetchDays  int
)

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.AddCommand(fetchStocksCmd, fetchWeeklyCmd, fetchDailyCmd, fetchCapCmd, fetchQuoteCmd)

	fetchWeeklyCmd.Flags().IntVar(&fetchWeeks, "weeks", 20, "number of weeks")
	fetchDailyCmd.Flags().IntVar(&fetchDays, "days", 20, "number of trading days")
}

// withApp builds an app without a model, runs fn and closes it
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printBars(title string, bars contracts.Bars) {
	PrintHeader(fmt.Sprintf("%s (%d bars)", title, len(bars)))
	widths := []int{11, 9, 9, 9, 9, 14, 8}
	PrintTableHeader([]string{"Date", "Open", "High", "Low", "Close", "Volume", "Chg"}, widths)
	for _, b := range bars {
		PrintTableRow([]string{
			b.Date.Format(time.DateOnly),
			fmt.Sprintf("%.2f", b.Open),
			fmt.Sprintf("%.2f", b.High),
			fmt.Sprintf("%.2f", b.Low),
			fmt.Sprintf("%.2f", b.Close),
			fmt.Sprintf("%.0f", b.Volume),
			fmt.Sprintf("%+.2f%%", b.PctChange),
		}, widths)
	}
}

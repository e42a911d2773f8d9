package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/internal/export"
	"github.com/wonny/bullscan/internal/scan"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export scan candidates to a file",
	Long: `Writes the candidates of a scan as csv, json or xlsx. Scans that
expired from the progress store are read from postgres.

Example:
  go run ./cmd/bullscan export --id scan_1720742400_ab12cd34 --format xlsx
  go run ./cmd/bullscan export --user alice --out alice.csv`,
	RunE: runExport,
}

var (
	exportID     string
	exportUser   string
	exportFormat string
	exportOut    string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportID, "id", "", "scan id (default: latest scan of --user)")
	exportCmd.Flags().StringVar(&exportUser, "user", "cli", "owner of the latest scan when --id is omitted")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv, json or xlsx")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file (default bullscan_<id>.<format>)")
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	id := exportID
	if id == "" {
		if id, err = a.driver.Latest(ctx, exportUser); err != nil {
			return fmt.Errorf("no scan found for %s: %w", exportUser, err)
		}
	}

	cands, err := exportCandidates(ctx, a, id)
	if err != nil {
		return err
	}

	out := exportOut
	if out == "" {
		out = format.FileName(id)
	}
	if err := writeExport(out, string(format), cands); err != nil {
		return err
	}
	PrintSuccess(fmt.Sprintf("%d candidates of %s written to %s", len(cands), id, out))
	return nil
}

func exportCandidates(ctx context.Context, a *app, id string) ([]contracts.Candidate, error) {
	cands, err := a.driver.Results(ctx, id)
	if err == nil {
		return cands, nil
	}
	if !errors.Is(err, scan.ErrScanNotFound) || a.db == nil {
		return nil, fmt.Errorf("load results %s: %w", id, err)
	}

	cands, err = scan.NewPGResultRepository(a.db.Pool).Candidates(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load results %s from postgres: %w", id, err)
	}
	return cands, nil
}

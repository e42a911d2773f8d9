package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/bullscan/internal/training"
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the buy-point model from the bull-stock roster",
	Long: `Analyzes every stock of the roster, builds the feature template and
saves the model. --calibrate widens the template until the roster
scores itself above the roster's target score.

Example:
  go run ./cmd/bullscan train
  go run ./cmd/bullscan train --roster config/bull_stocks.yaml --out trained_model.json --calibrate`,
	RunE: runTrain,
}

var trainVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Score every training sample against the saved model",
	Long: `Re-analyzes the model's samples and prints how each scores against
the template it helped build.

Example:
  go run ./cmd/bullscan train verify --floor 0.9`,
	RunE: runTrainVerify,
}

var (
	trainRoster    string
	trainOut       string
	trainCalibrate bool
	verifyFloor    float64
)

func init() {
	rootCmd.AddCommand(trainCmd)
	trainCmd.AddCommand(trainVerifyCmd)

	trainCmd.PersistentFlags().StringVar(&trainRoster, "roster", "", "roster yaml (default ROSTER_PATH)")
	trainCmd.Flags().StringVar(&trainOut, "out", "", "model output path (default MODEL_PATH)")
	trainCmd.Flags().BoolVar(&trainCalibrate, "calibrate", false, "calibrate the template after training")
	trainVerifyCmd.Flags().Float64Var(&verifyFloor, "floor", 0, "flag samples scoring below this (default roster target score)")
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	rosterPath := orDefault(trainRoster, a.cfg.Model.RosterPath)
	out := orDefault(trainOut, a.cfg.Model.Path)

	roster, err := training.LoadRoster(rosterPath)
	if err != nil {
		return err
	}

	PrintHeader("Training")
	PrintKeyValue("Roster", rosterPath, 8)
	PrintKeyValue("Stocks", fmt.Sprintf("%d", len(roster.Stocks)), 8)
	PrintSeparator()

	trainer := training.NewTrainer(a.market, a.log)
	model, err := trainer.Train(ctx, roster, func(current, total int, code string) {
		fmt.Printf("\r  analyzing %d/%d %s", current, total, code)
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}

	if trainCalibrate {
		model.Calibrate(trainer.SamplesFor(model), roster.Trainer)
		cal := model.Calibration
		PrintKeyValue("Std multiplier", fmt.Sprintf("%.2f", cal.StdMultiplier), 16)
		PrintKeyValue("Range buffer", fmt.Sprintf("%.2f", cal.RangeBuffer), 16)
		PrintKeyValue("Min self-match", fmt.Sprintf("%.3f", cal.MinSelfMatch), 16)
		PrintKeyValue("Mean self-match", fmt.Sprintf("%.3f", cal.MeanSelfMatch), 16)
		if !cal.TargetReached {
			PrintWarning(fmt.Sprintf("Target score %.2f not reached; best grid point kept", cal.TargetScore))
		}
	}

	if err := model.Save(out); err != nil {
		return fmt.Errorf("save model: %w", err)
	}

	PrintKeyValue("Samples", fmt.Sprintf("%d", model.SampleCount), 16)
	PrintKeyValue("Features", fmt.Sprintf("%d", len(model.Template())), 16)
	if failed := trainer.Progress().Failed; len(failed) > 0 {
		PrintWarning(fmt.Sprintf("Skipped %d stocks: %v", len(failed), failed))
	}
	PrintSuccess("Model saved to " + out)
	return nil
}

func runTrainVerify(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{loadModel: true})
	if err != nil {
		return err
	}
	defer a.Close()

	model := a.driver.Model()
	if model == nil {
		return fmt.Errorf("no model at %s, run train first", a.cfg.Model.Path)
	}
	roster, err := training.LoadRoster(orDefault(trainRoster, a.cfg.Model.RosterPath))
	if err != nil {
		return err
	}
	floor := verifyFloor
	if floor <= 0 {
		floor = roster.Trainer.TargetScore
	}

	results, err := training.NewTrainer(a.market, a.log).SelfMatch(ctx, model, roster, floor)
	if err != nil {
		return fmt.Errorf("self-match: %w", err)
	}

	PrintHeader(fmt.Sprintf("Self-match (floor %.2f)", floor))
	widths := []int{8, 10, 12, 7, 8, 4}
	PrintTableHeader([]string{"Code", "Name", "Surge", "Score", "Matched", ""}, widths)
	below := 0
	for _, r := range results {
		mark := "✅"
		if !r.AboveFloor {
			mark = "⚠️"
			below++
		}
		PrintTableRow([]string{r.Code, r.Name, r.SurgeDate, fmt.Sprintf("%.3f", r.Score), fmt.Sprintf("%d", r.Matched), mark}, widths)
	}
	fmt.Println()
	if below > 0 {
		PrintWarning(fmt.Sprintf("%d of %d samples below %.2f", below, len(results), floor))
	} else {
		PrintSuccess(fmt.Sprintf("All %d samples at or above %.2f", len(results), floor))
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/bullscan/internal/scheduler"
	"github.com/wonny/bullscan/internal/scheduler/jobs"
	"github.com/wonny/bullscan/internal/training"
	"github.com/wonny/bullscan/internal/watchlist"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Manage scheduled jobs",
	Long: `Starts the scheduler daemon or runs its jobs by hand.

Subcommands:
  start   - Start the scheduler
  list    - List registered jobs
  run     - Run one job now
  status  - Show schedules and next run times

Example:
  go run ./cmd/bullscan scheduler start
  go run ./cmd/bullscan scheduler list
  go run ./cmd/bullscan scheduler run daily_scan`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler",
		Long: `Starts the scheduler and registers every job. Times are Beijing time.

Registered jobs:
- stock_list_refresh: 09:00 Monday to Friday
- alert_check: every 5 minutes 09:00-15:59 Monday to Friday
- daily_scan: 15:30 Monday to Friday
- roster_bar_sync: 16:00 Monday to Friday

Stop with Ctrl+C.`,
		RunE: runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "Run one job now",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}

	schedulerStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show schedules and next run times",
		RunE:  showStatus,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
	schedulerCmd.AddCommand(schedulerStatusCmd)
}

// initScheduler registers every job on a scheduler built from a
func initScheduler(a *app) (*scheduler.Scheduler, error) {
	roster, err := training.NewRosterStore(a.cfg.Model.RosterPath)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	sched := scheduler.New(a.log)
	all := []scheduler.Job{
		jobs.NewStockListJob(a.market, a.log),
		jobs.NewAlertCheckJob(watchlist.NewService(a.kv, a.market, a.log), a.log),
		jobs.NewDailyScanJob(a.driver, a.cfg.Scan, a.log),
		jobs.NewBarSyncJob(roster, a.market, a.log),
	}
	for _, j := range all {
		if err := sched.AddJob(j); err != nil {
			return nil, fmt.Errorf("add job %s: %w", j.Name(), err)
		}
	}
	return sched, nil
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== bullscan scheduler ===")

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{loadModel: true, record: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := initScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.Start()

	fmt.Println("\n✅ Scheduler started successfully")
	printJobs(sched)
	fmt.Println("\nPress Ctrl+C to stop")

	<-ctx.Done()

	fmt.Println("\nShutting down scheduler...")
	if id, ok := a.driver.Running(); ok {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = a.driver.Stop(stopCtx, id)
		cancel()
	}
	sched.Stop()
	fmt.Println("Scheduler stopped")
	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		sched, err := initScheduler(a)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		printJobs(sched)
		return nil
	})
}

func runJob(cmd *cobra.Command, args []string) error {
	name := args[0]
	fmt.Printf("Running job: %s\n", name)

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{loadModel: name == "daily_scan", record: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := initScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	start := time.Now()
	if err := sched.RunNow(ctx, name); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	fmt.Printf("✅ Job %s completed in %s\n", name, time.Since(start).Round(time.Millisecond))
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		sched, err := initScheduler(a)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}

		stats := sched.GetJobStats()
		PrintHeader("Job status (Beijing time)")
		widths := []int{20, 20, 17, 8}
		PrintTableHeader([]string{"Job", "Schedule", "Next run", "Running"}, widths)
		for _, name := range sched.GetAllJobs() {
			st := stats[name]
			next := "-"
			if st.NextRun != nil {
				next = st.NextRun.In(scheduler.Beijing).Format("2006-01-02 15:04")
			}
			PrintTableRow([]string{name, st.Schedule, next, fmt.Sprintf("%v", st.Running)}, widths)
		}
		return nil
	})
}

func printJobs(sched *scheduler.Scheduler) {
	stats := sched.GetJobStats()
	fmt.Println("\nRegistered jobs:")
	for _, name := range sched.GetAllJobs() {
		fmt.Printf("  - %-20s %s\n", name, stats[name].Schedule)
	}
}

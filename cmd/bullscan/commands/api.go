package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/bullscan/internal/api"
	"github.com/wonny/bullscan/internal/api/handlers"
	"github.com/wonny/bullscan/internal/auth"
	"github.com/wonny/bullscan/internal/scan"
	"github.com/wonny/bullscan/internal/training"
	"github.com/wonny/bullscan/internal/vip"
	"github.com/wonny/bullscan/internal/watchlist"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the HTTP API",
	Long: `Starts the REST API and the scan progress websocket.

Accounts, invite codes and VIP applications live in postgres; without
DATABASE_URL they are kept in memory and lost on restart.

Example:
  go run ./cmd/bullscan api
  go run ./cmd/bullscan api --port 8080`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API port (default PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, appOptions{loadModel: true})
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, log := a.cfg, a.log
	if apiPort != "" {
		cfg.Port = apiPort
	}

	var (
		authStore auth.Store = auth.NewMemoryStore()
		vipStore  vip.Store  = vip.NewMemoryStore()
	)
	if a.db != nil {
		authStore = auth.NewPGStore(a.db.Pool)
		vipStore = vip.NewPGStore(a.db.Pool)
	} else {
		log.Warn("Running without postgres: accounts are kept in memory")
	}

	authSvc := auth.NewService(authStore, a.kv, cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.InviteRequired, log)
	if err := authSvc.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	roster, err := training.NewRosterStore(cfg.Model.RosterPath)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	trainer := training.NewTrainer(a.market, log)
	limits := scan.NewLimits(a.kv, cfg.Scan.FreeStartHour)
	watch := watchlist.NewService(a.kv, a.market, log)

	h := api.Handlers{
		Auth:      handlers.NewAuthHandler(authSvc, limits, log),
		Scan:      handlers.NewScanHandler(a.driver, limits, cfg.Scan, log),
		Stream:    handlers.NewProgressStream(a.driver, log),
		Training:  handlers.NewTrainingHandler(roster, trainer, a.driver, cfg.Model.Path, log),
		Tools:     handlers.NewToolsHandler(a.driver, a.market, log),
		Watchlist: handlers.NewWatchlistHandler(watch, log),
		VIP:       handlers.NewVIPHandler(vip.NewService(vipStore, authSvc, log), authSvc, log),
	}

	health := func(ctx context.Context) map[string]interface{} {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		out := map[string]interface{}{
			"model_loaded": len(a.driver.Model().Template()) > 0,
			"redis":        a.redis.Enabled() && a.redis.Ping(ctx) == nil,
		}
		if a.db != nil {
			status, _ := a.db.HealthCheck(ctx)
			out["database"] = status
		}
		if id, busy := a.driver.Running(); busy {
			out["running_scan"] = id
		}
		return out
	}

	router := api.NewRouter(h, authSvc, a.limits, health, log)
	server := api.New(cfg, log, router)
	server.OnShutdown(func(ctx context.Context) {
		if id, busy := a.driver.Running(); busy {
			if err := a.driver.Stop(ctx, id); err != nil {
				log.WithError(err).Warn("Failed to stop running scan")
			}
		}
	})

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	if err := server.Run(ctx); err != nil {
		return err
	}
	fmt.Println("Server stopped")
	return nil
}

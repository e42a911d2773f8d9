package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/bullscan/internal/api/handlers"
	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/logger"
	"github.com/wonny/bullscan/pkg/redis"
)

// Handlers groups every endpoint handler the router mounts
type Handlers struct {
	Auth      *handlers.AuthHandler
	Scan      *handlers.ScanHandler
	Stream    *handlers.ProgressStream
	Training  *handlers.TrainingHandler
	Tools     *handlers.ToolsHandler
	Watchlist *handlers.WatchlistHandler
	VIP       *handlers.VIPHandler
}

// HealthFunc reports extra fields for /health
type HealthFunc func(ctx context.Context) map[string]interface{}

// NewRouter creates and configures the HTTP router
func NewRouter(h Handlers, authn Authenticator, limiter *redis.RateLimiter, health HealthFunc, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler(health)).Methods("GET")

	// Public
	r.HandleFunc("/api/register", h.Auth.Register).Methods("POST")
	r.HandleFunc("/api/login", h.Auth.Login).Methods("POST")

	// Authenticated
	authed := r.NewRoute().Subrouter()
	authed.Use(authMiddleware(authn, log))
	authed.Use(rateLimitMiddleware(limiter, log))

	authed.HandleFunc("/ws/scan/{id}", h.Stream.Serve).Methods("GET")

	api := authed.PathPrefix("/api").Subrouter()

	api.HandleFunc("/logout", h.Auth.Logout).Methods("POST")
	api.HandleFunc("/check_login", h.Auth.CheckLogin).Methods("GET")

	// Scan
	api.HandleFunc("/scan", h.Scan.Start).Methods("POST")
	api.HandleFunc("/scan/continue", h.Scan.Continue).Methods("POST")
	api.HandleFunc("/scan/stop", h.Scan.Stop).Methods("POST")
	api.HandleFunc("/scan/progress", h.Scan.Progress).Methods("GET")
	api.HandleFunc("/scan/results", h.Scan.Results).Methods("GET")
	api.HandleFunc("/scan/export", h.Scan.Export).Methods("GET")

	// Single-stock tools
	api.HandleFunc("/buy_points/{code:[0-9]{6}}", h.Tools.BuyPoints).Methods("POST")
	api.HandleFunc("/sell_points", h.Tools.SellPoints).Methods("POST")
	api.HandleFunc("/kline/{code:[0-9]{6}}/weekly", h.Tools.WeeklyKline).Methods("GET")
	api.HandleFunc("/stock/{code:[0-9]{6}}", h.Tools.Stock).Methods("GET")

	// Roster and model, read side
	api.HandleFunc("/stocks", h.Training.ListStocks).Methods("GET")
	api.HandleFunc("/analysis/{code:[0-9]{6}}", h.Training.Analysis).Methods("GET")
	api.HandleFunc("/progress", h.Training.Progress).Methods("GET")
	api.HandleFunc("/model/features", h.Training.ModelFeatures).Methods("GET")

	// Watchlist and alerts
	api.HandleFunc("/watchlist", h.Watchlist.List).Methods("GET")
	api.HandleFunc("/watchlist", h.Watchlist.Add).Methods("POST")
	api.HandleFunc("/watchlist/{code}", h.Watchlist.Remove).Methods("DELETE")
	api.HandleFunc("/alerts", h.Watchlist.Alerts).Methods("GET")
	api.HandleFunc("/alerts", h.Watchlist.AddAlert).Methods("POST")
	api.HandleFunc("/alerts/{id}", h.Watchlist.RemoveAlert).Methods("DELETE")

	api.HandleFunc("/vip/apply", h.VIP.Apply).Methods("POST")

	// Super tier only
	super := requireTier(contracts.TierSuper)

	api.Handle("/stocks", super(http.HandlerFunc(h.Training.AddStock))).Methods("POST")
	api.Handle("/stocks", super(http.HandlerFunc(h.Training.RemoveStock))).Methods("DELETE")
	api.Handle("/stocks/clear", super(http.HandlerFunc(h.Training.ClearStocks))).Methods("POST")
	api.Handle("/analyze/{code:[0-9]{6}}", super(http.HandlerFunc(h.Training.Analyze))).Methods("POST")
	api.Handle("/analyze_all", super(http.HandlerFunc(h.Training.AnalyzeAll))).Methods("POST")
	api.Handle("/train", super(http.HandlerFunc(h.Training.Train))).Methods("POST")
	api.Handle("/model/save", super(http.HandlerFunc(h.Training.SaveModel))).Methods("POST")

	api.Handle("/admin/vip", super(http.HandlerFunc(h.VIP.List))).Methods("GET")
	api.Handle("/admin/vip/{id:[0-9]+}/approve", super(http.HandlerFunc(h.VIP.Approve))).Methods("POST")
	api.Handle("/admin/vip/{id:[0-9]+}/reject", super(http.HandlerFunc(h.VIP.Reject))).Methods("POST")
	api.Handle("/admin/invite", super(http.HandlerFunc(h.VIP.CreateInvite))).Methods("POST")
	api.Handle("/admin/invite", super(http.HandlerFunc(h.VIP.Invites))).Methods("GET")
	api.Handle("/admin/users/{username}/tier", super(http.HandlerFunc(h.VIP.SetTier))).Methods("POST")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(extra HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":  "ok",
			"service": "bullscan-api",
		}
		if extra != nil {
			for k, v := range extra(r.Context()) {
				body[k] = v
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}

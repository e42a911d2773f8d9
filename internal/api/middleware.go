package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/bullscan/internal/api/handlers"
	"github.com/wonny/bullscan/internal/auth"
	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/logger"
	"github.com/wonny/bullscan/pkg/redis"
)

// Authenticator validates access tokens and loads the current account
type Authenticator interface {
	Validate(ctx context.Context, token string) (*auth.Claims, error)
	User(ctx context.Context, username string) (*contracts.User, error)
}

// TierLimits is the request budget of each tier. Unknown tiers get the free budget.
var TierLimits = map[contracts.Tier]redis.RateLimitConfig{
	contracts.TierFree:    redis.FreeTierRateLimit,
	contracts.TierPremium: redis.PremiumTierRateLimit,
	contracts.TierSuper:   redis.SuperTierRateLimit,
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"success":false,"message":` + strconv.Quote(message) + `}`))
}

// bearerToken reads the Authorization header, then ?token= for websocket clients
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// authMiddleware rejects requests without a valid token. The tier on the
// claims is replaced by the stored one so upgrades apply without a new login.
func authMiddleware(authn Authenticator, log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "login required")
				return
			}

			claims, err := authn.Validate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, auth.ErrInvalidToken) {
					log.WithError(err).Warn("Token validation failed")
				}
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			user, err := authn.User(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, auth.ErrUserNotFound) {
					writeError(w, http.StatusUnauthorized, "account no longer exists")
					return
				}
				log.WithError(err).Error("Failed to load account")
				writeError(w, http.StatusInternalServerError, "failed to load account")
				return
			}
			if !user.IsActive {
				writeError(w, http.StatusForbidden, auth.ErrAccountDisabled.Error())
				return
			}
			claims.Tier = user.Tier

			next.ServeHTTP(w, r.WithContext(handlers.WithClaims(r.Context(), claims)))
		})
	}
}

// requireTier allows only callers of the given tier
func requireTier(tier contracts.Tier) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := handlers.ClaimsFrom(r.Context())
			if c == nil || c.Tier != tier {
				writeError(w, http.StatusForbidden, "insufficient privileges")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitMiddleware applies the caller's tier budget per minute
func rateLimitMiddleware(limiter *redis.RateLimiter, log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := handlers.ClaimsFrom(r.Context())
			if c == nil {
				next.ServeHTTP(w, r)
				return
			}

			cfg, ok := TierLimits[c.Tier]
			if !ok {
				cfg = redis.FreeTierRateLimit
			}
			allowed, remaining, err := limiter.Allow(r.Context(), cfg.ForKey(c.Subject))
			if err != nil {
				// redis trouble should not take the API down
				log.WithError(err).Warn("Rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if cfg.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(cfg.Window.Seconds())))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

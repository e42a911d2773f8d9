package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/wonny/bullscan/internal/external/eastmoney"
	"github.com/wonny/bullscan/internal/external/sina"
	"github.com/wonny/bullscan/internal/marketdata"
	"github.com/wonny/bullscan/internal/recorder"
	"github.com/wonny/bullscan/internal/scan"
	"github.com/wonny/bullscan/internal/training"
	"github.com/wonny/bullscan/pkg/config"
	"github.com/wonny/bullscan/pkg/database"
	"github.com/wonny/bullscan/pkg/httputil"
	"github.com/wonny/bullscan/pkg/logger"
	"github.com/wonny/bullscan/pkg/redis"
)

// app is the dependency container every command builds from config.
// Commands receive it explicitly; nothing is held in package globals.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	redis  *redis.Client
	kv     *redis.KV
	limits *redis.RateLimiter
	db     *database.DB // nil when DATABASE_URL is unset
	market *marketdata.Fetcher
	store  *scan.RedisProgressStore
	driver *scan.Driver

	rec recorder.Recorder
}

type appOptions struct {
	// needDB fails when postgres is unreachable instead of running without it
	needDB bool
	// recordPath opens a sqlite scan recorder; record falls back to RECORDER_PATH
	recordPath string
	record     bool
	// loadModel reads cfg.Model.Path; a missing file leaves the driver without a model
	loadModel bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg)
	a := &app{cfg: cfg, log: log}

	a.redis, err = redis.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, using in-process state")
		a.redis = redis.Disabled()
	}
	a.kv = redis.NewKV(a.redis)

	if cfg.HasDatabase() {
		a.db, err = database.New(ctx, cfg)
		if err != nil {
			if opts.needDB || cfg.Database.Required {
				a.Close()
				return nil, fmt.Errorf("connect to database: %w", err)
			}
			log.WithError(err).Warn("Postgres unavailable, continuing without it")
			a.db = nil
		} else if err := a.db.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	} else if opts.needDB {
		return nil, fmt.Errorf("DATABASE_URL is required for this command")
	}

	a.limits = redis.NewRateLimiter(a.redis, "bullscan")
	em := eastmoney.NewClient(eastmoney.NewHTTPClient(cfg.Eastmoney, a.limits, log), cfg.Eastmoney, log)
	profiles := sina.NewClient(httputil.New(log), cfg.Sina.BaseURL, log)

	a.market = marketdata.NewFetcher(em, redis.NewCache(a.redis, "bullscan"), log).WithProfiles(profiles)
	if a.db != nil {
		a.market.WithBarStore(marketdata.NewBarRepository(a.db.Pool))
	}

	var model *training.Model
	if opts.loadModel {
		model, err = training.LoadModel(cfg.Model.Path)
		switch {
		case err == nil:
			log.WithFields(map[string]interface{}{
				"path":     cfg.Model.Path,
				"samples":  model.SampleCount,
				"features": len(model.Template()),
			}).Info("Model loaded")
		case errors.Is(err, os.ErrNotExist):
			log.WithField("path", cfg.Model.Path).Warn("No trained model found, train one before scanning")
			model = nil
		default:
			a.Close()
			return nil, fmt.Errorf("load model: %w", err)
		}
	}

	a.store = scan.NewRedisProgressStore(a.kv, cfg.Scan.ProgressTTL)
	a.driver = scan.NewDriver(a.market, a.store, model, log)
	if a.db != nil {
		a.driver.WithResultRepository(scan.NewPGResultRepository(a.db.Pool))
	}

	path := opts.recordPath
	if path == "" && opts.record {
		path = cfg.RecorderPath
	}
	if path != "" {
		rec, err := recorder.NewSQLiteRecorder(path, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open recorder: %w", err)
		}
		a.rec = rec
		a.driver.WithRecorder(rec)
	}

	return a, nil
}

// Close releases every connection the app opened
func (a *app) Close() {
	if a.rec != nil {
		if err := a.rec.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close recorder")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sharplee/signalcore/internal/cache/rediscache"
	"github.com/sharplee/signalcore/internal/config"
	"github.com/sharplee/signalcore/internal/engine"
	"github.com/sharplee/signalcore/internal/exchange/wsource"
	"github.com/sharplee/signalcore/internal/logx"
	"github.com/sharplee/signalcore/internal/metrics"
	"github.com/sharplee/signalcore/internal/model"
	"github.com/sharplee/signalcore/internal/observer"
	"github.com/sharplee/signalcore/internal/persistence/postgres"
	"github.com/sharplee/signalcore/internal/ports"
)

// dbQueryTimeout bounds each store's individual query, mirroring the
// teacher's Config.QueryTimeout (internal/infrastructure/db/connection.go).
const dbQueryTimeout = 10 * time.Second

// allTimeframes is every timeframe the engine tracks ATR history for:
// 1-minute plus every aggregator-derived higher timeframe.
func allTimeframes() []model.Timeframe {
	out := make([]model.Timeframe, 0, len(model.HigherTimeframes)+1)
	out = append(out, model.TF1m)
	return append(out, model.HigherTimeframes...)
}

// components bundles every collaborator a subcommand needs, so run,
// backfill, and replay-check can share one wiring path instead of each
// hand-assembling ports.
type components struct {
	log         zerolog.Logger
	cfg         *config.Root
	db          *sqlx.DB
	atrHistory  *rediscache.ATRHistory
	lockMirror  *rediscache.LockMirror
	source      ports.ExchangeSource
	bars        *postgres.BarStore
	signals     *postgres.SignalStore
	streaks     *postgres.StreakStore
	checkpoints *postgres.CheckpointStore
	registry    *metrics.Registry
	bus         *observer.Bus
	core        *engine.Core
	instruments []string
}

// close tears down components in reverse of their acquisition order, per
// the shutdown-draining sequence in SPEC_FULL.md §12: signal store and bar
// store share one *sqlx.DB, so closing the database handle retires both.
// The cache client is env-gated and owns no unmanaged resource beyond its
// connection pool, which go-redis closes lazily; nothing further to do here.
func (c *components) close() {
	if c.db != nil {
		c.db.Close()
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("pg-dsn", "", "PostgreSQL DSN (overrides PG_DSN env)")
	cmd.Flags().StringSlice("instruments", []string{"BTC-PERP", "ETH-PERP"}, "Instrument universe to process")
	cmd.Flags().String("ws-url", "", "Exchange WebSocket URL (overrides EXCHANGE_WS_URL env)")
	cmd.Flags().String("rest-base-url", "", "Exchange REST base URL for backfill (overrides EXCHANGE_REST_BASE_URL env)")
}

// buildComponents wires every collaborator a subcommand needs from flags,
// environment, and the YAML strategy config, then warm-starts the ATR
// tracker from Redis if a cache client is configured.
func buildComponents(cmd *cobra.Command, componentName string) (*components, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	pgDSN, _ := cmd.Flags().GetString("pg-dsn")
	wsURL, _ := cmd.Flags().GetString("ws-url")
	restBaseURL, _ := cmd.Flags().GetString("rest-base-url")
	instruments, _ := cmd.Flags().GetStringSlice("instruments")

	log := logx.FromEnv(componentName)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if pgDSN == "" {
		pgDSN = os.Getenv("PG_DSN")
	}
	if pgDSN == "" {
		return nil, fmt.Errorf("a PostgreSQL DSN is required: pass --pg-dsn or set PG_DSN")
	}
	db, err := sqlx.Connect("postgres", pgDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	bars := postgres.NewBarStore(db, dbQueryTimeout)
	signals := postgres.NewSignalStore(db, dbQueryTimeout)
	streaks := postgres.NewStreakStore(db, dbQueryTimeout)
	checkpoints := postgres.NewCheckpointStore(db, dbQueryTimeout)

	redisClient := rediscache.NewClientFromEnv()
	atrHistory := rediscache.NewATRHistory(redisClient, cfg.ATRTracker.MaxHistory, log)
	lockMirror := rediscache.NewLockMirror(redisClient, time.Hour, log)

	if wsURL == "" {
		wsURL = os.Getenv("EXCHANGE_WS_URL")
	}
	if restBaseURL == "" {
		restBaseURL = os.Getenv("EXCHANGE_REST_BASE_URL")
	}
	wsCfg := wsource.DefaultConfig()
	wsCfg.WSURL = wsURL
	wsCfg.RESTBaseURL = restBaseURL
	source := wsource.New(wsCfg, log)

	registry := metrics.NewRegistry(prometheus.DefaultRegisterer)
	bus := observer.New(log)
	registry.SubscribeOutcome(bus)

	core := engine.New(engine.Deps{
		Log:           log,
		Strategy:      cfg.Strategy,
		ATRTracker:    cfg.ATRTracker,
		Filters:       cfg.ResolveFilters(),
		Timeframes:    model.HigherTimeframes,
		SignalStore:   signals,
		StreakStore:   streaks,
		Bus:           bus,
		SignalMetrics: registry.SignalGenMetrics(),
		LockMirror:    lockMirror,
		ATRCache:      atrHistory,
	})

	warmStartATR(cmd, log, core, atrHistory, instruments)

	return &components{
		log:         log,
		cfg:         cfg,
		db:          db,
		atrHistory:  atrHistory,
		lockMirror:  lockMirror,
		source:      source,
		bars:        bars,
		signals:     signals,
		streaks:     streaks,
		checkpoints: checkpoints,
		registry:    registry,
		bus:         bus,
		core:        core,
		instruments: instruments,
	}, nil
}

// warmStartATR replays cached ATR history into the freshly-built engine so
// percentile accuracy survives a restart instead of rebuilding cold (spec
// "warm-start cache of recent ATR history", DESIGN.md cache/rediscache).
func warmStartATR(cmd *cobra.Command, log zerolog.Logger, core *engine.Core, atrHistory *rediscache.ATRHistory, instruments []string) {
	for _, inst := range instruments {
		for _, tf := range allTimeframes() {
			key := model.Key{Instrument: inst, Timeframe: tf}
			values, ok, err := atrHistory.Load(cmd.Context(), key)
			if err != nil {
				log.Warn().Err(err).Str("key", key.String()).Msg("atr warm-start load failed, continuing cold")
				continue
			}
			if !ok {
				continue
			}
			if err := core.BulkIngestATR(key, values); err != nil {
				log.Warn().Err(err).Str("key", key.String()).Msg("atr warm-start ingest failed")
			}
		}
	}
}

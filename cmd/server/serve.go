package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/scrapehive/discovery/internal/api"
	"github.com/scrapehive/discovery/internal/dedup"
	"github.com/scrapehive/discovery/internal/discovery"
	"github.com/scrapehive/discovery/internal/ledger"
	"github.com/scrapehive/discovery/internal/pool"
	"github.com/scrapehive/discovery/internal/quota"
	"github.com/scrapehive/discovery/pkg/logging"
)

const sweepInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the discovery HTTP server",
	RunE:  runServe,
}

// syncRelay breaks the construction cycle between the quota manager and the
// ledger syncer: the manager is built against the relay, the syncer is bound
// into it afterwards.
type syncRelay struct {
	syncer *ledger.Syncer
}

func (r *syncRelay) RequestSync(clientID string) {
	if r.syncer != nil {
		r.syncer.RequestSync(clientID)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	// Dedup ledger: redis when configured, in-process otherwise.
	var dedupLedger dedup.Ledger
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return err
		}
		dedupLedger = dedup.NewRedisLedger(rdb, dedup.DefaultTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Using redis dedup ledger")
	} else {
		dedupLedger = dedup.NewMemoryLedger(dedup.DefaultTTL)
		log.Info().Msg("Using in-process dedup ledger")
	}

	// Quota manager with a relay so the ledger syncer can be bound after it.
	relay := &syncRelay{}
	manager := quota.NewManager(relay)

	gateway := ledger.NewClient(cfg.Ledger.BaseURL)
	syncer := ledger.NewSyncer(gateway, manager)
	relay.syncer = syncer
	syncer.Start()
	defer syncer.Stop()

	// Quota snapshot persistence.
	store, err := quota.NewSQLiteStore(cfg.Quota.SQLitePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	snapshotter := quota.NewSnapshotter(manager, store, cfg.SnapshotInterval())
	snapshotter.Restore(context.Background())
	snapshotter.Start()
	defer snapshotter.Stop()

	// Discovery fan-out and per-client pools.
	adapterCfg := cfg.AdapterConfig()
	adapters := discovery.BuildAdapters(adapterCfg, discovery.DefaultSearchEngines())
	aggregator := discovery.NewAggregator(adapters, adapterCfg.AdapterTimeout)
	poolCache := pool.NewCache(aggregator, dedupLedger)

	sweepStop := startSweeper(poolCache, dedupLedger)
	defer close(sweepStop)

	h := api.NewHandlers(poolCache, manager, dedupLedger, gateway, syncer)

	app := fiber.New(fiber.Config{
		AppName:               "ScrapeHive Discovery API",
		DisableStartupMessage: false,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${error}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "UTC",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	setupRoutes(app, h)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("port", cfg.Server.Port).Msg("Starting ScrapeHive discovery server")
	return app.Listen(":" + cfg.Server.Port)
}

// setupRoutes configures all API routes
func setupRoutes(app *fiber.App, h *api.Handlers) {
	app.Get("/health", h.Health)

	app.Post("/urls", h.GetURLs)
	app.Get("/quota", h.GetQuota)
	app.Get("/analytics", h.GetAnalytics)
	app.Post("/report-scrape", h.ReportScrape)
	app.Get("/system-stats", h.GetSystemStats)
	app.Get("/canister-data", h.GetCanisterData)
	app.Post("/reset", h.ResetPool)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "ScrapeHive Discovery",
			"docs":    "https://scrapehive.io/docs/discovery",
		})
	})
}

// startSweeper runs periodic TTL sweeps over the pool cache and, when the
// dedup ledger is in-process, over its expired entries too.
func startSweeper(poolCache *pool.Cache, dedupLedger dedup.Ledger) chan struct{} {
	stop := make(chan struct{})
	logger := logging.GetLogger("sweeper")
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				poolCache.Sweep()
				if mem, ok := dedupLedger.(*dedup.MemoryLedger); ok {
					removed := mem.Sweep()
					logger.Debug().Int("ledger_removed", removed).Msg("Swept expired entries")
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}

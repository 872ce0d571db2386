package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/example/integration-hub/internal/batching"
	"github.com/example/integration-hub/internal/common"
	"github.com/example/integration-hub/internal/config"
	"github.com/example/integration-hub/internal/dedup"
	"github.com/example/integration-hub/internal/dispatcher"
	"github.com/example/integration-hub/internal/hub"
	"github.com/example/integration-hub/internal/routing"
	"github.com/example/integration-hub/internal/webhook"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("integration-hub")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg.ServiceName, cfg.LogLevel)
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort, logger)
	defer metricsSrv.Shutdown(context.Background())

	policy, err := config.Load(cfg.RoutingConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load routing policy")
	}
	if cfg.FallbackChannel != "" {
		policy.FallbackChannel = cfg.FallbackChannel
	}

	routerOpts, err := policy.RouterOptions()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid routing policy")
	}
	dedupRules, err := policy.DedupRules()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid deduplication policy")
	}
	batcherOpts, err := policy.BatcherOptions()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid batching policy")
	}

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	writers := dispatcher.NewKafkaWriters(cfg.KafkaBrokers)
	defer func() {
		if err := writers.Close(); err != nil {
			logger.Error().Err(err).Msg("close kafka writers")
		}
	}()
	publisher := &dispatcher.Publisher{
		WriterFactory: writers.Writer,
		Topics: dispatcher.Topics{
			Standard: cfg.DeliveryTopic,
			Priority: cfg.PriorityDeliveryTopic,
		},
		Logger: logger,
	}

	handler := hub.NewHandler(
		routing.NewRouter(routerOpts, logger),
		dedup.NewDeduplicator(dedup.Options{Rules: dedupRules, Store: store}, logger),
		batching.NewSmartMessageBatcher(batcherOpts, logger),
		publisher,
		hub.Options{
			WorkHours: hub.WorkHours{
				Start:    cfg.WorkHoursStart,
				End:      cfg.WorkHoursEnd,
				Location: cfg.WorkHoursTZ,
			},
			Maintenance: hub.DefaultMaintenance(),
		},
		logger,
	)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           (&webhook.Server{Hub: handler, Logger: logger}).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("listen")
	}
	logger.Info().Int("port", cfg.HTTPPort).Msg("integration hub listening")
	err = serve(ctx, srv, ln, func(runCtx context.Context) error {
		return handler.Run(runCtx, cfg.FlushInterval)
	})
	if err != nil {
		logger.Error().Err(err).Msg("integration hub stopped")
	}
}

// serve runs the HTTP server and the flush loop until ctx is cancelled. The
// flush loop is stopped, and so drains, only after the server has shut down.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, run func(context.Context) error) error {
	runCtx, stopRun := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRun()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return run(runCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopRun()
		ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return srv.Shutdown(ctxShutdown)
	})
	return g.Wait()
}

// openStore picks the durable dedup store: Postgres when DATABASE_URL is set,
// otherwise Redis when REDIS_URL is set, otherwise none.
func openStore(ctx context.Context, cfg *common.Config, logger zerolog.Logger) (dedup.Store, func()) {
	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect postgres")
		}
		store, err := dedup.MustPostgresStore(pool)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres dedup store")
		}
		logger.Info().Msg("deduplication records stored in postgres")
		return store, pool.Close

	case cfg.RedisURL != "":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse REDIS_URL")
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("connect redis")
		}
		logger.Info().Msg("deduplication records stored in redis")
		return dedup.NewRedisStore(client, hub.DefaultMaintenance().RecordRetention), func() { _ = client.Close() }

	default:
		logger.Warn().Msg("no DATABASE_URL or REDIS_URL, deduplication uses the in-process cache only")
		return nil, func() {}
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"example.com/bulletin/internal/api"
	"example.com/bulletin/internal/auth"
	"example.com/bulletin/internal/broadcast"
	"example.com/bulletin/internal/config"
	"example.com/bulletin/internal/domain"
	"example.com/bulletin/internal/outbox"
	"example.com/bulletin/internal/persistence/memory"
	"example.com/bulletin/internal/persistence/postgres"
	"example.com/bulletin/internal/roster"
	"example.com/bulletin/internal/scheduler"
	"example.com/bulletin/internal/storage"
	httptransport "example.com/bulletin/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := broadcast.NewHub(32)
	opts := []domain.Option{
		domain.WithBroadcaster(hub),
		domain.WithRoster(roster.Static{}),
		domain.WithObjectReleaser(storage.NoopReleaser{}),
	}

	var store domain.Store
	var dispatcher *outbox.Dispatcher
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()

		store = postgres.NewRepository(pool)
		opts = append(opts, domain.WithNotifier(outbox.NewNotifier(pool)))

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL, cfg.HTTPClientTimeout)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	} else {
		log.Printf("POSTGRES_URL not set; using in-memory store without publication notices")
		store = memory.NewStore()
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		client := redis.NewClient(redisOpts)
		defer client.Close()

		opts = append(opts, domain.WithBroadcaster(broadcast.NewRedisBroadcaster(client, cfg.BroadcastChannel)))
		go func() {
			logger := log.New(log.Writer(), "[broadcast] ", log.LstdFlags|log.Lshortfile)
			if err := broadcast.Subscribe(ctx, client, cfg.BroadcastChannel, logger, hub.Publish); err != nil && ctx.Err() == nil {
				logger.Printf("invalidation subscription stopped: %v", err)
			}
		}()
	}
	if cfg.RosterURL != "" {
		opts = append(opts, domain.WithRoster(roster.NewHTTPProvider(cfg.RosterURL, cfg.RosterToken, cfg.HTTPClientTimeout, cfg.RosterCacheTTL)))
	}
	if cfg.StorageURL != "" {
		opts = append(opts, domain.WithObjectReleaser(storage.NewHTTPReleaser(cfg.StorageURL, cfg.StorageToken, cfg.HTTPClientTimeout)))
	}

	service := domain.NewService(store, opts...)

	driver := scheduler.NewDriver(service, cfg.SweepInterval)
	go driver.Start(ctx)

	handler := api.NewHandler(service, api.WithHub(hub))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	srvCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress)
	requestLog := log.New(log.Writer(), "[http] ", log.LstdFlags)
	server := httptransport.NewServer(srvCfg, api.RequestLogger(requestLog)(api.CORS(cfg.CORSOrigin)(authMiddleware.Wrap(mux))))

	if err := httptransport.Run(ctx, server, "bulletin-api", srvCfg.ShutdownTimeout); err != nil {
		log.Printf("server error: %v", err)
	}
	cancel()

	driver.Wait()
	if dispatcher != nil {
		dispatcher.Wait()
	}
}

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"

	"example.com/bulletin/internal/config"
	"example.com/bulletin/internal/domain"
	"example.com/bulletin/internal/outbox"
	"example.com/bulletin/internal/persistence/postgres"
	"example.com/bulletin/internal/roster"
	"example.com/bulletin/internal/scheduler"
	"example.com/bulletin/internal/storage"
	httptransport "example.com/bulletin/internal/transport/http"
)

func main() {
	cfg := config.Load()

	once := pflag.Bool("once", false, "run a single sweep and exit")
	interval := pflag.Duration("interval", cfg.SweepInterval, "time between sweeps")
	pflag.Parse()

	if cfg.PostgresURL == "" {
		log.Fatalf("POSTGRES_URL is required for the standalone sweeper")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	opts := []domain.Option{
		domain.WithNotifier(outbox.NewNotifier(pool)),
		domain.WithRoster(roster.Static{}),
		domain.WithObjectReleaser(storage.NoopReleaser{}),
	}
	if cfg.StorageURL != "" {
		opts = append(opts, domain.WithObjectReleaser(storage.NewHTTPReleaser(cfg.StorageURL, cfg.StorageToken, cfg.HTTPClientTimeout)))
	}
	service := domain.NewService(postgres.NewRepository(pool), opts...)
	driver := scheduler.NewDriver(service, *interval)

	if *once {
		if _, err := driver.RunOnce(ctx); err != nil {
			log.Fatalf("sweep failed: %v", err)
		}
		return
	}

	if cfg.MetricsAddress != "" {
		go func() {
			if err := httptransport.Run(ctx, httptransport.NewMetricsServer(cfg.MetricsAddress), "sweeper metrics", 5*time.Second); err != nil {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}

	log.Printf("sweeper started (interval=%s)", *interval)
	go driver.Start(ctx)
	driver.Wait()
	log.Println("sweeper stopped")
}

package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"

	"example.com/bulletin/internal/config"
	"example.com/bulletin/internal/outbox"
	httptransport "example.com/bulletin/internal/transport/http"
)

func main() {
	cfg := config.Load()

	once := pflag.Bool("once", false, "process one batch of due DLQ entries and exit")
	batch := pflag.Int("batch", 50, "DLQ entries handled per pass")
	pflag.Parse()

	if cfg.PostgresURL == "" {
		log.Fatalf("POSTGRES_URL is required for the DLQ manager")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)
	pass := func() {
		replayed, err := manager.RunOnce(ctx, *batch)
		if err != nil && ctx.Err() == nil {
			log.Printf("dlq pass error: %v", err)
		}
		if replayed > 0 {
			log.Printf("replayed %d dlq entries into the outbox", replayed)
		}
	}

	if *once {
		pass()
		return
	}

	var wg sync.WaitGroup
	if cfg.MetricsAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httptransport.Run(ctx, httptransport.NewMetricsServer(cfg.MetricsAddress), "dlq manager metrics", 10*time.Second); err != nil {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}

	log.Printf("dlq manager started (interval=%s, maxRetries=%d, batch=%d)", cfg.DLQPollInterval, cfg.DLQMaxRetries, *batch)
	ticker := time.NewTicker(cfg.DLQPollInterval)
	defer ticker.Stop()

	for {
		pass()
		select {
		case <-ctx.Done():
			log.Println("dlq manager stopping")
			wg.Wait()
			return
		case <-ticker.C:
		}
	}
}

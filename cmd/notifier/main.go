package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/bulletin/internal/config"
	"example.com/bulletin/internal/consumer"
	httptransport "example.com/bulletin/internal/transport/http"
)

func main() {
	cfg := config.Load()
	if cfg.MattermostWebhook == "" {
		log.Fatalf("MATTERMOST_WEBHOOK_URL is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	handler := consumer.NewMattermostHandler(cfg.MattermostWebhook,
		consumer.WithHTTPClient(&http.Client{Timeout: cfg.HTTPClientTimeout}),
		consumer.WithLinkBase(cfg.MattermostLinkBase),
	)

	var deadLetter *kafka.Writer
	opts := []consumer.Option{consumer.WithRetry(3, time.Second)}
	if cfg.DeadLetterTopic != "" {
		deadLetter = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.KafkaBrokers...),
			Topic:                  cfg.DeadLetterTopic,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
		defer deadLetter.Close()
		opts = append(opts, consumer.WithDeadLetter(deadLetter))
	}

	var wg sync.WaitGroup
	if cfg.MetricsAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httptransport.Run(ctx, httptransport.NewMetricsServer(cfg.MetricsAddress), "notifier metrics", 10*time.Second); err != nil {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}

	for _, topic := range cfg.ConsumerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := consumer.NewProcessor(reader, handler, opts...)

		wg.Add(1)
		go func(topic string, r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			log.Printf("notifier started (topic=%s, group=%s)", topic, cfg.ConsumerGroupID)
			if err := proc.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("notifier stopped with error (topic=%s): %v", topic, err)
			}
		}(topic, reader)
	}

	<-ctx.Done()
	log.Println("notifier shutdown requested")
	wg.Wait()
}

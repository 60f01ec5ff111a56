package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"voxbill/backend/internal/config"
	"voxbill/backend/internal/jobs"
	"voxbill/backend/internal/ledger"
	"voxbill/backend/internal/pricing"
	"voxbill/backend/internal/queue"
	"voxbill/backend/internal/settle"
	"voxbill/backend/internal/store"
	"voxbill/backend/internal/transcribe"
	"voxbill/backend/internal/worker"
)

func main() {
	cfg := config.LoadConfig()
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	db, err := store.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to init db: %v", err)
	}

	transport, err := queue.DialAMQP(cfg.Broker.URL, cfg.Broker.Queue, cfg.Pipe.Workers)
	if err != nil {
		log.Fatalf("failed to connect broker: %v", err)
	}
	defer transport.Close()

	jobStore := jobs.NewStore(db)
	ledgerStore := ledger.NewStore(db, logger)
	settler := settle.New(ledgerStore, jobStore, logger)
	transcriber := transcribe.NewHTTPClient(cfg.Pipe.TranscriberURL, 15*time.Minute)
	model := pricing.NewModel(cfg.Billing.UnitPrice, cfg.Billing.Unit)

	pool := worker.NewPool(jobStore, transport, transcriber, settler, model,
		cfg.Pipe.MaxAttempts, cfg.Pipe.Workers, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("queue", cfg.Broker.Queue).Int("workers", cfg.Pipe.Workers).
		Msg("waiting for messages")
	if err := pool.Run(ctx); err != nil {
		log.Fatalf("worker error: %v", err)
	}
}

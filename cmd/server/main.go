package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"voxbill/backend/internal/config"
	"voxbill/backend/internal/dispatch"
	"voxbill/backend/internal/handlers"
	"voxbill/backend/internal/jobs"
	"voxbill/backend/internal/ledger"
	"voxbill/backend/internal/media"
	"voxbill/backend/internal/queue"
	"voxbill/backend/internal/store"
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
	dispatcher := dispatch.New(jobStore, transport, media.ExtClassifier{}, logger)

	// The reaper runs alongside the API so crashed workers cannot leave jobs
	// stuck in processing.
	reaper := worker.NewReaper(jobStore, transport, cfg.Pipe.ProcessingDeadline,
		cfg.Pipe.ProcessingDeadline/2, cfg.Pipe.MaxAttempts, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.Run(ctx)

	r := gin.Default()
	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "voxbill api"})
	})
	handlers.New(db, ledgerStore, jobStore, dispatcher).RegisterRoutes(r)

	addr := fmt.Sprintf(":%d", cfg.Port)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

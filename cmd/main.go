package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"failure-backfill/internal/api"
	"failure-backfill/internal/backfill"
	"failure-backfill/internal/config"
	"failure-backfill/internal/db"
	"failure-backfill/internal/kafka"
	"failure-backfill/internal/ledger"
	"failure-backfill/internal/logging"
	"failure-backfill/internal/models"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		var fatal *config.FatalConfigError
		if errors.As(err, &fatal) {
			log.Printf("Refusing to start: %v", fatal)
			os.Exit(1)
		}
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the dataset store once for the process lifetime
	store, closeStore, err := openDataset(ctx, cfg)
	if err != nil {
		logger.Errorf("Failed to open dataset store: %v", err)
		log.Fatalf("Dataset store connection failed: %v", err)
	}
	defer closeStore()

	var handled backfill.HandledLedger
	if cfg.Redis.Addr != "" {
		l, err := ledger.Dial(ctx, cfg.Redis.Addr, cfg.Redis.LedgerTTL)
		if err != nil {
			logger.Errorf("Failed to connect to ledger: %v", err)
			log.Fatalf("Ledger connection failed: %v", err)
		}
		defer l.Close()
		handled = l
	} else {
		logger.Warn("REDIS_ADDR not set, handled-event ledger disabled")
	}

	svc, err := backfill.New(store, handled, logger, backfill.Options{
		CompareMode: models.CompareMode(cfg.Dataset.CompareMode),
		Workers:     cfg.Backfill.Workers,
		Applier: backfill.ApplierOptions{
			RateLimit:     cfg.Backfill.RateLimit,
			RetryAttempts: cfg.Backfill.RetryAttempts,
			RetryDelay:    cfg.Backfill.RetryDelay,
			FeatureField:  cfg.Dataset.FeatureField,
			SampleSize:    cfg.Dataset.SampleSize,
		},
	})
	if err != nil {
		log.Fatalf("Failed to init backfill service: %v", err)
	}
	status := api.NewStatus()
	hub := api.NewHub(logger)
	svc.Observe(status.Record)
	svc.Observe(hub.Broadcast)

	// Start Kafka consumer
	var wg sync.WaitGroup
	consumer := kafka.NewConsumer(kafka.Config{
		Brokers:          cfg.Kafka.Brokers,
		Topics:           cfg.Kafka.Topics,
		GroupID:          cfg.Kafka.GroupID,
		OffsetReset:      cfg.Kafka.OffsetReset,
		BatchInterval:    cfg.Batch.Interval,
		BatchMaxMessages: cfg.Batch.MaxMessages,
		RetryBackoff:     cfg.Backfill.RetryDelay,
	}, svc, logger)
	consumer.Start(ctx, &wg)

	// Start API server
	var server *http.Server
	if cfg.API.Enabled {
		server = &http.Server{
			Addr:    cfg.API.Port,
			Handler: api.NewRouter(logger, api.NewHandler(svc, status, hub, logger)),
		}
		go func() {
			logger.Infof("Starting API server on %s", cfg.API.Port)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("API server failed: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("API shutdown failed: %v", err)
		}
		cancel()
	}
	wg.Wait()
	consumer.Close()
	logger.Info("Service stopped")
}

func openDataset(ctx context.Context, cfg config.Config) (backfill.Dataset, func(), error) {
	switch cfg.Dataset.Backend {
	case "mongo":
		m, err := db.NewMongo(ctx, cfg.Dataset.DSN, cfg.Dataset.Database, cfg.Dataset.Collection)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = m.Close(closeCtx)
		}, nil
	case "memory":
		return db.NewMemoryStore(), func() {}, nil
	default:
		pg, err := db.New(ctx, cfg.Dataset.DSN, cfg.Dataset.Collection)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
}

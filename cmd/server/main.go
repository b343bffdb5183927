package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sheikh-saqib/backoffice-ledger/internal/allotment"
	"github.com/sheikh-saqib/backoffice-ledger/internal/batch"
	"github.com/sheikh-saqib/backoffice-ledger/internal/config"
	"github.com/sheikh-saqib/backoffice-ledger/internal/events"
	"github.com/sheikh-saqib/backoffice-ledger/internal/events/kafka"
	redispub "github.com/sheikh-saqib/backoffice-ledger/internal/events/redis"
	"github.com/sheikh-saqib/backoffice-ledger/internal/httpapi"
	interfaces "github.com/sheikh-saqib/backoffice-ledger/internal/interfaces"
	"github.com/sheikh-saqib/backoffice-ledger/internal/ledger"
	"github.com/sheikh-saqib/backoffice-ledger/internal/logging"
	"github.com/sheikh-saqib/backoffice-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/backoffice-ledger/internal/storage/postgres"
	"github.com/sheikh-saqib/backoffice-ledger/internal/workflow"
)

// store is everything the services need from one backend.
type store interface {
	interfaces.LedgerStore
	interfaces.WorkflowStore
	interfaces.BatchStore
	interfaces.IPOStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg config.AppConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closePublisher := newPublisher(cfg, logger)
	defer closePublisher()

	l := ledger.NewLedger(st, ledger.WithPublisher(publisher), ledger.WithLogger(logger.Named("ledger")))
	engine := workflow.NewEngine(st, l, workflow.WithPublisher(publisher), workflow.WithLogger(logger.Named("workflow")))
	processor := batch.NewProcessor(st, engine, batch.WithPublisher(publisher), batch.WithLogger(logger.Named("batch")))
	allotments := allotment.NewService(st, l, allotment.WithPublisher(publisher), allotment.WithLogger(logger.Named("allotment")))

	if err := l.VerifyAll(ctx); err != nil {
		logger.Error("ledger reconstruction check failed", zap.Error(err))
	}

	handler := httpapi.NewHandler(l, engine, processor, allotments, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (store, func(), error) {
	if cfg.StorageDriver != "postgres" {
		logger.Info("using in-memory storage")
		return memory.NewStore(), func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	pg := postgres.NewStore(db)
	if err := pg.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}
	logger.Info("using postgres storage")
	return pg, func() { db.Close() }, nil
}

// newPublisher picks the broker. Every event is also written to the log as
// an audit trail.
func newPublisher(cfg config.AppConfig, logger *zap.Logger) (interfaces.EventPublisher, func()) {
	audit := events.NewLogPublisher(logger.Named("events"))

	switch cfg.EventsBackend {
	case "kafka":
		p := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, logger.Named("kafka"))
		logger.Info("publishing events to kafka", zap.Strings("brokers", cfg.KafkaBrokers))
		return events.Fanout{audit, p}, func() {
			if err := p.Close(); err != nil {
				logger.Error("failed to close kafka writer", zap.Error(err))
			}
		}
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       0,
		})
		logger.Info("publishing events to redis", zap.String("addr", cfg.RedisAddr))
		return events.Fanout{audit, redispub.NewPublisher(rdb, logger.Named("redis"))}, func() { rdb.Close() }
	default:
		return audit, func() {}
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/namesync/config"
	"github.com/d60-Lab/namesync/internal/api"
	"github.com/d60-Lab/namesync/internal/api/handler"
	"github.com/d60-Lab/namesync/internal/repository"
	"github.com/d60-Lab/namesync/internal/service"
	"github.com/d60-Lab/namesync/internal/trigger"
	"github.com/d60-Lab/namesync/pkg/database"
	"github.com/d60-Lab/namesync/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			logger.Fatal("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	if cfg.Otel.Endpoint != "" {
		shutdown, err := initTracing(ctx, cfg.Otel)
		if err != nil {
			logger.Fatal("otel init failed", zap.Error(err))
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	syncer := service.NewSyncer(repository.NewDocumentStore(db), service.Options{
		BatchSize:       cfg.Sync.BatchSize,
		CommitRate:      cfg.Sync.CommitRate,
		CostPerWrite:    cfg.Sync.CostPerWrite,
		ContinueOnError: cfg.Sync.ContinueOnError,
	})

	checks := map[string]handler.Pinger{"database": handler.PingFunc(sqlDB.PingContext)}

	if cfg.Redis.URL != "" {
		rdb := newRedis(cfg.Redis.URL)
		defer rdb.Close()
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })

		stopSub, err := startSubscriber(ctx, rdb, syncer, cfg.Redis)
		if err != nil {
			logger.Fatal("user change subscriber failed", zap.Error(err))
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = stopSub(stopCtx)
		}()
	}

	gin.SetMode(cfg.Server.Mode)
	router := api.NewRouter(handler.New(syncer, checks), api.RouterOptions{
		AdminSecret: cfg.Admin.Secret,
		ServiceName: cfg.Otel.ServiceName,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("namesync listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func newRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		logger.Fatal("invalid redis url", zap.Error(err))
	}
	return redis.NewClient(opt)
}

func startSubscriber(ctx context.Context, rdb *redis.Client, syncer *service.Syncer, cfg config.RedisConfig) (func(context.Context) error, error) {
	consumer := cfg.Consumer
	if consumer == "" {
		if host, err := os.Hostname(); err == nil {
			consumer = host
		} else {
			consumer = uuid.NewString()
		}
	}
	sub := trigger.NewStreamSubscriber(rdb, func(ctx context.Context, ev trigger.UserChangedEvent) error {
		_, err := syncer.HandleUserUpdate(ctx, ev.UserID, ev.Before, ev.After)
		return err
	}, trigger.Options{
		Stream:   cfg.Stream,
		Group:    cfg.Group,
		Consumer: consumer,
		Workers:  cfg.Workers,
	})
	if err := sub.EnsureGroup(ctx); err != nil {
		return nil, err
	}
	logger.Info("subscribed to user changes",
		zap.String("stream", cfg.Stream), zap.String("group", cfg.Group), zap.String("consumer", consumer))
	return sub.Start(ctx), nil
}

func initTracing(ctx context.Context, cfg config.OtelConfig) (func(context.Context) error, error) {
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/driftline/fanout/internal/codec"
	"github.com/driftline/fanout/internal/config"
	"github.com/driftline/fanout/internal/engine"
	"github.com/driftline/fanout/internal/gateway/postgres"
	s3store "github.com/driftline/fanout/internal/gateway/s3"
	"github.com/driftline/fanout/internal/kafka"
	"github.com/driftline/fanout/internal/observability"
	"github.com/driftline/fanout/internal/registry"
	"github.com/driftline/fanout/internal/relay"
	"github.com/driftline/fanout/internal/server"
	"github.com/driftline/fanout/internal/session"
)

func main() {
	cfg := config.Load()

	observability.InitLogger(cfg.ServiceName)
	log := observability.Log

	if cfg.TracingEnabled {
		tp, err := observability.InitTracer(cfg.ServiceName, cfg.JaegerURL)
		if err != nil {
			log.Fatal("failed to initialize tracer", zap.Error(err))
		}
		defer tp.Shutdown(context.Background())
	}

	ctx, cancel := setupSignalHandler(log)
	defer cancel()

	instanceID := getOrGenerateInstanceID(cfg.InstanceID)

	redisClient := initRedis(ctx, cfg.RedisAddr, log)
	db := initPostgres(ctx, cfg.PostgresDSN, log)
	defer db.Close()

	store := postgres.New(db, redisClient)
	attachments := s3store.NewStore(initS3Client(cfg), cfg.S3Bucket, cfg.S3KeyPrefix)

	cdc := codec.New(attachments, cfg.MaxAttachmentBytes)
	reg := registry.New()
	rly := relay.New(redisClient, instanceID)
	eng := engine.New(reg, store, cdc, rly, cfg.ServiceName)

	rly.Subscribe(ctx, eng.DeliverLocal)

	consumer := initKafka(ctx, cfg, eng, log)
	defer consumer.Close()

	wsHandler := session.NewHandler(reg, eng, cdc, cfg.JWTSecret, cfg.ServiceName)

	obsSrv := initObservabilityServer(cfg, store)
	mainSrv := server.New(cfg.HTTPAddr, initMainRouter(wsHandler))

	startServers(obsSrv, mainSrv, log)

	<-ctx.Done()
	performGracefulShutdown(obsSrv, mainSrv, reg, log)
}

func setupSignalHandler(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, initiating shutdown", zap.String("signal", sig.String()))
		cancel()
	}()
	return ctx, cancel
}

func getOrGenerateInstanceID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func initRedis(ctx context.Context, addr string, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	return client
}

func initPostgres(ctx context.Context, dsn string, log *zap.Logger) *sql.DB {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("failed to open postgres", zap.Error(err))
	}
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	return db
}

func initS3Client(cfg *config.Config) *awss3.Client {
	return awss3.New(awss3.Options{
		Region: cfg.S3Region,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     cfg.S3AccessKey,
				SecretAccessKey: cfg.S3SecretKey,
			}, nil
		}),
	})
}

func initKafka(ctx context.Context, cfg *config.Config, eng *engine.Engine, log *zap.Logger) *kafka.Consumer {
	consumer, err := kafka.New(cfg.KafkaBrokers, cfg.KafkaTopics, cfg.KafkaGroup, eng)
	if err != nil {
		log.Fatal("failed to create kafka consumer", zap.Error(err))
	}
	consumer.Start(ctx)
	return consumer
}

func initObservabilityServer(cfg *config.Config, store *postgres.Repository) *http.Server {
	mux := chi.NewRouter()
	mux.Use(observability.MetricsMiddleware(cfg.ServiceName))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/health/live", observability.HealthLiveHandler)
	mux.Get("/health/ready", observability.HealthReadyHandler(store.Ping))
	return &http.Server{Addr: cfg.ObsHTTPAddr, Handler: mux}
}

func initMainRouter(wsHandler *session.Handler) http.Handler {
	mux := chi.NewRouter()
	mux.Handle("/ws", wsHandler)
	mux.Post("/notifications/read", wsHandler.MarkRead)
	return mux
}

func startServers(obsSrv *http.Server, mainSrv *server.Server, log *zap.Logger) {
	go func() {
		log.Info("starting observability server", zap.String("addr", obsSrv.Addr))
		if err := obsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("observability server error", zap.Error(err))
		}
	}()
	go func() {
		if err := mainSrv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()
}

func performGracefulShutdown(obs *http.Server, mainSrv *server.Server, reg *registry.Registry, log *zap.Logger) {
	log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mainSrv.Shutdown(ctx); err != nil {
		log.Error("error during main server shutdown", zap.Error(err))
	}
	if err := obs.Shutdown(ctx); err != nil {
		log.Error("error during observability server shutdown", zap.Error(err))
	}
	reg.CloseAll()
	log.Info("shutdown complete, exiting")
}

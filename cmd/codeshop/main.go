package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	html "github.com/gofiber/template/html/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"codeshop/internal/config"
	"codeshop/internal/events"
	"codeshop/internal/http/handlers"
	applog "codeshop/internal/log"
	"codeshop/internal/redisx"
	"codeshop/internal/repos"
)

func main() {
	cfg := config.Load()

	logger, closeLog, err := applog.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closeLog()
	logger = logger.With(zap.String("service", cfg.ServiceName))

	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer db.Close()

	// Redis only screens webhook replays; without it the DB row still does.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, webhook dedup falls back to the database", zap.Error(err))
		}
		cancel()
		defer rdb.Close()
	}
	dedup := redisx.NewDedup(rdb, "webhook")

	var pub events.Publisher = events.NewLogPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, 256, logger)
		kp.Start()
		defer kp.Close()
		pub = kp
		logger.Info("events: publishing to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	engine := html.New(cfg.TemplatesDir, ".html")
	engine.Reload(os.Getenv("TEMPLATES_RELOAD") == "1")

	deps := handlers.NewDeps(db, cfg, pub, dedup, logger)
	app := handlers.NewApp(deps, engine)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	}()
	logger.Info("listening", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/KeertanaGupta/mediprior-V0/internal/api"
	"github.com/KeertanaGupta/mediprior-V0/internal/config"
	"github.com/KeertanaGupta/mediprior-V0/internal/events"
	"github.com/KeertanaGupta/mediprior-V0/internal/hub"
	"github.com/KeertanaGupta/mediprior-V0/internal/logger"
	"github.com/KeertanaGupta/mediprior-V0/internal/presence"
	"github.com/KeertanaGupta/mediprior-V0/internal/store"
	"github.com/KeertanaGupta/mediprior-V0/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	lg, err := logger.New(cfg.App.Env != "production")
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if cfg.App.JWTSecret == "" {
		lg.Fatal("app.jwt_secret is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		lg.Fatalw("mongo connect", "err", err)
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	st := store.NewMongoStore(mongoClient.Database(cfg.Mongo.Database))
	if err := st.EnsureIndexes(ctx); err != nil {
		lg.Fatalw("mongo indexes", "err", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		lg.Fatalw("redis ping", "err", err)
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	}
	defer func() { _ = publisher.Close() }()

	h := hub.New(rdb, cfg.Redis.Prefix+":chat:fanout", lg)
	defer h.Shutdown()

	gw := ws.NewGateway(st, presence.NewRedisStore(rdb, cfg.Redis.Prefix), h, publisher, cfg.WS.TurnLimit, lg)
	wsHandler := ws.NewHandler(gw, cfg.App.JWTSecret,
		cfg.PingInterval, cfg.WriteDeadline, cfg.WS.MaxMessageSizeBytes, cfg.WS.RatePerSecond, lg)
	srv := api.NewServer(gw, wsHandler, cfg.App.JWTSecret, lg)

	errs := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		lg.Infow("chat gateway listening", "addr", addr)
		errs <- srv.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		lg.Fatalw("server error", "err", err)
	case s := <-sig:
		lg.Infow("signal received", "signal", s)
	}

	if err := srv.Shutdown(); err != nil {
		lg.Warnw("shutdown", "err", err)
	}
	lg.Info("stopped")
}

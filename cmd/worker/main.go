package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mpontin/totem-orders/internal/config"
	"github.com/mpontin/totem-orders/internal/gateway"
	kafkax "github.com/mpontin/totem-orders/internal/kafka"
	"github.com/mpontin/totem-orders/internal/orders"
	"github.com/mpontin/totem-orders/internal/paycache"
	"github.com/mpontin/totem-orders/internal/postgres"
	"github.com/mpontin/totem-orders/internal/redisx"
	"github.com/mpontin/totem-orders/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName+"-worker").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	var (
		rdb   *redis.Client
		cache paycache.Store
	)
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		cache = &paycache.RedisStore{RDB: rdb}
	} else {
		log.Warn().Msg("no REDIS_ADDR: using in-process payment cache and no event dedup")
		cache = paycache.NewMemoryStore()
	}

	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayToken, log)

	pExpired := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderExpired, 1024, log)
	pExpired.Start(ctx)

	svc := &orders.Service{
		Repo:            &orders.Repo{DB: db},
		Gateway:         gw,
		Cache:           cache,
		ProducerExpired: pExpired,
		DeviceID:        cfg.TerminalDeviceID,
		ServiceName:     cfg.ServiceName + "-worker",
		Log:             log,
	}

	sched := &worker.Scheduler{
		Jobs: worker.Jobs(svc, cache, cfg, log),
		Log:  log,
	}
	go func() {
		if err := sched.Start(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler exit")
			cancel()
		}
	}()

	group := getenv("FINALIZER_GROUP", "order-finalizer")
	workers := mustAtoi(os.Getenv("FINALIZER_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicPaymentApproved, workers, log)
	var dedup worker.Deduper
	if rdb != nil {
		dedup = &worker.RedisDeduper{RDB: rdb}
	}
	handler := &worker.ApprovedHandler{Svc: svc, Dedup: dedup, Log: log}

	go func() {
		log.Info().Str("group", group).Int("workers", workers).Msg("payment-approved consumer started")
		if err := cons.Start(ctx, handler.Handle); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down worker...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	pExpired.Close()
	pExpired.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

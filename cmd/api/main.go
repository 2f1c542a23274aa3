package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mpontin/totem-orders/internal/config"
	"github.com/mpontin/totem-orders/internal/gateway"
	"github.com/mpontin/totem-orders/internal/httpx"
	kafkax "github.com/mpontin/totem-orders/internal/kafka"
	"github.com/mpontin/totem-orders/internal/orders"
	"github.com/mpontin/totem-orders/internal/paycache"
	"github.com/mpontin/totem-orders/internal/postgres"
	"github.com/mpontin/totem-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Payment cache: Redis when configured, in-process map otherwise.
	var (
		rdb   *redis.Client
		cache paycache.Store
	)
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		cache = &paycache.RedisStore{RDB: rdb}
	} else {
		log.Warn().Msg("no REDIS_ADDR: using in-process payment cache, single instance only")
		mem := paycache.NewMemoryStore()
		cache = mem
		go sweepHourly(ctx, mem, cfg.CacheSweepEvery)
	}

	if !cfg.PaymentsEnabled() {
		log.Warn().Msg("no GATEWAY_TOKEN: payment routes disabled")
	}
	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayToken, log)

	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024, log)
	pCreated.Start(ctx)
	pApproved := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentApproved, 1024, log)
	pApproved.Start(ctx)

	repo := &orders.Repo{DB: db}
	svc := &orders.Service{
		Repo:             repo,
		Gateway:          gw,
		Cache:            cache,
		ProducerCreated:  pCreated,
		ProducerApproved: pApproved,
		DeviceID:         cfg.TerminalDeviceID,
		ServiceName:      cfg.ServiceName,
		Log:              log,
	}

	router := httpx.NewRouter()
	h := &httpx.Handler{
		Svc:             svc,
		Products:        repo,
		PaymentsEnabled: cfg.PaymentsEnabled(),
		Log:             log,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	pCreated.Close()
	pApproved.Close()
	cancel()
	pCreated.WaitClosed()
	pApproved.WaitClosed()
}

// sweepHourly keeps the fallback cache from growing without bound. The
// worker process sweeps its own map; each process owns its entries.
func sweepHourly(ctx context.Context, mem *paycache.MemoryStore, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			mem.Sweep(ctx, time.Now().UTC())
		}
	}
}

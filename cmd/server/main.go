package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/wash-hup/internal/auth"
	"github.com/example/wash-hup/internal/cache"
	"github.com/example/wash-hup/internal/config"
	"github.com/example/wash-hup/internal/deadletter"
	"github.com/example/wash-hup/internal/eta"
	"github.com/example/wash-hup/internal/fanout"
	"github.com/example/wash-hup/internal/geo"
	httpapi "github.com/example/wash-hup/internal/http"
	"github.com/example/wash-hup/internal/logging"
	"github.com/example/wash-hup/internal/matcher"
	"github.com/example/wash-hup/internal/negotiation"
	"github.com/example/wash-hup/internal/offers"
	"github.com/example/wash-hup/internal/outbox"
	"github.com/example/wash-hup/internal/payments"
	"github.com/example/wash-hup/internal/settlement"
	"github.com/example/wash-hup/internal/storage"
	"github.com/example/wash-hup/internal/sweep"
	"github.com/example/wash-hup/internal/ws"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	ready := map[string]httpapi.Pinger{}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	ready["postgres"] = store

	var (
		index  geo.Index
		offerS offers.Store
		kv     cache.KV
		broker fanout.Broker
	)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			return err
		}
		ready["redis"] = redisPinger{rc}
		index = geo.NewRedisIndex(rc, cfg.RedisGeoKey)
		offerS = offers.NewRedisStore(rc, cfg.OfferTTL)
		kv = cache.NewRedis(rc)
		broker = fanout.NewRedisBroker(rc)
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory index, offers, cache and broker")
		index = geo.NewMemoryIndex()
		offerS = offers.NewMemoryStore(cfg.OfferTTL)
		kv = cache.NewMemory()
		broker = fanout.NewMemoryBroker()
	}

	hub := fanout.NewHub(broker, logger)
	defer hub.Close()

	opts := []outbox.Option{outbox.WithInterval(cfg.OutboxPollInterval)}
	if cfg.RabbitMQURL != "" {
		mirror, err := outbox.NewAMQPMirror(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return err
		}
		defer mirror.Close()
		opts = append(opts, outbox.WithMirror(mirror))
	}
	if cfg.PushEndpoint != "" {
		opts = append(opts, outbox.WithMirror(outbox.NewPushMirror(cfg.PushEndpoint, cfg.PushKey)))
	}
	dispatcher := outbox.NewDispatcher(store, hub, logger, opts...)

	var dlq deadletter.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := deadletter.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaDLQTopic)
		defer kp.Close()
		dlq = kp
	} else {
		logger.Warn("KAFKA_BROKERS not set, failed settlements are only logged")
		dlq = deadletter.NewLogSink(logger)
	}

	gateway := newGateway(cfg)
	est := &eta.Estimator{Cache: eta.NewCache(5 * time.Minute), SpeedMps: cfg.DefaultSpeedMps}
	if cfg.OSRMEndpoint != "" {
		est.Client = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}
	svc := negotiation.NewService(negotiation.Deps{
		Store:   store,
		Offers:  offerS,
		Geo:     index,
		KV:      kv,
		Gateway: gateway,
		Ranker:  &matcher.Ranker{ETA: est, RatingWeight: cfg.RatingWeight, TopN: cfg.MatcherTopN},
		Waker:   dispatcher,
	}, negotiation.Config{
		SearchRadiusKm: cfg.SearchRadiusKm,
		CodeTTL:        cfg.CodeTTL,
		PriceCacheTTL:  cfg.PriceCacheTTL,
		Currency:       cfg.Currency,
	}, logger)
	proc := settlement.NewProcessor(store, kv, dlq, dispatcher, cfg.IdempotencyTTL, logger, gateway)

	jwt := auth.NewJWTService(cfg.JWTSecret, 24*time.Hour)
	srv := httpapi.NewServer(httpapi.Options{
		Service:    svc,
		Settlement: proc,
		Verifier:   jwt,
		WebSocket:  ws.NewHandler(jwt, store, hub, logger),
		Ready:      ready,
		Logger:     logger,
	})

	scheduler := sweep.NewScheduler(sweep.NewJobs(store, dispatcher, cfg.PaymentExpiry, logger),
		sweep.Schedule{Payments: cfg.SweepSchedule, Outbox: cfg.OutboxSweep}, logger)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer func() { <-scheduler.Stop().Done() }()

	go dispatcher.Run(ctx)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("wash-hup listening", "addr", cfg.HTTPAddr, "payment_provider", gateway.Name())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	notice := fanout.Event{Type: "system", Data: fanout.SystemMessage{Sender: "system", Text: "server restarting, reconnect shortly"}}
	logger.Info("shutdown notice sent", "sessions", hub.Broadcast("", notice))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set, using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN, logger)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		if err := ps.Migrate(ctx); err != nil {
			_ = ps.Close()
			return nil, err
		}
		logger.Info("migrations applied")
	}
	return ps, nil
}

func newGateway(cfg config.ServerConfig) payments.Gateway {
	switch cfg.PaymentProvider {
	case config.ProviderPaystack:
		return payments.NewPaystackClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey)
	case config.ProviderStripe:
		return payments.NewStripeGateway(cfg.StripeAPIKey, cfg.StripeWebhookKey, cfg.PaymentSuccessURL, cfg.PaymentCancelURL, cfg.StripeFeePercent)
	default:
		return &payments.Sandbox{BaseURL: cfg.SandboxBaseURL, Secret: cfg.SandboxSecret}
	}
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

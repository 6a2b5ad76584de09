package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/cache"
	"github.com/example/wash-hup/internal/config"
	"github.com/example/wash-hup/internal/deadletter"
	"github.com/example/wash-hup/internal/logging"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/settlement"
	"github.com/example/wash-hup/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total dead-lettered settlement messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total undecodable messages received",
	})
	replaySettled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_settlements_replayed_total",
		Help: "Total settlements applied on replay",
	})
	replayRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_settlements_requeued_total",
		Help: "Total settlements sent back to the dead-letter topic",
	})
	replayAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_settlements_abandoned_total",
		Help: "Total settlements dropped after the last attempt",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, replaySettled, replayRequeued, replayAbandoned)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("settlement-retry", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewPostgresStore(ctx, cfg.PGDSN, logger)
	if err != nil {
		logger.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var kv cache.KV = cache.NewMemory()
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		kv = cache.NewRedis(rc)
	}

	producer := deadletter.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaDLQTopic)
	defer producer.Close()

	// replays only need Settle, so no gateways are registered
	proc := settlement.NewProcessor(store, kv, producer, nil, 0, logger)
	rt := &retrier{
		settler:     proc,
		requeue:     producer,
		maxAttempts: cfg.MaxAttempts,
		attempts:    3,
		delay:       200 * time.Millisecond,
		logger:      logger,
	}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "postgres not ready", 503)
				return
			}
			w.WriteHeader(200)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaDLQTopic, GroupID: cfg.KafkaGroup, MinBytes: 1, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("consumer listening", "topic", cfg.KafkaDLQTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	l := &loop{reader: r, rt: rt, backoff: cfg.RetryBackoff, maxBackoff: cfg.MaxBackoff, logger: logger}
	l.run(ctx)
	logger.Info("shutting down consumer")
}

// messageReader is the part of kafka.Reader the loop needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type loop struct {
	reader     messageReader
	rt         *retrier
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// run fetches, replays and commits until ctx ends. A message is committed
// only after it has been handled, and nothing behind it is fetched first.
func (l *loop) run(ctx context.Context) {
	backoff := l.backoff
	for {
		m, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if sleep(ctx, backoff) != nil {
				return
			}
			backoff = min(backoff*2, l.maxBackoff)
			continue
		}
		// reset backoff on success
		backoff = l.backoff
		msgsConsumed.Inc()

		if !l.process(ctx, m) {
			return
		}
		if err := l.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			l.logger.Warn("commit failed", "offset", m.Offset, "error", err)
		}
	}
}

// process handles m, retrying in place with backoff while the requeue is
// failing. It reports false when ctx ended before m was handled.
func (l *loop) process(ctx context.Context, m kafka.Message) bool {
	f, err := deadletter.Decode(m)
	if err != nil {
		msgsInvalid.Inc()
		l.logger.Warn("invalid message", "offset", m.Offset, "error", err)
		return true
	}
	backoff := l.backoff
	for {
		err := l.rt.handle(ctx, f)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		l.logger.Error("replay failed", "reference", f.Event.Reference, "offset", m.Offset, "error", err, "backoff", backoff)
		if sleep(ctx, backoff) != nil {
			return false
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

// Settler applies a charge event; Conflict means it was already applied.
type Settler interface {
	Settle(ctx context.Context, ev models.ChargeEvent) error
}

type retrier struct {
	settler     Settler
	requeue     deadletter.Publisher
	maxAttempts int
	// attempts and delay bound the in-process retries of one message.
	attempts int
	delay    time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// handle replays f. A failure that survives the in-process retries goes
// back on the topic with Attempts+1 until maxAttempts is reached. Only a
// failed requeue is returned.
func (rt *retrier) handle(ctx context.Context, f deadletter.Failure) error {
	err := settleWithRetry(ctx, rt.settler, f.Event, rt.attempts, rt.delay)
	if err == nil || apperr.KindOf(err) == apperr.KindConflict {
		replaySettled.Inc()
		rt.logger.Info("settlement replayed", "reference", f.Event.Reference, "attempts", f.Attempts+1)
		return nil
	}

	f.Attempts++
	f.Reason = err.Error()
	if rt.now != nil {
		f.FailedAt = rt.now().UTC()
	} else {
		f.FailedAt = time.Now().UTC()
	}
	if f.Attempts >= rt.maxAttempts {
		replayAbandoned.Inc()
		rt.logger.Error("settlement abandoned", "reference", f.Event.Reference, "attempts", f.Attempts, "reason", f.Reason)
		return nil
	}
	if err := rt.requeue.Publish(ctx, f); err != nil {
		return fmt.Errorf("requeue %s: %w", f.Event.Reference, err)
	}
	replayRequeued.Inc()
	rt.logger.Warn("settlement requeued", "reference", f.Event.Reference, "attempts", f.Attempts, "reason", f.Reason)
	return nil
}

// settleWithRetry calls Settle up to attempts times, doubling delay between
// tries. Conflict and validation errors are final and returned at once.
func settleWithRetry(ctx context.Context, s Settler, ev models.ChargeEvent, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = s.Settle(ctx, ev)
		if err == nil {
			return nil
		}
		switch apperr.KindOf(err) {
		case apperr.KindConflict, apperr.KindValidation:
			return err
		}
		if i == attempts-1 {
			break
		}
		if serr := sleep(ctx, delay); serr != nil {
			return errors.Join(err, serr)
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

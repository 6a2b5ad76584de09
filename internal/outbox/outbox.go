// Package outbox delivers notification rows that were written in the same
// transaction as the state change they announce.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/wash-hup/internal/fanout"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/observability"
	"github.com/example/wash-hup/internal/storage"
)

// Enqueue writes one pending notification through repo, which is usually the
// transaction of the change being announced.
func Enqueue(ctx context.Context, repo storage.Repo, recipientID, event, title, message string, payload any) error {
	n := &models.Notification{
		ID:            models.NewID(models.PrefixNotification),
		RecipientID:   recipientID,
		Event:         event,
		Title:         title,
		Message:       message,
		Status:        models.NotificationPending,
		NextAttemptAt: time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode notification payload: %w", err)
		}
		n.Payload = raw
	}
	if err := repo.EnqueueNotification(ctx, n); err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", event, recipientID, err)
	}
	return nil
}

// Publisher pushes to a participant's personal channel.
type Publisher interface {
	Notify(ctx context.Context, userID string, v any) error
}

// Mirror receives every delivered notification, e.g. a message bus for
// downstream consumers. Mirror failures never block delivery.
type Mirror interface {
	Publish(ctx context.Context, n models.Notification) error
}

type Option func(*Dispatcher)

// WithMirror adds a mirror; each delivered notification goes to all of them.
func WithMirror(m Mirror) Option { return func(d *Dispatcher) { d.mirrors = append(d.mirrors, m) } }

func WithInterval(iv time.Duration) Option { return func(d *Dispatcher) { d.interval = iv } }

func WithMaxAttempts(n int) Option { return func(d *Dispatcher) { d.maxAttempts = n } }

func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

type Dispatcher struct {
	repo        storage.Repo
	pub         Publisher
	mirrors     []Mirror
	logger      *slog.Logger
	interval    time.Duration
	batch       int
	lease       time.Duration
	maxAttempts int
	now         func() time.Time
	wake        chan struct{}
}

func NewDispatcher(repo storage.Repo, pub Publisher, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:        repo,
		pub:         pub,
		logger:      logger,
		interval:    2 * time.Second,
		batch:       100,
		lease:       30 * time.Second,
		maxAttempts: 8,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Wake asks the loop to drain now instead of waiting for the next tick.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drains until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-d.wake:
		}
		for {
			n, err := d.DrainOnce(ctx)
			if err != nil {
				d.logger.Error("outbox drain failed", "err", err)
				break
			}
			if n < d.batch {
				break
			}
		}
	}
}

// DrainOnce claims one batch of due rows and publishes them.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	rows, err := d.repo.ClaimNotifications(ctx, d.now().UTC(), d.batch, d.lease)
	if err != nil {
		return 0, fmt.Errorf("claim notifications: %w", err)
	}
	for _, n := range rows {
		d.deliver(ctx, n)
	}
	return len(rows), nil
}

func (d *Dispatcher) deliver(ctx context.Context, n models.Notification) {
	ev := fanout.Event{Type: "notification", Data: n}
	if err := d.pub.Notify(ctx, n.RecipientID, ev); err != nil {
		observability.OutboxFailed.Inc()
		final := n.Attempts >= d.maxAttempts
		next := d.now().UTC().Add(backoff(n.Attempts))
		if merr := d.repo.MarkNotificationFailed(ctx, n.ID, next, final); merr != nil {
			d.logger.Error("outbox mark failed", "id", n.ID, "err", merr)
		}
		d.logger.Warn("outbox publish failed", "id", n.ID, "recipient_id", n.RecipientID, "attempts", n.Attempts, "final", final, "err", err)
		return
	}
	if err := d.repo.MarkNotificationDelivered(ctx, n.ID, d.now().UTC()); err != nil {
		d.logger.Error("outbox mark delivered", "id", n.ID, "err", err)
	}
	observability.OutboxPublished.Inc()

	for _, m := range d.mirrors {
		if err := m.Publish(ctx, n); err != nil {
			d.logger.Warn("outbox mirror publish failed", "id", n.ID, "event", n.Event, "err", err)
		}
	}
}

// backoff doubles from one second, capped at five minutes.
func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Second << uint(attempt-1)
	if d <= 0 || d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}

var _ Publisher = (*fanout.Hub)(nil)

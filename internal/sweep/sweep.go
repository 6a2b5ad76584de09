// Package sweep runs periodic maintenance: stale pending payments are
// failed so clients can retry, and the notification outbox is drained even
// when no transition woke the dispatcher.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/wash-hup/internal/observability"
	"github.com/example/wash-hup/internal/storage"
)

type Drainer interface {
	DrainOnce(ctx context.Context) (int, error)
}

type Jobs struct {
	repo          storage.Repo
	outbox        Drainer
	paymentExpiry time.Duration
	timeout       time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

func NewJobs(repo storage.Repo, outbox Drainer, paymentExpiry time.Duration, logger *slog.Logger) *Jobs {
	if paymentExpiry <= 0 {
		paymentExpiry = 24 * time.Hour
	}
	return &Jobs{
		repo:          repo,
		outbox:        outbox,
		paymentExpiry: paymentExpiry,
		timeout:       time.Minute,
		logger:        logger,
		now:           time.Now,
	}
}

// ExpirePayments marks pending payments older than the expiry as failed.
func (j *Jobs) ExpirePayments() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	before := j.now().UTC().Add(-j.paymentExpiry)
	n, err := j.repo.ExpirePendingPayments(ctx, before)
	if err != nil {
		j.logger.Error("expire pending payments", "error", err)
		return
	}
	if n > 0 {
		observability.PaymentsExpired.Add(float64(n))
		j.logger.Info("expired pending payments", "count", n, "before", before)
	}
}

// DrainOutbox publishes whatever the dispatcher's own loop has not picked up,
// including rows whose lease ran out after a crash.
func (j *Jobs) DrainOutbox() {
	if j.outbox == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.outbox.DrainOnce(ctx)
	if err != nil {
		j.logger.Error("outbox sweep", "error", err)
		return
	}
	if n > 0 {
		j.logger.Debug("outbox sweep delivered", "count", n)
	}
}

type Schedule struct {
	Payments string
	Outbox   string
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	schedule Schedule
	logger   *slog.Logger
}

func NewScheduler(jobs *Jobs, schedule Schedule, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	return &Scheduler{cron: c, jobs: jobs, schedule: schedule, logger: logger}
}

// Start registers the jobs and starts the runner. A bad schedule string is
// returned rather than logged so the process fails fast at boot.
func (s *Scheduler) Start() error {
	if s.schedule.Payments != "" {
		if _, err := s.cron.AddFunc(s.schedule.Payments, s.jobs.ExpirePayments); err != nil {
			return err
		}
		s.logger.Info("scheduled payment expiry job", "schedule", s.schedule.Payments)
	}
	if s.schedule.Outbox != "" {
		if _, err := s.cron.AddFunc(s.schedule.Outbox, s.jobs.DrainOutbox); err != nil {
			return err
		}
		s.logger.Info("scheduled outbox sweep job", "schedule", s.schedule.Outbox)
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

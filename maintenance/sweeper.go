// Package maintenance schedules the periodic session cleanup sweep.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultSchedule = "@hourly"

// SessionCleaner is the cleanup entry point the sweeper drives,
// satisfied by authcore.Service.
type SessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context) (int, error)
}

// Sweeper runs the expired-session sweep on a cron schedule.
type Sweeper struct {
	cleaner  SessionCleaner
	cron     *cron.Cron
	schedule string
	timeout  time.Duration
	log      *zap.Logger
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithSchedule overrides the cron specification, default "@hourly".
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithTimeout bounds each sweep run.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the sweeper's logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSweeper constructs a Sweeper around the given cleaner.
func NewSweeper(cleaner SessionCleaner, opts ...Option) *Sweeper {
	s := &Sweeper{
		cleaner:  cleaner,
		schedule: defaultSchedule,
		timeout:  10 * time.Minute,
		log:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return s
}

// Start registers the sweep job and launches the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("session sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for a running sweep to finish.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce executes a single sweep. Used by the scheduled job, tests,
// and graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()
	removed, err := s.cleaner.CleanupExpiredSessions(ctx)
	if err != nil {
		return err
	}

	s.log.Info("session sweep complete",
		zap.Int("removed", removed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

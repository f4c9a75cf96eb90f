// Package maintenance runs the background retention sweeps: expired
// sessions, stale revocation entries, old security events, and old audit
// entries.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iauth "github.com/passq/passq/internal/auth"
	"github.com/passq/passq/internal/security"
	"github.com/passq/passq/pkg/logger"
)

const (
	defaultSessionSpec    = "@hourly"
	defaultRevocationSpec = "@daily"
	defaultRetentionSpec  = "@daily"
)

// Cleaner coordinates the periodic cleanup jobs. Any nil dependency simply
// skips the corresponding job.
type Cleaner struct {
	sessions    *iauth.SessionService
	revocations *iauth.RevocationRegistry
	events      *security.Recorder
	audit       *security.AuditService

	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	eventRetention time.Duration
	auditRetention time.Duration

	sessionSchedule    string
	revocationSchedule string
	retentionSchedule  string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithEventRetention adjusts how long security events are retained.
func WithEventRetention(retention time.Duration) Option {
	return func(cleaner *Cleaner) {
		if retention > 0 {
			cleaner.eventRetention = retention
		}
	}
}

// WithAuditRetention adjusts how long audit entries are retained.
func WithAuditRetention(retention time.Duration) Option {
	return func(cleaner *Cleaner) {
		if retention > 0 {
			cleaner.auditRetention = retention
		}
	}
}

// WithSessionSchedule overrides the cron specification for the session sweep.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithRevocationSchedule overrides the cron specification for the revocation sweep.
func WithRevocationSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.revocationSchedule = spec
		}
	}
}

// WithRetentionSchedule overrides the cron specification for the event and audit sweeps.
func WithRetentionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.retentionSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(sessions *iauth.SessionService, revocations *iauth.RevocationRegistry, events *security.Recorder, audit *security.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:           sessions,
		revocations:        revocations,
		events:             events,
		audit:              audit,
		now:                time.Now,
		eventRetention:     security.DefaultEventRetention,
		auditRetention:     security.DefaultAuditRetention,
		sessionSchedule:    defaultSessionSpec,
		revocationSchedule: defaultRevocationSpec,
		retentionSchedule:  defaultRetentionSpec,
		log:                logger.WithComponent("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the cleanup jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.sessionSchedule, func() {
			if _, err := c.sessions.CleanupExpired(context.Background()); err != nil {
				c.log.Warn("session cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.revocations != nil {
		if _, err := c.cron.AddFunc(c.revocationSchedule, func() {
			if _, err := c.revocations.Sweep(context.Background(), c.now()); err != nil {
				c.log.Warn("revocation sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.events != nil || c.audit != nil {
		if _, err := c.cron.AddFunc(c.retentionSchedule, func() {
			ctx := context.Background()
			if c.events != nil {
				if _, err := c.events.Cleanup(ctx, c.eventRetention); err != nil {
					c.log.Warn("event cleanup failed", zap.Error(err))
				}
			}
			if c.audit != nil {
				if _, err := c.audit.Cleanup(ctx, c.auditRetention); err != nil {
					c.log.Warn("audit cleanup failed", zap.Error(err))
				}
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily
// used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.sessions != nil {
		if _, err := c.sessions.CleanupExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.revocations != nil {
		if _, err := c.revocations.Sweep(ctx, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.events != nil {
		if _, err := c.events.Cleanup(ctx, c.eventRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.audit != nil {
		if _, err := c.audit.Cleanup(ctx, c.auditRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

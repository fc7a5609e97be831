package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/campusguard/backend/internal/models"
	"github.com/campusguard/backend/internal/services"
	"github.com/campusguard/backend/pkg/logger"
	"github.com/campusguard/backend/pkg/metrics"
)

const (
	defaultBeaconSpec   = "@every 30s"
	defaultDispatchSpec = "@every 1m"
	defaultTokenSpec    = "@daily"
	defaultCacheSpec    = "@hourly"
)

// CachePurger is satisfied by cache stores that can drop expired entries.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweeper drives the recurring background jobs: resolving overdue beacons,
// re-driving missed notification dispatches, and purging expired tokens and
// cache entries. Every job is idempotent, so overlapping runs and restarts
// are harmless.
type Sweeper struct {
	db          *gorm.DB
	beacons     *services.BeaconService
	emergencies *services.EmergencyService
	cache       CachePurger
	cron        *cron.Cron
	now         func() time.Time
	log         *zap.Logger

	beaconSpec   string
	dispatchSpec string
	tokenSpec    string
	cacheSpec    string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBeaconSchedule overrides the cron specification for beacon expiry.
func WithBeaconSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.beaconSpec = spec
		}
	}
}

// WithDispatchSchedule overrides the cron specification for notification re-drives.
func WithDispatchSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.dispatchSpec = spec
		}
	}
}

// WithTokenSchedule overrides the cron specification for token cleanup.
func WithTokenSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.tokenSpec = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache purging.
func WithCacheSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.cacheSpec = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults. Any nil dependency
// results in the corresponding job being skipped.
func NewSweeper(db *gorm.DB, beacons *services.BeaconService, emergencies *services.EmergencyService, cache CachePurger, opts ...Option) *Sweeper {
	s := &Sweeper{
		db:           db,
		beacons:      beacons,
		emergencies:  emergencies,
		cache:        cache,
		now:          time.Now,
		log:          logger.WithModule("maintenance"),
		beaconSpec:   defaultBeaconSpec,
		dispatchSpec: defaultDispatchSpec,
		tokenSpec:    defaultTokenSpec,
		cacheSpec:    defaultCacheSpec,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return s
}

// Start registers jobs with the cron scheduler and launches it.
func (s *Sweeper) Start() error {
	if s.beacons != nil {
		if _, err := s.cron.AddFunc(s.beaconSpec, func() {
			if expired, err := s.beacons.ExpireOverdue(context.Background()); err != nil {
				metrics.SweeperFailures.WithLabelValues("beacon_expiry").Inc()
				s.log.Warn("beacon expiry sweep failed", zap.Error(err))
			} else if expired > 0 {
				s.log.Info("expired overdue beacons", zap.Int("count", expired))
			}
		}); err != nil {
			return err
		}
	}

	if s.emergencies != nil {
		if _, err := s.cron.AddFunc(s.dispatchSpec, func() {
			if dispatched, err := s.emergencies.DispatchPending(context.Background()); err != nil {
				metrics.SweeperFailures.WithLabelValues("notification_dispatch").Inc()
				s.log.Warn("notification dispatch sweep failed", zap.Error(err))
			} else if dispatched > 0 {
				s.log.Info("re-drove missed notification dispatches", zap.Int("count", dispatched))
			}
		}); err != nil {
			return err
		}
	}

	if s.db != nil {
		if _, err := s.cron.AddFunc(s.tokenSpec, func() {
			if _, err := CleanupTokens(context.Background(), s.db, s.now()); err != nil {
				metrics.SweeperFailures.WithLabelValues("token_cleanup").Inc()
				s.log.Warn("token cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.cache != nil {
		if _, err := s.cron.AddFunc(s.cacheSpec, func() {
			if _, err := s.cache.PurgeExpired(context.Background()); err != nil {
				metrics.SweeperFailures.WithLabelValues("cache_purge").Inc()
				s.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes all configured jobs sequentially. Primarily used in tests
// and during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if s.beacons != nil {
		if _, err := s.beacons.ExpireOverdue(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if s.emergencies != nil {
		if _, err := s.emergencies.DispatchPending(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if s.db != nil {
		if _, err := CleanupTokens(ctx, s.db, s.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if s.cache != nil {
		if _, err := s.cache.PurgeExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// CleanupTokens removes verification tokens that have expired or been consumed.
func CleanupTokens(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup tokens: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("expires_at < ? OR used_at IS NOT NULL", now).
		Delete(&models.VerificationToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup tokens: verification tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/codegrant/internal/auth/metrics"
	"github.com/aussiebroadwan/codegrant/internal/auth/store"
	"github.com/aussiebroadwan/codegrant/pkg/slogx"
)

// HousekeepingService periodically removes authorization codes and refresh
// tokens that can no longer be used, keeping spent rows around for
// ConsumedRetention so replays are still recognised as replays.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Interval time.Duration

	// ConsumedRetention is how long consumed codes and revoked refresh
	// tokens are kept after use.
	ConsumedRetention time.Duration

	Now func() time.Time

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

const (
	DefaultHousekeepingInterval = time.Hour
	DefaultConsumedRetention    = 24 * time.Hour
)

// NewHousekeepingService creates a new housekeeping service. Zero durations
// take their defaults.
func NewHousekeepingService(st store.Store, logger *slog.Logger, m *metrics.Metrics, interval, retention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	if retention <= 0 {
		retention = DefaultConsumedRetention
	}
	if logger == nil {
		logger = slogx.Discard()
	}

	return &HousekeepingService{
		Store:             st,
		Logger:            logger,
		Metrics:           m,
		Interval:          interval,
		ConsumedRetention: retention,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

// Start runs a cleanup immediately and then every Interval until Stop.
func (s *HousekeepingService) Start() {
	s.startOnce.Do(func() {
		s.started = true
		go s.run()
		s.Logger.Info("housekeeping service started", slog.Duration("interval", s.Interval))
	})
}

// Stop blocks until any in-progress cleanup has finished. Safe to call more
// than once, and before Start. Start and Stop must not race.
func (s *HousekeepingService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if !s.started {
			return
		}
		<-s.doneCh
		s.Logger.Info("housekeeping service stopped")
	})
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// PurgeResult counts rows removed by one cleanup.
type PurgeResult struct {
	AuthorizationCodes int64
	RefreshTokens      int64
}

// RunOnce performs a single cleanup. Each table is purged independently, so
// a failure on one does not stop the other.
func (s *HousekeepingService) RunOnce(ctx context.Context) PurgeResult {
	now := clock(s.Now)
	cutoff := now.Add(-s.retention())

	var res PurgeResult
	var err error

	res.AuthorizationCodes, err = s.Store.AuthorizationCodes().DeleteExpiredAuthorizationCodes(ctx, now, cutoff)
	if err != nil {
		s.Logger.Error("failed to delete expired authorization codes", slogx.Err(err))
	} else {
		s.Metrics.Purged("authorization_codes", res.AuthorizationCodes)
	}

	res.RefreshTokens, err = s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now, cutoff)
	if err != nil {
		s.Logger.Error("failed to delete expired refresh tokens", slogx.Err(err))
	} else {
		s.Metrics.Purged("refresh_tokens", res.RefreshTokens)
	}

	s.Logger.Info("housekeeping cleanup completed",
		slog.Int64("authorization_codes", res.AuthorizationCodes),
		slog.Int64("refresh_tokens", res.RefreshTokens),
	)
	return res
}

func (s *HousekeepingService) retention() time.Duration {
	if s.ConsumedRetention > 0 {
		return s.ConsumedRetention
	}
	return DefaultConsumedRetention
}

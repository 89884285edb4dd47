// Package stats maintains a periodically refreshed snapshot of the
// platform-wide contract figures so dashboard reads do not hit the ledger.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linktum-network/matrix-service/internal/chain"
	"github.com/linktum-network/matrix-service/pkg/logger"
)

// Snapshot is one observation of the platform-wide contract figures.
// Turnover is the scaled amount rendered as a decimal string.
type Snapshot struct {
	TotalUsers     uint64    `json:"total_users"`
	TotalTurnover  string    `json:"total_turnover"`
	ContractActive bool      `json:"contract_active"`
	TokenSymbol    string    `json:"token_symbol"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Store persists snapshots across service restarts. cache.Cache satisfies it.
type Store interface {
	Set(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, v interface{}) error
}

const (
	snapshotKey = "stats:platform"
	snapshotTTL = 10 * time.Minute

	// DefaultSchedule refreshes once a minute.
	DefaultSchedule = "@every 1m"
)

// Service refreshes and serves the platform snapshot.
type Service struct {
	gateway chain.Gateway
	store   Store
	log     *logger.Logger
	cron    *cron.Cron

	mu      sync.RWMutex
	current Snapshot
	loaded  bool
}

// New constructs the service. store may be nil, in which case snapshots
// live only in memory.
func New(gateway chain.Gateway, store Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("stats")
	}
	return &Service{gateway: gateway, store: store, log: log}
}

// Start refreshes once immediately, then on the given cron schedule.
func (s *Service) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if err := s.Refresh(ctx); err != nil {
		s.log.WithError(err).Warn("initial stats refresh failed")
		s.loadStored(ctx)
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Refresh(refreshCtx); err != nil {
			s.log.WithError(err).Warn("scheduled stats refresh failed")
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the refresh schedule.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Refresh reads the contract figures and replaces the current snapshot.
func (s *Service) Refresh(ctx context.Context) error {
	users, err := s.gateway.TotalUsers(ctx)
	if err != nil {
		return err
	}
	turnover, err := s.gateway.TotalTurnover(ctx)
	if err != nil {
		return err
	}
	active, err := s.gateway.ContractActive(ctx)
	if err != nil {
		return err
	}
	symbol, err := s.gateway.TokenSymbol(ctx)
	if err != nil {
		return err
	}

	snap := Snapshot{
		TotalUsers:     users,
		TotalTurnover:  turnover.String(),
		ContractActive: active,
		TokenSymbol:    symbol,
		ObservedAt:     time.Now().UTC(),
	}

	s.mu.Lock()
	s.current = snap
	s.loaded = true
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Set(ctx, snapshotKey, snap, snapshotTTL); err != nil {
			s.log.WithError(err).Warn("persisting stats snapshot failed")
		}
	}
	return nil
}

// loadStored falls back to the last persisted snapshot, if any.
func (s *Service) loadStored(ctx context.Context) {
	if s.store == nil {
		return
	}
	var snap Snapshot
	if err := s.store.Get(ctx, snapshotKey, &snap); err != nil {
		return
	}
	s.mu.Lock()
	s.current = snap
	s.loaded = true
	s.mu.Unlock()
}

// Current returns the latest snapshot. ok is false before the first
// successful refresh.
func (s *Service) Current() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.loaded
}

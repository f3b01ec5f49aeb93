package refresher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/restartfu/minerfleet/internal/domain"
	"github.com/restartfu/minerfleet/internal/observability"
	"github.com/restartfu/minerfleet/internal/ports"
)

// Refresher polls the fleet in the background and keeps the last snapshot.
type Refresher struct {
	state  *state
	reader ports.FleetReader
	config Config
	logger zerolog.Logger
}

func NewRefresher(reader ports.FleetReader, config Config, logger zerolog.Logger) *Refresher {
	return &Refresher{
		state:  &state{},
		reader: reader,
		config: normalizeConfig(config),
		logger: logger,
	}
}

// Start blocks until ctx is done. It returns immediately when disabled.
func (r *Refresher) Start(ctx context.Context) {
	if !r.config.Enabled() {
		return
	}
	r.run(ctx)
}

func (r *Refresher) Latest() (domain.FleetSnapshot, bool) {
	return r.state.latest()
}

func (r *Refresher) Status() domain.RefresherStatus {
	status := r.state.status()
	status.Enabled = r.config.Enabled()
	status.Interval = r.config.Interval
	return status
}

type state struct {
	mu          sync.RWMutex
	snapshot    domain.FleetSnapshot
	hasSnapshot bool
	refreshes   int
	lastRefresh time.Time
	lastError   string
}

func (s *state) latest() (domain.FleetSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.hasSnapshot
}

func (s *state) status() domain.RefresherStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	response := domain.RefresherStatus{
		Refreshes: s.refreshes,
		LastError: s.lastError,
	}
	if !s.lastRefresh.IsZero() {
		timestamp := s.lastRefresh
		response.LastRefresh = &timestamp
	}
	return response
}

func (s *state) recordSnapshot(snapshot domain.FleetSnapshot, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	s.hasSnapshot = true
	s.refreshes++
	s.lastRefresh = at
	s.lastError = ""
}

// recordFailure keeps the previous snapshot; a stale fleet view is still
// better than none.
func (s *state) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

func (r *Refresher) refresh(ctx context.Context) bool {
	snapshot, err := r.reader.ReadFleet(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.logger.Warn().Err(err).Msg("fleet refresh failed")
		observability.CaptureError(err, map[string]string{
			"component": "refresher",
			"operation": "read_fleet",
		}, nil)
		r.state.recordFailure(err)
		return false
	}
	r.state.recordSnapshot(snapshot, time.Now().UTC())
	r.logger.Debug().
		Int("online", snapshot.Online).
		Int("offline", snapshot.Offline).
		Float64("total_hashrate_ths", snapshot.TotalHashrate).
		Msg("fleet refreshed")
	return true
}

func (r *Refresher) run(ctx context.Context) {
	r.logger.Info().Dur("interval", r.config.Interval).Msg("fleet refresher started")
	for {
		if ctx.Err() != nil {
			r.logger.Info().Msg("fleet refresher stopped")
			return
		}

		delay := r.config.Interval
		if !r.refresh(ctx) {
			delay = r.config.RetryDelay
		}

		if !sleepWithContext(ctx, delay) {
			r.logger.Info().Msg("fleet refresher stopped")
			return
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

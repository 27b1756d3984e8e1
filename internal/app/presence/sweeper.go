package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"geomap/internal/pkg/logx"
)

// DefaultRetention is how long a record survives without activity.
const DefaultRetention = 30 * 24 * time.Hour

// Flusher persists the current store state on demand.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Sweeper periodically removes records whose LastSeen is older than the retention
// window, then asks the Flusher for a snapshot when anything was removed.
type Sweeper struct {
	hub       *Hub
	retention time.Duration
	interval  time.Duration
	flusher   Flusher
	logger    zerolog.Logger
}

// NewSweeper creates a Sweeper. flusher may be nil.
func NewSweeper(hub *Hub, retention, interval time.Duration, flusher Flusher) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{
		hub:       hub,
		retention: retention,
		interval:  interval,
		flusher:   flusher,
		logger:    logx.Component("Sweeper"),
	}
}

// Run sweeps once per interval until ctx is cancelled or the hub stops.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("retention", s.retention).
		Msg("Sweeper started.")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.hub.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Sweep skipped.")
			}
		}
	}
}

// SweepOnce removes every record inactive past the retention window and returns how
// many were removed. A failed snapshot is logged, not returned.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.hub.Store().Now().Add(-s.retention)

	removed, err := s.hub.Sweep(cutoff)
	if err != nil {
		return 0, err
	}

	if len(removed) == 0 || s.flusher == nil {
		return len(removed), nil
	}

	if err := s.flusher.Flush(ctx); err != nil {
		s.logger.Error().Err(err).Int("removed", len(removed)).Msg("Snapshot after sweep failed.")
	}

	return len(removed), nil
}

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"geomap/internal/app/presence"
	"geomap/internal/app/user"
	"geomap/internal/pkg/logx"
)

// Manager moves the record store to and from a Backend.
type Manager struct {
	store   *presence.Store
	backend Backend
	metrics *Metrics
	logger  zerolog.Logger

	// mu serializes writes so an older snapshot never lands after a newer one.
	mu sync.Mutex

	// savedRevision is the store revision of the last successful write or load.
	savedRevision uint64
	saved         bool
}

// NewManager creates a Manager. metrics may be nil.
func NewManager(store *presence.Store, backend Backend, metrics *Metrics) *Manager {
	return &Manager{
		store:   store,
		backend: backend,
		metrics: metrics,
		logger:  logx.Component("Snapshot").With().Str("backend", backend.Name()).Logger(),
	}
}

// Encode serializes records as a FeatureCollection document.
func Encode(records []user.Record) ([]byte, error) {
	doc, err := user.FeatureCollection(records).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return doc, nil
}

// Decode parses a FeatureCollection document. Features that fail to decode are
// skipped and reported in the second return value; a document that is not a
// FeatureCollection at all is ErrCorrupt.
func Decode(doc []byte) ([]user.Record, []error, error) {
	fc, err := geojson.UnmarshalFeatureCollection(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, nil, fmt.Errorf("%w: unexpected type %q", ErrCorrupt, fc.Type)
	}

	records, problems := user.FromFeatureCollection(fc)
	return records, problems, nil
}

// Load restores the store from the backend and returns how many records were loaded.
// A missing snapshot leaves the store empty and is not an error. On any other failure
// the store is left empty and the error is returned for the caller to log.
func (m *Manager) Load(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.backend.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		m.logger.Info().Msg("No snapshot found, starting with an empty store.")
		m.markSaved()
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	records, problems, err := Decode(doc)
	if err != nil {
		return 0, err
	}

	for _, problem := range problems {
		m.logger.Warn().Err(problem).Msg("Skipping unreadable snapshot record.")
	}

	m.store.Restore(records)
	m.markSaved()

	m.logger.Info().
		Int("records", m.store.Len()).
		Int("skipped", len(problems)).
		Msg("Snapshot loaded.")

	return m.store.Len(), nil
}

// Flush writes the current store unconditionally. It satisfies presence.Flusher.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.write(ctx)
}

// FlushIfChanged writes the store only when it has changed since the last write.
func (m *Manager) FlushIfChanged(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saved && m.store.Revision() == m.savedRevision {
		return false, nil
	}
	if err := m.write(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Run writes a snapshot every interval until ctx is cancelled. Failures are logged
// and retried on the next tick. The final shutdown write is the caller's Flush.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", interval).Msg("Snapshot loop started.")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.FlushIfChanged(ctx); err != nil {
				m.logger.Error().Err(err).Msg("Periodic snapshot failed.")
			}
		}
	}
}

func (m *Manager) write(ctx context.Context) error {
	start := time.Now()
	records, revision := m.store.Snapshot()

	doc, err := Encode(records)
	if err == nil {
		err = m.backend.Save(ctx, doc)
	}

	elapsed := time.Since(start).Seconds()
	if err != nil {
		m.metrics.write(m.backend.Name(), "error", elapsed)
		return err
	}

	m.metrics.write(m.backend.Name(), "ok", elapsed)
	m.metrics.success(len(records), float64(time.Now().Unix()))

	m.savedRevision = revision
	m.saved = true

	m.logger.Debug().
		Int("records", len(records)).
		Uint64("revision", revision).
		Int("bytes", len(doc)).
		Msg("Snapshot written.")

	return nil
}

func (m *Manager) markSaved() {
	m.savedRevision = m.store.Revision()
	m.saved = true
}

var _ presence.Flusher = (*Manager)(nil)

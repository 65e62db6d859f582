package snapshot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/watchlist-screen/internal/model"
)

// ErrNotLoaded is returned when no snapshot has been activated yet.
var ErrNotLoaded = eris.New("snapshot: no reference data loaded")

// Loader supplies reference entities for a reload.
type Loader interface {
	LoadEntities(ctx context.Context) ([]model.Entity, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) ([]model.Entity, error)

// LoadEntities implements Loader.
func (f LoaderFunc) LoadEntities(ctx context.Context) ([]model.Entity, error) { return f(ctx) }

// Manager owns the active snapshot. Readers call Current and keep the
// returned pointer for the whole request; reloads never mutate it.
type Manager struct {
	loader Loader
	opts   BuildOptions

	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	reloads atomic.Int64
	failed  atomic.Int64

	mu sync.Mutex // serializes reloads
}

// NewManager returns a manager with no active snapshot.
func NewManager(loader Loader, opts BuildOptions) *Manager {
	return &Manager{loader: loader, opts: opts}
}

// Current returns the active snapshot or nil.
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Require returns the active snapshot or ErrNotLoaded.
func (m *Manager) Require() (*Snapshot, error) {
	s := m.current.Load()
	if s == nil {
		return nil, ErrNotLoaded
	}
	return s, nil
}

// Reload loads entities, builds a new snapshot and activates it. On any
// error the previous snapshot stays active.
func (m *Manager) Reload(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loader == nil {
		return nil, eris.New("snapshot: no loader configured")
	}
	entities, err := m.loader.LoadEntities(ctx)
	if err != nil {
		m.failed.Add(1)
		return nil, eris.Wrap(err, "snapshot: load entities")
	}
	return m.activate(ctx, entities)
}

// Activate builds a snapshot from entities directly, bypassing the loader.
func (m *Manager) Activate(ctx context.Context, entities []model.Entity) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activate(ctx, entities)
}

func (m *Manager) activate(ctx context.Context, entities []model.Entity) (*Snapshot, error) {
	s, err := Build(ctx, m.version.Load()+1, entities, m.opts)
	if err != nil {
		m.failed.Add(1)
		return nil, err
	}
	m.version.Store(s.Version)
	m.current.Store(s)
	m.reloads.Add(1)
	return s, nil
}

// Counters returns successful and failed reload counts.
func (m *Manager) Counters() (reloads, failed int64) {
	return m.reloads.Load(), m.failed.Load()
}

// Watch reloads every interval until ctx is done. Failures are logged and
// the previous snapshot stays active.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := m.Reload(ctx)
			if err != nil {
				zap.L().Error("snapshot: periodic reload failed", zap.Error(err))
				continue
			}
			zap.L().Info("snapshot: reloaded",
				zap.Uint64("version", s.Version),
				zap.Int("entities", s.Len()),
			)
		}
	}
}

// Package registry implements the process-wide SessionRegistry: a map from
// session id (and short code) to a live *engine.Engine, with exactly-once
// construction under concurrent lookups and idle-session cleanup.
//
// Grounded on the donor's apps/server/internal/lobby/lobby.go (tables map +
// mutex, ticker-driven CleanupIdleTables, sync.Once-guarded Stop).
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"twentyeight/internal/engine"
	"twentyeight/internal/rules"
	"twentyeight/internal/shortcode"
)

const (
	defaultIdleLobbyTTL     = time.Hour
	defaultIdleActiveTTL    = 2 * time.Hour
	defaultIdleCompletedTTL = 24 * time.Hour
	defaultCleanupInterval  = time.Minute
)

// Loader fetches a session's latest persisted blob when it isn't resident in
// memory. Returning (nil, nil) means "no snapshot exists"; GetOrLoad then
// tries the short-code loader, and reports an error if that finds nothing
// either. It never creates a session on a miss.
type Loader func(ctx context.Context, sessionID string) ([]byte, error)

// ShortCodeLoader is Loader's counterpart keyed by short code rather than
// uuid, used as the fallback lookup spec §4.4 requires ("query repository by
// uuid then by short code") when a not-yet-resident session is addressed by
// its short code alone, e.g. after a process restart.
type ShortCodeLoader func(ctx context.Context, shortCode string) ([]byte, error)

// Saver is invoked once when a brand-new session is created, so the
// registry's short-code mapping survives a process restart.
type Saver func(ctx context.Context, sessionID, shortCode string) error

// Registry is the process-wide SessionRegistry (spec §4.4).
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*engine.Engine
	byCode    map[string]string // shortCode -> session id

	group Group

	cleanupInterval  time.Duration
	idleLobbyTTL     time.Duration
	idleActiveTTL    time.Duration
	idleCompletedTTL time.Duration
	done             chan struct{}
	stopOnce         sync.Once

	load       Loader
	loadByCode ShortCodeLoader
	save       Saver
	log        *log.Logger
}

// Group is the subset of singleflight.Group the registry depends on — kept
// as an interface so tests can substitute a deterministic fake.
type Group interface {
	Do(key string, fn func() (interface{}, error)) (interface{}, error, bool)
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithLoader installs a persistence-backed loader for get_or_load misses.
func WithLoader(l Loader) Option { return func(r *Registry) { r.load = l } }

// WithShortCodeLoader installs the short-code fallback loader get_or_load
// falls back to whenever the uuid loader reports no snapshot (or no uuid
// loader is installed); the identifier is passed through unchanged.
func WithShortCodeLoader(l ShortCodeLoader) Option { return func(r *Registry) { r.loadByCode = l } }

// WithSaver installs a persistence hook run once per newly created session.
func WithSaver(s Saver) Option { return func(r *Registry) { r.save = s } }

// WithIdleTTLs overrides the three phase-scoped idle thresholds (spec §5):
// lobby sessions that never started, active sessions mid-round, and
// completed sessions sitting in ROUND_END.
func WithIdleTTLs(lobby, active, completed time.Duration) Option {
	return func(r *Registry) {
		r.idleLobbyTTL = lobby
		r.idleActiveTTL = active
		r.idleCompletedTTL = completed
	}
}

// WithCleanupInterval overrides the default cleanup ticker period.
func WithCleanupInterval(d time.Duration) Option {
	return func(r *Registry) { r.cleanupInterval = d }
}

// New constructs a Registry and starts its background cleanup loop.
func New(logger *log.Logger, opts ...Option) *Registry {
	r := &Registry{
		sessions:         make(map[string]*engine.Engine),
		byCode:           make(map[string]string),
		group:            &singleflight.Group{},
		cleanupInterval:  defaultCleanupInterval,
		idleLobbyTTL:     defaultIdleLobbyTTL,
		idleActiveTTL:    defaultIdleActiveTTL,
		idleCompletedTTL: defaultIdleCompletedTTL,
		done:             make(chan struct{}),
		log:              logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.cleanupLoop()
	return r
}

// Create allocates a brand-new session with a fresh uuid and short code.
func (r *Registry) Create(ctx context.Context, mode rules.Mode) (*engine.Engine, error) {
	id := uuid.NewString()
	code, err := shortcode.Generate(func(candidate string) bool {
		r.mu.RLock()
		_, taken := r.byCode[candidate]
		r.mu.RUnlock()
		return taken
	})
	if err != nil {
		return nil, fmt.Errorf("registry: generate short code: %w", err)
	}

	e, err := engine.New(id, code, engine.DefaultConfig(mode))
	if err != nil {
		return nil, fmt.Errorf("registry: create session: %w", err)
	}

	r.mu.Lock()
	r.sessions[id] = e
	r.byCode[code] = id
	r.mu.Unlock()

	if r.save != nil {
		if err := r.save(ctx, id, code); err != nil {
			r.log.Error("failed to persist new session short code", "session", id, "error", err)
		}
	}
	r.log.Info("session created", "session", id, "short_code", code, "mode", mode)
	return e, nil
}

// Resolve looks up a session already resident in memory, by id or short code.
func (r *Registry) Resolve(idOrCode string) (*engine.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[idOrCode]; ok {
		return e, true
	}
	if id, ok := r.byCode[idOrCode]; ok {
		return r.sessions[id], true
	}
	return nil, false
}

// GetOrLoad resolves a resident session, or loads exactly one copy from
// persistence on a cache miss — concurrent callers for the same id share the
// single in-flight load via singleflight (spec §4.4 "exactly one load per
// id").
func (r *Registry) GetOrLoad(ctx context.Context, idOrCode string) (*engine.Engine, error) {
	if e, ok := r.Resolve(idOrCode); ok {
		return e, nil
	}
	if r.load == nil && r.loadByCode == nil {
		return nil, fmt.Errorf("registry: session %s not found", idOrCode)
	}

	v, err, _ := r.group.Do(idOrCode, func() (interface{}, error) {
		// Re-check: another goroutine may have finished loading while we
		// waited to enter this function.
		if e, ok := r.Resolve(idOrCode); ok {
			return e, nil
		}
		blob, err := r.loadBlob(ctx, idOrCode)
		if err != nil {
			return nil, fmt.Errorf("registry: load session %s: %w", idOrCode, err)
		}
		if blob == nil {
			return nil, fmt.Errorf("registry: no snapshot for session %s", idOrCode)
		}
		e, err := engine.Restore(blob)
		if err != nil {
			return nil, fmt.Errorf("registry: restore session %s: %w", idOrCode, err)
		}
		r.mu.Lock()
		r.sessions[e.ID()] = e
		r.byCode[e.ShortCode()] = e.ID()
		r.mu.Unlock()
		r.log.Info("session loaded from persistence", "session", e.ID())
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*engine.Engine), nil
}

// loadBlob resolves idOrCode against persistence, trying the uuid loader
// first and the short-code loader second (spec §4.4: "query repository by
// uuid then by short code").
func (r *Registry) loadBlob(ctx context.Context, idOrCode string) ([]byte, error) {
	if r.load != nil {
		blob, err := r.load(ctx, idOrCode)
		if err != nil {
			return nil, err
		}
		if blob != nil {
			return blob, nil
		}
	}
	if r.loadByCode != nil {
		return r.loadByCode(ctx, idOrCode)
	}
	return nil, nil
}

// Delete removes a session from the registry (used after an explicit
// teardown or a failed restore).
func (r *Registry) Delete(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sessionID]; ok {
		delete(r.byCode, e.ShortCode())
		delete(r.sessions, sessionID)
	}
}

// List returns every resident session id, for diagnostics.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n := r.CleanupIdle()
			if n > 0 {
				r.log.Debug("cleaned up idle sessions", "count", n)
			}
		case <-r.done:
			return
		}
	}
}

// CleanupIdle evicts sessions whose last mutation is older than the
// threshold for their current phase (lobby/active/completed, spec §5).
// Returns the number of sessions removed.
func (r *Registry) CleanupIdle() int {
	r.mu.Lock()
	var stale []*engine.Engine
	for id, e := range r.sessions {
		if time.Since(e.LastActivityAt()) > r.idleTTLFor(e.State()) {
			delete(r.sessions, id)
			delete(r.byCode, e.ShortCode())
			stale = append(stale, e)
		}
	}
	r.mu.Unlock()
	return len(stale)
}

func (r *Registry) idleTTLFor(state engine.State) time.Duration {
	switch state {
	case engine.StateLobby:
		return r.idleLobbyTTL
	case engine.StateRoundEnd:
		return r.idleCompletedTTL
	default:
		return r.idleActiveTTL
	}
}

// Stop halts the background cleanup loop. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

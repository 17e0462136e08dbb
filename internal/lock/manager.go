// Package lock implements the Transaction Coordinator's Lock Manager: the
// leaf component that arbitrates config/read sessions and global operation
// exclusion. Every accessor is guarded by a single mutex. The optional
// Persister's Upsert/Delete run while the mutex is held, so that the
// acquire check, the store write and the in-memory commit are one step;
// the holder-cache publish runs after the mutex is released.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/unc-platform/tc-core/internal/store"
)

// OpClass is the class of session exclusion requested: Read, Config, or
// Global, in ascending precedence (§4.1: Global > Config > Read).
type OpClass uint8

const (
	// OpClassRead allows any number of concurrent holders; excluded only by
	// a Global operation.
	OpClassRead OpClass = iota
	// OpClassConfig is held by at most one session at a time, and excludes
	// other Config sessions and Global operations.
	OpClassConfig
	// OpClassGlobal excludes everything: other Global operations, Config,
	// and Read.
	OpClassGlobal
)

// String renders an OpClass for logging and the tc_session store.
func (c OpClass) String() string {
	switch c {
	case OpClassRead:
		return "read"
	case OpClassConfig:
		return "config"
	case OpClassGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// DenyReason classifies why acquire() returned Denied.
type DenyReason string

const (
	DenyAlreadyConfiguring DenyReason = "AlreadyConfiguring"
	DenySystemBusy         DenyReason = "SystemBusy"
	DenyInvalidTransition  DenyReason = "InvalidTransition"
)

// DeniedError is returned by Acquire when exclusion cannot be granted.
type DeniedError struct {
	Reason DenyReason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("lock: acquire denied: %s", e.Reason)
}

// Sentinel errors for Release and Validate paths (§7 State taxonomy).
var (
	ErrBadSession  = fmt.Errorf("lock: bad session")
	ErrBadConfigID = fmt.Errorf("lock: bad config id")
)

// HolderPublisher mirrors lock-holder state to an external read cache
// (internal/store.HolderCache in this module) so diagnostics tooling can
// answer without contacting the coordinator. Publishing is best-effort and
// never gates the in-memory critical section.
type HolderPublisher interface {
	Publish(ctx context.Context, opClass string, entry store.HolderEntry) error
	Clear(ctx context.Context, opClass string) error
}

// Persister durably records lock metadata so a restarted TC can recover
// state. Per §7, Acquire only commits its in-memory state after Upsert
// succeeds; Release clears its in-memory state even when Delete fails.
type Persister interface {
	Upsert(ctx context.Context, rec store.SessionRecord) error
	Delete(ctx context.Context, sessionID uint32) error
}

// Manager is the Lock Manager: it holds config/read/global state guarded by
// a single mutex (§5, "LM state: guarded by a single mutex; all accessors
// are short").
type Manager struct {
	mu sync.Mutex

	configSession *sessionState
	readSessions  map[uint32]*sessionState
	globalSession *sessionState

	nextConfigID uint32

	logger    *slog.Logger
	persister Persister
	publisher HolderPublisher
}

type sessionState struct {
	session    uint32
	configID   uint32
	acquiredAt uint64
}

// Option configures optional collaborators on a Manager.
type Option func(*Manager)

// WithPersister attaches durable storage for lock metadata.
func WithPersister(p Persister) Option {
	return func(m *Manager) { m.persister = p }
}

// WithHolderPublisher attaches the Redis-backed holder mirror.
func WithHolderPublisher(p HolderPublisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager constructs a Lock Manager with a clean lock state. nextConfigID
// starts at 1 so that the zero value of a ConfigID always reads as "none
// issued" to callers.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		readSessions: make(map[uint32]*sessionState),
		nextConfigID: 1,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire attempts to grant exclusion of class opClass to session. A Config
// acquisition also mints a new ConfigId and returns it; Read and Global
// acquisitions return 0. acquiredAt is a caller-supplied monotonic timestamp recorded for
// persistence; NowUnix in internal/store is the conventional source.
func (m *Manager) Acquire(ctx context.Context, session uint32, opClass OpClass, acquiredAt uint64) (configID uint32, err error) {
	m.mu.Lock()

	if err := m.checkAcquire(opClass); err != nil {
		m.mu.Unlock()
		return 0, err
	}

	state := &sessionState{session: session, acquiredAt: acquiredAt}
	if opClass == OpClassConfig {
		state.configID = m.nextConfigID
		m.nextConfigID++
	}

	// Persist before committing in-memory state (§7: "LM commits memory
	// state only after the DAL write succeeds"). Held lock is released on
	// the persistence-failure path without mutating state.
	if m.persister != nil {
		rec := store.SessionRecord{
			SessionID:  session,
			OpClass:    uint8(opClass),
			ConfigID:   state.configID,
			AcquiredAt: acquiredAt,
		}
		if perr := m.persister.Upsert(ctx, rec); perr != nil {
			m.mu.Unlock()
			return 0, fmt.Errorf("lock: persist acquire: %w", perr)
		}
	}

	switch opClass {
	case OpClassRead:
		m.readSessions[session] = state
	case OpClassConfig:
		m.configSession = state
	case OpClassGlobal:
		m.globalSession = state
	}
	configID = state.configID
	m.mu.Unlock()

	if m.publisher != nil {
		entry := store.HolderEntry{Session: session, ConfigID: configID, AcquiredAt: int64(acquiredAt)}
		_ = m.publisher.Publish(ctx, opClass.String(), entry)
	}

	m.logger.Info("lock acquired", "session", session, "op_class", opClass.String(), "config_id", configID)
	return configID, nil
}

// checkAcquire applies the Global > Config > Read precedence table. Must be
// called with mu held.
func (m *Manager) checkAcquire(opClass OpClass) error {
	switch opClass {
	case OpClassGlobal:
		if m.globalSession != nil || m.configSession != nil || len(m.readSessions) > 0 {
			return &DeniedError{Reason: DenySystemBusy}
		}
	case OpClassConfig:
		if m.globalSession != nil {
			return &DeniedError{Reason: DenySystemBusy}
		}
		if m.configSession != nil {
			return &DeniedError{Reason: DenyAlreadyConfiguring}
		}
	case OpClassRead:
		if m.globalSession != nil {
			return &DeniedError{Reason: DenySystemBusy}
		}
	default:
		return &DeniedError{Reason: DenyInvalidTransition}
	}
	return nil
}

// Release relinquishes exclusion held by session for opClass. configID must
// match what Acquire returned for Config releases; it is ignored for Read
// and Global classes.
func (m *Manager) Release(ctx context.Context, session uint32, opClass OpClass, configID uint32) error {
	m.mu.Lock()

	var acquiredAt uint64
	switch opClass {
	case OpClassConfig:
		if m.configSession == nil || m.configSession.session != session {
			m.mu.Unlock()
			return ErrBadSession
		}
		if m.configSession.configID != configID {
			m.mu.Unlock()
			return ErrBadConfigID
		}
		acquiredAt = m.configSession.acquiredAt
		m.configSession = nil
	case OpClassRead:
		state, ok := m.readSessions[session]
		if !ok {
			m.mu.Unlock()
			return ErrBadSession
		}
		acquiredAt = state.acquiredAt
		delete(m.readSessions, session)
	case OpClassGlobal:
		if m.globalSession == nil || m.globalSession.session != session {
			m.mu.Unlock()
			return ErrBadSession
		}
		acquiredAt = m.globalSession.acquiredAt
		m.globalSession = nil
	default:
		m.mu.Unlock()
		return ErrBadSession
	}

	if m.persister != nil {
		if err := m.persister.Delete(ctx, session); err != nil {
			// In-memory state has already transitioned; a failed delete
			// leaves a stale tc_session row that a future List-based
			// recovery would need to reconcile, but it does not block
			// release: the in-process mutex is the runtime source of
			// truth and release-on-all-paths must never be blocked by
			// storage availability.
			m.logger.Error("lock release: persist delete failed", "session", session, "error", err)
		}
	}
	m.mu.Unlock()

	if m.publisher != nil {
		_ = m.publisher.Clear(ctx, opClass.String())
	}

	m.logger.Info("lock released", "session", session, "op_class", opClass.String(), "acquired_at", acquiredAt)
	return nil
}

// NewConfigID mints a fresh ConfigId without granting exclusion, for
// callers that already hold Config and need a successor id (e.g. audit
// flows that re-key mid-session). Monotone per process lifetime.
func (m *Manager) NewConfigID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextConfigID
	m.nextConfigID++
	return id
}

// HolderOf returns the session currently holding opClass, if any. Global and
// Config have at most one holder; Read returns an arbitrary holder purely
// for diagnostics (callers needing the full set should use ReadHolders).
func (m *Manager) HolderOf(opClass OpClass) (session uint32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch opClass {
	case OpClassConfig:
		if m.configSession != nil {
			return m.configSession.session, true
		}
	case OpClassGlobal:
		if m.globalSession != nil {
			return m.globalSession.session, true
		}
	case OpClassRead:
		for s := range m.readSessions {
			return s, true
		}
	}
	return 0, false
}

// ReadHolders returns every session currently holding a Read session.
func (m *Manager) ReadHolders() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := make([]uint32, 0, len(m.readSessions))
	for s := range m.readSessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Validate reports whether session currently holds the given configID under
// OpClassConfig, the check every config-scoped operation must pass before
// the dispatcher proceeds (§4.6 step 4).
func (m *Manager) Validate(session, configID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.configSession != nil &&
		m.configSession.session == session &&
		m.configSession.configID == configID
}

// Status is a diagnostic snapshot of lock state for tcctl show-lock.
type Status struct {
	ConfigSession *uint32
	ConfigID      uint32
	ReadSessions  []uint32
	GlobalSession *uint32
}

// Snapshot returns a point-in-time view of lock state.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	var status Status
	if m.configSession != nil {
		s := m.configSession.session
		status.ConfigSession = &s
		status.ConfigID = m.configSession.configID
	}
	if m.globalSession != nil {
		s := m.globalSession.session
		status.GlobalSession = &s
	}
	for s := range m.readSessions {
		status.ReadSessions = append(status.ReadSessions, s)
	}
	return status
}

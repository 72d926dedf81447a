// Package profile decides which browser identity backs a session and
// manages the one-time cookie hand-off from a real profile into the
// persistent store. The real profile is an exclusive resource: at most one
// live session holds its lock at a time.
package profile

import (
	"os"
	"sync"
	"time"

	"github.com/odvcencio/aviary/pkg/errors"
	"github.com/odvcencio/aviary/pkg/logging"
	"github.com/odvcencio/aviary/pkg/telemetry"
)

// Config holds the directories the manager allocates from.
type Config struct {
	PersistentDir string
	TempDir       string
}

// Manager resolves and tracks profile state per session.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	locks  map[string]string // real profile dir -> owning session id
	states map[string]*State // session id -> resolved state
	hub    *telemetry.Hub
	logger *logging.Logger
}

// NewManager creates a profile manager.
func NewManager(cfg Config, hub *telemetry.Hub, logger *logging.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		locks:  make(map[string]string),
		states: make(map[string]*State),
		hub:    hub,
		logger: logger,
	}
}

// Resolve decides the profile state for a session launch. The decision is
// made exactly once; the returned state never changes for that session.
func (m *Manager) Resolve(req Request) (*State, error) {
	state, err := m.resolve(req)
	if err != nil {
		m.logger.Error(logging.CategoryProfile, "resolve_failed", err.Error(), map[string]any{
			"session_id": req.SessionID,
		})
		return nil, err
	}

	m.mu.Lock()
	m.states[req.SessionID] = state
	m.mu.Unlock()

	m.logger.Info(logging.CategoryProfile, "resolved", string(state.Type), map[string]any{
		"session_id": req.SessionID,
		"dir":        state.Dir,
	})
	m.hub.Publish(telemetry.Event{
		Type:      telemetry.EventProfileResolved,
		SessionID: req.SessionID,
		Data:      map[string]any{"profile_type": string(state.Type)},
	})
	return state, nil
}

func (m *Manager) resolve(req Request) (*State, error) {
	if req.ExplicitDir != "" {
		return &State{Type: TypeExplicit, Dir: req.ExplicitDir}, nil
	}

	if req.RealProfileDir != "" {
		if m.tryLockReal(req.RealProfileDir, req.SessionID) {
			return &State{
				Type:                TypeReal,
				Dir:                 req.RealProfileDir,
				SourceProfile:       req.RealProfileDir,
				ExtensionsAvailable: true,
			}, nil
		}

		if req.AllowPersistentFallback {
			state, err := m.resolvePersistent(req.RealProfileDir)
			if err == nil {
				return state, nil
			}
			m.logger.Warn(logging.CategoryProfile, "cookie_copy_failed", err.Error(), map[string]any{
				"session_id": req.SessionID,
			})
			if !req.AllowTempFallback {
				return nil, errors.Wrap(err, errors.ErrCodeProfileUnavailable, "persistent fallback failed and temp fallback disallowed").
					WithContext("session_id", req.SessionID)
			}
		} else if !req.AllowTempFallback {
			return nil, errors.New(errors.ErrCodeProfileUnavailable, "real profile locked and fallback disallowed").
				WithContext("session_id", req.SessionID).
				WithContext("real_profile", req.RealProfileDir)
		}
	}

	return m.resolveTemp()
}

// resolvePersistent seeds the isolated persistent store with the real
// profile's authentication cookies. The hand-off happens once per launch;
// a later launch resolving persistent refreshes the copy.
func (m *Manager) resolvePersistent(realDir string) (*State, error) {
	if err := os.MkdirAll(m.cfg.PersistentDir, 0700); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to create persistent profile dir")
	}
	if _, err := CopyCookies(realDir, m.cfg.PersistentDir); err != nil {
		return nil, err
	}
	return &State{
		Type:                TypePersistent,
		Dir:                 m.cfg.PersistentDir,
		SourceProfile:       realDir,
		CookieCopiedAt:      time.Now(),
		ExtensionsAvailable: false,
	}, nil
}

func (m *Manager) resolveTemp() (*State, error) {
	dir, err := os.MkdirTemp(m.cfg.TempDir, "aviary-profile-")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeProfileUnavailable, "failed to create temp profile dir")
	}
	return &State{Type: TypeTemp, Dir: dir}, nil
}

func (m *Manager) tryLockReal(realDir, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, held := m.locks[realDir]; held && owner != sessionID {
		return false
	}
	m.locks[realDir] = sessionID
	return true
}

// Release unlocks a held real-profile lock when its owning session ends.
// No-op for non-real sessions and unknown ids.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	state, ok := m.states[sessionID]
	if ok {
		delete(m.states, sessionID)
		if state.Type == TypeReal {
			if owner, held := m.locks[state.SourceProfile]; held && owner == sessionID {
				delete(m.locks, state.SourceProfile)
			}
		}
	}
	m.mu.Unlock()

	if ok && state.Type == TypeReal {
		m.hub.Publish(telemetry.Event{
			Type:      telemetry.EventProfileReleased,
			SessionID: sessionID,
		})
	}
}

// StateFor returns the resolved state for a session.
func (m *Manager) StateFor(sessionID string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[sessionID]
	if !ok {
		return nil, false
	}
	clone := *state
	return &clone, true
}

// Status reports the diagnostic view for a session's profile. A stale
// cookie age is a signal for the operator, not something that is
// auto-refreshed mid-session.
func (m *Manager) Status(sessionID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[sessionID]
	if !ok {
		return Status{}, errors.New(errors.ErrCodeNotFound, "no profile state for session").
			WithContext("session_id", sessionID)
	}

	st := Status{
		ProfileType:  state.Type,
		Capabilities: state.Type.Capabilities(),
	}
	if state.SourceProfile != "" {
		_, st.RealProfileLocked = m.locks[state.SourceProfile]
	} else {
		st.RealProfileLocked = len(m.locks) > 0
	}
	if !state.CookieCopiedAt.IsZero() {
		st.CookiesCopied = true
		st.CookieAge = time.Since(state.CookieCopiedAt)
	}
	return st, nil
}

// LockedProfiles returns the real profile dirs currently held, keyed by
// owning session.
func (m *Manager) LockedProfiles() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.locks))
	for dir, owner := range m.locks {
		out[owner] = dir
	}
	return out
}

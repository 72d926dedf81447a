// Package session owns the session/worker/tab containment hierarchy.
// The registry is the single writer of that hierarchy; readers only ever
// receive point-in-time snapshots.
package session

import (
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odvcencio/aviary/pkg/errors"
	"github.com/odvcencio/aviary/pkg/logging"
	"github.com/odvcencio/aviary/pkg/profile"
	"github.com/odvcencio/aviary/pkg/telemetry"
)

// ProfileResolver decides and tracks the browser identity for sessions.
type ProfileResolver interface {
	Resolve(req profile.Request) (*profile.State, error)
	Release(sessionID string)
}

// DefaultMaxTabResults caps ListTabs output when no cap is configured.
const DefaultMaxTabResults = 20

// Registry tracks live sessions and their workers and tabs.
type Registry struct {
	mu            sync.Mutex
	sessions      map[string]*Session
	meta          *MetadataStore
	profiles      ProfileResolver
	maxTabResults int
	hub           *telemetry.Hub
	logger        *logging.Logger
}

// NewRegistry creates a session registry.
func NewRegistry(meta *MetadataStore, profiles ProfileResolver, maxTabResults int, hub *telemetry.Hub, logger *logging.Logger) *Registry {
	if maxTabResults <= 0 {
		maxTabResults = DefaultMaxTabResults
	}
	return &Registry{
		sessions:      make(map[string]*Session),
		meta:          meta,
		profiles:      profiles,
		maxTabResults: maxTabResults,
		hub:           hub,
		logger:        logger,
	}
}

// CreateSession allocates an id, resolves a profile, persists the metadata
// record, and registers the session. If profile resolution or the metadata
// write fails the session is not created and the failure propagates.
func (r *Registry) CreateSession(req CreateRequest) (Info, error) {
	id := GenerateID(req.Name)
	createdAt := time.Now()
	pid := req.PID
	if pid == 0 {
		pid = os.Getpid()
	}

	profileReq := req.Profile
	profileReq.SessionID = id
	state, err := r.profiles.Resolve(profileReq)
	if err != nil {
		return Info{}, err
	}

	record := MetadataRecord{ID: id, CreatedAt: createdAt, Identity: req.Identity, PID: pid}
	if err := r.meta.Write(record); err != nil {
		r.profiles.Release(id)
		return Info{}, errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to persist session metadata").
			WithContext("session_id", id)
	}

	sess := &Session{
		ID:        id,
		CreatedAt: createdAt,
		Identity:  req.Identity,
		PID:       pid,
		Profile:   state,
		workers:   make(map[string]*Worker),
	}

	r.mu.Lock()
	r.sessions[id] = sess
	info := snapshotSession(sess)
	r.mu.Unlock()

	r.logger.Info(logging.CategorySession, "created", id, map[string]any{
		"identity":     req.Identity,
		"profile_type": string(state.Type),
	})
	r.hub.Publish(telemetry.Event{
		Type:      telemetry.EventSessionCreated,
		SessionID: id,
		Data:      map[string]any{"profile_type": string(state.Type)},
	})
	return info, nil
}

// AddWorker inserts a new worker into an existing session.
func (r *Registry) AddWorker(sessionID string) (Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return Worker{}, notFound("session", sessionID)
	}

	worker := &Worker{
		ID:        GenerateChildID("worker"),
		SessionID: sessionID,
		tabs:      make(map[string]*Tab),
	}
	sess.workers[worker.ID] = worker
	sess.workerOrder = append(sess.workerOrder, worker.ID)
	return Worker{ID: worker.ID, SessionID: sessionID}, nil
}

// AddTab inserts a new tab under the given session and worker. The worker
// must belong to the session; the three-level containment stays consistent
// by construction.
func (r *Registry) AddTab(sessionID, workerID, url, title string) (Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return Tab{}, notFound("session", sessionID)
	}
	worker, ok := sess.workers[workerID]
	if !ok {
		return Tab{}, notFound("worker", workerID).WithContext("session_id", sessionID)
	}

	tab := &Tab{
		TargetID:  GenerateChildID("tab"),
		SessionID: sessionID,
		WorkerID:  workerID,
		URL:       url,
		Title:     title,
	}
	worker.tabs[tab.TargetID] = tab
	worker.tabOrder = append(worker.tabOrder, tab.TargetID)
	return *tab, nil
}

// UpdateTab mutates a tab's URL and title after a navigation.
func (r *Registry) UpdateTab(sessionID, targetID, url, title string) (Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return Tab{}, notFound("session", sessionID)
	}
	for _, worker := range sess.workers {
		if tab, ok := worker.tabs[targetID]; ok {
			if url != "" {
				tab.URL = url
			}
			if title != "" {
				tab.Title = title
			}
			return *tab, nil
		}
	}
	return Tab{}, notFound("tab", targetID).WithContext("session_id", sessionID)
}

// RemoveTab deletes a single tab. Removing an absent tab is a no-op.
func (r *Registry) RemoveTab(sessionID, targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	for _, worker := range sess.workers {
		if _, ok := worker.tabs[targetID]; ok {
			delete(worker.tabs, targetID)
			worker.tabOrder = removeID(worker.tabOrder, targetID)
			return
		}
	}
}

// GetSession returns a snapshot of one session.
func (r *Registry) GetSession(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return Info{}, false
	}
	return snapshotSession(sess), true
}

// GetTab returns a snapshot of one tab.
func (r *Registry) GetTab(sessionID, targetID string) (Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return Tab{}, notFound("session", sessionID)
	}
	for _, worker := range sess.workers {
		if tab, ok := worker.tabs[targetID]; ok {
			return *tab, nil
		}
	}
	return Tab{}, notFound("tab", targetID).WithContext("session_id", sessionID)
}

// ListSessions returns snapshots of all sessions, newest created first.
func (r *Registry) ListSessions() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0, len(r.sessions))
	for _, sess := range r.sessions {
		infos = append(infos, snapshotSession(sess))
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos
}

// ListTabs returns tab snapshots matching the filter, capped at the
// configured result limit.
func (r *Registry) ListTabs(filter TabFilter) []Tab {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 || limit > r.maxTabResults {
		limit = r.maxTabResults
	}

	var tabs []Tab
	for _, sess := range r.sessions {
		if filter.SessionID != "" && sess.ID != filter.SessionID {
			continue
		}
		for _, workerID := range sess.workerOrder {
			worker := sess.workers[workerID]
			if filter.WorkerID != "" && workerID != filter.WorkerID {
				continue
			}
			for _, tabID := range worker.tabOrder {
				tab := worker.tabs[tabID]
				if filter.URLContains != "" && !strings.Contains(tab.URL, filter.URLContains) {
					continue
				}
				tabs = append(tabs, *tab)
				if len(tabs) >= limit {
					return tabs
				}
			}
		}
	}
	return tabs
}

// RemoveSession cascades removal of the session's workers and tabs,
// releases its profile, and deletes its metadata record. Idempotent.
func (r *Registry) RemoveSession(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.profiles.Release(id)
	if err := r.meta.Remove(id); err != nil {
		r.logger.Warn(logging.CategorySession, "metadata_remove_failed", err.Error(), map[string]any{
			"session_id": id,
		})
	}

	r.logger.Info(logging.CategorySession, "removed", id, nil)
	r.hub.Publish(telemetry.Event{
		Type:      telemetry.EventSessionRemoved,
		SessionID: id,
	})
}

// SweepStale removes every session whose persisted metadata is older than
// maxAge or unreadable, and returns the count removed. Safe to call
// concurrently with session creation: metadata writes are atomic and a
// freshly created session is never old enough to sweep.
func (r *Registry) SweepStale(maxAge time.Duration) int {
	records, corrupt, err := r.meta.List()
	if err != nil {
		r.logger.Error(logging.CategorySweep, "list_failed", err.Error(), nil)
		return 0
	}

	removed := 0
	now := time.Now()

	for _, id := range corrupt {
		r.logger.Warn(logging.CategorySweep, "corrupt_metadata", id, nil)
		r.RemoveSession(id)
		if err := r.meta.Remove(id); err == nil {
			removed++
		}
	}

	for _, record := range records {
		if now.Sub(record.CreatedAt) <= maxAge {
			continue
		}
		r.RemoveSession(record.ID)
		// RemoveSession only deletes metadata for live sessions; orphaned
		// records from dead processes are cleaned here.
		r.meta.Remove(record.ID)
		removed++
	}

	if removed > 0 {
		r.logger.Info(logging.CategorySweep, "swept", "", map[string]any{"removed": removed})
		r.hub.Publish(telemetry.Event{
			Type: telemetry.EventSessionsSwept,
			Data: map[string]any{"removed": removed},
		})
	}
	return removed
}

// Counts returns the current number of sessions, workers, and tabs.
func (r *Registry) Counts() (sessions, workers, tabs int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions = len(r.sessions)
	for _, sess := range r.sessions {
		workers += len(sess.workers)
		for _, worker := range sess.workers {
			tabs += len(worker.tabs)
		}
	}
	return sessions, workers, tabs
}

// snapshotSession copies a session into a read-only Info. Must be called
// with mu held.
func snapshotSession(sess *Session) Info {
	info := Info{
		ID:          sess.ID,
		CreatedAt:   sess.CreatedAt,
		Identity:    sess.Identity,
		PID:         sess.PID,
		WorkerCount: len(sess.workers),
	}
	if sess.Profile != nil {
		info.ProfileType = sess.Profile.Type
	}
	for _, workerID := range sess.workerOrder {
		worker := sess.workers[workerID]
		info.TabCount += len(worker.tabs)
		info.Workers = append(info.Workers, WorkerInfo{ID: workerID, TabCount: len(worker.tabs)})
	}
	return info
}

func removeID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func notFound(kind, id string) *errors.Error {
	return errors.New(errors.ErrCodeNotFound, kind+" not found").WithContext("id", id)
}

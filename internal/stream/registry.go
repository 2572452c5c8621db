package stream

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/max-knox/PashaCapacitor-sub000/internal/metrics"
)

// Registry maps meeting ids to their live sessions
type Registry struct {
	sessions   map[string]*Session
	mu         sync.RWMutex
	controller *Controller
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// displaced holds replaced sessions whose streams may still deliver results
	displaced map[string][]*Session

	reapAfter    time.Duration
	reapInterval time.Duration

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewRegistry creates a registry and starts the reaper when enabled
func NewRegistry(controller *Controller, logger *slog.Logger, m *metrics.Metrics) *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		sessions:     make(map[string]*Session),
		displaced:    make(map[string][]*Session),
		controller:   controller,
		logger:       logger,
		metrics:      m,
		reapAfter:    controller.config.ReapAfter,
		reapInterval: controller.config.ReapInterval,
		ctx:          ctx,
		cancel:       cancel,
		cleanup:      make(chan struct{}),
	}

	if r.reapAfter > 0 {
		go r.startCleanupRoutine()
	} else {
		close(r.cleanup)
	}

	return r
}

// Resolve returns the live session for id. A session that is closed or flagged
// is replaced by a fresh idle session; its stream is half-closed and it is kept
// as displaced until TakeDisplaced collects it or its stream has ended.
func (r *Registry) Resolve(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recreated := false
	if existing, ok := r.sessions[id]; ok {
		state := existing.State()
		if state != StateErrorFlagged && state != StateClosed {
			return existing, false
		}

		r.logger.Info("Replacing meeting session",
			slog.String("meeting_id", id),
			slog.String("previous_state", state.String()),
		)
		delete(r.sessions, id)
		r.controller.Abort(existing)
		r.displaced[id] = append(undrained(r.displaced[id]), existing)
		recreated = true
	}

	session := newSession(id)
	r.sessions[id] = session

	r.metrics.RecordSessionCreated(recreated)
	r.metrics.SetActiveSessions(len(r.sessions))

	r.logger.Info("Created meeting session",
		slog.String("meeting_id", id),
		slog.Bool("recreated", recreated),
	)

	return session, true
}

// TakeDisplaced removes and returns the sessions replaced for id
func (r *Registry) TakeDisplaced(id string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.displaced[id]
	delete(r.displaced, id)
	return sessions
}

// Get retrieves an existing session
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	return session, exists
}

// Remove drops the session for id from the registry
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return false
	}
	delete(r.sessions, id)
	r.metrics.SetActiveSessions(len(r.sessions))
	return true
}

// Release drops the session from the registry unless it has already been replaced
func (r *Registry) Release(s *Session) bool {
	return r.removeIf(s.ID, s)
}

// removeIf drops id only while it still maps to session
func (r *Registry) removeIf(id string, session *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.sessions[id]; !exists || current != session {
		return false
	}
	delete(r.sessions, id)
	r.metrics.SetActiveSessions(len(r.sessions))
	return true
}

// Count returns the number of registered sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshots returns monitoring information for every session, ordered by start time
func (r *Registry) Snapshots() []SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartTime.Before(infos[j].StartTime)
	})
	return infos
}

// Stop aborts every session and stops the reaper
func (r *Registry) Stop() {
	r.logger.Info("Stopping session registry...")

	r.cancel()
	<-r.cleanup

	r.mu.Lock()
	remaining := len(r.sessions)
	for id, session := range r.sessions {
		r.controller.Abort(session)
		delete(r.sessions, id)
	}
	clear(r.displaced)
	r.metrics.SetActiveSessions(0)
	r.mu.Unlock()

	r.logger.Info("Session registry stopped",
		slog.Int("aborted_sessions", remaining),
	)
}

// startCleanupRoutine periodically reaps abandoned sessions
func (r *Registry) startCleanupRoutine() {
	defer close(r.cleanup)

	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()

	r.logger.Info("Session reaper started",
		slog.Duration("reap_after", r.reapAfter),
		slog.Duration("check_interval", r.reapInterval),
	)

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.reapExpiredSessions()
		}
	}
}

// reapExpiredSessions removes sessions without activity for longer than reapAfter
func (r *Registry) reapExpiredSessions() {
	now := time.Now()
	expired := make(map[string]*Session)

	r.mu.Lock()
	for id, session := range r.sessions {
		if now.Sub(session.LastActivity()) > r.reapAfter {
			expired[id] = session
		}
	}
	r.pruneDisplacedLocked()
	r.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	r.logger.Info("Reaping abandoned meeting sessions",
		slog.Int("expired_count", len(expired)),
	)

	for id, session := range expired {
		if !r.removeIf(id, session) {
			continue
		}
		r.controller.Abort(session)
		r.metrics.RecordSessionReaped()
		r.logger.Warn("Meeting session reaped without a last chunk",
			slog.String("meeting_id", id),
			slog.String("state", session.State().String()),
		)
	}
}

// pruneDisplacedLocked forgets displaced sessions whose streams have ended. r.mu must be held.
func (r *Registry) pruneDisplacedLocked() {
	for id, sessions := range r.displaced {
		if live := undrained(sessions); len(live) > 0 {
			r.displaced[id] = live
		} else {
			delete(r.displaced, id)
		}
	}
}

func undrained(sessions []*Session) []*Session {
	live := sessions[:0]
	for _, session := range sessions {
		if !session.drained() {
			live = append(live, session)
		}
	}
	return live
}

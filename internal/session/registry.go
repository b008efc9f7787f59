package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/voxgateway/internal/logging"
	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

// Registry indexes live sessions by both connection id and session id,
// grounded on the lock-per-key sync.Map pattern in
// jatniel-synthezia/internal/transcription/live_service.go's session
// broadcaster registry.
type Registry struct {
	byConnection sync.Map // connectionID -> *Session
	bySession    sync.Map // sessionID -> *Session
	count        int64
	maxSessions  int64
	shuttingDown atomic.Bool
	log          logging.Logger
}

// NewRegistry constructs a registry enforcing maxSessions concurrent
// sessions (spec.md §6 "concurrent session cap").
func NewRegistry(maxSessions int, log logging.Logger) *Registry {
	if log == nil {
		log = logging.NoOp{}
	}
	if maxSessions <= 0 {
		maxSessions = 1000
	}
	return &Registry{maxSessions: int64(maxSessions), log: log}
}

// BeginShutdown marks the registry as shutting down: every subsequent Add
// call is rejected with upstream.ErrShuttingDown (spec.md §4.2 "rejects new
// sessions"). Safe to call more than once.
func (r *Registry) BeginShutdown() {
	r.shuttingDown.Store(true)
}

// ShuttingDown reports whether BeginShutdown has been called.
func (r *Registry) ShuttingDown() bool {
	return r.shuttingDown.Load()
}

// Add registers a new session, rejecting it with upstream.ErrShuttingDown
// once shutdown has begun, or upstream.ErrSessionCapExceeded once the
// concurrent cap is reached.
func (r *Registry) Add(s *Session) error {
	if r.shuttingDown.Load() {
		return upstream.ErrShuttingDown
	}
	if atomic.AddInt64(&r.count, 1) > r.maxSessions {
		atomic.AddInt64(&r.count, -1)
		return upstream.ErrSessionCapExceeded
	}
	r.byConnection.Store(s.ConnectionID, s)
	r.bySession.Store(s.ID, s)
	return nil
}

// Remove unregisters a session and closes its sub-sessions.
func (r *Registry) Remove(s *Session) {
	if _, loaded := r.bySession.LoadAndDelete(s.ID); !loaded {
		return
	}
	r.byConnection.Delete(s.ConnectionID)
	atomic.AddInt64(&r.count, -1)
	s.Close()
}

// BySession looks up a session by its session id.
func (r *Registry) BySession(sessionID string) (*Session, bool) {
	v, ok := r.bySession.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// ByConnection looks up a session by its connection id.
func (r *Registry) ByConnection(connectionID string) (*Session, bool) {
	v, ok := r.byConnection.Load(connectionID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// All returns a snapshot of every currently registered session, for use by
// the shutdown coordinator and diagnostics; it is not kept in sync with
// concurrent Add/Remove calls made after it returns.
func (r *Registry) All() []*Session {
	var out []*Session
	r.bySession.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Session))
		return true
	})
	return out
}

// Count returns the number of currently registered sessions.
func (r *Registry) Count() int {
	return int(atomic.LoadInt64(&r.count))
}

// SweepIdle removes and closes every session idle for longer than maxIdle,
// older than maxAge, or whose connection has gone Disconnected with no
// reconnect in flight (spec.md §4.8 "idle sweep").
func (r *Registry) SweepIdle(maxIdle, maxAge time.Duration) int {
	var stale []*Session
	r.bySession.Range(func(_, v interface{}) bool {
		s := v.(*Session)
		if (maxIdle > 0 && s.IdleSince() > maxIdle) || (maxAge > 0 && time.Since(s.CreatedAt) > maxAge) || s.Disconnected() {
			stale = append(stale, s)
		}
		return true
	})
	for _, s := range stale {
		r.Remove(s)
	}
	if len(stale) > 0 {
		r.log.Info("swept idle sessions", "count", len(stale))
	}
	return len(stale)
}

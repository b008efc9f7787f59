package resource

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/voxgateway/internal/logging"
	"github.com/lokutor-ai/voxgateway/internal/session"
)

// Config bundles the sweeper and shutdown tunables spec.md §6 calls out.
type Config struct {
	SweepInterval      time.Duration
	IdleTimeout        time.Duration
	MaxSessionAge      time.Duration
	PerSessionShutdown time.Duration // cleanup budget per session during Shutdown
}

// Manager owns the process-wide sweeper and graceful-shutdown coordinator
// for a session.Registry (spec.md §3.2 "Session registry" responsibility).
type Manager struct {
	registry *session.Registry
	metrics  *Metrics
	cfg      Config
	log      logging.Logger

	stop chan struct{}
	seen map[string]seenCounts // sessionID -> last-reported STT/TTS counters
}

// seenCounts is the last value of each per-sub-session cumulative counter
// the Manager has already reported to the OpenTelemetry instruments, so
// only the delta since the previous sweep tick is added.
type seenCounts struct {
	sttReconnects, sttDrops, sttFinals int
	ttsReconnects, ttsDrops            int
}

// New constructs a Manager. metrics may be nil, in which case recording is
// skipped.
func New(registry *session.Registry, metrics *Metrics, cfg Config, log logging.Logger) *Manager {
	if log == nil {
		log = logging.NoOp{}
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.PerSessionShutdown <= 0 {
		cfg.PerSessionShutdown = 3 * time.Second
	}
	return &Manager{registry: registry, metrics: metrics, cfg: cfg, log: log, stop: make(chan struct{}), seen: make(map[string]seenCounts)}
}

// Run starts the idle/max-age sweeper loop; it returns once ctx is done or
// Shutdown is called.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-t.C:
			if m.metrics != nil {
				m.pollSubSessionMetrics(ctx)
			}
			n := m.registry.SweepIdle(m.cfg.IdleTimeout, m.cfg.MaxSessionAge)
			if m.metrics != nil {
				m.metrics.RecordSweep(ctx, n)
			}
		}
	}
}

// pollSubSessionMetrics reports each live session's STT/TTS reconnect,
// buffer-drop, and finalization counters into the process-wide OTel
// instruments. Sub-session counters are cumulative for the sub-session's
// lifetime (internal/stt, internal/tts), so only the delta since the last
// tick is added, and entries for sessions that have since been removed are
// dropped to bound m.seen's size.
func (m *Manager) pollSubSessionMetrics(ctx context.Context) {
	sessions := m.registry.All()
	live := make(map[string]struct{}, len(sessions))

	for _, s := range sessions {
		live[s.ID] = struct{}{}
		prev := m.seen[s.ID]
		cur := prev

		if s.STT != nil {
			snap := s.STT.Metrics()
			for i := 0; i < snap.Reconnects-prev.sttReconnects; i++ {
				m.metrics.RecordReconnect(ctx, "stt")
			}
			for i := 0; i < snap.BufferDrops-prev.sttDrops; i++ {
				m.metrics.RecordBufferDrop(ctx, "stt")
			}
			for i := 0; i < snap.FinalizationsTotal-prev.sttFinals; i++ {
				m.metrics.RecordFinalization(ctx, finalizationMethodOrUnknown(snap.FinalizationMethod))
			}
			cur.sttReconnects, cur.sttDrops, cur.sttFinals = snap.Reconnects, snap.BufferDrops, snap.FinalizationsTotal
		}
		if s.TTS != nil {
			snap := s.TTS.Metrics()
			for i := 0; i < snap.Reconnects-prev.ttsReconnects; i++ {
				m.metrics.RecordReconnect(ctx, "tts")
			}
			for i := 0; i < snap.BufferDrops-prev.ttsDrops; i++ {
				m.metrics.RecordBufferDrop(ctx, "tts")
			}
			cur.ttsReconnects, cur.ttsDrops = snap.Reconnects, snap.BufferDrops
		}

		m.seen[s.ID] = cur
	}

	for id := range m.seen {
		if _, ok := live[id]; !ok {
			delete(m.seen, id)
		}
	}
}

func finalizationMethodOrUnknown(method string) string {
	if method == "" {
		return "unknown"
	}
	return method
}

// Shutdown tears down every registered session concurrently, each bounded by
// PerSessionShutdown, and returns once all have finished or the passed
// context's deadline elapses — whichever comes first (spec.md §6 "coordinate
// graceful shutdown"). A session whose cleanup does not finish in time is
// logged and abandoned rather than allowed to block the others.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.stop)
	m.registry.BeginShutdown()

	sessions := m.registry.All()
	eg, egCtx := errgroup.WithContext(ctx)

	for _, s := range sessions {
		s := s
		eg.Go(func() error {
			done := make(chan struct{})
			go func() {
				m.registry.Remove(s)
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-time.After(m.cfg.PerSessionShutdown):
				m.log.Warn("session cleanup exceeded its shutdown budget", "sessionID", s.ID)
				return nil
			case <-egCtx.Done():
				return egCtx.Err()
			}
		})
	}

	return eg.Wait()
}

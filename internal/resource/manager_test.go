package resource

import (
	"context"
	"testing"
	"time"

	"github.com/lokutor-ai/voxgateway/internal/session"
)

func TestManagerShutdownRemovesAllSessions(t *testing.T) {
	reg := session.NewRegistry(10, nil)
	for i := 0; i < 3; i++ {
		s := session.New(string(rune('a'+i)), string(rune('A'+i)), 16000, nil, nil)
		if err := reg.Add(s); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	m := New(reg, nil, Config{PerSessionShutdown: time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if reg.Count() != 0 {
		t.Errorf("expected all sessions removed, got count %d", reg.Count())
	}
}

func TestManagerRunSweepsIdleSessions(t *testing.T) {
	reg := session.NewRegistry(10, nil)
	s := session.New("s1", "c1", 16000, nil, nil)
	_ = reg.Add(s)

	m := New(reg, nil, Config{SweepInterval: 20 * time.Millisecond, IdleTimeout: time.Nanosecond}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	time.Sleep(10 * time.Millisecond) // ensure the session registers as idle
	go m.Run(ctx)

	deadline := time.After(500 * time.Millisecond)
	for reg.Count() != 0 {
		select {
		case <-deadline:
			t.Fatalf("expected sweeper to remove the idle session, count still %d", reg.Count())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

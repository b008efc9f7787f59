package gateway

import (
	"testing"

	"github.com/lokutor-ai/voxgateway/internal/logging"
	"github.com/lokutor-ai/voxgateway/internal/wire"
)

// newTestConnection builds a Connection with no reader/writer goroutines
// running, so Send's queuing/eviction logic can be exercised directly
// against c.outbound without a live websocket.
func newTestConnection(bufSize int) *Connection {
	return &Connection{
		ID:       "conn-test",
		log:      logging.NoOp{},
		outbound: make(chan queuedFrame, bufSize),
		done:     make(chan struct{}),
	}
}

func TestSendEvictsForHighPriorityUnderBackpressure(t *testing.T) {
	c := newTestConnection(1)

	fillFrame := wire.Frame{EventType: wire.EventAudioOutputChunk} // PriorityNormal, fills the queue
	c.Send(fillFrame)

	highFrame := wire.Frame{EventType: wire.EventAudioOutputStart} // PriorityHigh
	c.Send(highFrame)

	select {
	case item := <-c.outbound:
		if item.frame.EventType != wire.EventAudioOutputStart {
			t.Errorf("expected the High priority frame to have evicted the queued Normal frame, got %q", item.frame.EventType)
		}
	default:
		t.Fatal("expected a frame to be queued")
	}
}

func TestSendDropsLowPriorityUnderBackpressure(t *testing.T) {
	c := newTestConnection(1)

	c.Send(wire.Frame{EventType: wire.EventAudioOutputChunk}) // PriorityNormal, fills the queue
	c.Send(wire.Frame{EventType: wire.EventTranscriptInterim}) // PriorityLow, should be dropped

	select {
	case item := <-c.outbound:
		if item.frame.EventType != wire.EventAudioOutputChunk {
			t.Errorf("expected the original Normal frame to remain queued, got %q", item.frame.EventType)
		}
	default:
		t.Fatal("expected the original frame to still be queued")
	}
}

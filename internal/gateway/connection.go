// Package gateway implements the client-facing websocket transport: one
// Connection per accepted socket, with a single reader goroutine, a single
// writer goroutine, and priority-based outbound shedding under backpressure
// (spec.md §4.1), adapted from the accept-and-hand-off idiom in
// saisudhir14-ai-voice-agent/backend/internal/api/voice_handler.go.
package gateway

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lokutor-ai/voxgateway/internal/logging"
	"github.com/lokutor-ai/voxgateway/internal/wire"
)

const outboundBufferSize = 256

// Connection wraps one accepted client websocket.
type Connection struct {
	ID     string
	conn   *websocket.Conn
	onRead func(wire.Frame)
	log    logging.Logger

	outbound  chan queuedFrame
	closeOnce sync.Once
	done      chan struct{}
}

type queuedFrame struct {
	frame    wire.Frame
	priority wire.Priority
}

// NewConnection starts the reader/writer goroutines for conn. onRead is
// invoked from the reader goroutine for every inbound frame; it must not
// block on the connection itself.
func NewConnection(conn *websocket.Conn, id string, onRead func(wire.Frame), log logging.Logger) *Connection {
	if log == nil {
		log = logging.NoOp{}
	}
	c := &Connection{
		ID:       id,
		conn:     conn,
		onRead:   onRead,
		log:      log,
		outbound: make(chan queuedFrame, outboundBufferSize),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

// Send enqueues a frame for delivery. Under backpressure, frames are shed by
// priority: Critical and High frames evict the oldest queued frame to make
// room, since neither tier may be silently dropped (spec.md §4.1 "outbound
// shedding"); anything else (Normal/Low) is dropped and logged.
func (c *Connection) Send(f wire.Frame) {
	item := queuedFrame{frame: f, priority: wire.PriorityOf(f.EventType)}

	select {
	case c.outbound <- item:
		return
	default:
	}

	if item.priority == wire.PriorityCritical || item.priority == wire.PriorityHigh {
		select {
		case <-c.outbound:
		default:
		}
		select {
		case c.outbound <- item:
			return
		default:
		}
	}

	c.log.Warn("dropped outbound frame under backpressure", "connectionID", c.ID, "eventType", f.EventType, "priority", item.priority)
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case item := <-c.outbound:
			if err := c.conn.WriteJSON(item.frame); err != nil {
				c.log.Warn("write failed", "connectionID", c.ID, "error", err)
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) readLoop() {
	defer c.Close()
	for {
		var f wire.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		if c.onRead != nil {
			c.onRead(f)
		}
	}
}

// Close shuts down the connection exactly once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

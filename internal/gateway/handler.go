package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lokutor-ai/voxgateway/internal/ids"
	"github.com/lokutor-ai/voxgateway/internal/logging"
	"github.com/lokutor-ai/voxgateway/internal/session"
	"github.com/lokutor-ai/voxgateway/internal/upstream"
	"github.com/lokutor-ai/voxgateway/internal/wire"
)

// Metrics is the subset of resource.Metrics the gateway and the sessions it
// creates record against; left nil, no metrics are recorded.
type Metrics interface {
	SessionAdded(ctx context.Context)
	SessionRemoved(ctx context.Context)
	RecordQueueOverflow(ctx context.Context, stage string)
	RecordSynthesisError(ctx context.Context, provider string)
}

// Server accepts client websocket connections and wires each one to a
// registered Session, grounded on the upgrade-then-hand-off shape of
// saisudhir14-ai-voice-agent/backend/internal/api/voice_handler.go's
// VoiceHandler.HandleWebSocket.
type Server struct {
	Registry   *session.Registry
	Router     Router
	Upgrader   websocket.Upgrader
	HandleTime time.Duration // per-frame dispatch timeout
	Metrics    Metrics
	log        logging.Logger
}

// NewServer constructs a Server. checkOrigin is forwarded to the upgrader's
// CheckOrigin; pass nil to allow any origin (development only).
func NewServer(registry *session.Registry, router Router, checkOrigin func(*http.Request) bool, log logging.Logger) *Server {
	if log == nil {
		log = logging.NoOp{}
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		Registry: registry,
		Router:   router,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		HandleTime: 5 * time.Second,
		log:        log,
	}
}

// HandleWebSocket upgrades the HTTP request, registers a new Session, and
// runs the per-connection frame loop until the client disconnects.
func (srv *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := srv.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.log.Error("websocket upgrade failed", "error", err)
		return
	}

	connID := ids.New()
	sessionID := ids.New()

	var conn *Connection
	sess := session.New(sessionID, connID, 0, func(f wire.Frame) {
		if conn != nil {
			conn.Send(f)
		}
	}, srv.log)

	if srv.Metrics != nil {
		sess.SetMetrics(srv.Metrics)
	}

	if err := srv.Registry.Add(sess); err != nil {
		srv.log.Warn("session rejected", "connectionID", connID, "error", err)
		message := "server is at capacity"
		if err == upstream.ErrShuttingDown {
			message = "server is shutting down"
		}
		_ = wsConn.WriteJSON(wire.NewErrorFrame("protocol", wire.EventConnectionAck, ids.New(), sessionID, message))
		_ = wsConn.Close()
		return
	}

	conn = NewConnection(wsConn, connID, func(f wire.Frame) {
		srv.dispatch(sess, f)
	}, srv.log)

	if srv.Metrics != nil {
		srv.Metrics.SessionAdded(r.Context())
	}

	ack, _ := wire.NewFrame(wire.EventConnectionAck, ids.New(), sessionID, wire.ConnectionAckPayload{SessionID: sessionID})
	conn.Send(ack)

	srv.log.Info("session started", "sessionID", sessionID, "connectionID", connID)

	<-conn.done
	srv.Registry.Remove(sess)
	if srv.Metrics != nil {
		srv.Metrics.SessionRemoved(r.Context())
	}
	srv.log.Info("session ended", "sessionID", sessionID, "connectionID", connID)
}

func (srv *Server) dispatch(sess *session.Session, f wire.Frame) {
	if f.EventType == "" {
		return
	}
	timeout := srv.HandleTime
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Router.Dispatch(ctx, f, sess); err != nil {
		srv.emitDispatchError(sess, f, err)
	}
}

func (srv *Server) emitDispatchError(sess *session.Session, f wire.Frame, err error) {
	domain := "protocol"
	switch {
	case err == upstream.ErrUnknownEventType, err == upstream.ErrEmptyFrame:
		domain = "input"
	case err == upstream.ErrUnknownSession:
		domain = "protocol"
	}
	sess.EmitError(domain, f.EventType, f.EventID, "request could not be processed")
}

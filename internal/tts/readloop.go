package tts

import (
	"context"
	"time"

	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

// connLoop drains one upstream connection's event channel for its entire
// lifetime. While a Synthesize call owns the stream (activeEvents set), each
// event is forwarded there unmodified; otherwise an error or a closed
// channel means the persistent connection itself dropped between
// utterances, which triggers reconnection (spec.md §4.7 "Reconnection and
// buffering", mirroring internal/stt's readLoop for the same concern).
func (s *SubSession) connLoop(stream upstream.TTSStream, gen int) {
	for ev := range stream.Events() {
		s.connMu.Lock()
		current := s.generation == gen
		s.connMu.Unlock()
		if !current {
			return
		}

		s.mu.Lock()
		active := s.activeEvents
		s.mu.Unlock()

		if active != nil {
			active <- ev
			continue
		}
		if ev.Type == upstream.TTSEventError {
			s.handleUnexpectedClose()
		}
	}

	s.connMu.Lock()
	current := s.generation == gen
	s.connMu.Unlock()
	if current {
		s.handleUnexpectedClose()
	}
}

// handleUnexpectedClose transitions the connection to Reconnecting and
// starts the retry loop, unless the sub-session is closed or already
// reconnecting.
func (s *SubSession) handleUnexpectedClose() {
	s.connMu.Lock()
	if s.closed || s.isReconnecting {
		s.connMu.Unlock()
		return
	}
	s.isReconnecting = true
	s.connState = upstream.StateReconnecting
	s.connMu.Unlock()

	go s.reconnectLoop()
}

// reconnectLoop retries dialing with the same backoff policy as
// internal/stt (spec.md §4.7 explicitly calls for reuse of STT's retry
// policy). On success, any Synthesize calls parked in waitForConnection are
// woken in order; on exhausted retries they are woken with failure and the
// pending-request buffer is discarded.
func (s *SubSession) reconnectLoop() {
	backoff := s.cfg.ReconnectBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxTries := s.cfg.MaxReconnectTries
	if maxTries <= 0 {
		maxTries = 5
	}

	for attempt := 1; attempt <= maxTries; attempt++ {
		s.connMu.Lock()
		closed := s.closed
		s.connMu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		stream, err := s.dialer.Dial(ctx)
		cancel()
		if err == nil {
			s.metrics.recordReconnect()
			s.connMu.Lock()
			s.stream = stream
			s.connState = upstream.StateConnected
			s.isReconnecting = false
			s.generation++
			gen := s.generation
			waiters := s.waiters
			s.waiters = nil
			s.connMu.Unlock()

			go s.connLoop(stream, gen)
			for _, w := range waiters {
				w <- true
			}
			return
		}

		time.Sleep(backoff * time.Duration(attempt))
	}

	s.connMu.Lock()
	s.connState = upstream.StateError
	s.isReconnecting = false
	waiters := s.waiters
	s.waiters = nil
	s.connMu.Unlock()
	for _, w := range waiters {
		w <- false
	}
}

// waitForConnection returns the live stream if connected, or parks the
// caller (bounded by MaxPendingRequests) while a reconnect is in flight,
// returning once it resolves. This is the synchronous analogue of spec.md
// §4.7's "bounded text buffer…replayed…after a successful reconnect": since
// Synthesize calls are already strictly serialized by synthMu and the
// semantic streamer's sequential dispatch, the caller's own pending text is
// the buffered item being replayed once woken.
func (s *SubSession) waitForConnection(ctx context.Context) (upstream.TTSStream, error) {
	s.connMu.Lock()
	if s.connState == upstream.StateConnected && s.stream != nil {
		stream := s.stream
		s.connMu.Unlock()
		return stream, nil
	}
	if s.connState != upstream.StateReconnecting {
		s.connMu.Unlock()
		return nil, upstream.Fatal(errNotStarted)
	}
	maxPending := s.cfg.MaxPendingRequests
	if maxPending <= 0 {
		maxPending = 3
	}
	if len(s.waiters) >= maxPending {
		s.connMu.Unlock()
		s.metrics.recordDrop()
		return nil, upstream.ErrBufferOverflow
	}
	waitCh := make(chan bool, 1)
	s.waiters = append(s.waiters, waitCh)
	s.connMu.Unlock()

	select {
	case ok := <-waitCh:
		if !ok {
			return nil, upstream.Transient(errReconnectFailed)
		}
		s.connMu.Lock()
		stream := s.stream
		s.connMu.Unlock()
		if stream == nil {
			return nil, upstream.Transient(errReconnectFailed)
		}
		return stream, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// startKeepAlive pings the transport periodically while Connected and idle,
// so a dead connection is detected between utterances rather than only on
// the next Synthesize call (spec.md §4.7 "Keep-alive").
func (s *SubSession) startKeepAlive() {
	interval := s.cfg.KeepAliveInterval
	if interval <= 0 {
		interval = 8 * time.Second
	}
	stop := make(chan struct{})
	s.connMu.Lock()
	s.keepAliveStop = stop
	s.connMu.Unlock()

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.connMu.Lock()
				state := s.connState
				s.connMu.Unlock()
				s.mu.Lock()
				busy := s.activeEvents != nil
				s.mu.Unlock()
				if state != upstream.StateConnected || busy {
					continue
				}
				s.connMu.Lock()
				stream := s.stream
				s.connMu.Unlock()
				if stream == nil {
					continue
				}
				_ = stream.Ping(context.Background())
			}
		}
	}()
}

func (s *SubSession) stopKeepAliveLocked() {
	if s.keepAliveStop != nil {
		close(s.keepAliveStop)
		s.keepAliveStop = nil
	}
}

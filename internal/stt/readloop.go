package stt

import (
	"context"
	"time"

	"github.com/lokutor-ai/voxgateway/internal/upstream"
)

// readLoop drains one upstream stream's event channel, updating transcript
// state and routing reconnection on unexpected closure. gen is the
// connection generation this loop belongs to; a stale loop from a
// superseded connection exits without touching state once a newer
// generation has taken over.
func (s *SubSession) readLoop(stream upstream.STTStream, gen int) {
	for ev := range stream.Events() {
		s.mu.Lock()
		current := s.generation == gen
		s.mu.Unlock()
		if !current {
			return
		}

		switch ev.Type {
		case upstream.STTEventTranscript:
			s.handleTranscript(ev.Transcript)
		case upstream.STTEventMetadata:
			s.signalMetadata()
		case upstream.STTEventError:
			s.handleStreamError(ev.Err)
		case upstream.STTEventClosed:
			s.handleUnexpectedClose()
		}
	}
}

func (s *SubSession) handleTranscript(t upstream.TranscriptEvent) {
	s.mu.Lock()
	if t.IsFinal {
		if t.Text != "" {
			s.segments = append(s.segments, t.Text)
		}
		s.interim = ""
	} else {
		s.interim = t.Text
	}
	sink := s.sink
	s.mu.Unlock()

	if sink == nil {
		return
	}
	if t.IsFinal {
		sink.OnFinal(t.Text)
	} else {
		sink.OnInterim(t.Text)
	}
}

func (s *SubSession) signalMetadata() {
	s.mu.Lock()
	ch := s.pendingMetadata
	s.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *SubSession) handleStreamError(err error) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil && err != nil {
		sink.OnError(err)
	}

	if upstream.IsFatal(err) {
		s.mu.Lock()
		s.state = upstream.StateError
		s.mu.Unlock()
		return
	}
	s.handleUnexpectedClose()
}

// handleUnexpectedClose triggers reconnection unless we are mid-finalize
// (where the upstream closing the utterance stream is expected) or the
// sub-session has been explicitly closed.
func (s *SubSession) handleUnexpectedClose() {
	s.mu.Lock()
	if s.closed || s.isFinalizing || s.isReconnecting {
		s.mu.Unlock()
		return
	}
	s.isReconnecting = true
	s.state = upstream.StateReconnecting
	s.mu.Unlock()

	go s.reconnectLoop()
}

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
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		stream, err := s.dialer.Dial(ctx, s.lang)
		cancel()
		if err == nil {
			s.metrics.recordReconnect()
			s.mu.Lock()
			s.stream = stream
			s.state = upstream.StateConnected
			s.isReconnecting = false
			s.generation++
			gen := s.generation
			s.mu.Unlock()

			go s.readLoop(stream, gen)
			s.flushReconnectBuffer(context.Background())
			return
		}

		time.Sleep(backoff * time.Duration(attempt))
	}

	s.mu.Lock()
	s.state = upstream.StateError
	s.isReconnecting = false
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.OnError(upstream.Fatal(context.DeadlineExceeded))
	}
}

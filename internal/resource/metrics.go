// Package resource coordinates process-wide concerns that outlive any one
// session: the idle/max-age sweeper, graceful shutdown, and metrics
// aggregation (spec.md §6), grounded on
// MrWong99-glyphoxa/internal/observe's OpenTelemetry wiring and
// golang.org/x/sync/errgroup fan-out idiom.
package resource

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/lokutor-ai/voxgateway"

// Metrics holds the OpenTelemetry instruments the orchestrator records
// against. All fields are safe for concurrent use.
type Metrics struct {
	Reconnects      metric.Int64Counter // attr: stage=stt|tts
	Finalizations   metric.Int64Counter // attr: method=event|timeout
	QueueOverflows  metric.Int64Counter // attr: stage=llm
	BufferDrops     metric.Int64Counter // attr: stage=stt|tts
	SynthesisErrors metric.Int64Counter // attr: provider
	SweptSessions   metric.Int64Counter
	ActiveSessions  metric.Int64UpDownCounter
}

// NewMetrics creates the instrument set against mp, matching the teacher
// pack's NewMetrics(mp metric.MeterProvider) shape.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.Reconnects, err = m.Int64Counter("voxgateway.reconnects",
		metric.WithDescription("Upstream reconnection attempts that succeeded, by stage.")); err != nil {
		return nil, err
	}
	if met.Finalizations, err = m.Int64Counter("voxgateway.stt.finalizations",
		metric.WithDescription("STT finalization handshakes, by resolution method.")); err != nil {
		return nil, err
	}
	if met.QueueOverflows, err = m.Int64Counter("voxgateway.queue_overflows",
		metric.WithDescription("Requests rejected because a bounded queue was full.")); err != nil {
		return nil, err
	}
	if met.BufferDrops, err = m.Int64Counter("voxgateway.buffer_drops",
		metric.WithDescription("Items dropped from a reconnection buffer under overflow (audio chunks for stt, synthesis requests for tts).")); err != nil {
		return nil, err
	}
	if met.SynthesisErrors, err = m.Int64Counter("voxgateway.tts.errors",
		metric.WithDescription("TTS synthesis failures, by provider.")); err != nil {
		return nil, err
	}
	if met.SweptSessions, err = m.Int64Counter("voxgateway.sessions.swept",
		metric.WithDescription("Sessions removed by the idle/max-age sweeper.")); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxgateway.sessions.active",
		metric.WithDescription("Currently registered sessions.")); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *Metrics) RecordReconnect(ctx context.Context, stage string) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *Metrics) RecordFinalization(ctx context.Context, method string) {
	m.Finalizations.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

func (m *Metrics) RecordQueueOverflow(ctx context.Context, stage string) {
	m.QueueOverflows.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *Metrics) RecordBufferDrop(ctx context.Context, stage string) {
	m.BufferDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *Metrics) RecordSynthesisError(ctx context.Context, provider string) {
	m.SynthesisErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

func (m *Metrics) RecordSweep(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	m.SweptSessions.Add(ctx, int64(count))
}

func (m *Metrics) SessionAdded(ctx context.Context)   { m.ActiveSessions.Add(ctx, 1) }
func (m *Metrics) SessionRemoved(ctx context.Context) { m.ActiveSessions.Add(ctx, -1) }

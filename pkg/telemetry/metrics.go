// Package telemetry wires turn-stage latency and session-count metrics
// through the OpenTelemetry Metrics API, exported via a Prometheus bridge
// on /metrics (spec §9 "Shared resources"/§5 — the sweeper and session
// count are process-wide, worth observing the same way). Grounded on
// MrWong99-glyphoxa's internal/observe package, generalized from NPC/
// participant counters to the turn pipeline's own stages.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/voxbridge-ai/voxbridge"

// latencyBuckets mirrors the teacher's own bucket boundaries (seconds),
// already tuned for sub-second to multi-second voice-pipeline stages.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds every OpenTelemetry instrument the orchestrator and
// transport layers record against. All fields are safe for concurrent use.
type Metrics struct {
	// Turn-stage latency histograms (spec §2 table: VAD/Turn Orchestrator/
	// Playbook Engine share of the pipeline).
	STTDuration  metric.Float64Histogram
	LLMDuration  metric.Float64Histogram
	TTSDuration  metric.Float64Histogram
	TurnDuration metric.Float64Histogram

	// ToolCallDuration tracks the Playbook Engine's tool-call loop
	// (spec §4.C).
	ToolCallDuration metric.Float64Histogram

	// TurnsTotal counts completed turns by terminal outcome
	// (complete/cancelled/error — spec §8 invariant 1).
	TurnsTotal metric.Int64Counter

	// ToolCallsTotal counts tool invocations by name and outcome.
	ToolCallsTotal metric.Int64Counter

	// StageTransitionsTotal counts playbook stage changes by condition
	// kind (spec §4.C condition semantics).
	StageTransitionsTotal metric.Int64Counter

	// BargeInsTotal counts barge-in cancellations (spec §4.F).
	BargeInsTotal metric.Int64Counter

	// ActiveSessions tracks live sessions (spec §4.E Session Manager).
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks live transport connections (spec §4.F).
	ActiveConnections metric.Int64UpDownCounter
}

// NewMetrics creates a fully initialized Metrics using the given
// MeterProvider. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.STTDuration, err = m.Float64Histogram("voxbridge.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("voxbridge.llm.duration",
		metric.WithDescription("Latency of one LLM call (streaming or not)."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("voxbridge.tts.duration",
		metric.WithDescription("Latency of one TTS sentence synthesis."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("voxbridge.turn.duration",
		metric.WithDescription("End-to-end turn latency from speech-end to terminal event."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if met.ToolCallDuration, err = m.Float64Histogram("voxbridge.tool_call.duration",
		metric.WithDescription("Latency of one playbook tool-call handler invocation."),
		metric.WithUnit("s"), metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}

	if met.TurnsTotal, err = m.Int64Counter("voxbridge.turns",
		metric.WithDescription("Total turns by terminal outcome.")); err != nil {
		return nil, err
	}
	if met.ToolCallsTotal, err = m.Int64Counter("voxbridge.tool_calls",
		metric.WithDescription("Total tool calls by name and outcome.")); err != nil {
		return nil, err
	}
	if met.StageTransitionsTotal, err = m.Int64Counter("voxbridge.stage_transitions",
		metric.WithDescription("Total playbook stage transitions by condition kind.")); err != nil {
		return nil, err
	}
	if met.BargeInsTotal, err = m.Int64Counter("voxbridge.barge_ins",
		metric.WithDescription("Total barge-in cancellations.")); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxbridge.active_sessions",
		metric.WithDescription("Number of live (non-expired) sessions.")); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("voxbridge.active_connections",
		metric.WithDescription("Number of live transport connections.")); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the package-level Metrics instance, built against
// otel.GetMeterProvider() on first use. Panics if instrument creation
// fails, which should not happen against the global provider.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("telemetry: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTurn records a completed turn's outcome and total duration (spec
// §8 invariant 1: terminal event is exactly one of
// tts-complete|tts-cancelled|error).
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, seconds float64) {
	m.TurnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.TurnDuration.Record(ctx, seconds)
}

// RecordToolCall records one tool invocation's outcome and duration.
func (m *Metrics) RecordToolCall(ctx context.Context, name, outcome string, seconds float64) {
	m.ToolCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", name), attribute.String("outcome", outcome)))
	m.ToolCallDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("tool", name)))
}

// RecordStageTransition records one playbook stage change.
func (m *Metrics) RecordStageTransition(ctx context.Context, condition string) {
	m.StageTransitionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("condition", condition)))
}

// RecordBargeIn records one barge-in cancellation.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	m.BargeInsTotal.Add(ctx, 1)
}

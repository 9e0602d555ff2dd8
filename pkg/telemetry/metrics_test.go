package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetricsRegistersAllInstruments(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.STTDuration == nil || m.LLMDuration == nil || m.TTSDuration == nil || m.TurnDuration == nil {
		t.Fatal("expected stage histograms to be initialized")
	}
	if m.TurnsTotal == nil || m.ToolCallsTotal == nil || m.StageTransitionsTotal == nil || m.BargeInsTotal == nil {
		t.Fatal("expected counters to be initialized")
	}
	if m.ActiveSessions == nil || m.ActiveConnections == nil {
		t.Fatal("expected gauges to be initialized")
	}
}

func TestRecordHelpersDoNotPanic(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordTurn(ctx, "complete", 1.25)
	m.RecordToolCall(ctx, "lookup_order", "ok", 0.05)
	m.RecordStageTransition(ctx, "keyword")
	m.RecordBargeIn(ctx)
}

func TestDefaultIsASingleton(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Error("expected Default() to return the same instance")
	}
}

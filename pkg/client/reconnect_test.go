package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedDialer struct {
	results []DialResult
	errs    []error
	calls   int
}

func (d *scriptedDialer) Dial(ctx context.Context, sessionID string) (DialResult, error) {
	i := d.calls
	d.calls++
	if i < len(d.errs) && d.errs[i] != nil {
		return DialResult{}, d.errs[i]
	}
	if i < len(d.results) {
		return d.results[i], nil
	}
	return DialResult{}, errors.New("scriptedDialer: exhausted script")
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestStartTransitionsToConnected(t *testing.T) {
	dialer := &scriptedDialer{results: []DialResult{{SessionID: "s1"}}}
	m := New(dialer, Config{})
	m.sleep = noSleep

	var changes []StateChange
	m.OnStateChange(func(c StateChange) { changes = append(changes, c) })

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.State() != StateConnected {
		t.Errorf("state = %s, want CONNECTED", m.State())
	}
	if m.SessionID() != "s1" {
		t.Errorf("sessionID = %s, want s1", m.SessionID())
	}
	if len(changes) != 2 || changes[0].To != StateConnecting || changes[1].To != StateConnected {
		t.Errorf("unexpected state changes: %+v", changes)
	}
}

func TestStartFailureStaysDisconnected(t *testing.T) {
	dialer := &scriptedDialer{errs: []error{errors.New("refused")}}
	m := New(dialer, Config{})
	m.sleep = noSleep

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
}

func TestHandleLossReconnectsOnRetry(t *testing.T) {
	dialer := &scriptedDialer{
		results: []DialResult{{SessionID: "s1"}, {}, {SessionID: "s1", HistoryRecovered: true}},
		errs:    []error{nil, errors.New("still down")},
	}
	m := New(dialer, Config{ReconnectEnabled: true, MaxRetries: 5})
	m.sleep = noSleep
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var attempts []ReconnectAttempt
	m.OnReconnecting(func(a ReconnectAttempt) { attempts = append(attempts, a) })

	if err := m.HandleLoss(context.Background()); err != nil {
		t.Fatalf("HandleLoss: %v", err)
	}
	if m.State() != StateConnected {
		t.Errorf("state = %s, want CONNECTED", m.State())
	}
	if len(attempts) != 2 {
		t.Errorf("expected 2 reconnect attempts, got %d: %+v", len(attempts), attempts)
	}
}

func TestHandleLossExhaustsToFailed(t *testing.T) {
	dialer := &scriptedDialer{results: []DialResult{{SessionID: "s1"}}}
	m := New(dialer, Config{ReconnectEnabled: true, MaxRetries: 2})
	m.sleep = noSleep
	_ = m.Start(context.Background())

	err := m.HandleLoss(context.Background())
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if m.State() != StateFailed {
		t.Errorf("state = %s, want FAILED", m.State())
	}
}

func TestHandleLossDisabledGoesDisconnected(t *testing.T) {
	dialer := &scriptedDialer{results: []DialResult{{SessionID: "s1"}}}
	m := New(dialer, Config{ReconnectEnabled: false})
	m.sleep = noSleep
	_ = m.Start(context.Background())

	if err := m.HandleLoss(context.Background()); err != ErrReconnectDisabled {
		t.Errorf("expected ErrReconnectDisabled, got %v", err)
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
}

func TestCloseFromAnyState(t *testing.T) {
	dialer := &scriptedDialer{}
	m := New(dialer, Config{})
	m.Close()
	if m.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED", m.State())
	}
}

func TestBackoffDelayCaps(t *testing.T) {
	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 2000 * time.Millisecond},
		{4, 16000 * time.Millisecond},
		{5, 30000 * time.Millisecond}, // 32s capped to 30s max
		{10, 30000 * time.Millisecond},
	}
	for _, c := range cases {
		got := backoffDelay(DefaultBaseDelay, DefaultMaxDelay, c.n)
		if got != c.want {
			t.Errorf("backoffDelay(n=%d) = %v, want %v", c.n, got, c.want)
		}
	}
}

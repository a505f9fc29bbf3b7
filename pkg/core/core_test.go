package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseAddr(t *testing.T) {
	a, err := ParseAddr("10.0.0.10:5560")
	if err != nil {
		t.Fatalf("ParseAddr failed: %v", err)
	}
	if a.IP != "10.0.0.10" || a.Port != 5560 {
		t.Errorf("Expected 10.0.0.10:5560, got %v", a)
	}
	if a.String() != "10.0.0.10:5560" {
		t.Errorf("Expected String() to round trip, got %s", a.String())
	}

	for _, bad := range []string{"10.0.0.10", "10.0.0.10:http", "10.0.0.10:70000"} {
		if _, err := ParseAddr(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestEventMaskHas(t *testing.T) {
	m := EventConnAccepted | EventError
	if !m.Has(EventConnAccepted) || !m.Has(EventError) {
		t.Errorf("Expected mask %b to contain accepted and error", m)
	}
	if m.Has(EventFin) {
		t.Errorf("Mask %b should not contain fin", m)
	}
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("write handle 3: %w", ErrConnectionClosed)
	if !IsClosed(wrapped) {
		t.Error("Wrapped connection closed should be classified as closed")
	}
	if !IsClosed(ErrConnShutdown) {
		t.Error("Shutdown should be classified as closed")
	}
	if IsClosed(ErrConnRefused) {
		t.Error("Refused must not be classified as an expected close")
	}
	if !IsTryAgain(fmt.Errorf("recvfrom: %w", ErrTryAgain)) {
		t.Error("Wrapped try again not detected")
	}
	if IsTryAgain(errors.New("try again")) {
		t.Error("Only the sentinel value counts as try again")
	}
}

func TestBenchMetricsSnapshot(t *testing.T) {
	m := &BenchMetrics{}
	m.BytesReceived = 42
	m.RepliesSent = 2

	snap := m.Snapshot()
	mm := snap.Map()
	if mm["bytes_recv"] != 42 || mm["replies_sent"] != 2 {
		t.Errorf("Unexpected snapshot map: %v", mm)
	}
}

func TestStatusString(t *testing.T) {
	if StatusRunning.String() != "running" || StatusFatalError.String() != "fatal-error" || StatusOther.String() != "other" {
		t.Error("Unexpected status names")
	}
}

package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInitMetrics(t *testing.T) {
	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer shutdown(context.Background())

	if handler == nil {
		t.Fatal("InitMetrics returned nil handler")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("metrics endpoint status = %d, want 200", rec.Code)
	}
}

func TestDispatchMetrics_Record(t *testing.T) {
	// Works against whatever meter provider is installed, including the
	// global no-op default.
	m, err := NewDispatchMetrics()
	if err != nil {
		t.Fatalf("NewDispatchMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.RecordAttempt(ctx, "success")
	m.RecordDisposition(ctx, "archive")
	m.RecordClaimConflict(ctx)
	m.RecordQuarantine(ctx)
}

func TestDispatchMetrics_NilReceiverIsNoOp(t *testing.T) {
	var m *DispatchMetrics

	ctx := context.Background()
	m.RecordAttempt(ctx, "success")
	m.RecordDisposition(ctx, "retry")
	m.RecordClaimConflict(ctx)
	m.RecordQuarantine(ctx)
}

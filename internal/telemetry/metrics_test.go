package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNextOccurrenceComputed(t *testing.T) {
	m := NewMetrics()
	m.NextOccurrenceComputed("found")
	m.NextOccurrenceComputed("found")
	m.NextOccurrenceComputed("none")

	if got := testutil.ToFloat64(m.nextOccurrence.WithLabelValues("found")); got != 2 {
		t.Fatalf("found = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.nextOccurrence.WithLabelValues("none")); got != 1 {
		t.Fatalf("none = %v, want 1", got)
	}
}

func TestRefreshCompleted(t *testing.T) {
	m := NewMetrics()
	m.RefreshCompleted(3, nil)
	m.RefreshCompleted(1, errors.New("boom"))

	if got := testutil.ToFloat64(m.refreshRuns.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.refreshRuns.WithLabelValues("error")); got != 1 {
		t.Fatalf("error runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.refreshUpdated); got != 4 {
		t.Fatalf("updated = %v, want 4", got)
	}
}

func TestUnaryServerInterceptor(t *testing.T) {
	m := NewMetrics()
	intercept := m.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/dosewise.v1.Schedules/LogDose"}

	_, _ = intercept(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	_, err := intercept(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "missing")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("error must pass through, got %v", err)
	}

	if got := testutil.ToFloat64(m.rpcRequests.WithLabelValues("LogDose", "OK")); got != 1 {
		t.Fatalf("OK = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.rpcRequests.WithLabelValues("LogDose", "NotFound")); got != 1 {
		t.Fatalf("NotFound = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := NewMetrics()
	m.NextOccurrenceComputed("error")

	srv := httptest.NewServer(m.NewServer("").Handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if !strings.Contains(string(body), `dosewise_next_occurrence_computations_total{outcome="error"} 1`) {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}

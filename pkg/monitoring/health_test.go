package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewHealthChecker(t *testing.T) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	if hc.serviceName != "urbanmcp" {
		t.Errorf("Expected service name 'urbanmcp', got %s", hc.serviceName)
	}
	if hc.version != "1.0.0" {
		t.Errorf("Expected version '1.0.0', got %s", hc.version)
	}
	if hc.connections == nil {
		t.Error("Connections map should be initialized")
	}
}

func TestUpdateConnection(t *testing.T) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	hc.UpdateConnection("overpass", ConnConnected, 100, nil)
	hc.UpdateConnection("narrative", ConnError, 200, errors.New("401 unauthorized"))

	hc.mu.RLock()
	overpass := hc.connections["overpass"]
	narrative := hc.connections["narrative"]
	hc.mu.RUnlock()

	if overpass == nil || overpass.Status != ConnConnected || overpass.Latency != 100 || overpass.LastError != "" {
		t.Errorf("Unexpected overpass status: %+v", overpass)
	}
	if narrative == nil || narrative.LastError != "401 unauthorized" {
		t.Errorf("Unexpected narrative status: %+v", narrative)
	}
	if narrative != nil && narrative.Name != "narrative" {
		t.Errorf("Expected name 'narrative', got %s", narrative.Name)
	}
}

func TestRemoveConnection(t *testing.T) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	hc.UpdateConnection("overpass", ConnConnected, 100, nil)
	hc.RemoveConnection("overpass")

	if _, ok := hc.GetHealth().Connections["overpass"]; ok {
		t.Error("Connection should not exist after removal")
	}
}

func TestGetHealthStatus(t *testing.T) {
	tests := []struct {
		name  string
		conns map[string]string
		want  string
	}{
		{"no connections", nil, StatusHealthy},
		{"all connected", map[string]string{"overpass": ConnConnected, "narrative": ConnConnected}, StatusHealthy},
		{"one degraded", map[string]string{"overpass": ConnConnected, "narrative": ConnDegraded}, StatusDegraded},
		{"one of two in error", map[string]string{"overpass": ConnConnected, "narrative": ConnError}, StatusDegraded},
		{"majority in error", map[string]string{"a": ConnError, "b": "disconnected", "c": ConnConnected}, StatusUnhealthy},
		{"disabled ignored", map[string]string{"overpass": ConnConnected, "narrative": ConnDisabled}, StatusHealthy},
		{"only error", map[string]string{"overpass": ConnError, "narrative": ConnDisabled}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("urbanmcp", "1.0.0")
			defer hc.Shutdown()

			for name, status := range tt.conns {
				hc.UpdateConnection(name, status, 10, nil)
			}
			if got := hc.GetHealth().Status; got != tt.want {
				t.Errorf("Expected status %q, got %q", tt.want, got)
			}
		})
	}
}

func TestGetHealthFields(t *testing.T) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	hc.SetTransport(TransportInfo{Type: "http_streaming", HTTPAddr: ":7082"})
	health := hc.GetHealth()

	if health.Service != "urbanmcp" {
		t.Errorf("Expected service 'urbanmcp', got %s", health.Service)
	}
	if health.Version != "1.0.0" {
		t.Errorf("Expected version '1.0.0', got %s", health.Version)
	}
	if health.StartTime.IsZero() {
		t.Error("StartTime should not be zero")
	}
	if health.Connections == nil {
		t.Error("Connections should not be nil")
	}
	for _, key := range []string{"goroutines", "memory_alloc_mb", "version_info"} {
		if _, ok := health.Metrics[key]; !ok {
			t.Errorf("Metrics should contain %s", key)
		}
	}
	if health.Transport == nil || health.Transport.HTTPAddr != ":7082" {
		t.Errorf("Unexpected transport: %+v", health.Transport)
	}
}

func TestHealthHandler(t *testing.T) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	w := httptest.NewRecorder()
	hc.HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got %s", ct)
	}

	var health ServiceHealth
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if health.Status != StatusHealthy {
		t.Errorf("Expected status 'healthy', got %s", health.Status)
	}
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	hc.UpdateConnection("overpass", ConnError, 100, errors.New("connection refused"))

	w := httptest.NewRecorder()
	hc.HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	w = httptest.NewRecorder()
	hc.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected readiness status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestReadinessHandler(t *testing.T) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	w := httptest.NewRecorder()
	hc.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode readiness response: %v", err)
	}
	if ready, ok := response["ready"].(bool); !ok || !ready {
		t.Error("Expected ready to be true")
	}
}

func TestLivenessHandler(t *testing.T) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	w := httptest.NewRecorder()
	hc.LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode liveness response: %v", err)
	}
	if alive, ok := response["alive"].(bool); !ok || !alive {
		t.Error("Expected alive to be true")
	}
	if _, ok := response["uptime"]; !ok {
		t.Error("Expected uptime field")
	}
}

// waitForConnection polls until the named connection has been reported.
func waitForConnection(t *testing.T, hc *HealthChecker, name string) ConnStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, ok := hc.GetHealth().Connections[name]; ok {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection %s was never reported", name)
	return ConnStatus{}
}

func TestConnectionMonitorSuccess(t *testing.T) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	monitor := NewConnectionMonitor("overpass", hc, func(ctx context.Context) error { return nil }, 100*time.Millisecond)
	monitor.Start()
	defer monitor.Stop()

	conn := waitForConnection(t, hc, "overpass")
	if conn.Status != ConnConnected {
		t.Errorf("Expected status 'connected', got %s", conn.Status)
	}
}

func TestConnectionMonitorError(t *testing.T) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	check := func(ctx context.Context) error { return errors.New("status 503") }
	monitor := NewConnectionMonitor("overpass", hc, check, 100*time.Millisecond)
	monitor.Start()
	defer monitor.Stop()

	conn := waitForConnection(t, hc, "overpass")
	if conn.Status != ConnError {
		t.Errorf("Expected status 'error', got %s", conn.Status)
	}
	if conn.LastError != "status 503" {
		t.Errorf("Expected error 'status 503', got %s", conn.LastError)
	}
}

func TestConnectionMonitorCheckHasDeadline(t *testing.T) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	check := func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}
	monitor := NewConnectionMonitor("narrative", hc, check, time.Second)
	monitor.Start()
	defer monitor.Stop()

	if conn := waitForConnection(t, hc, "narrative"); conn.LastError != "" {
		t.Errorf("Unexpected error: %s", conn.LastError)
	}
}

func TestConnectionMonitorStop(t *testing.T) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	var calls atomic.Int32
	check := func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}
	monitor := NewConnectionMonitor("overpass", hc, check, 20*time.Millisecond)
	monitor.Start()
	waitForConnection(t, hc, "overpass")

	monitor.Stop()
	after := calls.Load()
	time.Sleep(100 * time.Millisecond)

	if got := calls.Load(); got != after {
		t.Errorf("Expected no checks after Stop, got %d more", got-after)
	}
}

func BenchmarkGetHealth(b *testing.B) {
	hc := NewHealthChecker("urbanmcp", "1.0.0")
	defer hc.Shutdown()

	hc.UpdateConnection("overpass", ConnConnected, 100, nil)
	hc.UpdateConnection("narrative", ConnError, 300, errors.New("test error"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hc.GetHealth()
	}
}

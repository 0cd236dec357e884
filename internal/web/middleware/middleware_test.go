package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kozaktomas/facegate/internal/logger"
)

func TestIsOriginAllowed(t *testing.T) {
	allowed := map[string]struct{}{"https://hr.example.com": {}}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", false},
		{"http://localhost", true},
		{"http://localhost:5173", true},
		{"https://localhost:8443", true},
		{"http://localhost.evil.com", false},
		{"https://hr.example.com", true},
		{"https://other.example.com", false},
	}
	for _, tt := range tests {
		if got := isOriginAllowed(tt.origin, allowed); got != tt.want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS([]string{"https://hr.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/attendance", nil)
	req.Header.Set("Origin", "https://hr.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://hr.example.com" {
		t.Errorf("allow origin = %q", got)
	}
	if called {
		t.Error("preflight must not reach the handler")
	}
}

func TestLatencyAndLogger_UseRoutePattern(t *testing.T) {
	hist := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_latency"}, []string{"endpoint"})
	var buf bytes.Buffer

	r := chi.NewRouter()
	r.Use(RequestLogger(logger.NewWithWriter(&buf, "json", "info")))
	r.Use(Latency(hist))
	r.Get("/owners/{ownerID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"alice", "bob"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/owners/"+id, nil))
	}

	if got := testutil.CollectAndCount(hist); got != 1 {
		t.Errorf("latency series = %d, want 1", got)
	}
	if !strings.Contains(buf.String(), `"route":"/owners/{ownerID}"`) {
		t.Errorf("log line missing route pattern: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"status":418`) {
		t.Errorf("log line missing status: %s", buf.String())
	}
}

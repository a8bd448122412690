package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{422, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestObserveAssessment(t *testing.T) {
	before := testutil.ToFloat64(AssessmentsTotal.WithLabelValues("high", "block"))
	ObserveAssessment("high", "block", 3*time.Millisecond)
	after := testutil.ToFloat64(AssessmentsTotal.WithLabelValues("high", "block"))

	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestSetModelVersion(t *testing.T) {
	SetModelVersion("v1")
	SetModelVersion("v2")

	if n := testutil.CollectAndCount(ModelInfo); n != 1 {
		t.Errorf("expected a single model_info series, got %d", n)
	}
	if v := testutil.ToFloat64(ModelInfo.WithLabelValues("v2")); v != 1 {
		t.Errorf("expected model_info{version=v2} = 1, got %v", v)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ObserveHTTP("GET", "/health", 200, time.Millisecond)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, name := range []string{
		"fraudguard_http_requests_total",
		"fraudguard_blocked_accounts_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}

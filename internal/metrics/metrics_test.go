package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveFetch(t *testing.T) {
	ObserveFetch("https://fetch-metrics.test/a", "success", 128)
	ObserveFetch("https://fetch-metrics.test/b", "not_found", 0)

	if val := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("fetch-metrics.test", "success")); val != 1 {
		t.Errorf("expected 1 success, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("fetch-metrics.test", "not_found")); val != 1 {
		t.Errorf("expected 1 not_found, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("fetch-metrics.test")); val != 128 {
		t.Errorf("expected 128 bytes, got %f", val)
	}
}

func TestObserveExport(t *testing.T) {
	ObserveExport("json", nil)
	ObserveExport("csv", errors.New("disk full"))

	if val := testutil.ToFloat64(crawlerExportsTotal.WithLabelValues("json", "success")); val != 1 {
		t.Errorf("expected json success 1, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerExportsTotal.WithLabelValues("csv", "error")); val != 1 {
		t.Errorf("expected csv error 1, got %f", val)
	}
}

func TestGauges(t *testing.T) {
	SetFrontierSize(7)
	if val := testutil.ToFloat64(crawlerFrontierSize); val != 7 {
		t.Errorf("expected frontier size 7, got %f", val)
	}

	IncInflightFetches()
	IncInflightFetches()
	DecInflightFetches()
	if val := testutil.ToFloat64(crawlerInflightFetches); val != 1 {
		t.Errorf("expected 1 in-flight fetch, got %f", val)
	}
	DecInflightFetches()
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveRateLimitDelay("handler.test", 150*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `crawler_rate_limit_delays_seconds_count{domain="handler.test"} 1`) {
		t.Errorf("expected rate limit histogram in output")
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}

package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscraper/internal/crawler"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><title>ok</title><p>%s|%s</p></html>", r.UserAgent(), r.Header.Get("X-Trace"))
	})
	mux.HandleFunc("/created", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	})
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok", http.StatusFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchClassifiesStatuses(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{Timeout: time.Second}, nil)

	testCases := []struct {
		path   string
		kind   crawler.OutcomeKind
		status int
	}{
		{"/ok", crawler.OutcomeSuccess, http.StatusOK},
		{"/created", crawler.OutcomeSuccess, http.StatusCreated},
		{"/missing", crawler.OutcomeNotFound, http.StatusNotFound},
		{"/forbidden", crawler.OutcomeForbidden, http.StatusForbidden},
		{"/boom", crawler.OutcomeOtherStatus, http.StatusInternalServerError},
		{"/redirect", crawler.OutcomeSuccess, http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			target := srv.URL + tc.path
			outcome := f.Fetch(context.Background(), target)
			assert.Equal(t, tc.kind, outcome.Kind)
			assert.Equal(t, tc.status, outcome.StatusCode)
			assert.Equal(t, target, outcome.URL)
			assert.Equal(t, tc.kind == crawler.OutcomeSuccess, outcome.OK())
			if !outcome.OK() {
				assert.Empty(t, outcome.Body)
			}
		})
	}
}

func TestFetchSendsUserAgentAndHeaders(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	headers := DefaultHeaders()
	headers.Set("X-Trace", "yes")
	f := New(Config{UserAgent: "test-agent", Headers: headers, Timeout: time.Second}, nil)

	outcome := f.Fetch(context.Background(), srv.URL+"/ok")
	require.True(t, outcome.OK())
	assert.Contains(t, string(outcome.Body), "test-agent|yes")
}

func TestFetchSameURLTwice(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{Timeout: time.Second}, nil)

	first := f.Fetch(context.Background(), srv.URL+"/ok")
	second := f.Fetch(context.Background(), srv.URL+"/ok")
	assert.True(t, first.OK())
	assert.True(t, second.OK())
	assert.Equal(t, first.Body, second.Body)
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{Timeout: 50 * time.Millisecond}, nil)

	outcome := f.Fetch(context.Background(), srv.URL+"/slow")
	assert.Equal(t, crawler.OutcomeTimeout, outcome.Kind)
	assert.NotEmpty(t, outcome.Message)
}

func TestFetchConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL + "/gone"
	srv.Close()

	f := New(Config{Timeout: time.Second}, nil)
	outcome := f.Fetch(context.Background(), target)
	assert.Equal(t, crawler.OutcomeConnectionError, outcome.Kind)
	assert.Equal(t, target, outcome.URL)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{Timeout: 5 * time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := f.Fetch(ctx, srv.URL+"/slow")
	assert.False(t, outcome.OK())
}

func TestFetchReadsBodiesPastCollyDefaultLimit(t *testing.T) {
	t.Parallel()

	const tail = `<a href="/tail">tail</a></body></html>`
	filler := strings.Repeat("x", 11<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><p>", filler, "</p>", tail)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 10 * time.Second}, nil)
	outcome := f.Fetch(context.Background(), srv.URL)
	require.True(t, outcome.OK())
	assert.Greater(t, len(outcome.Body), 10<<20)
	assert.True(t, strings.HasSuffix(string(outcome.Body), tail))
}

func TestFetchHonorsMaxBodySize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, strings.Repeat("y", 4096))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second, MaxBodySize: 1024}, nil)
	outcome := f.Fetch(context.Background(), srv.URL)
	require.True(t, outcome.OK())
	assert.Len(t, outcome.Body, 1024)
}

func TestFetchCancelAbortsInFlightRequest(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
			close(aborted)
		case <-time.After(10 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 10 * time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan crawler.FetchOutcome, 1)
	go func() { result <- f.Fetch(ctx, srv.URL) }()

	<-started
	cancel()

	select {
	case outcome := <-result:
		assert.False(t, outcome.OK())
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return after cancel")
	}
	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("request still open on the server after cancel")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}}, nil)
	var got []crawler.FetchOutcome
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, "https://example.com", func(o crawler.FetchOutcome) {
		got = append(got, o)
	})
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body")})
	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	hooks.onError(nil, nil)

	require.Len(t, got, 3)
	assert.Equal(t, crawler.OutcomeSuccess, got[0].Kind)
	assert.Equal(t, "body", string(got[0].Body))
	assert.Equal(t, crawler.OutcomeNotFound, got[1].Kind)
	assert.Equal(t, crawler.OutcomeUnexpectedError, got[2].Kind)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want crawler.OutcomeKind
	}{
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), crawler.OutcomeTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "nowhere.invalid"}, crawler.OutcomeConnectionError},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, crawler.OutcomeConnectionError},
		{"other", errors.New("boom"), crawler.OutcomeUnexpectedError},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyError("https://example.com", tc.err).Kind)
		})
	}
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/crawler"
)

// DefaultTimeout applies when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Headers   http.Header
	Timeout   time.Duration
	// MaxBodySize caps the bytes read per response. Zero reads the whole body.
	MaxBodySize int
}

// DefaultHeaders returns the request headers sent unless overridden by configuration.
func DefaultHeaders() http.Header {
	return http.Header{
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.5"},
	}
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	// Deduplication is the frontier's job; robots.txt is out of scope.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	// Deliver every status to OnResponse so the fetcher can classify it.
	c.ParseHTTPErrorResponse = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// colly truncates at 10 MiB unless told otherwise.
	c.MaxBodySize = max(cfg.MaxBodySize, 0)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET and classifies the result. Redirects are
// followed; the returned outcome always carries rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) crawler.FetchOutcome {
	start := time.Now()
	resultCh := make(chan crawler.FetchOutcome, 1)
	var once sync.Once
	send := func(o crawler.FetchOutcome) {
		once.Do(func() {
			resultCh <- o
		})
	}

	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, rawURL, send)

	outcome := f.runCollector(ctx, collector, rawURL, resultCh)
	outcome.URL = rawURL
	outcome.Duration = time.Since(start)
	f.logger.Debug("fetch finished",
		zap.String("url", rawURL),
		zap.Stringer("outcome", outcome.Kind),
		zap.Int("status_code", outcome.StatusCode),
		zap.Duration("duration", outcome.Duration),
	)
	return outcome
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	rawURL string,
	send func(crawler.FetchOutcome),
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		send(classifyResponse(rawURL, r.StatusCode, r.Body))
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusMultipleChoices {
			send(crawler.StatusOutcome(rawURL, r.StatusCode))
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(classifyError(rawURL, err))
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	rawURL string,
	resultCh <-chan crawler.FetchOutcome,
) crawler.FetchOutcome {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return classifyError(rawURL, fmt.Errorf("colly fetch canceled: %w", ctx.Err()))
	case err := <-done:
		select {
		case o := <-resultCh:
			return o
		default:
		}
		if err == nil {
			err = errors.New("colly fetch produced no result")
		}
		return classifyError(rawURL, fmt.Errorf("colly visit failed: %w", err))
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func classifyResponse(rawURL string, status int, body []byte) crawler.FetchOutcome {
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return crawler.Success(rawURL, status, append([]byte(nil), body...))
	}
	return crawler.StatusOutcome(rawURL, status)
}

func classifyError(rawURL string, err error) crawler.FetchOutcome {
	if isTimeout(err) {
		return crawler.FailureOutcome(rawURL, crawler.OutcomeTimeout, err.Error())
	}
	if isConnectionError(err) {
		return crawler.FailureOutcome(rawURL, crawler.OutcomeConnectionError, err.Error())
	}
	return crawler.FailureOutcome(rawURL, crawler.OutcomeUnexpectedError, err.Error())
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr), errors.As(err, &opErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return true
	default:
		return false
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

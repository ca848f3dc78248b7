package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/frontier"
	"github.com/JakeFAU/webscraper/internal/metrics"
	"github.com/JakeFAU/webscraper/internal/telemetry"
)

// DefaultMaxPages is the page budget used when Config.MaxPages is zero.
const DefaultMaxPages = 10

// ErrCrawlInProgress is returned when Crawl is called on a running Controller.
var ErrCrawlInProgress = errors.New("crawl already in progress")

// Config controls a crawl.
type Config struct {
	// MaxPages bounds the number of fetch attempts. Zero means DefaultMaxPages.
	MaxPages int
	// FollowLinks enqueues links discovered on successfully parsed pages.
	FollowLinks bool
	// Workers is the number of concurrent fetches. One or less runs the sequential loop.
	Workers int
}

// Dependencies are the collaborators a Controller drives.
type Dependencies struct {
	Fetcher Fetcher
	Parser  Parser
	Limiter RateLimiter
	// Filter defaults to allowing every URL.
	Filter DomainFilter
	// IDs generates run IDs; optional.
	IDs IDGenerator
	// Sink archives raw HTML of successful fetches; optional.
	Sink HTMLSink
}

type allowAll struct{}

func (allowAll) Allowed(string) bool { return true }

// Controller owns the crawl loop: frontier, visited set, domain policy and
// rate-limited fetch scheduling.
type Controller struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger

	mu       sync.RWMutex
	state    State
	runID    string
	frontier *frontier.Frontier
	results  *Results
	failures int
}

// NewController validates deps and returns an idle Controller.
func NewController(cfg Config, deps Dependencies, logger *zap.Logger) (*Controller, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("controller requires a fetcher")
	}
	if deps.Parser == nil {
		return nil, fmt.Errorf("controller requires a parser")
	}
	if deps.Limiter == nil {
		return nil, fmt.Errorf("controller requires a rate limiter")
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0, got %d", cfg.MaxPages)
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if deps.Filter == nil {
		deps.Filter = allowAll{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("controller"),
		state:  StateIdle,
	}, nil
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Stats returns a snapshot of the current or most recent crawl.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := Stats{
		RunID:    c.runID,
		State:    c.state,
		Failures: c.failures,
	}
	if c.frontier != nil {
		stats.Visited = c.frontier.VisitedCount()
		stats.Queued = c.frontier.Len()
	}
	if c.results != nil {
		stats.Records = c.results.Len()
	}
	return stats
}

// Crawl runs a crawl from startURL until the frontier is empty, the page budget
// is spent, or ctx ends. Cancellation is not an error: the records gathered so
// far are returned with Interrupted set.
func (c *Controller) Crawl(ctx context.Context, startURL string) (*CrawlResult, error) {
	seed, err := NormalizeURL(startURL)
	if err != nil {
		return nil, fmt.Errorf("start url %q: %w", startURL, err)
	}

	f, results, runID, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer c.finish()

	f.Seed(seed)
	logger := c.logger.With(zap.String("run_id", runID))
	logger.Info("crawl started",
		zap.String("start_url", seed),
		zap.Int("max_pages", c.cfg.MaxPages),
		zap.Int("workers", c.cfg.Workers),
		zap.Bool("follow_links", c.cfg.FollowLinks),
	)

	var interrupted bool
	if c.cfg.Workers <= 1 {
		interrupted = c.runSequential(ctx, logger, f, results)
	} else {
		interrupted = c.runConcurrent(ctx, logger, f, results)
	}
	metrics.SetFrontierSize(0)

	result := &CrawlResult{
		RunID:       runID,
		Records:     results.Records(),
		Visited:     f.Visited(),
		Interrupted: interrupted,
	}
	logger.Info("crawl finished",
		zap.Int("visited", len(result.Visited)),
		zap.Int("records", len(result.Records)),
		zap.Bool("interrupted", interrupted),
	)
	return result, nil
}

// ScrapePage fetches and parses a single URL without touching the frontier or
// following links. A failed fetch yields a nil record and a nil error.
func (c *Controller) ScrapePage(ctx context.Context, rawURL string) (*PageRecord, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("page url %q: %w", rawURL, err)
	}
	logger := c.logger.With(zap.String("url", target))
	outcome := c.fetch(ctx, target)
	record, _ := c.process(ctx, logger, outcome, false)
	return record, nil
}

func (c *Controller) begin() (*frontier.Frontier, *Results, string, error) {
	runID := ""
	if c.deps.IDs != nil {
		id, err := c.deps.IDs.NewID()
		if err != nil {
			return nil, nil, "", fmt.Errorf("generate run id: %w", err)
		}
		runID = id
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		return nil, nil, "", ErrCrawlInProgress
	}
	c.state = StateRunning
	c.runID = runID
	c.frontier = frontier.New()
	c.results = NewResults()
	c.failures = 0
	return c.frontier, c.results, runID, nil
}

func (c *Controller) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateCompleted
}

func (c *Controller) addFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
}

// runSequential is the single-threaded loop. It reports whether ctx ended the crawl.
func (c *Controller) runSequential(
	ctx context.Context,
	logger *zap.Logger,
	f *frontier.Frontier,
	results *Results,
) bool {
	budget := c.cfg.MaxPages
	for f.HasNext() && f.VisitedCount() < budget {
		if ctx.Err() != nil {
			return true
		}
		next, err := f.Next()
		if err != nil {
			break
		}
		metrics.SetFrontierSize(f.Len())
		if f.IsVisited(next) {
			continue
		}
		if !c.deps.Filter.Allowed(next) {
			logger.Debug("skipping url outside allowed domains", zap.String("url", next))
			continue
		}

		outcome := c.fetch(ctx, next)
		f.MarkVisited(next)
		record, links := c.process(ctx, logger, outcome, c.cfg.FollowLinks)
		if record != nil {
			results.Append(*record)
			c.enqueueLinks(f, links)
		}

		pending := f.HasNext() && f.VisitedCount() < budget
		if err := c.deps.Limiter.WaitBeforeNext(ctx, pending); err != nil {
			logger.Debug("delay interrupted", zap.Error(err))
			return true
		}
	}
	return ctx.Err() != nil
}

type fetchResult struct {
	url    string
	record *PageRecord
	links  []string
}

// runConcurrent hands URLs to a pool of workers. Only this goroutine pops from
// or pushes to the frontier; a URL is marked visited when it is dispatched so
// the budget bounds fetch attempts, not completions.
func (c *Controller) runConcurrent(
	ctx context.Context,
	logger *zap.Logger,
	f *frontier.Frontier,
	results *Results,
) bool {
	workers := c.cfg.Workers
	budget := c.cfg.MaxPages
	jobs := make(chan string)
	out := make(chan fetchResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.worker(ctx, logger.With(zap.Int("worker", id)), jobs, out)
		}(i)
	}

	var (
		pending     string
		hasPending  bool
		inflight    int
		interrupted bool
	)
loop:
	for {
		if !hasPending && f.VisitedCount() < budget {
			pending, hasPending = c.nextAllowed(logger, f)
		}
		if !hasPending && inflight == 0 {
			break
		}

		var dispatch chan<- string
		if hasPending && inflight < workers {
			dispatch = jobs
		}

		select {
		case <-ctx.Done():
			interrupted = true
			break loop
		case dispatch <- pending:
			f.MarkVisited(pending)
			hasPending = false
			inflight++
		case res := <-out:
			inflight--
			if res.record != nil {
				results.Append(*res.record)
				c.enqueueLinks(f, res.links)
			}
		}
		metrics.SetFrontierSize(f.Len())
	}

	close(jobs)
	go func() {
		wg.Wait()
		close(out)
	}()
	for res := range out {
		if res.record != nil {
			results.Append(*res.record)
		}
	}
	return interrupted || ctx.Err() != nil
}

func (c *Controller) worker(ctx context.Context, logger *zap.Logger, jobs <-chan string, out chan<- fetchResult) {
	for target := range jobs {
		if err := c.deps.Limiter.WaitStart(ctx); err != nil {
			logger.Debug("start wait interrupted", zap.String("url", target), zap.Error(err))
			out <- fetchResult{url: target}
			continue
		}
		outcome := c.fetch(ctx, target)
		record, links := c.process(ctx, logger, outcome, c.cfg.FollowLinks)
		out <- fetchResult{url: target, record: record, links: links}
	}
}

// nextAllowed pops until it finds an unvisited URL the filter accepts.
func (c *Controller) nextAllowed(logger *zap.Logger, f *frontier.Frontier) (string, bool) {
	for f.HasNext() {
		next, err := f.Next()
		if err != nil {
			return "", false
		}
		if f.IsVisited(next) {
			continue
		}
		if !c.deps.Filter.Allowed(next) {
			logger.Debug("skipping url outside allowed domains", zap.String("url", next))
			continue
		}
		return next, true
	}
	return "", false
}

func (c *Controller) enqueueLinks(f *frontier.Frontier, links []string) {
	for _, link := range links {
		normalized, err := NormalizeURL(link)
		if err != nil {
			continue
		}
		f.EnqueueIfNew(normalized)
	}
}

func (c *Controller) fetch(ctx context.Context, target string) FetchOutcome {
	ctx, span := telemetry.Tracer().Start(ctx, "crawler.fetch",
		trace.WithAttributes(attribute.String("url.full", target)))
	defer span.End()

	metrics.IncInflightFetches()
	defer metrics.DecInflightFetches()
	outcome := c.deps.Fetcher.Fetch(ctx, target)
	metrics.ObserveFetch(target, outcome.Kind.String(), len(outcome.Body))

	span.SetAttributes(
		attribute.String("crawler.outcome", outcome.Kind.String()),
		attribute.Int("http.response.status_code", outcome.StatusCode),
	)
	if !outcome.OK() {
		span.SetStatus(codes.Error, outcome.Message)
	}
	return outcome
}

// process turns a fetch outcome into a record and, when requested, the page's
// outbound links. Failures are logged and yield a nil record.
func (c *Controller) process(
	ctx context.Context,
	logger *zap.Logger,
	outcome FetchOutcome,
	wantLinks bool,
) (*PageRecord, []string) {
	if !outcome.OK() {
		c.logFailure(ctx, logger, outcome)
		return nil, nil
	}
	logger.Info("page fetched",
		zap.String("url", outcome.URL),
		zap.Int("status_code", outcome.StatusCode),
		zap.Int("bytes", len(outcome.Body)),
		zap.Duration("duration", outcome.Duration),
	)

	if c.deps.Sink != nil {
		location, err := c.deps.Sink.SaveHTML(ctx, outcome.URL, outcome.Body)
		if err != nil {
			logger.Warn("html snapshot failed", zap.String("url", outcome.URL), zap.Error(err))
		} else {
			logger.Debug("html snapshot saved", zap.String("url", outcome.URL), zap.String("location", location))
		}
	}

	record, err := c.deps.Parser.Parse(outcome.Body, outcome.URL)
	if err != nil {
		c.addFailure()
		logger.Error("parse failed", zap.String("url", outcome.URL), zap.Error(err))
		return nil, nil
	}

	var links []string
	if wantLinks {
		links, err = c.deps.Parser.ExtractLinks(outcome.Body, outcome.URL)
		if err != nil {
			logger.Warn("link extraction failed", zap.String("url", outcome.URL), zap.Error(err))
			links = nil
		}
	}
	return &record, links
}

func (c *Controller) logFailure(ctx context.Context, logger *zap.Logger, outcome FetchOutcome) {
	if ctx.Err() != nil {
		logger.Debug("fetch aborted", zap.String("url", outcome.URL), zap.Error(ctx.Err()))
		return
	}
	c.addFailure()
	fields := []zap.Field{
		zap.String("url", outcome.URL),
		zap.Stringer("outcome", outcome.Kind),
	}
	switch outcome.Kind {
	case OutcomeNotFound:
		logger.Warn("page not found", fields...)
	case OutcomeForbidden:
		logger.Warn("access forbidden", fields...)
	case OutcomeOtherStatus:
		logger.Warn("unexpected status", append(fields, zap.Int("status_code", outcome.StatusCode))...)
	case OutcomeTimeout:
		logger.Warn("request timed out", append(fields, zap.String("error", outcome.Message))...)
	case OutcomeConnectionError:
		logger.Error("connection failed", append(fields, zap.String("error", outcome.Message))...)
	default:
		logger.Error("fetch failed", append(fields, zap.String("error", outcome.Message))...)
	}
}

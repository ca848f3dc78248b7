// Package app builds the scraper's long-lived services from configuration and
// runs one scrape end to end: crawl or single page, export, then the optional
// Postgres and Pub/Sub fan-out.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/api"
	"github.com/JakeFAU/webscraper/internal/clock/system"
	"github.com/JakeFAU/webscraper/internal/config"
	"github.com/JakeFAU/webscraper/internal/crawler"
	"github.com/JakeFAU/webscraper/internal/export"
	collyfetcher "github.com/JakeFAU/webscraper/internal/fetcher/colly"
	"github.com/JakeFAU/webscraper/internal/hash/sha256"
	"github.com/JakeFAU/webscraper/internal/id/uuid"
	"github.com/JakeFAU/webscraper/internal/parser"
	"github.com/JakeFAU/webscraper/internal/policy/domain"
	"github.com/JakeFAU/webscraper/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/webscraper/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/webscraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/webscraper/internal/storage/local"
	pgstore "github.com/JakeFAU/webscraper/internal/storage/postgres"
	"github.com/JakeFAU/webscraper/internal/telemetry"
)

// RecordStore persists the records of a run.
type RecordStore interface {
	SaveRecords(ctx context.Context, runID string, records []crawler.PageRecord) (int, error)
}

// EventPublisher announces finished runs.
type EventPublisher interface {
	PublishCompletion(ctx context.Context, ev gcppublisher.CompletionEvent) (string, error)
}

// Option overrides a service NewApp would otherwise build from configuration.
type Option func(*App)

// WithFetcher replaces the colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithIDGenerator replaces the UUID run ID generator.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(a *App) { a.ids = ids }
}

// WithBlobStore replaces the local/GCS store used for exports and HTML snapshots.
func WithBlobStore(s crawler.BlobStore) Option {
	return func(a *App) { a.blobs = s }
}

// WithRecordStore replaces the Postgres page store.
func WithRecordStore(s RecordStore) Option {
	return func(a *App) { a.records = s }
}

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p EventPublisher) Option {
	return func(a *App) { a.events = p }
}

// App holds the services for one scraper invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	fetcher crawler.Fetcher
	clock   crawler.Clock
	ids     crawler.IDGenerator
	blobs   crawler.BlobStore
	records RecordStore
	events  EventPublisher

	controller *crawler.Controller
	exporter   *export.Exporter
	format     export.Format
	server     *api.Server

	closers []func() error
}

// Report describes a finished run.
type Report struct {
	RunID       string
	TargetURL   string
	Records     []crawler.PageRecord
	Files       []string
	Summary     export.Summary
	Interrupted bool
}

// NewApp wires every service cfg asks for. Services passed as options are used
// as is; the rest are built here and released by Close.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	format, err := export.ParseFormat(a.cfg.OutputFormat)
	if err != nil {
		return err
	}
	a.format = format
	mode, err := domain.ParseMode(a.cfg.DomainMatch)
	if err != nil {
		return err
	}

	if err := a.initTracing(ctx); err != nil {
		return err
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.ids == nil {
		a.ids = uuid.New()
	}
	if a.fetcher == nil {
		a.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:   a.cfg.UserAgent,
			Headers:     a.requestHeaders(),
			Timeout:     a.cfg.Timeout(),
			MaxBodySize: a.cfg.MaxBodySize,
		}, a.logger)
	}
	if err := a.initBlobStore(ctx); err != nil {
		return err
	}
	if err := a.initRecordStore(ctx); err != nil {
		return err
	}
	if err := a.initPublisher(ctx); err != nil {
		return err
	}

	htmlParser, err := parser.New(parser.Config{
		Selectors:     a.cfg.Selectors,
		Rules:         a.cfg.ExtractRules,
		ExtractTables: a.cfg.ExtractTables,
	}, a.clock)
	if err != nil {
		return fmt.Errorf("init parser: %w", err)
	}

	deps := crawler.Dependencies{
		Fetcher: a.fetcher,
		Parser:  htmlParser,
		Limiter: ratelimit.New(ratelimit.Config{
			Delay: a.cfg.Delay(),
			Label: crawler.Site(a.cfg.TargetURL),
		}),
		Filter: domain.New(a.cfg.AllowedDomain, mode),
		IDs:    a.ids,
	}
	if a.cfg.SaveHTML {
		archive, err := crawler.NewHTMLArchive(a.blobs, sha256.New(), "")
		if err != nil {
			return fmt.Errorf("init html archive: %w", err)
		}
		deps.Sink = archive
	}
	a.controller, err = crawler.NewController(crawler.Config{
		MaxPages:    a.cfg.MaxPages,
		FollowLinks: a.cfg.FollowLinks,
		Workers:     a.cfg.Workers,
	}, deps, a.logger)
	if err != nil {
		return fmt.Errorf("init controller: %w", err)
	}

	a.exporter, err = export.New(a.blobs, a.clock, a.cfg.OutputFile, a.logger)
	if err != nil {
		return fmt.Errorf("init exporter: %w", err)
	}
	if a.cfg.Server.MetricsAddr != "" {
		a.server = api.NewServer(a.controller, a.logger)
	}
	return nil
}

func (a *App) initTracing(ctx context.Context) error {
	if !a.cfg.Telemetry.TracingEnabled {
		return nil
	}
	shutdown, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		ProjectID:   a.cfg.Telemetry.TraceProjectID,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		return shutdown(context.Background())
	})
	return nil
}

func (a *App) requestHeaders() http.Header {
	headers := collyfetcher.DefaultHeaders()
	for k, v := range a.cfg.Headers {
		headers.Set(k, v)
	}
	return headers
}

func (a *App) initBlobStore(ctx context.Context) error {
	if a.blobs != nil {
		return nil
	}
	if bucket := a.cfg.Storage.GCSBucket; bucket != "" {
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: bucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.logger.Info("using gcs storage", zap.String("bucket", bucket))
		a.blobs = store
		a.closers = append(a.closers, store.Close)
		return nil
	}
	store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.OutputDir})
	if err != nil {
		return fmt.Errorf("init local storage: %w", err)
	}
	a.logger.Debug("using local storage", zap.String("dir", store.BaseDir()))
	a.blobs = store
	return nil
}

func (a *App) initRecordStore(ctx context.Context) error {
	if a.records != nil || a.cfg.DB.DSN == "" {
		return nil
	}
	store, err := pgstore.NewPageStore(ctx, pgstore.PageStoreConfig{
		DSN:   a.cfg.DB.DSN,
		Table: a.cfg.DB.Table,
	})
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	a.records = store
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if a.events != nil || a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		return nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("init pubsub: %w", err)
	}
	a.events = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

// Controller exposes the crawl controller, mainly for progress reporting.
func (a *App) Controller() *crawler.Controller {
	return a.controller
}

// Run scrapes the configured target and persists the results. Cancellation of
// ctx stops fetching; whatever was gathered is still exported. Export, database
// and publish failures are logged and do not fail the run.
func (a *App) Run(ctx context.Context) (*Report, error) {
	stopServer := a.startServer(ctx)
	defer stopServer()

	report, err := a.scrape(ctx)
	if err != nil {
		return nil, err
	}
	report.Summary = export.Summarize(report.Records)
	if len(report.Records) == 0 {
		a.logger.Warn("no data was scraped", zap.String("url", report.TargetURL))
		return report, nil
	}

	// Persistence outlives an interrupt so partial results are kept.
	saveCtx := context.WithoutCancel(ctx)
	files, err := a.exporter.Save(saveCtx, report.Records, a.format)
	if err != nil {
		a.logger.Error("export incomplete", zap.Error(err))
	}
	report.Files = files
	a.persist(saveCtx, report)
	a.publish(saveCtx, report)
	return report, nil
}

func (a *App) scrape(ctx context.Context) (*Report, error) {
	target := a.cfg.TargetURL
	if strings.TrimSpace(target) == "" {
		return nil, errors.New("no target url configured")
	}
	report := &Report{TargetURL: target}

	if a.cfg.FollowLinks {
		result, err := a.controller.Crawl(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("crawl: %w", err)
		}
		report.RunID = result.RunID
		report.Records = result.Records
		report.Interrupted = result.Interrupted
		return report, nil
	}

	runID, err := a.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	report.RunID = runID
	record, err := a.controller.ScrapePage(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("scrape page: %w", err)
	}
	if record != nil {
		report.Records = []crawler.PageRecord{*record}
	}
	report.Interrupted = ctx.Err() != nil
	return report, nil
}

func (a *App) persist(ctx context.Context, report *Report) {
	if a.records == nil {
		return
	}
	n, err := a.records.SaveRecords(ctx, report.RunID, report.Records)
	if err != nil {
		a.logger.Error("saving records to database failed",
			zap.String("run_id", report.RunID), zap.Int("saved", n), zap.Error(err))
		return
	}
	a.logger.Info("records saved to database", zap.String("run_id", report.RunID), zap.Int("rows", n))
}

func (a *App) publish(ctx context.Context, report *Report) {
	if a.events == nil {
		return
	}
	id, err := a.events.PublishCompletion(ctx, gcppublisher.CompletionEvent{
		RunID:       report.RunID,
		TargetURL:   report.TargetURL,
		Pages:       report.Summary.TotalPages,
		Links:       report.Summary.TotalLinks,
		Images:      report.Summary.TotalImages,
		Files:       report.Files,
		Interrupted: report.Interrupted,
	})
	if err != nil {
		a.logger.Error("publishing completion failed", zap.String("run_id", report.RunID), zap.Error(err))
		return
	}
	a.logger.Info("completion published", zap.String("run_id", report.RunID), zap.String("message_id", id))
}

func (a *App) startServer(ctx context.Context) func() {
	if a.server == nil {
		return func() {}
	}
	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.server.Serve(serveCtx, a.cfg.Server.MetricsAddr, nil); err != nil {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Close releases the services NewApp created.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		a.logger.Warn("error closing services", zap.Error(errors.Join(errs...)))
	}
	return errors.Join(errs...)
}

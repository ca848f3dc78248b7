// Package cmd defines the webscraper command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/app"
	"github.com/JakeFAU/webscraper/internal/config"
	"github.com/JakeFAU/webscraper/internal/logging"
)

// DefaultExampleConfig is where --generate-config writes when --config is not given.
const DefaultExampleConfig = "scraper_config_example.json"

var errMissingTarget = errors.New("please provide a URL with -u or a config file with --config")

type rootOptions struct {
	configPath     string
	generateConfig bool
	selector       string
}

var (
	info    = color.New(color.FgCyan)
	success = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "webscraper",
		Short: "Scrape a page or crawl a site into JSON/CSV.",
		Long: `webscraper fetches web pages, extracts structured data with configurable
CSS selectors, optionally follows links within allowed domains, and exports
the records as JSON and/or CSV.`,
		Example: `  # Scrape single page
  webscraper -u https://example.com --crawl=false

  # Crawl entire site (max 50 pages)
  webscraper -u https://example.com --crawl --max-pages 50

  # Use custom config file
  webscraper --config my_config.json

  # Export to both CSV and JSON
  webscraper -u https://example.com -o both

  # Generate example config
  webscraper --generate-config`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringP("url", "u", "", "target URL to scrape")
	flags.Bool("crawl", false, "crawl multiple pages (follow links); --crawl=false scrapes one page")
	flags.Int("max-pages", 10, "maximum pages to crawl")
	flags.Float64("delay", 2, "delay between requests in seconds")
	flags.StringP("output", "o", "json", "output format: json, csv, or both")
	flags.StringVar(&opts.configPath, "config", "", "path to configuration file (json, yaml or toml)")
	flags.BoolVar(&opts.generateConfig, "generate-config", false, "generate example configuration file")
	flags.StringVar(&opts.selector, "selector", "", `CSS selector for specific elements (e.g. "h2.title")`)
	flags.Float64("timeout", 30, "request timeout in seconds")
	flags.StringSlice("allowed-domains", nil, "comma-separated list of allowed domains for crawling")
	flags.Int("workers", 1, "number of concurrent fetches")
	flags.String("domain-match", "substring", "allowed-domains matching: substring or suffix")
	flags.Bool("save-html", false, "archive the raw HTML of every fetched page")
	flags.String("metrics-addr", "", "serve /metrics and /progress on this address while running")

	return cmd
}

func run(cmd *cobra.Command, opts *rootOptions) error {
	out := cmd.OutOrStdout()
	printBanner(out)

	if opts.generateConfig {
		return generateExampleConfig(out, opts.configPath)
	}
	if !cmd.Flags().Changed("url") && opts.configPath == "" {
		return errMissingTarget
	}

	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	if opts.selector != "" {
		v.Set("selectors.custom", opts.selector)
	}
	logger, err := logging.New(v.GetBool("logging.development"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	cfg, err := config.Load(v, opts.configPath, logger)
	if err != nil {
		return err
	}
	printConfig(out, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	if cfg.FollowLinks {
		info.Fprintln(out, "Starting crawler...")
	} else {
		info.Fprintln(out, "Scraping single page...")
	}
	report, err := application.Run(ctx)
	if err != nil {
		return err
	}
	printReport(out, report)
	return nil
}

func generateExampleConfig(out io.Writer, path string) error {
	if path == "" {
		path = DefaultExampleConfig
	}
	if err := config.WriteExample(path); err != nil {
		return err
	}
	success.Fprintf(out, "Example configuration generated: %s\n", path)
	fmt.Fprintf(out, "\nEdit this file and use: webscraper --config %s\n", path)
	return nil
}

func printBanner(out io.Writer) {
	info.Fprintln(out, "== webscraper: flexible scraper for any website ==")
	fmt.Fprintln(out)
}

func printConfig(out io.Writer, cfg config.Config) {
	mode := "Disabled"
	if cfg.FollowLinks {
		mode = "Enabled"
	}
	info.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Target URL: %s\n", cfg.TargetURL)
	fmt.Fprintf(out, "  Max pages: %d\n", cfg.MaxPages)
	fmt.Fprintf(out, "  Crawl mode: %s\n", mode)
	fmt.Fprintf(out, "  Output format: %s\n", cfg.OutputFormat)
	fmt.Fprintf(out, "  Delay: %gs\n", cfg.DelaySeconds)
	if len(cfg.AllowedDomain) > 0 {
		fmt.Fprintf(out, "  Allowed domains: %s (%s)\n", strings.Join(cfg.AllowedDomain, ", "), cfg.DomainMatch)
	}
	fmt.Fprintln(out)
}

func printReport(out io.Writer, report *app.Report) {
	if report.Interrupted {
		warning.Fprintln(out, "\nInterrupted by user")
	}
	if len(report.Records) == 0 {
		warning.Fprintln(out, "\nNo data was scraped")
		return
	}
	rule := strings.Repeat("=", 50)
	success.Fprintf(out, "\n%s\n", rule)
	success.Fprintln(out, "Scraping Complete!")
	success.Fprintf(out, "%s\n\n", rule)

	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  Pages scraped: %d\n", report.Summary.TotalPages)
	fmt.Fprintf(out, "  Links found: %d\n", report.Summary.TotalLinks)
	fmt.Fprintf(out, "  Images found: %d\n", report.Summary.TotalImages)
	fmt.Fprintf(out, "\nOutput files: %s\n", strings.Join(report.Files, ", "))
	info.Fprintln(out, "\nDone!")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		if errors.Is(err, errMissingTarget) {
			fmt.Fprintln(os.Stderr, "Use: webscraper --help for usage information")
		}
		os.Exit(1)
	}
}

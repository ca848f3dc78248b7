package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootRequiresTarget(t *testing.T) {
	_, err := execute(t)
	require.ErrorIs(t, err, errMissingTarget)
}

func TestRootRejectsArgs(t *testing.T) {
	_, err := execute(t, "https://example.com")
	require.Error(t, err)
}

func TestGenerateConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	out, err := execute(t, "--generate-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Example configuration generated: "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "target_url: https://example.com")
}

func TestRootCrawlsAndExports(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
<h2 class="title">Deal</h2><a href="/next">next</a><img src="/x.png"></body></html>`)
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><title>Next</title></head><body><p>end</p></body></html>`)
	})
	site := httptest.NewServer(mux)
	defer site.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	cfgJSON := fmt.Sprintf(`{"output_dir": %q, "logging": {"development": false}}`, filepath.Join(dir, "out"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgJSON), 0o600))

	out, err := execute(t,
		"--config", cfgPath,
		"-u", site.URL+"/",
		"--crawl",
		"--max-pages", "5",
		"--delay", "0",
		"-o", "both",
		"--selector", "h2.title",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "Crawl mode: Enabled")
	assert.Contains(t, out, "Pages scraped: 2")
	assert.Contains(t, out, "Images found: 1")

	jsonFiles, err := filepath.Glob(filepath.Join(dir, "out", "scraped_data_*.json"))
	require.NoError(t, err)
	require.Len(t, jsonFiles, 1)
	data, err := os.ReadFile(jsonFiles[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"custom": [`)
	assert.Contains(t, string(data), `"Deal"`)

	csvFiles, err := filepath.Glob(filepath.Join(dir, "out", "scraped_data_*.csv"))
	require.NoError(t, err)
	assert.Len(t, csvFiles, 1)
}

func TestRootNoDataIsNotAnError(t *testing.T) {
	site := httptest.NewServer(http.NotFoundHandler())
	defer site.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`{"output_dir": %q}`, dir)), 0o600))

	out, err := execute(t, "--config", cfgPath, "-u", site.URL, "--delay", "0", "--crawl=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Scraping single page...")
	assert.Contains(t, out, "No data was scraped")
}

func TestRootCrawlsByDefault(t *testing.T) {
	site := httptest.NewServer(http.NotFoundHandler())
	defer site.Close()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`{"output_dir": %q}`, dir)), 0o600))

	out, err := execute(t, "--config", cfgPath, "-u", site.URL, "--delay", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Crawl mode: Enabled")
	assert.Contains(t, out, "Starting crawler...")
}

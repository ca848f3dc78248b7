// Package export writes page records as JSON and/or CSV files through a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/crawler"
	"github.com/JakeFAU/webscraper/internal/metrics"
)

// Format selects which files Save writes.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatBoth Format = "both"
)

// DefaultBaseName names output files when none is configured.
const DefaultBaseName = "scraped_data"

const fileTimestampLayout = "20060102_150405"

// ParseFormat validates raw as a Format.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatJSON, FormatCSV, FormatBoth:
		return f, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json, csv or both)", raw)
	}
}

func (f Format) parts() []Format {
	if f == FormatBoth {
		return []Format{FormatJSON, FormatCSV}
	}
	return []Format{f}
}

// Exporter serializes records and hands the bytes to a BlobStore.
type Exporter struct {
	store    crawler.BlobStore
	clock    crawler.Clock
	baseName string
	logger   *zap.Logger
}

// New returns an Exporter writing <baseName>_<timestamp>.<ext> objects.
func New(store crawler.BlobStore, clock crawler.Clock, baseName string, logger *zap.Logger) (*Exporter, error) {
	if store == nil {
		return nil, fmt.Errorf("exporter requires a blob store")
	}
	if clock == nil {
		return nil, fmt.Errorf("exporter requires a clock")
	}
	if strings.TrimSpace(baseName) == "" {
		baseName = DefaultBaseName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		store:    store,
		clock:    clock,
		baseName: baseName,
		logger:   logger.Named("export"),
	}, nil
}

// Save writes records in every requested format and returns the locations that
// were written. Each format is attempted even when another fails; the returned
// error joins the individual failures.
func (e *Exporter) Save(ctx context.Context, records []crawler.PageRecord, format Format) ([]string, error) {
	if len(records) == 0 {
		e.logger.Warn("no data to save")
		return nil, nil
	}
	stamp := e.clock.Now().Format(fileTimestampLayout)

	var (
		files []string
		errs  []error
	)
	for _, part := range format.parts() {
		location, err := e.write(ctx, records, part, stamp)
		metrics.ObserveExport(string(part), err)
		if err != nil {
			e.logger.Error("export failed", zap.String("format", string(part)), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s export: %w", part, err))
			continue
		}
		e.logger.Info("export saved", zap.String("format", string(part)), zap.String("location", location))
		files = append(files, location)
	}
	return files, errors.Join(errs...)
}

func (e *Exporter) write(ctx context.Context, records []crawler.PageRecord, format Format, stamp string) (string, error) {
	var (
		data        []byte
		contentType string
		err         error
	)
	switch format {
	case FormatJSON:
		data, err = EncodeJSON(records)
		contentType = "application/json"
	case FormatCSV:
		data, err = EncodeCSV(records)
		contentType = "text/csv"
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.%s", e.baseName, stamp, format)
	location, err := e.store.PutObject(ctx, name, contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	return location, nil
}

// EncodeJSON renders records as an indented array. Selector fields are
// inlined next to the fixed keys.
func EncodeJSON(records []crawler.PageRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, rec := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeRecordObject(&buf, rec); err != nil {
			return nil, fmt.Errorf("encode %s: %w", rec.URL, err)
		}
	}
	buf.WriteByte(']')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("indent json: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

type member struct {
	key   string
	value any
}

func recordMembers(rec crawler.PageRecord) []member {
	members := []member{
		{"url", rec.URL},
		{"timestamp", rec.Timestamp.Format(time.RFC3339Nano)},
		{"title", rec.Title},
		{"meta_description", rec.MetaDescription},
	}
	for _, name := range sortedKeys(rec.Fields) {
		members = append(members, member{name, nonNil(rec.Fields[name])})
	}
	members = append(members,
		member{"links", nonNil(rec.Links)},
		member{"images", nonNil(rec.Images)},
		member{"text_content", rec.TextContent},
	)
	if rec.Tables != nil {
		members = append(members, member{"tables", rec.Tables})
	}
	return members
}

func writeRecordObject(buf *bytes.Buffer, rec crawler.PageRecord) error {
	buf.WriteByte('{')
	for i, m := range recordMembers(rec) {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.key)
		if err != nil {
			return err
		}
		value, err := json.Marshal(m.value)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return nil
}

// EncodeCSV flattens records into rows whose header is the sorted union of keys.
func EncodeCSV(records []crawler.PageRecord) ([]byte, error) {
	rows := make([]map[string]string, 0, len(records))
	keys := make(map[string]struct{})
	for _, rec := range records {
		row, err := Flatten(rec)
		if err != nil {
			return nil, fmt.Errorf("flatten %s: %w", rec.URL, err)
		}
		for k := range row {
			keys[k] = struct{}{}
		}
		rows = append(rows, row)
	}
	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	line := make([]string, len(header))
	for _, row := range rows {
		for i, k := range header {
			line[i] = row[k]
		}
		if err := w.Write(line); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Flatten turns a record into a single CSV row. Lists are joined with ", "
// (empty items dropped); tables are embedded as compact JSON.
func Flatten(rec crawler.PageRecord) (map[string]string, error) {
	row := map[string]string{
		"url":              rec.URL,
		"timestamp":        rec.Timestamp.Format(time.RFC3339Nano),
		"title":            rec.Title,
		"meta_description": rec.MetaDescription,
		"text_content":     rec.TextContent,
		"links":            joinList(rec.Links),
		"images":           joinList(rec.Images),
	}
	for name, values := range rec.Fields {
		row[name] = joinList(values)
	}
	for i, table := range rec.Tables {
		data, err := json.Marshal(table)
		if err != nil {
			return nil, fmt.Errorf("marshal table %d: %w", i, err)
		}
		row[fmt.Sprintf("tables_%d", i)] = string(data)
	}
	return row, nil
}

func joinList(values []string) string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, ", ")
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

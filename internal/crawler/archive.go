package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// HTMLArchive saves raw page bodies through a BlobStore.
type HTMLArchive struct {
	store  BlobStore
	hasher Hasher
	prefix string
}

// NewHTMLArchive returns an HTMLSink writing under prefix in store.
func NewHTMLArchive(store BlobStore, hasher Hasher, prefix string) (*HTMLArchive, error) {
	if store == nil {
		return nil, fmt.Errorf("html archive requires a blob store")
	}
	if hasher == nil {
		return nil, fmt.Errorf("html archive requires a hasher")
	}
	return &HTMLArchive{
		store:  store,
		hasher: hasher,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// SaveHTML writes body and returns the location reported by the store.
func (a *HTMLArchive) SaveHTML(ctx context.Context, rawURL string, body []byte) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty page body")
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	base, err := a.safeBasename(rawURL)
	if err != nil {
		return "", err
	}
	objectPath := path.Join(a.prefix, "html", base+".html")
	location, err := a.store.PutObject(ctx, objectPath, "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("writing HTML for %s: %w", rawURL, err)
	}
	return location, nil
}

// safeBasename turns a URL into host_path_hash using only filename-safe characters.
func (a *HTMLArchive) safeBasename(rawURL string) (string, error) {
	digest, err := a.hasher.Hash([]byte(rawURL))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	if len(digest) > 16 {
		digest = digest[:16]
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return digest, nil
	}
	host := invalidFilenameChars.ReplaceAllString(u.Hostname(), "_")
	p := strings.Trim(u.EscapedPath(), "/")
	if p == "" {
		p = "root"
	}
	p = invalidFilenameChars.ReplaceAllString(p, "_")
	return fmt.Sprintf("%s_%s_%s", host, p, digest), nil
}

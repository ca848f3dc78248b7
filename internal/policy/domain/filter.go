// Package domain implements the allow-list policy deciding which hosts may be crawled.
package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Mode selects how allow-list entries are matched against a URL's host.
type Mode string

const (
	// ModeSubstring allows a host that contains any entry as a substring.
	// "example.com" therefore also admits "example.com.evil.test".
	ModeSubstring Mode = "substring"
	// ModeSuffix allows a host equal to an entry or ending in "."+entry.
	ModeSuffix Mode = "suffix"
)

// ParseMode converts a config value into a Mode. The empty string means ModeSubstring.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeSubstring:
		return ModeSubstring, nil
	case ModeSuffix:
		return ModeSuffix, nil
	default:
		return "", fmt.Errorf("unknown domain match mode %q (want substring or suffix)", raw)
	}
}

// Filter decides whether a URL's host is on the allow-list.
type Filter struct {
	mode     Mode
	entries  []string
	exact    map[string]struct{}
	suffixes []string
}

// New builds a Filter. An empty domains list allows everything.
func New(domains []string, mode Mode) *Filter {
	if mode == "" {
		mode = ModeSubstring
	}
	f := &Filter{
		mode:  mode,
		exact: make(map[string]struct{}),
	}
	for _, raw := range domains {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		f.entries = append(f.entries, value)
		lower := strings.ToLower(value)
		switch {
		case strings.HasPrefix(lower, "*."):
			f.addSuffix(strings.TrimPrefix(lower, "*."))
		case strings.HasPrefix(lower, "."):
			f.addSuffix(strings.TrimPrefix(lower, "."))
		default:
			f.exact[lower] = struct{}{}
			f.addSuffix(lower)
		}
	}
	return f
}

func (f *Filter) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range f.suffixes {
		if existing == suffix {
			return
		}
	}
	f.suffixes = append(f.suffixes, suffix)
}

// Unrestricted reports whether the filter allows every host.
func (f *Filter) Unrestricted() bool {
	return f == nil || len(f.entries) == 0
}

// Allowed reports whether rawURL may be visited.
func (f *Filter) Allowed(rawURL string) bool {
	if f.Unrestricted() {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if f.mode == ModeSuffix {
		return f.matchSuffix(u.Hostname())
	}
	return f.matchSubstring(u.Host)
}

// matchSubstring compares against the full host (port included), case-sensitively.
func (f *Filter) matchSubstring(host string) bool {
	for _, entry := range f.entries {
		if strings.Contains(host, entry) {
			return true
		}
	}
	return false
}

func (f *Filter) matchSuffix(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return false
	}
	if _, ok := f.exact[host]; ok {
		return true
	}
	for _, suffix := range f.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

package keyset

import (
	"fmt"
	"net/url"
	"strings"
)

// Allowlist restricts which key-set URLs may be fetched. An empty allowlist
// rejects everything.
type Allowlist struct {
	entries       []allowEntry
	allowInsecure bool
}

type allowEntry struct {
	scheme   string
	host     string
	wildcard bool
	path     string
}

// ParseAllowlist compiles patterns of the form scheme://host[/path]. A host
// starting with "*." matches one or more leading labels.
func ParseAllowlist(patterns []string, allowInsecureHTTP bool) (*Allowlist, error) {
	al := &Allowlist{allowInsecure: allowInsecureHTTP}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		host := p
		scheme := ""
		if i := strings.Index(p, "://"); i > 0 {
			scheme = strings.ToLower(p[:i])
			host = p[i+3:]
		}
		if scheme != "https" && scheme != "http" {
			return nil, fmt.Errorf("allowlist entry %q: scheme must be https or http", p)
		}
		path := ""
		if i := strings.IndexByte(host, '/'); i >= 0 {
			host, path = host[:i], host[i:]
		}
		e := allowEntry{scheme: scheme, path: path}
		host = strings.ToLower(host)
		if strings.HasPrefix(host, "*.") {
			e.wildcard = true
			host = host[2:]
		}
		if host == "" || strings.Contains(host, "*") {
			return nil, fmt.Errorf("allowlist entry %q: invalid host", p)
		}
		e.host = host
		al.entries = append(al.entries, e)
	}
	return al, nil
}

// Len reports the number of compiled entries.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.entries)
}

// Check returns nil when raw may be fetched, otherwise an error wrapping
// ErrURLNotAllowed.
func (a *Allowlist) Check(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute url", ErrURLNotAllowed, raw)
	}
	if u.User != nil {
		return fmt.Errorf("%w: %q carries credentials", ErrURLNotAllowed, raw)
	}
	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "https":
	case scheme == "http" && a != nil && a.allowInsecure:
	default:
		return fmt.Errorf("%w: scheme %q", ErrURLNotAllowed, u.Scheme)
	}
	if a != nil {
		host := strings.ToLower(u.Host)
		for _, e := range a.entries {
			if e.matches(scheme, host, u.Path) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrURLNotAllowed, raw)
}

func (e allowEntry) matches(scheme, host, path string) bool {
	if scheme != e.scheme {
		return false
	}
	if e.wildcard {
		if !strings.HasSuffix(host, "."+e.host) || len(host) <= len(e.host)+1 {
			return false
		}
	} else if host != e.host {
		return false
	}
	if e.path == "" || e.path == "/" {
		return true
	}
	return path == e.path
}

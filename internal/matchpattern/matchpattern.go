// Package matchpattern implements browser URL match patterns of the form
// <scheme>://<host><path>, plus the special <all_urls> pattern.
package matchpattern

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// AllURLs matches every URL with a supported scheme.
const AllURLs = "<all_urls>"

// ErrInvalidPattern is returned (wrapped) for any pattern Parse rejects.
var ErrInvalidPattern = errors.New("invalid match pattern")

var supportedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"ws":    true,
	"wss":   true,
	"file":  true,
	"ftp":   true,
}

// Pattern is a parsed match pattern. The zero value matches nothing.
type Pattern struct {
	raw string
	all bool

	scheme       string // "*" or a concrete scheme
	host         string // without the "*." prefix
	anySubdomain bool
	anyHost      bool
	port         string // "" matches any port, "*" likewise
	path         *regexp.Regexp
}

// Parse validates raw and compiles it.
func Parse(raw string) (*Pattern, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	if raw == AllURLs {
		return &Pattern{raw: raw, all: true}, nil
	}

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q is missing '://'", ErrInvalidPattern, raw)
	}
	scheme = strings.ToLower(scheme)
	if scheme != "*" && !supportedSchemes[scheme] {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidPattern, scheme)
	}

	p := &Pattern{raw: raw, scheme: scheme}

	hostPart, pathPart := rest, "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		hostPart, pathPart = rest[:i], rest[i:]
	} else if scheme != "file" {
		return nil, fmt.Errorf("%w: %q is missing a path", ErrInvalidPattern, raw)
	}

	if err := p.parseHost(hostPart); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, raw, err)
	}
	p.path = compileGlob(pathPart)
	return p, nil
}

// MustParse is Parse for package-level literals.
func MustParse(raw string) *Pattern {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) parseHost(h string) error {
	if p.scheme == "file" {
		if h != "" {
			return errors.New("file patterns cannot name a host")
		}
		return nil
	}
	if h == "" {
		return errors.New("host is required")
	}

	host, port := h, ""
	if strings.HasPrefix(h, "[") {
		// IPv6 literal.
		end := strings.IndexByte(h, ']')
		if end < 0 {
			return errors.New("unterminated IPv6 literal")
		}
		host, port = h[:end+1], strings.TrimPrefix(h[end+1:], ":")
	} else if i := strings.LastIndexByte(h, ':'); i >= 0 {
		host, port = h[:i], h[i+1:]
		if port == "" {
			return errors.New("empty port")
		}
	}
	if port != "" && port != "*" {
		for _, r := range port {
			if r < '0' || r > '9' {
				return fmt.Errorf("invalid port %q", port)
			}
		}
	}
	p.port = port

	switch {
	case host == "*":
		p.anyHost = true
	case strings.HasPrefix(host, "*."):
		p.anySubdomain = true
		p.host = strings.ToLower(host[2:])
	case strings.Contains(host, "*"):
		return fmt.Errorf("wildcard must be the whole host or a leading '*.': %q", host)
	default:
		p.host = strings.ToLower(host)
	}
	return nil
}

func compileGlob(glob string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for i, part := range strings.Split(glob, "*") {
		if i > 0 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// String returns the pattern as it was written.
func (p *Pattern) String() string {
	if p == nil {
		return ""
	}
	return p.raw
}

// Match reports whether rawURL falls under the pattern. Unparseable URLs never match.
func (p *Pattern) Match(rawURL string) bool {
	if p == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return false
	}
	return p.MatchURL(u)
}

// MatchURL is Match for an already parsed URL.
func (p *Pattern) MatchURL(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	if p.all {
		return supportedSchemes[scheme]
	}

	switch p.scheme {
	case "*":
		if scheme != "http" && scheme != "https" {
			return false
		}
	default:
		if scheme != p.scheme {
			return false
		}
	}

	if p.scheme != "file" && !p.matchHost(u) {
		return false
	}

	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return p.path.MatchString(target)
}

func (p *Pattern) matchHost(u *url.URL) bool {
	if p.port != "" && p.port != "*" && u.Port() != p.port {
		return false
	}
	if p.anyHost {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if strings.HasPrefix(p.host, "[") {
		host = "[" + host + "]"
	}
	if host == p.host {
		return true
	}
	return p.anySubdomain && strings.HasSuffix(host, "."+p.host)
}

// Match parses pattern and tests rawURL against it.
func Match(pattern, rawURL string) (bool, error) {
	p, err := Parse(pattern)
	if err != nil {
		return false, err
	}
	return p.Match(rawURL), nil
}

// MatchAny reports whether rawURL matches at least one of the patterns.
// Invalid patterns are reported, not skipped.
func MatchAny(patterns []string, rawURL string) (bool, error) {
	for _, raw := range patterns {
		ok, err := Match(raw, rawURL)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// OriginPattern derives the pattern covering every page of rawURL's origin,
// i.e. scheme://host[:port]/*.
func OriginPattern(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no origin", rawURL)
	}
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(strings.Trim(host, "[]"), port)
	}
	return strings.ToLower(u.Scheme) + "://" + host + "/*", nil
}

// Origin returns scheme://host[:port] for an exact-origin pattern such as the
// ones OriginPattern produces. ok is false for wildcard patterns.
func (p *Pattern) Origin() (origin string, ok bool) {
	if p == nil || p.all || p.anyHost || p.anySubdomain || p.scheme == "*" || p.scheme == "file" {
		return "", false
	}
	if p.port == "*" {
		return "", false
	}
	if p.path.String() != "^/.*$" {
		return "", false
	}
	host := p.host
	if p.port != "" {
		host += ":" + p.port
	}
	return p.scheme + "://" + host, true
}

// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// RedirectWildcard is the single wildcard character allowed in a registered
// redirect URI. Desktop clients listen on ephemeral loopback ports, so a
// registration such as "http://localhost:*" admits any port and path.
const RedirectWildcard = "*"

// Errors returned by ParseRedirectPattern.
var (
	ErrEmptyRedirectURI      = errors.New("redirect URI must not be empty")
	ErrRedirectURINotAbs     = errors.New("redirect URI must be an absolute URI")
	ErrRedirectURIFragment   = errors.New("redirect URI must not contain a fragment")
	ErrRedirectURIUserInfo   = errors.New("redirect URI must not contain user info")
	ErrRedirectURIWildcards  = errors.New("redirect URI may contain at most one wildcard")
	ErrRedirectWildcardPlace = errors.New("redirect URI wildcard must follow the scheme")
	ErrRedirectWildcardHost  = errors.New("redirect URI wildcard must leave the host fixed")
)

// RedirectPattern is a registered redirect URI, validated at registration time.
// It is either an exact URI or a URI containing a single wildcard that matches
// any run of characters.
type RedirectPattern struct {
	raw      string
	prefix   string
	suffix   string
	host     string
	wildcard bool
}

// ParseRedirectPattern validates raw and returns its typed form.
func ParseRedirectPattern(raw string) (RedirectPattern, error) {
	if strings.TrimSpace(raw) == "" {
		return RedirectPattern{}, ErrEmptyRedirectURI
	}
	if strings.Contains(raw, "#") {
		return RedirectPattern{}, ErrRedirectURIFragment
	}

	count := strings.Count(raw, RedirectWildcard)
	if count > 1 {
		return RedirectPattern{}, ErrRedirectURIWildcards
	}

	// Substitute a port-safe placeholder so the remainder can be checked as a URI.
	parsed, err := url.Parse(strings.Replace(raw, RedirectWildcard, "0", 1))
	if err != nil {
		return RedirectPattern{}, fmt.Errorf("invalid redirect URI %q: %w", raw, err)
	}
	if !parsed.IsAbs() {
		return RedirectPattern{}, ErrRedirectURINotAbs
	}
	if parsed.User != nil {
		return RedirectPattern{}, ErrRedirectURIUserInfo
	}
	if (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host == "" {
		return RedirectPattern{}, ErrRedirectURINotAbs
	}

	if count == 0 {
		return RedirectPattern{raw: raw}, nil
	}

	idx := strings.Index(raw, RedirectWildcard)
	prefix, suffix := raw[:idx], raw[idx+1:]
	if !strings.Contains(prefix, "://") {
		return RedirectPattern{}, ErrRedirectWildcardPlace
	}
	host := pinnedHost(prefix)
	if host == "" {
		return RedirectPattern{}, ErrRedirectWildcardHost
	}

	return RedirectPattern{
		raw:      raw,
		prefix:   prefix,
		suffix:   suffix,
		host:     host,
		wildcard: true,
	}, nil
}

// MustParseRedirectPattern is like ParseRedirectPattern but panics on error.
// It is intended for compile-time constant registrations.
func MustParseRedirectPattern(raw string) RedirectPattern {
	p, err := ParseRedirectPattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseRedirectPatterns parses every entry of raws.
func ParseRedirectPatterns(raws []string) ([]RedirectPattern, error) {
	out := make([]RedirectPattern, 0, len(raws))
	for _, raw := range raws {
		p, err := ParseRedirectPattern(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// pinnedHost returns the hostname fixed by the prefix, or "" when the wildcard
// sits inside the host. The host counts as fixed only once a port separator or
// path follows it.
func pinnedHost(prefix string) string {
	authority := prefix[strings.Index(prefix, "://")+3:]
	if strings.HasPrefix(authority, "[") {
		end := strings.Index(authority, "]")
		if end < 0 || end+1 >= len(authority) {
			return ""
		}
		if next := authority[end+1]; next != ':' && next != '/' {
			return ""
		}
		return authority[1:end]
	}
	end := strings.IndexAny(authority, ":/")
	if end <= 0 {
		return ""
	}
	return authority[:end]
}

// String returns the URI as registered.
func (p RedirectPattern) String() string { return p.raw }

// IsWildcard reports whether the pattern contains a wildcard.
func (p RedirectPattern) IsWildcard() bool { return p.wildcard }

// Scheme returns the lower-cased URI scheme.
func (p RedirectPattern) Scheme() string {
	scheme, _, ok := strings.Cut(p.raw, ":")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

// Hostname returns the host every matching URI must carry.
func (p RedirectPattern) Hostname() string {
	if p.wildcard {
		return p.host
	}
	u, err := url.Parse(p.raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Matches reports whether uri is admitted by the pattern. Exact patterns use
// string equality. Wildcard patterns require the fixed prefix and suffix, and
// the candidate must be a well-formed URI without user info or fragment whose
// host equals the pattern's host.
func (p RedirectPattern) Matches(uri string) bool {
	if !p.wildcard {
		return p.raw != "" && uri == p.raw
	}
	if len(uri) < len(p.prefix)+len(p.suffix) {
		return false
	}
	if !strings.HasPrefix(uri, p.prefix) || !strings.HasSuffix(uri, p.suffix) {
		return false
	}
	if strings.Contains(uri, "#") {
		return false
	}
	u, err := url.Parse(uri)
	if err != nil || u.User != nil {
		return false
	}
	if !strings.EqualFold(u.Hostname(), p.host) {
		return false
	}
	return true
}

// MarshalText implements encoding.TextMarshaler.
func (p RedirectPattern) MarshalText() ([]byte, error) {
	return []byte(p.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *RedirectPattern) UnmarshalText(text []byte) error {
	parsed, err := ParseRedirectPattern(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// AnyMatches reports whether any pattern in patterns admits uri.
func AnyMatches(patterns []RedirectPattern, uri string) bool {
	if uri == "" {
		return false
	}
	for _, p := range patterns {
		if p.Matches(uri) {
			return true
		}
	}
	return false
}

// RedirectPatternStrings returns the raw registered form of each pattern.
func RedirectPatternStrings(patterns []RedirectPattern) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.raw
	}
	return out
}

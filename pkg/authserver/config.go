// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/tokens"
	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

// Defaults applied by applyDefaults.
const (
	DefaultIssuer          = "http://localhost:8080"
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
	DefaultAuthCodeTTL     = 10 * time.Minute
	DefaultLoginURL        = "/login"
)

// Scopes offered by default.
const (
	ScopeRead  = "mcp:read"
	ScopeWrite = "mcp:write"
)

// Config is the configuration of the authorization server. All values must be
// fully resolved; loading from files or the environment happens in the caller.
type Config struct {
	// Issuer is stamped into the "iss" claim and roots the discovery document.
	Issuer string `mapstructure:"issuer" yaml:"issuer"`

	// SigningSecret is the HS256 key for access tokens. At least 32 bytes.
	SigningSecret string `mapstructure:"signing_secret" yaml:"signing_secret"`

	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl" yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl" yaml:"refresh_token_ttl"`
	AuthCodeTTL     time.Duration `mapstructure:"auth_code_ttl" yaml:"auth_code_ttl"`

	// DefaultScopes are granted to clients registered without an explicit scope.
	DefaultScopes []string `mapstructure:"default_scopes" yaml:"default_scopes"`

	// ScopeDescriptions are shown on the consent page.
	ScopeDescriptions map[string]string `mapstructure:"scope_descriptions" yaml:"scope_descriptions"`

	// StaticClients are seeded at startup. Nil selects DefaultStaticClients;
	// an empty non-nil slice seeds nothing.
	StaticClients []ClientConfig `mapstructure:"static_clients" yaml:"static_clients"`

	// LoginURL is where unauthenticated users are sent from the authorize endpoint.
	LoginURL string `mapstructure:"login_url" yaml:"login_url"`
}

// ClientConfig defines a pre-registered OAuth client.
type ClientConfig struct {
	ID   string `mapstructure:"id" yaml:"id"`
	Name string `mapstructure:"name" yaml:"name"`

	// Secret makes the client confidential. Empty registers a public client.
	Secret string `mapstructure:"secret" yaml:"secret"`

	RedirectURIs []string `mapstructure:"redirect_uris" yaml:"redirect_uris"`

	// Scopes defaults to Config.DefaultScopes.
	Scopes []string `mapstructure:"scopes" yaml:"scopes"`
}

// DefaultScopeDescriptions returns the consent page text for the default scopes.
func DefaultScopeDescriptions() map[string]string {
	return map[string]string{
		ScopeRead:  "Read your vehicles, builds, and parts",
		ScopeWrite: "Create, update, and delete your data",
	}
}

// loopbackRedirects accept any port chosen by a desktop client's local listener.
var loopbackRedirects = []oauth.RedirectPattern{
	oauth.MustParseRedirectPattern("http://localhost:*"),
	oauth.MustParseRedirectPattern("http://127.0.0.1:*"),
}

// DefaultStaticClients returns the AI assistant integrations registered at
// startup when no static clients are configured.
func DefaultStaticClients() []ClientConfig {
	loopback := oauth.RedirectPatternStrings(loopbackRedirects)
	return []ClientConfig{
		{
			ID:   "chatgpt-desktop",
			Name: "ChatGPT Desktop",
			RedirectURIs: append([]string{
				"https://chat.openai.com/aip/g/callback",
				"https://chatgpt.com/aip/g/callback",
			}, loopback...),
		},
		{
			ID:           "claude-desktop",
			Name:         "Claude Desktop",
			RedirectURIs: loopback,
		},
		{
			ID:           "generic-mcp-client",
			Name:         "Generic MCP Client",
			RedirectURIs: loopback,
		},
	}
}

// Validate checks that the Config is valid. It must be called after applyDefaults.
func (c *Config) Validate() error {
	logger.Debugw("validating authserver config", "issuer", c.Issuer)

	if err := validateIssuerURL(c.Issuer); err != nil {
		return err
	}

	if len(c.SigningSecret) < tokens.MinSecretLength {
		return fmt.Errorf("signing secret must be at least %d bytes", tokens.MinSecretLength)
	}

	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.AuthCodeTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}

	if len(c.DefaultScopes) == 0 {
		return errors.New("at least one default scope is required")
	}

	supported := c.SupportedScopes()
	seen := make(map[string]bool, len(c.StaticClients))
	for i, client := range c.StaticClients {
		if err := client.Validate(); err != nil {
			return fmt.Errorf("client %d: %w", i, err)
		}
		if seen[client.ID] {
			return fmt.Errorf("client %d: duplicate client id %q", i, client.ID)
		}
		seen[client.ID] = true
		if !oauth.ScopeSubset(client.Scopes, supported) {
			return fmt.Errorf("client %d: scopes %v are not all supported", i, client.Scopes)
		}
	}

	logger.Debugw("authserver config validation passed",
		"issuer", c.Issuer,
		"clientCount", len(c.StaticClients),
	)
	return nil
}

// Validate checks that the ClientConfig is valid.
func (c *ClientConfig) Validate() error {
	if c.ID == "" {
		return errors.New("client id is required")
	}
	if len(c.RedirectURIs) == 0 {
		return errors.New("at least one redirect_uri is required")
	}
	for i, uri := range c.RedirectURIs {
		if _, err := oauth.ParseRedirectPattern(uri); err != nil {
			return fmt.Errorf("redirect_uri[%d]: %w", i, err)
		}
	}
	return nil
}

// SupportedScopes is the union of the default scopes and every described scope,
// in a stable order.
func (c *Config) SupportedScopes() []string {
	out := append([]string(nil), c.DefaultScopes...)
	extra := make([]string, 0, len(c.ScopeDescriptions))
	for s := range c.ScopeDescriptions {
		if !slices.Contains(out, s) {
			extra = append(extra, s)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

// WithDefaults returns a copy of c with unset fields defaulted, as New sees it.
func (c Config) WithDefaults() Config {
	c.applyDefaults()
	return c
}

// applyDefaults applies default values to the config where not set.
func (c *Config) applyDefaults() {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	c.Issuer = strings.TrimSuffix(c.Issuer, "/")
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.AuthCodeTTL == 0 {
		c.AuthCodeTTL = DefaultAuthCodeTTL
	}
	if len(c.DefaultScopes) == 0 {
		c.DefaultScopes = []string{ScopeRead, ScopeWrite}
	}
	if c.ScopeDescriptions == nil {
		c.ScopeDescriptions = DefaultScopeDescriptions()
	}
	if c.StaticClients == nil {
		c.StaticClients = DefaultStaticClients()
	}
	if c.LoginURL == "" {
		c.LoginURL = DefaultLoginURL
	}
}

// validateIssuerURL checks the issuer per RFC 8414 Section 2: https (http only
// for loopback), a host, and no query, fragment or trailing slash.
func validateIssuerURL(issuer string) error {
	if issuer == "" {
		return errors.New("issuer is required")
	}

	u, err := url.Parse(issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	if u.Scheme == "" {
		return errors.New("issuer URL scheme is required")
	}
	if u.Host == "" {
		return errors.New("issuer URL host is required")
	}
	if u.RawQuery != "" || u.ForceQuery {
		return errors.New("issuer URL must not contain query component")
	}
	if u.Fragment != "" || strings.Contains(issuer, "#") {
		return errors.New("issuer URL must not contain fragment component")
	}
	if strings.HasSuffix(u.Path, "/") {
		return errors.New("issuer URL must not have trailing slash")
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !isLoopback(u.Hostname()) {
			return errors.New("issuer URL http scheme is only allowed for localhost")
		}
	default:
		return errors.New("issuer URL scheme must be https")
	}
	return nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

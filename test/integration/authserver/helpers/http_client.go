// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package helpers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
)

var consentIDPattern = regexp.MustCompile(`name="consent_id" value="([^"]+)"`)

// Browser plays the user agent: it carries the logged-in user header set by
// the login proxy and does not follow redirects, so tests can inspect them.
type Browser struct {
	tb         testing.TB
	httpClient *http.Client
	userID     string
}

// NewBrowser creates a Browser signed in as userID. An empty userID is anonymous.
func NewBrowser(tb testing.TB, userID string) *Browser {
	tb.Helper()

	return &Browser{
		tb:     tb,
		userID: userID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Response is a drained HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
}

// Location parses the Location header of a redirect.
func (r *Response) Location(tb testing.TB) *url.URL {
	tb.Helper()
	require.Equal(tb, http.StatusFound, r.StatusCode, r.Body)
	loc, err := url.Parse(r.Header.Get("Location"))
	require.NoError(tb, err)
	return loc
}

// ConsentID extracts the pending consent id from a consent page.
func (r *Response) ConsentID(tb testing.TB) string {
	tb.Helper()
	m := consentIDPattern.FindStringSubmatch(r.Body)
	require.Len(tb, m, 2, "not a consent page: %s", r.Body)
	return m[1]
}

// Get fetches rawURL.
func (b *Browser) Get(rawURL string) *Response {
	b.tb.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(b.tb, err)
	return b.do(req)
}

// PostForm submits form to rawURL.
func (b *Browser) PostForm(rawURL string, form url.Values) *Response {
	b.tb.Helper()
	req, err := http.NewRequest(http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	require.NoError(b.tb, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

// Approve walks an authorization URL through the consent page, approving
// when asked, and returns the final redirect to the client.
func (b *Browser) Approve(serverURL, authURL string) *url.URL {
	b.tb.Helper()

	resp := b.Get(authURL)
	if resp.StatusCode == http.StatusOK {
		resp = b.PostForm(serverURL+"/oauth/authorize", url.Values{
			"consent_id": {resp.ConsentID(b.tb)},
			"decision":   {"approve"},
		})
	}
	return resp.Location(b.tb)
}

// GetJSON fetches rawURL and decodes a JSON object body.
func (b *Browser) GetJSON(rawURL string) (map[string]any, int) {
	b.tb.Helper()
	resp := b.Get(rawURL)
	var out map[string]any
	require.NoError(b.tb, json.Unmarshal([]byte(resp.Body), &out), resp.Body)
	return out, resp.StatusCode
}

func (b *Browser) do(req *http.Request) *Response {
	b.tb.Helper()
	if b.userID != "" {
		req.Header.Set(identity.DefaultUserHeader, b.userID)
	}
	resp, err := b.httpClient.Do(req)
	require.NoError(b.tb, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(b.tb, err)
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: string(body)}
}

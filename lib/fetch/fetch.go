/*
Copyright 2025 Pacewatch Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package fetch combines the HTTP transport and the browser worker
// behind one call. Responses are cached for a short TTL so a burst of
// participants on the same result page costs one upstream request, and
// concurrent fetches of the same page are collapsed.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/singleflight"

	"github.com/pacewatch/pacewatch/lib/browser"
	"github.com/pacewatch/pacewatch/lib/defaults"
	"github.com/pacewatch/pacewatch/lib/httpclient"
	"github.com/pacewatch/pacewatch/lib/utils"
)

// Renderer is the browser worker surface the fetcher needs.
type Renderer interface {
	Fetch(ctx context.Context, r browser.Request) (string, error)
}

// browserSelectors routes provider hosts to the browser worker first
// and names the selector whose appearance means the page is usable.
var browserSelectors = map[string]string{
	"myresult.co.kr":  ".table-row.ant-row",
	"spct.co.kr":      ".record",
	"smartchip.co.kr": "table tr",
}

// Config holds fetcher parameters.
type Config struct {
	// HTTP is the transport used for plain pages and browser fallback.
	HTTP *httpclient.Client
	// Browser is the headless worker; nil disables browser routing.
	Browser Renderer
	// CacheTTL is the response cache lifetime.
	CacheTTL time.Duration
	// VerifyForHost decides TLS verification per host.
	VerifyForHost func(host string) bool
	// Clock is used for cache expiry.
	Clock clockwork.Clock
	// Logger is the parent logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.HTTP == nil {
		return trace.BadParameter("missing parameter HTTP")
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaults.FetchCacheTTL
	}
	if c.VerifyForHost == nil {
		c.VerifyForHost = func(string) bool { return true }
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

type cacheKey struct {
	url     string
	timeout time.Duration
	verify  bool
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%v|%v|%v", k.url, k.timeout, k.verify)
}

type cacheEntry struct {
	body    string
	expires time.Time
}

// Fetcher is the process-wide page fetcher.
type Fetcher struct {
	cfg   Config
	log   *slog.Logger
	group singleflight.Group

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// New returns a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Fetcher{
		cfg:   cfg,
		log:   cfg.Logger.With("component", "fetch"),
		cache: make(map[cacheKey]cacheEntry),
	}, nil
}

// Fetch returns the decoded body of a page. verify overrides the
// per-host TLS policy when non-nil. A zero timeout means the default.
func (f *Fetcher) Fetch(ctx context.Context, rawurl string, timeout time.Duration, verify *bool) (string, error) {
	rawurl = utils.NormalizeURL(rawurl)
	if timeout <= 0 {
		timeout = defaults.FetchTimeout
	}
	v := f.cfg.VerifyForHost(utils.HostOf(rawurl))
	if verify != nil {
		v = *verify
	}
	key := cacheKey{url: rawurl, timeout: timeout, verify: v}
	if body, ok := f.cached(key); ok {
		return body, nil
	}
	out, err, _ := f.group.Do(key.String(), func() (any, error) {
		if body, ok := f.cached(key); ok {
			return body, nil
		}
		body, err := f.fetchOnce(ctx, rawurl, timeout, v)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		f.store(key, body)
		return body, nil
	})
	if err != nil {
		return "", trace.Wrap(err)
	}
	return out.(string), nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawurl string, timeout time.Duration, verify bool) (string, error) {
	host := utils.HostOf(rawurl)
	if f.cfg.Browser != nil {
		if selector, ok := selectorFor(host); ok {
			body, err := f.cfg.Browser.Fetch(ctx, browser.Request{
				URL:      rawurl,
				Timeout:  timeout,
				Selector: selector,
			})
			if err == nil && body != "" {
				return body, nil
			}
			f.log.Warn("browser fetch failed, falling back to http",
				"host", host, "error", err)
		}
	}

	resp, err := f.cfg.HTTP.Get(ctx, rawurl, httpclient.GetParams{
		Timeout:   timeout,
		Verify:    &verify,
		CacheBust: true,
	})
	if err != nil {
		return "", trace.Wrap(err)
	}
	if resp.StatusCode >= 400 {
		return "", trace.ConnectionProblem(nil, "upstream returned %v for %v", resp.StatusCode, rawurl)
	}
	return DecodeBody(resp.Body, resp.ContentType()), nil
}

// cached returns a live cache hit.
func (f *Fetcher) cached(key cacheKey) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.cache[key]
	if !ok || f.cfg.Clock.Now().After(e.expires) {
		return "", false
	}
	return e.body, true
}

func (f *Fetcher) store(key cacheKey, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.cfg.Clock.Now()
	for k, e := range f.cache {
		if now.After(e.expires) {
			delete(f.cache, k)
		}
	}
	f.cache[key] = cacheEntry{body: body, expires: now.Add(f.cfg.CacheTTL)}
}

// selectorFor reports whether a host is served browser-first.
func selectorFor(host string) (string, bool) {
	for sub, sel := range browserSelectors {
		if strings.Contains(host, sub) {
			return sel, true
		}
	}
	return "", false
}

// DecodeBody converts a raw body to UTF-8, inferring the charset from
// the Content-Type header or the body itself. Korean provider pages
// frequently serve EUC-KR without declaring it.
func DecodeBody(body []byte, contentType string) string {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

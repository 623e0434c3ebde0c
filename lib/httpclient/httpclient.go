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

// Package httpclient provides the pooled HTTP transport shared by every
// fetch worker. It retries transient upstream failures and applies the
// per-host TLS verification policy: several timing providers serve
// expired or mismatched certificates and are fetched without
// verification, everything else verifies.
package httpclient

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/gravitational/trace"

	"github.com/pacewatch/pacewatch/lib/defaults"
	"github.com/pacewatch/pacewatch/lib/utils"
)

// retryStatus are the upstream statuses retried inside the transport.
var retryStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// maxRetries is how many times a failed request is re-sent.
const maxRetries = 2

// Config holds client parameters.
type Config struct {
	// MaxWorkers is the fetch pool size; the connection pool is sized
	// to twice that.
	MaxWorkers int
	// VerifyForHost decides whether TLS verification applies to a
	// request host. Nil verifies everything.
	VerifyForHost func(host string) bool
	// RetryBackoff is the base delay between retries; the n-th retry
	// waits n times this.
	RetryBackoff time.Duration
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = defaults.MaxWorkers
	}
	if c.VerifyForHost == nil {
		c.VerifyForHost = func(string) bool { return true }
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 300 * time.Millisecond
	}
	return nil
}

// Response is a fully read upstream response.
type Response struct {
	// StatusCode is the final HTTP status.
	StatusCode int
	// Header is the final response header.
	Header http.Header
	// Body is the raw, undecoded body.
	Body []byte
	// FinalURL is the URL after redirects.
	FinalURL string
}

// ContentType returns the Content-Type header, or "".
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// Client is the process-wide HTTP client. It keeps two underlying
// pools, one verifying TLS and one not, and picks per request.
type Client struct {
	cfg      Config
	secure   *http.Client
	insecure *http.Client
}

// New returns a Client with pooled transports.
func New(cfg Config) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	pool := 2 * cfg.MaxWorkers
	return &Client{
		cfg:      cfg,
		secure:   &http.Client{Transport: newTransport(pool, false)},
		insecure: &http.Client{Transport: newTransport(pool, true)},
	}, nil
}

func newTransport(pool int, insecure bool) *http.Transport {
	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        pool,
		MaxIdleConnsPerHost: pool,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if insecure {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}

// GetParams tune a single Get.
type GetParams struct {
	// Timeout bounds the whole request including retries' backoff;
	// zero means defaults.FetchTimeout.
	Timeout time.Duration
	// Verify overrides the per-host TLS policy when non-nil.
	Verify *bool
	// Referer is sent when non-empty; the spct photo host rejects
	// requests without one.
	Referer string
	// CacheBust rewrites the URL with cache-busting parameters.
	CacheBust bool
}

// Get fetches a URL, retrying transient failures. Scheme-less URLs are
// promoted to https. The body is fully read before returning.
func (c *Client) Get(ctx context.Context, rawurl string, p GetParams) (*Response, error) {
	rawurl = utils.NormalizeURL(rawurl)
	if p.CacheBust {
		rawurl = utils.AddCacheBuster(rawurl)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaults.FetchTimeout
	}
	verify := c.verify(utils.HostOf(rawurl), p.Verify)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, trace.Wrap(ctx.Err())
			case <-time.After(time.Duration(attempt) * c.cfg.RetryBackoff):
			}
		}
		resp, err := c.do(ctx, rawurl, verify, p.Referer)
		if err != nil {
			lastErr = err
			continue
		}
		if retryStatus[resp.StatusCode] && attempt < maxRetries {
			lastErr = trace.ConnectionProblem(nil, "upstream returned %v for %v", resp.StatusCode, rawurl)
			continue
		}
		return resp, nil
	}
	return nil, trace.Wrap(lastErr)
}

// verify resolves the TLS policy for a host.
func (c *Client) verify(host string, override *bool) bool {
	if override != nil {
		return *override
	}
	return c.cfg.VerifyForHost(host)
}

func (c *Client) do(ctx context.Context, rawurl string, verify bool, referer string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("User-Agent", defaults.UserAgent)
	req.Header.Set("Accept-Language", defaults.AcceptLanguage)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	hc := c.secure
	if !verify {
		hc = c.insecure
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	finalURL := rawurl
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		FinalURL:   finalURL,
	}, nil
}

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

// Package browser runs the single headless browser that services the
// JS-heavy timing providers. Requests are serialized through an inbox
// channel; the underlying browser is started lazily and restarted by
// the next caller when it dies. Pages that defer their data to XHR are
// answered with the captured JSON body behind the JSONPrefix marker
// instead of the DOM.
package browser

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/gravitational/trace"

	"github.com/pacewatch/pacewatch/lib/defaults"
)

// JSONPrefix marks a response body that is captured XHR JSON rather
// than serialized DOM.
const JSONPrefix = "JSON::"

const (
	// minNavTimeout is the floor on per-navigation timeouts; provider
	// pages are slow to hydrate.
	minNavTimeout = 12 * time.Second
	// selectorPolls and selectorPollGap bound the wait for the result
	// table to render.
	selectorPolls   = 8
	selectorPollGap = time.Second
	// jsonWait is how long a skeleton page gets to fire its XHR.
	jsonWait = 7 * time.Second
)

// analyticsHosts are third-party hosts aborted during rendering.
var analyticsHosts = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"doubleclick.net",
	"facebook.net",
	"hotjar.com",
}

// blockedResources are resource types aborted during rendering.
var blockedResources = map[network.ResourceType]bool{
	network.ResourceTypeImage:      true,
	network.ResourceTypeMedia:      true,
	network.ResourceTypeFont:       true,
	network.ResourceTypeStylesheet: true,
}

// Config holds worker parameters.
type Config struct {
	// ChromePath overrides the browser binary; empty autodetects.
	ChromePath string
	// Logger is the parent logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Request asks the worker to render one page.
type Request struct {
	// URL to navigate to.
	URL string
	// Timeout for the whole render; raised to minNavTimeout.
	Timeout time.Duration
	// Selector marks the target table row; when it renders, the DOM is
	// returned immediately.
	Selector string
}

type result struct {
	body string
	err  error
}

type request struct {
	Request
	resp chan result
}

// Worker is the browser actor. The zero value is not usable; call New.
type Worker struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	inbox       chan *request
	done        chan struct{}
	allocCancel context.CancelFunc
	ctxCancel   context.CancelFunc
	browserCtx  context.Context

	capture  *jsonCapture
	inflight atomic.Int64
}

// New returns a Worker; the browser itself starts on first Fetch.
func New(cfg Config) (*Worker, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Worker{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "browser"),
		capture: newJSONCapture(),
	}, nil
}

// Fetch renders a page through the serial worker. The returned body is
// either serialized DOM or JSONPrefix + a captured JSON body.
func (w *Worker) Fetch(ctx context.Context, r Request) (string, error) {
	done, inbox, err := w.ensureRunning()
	if err != nil {
		return "", trace.Wrap(err)
	}
	req := &request{Request: r, resp: make(chan result, 1)}
	select {
	case inbox <- req:
	case <-done:
		return "", trace.ConnectionProblem(nil, "browser worker exited")
	case <-ctx.Done():
		return "", trace.Wrap(ctx.Err())
	}
	select {
	case res := <-req.resp:
		return res.body, trace.Wrap(res.err)
	case <-done:
		return "", trace.ConnectionProblem(nil, "browser worker exited")
	case <-ctx.Done():
		return "", trace.Wrap(ctx.Err())
	}
}

// Close tears the browser down. A later Fetch restarts it.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Worker) stopLocked() {
	if w.ctxCancel != nil {
		w.ctxCancel()
		w.ctxCancel = nil
	}
	if w.allocCancel != nil {
		w.allocCancel()
		w.allocCancel = nil
	}
	w.done = nil
	w.inbox = nil
}

// ensureRunning starts the browser and its service loop if the previous
// instance died.
func (w *Worker) ensureRunning() (chan struct{}, chan *request, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		select {
		case <-w.done:
			w.log.Warn("browser worker died, restarting")
			w.stopLocked()
		default:
			return w.done, w.inbox, nil
		}
	}
	if err := w.startLocked(); err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return w.done, w.inbox, nil
}

func (w *Worker) startLocked() error {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.UserAgent(defaults.UserAgent),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	if w.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(w.cfg.ChromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, ctxCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx,
		network.Enable(),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}),
	); err != nil {
		ctxCancel()
		allocCancel()
		return trace.Wrap(err, "starting headless browser")
	}
	w.listen(browserCtx)

	w.allocCancel = allocCancel
	w.ctxCancel = ctxCancel
	w.browserCtx = browserCtx
	w.inbox = make(chan *request)
	w.done = make(chan struct{})
	go w.loop(browserCtx, w.inbox, w.done)
	w.log.Info("browser worker started")
	return nil
}

// listen installs the CDP listener blocking heavy resources and
// capturing XHR/fetch JSON bodies.
func (w *Worker) listen(browserCtx context.Context) {
	chromedp.ListenTarget(browserCtx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				cmdCtx, cancel := context.WithTimeout(browserCtx, 2*time.Second)
				defer cancel()
				c := chromedp.FromContext(cmdCtx)
				exec := cdp.WithExecutor(cmdCtx, c.Target)
				if blockedResources[e.ResourceType] || isAnalyticsURL(e.Request.URL) {
					_ = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(exec)
					return
				}
				_ = fetch.ContinueRequest(e.RequestID).Do(exec)
			}()
		case *network.EventRequestWillBeSent:
			w.inflight.Add(1)
		case *network.EventResponseReceived:
			if (e.Type == network.ResourceTypeXHR || e.Type == network.ResourceTypeFetch) &&
				looksJSONResponse(e.Response.URL, e.Response.MimeType) {
				w.capture.mark(e.RequestID)
			}
		case *network.EventLoadingFinished:
			w.inflight.Add(-1)
			if w.capture.marked(e.RequestID) {
				go func() {
					cmdCtx, cancel := context.WithTimeout(browserCtx, 2*time.Second)
					defer cancel()
					c := chromedp.FromContext(cmdCtx)
					exec := cdp.WithExecutor(cmdCtx, c.Target)
					body, err := network.GetResponseBody(e.RequestID).Do(exec)
					if err == nil && len(body) > 0 {
						w.capture.deliver(string(body))
					}
				}()
			}
		case *network.EventLoadingFailed:
			w.inflight.Add(-1)
		}
	})
}

// loop services the inbox serially until the browser dies.
func (w *Worker) loop(browserCtx context.Context, inbox chan *request, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-browserCtx.Done():
			return
		case req := <-inbox:
			body, err := w.service(browserCtx, req)
			req.resp <- result{body: body, err: err}
			if browserCtx.Err() != nil {
				return
			}
		}
	}
}

func (w *Worker) service(browserCtx context.Context, req *request) (string, error) {
	timeout := req.Timeout
	if timeout < minNavTimeout {
		timeout = minNavTimeout
	}
	w.capture.reset()
	w.inflight.Store(0)

	navCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return "", trace.Wrap(err, "navigating to %v", req.URL)
	}

	// best-effort network idle, bounded to a fraction of the timeout
	w.waitNetworkIdle(navCtx, time.Duration(float64(timeout)*0.7))

	if req.Selector != "" {
		for i := 0; i < selectorPolls; i++ {
			if w.selectorPresent(navCtx, req.Selector) {
				return w.outerHTML(navCtx)
			}
			select {
			case body := <-w.capture.ch:
				return JSONPrefix + body, nil
			case <-navCtx.Done():
				return w.outerHTML(browserCtx)
			case <-time.After(selectorPollGap):
			}
		}
	}

	select {
	case body := <-w.capture.ch:
		return JSONPrefix + body, nil
	case <-time.After(jsonWait):
	case <-navCtx.Done():
	}
	// skeleton or not, the DOM is the best answer left
	return w.outerHTML(browserCtx)
}

// waitNetworkIdle polls the in-flight counter until it drains or the
// bound passes.
func (w *Worker) waitNetworkIdle(ctx context.Context, bound time.Duration) {
	deadline := time.Now().Add(bound)
	for time.Now().Before(deadline) {
		if w.inflight.Load() <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (w *Worker) selectorPresent(ctx context.Context, selector string) bool {
	var n int
	err := chromedp.Run(ctx,
		chromedp.Evaluate("document.querySelectorAll("+strconv.Quote(selector)+").length", &n))
	return err == nil && n > 0
}

func (w *Worker) outerHTML(ctx context.Context) (string, error) {
	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", trace.Wrap(err)
	}
	return html, nil
}

// jsonCapture tracks the XHR/fetch responses that look like data
// payloads and hands the first captured body to the service loop.
type jsonCapture struct {
	mu      sync.Mutex
	pending map[network.RequestID]bool
	ch      chan string
}

func newJSONCapture() *jsonCapture {
	return &jsonCapture{
		pending: make(map[network.RequestID]bool),
		ch:      make(chan string, 1),
	}
}

func (c *jsonCapture) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[network.RequestID]bool)
	select {
	case <-c.ch:
	default:
	}
}

func (c *jsonCapture) mark(id network.RequestID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[id] = true
}

func (c *jsonCapture) marked(id network.RequestID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[id]
}

func (c *jsonCapture) deliver(body string) {
	select {
	case c.ch <- body:
	default:
	}
}

// looksJSONResponse reports whether an XHR/fetch response is a data
// payload worth capturing.
func looksJSONResponse(url, mimeType string) bool {
	if strings.Contains(strings.ToLower(mimeType), "json") {
		return true
	}
	u := strings.ToLower(url)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(u, ".json") || strings.Contains(u, "/api/")
}

func isAnalyticsURL(url string) bool {
	u := strings.ToLower(url)
	for _, h := range analyticsHosts {
		if strings.Contains(u, h) {
			return true
		}
	}
	return false
}

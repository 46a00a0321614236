package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/backend"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

// chromeSession is one running browser with a single tab.
type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Chromedp drives headless Chrome through chromedp. Every request the page
// makes is paused in the Fetch domain and continued with the session's
// headers, so SetHeaders replaces the browser defaults rather than adding
// to them.
type Chromedp struct {
	*backend.State

	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	sess *chromeSession
	open func(ctx context.Context, p profile.Profile) (*chromeSession, error)

	hdrMu   sync.RWMutex
	headers profile.Headers
}

// NewChromedp builds a chromedp browser seeded with p. The browser process
// starts on CreateSession or on the first RawFetch.
func NewChromedp(p profile.Profile, cfg Config, logger *zap.Logger) *Chromedp {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chromedp{
		State:  backend.NewState(p),
		cfg:    cfg,
		logger: logger.Named("chromedp"),
	}
	c.open = c.launch
	return c
}

// Kind implements backend.Driver.
func (c *Chromedp) Kind() backend.Kind {
	return backend.KindChromedp
}

// CreateSession starts the browser if it is not running.
func (c *Chromedp) CreateSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked(ctx)
}

// Reset closes the browser and reopens it with the default profile.
func (c *Chromedp) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	c.Replace(profile.New())
	return c.ensureLocked(ctx)
}

// Quit closes the browser.
func (c *Chromedp) Quit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

// ensureLocked restarts a session whose profile changed and opens one if
// none is running.
func (c *Chromedp) ensureLocked(ctx context.Context) error {
	if c.TakeDirty() && c.sess != nil {
		c.logger.Debug("profile changed, restarting browser")
		c.closeLocked()
	}
	if c.sess != nil {
		return nil
	}
	sess, err := c.open(ctx, c.Snapshot())
	if err != nil {
		return err
	}
	c.sess = sess
	return nil
}

func (c *Chromedp) closeLocked() {
	if c.sess == nil {
		return
	}
	c.sess.cancel()
	c.sess = nil
}

func (c *Chromedp) allocatorOptions(p profile.Profile) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(backend.WindowWidth, backend.WindowHeight),
	)
	if ua := p.Headers["User-Agent"]; ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	if p.Proxy != nil {
		opts = append(opts, chromedp.ProxyServer(p.Proxy.Server()))
	}
	if c.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if c.cfg.Bin != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.Bin))
	}
	return opts
}

func (c *Chromedp) launch(ctx context.Context, p profile.Profile) (*chromeSession, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), c.allocatorOptions(p)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	c.setActiveHeaders(p.Headers)
	chromedp.ListenTarget(tabCtx, c.interceptor(tabCtx, p.Proxy))

	// The first Run allocates the browser process on the context it is
	// given, so it must be tabCtx itself. ctx only bounds start-up.
	abandon := context.AfterFunc(ctx, cancel)
	enable := fetch.Enable().WithHandleAuthRequests(p.Proxy.HasAuth())
	err := chromedp.Run(tabCtx, enable)
	if !abandon() {
		return nil, fmt.Errorf("start chromedp session: %w", ctx.Err())
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start chromedp session: %w", err)
	}
	c.logger.Debug("browser started", zap.Stringer("proxy", p.Proxy))
	return &chromeSession{ctx: tabCtx, cancel: cancel}, nil
}

// interceptor rewrites paused requests and answers proxy auth challenges.
// CDP calls run on their own goroutine because listeners must not block.
func (c *Chromedp) interceptor(tabCtx context.Context, proxy *profile.Proxy) func(ev any) {
	return func(ev any) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			entries := headerEntries(c.activeHeaders(), ev.Request)
			go func() {
				execCtx := cdp.WithExecutor(tabCtx, chromedp.FromContext(tabCtx).Target)
				if err := fetch.ContinueRequest(ev.RequestID).WithHeaders(entries).Do(execCtx); err != nil {
					c.logger.Debug("continue request failed", zap.Error(err))
				}
			}()
		case *fetch.EventAuthRequired:
			answer := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseDefault}
			if proxy.HasAuth() && ev.AuthChallenge != nil && ev.AuthChallenge.Source == fetch.AuthChallengeSourceProxy {
				answer = &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxy.User,
					Password: proxy.Password,
				}
			}
			go func() {
				execCtx := cdp.WithExecutor(tabCtx, chromedp.FromContext(tabCtx).Target)
				if err := fetch.ContinueWithAuth(ev.RequestID, answer).Do(execCtx); err != nil {
					c.logger.Debug("continue with auth failed", zap.Error(err))
				}
			}()
		}
	}
}

func (c *Chromedp) setActiveHeaders(h profile.Headers) {
	c.hdrMu.Lock()
	c.headers = injectableHeaders(h)
	c.hdrMu.Unlock()
}

func (c *Chromedp) activeHeaders() profile.Headers {
	c.hdrMu.RLock()
	defer c.hdrMu.RUnlock()
	return c.headers
}

// headerEntries keeps the browser's own managed headers from the paused
// request and replaces everything else with h.
func headerEntries(h profile.Headers, req *network.Request) []*fetch.HeaderEntry {
	out := make([]*fetch.HeaderEntry, 0, len(h)+2)
	if req != nil {
		for key, value := range toHTTPHeader(req.Headers) {
			if _, managed := managedHeaders[key]; managed && len(value) > 0 {
				out = append(out, &fetch.HeaderEntry{Name: key, Value: value[0]})
			}
		}
	}
	pairs := headerPairs(h)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, &fetch.HeaderEntry{Name: pairs[i], Value: pairs[i+1]})
	}
	return out
}

// session returns the live tab. Only navigation applies a pending profile
// change; page inspection keeps the tab that holds the current document.
func (c *Chromedp) session(ctx context.Context, navigate bool) (*chromeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if navigate || c.sess == nil {
		if err := c.ensureLocked(ctx); err != nil {
			return nil, err
		}
	}
	return c.sess, nil
}

// run executes actions on the tab while honoring ctx.
func (c *Chromedp) run(ctx context.Context, actions ...chromedp.Action) error {
	sess, err := c.session(ctx, false)
	if err != nil {
		return err
	}
	runCtx, stop := joinContext(sess.ctx, ctx)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// RawFetch navigates the tab to req.URL and returns the rendered DOM.
func (c *Chromedp) RawFetch(ctx context.Context, req backend.RawRequest) (*backend.RawResponse, error) {
	sess, err := c.session(ctx, true)
	if err != nil {
		return nil, err
	}
	snap := c.Snapshot()
	c.setActiveHeaders(snap.Headers.Merge(req.Headers))
	defer c.setActiveHeaders(snap.Headers)

	navCtx, cancel := context.WithTimeout(ctx, c.cfg.navTimeout(req.Timeout))
	defer cancel()
	runCtx, stop := joinContext(sess.ctx, navCtx)
	defer stop()

	defer c.restoreCookies(sess, req.URL, snap.Cookies, req.Cookies)
	if err := chromedp.Run(runCtx, setCookiesAction(req.URL, mergedCookies(snap.Cookies, req.Cookies))); err != nil {
		return nil, fmt.Errorf("set cookies: %w", err)
	}

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(req.URL))
	if err != nil {
		return nil, c.classify(navCtx, req.URL, err)
	}

	var (
		html     string
		finalURL string
	)
	err = chromedp.Run(runCtx,
		chromedp.Sleep(c.cfg.settleDelay()),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, c.classify(navCtx, req.URL, err)
	}

	result := &backend.RawResponse{
		StatusCode: http.StatusOK,
		URL:        finalURL,
		Body:       []byte(html),
		Headers:    http.Header{},
	}
	if resp != nil {
		result.StatusCode = defaultStatus(int(resp.Status))
		result.Headers = toHTTPHeader(resp.Headers)
	}
	if result.URL == "" {
		result.URL = req.URL
	}
	return result, backend.CheckStatus(result.StatusCode)
}

func (c *Chromedp) classify(navCtx context.Context, url string, err error) error {
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return &backend.TransportError{URL: url, Err: fmt.Errorf("navigation timed out: %w", context.DeadlineExceeded)}
	}
	return backend.ClassifyBrowserError(url, err)
}

func setCookiesAction(target string, cookies []profile.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range cookies {
			params := network.SetCookie(ck.Name, ck.Value).WithURL(target)
			if ck.Domain != "" {
				params = params.WithDomain(ck.Domain)
			}
			if ck.Path != "" {
				params = params.WithPath(ck.Path)
			}
			if err := params.Do(ctx); err != nil {
				return fmt.Errorf("cookie %s: %w", ck.Name, err)
			}
		}
		return nil
	})
}

func deleteCookiesAction(target string, cookies []profile.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range cookies {
			params := network.DeleteCookies(ck.Name).WithURL(target)
			if ck.Domain != "" {
				params = params.WithDomain(ck.Domain)
			}
			if ck.Path != "" {
				params = params.WithPath(ck.Path)
			}
			if err := params.Do(ctx); err != nil {
				return fmt.Errorf("delete cookie %s: %w", ck.Name, err)
			}
		}
		return nil
	})
}

// restoreCookies undoes per-call cookie overrides so the browser jar matches
// the profile again. It runs on the session context because the caller's
// context may already be done.
func (c *Chromedp) restoreCookies(sess *chromeSession, target string, base, overrides profile.Cookies) {
	drop, reset := cookieRestore(base, overrides)
	if len(drop) == 0 && len(reset) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(sess.ctx, restoreTimeout)
	defer cancel()
	if err := chromedp.Run(ctx, deleteCookiesAction(target, drop), setCookiesAction(target, reset)); err != nil {
		c.logger.Warn("restore cookies failed", zap.Error(err))
	}
}

// PageMetrics implements backend.Browser.
func (c *Chromedp) PageMetrics(ctx context.Context) (backend.PageMetrics, error) {
	var res backend.MetricsResult
	if err := c.Evaluate(ctx, backend.MetricsScript, &res); err != nil {
		return backend.PageMetrics{}, err
	}
	return res.PageMetrics(), nil
}

// ScrollTo implements backend.Browser.
func (c *Chromedp) ScrollTo(ctx context.Context, x, y int) error {
	return c.Evaluate(ctx, fmt.Sprintf("window.scrollTo(%d, %d)", x, y), nil)
}

// CaptureViewport implements backend.Browser.
func (c *Chromedp) CaptureViewport(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture viewport: %w", err)
	}
	return buf, nil
}

// ElementBox implements backend.Browser.
func (c *Chromedp) ElementBox(ctx context.Context, selector string) (backend.Rect, error) {
	expr, err := elementBoxExpr(selector)
	if err != nil {
		return backend.Rect{}, err
	}
	var box *backend.BoxResult
	if err := c.Evaluate(ctx, expr, &box); err != nil {
		return backend.Rect{}, err
	}
	return boxToRect(box, selector)
}

// Evaluate implements backend.Browser.
func (c *Chromedp) Evaluate(ctx context.Context, expr string, out any) error {
	if err := c.run(ctx, chromedp.Evaluate(expr, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// joinContext derives from the chromedp tab context, which carries the
// browser executor, and also cancels when ctx does. It is only safe once
// the browser is allocated: a first Run on the joined context would bind
// the browser process to it.
func joinContext(tab, ctx context.Context) (context.Context, func()) {
	joined, cancel := context.WithCancel(tab)
	stop := context.AfterFunc(ctx, cancel)
	return joined, func() {
		stop()
		cancel()
	}
}

func toHTTPHeader(src network.Headers) http.Header {
	headers := http.Header{}
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}

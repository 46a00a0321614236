package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/backend"
	"github.com/JakeFAU/webwrapper/internal/profile"
)

const navigationStatusScript = `() => {
	const entry = performance.getEntriesByType("navigation")[0];
	return entry && entry.responseStatus ? entry.responseStatus : 0;
}`

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

func (s *rodSession) close() {
	if s.browser != nil {
		_ = s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
}

// Rod drives Chromium through go-rod. The user agent and proxy are launch
// flags and the remaining headers are set once per page, so any profile
// change relaunches the browser.
type Rod struct {
	*backend.State

	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	sess *rodSession
	open func(ctx context.Context, p profile.Profile) (*rodSession, error)
}

// NewRod builds a rod browser seeded with p. The browser process starts on
// CreateSession or on the first RawFetch.
func NewRod(p profile.Profile, cfg Config, logger *zap.Logger) *Rod {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Rod{
		State:  backend.NewState(p),
		cfg:    cfg,
		logger: logger.Named("rod"),
	}
	r.open = r.launch
	return r
}

// Kind implements backend.Driver.
func (r *Rod) Kind() backend.Kind {
	return backend.KindRod
}

// CreateSession launches the browser if it is not running.
func (r *Rod) CreateSession(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(ctx)
}

// Reset closes the browser and relaunches it with the default profile.
func (r *Rod) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
	r.Replace(profile.New())
	return r.ensureLocked(ctx)
}

// Quit closes the browser and removes its user data dir.
func (r *Rod) Quit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
	return nil
}

func (r *Rod) ensureLocked(ctx context.Context) error {
	if r.TakeDirty() && r.sess != nil {
		r.logger.Debug("profile changed, relaunching browser")
		r.closeLocked()
	}
	if r.sess != nil {
		return nil
	}
	sess, err := r.open(ctx, r.Snapshot())
	if err != nil {
		return err
	}
	r.sess = sess
	return nil
}

func (r *Rod) closeLocked() {
	if r.sess == nil {
		return
	}
	r.sess.close()
	r.sess = nil
}

func (r *Rod) newLauncher(p profile.Profile) *launcher.Launcher {
	l := launcher.New().
		Headless(true).
		Set("window-size", strconv.Itoa(backend.WindowWidth)+","+strconv.Itoa(backend.WindowHeight))
	if r.cfg.NoSandbox {
		l = l.NoSandbox(true)
	}
	if r.cfg.Bin != "" {
		l = l.Bin(r.cfg.Bin)
	}
	if ua := p.Headers["User-Agent"]; ua != "" {
		l = l.Set(flags.Flag("user-agent"), ua)
	}
	if p.Proxy != nil {
		l = l.Proxy(p.Proxy.Server())
	}
	return l
}

func (r *Rod) launch(ctx context.Context, p profile.Profile) (*rodSession, error) {
	l := r.newLauncher(p).Context(ctx)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	sess := &rodSession{launcher: l}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		sess.close()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	sess.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	sess.page = page

	if p.Proxy.HasAuth() {
		if err := r.answerProxyAuth(page, p.Proxy); err != nil {
			sess.close()
			return nil, err
		}
	}
	if r.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			r.logger.Warn("stealth injection failed, proceeding without stealth", zap.Error(err))
		}
	}
	if err := applyPageHeaders(page, p.Headers); err != nil {
		sess.close()
		return nil, err
	}
	r.logger.Debug("browser launched", zap.Stringer("proxy", p.Proxy))
	return sess, nil
}

// answerProxyAuth continues paused requests and supplies the proxy
// credentials whenever the proxy challenges.
func (r *Rod) answerProxyAuth(page *rod.Page, proxy *profile.Proxy) error {
	if err := (proto.FetchEnable{HandleAuthRequests: true}).Call(page); err != nil {
		return fmt.Errorf("enable proxy auth: %w", err)
	}
	user, pass := proxy.User, proxy.Password
	go page.EachEvent(
		func(e *proto.FetchRequestPaused) {
			go func() {
				_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(page)
			}()
		},
		func(e *proto.FetchAuthRequired) {
			answer := &proto.FetchAuthChallengeResponse{Response: proto.FetchAuthChallengeResponseResponseDefault}
			if e.AuthChallenge != nil && e.AuthChallenge.Source == proto.FetchAuthChallengeSourceProxy {
				answer = &proto.FetchAuthChallengeResponse{
					Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
					Username: user,
					Password: pass,
				}
			}
			go func() {
				_ = proto.FetchContinueWithAuth{RequestID: e.RequestID, AuthChallengeResponse: answer}.Call(page)
			}()
		},
	)()
	return nil
}

// applyPageHeaders sets h as the page's extra headers. The user agent is
// left to the launch flag.
func applyPageHeaders(page *rod.Page, h profile.Headers) error {
	extra := injectableHeaders(h)
	delete(extra, "User-Agent")
	if _, err := page.SetExtraHeaders(headerPairs(extra)); err != nil {
		return fmt.Errorf("set extra headers: %w", err)
	}
	return nil
}

// page returns the live page. Only navigation applies a pending profile
// change; screenshots and evaluation keep the page holding the document.
func (r *Rod) page(ctx context.Context, navigate bool) (*rod.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if navigate || r.sess == nil {
		if err := r.ensureLocked(ctx); err != nil {
			return nil, err
		}
	}
	return r.sess.page, nil
}

// RawFetch navigates the page to req.URL and returns the rendered DOM.
func (r *Rod) RawFetch(ctx context.Context, req backend.RawRequest) (*backend.RawResponse, error) {
	page, err := r.page(ctx, true)
	if err != nil {
		return nil, err
	}
	snap := r.Snapshot()

	if len(req.Headers) > 0 {
		if err := applyPageHeaders(page, snap.Headers.Merge(req.Headers)); err != nil {
			return nil, err
		}
		defer func() {
			if err := applyPageHeaders(page, snap.Headers); err != nil {
				r.logger.Warn("restore page headers failed", zap.Error(err))
			}
		}()
	}

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.navTimeout(req.Timeout))
	defer cancel()
	p := page.Context(navCtx)

	defer r.restoreCookies(page, req.URL, snap.Cookies, req.Cookies)
	if err := p.SetCookies(cookieParams(req.URL, mergedCookies(snap.Cookies, req.Cookies))); err != nil {
		return nil, fmt.Errorf("set cookies: %w", err)
	}

	if err := p.Navigate(req.URL); err != nil {
		return nil, r.classify(navCtx, req.URL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, r.classify(navCtx, req.URL, err)
	}
	if err := p.WaitDOMStable(r.cfg.settleDelay(), 0.1); err != nil {
		r.logger.Debug("dom did not settle, using current dom", zap.Error(err))
	}

	status := http.StatusOK
	if res, err := p.Eval(navigationStatusScript); err == nil {
		status = defaultStatus(res.Value.Int())
	}
	html, err := p.HTML()
	if err != nil {
		return nil, r.classify(navCtx, req.URL, err)
	}
	finalURL := req.URL
	if res, err := p.Eval(`() => window.location.href`); err == nil && res.Value.Str() != "" {
		finalURL = res.Value.Str()
	}

	result := &backend.RawResponse{
		StatusCode: status,
		URL:        finalURL,
		Body:       []byte(html),
		Headers:    http.Header{},
	}
	return result, backend.CheckStatus(status)
}

func (r *Rod) classify(navCtx context.Context, url string, err error) error {
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		return &backend.TransportError{URL: url, Err: fmt.Errorf("navigation timed out: %w", context.DeadlineExceeded)}
	}
	return backend.ClassifyBrowserError(url, err)
}

// cookieParams targets the cookies at url. A nil slice would clear the
// browser jar, so an empty list is returned as an empty slice.
func cookieParams(url string, cookies []profile.Cookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, ck := range cookies {
		out = append(out, &proto.NetworkCookieParam{
			Name:   ck.Name,
			Value:  ck.Value,
			URL:    url,
			Domain: ck.Domain,
			Path:   ck.Path,
		})
	}
	return out
}

// restoreCookies undoes per-call cookie overrides so the browser jar matches
// the profile again.
func (r *Rod) restoreCookies(page *rod.Page, target string, base, overrides profile.Cookies) {
	drop, reset := cookieRestore(base, overrides)
	if len(drop) == 0 && len(reset) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	p := page.Context(ctx)
	for _, ck := range drop {
		del := proto.NetworkDeleteCookies{Name: ck.Name, URL: target, Domain: ck.Domain, Path: ck.Path}
		if err := del.Call(p); err != nil {
			r.logger.Warn("delete override cookie failed", zap.String("cookie", ck.Name), zap.Error(err))
		}
	}
	if len(reset) > 0 {
		if err := p.SetCookies(cookieParams(target, reset)); err != nil {
			r.logger.Warn("restore profile cookies failed", zap.Error(err))
		}
	}
}

// CaptureFullPage implements backend.FullPageCapturer.
func (r *Rod) CaptureFullPage(ctx context.Context) ([]byte, error) {
	return r.screenshot(ctx, true)
}

// CaptureViewport implements backend.Browser.
func (r *Rod) CaptureViewport(ctx context.Context) ([]byte, error) {
	return r.screenshot(ctx, false)
}

func (r *Rod) screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	page, err := r.page(ctx, false)
	if err != nil {
		return nil, err
	}
	buf, err := page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// PageMetrics implements backend.Browser.
func (r *Rod) PageMetrics(ctx context.Context) (backend.PageMetrics, error) {
	var res backend.MetricsResult
	if err := r.Evaluate(ctx, backend.MetricsScript, &res); err != nil {
		return backend.PageMetrics{}, err
	}
	return res.PageMetrics(), nil
}

// ScrollTo implements backend.Browser.
func (r *Rod) ScrollTo(ctx context.Context, x, y int) error {
	return r.Evaluate(ctx, fmt.Sprintf("window.scrollTo(%d, %d)", x, y), nil)
}

// ElementBox implements backend.Browser.
func (r *Rod) ElementBox(ctx context.Context, selector string) (backend.Rect, error) {
	expr, err := elementBoxExpr(selector)
	if err != nil {
		return backend.Rect{}, err
	}
	var box *backend.BoxResult
	if err := r.Evaluate(ctx, expr, &box); err != nil {
		return backend.Rect{}, err
	}
	return boxToRect(box, selector)
}

// Evaluate implements backend.Browser. rod evaluates functions, so expr is
// wrapped in an arrow function.
func (r *Rod) Evaluate(ctx context.Context, expr string, out any) error {
	page, err := r.page(ctx, false)
	if err != nil {
		return err
	}
	res, err := page.Context(ctx).Eval(arrowFunc(expr))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := res.Value.Unmarshal(out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

func arrowFunc(expr string) string {
	return "() => (" + expr + ")"
}

// Package fetch runs the retry state machine in front of a backend driver:
// it normalizes the URL, classifies every failure the same way regardless of
// transport, rotates the profile between attempts and coerces the body into
// the requested format.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/backend"
	"github.com/JakeFAU/webwrapper/internal/clock/system"
	"github.com/JakeFAU/webwrapper/internal/id/uuid"
	"github.com/JakeFAU/webwrapper/internal/observer"
	"github.com/JakeFAU/webwrapper/internal/profile"
	"github.com/JakeFAU/webwrapper/internal/rotator"
	"github.com/JakeFAU/webwrapper/internal/screenshot"
)

// Defaults for the retry loop.
const (
	DefaultMaxAttempts      = 3
	DefaultTransportBackoff = 2 * time.Second
	DefaultStatusBackoff    = 500 * time.Millisecond
	DefaultTimeout          = 30 * time.Second
)

const tracerName = "github.com/JakeFAU/webwrapper/internal/fetch"

// ErrNilURL is returned when Fetch or Download is called without a URL.
var ErrNilURL = errors.New("url is required")

// Rotator replaces the driver's profile between attempts. It must not fail.
type Rotator interface {
	Rotate(ctx context.Context, t rotator.Target)
}

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Limiter gates each attempt.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Clock supplies timestamps for observer events.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies observer event ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Response is what the most recent attempt observed.
type Response struct {
	StatusCode int
	URL        string
	Body       []byte
}

// Orchestrator owns one driver and runs one fetch at a time. It is not safe
// for concurrent use; run one Orchestrator per worker instead.
type Orchestrator struct {
	driver   backend.Driver
	rotator  Rotator
	observer observer.Observer
	sleeper  Sleeper
	limiter  Limiter
	clock    Clock
	ids      IDGenerator
	shots    *screenshot.Capturer
	client   *http.Client
	factory  backend.Factory
	logger   *zap.Logger

	maxAttempts      int
	transportBackoff time.Duration
	statusBackoff    time.Duration

	last   Response
	lastOK string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRotator sets the profile rotator.
func WithRotator(r Rotator) Option {
	return func(o *Orchestrator) { o.rotator = r }
}

// WithObserver sets the observer notified when a fetch ends without a result.
func WithObserver(obs observer.Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMaxAttempts caps attempts per Fetch call. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxAttempts = n
		}
	}
}

// WithTransportBackoff sets the pause after a transport failure.
func WithTransportBackoff(d time.Duration) Option {
	return func(o *Orchestrator) { o.transportBackoff = d }
}

// WithStatusBackoff sets the pause after an HTTP status failure.
func WithStatusBackoff(d time.Duration) Option {
	return func(o *Orchestrator) { o.statusBackoff = d }
}

// WithSleeper overrides how backoff pauses are taken.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleeper = s }
}

// WithLimiter gates every attempt, including retries.
func WithLimiter(l Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithBrowserFactory sets the factory used for temporary screenshot browsers.
func WithBrowserFactory(f backend.Factory) Option {
	return func(o *Orchestrator) { o.factory = f }
}

// WithDownloadClient sets the client used by Download and ImageDimensions.
func WithDownloadClient(c *http.Client) Option {
	return func(o *Orchestrator) { o.client = c }
}

// WithClock overrides the event clock.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithIDGenerator overrides the event id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = g }
}

// New wraps driver. Without WithRotator a source-less rotator is used, so
// retries log that no rotation happened.
func New(driver backend.Driver, opts ...Option) *Orchestrator {
	clk := system.New()
	o := &Orchestrator{
		driver:           driver,
		sleeper:          clk,
		clock:            clk,
		ids:              uuid.New(),
		logger:           zap.NewNop(),
		maxAttempts:      DefaultMaxAttempts,
		transportBackoff: DefaultTransportBackoff,
		statusBackoff:    DefaultStatusBackoff,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rotator == nil {
		o.rotator = rotator.New(rotator.WithLogger(o.logger))
	}
	if o.client == nil {
		o.client = o.defaultClient()
	}
	o.shots = screenshot.New(
		screenshot.WithFactory(o.factory),
		screenshot.WithSleeper(o.sleeper),
		screenshot.WithLogger(o.logger),
	)
	o.logger = o.logger.Named("fetch")
	return o
}

// Driver returns the active backend.
func (o *Orchestrator) Driver() backend.Driver { return o.driver }

// Last returns the most recent attempt's response. It is reset before every
// attempt, so a failed attempt leaves it empty or holding only its own data.
func (o *Orchestrator) Last() Response {
	r := o.last
	r.Body = append([]byte(nil), o.last.Body...)
	return r
}

// Headers returns the profile headers.
func (o *Orchestrator) Headers() profile.Headers { return o.driver.Headers() }

// SetHeaders replaces the profile headers.
func (o *Orchestrator) SetHeaders(h profile.Headers) { o.driver.SetHeaders(h) }

// UpdateHeaders merges h into the profile headers.
func (o *Orchestrator) UpdateHeaders(h profile.Headers) { o.driver.UpdateHeaders(h) }

// Cookies returns the profile cookies as name/value pairs.
func (o *Orchestrator) Cookies() map[string]string { return o.driver.Cookies().Values() }

// SetCookies replaces every cookie. in takes any shape profile.NormalizeCookies accepts.
func (o *Orchestrator) SetCookies(in any) error {
	list, err := profile.NormalizeCookies(in)
	if err != nil {
		return err
	}
	o.driver.SetCookies(list...)
	return nil
}

// UpdateCookies merges cookies by name.
func (o *Orchestrator) UpdateCookies(in any) error {
	list, err := profile.NormalizeCookies(in)
	if err != nil {
		return err
	}
	o.driver.UpdateCookies(list...)
	return nil
}

// Proxy returns the profile proxy, or nil.
func (o *Orchestrator) Proxy() *profile.Proxy { return o.driver.Proxy() }

// SetProxy replaces the proxy.
func (o *Orchestrator) SetProxy(p *profile.Proxy) { o.driver.SetProxy(p) }

// Screenshot captures the current page, or the last successfully fetched URL
// through a temporary browser when the driver cannot render.
func (o *Orchestrator) Screenshot(ctx context.Context, savePath, selector string, delay time.Duration) (string, error) {
	return o.shots.Capture(ctx, o.driver, screenshot.Request{
		Path:     savePath,
		URL:      o.lastOK,
		Selector: selector,
		Delay:    delay,
	})
}

// Close quits the driver.
func (o *Orchestrator) Close() error {
	return o.driver.Quit()
}

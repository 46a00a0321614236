// Package server assembles the fetchd service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/webwrapper/internal/api"
	"github.com/JakeFAU/webwrapper/internal/backend"
	colly "github.com/JakeFAU/webwrapper/internal/backend/colly"
	"github.com/JakeFAU/webwrapper/internal/backend/headless"
	"github.com/JakeFAU/webwrapper/internal/clock/system"
	"github.com/JakeFAU/webwrapper/internal/config"
	"github.com/JakeFAU/webwrapper/internal/fetch"
	"github.com/JakeFAU/webwrapper/internal/hash/sha256"
	"github.com/JakeFAU/webwrapper/internal/id/uuid"
	"github.com/JakeFAU/webwrapper/internal/observer"
	"github.com/JakeFAU/webwrapper/internal/observer/sinks"
	"github.com/JakeFAU/webwrapper/internal/policy/ratelimit"
	"github.com/JakeFAU/webwrapper/internal/profile"
	gcppublisher "github.com/JakeFAU/webwrapper/internal/publisher/pubsub"
	"github.com/JakeFAU/webwrapper/internal/rotator"
	"github.com/JakeFAU/webwrapper/internal/storage"
	gcsstorage "github.com/JakeFAU/webwrapper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/webwrapper/internal/storage/local"
	pgstore "github.com/JakeFAU/webwrapper/internal/storage/postgres"
	"github.com/JakeFAU/webwrapper/internal/worker"
)

// App contains the service's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	pool      *worker.Pool
	closers   []namedCloser
}

type namedCloser struct {
	name string
	fn   func() error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers observer metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// Build creates the service's dependencies. On error everything opened so far
// is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.String("backend", cfg.Backend.Kind),
		zap.String("screenshot_engine", cfg.Screenshot.Engine),
		zap.Int("workers", cfg.Workers.Count),
	)

	archiver, err := app.setupArchiver(ctx)
	if err != nil {
		return nil, app.abort(err)
	}
	obs, err := app.setupObservers(ctx, bo.registerer)
	if err != nil {
		return nil, app.abort(err)
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.RPS,
		DefaultBurst: cfg.RateLimit.Burst,
	})

	clock := system.New()
	ids := uuid.New()
	factory := screenshotFactory(cfg, logger)
	app.pool, err = worker.New(cfg.Workers.Count, func(i int) (*fetch.Orchestrator, error) {
		wlog := logger.With(zap.Int("worker", i))
		// Each worker owns its rotation cursors so its identity sequence
		// does not depend on what other workers did.
		rot, err := setupRotator(cfg, wlog, i)
		if err != nil {
			return nil, err
		}
		return fetch.New(newDriver(cfg, wlog),
			fetch.WithLogger(wlog),
			fetch.WithMaxAttempts(cfg.Retry.MaxAttempts),
			fetch.WithTransportBackoff(cfg.Retry.TransportBackoff),
			fetch.WithStatusBackoff(cfg.Retry.StatusBackoff),
			fetch.WithRotator(rot),
			fetch.WithObserver(obs),
			fetch.WithLimiter(limiter),
			fetch.WithBrowserFactory(factory),
			fetch.WithSleeper(clock),
			fetch.WithClock(clock),
			fetch.WithIDGenerator(ids),
		), nil
	}, logger)
	if err != nil {
		return nil, app.abort(fmt.Errorf("worker pool init failed: %w", err))
	}
	app.closers = append(app.closers, namedCloser{name: "worker pool", fn: app.pool.Close})

	app.apiServer = api.NewServer(app.pool, archiver, cfg, logger, api.WithRequestTimeout(requestBudget(cfg)))
	return app, nil
}

// Handler exposes the API router.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run serves the API until ctx is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	closeErr := a.Close()
	select {
	case err := <-serveErr:
		return errors.Join(err, closeErr)
	default:
		return closeErr
	}
}

// Close releases everything Build opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) abort(err error) error {
	return errors.Join(err, a.Close())
}

func (a *App) setupArchiver(ctx context.Context) (*storage.Archiver, error) {
	opts := []storage.ArchiverOption{
		storage.WithLogger(a.logger.Named("archive")),
		storage.WithPrefix(a.cfg.Storage.Prefix),
	}
	if a.cfg.Storage.GCSBucket != "" {
		store, closeFn, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.closers = append(a.closers, namedCloser{name: "gcs client", fn: closeFn})
		opts = append(opts, storage.WithBlobStore(store))
		a.logger.Info("using GCS artifact mirror", zap.String("bucket", a.cfg.Storage.GCSBucket))
	} else {
		// The work dir must exist and be writable before any handler writes to it.
		if _, err := localstorage.New(localstorage.Config{BaseDir: filepath.Clean(a.cfg.Storage.WorkDir)}); err != nil {
			return nil, fmt.Errorf("work dir: %w", err)
		}
		a.logger.Info("artifacts kept on local disk", zap.String("work_dir", a.cfg.Storage.WorkDir))
	}
	archiver, err := storage.NewArchiver(sha256.New(), system.New(), opts...)
	if err != nil {
		return nil, fmt.Errorf("archiver init failed: %w", err)
	}
	return archiver, nil
}

func (a *App) setupObservers(ctx context.Context, reg prometheus.Registerer) (observer.Observer, error) {
	var multi observer.Multi
	if a.cfg.Observers.Log {
		multi = append(multi, sinks.NewLogSink(a.logger.Named("failures")))
	}
	if a.cfg.Observers.Prometheus {
		sink, err := sinks.NewPrometheusSink(reg)
		if err != nil {
			return nil, fmt.Errorf("prometheus observer init failed: %w", err)
		}
		multi = append(multi, sink)
	}
	if a.cfg.PubSub.ProjectID != "" && a.cfg.PubSub.TopicName != "" {
		pub, closeFn, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub init failed: %w", err)
		}
		a.closers = append(a.closers, namedCloser{name: "pubsub", fn: closeFn})
		multi = append(multi, sinks.NewPubSubSink(pub, a.logger.Named("failures")))
		a.logger.Info("Pub/Sub failure publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}
	if a.cfg.DB.DSN != "" {
		store, err := pgstore.NewFailureStore(ctx, pgstore.Config{DSN: a.cfg.DB.DSN, Table: a.cfg.DB.Table})
		if err != nil {
			return nil, fmt.Errorf("failure store init failed: %w", err)
		}
		a.closers = append(a.closers, namedCloser{name: "failure store", fn: func() error {
			store.Close()
			return nil
		}})
		multi = append(multi, sinks.NewStoreSink(store))
		a.logger.Info("failure store initialized", zap.String("table", a.cfg.DB.Table))
	}
	if len(multi) == 0 {
		a.logger.Warn("no failure observers configured")
		return nil, nil
	}
	return multi, nil
}

// setupRotator builds the rotator for worker slot, starting its round-robin
// sources at that slot.
func setupRotator(cfg config.Config, logger *zap.Logger, slot int) (*rotator.Rotator, error) {
	opts := []rotator.Option{rotator.WithLogger(logger.Named("rotator"))}
	if len(cfg.Rotation.Proxies) > 0 {
		proxies, err := rotator.NewRoundRobinProxies(cfg.Rotation.Proxies)
		if err != nil {
			return nil, fmt.Errorf("rotation proxies: %w", err)
		}
		opts = append(opts, rotator.WithProxySource(proxies.StartAt(slot)))
	}
	if len(cfg.Rotation.UserAgents) > 0 {
		opts = append(opts, rotator.WithHeaderSource(
			rotator.NewRoundRobinUserAgents(baseHeaders(cfg), cfg.Rotation.UserAgents).StartAt(slot),
		))
	}
	return rotator.New(opts...), nil
}

func baseHeaders(cfg config.Config) profile.Headers {
	h := profile.DefaultHeaders()
	if cfg.HTTP.UserAgent != "" {
		h["User-Agent"] = cfg.HTTP.UserAgent
	}
	return h
}

func startProfile(cfg config.Config) profile.Profile {
	p := profile.New()
	p.Headers = baseHeaders(cfg)
	return p
}

func headlessConfig(cfg config.Config) headless.Config {
	return headless.Config{
		Bin:               cfg.Headless.Bin,
		NoSandbox:         cfg.Headless.NoSandbox,
		NavigationTimeout: cfg.NavTimeout(),
		Stealth:           cfg.Headless.Stealth,
	}
}

func newDriver(cfg config.Config, logger *zap.Logger) backend.Driver {
	p := startProfile(cfg)
	switch backend.Kind(cfg.Backend.Kind) {
	case backend.KindChromedp:
		return headless.NewChromedp(p, headlessConfig(cfg), logger)
	case backend.KindRod:
		return headless.NewRod(p, headlessConfig(cfg), logger)
	default:
		return colly.New(p, colly.Config{
			RespectRobots:          cfg.HTTP.RespectRobots,
			PersistResponseCookies: cfg.HTTP.PersistCookies,
		}, logger)
	}
}

func screenshotFactory(cfg config.Config, logger *zap.Logger) backend.Factory {
	switch cfg.Screenshot.Engine {
	case "chromedp":
		return headless.ChromedpFactory(headlessConfig(cfg), logger.Named("screenshot"))
	case "rod":
		return headless.RodFactory(headlessConfig(cfg), logger.Named("screenshot"))
	default:
		return headless.NoopFactory
	}
}

// requestBudget covers every attempt plus the pauses between them.
func requestBudget(cfg config.Config) time.Duration {
	attempts := time.Duration(max(cfg.Retry.MaxAttempts, 1))
	per := max(cfg.RequestTimeout(), cfg.NavTimeout())
	backoff := max(cfg.Retry.TransportBackoff, cfg.Retry.StatusBackoff)
	budget := attempts*per + (attempts-1)*backoff + time.Minute
	return max(budget, api.DefaultRequestTimeout)
}

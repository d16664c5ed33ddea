// Package app assembles a production-ready HTTP service from the building
// blocks in this module: chi routing, the canonical middleware stack, layered
// settings, lifecycle-managed dependencies, and graceful shutdown.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abaveja313/httpsugar/pkg/lifecycle"
	"github.com/abaveja313/httpsugar/pkg/logging"
	"github.com/abaveja313/httpsugar/pkg/middleware"
	"github.com/abaveja313/httpsugar/pkg/policy"
	"github.com/abaveja313/httpsugar/pkg/settings"
	"github.com/abaveja313/httpsugar/pkg/telemetry"
	"github.com/abaveja313/httpsugar/pkg/version"
)

const (
	defaultListenAddr      = ":8000"
	defaultShutdownTimeout = 10 * time.Second
)

// Hook runs during startup or shutdown, after and before lifecycle
// transitions respectively.
type Hook func(ctx context.Context) error

// App owns the router, settings, lifecycle manager, and HTTP server for one
// service.
type App struct {
	name        string
	description string

	settings *settings.Settings
	manager  *lifecycle.Manager
	router   chi.Router
	server   *http.Server

	startupHooks  []Hook
	shutdownHooks []Hook

	allowedOrigins   []string
	tracingService   string
	rateRPS          int
	rateBurst        int
	policyEngine     *policy.Engine
	policyEntrypoint string
	userRouters      []func(chi.Router)
}

// Option customises App construction.
type Option func(*App)

// WithDescription sets the human-readable service description shown in the
// startup banner.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithSettings supplies a pre-loaded settings snapshot instead of loading the
// default files.
func WithSettings(s *settings.Settings) Option {
	return func(a *App) { a.settings = s }
}

// WithLifecycle supplies a pre-populated lifecycle manager.
func WithLifecycle(m *lifecycle.Manager) Option {
	return func(a *App) { a.manager = m }
}

// WithRouter registers additional routes on the app's router.
func WithRouter(fn func(chi.Router)) Option {
	return func(a *App) { a.userRouters = append(a.userRouters, fn) }
}

// OnStartup appends a hook that runs after lifecycle objects have started.
func OnStartup(h Hook) Option {
	return func(a *App) { a.startupHooks = append(a.startupHooks, h) }
}

// OnShutdown appends a hook that runs before lifecycle objects are torn down.
func OnShutdown(h Hook) Option {
	return func(a *App) { a.shutdownHooks = append(a.shutdownHooks, h) }
}

// WithAllowedOrigins overrides the CORS allow-list from settings.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *App) { a.allowedOrigins = origins }
}

// WithTracing enables request tracing under the given service name.
func WithTracing(service string) Option {
	return func(a *App) { a.tracingService = service }
}

// WithRateLimit enables per-route token bucket limiting.
func WithRateLimit(rps, burst int) Option {
	return func(a *App) {
		a.rateRPS = rps
		a.rateBurst = burst
	}
}

// WithPolicyGuard protects all routes with the engine. A non-empty
// entrypoint overrides the engine's default decision path.
func WithPolicyGuard(engine *policy.Engine, entrypoint string) Option {
	return func(a *App) {
		a.policyEngine = engine
		a.policyEntrypoint = entrypoint
	}
}

// New builds an App named name. It loads settings (unless supplied),
// configures logging, assembles the middleware stack, and registers the
// health and metrics endpoints.
func New(name string, opts ...Option) (*App, error) {
	if name == "" {
		return nil, errors.New("app name must not be empty")
	}

	a := &App{name: name}
	for _, opt := range opts {
		opt(a)
	}

	if a.settings == nil {
		loaded, err := settings.Load(settings.Options{})
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		a.settings = loaded
	}
	if a.manager == nil {
		a.manager = lifecycle.NewManager()
	}
	if a.allowedOrigins == nil {
		a.allowedOrigins = a.settings.StringSlice("allowed_origins", nil)
	}

	logging.Configure(logging.Config{
		Level:   a.settings.String("log_level", "info"),
		Debug:   a.settings.Bool("debug", false),
		Service: a.name,
	})

	a.router = a.buildRouter()
	return a, nil
}

// Router exposes the underlying chi router for route registration.
func (a *App) Router() chi.Router { return a.router }

// Settings exposes the resolved settings snapshot.
func (a *App) Settings() *settings.Settings { return a.settings }

// Lifecycle exposes the app's lifecycle manager for registrations.
func (a *App) Lifecycle() *lifecycle.Manager { return a.manager }

func (a *App) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Order matters: the recoverer must wrap everything, the request ID must
	// be bound before anything logs, and the access log must observe the
	// final status after rate limiting and policy checks.
	r.Use(middleware.Recoverer())
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(a.allowedOrigins))
	r.Use(middleware.Metrics())
	if a.tracingService != "" {
		r.Use(middleware.Tracing(a.tracingService))
	}
	r.Use(middleware.AccessLog("/health", "/metrics"))
	if a.rateRPS > 0 {
		r.Use(middleware.RateLimit(a.rateRPS, a.rateBurst))
	}
	if a.policyEngine != nil {
		r.Use(policy.MiddlewareAt(a.policyEngine, a.policyEntrypoint))
	}
	r.Use(a.manager.Middleware())

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	for _, fn := range a.userRouters {
		fn(r)
	}
	return r
}

// Run starts the service and blocks until ctx is cancelled or the listener
// fails. It starts lifecycle objects, runs startup hooks, serves HTTP (TLS
// when settings provide a certificate), then drains connections, runs
// shutdown hooks, and tears lifecycle objects down in reverse order.
func (a *App) Run(ctx context.Context) error {
	log := logging.Base()

	shutdownTracing := func(context.Context) error { return nil }
	if a.tracingService != "" {
		var err error
		shutdownTracing, err = telemetry.SetupProvider(ctx, telemetry.Config{
			ServiceName: a.tracingService,
			Endpoint:    a.settings.String("otlp_endpoint", ""),
			Environment: a.settings.String("environment", "development"),
			Insecure:    a.settings.Bool("otlp_insecure", true),
		})
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
	}

	if err := a.manager.Startup(ctx); err != nil {
		return fmt.Errorf("lifecycle startup: %w", err)
	}

	log.Info().
		Str("service", a.name).
		Str("description", a.description).
		Str("version", a.settings.String("version", version.Version)).
		Bool("debug", a.settings.Bool("debug", false)).
		Int("routes", a.routeCount()).
		Msg("starting application")

	for _, hook := range a.startupHooks {
		if err := hook(ctx); err != nil {
			// Lifecycle objects are already up; unwind them before failing.
			return errors.Join(fmt.Errorf("startup hook: %w", err), a.shutdown(shutdownTracing, false))
		}
	}

	addr := a.settings.String("listen_addr", defaultListenAddr)
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	certFile := a.settings.String("tls.cert_file", "")
	keyFile := a.settings.String("tls.key_file", "")
	if certFile != "" {
		a.server.TLSConfig = &tls.Config{MinVersion: tlsMinVersion(a.settings.String("tls.min_version", "1.2"))}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" {
			log.Info().Str("addr", addr).Msg("listening with TLS")
			err = a.server.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Info().Str("addr", addr).Msg("listening")
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		// The listener is gone; unwind hooks and lifecycle objects, but
		// there are no connections left to drain.
		cleanupErr := a.shutdown(shutdownTracing, false)
		if err != nil {
			return errors.Join(fmt.Errorf("serve: %w", err), cleanupErr)
		}
		return cleanupErr
	case <-ctx.Done():
	}

	return a.shutdown(shutdownTracing, true)
}

func (a *App) shutdown(shutdownTracing func(context.Context) error, drainServer bool) error {
	log := logging.Base()
	timeout := a.settings.Duration("shutdown_timeout", defaultShutdownTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info().Dur("timeout", timeout).Msg("shutting down")

	var errs []error
	if drainServer {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain connections: %w", err))
		}
	}
	for _, hook := range a.shutdownHooks {
		if err := hook(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown hook: %w", err))
		}
	}
	if err := a.manager.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("lifecycle shutdown: %w", err))
	}
	if err := shutdownTracing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush traces: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) routeCount() int {
	count := 0
	_ = chi.Walk(a.router, func(string, string, http.Handler, ...func(http.Handler) http.Handler) error {
		count++
		return nil
	})
	return count
}

func tlsMinVersion(v string) uint16 {
	switch v {
	case "1.3":
		return tls.VersionTLS13
	default:
		return tls.VersionTLS12
	}
}

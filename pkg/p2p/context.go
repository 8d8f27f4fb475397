// Package p2p is a tag-matched point-to-point messaging core. A process-wide
// TransportContext owns the native transport; Workers drive progress, hand
// out their address and post receives; Endpoints connect to a remote
// worker's address and post sends; every submission returns a Request that
// completes as the owning worker makes progress.
package p2p

import (
    "fmt"
    "strings"
    "sync"

    "go.uber.org/zap"

    "ucxp2p/pkg/config"
    "ucxp2p/pkg/native"
    "ucxp2p/pkg/native/sim"
    "ucxp2p/pkg/native/ucx"
    "ucxp2p/pkg/observability"
)

// TransportContext owns one initialized native context.
type TransportContext struct {
    native   native.Context
    provider string
    config   native.Config
    log      *zap.Logger

    mu      sync.Mutex
    workers int
    closed  bool
}

type options struct {
    log      *zap.Logger
    provider native.Provider
}

// Option configures NewTransportContext.
type Option func(*options)

// WithLogger sets the logger for the context and everything built on it.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithProvider bypasses cfg.Provider and uses p.
func WithProvider(p native.Provider) Option { return func(o *options) { o.provider = p } }

// NewTransportContext reads native configuration under cfg.EnvPrefix,
// applies cfg's overrides and initializes the provider for tag matching
// with workers shared between goroutines.
func NewTransportContext(cfg config.TransportConfig, opts ...Option) (*TransportContext, error) {
    var o options
    for _, opt := range opts { opt(&o) }
    log := observability.Or(o.log).Named("p2p")

    p := o.provider
    if p == nil {
        var err error
        if p, err = providerFor(cfg.Provider, log); err != nil { return nil, err }
    }

    overrides := cfg.Options
    if p.Name() == "sim" { overrides = cfg.SimOptions() }
    ncfg, st := p.ReadConfig(cfg.EnvPrefix, overrides)
    if st != native.StatusOK { return nil, transportError("config_read", st) }

    nctx, st := p.Init(native.Params{
        Features:        native.FeatureTag,
        Name:            "ucxp2p",
        MTWorkersShared: true,
    }, ncfg)
    if st != native.StatusOK { return nil, transportError("init", st) }

    log.Info("transport context initialized", zap.String("provider", p.Name()), zap.String("env_prefix", cfg.EnvPrefix))
    return &TransportContext{native: nctx, provider: p.Name(), config: ncfg, log: log}, nil
}

func providerFor(name string, log *zap.Logger) (native.Provider, error) {
    switch name {
    case "", "sim":
        return sim.New(sim.WithLogger(log)), nil
    case "ucx":
        p, err := ucx.New(ucx.WithLogger(log))
        if err != nil { return nil, fmt.Errorf("p2p: ucx provider: %w", err) }
        return p, nil
    default:
        return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
    }
}

// Provider returns the name of the native provider in use.
func (c *TransportContext) Provider() string { return c.provider }

// Option returns the resolved native configuration value of key, after
// overrides, the environment namespace and provider defaults were applied.
func (c *TransportContext) Option(key string) (string, bool) {
    v, ok := c.config.Options[strings.ToUpper(key)]
    return v, ok
}

// Close releases the native context. It fails with ErrContextInUse while
// any worker built on it is alive, and is a no-op once it succeeded.
func (c *TransportContext) Close() error {
    c.mu.Lock()
    defer c.mu.Unlock()
    if c.closed { return nil }
    if c.workers > 0 { return ErrContextInUse }
    c.closed = true
    c.native.Cleanup()
    c.log.Info("transport context released")
    return nil
}

func (c *TransportContext) workerGone() {
    c.mu.Lock(); c.workers--; c.mu.Unlock()
}

var (
    defaultOnce sync.Once
    defaultCtx  *TransportContext
    defaultErr  error

    shutdownMu   sync.Mutex
    shutdownDone bool
)

// GetContext returns the process-wide context, building it on first use
// from config.Load(""). A failure is permanent: later calls return the
// same error.
func GetContext() (*TransportContext, error) {
    defaultOnce.Do(func() {
        cfg, err := config.Load("")
        if err != nil {
            defaultErr = fmt.Errorf("p2p: load config: %w", err)
            return
        }
        defaultCtx, defaultErr = NewTransportContext(cfg.Transport)
    })
    return defaultCtx, defaultErr
}

// Shutdown releases the process-wide context. Call it once every worker is
// closed, typically at the end of main. It is safe to call more than once
// and prevents a later GetContext from building a new context.
func Shutdown() error {
    shutdownMu.Lock()
    defer shutdownMu.Unlock()
    if shutdownDone { return nil }
    defaultOnce.Do(func() { defaultErr = ErrContextClosed })
    if defaultCtx != nil {
        if err := defaultCtx.Close(); err != nil { return err }
    }
    shutdownDone = true
    return nil
}

// NewWorker creates a worker on the process-wide context.
func NewWorker() (*Worker, error) {
    c, err := GetContext()
    if err != nil { return nil, err }
    return c.NewWorker()
}

// Package sim is a pure-Go native provider. Workers listen on a link fabric
// from pkg/transport (in-process pipes, TCP, QUIC or named pipes), endpoints
// carry tagged messages as protocol envelopes, and matching happens inside
// Worker.Progress the way a hardware tag-matching engine would report it.
package sim

import (
    "sync"

    "go.uber.org/zap"

    "ucxp2p/pkg/native"
    "ucxp2p/pkg/observability"
)

// Provider implements native.Provider.
type Provider struct {
    log *zap.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger used by contexts, workers and endpoints.
func WithLogger(l *zap.Logger) Option { return func(p *Provider) { p.log = l } }

func New(opts ...Option) *Provider {
    p := &Provider{}
    for _, o := range opts { o(p) }
    p.log = observability.Or(p.log).Named("sim")
    return p
}

func (p *Provider) Name() string { return "sim" }

func (p *Provider) ReadConfig(prefix string, overrides map[string]string) (native.Config, native.Status) {
    return readConfig(prefix, overrides)
}

func (p *Provider) Init(params native.Params, cfg native.Config) (native.Context, native.Status) {
    if params.Features&native.FeatureTag == 0 { return nil, native.StatusErrUnsupported }
    s, err := parseSettings(cfg)
    if err != nil {
        p.log.Warn("invalid configuration", zap.Error(err))
        return nil, native.StatusErrInvalidParam
    }
    p.log.Debug("context initialized",
        zap.String("name", params.Name),
        zap.Stringer("fabric", s.fabric),
        zap.Int("inject_threshold", s.injectThreshold),
        zap.Int("fragment_size", s.fragmentSize))
    return &simContext{params: params, cfg: s, log: p.log}, native.StatusOK
}

type simContext struct {
    params native.Params
    cfg    settings
    log    *zap.Logger

    mu      sync.Mutex
    cleaned bool
}

func (c *simContext) NewWorker(wp native.WorkerParams) (native.Worker, native.Status) {
    c.mu.Lock()
    cleaned := c.cleaned
    c.mu.Unlock()
    if cleaned { return nil, native.StatusErrInvalidParam }
    return newWorker(c, wp)
}

func (c *simContext) Cleanup() {
    c.mu.Lock(); c.cleaned = true; c.mu.Unlock()
}

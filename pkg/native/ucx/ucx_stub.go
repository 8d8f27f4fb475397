//go:build !ucx

package ucx

import "ucxp2p/pkg/native"

// Provider is unavailable in this build.
type Provider struct{}

// New returns ErrNotAvailable on builds without the ucx tag.
func New(opts ...Option) (*Provider, error) { return nil, ErrNotAvailable }

func (p *Provider) Name() string { return "ucx" }

func (p *Provider) ReadConfig(string, map[string]string) (native.Config, native.Status) {
    return native.Config{}, native.StatusErrUnsupported
}

func (p *Provider) Init(native.Params, native.Config) (native.Context, native.Status) {
    return nil, native.StatusErrUnsupported
}

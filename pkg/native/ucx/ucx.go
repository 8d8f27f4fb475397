// Package ucx binds the native provider API to libucp. The binding is built
// only with the `ucx` build tag and a UCX installation visible to cgo
// (point CGO_CFLAGS/CGO_LDFLAGS at it when it is not under /usr); without
// the tag New reports ErrNotAvailable.
package ucx

import (
    "errors"

    "go.uber.org/zap"
)

// ErrNotAvailable is returned by New when the binary was built without UCX.
var ErrNotAvailable = errors.New("ucx: provider not built in (rebuild with -tags ucx)")

type options struct {
    log *zap.Logger
}

// Option configures a Provider.
type Option func(*options)

// WithLogger sets the logger used by the provider.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

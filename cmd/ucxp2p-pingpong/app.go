package main

import (
    "context"
    "fmt"
    "io"
    "strings"
    "time"

    "go.uber.org/zap"

    "ucxp2p/pkg/bootstrap"
    "ucxp2p/pkg/config"
    "ucxp2p/pkg/native/sim"
    "ucxp2p/pkg/observability"
    "ucxp2p/pkg/p2p"
    "ucxp2p/pkg/protocol"
    "ucxp2p/pkg/transport/tcp"
)

// run is the main entry point after CLI parsing.
func run(ctx context.Context, opts Options, out io.Writer) error {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil { return fmt.Errorf("failed to load config: %w", err) }
    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil { return fmt.Errorf("failed to setup logger: %w", err) }
    defer func() { _ = logger.Sync() }()

    tctx, err := p2p.NewTransportContext(cfg.Transport, p2p.WithLogger(logger))
    if err != nil { return err }
    defer func() {
        if err := tctx.Close(); err != nil { logger.Warn("transport context not released", zap.Error(err)) }
    }()
    if fabric, _ := tctx.Option(sim.KeyFabric); !opts.Local && tctx.Provider() == "sim" && strings.EqualFold(fabric, "mem") {
        return fmt.Errorf("sim fabric %q only reaches workers in this process; use --local or another fabric", fabric)
    }
    logger.Info("ucxp2p-pingpong started",
        zap.String("provider", tctx.Provider()),
        zap.Bool("local", opts.Local),
        zap.Int("rank", opts.Rank),
        zap.Int("size", opts.Size),
        zap.Int("msg_size", opts.MsgSize))

    closeTimeout := time.Duration(cfg.Transport.CloseTimeoutMS) * time.Millisecond
    if opts.Local { return runLocal(ctx, tctx, opts, closeTimeout, logger, out) }
    return runRank(ctx, tctx, cfg.Bootstrap, opts, closeTimeout, logger, out)
}

// runLocal plays rank 0 and rank 1 on two workers of one context.
func runLocal(ctx context.Context, tctx *p2p.TransportContext, opts Options, closeTimeout time.Duration, log *zap.Logger, out io.Writer) error {
    w0, err := tctx.NewWorker()
    if err != nil { return err }
    defer w0.Close()
    w1, err := tctx.NewWorker()
    if err != nil { return err }
    defer w1.Close()

    a0, err := w0.Address()
    if err != nil { return err }
    a1, err := w1.Address()
    if err != nil { return err }
    ep01, err := w0.Connect(a1)
    if err != nil { return err }
    defer closeEndpoint(ep01, closeTimeout, log)
    ep10, err := w1.Connect(a0)
    if err != nil { return err }
    defer closeEndpoint(ep10, closeTimeout, log)

    lctx, cancel := context.WithCancel(ctx)
    defer cancel()
    pong := make(chan error, 1)
    go func() { pong <- respond(lctx, pair{w: w1, ep: ep10, self: 1, peer: 0}, opts) }()

    st, err := initiate(lctx, pair{w: w0, ep: ep01, self: 0, peer: 1}, opts)
    if err != nil { cancel() }
    if perr := <-pong; err == nil { err = perr }
    if err != nil { return err }
    st.report(out, 1, opts)
    return nil
}

// runRank exchanges addresses, then rank 0 measures every peer in turn
// while the others echo.
func runRank(ctx context.Context, tctx *p2p.TransportContext, bc config.BootstrapConfig, opts Options, closeTimeout time.Duration, log *zap.Logger, out io.Writer) error {
    w, err := tctx.NewWorker()
    if err != nil { return err }
    defer w.Close()
    self, err := w.Address()
    if err != nil { return err }

    format, err := protocol.ParseFormat(bc.Format)
    if err != nil { return err }
    addr := opts.Bootstrap
    if addr == "" { addr = bc.Listen }
    bctx, cancel := withTimeout(ctx, time.Duration(bc.TimeoutMS)*time.Millisecond)
    bopts := []bootstrap.Option{bootstrap.WithFormat(format), bootstrap.WithLogger(log)}
    var book bootstrap.Book
    if opts.Rank == 0 {
        book, err = bootstrap.Serve(bctx, tcp.New(), addr, opts.Size, self, bopts...)
    } else {
        book, err = bootstrap.Join(bctx, tcp.New(), addr, opts.Rank, self, bopts...)
    }
    cancel()
    if err != nil { return err }

    if opts.Rank != 0 {
        remote, err := book.Address(0)
        if err != nil { return err }
        ep, err := w.Connect(remote)
        if err != nil { return err }
        defer closeEndpoint(ep, closeTimeout, log)
        return respond(ctx, pair{w: w, ep: ep, self: uint32(opts.Rank), peer: 0}, opts)
    }

    for r := 1; r < book.Size(); r++ {
        remote, err := book.Address(r)
        if err != nil { return err }
        ep, err := w.Connect(remote)
        if err != nil { return err }
        st, err := initiate(ctx, pair{w: w, ep: ep, self: 0, peer: uint32(r)}, opts)
        closeEndpoint(ep, closeTimeout, log)
        if err != nil { return fmt.Errorf("rank %d: %w", r, err) }
        st.report(out, r, opts)
    }
    return nil
}

func closeEndpoint(ep *p2p.Endpoint, timeout time.Duration, log *zap.Logger) {
    ctx, cancel := withTimeout(context.Background(), timeout)
    defer cancel()
    if err := ep.CloseContext(ctx); err != nil { log.Warn("endpoint close", zap.Error(err)) }
}

// withTimeout treats a non-positive d as no limit.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
    if d <= 0 { return context.WithCancel(ctx) }
    return context.WithTimeout(ctx, d)
}

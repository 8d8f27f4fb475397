package p2p

import (
    "context"
    "runtime"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "go.uber.org/zap/zaptest/observer"

    "ucxp2p/pkg/config"
    "ucxp2p/pkg/native"
)

func scriptedContext(t *testing.T, p *fakeProvider) (*TransportContext, *observer.ObservedLogs) {
    t.Helper()
    core, logs := observer.New(zapcore.DebugLevel)
    c, err := NewTransportContext(config.DefaultTransport(), WithProvider(p), WithLogger(zap.New(core)))
    require.NoError(t, err)
    assert.Equal(t, "fake", c.Provider())
    return c, logs
}

func TestContextTornDownOnce(t *testing.T) {
    p := &fakeProvider{}
    c, _ := scriptedContext(t, p)
    w, err := c.NewWorker()
    require.NoError(t, err)

    assert.ErrorIs(t, c.Close(), ErrContextInUse)
    assert.Zero(t, p.cleanups.Load())
    require.NoError(t, w.Close())
    assert.Equal(t, int64(1), p.destroyed.Load())
    require.NoError(t, c.Close())
    require.NoError(t, c.Close())
    assert.Equal(t, int64(1), p.cleanups.Load())
}

func TestSubmissionOutcomes(t *testing.T) {
    p := &fakeProvider{}
    c, _ := scriptedContext(t, p)
    w, err := c.NewWorker()
    require.NoError(t, err)
    ep, err := w.Connect([]byte("peer"))
    require.NoError(t, err)

    // done at submission
    p.submitStatus = native.StatusOK
    r, err := ep.SendWithTag([]byte("abc"), 1, DeviceCPU)
    require.NoError(t, err)
    assert.True(t, r.Completed())
    assert.Equal(t, 3, r.Length())
    r.Free()

    // not started
    p.submitStatus = native.StatusErrNoResource
    r, err = w.RecvWithTag(make([]byte, 8), 1, DeviceCPU)
    assert.Nil(t, r)
    assert.ErrorIs(t, err, native.StatusErrNoResource.Err())

    // in progress without a handle is a provider bug
    p.submitStatus = native.StatusInProgress
    r, err = ep.SendWithTag([]byte("abc"), 1, DeviceCPU)
    assert.Nil(t, r)
    var te *TransportError
    require.ErrorAs(t, err, &te)
    assert.Equal(t, native.StatusErrIOError, te.Status)

    // pending: one progress step at submission, the handle held until Free
    nreq := newFakeRequest()
    p.submitReq = nreq
    before := p.progressed.Load()
    r, err = ep.SendWithTag([]byte("abc"), 1, DeviceCPU)
    require.NoError(t, err)
    assert.False(t, r.Completed())
    assert.Equal(t, before+1, p.progressed.Load())
    r.Free()
    r.Free()
    assert.Equal(t, int32(1), nreq.freed.Load())

    p.closeStatus = native.StatusOK
    require.NoError(t, ep.Close())
    require.NoError(t, w.Close())
    assert.Equal(t, int64(1), p.destroyed.Load())
    require.NoError(t, c.Close())
}

func TestCloseContextExpiresAndResumes(t *testing.T) {
    p := &fakeProvider{closeStatus: native.StatusInProgress, closeReq: newFakeRequest()}
    c, _ := scriptedContext(t, p)
    w, err := c.NewWorker()
    require.NoError(t, err)
    ep, err := w.Connect([]byte("peer"))
    require.NoError(t, err)

    ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
    defer cancel()
    start := time.Now()
    assert.ErrorIs(t, ep.CloseContext(ctx), context.DeadlineExceeded)
    assert.Less(t, time.Since(start), 2*time.Second)
    assert.Positive(t, p.progressed.Load())

    _, err = ep.SendWithTag([]byte("x"), 1, DeviceCPU)
    assert.ErrorIs(t, err, ErrEndpointClosed)

    p.closeReq.status.Store(int32(native.StatusOK))
    require.NoError(t, ep.Close())
    assert.Equal(t, int32(1), p.closeReq.freed.Load())

    require.NoError(t, w.Close())
    require.NoError(t, c.Close())
}

func TestCloseFailureSurfacesAndWarnsOnce(t *testing.T) {
    p := &fakeProvider{closeStatus: native.StatusErrConnectionReset}
    c, logs := scriptedContext(t, p)
    w, err := c.NewWorker()
    require.NoError(t, err)
    ep, err := w.Connect([]byte("peer"))
    require.NoError(t, err)

    err = ep.Close()
    assert.ErrorIs(t, err, native.StatusErrConnectionReset.Err())
    require.NoError(t, ep.Close())
    assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())

    require.NoError(t, w.Close())
    require.NoError(t, c.Close())
}

func TestPendingCloseFailureIsReturned(t *testing.T) {
    req := newFakeRequest()
    req.status.Store(int32(native.StatusErrTimedOut))
    p := &fakeProvider{closeStatus: native.StatusInProgress, closeReq: req}
    c, _ := scriptedContext(t, p)
    w, err := c.NewWorker()
    require.NoError(t, err)
    ep, err := w.Connect([]byte("peer"))
    require.NoError(t, err)

    assert.ErrorIs(t, ep.Close(), native.StatusErrTimedOut.Err())
    assert.Equal(t, int32(1), req.freed.Load())
    require.NoError(t, w.Close())
    require.NoError(t, c.Close())
}

func TestConnectFailureReleasesWorker(t *testing.T) {
    p := &fakeProvider{}
    c, _ := scriptedContext(t, p)
    w, err := c.NewWorker()
    require.NoError(t, err)

    _, err = w.Connect(nil)
    assert.ErrorIs(t, err, native.StatusErrInvalidAddr.Err())
    require.NoError(t, w.Close())
    assert.Equal(t, int64(1), p.destroyed.Load())
    require.NoError(t, c.Close())
}

func TestUnreferencedEndpointIsClosed(t *testing.T) {
    p := &fakeProvider{closeStatus: native.StatusOK}
    c, _ := scriptedContext(t, p)
    w, err := c.NewWorker()
    require.NoError(t, err)

    func() {
        _, err := w.Connect([]byte("peer"))
        require.NoError(t, err)
    }()
    require.NoError(t, w.Close())

    deadline := time.Now().Add(5 * time.Second)
    for p.destroyed.Load() == 0 {
        require.True(t, time.Now().Before(deadline), "finalizer never closed the endpoint")
        runtime.GC()
        time.Sleep(10 * time.Millisecond)
    }
    require.NoError(t, c.Close())
}

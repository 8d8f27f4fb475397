package sim

import (
    "bytes"
    "crypto/rand"
    "runtime"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap/zaptest"

    "ucxp2p/pkg/native"
)

type outcome struct {
    status native.Status
    info   *native.TagRecvInfo
}

func param(ch chan outcome, size int) *native.RequestParam {
    return &native.RequestParam{
        Callback:   func(st native.Status, info *native.TagRecvInfo) { ch <- outcome{st, info} },
        Datatype:   native.Contig(size),
        MemoryType: native.MemoryTypeHost,
    }
}

func newTestContext(t *testing.T, overrides map[string]string) native.Context {
    t.Helper()
    p := New(WithLogger(zaptest.NewLogger(t)))
    cfg, st := p.ReadConfig("UCXP2PTEST", overrides)
    require.Equal(t, native.StatusOK, st)
    ctx, st := p.Init(native.Params{Features: native.FeatureTag, Name: t.Name()}, cfg)
    require.Equal(t, native.StatusOK, st)
    t.Cleanup(ctx.Cleanup)
    return ctx
}

func startWorker(t *testing.T, ctx native.Context) native.Worker {
    t.Helper()
    w, st := ctx.NewWorker(native.WorkerParams{ThreadMode: native.ThreadModeMulti})
    require.Equal(t, native.StatusOK, st)
    t.Cleanup(w.Destroy)
    return w
}

func connect(t *testing.T, from, to native.Worker) native.Endpoint {
    t.Helper()
    addr, st := to.Address()
    require.Equal(t, native.StatusOK, st)
    require.NotEmpty(t, addr)
    ep, st := from.NewEndpoint(native.EndpointParams{RemoteAddress: addr})
    require.Equal(t, native.StatusOK, st)
    return ep
}

func await(t *testing.T, w native.Worker, ch <-chan outcome) outcome {
    t.Helper()
    deadline := time.Now().Add(10 * time.Second)
    for time.Now().Before(deadline) {
        w.Progress()
        select {
        case o := <-ch:
            return o
        default:
            runtime.Gosched()
        }
    }
    t.Fatal("timed out waiting for completion")
    return outcome{}
}

func awaitStatus(t *testing.T, w native.Worker, r native.Request) native.Status {
    t.Helper()
    deadline := time.Now().Add(10 * time.Second)
    for r.Status() == native.StatusInProgress {
        if time.Now().After(deadline) { t.Fatal("timed out waiting for request") }
        w.Progress()
        runtime.Gosched()
    }
    return r.Status()
}

func TestReadConfig(t *testing.T) {
    t.Setenv("SIMCFG_SIM_FABRIC", "tcp")
    p := New()

    cfg, st := p.ReadConfig("SIMCFG", map[string]string{"sim_inject_threshold": "16", "TLS": "rc"})
    require.Equal(t, native.StatusOK, st)
    assert.Equal(t, "tcp", cfg.Options[KeyFabric])
    assert.Equal(t, "16", cfg.Options[KeyInjectThreshold])
    assert.NotContains(t, cfg.Options, "TLS")

    _, st = p.ReadConfig("SIMCFG", map[string]string{KeyFragmentSize: "zero"})
    assert.Equal(t, native.StatusErrInvalidParam, st)
    _, st = p.ReadConfig("SIMCFG", map[string]string{"SIM_BOGUS": "1"})
    assert.Equal(t, native.StatusErrNoElem, st)
    _, st = p.ReadConfig("SIMCFG", map[string]string{KeyMemoryTypes: "host,tpu"})
    assert.Equal(t, native.StatusErrInvalidParam, st)

    _, st = p.Init(native.Params{Features: native.FeatureRMA}, cfg)
    assert.Equal(t, native.StatusErrUnsupported, st)
}

func TestAddressRoundTrip(t *testing.T) {
    ctx := newTestContext(t, nil)
    w := startWorker(t, ctx)
    addr, st := w.Address()
    require.Equal(t, native.StatusOK, st)

    a, ok := decodeAddress(addr)
    require.True(t, ok)
    assert.Equal(t, "mem", a.Fabric)
    assert.Equal(t, w.(*worker).id, a.Worker)

    addr[0] ^= 0xff
    again, _ := w.Address()
    assert.NotEqual(t, addr, again, "Address must return an owned copy")

    _, ok = decodeAddress([]byte("garbage"))
    assert.False(t, ok)
}

func TestRoundTrip(t *testing.T) {
    for _, fabric := range []string{"mem", "tcp"} {
        t.Run(fabric, func(t *testing.T) {
            ctx := newTestContext(t, map[string]string{KeyFabric: fabric})
            w1, w2 := startWorker(t, ctx), startWorker(t, ctx)
            ep := connect(t, w2, w1)

            recvCh := make(chan outcome, 1)
            buf := make([]byte, 5)
            rreq, st := w1.TagRecv(buf, 7, ^uint64(0), param(recvCh, len(buf)))
            require.Equal(t, native.StatusInProgress, st)
            require.NotNil(t, rreq)

            sreq, st := ep.TagSend([]byte("hello"), 7, param(make(chan outcome, 1), 5))
            require.Equal(t, native.StatusOK, st, "small sends complete at submission")
            require.Nil(t, sreq)

            o := await(t, w1, recvCh)
            assert.Equal(t, native.StatusOK, o.status)
            assert.Equal(t, uint64(7), o.info.SenderTag)
            assert.Equal(t, 5, o.info.Length)
            assert.Equal(t, "hello", string(buf))
            assert.Equal(t, native.StatusOK, rreq.Status())
            rreq.Free()
        })
    }
}

func TestTruncationStaysInsideBuffer(t *testing.T) {
    ctx := newTestContext(t, nil)
    w1, w2 := startWorker(t, ctx), startWorker(t, ctx)
    ep := connect(t, w2, w1)

    backing := []byte("....GUARD")
    ch := make(chan outcome, 1)
    _, st := w1.TagRecv(backing[:4], 3, ^uint64(0), param(ch, 4))
    require.Equal(t, native.StatusInProgress, st)

    _, st = ep.TagSend([]byte("hello world"), 3, nil)
    require.Equal(t, native.StatusOK, st)

    o := await(t, w1, ch)
    assert.Equal(t, native.StatusErrMessageTruncated, o.status)
    assert.Equal(t, 4, o.info.Length)
    assert.Equal(t, "hellGUARD", string(backing))
}

func TestFragmentedMessage(t *testing.T) {
    ctx := newTestContext(t, map[string]string{KeyFragmentSize: "1024", KeyInjectThreshold: "0"})
    w1, w2 := startWorker(t, ctx), startWorker(t, ctx)
    ep := connect(t, w2, w1)

    payload := make([]byte, 100_000)
    _, _ = rand.Read(payload)

    sendCh := make(chan outcome, 1)
    sreq, st := ep.TagSend(payload, 11, param(sendCh, len(payload)))
    require.Equal(t, native.StatusInProgress, st)
    require.NotNil(t, sreq)

    got := make([]byte, len(payload))
    recvCh := make(chan outcome, 1)
    _, st = w1.TagRecv(got, 11, ^uint64(0), param(recvCh, len(got)))
    require.Equal(t, native.StatusInProgress, st)

    assert.Equal(t, native.StatusOK, await(t, w2, sendCh).status)
    o := await(t, w1, recvCh)
    assert.Equal(t, native.StatusOK, o.status)
    assert.True(t, bytes.Equal(payload, got))
}

func TestUnexpectedMessagesMatchInArrivalOrder(t *testing.T) {
    ctx := newTestContext(t, nil)
    w1, w2 := startWorker(t, ctx), startWorker(t, ctx)
    ep := connect(t, w2, w1)

    _, st := ep.TagSend([]byte("one"), 1, nil)
    require.Equal(t, native.StatusOK, st)
    _, st = ep.TagSend([]byte("two"), 1, nil)
    require.Equal(t, native.StatusOK, st)
    _, st = ep.TagSend([]byte("other"), 2, nil)
    require.Equal(t, native.StatusOK, st)

    // let both messages land in the unexpected queue
    deadline := time.Now().Add(5 * time.Second)
    for {
        w1.Progress()
        inner := w1.(*worker)
        inner.mu.Lock()
        n := len(inner.unexpected)
        inner.mu.Unlock()
        if n == 3 { break }
        require.True(t, time.Now().Before(deadline), "messages never arrived")
        runtime.Gosched()
    }

    a, b := make([]byte, 3), make([]byte, 3)
    chA, chB := make(chan outcome, 1), make(chan outcome, 1)
    _, _ = w1.TagRecv(a, 1, ^uint64(0), param(chA, 3))
    _, _ = w1.TagRecv(b, 1, ^uint64(0), param(chB, 3))
    await(t, w1, chA)
    await(t, w1, chB)
    assert.Equal(t, "one", string(a))
    assert.Equal(t, "two", string(b))

    // masked receive: only the low byte is compared
    c := make([]byte, 5)
    chC := make(chan outcome, 1)
    _, _ = w1.TagRecv(c, 0xabcd02, 0xff, param(chC, 5))
    o := await(t, w1, chC)
    assert.Equal(t, uint64(2), o.info.SenderTag)
    assert.Equal(t, "other", string(c))
}

func TestSubmissionErrors(t *testing.T) {
    ctx := newTestContext(t, map[string]string{KeyMaxMessage: "64"})
    w1, w2 := startWorker(t, ctx), startWorker(t, ctx)
    ep := connect(t, w2, w1)

    req, st := ep.TagSend(make([]byte, 8), 1, &native.RequestParam{MemoryType: native.MemoryTypeCUDA})
    assert.Nil(t, req)
    assert.Equal(t, native.StatusErrUnsupported, st)

    req, st = w1.TagRecv(make([]byte, 8), 1, ^uint64(0), &native.RequestParam{MemoryType: native.MemoryTypeROCm})
    assert.Nil(t, req)
    assert.Equal(t, native.StatusErrUnsupported, st)

    req, st = ep.TagSend(make([]byte, 65), 1, nil)
    assert.Nil(t, req)
    assert.Equal(t, native.StatusErrExceedsLimit, st)

    req, st = ep.TagSend(make([]byte, 4), 1, &native.RequestParam{Datatype: native.Contig(8)})
    assert.Nil(t, req)
    assert.Equal(t, native.StatusErrInvalidParam, st)

    _, st = w2.NewEndpoint(native.EndpointParams{RemoteAddress: []byte{1, 2, 3}})
    assert.Equal(t, native.StatusErrInvalidAddr, st)

    req, st = ep.Close(native.CloseFlush)
    assert.Nil(t, req)
    assert.Equal(t, native.StatusOK, st)
    _, st = ep.TagSend([]byte("late"), 1, nil)
    assert.Equal(t, native.StatusErrNotConnected, st)
}

func TestMemoryTypesConfigurable(t *testing.T) {
    ctx := newTestContext(t, map[string]string{KeyMemoryTypes: "host,cuda"})
    w1, w2 := startWorker(t, ctx), startWorker(t, ctx)
    ep := connect(t, w2, w1)

    ch := make(chan outcome, 1)
    buf := make([]byte, 3)
    _, st := w1.TagRecv(buf, 5, ^uint64(0), &native.RequestParam{Callback: param(ch, 3).Callback, MemoryType: native.MemoryTypeCUDA})
    require.Equal(t, native.StatusInProgress, st)
    _, st = ep.TagSend([]byte("gpu"), 5, &native.RequestParam{MemoryType: native.MemoryTypeCUDA})
    require.Equal(t, native.StatusOK, st)
    assert.Equal(t, native.StatusOK, await(t, w1, ch).status)
    assert.Equal(t, "gpu", string(buf))
}

func TestCloseFlushWaitsForQueuedSend(t *testing.T) {
    ctx := newTestContext(t, map[string]string{KeyInjectThreshold: "0", KeyFragmentSize: "4096"})
    w1, w2 := startWorker(t, ctx), startWorker(t, ctx)
    ep := connect(t, w2, w1)

    payload := bytes.Repeat([]byte{0x5a}, 256<<10)
    sendCh := make(chan outcome, 1)
    _, st := ep.TagSend(payload, 9, param(sendCh, len(payload)))
    require.Equal(t, native.StatusInProgress, st)

    // the send completion has not been delivered, so the close cannot finish yet
    creq, st := ep.Close(native.CloseFlush)
    require.Equal(t, native.StatusInProgress, st)
    require.NotNil(t, creq)
    assert.Equal(t, native.StatusOK, awaitStatus(t, w2, creq))
    creq.Free()
    // delivered before the close completed
    select {
    case o := <-sendCh:
        assert.Equal(t, native.StatusOK, o.status)
    default:
        t.Fatal("close completed before the send")
    }

    got := make([]byte, len(payload))
    recvCh := make(chan outcome, 1)
    _, _ = w1.TagRecv(got, 9, ^uint64(0), param(recvCh, len(got)))
    assert.Equal(t, native.StatusOK, await(t, w1, recvCh).status)
    assert.True(t, bytes.Equal(payload, got))

    // the worker keeps serving new endpoints
    ep2 := connect(t, w2, w1)
    req, st := ep2.Close(native.CloseFlush)
    assert.Nil(t, req)
    assert.Equal(t, native.StatusOK, st)
}

func TestFreedRequestSkipsCallback(t *testing.T) {
    ctx := newTestContext(t, nil)
    w1, w2 := startWorker(t, ctx), startWorker(t, ctx)
    ep := connect(t, w2, w1)

    called := make(chan outcome, 1)
    freed, st := w1.TagRecv(make([]byte, 2), 4, ^uint64(0), param(called, 2))
    require.Equal(t, native.StatusInProgress, st)
    freed.Free()

    _, _ = ep.TagSend([]byte("hi"), 4, nil)
    assert.Equal(t, native.StatusOK, awaitStatus(t, w1, freed))
    select {
    case <-called:
        t.Fatal("callback ran for a freed request")
    default:
    }
}

func TestDestroyedWorkerIsUnreachable(t *testing.T) {
    ctx := newTestContext(t, nil)
    w1, w2 := startWorker(t, ctx), startWorker(t, ctx)
    addr, _ := w1.Address()
    w1.Destroy()

    _, st := w2.NewEndpoint(native.EndpointParams{RemoteAddress: addr})
    assert.Equal(t, native.StatusErrUnreachable, st)

    ctx.Cleanup()
    _, st = ctx.NewWorker(native.WorkerParams{})
    assert.Equal(t, native.StatusErrInvalidParam, st)
}

package bootstrap

import (
    "context"
    "fmt"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap/zaptest"

    "ucxp2p/pkg/protocol"
    "ucxp2p/pkg/transport"
    "ucxp2p/pkg/transport/mem"
    "ucxp2p/pkg/transport/tcp"
)

func addrOf(rank int) []byte { return []byte(fmt.Sprintf("worker-address-%d", rank)) }

// runJob gathers size ranks through s and returns every rank's book.
func runJob(t *testing.T, ctx context.Context, tr transport.Transport, s *Server, size int, opts ...Option) []Book {
    t.Helper()
    books := make([]Book, size)
    errs := make([]error, size)
    var wg sync.WaitGroup
    wg.Add(1)
    go func() {
        defer wg.Done()
        books[0], errs[0] = s.Gather(ctx, size, addrOf(0))
    }()
    for r := 1; r < size; r++ {
        wg.Add(1)
        go func(r int) {
            defer wg.Done()
            books[r], errs[r] = Join(ctx, tr, s.Addr().String(), r, addrOf(r), opts...)
        }(r)
    }
    wg.Wait()
    for r, err := range errs { require.NoError(t, err, "rank %d", r) }
    return books
}

func TestGatherAndJoinFormats(t *testing.T) {
    for _, f := range []protocol.Format{protocol.FormatCBOR, protocol.FormatJSON, protocol.FormatProto} {
        t.Run(f.String(), func(t *testing.T) {
            ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
            defer cancel()
            tr := mem.New()
            log := zaptest.NewLogger(t)
            s, err := Listen(ctx, tr, "rendezvous", WithFormat(f), WithLogger(log))
            require.NoError(t, err)
            defer s.Close()

            books := runJob(t, ctx, tr, s, 4, WithFormat(f), WithLogger(log))
            for r, b := range books {
                require.Equal(t, 4, b.Size(), "rank %d", r)
                for i := 0; i < 4; i++ {
                    a, err := b.Address(i)
                    require.NoError(t, err)
                    assert.Equal(t, addrOf(i), a)
                }
            }
        })
    }
}

func TestGatherOverTCP(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    tr := tcp.New()
    s, err := Listen(ctx, tr, "127.0.0.1:0", WithLogger(zaptest.NewLogger(t)))
    require.NoError(t, err)
    defer s.Close()

    books := runJob(t, ctx, tr, s, 3)
    assert.Equal(t, books[0], books[1])
    assert.Equal(t, books[0], books[2])
}

func TestServe(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    tr := mem.New()

    done := make(chan Book, 1)
    go func() {
        b, err := Serve(ctx, tr, "serve", 2, addrOf(0))
        assert.NoError(t, err)
        done <- b
    }()

    var book Book
    require.Eventually(t, func() bool {
        b, err := Join(ctx, tr, "serve", 1, addrOf(1))
        if err != nil { return false }
        book = b
        return true
    }, 5*time.Second, 10*time.Millisecond)
    assert.Equal(t, [][]byte{addrOf(0), addrOf(1)}, book.Addresses)
    assert.Equal(t, book, <-done)
}

func TestBadRankIsDropped(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    tr := mem.New()
    s, err := Listen(ctx, tr, "strict", WithLogger(zaptest.NewLogger(t)))
    require.NoError(t, err)
    defer s.Close()

    got := make(chan error, 1)
    go func() {
        _, err := s.Gather(ctx, 2, addrOf(0))
        got <- err
    }()

    _, err = Join(ctx, tr, "strict", 7, addrOf(7))
    assert.Error(t, err)

    b, err := Join(ctx, tr, "strict", 1, addrOf(1))
    require.NoError(t, err)
    assert.Equal(t, 2, b.Size())
    require.NoError(t, <-got)
}

func TestJoinHonorsContext(t *testing.T) {
    tr := tcp.New()
    s, err := Listen(context.Background(), tr, "127.0.0.1:0")
    require.NoError(t, err)
    defer s.Close()

    // nobody gathers, so the book never arrives
    ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
    defer cancel()
    _, err = Join(ctx, tr, s.Addr().String(), 1, addrOf(1))
    assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestArguments(t *testing.T) {
    tr := mem.New()
    s, err := Listen(context.Background(), tr, "args")
    require.NoError(t, err)
    defer s.Close()

    _, err = s.Gather(context.Background(), 0, nil)
    assert.ErrorIs(t, err, ErrBadSize)
    b, err := s.Gather(context.Background(), 1, addrOf(0))
    require.NoError(t, err)
    assert.Equal(t, [][]byte{addrOf(0)}, b.Addresses)
    _, err = b.Address(1)
    assert.ErrorIs(t, err, ErrBadRank)

    _, err = Join(context.Background(), tr, "args", 0, nil)
    assert.ErrorIs(t, err, ErrBadRank)
}

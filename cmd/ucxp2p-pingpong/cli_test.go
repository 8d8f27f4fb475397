package main

import (
    "bytes"
    "context"
    "strings"
    "testing"
    "time"
)

func execute(t *testing.T, args ...string) (string, error) {
    t.Helper()
    t.Setenv("UCXP2P_CONFIG", "")
    t.Setenv("UCXP2P_LOG_LEVEL", "error")
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    var out bytes.Buffer
    cmd := newRootCmd()
    cmd.SetOut(&out)
    cmd.SetErr(&out)
    cmd.SetArgs(args)
    err := cmd.ExecuteContext(ctx)
    return out.String(), err
}

func TestLocalPingPong(t *testing.T) {
    for _, size := range []string{"0", "64", "100000"} {
        out, err := execute(t, "--local", "--iters", "20", "--warmup", "2", "--msg-size", size)
        if err != nil { t.Fatalf("size %s: %v", size, err) }
        if !strings.Contains(out, "peer=1 size="+size+"B iters=20 p50=") {
            t.Fatalf("size %s: unexpected report %q", size, out)
        }
    }
}

func TestMemFabricNeedsLocal(t *testing.T) {
    _, err := execute(t, "--rank", "0", "--size", "2", "--iters", "1")
    if err == nil || !strings.Contains(err.Error(), "only reaches workers in this process") {
        t.Fatalf("err = %v", err)
    }
}

func TestValidate(t *testing.T) {
    bad := []Options{
        {Iters: 0, Local: true},
        {Iters: 1, Warmup: -1, Local: true},
        {Iters: 1, MsgSize: -1, Local: true},
        {Iters: 1, Size: 1},
        {Iters: 1, Size: 2, Rank: 2},
    }
    for i, o := range bad {
        if err := o.validate(); err == nil { t.Fatalf("case %d: expected error", i) }
    }
    if err := (Options{Iters: 1, Size: 3, Rank: 2}).validate(); err != nil { t.Fatalf("valid options: %v", err) }
}

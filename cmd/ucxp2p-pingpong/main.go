// Command ucxp2p-pingpong measures tag send/receive round trips between
// workers of the p2p core, either inside one process or across ranks that
// exchange worker addresses through a rank 0 rendezvous.
package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"
)

func main() {
    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    err := newRootCmd().ExecuteContext(ctx)
    stop()
    if err != nil { os.Exit(1) }
}
